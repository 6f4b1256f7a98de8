package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// FetchFunc returns the rows a StructHandler turns into samples. Returning
// no rows is not an error.
type FetchFunc[T any] func(ctx context.Context, src Source) ([]T, error)

// StructHandler exports the fields of T tagged with `prometheus`:
//
//	Pool  string `prometheus:"label=pool"`
//	Bound int    `prometheus:"name=osvdhcp_pool_bound,help=Bound leases,type=gauge"`
//
// Labels apply to every metric of the struct.
type StructHandler[T any] struct {
	name    string
	fetch   FetchFunc[T]
	logger  *slog.Logger
	labels  []int
	metrics []fieldMetric
}

type fieldMetric struct {
	index int
	typ   prometheus.ValueType
	desc  *prometheus.Desc
}

// ParsePrometheusTag reads one field tag. A label tag yields only a name.
func ParsePrometheusTag(tag string) (name, help string, metricType prometheus.ValueType, isLabel bool, err error) {
	var typeFound bool
	for _, part := range strings.Split(tag, ",") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return "", "", 0, false, fmt.Errorf("malformed tag element %q", part)
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "label":
			return value, "", 0, true, nil
		case "name":
			name = value
		case "help":
			help = value
		case "type":
			typeFound = true
			switch value {
			case "counter":
				metricType = prometheus.CounterValue
			case "gauge":
				metricType = prometheus.GaugeValue
			case "untyped":
				metricType = prometheus.UntypedValue
			default:
				return "", "", 0, false, fmt.Errorf("unknown metric type: %s", value)
			}
		}
	}

	if name == "" || help == "" || !typeFound {
		return "", "", 0, false, fmt.Errorf("missing required prometheus tag fields (name, help, type)")
	}
	return name, help, metricType, false, nil
}

func NewStructHandler[T any](name string, fetch FetchFunc[T], logger *slog.Logger) (*StructHandler[T], error) {
	var zero T
	structType := reflect.TypeOf(zero)
	if structType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s: %s is not a struct", name, structType)
	}

	h := &StructHandler[T]{name: name, fetch: fetch, logger: logger}

	var labelNames []string
	type pending struct {
		index      int
		name, help string
		typ        prometheus.ValueType
	}
	var fields []pending

	for i := range structType.NumField() {
		field := structType.Field(i)
		tag, ok := field.Tag.Lookup("prometheus")
		if !ok {
			continue
		}
		metricName, help, typ, isLabel, err := ParsePrometheusTag(tag)
		if err != nil {
			return nil, fmt.Errorf("%s: field %s: %w", name, field.Name, err)
		}
		if isLabel {
			h.labels = append(h.labels, i)
			labelNames = append(labelNames, metricName)
			continue
		}
		fields = append(fields, pending{index: i, name: metricName, help: help, typ: typ})
	}

	for _, f := range fields {
		h.metrics = append(h.metrics, fieldMetric{
			index: f.index,
			typ:   f.typ,
			desc:  prometheus.NewDesc(f.name, f.help, labelNames, nil),
		})
	}
	return h, nil
}

func (h *StructHandler[T]) Name() string { return h.name }

func (h *StructHandler[T]) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range h.metrics {
		ch <- m.desc
	}
}

func (h *StructHandler[T]) Collect(ctx context.Context, src Source, ch chan<- prometheus.Metric) error {
	rows, err := h.fetch(ctx, src)
	if err != nil {
		return err
	}
	for i := range rows {
		h.emit(reflect.ValueOf(rows[i]), ch)
	}
	return nil
}

func (h *StructHandler[T]) emit(v reflect.Value, ch chan<- prometheus.Metric) {
	labelValues := make([]string, len(h.labels))
	for i, idx := range h.labels {
		field := v.Field(idx)
		switch field.Kind() {
		case reflect.String:
			labelValues[i] = field.String()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			labelValues[i] = strconv.FormatUint(field.Uint(), 10)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			labelValues[i] = strconv.FormatInt(field.Int(), 10)
		default:
			labelValues[i] = fmt.Sprint(field.Interface())
		}
	}

	for _, m := range h.metrics {
		field := v.Field(m.index)
		var value float64
		switch field.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			value = float64(field.Uint())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			value = float64(field.Int())
		case reflect.Float32, reflect.Float64:
			value = field.Float()
		case reflect.Bool:
			if field.Bool() {
				value = 1
			}
		default:
			continue
		}
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, value, labelValues...)
	}
}

// RegisterStruct registers a StructHandler under name.
func RegisterStruct[T any](name string, fetch FetchFunc[T]) {
	Register(name, func(logger *slog.Logger) (MetricHandler, error) {
		return NewStructHandler(name, fetch, logger)
	})
}
