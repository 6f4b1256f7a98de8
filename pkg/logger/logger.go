// Package logger hands out named slog loggers whose level can be tuned per
// component. Names are dotted; a level set on "dhcpd" also applies to
// "dhcpd.worker" unless that name has its own.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

const timeLayout = "2006/01/02 15:04:05.000"

type settings struct {
	mu         sync.RWMutex
	out        io.Writer
	json       bool
	level      slog.Level
	components map[string]slog.Level
}

var (
	state = &settings{
		out:        os.Stdout,
		level:      slog.LevelInfo,
		components: map[string]slog.Level{},
	}
	loggers sync.Map
	pid     = os.Getpid()
)

// ParseLevel accepts the level names used in configuration files.
func ParseLevel(level LogLevel) (slog.Level, error) {
	switch strings.ToLower(string(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

func levelOrInfo(level LogLevel) slog.Level {
	l, _ := ParseLevel(level)
	return l
}

func toLogLevel(level slog.Level) LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return LogLevelDebug
	case level >= slog.LevelError:
		return LogLevelError
	case level >= slog.LevelWarn:
		return LogLevelWarn
	}
	return LogLevelInfo
}

// Configure replaces the output format and every level. Loggers obtained
// earlier keep working but pick up the new levels only; call Get again for
// the new format.
func Configure(format string, level LogLevel, components map[string]LogLevel) {
	state.mu.Lock()
	state.json = strings.EqualFold(format, FormatJSON)
	state.level = levelOrInfo(level)
	state.components = make(map[string]slog.Level, len(components))
	for name, lvl := range components {
		state.components[name] = levelOrInfo(lvl)
	}
	state.mu.Unlock()
	loggers.Clear()
}

// SetOutput redirects loggers created from now on. nil restores stdout.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	state.mu.Lock()
	state.out = w
	state.mu.Unlock()
	loggers.Clear()
}

func SetComponentLevel(name string, level LogLevel) {
	state.mu.Lock()
	state.components[name] = levelOrInfo(level)
	state.mu.Unlock()
}

func ClearComponentLevel(name string) {
	state.mu.Lock()
	delete(state.components, name)
	state.mu.Unlock()
}

func ComponentLevels() map[string]LogLevel {
	state.mu.RLock()
	defer state.mu.RUnlock()
	out := make(map[string]LogLevel, len(state.components))
	for name, level := range state.components {
		out[name] = toLogLevel(level)
	}
	return out
}

func DefaultLevel() LogLevel {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return toLogLevel(state.level)
}

// effectiveLevel walks up the dotted name until a configured level is found.
func effectiveLevel(name string) slog.Level {
	state.mu.RLock()
	defer state.mu.RUnlock()
	for {
		if level, ok := state.components[name]; ok {
			return level
		}
		idx := strings.LastIndexByte(name, '.')
		if idx < 0 {
			return state.level
		}
		name = name[:idx]
	}
}

// Get returns the cached logger for a component name.
func Get(name string) *slog.Logger {
	if l, ok := loggers.Load(name); ok {
		return l.(*slog.Logger)
	}

	state.mu.RLock()
	var inner slog.Handler
	if state.json {
		inner = slog.NewJSONHandler(state.out, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		inner = &textHandler{out: state.out, mu: &sync.Mutex{}}
	}
	state.mu.RUnlock()

	l, _ := loggers.LoadOrStore(name, slog.New(&componentHandler{inner: inner, name: name}))
	return l.(*slog.Logger)
}

// componentHandler filters by the component's level. Groups extend the
// component name rather than nesting attributes.
type componentHandler struct {
	inner slog.Handler
	name  string
}

func (h *componentHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= effectiveLevel(h.name)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if t, ok := h.inner.(*textHandler); ok {
		return t.write(h.name, r)
	}
	if h.name != "" {
		r.AddAttrs(slog.String("component", h.name))
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{inner: h.inner.WithAttrs(attrs), name: h.name}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	if h.name != "" {
		name = h.name + "." + name
	}
	return &componentHandler{inner: h.inner, name: name}
}

// textHandler renders one line per record:
//
//	2024/01/01 12:00:00.000 [pid] [component] LEVEL message key=value
//
// The level is omitted for INFO.
type textHandler struct {
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

func (h *textHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	return h.write("", r)
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &textHandler{out: h.out, mu: h.mu, attrs: append(slices.Clip(h.attrs), attrs...)}
}

func (h *textHandler) WithGroup(string) slog.Handler { return h }

func (h *textHandler) write(component string, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = r.Time.AppendFormat(buf, timeLayout)
	buf = append(buf, " ["...)
	buf = strconv.AppendInt(buf, int64(pid), 10)
	buf = append(buf, ']')
	if component != "" {
		buf = append(buf, " ["...)
		buf = append(buf, component...)
		buf = append(buf, ']')
	}
	if r.Level != slog.LevelInfo {
		buf = append(buf, ' ')
		buf = append(buf, r.Level.String()...)
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	v := a.Value.String()
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return strconv.AppendQuote(buf, v)
	}
	return append(buf, v...)
}

// TransactionAttrs identifies one DHCP exchange in log records.
type TransactionAttrs struct {
	XID       uint32
	ClientID  string
	MAC       string
	Interface string
	SessionID string
	Message   string
}

// WithTransaction adds the non-empty fields of attrs in a fixed order.
func WithTransaction(l *slog.Logger, attrs TransactionAttrs) *slog.Logger {
	args := make([]any, 0, 12)
	if attrs.XID != 0 {
		args = append(args, "xid", fmt.Sprintf("0x%08x", attrs.XID))
	}
	for _, kv := range [...]struct{ key, val string }{
		{"client_id", attrs.ClientID},
		{"mac", attrs.MAC},
		{"interface", attrs.Interface},
		{"session_id", attrs.SessionID},
		{"msg_type", attrs.Message},
	} {
		if kv.val != "" {
			args = append(args, kv.key, kv.val)
		}
	}
	return l.With(args...)
}
