package api

import (
	"encoding"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/version"
)

var (
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
	durationType      = reflect.TypeOf(time.Duration(0))
)

type route struct {
	method      string
	path        string
	tag         string
	summary     string
	operationID string
	params      openapi3.Parameters
	response    reflect.Type
	errors      []int
}

func buildOpenAPISpec() *openapi3.T {
	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "osvDHCP API",
			Description: "Local control API for the osvDHCP server and client daemons",
			Version:     version.Version,
		},
		Paths: &openapi3.Paths{},
		Tags: openapi3.Tags{
			{Name: "Server", Description: "Lease store and pool of the DHCP server"},
			{Name: "Client", Description: "DHCP client sessions"},
			{Name: "General", Description: "General API endpoints"},
		},
	}

	addrParam := pathParam("addr", "Leased IPv4 address", &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "ipv4"})
	ifaceParam := pathParam("iface", "Client interface name", &openapi3.Schema{Type: &openapi3.Types{"string"}})
	stateParam := &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        "state",
		In:          "query",
		Description: "Only list leases in this state",
		Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"string"},
			Enum: []any{"free", "offered", "bound", "expired", "released", "declined"},
		}},
	}}

	routes := []route{
		{http.MethodGet, "/api/leases", "Server", "List leases", "listLeases",
			openapi3.Parameters{stateParam}, reflect.TypeOf([]LeaseView{}), []int{http.StatusBadRequest, http.StatusServiceUnavailable}},
		{http.MethodGet, "/api/leases/{addr}", "Server", "Show one lease", "getLease",
			openapi3.Parameters{addrParam}, reflect.TypeOf(LeaseView{}), []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable}},
		{http.MethodDelete, "/api/leases/{addr}", "Server", "Clear a lease and return its address to the pool", "clearLease",
			openapi3.Parameters{addrParam}, reflect.TypeOf(LeaseView{}), []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable}},
		{http.MethodGet, "/api/pool", "Server", "Show pool utilisation and server counters", "getPool",
			nil, reflect.TypeOf(PoolView{}), []int{http.StatusServiceUnavailable}},
		{http.MethodGet, "/api/sessions", "Client", "List client sessions", "listSessions",
			nil, reflect.TypeOf([]dhcpc.Info{}), []int{http.StatusServiceUnavailable}},
		{http.MethodPost, "/api/sessions/{iface}/release", "Client", "Release the lease held on an interface", "releaseSession",
			openapi3.Parameters{ifaceParam}, reflect.TypeOf(ActionResponse{}), []int{http.StatusNotFound, http.StatusServiceUnavailable}},
		{http.MethodPost, "/api/sessions/{iface}/renew", "Client", "Renew the lease held on an interface now", "renewSession",
			openapi3.Parameters{ifaceParam}, reflect.TypeOf(ActionResponse{}), []int{http.StatusNotFound, http.StatusServiceUnavailable}},
		{http.MethodGet, "/api/openapi.json", "General", "This document", "getOpenAPI",
			nil, nil, nil},
	}

	for _, r := range routes {
		item := spec.Paths.Value(r.path)
		if item == nil {
			item = &openapi3.PathItem{}
		}
		item.SetOperation(r.method, r.operation())
		spec.Paths.Set(r.path, item)
	}
	return spec
}

func (r route) operation() *openapi3.Operation {
	opts := []openapi3.NewResponsesOption{
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: ptr(r.summary),
				Content:     openapi3.NewContentWithJSONSchemaRef(schemaFromType(r.response)),
			},
		}),
	}
	for _, status := range r.errors {
		opts = append(opts, openapi3.WithStatus(status, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: ptr(http.StatusText(status)),
				Content:     openapi3.NewContentWithJSONSchemaRef(schemaFromType(reflect.TypeOf(ErrorResponse{}))),
			},
		}))
	}

	return &openapi3.Operation{
		Tags:        []string{r.tag},
		Summary:     r.summary,
		OperationID: r.operationID,
		Parameters:  r.params,
		Responses:   openapi3.NewResponses(opts...),
	}
}

func pathParam(name, description string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        name,
		In:          openapi3.ParameterInPath,
		Description: description,
		Required:    true,
		Schema:      &openapi3.SchemaRef{Value: schema},
	}}
}

func schemaFromType(t reflect.Type) *openapi3.SchemaRef {
	if t == nil {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}

	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch {
	case t == timeType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
	case t == durationType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Description: "Duration in nanoseconds"}}
	case t.Implements(textMarshalerType):
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	}

	switch t.Kind() {
	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32, reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}}}

	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "byte"}}
		}
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:  &openapi3.Types{"array"},
				Items: schemaFromType(t.Elem()),
			},
		}

	case reflect.Map:
		return &openapi3.SchemaRef{
			Value: &openapi3.Schema{
				Type:                 &openapi3.Types{"object"},
				AdditionalProperties: openapi3.AdditionalProperties{Schema: schemaFromType(t.Elem())},
			},
		}

	case reflect.Struct:
		return structToSchema(t)
	}

	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
}

func structToSchema(t reflect.Type) *openapi3.SchemaRef {
	properties := openapi3.Schemas{}

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		if tagName, _, _ := strings.Cut(jsonTag, ","); tagName != "" {
			name = tagName
		}

		propSchema := schemaFromType(field.Type)
		if desc := field.Tag.Get("description"); desc != "" {
			propSchema.Value.Description = desc
		}
		properties[name] = propSchema
	}

	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Properties: properties,
		},
	}
}

func ptr(s string) *string {
	return &s
}
