// Package schema owns the metadata documents exchanged during negotiation.
//
// Ownership boundary:
// - request document (world/unit metadata, send/receive attribute lists)
// - response document parsing and validation
// - api callback request/response shapes
// - document chunking for transport
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

// Deployment-wide unit conventions.
const (
	TimeUnit   = "s"
	LengthUnit = "cm"
	AngleUnit  = "deg"
	Handedness = "lhs"
	ForceUnit  = "N"
)

// CloseDocument is sent when a streaming session ends.
const CloseDocument = "{}"

var (
	ErrInvalidResponse = errors.New("schema: invalid response")
	ErrMissingTime     = errors.New("schema: response missing time")
	ErrNegativeTime    = errors.New("schema: response time is negative")
)

// Request is the outbound metadata document.
type Request struct {
	WorldName      string              `json:"world_name"`
	SimulationName string              `json:"simulation_name"`
	TimeUnit       string              `json:"time_unit"`
	LengthUnit     string              `json:"length_unit"`
	AngleUnit      string              `json:"angle_unit"`
	Handedness     string              `json:"handedness"`
	ForceUnit      string              `json:"force_unit"`
	Send           map[string][]string `json:"send"`
	Receive        map[string][]string `json:"receive"`
	APICallbacks   APICallbacks        `json:"api_callbacks,omitempty"`
}

// NewRequest builds the request document for the given binding tables.
func NewRequest(world, simulation string, send, receive registry.Table, catalog *attribute.Catalog) Request {
	return Request{
		WorldName:      world,
		SimulationName: simulation,
		TimeUnit:       TimeUnit,
		LengthUnit:     LengthUnit,
		AngleUnit:      AngleUnit,
		Handedness:     Handedness,
		ForceUnit:      ForceUnit,
		Send:           send.Grouped(catalog),
		Receive:        receive.Grouped(catalog),
	}
}

// Marshal renders the document. Map keys are emitted sorted.
func (r Request) Marshal() ([]byte, error) {
	if r.Send == nil {
		r.Send = map[string][]string{}
	}
	if r.Receive == nil {
		r.Receive = map[string][]string{}
	}
	return json.Marshal(r)
}

// EntityState maps entity -> attribute name -> values. A nil value slice
// means the attribute was declared without data.
type EntityState map[string]map[string][]float64

// Response is the parsed inbound metadata document.
type Response struct {
	Time                 float64
	Send                 EntityState
	Receive              EntityState
	APICallbacksResponse APICallbacks
}

type rawResponse struct {
	Time                 *json.RawMessage           `json:"time"`
	Send                 map[string]json.RawMessage `json:"send"`
	Receive              map[string]json.RawMessage `json:"receive"`
	APICallbacksResponse APICallbacks               `json:"api_callbacks_response"`
}

// ParseResponse validates and decodes a response document. Every failure
// wraps ErrInvalidResponse; callers retry the negotiation.
func ParseResponse(b []byte) (Response, error) {
	var raw rawResponse
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if raw.Time == nil {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidResponse, ErrMissingTime)
	}
	var t float64
	if err := json.Unmarshal(*raw.Time, &t); err != nil {
		return Response{}, fmt.Errorf("%w: time is not a number", ErrInvalidResponse)
	}
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return Response{}, fmt.Errorf("%w: time is not finite", ErrInvalidResponse)
	}
	if t < 0 {
		return Response{}, fmt.Errorf("%w: %w", ErrInvalidResponse, ErrNegativeTime)
	}
	send, err := parseEcho(raw.Send)
	if err != nil {
		return Response{}, fmt.Errorf("%w: send: %v", ErrInvalidResponse, err)
	}
	receive, err := parseEcho(raw.Receive)
	if err != nil {
		return Response{}, fmt.Errorf("%w: receive: %v", ErrInvalidResponse, err)
	}
	return Response{
		Time:                 t,
		Send:                 send,
		Receive:              receive,
		APICallbacksResponse: raw.APICallbacksResponse,
	}, nil
}

// parseEcho accepts both echo shapes: entity -> [names] and
// entity -> {name: [values]}.
func parseEcho(raw map[string]json.RawMessage) (EntityState, error) {
	if raw == nil {
		return nil, nil
	}
	out := make(EntityState, len(raw))
	for entity, msg := range raw {
		trimmed := bytes.TrimSpace(msg)
		attrs := make(map[string][]float64)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '[':
			var names []string
			if err := json.Unmarshal(trimmed, &names); err != nil {
				return nil, fmt.Errorf("entity %q: %v", entity, err)
			}
			for _, name := range names {
				attrs[name] = nil
			}
		case len(trimmed) > 0 && trimmed[0] == '{':
			var values map[string][]float64
			if err := json.Unmarshal(trimmed, &values); err != nil {
				return nil, fmt.Errorf("entity %q: %v", entity, err)
			}
			for name, v := range values {
				if len(v) == 0 {
					v = nil
				}
				attrs[name] = v
			}
		default:
			return nil, fmt.Errorf("entity %q: expected list or object", entity)
		}
		out[entity] = attrs
	}
	return out, nil
}

// Table rebuilds the binding table declared by an echo. Names the catalog
// does not know become attribute.Invalid, which makes size computation fail.
func (s EntityState) Table(catalog *attribute.Catalog) registry.Table {
	entities := make([]string, 0, len(s))
	for entity := range s {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	out := make(registry.Table, 0, len(s))
	for _, entity := range entities {
		for name := range s[entity] {
			a, ok := catalog.FromCanonicalName(name)
			if !ok {
				a = attribute.Invalid
			}
			out = append(out, registry.Binding{Entity: entity, Attribute: a})
		}
	}
	return registry.SortTable(out)
}

// HasValues reports whether any attribute carries concrete values.
func (s EntityState) HasValues() bool {
	for _, attrs := range s {
		for _, v := range attrs {
			if len(v) > 0 {
				return true
			}
		}
	}
	return false
}

// Values returns the echoed values for (entity, attribute name).
func (s EntityState) Values(entity, name string) ([]float64, bool) {
	attrs, ok := s[entity]
	if !ok {
		return nil, false
	}
	v, ok := attrs[name]
	if !ok || len(v) == 0 {
		return nil, false
	}
	return v, true
}
