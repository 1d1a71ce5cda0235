package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func cubeTables(t *testing.T) (registry.Table, registry.Table) {
	t.Helper()
	reg := registry.New()
	if err := reg.RegisterSend(registry.Entity{
		Name:       "cube",
		Attributes: []attribute.Attribute{attribute.Quaternion, attribute.Position},
	}); err != nil {
		t.Fatalf("register send: %v", err)
	}
	if err := reg.RegisterReceive(registry.Entity{
		Name:       "cube",
		Attributes: []attribute.Attribute{attribute.Position},
	}); err != nil {
		t.Fatalf("register receive: %v", err)
	}
	return reg.Bindings(registry.Send, nil), reg.Bindings(registry.Receive, nil)
}

func TestRequestDocumentCarriesUnitsAndLists(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	send, receive := cubeTables(t)

	raw, err := NewRequest("world", "sim", send, receive, catalog).Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]any{
		"world_name":      "world",
		"simulation_name": "sim",
		"time_unit":       "s",
		"length_unit":     "cm",
		"angle_unit":      "deg",
		"handedness":      "lhs",
		"force_unit":      "N",
		"send":            map[string]any{"cube": []any{"position", "quaternion"}},
		"receive":         map[string]any{"cube": []any{"position"}},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Fatalf("request document mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestEmptyTablesRenderObjects(t *testing.T) {
	testlog.Start(t)
	raw, err := Request{WorldName: "w"}.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"send":{}`, `"receive":{}`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("%s missing from %s", want, raw)
		}
	}
}

func TestParseResponseRequiresNonNegativeTime(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"missing":   `{"send":{}}`,
		"negative":  `{"time":-1}`,
		"string":    `{"time":"0"}`,
		"malformed": `{"time":`,
	}
	for name, doc := range cases {
		if _, err := ParseResponse([]byte(doc)); !errors.Is(err, ErrInvalidResponse) {
			t.Fatalf("%s: expected ErrInvalidResponse, got %v", name, err)
		}
	}
	if _, err := ParseResponse([]byte(`{"time":-0.5}`)); !errors.Is(err, ErrNegativeTime) {
		t.Fatalf("expected ErrNegativeTime, got %v", err)
	}
	if _, err := ParseResponse([]byte(`{}`)); !errors.Is(err, ErrMissingTime) {
		t.Fatalf("expected ErrMissingTime, got %v", err)
	}
}

func TestParseResponseEchoShapes(t *testing.T) {
	testlog.Start(t)
	resp, err := ParseResponse([]byte(`{
		"time": 0,
		"send": {"cube": ["position", "quaternion"]},
		"receive": {"cube": {"position": [1, 2, 3]}, "ball": {"quaternion": []}}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Time != 0 || resp.Send.HasValues() || !resp.Receive.HasValues() {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if v, ok := resp.Receive.Values("cube", "position"); !ok || !cmp.Equal(v, []float64{1, 2, 3}) {
		t.Fatalf("cube position got=%v ok=%v", v, ok)
	}
	if _, ok := resp.Receive.Values("ball", "quaternion"); ok {
		t.Fatalf("empty arrays carry no values")
	}
	if _, ok := resp.Receive.Values("missing", "position"); ok {
		t.Fatalf("unknown entity returned values")
	}
}

func TestParseResponseRejectsScalarEcho(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseResponse([]byte(`{"time":1,"send":{"cube":3}}`)); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestResponseTableMatchesRequestTable(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	send, receive := cubeTables(t)

	resp, err := ParseResponse([]byte(`{"time":0,"send":{"cube":["quaternion","position"]},"receive":{"cube":["position"]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	pairs := func(table registry.Table) []string {
		out := make([]string, 0, len(table))
		for _, b := range table {
			out = append(out, b.Entity+"."+catalog.CanonicalName(b.Attribute))
		}
		return out
	}
	if diff := cmp.Diff(pairs(send), pairs(resp.ResponseTable(registry.Send, catalog))); diff != "" {
		t.Fatalf("send layout mismatch (-request +response):\n%s", diff)
	}
	if diff := cmp.Diff(pairs(receive), pairs(resp.ResponseTable(registry.Receive, catalog))); diff != "" {
		t.Fatalf("receive layout mismatch (-request +response):\n%s", diff)
	}
}

func TestResponseTableUnknownNameIsInvalid(t *testing.T) {
	testlog.Start(t)
	catalog := attribute.NewCatalog()
	resp, err := ParseResponse([]byte(`{"time":0,"send":{"cube":["warp_drive"]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	table := resp.ResponseTable(registry.Send, catalog)
	if len(table) != 1 || table[0].Attribute != attribute.Invalid {
		t.Fatalf("unexpected table: %+v", table)
	}
	if err := table.Validate(catalog); err == nil {
		t.Fatalf("table with unknown attribute validated")
	}
}

func TestAPICallbacksWireShape(t *testing.T) {
	testlog.Start(t)
	req := CallbackRequest{
		WorldName:      "w",
		SimulationName: "sim",
		APICallbacks: APICallbacks{
			"sim": {
				{Name: "pause"},
				{Name: "spawn", Arguments: []string{"cube", "1"}},
			},
		},
	}
	raw, err := req.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `"sim":[{"pause":[]},{"spawn":["cube","1"]}]`; !strings.Contains(string(raw), want) {
		t.Fatalf("%s missing from %s", want, raw)
	}
	if n := req.APICallbacks.Len(); n != 2 {
		t.Fatalf("len got=%d want=2", n)
	}

	resp, err := ParseResponse([]byte(`{"time":2,"api_callbacks_response":{"sim":[{"spawn":["ok"]}]}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []APICallback{{Name: "spawn", Arguments: []string{"ok"}}}
	if diff := cmp.Diff(want, resp.APICallbacksResponse["sim"]); diff != "" {
		t.Fatalf("callback response mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseResponse([]byte(`{"time":2,"api_callbacks_response":{"sim":[{"a":[],"b":[]}]}}`)); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse for a multi-key call, got %v", err)
	}
}

func TestChunkJoinRoundTrip(t *testing.T) {
	testlog.Start(t)
	text := strings.Repeat("abcdefghij", 30) + "é☃"
	chunks := Chunk(text, ChunkSize)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > ChunkSize || !utf8.ValidString(c) {
			t.Fatalf("chunk %d invalid: runes=%d valid=%v", i, n, utf8.ValidString(c))
		}
	}
	if Join(chunks) != text {
		t.Fatalf("join did not restore the document")
	}
}

func TestChunkEdgeCases(t *testing.T) {
	testlog.Start(t)
	if diff := cmp.Diff([]string{""}, Chunk("", ChunkSize)); diff != "" {
		t.Fatalf("empty document (-want +got):\n%s", diff)
	}
	if n := len(Chunk(strings.Repeat("x", ChunkSize), ChunkSize)); n != 1 {
		t.Fatalf("exact chunk size split into %d", n)
	}
	if n := len(Chunk(strings.Repeat("x", ChunkSize+1), ChunkSize)); n != 2 {
		t.Fatalf("one past chunk size split into %d", n)
	}
	if diff := cmp.Diff([]string{CloseDocument}, Chunk(CloseDocument, 0)); diff != "" {
		t.Fatalf("zero size (-want +got):\n%s", diff)
	}
}
