package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

var ErrInvalidCallback = errors.New("schema: invalid api callback")

// APICallback is one named call. On the wire it is a single-key object:
// {"name": ["arg", ...]}.
type APICallback struct {
	Name      string
	Arguments []string
}

// APICallbacks maps simulation name -> ordered calls.
type APICallbacks map[string][]APICallback

func (c APICallback) MarshalJSON() ([]byte, error) {
	if c.Name == "" {
		return nil, ErrInvalidCallback
	}
	args := c.Arguments
	if args == nil {
		args = []string{}
	}
	return json.Marshal(map[string][]string{c.Name: args})
}

func (c *APICallback) UnmarshalJSON(b []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}
	if len(m) != 1 {
		return fmt.Errorf("%w: expected one key, got %d", ErrInvalidCallback, len(m))
	}
	for name, args := range m {
		c.Name = name
		c.Arguments = args
	}
	return nil
}

// Len counts calls across every simulation.
func (c APICallbacks) Len() int {
	n := 0
	for _, calls := range c {
		n += len(calls)
	}
	return n
}

// CallbackRequest is the meta document carrying queued API calls.
type CallbackRequest struct {
	WorldName      string       `json:"world_name"`
	SimulationName string       `json:"simulation_name"`
	APICallbacks   APICallbacks `json:"api_callbacks"`
}

func (r CallbackRequest) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// ResponseTable rebuilds the binding table the server declared for dir.
func (r Response) ResponseTable(dir registry.Direction, catalog *attribute.Catalog) registry.Table {
	if dir == registry.Send {
		return r.Send.Table(catalog)
	}
	return r.Receive.Table(catalog)
}
