package bridge

import (
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
)

// Status is a point-in-time view of the client for the admin API.
type Status struct {
	State            string              `json:"state"`
	SessionID        string              `json:"session_id,omitempty"`
	Server           string              `json:"server"`
	Transport        string              `json:"transport"`
	SendSizes        codec.Sizes         `json:"send_sizes"`
	ReceiveSizes     codec.Sizes         `json:"receive_sizes"`
	Send             map[string][]string `json:"send"`
	Receive          map[string][]string `json:"receive"`
	Ticks            uint64              `json:"ticks"`
	Resyncs          uint64              `json:"resyncs"`
	ServerClock      float64             `json:"server_clock"`
	PendingCallbacks int                 `json:"pending_callbacks"`
	LastError        string              `json:"last_error,omitempty"`
}

// BindingView is one row of a binding table.
type BindingView struct {
	Entity    string `json:"entity"`
	Attribute string `json:"attribute"`
	Object    string `json:"object,omitempty"`
	Bone      string `json:"bone,omitempty"`
}

// Bindings lists both binding tables in buffer order.
type Bindings struct {
	Send    []BindingView `json:"send"`
	Receive []BindingView `json:"receive"`
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Status{
		State:            c.state.String(),
		SessionID:        c.sessionID,
		Server:           c.cfg.ServerAddress(),
		Transport:        c.cfg.Transport,
		SendSizes:        codec.ComputeSizes(c.sendTable, c.catalog),
		ReceiveSizes:     codec.ComputeSizes(c.recvTable, c.catalog),
		Send:             c.sendTable.Grouped(c.catalog),
		Receive:          c.recvTable.Grouped(c.catalog),
		Ticks:            c.ticks,
		Resyncs:          c.resyncs,
		ServerClock:      c.serverClock,
		PendingCallbacks: c.outbox.Len(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Client) Bindings() Bindings {
	send, recv := c.tables()
	return Bindings{Send: c.bindingViews(send), Receive: c.bindingViews(recv)}
}

func (c *Client) bindingViews(t registry.Table) []BindingView {
	out := make([]BindingView, 0, len(t))
	for _, b := range t {
		out = append(out, BindingView{
			Entity:    b.Entity,
			Attribute: c.catalog.CanonicalName(b.Attribute),
			Object:    b.Source.Object,
			Bone:      b.Source.Bone,
		})
	}
	return out
}
