// Package bridge runs the client side of an engine/simulator session:
// connect, schema negotiation, steady-state buffer exchange, resync and
// teardown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/simbridge/internal/observability"
	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/protocol/session"
	"github.com/danmuck/simbridge/internal/protocol/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrSchemaMismatch    = errors.New("bridge: schema size mismatch")
	ErrConnectExhausted  = errors.New("bridge: connect attempts exhausted")
	ErrPairingRejected   = errors.New("bridge: port pairing rejected")
	ErrClosed            = errors.New("bridge: client closed")
	ErrNotStreaming      = errors.New("bridge: not streaming")
	ErrCallbacksDisabled = errors.New("bridge: api callbacks disabled")
)

// Client synchronizes a host scene with a simulator. Init, Tick, WaitReady
// and Close are meant for the host's update goroutine; Status and the API
// callback methods may be called from anywhere.
type Client struct {
	cfg     Config
	catalog *attribute.Catalog
	reg     *registry.Registry
	host    codec.Host
	dialer  Dialer
	encoder *codec.Encoder
	decoder *codec.Decoder
	outbox  *session.CallbackOutbox

	tickLimiter *rate.Limiter
	apiLimiter  *rate.Limiter
	nextID      atomic.Uint64

	// op serializes lifecycle calls. Fields below it are owned by the
	// holder of op.
	op          sync.Mutex
	task        *negotiation
	conn        Conn
	sendBuf     *codec.Buffers
	recvBuf     *codec.Buffers
	streamStart time.Time

	mu           sync.RWMutex
	state        State
	sessionID    string
	sendTable    registry.Table
	recvTable    registry.Table
	lastErr      error
	ticks        uint64
	resyncs      uint64
	serverClock  float64
	apiResponses schema.APICallbacks
}

// NewClient wires a client. reg is owned by the client from here on.
func NewClient(cfg Config, catalog *attribute.Catalog, reg *registry.Registry, host codec.Host) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	dialer, err := NewDialer(cfg.Transport, cfg.Session, cfg.WebSocketPath)
	if err != nil {
		return nil, err
	}
	tickLimit := rate.Inf
	if cfg.UpdateRate > 0 {
		tickLimit = rate.Limit(cfg.UpdateRate)
	}
	apiLimit := rate.Inf
	if cfg.APICallbacksRate > 0 {
		apiLimit = rate.Limit(cfg.APICallbacksRate)
	}
	return &Client{
		cfg:         cfg,
		catalog:     catalog,
		reg:         reg,
		host:        host,
		dialer:      dialer,
		encoder:     codec.NewEncoder(catalog),
		decoder:     codec.NewDecoder(catalog),
		outbox:      session.NewCallbackOutbox(),
		tickLimiter: rate.NewLimiter(tickLimit, 1),
		apiLimiter:  rate.NewLimiter(apiLimit, 1),
	}, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Init prunes dangling entities, derives the binding tables and starts the
// background connect/negotiate task. Calling Init on a live session tears
// it down first. With nothing registered Init is a no-op.
func (c *Client) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.op.Lock()
	defer c.op.Unlock()
	if c.State() == StateClosed {
		return ErrClosed
	}
	if err := c.teardownLocked(ctx, true); err != nil {
		return err
	}
	c.setState(StateDisconnected)

	if pruned := c.reg.PruneInvalid(c.host.EntityExists); pruned > 0 {
		log.Warn().Int("pruned", pruned).Msg("bridge.Client init dropped entities missing from host")
	}
	if !c.reg.IsNonEmpty() {
		log.Warn().Msg("bridge.Client init no entities registered, staying disconnected")
		return nil
	}
	send := c.reg.Bindings(registry.Send, c.host.Bones)
	recv := c.reg.Bindings(registry.Receive, c.host.Bones)
	for _, t := range []registry.Table{send, recv} {
		if err := t.Validate(c.catalog); err != nil {
			c.fail(err)
			return err
		}
	}

	c.mu.Lock()
	c.sendTable = send
	c.recvTable = recv
	c.sessionID = uuid.NewString()
	c.lastErr = nil
	c.mu.Unlock()

	log.Info().
		Str("session_id", c.sessionID).
		Str("server", c.cfg.ServerAddress()).
		Str("transport", c.cfg.Transport).
		Int("send_bindings", len(send)).
		Int("receive_bindings", len(recv)).
		Msg("bridge.Client init")
	c.startNegotiationLocked()
	return nil
}

// Tick advances the session by one host frame. While negotiating it only
// checks whether the background task finished. While streaming it performs
// at most one data exchange, subject to the update rate.
func (c *Client) Tick(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	switch c.State() {
	case StateConnecting, StateNegotiating:
		if c.task != nil && c.task.finished() {
			c.joinLocked()
		}
		return nil
	case StateStreaming:
		return c.exchangeLocked(ctx)
	default:
		return nil
	}
}

// WaitReady blocks until the pending negotiation finishes or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if c.task != nil {
		select {
		case <-c.task.done:
			c.joinLocked()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	switch c.State() {
	case StateStreaming:
		return nil
	case StateError:
		return c.LastError()
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotStreaming
	}
}

// Close notifies the server when streaming, interrupts a pending
// negotiation and releases the buffers. The client cannot be reused.
func (c *Client) Close(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if c.State() == StateClosed {
		return nil
	}
	err := c.teardownLocked(ctx, true)
	c.setState(StateClosed)
	log.Info().Str("session_id", c.sessionIDSnapshot()).Msg("bridge.Client closed")
	return err
}

// QueueAPICallbacks schedules calls for simulation. They ride the next API
// callback exchange.
func (c *Client) QueueAPICallbacks(simulation string, calls ...schema.APICallback) error {
	if !c.cfg.APICallbacksEnabled {
		return ErrCallbacksDisabled
	}
	c.outbox.Enqueue(simulation, calls, time.Now())
	return nil
}

// APICallbackResponses drains the responses received so far.
func (c *Client) APICallbackResponses() schema.APICallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.apiResponses
	c.apiResponses = nil
	return out
}

func (c *Client) startNegotiationLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	n := &negotiation{cancel: cancel, done: make(chan struct{})}
	c.task = n
	c.setState(StateConnecting)
	send, recv := c.tables()
	go func() {
		defer close(n.done)
		n.result, n.err = c.negotiate(ctx, n, send, recv)
	}()
}

func (c *Client) joinLocked() {
	n := c.task
	c.task = nil
	if n.err != nil {
		if errors.Is(n.err, context.Canceled) {
			c.setState(StateDisconnected)
			return
		}
		c.fail(n.err)
		return
	}
	res := n.result
	c.conn = res.conn
	c.sendBuf = res.sendBuf
	c.recvBuf = res.recvBuf
	c.streamStart = time.Now()

	// continuation: poses of sent entities come from the send echo, targets
	// of received entities from the receive echo
	send, recv := c.tables()
	applied := c.decoder.ApplyState(send, res.resp.Send, c.host)
	applied += c.decoder.ApplyState(recv, res.resp.Receive, c.host)
	c.mu.Lock()
	c.serverClock = res.resp.Time
	c.mu.Unlock()
	c.setState(StateStreaming)
	observability.SetStreaming(true)
	log.Info().
		Str("session_id", c.sessionIDSnapshot()).
		Str("remote", res.conn.RemoteAddr()).
		Float64("time", res.resp.Time).
		Int("continued", applied).
		Str("send_sizes", res.sendBuf.Sizes().String()).
		Str("receive_sizes", res.recvBuf.Sizes().String()).
		Msg("bridge.Client streaming")
}

func (c *Client) exchangeLocked(ctx context.Context) error {
	if !c.tickLimiter.Allow() {
		observability.RecordTick("throttled")
		return nil
	}
	send, recv := c.tables()
	if err := c.encoder.Encode(send, c.host, c.sendBuf, c.clock()); err != nil {
		c.resyncLocked("encode", err)
		return nil
	}
	b, err := session.EncodeDataFrame(c.nextSequence(), session.Regions(c.sendBuf), false)
	if err != nil {
		c.resyncLocked("encode", err)
		return nil
	}

	start := time.Now()
	if err := c.conn.Send(ctx, b); err != nil {
		c.resyncLocked(ioReason(err), err)
		return ctx.Err()
	}
	fr, err := c.conn.Receive(ctx, c.cfg.Session.ReadTimeout)
	if err != nil {
		c.resyncLocked(ioReason(err), err)
		return ctx.Err()
	}
	observability.RecordExchange(time.Since(start))

	if fr.Header.MessageType == wire.MsgClose {
		c.resyncLocked("server_close", nil)
		return nil
	}
	regions, err := session.DecodeDataFrame(fr)
	if err != nil {
		c.resyncLocked("protocol", err)
		return nil
	}
	serverClock, ok := regions.Clock()
	if !ok || serverClock < 0 {
		c.resyncLocked("clock", nil)
		return nil
	}
	if err := regions.Into(c.recvBuf); err != nil {
		c.resyncLocked("size", err)
		return nil
	}
	if err := c.decoder.Decode(recv, c.recvBuf, c.host); err != nil {
		c.resyncLocked("decode", err)
		return nil
	}

	c.mu.Lock()
	c.ticks++
	c.serverClock = serverClock
	c.mu.Unlock()
	observability.RecordTick("sent")

	if c.cfg.APICallbacksEnabled && c.outbox.Len() > 0 && c.apiLimiter.Allow() {
		return c.exchangeCallbacksLocked(ctx)
	}
	return nil
}

func (c *Client) exchangeCallbacksLocked(ctx context.Context) error {
	batch := c.outbox.Batch()
	doc, err := schema.CallbackRequest{
		WorldName:      c.cfg.WorldName,
		SimulationName: c.cfg.SimulationName,
		APICallbacks:   batch,
	}.Marshal()
	if err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("invalid")
		return nil
	}
	b, err := session.EncodeMetaFrame(c.nextSequence(), doc, false)
	if err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("invalid")
		return nil
	}
	if err := c.conn.Send(ctx, b); err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("error")
		c.resyncLocked(ioReason(err), err)
		return ctx.Err()
	}
	fr, err := c.conn.Receive(ctx, c.cfg.Session.ReadTimeout)
	if err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("error")
		c.resyncLocked(ioReason(err), err)
		return ctx.Err()
	}
	raw, err := session.DecodeMetaFrame(fr)
	if err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("error")
		c.resyncLocked("protocol", err)
		return nil
	}
	resp, err := schema.ParseResponse(raw)
	if err != nil {
		c.outbox.MarkAttempt(time.Now(), err.Error())
		observability.RecordAPICallbacks("invalid")
		log.Warn().Err(err).Msg("bridge.Client api callback response rejected")
		return nil
	}
	c.outbox.Ack(batch)

	c.mu.Lock()
	if c.apiResponses == nil {
		c.apiResponses = make(schema.APICallbacks)
	}
	for sim, calls := range resp.APICallbacksResponse {
		c.apiResponses[sim] = append(c.apiResponses[sim], calls...)
	}
	c.mu.Unlock()
	observability.RecordAPICallbacks("ok")
	log.Debug().
		Int("sent", batch.Len()).
		Int("responses", resp.APICallbacksResponse.Len()).
		Msg("bridge.Client api callbacks exchanged")
	return nil
}

// resyncLocked drops the live connection and renegotiates with the same
// binding tables.
func (c *Client) resyncLocked(reason string, cause error) {
	ev := log.Warn().Str("session_id", c.sessionIDSnapshot()).Str("reason", reason)
	if cause != nil {
		ev = ev.Err(cause)
	}
	ev.Msg("bridge.Client resync")
	observability.RecordResync(reason)
	observability.RecordTick("resync")

	c.mu.Lock()
	c.resyncs++
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.sendBuf, c.recvBuf = nil, nil
	observability.SetStreaming(false)
	c.startNegotiationLocked()
}

func (c *Client) teardownLocked(ctx context.Context, notify bool) error {
	var err error
	if n := c.task; n != nil {
		c.task = nil
		n.abort()
		select {
		case <-n.done:
			n.release()
		case <-ctx.Done():
			err = ctx.Err()
			// the task may still win its dial after abort; reap whatever it returns
			go func() {
				<-n.done
				n.release()
			}()
		}
	}
	if c.conn != nil {
		if notify {
			if b, encErr := session.EncodeCloseFrame(c.nextSequence()); encErr == nil {
				if sendErr := c.conn.Send(ctx, b); sendErr != nil {
					log.Debug().Err(sendErr).Msg("bridge.Client close notify failed")
				}
			}
		}
		_ = c.conn.Close()
		c.conn = nil
	}
	c.sendBuf, c.recvBuf = nil, nil
	observability.SetStreaming(false)
	return err
}

func (c *Client) fail(err error) {
	log.Error().Str("session_id", c.sessionIDSnapshot()).Err(err).Msg("bridge.Client failed")
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.sendBuf, c.recvBuf = nil, nil
	observability.SetStreaming(false)
	c.setState(StateError)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("bridge.Client state")
	}
}

func (c *Client) tables() (registry.Table, registry.Table) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sendTable, c.recvTable
}

func (c *Client) sessionIDSnapshot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// clock is the elapsed time since the session started streaming.
func (c *Client) clock() float64 {
	return max(0, time.Since(c.streamStart).Seconds())
}

func (c *Client) nextSequence() uint64 {
	return c.nextID.Add(1)
}

func ioReason(err error) string {
	if IsTimeout(err) {
		return "timeout"
	}
	return "io"
}

func formatPort(p int) string {
	return strconv.Itoa(p)
}

func sizeMismatch(dir registry.Direction, want, got codec.Sizes) error {
	return fmt.Errorf("%w: %w", ErrSchemaMismatch, codec.SizeMismatchError{Direction: dir.String(), Want: want, Got: got})
}

// setBusyState moves between the negotiation states only, so a task that
// outlives its teardown cannot resurrect a finished session.
func (c *Client) setBusyState(s State) {
	c.mu.Lock()
	prev := c.state
	if !prev.busy() {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if prev != s {
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("bridge.Client state")
	}
}
