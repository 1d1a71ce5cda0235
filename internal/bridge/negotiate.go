package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/simbridge/internal/observability"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// negotiation is the single background connect/negotiate task. result and
// err are written before done is closed.
type negotiation struct {
	cancel context.CancelFunc
	done   chan struct{}

	connMu sync.Mutex
	conn   Conn

	result negotiated
	err    error
}

type negotiated struct {
	conn    Conn
	sendBuf *codec.Buffers
	recvBuf *codec.Buffers
	resp    schema.Response
}

func (n *negotiation) setConn(conn Conn) {
	n.connMu.Lock()
	n.conn = conn
	n.connMu.Unlock()
}

// abort cancels the task and closes its conn so a blocked receive returns.
func (n *negotiation) abort() {
	n.cancel()
	n.connMu.Lock()
	conn := n.conn
	n.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// release closes the conn of a finished task that will never be joined.
func (n *negotiation) release() {
	if n.err == nil && n.result.conn != nil {
		_ = n.result.conn.Close()
	}
}

func (n *negotiation) finished() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// negotiate retries connect + schema exchange with backoff until it
// succeeds, the sizes disagree, attempts run out or ctx ends.
func (c *Client) negotiate(ctx context.Context, n *negotiation, send, recv registry.Table) (negotiated, error) {
	backoff := session.NewBackoff(c.cfg.Session.Backoff, c.cfg.MaxConnectAttempts)
	for {
		res, err := c.negotiateOnce(ctx, n, send, recv)
		if err == nil {
			observability.RecordNegotiation("ok")
			return res, nil
		}
		if ctx.Err() != nil {
			return negotiated{}, ctx.Err()
		}
		switch {
		case errors.Is(err, ErrSchemaMismatch):
			observability.RecordNegotiation("mismatch")
			return negotiated{}, err
		case errors.Is(err, ErrPairingRejected):
			observability.RecordNegotiation("rejected")
			return negotiated{}, err
		}
		observability.RecordNegotiation("retry")
		log.Warn().
			Int("attempt", backoff.Attempt()+1).
			Str("server", c.cfg.ServerAddress()).
			Err(err).
			Msg("bridge.Client negotiate failed")
		if !backoff.Fail() {
			observability.RecordNegotiation("exhausted")
			return negotiated{}, fmt.Errorf("%w: %w", ErrConnectExhausted, err)
		}
		c.setBusyState(StateConnecting)
		if err := backoff.Sleep(ctx); err != nil {
			return negotiated{}, err
		}
	}
}

func (c *Client) negotiateOnce(ctx context.Context, n *negotiation, send, recv registry.Table) (negotiated, error) {
	c.setBusyState(StateConnecting)
	conn, err := c.connect(ctx, n)
	if err != nil {
		return negotiated{}, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = conn.Close()
		}
	}()

	c.setBusyState(StateNegotiating)
	doc, err := schema.NewRequest(c.cfg.WorldName, c.cfg.SimulationName, send, recv, c.catalog).Marshal()
	if err != nil {
		return negotiated{}, err
	}
	b, err := session.EncodeMetaFrame(c.nextSequence(), doc, false)
	if err != nil {
		return negotiated{}, err
	}
	if err := conn.Send(ctx, b); err != nil {
		return negotiated{}, err
	}
	fr, err := conn.Receive(ctx, c.cfg.Session.NegotiateTimeout)
	if err != nil {
		return negotiated{}, err
	}
	raw, err := session.DecodeMetaFrame(fr)
	if err != nil {
		return negotiated{}, err
	}
	resp, err := schema.ParseResponse(raw)
	if err != nil {
		return negotiated{}, err
	}
	if err := c.checkSizes(resp, send, recv); err != nil {
		return negotiated{}, err
	}

	sendBuf, err := codec.NewBuffers(codec.ComputeSizes(send, c.catalog))
	if err != nil {
		return negotiated{}, err
	}
	if err := c.encoder.Seed(send, sendBuf); err != nil {
		return negotiated{}, err
	}
	recvBuf, err := codec.NewBuffers(codec.ComputeSizes(recv, c.catalog))
	if err != nil {
		return negotiated{}, err
	}
	ok = true
	return negotiated{conn: conn, sendBuf: sendBuf, recvBuf: recvBuf, resp: resp}, nil
}

// connect dials the server port, pairing onto the client port when one is
// configured.
func (c *Client) connect(ctx context.Context, n *negotiation) (Conn, error) {
	conn, err := c.dialer.Dial(ctx, c.cfg.ServerAddress())
	if err != nil {
		return nil, err
	}
	n.setConn(conn)
	if c.cfg.ClientPort == 0 {
		return conn, nil
	}

	ack, err := c.pair(ctx, conn)
	_ = conn.Close()
	if err != nil {
		return nil, err
	}
	if ack.Status != session.AckStatusAccepted {
		return nil, fmt.Errorf("%w: client_port=%s", ErrPairingRejected, ack.ClientPort)
	}
	paired, err := c.dialer.Dial(ctx, c.cfg.ClientAddress())
	if err != nil {
		return nil, err
	}
	n.setConn(paired)
	log.Debug().Str("remote", paired.RemoteAddr()).Msg("bridge.Client paired")
	return paired, nil
}

func (c *Client) pair(ctx context.Context, conn Conn) (session.OpenAck, error) {
	b, err := session.EncodeOpenFrame(c.nextSequence(), formatPort(c.cfg.ClientPort))
	if err != nil {
		return session.OpenAck{}, err
	}
	if err := conn.Send(ctx, b); err != nil {
		return session.OpenAck{}, err
	}
	fr, err := conn.Receive(ctx, c.cfg.Session.HandshakeTimeout)
	if err != nil {
		return session.OpenAck{}, err
	}
	return session.DecodeOpenAckFrame(fr)
}

// checkSizes compares the layouts the server echoed with the local ones.
// Directions the server did not echo are accepted as-is.
func (c *Client) checkSizes(resp schema.Response, send, recv registry.Table) error {
	checks := []struct {
		dir   registry.Direction
		echo  schema.EntityState
		local registry.Table
	}{
		{registry.Send, resp.Send, send},
		{registry.Receive, resp.Receive, recv},
	}
	for _, chk := range checks {
		if chk.echo == nil {
			continue
		}
		want := codec.ComputeSizes(chk.local, c.catalog)
		got := codec.ComputeSizes(resp.ResponseTable(chk.dir, c.catalog), c.catalog)
		if want != got {
			return sizeMismatch(chk.dir, want, got)
		}
	}
	return nil
}
