package bridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/session"
	"github.com/gorilla/websocket"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"

	DefaultWebSocketPath = "/bridge"
)

var ErrUnknownTransport = errors.New("bridge: unknown transport")

// Conn carries whole frames. Implementations are used by one goroutine at
// a time except for Close, which may be called concurrently to unblock a
// pending Receive.
type Conn interface {
	Send(ctx context.Context, b []byte) error
	// Receive waits at most timeout for the next frame; timeout <= 0 waits
	// until ctx ends or the conn is closed.
	Receive(ctx context.Context, timeout time.Duration) (frame.Frame, error)
	RemoteAddr() string
	Close() error
}

// Dialer opens a Conn to address (host:port).
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// NewDialer selects the transport named by kind.
func NewDialer(kind string, cfg session.Config, wsPath string) (Dialer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", TransportTCP:
		return &tcpDialer{cfg: cfg}, nil
	case TransportWebSocket, "websocket":
		if wsPath == "" {
			wsPath = DefaultWebSocketPath
		}
		return &wsDialer{cfg: cfg, path: wsPath}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

type tcpDialer struct {
	cfg session.Config
}

func (d *tcpDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if err := d.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: d.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if !d.cfg.TLS.Enabled {
		return newTCPConn(rawConn, d.cfg), nil
	}

	tlsCfg, err := d.cfg.ClientTLSConfig(address)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return newTCPConn(conn, d.cfg), nil
}

type tcpConn struct {
	conn      net.Conn
	cfg       session.Config
	closeOnce sync.Once
}

func newTCPConn(conn net.Conn, cfg session.Config) *tcpConn {
	return &tcpConn{conn: conn, cfg: cfg}
}

func (c *tcpConn) Send(ctx context.Context, b []byte) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(b)
	return err
}

func (c *tcpConn) Receive(ctx context.Context, timeout time.Duration) (frame.Frame, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		return frame.Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()
	fr, err := frame.ReadFrame(c.conn, frame.DefaultLimits())
	if err != nil && ctx.Err() != nil {
		return frame.Frame{}, ctx.Err()
	}
	return fr, err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}

type wsDialer struct {
	cfg  session.Config
	path string
}

func (d *wsDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if err := d.cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	u := url.URL{Scheme: "ws", Host: address, Path: d.path}
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		NetDialContext:   (&net.Dialer{Timeout: d.cfg.ConnectTimeout}).DialContext,
	}
	if d.cfg.TLS.Enabled {
		tlsCfg, err := d.cfg.ClientTLSConfig(address)
		if err != nil {
			return nil, err
		}
		u.Scheme = "wss"
		dialer.TLSClientConfig = tlsCfg
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn, cfg: d.cfg}, nil
}

// wsConn carries one frame per binary message.
type wsConn struct {
	conn      *websocket.Conn
	cfg       session.Config
	closeOnce sync.Once
}

func (c *wsConn) Send(ctx context.Context, b []byte) error {
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsConn) Receive(ctx context.Context, timeout time.Duration) (frame.Frame, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, timeout)); err != nil {
		return frame.Frame{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.UnderlyingConn().SetReadDeadline(time.Now())
	})
	defer stop()
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return frame.Frame{}, ctx.Err()
			}
			return frame.Frame{}, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		return frame.ReadFrame(bytes.NewReader(msg), frame.DefaultLimits())
	}
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
