// Package simtest runs a scripted simulator that speaks the bridge wire
// protocol on loopback, for client tests.
package simtest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/simbridge/internal/protocol/attribute"
	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/registry"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/protocol/session"
	"github.com/danmuck/simbridge/internal/protocol/wire"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options script the simulator. The zero value accepts every request and
// echoes zeroed receive buffers.
type Options struct {
	// Transport is "tcp" (default) or "ws".
	Transport string
	// WebSocketPath defaults to "/bridge".
	WebSocketPath string
	// Session carries TLS settings for the listener.
	Session session.Config

	// Time is the clock reported in negotiation responses.
	Time float64
	// FailNegotiations answers the first N schema requests with a
	// negative time.
	FailNegotiations int
	// OmitEcho leaves send/receive out of negotiation responses.
	OmitEcho bool
	// ExtraSendEcho is merged into the send echo, which makes the server's
	// layout disagree with the client's.
	ExtraSendEcho map[string][]string
	// SendValues replaces the send echo with concrete values, the poses a
	// resumed simulation hands back to the entities the client sends.
	SendValues map[string]map[string][]float64
	// ReceiveValues replaces the receive echo with concrete values.
	ReceiveValues map[string]map[string][]float64

	// NegativeClockAt replies to data exchange N (1-based, counted across
	// connections) with a negative clock.
	NegativeClockAt int
	// StallAt stops replying from data exchange N on.
	StallAt int
	// Fill writes the receive buffers of exchange n before they are sent.
	Fill func(n int, table registry.Table, buf *codec.Buffers)

	// Pairing opens a second listener for the client port handshake.
	Pairing bool
	// RejectPairing answers open requests with a rejected status.
	RejectPairing bool
}

// Stats is what the simulator observed.
type Stats struct {
	Connections  int
	Opens        int
	Negotiations int
	Exchanges    int
	Closes       int
	Requests     []schema.Request
	LastSend     session.DataRegions
	Callbacks    []schema.APICallbacks
}

// Server is a running simulator.
type Server struct {
	opts    Options
	catalog *attribute.Catalog

	ln       net.Listener
	pairLn   net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[frameConn]struct{}

	mu    sync.Mutex
	stats Stats
}

// Start listens on 127.0.0.1:0 and stops the server when t ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.WebSocketPath == "" {
		opts.WebSocketPath = "/bridge"
	}
	opts.Session = opts.Session.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:    opts,
		catalog: attribute.NewCatalog(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[frameConn]struct{}),
	}
	ln, err := s.listen()
	if err != nil {
		t.Fatalf("simtest listen: %v", err)
	}
	s.ln = ln
	if opts.Pairing {
		pairLn, err := s.listen()
		if err != nil {
			t.Fatalf("simtest listen pair: %v", err)
		}
		s.pairLn = pairLn
	}

	if opts.Transport == "ws" {
		mux := http.NewServeMux()
		mux.HandleFunc(opts.WebSocketPath, s.handleWebSocket)
		s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		for _, l := range s.listeners() {
			s.wg.Add(1)
			go func(l net.Listener) {
				defer s.wg.Done()
				_ = s.httpSrv.Serve(l)
			}(l)
		}
	} else {
		for _, l := range s.listeners() {
			s.wg.Add(1)
			go func(l net.Listener) {
				defer s.wg.Done()
				s.serve(l)
			}(l)
		}
	}
	t.Cleanup(s.Close)
	return s
}

func (s *Server) listen() (net.Listener, error) {
	if err := s.opts.Session.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !s.opts.Session.TLS.Enabled {
		return net.Listen("tcp", "127.0.0.1:0")
	}
	tlsCfg, err := s.opts.Session.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return tls.NewListener(inner, tlsCfg), nil
}

func (s *Server) listeners() []net.Listener {
	if s.pairLn != nil {
		return []net.Listener{s.ln, s.pairLn}
	}
	return []net.Listener{s.ln}
}

// Host is the loopback address the server listens on.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port is the session (server) port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// PairPort is the client port of the pairing handshake, 0 without pairing.
func (s *Server) PairPort() int {
	if s.pairLn == nil {
		return 0
	}
	return s.pairLn.Addr().(*net.TCPAddr).Port
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Requests = append([]schema.Request(nil), s.stats.Requests...)
	out.Callbacks = append([]schema.APICallbacks(nil), s.stats.Callbacks...)
	return out
}

// WaitFor polls Stats until cond holds or timeout passes.
func (s *Server) WaitFor(timeout time.Duration, cond func(Stats) bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond(s.Stats()) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond(s.Stats())
}

// DropConnections closes every live connection, as a restarting simulator
// would.
func (s *Server) DropConnections() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		_ = c.close()
	}
}

func (s *Server) Close() {
	s.cancel()
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
	}
	for _, l := range s.listeners() {
		_ = l.Close()
	}
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("simtest.Server accept")
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(&tcpFrameConn{conn: conn})
		}()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.handleConn(&wsFrameConn{conn: conn})
}

func (s *Server) trackConn(c frameConn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
	s.mu.Lock()
	s.stats.Connections++
	s.mu.Unlock()
}

func (s *Server) untrackConn(c frameConn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// session state of one connection
type connState struct {
	send    registry.Table
	recv    registry.Table
	sendBuf *codec.Buffers
	recvBuf *codec.Buffers
}

func (s *Server) handleConn(c frameConn) {
	s.trackConn(c)
	defer s.untrackConn(c)
	defer c.close()

	var st connState
	for {
		fr, err := c.read()
		if err != nil {
			return
		}
		var reply []byte
		switch fr.Header.MessageType {
		case wire.MsgOpen:
			reply, err = s.handleOpen(fr)
		case wire.MsgMeta:
			reply, err = s.handleMeta(fr, &st)
		case wire.MsgData:
			reply, err = s.handleData(fr, &st)
		case wire.MsgClose:
			s.mu.Lock()
			s.stats.Closes++
			s.mu.Unlock()
			return
		default:
			log.Warn().Uint32("message_type", fr.Header.MessageType).Msg("simtest.Server unexpected message")
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("simtest.Server handle")
			return
		}
		if reply == nil {
			continue
		}
		if err := c.write(reply); err != nil {
			return
		}
	}
}

func (s *Server) handleOpen(fr frame.Frame) ([]byte, error) {
	port, err := session.DecodeOpenFrame(fr)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.stats.Opens++
	s.mu.Unlock()
	status := session.AckStatusAccepted
	if s.opts.RejectPairing || port != strconv.Itoa(s.PairPort()) {
		status = session.AckStatusRejected
	}
	return session.EncodeOpenAckFrame(fr.Header.Sequence, session.OpenAck{ClientPort: port, Status: status})
}

func (s *Server) handleMeta(fr frame.Frame, st *connState) ([]byte, error) {
	raw, err := session.DecodeMetaFrame(fr)
	if err != nil {
		return nil, err
	}
	var req schema.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	if req.Send == nil && req.Receive == nil && len(req.APICallbacks) > 0 {
		return s.handleCallbacks(fr, req.APICallbacks)
	}

	s.mu.Lock()
	s.stats.Negotiations++
	s.stats.Requests = append(s.stats.Requests, req)
	attempt := s.stats.Negotiations
	s.mu.Unlock()

	if attempt <= s.opts.FailNegotiations {
		return session.EncodeMetaFrame(fr.Header.Sequence, []byte(`{"time":-1}`), true)
	}

	st.send = namesTable(req.Send, s.catalog)
	st.recv = namesTable(req.Receive, s.catalog)
	if st.sendBuf, err = codec.NewBuffers(codec.ComputeSizes(st.send, s.catalog)); err != nil {
		return nil, err
	}
	if st.recvBuf, err = codec.NewBuffers(codec.ComputeSizes(st.recv, s.catalog)); err != nil {
		return nil, err
	}

	resp := map[string]any{"time": s.opts.Time}
	if !s.opts.OmitEcho {
		send := make(map[string][]string, len(req.Send))
		for k, v := range req.Send {
			send[k] = v
		}
		for k, v := range s.opts.ExtraSendEcho {
			send[k] = append(append([]string(nil), send[k]...), v...)
		}
		resp["send"] = send
		if s.opts.SendValues != nil {
			resp["send"] = s.opts.SendValues
		}
		if s.opts.ReceiveValues != nil {
			resp["receive"] = s.opts.ReceiveValues
		} else {
			resp["receive"] = req.Receive
		}
	}
	doc, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return session.EncodeMetaFrame(fr.Header.Sequence, doc, true)
}

func (s *Server) handleCallbacks(fr frame.Frame, calls schema.APICallbacks) ([]byte, error) {
	s.mu.Lock()
	s.stats.Callbacks = append(s.stats.Callbacks, calls)
	s.mu.Unlock()

	// every call is answered with its own name and argument count
	out := make(schema.APICallbacks, len(calls))
	for sim, list := range calls {
		for _, call := range list {
			out[sim] = append(out[sim], schema.APICallback{
				Name:      call.Name,
				Arguments: []string{strconv.Itoa(len(call.Arguments))},
			})
		}
	}
	doc, err := json.Marshal(map[string]any{"time": s.opts.Time, "api_callbacks_response": out})
	if err != nil {
		return nil, err
	}
	return session.EncodeMetaFrame(fr.Header.Sequence, doc, true)
}

func (s *Server) handleData(fr frame.Frame, st *connState) ([]byte, error) {
	regions, err := session.DecodeDataFrame(fr)
	if err != nil {
		return nil, err
	}
	if st.sendBuf == nil {
		return nil, errors.New("simtest: data before negotiation")
	}
	if err := regions.Into(st.sendBuf); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.stats.Exchanges++
	n := s.stats.Exchanges
	s.stats.LastSend = regions
	s.mu.Unlock()

	if s.opts.StallAt > 0 && n >= s.opts.StallAt {
		return nil, nil
	}
	if s.opts.NegativeClockAt > 0 && n == s.opts.NegativeClockAt {
		neg, _ := codec.NewBuffers(codec.Sizes{})
		neg.SetClock(-1)
		return session.EncodeDataFrame(fr.Header.Sequence, session.Regions(neg), true)
	}
	st.recvBuf.SetClock(st.sendBuf.Clock())
	if s.opts.Fill != nil {
		s.opts.Fill(n, st.recv, st.recvBuf)
	}
	return session.EncodeDataFrame(fr.Header.Sequence, session.Regions(st.recvBuf), true)
}

func namesTable(names map[string][]string, catalog *attribute.Catalog) registry.Table {
	state := make(schema.EntityState, len(names))
	for entity, attrs := range names {
		m := make(map[string][]float64, len(attrs))
		for _, a := range attrs {
			m[a] = nil
		}
		state[entity] = m
	}
	return state.Table(catalog)
}

// frameConn hides the tcp/ws difference from the session loop.
type frameConn interface {
	read() (frame.Frame, error)
	write(b []byte) error
	close() error
}

type tcpFrameConn struct {
	conn net.Conn
}

func (c *tcpFrameConn) read() (frame.Frame, error) {
	return frame.ReadFrame(c.conn, frame.DefaultLimits())
}

func (c *tcpFrameConn) write(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

func (c *tcpFrameConn) close() error {
	return c.conn.Close()
}

type wsFrameConn struct {
	conn *websocket.Conn
}

func (c *wsFrameConn) read() (frame.Frame, error) {
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return frame.Frame{}, err
		}
		if kind == websocket.BinaryMessage {
			return frame.ReadFrame(bytes.NewReader(msg), frame.DefaultLimits())
		}
	}
}

func (c *wsFrameConn) write(b []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *wsFrameConn) close() error {
	return c.conn.Close()
}
