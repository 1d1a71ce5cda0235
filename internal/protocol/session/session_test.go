package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/simbridge/internal/protocol/codec"
	"github.com/danmuck/simbridge/internal/protocol/frame"
	"github.com/danmuck/simbridge/internal/protocol/schema"
	"github.com/danmuck/simbridge/internal/protocol/tlv"
	"github.com/danmuck/simbridge/internal/protocol/wire"
	"github.com/danmuck/simbridge/internal/testutil/testlog"
)

func readOne(t *testing.T, b []byte) frame.Frame {
	t.Helper()
	fr, err := frame.ReadFrame(bytes.NewReader(b), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return fr
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got > 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestBackoffAttemptLimitAndReset(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: time.Millisecond}, 2)
	if !b.Fail() {
		t.Fatalf("first failure should allow retry")
	}
	if b.Fail() {
		t.Fatalf("second failure should exhaust attempts")
	}
	b.Reset()
	if b.Attempt() != 0 {
		t.Fatalf("reset attempt=%d", b.Attempt())
	}

	forever := NewBackoff(BackoffConfig{InitialDelay: time.Hour}, 0)
	for i := 0; i < 10; i++ {
		if !forever.Fail() {
			t.Fatalf("unbounded backoff stopped at %d", i)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := forever.Sleep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled sleep, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: time.Second, NegotiateTimeout: -1}.WithDefaults()
	if cfg.ReadTimeout != time.Second {
		t.Fatalf("explicit read timeout overwritten: %v", cfg.ReadTimeout)
	}
	if cfg.ConnectTimeout != DefaultConfig().ConnectTimeout || cfg.NegotiateTimeout != 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SecurityMode != SecurityModeDevelopment {
		t.Fatalf("unexpected security mode %q", cfg.SecurityMode)
	}
}

func TestCallbackOutboxLifecycle(t *testing.T) {
	testlog.Start(t)
	o := NewCallbackOutbox()
	now := time.Unix(1700000000, 0)
	o.Enqueue("sim", []schema.APICallback{{Name: "pause"}}, now)
	o.Enqueue("sim", []schema.APICallback{{Name: "resume"}}, now)
	o.Enqueue("", []schema.APICallback{{Name: "ignored"}}, now)
	if o.Len() != 2 {
		t.Fatalf("pending len=%d", o.Len())
	}

	batch := o.Batch()
	o.MarkAttempt(now.Add(time.Second), "timeout")
	o.Enqueue("sim", []schema.APICallback{{Name: "step", Arguments: []string{"1"}}}, now)

	item, ok := o.Get("sim")
	if !ok || item.Attempts != 1 || item.LastError != "timeout" {
		t.Fatalf("unexpected pending item: %+v", item)
	}

	o.Ack(batch)
	item, ok = o.Get("sim")
	if !ok || len(item.Calls) != 1 || item.Calls[0].Name != "step" {
		t.Fatalf("late call should stay pending: %+v", item)
	}
	o.Ack(o.Batch())
	if o.Len() != 0 || len(o.List()) != 0 || o.Batch() != nil {
		t.Fatalf("outbox should be empty")
	}
}

func TestOpenAndAckFrames(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeOpenFrame(1, "7001")
	if err != nil {
		t.Fatalf("encode open: %v", err)
	}
	port, err := DecodeOpenFrame(readOne(t, b))
	if err != nil || port != "7001" {
		t.Fatalf("decode open port=%q err=%v", port, err)
	}
	if _, err := EncodeOpenFrame(1, " "); !errors.Is(err, ErrInvalidOpen) {
		t.Fatalf("expected ErrInvalidOpen, got %v", err)
	}

	b, err = EncodeOpenAckFrame(2, OpenAck{ClientPort: "7001", Status: AckStatusAccepted})
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	fr := readOne(t, b)
	if !fr.IsResponse() {
		t.Fatalf("ack should carry the response flag")
	}
	ack, err := DecodeOpenAckFrame(fr)
	if err != nil || ack.Status != AckStatusAccepted {
		t.Fatalf("decode ack=%+v err=%v", ack, err)
	}
	if _, err := EncodeOpenAckFrame(2, OpenAck{ClientPort: "7001", Status: "maybe"}); !errors.Is(err, ErrInvalidOpenAck) {
		t.Fatalf("expected ErrInvalidOpenAck, got %v", err)
	}
}

func TestDecodeRejectsWrongMessageType(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeCloseFrame(3)
	if err != nil {
		t.Fatalf("encode close: %v", err)
	}
	fr := readOne(t, b)
	if fr.Header.MessageType != wire.MsgClose {
		t.Fatalf("unexpected type %d", fr.Header.MessageType)
	}
	if _, err := DecodeMetaFrame(fr); !errors.Is(err, ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
}

func TestMetaFrameChunksLongDocuments(t *testing.T) {
	testlog.Start(t)
	doc := []byte(`{"world_name":"` + strings.Repeat("w", 400) + `"}`)
	b, err := EncodeMetaFrame(4, doc, false)
	if err != nil {
		t.Fatalf("encode meta: %v", err)
	}
	fr := readOne(t, b)
	fields, err := tlv.DecodeFields(fr.Payload)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	chunks := tlv.GetFields(fields, wire.FieldMetaChunk)
	if len(chunks) != 4 {
		t.Fatalf("chunks=%d want 4", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Value) > schema.ChunkSize {
			t.Fatalf("chunk too long: %d", len(c.Value))
		}
	}
	got, err := DecodeMetaFrame(fr)
	if err != nil || !bytes.Equal(got, doc) {
		t.Fatalf("reassembled doc mismatch err=%v", err)
	}
}

func TestDataFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	buf, err := codec.NewBuffers(codec.Sizes{Double: 3, Byte: 2, UInt16: 1})
	if err != nil {
		t.Fatalf("new buffers: %v", err)
	}
	copy(buf.Doubles, []float64{1.5, 1, 2, 3})
	copy(buf.Bytes, []byte{7, 8})
	buf.UInt16s[0] = 513

	b, err := EncodeDataFrame(5, Regions(buf), true)
	if err != nil {
		t.Fatalf("encode data: %v", err)
	}
	regions, err := DecodeDataFrame(readOne(t, b))
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if clock, ok := regions.Clock(); !ok || clock != 1.5 {
		t.Fatalf("clock=%v ok=%v", clock, ok)
	}
	out, _ := codec.NewBuffers(buf.Sizes())
	if err := regions.Into(out); err != nil {
		t.Fatalf("into: %v", err)
	}
	if out.Doubles[3] != 3 || out.Bytes[1] != 8 || out.UInt16s[0] != 513 {
		t.Fatalf("unexpected buffers: %+v", out)
	}
}

func TestValidateClientTransportProductionRequiresTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransport(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.SecurityMode = "staging"
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}
