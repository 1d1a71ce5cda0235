package bridge

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/danmuck/simbridge/internal/protocol/session"
)

var (
	ErrServerHostRequired = errors.New("bridge: server host required")
	ErrInvalidPort        = errors.New("bridge: invalid port")
	ErrInvalidRate        = errors.New("bridge: invalid rate")
)

// Config is the client configuration.
type Config struct {
	ServerHost string
	ServerPort int
	// ClientPort enables port pairing: the session is opened on ServerPort
	// and served on ClientPort. Zero disables pairing.
	ClientPort int

	Transport     string
	WebSocketPath string

	WorldName      string
	SimulationName string

	// UpdateRate caps data exchanges per second. Zero exchanges on every tick.
	UpdateRate float64

	APICallbacksEnabled bool
	APICallbacksRate    float64

	MaxConnectAttempts int
	Session            session.Config
}

func DefaultConfig() Config {
	return Config{
		ServerHost:       "127.0.0.1",
		ServerPort:       9100,
		Transport:        TransportTCP,
		WebSocketPath:    DefaultWebSocketPath,
		WorldName:        "world",
		SimulationName:   "simulation",
		UpdateRate:       60,
		APICallbacksRate: 1,
		Session:          session.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServerHost) == "" {
		return ErrServerHostRequired
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("%w: server_port=%d", ErrInvalidPort, c.ServerPort)
	}
	if c.ClientPort < 0 || c.ClientPort > 65535 {
		return fmt.Errorf("%w: client_port=%d", ErrInvalidPort, c.ClientPort)
	}
	if c.UpdateRate < 0 {
		return fmt.Errorf("%w: update_rate=%v", ErrInvalidRate, c.UpdateRate)
	}
	if c.APICallbacksEnabled && c.APICallbacksRate <= 0 {
		return fmt.Errorf("%w: api_callbacks_rate=%v", ErrInvalidRate, c.APICallbacksRate)
	}
	switch strings.ToLower(strings.TrimSpace(c.Transport)) {
	case "", TransportTCP, TransportWebSocket, "websocket":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	return nil
}

// ServerAddress is the host:port the session is opened on.
func (c Config) ServerAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ServerPort))
}

// ClientAddress is the host:port of the paired channel.
func (c Config) ClientAddress() string {
	return net.JoinHostPort(c.ServerHost, strconv.Itoa(c.ClientPort))
}
