// Package adapters resolves the channel to a kernel's debug adapter from
// configuration.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"time"

	"github.com/dshills/kdbg/internal/integration"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
)

// Kind identifies how the adapter is reached.
type Kind string

const (
	// KindTCP connects to a kernel's debug port.
	KindTCP Kind = "tcp"
	// KindStdio runs the adapter as a subprocess speaking on stdin/stdout.
	KindStdio Kind = "stdio"
	// KindWebSocket connects to a kernel gateway control channel.
	KindWebSocket Kind = "websocket"
)

// Config describes the adapter endpoint.
type Config struct {
	// Kind selects the transport.
	Kind Kind `json:"kind"`

	// Address is host:port for KindTCP.
	Address string `json:"address,omitempty"`

	// URL is the ws:// or wss:// endpoint for KindWebSocket.
	URL string `json:"url,omitempty"`

	// Command and Args start the adapter for KindStdio.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`

	// WaitTimeout, when set, waits for the adapter to come up: KindTCP polls
	// the port before dialing and KindWebSocket retries the handshake.
	WaitTimeout time.Duration `json:"waitTimeout,omitempty"`
}

// Validate checks that the fields Kind needs are present.
func (c Config) Validate() error {
	switch c.Kind {
	case KindTCP:
		if c.Address == "" {
			return fmt.Errorf("tcp adapter requires an address")
		}
		if _, _, err := net.SplitHostPort(c.Address); err != nil {
			return fmt.Errorf("tcp adapter address %q: %w", c.Address, err)
		}
	case KindStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio adapter requires a command")
		}
	case KindWebSocket:
		if c.URL == "" {
			return fmt.Errorf("websocket adapter requires a url")
		}
	default:
		return fmt.Errorf("unknown adapter kind: %q", c.Kind)
	}
	return nil
}

// Factory builds a dialer for a validated config.
type Factory func(Config) (dap.Dialer, error)

// Registry maps adapter kinds to dialer factories.
type Registry struct {
	factories map[Kind]Factory
}

// NewRegistry creates a registry with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[Kind]Factory),
	}

	r.Register(KindTCP, newTCPDialer)
	r.Register(KindStdio, newStdioDialer)
	r.Register(KindWebSocket, newWebSocketDialer)

	return r
}

// Register registers a factory for kind, replacing any existing one.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.factories[kind] = factory
}

// Dialer validates cfg and returns a dialer for it.
func (r *Registry) Dialer(cfg Config) (dap.Dialer, error) {
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown adapter kind: %q", cfg.Kind)
	}
	return factory(cfg)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	result := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		result = append(result, k)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func newTCPDialer(cfg Config) (dap.Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout <= 0 {
		return dap.TCPDialer(cfg.Address), nil
	}

	inner := dap.TCPDialer(cfg.Address)
	return dap.DialerFunc(func(ctx context.Context) (dap.Transport, error) {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
		defer cancel()
		if err := WaitForPort(waitCtx, cfg.Address); err != nil {
			return nil, err
		}
		return inner.Dial(ctx)
	}), nil
}

func newStdioDialer(cfg Config) (dap.Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := FindExecutable(cfg.Command); err != nil {
		return nil, err
	}
	return dap.StdioDialer(cfg.Command, cfg.Args...), nil
}

func newWebSocketDialer(cfg Config) (dap.Dialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	inner := dap.WebSocketDialer(cfg.URL)
	if cfg.WaitTimeout <= 0 {
		return inner, nil
	}
	return retryDialer(inner, cfg.WaitTimeout), nil
}

// retryDialer redials inner with backoff until it succeeds or timeout
// elapses.
func retryDialer(inner dap.Dialer, timeout time.Duration) dap.Dialer {
	retry := integration.RetryConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
	}
	return dap.DialerFunc(func(ctx context.Context) (dap.Transport, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return integration.Retry(ctx, retry, func() (dap.Transport, error) {
			return inner.Dial(ctx)
		})
	})
}

// FindExecutable searches for an executable in PATH.
func FindExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// WaitForPort polls address until it accepts a TCP connection. It returns
// an error once ctx is done.
func WaitForPort(ctx context.Context, address string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", address, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s: %w", address, ctx.Err())
		case <-ticker.C:
		}
	}
}
