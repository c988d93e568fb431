package adapters

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
)

func TestKindConstants(t *testing.T) {
	if KindTCP != "tcp" {
		t.Errorf("KindTCP should be 'tcp'")
	}
	if KindStdio != "stdio" {
		t.Errorf("KindStdio should be 'stdio'")
	}
	if KindWebSocket != "websocket" {
		t.Errorf("KindWebSocket should be 'websocket'")
	}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry returned nil")
	}

	kinds := r.Kinds()
	want := []Kind{KindStdio, KindTCP, KindWebSocket}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d kinds, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, expected %s", i, kinds[i], want[i])
		}
	}
}

func TestRegistry_Dialer_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Dialer(Config{Kind: "carrier-pigeon"})
	if err == nil {
		t.Error("expected error for unknown adapter kind")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	called := false
	r.Register("custom", func(Config) (dap.Dialer, error) {
		called = true
		return dap.DialerFunc(func(context.Context) (dap.Transport, error) { return nil, nil }), nil
	})

	if len(r.Kinds()) != 4 {
		t.Errorf("expected 4 kinds after registration, got %d", len(r.Kinds()))
	}
	if _, err := r.Dialer(Config{Kind: "custom"}); err != nil {
		t.Fatalf("Dialer failed: %v", err)
	}
	if !called {
		t.Error("custom factory was not called")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"tcp ok", Config{Kind: KindTCP, Address: "127.0.0.1:5678"}, false},
		{"tcp missing address", Config{Kind: KindTCP}, true},
		{"tcp bad address", Config{Kind: KindTCP, Address: "localhost"}, true},
		{"stdio ok", Config{Kind: KindStdio, Command: "python"}, false},
		{"stdio missing command", Config{Kind: KindStdio}, true},
		{"websocket ok", Config{Kind: KindWebSocket, URL: "ws://localhost:8888/control"}, false},
		{"websocket missing url", Config{Kind: KindWebSocket}, true},
		{"empty kind", Config{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_TCPDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	d, err := NewRegistry().Dialer(Config{
		Kind:        KindTCP,
		Address:     ln.Addr().String(),
		WaitTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Dialer failed: %v", err)
	}

	tr, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	tr.Close()
}

func TestRegistry_StdioDialerMissingCommand(t *testing.T) {
	_, err := NewRegistry().Dialer(Config{Kind: KindStdio, Command: "kdbg-no-such-adapter"})
	if err == nil {
		t.Error("expected error for missing executable")
	}
}

func TestWaitForPort_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := WaitForPort(ctx, addr); err == nil {
		t.Error("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("WaitForPort took %v", elapsed)
	}
}

func TestRetryDialer_EventualSuccess(t *testing.T) {
	var attempts int
	inner := dap.DialerFunc(func(context.Context) (dap.Transport, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection refused")
		}
		return nil, nil
	})

	if _, err := retryDialer(inner, 2*time.Second).Dial(context.Background()); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryDialer_Timeout(t *testing.T) {
	inner := dap.DialerFunc(func(context.Context) (dap.Transport, error) {
		return nil, errors.New("connection refused")
	})

	start := time.Now()
	_, err := retryDialer(inner, 150*time.Millisecond).Dial(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Dial took %v, want it bounded by the wait timeout", elapsed)
	}
}

func TestRegistry_WebSocketDialerWithWait(t *testing.T) {
	d, err := NewRegistry().Dialer(Config{
		Kind:        KindWebSocket,
		URL:         "ws://127.0.0.1:1/api/kernels/k/channels",
		WaitTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dialer: %v", err)
	}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Error("expected dial to an unused port to fail")
	}
}
