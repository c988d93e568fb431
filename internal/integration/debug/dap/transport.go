// Package dap implements the client side of a Debug Adapter Protocol session.
package dap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	godap "github.com/google/go-dap"
	"github.com/gorilla/websocket"
)

// Transport represents a DAP transport layer.
type Transport interface {
	// Send sends a message to the debug adapter.
	Send(msg *Message) error

	// Receive blocks until the next message from the debug adapter arrives.
	Receive() (*Message, error)

	// Close closes the transport.
	Close() error
}

// Message is one framed protocol message.
type Message struct {
	// Content is the JSON content.
	Content json.RawMessage
}

// NewMessage marshals v into a Message.
func NewMessage(v any) (*Message, error) {
	content, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Message{Content: content}, nil
}

// Dialer establishes the channel to a debug adapter.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// MaxContentLength is the maximum allowed content length for DAP messages (10MB).
const MaxContentLength = 10 * 1024 * 1024

// maxHeaderSize bounds the header block of a framed message.
const maxHeaderSize = 1024

var headerEnd = []byte("\r\n\r\n")

// writeMessage writes one Content-Length framed message.
func writeMessage(w io.Writer, msg *Message) error {
	if err := godap.WriteBaseMessage(w, msg.Content); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// readMessage reads one Content-Length framed message. The length is
// checked against MaxContentLength before the body is read.
func readMessage(r *bufio.Reader) (*Message, error) {
	length, err := peekContentLength(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	if length > MaxContentLength {
		return nil, fmt.Errorf("content-length %d exceeds maximum allowed %d", length, MaxContentLength)
	}
	content, err := godap.ReadBaseMessage(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return &Message{Content: content}, nil
}

// peekContentLength looks at the buffered header block without consuming
// it and returns its Content-Length, or -1 when there is none.
func peekContentLength(r *bufio.Reader) (int, error) {
	n := 1
	for {
		if _, err := r.Peek(n); err != nil {
			return 0, err
		}
		buf, _ := r.Peek(min(r.Buffered(), maxHeaderSize+len(headerEnd)))
		if i := bytes.Index(buf, headerEnd); i >= 0 {
			return parseContentLength(buf[:i]), nil
		}
		if len(buf) >= maxHeaderSize {
			return 0, fmt.Errorf("header exceeds %d bytes", maxHeaderSize)
		}
		n = len(buf) + 1
	}
}

func parseContentLength(header []byte) int {
	for _, line := range strings.Split(string(header), "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			continue
		}
		if length, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return length
		}
	}
	return -1
}

// StdioTransport implements Transport over stdin/stdout of a subprocess.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStdioTransport starts cmd and speaks DAP over its standard streams.
func NewStdioTransport(cmd *exec.Cmd) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("get stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start command: %w", err)
	}

	return &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}, nil
}

// Send sends a message to the debug adapter.
func (t *StdioTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return writeMessage(t.stdin, msg)
}

// Receive receives a message from the debug adapter.
func (t *StdioTransport) Receive() (*Message, error) {
	return readMessage(t.reader)
}

// Close closes the pipes and terminates the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stdin.Close()
	t.stdout.Close()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}

	return t.cmd.Wait()
}

// SocketTransport implements Transport over a TCP socket.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewSocketTransport dials address and returns a socket transport.
func NewSocketTransport(ctx context.Context, address string) (*SocketTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewSocketTransportFromConn(conn), nil
}

// NewSocketTransportFromConn creates a socket transport from an existing connection.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Send sends a message to the debug adapter.
func (t *SocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return writeMessage(t.conn, msg)
}

// Receive receives a message from the debug adapter.
func (t *SocketTransport) Receive() (*Message, error) {
	return readMessage(t.reader)
}

// Close closes the socket connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send sends a message.
func (t *RawTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return writeMessage(t.rwc, msg)
}

// Receive receives a message.
func (t *RawTransport) Receive() (*Message, error) {
	return readMessage(t.reader)
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}

// WebSocketTransport carries one JSON message per text frame, the way
// kernel gateways relay the debug control channel.
type WebSocketTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWebSocketTransport dials url and returns a websocket transport.
func NewWebSocketTransport(ctx context.Context, url string) (*WebSocketTransport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketTransportFromConn(conn), nil
}

// NewWebSocketTransportFromConn wraps an established websocket connection.
func NewWebSocketTransportFromConn(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(MaxContentLength)
	return &WebSocketTransport{conn: conn}
}

// Send writes msg as a single text frame.
func (t *WebSocketTransport) Send(msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, msg.Content); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive reads the next text or binary frame.
func (t *WebSocketTransport) Receive() (*Message, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return &Message{Content: data}, nil
		}
	}
}

// Close sends a close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.mu.Unlock()
	return t.conn.Close()
}

// TCPDialer returns a Dialer that connects to address over TCP.
func TCPDialer(address string) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return NewSocketTransport(ctx, address)
	})
}

// StdioDialer returns a Dialer that launches command with args.
func StdioDialer(command string, args ...string) Dialer {
	return DialerFunc(func(context.Context) (Transport, error) {
		// The adapter outlives the dial context; Close kills it.
		return NewStdioTransport(exec.Command(command, args...))
	})
}

// WebSocketDialer returns a Dialer that connects to url.
func WebSocketDialer(url string) Dialer {
	return DialerFunc(func(ctx context.Context) (Transport, error) {
		return NewWebSocketTransport(ctx, url)
	})
}
