package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	godap "github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/dshills/kdbg/internal/event"
	"github.com/dshills/kdbg/internal/logging"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// ClientID and ClientName identify this client in the initialize request.
	ClientID   string
	ClientName string

	// AdapterID is the adapter type, usually the kernel name.
	AdapterID string

	// Locale is sent with initialize when set.
	Locale string

	// ProbeCommand is the request IsAvailable sends.
	ProbeCommand string

	// ProbeTimeout bounds IsAvailable.
	ProbeTimeout time.Duration

	// StopTimeout bounds the wait for the disconnect reply.
	StopTimeout time.Duration
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ClientID:     "kdbg",
		ClientName:   "kdbg",
		ProbeCommand: CommandDebugInfo,
		ProbeTimeout: 2 * time.Second,
		StopTimeout:  5 * time.Second,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(cfg SessionConfig) Option {
	return func(s *Session) {
		def := DefaultSessionConfig()
		if cfg.ProbeCommand == "" {
			cfg.ProbeCommand = def.ProbeCommand
		}
		if cfg.ProbeTimeout <= 0 {
			cfg.ProbeTimeout = def.ProbeTimeout
		}
		if cfg.StopTimeout <= 0 {
			cfg.StopTimeout = def.StopTimeout
		}
		s.config = cfg
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l.WithComponent("dap")
		}
	}
}

// Session is one connection to a debug adapter. It numbers outgoing
// requests, matches replies to their waiters by request_seq and broadcasts
// events to subscribers in arrival order.
//
// The channel is dialed lazily by the first call that needs it. Event
// handlers run on the receive goroutine and must not block on a request to
// the same session.
type Session struct {
	id     string
	dialer Dialer
	config SessionConfig
	logger *logging.Logger

	connMu    sync.Mutex
	transport Transport

	// sendMu keeps seq allocation and transmission in the same order.
	sendMu sync.Mutex
	seq    int64

	pending   map[int]*pendingRequest
	pendingMu sync.Mutex

	// startMu keeps concurrent Start calls from running two handshakes.
	startMu  sync.Mutex
	started  atomic.Bool
	disposed atomic.Bool

	capsMu       sync.RWMutex
	capabilities godap.Capabilities

	events event.Signal[*Event]
}

// pendingRequest tracks a request awaiting its reply.
type pendingRequest struct {
	done      chan struct{}
	closeOnce sync.Once
	response  *Response
	err       error
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

// complete resolves the request once; later calls are ignored.
func (p *pendingRequest) complete(resp *Response, err error) {
	p.closeOnce.Do(func() {
		p.response = resp
		p.err = err
		close(p.done)
	})
}

// NewSession creates a session that connects through dialer.
func NewSession(dialer Dialer, opts ...Option) *Session {
	s := &Session{
		id:      uuid.NewString(),
		dialer:  dialer,
		config:  DefaultSessionConfig(),
		logger:  logging.NullLogger,
		pending: make(map[int]*pendingRequest),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events.SetPanicHandler(func(id string, r any) {
		s.logger.Error("event subscriber %s panicked: %v", id, r)
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Events returns the signal carrying every adapter event.
func (s *Session) Events() *event.Signal[*Event] {
	return &s.events
}

// IsStarted reports whether the handshake has completed and Stop has not
// been called since.
func (s *Session) IsStarted() bool {
	return s.started.Load()
}

// Connected reports whether the channel to the adapter is open.
func (s *Session) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.transport != nil
}

// Capabilities returns the capabilities from the last initialize reply.
func (s *Session) Capabilities() godap.Capabilities {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.capabilities
}

// connect dials the adapter if the channel is not open yet.
func (s *Session) connect(ctx context.Context) (Transport, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.disposed.Load() {
		return nil, ErrDisposed
	}
	if s.transport != nil {
		return s.transport, nil
	}
	if s.dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", ErrAdapterUnavailable)
	}

	t, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	s.transport = t
	s.logger.Debug("connected to adapter")

	go s.receiveLoop(t)
	return t, nil
}

// Start opens the channel if needed and runs the initialize and attach
// handshake. It is a no-op when the session is already started.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started.Load() {
		return nil
	}
	if _, err := s.connect(ctx); err != nil {
		return err
	}

	args := godap.InitializeRequestArguments{
		ClientID:                     s.config.ClientID,
		ClientName:                   s.config.ClientName,
		AdapterID:                    s.config.AdapterID,
		Locale:                       s.config.Locale,
		PathFormat:                   "path",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: true,
	}
	resp, err := s.SendRequest(ctx, CommandInitialize, args)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	caps, err := decodeAs[godap.Capabilities](resp)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s.capsMu.Lock()
	s.capabilities = *caps
	s.capsMu.Unlock()

	resp, err = s.SendRequest(ctx, CommandAttach, struct{}{})
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if !resp.Success {
		s.logger.Warn("attach rejected: %s", resp.Message)
	}
	s.started.Store(true)

	s.logger.Info("session %s started", s.id)
	return nil
}

// Stop sends disconnect, waits for its reply up to the stop timeout and
// marks the session not started. Every request still waiting afterwards is
// released with ErrSessionTerminated. Stop on a stopped session does nothing.
func (s *Session) Stop(ctx context.Context) error {
	if !s.started.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.StopTimeout)
	defer cancel()

	resp, err := s.SendRequest(ctx, CommandDisconnect, godap.DisconnectArguments{
		Restart:           false,
		TerminateDebuggee: false,
	})
	s.releasePending(ErrSessionTerminated)

	switch {
	case errors.Is(err, ErrTimeout):
		s.logger.Warn("no disconnect reply within %s", s.config.StopTimeout)
	case err != nil:
		return fmt.Errorf("disconnect: %w", err)
	case !resp.Success:
		s.logger.Warn("disconnect rejected: %s", resp.Message)
	}

	s.logger.Info("session %s stopped", s.id)
	return nil
}

// SendRequest transmits command with args and waits for the matching reply.
// A reply with success=false is returned normally; only transport failures,
// session termination and ctx cancellation produce an error.
func (s *Session) SendRequest(ctx context.Context, command string, args any) (*Response, error) {
	t, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	p := newPendingRequest()

	s.sendMu.Lock()
	s.seq++
	seq := int(s.seq)

	msg, err := NewMessage(Request{
		ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: TypeRequest},
		Command:         command,
		Arguments:       args,
	})
	if err != nil {
		s.sendMu.Unlock()
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	s.pendingMu.Lock()
	s.pending[seq] = p
	s.pendingMu.Unlock()

	s.logger.Debug("send %s seq=%d", command, seq)
	err = t.Send(msg)
	s.sendMu.Unlock()

	if err != nil {
		s.removePending(seq)
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case <-ctx.Done():
		s.removePending(seq)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w: %w", command, ErrTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		resp := p.response
		if resp.Command == "" {
			resp.Command = command
		}
		return resp, nil
	}
}

// IsAvailable sends the probe request and reports whether any reply, even
// an error reply, arrives within the probe timeout.
func (s *Session) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.config.ProbeTimeout)
	defer cancel()

	if _, err := s.SendRequest(ctx, s.config.ProbeCommand, struct{}{}); err != nil {
		s.logger.Debug("probe %s failed: %v", s.config.ProbeCommand, err)
		return false
	}
	return true
}

// DebugInfo fetches the adapter's state dump. It does not change whether
// the session is started.
func (s *Session) DebugInfo(ctx context.Context) (*DebugInfoResponseBody, error) {
	resp, err := s.SendRequest(ctx, CommandDebugInfo, struct{}{})
	if err != nil {
		return nil, err
	}
	return decodeAs[DebugInfoResponseBody](resp)
}

// RestoreState fetches the state dump when reattaching to a kernel. A
// session the adapter reports as started is marked started without a new
// handshake; a missing or false isStarted leaves the session as it is.
func (s *Session) RestoreState(ctx context.Context) (*DebugInfoResponseBody, error) {
	info, err := s.DebugInfo(ctx)
	if err != nil {
		return nil, err
	}
	if info.IsStarted != nil && *info.IsStarted {
		s.started.Store(true)
	}
	return info, nil
}

// Dispose closes the channel, releases all waiters and drops every event
// subscription. The session cannot be used afterwards.
func (s *Session) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.started.Store(false)

	s.connMu.Lock()
	t := s.transport
	s.transport = nil
	s.connMu.Unlock()

	s.releasePending(ErrSessionTerminated)
	if t != nil {
		if err := t.Close(); err != nil {
			s.logger.Debug("close transport: %v", err)
		}
	}
	s.events.Clear()
}

func (s *Session) removePending(seq int) {
	s.pendingMu.Lock()
	delete(s.pending, seq)
	s.pendingMu.Unlock()
}

// releasePending fails every waiting request with err.
func (s *Session) releasePending(err error) {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[int]*pendingRequest)
	s.pendingMu.Unlock()

	for _, p := range pending {
		p.complete(nil, err)
	}
}

// receiveLoop reads from t until it fails.
func (s *Session) receiveLoop(t Transport) {
	for {
		msg, err := t.Receive()
		if err != nil {
			s.connMu.Lock()
			current := s.transport == t
			if current {
				s.transport = nil
			}
			s.connMu.Unlock()

			if s.disposed.Load() || !current {
				return
			}

			if errors.Is(err, io.EOF) {
				s.logger.Info("adapter closed the channel")
			} else {
				s.logger.Error("receive: %v", err)
			}
			s.started.Store(false)
			s.releasePending(fmt.Errorf("%w: %v", ErrSessionTerminated, err))
			return
		}

		s.handleMessage(msg)
	}
}

// handleMessage dispatches a received message by its type.
func (s *Session) handleMessage(msg *Message) {
	if !gjson.ValidBytes(msg.Content) {
		s.logger.Warn("dropping malformed message")
		return
	}

	switch kind := gjson.GetBytes(msg.Content, "type").String(); kind {
	case TypeResponse:
		var resp Response
		if err := json.Unmarshal(msg.Content, &resp); err != nil {
			s.logger.Warn("dropping reply: %v", err)
			return
		}
		s.handleResponse(&resp)

	case TypeEvent:
		var evt Event
		if err := json.Unmarshal(msg.Content, &evt); err != nil {
			s.logger.Warn("dropping event: %v", err)
			return
		}
		s.logger.Debug("event %s", evt.Event)
		s.events.Emit(&evt)

	case TypeRequest:
		s.logger.Warn("ignoring reverse request %s", gjson.GetBytes(msg.Content, "command").String())

	default:
		s.logger.Warn("dropping message of type %q", kind)
	}
}

// handleResponse hands resp to the waiter registered under its request_seq.
func (s *Session) handleResponse(resp *Response) {
	s.pendingMu.Lock()
	p, ok := s.pending[resp.RequestSeq]
	if ok {
		delete(s.pending, resp.RequestSeq)
	}
	s.pendingMu.Unlock()

	if !ok {
		s.logger.Warn("dropping reply to unknown request %d (%s)", resp.RequestSeq, resp.Command)
		return
	}
	s.logger.Debug("recv %s request_seq=%d success=%t", resp.Command, resp.RequestSeq, resp.Success)
	p.complete(resp, nil)
}
