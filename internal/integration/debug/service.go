package debug

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dshills/kdbg/internal/event"
	"github.com/dshills/kdbg/internal/integration/debug/codeid"
	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/model"
	"github.com/dshills/kdbg/internal/logging"
)

// Config configures a Service.
type Config struct {
	// RegisterCommand is the request that registers a code fragment and
	// returns its source path: dap.CommandDumpCell or dap.CommandUpdateCell.
	RegisterCommand string

	// FetchScopesIndependently fetches every scope's own variables. When
	// false, every scope shows the variables of the first scope.
	FetchScopesIndependently bool
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		RegisterCommand:          dap.CommandDumpCell,
		FetchScopesIndependently: true,
	}
}

// Option configures a Service.
type Option func(*Service)

// WithConfig sets the service configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.RegisterCommand == "" {
			cfg.RegisterCommand = dap.CommandDumpCell
		}
		s.config = cfg
	}
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.WithComponent("debugger")
		}
	}
}

// WithSession attaches session at construction.
func WithSession(session *dap.Session) Option {
	return func(s *Service) {
		s.initialSession = session
	}
}

// WithModel replaces the default model.
func WithModel(m *model.Model) Option {
	return func(s *Service) {
		if m != nil {
			s.model = m
		}
	}
}

// Service owns one Session and one Model. It turns adapter events into
// model mutations and exposes the debugging verbs.
//
// Adapter events and model-driven work (frame refresh, expand requests,
// breakpoint clicks) run in order on a single service goroutine. Verbs that
// change the model from a reply (Continue, Evaluate, CopyToGlobals,
// InspectKernelVariables) run there too; the rest run on the caller's
// goroutine.
type Service struct {
	config Config
	logger *logging.Logger
	codeID *codeid.Provider

	mu             sync.RWMutex
	session        *dap.Session
	model          *model.Model
	initialSession *dap.Session
	sessionSub     event.Subscription

	// modelSubs live as long as the model is attached; frameSubs only
	// while a thread is stopped.
	modelSubs event.Group
	frameSubs event.Group
	watchMu   sync.Mutex

	// refreshGen orders scope refreshes; only the latest one is applied.
	refreshGen atomic.Uint64

	queue  *taskQueue
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	disposed atomic.Bool

	sessionChanged event.Signal[*dap.Session]
	modelChanged   event.Signal[*model.Model]
	eventMessage   event.Signal[*dap.Event]
}

// NewService creates a service and starts its event goroutine.
func NewService(opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		config: DefaultConfig(),
		logger: logging.NullLogger,
		codeID: codeid.New(),
		model:  model.New(),
		queue:  newTaskQueue(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	panicHandler := func(id string, r any) {
		s.logger.Error("subscriber %s panicked: %v", id, r)
	}
	s.sessionChanged.SetPanicHandler(panicHandler)
	s.modelChanged.SetPanicHandler(panicHandler)
	s.eventMessage.SetPanicHandler(panicHandler)

	s.watchModel(s.model)
	if s.initialSession != nil {
		s.attachSession(s.initialSession)
		s.initialSession = nil
	}

	go func() {
		defer close(s.done)
		s.queue.run(ctx)
	}()
	return s
}

// Session returns the attached session, or nil.
func (s *Service) Session() *dap.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// SetSession replaces the session. The previous session is disposed before
// the new one is accepted.
func (s *Service) SetSession(session *dap.Session) {
	s.mu.RLock()
	same := s.session == session
	s.mu.RUnlock()
	if same {
		return
	}

	s.attachSession(session)
	s.sessionChanged.Emit(session)
}

func (s *Service) attachSession(session *dap.Session) {
	s.mu.Lock()
	prev := s.session
	prevSub := s.sessionSub
	s.session = session
	s.sessionSub = nil
	if session != nil {
		s.sessionSub = session.Events().Subscribe(func(evt *dap.Event) {
			s.queue.push(func(ctx context.Context) { s.handleEvent(ctx, session, evt) })
		})
	}
	s.mu.Unlock()

	if prevSub != nil {
		prevSub.Cancel()
	}
	if prev != nil {
		prev.Dispose()
	}
}

// Model returns the attached model.
func (s *Service) Model() *model.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SetModel replaces the model and notifies ModelChanged subscribers so
// they can resubscribe. Subscriptions the service held on the previous
// model are cancelled.
func (s *Service) SetModel(m *model.Model) {
	if m == nil {
		m = model.New()
	}

	s.mu.Lock()
	if s.model == m {
		s.mu.Unlock()
		return
	}
	s.model = m
	s.mu.Unlock()

	s.refreshGen.Add(1)
	s.frameSubs.Cancel()
	s.modelSubs.Cancel()
	s.watchModel(m)

	s.modelChanged.Emit(m)
}

// watchModel subscribes to the model signals the service always handles.
func (s *Service) watchModel(m *model.Model) {
	s.modelSubs.Add(
		m.Breakpoints.Clicked().Subscribe(func(bp model.Breakpoint) {
			s.queue.push(func(ctx context.Context) { s.onBreakpointClicked(ctx, bp) })
		}),
	)
}

// current returns the attached session and model together.
func (s *Service) current() (*dap.Session, *model.Model) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.model
}

// IsStarted reports whether the attached session is started.
func (s *Service) IsStarted() bool {
	session := s.Session()
	return session != nil && session.IsStarted()
}

// HasStoppedThreads reports whether any thread is stopped.
func (s *Service) HasStoppedThreads() bool {
	return s.Model().HasStoppedThreads()
}

// CodeID returns the synthetic source path of a code fragment.
func (s *Service) CodeID(code string) string {
	return s.codeID.CodeID(code)
}

// SessionChanged fires after SetSession.
func (s *Service) SessionChanged() *event.Signal[*dap.Session] { return &s.sessionChanged }

// ModelChanged fires after SetModel.
func (s *Service) ModelChanged() *event.Signal[*model.Model] { return &s.modelChanged }

// EventMessage fires for every adapter event once the service has applied
// it to the model.
func (s *Service) EventMessage() *event.Signal[*dap.Event] { return &s.eventMessage }

// Dispose stops the event goroutine, disposes the session and drops every
// subscription. It is safe to call more than once.
func (s *Service) Dispose() {
	if s.disposed.Swap(true) {
		return
	}
	s.cancel()
	<-s.done

	s.frameSubs.Cancel()
	s.modelSubs.Cancel()
	s.attachSession(nil)

	s.sessionChanged.Clear()
	s.modelChanged.Clear()
	s.eventMessage.Clear()
}
