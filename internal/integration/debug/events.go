package debug

import (
	"context"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

// handleEvent applies one adapter event to the model. It runs on the
// service goroutine.
func (s *Service) handleEvent(ctx context.Context, session *dap.Session, evt *dap.Event) {
	current, m := s.current()
	if current != session {
		s.logger.Debug("dropping %s event from detached session", evt.Event)
		return
	}
	s.logger.Debug("event %s", evt.Event)

	switch evt.Event {
	case dap.EventStopped:
		var body godap.StoppedEventBody
		if err := evt.DecodeBody(&body); err != nil {
			s.logger.Warn("stopped event: %v", err)
			break
		}
		m.AddStoppedThread(body.ThreadId)
		s.getAllFrames(ctx, session, m)

	case dap.EventContinued:
		var body godap.ContinuedEventBody
		if err := evt.DecodeBody(&body); err != nil {
			s.logger.Warn("continued event: %v", err)
			break
		}
		m.RemoveStoppedThread(body.ThreadId)
		s.clearFrames(m)

	case dap.EventThread:
		var body godap.ThreadEventBody
		if err := evt.DecodeBody(&body); err != nil {
			s.logger.Warn("thread event: %v", err)
			break
		}
		switch body.Reason {
		case "started":
			if m.CurrentThread() == 0 {
				m.SetCurrentThread(body.ThreadId)
			}
		case "exited":
			m.RemoveStoppedThread(body.ThreadId)
		}

	case dap.EventExited, dap.EventTerminated:
		s.clearSignals()
		m.ClearExecution()
	}

	s.eventMessage.Emit(evt)
}

// getAllFrames fetches the current thread's stack and replaces the
// callstack, which starts the scope refresh for the top frame.
func (s *Service) getAllFrames(ctx context.Context, session *dap.Session, m *model.Model) {
	s.watchFrames(m)

	threadID := m.CurrentThread()
	frames, err := session.StackTrace(ctx, threadID)
	if err != nil {
		s.logger.Error("stack trace for thread %d: %v", threadID, err)
		return
	}
	m.Callstack.SetFrames(model.FramesFromDAP(frames))
}

// watchFrames subscribes to the frame and expansion signals until the next
// clearSignals.
func (s *Service) watchFrames(m *model.Model) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if !s.frameSubs.Empty() {
		return
	}

	s.frameSubs.Add(
		m.Callstack.CurrentFrameChanged().Subscribe(s.onCurrentFrameChanged),
		m.Variables.ExpandRequested().Subscribe(func(v model.Variable) {
			s.queue.push(func(ctx context.Context) { s.onExpandRequested(ctx, v) })
		}),
	)
}

// clearSignals drops the frame subscriptions and invalidates every scope
// refresh still in flight.
func (s *Service) clearSignals() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.refreshGen.Add(1)
	s.frameSubs.Cancel()
}

// clearFrames empties the callstack and scopes and stops listening to them.
func (s *Service) clearFrames(m *model.Model) {
	s.clearSignals()
	m.Callstack.SetFrames(nil)
	m.Variables.Clear()
}

func (s *Service) onCurrentFrameChanged(frame *model.Frame) {
	gen := s.refreshGen.Add(1)
	if frame == nil {
		return
	}
	f := *frame
	s.queue.push(func(ctx context.Context) { s.refreshScopes(ctx, gen, f) })
}

// refreshScopes fetches the scopes of frame and their variables. Results
// are dropped when a newer refresh or a clear happened meanwhile.
func (s *Service) refreshScopes(ctx context.Context, gen uint64, frame model.Frame) {
	if s.refreshGen.Load() != gen {
		return
	}
	session, m := s.current()
	if session == nil {
		return
	}

	scopes, err := session.Scopes(ctx, frame.ID)
	if err != nil {
		s.logger.Error("scopes for frame %d: %v", frame.ID, err)
		return
	}

	built := make([]model.Scope, 0, len(scopes))
	var shared []model.Variable
	for i, scope := range scopes {
		var vars []model.Variable
		if i == 0 || s.config.FetchScopesIndependently {
			vars = s.fetchVariables(ctx, session, scope.VariablesReference)
			if i == 0 {
				shared = vars
			}
		} else {
			vars = shared
		}
		built = append(built, model.Scope{
			Name:               scope.Name,
			VariablesReference: scope.VariablesReference,
			Variables:          vars,
		})
	}

	if s.refreshGen.Load() != gen {
		s.logger.Debug("discarding stale scopes for frame %d", frame.ID)
		return
	}
	m.Variables.SetScopes(built)
}

func (s *Service) fetchVariables(ctx context.Context, session *dap.Session, ref int) []model.Variable {
	if ref <= 0 {
		return nil
	}
	vars, err := session.Variables(ctx, ref)
	if err != nil {
		s.logger.Error("variables for reference %d: %v", ref, err)
		return nil
	}
	return model.VariablesFromDAP(vars)
}

func (s *Service) onExpandRequested(ctx context.Context, v model.Variable) {
	if _, err := s.ExpandVariable(ctx, v.VariablesReference); err != nil {
		s.logger.Error("expand %s: %v", v.Name, err)
	}
}

func (s *Service) onBreakpointClicked(ctx context.Context, bp model.Breakpoint) {
	if bp.Source == "" {
		return
	}
	if err := s.OpenSource(ctx, bp.Source); err != nil {
		s.logger.Error("open %s: %v", bp.Source, err)
	}
}
