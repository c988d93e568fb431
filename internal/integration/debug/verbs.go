package debug

import (
	"context"
	"fmt"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

// The execution verbs below log failures instead of returning them. The
// stopped-thread set is what callers observe: a failed step leaves it
// unchanged.

// Continue resumes the current thread. The thread leaves the stopped set
// as soon as the adapter accepts the request; a stopped event sent after
// the reply is applied on top of that.
func (s *Service) Continue(ctx context.Context) {
	err := s.do(ctx, func(ctx context.Context) {
		session, m, threadID, ok := s.threadTarget(dap.CommandContinue)
		if !ok {
			return
		}
		if err := session.Continue(ctx, threadID); err != nil {
			s.logger.Error("continue thread %d: %v", threadID, err)
			return
		}
		m.RemoveStoppedThread(threadID)
		s.clearFrames(m)
	})
	if err != nil {
		s.logger.Error("continue: %v", err)
	}
}

// Next steps over the current line of the current thread.
func (s *Service) Next(ctx context.Context) {
	session, _, threadID, ok := s.threadTarget(dap.CommandNext)
	if !ok {
		return
	}
	if err := session.Next(ctx, threadID); err != nil {
		s.logger.Error("next thread %d: %v", threadID, err)
	}
}

// StepIn steps into the call on the current line of the current thread.
func (s *Service) StepIn(ctx context.Context) {
	session, _, threadID, ok := s.threadTarget(dap.CommandStepIn)
	if !ok {
		return
	}
	if err := session.StepIn(ctx, threadID); err != nil {
		s.logger.Error("step in thread %d: %v", threadID, err)
	}
}

// StepOut runs the current thread until its function returns.
func (s *Service) StepOut(ctx context.Context) {
	session, _, threadID, ok := s.threadTarget(dap.CommandStepOut)
	if !ok {
		return
	}
	if err := session.StepOut(ctx, threadID); err != nil {
		s.logger.Error("step out thread %d: %v", threadID, err)
	}
}

// Pause suspends the current thread.
func (s *Service) Pause(ctx context.Context) {
	session, _, threadID, ok := s.threadTarget(dap.CommandPause)
	if !ok {
		return
	}
	if err := session.Pause(ctx, threadID); err != nil {
		s.logger.Error("pause thread %d: %v", threadID, err)
	}
}

// threadTarget resolves the session and the thread a verb applies to.
func (s *Service) threadTarget(verb string) (*dap.Session, *model.Model, int, bool) {
	session, m := s.current()
	if session == nil {
		s.logger.Error("%s: %v", verb, ErrNoSession)
		return nil, nil, 0, false
	}
	threadID := m.CurrentThread()
	if threadID == 0 {
		s.logger.Error("%s: %v", verb, ErrNoStoppedThread)
		return nil, nil, 0, false
	}
	return session, m, threadID, true
}

// UpdateBreakpoints sets the breakpoints of a source and returns its path.
// When path is empty, code is registered first and the adapter-assigned
// path is used. The model keeps what the adapter confirmed, one breakpoint
// per line. The call ends with configurationDone.
func (s *Service) UpdateBreakpoints(ctx context.Context, code string, bps []model.Breakpoint, path string) (string, error) {
	session, m := s.current()
	if session == nil {
		return "", ErrNoSession
	}
	if !session.IsStarted() {
		return "", ErrNotStarted
	}

	if path == "" {
		var err error
		path, err = session.RegisterCode(ctx, s.config.RegisterCommand, code)
		if err != nil {
			return "", fmt.Errorf("register code: %w", err)
		}
	}

	// Pick up breakpoints other clients set since the last sync.
	if info, err := session.DebugInfo(ctx); err != nil {
		s.logger.Warn("refresh breakpoints: %v", err)
	} else {
		m.Breakpoints.RestoreBreakpoints(breakpointsFromState(info.Breakpoints))
	}

	confirmed, err := session.SetBreakpoints(ctx, path, model.SourceBreakpoints(bps))
	if err != nil {
		return "", fmt.Errorf("set breakpoints: %w", err)
	}
	m.Breakpoints.SetBreakpoints(path, breakpointsFromDAP(path, confirmed))

	if err := session.ConfigurationDone(ctx); err != nil {
		return path, fmt.Errorf("configuration done: %w", err)
	}
	return path, nil
}

// ClearBreakpoints removes every breakpoint from the adapter and the model.
func (s *Service) ClearBreakpoints(ctx context.Context) error {
	session, m := s.current()
	if session == nil {
		return ErrNoSession
	}
	if !session.IsStarted() {
		return ErrNotStarted
	}

	for _, source := range m.Breakpoints.Sources() {
		if _, err := session.SetBreakpoints(ctx, source, nil); err != nil {
			s.logger.Warn("clear breakpoints for %s: %v", source, err)
		}
	}
	m.Breakpoints.RestoreBreakpoints(nil)
	return nil
}

// GetSource fetches the content of the source at path.
func (s *Service) GetSource(ctx context.Context, path string) (model.Source, error) {
	session := s.Session()
	if session == nil {
		return model.Source{}, ErrNoSession
	}
	body, err := session.Source(ctx, path)
	if err != nil {
		return model.Source{}, fmt.Errorf("source %s: %w", path, err)
	}
	return model.Source{Path: path, Content: body.Content, MimeType: body.MimeType}, nil
}

// OpenSource fetches the source at path and makes it the current source.
func (s *Service) OpenSource(ctx context.Context, path string) error {
	src, err := s.GetSource(ctx, path)
	if err != nil {
		return err
	}
	s.Model().Sources.Open(src)
	return nil
}

// InspectVariable fetches the children behind ref without touching the
// model.
func (s *Service) InspectVariable(ctx context.Context, ref int) ([]model.Variable, error) {
	session := s.Session()
	if session == nil {
		return nil, ErrNoSession
	}
	if ref <= 0 {
		return nil, ErrNoChildren
	}
	vars, err := session.Variables(ctx, ref)
	if err != nil {
		return nil, err
	}
	return model.VariablesFromDAP(vars), nil
}

// ExpandVariable fetches the children behind ref and stores them in the
// model, marking the variables holding ref as expanded.
func (s *Service) ExpandVariable(ctx context.Context, ref int) ([]model.Variable, error) {
	children, err := s.InspectVariable(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !s.Model().Variables.Expand(ref, children) {
		s.logger.Debug("expanded reference %d is not held by any scope", ref)
	}
	return children, nil
}

// Evaluate evaluates expression in the current frame. The raw reply is
// returned so a success=false message reaches the caller. After a
// successful evaluation of a stopped thread the frames are fetched again,
// since the expression may have changed variables.
func (s *Service) Evaluate(ctx context.Context, expression string) (*dap.Response, error) {
	session, _ := s.current()
	if session == nil {
		return nil, ErrNoSession
	}

	var resp *dap.Response
	var err error
	derr := s.do(ctx, func(ctx context.Context) {
		session, m := s.current()
		if session == nil {
			err = ErrNoSession
			return
		}
		frameID := 0
		if frame, ok := m.Callstack.CurrentFrame(); ok {
			frameID = frame.ID
		}

		resp, err = session.Evaluate(ctx, expression, frameID, "repl")
		if err == nil && resp.Success && m.HasStoppedThreads() {
			s.reloadFrames(ctx, session, m)
		}
	})
	if derr != nil {
		return nil, derr
	}
	return resp, err
}

// CopyToGlobals copies name from the current frame into the kernel's
// globals under the same name.
func (s *Service) CopyToGlobals(ctx context.Context, name string) error {
	session, _ := s.current()
	if session == nil {
		return ErrNoSession
	}

	var err error
	derr := s.do(ctx, func(ctx context.Context) {
		session, m := s.current()
		switch {
		case session == nil:
			err = ErrNoSession
			return
		case !m.SupportsCopyToGlobals():
			err = ErrCopyToGlobalsUnsupported
			return
		}
		frame, ok := m.Callstack.CurrentFrame()
		if !ok {
			err = ErrNoStoppedThread
			return
		}

		err = session.CopyToGlobals(ctx, dap.CopyToGlobalsArguments{
			SrcVariableName: name,
			DstVariableName: name,
			SrcFrameID:      frame.ID,
		})
		if err == nil {
			s.reloadFrames(ctx, session, m)
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// InspectKernelVariables lists the kernel's variables. While no thread is
// stopped they are also shown as a single Globals scope.
func (s *Service) InspectKernelVariables(ctx context.Context) ([]model.Variable, error) {
	session, _ := s.current()
	if session == nil {
		return nil, ErrNoSession
	}

	var out []model.Variable
	var err error
	derr := s.do(ctx, func(ctx context.Context) {
		session, m := s.current()
		if session == nil {
			err = ErrNoSession
			return
		}
		var vars []godap.Variable
		vars, err = session.InspectVariables(ctx)
		if err != nil {
			return
		}
		out = model.VariablesFromDAP(vars)
		if !m.HasStoppedThreads() {
			m.Variables.SetScopes([]model.Scope{{Name: "Globals", Variables: out}})
		}
	})
	if derr != nil {
		return nil, derr
	}
	return out, err
}

// reloadFrames drops the current frames and scopes and fetches them again.
func (s *Service) reloadFrames(ctx context.Context, session *dap.Session, m *model.Model) {
	s.clearFrames(m)
	s.getAllFrames(ctx, session, m)
}
