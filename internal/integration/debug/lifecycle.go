package debug

import (
	"context"
	"fmt"
	"sort"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/integration/debug/dap"
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

// Start starts the attached session. Calling Start on a started session
// is a caller error; the session itself treats it as a no-op.
func (s *Service) Start(ctx context.Context) error {
	session := s.Session()
	if session == nil {
		return ErrNoSession
	}
	return session.Start(ctx)
}

// Stop stops the attached session and clears the model, breakpoints
// included. Stop requires a started session.
func (s *Service) Stop(ctx context.Context) error {
	session, m := s.current()
	if session == nil {
		return ErrNoSession
	}
	if err := session.Stop(ctx); err != nil {
		return err
	}
	s.clearSignals()
	m.Clear()
	return nil
}

// Restart stops and starts the session, then sends every breakpoint held
// before the restart back to the adapter. The model ends up holding what
// the adapter confirmed.
func (s *Service) Restart(ctx context.Context) error {
	session, m := s.current()
	if session == nil {
		return ErrNoSession
	}

	snapshot := m.Breakpoints.All()

	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	sources := make([]string, 0, len(snapshot))
	for source := range snapshot {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	restored := make(map[string][]model.Breakpoint, len(snapshot))
	for _, source := range sources {
		bps := snapshot[source]
		confirmed, err := session.SetBreakpoints(ctx, source, model.SourceBreakpoints(bps))
		if err != nil {
			s.logger.Warn("restore breakpoints for %s: %v", source, err)
			restored[source] = bps
			continue
		}
		restored[source] = breakpointsFromDAP(source, confirmed)
	}
	m.Breakpoints.RestoreBreakpoints(restored)

	if err := session.ConfigurationDone(ctx); err != nil {
		s.logger.Warn("configuration done after restart: %v", err)
	}
	s.logger.Info("session restarted with breakpoints in %d sources", len(restored))
	return nil
}

// RestoreState adopts the state the kernel reports through debugInfo. The
// code identity provider is configured from the reported hash method. A
// kernel reporting isStarted marks the session started; otherwise the
// session is started when autoStart is set or a thread is already stopped.
// Stopped threads get their frames and scopes fetched right away.
func (s *Service) RestoreState(ctx context.Context, autoStart bool) error {
	session, m := s.current()
	if session == nil {
		return ErrNoSession
	}

	info, err := session.RestoreState(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	if err := s.codeID.Configure(info.HashMethod, info.HashSeed, info.TmpFilePrefix, info.TmpFileSuffix); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	m.SetSupports(info.RichRendering, info.CopyToGlobals)
	m.SetStoppedThreads(info.StoppedThreads)

	if !session.IsStarted() && (autoStart || len(info.StoppedThreads) > 0) {
		if err := session.Start(ctx); err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
	}

	m.Breakpoints.RestoreBreakpoints(breakpointsFromState(info.Breakpoints))

	switch {
	case len(info.StoppedThreads) > 0:
		s.getAllFrames(ctx, session, m)
	case session.IsStarted():
		s.clearSignals()
		m.ClearExecution()
	}

	s.logger.Debug("restored state: started=%t stopped=%v", session.IsStarted(), info.StoppedThreads)
	return nil
}

// breakpointsFromDAP converts the adapter's confirmed breakpoints for source.
func breakpointsFromDAP(source string, bps []godap.Breakpoint) []model.Breakpoint {
	out := make([]model.Breakpoint, 0, len(bps))
	for _, bp := range bps {
		out = append(out, model.BreakpointFromDAP(source, bp))
	}
	return out
}

// breakpointsFromState converts the breakpoints reported by debugInfo. The
// kernel only reports breakpoints it holds, so they count as verified.
func breakpointsFromState(state []dap.SourceBreakpoints) map[string][]model.Breakpoint {
	out := make(map[string][]model.Breakpoint, len(state))
	for _, sb := range state {
		bps := make([]model.Breakpoint, 0, len(sb.Breakpoints))
		for _, bp := range sb.Breakpoints {
			bps = append(bps, model.Breakpoint{
				Line:     bp.Line,
				Column:   bp.Column,
				Active:   true,
				Verified: true,
				Source:   sb.Source,
			})
		}
		out[sb.Source] = bps
	}
	return out
}
