package mcpserver

import (
	"github.com/dshills/kdbg/internal/integration/debug/model"
)

type statusView struct {
	SessionID      string       `json:"session_id,omitempty"`
	Started        bool         `json:"started"`
	StoppedThreads []int        `json:"stopped_threads"`
	CurrentThread  int          `json:"current_thread,omitempty"`
	CurrentFrame   *model.Frame `json:"current_frame,omitempty"`
	Breakpoints    int          `json:"breakpoints"`
	RichRendering  bool         `json:"rich_rendering"`
	CopyToGlobals  bool         `json:"copy_to_globals"`
}

type breakpointsView struct {
	Path        string             `json:"path"`
	Breakpoints []model.Breakpoint `json:"breakpoints"`
}

type stackView struct {
	Thread       int           `json:"thread"`
	CurrentFrame int           `json:"current_frame,omitempty"`
	Frames       []model.Frame `json:"frames"`
}

type variablesView struct {
	Scopes []model.Scope `json:"scopes"`
}

type childrenView struct {
	Reference int              `json:"reference"`
	Variables []model.Variable `json:"variables"`
}

type evaluateView struct {
	Expression         string `json:"expression"`
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference,omitempty"`
}

func (s *Server) status() statusView {
	m := s.svc.Model()
	view := statusView{
		Started:        s.svc.IsStarted(),
		StoppedThreads: nonNil(m.StoppedThreads()),
		CurrentThread:  m.CurrentThread(),
		RichRendering:  m.SupportsRichRendering(),
		CopyToGlobals:  m.SupportsCopyToGlobals(),
	}
	if session := s.svc.Session(); session != nil {
		view.SessionID = session.ID()
	}
	if frame, ok := m.Callstack.CurrentFrame(); ok {
		view.CurrentFrame = &frame
	}
	for _, bps := range m.Breakpoints.All() {
		view.Breakpoints += len(bps)
	}
	return view
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
