package model

import (
	"slices"
	"sort"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/event"
)

// Breakpoint is a line breakpoint in one source.
type Breakpoint struct {
	// ID is the adapter's identifier, 0 when it did not assign one.
	ID int `json:"id,omitempty"`

	// Line is the 1-based line number.
	Line int `json:"line"`

	// Column is the optional 1-based column.
	Column int `json:"column,omitempty"`

	// Active is false for breakpoints the user disabled locally.
	Active bool `json:"active"`

	// Verified is set when the adapter confirmed the breakpoint.
	Verified bool `json:"verified"`

	// Message is the adapter's explanation for an unverified breakpoint.
	Message string `json:"message,omitempty"`

	// Source is the path of the source the breakpoint belongs to.
	Source string `json:"source"`
}

// BreakpointFromDAP converts an adapter-confirmed breakpoint. fallback is
// used as the source path when the adapter did not echo one.
func BreakpointFromDAP(fallback string, bp godap.Breakpoint) Breakpoint {
	source := fallback
	if bp.Source != nil && bp.Source.Path != "" {
		source = bp.Source.Path
	}
	return Breakpoint{
		ID:       bp.Id,
		Line:     bp.Line,
		Column:   bp.Column,
		Active:   true,
		Verified: bp.Verified,
		Message:  bp.Message,
		Source:   source,
	}
}

// SourceBreakpoint returns the request form of b.
func (b Breakpoint) SourceBreakpoint() godap.SourceBreakpoint {
	return godap.SourceBreakpoint{Line: b.Line, Column: b.Column}
}

// SourceBreakpoints converts bps to their request form.
func SourceBreakpoints(bps []Breakpoint) []godap.SourceBreakpoint {
	out := make([]godap.SourceBreakpoint, 0, len(bps))
	for _, bp := range bps {
		out = append(out, bp.SourceBreakpoint())
	}
	return out
}

// Dedup keeps the first breakpoint on each line, preserving order.
func Dedup(bps []Breakpoint) []Breakpoint {
	seen := make(map[int]struct{}, len(bps))
	out := make([]Breakpoint, 0, len(bps))
	for _, bp := range bps {
		if _, dup := seen[bp.Line]; dup {
			continue
		}
		seen[bp.Line] = struct{}{}
		out = append(out, bp)
	}
	return out
}

// BreakpointsChanged is emitted when one source's breakpoints are replaced.
type BreakpointsChanged struct {
	Source      string
	Breakpoints []Breakpoint
}

// Breakpoints holds the breakpoints of every source. Stored lists are
// replaced, never edited, so a returned slice is a stable snapshot.
type Breakpoints struct {
	mu       sync.RWMutex
	bySource map[string][]Breakpoint

	changed  event.Signal[BreakpointsChanged]
	restored event.Signal[map[string][]Breakpoint]
	clicked  event.Signal[Breakpoint]
}

// NewBreakpoints creates an empty breakpoints model.
func NewBreakpoints() *Breakpoints {
	return &Breakpoints{bySource: make(map[string][]Breakpoint)}
}

// SetBreakpoints replaces the breakpoints of source with bps, keeping only
// the first breakpoint per line.
func (b *Breakpoints) SetBreakpoints(source string, bps []Breakpoint) {
	stored := Dedup(bps)

	b.mu.Lock()
	if len(stored) == 0 {
		delete(b.bySource, source)
	} else {
		b.bySource[source] = stored
	}
	b.mu.Unlock()

	b.changed.Emit(BreakpointsChanged{Source: source, Breakpoints: slices.Clone(stored)})
}

// RestoreBreakpoints replaces every source's breakpoints with m. Sources
// absent from m are dropped.
func (b *Breakpoints) RestoreBreakpoints(m map[string][]Breakpoint) {
	next := make(map[string][]Breakpoint, len(m))
	for source, bps := range m {
		if stored := Dedup(bps); len(stored) > 0 {
			next[source] = stored
		}
	}

	b.mu.Lock()
	b.bySource = next
	b.mu.Unlock()

	b.restored.Emit(copyBreakpointMap(next))
}

// Breakpoints returns the breakpoints of source.
func (b *Breakpoints) Breakpoints(source string) []Breakpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.bySource[source])
}

// All returns every source's breakpoints.
func (b *Breakpoints) All() map[string][]Breakpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyBreakpointMap(b.bySource)
}

// Sources returns the paths that have breakpoints, sorted.
func (b *Breakpoints) Sources() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.bySource))
	for source := range b.bySource {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

// Click reports a gutter interaction on bp.
func (b *Breakpoints) Click(bp Breakpoint) {
	b.clicked.Emit(bp)
}

// Changed fires after SetBreakpoints.
func (b *Breakpoints) Changed() *event.Signal[BreakpointsChanged] { return &b.changed }

// Restored fires after RestoreBreakpoints with the new contents.
func (b *Breakpoints) Restored() *event.Signal[map[string][]Breakpoint] { return &b.restored }

// Clicked fires on Click.
func (b *Breakpoints) Clicked() *event.Signal[Breakpoint] { return &b.clicked }

func copyBreakpointMap(m map[string][]Breakpoint) map[string][]Breakpoint {
	out := make(map[string][]Breakpoint, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}
