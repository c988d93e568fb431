package model

import (
	"slices"
	"sync"

	godap "github.com/google/go-dap"

	"github.com/dshills/kdbg/internal/event"
)

// Frame is one stack entry of a stopped thread.
type Frame struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Source *Source `json:"source,omitempty"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
}

// FrameFromDAP converts a protocol stack frame.
func FrameFromDAP(f godap.StackFrame) Frame {
	frame := Frame{
		ID:     f.Id,
		Name:   f.Name,
		Line:   f.Line,
		Column: f.Column,
	}
	if f.Source != nil {
		frame.Source = &Source{Path: f.Source.Path}
	}
	return frame
}

// FramesFromDAP converts a protocol stack trace.
func FramesFromDAP(frames []godap.StackFrame) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		out = append(out, FrameFromDAP(f))
	}
	return out
}

// Callstack holds the current thread's frames and the selected frame.
type Callstack struct {
	mu      sync.RWMutex
	frames  []Frame
	current int // index into frames, -1 for none

	framesChanged       event.Signal[[]Frame]
	currentFrameChanged event.Signal[*Frame]
}

// NewCallstack creates an empty callstack.
func NewCallstack() *Callstack {
	return &Callstack{current: -1}
}

// SetFrames replaces the frame list. The topmost frame becomes current.
func (c *Callstack) SetFrames(frames []Frame) {
	stored := slices.Clone(frames)

	c.mu.Lock()
	c.frames = stored
	c.current = -1
	if len(stored) > 0 {
		c.current = 0
	}
	current := c.currentLocked()
	c.mu.Unlock()

	c.framesChanged.Emit(slices.Clone(stored))
	c.currentFrameChanged.Emit(current)
}

// Frames returns the current frame list.
func (c *Callstack) Frames() []Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.frames)
}

// SetCurrentFrame selects the frame with id. It returns false when no such
// frame is held.
func (c *Callstack) SetCurrentFrame(id int) bool {
	c.mu.Lock()
	idx := slices.IndexFunc(c.frames, func(f Frame) bool { return f.ID == id })
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.current = idx
	current := c.currentLocked()
	c.mu.Unlock()

	c.currentFrameChanged.Emit(current)
	return true
}

// CurrentFrame returns the selected frame.
func (c *Callstack) CurrentFrame() (Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current < 0 {
		return Frame{}, false
	}
	return c.frames[c.current], true
}

func (c *Callstack) currentLocked() *Frame {
	if c.current < 0 {
		return nil
	}
	f := c.frames[c.current]
	return &f
}

// FramesChanged fires after SetFrames.
func (c *Callstack) FramesChanged() *event.Signal[[]Frame] { return &c.framesChanged }

// CurrentFrameChanged fires whenever the selected frame is set, with nil
// when the frame list is empty.
func (c *Callstack) CurrentFrameChanged() *event.Signal[*Frame] { return &c.currentFrameChanged }
