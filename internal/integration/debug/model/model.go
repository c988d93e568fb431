// Package model holds the debugger state derived from adapter traffic:
// breakpoints, the callstack, scopes and variables, the opened source and
// the set of stopped threads. Every sub-model announces changes through
// event signals; handlers run after the model's lock is released.
package model

import (
	"slices"
	"sort"
	"sync"

	"github.com/dshills/kdbg/internal/event"
)

// Model aggregates the sub-models of one debugger.
type Model struct {
	Breakpoints *Breakpoints
	Callstack   *Callstack
	Variables   *Variables
	Sources     *Sources

	mu             sync.RWMutex
	stoppedThreads map[int]struct{}
	currentThread  int
	richRendering  bool
	copyToGlobals  bool

	stoppedThreadsChanged event.Signal[[]int]
	currentThreadChanged  event.Signal[int]
}

// New creates an empty model.
func New() *Model {
	return &Model{
		Breakpoints:    NewBreakpoints(),
		Callstack:      NewCallstack(),
		Variables:      NewVariables(),
		Sources:        NewSources(),
		stoppedThreads: make(map[int]struct{}),
	}
}

// StoppedThreads returns the stopped thread ids in ascending order.
func (m *Model) StoppedThreads() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stoppedLocked()
}

// HasStoppedThreads reports whether any thread is stopped.
func (m *Model) HasStoppedThreads() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.stoppedThreads) > 0
}

// IsStopped reports whether id is in the stopped set.
func (m *Model) IsStopped(id int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.stoppedThreads[id]
	return ok
}

// SetStoppedThreads replaces the stopped set. A current thread that is no
// longer stopped falls back to the lowest stopped id.
func (m *Model) SetStoppedThreads(ids []int) {
	m.mu.Lock()
	m.stoppedThreads = make(map[int]struct{}, len(ids))
	for _, id := range ids {
		m.stoppedThreads[id] = struct{}{}
	}
	if _, ok := m.stoppedThreads[m.currentThread]; !ok && len(ids) > 0 {
		m.currentThread = m.lowestLocked()
	}
	m.mu.Unlock()

	m.notifyThreads()
}

// AddStoppedThread marks id stopped and makes it the current thread.
func (m *Model) AddStoppedThread(id int) {
	m.mu.Lock()
	m.stoppedThreads[id] = struct{}{}
	m.currentThread = id
	m.mu.Unlock()

	m.notifyThreads()
}

// RemoveStoppedThread removes id from the stopped set. When id was the
// current thread the lowest remaining stopped thread takes its place.
func (m *Model) RemoveStoppedThread(id int) {
	m.mu.Lock()
	delete(m.stoppedThreads, id)
	if m.currentThread == id && len(m.stoppedThreads) > 0 {
		m.currentThread = m.lowestLocked()
	}
	m.mu.Unlock()

	m.notifyThreads()
}

// CurrentThread returns the thread that step and continue verbs target,
// 0 when none is known.
func (m *Model) CurrentThread() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentThread
}

// SetCurrentThread sets the targeted thread.
func (m *Model) SetCurrentThread(id int) {
	m.mu.Lock()
	changed := m.currentThread != id
	m.currentThread = id
	m.mu.Unlock()

	if changed {
		m.currentThreadChanged.Emit(id)
	}
}

// SetSupports records the optional kernel features reported at restore.
func (m *Model) SetSupports(richRendering, copyToGlobals bool) {
	m.mu.Lock()
	m.richRendering = richRendering
	m.copyToGlobals = copyToGlobals
	m.mu.Unlock()
}

// SupportsRichRendering reports whether the kernel renders variables richly.
func (m *Model) SupportsRichRendering() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.richRendering
}

// SupportsCopyToGlobals reports whether the kernel accepts copyToGlobals.
func (m *Model) SupportsCopyToGlobals() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copyToGlobals
}

// ClearExecution forgets stopped threads, frames and scopes. Breakpoints
// and the opened source are kept.
func (m *Model) ClearExecution() {
	m.mu.Lock()
	m.stoppedThreads = make(map[int]struct{})
	m.currentThread = 0
	m.mu.Unlock()

	m.notifyThreads()
	m.Callstack.SetFrames(nil)
	m.Variables.Clear()
}

// Clear resets the whole model, breakpoints included.
func (m *Model) Clear() {
	m.ClearExecution()
	m.Breakpoints.RestoreBreakpoints(nil)
	m.Sources.Reset()
}

// StoppedThreadsChanged fires whenever the stopped set may have changed.
func (m *Model) StoppedThreadsChanged() *event.Signal[[]int] { return &m.stoppedThreadsChanged }

// CurrentThreadChanged fires when SetCurrentThread changes the target.
func (m *Model) CurrentThreadChanged() *event.Signal[int] { return &m.currentThreadChanged }

func (m *Model) notifyThreads() {
	m.stoppedThreadsChanged.Emit(m.StoppedThreads())
}

func (m *Model) stoppedLocked() []int {
	ids := make([]int, 0, len(m.stoppedThreads))
	for id := range m.stoppedThreads {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Model) lowestLocked() int {
	ids := m.stoppedLocked()
	if len(ids) == 0 {
		return 0
	}
	return slices.Min(ids)
}
