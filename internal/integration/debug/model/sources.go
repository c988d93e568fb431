package model

import (
	"sync"

	"github.com/dshills/kdbg/internal/event"
)

// Source is a unit of code the adapter can show and set breakpoints in.
type Source struct {
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Sources tracks the most recently opened source, independent of the
// callstack.
type Sources struct {
	mu      sync.RWMutex
	current *Source

	opened event.Signal[Source]
}

// NewSources creates an empty sources model.
func NewSources() *Sources {
	return &Sources{}
}

// Open makes src the current source.
func (s *Sources) Open(src Source) {
	s.mu.Lock()
	s.current = &src
	s.mu.Unlock()

	s.opened.Emit(src)
}

// Current returns the most recently opened source.
func (s *Sources) Current() (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Source{}, false
	}
	return *s.current, true
}

// Reset forgets the current source without notifying.
func (s *Sources) Reset() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

// CurrentSourceOpened fires on Open.
func (s *Sources) CurrentSourceOpened() *event.Signal[Source] { return &s.opened }
