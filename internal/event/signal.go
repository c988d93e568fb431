package event

import "sync"

// Signal broadcasts values of type T to its subscribers.
// The zero value is ready to use.
type Signal[T any] struct {
	mu           sync.Mutex
	subs         []*subscription[T]
	panicHandler PanicHandler
}

// Subscribe registers handler and returns its subscription handle.
// A nil handler yields an already-cancelled subscription.
func (s *Signal[T]) Subscribe(handler func(T), opts ...SubscriptionOption[T]) Subscription {
	sub := newSubscription(handler, s.remove, opts...)
	if handler == nil {
		sub.state.Store(int32(SubscriptionStateCancelled))
		return sub
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// Emit delivers v to every active subscriber. Handlers run outside the
// signal's lock, so a handler may subscribe, cancel or emit again.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	subs := s.subs
	ph := s.panicHandler
	s.mu.Unlock()

	for _, sub := range subs {
		if !sub.shouldDeliver(v) {
			continue
		}
		if sub.config.Once {
			if !sub.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStateCancelled)) {
				continue
			}
			s.remove(sub.id)
		}
		s.deliver(sub, v, ph)
	}
}

func (s *Signal[T]) deliver(sub *subscription[T], v T, ph PanicHandler) {
	defer func() {
		if r := recover(); r != nil {
			if ph == nil {
				ph = DefaultPanicHandler
			}
			ph(sub.id, r)
		}
	}()
	sub.handler(v)
}

// SetPanicHandler installs the function called when a subscriber panics.
func (s *Signal[T]) SetPanicHandler(h PanicHandler) {
	s.mu.Lock()
	s.panicHandler = h
	s.mu.Unlock()
}

// Len returns the number of registered subscriptions.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Clear cancels every subscription.
func (s *Signal[T]) Clear() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.state.Store(int32(SubscriptionStateCancelled))
	}
}

// remove drops the subscription with id. The slice is replaced rather than
// edited so an Emit in progress keeps iterating its own snapshot.
func (s *Signal[T]) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subs {
		if sub.id == id {
			next := make([]*subscription[T], 0, len(s.subs)-1)
			next = append(next, s.subs[:i]...)
			next = append(next, s.subs[i+1:]...)
			s.subs = next
			return
		}
	}
}
