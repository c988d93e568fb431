package event

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// SubscriptionState represents the state of a subscription.
type SubscriptionState int32

const (
	// SubscriptionStateActive means the subscription is receiving events.
	SubscriptionStateActive SubscriptionState = iota

	// SubscriptionStatePaused means the subscription is temporarily not receiving events.
	SubscriptionStatePaused

	// SubscriptionStateCancelled means the subscription has been permanently cancelled.
	SubscriptionStateCancelled
)

// String returns a human-readable state name.
func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionStateActive:
		return "active"
	case SubscriptionStatePaused:
		return "paused"
	case SubscriptionStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Subscription is a handle to a registered handler.
type Subscription interface {
	// ID returns the unique subscription identifier.
	ID() string

	// State returns the current subscription state.
	State() SubscriptionState

	// IsActive returns true if the subscription can receive events.
	IsActive() bool

	// Pause temporarily stops delivery to this subscription.
	Pause()

	// Resume restarts delivery after a pause.
	Resume()

	// Cancel permanently removes the subscription from its signal.
	Cancel()
}

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig[T any] struct {
	// Filter is an optional predicate. Values for which it returns false are
	// not delivered.
	Filter func(T) bool

	// Once cancels the subscription after the first delivered value.
	Once bool
}

// SubscriptionOption configures a subscription.
type SubscriptionOption[T any] func(*SubscriptionConfig[T])

// WithFilter sets a filter predicate.
func WithFilter[T any](f func(T) bool) SubscriptionOption[T] {
	return func(c *SubscriptionConfig[T]) {
		c.Filter = f
	}
}

// WithOnce makes the subscription auto-cancel after its first delivery.
func WithOnce[T any]() SubscriptionOption[T] {
	return func(c *SubscriptionConfig[T]) {
		c.Once = true
	}
}

type subscription[T any] struct {
	id       string
	handler  func(T)
	config   SubscriptionConfig[T]
	state    atomic.Int32
	onCancel func(id string)
}

func newSubscription[T any](handler func(T), onCancel func(string), opts ...SubscriptionOption[T]) *subscription[T] {
	var cfg SubscriptionConfig[T]
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &subscription[T]{
		id:       uuid.NewString(),
		handler:  handler,
		config:   cfg,
		onCancel: onCancel,
	}
	s.state.Store(int32(SubscriptionStateActive))
	return s
}

func (s *subscription[T]) ID() string { return s.id }

func (s *subscription[T]) State() SubscriptionState {
	return SubscriptionState(s.state.Load())
}

func (s *subscription[T]) IsActive() bool {
	return s.State() == SubscriptionStateActive
}

func (s *subscription[T]) Pause() {
	s.state.CompareAndSwap(int32(SubscriptionStateActive), int32(SubscriptionStatePaused))
}

func (s *subscription[T]) Resume() {
	s.state.CompareAndSwap(int32(SubscriptionStatePaused), int32(SubscriptionStateActive))
}

func (s *subscription[T]) Cancel() {
	if SubscriptionState(s.state.Swap(int32(SubscriptionStateCancelled))) == SubscriptionStateCancelled {
		return
	}
	if s.onCancel != nil {
		s.onCancel(s.id)
	}
}

// shouldDeliver reports whether v passes the state and filter checks.
func (s *subscription[T]) shouldDeliver(v T) bool {
	if !s.IsActive() {
		return false
	}
	if s.config.Filter != nil && !s.config.Filter(v) {
		return false
	}
	return true
}
