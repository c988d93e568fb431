package event

import "fmt"

// PanicHandler is called when a subscriber panics during Emit.
type PanicHandler func(subscriptionID string, recovered any)

// DefaultPanicHandler discards the panic.
func DefaultPanicHandler(string, any) {}

// HandlerPanicError describes a recovered subscriber panic.
type HandlerPanicError struct {
	// SubscriptionID is the ID of the subscription whose handler panicked.
	SubscriptionID string

	// Value is the recovered value.
	Value any
}

// Error implements the error interface.
func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler for subscription %s panicked: %v", e.SubscriptionID, e.Value)
}
