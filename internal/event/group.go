package event

import "sync"

// Group collects subscriptions that share a lifetime.
type Group struct {
	mu   sync.Mutex
	subs []Subscription
}

// Add appends subscriptions to the group.
func (g *Group) Add(subs ...Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

// Len returns the number of subscriptions held.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Empty reports whether the group holds no subscriptions.
func (g *Group) Empty() bool {
	return g.Len() == 0
}

// Cancel cancels and forgets every subscription in the group.
func (g *Group) Cancel() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}
