// Package event provides typed, revocable publish/subscribe signals.
//
// Each model object owns one Signal per notification it emits. Subscribers
// receive a Subscription handle that can be paused, resumed or cancelled, and
// an owner that installs several subscriptions at once collects them in a
// Group so they can be torn down together:
//
//	var changed event.Signal[string]
//
//	sub := changed.Subscribe(func(path string) {
//		fmt.Println("breakpoints changed for", path)
//	})
//	defer sub.Cancel()
//
//	changed.Emit("/tmp/cell.py")
//
// Delivery is synchronous, on the emitting goroutine, in subscription order.
// A handler that panics is recovered and reported to the signal's panic
// handler; the remaining handlers still run.
package event
