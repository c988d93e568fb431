package debug

import "errors"

var (
	// ErrNoSession is returned when the service has no session attached.
	ErrNoSession = errors.New("no debug session")

	// ErrNotStarted is returned by operations that need a started session.
	ErrNotStarted = errors.New("debug session not started")

	// ErrNoStoppedThread is returned when an operation needs a stopped thread.
	ErrNoStoppedThread = errors.New("no stopped thread")

	// ErrNoChildren is returned when expanding a variable without children.
	ErrNoChildren = errors.New("variable has no children")

	// ErrDisposed is returned when the service was disposed before an
	// operation could run.
	ErrDisposed = errors.New("debug service disposed")

	// ErrCopyToGlobalsUnsupported is returned when the kernel did not
	// advertise copyToGlobals.
	ErrCopyToGlobalsUnsupported = errors.New("kernel does not support copyToGlobals")
)
