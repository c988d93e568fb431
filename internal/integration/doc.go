// Package integration holds the kernel debugger integration and the
// recovery helpers its transports share.
//
// The debugger itself lives in the subpackages:
//
//   - debug/dap: wire layer, transports and the Session
//   - debug/adapters: transport selection from configuration
//   - debug/codeid: code identity hashing
//   - debug/model: breakpoints, call stack, variables and sources
//   - debug: the Service tying a Session to a Model
//
// This package provides Retry for operations that fail while a kernel is
// still coming up, such as dialing its control channel.
package integration
