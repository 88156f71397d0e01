// Package switchyard routes bot updates to handlers.
//
// Filter queries such as "message:entities:url" compile to predicates
// (package 'filter'), and middleware composes into chains, branches,
// forks, and error boundaries (package 'core').  Package 'bot' runs
// the middleware over updates from the couplings in package 'sio',
// and package 'routes' compiles declarative route specs.  The
// command-line tool is in `cmd/switchyard`.
package switchyard
