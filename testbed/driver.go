// Package testbed abstracts a "virtual server" -- an isolated execution
// environment reachable through a small set of synchronous verbs: start,
// open, copydown/copyup, execute, check_exec, stop, bomb. The orchestrator
// depends on nothing else about a backend's implementation.
package testbed

import (
	"context"
	"fmt"
)

// Result is the outcome of a single Execute call.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration int64 // milliseconds
}

// Kind selects a log channel for Execute/Bomb, mirroring the "short"
// (brief progress message) and "build" (full transcript) channels of the
// build-visible protocol.
type Kind string

const (
	KindShort Kind = "short"
	KindBuild Kind = "build"
)

// Driver is the opaque facade every backend implements. Open must be
// called after Start and before any other verb; Stop releases whatever
// Start/Open acquired and must be safe to call multiple times.
type Driver interface {
	// Start provisions whatever resources the backend needs (a chroot,
	// a container, a remote connection) but does not yet accept commands.
	Start(ctx context.Context) error

	// Open makes the testbed ready to accept commands and returns the
	// scratch directory inside it that the orchestrator treats as its
	// private root for this run.
	Open(ctx context.Context) (scratch string, err error)

	// Copydown copies src on the host into dst inside the testbed.
	// Both paths must end in a path separator when they denote
	// directories, matching the backend's own copy semantics.
	Copydown(ctx context.Context, src, dst string) error

	// Copyup copies src inside the testbed into dst on the host.
	Copyup(ctx context.Context, src, dst string) error

	// Execute runs argv inside the testbed with the given environment
	// overlay and returns its exit code and captured output. A non-zero
	// exit code is not itself an error: Error is only returned when the
	// backend itself failed to run the command at all.
	Execute(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error)

	// CheckExec is Execute with non-zero exit promoted to an error.
	CheckExec(ctx context.Context, argv []string, env map[string]string, kind Kind) (Result, error)

	// Stop releases all resources acquired by Start/Open. Idempotent.
	Stop(ctx context.Context) error

	// Bomb raises a terminal, backend-reported error not tied to any
	// particular Execute call (for example, a copy that failed).
	Bomb(message string, kind Kind) error
}

// NewDriverFunc constructs a fresh, unstarted Driver for one backend.
type NewDriverFunc func() Driver

var backends = make(map[string]NewDriverFunc)

// Register registers a backend constructor under name. Panics if name is
// already registered, since that is always a programming error (two
// backends, or the same backend twice, fighting over one name).
func Register(name string, fn NewDriverFunc) {
	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("testbed backend already registered: %s", name))
	}
	backends[name] = fn
}

// New constructs the named backend's Driver. Unregistered local backends
// fall through to the subprocess protocol in process.go: looking up an
// executable on PATH named backendPrefix+name.
func New(name string) (Driver, error) {
	if fn, ok := backends[name]; ok {
		return fn(), nil
	}
	d, err := newProcessDriver(name)
	if err != nil {
		return nil, &ErrUnknownBackend{Backend: name, Err: err}
	}
	return d, nil
}

// ErrUnknownBackend is returned when neither a compiled-in backend nor a
// matching virtual-server executable can be found for name.
type ErrUnknownBackend struct {
	Backend string
	Err     error
}

func (e *ErrUnknownBackend) Error() string {
	return fmt.Sprintf("unknown testbed backend %q: %v", e.Backend, e.Err)
}

func (e *ErrUnknownBackend) Unwrap() error { return e.Err }

// Error is the facade-level TestbedError: any non-zero verb from a
// backend, wrapping whatever the backend itself reported.
type Error struct {
	Verb string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("testbed verb %q failed: %v", e.Verb, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BuildFailure reports a build script that exited non-zero inside the
// testbed -- distinct from Error, which means the backend itself
// couldn't run the verb at all.
type BuildFailure struct {
	BuildName string
	ExitCode  int
	Stderr    string
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build %q exited %d", e.BuildName, e.ExitCode)
}
