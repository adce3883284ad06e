// Package containerrt abstracts the isolation boundary the edit and
// competition phases run inside: one polymorphic interface with a docker
// backend (wraps the external CLI) and a host backend (a temp-directory
// stand-in used by tests and non-sandboxed runs).
package containerrt

import (
	"context"
	"fmt"
)

// Handle opaquely identifies a created container. Backends give it whatever
// shape they need; callers never inspect it.
type Handle interface {
	String() string
}

// ExecResult is the captured outcome of one exec call.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Mount is a host path bind-mounted at a container path at create time.
type Mount struct {
	HostPath      string
	ContainerPath string
}

// CreateSpec describes a container to create.
type CreateSpec struct {
	Image   string
	WorkDir string
	Env     map[string]string
	Mounts  []Mount
}

// Runtime is the polymorphic container interface per the isolation
// contract: create, exec, copy-to, copy-from, remove.
type Runtime interface {
	Create(ctx context.Context, spec CreateSpec) (Handle, error)
	Exec(ctx context.Context, h Handle, argv []string, cwd string, env map[string]string) (ExecResult, error)
	CopyTo(ctx context.Context, h Handle, hostPath, containerPath string) error
	CopyFrom(ctx context.Context, h Handle, containerPath, hostPath string) error
	Remove(ctx context.Context, h Handle) error
}

// ExitError is returned by Exec callers that choose to turn a non-zero exit
// into an error; every backend's exec still returns the raw ExecResult, so
// wrapping is left to the caller, who knows which errkind.Kind applies.
type ExitError struct {
	Argv   []string
	Result ExecResult
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %v exited %d: %s", e.Argv, e.Result.ExitCode, e.Result.Stderr)
}

// AsError turns a non-zero exit into an *ExitError, or nil if res succeeded.
func AsError(argv []string, res ExecResult) error {
	if res.ExitCode == 0 {
		return nil
	}
	return &ExitError{Argv: argv, Result: res}
}
