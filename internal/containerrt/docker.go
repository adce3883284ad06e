package containerrt

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/uuid"
)

// dockerHandle names a running container by the solclash-<uuid> name
// assigned to it at create time.
type dockerHandle string

func (h dockerHandle) String() string { return string(h) }

// Docker wraps the external `docker` CLI, per the isolation contract's
// explicit choice of shelling out over linking a client library.
type Docker struct {
	binary string // "docker" unless overridden, e.g. for podman-compatible CLIs in tests
}

// NewDocker returns a Docker backend invoking binary (defaults to "docker").
func NewDocker(binary string) *Docker {
	if binary == "" {
		binary = "docker"
	}
	return &Docker{binary: binary}
}

func (d *Docker) run(ctx context.Context, args ...string) (ExecResult, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("containerrt: docker %s: %w", args[0], err)
	}
	return res, nil
}

func (d *Docker) Create(ctx context.Context, spec CreateSpec) (Handle, error) {
	name := "solclash-" + uuid.NewString()
	args := []string{"create", "--name", name}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	for k, v := range spec.Env {
		args = append(args, "-e", k+"="+v)
	}
	for _, m := range spec.Mounts {
		args = append(args, "-v", m.HostPath+":"+m.ContainerPath)
	}
	args = append(args, spec.Image, "sleep", "infinity")

	res, err := d.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, AsError(args, res)
	}
	if err := d.startAndWait(ctx, name); err != nil {
		return nil, err
	}
	return dockerHandle(name), nil
}

func (d *Docker) startAndWait(ctx context.Context, name string) error {
	args := []string{"start", name}
	res, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return AsError(args, res)
	}
	return nil
}

func (d *Docker) Exec(ctx context.Context, h Handle, argv []string, cwd string, env map[string]string) (ExecResult, error) {
	args := []string{"exec"}
	if cwd != "" {
		args = append(args, "-w", cwd)
	}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, h.String())
	args = append(args, argv...)
	return d.run(ctx, args...)
}

func (d *Docker) CopyTo(ctx context.Context, h Handle, hostPath, containerPath string) error {
	args := []string{"cp", hostPath, h.String() + ":" + containerPath}
	res, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	return AsError(args, res)
}

func (d *Docker) CopyFrom(ctx context.Context, h Handle, containerPath, hostPath string) error {
	args := []string{"cp", h.String() + ":" + containerPath, hostPath}
	res, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	return AsError(args, res)
}

func (d *Docker) Remove(ctx context.Context, h Handle) error {
	args := []string{"rm", "-f", h.String()}
	res, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	return AsError(args, res)
}
