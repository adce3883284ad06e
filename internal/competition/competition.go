// Package competition runs one round inside a container, for deployments
// that want the arena's own numeric core isolated from the orchestrator
// process. It materializes the arena config and bar tape, copies in each
// agent's workspace, execs the inner arena runner, and reads back the
// round's meta and log artifacts.
package competition

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"solclash/internal/arena"
	"solclash/internal/containerrt"
	"solclash/internal/errkind"
	"solclash/internal/roundexec"
	"solclash/internal/tape"
)

// AgentManifest is one non-builtin agent's entry under /inputs in the
// competition container.
type AgentManifest struct {
	ID       string `json:"id"`
	ArenaID  string `json:"arena_id"`
	Provider string `json:"provider"`
	Workspace string `json:"workspace"`
	Model    string `json:"model,omitempty"`
}

// AgentInput describes one agent entering the competition phase. Builtin
// agents have no host Workspace and are not copied into the container.
type AgentInput struct {
	ID        string
	Provider  string
	Workspace string
	Model     string
}

// Config carries the competition phase's per-round tunables.
type Config struct {
	ArenaImage string
	RunnerPath string // path to the inner arena runner binary inside the image
}

// barsPayload is the wire form written to /inputs/bars.json: the bar tape
// alongside the instrument metadata that accompanied it, so the inner arena
// runner can interpret fixed-point scales the same way the in-process
// runtime does.
type barsPayload struct {
	Instrument tape.Instrument `json:"instrument"`
	Bars       []tape.Bar      `json:"bars"`
}

// Run executes one round inside a fresh container, copies
// /logs/rounds/<round>/. back into outputRoundDir on the host, and returns
// the round's meta as written by the inner runner.
func Run(ctx context.Context, rt containerrt.Runtime, cfg Config, arenaCfg arena.Config, instrument tape.Instrument, bars []tape.Bar, round int, agents []AgentInput, outputRoundDir string) (*roundexec.RoundMeta, error) {
	hostTmp, err := os.MkdirTemp("", "solclash-competition-*")
	if err != nil {
		return nil, fmt.Errorf("competition: host temp dir: %w", err)
	}
	defer os.RemoveAll(hostTmp)

	if err := writeJSON(filepath.Join(hostTmp, "arena-config.json"), arenaCfg); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(hostTmp, "bars.json"), barsPayload{Instrument: instrument, Bars: bars}); err != nil {
		return nil, err
	}

	handle, err := rt.Create(ctx, containerrt.CreateSpec{Image: cfg.ArenaImage, WorkDir: "/"})
	if err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "create container", err)
	}
	defer func() { _ = rt.Remove(ctx, handle) }()

	roundDir := fmt.Sprintf("/logs/rounds/%d", round)
	if _, err := rt.Exec(ctx, handle, []string{"mkdir", "-p", "/inputs", roundDir, "/opt/solclash/agents"}, "", nil); err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "create container directories", err)
	}

	if err := rt.CopyTo(ctx, handle, filepath.Join(hostTmp, "arena-config.json"), "/inputs/arena-config.json"); err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "copy arena config", err)
	}
	if err := rt.CopyTo(ctx, handle, filepath.Join(hostTmp, "bars.json"), "/inputs/bars.json"); err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "copy bars", err)
	}

	manifestPaths := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.Workspace == "" {
			continue // builtin agent: no workspace to copy, no manifest needed
		}
		containerWS := "/opt/solclash/agents/" + a.ID
		if err := rt.CopyTo(ctx, handle, a.Workspace, containerWS); err != nil {
			return nil, errkind.Wrap(errkind.ArenaRunFailed, "copy workspace for agent "+a.ID, err)
		}
		manifest := AgentManifest{ID: a.ID, ArenaID: arenaCfg.ArenaID, Provider: a.Provider, Workspace: containerWS, Model: a.Model}
		manifestHostPath := filepath.Join(hostTmp, "agent-"+a.ID+".json")
		if err := writeJSON(manifestHostPath, manifest); err != nil {
			return nil, err
		}
		containerManifestPath := "/inputs/agent-" + a.ID + ".json"
		if err := rt.CopyTo(ctx, handle, manifestHostPath, containerManifestPath); err != nil {
			return nil, errkind.Wrap(errkind.ArenaRunFailed, "copy manifest for agent "+a.ID, err)
		}
		manifestPaths = append(manifestPaths, containerManifestPath)
	}

	argv := append([]string{
		cfg.RunnerPath,
		"--config", "/inputs/arena-config.json",
		"--bars", "/inputs/bars.json",
		"--out", roundDir,
	}, manifestPaths...)

	res, err := rt.Exec(ctx, handle, argv, "", nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "exec inner arena runner", err)
	}
	if res.ExitCode != 0 {
		return nil, errkind.New(errkind.ArenaRunFailed,
			fmt.Sprintf("inner arena runner exited %d: %s", res.ExitCode, res.Stderr))
	}

	if err := os.MkdirAll(outputRoundDir, 0o755); err != nil {
		return nil, fmt.Errorf("competition: output round dir: %w", err)
	}
	if err := rt.CopyFrom(ctx, handle, roundDir+"/.", outputRoundDir); err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "copy round logs back", err)
	}

	var meta roundexec.RoundMeta
	data, err := os.ReadFile(filepath.Join(outputRoundDir, "round_meta.json"))
	if err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "read round_meta.json", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errkind.Wrap(errkind.ArenaRunFailed, "decode round_meta.json", err)
	}

	return &meta, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("competition: marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("competition: write %s: %w", path, err)
	}
	return nil
}
