// Package tournament drives the top-level round loop: for every round it
// conditionally runs the edit phase, executes the round (in-process or
// inside a container), injects the round's artifacts into every agent
// workspace that asked for them, and writes the tournament's final record.
package tournament

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/zeromicro/go-zero/core/logx"

	"solclash/internal/arena"
	"solclash/internal/artifacts"
	"solclash/internal/baselines"
	"solclash/internal/competition"
	"solclash/internal/containerrt"
	"solclash/internal/editphase"
	"solclash/internal/harness"
	"solclash/internal/metrics"
	"solclash/internal/orchconfig"
	"solclash/internal/roundexec"
	"solclash/internal/simengine"
	"solclash/internal/tape"
)

// RoundRecord pairs a round number with its derived metadata.
type RoundRecord struct {
	Round int                 `json:"round"`
	Meta  roundexec.RoundMeta `json:"meta"`
}

// Result is the tournament's terminal record, written as tournament.json.
type Result struct {
	Config   orchconfig.Config `json:"config"`
	AgentIDs []string          `json:"agent_ids"`
	Rounds   []RoundRecord     `json:"rounds"`
}

// Run executes cfg.Rounds rounds in order and returns the collected result.
// It also writes <cfg.OutputDir>/tournament.json on success.
func Run(ctx context.Context, rt containerrt.Runtime, cfg *orchconfig.Config, arenaCfg arena.Config, instrument tape.Instrument, bars []tape.Bar) (*Result, error) {
	agentIDs := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		agentIDs[i] = a.ID
	}

	result := &Result{Config: *cfg, AgentIDs: agentIDs}

	for r := 1; r <= cfg.Rounds; r++ {
		roundDir := filepath.Join(cfg.OutputDir, "rounds", strconv.Itoa(r))
		if err := os.MkdirAll(roundDir, 0o755); err != nil {
			return nil, fmt.Errorf("tournament: round %d dir: %w", r, err)
		}

		invalidAgents := make(map[string]string)

		if cfg.Edit.Enabled && (r > 1 || cfg.Edit.RunOnRoundOne) {
			outcomes := runEditPhase(ctx, rt, cfg, r, roundDir)
			for id, outc := range outcomes {
				metrics.EditSessionsTotal.WithLabelValues(string(outc.Status)).Inc()
				if outc.Status != editphase.StatusSuccess {
					reason := outc.Error
					if reason == "" {
						reason = string(outc.Status)
					}
					invalidAgents[id] = reason
					logx.WithContext(ctx).Slowf("tournament: round %d agent %s excluded: %s", r, id, reason)
				}
			}
		}

		meta, err := runRound(ctx, rt, cfg, arenaCfg, instrument, bars, r, roundDir, invalidAgents)
		if err != nil {
			return nil, fmt.Errorf("tournament: round %d: %w", r, err)
		}

		metrics.RoundsTotal.WithLabelValues(string(cfg.Runtime)).Inc()
		for id, score := range meta.Scores {
			metrics.AgentScore.WithLabelValues(id).Set(score)
		}

		if err := injectLogs(cfg, r, roundDir); err != nil {
			return nil, fmt.Errorf("tournament: round %d log injection: %w", r, err)
		}

		result.Rounds = append(result.Rounds, RoundRecord{Round: r, Meta: *meta})
	}

	if err := artifacts.WriteJSON(filepath.Join(cfg.OutputDir, "tournament.json"), result); err != nil {
		return nil, fmt.Errorf("tournament: write tournament.json: %w", err)
	}
	return result, nil
}

func runEditPhase(ctx context.Context, rt containerrt.Runtime, cfg *orchconfig.Config, round int, roundDir string) map[string]editphase.Outcome {
	agents := make([]editphase.AgentInput, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		provider := editphase.ProviderBuiltin
		if a.Provider != "builtin" {
			provider = editphase.Provider(a.Provider)
		}
		agents = append(agents, editphase.AgentInput{
			ID: a.ID, Provider: provider, Workspace: a.Workspace, Model: a.Model,
		})
	}
	editCfg := editphase.Config{
		Enabled:        cfg.Edit.Enabled,
		PromptRef:      cfg.Edit.PromptRef,
		MaxTurns:       cfg.Edit.MaxTurns,
		ToolAllowlist:  cfg.Edit.ToolAllowlist,
		Sandbox:        cfg.Edit.Sandbox,
		NetworkPolicy:  cfg.Edit.NetworkPolicy,
		Concurrency:    cfg.Edit.Concurrency,
		Timeout:        cfg.Edit.Timeout,
		ContainerImage: cfg.Edit.ContainerImage,
		RunnerPath:     cfg.Edit.RunnerPath,
	}
	return editphase.Run(ctx, rt, round, agents, editCfg, filepath.Join(cfg.OutputDir, "logs"), editphase.DefaultPromptGenerator)
}

func runRound(ctx context.Context, rt containerrt.Runtime, cfg *orchconfig.Config, arenaCfg arena.Config, instrument tape.Instrument, bars []tape.Bar, round int, roundDir string, invalidAgents map[string]string) (*roundexec.RoundMeta, error) {
	switch cfg.Runtime {
	case orchconfig.RuntimeContainer:
		agents := make([]competition.AgentInput, 0, len(cfg.Agents))
		for _, a := range cfg.Agents {
			if _, invalid := invalidAgents[a.ID]; invalid {
				continue
			}
			agents = append(agents, competition.AgentInput{
				ID: a.ID, Provider: a.Provider, Workspace: a.Workspace, Model: a.Model,
			})
		}
		compCfg := competition.Config{ArenaImage: cfg.Container.ArenaImage, RunnerPath: cfg.Container.ArenaRunnerPath}
		meta, err := competition.Run(ctx, rt, compCfg, arenaCfg, instrument, bars, round, agents, roundDir)
		if err != nil {
			return nil, err
		}
		mergeInvalidAgents(meta, invalidAgents)
		return meta, nil
	default:
		return runInProcess(ctx, cfg, arenaCfg, instrument, bars, round, roundDir, invalidAgents)
	}
}

// mergeInvalidAgents folds agents excluded before the round ran (e.g. a
// failed edit session) into a meta produced by a phase that never saw them.
func mergeInvalidAgents(meta *roundexec.RoundMeta, invalidAgents map[string]string) {
	if len(invalidAgents) == 0 {
		return
	}
	if meta.InvalidAgents == nil {
		meta.InvalidAgents = make(map[string]string, len(invalidAgents))
	}
	if meta.Scores == nil {
		meta.Scores = make(map[string]float64, len(invalidAgents))
	}
	for id, reason := range invalidAgents {
		meta.InvalidAgents[id] = reason
		if _, ok := meta.Scores[id]; !ok {
			meta.Scores[id] = 0
		}
	}
}

// runInProcess builds a simengine.Policy per valid agent (a baseline for
// builtins, a harness-backed subprocess for everyone else) and runs the
// round through roundexec directly in this process.
func runInProcess(ctx context.Context, cfg *orchconfig.Config, arenaCfg arena.Config, instrument tape.Instrument, bars []tape.Bar, round int, roundDir string, invalidAgents map[string]string) (*roundexec.RoundMeta, error) {
	var clients []*harness.Client
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Edit.Timeout)
		defer cancel()
		for _, c := range clients {
			_ = c.Shutdown(shutdownCtx, cfg.Edit.Timeout)
		}
	}()

	specs := make([]roundexec.AgentSpec, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if _, invalid := invalidAgents[a.ID]; invalid {
			continue
		}
		if a.Provider == "builtin" {
			baseline := a.Baseline
			if !baselines.IsKnown(baseline) {
				invalidAgents[a.ID] = fmt.Sprintf("unknown baseline %q", baseline)
				continue
			}
			specs = append(specs, roundexec.AgentSpec{
				ID: a.ID,
				NewPolicy: func() simengine.Policy {
					policy, _ := baselines.New(baseline)
					return policy
				},
			})
			continue
		}

		client, err := startHarness(ctx, a.HarnessBinary, a.Workspace)
		if err != nil {
			invalidAgents[a.ID] = err.Error()
			continue
		}
		clients = append(clients, client)
		policy := harness.NewPolicy(client, a.ID)
		specs = append(specs, roundexec.AgentSpec{
			ID:        a.ID,
			NewPolicy: func() simengine.Policy { return policy },
		})
	}

	return roundexec.RunRound(ctx, roundexec.Input{
		Cfg: arenaCfg, Instrument: instrument, Bars: bars, Agents: specs, InvalidAgents: invalidAgents, RoundDir: roundDir,
	})
}

// startHarness launches the agent's native policy runner and blocks until
// its init handshake completes.
func startHarness(ctx context.Context, binary, workspace string) (*harness.Client, error) {
	cmd := exec.Command(binary)
	cmd.Dir = workspace
	client, err := harness.NewFromCmd(cmd)
	if err != nil {
		return nil, fmt.Errorf("harness: start %s: %w", binary, err)
	}
	go client.Run(ctx)
	if err := client.Init(ctx, nil, nil); err != nil {
		return nil, fmt.Errorf("harness: init %s: %w", binary, err)
	}
	return client, nil
}

// injectLogs copies this round's directory into every inject-target agent's
// workspace, under logs/rounds/<round>, so the next edit session can read it.
func injectLogs(cfg *orchconfig.Config, round int, roundDir string) error {
	for _, a := range cfg.Agents {
		if !a.InjectLogs || a.Workspace == "" {
			continue
		}
		dst := filepath.Join(a.Workspace, "logs", "rounds", strconv.Itoa(round))
		if err := containerrt.CopyTree(roundDir, dst); err != nil {
			return fmt.Errorf("inject logs for %s: %w", a.ID, err)
		}
	}
	return nil
}
