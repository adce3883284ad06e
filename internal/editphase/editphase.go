// Package editphase runs one round's agent-editing sessions: for every
// non-builtin agent, a container is created, the agent's workspace is
// copied in, a runner script is executed against a JSON brief, and on
// success the edited workspace is copied back out and atomically swapped
// in for the host copy.
package editphase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"solclash/internal/containerrt"
	"solclash/internal/digest"
	"solclash/internal/errkind"
	"solclash/internal/metrics"
)

// Provider names the kind of editing collaborator behind an agent.
type Provider string

const (
	ProviderBuiltin   Provider = "builtin"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
	ProviderKimi      Provider = "kimi"
	ProviderGLM       Provider = "glm"
)

// Status is the terminal outcome of one agent's edit session.
type Status string

const (
	StatusSuccess Status = "success"
	StatusTimeout Status = "timeout"
	StatusFailure Status = "failure"
)

// AgentInput describes one agent entering the edit phase.
type AgentInput struct {
	ID        string
	Provider  Provider
	Workspace string // host path; empty for builtin agents
	Model     string
}

// Config carries the edit phase's tunables for one round.
type Config struct {
	Enabled       bool
	PromptRef     string // "default", a disk path, or empty
	MaxTurns      int
	ToolAllowlist []string
	Sandbox       bool
	NetworkPolicy string
	Concurrency   int
	Timeout       time.Duration
	ContainerImage string
	RunnerPath    string // path to the runner script inside the container image
}

// Outcome is one agent's recorded result.
type Outcome struct {
	Status       Status `json:"status"`
	SessionID    string `json:"session_id,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Error        string `json:"error,omitempty"`
	LogDir       string `json:"log_dir"`
}

// runnerMeta is edit_meta.json, written by the runner inside the container.
type runnerMeta struct {
	Status       Status `json:"status"`
	SessionID    string `json:"session_id,omitempty"`
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// brief is the JSON document handed to the runner via /tmp/edit-input-<id>.json.
type brief struct {
	Round         int      `json:"round"`
	AgentID       string   `json:"agent_id"`
	WorkspacePath string   `json:"workspace_path"`
	Prompt        string   `json:"prompt"`
	MaxTurns      int      `json:"max_turns"`
	ToolAllowlist []string `json:"tool_allowlist"`
	Sandbox       bool     `json:"sandbox"`
	NetworkPolicy string   `json:"network_policy"`
	SettingSources []string `json:"setting_sources"`
	TimeoutMs     int64    `json:"timeout_ms,omitempty"`
	Model         string   `json:"model,omitempty"`
	PromptRef     string   `json:"prompt_ref"`
	PromptSHA256  string   `json:"prompt_sha256"`
}

// PromptGenerator produces the "default" built-in prompt for a round/agent.
type PromptGenerator func(round int, agentID string) string

// DefaultPromptGenerator is the built-in generator keyed on round number:
// round 1 has no prior logs to read, round >= 2 points the editor at the
// previous round's injected logs.
func DefaultPromptGenerator(round int, agentID string) string {
	if round <= 1 {
		return fmt.Sprintf("You are editing the trading policy for agent %q ahead of round 1. "+
			"There are no prior round logs yet; make your best initial design decisions.", agentID)
	}
	return fmt.Sprintf("You are editing the trading policy for agent %q ahead of round %d. "+
		"Read logs/rounds/%d/ in your workspace for the previous round's results "+
		"(policy, trade, equity and liquidation logs per agent) before deciding what to change.",
		agentID, round, round-1)
}

// Run executes the edit phase for one round's non-builtin agents per the
// protocol in the isolation contract, returning a status map keyed by
// agent id. Builtin agents never appear in the returned map.
func Run(ctx context.Context, rt containerrt.Runtime, round int, agents []AgentInput, cfg Config, logsRoot string, gen PromptGenerator) map[string]Outcome {
	if gen == nil {
		gen = DefaultPromptGenerator
	}
	results := make(map[string]Outcome)
	var mu sync.Mutex

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, a := range agents {
		a := a
		if a.Provider == ProviderBuiltin {
			continue
		}
		g.Go(func() error {
			out := runSession(gctx, rt, round, a, cfg, logsRoot, gen)
			if out.Status != StatusSuccess {
				logx.WithContext(gctx).Slowf("editphase: agent %s round %d ended %s: %s", a.ID, round, out.Status, out.Error)
			}
			mu.Lock()
			results[a.ID] = out
			mu.Unlock()
			return nil // individual session failures are recorded, not propagated
		})
	}
	// errgroup's own error is always nil here since session errors are
	// captured as Outcome.Status instead of returned; Wait only blocks
	// until every worker has finished.
	_ = g.Wait()

	return results
}

func runSession(ctx context.Context, rt containerrt.Runtime, round int, a AgentInput, cfg Config, logsRoot string, gen PromptGenerator) Outcome {
	start := time.Now()
	defer func() { metrics.EditSessionDuration.Observe(time.Since(start).Seconds()) }()

	logDir := filepath.Join(logsRoot, "rounds", itoa(round), "edit", a.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}

	sessionCtx := ctx
	cancel := func() {}
	if cfg.Timeout > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	}
	defer cancel()

	promptText, promptRef, err := resolvePrompt(cfg.PromptRef, round, a.ID, gen)
	if err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}
	promptSHA := digest.SHA256String(promptText)

	handle, err := rt.Create(sessionCtx, containerrt.CreateSpec{Image: cfg.ContainerImage, WorkDir: "/workspace"})
	if err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}
	defer func() { _ = rt.Remove(ctx, handle) }()

	if err := rt.CopyTo(sessionCtx, handle, a.Workspace, "/workspace"); err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}

	b := brief{
		Round: round, AgentID: a.ID, WorkspacePath: "/workspace",
		Prompt: promptText, MaxTurns: cfg.MaxTurns, ToolAllowlist: cfg.ToolAllowlist,
		Sandbox: cfg.Sandbox, NetworkPolicy: cfg.NetworkPolicy,
		SettingSources: []string{"round_config"}, Model: a.Model,
		PromptRef: promptRef, PromptSHA256: promptSHA,
	}
	if cfg.Timeout > 0 {
		b.TimeoutMs = cfg.Timeout.Milliseconds()
	}
	briefData, err := json.Marshal(b)
	if err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}
	briefPath := filepath.Join(os.TempDir(), fmt.Sprintf("edit-input-%s.json", a.ID))
	if err := os.WriteFile(briefPath, briefData, 0o644); err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}
	defer os.Remove(briefPath)
	containerBriefPath := fmt.Sprintf("/tmp/edit-input-%s.json", a.ID)
	if err := rt.CopyTo(sessionCtx, handle, briefPath, containerBriefPath); err != nil {
		return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
	}

	argv := []string{cfg.RunnerPath, "--input", containerBriefPath, "--log-dir", "/logs"}
	res, execErr := rt.Exec(sessionCtx, handle, argv, "/workspace", nil)

	_ = rt.CopyFrom(ctx, handle, "/logs", logDir)

	if execErr != nil {
		if sessionCtx.Err() == context.DeadlineExceeded {
			return Outcome{Status: StatusTimeout, LogDir: logDir}
		}
		return Outcome{Status: StatusFailure, Error: execErr.Error(), LogDir: logDir}
	}

	outcome := interpretResult(logDir, res)
	outcome.LogDir = logDir

	if outcome.Status == StatusSuccess {
		tmp, err := os.MkdirTemp("", "solclash-workspace-*")
		if err != nil {
			return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
		}
		defer os.RemoveAll(tmp)
		if err := rt.CopyFrom(ctx, handle, "/workspace/.", tmp); err != nil {
			return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
		}
		if err := replaceDir(a.Workspace, tmp); err != nil {
			return Outcome{Status: StatusFailure, Error: err.Error(), LogDir: logDir}
		}
	}

	return outcome
}

// interpretResult reads edit_meta.json if the runner wrote one; otherwise it
// maps the exit code per the isolation contract's fallback rule.
func interpretResult(logDir string, res containerrt.ExecResult) Outcome {
	metaPath := filepath.Join(logDir, "edit_meta.json")
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta runnerMeta
		if err := json.Unmarshal(data, &meta); err == nil && meta.Status != "" {
			return Outcome{Status: meta.Status, SessionID: meta.SessionID, CheckpointID: meta.CheckpointID, Error: meta.Error}
		}
	}
	switch res.ExitCode {
	case 0:
		return Outcome{Status: StatusSuccess}
	case 10:
		return Outcome{Status: StatusTimeout}
	default:
		return Outcome{Status: StatusFailure, Error: strings.TrimSpace(res.Stderr)}
	}
}

func resolvePrompt(ref string, round int, agentID string, gen PromptGenerator) (text, resolvedRef string, err error) {
	switch {
	case ref == "" || ref == "default":
		return gen(round, agentID), "default", nil
	case strings.Contains(ref, "/") || strings.HasSuffix(ref, ".md") || strings.HasSuffix(ref, ".txt"):
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", "", errkind.Wrap(errkind.EditSessionFailure, "read prompt file "+ref, err)
		}
		return string(data), ref, nil
	default:
		return "", "", errkind.New(errkind.EditSessionFailure, "unresolvable prompt reference: "+ref)
	}
}

// replaceDir atomically swaps dst's contents for src's: it renders the swap
// by writing into a sibling temp path then renaming over dst, so a reader
// never observes a half-populated workspace.
func replaceDir(dst, src string) error {
	staging := dst + ".incoming"
	_ = os.RemoveAll(staging)
	if err := os.Rename(src, staging); err != nil {
		return fmt.Errorf("editphase: stage workspace: %w", err)
	}
	old := dst + ".previous"
	_ = os.RemoveAll(old)
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, old); err != nil {
			return fmt.Errorf("editphase: retire old workspace: %w", err)
		}
	}
	if err := os.Rename(staging, dst); err != nil {
		return fmt.Errorf("editphase: promote workspace: %w", err)
	}
	_ = os.RemoveAll(old)
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
