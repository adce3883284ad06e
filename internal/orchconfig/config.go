// Package orchconfig is the orchestrator's own operator-facing
// configuration: arena/tape locations, the agent roster, edit-phase
// settings, and container backend selection. The arena configuration and
// bar tape themselves stay JSON per the wire-format contract; this layer is
// YAML, following the teacher's manager-config pipeline.
package orchconfig

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"solclash/internal/baselines"
	"solclash/pkg/confkit"
)

// Runtime selects how rounds are executed.
type Runtime string

const (
	RuntimeInProcess Runtime = "in_process"
	RuntimeContainer Runtime = "container"
)

// ContainerBackend selects the containerrt implementation.
type ContainerBackend string

const (
	BackendDocker ContainerBackend = "docker"
	BackendHost   ContainerBackend = "host"
)

// Config is the orchestrator's top-level schema.
type Config struct {
	ArenaConfigPath string `yaml:"arena_config_path"`
	TapePath        string `yaml:"tape_path"`
	OutputDir       string `yaml:"output_dir"`
	Rounds          int    `yaml:"rounds"`
	Runtime         Runtime `yaml:"runtime"`

	Agents []AgentConfig `yaml:"agents"`
	Edit   EditConfig    `yaml:"edit"`
	Container ContainerConfig `yaml:"container"`

	baseDir string
}

// AgentConfig is one roster entry. Builtin agents set Baseline and leave
// Workspace empty; every other provider requires a Workspace.
type AgentConfig struct {
	ID         string `yaml:"id"`
	Provider   string `yaml:"provider"`
	Workspace  string `yaml:"workspace"`
	Model      string `yaml:"model"`
	Baseline   string `yaml:"baseline"`
	InjectLogs bool   `yaml:"inject_logs"`

	// HarnessBinary is the native policy runner's path, resolved relative to
	// Workspace, for agents competing with runtime "in_process". Unused by
	// runtime "container", where the arena image owns policy execution.
	HarnessBinary string `yaml:"harness_binary"`
}

// EditConfig mirrors editphase.Config with the orchestrator's raw-duration
// YAML convention.
type EditConfig struct {
	Enabled        bool     `yaml:"enabled"`
	RunOnRoundOne  bool     `yaml:"run_on_round_one"`
	PromptRef      string   `yaml:"prompt_ref"`
	MaxTurns       int      `yaml:"max_turns"`
	ToolAllowlist  []string `yaml:"tool_allowlist"`
	Sandbox        bool     `yaml:"sandbox"`
	NetworkPolicy  string   `yaml:"network_policy"`
	Concurrency    int      `yaml:"concurrency"`
	ContainerImage string   `yaml:"container_image"`
	RunnerPath     string   `yaml:"runner_path"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ContainerConfig selects and configures the containerrt backend used for
// both the edit phase and (when Runtime is "container") the competition
// phase.
type ContainerConfig struct {
	Backend     ContainerBackend `yaml:"backend"`
	DockerBinary string          `yaml:"docker_binary"`
	HostBaseDir string           `yaml:"host_base_dir"`
	ArenaImage  string           `yaml:"arena_image"`
	ArenaRunnerPath string       `yaml:"arena_runner_path"`
}

// Load reads, defaults, parses durations into, expands paths in, and
// validates an orchestrator config file.
func Load(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("orchconfig: open %s: %w", path, err)
	}
	defer file.Close()
	return LoadFromReader(file, filepath.Dir(path))
}

// LoadFromReader builds a Config from r, resolving relative paths against
// baseDir.
func LoadFromReader(r io.Reader, baseDir string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("orchconfig: read: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("orchconfig: unmarshal: %w", err)
	}
	cfg.baseDir = baseDir

	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	cfg.expandFields()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	if c.Runtime == "" {
		c.Runtime = RuntimeInProcess
	}
	if strings.TrimSpace(c.Edit.TimeoutRaw) == "" {
		c.Edit.TimeoutRaw = "5m"
	}
	if c.Edit.Concurrency <= 0 {
		c.Edit.Concurrency = 1
	}
	if c.Container.Backend == "" {
		c.Container.Backend = BackendHost
	}
	for i := range c.Agents {
		if !strings.EqualFold(c.Agents[i].Provider, "builtin") && strings.TrimSpace(c.Agents[i].HarnessBinary) == "" {
			c.Agents[i].HarnessBinary = "bin/harness"
		}
	}
}

func (c *Config) parseDurations() error {
	d, err := parsePositiveDuration("edit.timeout", c.Edit.TimeoutRaw)
	if err != nil {
		return err
	}
	c.Edit.Timeout = d
	return nil
}

func parsePositiveDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("orchconfig: %s invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("orchconfig: %s must be positive", field)
	}
	return d, nil
}

func (c *Config) expandFields() {
	c.ArenaConfigPath = c.resolvePath(c.ArenaConfigPath)
	c.TapePath = c.resolvePath(c.TapePath)
	c.OutputDir = c.resolvePath(c.OutputDir)
	c.Container.HostBaseDir = c.resolvePath(c.Container.HostBaseDir)
	for i := range c.Agents {
		c.Agents[i].Workspace = c.resolvePath(c.Agents[i].Workspace)
		c.Agents[i].Provider = strings.ToLower(strings.TrimSpace(c.Agents[i].Provider))
		if c.Agents[i].HarnessBinary != "" && c.Agents[i].Workspace != "" && !filepath.IsAbs(c.Agents[i].HarnessBinary) {
			c.Agents[i].HarnessBinary = filepath.Join(c.Agents[i].Workspace, c.Agents[i].HarnessBinary)
		}
	}
	if c.Edit.PromptRef != "" && c.Edit.PromptRef != "default" &&
		(strings.Contains(c.Edit.PromptRef, "/") || strings.HasSuffix(c.Edit.PromptRef, ".md") || strings.HasSuffix(c.Edit.PromptRef, ".txt")) {
		c.Edit.PromptRef = c.resolvePath(c.Edit.PromptRef)
	}
}

func (c *Config) resolvePath(path string) string {
	path = strings.TrimSpace(os.ExpandEnv(path))
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.baseDir, path)
}

// Validate checks cross-field sanity beyond what defaulting already fixed up.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ArenaConfigPath) == "" {
		return errors.New("orchconfig: arena_config_path is required")
	}
	if strings.TrimSpace(c.TapePath) == "" {
		return errors.New("orchconfig: tape_path is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("orchconfig: output_dir is required")
	}
	if len(c.Agents) == 0 {
		return errors.New("orchconfig: at least one agent is required")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return errors.New("orchconfig: agent id is required")
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("orchconfig: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
		if a.Provider == "builtin" {
			if strings.TrimSpace(a.Baseline) == "" {
				return fmt.Errorf("orchconfig: builtin agent %q requires a baseline", a.ID)
			}
			if !baselines.IsKnown(a.Baseline) {
				return fmt.Errorf("orchconfig: builtin agent %q has unknown baseline %q, want one of %v", a.ID, a.Baseline, baselines.Known)
			}
			continue
		}
		if strings.TrimSpace(a.Workspace) == "" {
			return fmt.Errorf("orchconfig: agent %q requires a workspace", a.ID)
		}
	}
	switch c.Runtime {
	case RuntimeInProcess, RuntimeContainer:
	default:
		return fmt.Errorf("orchconfig: runtime must be %q or %q", RuntimeInProcess, RuntimeContainer)
	}
	switch c.Container.Backend {
	case BackendDocker, BackendHost:
	default:
		return fmt.Errorf("orchconfig: container.backend must be %q or %q", BackendDocker, BackendHost)
	}
	if c.Runtime == RuntimeContainer && strings.TrimSpace(c.Container.ArenaImage) == "" {
		return errors.New("orchconfig: container.arena_image is required when runtime is container")
	}
	if c.Edit.Enabled {
		if strings.TrimSpace(c.Edit.ContainerImage) == "" {
			return errors.New("orchconfig: edit.container_image is required when edit is enabled")
		}
		if strings.TrimSpace(c.Edit.RunnerPath) == "" {
			return errors.New("orchconfig: edit.runner_path is required when edit is enabled")
		}
	}
	return nil
}

// BaseDir returns the directory the config file was loaded from.
func (c *Config) BaseDir() string {
	return c.baseDir
}

// ValidateBaselines checks every builtin agent's chosen baseline against the
// arena's declared enabled_baselines list. An empty list permits any known
// baseline, since the arena config may not restrict the set at all. Called
// once both the orchestrator and arena configs are loaded, since Validate
// itself only sees the orchestrator config.
func (c *Config) ValidateBaselines(enabledBaselines []string) error {
	if len(enabledBaselines) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(enabledBaselines))
	for _, b := range enabledBaselines {
		allowed[b] = struct{}{}
	}
	for _, a := range c.Agents {
		if a.Provider != "builtin" {
			continue
		}
		if _, ok := allowed[a.Baseline]; !ok {
			return fmt.Errorf("orchconfig: builtin agent %q baseline %q is not in arena's enabled_baselines %v", a.ID, a.Baseline, enabledBaselines)
		}
	}
	return nil
}
