package resource

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
)

// Default dbt invocation values.
const (
	DefaultDbtExecutable = "dbt"
	DefaultDbtTarget     = "duck"
)

// dbt event names the pipeline reacts to.
const (
	EventNodeFinished = "NodeFinished"
	EventMainError    = "MainEncounteredError"
)

// DbtEvent is one structured log line emitted by `dbt --log-format json`.
type DbtEvent struct {
	Name       string
	Level      string
	Msg        string
	UniqueID   string
	NodeStatus string
}

// Failed reports whether the event carries a failing node status.
func (e DbtEvent) Failed() bool {
	switch e.NodeStatus {
	case "error", "fail", "runtime error":
		return true
	}
	return false
}

type dbtLogLine struct {
	Info struct {
		Name  string `json:"name"`
		Level string `json:"level"`
		Msg   string `json:"msg"`
	} `json:"info"`
	Data struct {
		NodeInfo struct {
			UniqueID   string `json:"unique_id"`
			NodeStatus string `json:"node_status"`
		} `json:"node_info"`
	} `json:"data"`
}

// ParseDbtEvent decodes a JSON log line. Lines that are not JSON events
// (banners, blank lines) return false.
func ParseDbtEvent(line string) (DbtEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return DbtEvent{}, false
	}
	var l dbtLogLine
	if err := json.Unmarshal([]byte(line), &l); err != nil || l.Info.Name == "" {
		return DbtEvent{}, false
	}
	return DbtEvent{
		Name:       l.Info.Name,
		Level:      l.Info.Level,
		Msg:        l.Info.Msg,
		UniqueID:   l.Data.NodeInfo.UniqueID,
		NodeStatus: l.Data.NodeInfo.NodeStatus,
	}, true
}

// DbtConfig configures the dbt CLI resource.
type DbtConfig struct {
	ProjectDir string
	Target     string
	Executable string
	// ManifestPath overrides <ProjectDir>/target/manifest.json.
	ManifestPath string
	// Env is passed to every dbt invocation.
	Env []string
}

// DbtCLI invokes the dbt command line against one project and target.
type DbtCLI struct {
	cfg    DbtConfig
	runner Runner
	logger *slog.Logger
}

// NewDbtCLI creates a dbt resource.
func NewDbtCLI(cfg DbtConfig, runner Runner, logger *slog.Logger) *DbtCLI {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Executable == "" {
		cfg.Executable = DefaultDbtExecutable
	}
	if cfg.Target == "" {
		cfg.Target = DefaultDbtTarget
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &DbtCLI{cfg: cfg, runner: runner, logger: logger}
}

// ProjectDir returns the dbt project directory.
func (d *DbtCLI) ProjectDir() string {
	return d.cfg.ProjectDir
}

// ManifestPath returns where the project's manifest.json is read from.
func (d *DbtCLI) ManifestPath() string {
	if d.cfg.ManifestPath != "" {
		return d.cfg.ManifestPath
	}
	return filepath.Join(d.cfg.ProjectDir, "target", "manifest.json")
}

// Command builds a dbt invocation for the configured project and target.
func (d *DbtCLI) Command(args ...string) Command {
	full := make([]string, 0, len(args)+5)
	full = append(full, args...)
	full = append(full, "--log-format", "json", "--project-dir", d.cfg.ProjectDir, "--target", d.cfg.Target)
	return Command{
		Name: d.cfg.Executable,
		Args: full,
		Dir:  d.cfg.ProjectDir,
		Env:  d.cfg.Env,
	}
}

// Cli runs dbt with args and forwards every structured event to onEvent.
// Unstructured output is logged at debug level.
func (d *DbtCLI) Cli(ctx context.Context, onEvent func(DbtEvent), args ...string) error {
	cmd := d.Command(args...)
	d.logger.Info("running dbt", slog.String("command", cmd.String()))

	return d.runner.Run(ctx, cmd, func(stream Stream, line string) {
		ev, ok := ParseDbtEvent(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				d.logger.Debug("dbt output", slog.String("stream", stream.String()), slog.String("line", line))
			}
			return
		}
		if ev.Level == "error" {
			d.logger.Warn("dbt", slog.String("event", ev.Name), slog.String("msg", ev.Msg))
		} else {
			d.logger.Debug("dbt", slog.String("event", ev.Name), slog.String("msg", ev.Msg))
		}
		if onEvent != nil {
			onEvent(ev)
		}
	})
}

// Parse runs `dbt parse`, which writes a fresh manifest.
func (d *DbtCLI) Parse(ctx context.Context) error {
	return d.Cli(ctx, nil, "parse")
}

// Build runs `dbt build`, limited to selectors when any are given.
func (d *DbtCLI) Build(ctx context.Context, selectors []string, onEvent func(DbtEvent)) error {
	args := []string{"build"}
	if len(selectors) > 0 {
		args = append(args, "--select", strings.Join(selectors, " "))
	}
	return d.Cli(ctx, onEvent, args...)
}
