// Package projectconfig provides the ProjectConfig struct and loader for
// .callpilot.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by Load.
const FileName = ".callpilot.yaml"

// Default values for project configuration. New() references them and no
// other code should duplicate them.
const (
	DefaultProvidersPath  = "data/providers.json"
	DefaultTranscriptsDir = "transcripts/"

	DefaultMaxAgents = 15
	DefaultWorkers   = 0

	DefaultMaxTurns        = 8
	DefaultTurnTimeoutSec  = 30
	DefaultPollIntervalMs  = 300
	DefaultWarmUpMs        = 2000
	DefaultGraceMs         = 3000
	DefaultDaysAhead       = 14
	DefaultDurationMinutes = 30
	DefaultMaxOptions      = 5

	EngineLocal   = "local"
	EngineCopilot = "copilot"

	CounterpartSimulated = "simulated"
	CounterpartCopilot   = "copilot"

	DefaultEngine      = EngineLocal
	DefaultCounterpart = CounterpartSimulated

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 5001
)

// PathsConfig holds input and output locations.
type PathsConfig struct {
	Providers   string `yaml:"providers,omitempty"`
	Transcripts string `yaml:"transcripts,omitempty"`
	// SessionLog is the NDJSON event log. Empty disables it.
	SessionLog string `yaml:"session_log,omitempty"`
}

// SwarmConfig bounds the fan-out.
type SwarmConfig struct {
	MaxAgents int `yaml:"max_agents,omitempty"`
	// Workers caps concurrent sessions; 0 runs every selected session at once.
	Workers int `yaml:"workers,omitempty"`
}

// NegotiationConfig holds the per-session timing and the simulated
// counterpart's window.
type NegotiationConfig struct {
	MaxTurns        int  `yaml:"max_turns,omitempty"`
	TurnTimeoutSec  int  `yaml:"turn_timeout_sec,omitempty"`
	PollIntervalMs  int  `yaml:"poll_interval_ms,omitempty"`
	WarmUpMs        *int `yaml:"warmup_ms,omitempty"`
	GraceMs         *int `yaml:"grace_ms,omitempty"`
	DaysAhead       int  `yaml:"days_ahead,omitempty"`
	DurationMinutes int  `yaml:"duration_minutes,omitempty"`
	MaxOptions      int  `yaml:"max_options,omitempty"`
}

func (n NegotiationConfig) TurnTimeout() time.Duration {
	return time.Duration(n.TurnTimeoutSec) * time.Second
}

func (n NegotiationConfig) PollInterval() time.Duration {
	return time.Duration(n.PollIntervalMs) * time.Millisecond
}

func (n NegotiationConfig) WarmUp() time.Duration {
	return msPtr(n.WarmUpMs)
}

func (n NegotiationConfig) Grace() time.Duration {
	return msPtr(n.GraceMs)
}

// EngineConfig selects what backs the agent and counterpart channels.
type EngineConfig struct {
	// Type is "local" (rule-based agent) or "copilot" (Copilot SDK sessions).
	Type  string `yaml:"type,omitempty"`
	Model string `yaml:"model,omitempty"`
	// Counterpart is "simulated" or "copilot". A copilot counterpart needs
	// the copilot engine.
	Counterpart string `yaml:"counterpart,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host,omitempty"`
	Port           int      `yaml:"port,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// AzureBlobConfig enables the blob transcript sink when AccountURL is set.
type AzureBlobConfig struct {
	AccountURL string `yaml:"account_url,omitempty"`
	Container  string `yaml:"container,omitempty"`
	Prefix     string `yaml:"prefix,omitempty"`
}

// StorageConfig controls transcript persistence.
type StorageConfig struct {
	Enabled   *bool           `yaml:"enabled,omitempty"`
	Compress  *bool           `yaml:"compress,omitempty"`
	AzureBlob AzureBlobConfig `yaml:"azure_blob,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .callpilot.yaml.
type ProjectConfig struct {
	Paths       PathsConfig               `yaml:"paths,omitempty"`
	Swarm       SwarmConfig               `yaml:"swarm,omitempty"`
	Negotiation NegotiationConfig         `yaml:"negotiation,omitempty"`
	Engine      EngineConfig              `yaml:"engine,omitempty"`
	Preferences *models.PreferenceWeights `yaml:"preferences,omitempty"`
	Server      ServerConfig              `yaml:"server,omitempty"`
	Storage     StorageConfig             `yaml:"storage,omitempty"`

	// Dir is the directory of the loaded config file; empty when running on
	// defaults.
	Dir string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		Paths: PathsConfig{
			Providers:   DefaultProvidersPath,
			Transcripts: DefaultTranscriptsDir,
		},
		Swarm: SwarmConfig{
			MaxAgents: DefaultMaxAgents,
			Workers:   DefaultWorkers,
		},
		Negotiation: NegotiationConfig{
			MaxTurns:        DefaultMaxTurns,
			TurnTimeoutSec:  DefaultTurnTimeoutSec,
			PollIntervalMs:  DefaultPollIntervalMs,
			WarmUpMs:        intPtr(DefaultWarmUpMs),
			GraceMs:         intPtr(DefaultGraceMs),
			DaysAhead:       DefaultDaysAhead,
			DurationMinutes: DefaultDurationMinutes,
			MaxOptions:      DefaultMaxOptions,
		},
		Engine: EngineConfig{
			Type:        DefaultEngine,
			Counterpart: DefaultCounterpart,
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Storage: StorageConfig{
			Enabled:  boolPtr(true),
			Compress: boolPtr(false),
		},
	}
}

// Weights returns the configured default preferences, or the built-in ones.
func (c *ProjectConfig) Weights() models.PreferenceWeights {
	if c.Preferences == nil {
		return models.DefaultPreferenceWeights()
	}
	return *c.Preferences
}

// ResolvePath resolves a configured path relative to the config file.
// Absolute paths, and all paths when no file was loaded, are returned
// unchanged.
func (c *ProjectConfig) ResolvePath(p string) string {
	if p == "" || c.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate checks the values Load cannot reject by type alone.
func (c *ProjectConfig) Validate() error {
	var errs []error

	switch c.Engine.Type {
	case EngineLocal, EngineCopilot:
	default:
		errs = append(errs, fmt.Errorf("engine.type must be %q or %q, got %q", EngineLocal, EngineCopilot, c.Engine.Type))
	}

	switch c.Engine.Counterpart {
	case CounterpartSimulated:
	case CounterpartCopilot:
		if c.Engine.Type != EngineCopilot {
			errs = append(errs, fmt.Errorf("engine.counterpart %q requires engine.type %q", CounterpartCopilot, EngineCopilot))
		}
	default:
		errs = append(errs, fmt.Errorf("engine.counterpart must be %q or %q, got %q", CounterpartSimulated, CounterpartCopilot, c.Engine.Counterpart))
	}

	if c.Swarm.MaxAgents < 1 {
		errs = append(errs, fmt.Errorf("swarm.max_agents must be at least 1, got %d", c.Swarm.MaxAgents))
	}
	if c.Swarm.Workers < 0 {
		errs = append(errs, fmt.Errorf("swarm.workers must not be negative, got %d", c.Swarm.Workers))
	}

	if p := c.Preferences; p != nil {
		req := models.UserRequest{Message: "-", Preferences: p}
		if err := req.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("preferences: %w", err))
		}
	}

	if c.Storage.AzureBlob.AccountURL != "" && c.Storage.AzureBlob.Container == "" {
		errs = append(errs, errors.New("storage.azure_blob.container is required with account_url"))
	}

	return errors.Join(errs...)
}

// Load finds .callpilot.yaml by walking up from startDir (max 10 levels),
// unmarshals it, and fills in missing fields with defaults.
// If no config file is found, returns defaults with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string) (*ProjectConfig, error) {
	cfg := New()

	data, dir, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}

	var fileCfg ProjectConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}

	mergeConfig(cfg, &fileCfg)
	cfg.Dir = dir
	return cfg, nil
}

// findConfigFile walks up from dir looking for .callpilot.yaml (max 10
// levels) and returns its contents and directory. Returns os.ErrNotExist if
// no config file is found.
func findConfigFile(dir string) ([]byte, string, error) {
	// Convert to absolute path so filepath.Dir(".") walks correctly.
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return data, dir, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return nil, "", os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	// Paths
	setString(&dst.Paths.Providers, src.Paths.Providers)
	setString(&dst.Paths.Transcripts, src.Paths.Transcripts)
	setString(&dst.Paths.SessionLog, src.Paths.SessionLog)

	// Swarm
	setInt(&dst.Swarm.MaxAgents, src.Swarm.MaxAgents)
	setInt(&dst.Swarm.Workers, src.Swarm.Workers)

	// Negotiation
	n := src.Negotiation
	setInt(&dst.Negotiation.MaxTurns, n.MaxTurns)
	setInt(&dst.Negotiation.TurnTimeoutSec, n.TurnTimeoutSec)
	setInt(&dst.Negotiation.PollIntervalMs, n.PollIntervalMs)
	if n.WarmUpMs != nil {
		dst.Negotiation.WarmUpMs = n.WarmUpMs
	}
	if n.GraceMs != nil {
		dst.Negotiation.GraceMs = n.GraceMs
	}
	setInt(&dst.Negotiation.DaysAhead, n.DaysAhead)
	setInt(&dst.Negotiation.DurationMinutes, n.DurationMinutes)
	setInt(&dst.Negotiation.MaxOptions, n.MaxOptions)

	// Engine
	setString(&dst.Engine.Type, src.Engine.Type)
	setString(&dst.Engine.Model, src.Engine.Model)
	setString(&dst.Engine.Counterpart, src.Engine.Counterpart)

	if src.Preferences != nil {
		dst.Preferences = src.Preferences
	}

	// Server
	setString(&dst.Server.Host, src.Server.Host)
	setInt(&dst.Server.Port, src.Server.Port)
	if len(src.Server.AllowedOrigins) > 0 {
		dst.Server.AllowedOrigins = src.Server.AllowedOrigins
	}

	// Storage
	if src.Storage.Enabled != nil {
		dst.Storage.Enabled = src.Storage.Enabled
	}
	if src.Storage.Compress != nil {
		dst.Storage.Compress = src.Storage.Compress
	}
	setString(&dst.Storage.AzureBlob.AccountURL, src.Storage.AzureBlob.AccountURL)
	setString(&dst.Storage.AzureBlob.Container, src.Storage.AzureBlob.Container)
	setString(&dst.Storage.AzureBlob.Prefix, src.Storage.AzureBlob.Prefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func msPtr(ms *int) time.Duration {
	if ms == nil {
		return 0
	}
	return time.Duration(*ms) * time.Millisecond
}

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}
