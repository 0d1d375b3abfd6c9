// Package config provides configuration management for Prodigy.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (PRODIGY_*)
// 3. Project config (.prodigy/config.yaml in cwd)
// 4. Home config (~/.prodigy/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all Prodigy configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// ProdigyHome is the Prodigy data directory (default: .prodigy).
	ProdigyHome string `yaml:"prodigy_home" json:"prodigy_home"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Assistant settings
	Assistant AssistantConfig `yaml:"assistant" json:"assistant"`

	// Worktree settings
	Worktree WorktreeConfig `yaml:"worktree" json:"worktree"`

	// MapReduce settings
	MapReduce MapReduceConfig `yaml:"mapreduce" json:"mapreduce"`

	// Paths settings for artifact locations (configurable, not hardcoded)
	Paths PathsConfig `yaml:"paths" json:"paths"`

	// Retry settings
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// AssistantConfig holds coding-assistant invocation settings.
type AssistantConfig struct {
	// Command is the CLI command used to spawn assistant sessions.
	// Default: "claude".
	Command string `yaml:"command" json:"command"`
	// SkipPermissions controls whether the assistant is invoked in
	// permission-skipping mode (PRODIGY_SKIP_PERMISSIONS).
	SkipPermissions bool `yaml:"skip_permissions" json:"skip_permissions"`
	// SkipPermissionsSet tracks whether SkipPermissions was explicitly set.
	SkipPermissionsSet bool `yaml:"-" json:"-"`
	// Streaming controls whether assistant output is consumed incrementally
	// (PRODIGY_ASSISTANT_STREAMING) rather than buffered until exit.
	Streaming bool `yaml:"streaming" json:"streaming"`
	// StreamingSet tracks whether Streaming was explicitly set.
	StreamingSet bool `yaml:"-" json:"-"`
}

// WorktreeConfig holds worktree-isolation settings.
type WorktreeConfig struct {
	// Mode controls worktree behavior for a run.
	// Values: "auto" (default, creates worktree for map/reduce work),
	// "always" (force worktree), "never" (no worktree).
	Mode string `yaml:"mode" json:"mode"`
}

// MapReduceConfig holds MapReduce-coordinator defaults.
type MapReduceConfig struct {
	// MaxParallel is the default agent pool size when a workflow's map spec
	// omits max_parallel.
	MaxParallel int `yaml:"max_parallel" json:"max_parallel"`
	// TimeoutPerAgent is the default per-agent timeout (e.g. "10m") when a
	// workflow's map spec omits timeout_per_agent.
	TimeoutPerAgent string `yaml:"timeout_per_agent" json:"timeout_per_agent"`
}

// RetryConfig holds command-executor retry/backoff defaults.
type RetryConfig struct {
	// MaxAttempts is the default retry ceiling for a step that sets retry
	// without an explicit count.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// InitialInterval is the backoff starting interval (e.g. "500ms").
	InitialInterval string `yaml:"initial_interval" json:"initial_interval"`
}

// PathsConfig holds configurable paths for artifact locations.
type PathsConfig struct {
	// CheckpointDir is where sequential and MapReduce checkpoints are stored.
	// Default: .prodigy/checkpoints
	CheckpointDir string `yaml:"checkpoint_dir" json:"checkpoint_dir"`

	// DLQDir is where dead-lettered work items are stored.
	// Default: .prodigy/dlq
	DLQDir string `yaml:"dlq_dir" json:"dlq_dir"`

	// EventsDir is where event log JSONL files are written.
	// Default: .prodigy/events
	EventsDir string `yaml:"events_dir" json:"events_dir"`

	// SessionsDir is where worktree session records live.
	// Default: .prodigy/sessions
	SessionsDir string `yaml:"sessions_dir" json:"sessions_dir"`

	// TranscriptsDir is where assistant transcripts are located.
	// Default: ~/.claude/projects
	TranscriptsDir string `yaml:"transcripts_dir" json:"transcripts_dir"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput      = "table"
	defaultProdigyHome = ".prodigy"
)

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Output:      defaultOutput,
		ProdigyHome: defaultProdigyHome,
		Verbose:     false,
		Assistant: AssistantConfig{
			Command:         "claude",
			SkipPermissions: false,
			Streaming:       true,
		},
		Worktree: WorktreeConfig{
			Mode: "auto",
		},
		MapReduce: MapReduceConfig{
			MaxParallel:     5,
			TimeoutPerAgent: "10m",
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: "500ms",
		},
		Paths: PathsConfig{
			CheckpointDir:  ".prodigy/checkpoints",
			DLQDir:         ".prodigy/dlq",
			EventsDir:      ".prodigy/events",
			SessionsDir:    ".prodigy/sessions",
			TranscriptsDir: filepath.Join(homeDir, ".claude", "projects"),
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load project config
	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".prodigy", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("PRODIGY_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".prodigy", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("PRODIGY_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("PRODIGY_HOME"); v != "" {
		cfg.ProdigyHome = v
	}
	if v := os.Getenv("PRODIGY_VERBOSE"); v == "true" || v == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("PRODIGY_ASSISTANT_COMMAND"); v != "" {
		cfg.Assistant.Command = v
	}
	if v := os.Getenv("PRODIGY_SKIP_PERMISSIONS"); v == "true" || v == "1" {
		cfg.Assistant.SkipPermissions = true
		cfg.Assistant.SkipPermissionsSet = true
	}
	if v, ok := os.LookupEnv("PRODIGY_ASSISTANT_STREAMING"); ok {
		cfg.Assistant.Streaming = v == "true" || v == "1"
		cfg.Assistant.StreamingSet = true
	}
	if v := os.Getenv("PRODIGY_WORKTREE_MODE"); v != "" {
		cfg.Worktree.Mode = v
	}
	if v := os.Getenv("PRODIGY_MAPREDUCE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MapReduce.MaxParallel = n
		}
	}
	if v := os.Getenv("PRODIGY_MAPREDUCE_TIMEOUT_PER_AGENT"); v != "" {
		cfg.MapReduce.TimeoutPerAgent = v
	}
	if v := os.Getenv("PRODIGY_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence.
// For booleans, we need explicit tracking via pointer or separate "set" flag.
func merge(dst, src *Config) *Config {
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.ProdigyHome != "" {
		dst.ProdigyHome = src.ProdigyHome
	}
	if src.Verbose {
		dst.Verbose = true
	}

	// Merge Assistant config
	if src.Assistant.Command != "" {
		dst.Assistant.Command = src.Assistant.Command
	}
	if src.Assistant.SkipPermissionsSet {
		dst.Assistant.SkipPermissions = src.Assistant.SkipPermissions
		dst.Assistant.SkipPermissionsSet = true
	}
	if src.Assistant.StreamingSet {
		dst.Assistant.Streaming = src.Assistant.Streaming
		dst.Assistant.StreamingSet = true
	}

	// Merge Worktree config
	if src.Worktree.Mode != "" {
		dst.Worktree.Mode = src.Worktree.Mode
	}

	// Merge MapReduce config
	if src.MapReduce.MaxParallel != 0 {
		dst.MapReduce.MaxParallel = src.MapReduce.MaxParallel
	}
	if src.MapReduce.TimeoutPerAgent != "" {
		dst.MapReduce.TimeoutPerAgent = src.MapReduce.TimeoutPerAgent
	}

	// Merge Retry config
	if src.Retry.MaxAttempts != 0 {
		dst.Retry.MaxAttempts = src.Retry.MaxAttempts
	}
	if src.Retry.InitialInterval != "" {
		dst.Retry.InitialInterval = src.Retry.InitialInterval
	}

	// Merge paths (configurable, not hardcoded)
	if src.Paths.CheckpointDir != "" {
		dst.Paths.CheckpointDir = src.Paths.CheckpointDir
	}
	if src.Paths.DLQDir != "" {
		dst.Paths.DLQDir = src.Paths.DLQDir
	}
	if src.Paths.EventsDir != "" {
		dst.Paths.EventsDir = src.Paths.EventsDir
	}
	if src.Paths.SessionsDir != "" {
		dst.Paths.SessionsDir = src.Paths.SessionsDir
	}
	if src.Paths.TranscriptsDir != "" {
		dst.Paths.TranscriptsDir = src.Paths.TranscriptsDir
	}

	return dst
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.prodigy/config.yaml"
	SourceProject Source = ".prodigy/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// getEnvString returns the value and whether the env var was set.
func getEnvString(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

// getEnvBool returns the boolean value and whether it was truthy.
func getEnvBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "true" || v == "1" {
		return true, true
	}
	return false, false
}

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(home, project, env, flag, def string) resolved {
	// Start with default
	result := resolved{Value: def, Source: SourceDefault}

	// Home config overrides default
	if home != "" {
		result = resolved{Value: home, Source: SourceHome}
	}

	// Project config overrides home
	if project != "" {
		result = resolved{Value: project, Source: SourceProject}
	}

	// Environment overrides project
	if env != "" {
		result = resolved{Value: env, Source: SourceEnv}
	}

	// Flag overrides everything (if set)
	if flag != "" {
		result = resolved{Value: flag, Source: SourceFlag}
	}

	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output             resolved `json:"output"`
	ProdigyHome        resolved `json:"prodigy_home"`
	Verbose            resolved `json:"verbose"`
	WorktreeMode       resolved `json:"worktree_mode"`
	AssistantCommand   resolved `json:"assistant_command"`
	SkipPermissions    resolved `json:"skip_permissions"`
	AssistantStreaming resolved `json:"assistant_streaming"`
}

type resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flagOutput, flagProdigyHome string, flagVerbose bool) *ResolvedConfig {
	// Load configs once
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	// Get config values (empty string if not set)
	var homeOutput, homeProdigyHome string
	var homeVerbose bool
	var homeWorktreeMode, homeAssistantCommand string
	if homeConfig != nil {
		homeOutput = homeConfig.Output
		homeProdigyHome = homeConfig.ProdigyHome
		homeVerbose = homeConfig.Verbose
		homeWorktreeMode = homeConfig.Worktree.Mode
		homeAssistantCommand = homeConfig.Assistant.Command
	}

	var projectOutput, projectProdigyHome string
	var projectVerbose bool
	var projectWorktreeMode, projectAssistantCommand string
	if projectConfig != nil {
		projectOutput = projectConfig.Output
		projectProdigyHome = projectConfig.ProdigyHome
		projectVerbose = projectConfig.Verbose
		projectWorktreeMode = projectConfig.Worktree.Mode
		projectAssistantCommand = projectConfig.Assistant.Command
	}

	// Get environment values
	envOutput, _ := getEnvString("PRODIGY_OUTPUT")
	envProdigyHome, _ := getEnvString("PRODIGY_HOME")
	envVerbose, envVerboseSet := getEnvBool("PRODIGY_VERBOSE")
	envWorktreeMode, _ := getEnvString("PRODIGY_WORKTREE_MODE")
	envAssistantCommand, _ := getEnvString("PRODIGY_ASSISTANT_COMMAND")
	envSkipPermissions, envSkipPermissionsSet := getEnvBool("PRODIGY_SKIP_PERMISSIONS")
	envStreaming, envStreamingSet := getEnvString("PRODIGY_ASSISTANT_STREAMING")

	// Resolve string fields through precedence chain
	rc := &ResolvedConfig{
		Output:             resolveStringField(homeOutput, projectOutput, envOutput, flagOutput, defaultOutput),
		ProdigyHome:        resolveStringField(homeProdigyHome, projectProdigyHome, envProdigyHome, flagProdigyHome, defaultProdigyHome),
		Verbose:            resolved{Value: false, Source: SourceDefault},
		WorktreeMode:       resolveStringField(homeWorktreeMode, projectWorktreeMode, envWorktreeMode, "", "auto"),
		AssistantCommand:   resolveStringField(homeAssistantCommand, projectAssistantCommand, envAssistantCommand, "", "claude"),
		SkipPermissions:    resolved{Value: false, Source: SourceDefault},
		AssistantStreaming: resolved{Value: true, Source: SourceDefault},
	}

	// Resolve verbose (boolean with OR semantics through chain)
	if homeVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceHome}
	}
	if projectVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceProject}
	}
	if envVerboseSet && envVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = resolved{Value: true, Source: SourceFlag}
	}

	// Resolve skip-permissions (env-only override today; no CLI flag wired yet)
	if envSkipPermissionsSet && envSkipPermissions {
		rc.SkipPermissions = resolved{Value: true, Source: SourceEnv}
	}

	// Resolve assistant streaming (defaults true, env can disable)
	if envStreamingSet {
		rc.AssistantStreaming = resolved{Value: envStreaming == "true" || envStreaming == "1", Source: SourceEnv}
	}

	return rc
}
