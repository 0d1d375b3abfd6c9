package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Output != "table" {
		t.Errorf("Default Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.ProdigyHome != ".prodigy" {
		t.Errorf("Default ProdigyHome = %q, want %q", cfg.ProdigyHome, ".prodigy")
	}
	if cfg.Verbose {
		t.Error("Default Verbose = true, want false")
	}
	if cfg.Assistant.Command != "claude" {
		t.Errorf("Default Assistant.Command = %q, want %q", cfg.Assistant.Command, "claude")
	}
	if !cfg.Assistant.Streaming {
		t.Error("Default Assistant.Streaming = false, want true")
	}
	if cfg.MapReduce.MaxParallel != 5 {
		t.Errorf("Default MapReduce.MaxParallel = %d, want %d", cfg.MapReduce.MaxParallel, 5)
	}
}

func TestMerge(t *testing.T) {
	dst := Default()
	src := &Config{
		Output:      "json",
		ProdigyHome: "/custom/path",
	}

	result := merge(dst, src)

	if result.Output != "json" {
		t.Errorf("merge Output = %q, want %q", result.Output, "json")
	}
	if result.ProdigyHome != "/custom/path" {
		t.Errorf("merge ProdigyHome = %q, want %q", result.ProdigyHome, "/custom/path")
	}
	// Defaults should be preserved when not overridden
	if result.MapReduce.MaxParallel != 5 {
		t.Errorf("merge preserved MaxParallel = %d, want %d", result.MapReduce.MaxParallel, 5)
	}
}

func TestMerge_BooleanOverride(t *testing.T) {
	dst := Default()
	if dst.Assistant.SkipPermissions {
		t.Fatal("Precondition: default SkipPermissions should be false")
	}

	// Test explicit true override
	src := &Config{
		Assistant: AssistantConfig{
			SkipPermissions:    true,
			SkipPermissionsSet: true,
		},
	}

	result := merge(dst, src)

	if !result.Assistant.SkipPermissions {
		t.Error("merge should override SkipPermissions to true")
	}
	if !result.Assistant.SkipPermissionsSet {
		t.Error("merge should set SkipPermissionsSet")
	}
}

func TestMerge_BooleanNotSet(t *testing.T) {
	dst := Default()
	src := &Config{
		Output: "json",
		// SkipPermissionsSet is false (default)
	}

	result := merge(dst, src)

	// Should keep default (false) since not explicitly set
	if result.Assistant.SkipPermissions {
		t.Error("merge should preserve default SkipPermissions when not set")
	}
}

func TestApplyEnv(t *testing.T) {
	// Save and restore env
	origOutput := os.Getenv("PRODIGY_OUTPUT")
	origVerbose := os.Getenv("PRODIGY_VERBOSE")
	origSkip := os.Getenv("PRODIGY_SKIP_PERMISSIONS")
	defer func() {
		_ = os.Setenv("PRODIGY_OUTPUT", origOutput)        //nolint:errcheck // test env restore
		_ = os.Setenv("PRODIGY_VERBOSE", origVerbose)       //nolint:errcheck // test env restore
		_ = os.Setenv("PRODIGY_SKIP_PERMISSIONS", origSkip) //nolint:errcheck // test env restore
	}()

	_ = os.Setenv("PRODIGY_OUTPUT", "yaml")        //nolint:errcheck // test env setup
	_ = os.Setenv("PRODIGY_VERBOSE", "true")       //nolint:errcheck // test env setup
	_ = os.Setenv("PRODIGY_SKIP_PERMISSIONS", "1") //nolint:errcheck // test env setup

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Output != "yaml" {
		t.Errorf("applyEnv Output = %q, want %q", cfg.Output, "yaml")
	}
	if !cfg.Verbose {
		t.Error("applyEnv Verbose = false, want true")
	}
	if !cfg.Assistant.SkipPermissions {
		t.Error("applyEnv SkipPermissions = false, want true")
	}
	if !cfg.Assistant.SkipPermissionsSet {
		t.Error("applyEnv should set SkipPermissionsSet when PRODIGY_SKIP_PERMISSIONS is set")
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Write test config
	content := `
output: json
prodigy_home: /custom/olympus
verbose: true
mapreduce:
  max_parallel: 20
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(configPath)
	if err != nil {
		t.Fatalf("loadFromPath() error = %v", err)
	}

	if cfg.Output != "json" {
		t.Errorf("loadFromPath Output = %q, want %q", cfg.Output, "json")
	}
	if cfg.ProdigyHome != "/custom/olympus" {
		t.Errorf("loadFromPath ProdigyHome = %q, want %q", cfg.ProdigyHome, "/custom/olympus")
	}
	if !cfg.Verbose {
		t.Error("loadFromPath Verbose = false, want true")
	}
	if cfg.MapReduce.MaxParallel != 20 {
		t.Errorf("loadFromPath MaxParallel = %d, want %d", cfg.MapReduce.MaxParallel, 20)
	}
}

func TestLoadFromPath_NotExists(t *testing.T) {
	cfg, err := loadFromPath("/nonexistent/config.yaml")
	// Should return nil config and error, but not panic
	if cfg != nil {
		t.Errorf("loadFromPath for nonexistent file should return nil config")
	}
	if err == nil {
		t.Errorf("loadFromPath for nonexistent file should return error")
	}
}

func TestLoadFromPath_Empty(t *testing.T) {
	cfg, err := loadFromPath("")
	if cfg != nil || err != nil {
		t.Errorf("loadFromPath(\"\") = %v, %v; want nil, nil", cfg, err)
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	// Test that flag overrides take precedence
	rc := Resolve("json", "/flag/path", true)

	if rc.Output.Value != "json" {
		t.Errorf("Resolve Output.Value = %v, want %q", rc.Output.Value, "json")
	}
	if rc.Output.Source != SourceFlag {
		t.Errorf("Resolve Output.Source = %v, want %v", rc.Output.Source, SourceFlag)
	}
	if rc.ProdigyHome.Value != "/flag/path" {
		t.Errorf("Resolve ProdigyHome.Value = %v, want %q", rc.ProdigyHome.Value, "/flag/path")
	}
	if rc.Verbose.Value != true {
		t.Errorf("Resolve Verbose.Value = %v, want true", rc.Verbose.Value)
	}
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	// No flags, no env, should get defaults
	for _, key := range []string{"PRODIGY_OUTPUT", "PRODIGY_HOME", "PRODIGY_VERBOSE"} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "table" {
		t.Errorf("Resolve default Output.Value = %v, want %q", rc.Output.Value, "table")
	}
	if rc.Verbose.Value != false {
		t.Errorf("Resolve default Verbose.Value = %v, want false", rc.Verbose.Value)
	}
}

func TestResolve_EnvOverride(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	t.Setenv("PRODIGY_OUTPUT", "yaml")
	t.Setenv("PRODIGY_HOME", "/env/path")
	t.Setenv("PRODIGY_VERBOSE", "1")

	rc := Resolve("", "", false)

	if rc.Output.Value != "yaml" {
		t.Errorf("Resolve env Output.Value = %v, want %q", rc.Output.Value, "yaml")
	}
	if rc.Output.Source != SourceEnv {
		t.Errorf("Resolve env Output.Source = %v, want %v", rc.Output.Source, SourceEnv)
	}
	if rc.ProdigyHome.Value != "/env/path" {
		t.Errorf("Resolve env ProdigyHome.Value = %v, want %q", rc.ProdigyHome.Value, "/env/path")
	}
	if rc.ProdigyHome.Source != SourceEnv {
		t.Errorf("Resolve env ProdigyHome.Source = %v, want %v", rc.ProdigyHome.Source, SourceEnv)
	}
	if rc.Verbose.Value != true {
		t.Errorf("Resolve env Verbose.Value = %v, want true", rc.Verbose.Value)
	}
	if rc.Verbose.Source != SourceEnv {
		t.Errorf("Resolve env Verbose.Source = %v, want %v", rc.Verbose.Source, SourceEnv)
	}
}

func TestResolve_AssistantEnvOverrides(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "always")
	t.Setenv("PRODIGY_ASSISTANT_COMMAND", "codex")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "1")
	t.Setenv("PRODIGY_ASSISTANT_STREAMING", "false")

	rc := Resolve("", "", false)

	if rc.WorktreeMode.Value != "always" || rc.WorktreeMode.Source != SourceEnv {
		t.Fatalf("WorktreeMode = (%v, %v), want (always, %v)", rc.WorktreeMode.Value, rc.WorktreeMode.Source, SourceEnv)
	}
	if rc.AssistantCommand.Value != "codex" || rc.AssistantCommand.Source != SourceEnv {
		t.Fatalf("AssistantCommand = (%v, %v), want (codex, %v)", rc.AssistantCommand.Value, rc.AssistantCommand.Source, SourceEnv)
	}
	if rc.SkipPermissions.Value != true || rc.SkipPermissions.Source != SourceEnv {
		t.Fatalf("SkipPermissions = (%v, %v), want (true, %v)", rc.SkipPermissions.Value, rc.SkipPermissions.Source, SourceEnv)
	}
	if rc.AssistantStreaming.Value != false || rc.AssistantStreaming.Source != SourceEnv {
		t.Fatalf("AssistantStreaming = (%v, %v), want (false, %v)", rc.AssistantStreaming.Value, rc.AssistantStreaming.Source, SourceEnv)
	}
}

func TestResolveStringField(t *testing.T) {
	tests := []struct {
		name       string
		home       string
		project    string
		env        string
		flag       string
		def        string
		wantValue  string
		wantSource Source
	}{
		{
			name:       "default only",
			def:        "table",
			wantValue:  "table",
			wantSource: SourceDefault,
		},
		{
			name:       "home overrides default",
			home:       "json",
			def:        "table",
			wantValue:  "json",
			wantSource: SourceHome,
		},
		{
			name:       "project overrides home",
			home:       "json",
			project:    "yaml",
			def:        "table",
			wantValue:  "yaml",
			wantSource: SourceProject,
		},
		{
			name:       "env overrides project",
			home:       "json",
			project:    "yaml",
			env:        "csv",
			def:        "table",
			wantValue:  "csv",
			wantSource: SourceEnv,
		},
		{
			name:       "flag overrides everything",
			home:       "json",
			project:    "yaml",
			env:        "csv",
			flag:       "text",
			def:        "table",
			wantValue:  "text",
			wantSource: SourceFlag,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStringField(tt.home, tt.project, tt.env, tt.flag, tt.def)
			if got.Value != tt.wantValue {
				t.Errorf("resolveStringField() Value = %v, want %v", got.Value, tt.wantValue)
			}
			if got.Source != tt.wantSource {
				t.Errorf("resolveStringField() Source = %v, want %v", got.Source, tt.wantSource)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		wantBool bool
		wantSet  bool
	}{
		{name: "true string", envVal: "true", wantBool: true, wantSet: true},
		{name: "1 string", envVal: "1", wantBool: true, wantSet: true},
		{name: "false string", envVal: "false", wantBool: false, wantSet: false},
		{name: "empty string", envVal: "", wantBool: false, wantSet: false},
		{name: "random string", envVal: "yes", wantBool: false, wantSet: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL_KEY", tt.envVal)
			gotBool, gotSet := getEnvBool("TEST_BOOL_KEY")
			if gotBool != tt.wantBool {
				t.Errorf("getEnvBool() bool = %v, want %v", gotBool, tt.wantBool)
			}
			if gotSet != tt.wantSet {
				t.Errorf("getEnvBool() set = %v, want %v", gotSet, tt.wantSet)
			}
		})
	}
}

func TestGetEnvString(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		wantVal string
		wantSet bool
	}{
		{name: "set value", envVal: "hello", wantVal: "hello", wantSet: true},
		{name: "empty value", envVal: "", wantVal: "", wantSet: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_STR_KEY", tt.envVal)
			gotVal, gotSet := getEnvString("TEST_STR_KEY")
			if gotVal != tt.wantVal {
				t.Errorf("getEnvString() val = %q, want %q", gotVal, tt.wantVal)
			}
			if gotSet != tt.wantSet {
				t.Errorf("getEnvString() set = %v, want %v", gotSet, tt.wantSet)
			}
		})
	}
}

func TestApplyEnv_ProdigyHome(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_HOME", "/env/base")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.ProdigyHome != "/env/base" {
		t.Errorf("applyEnv ProdigyHome = %q, want %q", cfg.ProdigyHome, "/env/base")
	}
}

func TestApplyEnv_VerboseVariants(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		wantVer bool
	}{
		{name: "true", envVal: "true", wantVer: true},
		{name: "1", envVal: "1", wantVer: true},
		{name: "false", envVal: "false", wantVer: false},
		{name: "empty", envVal: "", wantVer: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PRODIGY_OUTPUT", "")
			t.Setenv("PRODIGY_HOME", "")
			t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
			t.Setenv("PRODIGY_VERBOSE", tt.envVal)

			cfg := Default()
			cfg = applyEnv(cfg)

			if cfg.Verbose != tt.wantVer {
				t.Errorf("applyEnv Verbose = %v, want %v for PRODIGY_VERBOSE=%q", cfg.Verbose, tt.wantVer, tt.envVal)
			}
		})
	}
}

func TestApplyEnv_SkipPermissionsVariants(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		wantSkip bool
		wantSet  bool
	}{
		{name: "true enables skip", envVal: "true", wantSkip: true, wantSet: true},
		{name: "1 enables skip", envVal: "1", wantSkip: true, wantSet: true},
		{name: "false keeps default", envVal: "false", wantSkip: false, wantSet: false},
		{name: "empty keeps default", envVal: "", wantSkip: false, wantSet: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PRODIGY_OUTPUT", "")
			t.Setenv("PRODIGY_HOME", "")
			t.Setenv("PRODIGY_VERBOSE", "")
			t.Setenv("PRODIGY_SKIP_PERMISSIONS", tt.envVal)

			cfg := Default()
			cfg = applyEnv(cfg)

			if cfg.Assistant.SkipPermissions != tt.wantSkip {
				t.Errorf("applyEnv SkipPermissions = %v, want %v", cfg.Assistant.SkipPermissions, tt.wantSkip)
			}
			if cfg.Assistant.SkipPermissionsSet != tt.wantSet {
				t.Errorf("applyEnv SkipPermissionsSet = %v, want %v", cfg.Assistant.SkipPermissionsSet, tt.wantSet)
			}
		})
	}
}

func TestMerge_Paths(t *testing.T) {
	dst := Default()
	src := &Config{
		Paths: PathsConfig{
			CheckpointDir:  "/custom/checkpoints",
			DLQDir:         "/custom/dlq",
			EventsDir:      "/custom/events",
			SessionsDir:    "/custom/sessions",
			TranscriptsDir: "/custom/transcripts",
		},
	}

	result := merge(dst, src)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"CheckpointDir", result.Paths.CheckpointDir, "/custom/checkpoints"},
		{"DLQDir", result.Paths.DLQDir, "/custom/dlq"},
		{"EventsDir", result.Paths.EventsDir, "/custom/events"},
		{"SessionsDir", result.Paths.SessionsDir, "/custom/sessions"},
		{"TranscriptsDir", result.Paths.TranscriptsDir, "/custom/transcripts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("merge Paths.%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestMerge_PathsPreservedWhenEmpty(t *testing.T) {
	dst := Default()
	src := &Config{
		Output: "json",
		// All Paths fields are empty strings (zero value)
	}

	result := merge(dst, src)

	// Defaults should be preserved
	if result.Paths.CheckpointDir != ".prodigy/checkpoints" {
		t.Errorf("merge should preserve default CheckpointDir, got %q", result.Paths.CheckpointDir)
	}
	if result.Paths.DLQDir != ".prodigy/dlq" {
		t.Errorf("merge should preserve default DLQDir, got %q", result.Paths.DLQDir)
	}
}

func TestMerge_RetryOverrides(t *testing.T) {
	dst := Default()
	src := &Config{
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: "1s",
		},
	}

	result := merge(dst, src)

	if result.Retry.MaxAttempts != 5 {
		t.Errorf("merge Retry.MaxAttempts = %d, want 5", result.Retry.MaxAttempts)
	}
	if result.Retry.InitialInterval != "1s" {
		t.Errorf("merge Retry.InitialInterval = %q, want %q", result.Retry.InitialInterval, "1s")
	}
}

func TestMerge_VerboseOverride(t *testing.T) {
	dst := Default()
	src := &Config{Verbose: true}

	result := merge(dst, src)

	if !result.Verbose {
		t.Error("merge Verbose = false, want true")
	}
}

func TestMerge_MapReduceMaxParallel(t *testing.T) {
	dst := Default()
	src := &Config{
		MapReduce: MapReduceConfig{MaxParallel: 50},
	}

	result := merge(dst, src)

	if result.MapReduce.MaxParallel != 50 {
		t.Errorf("merge MapReduce.MaxParallel = %d, want 50", result.MapReduce.MaxParallel)
	}
}

func TestLoad_WithFlagOverrides(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	// Clear env vars to avoid interference
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")

	overrides := &Config{
		Output:      "json",
		ProdigyHome: "/flag/base",
		Verbose:     true,
	}

	cfg, err := Load(overrides)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "json" {
		t.Errorf("Load Output = %q, want %q", cfg.Output, "json")
	}
	if cfg.ProdigyHome != "/flag/base" {
		t.Errorf("Load ProdigyHome = %q, want %q", cfg.ProdigyHome, "/flag/base")
	}
	if !cfg.Verbose {
		t.Error("Load Verbose = false, want true")
	}
}

func TestLoad_NilOverrides(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Should get defaults
	if cfg.Output != "table" {
		t.Errorf("Load nil Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.ProdigyHome != ".prodigy" {
		t.Errorf("Load nil ProdigyHome = %q, want %q", cfg.ProdigyHome, ".prodigy")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRODIGY_CONFIG", "")
	t.Setenv("PRODIGY_OUTPUT", "yaml")
	t.Setenv("PRODIGY_HOME", "/env/dir")
	t.Setenv("PRODIGY_VERBOSE", "1")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "yaml" {
		t.Errorf("Load env Output = %q, want %q", cfg.Output, "yaml")
	}
	if cfg.ProdigyHome != "/env/dir" {
		t.Errorf("Load env ProdigyHome = %q, want %q", cfg.ProdigyHome, "/env/dir")
	}
	if !cfg.Verbose {
		t.Error("Load env Verbose = false, want true")
	}
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `{{{invalid yaml`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(configPath)
	if err == nil {
		t.Error("loadFromPath for invalid YAML should return error")
	}
	if cfg != nil {
		t.Error("loadFromPath for invalid YAML should return nil config")
	}
}

func TestDefault_Paths(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"CheckpointDir", cfg.Paths.CheckpointDir, ".prodigy/checkpoints"},
		{"DLQDir", cfg.Paths.DLQDir, ".prodigy/dlq"},
		{"EventsDir", cfg.Paths.EventsDir, ".prodigy/events"},
		{"SessionsDir", cfg.Paths.SessionsDir, ".prodigy/sessions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Default Paths.%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}

	// Home-relative path should contain home dir
	homeDir, _ := os.UserHomeDir()
	if cfg.Paths.TranscriptsDir != filepath.Join(homeDir, ".claude", "projects") {
		t.Errorf("Default Paths.TranscriptsDir = %q, want suffix .claude/projects", cfg.Paths.TranscriptsDir)
	}
}

func TestDefault_MapReduce(t *testing.T) {
	cfg := Default()

	if cfg.MapReduce.MaxParallel != 5 {
		t.Errorf("Default MapReduce.MaxParallel = %d, want 5", cfg.MapReduce.MaxParallel)
	}
	if cfg.MapReduce.TimeoutPerAgent != "10m" {
		t.Errorf("Default MapReduce.TimeoutPerAgent = %q, want %q", cfg.MapReduce.TimeoutPerAgent, "10m")
	}
}

func TestDefault_Assistant(t *testing.T) {
	cfg := Default()
	if cfg.Worktree.Mode != "auto" {
		t.Errorf("Default Worktree.Mode = %q, want %q", cfg.Worktree.Mode, "auto")
	}
	if cfg.Assistant.Command != "claude" {
		t.Errorf("Default Assistant.Command = %q, want %q", cfg.Assistant.Command, "claude")
	}
	if cfg.Assistant.SkipPermissions {
		t.Error("Default Assistant.SkipPermissions = true, want false")
	}
	if !cfg.Assistant.Streaming {
		t.Error("Default Assistant.Streaming = false, want true")
	}
}

func TestMerge_Assistant(t *testing.T) {
	dst := Default()
	src := &Config{
		Assistant: AssistantConfig{
			Command:            "codex",
			SkipPermissions:    true,
			SkipPermissionsSet: true,
			Streaming:          false,
			StreamingSet:       true,
		},
		Worktree: WorktreeConfig{
			Mode: "never",
		},
	}

	result := merge(dst, src)
	if result.Worktree.Mode != "never" {
		t.Errorf("merge Worktree.Mode = %q, want %q", result.Worktree.Mode, "never")
	}
	if result.Assistant.Command != "codex" {
		t.Errorf("merge Assistant.Command = %q, want %q", result.Assistant.Command, "codex")
	}
	if !result.Assistant.SkipPermissions {
		t.Error("merge Assistant.SkipPermissions = false, want true")
	}
	if result.Assistant.Streaming {
		t.Error("merge Assistant.Streaming = true, want false")
	}
}

func TestMerge_MapReduceTimeout(t *testing.T) {
	dst := Default()
	src := &Config{
		MapReduce: MapReduceConfig{
			TimeoutPerAgent: "20m",
		},
	}

	result := merge(dst, src)
	if result.MapReduce.TimeoutPerAgent != "20m" {
		t.Errorf("merge MapReduce.TimeoutPerAgent = %q, want %q", result.MapReduce.TimeoutPerAgent, "20m")
	}
}

func TestMerge_AssistantPreservedWhenEmpty(t *testing.T) {
	dst := Default()
	src := &Config{
		Output: "json",
		// Assistant/Worktree fields are empty/zero
	}

	result := merge(dst, src)
	if result.Worktree.Mode != "auto" {
		t.Errorf("merge should preserve default Worktree.Mode, got %q", result.Worktree.Mode)
	}
	if result.Assistant.Command != "claude" {
		t.Errorf("merge should preserve default Assistant.Command, got %q", result.Assistant.Command)
	}
}

func TestApplyEnv_WorktreeMode(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "never")
	t.Setenv("PRODIGY_ASSISTANT_COMMAND", "")
	t.Setenv("PRODIGY_ASSISTANT_STREAMING", "")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Worktree.Mode != "never" {
		t.Errorf("applyEnv Worktree.Mode = %q, want %q", cfg.Worktree.Mode, "never")
	}
}

func TestApplyEnv_MapReduceMaxParallel(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "")
	t.Setenv("PRODIGY_MAPREDUCE_MAX_PARALLEL", "12")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.MapReduce.MaxParallel != 12 {
		t.Errorf("applyEnv MapReduce.MaxParallel = %d, want %d", cfg.MapReduce.MaxParallel, 12)
	}
}

func TestApplyEnv_WorktreeModeEmpty(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Worktree.Mode != "auto" {
		t.Errorf("applyEnv Worktree.Mode = %q, want %q (unchanged from default)", cfg.Worktree.Mode, "auto")
	}
}

func TestApplyEnv_AssistantStreaming(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "")
	t.Setenv("PRODIGY_ASSISTANT_STREAMING", "false")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Assistant.Streaming {
		t.Error("applyEnv Assistant.Streaming = true, want false")
	}
	if !cfg.Assistant.StreamingSet {
		t.Error("applyEnv should set Assistant.StreamingSet")
	}
}

func TestApplyEnv_AssistantCommand(t *testing.T) {
	t.Setenv("PRODIGY_OUTPUT", "")
	t.Setenv("PRODIGY_HOME", "")
	t.Setenv("PRODIGY_VERBOSE", "")
	t.Setenv("PRODIGY_SKIP_PERMISSIONS", "")
	t.Setenv("PRODIGY_WORKTREE_MODE", "")
	t.Setenv("PRODIGY_ASSISTANT_STREAMING", "")
	t.Setenv("PRODIGY_ASSISTANT_COMMAND", "codex")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Assistant.Command != "codex" {
		t.Errorf("applyEnv Assistant.Command = %q, want %q", cfg.Assistant.Command, "codex")
	}
}

func TestLoadFromPath_WithAssistant(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
worktree:
  mode: always
assistant:
  command: codex
  streaming: false
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(configPath)
	if err != nil {
		t.Fatalf("loadFromPath() error = %v", err)
	}
	if cfg.Worktree.Mode != "always" {
		t.Errorf("loadFromPath Worktree.Mode = %q, want %q", cfg.Worktree.Mode, "always")
	}
	if cfg.Assistant.Command != "codex" {
		t.Errorf("loadFromPath Assistant.Command = %q, want %q", cfg.Assistant.Command, "codex")
	}
}

func TestProjectConfigPath_UsesProdigyConfigEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.yaml")
	t.Setenv("PRODIGY_CONFIG", configPath)

	got := projectConfigPath()
	if got != configPath {
		t.Fatalf("projectConfigPath() = %q, want %q", got, configPath)
	}
}

func TestProjectConfigPath_DefaultFromCwd(t *testing.T) {
	// When PRODIGY_CONFIG is not set, should use cwd
	t.Setenv("PRODIGY_CONFIG", "")
	got := projectConfigPath()
	cwd, _ := os.Getwd()
	expected := filepath.Join(cwd, ".prodigy", "config.yaml")
	if got != expected {
		t.Errorf("projectConfigPath() = %q, want %q", got, expected)
	}
}

func TestProjectConfigPath_WhitespaceOnlyConfig(t *testing.T) {
	// Whitespace-only PRODIGY_CONFIG should be treated as not set
	t.Setenv("PRODIGY_CONFIG", "  \t  ")
	got := projectConfigPath()
	cwd, _ := os.Getwd()
	expected := filepath.Join(cwd, ".prodigy", "config.yaml")
	if got != expected {
		t.Errorf("projectConfigPath() with whitespace = %q, want %q", got, expected)
	}
}

func TestResolve_WithProjectConfig(t *testing.T) {
	// Create a project config file and point PRODIGY_CONFIG at it
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
prodigy_home: /project/base
verbose: true
worktree:
  mode: never
assistant:
  command: custom-claude
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	// Set project config path
	t.Setenv("PRODIGY_CONFIG", configPath)
	// Clear all env overrides so project config values shine through
	for _, key := range []string{
		"PRODIGY_OUTPUT", "PRODIGY_HOME", "PRODIGY_VERBOSE",
		"PRODIGY_WORKTREE_MODE", "PRODIGY_ASSISTANT_COMMAND",
		"PRODIGY_SKIP_PERMISSIONS", "PRODIGY_ASSISTANT_STREAMING",
	} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "yaml" || rc.Output.Source != SourceProject {
		t.Errorf("Output = (%v, %v), want (yaml, %v)", rc.Output.Value, rc.Output.Source, SourceProject)
	}
	if rc.ProdigyHome.Value != "/project/base" || rc.ProdigyHome.Source != SourceProject {
		t.Errorf("ProdigyHome = (%v, %v), want (/project/base, %v)", rc.ProdigyHome.Value, rc.ProdigyHome.Source, SourceProject)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceProject {
		t.Errorf("Verbose = (%v, %v), want (true, %v)", rc.Verbose.Value, rc.Verbose.Source, SourceProject)
	}
	if rc.WorktreeMode.Value != "never" || rc.WorktreeMode.Source != SourceProject {
		t.Errorf("WorktreeMode = (%v, %v), want (never, %v)", rc.WorktreeMode.Value, rc.WorktreeMode.Source, SourceProject)
	}
	if rc.AssistantCommand.Value != "custom-claude" || rc.AssistantCommand.Source != SourceProject {
		t.Errorf("AssistantCommand = (%v, %v), want (custom-claude, %v)", rc.AssistantCommand.Value, rc.AssistantCommand.Source, SourceProject)
	}
}

func TestResolve_FlagOverridesProjectConfig(t *testing.T) {
	// Create a project config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
prodigy_home: /project/base
verbose: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRODIGY_CONFIG", configPath)
	for _, key := range []string{
		"PRODIGY_OUTPUT", "PRODIGY_HOME", "PRODIGY_VERBOSE",
		"PRODIGY_WORKTREE_MODE", "PRODIGY_ASSISTANT_COMMAND",
		"PRODIGY_SKIP_PERMISSIONS", "PRODIGY_ASSISTANT_STREAMING",
	} {
		t.Setenv(key, "")
	}

	// Flags should override project config
	rc := Resolve("json", "/flag/dir", true)

	if rc.Output.Value != "json" || rc.Output.Source != SourceFlag {
		t.Errorf("Flag should override project: Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.ProdigyHome.Value != "/flag/dir" || rc.ProdigyHome.Source != SourceFlag {
		t.Errorf("Flag should override project: ProdigyHome = (%v, %v)", rc.ProdigyHome.Value, rc.ProdigyHome.Source)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceFlag {
		t.Errorf("Flag should override project: Verbose = (%v, %v)", rc.Verbose.Value, rc.Verbose.Source)
	}
}

func TestResolve_EnvOverridesProjectConfig(t *testing.T) {
	// Create a project config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
prodigy_home: /project/base
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRODIGY_CONFIG", configPath)
	t.Setenv("PRODIGY_OUTPUT", "csv")
	t.Setenv("PRODIGY_HOME", "/env/dir")
	t.Setenv("PRODIGY_VERBOSE", "true")
	// Clear other env vars
	for _, key := range []string{
		"PRODIGY_WORKTREE_MODE", "PRODIGY_ASSISTANT_COMMAND",
		"PRODIGY_SKIP_PERMISSIONS", "PRODIGY_ASSISTANT_STREAMING",
	} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "csv" || rc.Output.Source != SourceEnv {
		t.Errorf("Env should override project: Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.ProdigyHome.Value != "/env/dir" || rc.ProdigyHome.Source != SourceEnv {
		t.Errorf("Env should override project: ProdigyHome = (%v, %v)", rc.ProdigyHome.Value, rc.ProdigyHome.Source)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceEnv {
		t.Errorf("Env should override project: Verbose = (%v, %v)", rc.Verbose.Value, rc.Verbose.Source)
	}
}

func TestLoad_WithProjectConfig(t *testing.T) {
	// Create project config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
prodigy_home: /project/prodigy
worktree:
  mode: always
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PRODIGY_CONFIG", configPath)
	for _, key := range []string{
		"PRODIGY_OUTPUT", "PRODIGY_HOME", "PRODIGY_VERBOSE",
		"PRODIGY_WORKTREE_MODE", "PRODIGY_ASSISTANT_COMMAND",
		"PRODIGY_SKIP_PERMISSIONS", "PRODIGY_ASSISTANT_STREAMING",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "yaml" {
		t.Errorf("Load with project config Output = %q, want %q", cfg.Output, "yaml")
	}
	if cfg.ProdigyHome != "/project/prodigy" {
		t.Errorf("Load with project config ProdigyHome = %q, want %q", cfg.ProdigyHome, "/project/prodigy")
	}
	if cfg.Worktree.Mode != "always" {
		t.Errorf("Load with project config Worktree.Mode = %q, want %q", cfg.Worktree.Mode, "always")
	}
}
