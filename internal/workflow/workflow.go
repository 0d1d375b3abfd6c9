// Package workflow holds the shared, immutable-after-load data model for a
// Prodigy pipeline: workflow definitions, steps, work items, and the
// MapReduce job state they drive. Nothing in this package performs I/O.
package workflow

import "fmt"

// Mode selects the top-level execution strategy for a Workflow.
type Mode int

const (
	// ModeSequential runs Steps one after another in a single worktree.
	ModeSequential Mode = iota
	// ModeMapReduce runs a Setup/Map/Reduce pipeline with parallel agents.
	ModeMapReduce
	// ModeDryRun validates and plans a workflow without executing anything.
	ModeDryRun
)

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeMapReduce:
		return "mapreduce"
	case ModeDryRun:
		return "dry_run"
	default:
		return "unknown"
	}
}

// StepKind distinguishes the three subkinds a Step may take.
type StepKind int

const (
	StepShell StepKind = iota
	StepAssistant
	StepHandler
)

func (k StepKind) String() string {
	switch k {
	case StepShell:
		return "shell"
	case StepAssistant:
		return "assistant"
	case StepHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// RetryPolicy configures exponential-backoff retry for a single step.
type RetryPolicy struct {
	MaxAttempts  int     `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay string  `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64 `yaml:"multiplier" json:"multiplier"`
}

// FailureHandler names what to do when a step fails, itself a nested Step
// sequence (kept minimal: a single step per the spec's `on_failure: {...}`).
type FailureHandler struct {
	Shell     string `yaml:"shell,omitempty" json:"shell,omitempty"`
	Claude    string `yaml:"claude,omitempty" json:"claude,omitempty"`
	MaxRetry  int    `yaml:"max_retry,omitempty" json:"max_retry,omitempty"`
}

// HandlerParams carries named parameters for a Handler step.
type HandlerParams map[string]any

// Step is one unit of execution within a phase. Exactly one of Shell,
// Claude, or Handler is set (see Validate).
type Step struct {
	// Index is this step's position within its parent phase.
	Index int `json:"-" yaml:"-"`

	Claude  string         `yaml:"claude,omitempty" json:"claude,omitempty"`
	Shell   string         `yaml:"shell,omitempty" json:"shell,omitempty"`
	Handler *HandlerSpec   `yaml:"handler,omitempty" json:"handler,omitempty"`

	WorkingDir     string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	CommitRequired bool              `yaml:"commit_required,omitempty" json:"commit_required,omitempty"`
	CaptureOutput  string            `yaml:"capture_output,omitempty" json:"capture_output,omitempty"`
	OnFailure      *FailureHandler   `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
	Retry          *RetryPolicy      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Timeout        string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// HandlerSpec names a registered built-in handler and its parameters.
type HandlerSpec struct {
	Name   string        `yaml:"name" json:"name"`
	Params HandlerParams `yaml:"params,omitempty" json:"params,omitempty"`
}

// Kind reports which subkind this step is.
func (s Step) Kind() StepKind {
	switch {
	case s.Handler != nil:
		return StepHandler
	case s.Claude != "":
		return StepAssistant
	default:
		return StepShell
	}
}

// Summary returns a stable, human-readable one-line description of the step.
func (s Step) Summary() string {
	switch s.Kind() {
	case StepAssistant:
		return truncateSummary("claude: " + s.Claude)
	case StepHandler:
		name := "?"
		if s.Handler != nil {
			name = s.Handler.Name
		}
		return "handler: " + name
	default:
		return truncateSummary("shell: " + s.Shell)
	}
}

func truncateSummary(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Validate checks that exactly one of Claude/Shell/Handler is present.
func (s Step) Validate() error {
	set := 0
	if s.Claude != "" {
		set++
	}
	if s.Shell != "" {
		set++
	}
	if s.Handler != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("step %d: exactly one of claude|shell|handler must be set, got %d", s.Index, set)
	}
	if s.Handler != nil && s.Handler.Name == "" {
		return fmt.Errorf("step %d: handler requires a name", s.Index)
	}
	return nil
}

// Phase is a named, ordered sequence of steps (setup, map's agent_template,
// or reduce).
type Phase struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// MapSpec configures the Map phase of a MapReduce workflow.
type MapSpec struct {
	Input           string  `yaml:"input" json:"input"`
	JSONPath        string  `yaml:"json_path,omitempty" json:"json_path,omitempty"`
	Filter          string  `yaml:"filter,omitempty" json:"filter,omitempty"`
	SortBy          string  `yaml:"sort_by,omitempty" json:"sort_by,omitempty"`
	MaxParallel     int     `yaml:"max_parallel" json:"max_parallel"`
	TimeoutPerAgent string  `yaml:"timeout_per_agent,omitempty" json:"timeout_per_agent,omitempty"`
	RetryOnFailure  int     `yaml:"retry_on_failure,omitempty" json:"retry_on_failure,omitempty"`
	AgentTemplate   []Step  `yaml:"agent_template" json:"agent_template"`
}

// SetupSpec configures the Setup phase.
type SetupSpec struct {
	Commands []Step `yaml:"commands" json:"commands"`
}

// ReduceSpec configures the Reduce phase.
type ReduceSpec struct {
	Commands []Step `yaml:"commands" json:"commands"`
}

// Workflow is a named, immutable pipeline definition.
type Workflow struct {
	ID              string     `yaml:"name" json:"id"`
	ModeHint        string     `yaml:"mode,omitempty" json:"mode,omitempty"`
	SkipPermissions bool       `yaml:"skip_permissions" json:"skip_permissions"`
	Commands        []Step     `yaml:"commands,omitempty" json:"commands,omitempty"`
	Setup           *SetupSpec `yaml:"setup,omitempty" json:"setup,omitempty"`
	Map             *MapSpec   `yaml:"map,omitempty" json:"map,omitempty"`
	Reduce          *ReduceSpec `yaml:"reduce,omitempty" json:"reduce,omitempty"`

	// Path is the filesystem location the workflow was loaded from. Not
	// part of the wire format; set by the loader.
	Path string `yaml:"-" json:"-"`
}

// HasMapReduce reports whether the workflow defines any of setup/map/reduce.
func (w *Workflow) HasMapReduce() bool {
	return w.Setup != nil || w.Map != nil || w.Reduce != nil
}

// Steps returns the sequential command list with stable indices assigned.
func (w *Workflow) Steps() []Step {
	steps := make([]Step, len(w.Commands))
	for i, s := range w.Commands {
		s.Index = i
		steps[i] = s
	}
	return steps
}

// Validate checks structural invariants across the whole workflow.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if w.HasMapReduce() && len(w.Commands) > 0 {
		return fmt.Errorf("workflow %q: commands and setup/map/reduce are mutually exclusive", w.ID)
	}
	for _, s := range w.Steps() {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", w.ID, err)
		}
	}
	if w.Map != nil {
		for i, s := range w.Map.AgentTemplate {
			s.Index = i
			if err := s.Validate(); err != nil {
				return fmt.Errorf("workflow %q: map.agent_template: %w", w.ID, err)
			}
		}
		if w.Map.MaxParallel <= 0 {
			return fmt.Errorf("workflow %q: map.max_parallel must be > 0", w.ID)
		}
	}
	return nil
}
