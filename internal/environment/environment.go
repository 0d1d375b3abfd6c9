// Package environment provides the immutable per-step working-directory and
// env-var carrier (spec.md §4.3). This is the precise fix for the historical
// bug in which a mutable environment manager's current-directory field had
// not been updated before setup/map phases ran, leaking generated files into
// the host repository instead of the intended worktree.
package environment

import (
	"sort"
	"strings"

	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

const automationEnvVar = "PRODIGY_AUTOMATION"

// Context is an immutable carrier of base working directory, environment
// variables, which keys are secret, and an optional named profile. All
// transforms return a new Context.
type Context struct {
	BaseWorkingDir string
	EnvVars        map[string]string
	SecretKeys     map[string]bool
	Profile        string
}

// Builder constructs a Context fluently; each method returns the Builder for
// chaining. Builders come from NewBuilder: the zero Builder has nil maps, so
// WithEnv and WithSecret panic on it.
type Builder struct {
	ctx Context
}

// NewBuilder starts a Builder with baseWorkingDir as the mandatory base
// directory — callers must always set this explicitly; there is no fallback
// to the process's current working directory anywhere in this package.
func NewBuilder(baseWorkingDir string) *Builder {
	return &Builder{ctx: Context{
		BaseWorkingDir: baseWorkingDir,
		EnvVars:        map[string]string{},
		SecretKeys:     map[string]bool{},
	}}
}

// WithEnv sets a single environment variable.
func (b *Builder) WithEnv(key, value string) *Builder {
	b.ctx.EnvVars[key] = value
	return b
}

// WithEnvMap merges a map of environment variables.
func (b *Builder) WithEnvMap(vars map[string]string) *Builder {
	for k, v := range vars {
		b.ctx.EnvVars[k] = v
	}
	return b
}

// WithSecret marks key as secret so MaskSecrets redacts its value.
func (b *Builder) WithSecret(key string) *Builder {
	b.ctx.SecretKeys[key] = true
	return b
}

// WithProfile sets the named profile.
func (b *Builder) WithProfile(profile string) *Builder {
	b.ctx.Profile = profile
	return b
}

// Build returns the finished, immutable Context.
func (b *Builder) Build() Context {
	return b.ctx.clone()
}

func (c Context) clone() Context {
	env := make(map[string]string, len(c.EnvVars))
	for k, v := range c.EnvVars {
		env[k] = v
	}
	secrets := make(map[string]bool, len(c.SecretKeys))
	for k, v := range c.SecretKeys {
		secrets[k] = v
	}
	return Context{BaseWorkingDir: c.BaseWorkingDir, EnvVars: env, SecretKeys: secrets, Profile: c.Profile}
}

// ResolveWorkingDirectory returns step.WorkingDir if present, else
// ctx.BaseWorkingDir. It never falls back to the process's CWD (invariant 6,
// spec.md §8).
func ResolveWorkingDirectory(step workflow.Step, ctx Context) string {
	if step.WorkingDir != "" {
		return step.WorkingDir
	}
	return ctx.BaseWorkingDir
}

// BuildCommandEnv starts from ctx.EnvVars, layers step-specific entries
// (interpolated against workflowVars), then sets PRODIGY_AUTOMATION=true.
func BuildCommandEnv(step workflow.Step, ctx Context, workflowVars variables.Context) map[string]string {
	out := make(map[string]string, len(ctx.EnvVars)+len(step.Env)+1)
	for k, v := range ctx.EnvVars {
		out[k] = v
	}
	for k, v := range step.Env {
		expanded, _ := workflowVars.Interpolate(v)
		out[k] = expanded
	}
	out[automationEnvVar] = "true"
	return out
}

// MaskSecrets replaces the value of any key in ctx.SecretKeys with a fixed
// sentinel wherever it appears in line, for safe inclusion in logs and event
// payloads.
func MaskSecrets(line string, ctx Context) string {
	for key := range ctx.SecretKeys {
		value := ctx.EnvVars[key]
		if value == "" {
			continue
		}
		line = strings.ReplaceAll(line, value, "***REDACTED***")
	}
	return line
}

// ToEnvSlice renders a map of env vars in the os/exec.Cmd.Env form
// ("KEY=VALUE"), sorted for deterministic output.
func ToEnvSlice(vars map[string]string) []string {
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
