// Package executor implements the Command Executor (C4, spec.md §4.4): runs
// one Shell, Assistant, or Handler step against a resolved working directory
// and environment, with retry, timeout, capture, and commit validation.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// StepResult is the uniform outcome of executing any step subkind.
type StepResult struct {
	Success              bool
	Stdout               string
	Stderr               string
	ExitCode             int
	Duration             time.Duration
	Captured             map[string]any
	CommitsCreated       []string
	AssistantLogLocation string
}

const (
	defaultStepTimeout = 600 * time.Second
	// maxCaptureBytes bounds how much stdout/stderr is retained in memory.
	maxCaptureBytes = 1 << 20 // 1 MiB
)

// AssistantMode selects how the assistant CLI is invoked.
type AssistantMode int

const (
	AssistantPrint AssistantMode = iota
	AssistantStreaming
)

// Options configures one Execute call.
type Options struct {
	WorkingDir         string
	Env                map[string]string
	Classifier         Classifier
	AssistantBinary    string
	AssistantMode      AssistantMode
	SkipPermissions    bool
	Handlers           *HandlerRegistry
	SessionID          string
	EventLog           *eventlog.Log
	// GitHeadFunc resolves the current commit for commit_required validation.
	// Overridable for tests; defaults to `git rev-parse HEAD` in WorkingDir.
	GitHeadFunc func(ctx context.Context, dir string) (string, error)
}

func (o Options) classifier() Classifier {
	if o.Classifier != nil {
		return o.Classifier
	}
	return DefaultClassifier
}

func (o Options) assistantBinary() string {
	if o.AssistantBinary != "" {
		return o.AssistantBinary
	}
	return "claude"
}

func (o Options) gitHead(ctx context.Context, dir string) (string, error) {
	if o.GitHeadFunc != nil {
		return o.GitHeadFunc(ctx, dir)
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Execute runs step, applying its retry policy and emitting the resulting
// StepResult. vars is used to interpolate Shell/Assistant command text.
func Execute(ctx context.Context, step workflow.Step, vars variables.Context, opts Options) (StepResult, error) {
	timeout := stepTimeout(step)
	headBefore := ""
	if step.CommitRequired {
		if h, err := opts.gitHead(ctx, opts.WorkingDir); err == nil {
			headBefore = h
		}
	}

	attempt := func() (StepResult, error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return executeOnce(stepCtx, step, vars, opts, headBefore)
	}

	policy := step.Retry
	if policy == nil || policy.MaxAttempts <= 1 {
		return attempt()
	}

	return retryWithPolicy(ctx, policy, opts.classifier(), attempt)
}

func stepTimeout(step workflow.Step) time.Duration {
	if step.Timeout == "" {
		return defaultStepTimeout
	}
	d, err := time.ParseDuration(step.Timeout)
	if err != nil || d <= 0 {
		return defaultStepTimeout
	}
	return d
}

func executeOnce(ctx context.Context, step workflow.Step, vars variables.Context, opts Options, headBefore string) (StepResult, error) {
	var (
		result StepResult
		err    error
	)

	switch step.Kind() {
	case workflow.StepShell:
		result, err = executeShell(ctx, step, vars, opts)
	case workflow.StepAssistant:
		result, err = executeAssistant(ctx, step, vars, opts)
	case workflow.StepHandler:
		result, err = executeHandler(ctx, step, vars, opts)
	default:
		return StepResult{}, fmt.Errorf("step %d: unknown kind", step.Index)
	}
	if err != nil {
		return result, err
	}

	if step.CommitRequired {
		headAfter, headErr := opts.gitHead(ctx, opts.WorkingDir)
		if headErr == nil && headAfter == headBefore {
			result.Success = false
			return result, proderr.New(proderr.KindCommitRequired, proderr.ErrCommitNotProduced, false)
		}
		if headErr == nil && headAfter != headBefore {
			result.CommitsCreated = append(result.CommitsCreated, headAfter)
		}
	}

	if step.CaptureOutput != "" && result.Success {
		if result.Captured == nil {
			result.Captured = make(map[string]any)
		}
		result.Captured[step.CaptureOutput] = strings.TrimSpace(result.Stdout)
	}

	return result, nil
}

// retryWithPolicy wraps attempt in the exponential-backoff loop described by
// policy, stopping early on a non-retryable classification.
func retryWithPolicy(ctx context.Context, policy *workflow.RetryPolicy, classify Classifier, attempt func() (StepResult, error)) (StepResult, error) {
	b := backoff.NewExponentialBackOff()
	if d, err := time.ParseDuration(policy.InitialDelay); err == nil && d > 0 {
		b.InitialInterval = d
	}
	if d, err := time.ParseDuration(policy.MaxDelay); err == nil && d > 0 {
		b.MaxInterval = d
	}
	if policy.Multiplier > 0 {
		b.Multiplier = policy.Multiplier
	}

	attempts := 0
	operation := func() (StepResult, error) {
		attempts++
		result, err := attempt()
		if err == nil && result.Success {
			return result, nil
		}
		if err == nil {
			err = proderr.New(proderr.KindPermanentIO, proderr.ErrNonRetryableFailure, false)
		}
		cls := classify(err, result.ExitCode)
		if !cls.Retryable {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	result, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(uint(policy.MaxAttempts)))
	if err != nil {
		return result, err
	}
	return result, nil
}

func executeShell(ctx context.Context, step workflow.Step, vars variables.Context, opts Options) (StepResult, error) {
	command, _ := vars.Interpolate(step.Shell)

	start := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = opts.WorkingDir
	cmd.Env = envSlice(opts.Env)

	var stdout, stderr boundedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	if runErr != nil && ctx.Err() != nil {
		// The step timed out or the caller canceled, and the process was
		// killed: report the context error rather than the kill's exit status.
		kind, retryable := proderr.KindTransientIO, true
		if ctx.Err() == context.Canceled {
			kind, retryable = proderr.KindInterrupted, false
		}
		return StepResult{Stdout: stdout.String(), Stderr: stderr.String(), Duration: duration}, proderr.New(kind, ctx.Err(), retryable)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := asExitError(runErr); ok {
			exitCode = exitErr
		} else {
			return StepResult{Duration: duration}, proderr.New(proderr.KindTransientIO, runErr, true)
		}
	}

	return StepResult{
		Success:  exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func asExitError(err error) (int, bool) {
	type exitCoder interface{ ExitCode() int }
	if ee, ok := err.(exitCoder); ok {
		return ee.ExitCode(), true
	}
	return 0, false
}

// boundedBuffer is a bytes.Buffer that silently truncates writes beyond
// maxCaptureBytes so a runaway subprocess cannot exhaust memory.
type boundedBuffer struct {
	bytes.Buffer
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	remaining := maxCaptureBytes - b.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = b.Buffer.Write(p[:remaining])
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
