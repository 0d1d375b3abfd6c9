package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/prodigy-dev/prodigy/internal/eventlog"
	"github.com/prodigy-dev/prodigy/internal/variables"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

// executeAssistant spawns the assistant CLI in print or streaming mode
// depending on opts.AssistantMode (spec.md §4.4).
func executeAssistant(ctx context.Context, step workflow.Step, vars variables.Context, opts Options) (StepResult, error) {
	prompt, _ := vars.Interpolate(step.Claude)

	args := []string{"-p", prompt}
	if opts.AssistantMode == AssistantStreaming {
		args = append(args, "--output-format", "stream-json")
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, opts.assistantBinary(), args...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = envSlice(opts.Env)

	var stdout, stderr boundedBuffer
	cmd.Stderr = &stderr

	var progress agentProgress
	if opts.AssistantMode == AssistantStreaming {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return StepResult{}, fmt.Errorf("assistant stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return StepResult{}, fmt.Errorf("start assistant: %w", err)
		}
		progress = consumeStream(stdoutPipe, opts)
		runErr := cmd.Wait()
		return finishAssistant(progress.raw.String(), stderr.String(), progress, start, runErr)
	}

	cmd.Stdout = &stdout
	runErr := cmd.Run()
	return finishAssistant(stdout.String(), stderr.String(), agentProgress{}, start, runErr)
}

func finishAssistant(stdout, stderr string, progress agentProgress, start time.Time, runErr error) (StepResult, error) {
	duration := time.Since(start)
	exitCode := 0
	if runErr != nil {
		if code, ok := asExitError(runErr); ok {
			exitCode = code
		} else {
			return StepResult{Duration: duration}, fmt.Errorf("assistant run: %w", runErr)
		}
	}
	success := exitCode == 0 && !progress.isError
	return StepResult{
		Success:              success,
		Stdout:               stdout,
		Stderr:               stderr,
		ExitCode:             exitCode,
		Duration:             duration,
		AssistantLogLocation: progress.sessionID,
	}, nil
}

// agentProgress accumulates state while streaming assistant JSONL events,
// grounded on the teacher's incremental phase-progress tracker.
type agentProgress struct {
	raw       bytes.Buffer
	sessionID string
	model     string
	toolCount int
	isError   bool
}

func consumeStream(r io.Reader, opts Options) agentProgress {
	reader := newStreamLineReader(r)
	var p agentProgress

	for {
		line, readErr := reader.readLine()
		if len(line) > 0 {
			p.raw.Write(line)
			p.raw.WriteByte('\n')
			if ev, err := parseStreamEvent(line); err == nil {
				applyStreamEvent(&p, ev, opts)
			}
			// malformed lines are silently skipped (spec.md §4.4)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			break
		}
	}
	return p
}

func applyStreamEvent(p *agentProgress, ev streamEvent, opts Options) {
	switch ev.Type {
	case streamEventInit:
		p.sessionID = ev.SessionID
		p.model = ev.Model
		emitAssistantEvent(opts, eventlog.AssistantSession, map[string]any{
			"session_id": ev.SessionID, "model": ev.Model,
		})
	case streamEventAssistant:
		if ev.ToolName != "" {
			p.toolCount++
			emitAssistantEvent(opts, eventlog.AssistantTool, map[string]any{"tool_name": ev.ToolName})
		}
		if ev.Message != "" {
			emitAssistantEvent(opts, eventlog.AssistantMessage, map[string]any{"message": summarize(ev.Message)})
		}
	case streamEventResult:
		p.isError = ev.IsError
		emitAssistantEvent(opts, eventlog.AssistantTokens, map[string]any{
			"cost_usd": ev.CostUSD, "num_turns": ev.NumTurns, "is_error": ev.IsError,
		})
	}
}

func emitAssistantEvent(opts Options, kind eventlog.Kind, data map[string]any) {
	if opts.EventLog == nil {
		return
	}
	_ = opts.EventLog.Append(eventlog.Event{
		Kind:      kind,
		SessionID: opts.SessionID,
		Data:      data,
	})
}

func summarize(s string) string {
	trimmed := strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	const maxLen = 72
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen-3] + "..."
}
