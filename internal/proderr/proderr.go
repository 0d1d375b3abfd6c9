// Package proderr provides the single layered error kind used across
// Prodigy's components, plus a context-trail combinator so that a failure
// bubbling up through worktree/checkpoint/engine/coordinator layers carries
// a readable chain of what was happening at each layer (spec.md §7).
package proderr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry/surfacing decisions (spec.md §7).
type Kind string

const (
	KindValidation       Kind = "validation"
	KindConfiguration    Kind = "configuration"
	KindTransientIO      Kind = "transient_io"
	KindPermanentIO      Kind = "permanent_io"
	KindCommitRequired   Kind = "commit_required"
	KindAssistantFailure Kind = "assistant_failure"
	KindInterrupted      Kind = "interrupted"
)

// Error is a classified error with an append-only context trail.
type Error struct {
	Kind      Kind
	Trail     []string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	msg := e.cause.Error()
	if len(e.Trail) == 0 {
		return msg
	}
	return strings.Join(e.Trail, " → ") + ": " + msg
}

func (e *Error) Unwrap() error { return e.cause }

// New wraps cause with Kind and an empty context trail; WithContext appends
// the entries.
func New(kind Kind, cause error, retryable bool) *Error {
	return &Error{Kind: kind, cause: cause, Retryable: retryable}
}

// WithContext returns a copy of err with note appended to the context trail.
// If err is not already a *Error, it is classified as KindPermanentIO first.
func WithContext(err error, note string) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		next := &Error{
			Kind:      pe.Kind,
			Trail:     append(append([]string{}, pe.Trail...), note),
			Retryable: pe.Retryable,
			cause:     pe.cause,
		}
		return next
	}
	return &Error{Kind: KindPermanentIO, Trail: []string{note}, cause: err}
}

// Trail extracts the context trail from err, or nil if none is present.
func Trail(err error) []string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Trail
	}
	return nil
}

// KindOf extracts the Kind of err, or "" if err is not a classified Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err is a classified Error marked retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// Sentinel errors for well-known, stable failure conditions referenced by
// name across packages (mirrors the teacher's internal/pool/errors.go style
// of fixed sentinel values rather than ad-hoc strings).
var (
	ErrDetachedHead        = errors.New("repository is in detached HEAD state")
	ErrWorktreeCollision    = errors.New("worktree path collision exceeded retry budget")
	ErrMergeConflict        = errors.New("merge produced conflicts")
	ErrRepoUnclean          = errors.New("repository has uncommitted changes")
	ErrCheckpointLockBusy   = errors.New("checkpoint lock held by a live process")
	ErrCheckpointCorrupt    = errors.New("checkpoint failed integrity verification")
	ErrNoValidCheckpoint    = errors.New("no valid checkpoint found in history")
	ErrUnresolvedVariables  = errors.New("one or more variables could not be resolved")
	ErrCommitNotProduced    = errors.New("step required a commit but HEAD did not change")
	ErrNonRetryableFailure  = errors.New("step failed with a non-retryable error")
	ErrInterrupted          = errors.New("execution was interrupted")
)

// Classification groups an error kind with its retry disposition, returned
// by pluggable classifiers (executor.Classifier).
type Classification struct {
	Kind      Kind
	Retryable bool
}

// Errorf is a convenience constructor mirroring fmt.Errorf but returning a
// classified *Error directly.
func Errorf(kind Kind, retryable bool, format string, args ...any) *Error {
	return New(kind, fmt.Errorf(format, args...), retryable)
}
