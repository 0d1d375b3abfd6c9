package executor

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/prodigy-dev/prodigy/internal/proderr"
)

// Classifier decides whether a step failure is transient (worth retrying)
// or permanent, per spec.md §4.4/§7. Callers may override DefaultClassifier
// with domain-specific logic; the executor never hard-codes the decision.
type Classifier func(err error, exitCode int) proderr.Classification

// DefaultClassifier covers the transient/permanent lists named in spec.md
// §7: I/O timeouts, connection resets, and assistant 5xx signals are
// transient; ENOSPC/EACCES and a plain non-zero shell exit are permanent.
func DefaultClassifier(err error, exitCode int) proderr.Classification {
	if err == nil {
		if exitCode != 0 {
			return proderr.Classification{Kind: proderr.KindPermanentIO, Retryable: false}
		}
		return proderr.Classification{Kind: "", Retryable: false}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return proderr.Classification{Kind: proderr.KindTransientIO, Retryable: true}
	}
	if errors.Is(err, context.Canceled) {
		return proderr.Classification{Kind: proderr.KindInterrupted, Retryable: false}
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EACCES) {
		return proderr.Classification{Kind: proderr.KindPermanentIO, Retryable: false}
	}
	if errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, os.ErrDeadlineExceeded) {
		return proderr.Classification{Kind: proderr.KindTransientIO, Retryable: true}
	}
	if isAssistantTransient(err) {
		return proderr.Classification{Kind: proderr.KindTransientIO, Retryable: true}
	}
	return proderr.Classification{Kind: proderr.KindPermanentIO, Retryable: false}
}

// isAssistantTransient matches the assistant-error substrings spec.md §7
// names as transient defaults: 5xx status codes, rate limiting, and timeouts.
func isAssistantTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "timeout") {
		return true
	}
	return false
}
