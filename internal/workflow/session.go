package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sessionIDPrefix = "session-"

// SessionID is the opaque `session-<uuid>` identifier that owns at most one
// checkpoint and, in worktree mode, at most one worktree directory.
type SessionID string

// NewSessionID mints a fresh session id.
func NewSessionID() SessionID {
	return SessionID(sessionIDPrefix + uuid.NewString())
}

// ParseSessionID validates that s has the `session-<uuid>` shape.
func ParseSessionID(s string) (SessionID, error) {
	if !strings.HasPrefix(s, sessionIDPrefix) {
		return "", fmt.Errorf("session id %q: missing %q prefix", s, sessionIDPrefix)
	}
	rest := strings.TrimPrefix(s, sessionIDPrefix)
	if _, err := uuid.Parse(rest); err != nil {
		return "", fmt.Errorf("session id %q: invalid uuid suffix: %w", s, err)
	}
	return SessionID(s), nil
}

func (id SessionID) String() string { return string(id) }

// WorktreeStatus is the lifecycle state of a worktree.
type WorktreeStatus string

const (
	WorktreeActive    WorktreeStatus = "active"
	WorktreeMerged    WorktreeStatus = "merged"
	WorktreeAbandoned WorktreeStatus = "abandoned"
)

// WorktreeRecord is the persisted record of one session's isolated worktree.
// OriginalBranch is the branch the session was created from and must survive
// crashes so MergeTarget can resolve correctly on resume.
type WorktreeRecord struct {
	SessionID      SessionID      `json:"session_id"`
	WorktreeBranch string         `json:"worktree_branch"`
	OriginalBranch string         `json:"original_branch"`
	Path           string         `json:"path"`
	CreatedAt      time.Time      `json:"created_at"`
	Status         WorktreeStatus `json:"status"`
}
