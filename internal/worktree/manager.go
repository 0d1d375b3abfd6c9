// Package worktree implements the Worktree Manager (C5, spec.md §4.5):
// session-scoped git worktree lifecycle on top of the `git` binary. Grounded
// directly on the teacher's detached-worktree plumbing, generalized from
// anonymous RPI run ids to Prodigy's named, branch-owning sessions.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prodigy-dev/prodigy/internal/proderr"
	"github.com/prodigy-dev/prodigy/internal/workflow"
)

const (
	branchPrefix        = "prodigy-"
	defaultGitTimeout    = 30 * time.Second
	cleanRepoMaxAttempts = 5
	cleanRepoRetryDelay  = 2 * time.Second
)

// Manager owns session-scoped worktree creation, merge, and abandonment.
// Git plumbing in a given repository is serialized by a per-repo mutex so
// concurrent sessions never race on the index.
type Manager struct {
	records    *recordStore
	GitTimeout time.Duration

	mu          sync.Mutex
	repoMutexes map[string]*sync.Mutex
}

// NewManager returns a Manager persisting WorktreeRecords under recordsDir.
func NewManager(recordsDir string) *Manager {
	return &Manager{
		records:     newRecordStore(recordsDir),
		GitTimeout:  defaultGitTimeout,
		repoMutexes: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) repoLock(repoRoot string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.repoMutexes[repoRoot]
	if !ok {
		lock = &sync.Mutex{}
		m.repoMutexes[repoRoot] = lock
	}
	return lock
}

func (m *Manager) timeout() time.Duration {
	if m.GitTimeout <= 0 {
		return defaultGitTimeout
	}
	return m.GitTimeout
}

// CurrentBranch returns the current branch name, or proderr.ErrDetachedHead
// if HEAD is detached.
func (m *Manager) CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	branch, err := currentBranchRaw(ctx, repoRoot)
	if err != nil {
		return "", proderr.Errorf(proderr.KindTransientIO, true, "current branch: %w", err)
	}
	if branch == "HEAD" {
		return "", proderr.New(proderr.KindPermanentIO, proderr.ErrDetachedHead, false)
	}
	return branch, nil
}

// CreateSession creates a new branch rooted at HEAD, a sibling worktree
// checked out to it, and persists the resulting WorktreeRecord.
func (m *Manager) CreateSession(ctx context.Context, repoRoot string, sessionID workflow.SessionID) (workflow.WorktreeRecord, error) {
	lock := m.repoLock(repoRoot)
	lock.Lock()
	defer lock.Unlock()

	timeout := m.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	originalBranch, err := currentBranchRaw(runCtx, repoRoot)
	if err != nil {
		return workflow.WorktreeRecord{}, proderr.Errorf(proderr.KindTransientIO, true, "resolve current branch: %w", err)
	}

	commit, err := headCommit(runCtx, repoRoot)
	if err != nil {
		return workflow.WorktreeRecord{}, proderr.Errorf(proderr.KindTransientIO, true, "resolve HEAD: %w", err)
	}

	branch := branchPrefix + string(sessionID)
	path := siblingPath(repoRoot, sessionID)

	if out, err := runGit(runCtx, repoRoot, "branch", branch, commit); err != nil {
		return workflow.WorktreeRecord{}, proderr.Errorf(proderr.KindPermanentIO, false,
			"create session branch: %w (output: %s)", err, strings.TrimSpace(out))
	}

	if err := m.addWorktree(ctx, repoRoot, path, branch); err != nil {
		return workflow.WorktreeRecord{}, err
	}

	record := workflow.WorktreeRecord{
		SessionID:      sessionID,
		WorktreeBranch: branch,
		OriginalBranch: originalBranch,
		Path:           path,
		CreatedAt:      time.Now().UTC(),
		Status:         workflow.WorktreeActive,
	}
	if err := m.records.Save(record); err != nil {
		return workflow.WorktreeRecord{}, proderr.New(proderr.KindPermanentIO, err, false)
	}
	return record, nil
}

// addWorktree retries on path collision up to 3 times, mirroring the
// teacher's worktree-add retry loop.
func (m *Manager) addWorktree(ctx context.Context, repoRoot, path, branch string) error {
	const maxAttempts = 3
	var lastOut string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, m.timeout())
		out, err := runGit(runCtx, repoRoot, "worktree", "add", path, branch)
		cancel()
		if err == nil {
			return nil
		}
		lastOut = out
		if !strings.Contains(out, "already exists") {
			return proderr.Errorf(proderr.KindPermanentIO, false, "git worktree add: %w (output: %s)", err, strings.TrimSpace(out))
		}
	}
	return proderr.New(proderr.KindPermanentIO, fmt.Errorf("%w: %s", proderr.ErrWorktreeCollision, strings.TrimSpace(lastOut)), false)
}

func siblingPath(repoRoot string, sessionID workflow.SessionID) string {
	base := filepath.Base(repoRoot)
	return filepath.Join(filepath.Dir(repoRoot), base+"-"+string(sessionID))
}

// MergeTarget resolves the branch a session's worktree should merge into:
// the recorded original_branch, falling back to main/master if it is empty,
// "HEAD", or no longer exists.
func (m *Manager) MergeTarget(ctx context.Context, repoRoot string, record workflow.WorktreeRecord) (string, bool) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	original := strings.TrimSpace(record.OriginalBranch)
	if original != "" && original != "HEAD" && branchExists(runCtx, repoRoot, original) {
		return original, false
	}

	if branchExists(runCtx, repoRoot, "main") {
		return "main", true
	}
	return "master", true
}

// MergeSession merges the session's worktree branch back into its resolved
// merge target. On any failure the worktree is left untouched so the run
// remains resumable (spec.md §4.5 invariant).
func (m *Manager) MergeSession(ctx context.Context, repoRoot string, record workflow.WorktreeRecord) error {
	lock := m.repoLock(repoRoot)
	lock.Lock()
	defer lock.Unlock()

	if err := m.waitForCleanRepo(ctx, repoRoot); err != nil {
		return err
	}

	mergeTarget, _ := m.MergeTarget(ctx, repoRoot, record)

	mergeCtx, cancel := context.WithTimeout(ctx, m.timeout())
	mergeSource, err := headCommit(mergeCtx, record.Path)
	cancel()
	if err != nil {
		return proderr.Errorf(proderr.KindPermanentIO, false, "resolve worktree HEAD: %w", err)
	}

	if err := m.checkoutBranch(ctx, repoRoot, mergeTarget); err != nil {
		return err
	}

	if err := m.runMerge(ctx, repoRoot, record.WorktreeBranch, mergeSource); err != nil {
		return err
	}

	record.Status = workflow.WorktreeMerged
	if err := m.records.Save(record); err != nil {
		return proderr.New(proderr.KindPermanentIO, err, false)
	}
	return nil
}

func (m *Manager) checkoutBranch(ctx context.Context, repoRoot, branch string) error {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()
	if out, err := runGit(runCtx, repoRoot, "checkout", branch); err != nil {
		return proderr.Errorf(proderr.KindPermanentIO, false, "checkout merge target %s: %w (output: %s)", branch, err, strings.TrimSpace(out))
	}
	return nil
}

func (m *Manager) waitForCleanRepo(ctx context.Context, repoRoot string) error {
	for attempt := 0; attempt < cleanRepoMaxAttempts; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, m.timeout())
		clean := isCleanWorkingTree(runCtx, repoRoot)
		cancel()
		if clean {
			return nil
		}
		if attempt < cleanRepoMaxAttempts-1 {
			select {
			case <-ctx.Done():
				return proderr.New(proderr.KindInterrupted, ctx.Err(), false)
			case <-time.After(cleanRepoRetryDelay):
			}
		}
	}
	return proderr.New(proderr.KindTransientIO, proderr.ErrRepoUnclean, true)
}

func (m *Manager) runMerge(ctx context.Context, repoRoot, sourceBranch, mergeSource string) error {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	msg := fmt.Sprintf("Merge %s into %s", sourceBranch, "parent worktree")
	out, err := runGit(runCtx, repoRoot, "merge", "--no-ff", "-m", msg, mergeSource)
	if err == nil {
		return nil
	}
	if runCtx.Err() != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "git merge timed out: %w", runCtx.Err())
	}

	conflictOut, _ := runGit(context.Background(), repoRoot, "diff", "--name-only", "--diff-filter=U")
	_, _ = runGit(context.Background(), repoRoot, "merge", "--abort")

	files := strings.TrimSpace(conflictOut)
	if files != "" {
		return proderr.Errorf(proderr.KindPermanentIO, false, "%w in %s", proderr.ErrMergeConflict, files)
	}
	return proderr.Errorf(proderr.KindPermanentIO, false, "git merge failed: %w (output: %s)", err, strings.TrimSpace(out))
}

// AbandonSession removes the session's worktree directory but retains its
// branch for manual inspection.
func (m *Manager) AbandonSession(ctx context.Context, repoRoot string, record workflow.WorktreeRecord) error {
	lock := m.repoLock(repoRoot)
	lock.Lock()
	defer lock.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	if _, err := runGit(runCtx, repoRoot, "worktree", "remove", record.Path, "--force"); err != nil {
		_ = os.RemoveAll(record.Path)
	}

	record.Status = workflow.WorktreeAbandoned
	if err := m.records.Save(record); err != nil {
		return proderr.New(proderr.KindPermanentIO, err, false)
	}
	return nil
}

// RemoveSession removes a session's worktree directory after its work has
// already been merged. Unlike AbandonSession it does not change the
// record's status: MergeSession already recorded WorktreeMerged, and that
// is what should survive as the session's terminal state (spec.md §4.9
// step 6, mirroring the teacher's split between MergeWorktree and the
// separately invoked RemoveWorktree).
func (m *Manager) RemoveSession(ctx context.Context, repoRoot string, record workflow.WorktreeRecord) error {
	lock := m.repoLock(repoRoot)
	lock.Lock()
	defer lock.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	if _, err := runGit(runCtx, repoRoot, "worktree", "remove", record.Path, "--force"); err != nil {
		_ = os.RemoveAll(record.Path)
	}
	return nil
}

// LoadSession returns the persisted WorktreeRecord for sessionID.
func (m *Manager) LoadSession(sessionID workflow.SessionID) (workflow.WorktreeRecord, error) {
	return m.records.Load(sessionID)
}

// ListSessions returns every persisted WorktreeRecord, sorted by session id.
func (m *Manager) ListSessions() ([]workflow.WorktreeRecord, error) {
	return m.records.List()
}
