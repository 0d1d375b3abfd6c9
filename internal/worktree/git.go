package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runGit runs git with args in dir under ctx, returning combined output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// currentBranchRaw returns the literal output of rev-parse --abbrev-ref HEAD,
// including the literal "HEAD" string for a detached checkout.
func currentBranchRaw(ctx context.Context, repoRoot string) (string, error) {
	out, err := runGit(ctx, repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse --abbrev-ref HEAD: %w (output: %s)", err, strings.TrimSpace(out))
	}
	return strings.TrimSpace(out), nil
}

func headCommit(ctx context.Context, repoRoot string) (string, error) {
	out, err := runGit(ctx, repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w (output: %s)", err, strings.TrimSpace(out))
	}
	commit := strings.TrimSpace(out)
	if commit == "" {
		return "", fmt.Errorf("resolved empty HEAD commit")
	}
	return commit, nil
}

func branchExists(ctx context.Context, repoRoot, branch string) bool {
	_, err := runGit(ctx, repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func isCleanWorkingTree(ctx context.Context, repoRoot string) bool {
	_, err := runGit(ctx, repoRoot, "diff-index", "--quiet", "HEAD")
	return err == nil
}
