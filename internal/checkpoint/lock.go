package checkpoint

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prodigy-dev/prodigy/internal/proderr"
)

// lockPollInterval is how often acquireLock retries after a busy flock.
const lockPollInterval = 50 * time.Millisecond

// acquireLock takes an exclusive lock on path within timeout. If the lock is
// held but the PID recorded in the file is no longer alive, the holder is
// considered stale and the lock is retaken.
func acquireLock(path string, timeout time.Duration) (*os.File, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, proderr.Errorf(proderr.KindTransientIO, true, "open lock file: %w", err)
		}

		lockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if lockErr == nil {
			if err := writeOwnerPID(f); err != nil {
				_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
				f.Close()
				return nil, err
			}
			return f, nil
		}
		f.Close()

		if !errors.Is(lockErr, syscall.EWOULDBLOCK) {
			return nil, proderr.Errorf(proderr.KindTransientIO, true, "flock: %w", lockErr)
		}

		if staleOwnerPID(path) {
			// The OS releases flock automatically when the holding process
			// exits, so a dead-owner race resolves on the next iteration.
			continue
		}

		if time.Now().After(deadline) {
			return nil, proderr.New(proderr.KindTransientIO, proderr.ErrCheckpointLockBusy, true)
		}
		time.Sleep(lockPollInterval)
	}
}

func releaseLock(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}

func writeOwnerPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return proderr.Errorf(proderr.KindTransientIO, true, "write lock owner: %w", err)
	}
	return f.Sync()
}

// staleOwnerPID reports whether the PID recorded in the lock file at path is
// no longer a live process.
func staleOwnerPID(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return !processAlive(pid)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
