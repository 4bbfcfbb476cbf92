package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const lockRetryWait = 100 * time.Millisecond

// dirLock is a PID lock file guarding index builds across processes.
type dirLock struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
	held    bool
}

func newDirLock(path string, timeout time.Duration, logger *zap.Logger) *dirLock {
	return &dirLock{path: path, timeout: timeout, logger: logger}
}

func (l *dirLock) acquire(ctx context.Context) error {
	start := time.Now()
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr = errors.Join(werr, cerr); werr != nil {
				_ = os.Remove(l.path)
				return fmt.Errorf("writing lock file: %w", werr)
			}
			l.held = true
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating lock file: %w", err)
		}

		if l.clearStale() {
			continue
		}

		elapsed := time.Since(start)
		if elapsed >= l.timeout {
			return fmt.Errorf("timeout waiting for index lock %s after %v", l.path, elapsed.Round(time.Millisecond))
		}
		l.logger.Debug("index locked by another build, waiting", zap.String("lock", l.path), zap.Duration("elapsed", elapsed))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
}

// clearStale removes the lock file if its owner is gone. It reports whether
// the file was removed.
func (l *dirLock) clearStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && (pid == os.Getpid() || isProcessRunning(pid)) {
		return false
	}
	l.logger.Warn("removing stale index lock", zap.String("lock", l.path), zap.String("owner", string(data)))
	return os.Remove(l.path) == nil
}

func (l *dirLock) release() {
	if !l.held {
		return
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("failed to release index lock", zap.String("lock", l.path), zap.Error(err))
	}
}
