package leaderelection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"

	"Strato/internal/metrics"
)

// Config controls the file-lock based leader election.
type Config struct {
	Enabled      bool
	LockFilePath string
	RetryPeriod  time.Duration
}

// Elector gates the decision controller so that at most one process on a
// host makes scaling decisions. Leadership is an exclusive flock on the
// configured lock file; standbys retry on a fixed period and take over when
// the leader exits or crashes.
type Elector struct {
	cfg    Config
	logger *slog.Logger
	clock  clock.Clock
	met    *metrics.Metrics

	mu       sync.Mutex
	lockFd   int
	isLeader bool
}

// New creates an elector. With Enabled false, Run assumes leadership
// immediately, which is the single-process default.
func New(cfg Config, clk clock.Clock, met *metrics.Metrics, logger *slog.Logger) *Elector {
	return &Elector{
		cfg:    cfg,
		logger: logger.With("component", "leader-election"),
		clock:  clk,
		met:    met,
		lockFd: -1,
	}
}

// Run drives the election until ctx is cancelled. onStartLeading is invoked
// on a fresh goroutine each time leadership is gained, with a context that is
// cancelled when this leadership term ends; onStopLeading runs synchronously
// each time the term ends. A flock is held by the fd that acquired it, so a
// sitting leader never re-attempts acquisition (a second open of the same
// file would contend with our own lock).
func (e *Elector) Run(ctx context.Context, onStartLeading, onStopLeading func(ctx context.Context)) error {
	if !e.cfg.Enabled {
		e.logger.Info("leader election disabled, assuming leadership")
		e.setLeader(true)
		onStartLeading(ctx)
		<-ctx.Done()
		return nil
	}

	e.logger.Info("starting leader election",
		"lock_file", e.cfg.LockFilePath,
		"retry_period", e.cfg.RetryPeriod)

	ticker := e.clock.NewTicker(e.cfg.RetryPeriod)
	defer ticker.Stop()

	var termCancel context.CancelFunc
	endTerm := func() {
		e.release()
		e.setLeader(false)
		if termCancel != nil {
			termCancel()
			termCancel = nil
		}
		onStopLeading(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			if e.IsLeader() {
				endTerm()
			}
			return nil

		case <-ticker.C():
			if e.IsLeader() {
				continue
			}

			acquired, err := e.tryAcquire()
			if err != nil {
				e.logger.Error("lock acquisition failed", "error", err)
				continue
			}
			if acquired {
				e.logger.Info("acquired leadership")
				e.setLeader(true)
				var termCtx context.Context
				termCtx, termCancel = context.WithCancel(ctx)
				go onStartLeading(termCtx)
			}
		}
	}
}

// IsLeader reports whether this process currently holds leadership.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader || !e.cfg.Enabled
}

func (e *Elector) setLeader(leader bool) {
	e.mu.Lock()
	e.isLeader = leader
	e.mu.Unlock()
	if e.met != nil {
		if leader {
			e.met.LeaderElection.Set(1)
		} else {
			e.met.LeaderElection.Set(0)
		}
	}
}

func (e *Elector) tryAcquire() (bool, error) {
	fd, err := syscall.Open(e.cfg.LockFilePath, syscall.O_CREAT|syscall.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd)
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	pid := fmt.Sprintf("%d\n", os.Getpid())
	if _, err := syscall.Write(fd, []byte(pid)); err != nil {
		syscall.Close(fd)
		return false, fmt.Errorf("failed to write PID: %w", err)
	}

	e.mu.Lock()
	if e.lockFd >= 0 {
		syscall.Close(e.lockFd)
	}
	e.lockFd = fd
	e.mu.Unlock()
	return true, nil
}

func (e *Elector) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lockFd >= 0 {
		syscall.Flock(e.lockFd, syscall.LOCK_UN)
		syscall.Close(e.lockFd)
		e.lockFd = -1
		e.logger.Info("released leadership")
	}
}
