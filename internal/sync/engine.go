package sync

import (
	"context"
	"log/slog"
	"time"
)

// Engine runs synchronization cycles one after another, pausing between
// them.
type Engine struct {
	session  *Session
	interval time.Duration
	logger   *slog.Logger
	wake     chan struct{}
}

// NewEngine creates a new sync engine
func NewEngine(session *Session, interval time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		session:  session,
		interval: interval,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// RunCycle performs one cycle: fast-forward from the remote, publish local
// changes, then clear any in-progress operation state. The first failure
// aborts the cycle.
func (e *Engine) RunCycle(ctx context.Context) error {
	start := time.Now()
	e.logger.Info("starting sync cycle", "remote", e.session.Remote.Name)

	if err := SynchronizeFromRemote(ctx, e.session); err != nil {
		return err
	}

	outcome, err := PublishLocalChanges(ctx, e.session)
	if err != nil {
		return err
	}

	if err := e.session.Repo.CleanupState(); err != nil {
		return newError(CleanupFailed, "clean up repository state", err)
	}

	e.logger.Info("sync cycle completed",
		"outcome", outcome.String(),
		"duration", time.Since(start))
	return nil
}

// Run repeats RunCycle until ctx is cancelled or a cycle fails. Cancellation
// is not an error; a failed cycle is returned as is.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := e.RunCycle(ctx); err != nil {
			e.logger.Error("sync cycle failed", "kind", KindOf(err).String(), "error", err)
			return err
		}

		if !e.sleep(ctx) {
			e.logger.Info("sync loop stopped")
			return nil
		}
	}
}

// Wake ends the current pause early. Wake-ups arriving while a cycle runs
// are coalesced into a single early start of the next one.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// sleep waits for the interval or a wake-up. It returns false once ctx is
// done.
func (e *Engine) sleep(ctx context.Context) bool {
	timer := time.NewTimer(e.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-e.wake:
		e.logger.Debug("woken up before interval elapsed")
		return true
	}
}
