package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultGracePeriod  = 5 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// teardown terminates inst's process tree and releases its handles.
//
// Order: SIGTERM every descendant (deepest first), SIGTERM the root, poll
// until all exit or the grace period expires, SIGKILL the survivors in the
// same order, then Close the instance. Only force-kill failures are returned.
func (m *Manager) teardown(ctx context.Context, inst Instance) error {
	// Teardown must finish even if the caller was cancelled.
	ctx = context.WithoutCancel(ctx)
	var fatal error

	if pid := inst.PID(); pid > 0 && m.procs != nil {
		fatal = m.terminateTree(ctx, pid)
	}

	if err := inst.Close(ctx); err != nil {
		m.logger.Warn("Backend did not release the session cleanly", zap.String("session_id", inst.ID()), zap.Error(err))
	}
	return fatal
}

func (m *Manager) terminateTree(ctx context.Context, root int) error {
	logger := m.logger.With(zap.Int("pid", root))

	descendants, err := m.procs.Descendants(ctx, root)
	if err != nil {
		logger.Warn("Could not enumerate child processes; signalling the root only", zap.Error(err))
	}

	// Children before parents: reverse the parents-first listing, root last.
	order := make([]int, 0, len(descendants)+1)
	for i := len(descendants) - 1; i >= 0; i-- {
		order = append(order, descendants[i])
	}
	order = append(order, root)

	for _, pid := range order {
		if err := m.procs.Terminate(ctx, pid); err != nil {
			logger.Debug("Graceful terminate failed", zap.Int("target", pid), zap.Error(err))
		}
	}

	survivors := m.awaitExit(ctx, order)
	if len(survivors) == 0 {
		logger.Debug("Process tree exited gracefully", zap.Int("processes", len(order)))
		return nil
	}

	logger.Warn("Processes still alive after grace period; force killing", zap.Ints("survivors", survivors))
	var errs error
	for _, pid := range survivors {
		if err := m.procs.Kill(ctx, pid); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("kill %d: %w", pid, err))
		}
	}
	if errs != nil {
		logger.Error("Force kill failed", zap.Error(errs))
		return fmt.Errorf("failed to force kill browser processes: %w", errs)
	}
	return nil
}

// awaitExit polls until every pid is gone or the grace period runs out and
// returns the ones still alive, in the order given.
func (m *Manager) awaitExit(ctx context.Context, pids []int) []int {
	grace := m.cfg.TeardownGracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	poll := m.cfg.TeardownPoll
	if poll <= 0 {
		poll = defaultPollInterval
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		alive := m.alive(ctx, pids)
		if len(alive) == 0 {
			return nil
		}
		select {
		case <-deadline.C:
			return m.alive(ctx, alive)
		case <-ticker.C:
		}
		pids = alive
	}
}

func (m *Manager) alive(ctx context.Context, pids []int) []int {
	var out []int
	for _, pid := range pids {
		if m.procs.Alive(ctx, pid) {
			out = append(out, pid)
		}
	}
	return out
}
