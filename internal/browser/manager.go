package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/glimpse-cli/internal/config"
)

// Manager owns at most one browser session. Launching while a session is
// active tears the old one down first. All methods are safe for concurrent use;
// the mutex is held for the whole of each operation so a launch can never race
// a close on the same process handle.
type Manager struct {
	logger  *zap.Logger
	backend Backend
	procs   ProcessTree
	cfg     config.BrowserConfig
	now     func() time.Time

	mu       sync.Mutex
	current  *Session
	instance Instance
}

// NewManager creates an idle manager. procs may be nil when the backend never
// reports local process ids.
func NewManager(backend Backend, procs ProcessTree, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:  logger.Named("browser_manager"),
		backend: backend,
		procs:   procs,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Launch replaces any active session with a new one and, unless url is empty
// or BlankPage, navigates to it. A navigation timeout does not fail the launch.
func (m *Manager) Launch(ctx context.Context, url string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if url == "" {
		url = BlankPage
	}

	if m.instance != nil {
		m.logger.Info("Replacing active browser session", zap.String("session_id", m.current.ID), zap.Int("pid", m.current.PID))
		if err := m.teardownLocked(ctx); err != nil {
			m.logger.Error("Teardown of previous session reported a failure", zap.Error(err))
		}
	}

	inst, landed, direct, err := m.start(ctx, url)
	if err != nil {
		if inst != nil {
			if terr := m.teardown(ctx, inst); terr != nil {
				m.logger.Error("Teardown after failed start reported a failure", zap.Error(terr))
			}
		}
		return Session{}, fmt.Errorf("failed to start browser: %w", err)
	}

	if err := inst.Configure(ctx, m.pageSettings()); err != nil {
		if terr := m.teardown(ctx, inst); terr != nil {
			m.logger.Error("Teardown after failed configuration reported a failure", zap.Error(terr))
		}
		return Session{}, fmt.Errorf("failed to configure browser page: %w", err)
	}

	session := Session{
		ID:        inst.ID(),
		PID:       inst.PID(),
		URL:       BlankPage,
		Backend:   m.backend.Name(),
		CreatedAt: m.now(),
	}

	switch {
	case url == BlankPage:
	case direct:
		session.URL = landed
		if session.URL == "" {
			session.URL = url
		}
	default:
		current, err := m.initialNavigation(ctx, inst, url)
		if err != nil {
			if terr := m.teardown(ctx, inst); terr != nil {
				m.logger.Error("Teardown after failed navigation reported a failure", zap.Error(terr))
			}
			return Session{}, fmt.Errorf("failed to navigate to %s: %w", url, err)
		}
		session.URL = current
	}

	m.instance = inst
	m.current = &session
	m.logger.Info("Browser session launched",
		zap.String("session_id", session.ID),
		zap.Int("pid", session.PID),
		zap.String("url", session.URL),
		zap.String("backend", session.Backend),
	)
	return session, nil
}

// start launches a browser. Backends that accept a start URL get it directly,
// bounded by both the startup and the navigation timeout; direct reports that.
func (m *Manager) start(ctx context.Context, url string) (inst Instance, landed string, direct bool, err error) {
	if us, ok := m.backend.(URLStarter); ok && url != BlankPage {
		startCtx, cancel := m.withTimeout(ctx, m.cfg.StartupTimeout+m.cfg.NavigationTimeout)
		defer cancel()
		inst, landed, err = us.StartAt(startCtx, url)
		return inst, landed, true, err
	}
	startCtx, cancel := m.withTimeout(ctx, m.cfg.StartupTimeout)
	defer cancel()
	inst, err = m.backend.Start(startCtx)
	return inst, "", false, err
}

// initialNavigation treats everything except a transport failure as soft:
// the session stays usable and the warning is logged.
func (m *Manager) initialNavigation(ctx context.Context, inst Instance, url string) (string, error) {
	navCtx, cancel := m.withTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	current, err := inst.Navigate(navCtx, url)
	if err == nil {
		return current, nil
	}
	if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
		m.logger.Warn("Initial navigation did not finish loading in time; continuing",
			zap.String("url", url), zap.Duration("timeout", m.cfg.NavigationTimeout))
	} else if IsTransport(err) {
		return "", err
	} else {
		m.logger.Warn("Initial navigation failed; continuing with the open page", zap.String("url", url), zap.Error(err))
	}
	if current == "" {
		current = url
	}
	return current, nil
}

// Status returns the active session if its browser is confirmed alive. A dead
// browser is cleaned up and reported as idle (nil, nil). A transport failure
// while probing is returned as an error and the session is kept.
func (m *Manager) Status(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance == nil {
		return nil, nil
	}

	if pid := m.current.PID; pid > 0 && m.procs != nil && !m.procs.Alive(ctx, pid) {
		m.logger.Info("Browser process is gone; clearing session", zap.String("session_id", m.current.ID), zap.Int("pid", pid))
		m.releaseLocked(ctx)
		return nil, nil
	}

	probeCtx, cancel := m.withTimeout(ctx, m.cfg.ActionTimeout)
	alive, err := m.instance.Alive(probeCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to query browser status: %w", err)
	}
	if !alive {
		m.logger.Info("Backend reports the session is no longer alive; clearing", zap.String("session_id", m.current.ID))
		m.releaseLocked(ctx)
		return nil, nil
	}

	s := *m.current
	return &s, nil
}

// Active reports whether a session is tracked, without probing the backend.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instance != nil
}

// Screenshot captures the current view of the active session.
func (m *Manager) Screenshot(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance == nil {
		return nil, ErrNoActiveSession
	}
	opCtx, cancel := m.withTimeout(ctx, m.cfg.ActionTimeout)
	defer cancel()

	data, err := m.instance.Screenshot(opCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return data, nil
}

// Navigate loads url in the active session and records the resulting URL.
func (m *Manager) Navigate(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance == nil {
		return "", ErrNoActiveSession
	}
	navCtx, cancel := m.withTimeout(ctx, m.cfg.NavigationTimeout)
	defer cancel()

	current, err := m.instance.Navigate(navCtx, url)
	if err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if current == "" {
		current = url
	}
	m.current.URL = current
	return current, nil
}

// Click presses the left mouse button at viewport pixel (x, y).
func (m *Manager) Click(ctx context.Context, x, y int) error {
	return m.withInstance(ctx, "click", func(ctx context.Context, inst Instance) error {
		if x < 0 || y < 0 {
			return fmt.Errorf("click coordinates must not be negative (got %d,%d)", x, y)
		}
		return inst.Click(ctx, x, y)
	})
}

// Type sends text to the focused element.
func (m *Manager) Type(ctx context.Context, text string) error {
	return m.withInstance(ctx, "type", func(ctx context.Context, inst Instance) error {
		return inst.Type(ctx, text)
	})
}

// Scroll scrolls the page by amount wheel steps. Zero means DefaultScrollAmount.
func (m *Manager) Scroll(ctx context.Context, direction Direction, amount int) error {
	if direction != ScrollUp && direction != ScrollDown {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	if amount < 0 {
		return fmt.Errorf("scroll amount must not be negative (got %d)", amount)
	}
	if amount == 0 {
		amount = DefaultScrollAmount
	}
	return m.withInstance(ctx, "scroll", func(ctx context.Context, inst Instance) error {
		return inst.Scroll(ctx, direction, amount)
	})
}

// Close tears down the active session. It reports false with no error when
// there was nothing to close. State is cleared even when teardown fails.
func (m *Manager) Close(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance == nil {
		return false, nil
	}
	id := m.current.ID
	err := m.teardownLocked(ctx)
	m.logger.Info("Browser session closed", zap.String("session_id", id), zap.Bool("clean", err == nil))
	return true, err
}

// Shutdown closes any active session. It is meant for process exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Debug("Browser manager shutdown initiated.")
	_, err := m.Close(ctx)
	return err
}

func (m *Manager) withInstance(ctx context.Context, op string, fn func(context.Context, Instance) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.instance == nil {
		return ErrNoActiveSession
	}
	opCtx, cancel := m.withTimeout(ctx, m.cfg.ActionTimeout)
	defer cancel()

	if err := fn(opCtx, m.instance); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	return nil
}

// teardownLocked tears down the tracked instance and always clears state.
func (m *Manager) teardownLocked(ctx context.Context) error {
	inst := m.instance
	m.instance = nil
	m.current = nil
	return m.teardown(ctx, inst)
}

// releaseLocked drops a session whose browser is already gone.
func (m *Manager) releaseLocked(ctx context.Context) {
	inst := m.instance
	m.instance = nil
	m.current = nil
	if err := inst.Close(context.WithoutCancel(ctx)); err != nil {
		m.logger.Debug("Releasing stale session handles failed", zap.Error(err))
	}
}

func (m *Manager) pageSettings() PageSettings {
	return PageSettings{
		Width:     m.cfg.Viewport.Width,
		Height:    m.cfg.Viewport.Height,
		Locale:    m.cfg.Locale,
		Timezone:  m.cfg.Timezone,
		UserAgent: m.cfg.UserAgent,
	}
}

func (m *Manager) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
