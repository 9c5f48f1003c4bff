package browser

import (
	"context"
)

// Backend starts browser instances. Implementations: cdp (local Chrome) and
// service (remote automation service).
type Backend interface {
	Name() string
	// Start launches a browser with one blank page. On failure it may return a
	// non-nil Instance describing whatever was started, which the caller must tear down.
	Start(ctx context.Context) (Instance, error)
}

// URLStarter is implemented by backends that open the first page as part of
// starting. The manager then skips its separate initial navigation.
type URLStarter interface {
	// StartAt starts a browser on url and returns the page URL it landed on.
	StartAt(ctx context.Context, url string) (Instance, string, error)
}

// Instance is the handle to one running browser.
type Instance interface {
	ID() string
	// PID is the OS process id of the browser, or 0 when it is not a local process.
	PID() int
	Configure(ctx context.Context, settings PageSettings) error
	// Navigate loads url and returns the resulting page URL.
	Navigate(ctx context.Context, url string) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Click(ctx context.Context, x, y int) error
	Type(ctx context.Context, text string) error
	Scroll(ctx context.Context, direction Direction, amount int) error
	// Alive asks the backend whether the browser still answers. A transport
	// failure is an error, not a false.
	Alive(ctx context.Context) (bool, error)
	// Close releases the backend's handles. It is called after the process
	// tree has already been signalled.
	Close(ctx context.Context) error
}

// ProcessTree inspects and signals OS processes.
type ProcessTree interface {
	// Descendants lists every descendant of pid, parents before their children.
	Descendants(ctx context.Context, pid int) ([]int, error)
	Terminate(ctx context.Context, pid int) error
	Kill(ctx context.Context, pid int) error
	Alive(ctx context.Context, pid int) bool
}
