package browser

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xkilldash9x/glimpse-cli/internal/config"
)

// fakeProcs is an in-memory process table that records every signal it receives.
type fakeProcs struct {
	mu         sync.Mutex
	nextPID    int
	alive      map[int]bool
	parent     map[int]int
	children   map[int][]int
	events     []string
	ignoreTerm map[int]bool
	killErr    map[int]error
	descErr    error
}

func newFakeProcs() *fakeProcs {
	return &fakeProcs{
		nextPID:    1000,
		alive:      map[int]bool{},
		parent:     map[int]int{},
		children:   map[int][]int{},
		ignoreTerm: map[int]bool{},
		killErr:    map[int]error{},
	}
}

// spawnTree creates a root with two children, the first of which has a child of its own.
func (f *fakeProcs) spawnTree() (root int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	root = f.spawnLocked(0)
	renderer := f.spawnLocked(root)
	f.spawnLocked(root)
	f.spawnLocked(renderer)
	return root
}

func (f *fakeProcs) spawnLocked(parent int) int {
	f.nextPID++
	pid := f.nextPID
	f.alive[pid] = true
	if parent != 0 {
		f.parent[pid] = parent
		f.children[parent] = append(f.children[parent], pid)
	}
	return pid
}

func (f *fakeProcs) Descendants(_ context.Context, pid int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.descErr != nil {
		return nil, f.descErr
	}
	var out []int
	queue := slices.Clone(f.children[pid])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, f.children[next]...)
	}
	return out, nil
}

func (f *fakeProcs) Terminate(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("term:%d", pid))
	if !f.ignoreTerm[pid] {
		f.alive[pid] = false
	}
	return nil
}

func (f *fakeProcs) Kill(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fmt.Sprintf("kill:%d", pid))
	if err := f.killErr[pid]; err != nil {
		return err
	}
	f.alive[pid] = false
	return nil
}

func (f *fakeProcs) Alive(_ context.Context, pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProcs) setAlive(pid int, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = alive
}

func (f *fakeProcs) livePIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for pid, ok := range f.alive {
		if ok {
			out = append(out, pid)
		}
	}
	slices.Sort(out)
	return out
}

func (f *fakeProcs) liveRoots() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for pid, ok := range f.alive {
		if _, child := f.parent[pid]; ok && !child {
			out = append(out, pid)
		}
	}
	return out
}

func (f *fakeProcs) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

// fakeInstance is a scriptable browser handle.
type fakeInstance struct {
	id  string
	pid int

	mu          sync.Mutex
	closed      bool
	configured  *PageSettings
	url         string
	clicks      [][2]int
	typed       []string
	scrolls     []string
	configErr   error
	navErr      error
	navBlocks   bool
	aliveResult bool
	aliveErr    error
	screenshot  []byte
}

func (i *fakeInstance) ID() string { return i.id }
func (i *fakeInstance) PID() int   { return i.pid }

func (i *fakeInstance) Configure(_ context.Context, s PageSettings) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.configured = &s
	return i.configErr
}

func (i *fakeInstance) Navigate(ctx context.Context, url string) (string, error) {
	if i.navBlocks {
		<-ctx.Done()
		return "", ctx.Err()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.navErr != nil {
		return "", i.navErr
	}
	i.url = url + "#loaded"
	return i.url, nil
}

func (i *fakeInstance) Screenshot(context.Context) ([]byte, error) { return i.screenshot, nil }

func (i *fakeInstance) Click(_ context.Context, x, y int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.clicks = append(i.clicks, [2]int{x, y})
	return nil
}

func (i *fakeInstance) Type(_ context.Context, text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.typed = append(i.typed, text)
	return nil
}

func (i *fakeInstance) Scroll(_ context.Context, d Direction, amount int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.scrolls = append(i.scrolls, fmt.Sprintf("%s:%d", d, amount))
	return nil
}

func (i *fakeInstance) Alive(context.Context) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.aliveResult, i.aliveErr
}

func (i *fakeInstance) Close(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

func (i *fakeInstance) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// fakeBackend starts fakeInstances whose processes live in procs.
type fakeBackend struct {
	procs *fakeProcs

	mu        sync.Mutex
	started   []*fakeInstance
	startErr  error
	localPIDs bool
	// prepare customizes each instance before Start returns it.
	prepare func(*fakeInstance)
}

func newFakeBackend(procs *fakeProcs) *fakeBackend {
	return &fakeBackend{procs: procs, localPIDs: true}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Start(context.Context) (Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst := &fakeInstance{
		id:          fmt.Sprintf("session-%d", len(b.started)+1),
		aliveResult: true,
		screenshot:  []byte("png-bytes"),
	}
	if b.localPIDs {
		inst.pid = b.procs.spawnTree()
	}
	if b.prepare != nil {
		b.prepare(inst)
	}
	b.started = append(b.started, inst)
	if b.startErr != nil {
		return inst, b.startErr
	}
	return inst, nil
}

func (b *fakeBackend) instances() []*fakeInstance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.started)
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Viewport:            config.ViewportConfig{Width: 1280, Height: 720},
		Locale:              "en-US",
		UserAgent:           config.DefaultUserAgent,
		StartupTimeout:      time.Second,
		NavigationTimeout:   time.Second,
		ActionTimeout:       time.Second,
		TeardownGracePeriod: 200 * time.Millisecond,
		TeardownPoll:        5 * time.Millisecond,
	}
}

// urlBackend is a fakeBackend that also accepts the start URL.
type urlBackend struct {
	*fakeBackend
	startURLs []string
	landErr   error
}

func (b *urlBackend) StartAt(ctx context.Context, url string) (Instance, string, error) {
	b.startURLs = append(b.startURLs, url)
	inst, err := b.Start(ctx)
	if err != nil {
		return inst, "", err
	}
	if b.landErr != nil {
		return inst, "", b.landErr
	}
	return inst, url + "#direct", nil
}
