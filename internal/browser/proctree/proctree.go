// Package proctree inspects and signals operating system process trees.
package proctree

import (
	"context"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Tree implements browser.ProcessTree on top of gopsutil.
type Tree struct {
	logger *zap.Logger
}

// New returns a Tree. A nil logger is replaced with a no-op logger.
func New(logger *zap.Logger) *Tree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tree{logger: logger.Named("proctree")}
}

// Descendants walks a parent-pid snapshot of the process table breadth first,
// so every parent appears before its children.
func (t *Tree) Descendants(ctx context.Context, pid int) ([]int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	children := make(map[int][]int)
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// Processes exit while we walk the table.
			continue
		}
		children[int(ppid)] = append(children[int(ppid)], int(p.Pid))
	}
	for _, kids := range children {
		slices.Sort(kids)
	}

	var out []int
	seen := map[int]bool{pid: true}
	queue := children[pid]
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, children[next]...)
	}
	return out, nil
}

// Terminate sends SIGTERM. A process that is already gone is not an error.
func (t *Tree) Terminate(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	if err := p.TerminateWithContext(ctx); err != nil && t.Alive(ctx, pid) {
		return fmt.Errorf("terminate %d: %w", pid, err)
	}
	t.logger.Debug("Sent terminate", zap.Int("pid", pid))
	return nil
}

// Kill sends SIGKILL. A process that is already gone is not an error.
func (t *Tree) Kill(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	if err := p.KillWithContext(ctx); err != nil && t.Alive(ctx, pid) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	t.logger.Debug("Sent kill", zap.Int("pid", pid))
	return nil
}

// Alive reports whether pid exists and is not a zombie.
func (t *Tree) Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return false
	}
	if status, err := p.StatusWithContext(ctx); err == nil && slices.Contains(status, process.Zombie) {
		return false
	}
	return true
}
