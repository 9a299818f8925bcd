package workload

import (
	"context"
	"sync"

	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	"golang.org/x/sync/errgroup"
)

// Pool keeps a handle on every launched workload.
// Launch returns immediately, a failing workload never cancels the others.
type Pool struct {
	ctx    context.Context
	kernel Kernel
	opts   Options

	group     errgroup.Group
	mu        sync.Mutex
	workloads []*Workload
}

func NewPool(ctx context.Context, kernel Kernel, opts Options) *Pool {
	return &Pool{ctx: ctx, kernel: kernel, opts: opts}
}

func (p *Pool) Launch(deviceID, position, total int, sample gpumgr.MemorySample) {
	w := New(deviceID, position, total, sample, p.kernel, p.opts)
	p.mu.Lock()
	p.workloads = append(p.workloads, w)
	p.mu.Unlock()
	p.group.Go(func() error {
		return w.Run(p.ctx)
	})
}

// Workloads returns the launched workloads in launch order.
func (p *Pool) Workloads() []*Workload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Workload(nil), p.workloads...)
}

func (p *Pool) Started() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workloads)
}

// Wait blocks until every workload returned and reports the first failure.
func (p *Pool) Wait() error {
	return p.group.Wait()
}
