package occupier

import (
	"context"

	"github.com/AccessibleAI/occupiedgpus/pkg/allocator"
	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	"github.com/AccessibleAI/occupiedgpus/pkg/metrics"
	"github.com/AccessibleAI/occupiedgpus/pkg/nvmlutils"
	"github.com/AccessibleAI/occupiedgpus/pkg/workload"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// Occupier wires the status provider, the claim scheduler and the workload pool together.
type Occupier struct {
	cfg       *Config
	scheduler *allocator.Scheduler
	pool      *workload.Pool
}

func New(ctx context.Context, cfg *Config, provider gpumgr.StatusProvider, kernel workload.Kernel, pacer backoff.BackOff) *Occupier {
	pool := workload.NewPool(ctx, kernel, cfg.Workload)
	var opts []allocator.Option
	if pacer != nil {
		opts = append(opts, allocator.WithPacer(pacer))
	}
	return &Occupier{
		cfg:       cfg,
		scheduler: allocator.NewScheduler(provider, pool, opts...),
		pool:      pool,
	}
}

// Occupy returns once every requested device has been claimed, the workloads keep running.
func (o *Occupier) Occupy(ctx context.Context) (*allocator.Result, error) {
	return o.scheduler.Run(ctx, o.cfg.DeviceIDs, o.cfg.Mode)
}

func (o *Occupier) Pool() *workload.Pool {
	return o.pool
}

// Run is the production path: it claims the requested devices and then
// stays alive for the workloads until ctx ends.
func Run(ctx context.Context, cfg *Config) error {
	log.Infof("gpu ids: %v, mode: %s, epochs: %d", cfg.DeviceIDs, cfg.Mode, cfg.Epochs)
	if cfg.MetricsAddr != "" {
		if err := metrics.Serve(cfg.MetricsAddr); err != nil {
			return err
		}
	}
	provider, err := gpumgr.NewStatusProvider(nvmlutils.NewHandle())
	if err != nil {
		return err
	}

	// workloads are detached from the caller's context, they live until the process exits
	o := New(context.Background(), cfg, provider, workload.NewHostKernel(), nil)
	if _, err := o.Occupy(ctx); err != nil {
		return err
	}
	if cfg.ExitAfterClaim {
		return nil
	}
	<-ctx.Done()
	return nil
}
