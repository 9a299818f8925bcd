package workload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	"github.com/AccessibleAI/occupiedgpus/pkg/metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultDelay       = 3 * time.Second
	DefaultRounds      = 3
	DefaultReportEvery = 100
)

type Options struct {
	Delay       time.Duration
	Rounds      int
	ReportEvery int
}

func DefaultOptions() Options {
	return Options{Delay: DefaultDelay, Rounds: DefaultRounds, ReportEvery: DefaultReportEvery}
}

func (o Options) withDefaults() Options {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Rounds <= 0 {
		o.Rounds = DefaultRounds
	}
	if o.ReportEvery <= 0 {
		o.ReportEvery = DefaultReportEvery
	}
	return o
}

// Workload keeps one claimed device busy until its context ends or a compute step fails.
type Workload struct {
	DeviceID int
	Position int
	Total    int
	Sample   gpumgr.MemorySample
	Shape    Shape

	kernel     Kernel
	opts       Options
	iterations atomic.Int64
	reports    atomic.Int64

	mu  sync.Mutex
	err error
}

func New(deviceID, position, total int, sample gpumgr.MemorySample, kernel Kernel, opts Options) *Workload {
	return &Workload{
		DeviceID: deviceID,
		Position: position,
		Total:    total,
		Sample:   sample,
		Shape:    BufferShape(position, total, sample.FreeGB),
		kernel:   kernel,
		opts:     opts.withDefaults(),
	}
}

func (w *Workload) Name() string {
	return fmt.Sprintf("Thread-%d-GPU%d", w.Position, w.DeviceID)
}

// Iterations is the number of completed compute bursts.
func (w *Workload) Iterations() int64 {
	return w.iterations.Load()
}

// Reports is the number of liveness lines emitted so far.
func (w *Workload) Reports() int64 {
	return w.reports.Load()
}

// Err is the reason the workload stopped, nil while it's running.
func (w *Workload) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Run never restarts itself: a failure is logged here and ends this workload only.
func (w *Workload) Run(ctx context.Context) (err error) {
	logger := log.WithFields(log.Fields{"device": w.DeviceID, "workload": w.Name()})
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("workload panic: %v", r)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("workload stopped: %s", err)
			metrics.WorkloadFailed(w.DeviceID)
		}
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
	}()

	logger.Infof("starting %s, buffer shape: %s", w.Name(), w.Shape)
	metrics.WorkloadBuffer(w.DeviceID, w.Shape.Bytes())
	tensor, err := w.kernel.Allocate(w.DeviceID, w.Shape)
	if err != nil {
		return errors.Wrap(err, "allocate")
	}

	timer := time.NewTimer(w.opts.Delay)
	defer timer.Stop()
	i := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		for r := 0; r < w.opts.Rounds; r++ {
			if err := tensor.Cube(); err != nil {
				return errors.Wrap(err, "compute")
			}
		}
		w.iterations.Add(1)
		metrics.WorkloadIteration(w.DeviceID)
		i++
		if i == w.opts.ReportEvery {
			logger.Infof("workload %d is running", w.Position)
			w.reports.Add(1)
			i = 0
		}
		timer.Reset(w.opts.Delay)
	}
}
