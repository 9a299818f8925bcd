package allocator

import (
	"context"
	"runtime"
	"time"

	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	"github.com/AccessibleAI/occupiedgpus/pkg/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Option func(*Scheduler)

// WithPacer sets the delay between polling passes, the default is a tight loop.
func WithPacer(b backoff.BackOff) Option {
	return func(s *Scheduler) {
		s.pacer = b
	}
}

// WithPassHook registers f to be called after every completed pass.
func WithPassHook(f func(pass int)) Option {
	return func(s *Scheduler) {
		s.onPass = f
	}
}

// Scheduler polls the requested devices and claims each one once it qualifies.
// The claim table is owned by the polling goroutine and needs no locking.
type Scheduler struct {
	provider gpumgr.StatusProvider
	launcher Launcher
	pacer    backoff.BackOff
	onPass   func(pass int)
}

func NewScheduler(provider gpumgr.StatusProvider, launcher Launcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider: provider,
		launcher: launcher,
		pacer:    &backoff.ZeroBackOff{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run returns once claimed devices equal len(deviceIDs).
// Duplicate or invalid ids therefore keep it polling until ctx is done.
func (s *Scheduler) Run(ctx context.Context, deviceIDs []int, mode Mode) (*Result, error) {
	total := len(deviceIDs)
	claims := make(ClaimTable)
	result := &Result{}
	warnDuplicates(deviceIDs)
	log.Infof("waiting for %d device(s) %v, mode: %s", total, deviceIDs, mode)

	s.pacer.Reset()
	for len(result.Claims) != total {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Passes++
		if err := s.pass(result, claims, deviceIDs, mode); err != nil {
			return result, err
		}
		metrics.PassCompleted()
		if s.onPass != nil {
			s.onPass(result.Passes)
		}
		if len(result.Claims) != total {
			if err := s.yield(ctx); err != nil {
				return result, err
			}
		}
	}
	log.Infof("all %d device(s) claimed after %d pass(es)", total, result.Passes)
	return result, nil
}

func (s *Scheduler) pass(result *Result, claims ClaimTable, deviceIDs []int, mode Mode) error {
	total := len(deviceIDs)
	for position, id := range deviceIDs {
		if claims.Claimed(id) {
			continue
		}
		sample, err := s.provider.Status(id)
		if err != nil {
			return errors.Wrapf(err, "status of device %d", id)
		}
		if !sample.Available() {
			continue
		}
		metrics.ObserveMemory(id, sample.UsedGB, sample.FreeGB)
		if !mode.Qualifies(sample) {
			continue
		}
		claims.Claim(id)
		result.Claims = append(result.Claims, Claim{DeviceID: id, Position: position, Pass: result.Passes, Sample: sample})
		metrics.DeviceClaimed(id)
		log.WithField("device", id).Infof("claimed device at position %d (%s), %d/%d", position, sample, len(result.Claims), total)
		s.launcher.Launch(id, position, total, sample)
	}
	return nil
}

func (s *Scheduler) yield(ctx context.Context) error {
	d := s.pacer.NextBackOff()
	if d <= 0 {
		runtime.Gosched()
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func warnDuplicates(deviceIDs []int) {
	seen := make(map[int]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		if seen[id] {
			log.WithField("device", id).Warn("device requested more than once, the claim can never complete")
			continue
		}
		seen[id] = true
	}
}
