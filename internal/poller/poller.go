// Package poller schedules the verification pipeline: on a fixed interval it
// locates unprocessed service records and runs each through the verifier,
// strictly sequentially. A single-in-flight guard keeps a long tick (e.g. a
// slow ledger confirmation) from overlapping the next one, which would let
// two ticks claim the same records.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/veripass/oracle/internal/store"
)

const (
	// DefaultInterval matches the worker's historical 30s poll cadence.
	DefaultInterval = 30 * time.Second

	// stopDrainTimeout bounds how long Stop waits for an in-flight tick.
	stopDrainTimeout = 30 * time.Second
)

// Locator finds service records that have never been claimed.
type Locator interface {
	FindUnprocessed(ctx context.Context) ([]store.ServiceRecord, error)
}

// Processor runs one record through the pipeline. It returns an error only
// when a terminal-state write failed; routine record failures are absorbed.
type Processor interface {
	Process(ctx context.Context, record store.ServiceRecord) error
}

// Poller owns the interval schedule and the tick lifecycle.
type Poller struct {
	locator   Locator
	processor Processor
	interval  time.Duration
	logger    *zap.Logger

	cron   *gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex

	busy    atomic.Bool
	running sync.WaitGroup
}

type Params struct {
	Locator   Locator
	Processor Processor
	Interval  time.Duration
	Logger    *zap.Logger
}

func New(p Params) *Poller {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		locator:   p.Locator,
		processor: p.Processor,
		interval:  interval,
		logger:    p.Logger.Named("poller"),
		cron:      gocron.NewScheduler(time.UTC),
	}
}

// Start runs one tick immediately, then fires on the fixed interval until
// Stop. The scheduled job is in singleton mode and ticks additionally check
// the busy flag, so the immediate run cannot overlap a scheduled one.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cron.Clear()
	job, err := p.cron.Every(p.interval).Do(p.runTick)
	if err != nil {
		return errors.Wrap(err, "register poll job")
	}
	job.SingletonMode()

	p.cron.StartAsync()
	go p.runTick()

	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop halts the schedule and waits for the in-flight tick to drain, up to
// stopDrainTimeout. The ledger submission inside a tick is never cancelled
// mid-flight; past the timeout the tick is abandoned via context cancel.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cron.Stop()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
	case <-time.After(stopDrainTimeout):
		p.logger.Warn("timeout waiting for in-flight tick, cancelling",
			zap.Duration("timeout", stopDrainTimeout))
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		p.logger.Info("poller stopped after cancel")
	}

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

// runTick is the scheduled entrypoint. The compare-and-swap is the explicit
// single-in-flight guard: a tick that outlives the interval makes later
// firings no-ops instead of concurrent claimers.
func (p *Poller) runTick() {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.Debug("previous tick still in flight, skipping")
		return
	}
	defer p.busy.Store(false)

	p.running.Add(1)
	defer p.running.Done()

	ctx := p.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.tick(ctx); err != nil {
		// Tick errors are non-fatal: log and let the next interval retry.
		p.logger.Error("tick failed", zap.Error(err))
	}
}

// RunOnce executes a single tick synchronously, outside the schedule. Used
// by tests and for manual triggering.
func (p *Poller) RunOnce(ctx context.Context) error {
	return p.tick(ctx)
}

func (p *Poller) tick(ctx context.Context) error {
	tickID := uuid.NewString()

	records, err := p.locator.FindUnprocessed(ctx)
	if err != nil {
		return errors.Wrap(err, "locate unprocessed service records")
	}
	if len(records) == 0 {
		p.logger.Debug("no unprocessed service records", zap.String("tick_id", tickID))
		return nil
	}

	p.logger.Info("found unprocessed service records",
		zap.String("tick_id", tickID),
		zap.Int("count", len(records)),
		zap.Strings("record_ids", lo.Map(records, func(r store.ServiceRecord, _ int) string {
			return r.RecordID
		})))

	// Strictly sequential: one in-flight ledger submission at a time.
	for _, record := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.processor.Process(ctx, record); err != nil {
			// A terminal-state write failed; the entry is stuck in
			// PROCESSING. Abort the tick and surface it; the remaining
			// records are picked up on the next interval.
			return errors.Wrapf(err, "process service record %s", record.RecordID)
		}
	}
	return nil
}
