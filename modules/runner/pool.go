package runner

import (
	"context"
	"flag"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pqlmon/pqlmon/pkg/model"
)

type PoolConfig struct {
	// MaxConcurrent bounds the number of monitor runs in flight.
	MaxConcurrent int `yaml:"max_concurrent"`
}

func (cfg *PoolConfig) RegisterFlagsAndApplyDefaults(_ *flag.FlagSet) {
	cfg.MaxConcurrent = 4
}

// Pool feeds monitor runs to a bounded set of workers while serializing runs
// of the same monitor: the runner itself does not self-lock, so two
// concurrent executions of one monitor id must never be admitted.
type Pool struct {
	runner *Runner
	group  *errgroup.Group
	gctx   context.Context

	mtx   sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPool(cfg *PoolConfig, r *Runner) *Pool {
	g, gctx := errgroup.WithContext(context.Background())
	g.SetLimit(cfg.MaxConcurrent)
	return &Pool{
		runner: r,
		group:  g,
		gctx:   gctx,
		locks:  map[string]*sync.Mutex{},
	}
}

func (p *Pool) monitorLock(id string) *sync.Mutex {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}

// Submit schedules one run. The callback receives the RunResult when the run
// completes. Two runs of the same monitor never overlap, but completion
// order across queued runs is unspecified.
func (p *Pool) Submit(ctx context.Context, monitor *model.Monitor, periodStart, periodEnd time.Time, manual, dryRun bool, executionID string, done func(*RunResult)) error {
	if monitor.ID == "" {
		return model.NewValidationError("monitor id is not set")
	}

	lock := p.monitorLock(monitor.ID)
	p.group.Go(func() error {
		lock.Lock()
		defer lock.Unlock()

		select {
		case <-ctx.Done():
			if done != nil {
				done(&RunResult{MonitorName: monitor.Name, Error: model.NewCancelledError(ctx.Err())})
			}
			return nil
		case <-p.gctx.Done():
			return nil
		default:
		}

		result := p.runner.Run(ctx, monitor, periodStart, periodEnd, manual, dryRun, executionID)
		if done != nil {
			done(result)
		}
		return nil
	})
	return nil
}

// Drain waits for all submitted runs to finish.
func (p *Pool) Drain() error {
	return p.group.Wait()
}
