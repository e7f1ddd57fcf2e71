package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Processor is implemented by each pool's job pipeline. ProcessNext claims
// and fully handles at most one job; it reports whether it did work so the
// pool loop knows whether to immediately retry or wait for a notification.
type Processor interface {
	// PoolName identifies the pool for logging and metrics.
	PoolName() string
	// ProcessNext claims the oldest pending job and runs it to completion.
	// Returns didWork=false when there was nothing claimable.
	ProcessNext(ctx context.Context) (didWork bool, err error)
}

// Pool is a fixed-size cooperative worker group bound to one Processor.
// Idle workers suspend on notify and are woken precisely when Notify is
// called; spurious wakeups are tolerated because ProcessNext itself
// re-checks for claimable work.
type Pool struct {
	processor Processor
	notify    chan struct{}

	mu           sync.Mutex
	workersAlive int64
	maxWorkers   int64

	ctxMu sync.RWMutex
	ctx   context.Context

	wg sync.WaitGroup
}

// NewPool creates a Pool bound to processor with the given initial worker cap.
func NewPool(processor Processor, maxWorkers int) *Pool {
	return &Pool{
		processor:  processor,
		notify:     make(chan struct{}, 1),
		maxWorkers: int64(maxWorkers),
		ctx:        context.Background(),
	}
}

// setCtx records the context workers should run and wait against. Run
// calls this before starting any worker; Notify calls before Run do not
// see cancellation until Run assigns the real context.
func (p *Pool) setCtx(ctx context.Context) {
	p.ctxMu.Lock()
	p.ctx = ctx
	p.ctxMu.Unlock()
}

func (p *Pool) currentCtx() context.Context {
	p.ctxMu.RLock()
	defer p.ctxMu.RUnlock()
	return p.ctx
}

// SetMaxWorkers resizes the pool. Shrinking is lazy: extant workers finish
// their current job and exit naturally on their next idle check.
func (p *Pool) SetMaxWorkers(n int) {
	atomic.StoreInt64(&p.maxWorkers, int64(n))
	p.Notify()
}

// Notify spins up a worker if the pool is under capacity, then wakes one
// idle waiter. Called by submit() on job insert and by a worker after it
// finishes a job, in case more work is pending.
func (p *Pool) Notify() {
	p.mu.Lock()
	if p.workersAlive < atomic.LoadInt64(&p.maxWorkers) {
		p.workersAlive++
		p.wg.Add(1)
		go p.runWorker(p.currentCtx())
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run starts the first worker, then blocks until ctx is cancelled and every
// worker has exited. Further workers start on each Notify, up to the
// configured count. It satisfies the Worker interface so a Pool can
// be registered with a Runner alongside the gateway session and sweeper.
func (p *Pool) Run(ctx context.Context) error {
	p.setCtx(ctx)
	p.Notify()
	<-ctx.Done()
	p.wg.Wait()
	return nil
}

// Name satisfies the Worker interface.
func (p *Pool) Name() string {
	return p.processor.PoolName() + "-pool"
}

func (p *Pool) runWorker(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.workersAlive--
		p.mu.Unlock()
		p.wg.Done()
	}()

	for {
		didWork, err := p.processor.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("processor error", "pool", p.processor.PoolName(), "error", err)
			continue
		}
		if didWork {
			continue
		}
		if !p.waitForNotify(ctx) {
			return
		}
	}
}

// waitForNotify blocks until Notify is pulsed or ctx is cancelled,
// returning false in the latter case or if the pool has been asked to
// shrink below the current worker count.
func (p *Pool) waitForNotify(ctx context.Context) bool {
	select {
	case <-p.notify:
	case <-ctx.Done():
		return false
	}
	if atomic.LoadInt64(&p.maxWorkers) < p.currentAlive() {
		return false
	}
	return true
}

func (p *Pool) currentAlive() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workersAlive
}
