package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/store"
)

// sweepInterval is how often Sweeper rescans for stuck jobs after its
// mandatory startup pass.
const sweepInterval = 5 * time.Minute

// Notifier wakes a pool's idle workers. internal/worker.Pool satisfies
// this directly.
type Notifier interface {
	Notify()
}

// SweepTarget pairs one pool's job store with the Notifier that should be
// woken after stuck jobs in it are reset back to pending.
type SweepTarget struct {
	Pool     core.Pool
	Jobs     store.JobStore
	Notifier Notifier
}

// Sweeper runs reset_stuck across every pool once at startup and then on
// a fixed interval, reclaiming jobs left processing by a worker that died
// mid-job.
type Sweeper struct {
	targets []SweepTarget
	timeout time.Duration
}

// NewSweeper creates a Sweeper over targets with the given stuck-job
// timeout.
func NewSweeper(timeout time.Duration, targets ...SweepTarget) *Sweeper {
	return &Sweeper{targets: targets, timeout: timeout}
}

// Name satisfies the Worker interface.
func (s *Sweeper) Name() string { return "sweeper" }

// Run performs the mandatory startup sweep, then repeats on sweepInterval
// until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweepAll(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

// SweepNow runs one sweep pass immediately, outside the regular ticker
// cadence. Used by the admin HTTP surface's manual sweep action.
func (s *Sweeper) SweepNow(ctx context.Context) {
	s.sweepAll(ctx)
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	cutoff := time.Now().Add(-s.timeout)
	for _, target := range s.targets {
		n, err := target.Jobs.ResetStuck(ctx, target.Pool, cutoff)
		if err != nil {
			slog.Error("sweep failed", "pool", target.Pool, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("sweep reset stuck jobs", "pool", target.Pool, "count", n)
			target.Notifier.Notify()
		}
	}
}
