package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/warraft/raftbot/internal/core"
)

type fakeSweepJobStore struct {
	resetCount int
	calls      int64
}

func (f *fakeSweepJobStore) Insert(ctx context.Context, job *core.Job) error { return nil }
func (f *fakeSweepJobStore) ClaimNext(ctx context.Context, pool core.Pool, workerID string) (*core.Job, error) {
	return nil, nil
}
func (f *fakeSweepJobStore) SetReply(ctx context.Context, jobID string, reply core.MessageRef) error {
	return nil
}
func (f *fakeSweepJobStore) MarkCompleted(ctx context.Context, jobID string) error { return nil }
func (f *fakeSweepJobStore) MarkFailed(ctx context.Context, jobID string, errText string) error {
	return nil
}
func (f *fakeSweepJobStore) ResetStuck(ctx context.Context, pool core.Pool, cutoff time.Time) (int, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.resetCount, nil
}
func (f *fakeSweepJobStore) CountByStatus(ctx context.Context, pool core.Pool) (map[core.Status]int, error) {
	return nil, nil
}
func (f *fakeSweepJobStore) Get(ctx context.Context, jobID string) (*core.Job, error) { return nil, nil }

type fakeSweepNotifier struct {
	notified int64
}

func (f *fakeSweepNotifier) Notify() { atomic.AddInt64(&f.notified, 1) }

func TestSweeper_RunsStartupSweepImmediately(t *testing.T) {
	t.Parallel()
	jobs := &fakeSweepJobStore{resetCount: 2}
	notifier := &fakeSweepNotifier{}
	sweeper := NewSweeper(10*time.Minute, SweepTarget{Pool: core.PoolBLP, Jobs: jobs, Notifier: notifier})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = sweeper.Run(ctx)

	if atomic.LoadInt64(&jobs.calls) < 1 {
		t.Error("expected at least one ResetStuck call")
	}
	if atomic.LoadInt64(&notifier.notified) < 1 {
		t.Error("expected notify after resetting stuck jobs")
	}
}

func TestSweeper_SkipsNotifyWhenNothingReset(t *testing.T) {
	t.Parallel()
	jobs := &fakeSweepJobStore{resetCount: 0}
	notifier := &fakeSweepNotifier{}
	sweeper := NewSweeper(10*time.Minute, SweepTarget{Pool: core.PoolIcon, Jobs: jobs, Notifier: notifier})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = sweeper.Run(ctx)

	if atomic.LoadInt64(&notifier.notified) != 0 {
		t.Errorf("notified = %d, want 0", notifier.notified)
	}
}

func TestSweeper_Name(t *testing.T) {
	t.Parallel()
	if (&Sweeper{}).Name() != "sweeper" {
		t.Error("unexpected name")
	}
}
