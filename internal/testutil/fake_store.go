// Package testutil holds fake in-memory implementations of the store
// interfaces for integration-style tests. No test in this module imports
// it; each package's tests define their own stubs.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/store"
)

// FakeStore is an in-memory store.Store. Every collection/singleton is
// guarded by one mutex; it is not meant to model SQLite's single-writer
// serialization, only to satisfy the interfaces for tests above the
// package boundary.
type FakeStore struct {
	mu sync.Mutex

	jobs map[core.Pool]map[string]*core.Job

	state        store.SessionState
	heartbeats   int64
	lastBeat     time.Time
	events       []store.SessionEvent
	sessionLimit store.SessionLimit
	rateLimits   map[string]store.RateLimitSnapshot
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		jobs:       make(map[core.Pool]map[string]*core.Job),
		rateLimits: make(map[string]store.RateLimitSnapshot),
	}
}

// JobStoreFor returns a store.JobStore scoped to one pool's collection.
func (s *FakeStore) JobStoreFor(pool core.Pool) store.JobStore {
	return &fakeJobStore{store: s, pool: pool}
}

func (s *FakeStore) Ping(context.Context) error { return nil }
func (s *FakeStore) Close() error               { return nil }

// --- StateStore ---

func (s *FakeStore) GetState(context.Context) (store.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *FakeStore) SetSessionID(_ context.Context, sessionID string) error {
	s.mu.Lock()
	s.state.SessionID = sessionID
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) SetSequence(_ context.Context, seq int64) error {
	s.mu.Lock()
	s.state.Sequence = seq
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) SetBotUserID(_ context.Context, botUserID string) error {
	s.mu.Lock()
	s.state.BotUserID = botUserID
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) ClearSession(context.Context) error {
	s.mu.Lock()
	s.state = store.SessionState{}
	s.mu.Unlock()
	return nil
}

// --- HeartbeatStore ---

func (s *FakeStore) IncrementHeartbeat(_ context.Context, at time.Time) error {
	s.mu.Lock()
	s.heartbeats++
	s.lastBeat = at
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) GetHeartbeat(context.Context) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats, s.lastBeat, nil
}

// --- SessionEventStore ---

func (s *FakeStore) AppendEvent(_ context.Context, ev store.SessionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

// Events returns every appended session event, for test assertions.
func (s *FakeStore) Events() []store.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.SessionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// --- SessionLimitStore ---

func (s *FakeStore) SetSessionLimit(_ context.Context, limit store.SessionLimit) error {
	s.mu.Lock()
	s.sessionLimit = limit
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) GetSessionLimit(context.Context) (store.SessionLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLimit, nil
}

// --- RateLimitStore ---

func (s *FakeStore) UpsertRateLimit(_ context.Context, snap store.RateLimitSnapshot) error {
	s.mu.Lock()
	s.rateLimits[snap.Route] = snap
	s.mu.Unlock()
	return nil
}

func (s *FakeStore) GetRateLimit(_ context.Context, route string) (store.RateLimitSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimits[route], nil
}

// fakeJobStore implements store.JobStore over one pool's slice of
// FakeStore.jobs.
type fakeJobStore struct {
	store *FakeStore
	pool  core.Pool
}

func (f *fakeJobStore) Insert(_ context.Context, job *core.Job) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if f.store.jobs[f.pool] == nil {
		f.store.jobs[f.pool] = make(map[string]*core.Job)
	}
	f.store.jobs[f.pool][job.ID] = job
	return nil
}

func (f *fakeJobStore) ClaimNext(_ context.Context, pool core.Pool, workerID string) (*core.Job, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	var oldest *core.Job
	for _, job := range f.store.jobs[pool] {
		if !job.Claimable() {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = core.StatusProcessing
	oldest.WorkerID = workerID
	now := time.Now()
	oldest.StartedAt = &now
	return oldest, nil
}

func (f *fakeJobStore) SetReply(_ context.Context, jobID string, reply core.MessageRef) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	job, ok := f.store.jobs[f.pool][jobID]
	if !ok {
		return boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	job.Reply = &reply
	job.Status = core.StatusPending
	return nil
}

func (f *fakeJobStore) MarkCompleted(_ context.Context, jobID string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	job, ok := f.store.jobs[f.pool][jobID]
	if !ok {
		return boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	job.Status = core.StatusCompleted
	now := time.Now()
	job.CompletedAt = &now
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, jobID string, errText string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	job, ok := f.store.jobs[f.pool][jobID]
	if !ok {
		return boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	job.Status = core.StatusFailed
	job.Retry++
	job.LastErr = errText
	return nil
}

func (f *fakeJobStore) ResetStuck(_ context.Context, pool core.Pool, cutoff time.Time) (int, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	n := 0
	for _, job := range f.store.jobs[pool] {
		if job.Status != core.StatusProcessing || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		job.Status = core.StatusPending
		job.Retry++
		job.StartedAt = nil
		n++
	}
	return n, nil
}

func (f *fakeJobStore) CountByStatus(_ context.Context, pool core.Pool) (map[core.Status]int, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	counts := make(map[core.Status]int)
	for _, job := range f.store.jobs[pool] {
		counts[job.Status]++
	}
	return counts, nil
}

func (f *fakeJobStore) Get(_ context.Context, jobID string) (*core.Job, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	job, ok := f.store.jobs[f.pool][jobID]
	if !ok {
		return nil, boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	return job, nil
}
