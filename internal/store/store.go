// Package store defines the persistence interfaces the queue engine and
// gateway session depend on.
package store

import (
	"context"
	"time"

	"github.com/warraft/raftbot/internal/core"
)

// JobStore manages one pool's job collection: atomic claim, status
// transitions, and the telemetry counts.
type JobStore interface {
	// Insert persists a new job, assigning it an ID.
	Insert(ctx context.Context, job *core.Job) error

	// ClaimNext atomically transitions the oldest claimable job to
	// processing and returns its post-image. Returns nil, nil if none
	// are claimable.
	ClaimNext(ctx context.Context, pool core.Pool, workerID string) (*core.Job, error)

	// SetReply persists the status message reference and flips the job
	// back to pending so a subsequent claim performs the transform.
	SetReply(ctx context.Context, jobID string, reply core.MessageRef) error

	// MarkCompleted transitions a processing job to completed.
	MarkCompleted(ctx context.Context, jobID string) error

	// MarkFailed transitions a processing job to failed and increments retry.
	MarkFailed(ctx context.Context, jobID string, errText string) error

	// ResetStuck resets processing jobs started before the cutoff back to
	// pending, incrementing retry, and returns the count reset.
	ResetStuck(ctx context.Context, pool core.Pool, cutoff time.Time) (int, error)

	// CountByStatus returns telemetry counts per status for one pool.
	CountByStatus(ctx context.Context, pool core.Pool) (map[core.Status]int, error)

	// Get returns a single job by ID, for tests and admin introspection.
	Get(ctx context.Context, jobID string) (*core.Job, error)
}

// SessionState is the gateway's persisted singleton (`discord_state`).
type SessionState struct {
	SessionID string
	Sequence  int64
	BotUserID string
}

// StateStore persists the gateway session singleton.
type StateStore interface {
	GetState(ctx context.Context) (SessionState, error)
	SetSessionID(ctx context.Context, sessionID string) error
	SetSequence(ctx context.Context, seq int64) error
	SetBotUserID(ctx context.Context, botUserID string) error
	ClearSession(ctx context.Context) error
}

// HeartbeatStore persists the `discord_heartbeat` singleton counter.
type HeartbeatStore interface {
	IncrementHeartbeat(ctx context.Context, at time.Time) error
	GetHeartbeat(ctx context.Context) (count int64, lastSent time.Time, err error)
}

// SessionEventKind enumerates the append-only session-event log's kinds.
type SessionEventKind string

const (
	EventIdentify       SessionEventKind = "identify"
	EventResume         SessionEventKind = "resume"
	EventResumed        SessionEventKind = "resumed"
	EventReady          SessionEventKind = "ready"
	EventInvalidSession SessionEventKind = "invalid_session"
)

// SessionEvent is one entry in the append-only `discord_session_events` log.
type SessionEvent struct {
	Kind      SessionEventKind
	SessionID string
	Sequence  *int64
	At        time.Time
}

// SessionEventStore appends to the session-event telemetry log.
type SessionEventStore interface {
	AppendEvent(ctx context.Context, ev SessionEvent) error
}

// SessionLimit is the `discord_session_limits` singleton.
type SessionLimit struct {
	Total          int
	Remaining      int
	ResetAfter     time.Duration
	MaxConcurrency int
	Shards         int
}

// SessionLimitStore persists the session-start-limit singleton.
type SessionLimitStore interface {
	SetSessionLimit(ctx context.Context, limit SessionLimit) error
	GetSessionLimit(ctx context.Context) (SessionLimit, error)
}

// RateLimitSnapshot is one route's last-seen rate-limit headers, written
// opportunistically and consulted only for observability.
type RateLimitSnapshot struct {
	Route      string
	Limit      int
	Remaining  int
	Reset      int64
	ResetAfter float64
	Bucket     string
	Global     bool
	UpdatedAt  time.Time
}

// RateLimitStore persists per-route rate-limit snapshots.
type RateLimitStore interface {
	UpsertRateLimit(ctx context.Context, snap RateLimitSnapshot) error
	GetRateLimit(ctx context.Context, route string) (RateLimitSnapshot, error)
}

// Store combines every persistence interface the service depends on.
type Store interface {
	JobStoreFor(pool core.Pool) JobStore
	StateStore
	HeartbeatStore
	SessionEventStore
	SessionLimitStore
	RateLimitStore

	Ping(ctx context.Context) error
	Close() error
}
