// Package core holds the domain types shared by every component: jobs,
// pools, command arguments, and the small value types that flow between
// the gateway, the queue engine, and the processors. Core imports nothing
// project-local.
package core

import "time"

// Pool names a worker group bound to one job collection.
type Pool string

const (
	PoolBLP   Pool = "blp"
	PoolRembg Pool = "rembg"
	PoolIcon  Pool = "icon"
)

// Collection returns the store collection/table name normative for this pool.
func (p Pool) Collection() string {
	return "discord_command_" + string(p)
}

// Status is a job's lifecycle state. Transitions form the DAG
// pending -> processing -> {completed, failed}, with a supervisory sweep
// able to reset processing back to pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// MaxRetries bounds the retry counter; a job at or beyond this count is
// never claimable while pending.
const MaxRetries = 3

// Attachment is one file referenced by an origin or reply message.
type Attachment struct {
	URL      string
	Filename string
}

// MessageRef identifies a posted message the bot can later edit.
type MessageRef struct {
	ID        string
	ChannelID string
}

// BLPParams parameterizes the BLP pool.
type BLPParams struct {
	Target  string // "BLP" or "PNG"
	Quality int    // 1..100
	Zip     bool
}

// RembgParams parameterizes the REMBG pool.
type RembgParams struct {
	Threshold int // 0..255
	Binary    bool
	Mask      bool
	Zip       bool
}

// IconParams parameterizes the ICON pool. Zip is always true for this pool.
type IconParams struct {
	Zip bool
}

// Job is the persisted unit of work for one pool. Exactly one of the
// *Params fields is meaningful, selected by Pool.
type Job struct {
	ID string

	Pool Pool

	OriginMessageID string
	ChannelID       string
	AuthorID        string
	Attachments     []Attachment
	OriginText      string

	Reply *MessageRef

	BLP   *BLPParams
	Rembg *RembgParams
	Icon  *IconParams

	Status Status

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Retry    int
	LastErr  string
	WorkerID string
}

// Claimable reports whether the job is eligible for claim_next: pending
// and under the retry ceiling.
func (j *Job) Claimable() bool {
	return j.Status == StatusPending && j.Retry < MaxRetries
}

// TerminallyFailed reports whether the job has exhausted its retries while
// failed; no further sweep or claim will revive it.
func (j *Job) TerminallyFailed() bool {
	return j.Status == StatusFailed && j.Retry >= MaxRetries
}

// Product is a single (filename, bytes) pair produced by a processor for
// one input attachment. A transform may emit zero, one, or several per
// attachment (including an `<stem>.error.txt` on a per-attachment failure).
type Product struct {
	Filename string
	Bytes    []byte
}
