// Package queue implements the submit-side policy: post a status
// message, insert the job record with that message as its reply target,
// and wake the owning pool.
package queue

import (
	"context"
	"fmt"

	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/store"
)

// MessagePoster is the subset of the Discord REST client submit needs.
type MessagePoster interface {
	SendMessage(ctx context.Context, channelID, content, replyToMessageID string) (core.MessageRef, error)
}

// Notifier wakes a pool's workers after a job becomes claimable.
type Notifier interface {
	Notify()
}

// AvailabilityChecker reports whether a pool's dependencies are present.
// Only the REMBG pool wires one today (its ONNX model/runtime); other
// pools leave this nil and are always available.
type AvailabilityChecker interface {
	Available() bool
}

// Queue wires one pool's JobStore to its worker Notifier and the shared
// Discord client, implementing the submit entry the router dispatches to.
type Queue struct {
	pool         core.Pool
	jobs         store.JobStore
	poster       MessagePoster
	notifier     Notifier
	availability AvailabilityChecker
}

// New creates a Queue for pool.
func New(pool core.Pool, jobs store.JobStore, poster MessagePoster, notifier Notifier) *Queue {
	return &Queue{pool: pool, jobs: jobs, poster: poster, notifier: notifier}
}

// WithAvailability attaches an AvailabilityChecker that gates submission;
// when it reports false, Submit replies with an error instead of
// inserting a job (the Rembg pool uses this when its model is absent).
func (q *Queue) WithAvailability(checker AvailabilityChecker) *Queue {
	q.availability = checker
	return q
}

// Submission is the input the router hands to Submit: the source message
// plus typed command args plus the attachments to transform.
type Submission struct {
	ChannelID       string
	OriginMessageID string
	AuthorID        string
	OriginText      string
	Attachments     []core.Attachment
	Args            core.CommandArgs
}

// Submit posts the initial status message and inserts a pending job. If
// there are no attachments it short-circuits with a direct reply and
// inserts nothing.
func (q *Queue) Submit(ctx context.Context, sub Submission) error {
	if len(sub.Attachments) == 0 {
		_, err := q.poster.SendMessage(ctx, sub.ChannelID, "No attachments found to process.", sub.OriginMessageID)
		return err
	}

	if q.availability != nil && !q.availability.Available() {
		_, err := q.poster.SendMessage(ctx, sub.ChannelID, "This command is currently unavailable.", sub.OriginMessageID)
		return err
	}

	status := fmt.Sprintf("Queued %s for processing...", sub.Args.Kind)
	reply, err := q.poster.SendMessage(ctx, sub.ChannelID, status, sub.OriginMessageID)
	if err != nil {
		return err
	}

	job := &core.Job{
		Pool:            q.pool,
		OriginMessageID: sub.OriginMessageID,
		ChannelID:       sub.ChannelID,
		AuthorID:        sub.AuthorID,
		Attachments:     sub.Attachments,
		OriginText:      sub.OriginText,
		Reply:           &reply,
		Status:          core.StatusPending,
	}
	applyParams(job, sub.Args)

	if err := q.jobs.Insert(ctx, job); err != nil {
		return err
	}

	q.notifier.Notify()
	return nil
}

// applyParams fills the pool-specific params struct from the parsed
// command args.
func applyParams(job *core.Job, args core.CommandArgs) {
	switch args.Kind {
	case core.CommandBLP:
		job.BLP = &core.BLPParams{Target: "BLP", Quality: args.Quality, Zip: args.Zip}
	case core.CommandPNG:
		job.BLP = &core.BLPParams{Target: "PNG", Quality: args.Quality, Zip: args.Zip}
	case core.CommandRembg:
		job.Rembg = &core.RembgParams{Threshold: args.Threshold, Binary: args.Binary, Mask: args.Mask, Zip: args.Zip}
	case core.CommandIcon:
		job.Icon = &core.IconParams{Zip: true}
	}
}
