// Package processor implements the claim-transform-complete pipeline every
// pool runs: claim a job, post a status reply if one isn't
// set yet, download and dedupe attachments, run the pool's transform,
// package the results, and patch the status message with the outcome.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/codec"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/discordapi"
	"github.com/warraft/raftbot/internal/store"
)

// maxParallelDownloads bounds concurrent attachment fetches per job.
const maxParallelDownloads = 4

// Poster is the subset of the Discord REST client the pipeline needs to
// post status updates and deliver final products.
type Poster interface {
	SendMessage(ctx context.Context, channelID, content, replyToMessageID string) (core.MessageRef, error)
	SendMessageWithFiles(ctx context.Context, channelID, messageID, content string, files []discordapi.File) error
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

// Notifier wakes the owning pool after a job is re-armed for claim.
type Notifier interface {
	Notify()
}

// Transform is a pool's per-attachment conversion. It receives the
// downloaded bytes and the job that owns them, and returns zero or more
// named output files for that one attachment.
type Transform interface {
	// PoolName identifies the pool for status text and logging.
	PoolName() string
	// Run converts one downloaded attachment into output products.
	Run(ctx context.Context, job *core.Job, filename string, data []byte) ([]core.Product, error)
}

// CollageBuilder is an optional capability a Transform may implement when
// it needs to emit one extra product built from every successfully
// downloaded attachment's raw bytes, after per-attachment Run calls
// finish. Only the icon pool implements this, for its preview collage.
type CollageBuilder interface {
	BuildCollage(downloads []AttachmentBytes) (core.Product, error)
}

// AttachmentBytes is one successfully downloaded attachment's name and
// raw bytes, handed to a CollageBuilder.
type AttachmentBytes struct {
	Name string
	Data []byte
}

// Pipeline is the shared claim/download/transform/package/complete loop,
// parameterized by one pool's Transform.
type Pipeline struct {
	pool      core.Pool
	jobs      store.JobStore
	poster    Poster
	notifier  Notifier
	transform Transform
	workerID  string
}

// New creates a Pipeline bound to one pool's store, transport, and
// transform.
func New(pool core.Pool, jobs store.JobStore, poster Poster, notifier Notifier, transform Transform, workerID string) *Pipeline {
	return &Pipeline{pool: pool, jobs: jobs, poster: poster, notifier: notifier, transform: transform, workerID: workerID}
}

// PoolName satisfies worker.Processor.
func (p *Pipeline) PoolName() string {
	return string(p.pool)
}

// ProcessNext claims the oldest claimable job and drives it through
// to completion or failure.
func (p *Pipeline) ProcessNext(ctx context.Context) (bool, error) {
	job, err := p.jobs.ClaimNext(ctx, p.pool, p.workerID)
	if err != nil {
		return false, boterror.New(boterror.KindStore, "claim-next-failed").With(err)
	}
	if job == nil {
		return false, nil
	}

	if job.Reply == nil {
		if err := p.postInitialReply(ctx, job); err != nil {
			return true, err
		}
		return true, nil
	}

	p.runJob(ctx, job)
	return true, nil
}

// postInitialReply covers the case where a job was inserted without a
// reply target (e.g. recovered from a sweep before a reply existed): post
// a status message, attach it, flip back to pending, and re-notify so a
// subsequent claim performs the real work.
func (p *Pipeline) postInitialReply(ctx context.Context, job *core.Job) error {
	content := fmt.Sprintf("Processing %s...", p.transform.PoolName())
	reply, err := p.poster.SendMessage(ctx, job.ChannelID, content, job.OriginMessageID)
	if err != nil {
		return boterror.New(boterror.KindAPI, "post-initial-reply-failed").With(err)
	}
	if err := p.jobs.SetReply(ctx, job.ID, reply); err != nil {
		return boterror.New(boterror.KindStore, "set-reply-failed").With(err)
	}
	p.notifier.Notify()
	return nil
}

// runJob performs the download/transform/package/complete sequence for a
// job that already has a reply target, marking it completed or failed
// and re-notifying in every case.
func (p *Pipeline) runJob(ctx context.Context, job *core.Job) {
	products, downloads, err := p.transformAttachments(ctx, job)
	if err != nil {
		p.fail(ctx, job, err)
		return
	}

	var collage *core.Product
	if builder, ok := p.transform.(CollageBuilder); ok && len(downloads) > 0 {
		product, err := builder.BuildCollage(downloads)
		if err != nil {
			p.fail(ctx, job, boterror.New(boterror.KindCodec, "build-collage-failed").With(err))
			return
		}
		collage = &product
		products = append(products, product)
	}

	files := make([]discordapi.File, 0, len(products))
	for _, prod := range products {
		files = append(files, discordapi.File{Name: prod.Filename, Bytes: prod.Bytes})
	}

	var archived []discordapi.File
	if zipRequested(job) {
		named := make([]codec.NamedFile, 0, len(products))
		for _, prod := range products {
			named = append(named, codec.NamedFile{Path: prod.Filename, Bytes: prod.Bytes})
		}
		data, err := codec.BuildArchive(named)
		if err != nil {
			p.fail(ctx, job, boterror.New(boterror.KindCodec, "build-archive-failed").With(err))
			return
		}
		archived = []discordapi.File{{Name: archiveName(job) + ".zip", Bytes: data}}
		if collage != nil {
			archived = append([]discordapi.File{{Name: collage.Filename, Bytes: collage.Bytes}}, archived...)
		}
	} else {
		archived = files
	}

	elapsed := time.Since(job.CreatedAt).Seconds()
	zipSuffix := ""
	if zipRequested(job) {
		zipSuffix = " (zipped)"
	}
	completion := fmt.Sprintf("Converted %d image(s) %s%s\n Completed in %.2fs",
		len(job.Attachments), completionDesc(job), zipSuffix, elapsed)

	if err := p.poster.SendMessageWithFiles(ctx, job.Reply.ChannelID, job.Reply.ID, completion, archived); err != nil {
		p.fail(ctx, job, boterror.New(boterror.KindAPI, "send-completion-failed").With(err))
		return
	}

	if err := p.jobs.MarkCompleted(ctx, job.ID); err != nil {
		slog.Error("mark completed failed", "pool", p.pool, "job", job.ID, "error", err)
	}
	p.notifier.Notify()
}

// fail records the failure, marks the job failed, and re-notifies the
// pool. ClaimNext only claims pending jobs and ResetStuck only resets
// processing ones, so a failed job is not run again.
func (p *Pipeline) fail(ctx context.Context, job *core.Job, cause error) {
	slog.Error("job failed", "pool", p.pool, "job", job.ID, "error", cause)
	if err := p.jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		slog.Error("mark failed failed", "pool", p.pool, "job", job.ID, "error", err)
	}
	p.notifier.Notify()
}

// transformAttachments dedupes filenames, downloads every attachment in
// parallel (bounded by maxParallelDownloads), and runs the pool transform
// on each; a per-attachment failure degrades to an `<stem>.error.txt`
// product instead of failing the whole job.
func (p *Pipeline) transformAttachments(ctx context.Context, job *core.Job) ([]core.Product, []AttachmentBytes, error) {
	names := dedupeFilenames(job.Attachments)

	type downloaded struct {
		name string
		data []byte
		err  error
	}
	results := make([]downloaded, len(job.Attachments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i, att := range job.Attachments {
		i, att := i, att
		g.Go(func() error {
			data, err := p.poster.DownloadAttachment(gctx, att.URL)
			results[i] = downloaded{name: names[i], data: data, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var products []core.Product
	var downloads []AttachmentBytes
	for _, r := range results {
		if r.err != nil {
			products = append(products, errorProduct(r.name, r.err))
			continue
		}
		downloads = append(downloads, AttachmentBytes{Name: r.name, Data: r.data})

		out, err := p.transform.Run(ctx, job, r.name, r.data)
		if err != nil {
			products = append(products, errorProduct(r.name, err))
			continue
		}
		products = append(products, out...)
	}
	return products, downloads, nil
}

// errorProduct builds the `<stem>.error.txt` fallback a failed
// attachment produces instead of aborting the job.
func errorProduct(filename string, cause error) core.Product {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	text := fmt.Sprintf("Error processing file: %s\n\nError details:\n%v\n\nTimestamp: %s",
		filename, cause, time.Now().UTC().Format(time.RFC3339))
	return core.Product{Filename: stem + ".error.txt", Bytes: []byte(text)}
}

// dedupeFilenames resolves collisions by appending _2, _3, ... to the
// stem of each later duplicate, matching the original's
// ensure_unique_filenames behavior.
func dedupeFilenames(attachments []core.Attachment) []string {
	seen := make(map[string]int, len(attachments))
	names := make([]string, len(attachments))
	for i, att := range attachments {
		name := att.Filename
		seen[name]++
		if n := seen[name]; n > 1 {
			ext := filepath.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		names[i] = name
	}
	return names
}

// zipRequested reports whether the job's pool-specific params ask for a
// zip archive instead of individual files.
func zipRequested(job *core.Job) bool {
	switch job.Pool {
	case core.PoolBLP:
		return job.BLP != nil && job.BLP.Zip
	case core.PoolRembg:
		return job.Rembg != nil && job.Rembg.Zip
	case core.PoolIcon:
		return job.Icon != nil && job.Icon.Zip
	default:
		return false
	}
}

// completionDesc builds the pool/target-specific fragment that fills
// spec's "Converted N image(s) <desc>" slot.
func completionDesc(job *core.Job) string {
	switch job.Pool {
	case core.PoolBLP:
		if job.BLP != nil && job.BLP.Target == "PNG" {
			return "to PNG"
		}
		quality := core.DefaultQuality
		if job.BLP != nil {
			quality = job.BLP.Quality
		}
		return fmt.Sprintf("to BLP (quality: %d)", quality)
	case core.PoolRembg:
		return "background removed"
	case core.PoolIcon:
		return "converted to icons"
	default:
		return string(job.Pool)
	}
}

func archiveName(job *core.Job) string {
	return string(job.Pool) + "_" + job.ID
}
