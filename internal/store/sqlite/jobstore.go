package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/core"
)

// jobStore implements store.JobStore against one pool's table.
type jobStore struct {
	write *sql.DB
	read  *sql.DB
	pool  core.Pool
}

// paramsRow is the union of every pool's params, marshaled into the
// params JSON column and decoded back according to the owning pool.
type paramsRow struct {
	Target    string `json:"target,omitempty"`
	Quality   int    `json:"quality,omitempty"`
	Threshold int    `json:"threshold,omitempty"`
	Binary    bool   `json:"binary,omitempty"`
	Mask      bool   `json:"mask,omitempty"`
	Zip       bool   `json:"zip,omitempty"`
}

func paramsToRow(j *core.Job) paramsRow {
	switch {
	case j.BLP != nil:
		return paramsRow{Target: j.BLP.Target, Quality: j.BLP.Quality, Zip: j.BLP.Zip}
	case j.Rembg != nil:
		return paramsRow{Threshold: j.Rembg.Threshold, Binary: j.Rembg.Binary, Mask: j.Rembg.Mask, Zip: j.Rembg.Zip}
	case j.Icon != nil:
		return paramsRow{Zip: j.Icon.Zip}
	default:
		return paramsRow{}
	}
}

func rowToParams(pool core.Pool, j *core.Job, p paramsRow) {
	switch pool {
	case core.PoolBLP:
		j.BLP = &core.BLPParams{Target: p.Target, Quality: p.Quality, Zip: p.Zip}
	case core.PoolRembg:
		j.Rembg = &core.RembgParams{Threshold: p.Threshold, Binary: p.Binary, Mask: p.Mask, Zip: p.Zip}
	case core.PoolIcon:
		j.Icon = &core.IconParams{Zip: p.Zip}
	}
}

func attachmentsToJSON(atts []core.Attachment) (string, error) {
	return marshalJSON(atts)
}

func attachmentsFromJSON(s string) ([]core.Attachment, error) {
	var atts []core.Attachment
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &atts); err != nil {
		return nil, err
	}
	return atts, nil
}

func (s *jobStore) table() string {
	return s.pool.Collection()
}

func (s *jobStore) Insert(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}

	attachmentsJSON, err := attachmentsToJSON(job.Attachments)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-insert-marshal-attachments").With(err)
	}
	paramsJSON, err := marshalJSON(paramsToRow(job))
	if err != nil {
		return boterror.New(boterror.KindStore, "job-insert-marshal-params").With(err)
	}

	var replyID, replyChannel sql.NullString
	if job.Reply != nil {
		replyID = nullStr(job.Reply.ID)
		replyChannel = nullStr(job.Reply.ChannelID)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, origin_msg_id, channel_id, author_id, attachments, origin_text,
		 reply_id, reply_channel, params, status, created_at, retry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table())

	_, err = s.write.ExecContext(ctx, query,
		job.ID, job.OriginMessageID, job.ChannelID, job.AuthorID,
		attachmentsJSON, job.OriginText,
		replyID, replyChannel, paramsJSON, string(job.Status),
		timeToStr(job.CreatedAt), job.Retry,
	)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-insert-failed").With(err)
	}
	return nil
}

// ClaimNext is the sole serialization point between workers: an
// UPDATE ... RETURNING against the single-writer connection picks the
// oldest claimable row and flips it to processing atomically.
func (s *jobStore) ClaimNext(ctx context.Context, pool core.Pool, workerID string) (*core.Job, error) {
	now := timeToStr(time.Now())
	query := fmt.Sprintf(`UPDATE %s SET status='processing', worker_id=?, started_at=?
		WHERE id = (
			SELECT id FROM %s
			WHERE status='pending' AND retry < ?
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING id, origin_msg_id, channel_id, author_id, attachments, origin_text,
		          reply_id, reply_channel, params, status, created_at, started_at,
		          completed_at, retry, last_error, worker_id`, s.table(), s.table())

	row := s.write.QueryRowContext(ctx, query, workerID, now, core.MaxRetries)
	job, err := scanJob(row, pool)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, boterror.New(boterror.KindStore, "job-claim-failed").With(err)
	}
	return job, nil
}

func (s *jobStore) SetReply(ctx context.Context, jobID string, reply core.MessageRef) error {
	query := fmt.Sprintf(`UPDATE %s SET reply_id=?, reply_channel=?, status='pending' WHERE id=?`, s.table())
	result, err := s.write.ExecContext(ctx, query, reply.ID, reply.ChannelID, jobID)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-set-reply-failed").With(err)
	}
	ok, err := checkRowsAffected(result)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-set-reply-failed").With(err)
	}
	if !ok {
		return boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	return nil
}

func (s *jobStore) MarkCompleted(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET status='completed', completed_at=? WHERE id=?`, s.table())
	_, err := s.write.ExecContext(ctx, query, timeToStr(time.Now()), jobID)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-mark-completed-failed").With(err)
	}
	return nil
}

func (s *jobStore) MarkFailed(ctx context.Context, jobID string, errText string) error {
	query := fmt.Sprintf(`UPDATE %s SET status='failed', last_error=?, completed_at=?, retry=retry+1 WHERE id=?`, s.table())
	_, err := s.write.ExecContext(ctx, query, errText, timeToStr(time.Now()), jobID)
	if err != nil {
		return boterror.New(boterror.KindStore, "job-mark-failed-failed").With(err)
	}
	return nil
}

func (s *jobStore) ResetStuck(ctx context.Context, pool core.Pool, cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`UPDATE %s SET status='pending', worker_id=NULL, retry=retry+1
		WHERE status='processing' AND started_at < ?`, s.table())
	result, err := s.write.ExecContext(ctx, query, timeToStr(cutoff))
	if err != nil {
		return 0, boterror.New(boterror.KindStore, "job-reset-stuck-failed").With(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, boterror.New(boterror.KindStore, "job-reset-stuck-failed").With(err)
	}
	return int(n), nil
}

func (s *jobStore) CountByStatus(ctx context.Context, pool core.Pool) (map[core.Status]int, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, s.table())
	rows, err := s.read.QueryContext(ctx, query)
	if err != nil {
		return nil, boterror.New(boterror.KindStore, "job-count-failed").With(err)
	}
	defer rows.Close()

	counts := make(map[core.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, boterror.New(boterror.KindStore, "job-count-scan-failed").With(err)
		}
		counts[core.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *jobStore) Get(ctx context.Context, jobID string) (*core.Job, error) {
	query := fmt.Sprintf(`SELECT id, origin_msg_id, channel_id, author_id, attachments, origin_text,
		reply_id, reply_channel, params, status, created_at, started_at,
		completed_at, retry, last_error, worker_id FROM %s WHERE id=?`, s.table())
	row := s.read.QueryRowContext(ctx, query, jobID)
	job, err := scanJob(row, s.pool)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, boterror.New(boterror.KindStore, "job-not-found").Withf("id=%s", jobID)
	}
	if err != nil {
		return nil, boterror.New(boterror.KindStore, "job-get-failed").With(err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner, pool core.Pool) (*core.Job, error) {
	var j core.Job
	var attachmentsJSON, paramsJSON string
	var replyID, replyChannel, startedAt, completedAt, lastError, workerID sql.NullString
	var status, createdAt string

	err := r.Scan(
		&j.ID, &j.OriginMessageID, &j.ChannelID, &j.AuthorID, &attachmentsJSON, &j.OriginText,
		&replyID, &replyChannel, &paramsJSON, &status, &createdAt, &startedAt,
		&completedAt, &j.Retry, &lastError, &workerID,
	)
	if err != nil {
		return nil, err
	}

	j.Pool = pool
	j.Status = core.Status(status)
	j.LastErr = lastError.String
	j.WorkerID = workerID.String

	if replyID.Valid {
		j.Reply = &core.MessageRef{ID: replyID.String, ChannelID: replyChannel.String}
	}

	j.Attachments, err = attachmentsFromJSON(attachmentsJSON)
	if err != nil {
		return nil, err
	}

	var p paramsRow
	if err := json.Unmarshal([]byte(paramsJSON), &p); err != nil {
		return nil, err
	}
	rowToParams(pool, &j, p)

	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)

	return &j, nil
}
