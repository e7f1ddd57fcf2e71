package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/store"
)

func (s *Store) GetState(ctx context.Context) (store.SessionState, error) {
	var sessionID, botUserID sql.NullString
	var seq sql.NullInt64
	err := s.read.QueryRowContext(ctx,
		`SELECT session_id, sequence, bot_user_id FROM discord_state WHERE id='bot_state'`,
	).Scan(&sessionID, &seq, &botUserID)
	if err != nil {
		return store.SessionState{}, boterror.New(boterror.KindStore, "state-get-failed").With(err)
	}
	return store.SessionState{
		SessionID: sessionID.String,
		Sequence:  seq.Int64,
		BotUserID: botUserID.String,
	}, nil
}

func (s *Store) SetSessionID(ctx context.Context, sessionID string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_state SET session_id=? WHERE id='bot_state'`, sessionID)
	if err != nil {
		return boterror.New(boterror.KindStore, "state-set-session-id-failed").With(err)
	}
	return nil
}

func (s *Store) SetSequence(ctx context.Context, seq int64) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_state SET sequence=? WHERE id='bot_state'`, seq)
	if err != nil {
		return boterror.New(boterror.KindStore, "state-set-sequence-failed").With(err)
	}
	return nil
}

func (s *Store) SetBotUserID(ctx context.Context, botUserID string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_state SET bot_user_id=? WHERE id='bot_state'`, botUserID)
	if err != nil {
		return boterror.New(boterror.KindStore, "state-set-bot-user-id-failed").With(err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_state SET session_id=NULL, sequence=NULL WHERE id='bot_state'`)
	if err != nil {
		return boterror.New(boterror.KindStore, "state-clear-session-failed").With(err)
	}
	return nil
}

func (s *Store) IncrementHeartbeat(ctx context.Context, at time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_heartbeat SET count=count+1, last_sent=? WHERE id='bot_heartbeat'`,
		timeToStr(at))
	if err != nil {
		return boterror.New(boterror.KindStore, "heartbeat-increment-failed").With(err)
	}
	return nil
}

func (s *Store) GetHeartbeat(ctx context.Context) (int64, time.Time, error) {
	var count int64
	var lastSent sql.NullString
	err := s.read.QueryRowContext(ctx,
		`SELECT count, last_sent FROM discord_heartbeat WHERE id='bot_heartbeat'`,
	).Scan(&count, &lastSent)
	if err != nil {
		return 0, time.Time{}, boterror.New(boterror.KindStore, "heartbeat-get-failed").With(err)
	}
	if !lastSent.Valid {
		return count, time.Time{}, nil
	}
	t, err := parseTime(lastSent.String)
	if err != nil {
		return count, time.Time{}, boterror.New(boterror.KindStore, "heartbeat-parse-failed").With(err)
	}
	return count, t, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev store.SessionEvent) error {
	var seq sql.NullInt64
	if ev.Sequence != nil {
		seq = sql.NullInt64{Int64: *ev.Sequence, Valid: true}
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO discord_session_events (kind, session_id, sequence, at) VALUES (?, ?, ?, ?)`,
		string(ev.Kind), nullStr(ev.SessionID), seq, timeToStr(ev.At),
	)
	if err != nil {
		return boterror.New(boterror.KindStore, "session-event-append-failed").With(err)
	}
	return nil
}

func (s *Store) SetSessionLimit(ctx context.Context, limit store.SessionLimit) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE discord_session_limits SET total=?, remaining=?, reset_after_ms=?,
		 max_concurrency=?, shards=? WHERE id='bot_session_limits'`,
		limit.Total, limit.Remaining, limit.ResetAfter.Milliseconds(),
		limit.MaxConcurrency, limit.Shards,
	)
	if err != nil {
		return boterror.New(boterror.KindStore, "session-limit-set-failed").With(err)
	}
	return nil
}

func (s *Store) GetSessionLimit(ctx context.Context) (store.SessionLimit, error) {
	var limit store.SessionLimit
	var resetAfterMs int64
	err := s.read.QueryRowContext(ctx,
		`SELECT total, remaining, reset_after_ms, max_concurrency, shards
		 FROM discord_session_limits WHERE id='bot_session_limits'`,
	).Scan(&limit.Total, &limit.Remaining, &resetAfterMs, &limit.MaxConcurrency, &limit.Shards)
	if err != nil {
		return store.SessionLimit{}, boterror.New(boterror.KindStore, "session-limit-get-failed").With(err)
	}
	limit.ResetAfter = time.Duration(resetAfterMs) * time.Millisecond
	return limit, nil
}

func (s *Store) UpsertRateLimit(ctx context.Context, snap store.RateLimitSnapshot) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO discord_rate_limits (route, lim, remaining, reset_at, reset_after, bucket, is_global, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(route) DO UPDATE SET
		   lim=excluded.lim, remaining=excluded.remaining, reset_at=excluded.reset_at,
		   reset_after=excluded.reset_after, bucket=excluded.bucket, is_global=excluded.is_global,
		   updated_at=excluded.updated_at`,
		snap.Route, snap.Limit, snap.Remaining, snap.Reset, snap.ResetAfter,
		nullStr(snap.Bucket), boolToInt(snap.Global), timeToStr(snap.UpdatedAt),
	)
	if err != nil {
		return boterror.New(boterror.KindStore, "rate-limit-upsert-failed").With(err)
	}
	return nil
}

func (s *Store) GetRateLimit(ctx context.Context, route string) (store.RateLimitSnapshot, error) {
	var snap store.RateLimitSnapshot
	var bucket sql.NullString
	var global int
	var updatedAt string
	snap.Route = route
	err := s.read.QueryRowContext(ctx,
		`SELECT lim, remaining, reset_at, reset_after, bucket, is_global, updated_at
		 FROM discord_rate_limits WHERE route=?`, route,
	).Scan(&snap.Limit, &snap.Remaining, &snap.Reset, &snap.ResetAfter, &bucket, &global, &updatedAt)
	if err != nil {
		return store.RateLimitSnapshot{}, boterror.New(boterror.KindStore, "rate-limit-get-failed").With(err)
	}
	snap.Bucket = bucket.String
	snap.Global = global != 0
	snap.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return store.RateLimitSnapshot{}, boterror.New(boterror.KindStore, "rate-limit-parse-failed").With(err)
	}
	return snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
