package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/queue"
	"github.com/warraft/raftbot/internal/store"
)

type fakePoster struct {
	sent  []string
	reply core.MessageRef
}

func (f *fakePoster) SendMessage(ctx context.Context, channelID, content, replyToMessageID string) (core.MessageRef, error) {
	f.sent = append(f.sent, content)
	return f.reply, nil
}

type fakeNotifier struct{ notified int }

func (f *fakeNotifier) Notify() { f.notified++ }

type fakeJobStore struct{ inserted []*core.Job }

func (f *fakeJobStore) Insert(ctx context.Context, job *core.Job) error {
	f.inserted = append(f.inserted, job)
	return nil
}
func (f *fakeJobStore) ClaimNext(ctx context.Context, pool core.Pool, workerID string) (*core.Job, error) {
	return nil, nil
}
func (f *fakeJobStore) SetReply(ctx context.Context, jobID string, reply core.MessageRef) error {
	return nil
}
func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID string) error { return nil }
func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID string, errText string) error {
	return nil
}
func (f *fakeJobStore) ResetStuck(ctx context.Context, pool core.Pool, cutoff time.Time) (int, error) {
	return 0, nil
}
func (f *fakeJobStore) CountByStatus(ctx context.Context, pool core.Pool) (map[core.Status]int, error) {
	return nil, nil
}
func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*core.Job, error) { return nil, nil }

type fakeStateStore struct{ botUserID string }

func (f *fakeStateStore) GetState(ctx context.Context) (store.SessionState, error) {
	return store.SessionState{BotUserID: f.botUserID}, nil
}
func (f *fakeStateStore) SetSessionID(ctx context.Context, sessionID string) error { return nil }
func (f *fakeStateStore) SetSequence(ctx context.Context, seq int64) error         { return nil }
func (f *fakeStateStore) SetBotUserID(ctx context.Context, botUserID string) error { return nil }
func (f *fakeStateStore) ClearSession(ctx context.Context) error                  { return nil }

func newTestDispatcher(botUserID string, jobs *fakeJobStore, poster *fakePoster) *Dispatcher {
	notifier := &fakeNotifier{}
	q := queue.New(core.PoolBLP, jobs, poster, notifier)
	return New(&fakeStateStore{botUserID: botUserID}, nil, map[core.Pool]*queue.Queue{
		core.PoolBLP: q,
	})
}

func TestHandleMessageCreate_MentionSubmitsJob(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{}
	poster := &fakePoster{reply: core.MessageRef{ID: "status-1", ChannelID: "chan-1"}}
	d := newTestDispatcher("bot-1", jobs, poster)

	raw, _ := json.Marshal(map[string]any{
		"id":         "msg-1",
		"channel_id": "chan-1",
		"content":    "<@bot-1> blp q90 zip",
		"author":     map[string]any{"id": "user-1"},
		"mentions":   []map[string]any{{"id": "bot-1"}},
		"attachments": []map[string]any{
			{"url": "http://x/y.png", "filename": "y.png"},
		},
	})

	if err := d.HandleMessageCreate(context.Background(), raw); err != nil {
		t.Fatalf("HandleMessageCreate: %v", err)
	}
	if len(jobs.inserted) != 1 {
		t.Fatalf("inserted = %d jobs, want 1", len(jobs.inserted))
	}
	if jobs.inserted[0].BLP.Quality != 90 || !jobs.inserted[0].BLP.Zip {
		t.Errorf("BLP = %+v", jobs.inserted[0].BLP)
	}
}

func TestHandleMessageCreate_NoMentionIgnored(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{}
	poster := &fakePoster{}
	d := newTestDispatcher("bot-1", jobs, poster)

	raw, _ := json.Marshal(map[string]any{
		"id":         "msg-1",
		"channel_id": "chan-1",
		"content":    "blp q90",
		"author":     map[string]any{"id": "user-1"},
	})

	if err := d.HandleMessageCreate(context.Background(), raw); err != nil {
		t.Fatalf("HandleMessageCreate: %v", err)
	}
	if len(jobs.inserted) != 0 {
		t.Errorf("inserted = %d jobs, want 0", len(jobs.inserted))
	}
}

func TestHandleMessageCreate_BotAuthorIgnored(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{}
	poster := &fakePoster{}
	d := newTestDispatcher("bot-1", jobs, poster)

	raw, _ := json.Marshal(map[string]any{
		"id":         "msg-1",
		"channel_id": "chan-1",
		"content":    "<@bot-1> blp",
		"author":     map[string]any{"id": "other-bot", "bot": true},
		"mentions":   []map[string]any{{"id": "bot-1"}},
	})

	if err := d.HandleMessageCreate(context.Background(), raw); err != nil {
		t.Fatalf("HandleMessageCreate: %v", err)
	}
	if len(jobs.inserted) != 0 {
		t.Errorf("inserted = %d jobs, want 0", len(jobs.inserted))
	}
}

func TestHandleMessageCreate_UnparseableTextIgnored(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{}
	poster := &fakePoster{}
	d := newTestDispatcher("bot-1", jobs, poster)

	raw, _ := json.Marshal(map[string]any{
		"id":         "msg-1",
		"channel_id": "chan-1",
		"content":    "<@bot-1> hello there",
		"author":     map[string]any{"id": "user-1"},
		"mentions":   []map[string]any{{"id": "bot-1"}},
	})

	if err := d.HandleMessageCreate(context.Background(), raw); err != nil {
		t.Fatalf("HandleMessageCreate: %v", err)
	}
	if len(jobs.inserted) != 0 {
		t.Errorf("inserted = %d jobs, want 0", len(jobs.inserted))
	}
}
