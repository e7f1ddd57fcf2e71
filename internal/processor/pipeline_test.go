package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/discordapi"
)

type fakeJobStore struct {
	mu        sync.Mutex
	claimable *core.Job
	reply     core.MessageRef
	completed []string
	failed    []string
}

func (f *fakeJobStore) Insert(ctx context.Context, job *core.Job) error { return nil }

func (f *fakeJobStore) ClaimNext(ctx context.Context, pool core.Pool, workerID string) (*core.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := f.claimable
	f.claimable = nil
	return j, nil
}

func (f *fakeJobStore) SetReply(ctx context.Context, jobID string, reply core.MessageRef) error {
	f.reply = reply
	return nil
}

func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID string, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *fakeJobStore) ResetStuck(ctx context.Context, pool core.Pool, cutoff time.Time) (int, error) {
	return 0, nil
}

func (f *fakeJobStore) CountByStatus(ctx context.Context, pool core.Pool) (map[core.Status]int, error) {
	return nil, nil
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (*core.Job, error) { return nil, nil }

type fakePoster struct {
	mu          sync.Mutex
	sent        []string
	downloads   map[string][]byte
	filesOnDone []discordapi.File
}

func (f *fakePoster) SendMessage(ctx context.Context, channelID, content, replyToMessageID string) (core.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return core.MessageRef{ID: "reply-1", ChannelID: channelID}, nil
}

func (f *fakePoster) SendMessageWithFiles(ctx context.Context, channelID, messageID, content string, files []discordapi.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	f.filesOnDone = files
	return nil
}

func (f *fakePoster) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	data, ok := f.downloads[url]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notifes int
}

func (f *fakeNotifier) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifes++
}

type echoTransform struct{}

func (echoTransform) PoolName() string { return "test" }

func (echoTransform) Run(ctx context.Context, job *core.Job, filename string, data []byte) ([]core.Product, error) {
	return []core.Product{{Filename: filename + ".out", Bytes: data}}, nil
}

func TestProcessNext_NoJobReturnsFalse(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{}
	p := New(core.PoolBLP, jobs, &fakePoster{}, &fakeNotifier{}, echoTransform{}, "w1")

	didWork, err := p.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if didWork {
		t.Fatal("expected didWork=false when nothing claimable")
	}
}

func TestProcessNext_PostsInitialReplyWhenMissing(t *testing.T) {
	t.Parallel()
	jobs := &fakeJobStore{claimable: &core.Job{ID: "j1", ChannelID: "c1", OriginMessageID: "m1"}}
	poster := &fakePoster{downloads: map[string][]byte{}}
	notifier := &fakeNotifier{}
	p := New(core.PoolBLP, jobs, poster, notifier, echoTransform{}, "w1")

	didWork, err := p.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !didWork {
		t.Fatal("expected didWork=true")
	}
	if len(poster.sent) != 1 {
		t.Fatalf("expected one status message sent, got %d", len(poster.sent))
	}
	if notifier.notifes != 1 {
		t.Fatalf("expected one notify, got %d", notifier.notifes)
	}
}

func TestProcessNext_RunsTransformAndCompletes(t *testing.T) {
	t.Parallel()
	reply := core.MessageRef{ID: "r1", ChannelID: "c1"}
	jobs := &fakeJobStore{claimable: &core.Job{
		ID:          "j1",
		ChannelID:   "c1",
		Reply:       &reply,
		Attachments: []core.Attachment{{URL: "http://x/a.png", Filename: "a.png"}},
	}}
	poster := &fakePoster{downloads: map[string][]byte{"http://x/a.png": []byte("hello")}}
	notifier := &fakeNotifier{}
	p := New(core.PoolBLP, jobs, poster, notifier, echoTransform{}, "w1")

	didWork, err := p.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if !didWork {
		t.Fatal("expected didWork=true")
	}
	if len(jobs.completed) != 1 {
		t.Fatalf("expected job marked completed, got %v", jobs.completed)
	}
	if len(poster.filesOnDone) != 1 || poster.filesOnDone[0].Name != "a.png.out" {
		t.Fatalf("unexpected files sent: %+v", poster.filesOnDone)
	}
}

func TestProcessNext_DownloadFailureBecomesErrorProduct(t *testing.T) {
	t.Parallel()
	reply := core.MessageRef{ID: "r1", ChannelID: "c1"}
	jobs := &fakeJobStore{claimable: &core.Job{
		ID:          "j1",
		ChannelID:   "c1",
		Reply:       &reply,
		Attachments: []core.Attachment{{URL: "http://missing", Filename: "missing.png"}},
	}}
	poster := &fakePoster{downloads: map[string][]byte{}}
	notifier := &fakeNotifier{}
	p := New(core.PoolBLP, jobs, poster, notifier, echoTransform{}, "w1")

	if _, err := p.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if len(poster.filesOnDone) != 1 {
		t.Fatalf("expected one fallback file, got %d", len(poster.filesOnDone))
	}
	if poster.filesOnDone[0].Name != "missing.error.txt" {
		t.Fatalf("fallback file = %q, want missing.error.txt", poster.filesOnDone[0].Name)
	}
}

func TestDedupeFilenames_AppendsSuffixOnCollision(t *testing.T) {
	t.Parallel()
	names := dedupeFilenames([]core.Attachment{
		{Filename: "a.png"}, {Filename: "a.png"}, {Filename: "b.png"},
	})
	want := []string{"a.png", "a_2.png", "b.png"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("names[%d] = %q, want %q", i, names[i], n)
		}
	}
}
