package discordapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/warraft/raftbot/internal/circuitbreaker"
	"github.com/warraft/raftbot/internal/ratelimit"
	"github.com/warraft/raftbot/internal/store"
)

type fakeRateLimitStore struct {
	mu   sync.Mutex
	snap map[string]store.RateLimitSnapshot
}

func newFakeRateLimitStore() *fakeRateLimitStore {
	return &fakeRateLimitStore{snap: make(map[string]store.RateLimitSnapshot)}
}

func (f *fakeRateLimitStore) UpsertRateLimit(ctx context.Context, snap store.RateLimitSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap[snap.Route] = snap
	return nil
}

func (f *fakeRateLimitStore) GetRateLimit(ctx context.Context, route string) (store.RateLimitSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap[route], nil
}

type fakeSessionLimitStore struct {
	mu    sync.Mutex
	limit store.SessionLimit
}

func (f *fakeSessionLimitStore) SetSessionLimit(ctx context.Context, limit store.SessionLimit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return nil
}

func (f *fakeSessionLimitStore) GetSessionLimit(ctx context.Context) (store.SessionLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limit, nil
}

func newTestClient(t *testing.T, baseURL string, snapshots store.RateLimitStore) *Client {
	t.Helper()
	limiter := ratelimit.New(40, 40)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	if snapshots == nil {
		snapshots = newFakeRateLimitStore()
	}
	return New("test-token", baseURL, nil, limiter, breakers, snapshots)
}

func TestGetGatewayURL_AppendsVersionAndEncoding(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode(GatewayResponse{URL: "wss://gateway.discord.gg"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	url, err := c.GetGatewayURL(context.Background())
	if err != nil {
		t.Fatalf("GetGatewayURL: %v", err)
	}
	want := "wss://gateway.discord.gg/?v=10&encoding=json"
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestGetGatewayBotInfo_RecordsSessionLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GatewayBotInfo{
			URL:    "wss://gateway.discord.gg",
			Shards: 1,
			SessionStartLimit: SessionStartLimit{
				Total: 1000, Remaining: 999, ResetAfter: 60000, MaxConcurrency: 1,
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	limits := &fakeSessionLimitStore{}
	info, err := c.GetGatewayBotInfo(context.Background(), limits)
	if err != nil {
		t.Fatalf("GetGatewayBotInfo: %v", err)
	}
	if info.SessionStartLimit.Remaining != 999 {
		t.Errorf("Remaining = %d, want 999", info.SessionStartLimit.Remaining)
	}

	got, _ := limits.GetSessionLimit(context.Background())
	if got.Remaining != 999 || got.Total != 1000 {
		t.Errorf("stored limit = %+v", got)
	}
}

func TestDo_NonSuccessDecodesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":10003,"message":"Unknown Channel"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.FetchChannel(context.Background(), "123")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error = %T, want *APIError", err)
	}
	if apiErr.Code != 10003 || apiErr.Message != "Unknown Channel" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestDo_NonSuccessFallsBackToHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	_, err := c.FetchChannel(context.Background(), "123")
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error = %T, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusBadGateway {
		t.Errorf("Status = %d", httpErr.Status)
	}
}

func TestDo_RecordsRateLimitSnapshot(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit", "5")
		w.Header().Set("x-ratelimit-remaining", "4")
		w.Header().Set("x-ratelimit-reset-after", "1.5")
		w.Header().Set("x-ratelimit-bucket", "abc123")
		_ = json.NewEncoder(w).Encode(Channel{ID: "123", Name: "general"})
	}))
	defer srv.Close()

	snapshots := newFakeRateLimitStore()
	c := newTestClient(t, srv.URL, snapshots)
	if _, err := c.FetchChannel(context.Background(), "123"); err != nil {
		t.Fatalf("FetchChannel: %v", err)
	}

	snap, _ := snapshots.GetRateLimit(context.Background(), "/channels/123")
	if snap.Limit != 5 || snap.Remaining != 4 || snap.Bucket != "abc123" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSendMessageWithFiles_BuildsMultipart(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct == "" {
			t.Error("missing content-type")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.MultipartForm.Value["payload_json"] == nil {
			t.Error("missing payload_json field")
		}
		if len(r.MultipartForm.File["files[0]"]) == 0 {
			t.Error("missing files[0] part")
		}
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	err := c.SendMessageWithFiles(context.Background(), "chan1", "msg1", "done", []File{
		{Name: "out.zip", Bytes: []byte("fake-zip-bytes")},
	})
	if err != nil {
		t.Fatalf("SendMessageWithFiles: %v", err)
	}
}
