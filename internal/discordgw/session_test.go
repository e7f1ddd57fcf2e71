package discordgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warraft/raftbot/internal/store"
)

type fakeStateStore struct {
	mu    sync.Mutex
	state store.SessionState
}

func (f *fakeStateStore) GetState(ctx context.Context) (store.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeStateStore) SetSessionID(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.SessionID = sessionID
	return nil
}

func (f *fakeStateStore) SetSequence(ctx context.Context, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Sequence = seq
	return nil
}

func (f *fakeStateStore) SetBotUserID(ctx context.Context, botUserID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.BotUserID = botUserID
	return nil
}

func (f *fakeStateStore) ClearSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.SessionID = ""
	f.state.Sequence = 0
	return nil
}

type fakeHeartbeatStore struct {
	mu    sync.Mutex
	count int64
}

func (f *fakeHeartbeatStore) IncrementHeartbeat(ctx context.Context, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return nil
}

func (f *fakeHeartbeatStore) GetHeartbeat(ctx context.Context) (int64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, time.Time{}, nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []store.SessionEvent
}

func (f *fakeEventStore) AppendEvent(ctx context.Context, ev store.SessionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventStore) kinds() []store.SessionEventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.SessionEventKind, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

type fakeDispatcher struct {
	mu           sync.Mutex
	interactions int
	messages     int
}

func (f *fakeDispatcher) HandleInteractionCreate(ctx context.Context, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions++
	return nil
}

func (f *fakeDispatcher) HandleMessageCreate(ctx context.Context, raw json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages++
	return nil
}

type staticGatewayURL struct{ url string }

func (s staticGatewayURL) GetGatewayURL(ctx context.Context) (string, error) {
	return s.url, nil
}

var upgrader = websocket.Upgrader{}

// newTestGatewayServer starts a websocket server driven by script: it sends
// hello, then replays each scripted frame in order, discarding anything the
// client sends back except to allow the handshake.
func newTestGatewayServer(t *testing.T, scripted func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		scripted(conn)
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSession_IdentifiesWhenNoPriorSession(t *testing.T) {
	t.Parallel()

	var receivedOp struct {
		mu sync.Mutex
		op int
	}

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":50000}`)})

		var identify map[string]any
		if err := conn.ReadJSON(&identify); err != nil {
			return
		}
		receivedOp.mu.Lock()
		receivedOp.op = int(identify["op"].(float64))
		receivedOp.mu.Unlock()

		time.Sleep(20 * time.Millisecond)
	})
	defer srv.Close()

	state := &fakeStateStore{}
	events := &fakeEventStore{}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, state, &fakeHeartbeatStore{}, events, &fakeDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sess.runOnce(ctx)

	receivedOp.mu.Lock()
	op := receivedOp.op
	receivedOp.mu.Unlock()
	if op != opIdentify {
		t.Errorf("op = %d, want %d (identify)", op, opIdentify)
	}

	kinds := events.kinds()
	if len(kinds) == 0 || kinds[0] != store.EventIdentify {
		t.Errorf("events = %v, want first = identify", kinds)
	}
}

func TestSession_ResumesWhenSessionIDPersisted(t *testing.T) {
	t.Parallel()

	var receivedOp struct {
		mu sync.Mutex
		op int
	}

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":50000}`)})
		var resume map[string]any
		if err := conn.ReadJSON(&resume); err != nil {
			return
		}
		receivedOp.mu.Lock()
		receivedOp.op = int(resume["op"].(float64))
		receivedOp.mu.Unlock()
		time.Sleep(20 * time.Millisecond)
	})
	defer srv.Close()

	state := &fakeStateStore{state: store.SessionState{SessionID: "sess-1", Sequence: 42}}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, state, &fakeHeartbeatStore{}, &fakeEventStore{}, &fakeDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sess.runOnce(ctx)

	receivedOp.mu.Lock()
	op := receivedOp.op
	receivedOp.mu.Unlock()
	if op != opResume {
		t.Errorf("op = %d, want %d (resume)", op, opResume)
	}
}

func TestSession_ReadyPersistsSessionIDAndBotUserID(t *testing.T) {
	t.Parallel()

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":50000}`)})
		var identify map[string]any
		_ = conn.ReadJSON(&identify)

		seq := int64(1)
		ready := `{"session_id":"sess-abc","user":{"id":"bot-123"}}`
		tName := eventReady
		_ = conn.WriteJSON(frame{Op: opDispatch, T: &tName, S: &seq, D: json.RawMessage(ready)})
		time.Sleep(30 * time.Millisecond)
	})
	defer srv.Close()

	state := &fakeStateStore{}
	events := &fakeEventStore{}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, state, &fakeHeartbeatStore{}, events, &fakeDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sess.runOnce(ctx)

	got, _ := state.GetState(context.Background())
	if got.SessionID != "sess-abc" || got.BotUserID != "bot-123" || got.Sequence != 1 {
		t.Errorf("state = %+v", got)
	}
}

func TestSession_InvalidSessionClearsState(t *testing.T) {
	t.Parallel()

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":50000}`)})
		var resume map[string]any
		_ = conn.ReadJSON(&resume)
		_ = conn.WriteJSON(frame{Op: opInvalidSession})
		time.Sleep(20 * time.Millisecond)
	})
	defer srv.Close()

	state := &fakeStateStore{state: store.SessionState{SessionID: "sess-1", Sequence: 7}}
	events := &fakeEventStore{}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, state, &fakeHeartbeatStore{}, events, &fakeDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := sess.runOnce(ctx)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	got, _ := state.GetState(context.Background())
	if got.SessionID != "" {
		t.Errorf("SessionID = %q, want cleared", got.SessionID)
	}

	kinds := events.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != store.EventInvalidSession {
		t.Errorf("events = %v, want last = invalid_session", kinds)
	}
}

func TestSession_DispatchesInteractionAndMessageCreate(t *testing.T) {
	t.Parallel()

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":50000}`)})
		var identify map[string]any
		_ = conn.ReadJSON(&identify)

		interactionT := eventInteractionCreate
		_ = conn.WriteJSON(frame{Op: opDispatch, T: &interactionT, D: json.RawMessage(`{}`)})
		messageT := eventMessageCreate
		_ = conn.WriteJSON(frame{Op: opDispatch, T: &messageT, D: json.RawMessage(`{}`)})
		time.Sleep(30 * time.Millisecond)
	})
	defer srv.Close()

	dispatcher := &fakeDispatcher{}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, &fakeStateStore{}, &fakeHeartbeatStore{}, &fakeEventStore{}, dispatcher)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = sess.runOnce(ctx)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.interactions != 1 || dispatcher.messages != 1 {
		t.Errorf("interactions=%d messages=%d, want 1 and 1", dispatcher.interactions, dispatcher.messages)
	}
}

func TestSession_SendsHeartbeatOnInterval(t *testing.T) {
	t.Parallel()

	srv := newTestGatewayServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(frame{Op: opHello, D: json.RawMessage(`{"heartbeat_interval":30}`)})
		var identify map[string]any
		_ = conn.ReadJSON(&identify)

		var heartbeat map[string]any
		_ = conn.ReadJSON(&heartbeat)
		time.Sleep(10 * time.Millisecond)
	})
	defer srv.Close()

	heartbeats := &fakeHeartbeatStore{}
	sess := New("tok", staticGatewayURL{wsURL(srv.URL)}, &fakeStateStore{}, heartbeats, &fakeEventStore{}, &fakeDispatcher{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = sess.runOnce(ctx)

	heartbeats.mu.Lock()
	defer heartbeats.mu.Unlock()
	if heartbeats.count < 1 {
		t.Errorf("heartbeat count = %d, want >= 1", heartbeats.count)
	}
}
