// Package discordgw implements the gateway session state machine: dial,
// IDENTIFY or RESUME, heartbeat, dispatch, and bounded-backoff reconnect.
package discordgw

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/store"
)

// Opcodes used by the gateway.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// Dispatch event type names consumed by this bot.
const (
	eventReady             = "READY"
	eventResumed           = "RESUMED"
	eventInteractionCreate = "INTERACTION_CREATE"
	eventMessageCreate     = "MESSAGE_CREATE"
)

var reconnectBackoff = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
}

// frame is the generic gateway envelope.
type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  *string         `json:"t,omitempty"`
}

// helloPayload is the `d` body of opHello.
type helloPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Dispatcher routes dispatch events to domain handlers. The gateway itself
// knows nothing about commands or message parsing.
type Dispatcher interface {
	HandleInteractionCreate(ctx context.Context, raw json.RawMessage) error
	HandleMessageCreate(ctx context.Context, raw json.RawMessage) error
}

// GatewayURLFetcher resolves the current gateway URL, typically
// discordapi.Client.GetGatewayURL.
type GatewayURLFetcher interface {
	GetGatewayURL(ctx context.Context) (string, error)
}

// Session runs the gateway reconnect loop: it repeatedly
// dials, identifies or resumes, and multiplexes heartbeats with inbound
// frames until a transport error or invalid_session forces a fresh attempt.
type Session struct {
	token      string
	gatewayURL GatewayURLFetcher
	state      store.StateStore
	heartbeats store.HeartbeatStore
	events     store.SessionEventStore
	dispatcher Dispatcher

	dial func(url string) (*websocket.Conn, error)
}

// New creates a Session that dials with websocket.DefaultDialer.Dial.
func New(token string, gatewayURL GatewayURLFetcher, state store.StateStore, heartbeats store.HeartbeatStore, events store.SessionEventStore, dispatcher Dispatcher) *Session {
	return &Session{
		token:      token,
		gatewayURL: gatewayURL,
		state:      state,
		heartbeats: heartbeats,
		events:     events,
		dispatcher: dispatcher,
		dial: func(url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			return conn, err
		},
	}
}

// Name satisfies the worker.Worker interface.
func (s *Session) Name() string { return "gateway" }

// Run is the outer supervised loop: connect, run until error, apply bounded
// backoff, retry. It returns only when ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	backoffIdx := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoffIdx = 0
			continue
		}

		wait := reconnectBackoff[backoffIdx]
		slog.Error("gateway session ended, reconnecting", "error", err, "backoff", wait)
		if backoffIdx < len(reconnectBackoff)-1 {
			backoffIdx++
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runOnce dials, identifies or resumes, and pumps frames until the
// connection ends or an invalid_session is received.
func (s *Session) runOnce(ctx context.Context) error {
	url, err := s.gatewayURL.GetGatewayURL(ctx)
	if err != nil {
		return boterror.New(boterror.KindTransport, "gateway-url-fetch-failed").With(err)
	}

	conn, err := s.dial(url)
	if err != nil {
		return boterror.New(boterror.KindTransport, "gateway-dial-failed").With(err)
	}
	defer conn.Close()

	frames := make(chan frame)
	readErrs := make(chan error, 1)
	go s.readLoop(conn, frames, readErrs)

	var hello frame
	select {
	case hello = <-frames:
	case err := <-readErrs:
		return err
	case <-ctx.Done():
		return nil
	}
	if hello.Op != opHello {
		return boterror.New(boterror.KindAPI, "expected-hello-opcode").Withf("got op=%d", hello.Op)
	}

	var payload helloPayload
	if err := json.Unmarshal(hello.D, &payload); err != nil {
		return boterror.New(boterror.KindParse, "decode-hello-failed").With(err)
	}

	if err := s.identifyOrResume(ctx, conn); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(payload.HeartbeatInterval) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := s.sendHeartbeat(ctx, conn); err != nil {
				return err
			}

		case err := <-readErrs:
			return err

		case f := <-frames:
			if err := s.updateSequence(ctx, f.S); err != nil {
				slog.Error("persist sequence failed", "error", err)
			}

			switch f.Op {
			case opDispatch:
				if err := s.handleDispatch(ctx, f); err != nil {
					slog.Error("dispatch handler failed", "error", err)
				}
			case opInvalidSession:
				slog.Warn("invalid session, clearing state")
				if err := s.state.ClearSession(ctx); err != nil {
					slog.Error("clear session failed", "error", err)
				}
				_ = s.events.AppendEvent(ctx, store.SessionEvent{Kind: store.EventInvalidSession, At: time.Now()})
				return nil
			case opHeartbeatAck:
				// silent
			}
		}
	}
}

// readLoop decodes frames off the socket and forwards them, exiting on the
// first read error (including normal close).
func (s *Session) readLoop(conn *websocket.Conn, frames chan<- frame, errs chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errs <- boterror.New(boterror.KindTransport, "gateway-read-failed").With(err)
			return
		}
		f, ok := peekFrame(data)
		if !ok {
			errs <- boterror.New(boterror.KindParse, "decode-frame-failed")
			return
		}
		frames <- f
	}
}

// peekFrame reads op/s/t off the wire with gjson before committing to a
// full json.Unmarshal of d. Dispatch events this bot never acts on (guild,
// presence, and voice updates chief among them, given the gateway's
// intents) skip decoding d entirely; handleDispatch's default case would
// discard it anyway, and those payloads are the largest frames the
// gateway sends.
func peekFrame(data []byte) (frame, bool) {
	parsed := gjson.ParseBytes(data)
	if !parsed.Exists() {
		return frame{}, false
	}

	f := frame{Op: int(parsed.Get("op").Int())}
	if seq := parsed.Get("s"); seq.Exists() {
		n := seq.Int()
		f.S = &n
	}
	if t := parsed.Get("t"); t.Exists() {
		name := t.String()
		f.T = &name
	}

	if f.Op == opDispatch && !relevantDispatchEvent(f.T) {
		return f, true
	}

	if d := parsed.Get("d"); d.Exists() {
		f.D = json.RawMessage(d.Raw)
	}
	return f, true
}

// relevantDispatchEvent reports whether handleDispatch does anything with
// this event name beyond discarding it.
func relevantDispatchEvent(t *string) bool {
	if t == nil {
		return false
	}
	switch *t {
	case eventReady, eventResumed, eventInteractionCreate, eventMessageCreate:
		return true
	default:
		return false
	}
}

// identifyOrResume sends RESUME if a persisted session exists, else IDENTIFY.
func (s *Session) identifyOrResume(ctx context.Context, conn *websocket.Conn) error {
	sess, err := s.state.GetState(ctx)
	if err != nil {
		return boterror.New(boterror.KindStore, "get-session-state-failed").With(err)
	}

	if sess.SessionID != "" {
		payload := map[string]any{
			"op": opResume,
			"d": map[string]any{
				"token":      s.token,
				"session_id": sess.SessionID,
				"seq":        sess.Sequence,
			},
		}
		if err := conn.WriteJSON(payload); err != nil {
			return boterror.New(boterror.KindTransport, "send-resume-failed").With(err)
		}
		slog.Info("resuming session", "session_id", sess.SessionID, "seq", sess.Sequence)
		return s.events.AppendEvent(ctx, store.SessionEvent{Kind: store.EventResume, SessionID: sess.SessionID, Sequence: &sess.Sequence, At: time.Now()})
	}

	payload := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   s.token,
			"intents": 33280,
			"properties": map[string]any{
				"$os":      "linux",
				"$browser": "raftbot",
				"$device":  "raftbot",
			},
		},
	}
	if err := conn.WriteJSON(payload); err != nil {
		return boterror.New(boterror.KindTransport, "send-identify-failed").With(err)
	}
	slog.Info("starting new session (identify)")
	return s.events.AppendEvent(ctx, store.SessionEvent{Kind: store.EventIdentify, At: time.Now()})
}

func (s *Session) sendHeartbeat(ctx context.Context, conn *websocket.Conn) error {
	sess, err := s.state.GetState(ctx)
	if err != nil {
		return boterror.New(boterror.KindStore, "get-session-state-failed").With(err)
	}

	var seq any
	if sess.Sequence != 0 {
		seq = sess.Sequence
	}
	payload := map[string]any{"op": opHeartbeat, "d": seq}
	if err := conn.WriteJSON(payload); err != nil {
		return boterror.New(boterror.KindTransport, "send-heartbeat-failed").With(err)
	}
	return s.heartbeats.IncrementHeartbeat(ctx, time.Now())
}

// updateSequence persists the inbound sequence number before any further
// processing of the frame; this ordering is load-bearing for RESUME
// correctness.
func (s *Session) updateSequence(ctx context.Context, seq *int64) error {
	if seq == nil {
		return nil
	}
	return s.state.SetSequence(ctx, *seq)
}

func (s *Session) handleDispatch(ctx context.Context, f frame) error {
	if f.T == nil {
		return nil
	}

	switch *f.T {
	case eventReady:
		var ready struct {
			SessionID string `json:"session_id"`
			User      struct {
				ID string `json:"id"`
			} `json:"user"`
		}
		if err := json.Unmarshal(f.D, &ready); err != nil {
			return boterror.New(boterror.KindParse, "decode-ready-failed").With(err)
		}
		if err := s.state.SetSessionID(ctx, ready.SessionID); err != nil {
			return boterror.New(boterror.KindStore, "set-session-id-failed").With(err)
		}
		if ready.User.ID != "" {
			if err := s.state.SetBotUserID(ctx, ready.User.ID); err != nil {
				return boterror.New(boterror.KindStore, "set-bot-user-id-failed").With(err)
			}
		}
		slog.Info("new session established", "session_id", ready.SessionID)
		return s.events.AppendEvent(ctx, store.SessionEvent{Kind: store.EventReady, SessionID: ready.SessionID, At: time.Now()})

	case eventResumed:
		slog.Info("session resumed successfully")
		return s.events.AppendEvent(ctx, store.SessionEvent{Kind: store.EventResumed, At: time.Now()})

	case eventInteractionCreate:
		return s.dispatcher.HandleInteractionCreate(ctx, f.D)

	case eventMessageCreate:
		return s.dispatcher.HandleMessageCreate(ctx, f.D)

	default:
		return nil
	}
}
