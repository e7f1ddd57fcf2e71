// Package discordapi implements the Discord REST v10 operations the core
// depends on, with a uniform recipe behind every API-route call: acquire a
// rate-limit token, send, opportunistically persist rate-limit headers,
// and translate non-2xx responses into a typed error. DownloadAttachment
// and AckInteraction send directly and skip the token and breaker.
package discordapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/circuitbreaker"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/ratelimit"
	"github.com/warraft/raftbot/internal/store"
)

const defaultBaseURL = "https://discord.com/api/v10"

// Client is the authenticated Discord REST client shared by the gateway
// session, the command router, and every processor.
type Client struct {
	token   string
	baseURL string
	http    *http.Client

	limiter   *ratelimit.Limiter
	breakers  *circuitbreaker.Registry
	snapshots store.RateLimitStore
}

// New creates a Client with a tuned http.Client. If resolver is non-nil,
// the transport's dialer is wrapped with cached DNS lookups.
func New(token, baseURL string, resolver *dnscache.Resolver, limiter *ratelimit.Limiter, breakers *circuitbreaker.Registry, snapshots store.RateLimitStore) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     40,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		token:     token,
		baseURL:   baseURL,
		http:      &http.Client{Transport: t},
		limiter:   limiter,
		breakers:  breakers,
		snapshots: snapshots,
	}
}

// APIError is a Discord-returned JSON error envelope, plus the HTTP
// status of the response that carried it.
type APIError struct {
	Code       int
	Message    string
	RetryAfter float64
	Global     bool
	Status     int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api error %d: %s", e.Code, e.Message)
}

// HTTPStatus lets circuitbreaker.ClassifyError weigh this error.
func (e *APIError) HTTPStatus() int { return e.Status }

// HTTPError is a non-2xx response Discord did not describe in its own
// error envelope.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("discord http error %d: %s", e.Status, e.Body)
}

func (e *HTTPError) HTTPStatus() int { return e.Status }

type discordErrorEnvelope struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// do performs one rate-limited, circuit-broken request: acquires a token,
// runs it past the route's breaker, sends, records the rate-limit headers,
// and classifies any non-2xx response.
func (c *Client) do(ctx context.Context, route string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, boterror.New(boterror.KindTransport, "rate-limit-acquire-failed").With(err)
	}

	breaker := c.breakers.GetOrCreate(route)
	if !breaker.Allow() {
		return nil, boterror.New(boterror.KindAPI, "circuit-open").Withf("route=%s", route)
	}

	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		breaker.RecordError(circuitbreaker.ClassifyError(err))
		return nil, boterror.New(boterror.KindTransport, "http-do-failed").With(err)
	}

	c.recordSnapshot(ctx, route, resp.Header)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		breaker.RecordSuccess()
		return resp, nil
	}

	apiErr := parseError(resp)
	breaker.RecordError(circuitbreaker.ClassifyError(apiErr))
	return nil, apiErr
}

// recordSnapshot opportunistically upserts the route's rate-limit headers.
// Errors are swallowed: this is observability-only.
func (c *Client) recordSnapshot(ctx context.Context, route string, h http.Header) {
	limit := h.Get("x-ratelimit-limit")
	if limit == "" {
		return
	}
	snap := store.RateLimitSnapshot{
		Route:     route,
		Bucket:    h.Get("x-ratelimit-bucket"),
		Global:    h.Get("x-ratelimit-global") == "true",
		UpdatedAt: time.Now(),
	}
	snap.Limit, _ = strconv.Atoi(limit)
	snap.Remaining, _ = strconv.Atoi(h.Get("x-ratelimit-remaining"))
	reset, _ := strconv.ParseFloat(h.Get("x-ratelimit-reset"), 64)
	snap.Reset = int64(reset)
	snap.ResetAfter, _ = strconv.ParseFloat(h.Get("x-ratelimit-reset-after"), 64)

	_ = c.snapshots.UpsertRateLimit(ctx, snap)
}

func parseError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var envelope discordErrorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Message != "" {
		return &APIError{
			Code:       envelope.Code,
			Message:    envelope.Message,
			RetryAfter: envelope.RetryAfter,
			Global:     envelope.Global,
			Status:     resp.StatusCode,
		}
	}
	return &HTTPError{Status: resp.StatusCode, Body: string(body)}
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, boterror.New(boterror.KindParse, "marshal-request-failed").With(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, boterror.New(boterror.KindTransport, "new-request-failed").With(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// GatewayResponse is the JSON body of GET /gateway.
type GatewayResponse struct {
	URL string `json:"url"`
}

// GetGatewayURL returns the websocket URL, with v=10&encoding=json appended.
func (c *Client) GetGatewayURL(ctx context.Context) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/gateway", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, "/gateway", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body GatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", boterror.New(boterror.KindParse, "decode-gateway-response-failed").With(err)
	}

	url := body.URL
	if strings.HasSuffix(url, "/") {
		return url + "?v=10&encoding=json", nil
	}
	return url + "/?v=10&encoding=json", nil
}

// SessionStartLimit mirrors Discord's session_start_limit object.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBotInfo is the JSON body of GET /gateway/bot.
type GatewayBotInfo struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// GetGatewayBotInfo fetches the bot gateway endpoint plus session-start
// limits and records them via sessionLimits.
func (c *Client) GetGatewayBotInfo(ctx context.Context, sessionLimits store.SessionLimitStore) (*GatewayBotInfo, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/gateway/bot", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "/gateway/bot", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info GatewayBotInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, boterror.New(boterror.KindParse, "decode-gateway-bot-info-failed").With(err)
	}

	_ = sessionLimits.SetSessionLimit(ctx, store.SessionLimit{
		Total:          info.SessionStartLimit.Total,
		Remaining:      info.SessionStartLimit.Remaining,
		ResetAfter:     time.Duration(info.SessionStartLimit.ResetAfter) * time.Millisecond,
		MaxConcurrency: info.SessionStartLimit.MaxConcurrency,
		Shards:         info.Shards,
	})

	return &info, nil
}

type applicationInfo struct {
	ID string `json:"id"`
}

// GetApplicationID returns the bot's application ID.
func (c *Client) GetApplicationID(ctx context.Context) (string, error) {
	req, err := c.jsonRequest(ctx, http.MethodGet, "/oauth2/applications/@me", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(ctx, "/oauth2/applications/@me", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var app applicationInfo
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return "", boterror.New(boterror.KindParse, "decode-application-info-failed").With(err)
	}
	return app.ID, nil
}

// CommandOption is one slash-command parameter, per Discord's application
// command option schema (type 3=string, 4=integer, 5=boolean, 11=attachment).
type CommandOption struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        int    `json:"type"`
	Required    bool   `json:"required,omitempty"`
}

// CommandSpec is a slash-command registration payload.
type CommandSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        int             `json:"type,omitempty"`
	Options     []CommandOption `json:"options,omitempty"`
}

// RegisterSlashCommands overwrites the application's global command set.
func (c *Client) RegisterSlashCommands(ctx context.Context, appID string, commands []CommandSpec) error {
	path := fmt.Sprintf("/applications/%s/commands", appID)
	req, err := c.jsonRequest(ctx, http.MethodPut, path, commands)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// messageSend is the payload for POST/PATCH message endpoints.
type messageSend struct {
	Content         string          `json:"content,omitempty"`
	MessageReference *messageRefJSON `json:"message_reference,omitempty"`
}

type messageRefJSON struct {
	MessageID string `json:"message_id"`
}

// SendMessage posts a plain-text message to a channel, optionally replying
// to replyToMessageID.
func (c *Client) SendMessage(ctx context.Context, channelID, content, replyToMessageID string) (core.MessageRef, error) {
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	payload := messageSend{Content: content}
	if replyToMessageID != "" {
		payload.MessageReference = &messageRefJSON{MessageID: replyToMessageID}
	}

	req, err := c.jsonRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return core.MessageRef{}, err
	}
	resp, err := c.do(ctx, path, req)
	if err != nil {
		return core.MessageRef{}, err
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.MessageRef{}, boterror.New(boterror.KindParse, "decode-send-message-response-failed").With(err)
	}
	return core.MessageRef{ID: out.ID, ChannelID: channelID}, nil
}

// PatchMessage edits the content of an existing message.
func (c *Client) PatchMessage(ctx context.Context, channelID, messageID, content string) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	req, err := c.jsonRequest(ctx, http.MethodPatch, path, messageSend{Content: content})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// File is one multipart attachment for SendMessageWithFiles.
type File struct {
	Name  string
	Bytes []byte
}

// SendMessageWithFiles PATCHes the status message with multipart content:
// payload_json plus files[i].
func (c *Client) SendMessageWithFiles(ctx context.Context, channelID, messageID, content string, files []File) error {
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)

	var buf bytes.Buffer
	writer := newMultipartWriter(&buf)

	payloadJSON, err := json.Marshal(messageSend{Content: content})
	if err != nil {
		return boterror.New(boterror.KindParse, "marshal-payload-json-failed").With(err)
	}
	if err := writer.writeField("payload_json", payloadJSON); err != nil {
		return boterror.New(boterror.KindTransport, "write-payload-json-failed").With(err)
	}
	for i, f := range files {
		if err := writer.writeFile(fmt.Sprintf("files[%d]", i), f.Name, f.Bytes); err != nil {
			return boterror.New(boterror.KindTransport, "write-file-part-failed").With(err)
		}
	}
	if err := writer.close(); err != nil {
		return boterror.New(boterror.KindTransport, "close-multipart-failed").With(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+path, &buf)
	if err != nil {
		return boterror.New(boterror.KindTransport, "new-request-failed").With(err)
	}
	req.Header.Set("Content-Type", writer.contentType())

	resp, err := c.do(ctx, path, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// DownloadAttachment fetches the bytes at an attachment URL (a CDN host,
// not an API route) directly over the client's tuned transport. CDN
// downloads carry no Discord rate-limit bucket, so this bypasses do()'s
// acquire/breaker chokepoint entirely.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, boterror.New(boterror.KindTransport, "new-download-request-failed").With(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, boterror.New(boterror.KindTransport, "download-attachment-failed").With(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, boterror.New(boterror.KindTransport, "read-download-body-failed").With(err)
	}
	return data, nil
}

// interactionCallback is the body of POST /interactions/{id}/{token}/callback.
// Type 5 is DEFERRED_CHANNEL_MESSAGE_WITH_SOURCE: it shows the "thinking..."
// state immediately. The queue then posts its own status message to the
// channel; the deferred response itself is not edited afterwards.
type interactionCallback struct {
	Type int `json:"type"`
}

// AckInteraction acknowledges a slash-command interaction within Discord's
// 3-second window. Interaction callbacks are authenticated by the
// interaction token embedded in the URL, not the bot token, and carry no
// route-level rate limit bucket, so this bypasses do()'s acquire/breaker
// chokepoint the same way DownloadAttachment does.
func (c *Client) AckInteraction(ctx context.Context, interactionID, token string) error {
	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, token)
	body, err := json.Marshal(interactionCallback{Type: 5})
	if err != nil {
		return boterror.New(boterror.KindParse, "marshal-interaction-ack-failed").With(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return boterror.New(boterror.KindTransport, "new-interaction-ack-request-failed").With(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return boterror.New(boterror.KindTransport, "ack-interaction-failed").With(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
		return &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// Channel is the subset of Discord's channel object the cache holds.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// FetchChannel retrieves channel metadata.
func (c *Client) FetchChannel(ctx context.Context, channelID string) (*Channel, error) {
	path := fmt.Sprintf("/channels/%s", channelID)
	req, err := c.jsonRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, path, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ch Channel
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, boterror.New(boterror.KindParse, "decode-channel-failed").With(err)
	}
	return &ch, nil
}
