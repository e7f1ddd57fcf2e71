// Package dispatch implements discordgw.Dispatcher: it decodes the two
// dispatch events the gateway forwards (MESSAGE_CREATE, INTERACTION_CREATE),
// turns each into a core.CommandArgs plus the attachments it targets, and
// submits to the owning pool's queue.Queue.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/queue"
	"github.com/warraft/raftbot/internal/router"
	"github.com/warraft/raftbot/internal/store"
)

// InteractionAcker acknowledges a slash-command interaction within
// Discord's response window, ahead of the queue's own status message.
type InteractionAcker interface {
	AckInteraction(ctx context.Context, interactionID, token string) error
}

// Dispatcher routes gateway dispatch events to the per-pool queues.
type Dispatcher struct {
	state  store.StateStore
	acker  InteractionAcker
	queues map[core.Pool]*queue.Queue
}

// New creates a Dispatcher. queues must have an entry for every core.Pool
// a command kind can route to (core.PoolBLP, core.PoolRembg, core.PoolIcon).
func New(state store.StateStore, acker InteractionAcker, queues map[core.Pool]*queue.Queue) *Dispatcher {
	return &Dispatcher{state: state, acker: acker, queues: queues}
}

// messageCreate is the subset of Discord's message-create payload dispatch
// needs.
type messageCreate struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
	Mentions []struct {
		ID string `json:"id"`
	} `json:"mentions"`
	Attachments []struct {
		URL      string `json:"url"`
		Filename string `json:"filename"`
	} `json:"attachments"`
}

// HandleMessageCreate implements discordgw.Dispatcher. It ignores messages
// not mentioning the bot, strips the mention prefix, parses the remaining
// text with router.Parse, and submits to the resolved pool's queue.
func (d *Dispatcher) HandleMessageCreate(ctx context.Context, raw json.RawMessage) error {
	var msg messageCreate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return boterror.New(boterror.KindParse, "decode-message-create-failed").With(err)
	}
	if msg.Author.Bot {
		return nil
	}

	sess, err := d.state.GetState(ctx)
	if err != nil {
		return boterror.New(boterror.KindStore, "get-session-state-failed").With(err)
	}
	if sess.BotUserID == "" {
		return nil
	}

	mentioned := false
	for _, m := range msg.Mentions {
		if m.ID == sess.BotUserID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return nil
	}

	text := stripMention(msg.Content, sess.BotUserID)
	args, ok := router.Parse(text)
	if !ok {
		return nil
	}

	q, ok := d.queues[args.Kind.Pool()]
	if !ok {
		return nil
	}

	attachments := make([]core.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, core.Attachment{URL: a.URL, Filename: a.Filename})
	}

	return q.Submit(ctx, queue.Submission{
		ChannelID:       msg.ChannelID,
		OriginMessageID: msg.ID,
		AuthorID:        msg.Author.ID,
		OriginText:      msg.Content,
		Attachments:     attachments,
		Args:            args,
	})
}

// stripMention removes a leading <@id> or <@!id> mention token (plus
// surrounding whitespace) for the given user ID.
func stripMention(content, userID string) string {
	for _, form := range []string{"<@" + userID + ">", "<@!" + userID + ">"} {
		if strings.HasPrefix(content, form) {
			return strings.TrimSpace(strings.TrimPrefix(content, form))
		}
	}
	return content
}
