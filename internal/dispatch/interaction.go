package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/warraft/raftbot/internal/boterror"
	"github.com/warraft/raftbot/internal/core"
	"github.com/warraft/raftbot/internal/queue"
)

// commandVerbs mirrors router's mention-mode verb table. Only blp, rembg
// and icon are registered as slash commands; /blp selects PNG through its
// target option.
var commandVerbs = map[string]core.CommandKind{
	"blp":   core.CommandBLP,
	"png":   core.CommandPNG,
	"rembg": core.CommandRembg,
	"bg":    core.CommandRembg,
	"icon":  core.CommandIcon,
}

// application command option types, per Discord's interaction schema.
const (
	optTypeString     = 3
	optTypeInteger    = 4
	optTypeBoolean    = 5
	optTypeAttachment = 11
)

type interactionOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value"`
}

type resolvedAttachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type interactionCreate struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Member    struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	} `json:"member"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Data struct {
		Name     string              `json:"name"`
		Options  []interactionOption `json:"options"`
		Resolved struct {
			Attachments map[string]resolvedAttachment `json:"attachments"`
		} `json:"resolved"`
	} `json:"data"`
}

func (i interactionCreate) authorID() string {
	if i.Member.User.ID != "" {
		return i.Member.User.ID
	}
	return i.User.ID
}

// HandleInteractionCreate implements discordgw.Dispatcher for slash
// commands. It acknowledges the interaction immediately, decodes the typed
// options into core.CommandArgs, resolves any attachment option against
// the interaction's resolved-data map, and submits to the matching pool.
func (d *Dispatcher) HandleInteractionCreate(ctx context.Context, raw json.RawMessage) error {
	var in interactionCreate
	if err := json.Unmarshal(raw, &in); err != nil {
		return boterror.New(boterror.KindParse, "decode-interaction-create-failed").With(err)
	}

	if d.acker != nil {
		if err := d.acker.AckInteraction(ctx, in.ID, in.Token); err != nil {
			return boterror.New(boterror.KindAPI, "ack-interaction-failed").With(err)
		}
	}

	kind, ok := commandVerbs[in.Data.Name]
	if !ok {
		return nil
	}

	q, ok := d.queues[kind.Pool()]
	if !ok {
		return nil
	}

	args := core.NewCommandArgs(kind)
	var attachments []core.Attachment

	for _, opt := range in.Data.Options {
		switch opt.Type {
		case optTypeString:
			var s string
			if err := json.Unmarshal(opt.Value, &s); err != nil {
				continue
			}
			if opt.Name == "target" && kind == core.CommandBLP && strings.EqualFold(s, "PNG") {
				args.Kind = core.CommandPNG
			}
		case optTypeInteger:
			var n int
			if err := json.Unmarshal(opt.Value, &n); err != nil {
				continue
			}
			applyIntOption(&args, opt.Name, n)
		case optTypeBoolean:
			var b bool
			if err := json.Unmarshal(opt.Value, &b); err != nil {
				continue
			}
			applyBoolOption(&args, opt.Name, b)
		case optTypeAttachment:
			var attachmentID string
			if err := json.Unmarshal(opt.Value, &attachmentID); err != nil {
				continue
			}
			if att, ok := in.Data.Resolved.Attachments[attachmentID]; ok {
				attachments = append(attachments, core.Attachment{URL: att.URL, Filename: att.Filename})
			}
		}
	}

	return q.Submit(ctx, queue.Submission{
		ChannelID:       in.ChannelID,
		OriginMessageID: "",
		AuthorID:        in.authorID(),
		Attachments:     attachments,
		Args:            args,
	})
}

// applyIntOption clamps quality/threshold the same way router's flag
// tokens do: out-of-range values leave the default unchanged.
func applyIntOption(args *core.CommandArgs, name string, n int) {
	switch name {
	case "quality":
		if n >= 1 && n <= 100 {
			args.Quality = n
		}
	case "threshold":
		if n >= 0 && n <= 255 {
			args.Threshold = n
		}
	}
}

func applyBoolOption(args *core.CommandArgs, name string, b bool) {
	switch name {
	case "zip":
		args.Zip = b
	case "binary":
		args.Binary = b
	case "mask":
		args.Mask = b
	}
}
