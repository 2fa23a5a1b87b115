package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lendkey/accessbot/internal/approval"
	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/grant"
)

const lookupTimeout = 10 * time.Second

// Notifier publishes admin prompts and requester notifications on the
// bus. Delivery happens in the channel manager.
type Notifier struct {
	bus       *bus.MessageBus
	platforms Platforms
	cfg       config.BotConfig
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg config.BotConfig, msgBus *bus.MessageBus, platforms Platforms, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{bus: msgBus, platforms: platforms, cfg: cfg, logger: logger}
}

// NotifyOriginator replies in the conversation the request came from.
func (n *Notifier) NotifyOriginator(ctx context.Context, origin grant.Origin, kind approval.NotifyKind, detail string) {
	content := detail
	if platform, ok := n.platform(origin.Channel); ok && origin.SenderID != "" {
		content = platform.FormatMention(origin.SenderID, "") + " " + detail
	}
	n.publish(&bus.OutboundMessage{
		Channel:   origin.Channel,
		ChatID:    origin.ChatID,
		Content:   content,
		ReplyTo:   origin.MessageID,
		RequestID: origin.RequestID,
		Metadata:  map[string]any{"notify_kind": string(kind)},
	})
}

// PromptAdmins posts the request to the admins channel, or DMs every
// configured admin when no channel is set.
func (n *Notifier) PromptAdmins(ctx context.Context, req grant.Request) {
	platform, ok := n.platform(req.Origin.Channel)
	if !ok {
		n.logger.Warn("no platform to prompt admins", "channel", req.Origin.Channel, "grant_id", req.ID)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	content := promptMessage(req)

	if n.cfg.AdminsChannel != "" {
		chatID, err := platform.ChannelChatID(ctx, n.cfg.AdminsChannel)
		if err != nil {
			n.logger.Error("resolve admins channel failed",
				"channel", req.Origin.Channel, "admins_channel", n.cfg.AdminsChannel, "grant_id", req.ID, "error", err)
			return
		}
		n.publish(&bus.OutboundMessage{
			Channel:   req.Origin.Channel,
			ChatID:    chatID,
			Content:   content,
			RequestID: req.Origin.RequestID,
		})
		return
	}

	admins := append([]string(nil), n.cfg.Admins...)
	sort.Strings(admins)
	for _, admin := range admins {
		chatID, err := platform.DirectChatID(ctx, admin)
		if err != nil {
			n.logger.Warn("open admin conversation failed",
				"channel", req.Origin.Channel, "admin", admin, "grant_id", req.ID, "error", err)
			continue
		}
		n.publish(&bus.OutboundMessage{
			Channel:   req.Origin.Channel,
			ChatID:    chatID,
			Content:   content,
			RequestID: req.Origin.RequestID,
		})
	}
}

func (n *Notifier) platform(name string) (channel.Platform, bool) {
	if n.platforms == nil {
		return nil, false
	}
	return n.platforms.Platform(name)
}

func (n *Notifier) publish(msg *bus.OutboundMessage) {
	if n.bus == nil || msg.ChatID == "" {
		return
	}
	if !n.bus.PublishOutbound(msg) {
		n.logger.Warn("outbound queue full, message dropped",
			"channel", msg.Channel, "chat_id", msg.ChatID, "request_id", msg.RequestID)
	}
}

func promptMessage(req grant.Request) string {
	var sb strings.Builder
	what := req.Target.Name
	if req.Kind == grant.KindRole {
		what = "role " + what
	}
	fmt.Fprintf(&sb, "Hey admins, %s requested access to *%s* for %s.\n",
		req.RequesterHandle, what, req.Account.Email)
	if reason := req.Reason(); reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", reason)
	}
	if req.Kind == grant.KindResource && req.GrantDuration > 0 {
		fmt.Fprintf(&sb, "Duration: %s\n", req.GrantDuration)
	}
	fmt.Fprintf(&sb, "Reply `yes %s` to approve or `no %s [reason]` to deny. The request expires at %s.",
		req.ID, req.ID, req.Deadline.UTC().Format("15:04 MST"))
	return sb.String()
}
