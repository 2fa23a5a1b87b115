package channel

import (
	"context"
	"errors"
	"strings"

	"github.com/lendkey/accessbot/internal/bus"
)

var ErrUnsupported = errors.New("operation not supported by this channel")

// Channel interface for chat platforms
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg *bus.OutboundMessage) error
	IsAllowed(senderID string) bool
}

// Identity is what a platform knows about a chat user.
type Identity struct {
	ID    string
	Nick  string
	Email string
}

// Platform is the per-platform knowledge the bot needs beyond sending
// text. Every channel adapter implements it.
type Platform interface {
	// ResolveIdentity looks up the nick and email of a sender.
	ResolveIdentity(ctx context.Context, senderID string) (Identity, error)
	// FormatMention renders a mention that notifies the user.
	FormatMention(senderID, nick string) string
	// ChannelChatID turns a configured channel name into a chat id.
	ChannelChatID(ctx context.Context, name string) (string, error)
	// IsChannelMember reports whether userID belongs to channel name.
	IsChannelMember(ctx context.Context, name, userID string) (bool, error)
	// DirectChatID returns the chat id of a one-to-one conversation with
	// user, given as an id or email.
	DirectChatID(ctx context.Context, user string) (string, error)
}

// BaseChannel provides common functionality
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowList map[string]bool
}

// NewAllowList builds an allow list from configured ids.
func NewAllowList(ids []string) map[string]bool {
	allow := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			allow[id] = true
		}
	}
	return allow
}

// IsAllowed checks if sender is permitted
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for allowed := range b.AllowList {
		normalized := strings.TrimSpace(allowed)
		trimmed := strings.TrimPrefix(normalized, "@")
		if normalized == senderID || trimmed == senderID ||
			normalized == idPart || trimmed == idPart ||
			(userPart != "" && (normalized == userPart || trimmed == userPart)) {
			return true
		}
	}

	return false
}

// PublishInbound sends message to bus
func (b *BaseChannel) PublishInbound(msg *bus.InboundMessage) {
	if b.Bus == nil {
		return
	}
	b.Bus.PublishInbound(msg)
}
