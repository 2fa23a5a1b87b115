// Package bot connects chat platforms to the access engine: it routes
// inbound messages to commands, decides who is an admin and delivers
// prompts and notifications.
package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
)

// Platforms looks up the platform capabilities of a registered channel.
type Platforms interface {
	Platform(name string) (channel.Platform, bool)
}

type senderContextKey struct{}

type senderRef struct {
	Channel string
	ID      string
}

// WithSender records the chat user behind a request.
func WithSender(ctx context.Context, channelName, senderID string) context.Context {
	return context.WithValue(ctx, senderContextKey{}, senderRef{Channel: channelName, ID: senderID})
}

func senderFromContext(ctx context.Context) (senderRef, bool) {
	ref, ok := ctx.Value(senderContextKey{}).(senderRef)
	return ref, ok && ref.ID != ""
}

// Admins decides who may approve and deny requests: the configured
// admins and, with admins_channel_elevate, members of the admins channel.
type Admins struct {
	configured map[string]bool
	channel    string
	elevate    bool
	platforms  Platforms
	logger     *slog.Logger
}

// NewAdmins builds an admin checker. platforms may be nil when channel
// elevation is off.
func NewAdmins(cfg config.BotConfig, platforms Platforms, logger *slog.Logger) *Admins {
	if logger == nil {
		logger = slog.Default()
	}
	configured := make(map[string]bool, len(cfg.Admins))
	for _, a := range cfg.Admins {
		if key := adminKey(a); key != "" {
			configured[key] = true
		}
	}
	return &Admins{
		configured: configured,
		channel:    cfg.AdminsChannel,
		elevate:    cfg.AdminsChannelElevate && cfg.AdminsChannel != "",
		platforms:  platforms,
		logger:     logger,
	}
}

func (a *Admins) IsAdmin(ctx context.Context, identity string) bool {
	if a.configured[adminKey(identity)] {
		return true
	}
	if !a.elevate || a.platforms == nil {
		return false
	}
	ref, ok := senderFromContext(ctx)
	if !ok {
		return false
	}
	platform, ok := a.platforms.Platform(ref.Channel)
	if !ok {
		return false
	}
	member, err := platform.IsChannelMember(ctx, a.channel, ref.ID)
	if err != nil {
		a.logger.Warn("admins channel membership check failed",
			"channel", ref.Channel, "admins_channel", a.channel, "sender", ref.ID, "error", err)
		return false
	}
	return member
}

func adminKey(identity string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(identity)), "@")
}
