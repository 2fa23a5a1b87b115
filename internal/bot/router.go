package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/command"
	"github.com/lendkey/accessbot/internal/config"
	"github.com/lendkey/accessbot/internal/metrics"
)

const unknownCommandReply = "Sorry, I did not understand that. Type `help` to see what I can do."

// Router consumes inbound chat messages, runs the matching command and
// publishes its replies.
type Router struct {
	bus       *bus.MessageBus
	platforms Platforms
	commands  *command.Registry
	access    command.Access
	cfg       config.BotConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRouter wires a router with the default command set.
func NewRouter(cfg config.BotConfig, msgBus *bus.MessageBus, platforms Platforms, access command.Access, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		bus:       msgBus,
		platforms: platforms,
		commands:  command.NewDefaultRegistry(),
		access:    access,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Run processes inbound messages until ctx is done. Each message is handled
// on its own goroutine so a slow directory or chat call only delays its own
// reply. In-flight handlers are waited for before Run returns.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("bot router started")
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-r.bus.Inbound():
			if !ok {
				return fmt.Errorf("inbound channel closed")
			}
			if msg == nil {
				r.logger.Warn("received nil inbound message")
				continue
			}
			if strings.TrimSpace(msg.RequestID) == "" {
				msg.RequestID = bus.NewRequestID()
			}
			wg.Add(1)
			go func(msg *bus.InboundMessage) {
				defer wg.Done()
				r.dispatch(ctx, msg)
			}(msg)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, msg *bus.InboundMessage) {
	for _, out := range r.Handle(ctx, msg) {
		if !r.bus.PublishOutbound(out) {
			r.logger.Warn("outbound queue full, reply dropped",
				"request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID)
		}
	}
}

// Handle runs the command in msg and returns the replies to send.
// Messages that match no command are ignored outside direct chats.
func (r *Router) Handle(ctx context.Context, msg *bus.InboundMessage) []*bus.OutboundMessage {
	cmd, args, ok := r.commands.Lookup(msg.Content)
	if !ok {
		if msg.Direct {
			return []*bus.OutboundMessage{r.replyTo(msg, unknownCommandReply)}
		}
		return nil
	}
	r.metrics.MessageReceived(msg.Channel)

	ctx = bus.WithRequestID(ctx, msg.RequestID)
	ctx = WithSender(ctx, msg.Channel, msg.SenderID)

	sender := r.resolveSender(ctx, msg)
	r.logger.Info("processing command",
		"request_id", msg.RequestID, "channel", msg.Channel, "chat_id", msg.ChatID,
		"sender", msg.SenderID, "command", cmd.Name())

	result := cmd.Execute(ctx, args, command.Env{
		Channel:      msg.Channel,
		ChatID:       msg.ChatID,
		MessageID:    msg.MessageID,
		RequestID:    msg.RequestID,
		Direct:       msg.Direct,
		Sender:       sender,
		Bot:          r.cfg,
		Access:       r.access,
		ListCommands: r.commands.List,
	})
	if result.Err != nil {
		r.metrics.CommandFailed()
		r.logger.Warn("command failed",
			"request_id", msg.RequestID, "channel", msg.Channel, "command", cmd.Name(), "error", result.Err)
	} else {
		r.metrics.CommandSucceeded()
	}

	out := make([]*bus.OutboundMessage, 0, len(result.Replies))
	for _, line := range result.Replies {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, r.replyTo(msg, line))
	}
	return out
}

func (r *Router) replyTo(msg *bus.InboundMessage, content string) *bus.OutboundMessage {
	return &bus.OutboundMessage{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Content:   content,
		ReplyTo:   msg.MessageID,
		RequestID: msg.RequestID,
	}
}

// resolveSender asks the platform who sent msg and applies the nick and
// email overrides.
func (r *Router) resolveSender(ctx context.Context, msg *bus.InboundMessage) command.Sender {
	ident := channel.Identity{ID: msg.SenderID, Nick: msg.SenderName, Email: msg.SenderEmail}
	var platform channel.Platform
	if r.platforms != nil {
		platform, _ = r.platforms.Platform(msg.Channel)
	}
	if platform != nil {
		resolved, err := platform.ResolveIdentity(ctx, msg.SenderID)
		if err != nil {
			r.logger.Warn("resolve sender identity failed",
				"request_id", msg.RequestID, "channel", msg.Channel, "sender", msg.SenderID, "error", err)
		} else {
			if resolved.Nick != "" {
				ident.Nick = resolved.Nick
			}
			if resolved.Email != "" {
				ident.Email = resolved.Email
			}
		}
	}

	sender := command.Sender{
		ID:    msg.SenderID,
		Nick:  senderNick(r.cfg, ident.Nick),
		Email: senderEmail(r.cfg, ident.Email),
	}
	if platform != nil {
		sender.Mention = platform.FormatMention(msg.SenderID, strings.TrimPrefix(ident.Nick, "@"))
	}
	return sender
}

func senderNick(cfg config.BotConfig, nick string) string {
	if cfg.SenderNickOverride != "" {
		return cfg.SenderNickOverride
	}
	nick = strings.TrimSpace(nick)
	if nick == "" || strings.HasPrefix(nick, "@") {
		return nick
	}
	return "@" + nick
}

func senderEmail(cfg config.BotConfig, email string) string {
	if cfg.SenderEmailOverride != "" {
		return cfg.SenderEmailOverride
	}
	email = strings.TrimSpace(email)
	if cfg.EmailSubaddress != "" && email != "" {
		return strings.Replace(email, "@", "+"+cfg.EmailSubaddress+"@", 1)
	}
	return email
}
