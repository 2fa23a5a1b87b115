package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
)

var (
	boldDoubleRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldStarRe   = regexp.MustCompile(`\*([^*\n]+)\*`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

// botAPI is the subset of tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	StopReceivingUpdates()
}

// Channel implements Telegram bot
type Channel struct {
	channel.BaseChannel
	cfg *config.TelegramConfig

	mu  sync.RWMutex
	bot botAPI
	// users maps lower-case usernames to ids, learned from inbound messages.
	users map[string]tgbotapi.User
}

// New creates a Telegram channel
func New(cfg *config.TelegramConfig, msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{
			Bus:       msgBus,
			AllowList: channel.NewAllowList(cfg.AllowFrom),
		},
		cfg:   cfg,
		users: make(map[string]tgbotapi.User),
	}
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(c.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()

	slog.Info("telegram bot connected", "username", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			c.handleMessage(update.Message)
		}
	}
}

func (c *Channel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !c.IsAllowed(senderID) {
		slog.Debug("unauthorized sender", "id", senderID)
		return
	}

	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}
	content = strings.TrimPrefix(content, "/")

	c.mu.Lock()
	c.users[strconv.FormatInt(msg.From.ID, 10)] = *msg.From
	if msg.From.UserName != "" {
		c.users[strings.ToLower(msg.From.UserName)] = *msg.From
	}
	c.mu.Unlock()

	c.PublishInbound(&bus.InboundMessage{
		Channel:    c.Name(),
		SenderID:   senderID,
		SenderName: msg.From.UserName,
		ChatID:     strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:  strconv.Itoa(msg.MessageID),
		Content:    content,
		Timestamp:  time.Now(),
		Direct:     msg.Chat.IsPrivate(),
		RequestID:  bus.NewRequestID(),
		Metadata: map[string]any{
			"message_id": msg.MessageID,
			"username":   msg.From.UserName,
		},
	})
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	bot, err := c.api()
	if err != nil {
		return err
	}

	chatID, err := parseInt64(msg.ChatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	tgMsg := tgbotapi.NewMessage(chatID, markdownToHTML(msg.Content))
	tgMsg.ParseMode = tgbotapi.ModeHTML
	if replyTo, err := strconv.Atoi(msg.ReplyTo); err == nil {
		tgMsg.ReplyToMessageID = replyTo
	}

	_, err = bot.Send(tgMsg)
	if err != nil {
		tgMsg.ParseMode = ""
		tgMsg.Text = msg.Content
		_, err = bot.Send(tgMsg)
	}
	return err
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.RLock()
	bot := c.bot
	c.mu.RUnlock()
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	return nil
}

// ResolveIdentity returns what was learned about senderID. Telegram does
// not expose emails, so Email stays empty.
func (c *Channel) ResolveIdentity(_ context.Context, senderID string) (channel.Identity, error) {
	c.mu.RLock()
	user, ok := c.users[senderID]
	c.mu.RUnlock()
	if !ok {
		return channel.Identity{ID: senderID}, nil
	}
	return channel.Identity{ID: senderID, Nick: user.UserName}, nil
}

func (c *Channel) FormatMention(senderID, nick string) string {
	if nick = strings.TrimPrefix(nick, "@"); nick != "" {
		return "@" + nick
	}
	return fmt.Sprintf(`<a href="tg://user?id=%s">user %s</a>`, senderID, senderID)
}

// ChannelChatID accepts a numeric chat id or a public @username.
func (c *Channel) ChannelChatID(_ context.Context, name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	if _, err := parseInt64(name); err == nil {
		return name, nil
	}
	bot, err := c.api()
	if err != nil {
		return "", err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + strings.TrimPrefix(name, "@")},
	})
	if err != nil {
		return "", fmt.Errorf("telegram getChat %s: %w", name, err)
	}
	return strconv.FormatInt(chat.ID, 10), nil
}

func (c *Channel) IsChannelMember(ctx context.Context, name, userID string) (bool, error) {
	chatID, err := c.ChannelChatID(ctx, name)
	if err != nil {
		return false, err
	}
	chat, _ := parseInt64(chatID)
	user, err := parseInt64(userID)
	if err != nil {
		return false, fmt.Errorf("invalid telegram user id %q: %w", userID, err)
	}
	bot, err := c.api()
	if err != nil {
		return false, err
	}
	member, err := bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chat, UserID: user},
	})
	if err != nil {
		return false, fmt.Errorf("telegram getChatMember: %w", err)
	}
	return !member.HasLeft() && !member.WasKicked(), nil
}

// DirectChatID maps a user id or a previously seen @username to its
// private chat id, which Telegram makes equal to the user id.
func (c *Channel) DirectChatID(_ context.Context, user string) (string, error) {
	user = strings.TrimSpace(user)
	if _, err := parseInt64(user); err == nil {
		return user, nil
	}
	c.mu.RLock()
	u, ok := c.users[strings.ToLower(strings.TrimPrefix(user, "@"))]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("telegram user %q has not talked to the bot yet", user)
	}
	return strconv.FormatInt(u.ID, 10), nil
}

func (c *Channel) api() (botAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bot == nil {
		return nil, fmt.Errorf("bot not initialized")
	}
	return c.bot, nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldDoubleRe.ReplaceAllString(text, "<b>$1</b>")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}
