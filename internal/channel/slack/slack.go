package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
)

// apiClient is the subset of the Slack Web API the adapter uses.
type apiClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUserProfileContext(ctx context.Context, params *slack.GetUserProfileParameters) (*slack.UserProfile, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetUsersInConversationContext(ctx context.Context, params *slack.GetUsersInConversationParameters) ([]string, string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

var _ apiClient = (*slack.Client)(nil)

// Channel implements Slack Socket Mode channel.
type Channel struct {
	channel.BaseChannel
	cfg          *config.SlackConfig
	api          apiClient
	socketClient *socketmode.Client
	botUserID    string

	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	channels map[string]string
}

// New creates a Slack channel.
func New(cfg *config.SlackConfig, msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Bus: msgBus, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
		channels:    make(map[string]string),
	}
}

func (c *Channel) Name() string { return "slack" }

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing slack config")
	}
	if strings.TrimSpace(c.cfg.BotToken) == "" || strings.TrimSpace(c.cfg.AppToken) == "" {
		return fmt.Errorf("slack bot_token and app_token are required")
	}

	api := slack.New(c.cfg.BotToken, slack.OptionAppLevelToken(c.cfg.AppToken))
	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	socketClient := socketmode.New(api)

	c.mu.Lock()
	c.api = api
	c.socketClient = socketClient
	c.botUserID = authResp.UserID
	c.running = true
	c.ctx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	go c.eventLoop()
	go func() {
		if err := socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode exited", "error", err)
		}
	}()

	slog.Info("slack channel connected", "team", authResp.Team, "bot_user_id", authResp.UserID)
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.socketClient = nil
	c.api = nil
	c.mu.Unlock()
	return nil
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	api, err := c.client()
	if err != nil {
		return err
	}

	channelID, threadTS := parseChatID(msg.ChatID)
	if strings.TrimSpace(channelID) == "" {
		return fmt.Errorf("invalid slack chat id: %q", msg.ChatID)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	if _, _, err := api.PostMessageContext(ctx, channelID, opts...); err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	return nil
}

// ResolveIdentity returns the user's handle and email. When email_field is
// configured the email is read from that custom profile field instead.
func (c *Channel) ResolveIdentity(ctx context.Context, senderID string) (channel.Identity, error) {
	api, err := c.client()
	if err != nil {
		return channel.Identity{}, err
	}
	user, err := api.GetUserInfoContext(ctx, senderID)
	if err != nil {
		return channel.Identity{}, fmt.Errorf("slack users.info %s: %w", senderID, err)
	}

	id := channel.Identity{ID: user.ID, Nick: user.Name, Email: user.Profile.Email}
	if field := strings.TrimSpace(c.cfg.EmailField); field != "" {
		email, err := c.profileField(ctx, api, senderID, field)
		if err != nil {
			return channel.Identity{}, err
		}
		id.Email = email
	}
	return id, nil
}

func (c *Channel) profileField(ctx context.Context, api apiClient, userID, label string) (string, error) {
	profile, err := api.GetUserProfileContext(ctx, &slack.GetUserProfileParameters{UserID: userID, IncludeLabels: true})
	if err != nil {
		return "", fmt.Errorf("slack users.profile.get %s: %w", userID, err)
	}
	for _, f := range profile.Fields.ToMap() {
		if strings.EqualFold(f.Label, label) {
			return strings.TrimSpace(f.Value), nil
		}
	}
	return "", fmt.Errorf("slack profile of %s has no %q field", userID, label)
}

func (c *Channel) FormatMention(senderID, nick string) string {
	if senderID != "" {
		return fmt.Sprintf("<@%s>", senderID)
	}
	return "@" + strings.TrimPrefix(nick, "@")
}

// ChannelChatID resolves a channel name (with or without '#') to its id.
func (c *Channel) ChannelChatID(ctx context.Context, name string) (string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	c.mu.RLock()
	id, ok := c.channels[name]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	api, err := c.client()
	if err != nil {
		return "", err
	}
	cursor := ""
	for {
		list, next, err := api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Cursor:          cursor,
			ExcludeArchived: true,
			Limit:           200,
			Types:           []string{"public_channel", "private_channel"},
		})
		if err != nil {
			return "", fmt.Errorf("slack conversations.list: %w", err)
		}
		for _, ch := range list {
			if ch.Name == name {
				c.mu.Lock()
				c.channels[name] = ch.ID
				c.mu.Unlock()
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("slack channel %q not found", name)
		}
		cursor = next
	}
}

func (c *Channel) IsChannelMember(ctx context.Context, name, userID string) (bool, error) {
	channelID, err := c.ChannelChatID(ctx, name)
	if err != nil {
		return false, err
	}
	api, err := c.client()
	if err != nil {
		return false, err
	}
	cursor := ""
	for {
		members, next, err := api.GetUsersInConversationContext(ctx, &slack.GetUsersInConversationParameters{
			ChannelID: channelID,
			Cursor:    cursor,
			Limit:     200,
		})
		if err != nil {
			return false, fmt.Errorf("slack conversations.members: %w", err)
		}
		for _, m := range members {
			if m == userID {
				return true, nil
			}
		}
		if next == "" {
			return false, nil
		}
		cursor = next
	}
}

// DirectChatID opens an IM with user, given as a Slack user id or an email.
func (c *Channel) DirectChatID(ctx context.Context, user string) (string, error) {
	api, err := c.client()
	if err != nil {
		return "", err
	}
	userID := strings.TrimPrefix(strings.TrimSpace(user), "@")
	if strings.Contains(userID, "@") {
		u, err := api.GetUserByEmailContext(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("slack users.lookupByEmail %s: %w", userID, err)
		}
		userID = u.ID
	}
	ch, _, _, err := api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}, ReturnIM: true})
	if err != nil {
		return "", fmt.Errorf("slack conversations.open %s: %w", userID, err)
	}
	return ch.ID, nil
}

func (c *Channel) client() (apiClient, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.api == nil {
		return nil, fmt.Errorf("slack channel not running")
	}
	return c.api, nil
}

func (c *Channel) eventLoop() {
	for {
		c.mu.RLock()
		runCtx := c.ctx
		socketClient := c.socketClient
		c.mu.RUnlock()
		if runCtx == nil || socketClient == nil {
			return
		}

		select {
		case <-runCtx.Done():
			return
		case evt, ok := <-socketClient.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				c.handleEventsAPI(evt)
			case socketmode.EventTypeInteractive, socketmode.EventTypeSlashCommand:
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}
}

func (c *Channel) handleEventsAPI(evt socketmode.Event) {
	eventData, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	switch inner := eventData.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessageEvent(inner)
	case *slackevents.AppMentionEvent:
		c.handleMentionEvent(inner)
	}
}

func (c *Channel) handleMessageEvent(ev *slackevents.MessageEvent) {
	if ev == nil {
		return
	}
	if ev.User == "" || ev.BotID != "" || ev.SubType != "" {
		return
	}
	if !c.IsAllowed(ev.User) {
		return
	}
	// app_mention delivers the same text for channel mentions
	if ev.ChannelType != "im" && c.mentionsBot(ev.Text) {
		return
	}

	content := c.stripMention(ev.Text)
	if content == "" {
		return
	}

	chatID := ev.Channel
	if ev.ThreadTimeStamp != "" {
		chatID = ev.Channel + "/" + ev.ThreadTimeStamp
	}

	c.PublishInbound(&bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  ev.User,
		ChatID:    chatID,
		MessageID: ev.TimeStamp,
		Content:   content,
		Timestamp: time.Now(),
		Direct:    ev.ChannelType == "im",
		Metadata: map[string]any{
			"channel_id": ev.Channel,
			"thread_ts":  ev.ThreadTimeStamp,
		},
		RequestID: bus.NewRequestID(),
	})
}

func (c *Channel) handleMentionEvent(ev *slackevents.AppMentionEvent) {
	if ev == nil || ev.User == "" {
		return
	}
	if !c.IsAllowed(ev.User) {
		return
	}

	content := c.stripMention(ev.Text)
	if content == "" {
		return
	}

	chatID := ev.Channel
	if ev.ThreadTimeStamp != "" {
		chatID = ev.Channel + "/" + ev.ThreadTimeStamp
	} else if ev.TimeStamp != "" {
		chatID = ev.Channel + "/" + ev.TimeStamp
	}

	c.PublishInbound(&bus.InboundMessage{
		Channel:   c.Name(),
		SenderID:  ev.User,
		ChatID:    chatID,
		MessageID: ev.TimeStamp,
		Content:   content,
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"channel_id": ev.Channel,
			"thread_ts":  ev.ThreadTimeStamp,
			"is_mention": true,
		},
		RequestID: bus.NewRequestID(),
	})
}

func (c *Channel) mentionsBot(text string) bool {
	c.mu.RLock()
	botUserID := c.botUserID
	c.mu.RUnlock()
	return botUserID != "" && strings.Contains(text, "<@"+botUserID+">")
}

func (c *Channel) stripMention(text string) string {
	c.mu.RLock()
	botUserID := c.botUserID
	c.mu.RUnlock()
	if botUserID == "" {
		return strings.TrimSpace(text)
	}
	mention := fmt.Sprintf("<@%s>", botUserID)
	return strings.TrimSpace(strings.ReplaceAll(text, mention, ""))
}

func parseChatID(chatID string) (channelID, threadTS string) {
	parts := strings.SplitN(chatID, "/", 2)
	channelID = parts[0]
	if len(parts) > 1 {
		threadTS = parts[1]
	}
	return
}
