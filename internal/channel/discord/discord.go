package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/channel"
	"github.com/lendkey/accessbot/internal/config"
)

// sessionAPI is the subset of *discordgo.Session the adapter calls.
type sessionAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

var _ sessionAPI = (*discordgo.Session)(nil)

// Channel implements Discord bot channel.
type Channel struct {
	channel.BaseChannel
	cfg *config.DiscordConfig

	mu       sync.RWMutex
	session  *discordgo.Session
	api      sessionAPI
	running  bool
	guilds   map[string]struct{}
	channels map[string]string // lower-case name -> channel id
	users    map[string]string // lower-case username -> user id
}

// New creates a Discord channel.
func New(cfg *config.DiscordConfig, msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channel.BaseChannel{Bus: msgBus, AllowList: channel.NewAllowList(cfg.AllowFrom)},
		cfg:         cfg,
		guilds:      make(map[string]struct{}),
		channels:    make(map[string]string),
		users:       make(map[string]string),
	}
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(ctx context.Context) error {
	if c.cfg == nil {
		return fmt.Errorf("missing discord config")
	}
	if strings.TrimSpace(c.cfg.Token) == "" {
		return fmt.Errorf("discord token is empty")
	}

	s, err := discordgo.New("Bot " + strings.TrimSpace(c.cfg.Token))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	s.AddHandler(c.handleMessage)
	s.AddHandler(c.handleGuildCreate)

	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.mu.Lock()
	c.session = s
	c.api = s
	c.running = true
	c.mu.Unlock()

	if me, err := s.User("@me"); err == nil {
		slog.Info("discord bot connected", "username", me.Username, "id", me.ID)
	}
	return nil
}

func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.api = nil
	c.running = false
	c.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	api, err := c.client()
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.ChatID) == "" {
		return fmt.Errorf("discord chat id is empty")
	}

	done := make(chan error, 1)
	go func() {
		var err error
		if msg.ReplyTo != "" {
			_, err = api.ChannelMessageSendReply(msg.ChatID, msg.Content, &discordgo.MessageReference{
				MessageID: msg.ReplyTo,
				ChannelID: msg.ChatID,
			})
		} else {
			_, err = api.ChannelMessageSend(msg.ChatID, msg.Content)
		}
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	}
}

func (c *Channel) handleGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guilds[g.ID] = struct{}{}
	for _, ch := range g.Channels {
		if ch != nil && ch.Type == discordgo.ChannelTypeGuildText {
			c.channels[strings.ToLower(ch.Name)] = ch.ID
		}
	}
}

func (c *Channel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if s != nil && s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	senderID := m.Author.ID
	senderCompound := senderID
	if m.Author.Username != "" {
		senderCompound = senderID + "|" + m.Author.Username
	}
	if !c.IsAllowed(senderCompound) {
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	if m.Author.Username != "" {
		c.mu.Lock()
		c.users[strings.ToLower(m.Author.Username)] = senderID
		c.mu.Unlock()
	}

	c.PublishInbound(&bus.InboundMessage{
		Channel:    c.Name(),
		SenderID:   senderID,
		SenderName: m.Author.Username,
		ChatID:     m.ChannelID,
		MessageID:  m.ID,
		Content:    content,
		Timestamp:  time.Now(),
		Direct:     m.GuildID == "",
		RequestID:  bus.NewRequestID(),
		Metadata: map[string]any{
			"message_id": m.ID,
			"username":   m.Author.Username,
			"guild_id":   m.GuildID,
			"channel_id": m.ChannelID,
		},
	})
}

// ResolveIdentity looks up the Discord user. Bot tokens cannot read
// emails, so Email is usually empty.
func (c *Channel) ResolveIdentity(_ context.Context, senderID string) (channel.Identity, error) {
	api, err := c.client()
	if err != nil {
		return channel.Identity{}, err
	}
	u, err := api.User(senderID)
	if err != nil {
		return channel.Identity{}, fmt.Errorf("discord user %s: %w", senderID, err)
	}
	return channel.Identity{ID: u.ID, Nick: u.Username, Email: u.Email}, nil
}

func (c *Channel) FormatMention(senderID, _ string) string {
	return "<@" + senderID + ">"
}

// ChannelChatID resolves a text channel name in any joined guild. Ids
// are passed through.
func (c *Channel) ChannelChatID(_ context.Context, name string) (string, error) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
	if name == "" {
		return "", fmt.Errorf("discord channel name is empty")
	}

	c.mu.RLock()
	id, ok := c.channels[name]
	guilds := make([]string, 0, len(c.guilds))
	for g := range c.guilds {
		guilds = append(guilds, g)
	}
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if isSnowflake(name) {
		return name, nil
	}

	api, err := c.client()
	if err != nil {
		return "", err
	}
	for _, g := range guilds {
		chans, err := api.GuildChannels(g)
		if err != nil {
			slog.Warn("discord list channels failed", "guild_id", g, "error", err)
			continue
		}
		for _, ch := range chans {
			if ch.Type == discordgo.ChannelTypeGuildText && strings.EqualFold(ch.Name, name) {
				c.mu.Lock()
				c.channels[name] = ch.ID
				c.mu.Unlock()
				return ch.ID, nil
			}
		}
	}
	return "", fmt.Errorf("discord channel %q not found", name)
}

// IsChannelMember reports whether userID belongs to the guild that owns
// the named channel.
func (c *Channel) IsChannelMember(ctx context.Context, name, userID string) (bool, error) {
	id, err := c.ChannelChatID(ctx, name)
	if err != nil {
		return false, err
	}
	api, err := c.client()
	if err != nil {
		return false, err
	}
	ch, err := api.Channel(id)
	if err != nil {
		return false, fmt.Errorf("discord channel %s: %w", id, err)
	}
	if ch.GuildID == "" {
		return false, nil
	}
	member, err := api.GuildMember(ch.GuildID, userID)
	if err != nil || member == nil {
		return false, nil
	}
	return true, nil
}

// DirectChatID opens (or reuses) a DM channel with user, given an id or a
// username seen earlier.
func (c *Channel) DirectChatID(_ context.Context, user string) (string, error) {
	user = strings.TrimPrefix(strings.TrimSpace(user), "@")
	if !isSnowflake(user) {
		c.mu.RLock()
		id, ok := c.users[strings.ToLower(user)]
		c.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("discord user %q has not talked to the bot yet", user)
		}
		user = id
	}
	api, err := c.client()
	if err != nil {
		return "", err
	}
	dm, err := api.UserChannelCreate(user)
	if err != nil {
		return "", fmt.Errorf("open discord dm with %s: %w", user, err)
	}
	return dm.ID, nil
}

func (c *Channel) client() (sessionAPI, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.running || c.api == nil {
		return nil, fmt.Errorf("discord channel not running")
	}
	return c.api, nil
}

func isSnowflake(s string) bool {
	if len(s) < 15 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
