package telegram

import (
	"context"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lendkey/accessbot/internal/bus"
	"github.com/lendkey/accessbot/internal/config"
)

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	failOn  int
	status  string
	chatID  int64
	stopped bool
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	if len(f.sent) == f.failOn {
		return tgbotapi.Message{}, &tgbotapi.Error{Message: "can't parse entities"}
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetChat(tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	return tgbotapi.Chat{ID: f.chatID}, nil
}

func (f *fakeBot) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return tgbotapi.ChatMember{Status: f.status}, nil
}

func (f *fakeBot) StopReceivingUpdates() { f.stopped = true }

func TestMarkdownToHTML_RendersBoldAndCode(t *testing.T) {
	out := markdownToHTML("**b** *s* `c` <x>")
	if !strings.Contains(out, "<b>b</b>") || !strings.Contains(out, "<b>s</b>") {
		t.Fatalf("expected bold to render, got: %s", out)
	}
	if !strings.Contains(out, "<code>c</code>") {
		t.Fatalf("expected code to render, got: %s", out)
	}
	if !strings.Contains(out, "&lt;x&gt;") {
		t.Fatalf("expected html escaped, got: %s", out)
	}
}

func TestParseInt64(t *testing.T) {
	if got, err := parseInt64(" 12345 "); err != nil || got != 12345 {
		t.Fatalf("parseInt64 = %d, %v", got, err)
	}
	if _, err := parseInt64("not-a-number"); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestHandleMessage_PublishesAndLearnsUser(t *testing.T) {
	msgBus := bus.NewMessageBus(2)
	ch := New(&config.TelegramConfig{}, msgBus)

	ch.handleMessage(&tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42, UserName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Text:      "/access to prod-db",
	})
	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 99, IsBot: true},
		Chat: &tgbotapi.Chat{ID: 99, Type: "private"},
		Text: "ignored",
	})

	in := <-msgBus.Inbound()
	if in.Content != "access to prod-db" || !in.Direct || in.SenderName != "Alice" || in.MessageID != "7" {
		t.Fatalf("unexpected inbound: %+v", in)
	}
	select {
	case extra := <-msgBus.Inbound():
		t.Fatalf("bot message should be dropped, got %+v", extra)
	default:
	}

	id, _ := ch.ResolveIdentity(context.Background(), "42")
	if id.Nick != "Alice" || id.Email != "" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	dm, err := ch.DirectChatID(context.Background(), "@alice")
	if err != nil || dm != "42" {
		t.Fatalf("DirectChatID = %q, %v", dm, err)
	}
	if _, err := ch.DirectChatID(context.Background(), "@stranger"); err == nil {
		t.Fatal("expected error for unseen user")
	}
}

func TestSend_FallsBackToPlainText(t *testing.T) {
	ch := New(&config.TelegramConfig{}, bus.NewMessageBus(1))
	bot := &fakeBot{failOn: 1}
	ch.bot = bot

	if err := ch.Send(context.Background(), &bus.OutboundMessage{ChatID: "42", Content: "*hi*"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) != 2 || bot.sent[1].ParseMode != "" || bot.sent[1].Text != "*hi*" {
		t.Fatalf("unexpected sends: %+v", bot.sent)
	}
	if err := ch.Send(context.Background(), &bus.OutboundMessage{ChatID: "abc"}); err == nil {
		t.Fatal("expected invalid chat id error")
	}
}

func TestMembership(t *testing.T) {
	ch := New(&config.TelegramConfig{}, bus.NewMessageBus(1))
	bot := &fakeBot{status: "member", chatID: -100}
	ch.bot = bot
	ctx := context.Background()

	id, err := ch.ChannelChatID(ctx, "@admins")
	if err != nil || id != "-100" {
		t.Fatalf("ChannelChatID = %q, %v", id, err)
	}
	if ok, err := ch.IsChannelMember(ctx, "-100", "42"); err != nil || !ok {
		t.Fatalf("expected member, got %v %v", ok, err)
	}
	bot.status = "left"
	if ok, _ := ch.IsChannelMember(ctx, "-100", "42"); ok {
		t.Fatal("left users are not members")
	}
	if got := ch.FormatMention("42", "alice"); got != "@alice" {
		t.Fatalf("unexpected mention %q", got)
	}
	_ = ch.Stop(ctx)
	if !bot.stopped {
		t.Fatal("expected updates to stop")
	}
}
