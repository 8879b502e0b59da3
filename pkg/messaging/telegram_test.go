package messaging

import (
	"testing"

	"github.com/mymmrac/telego"
)

func newTestTelegramAdapter(t *testing.T, allowFrom []string) *TelegramAdapter {
	t.Helper()
	// NewBot validates the token shape before any network call, so a
	// plausible-looking fake token is enough to construct an adapter for
	// exercising the pure toInbound/allowed conversions below.
	a, err := NewTelegramAdapter("123456789:AAFakeTokenForUnitTestsOnly00000000", allowFrom)
	if err != nil {
		t.Fatalf("NewTelegramAdapter: %v", err)
	}
	return a
}

func TestTelegramToInboundFormatsConversationID(t *testing.T) {
	a := newTestTelegramAdapter(t, nil)

	m := &telego.Message{
		MessageID: 42,
		Chat:      telego.Chat{ID: 555},
		From:      &telego.User{ID: 999},
		Text:      "hello there",
		Date:      1700000000,
	}

	msg := a.toInbound(m)

	if msg.ConversationID != "telegram:555" {
		t.Errorf("ConversationID = %q, want %q", msg.ConversationID, "telegram:555")
	}
	if msg.SenderID != "999" {
		t.Errorf("SenderID = %q, want %q", msg.SenderID, "999")
	}
	if msg.Content.Text != "hello there" {
		t.Errorf("Content.Text = %q, want %q", msg.Content.Text, "hello there")
	}
	if msg.Metadata["chat_id"] != "555" {
		t.Errorf("Metadata[chat_id] = %q, want %q", msg.Metadata["chat_id"], "555")
	}
	if _, ok := msg.Metadata["thread_id"]; ok {
		t.Error("thread_id metadata should be absent when MessageThreadID is 0")
	}
}

func TestTelegramToInboundCarriesThreadID(t *testing.T) {
	a := newTestTelegramAdapter(t, nil)

	m := &telego.Message{
		MessageID:       7,
		Chat:            telego.Chat{ID: 1},
		MessageThreadID: 321,
		Text:            "in a forum topic",
	}

	msg := a.toInbound(m)
	if msg.Metadata["thread_id"] != "321" {
		t.Errorf("Metadata[thread_id] = %q, want %q", msg.Metadata["thread_id"], "321")
	}
}

func TestTelegramAllowedEmptyListAllowsEveryone(t *testing.T) {
	a := newTestTelegramAdapter(t, nil)
	if !a.allowed("anyone") {
		t.Error("expected allowed() true when allowFrom is empty")
	}
}

func TestTelegramAllowedRestrictsToList(t *testing.T) {
	a := newTestTelegramAdapter(t, []string{"111", "222"})
	if !a.allowed("111") {
		t.Error("expected allowed(111) true")
	}
	if a.allowed("333") {
		t.Error("expected allowed(333) false")
	}
}
