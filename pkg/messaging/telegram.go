package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// TelegramAdapter binds one bot token to the Adapter interface using
// long-polling updates, carrying forum-topic thread ids as metadata the
// way ManageTelegramTool already models for the tool-call side.
type TelegramAdapter struct {
	bot       *telego.Bot
	allowFrom map[string]bool // empty means allow all
}

func NewTelegramAdapter(token string, allowFrom []string) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return &TelegramAdapter{bot: bot, allowFrom: allow}, nil
}

func (a *TelegramAdapter) Name() string { return "telegram" }

// Bot exposes the underlying client so a Channel bound to this adapter can
// register Telegram-specific tools (topic/pin management) against it.
func (a *TelegramAdapter) Bot() *telego.Bot { return a.bot }

func (a *TelegramAdapter) Start(ctx context.Context) (<-chan InboundMessage, error) {
	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting telegram long polling: %w", err)
	}

	out := make(chan InboundMessage, 32)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil {
					continue
				}
				msg := a.toInbound(upd.Message)
				if !a.allowed(msg.SenderID) {
					logger.WarnCF("telegram", "dropping message from unauthorized sender", map[string]interface{}{"sender": msg.SenderID})
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (a *TelegramAdapter) allowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}
	return a.allowFrom[senderID]
}

func (a *TelegramAdapter) toInbound(m *telego.Message) InboundMessage {
	meta := map[string]string{"chat_id": strconv.FormatInt(m.Chat.ID, 10)}
	if m.MessageThreadID != 0 {
		meta["thread_id"] = strconv.Itoa(m.MessageThreadID)
	}
	sender := ""
	if m.From != nil {
		sender = strconv.FormatInt(m.From.ID, 10)
	}
	return InboundMessage{
		ID:             strconv.Itoa(m.MessageID),
		Source:         a.Name(),
		ConversationID: fmt.Sprintf("telegram:%d", m.Chat.ID),
		SenderID:       sender,
		Content:        InboundContent{Text: m.Text},
		Timestamp:      time.Unix(int64(m.Date), 0),
		Metadata:       meta,
	}
}

func (a *TelegramAdapter) Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error {
	if resp.Kind == OutboundStreamStart || resp.Kind == OutboundStreamChunk {
		return nil // buffered; only StreamEnd/Text produce a wire call
	}
	chatID, err := strconv.ParseInt(original.Metadata["chat_id"], 10, 64)
	if err != nil {
		return fmt.Errorf("telegram respond: missing chat_id metadata: %w", err)
	}
	params := tu.Message(tu.ID(chatID), resp.Text)
	if tid, ok := original.Metadata["thread_id"]; ok {
		if n, err := strconv.Atoi(tid); err == nil {
			params.MessageThreadID = n
		}
	}
	_, err = a.bot.SendMessage(ctx, params)
	return err
}

func (a *TelegramAdapter) SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error {
	if status.Kind != StatusWorkerCompleted {
		return nil // cheap notices are dropped rather than spamming the chat
	}
	return a.Respond(ctx, original, OutboundResponse{Kind: OutboundText, Text: fmt.Sprintf("worker %s finished: %s", status.Name, status.Result)})
}

func (a *TelegramAdapter) Broadcast(ctx context.Context, target string, resp OutboundResponse) error {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(target, "telegram:"), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram broadcast: invalid target %q: %w", target, err)
	}
	_, err = a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), resp.Text))
	return err
}

func (a *TelegramAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.bot.GetMe(ctx)
	return err
}

func (a *TelegramAdapter) Shutdown(ctx context.Context) error {
	a.bot.StopLongPolling()
	return nil
}
