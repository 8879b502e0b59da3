package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// DiscordAdapter binds one bot session to the Adapter interface. Guild
// messages use conversation id "discord:<guild>:<channel>"; DMs use
// "discord:dm:<user>".
type DiscordAdapter struct {
	session   *discordgo.Session
	allowFrom map[string]bool
}

func NewDiscordAdapter(token string, allowFrom []string) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return &DiscordAdapter{session: session, allowFrom: allow}, nil
}

func (a *DiscordAdapter) Name() string { return "discord" }

func (a *DiscordAdapter) Start(ctx context.Context) (<-chan InboundMessage, error) {
	out := make(chan InboundMessage, 32)

	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if len(a.allowFrom) > 0 && !a.allowFrom[m.Author.ID] {
			logger.WarnCF("discord", "dropping message from unauthorized sender", map[string]interface{}{"sender": m.Author.ID})
			return
		}
		msg := a.toInbound(m)
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	})

	if err := a.session.Open(); err != nil {
		close(out)
		return nil, fmt.Errorf("opening discord session: %w", err)
	}

	go func() {
		<-ctx.Done()
		a.session.Close()
		close(out)
	}()

	return out, nil
}

func (a *DiscordAdapter) toInbound(m *discordgo.MessageCreate) InboundMessage {
	convID := fmt.Sprintf("discord:%s:%s", m.GuildID, m.ChannelID)
	if m.GuildID == "" {
		convID = fmt.Sprintf("discord:dm:%s", m.Author.ID)
	}
	var attachments []Attachment
	for _, att := range m.Attachments {
		attachments = append(attachments, Attachment{
			Filename: att.Filename, MimeType: att.ContentType, URL: att.URL, SizeBytes: int64(att.Size),
		})
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return InboundMessage{
		ID:             m.ID,
		Source:         a.Name(),
		ConversationID: convID,
		SenderID:       m.Author.ID,
		Content:        InboundContent{Text: m.Content, Attachments: attachments},
		Timestamp:      ts,
		Metadata:       map[string]string{"channel_id": m.ChannelID},
	}
}

func (a *DiscordAdapter) Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error {
	if resp.Kind == OutboundStreamStart || resp.Kind == OutboundStreamChunk {
		return nil
	}
	_, err := a.session.ChannelMessageSend(original.Metadata["channel_id"], resp.Text)
	return err
}

func (a *DiscordAdapter) SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error {
	if status.Kind != StatusWorkerCompleted {
		return nil
	}
	return a.Respond(ctx, original, OutboundResponse{Kind: OutboundText, Text: fmt.Sprintf("worker %s finished: %s", status.Name, status.Result)})
}

func (a *DiscordAdapter) Broadcast(ctx context.Context, target string, resp OutboundResponse) error {
	_, err := a.session.ChannelMessageSend(target, resp.Text)
	return err
}

func (a *DiscordAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.session.User("@me")
	return err
}

func (a *DiscordAdapter) Shutdown(ctx context.Context) error {
	return a.session.Close()
}
