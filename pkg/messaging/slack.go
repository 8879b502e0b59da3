package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// SlackAdapter binds one Socket Mode connection to the Adapter interface.
// Conversation id is "slack:<channel>"; bot and subtype messages (edits,
// joins, and the bot's own echo) are dropped before they reach the channel.
type SlackAdapter struct {
	api       *slack.Client
	client    *socketmode.Client
	allowFrom map[string]bool
}

// NewSlackAdapter authenticates a bot token (xoxb-...) plus an app-level
// token (xapp-...) for Socket Mode, which needs no public HTTP endpoint.
func NewSlackAdapter(botToken, appToken string, allowFrom []string) (*SlackAdapter, error) {
	if botToken == "" || appToken == "" {
		return nil, fmt.Errorf("slack adapter requires both a bot token and an app-level token")
	}
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	client := socketmode.New(api)

	allow := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		allow[id] = true
	}
	return &SlackAdapter{api: api, client: client, allowFrom: allow}, nil
}

func (a *SlackAdapter) Name() string { return "slack" }

func (a *SlackAdapter) Start(ctx context.Context) (<-chan InboundMessage, error) {
	out := make(chan InboundMessage, 32)

	go func() {
		for evt := range a.client.Events {
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			a.client.Ack(*evt.Request)

			inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok || inner.SubType != "" || inner.BotID != "" {
				continue // ignore edits, joins, and the bot's own messages
			}
			if !a.allowed(inner.User) {
				logger.WarnCF("slack", "dropping message from unauthorized sender", map[string]interface{}{"sender": inner.User})
				continue
			}
			msg := a.toInbound(inner)
			select {
			case out <- msg:
			case <-ctx.Done():
			}
		}
	}()

	go func() {
		<-ctx.Done()
		close(out)
	}()

	go func() {
		if err := a.client.RunContext(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorCF("slack", "socket mode run exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	return out, nil
}

func (a *SlackAdapter) allowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}
	return a.allowFrom[senderID]
}

func (a *SlackAdapter) toInbound(m *slackevents.MessageEvent) InboundMessage {
	ts := time.Now()
	if m.TimeStamp != "" {
		if sec, _, err := parseSlackTimestamp(m.TimeStamp); err == nil {
			ts = time.Unix(sec, 0)
		}
	}
	meta := map[string]string{"channel": m.Channel}
	if m.ThreadTimeStamp != "" {
		meta["thread_ts"] = m.ThreadTimeStamp
	}
	return InboundMessage{
		ID:             m.TimeStamp,
		Source:         a.Name(),
		ConversationID: fmt.Sprintf("slack:%s", m.Channel),
		SenderID:       m.User,
		Content:        InboundContent{Text: m.Text},
		Timestamp:      ts,
		Metadata:       meta,
	}
}

func (a *SlackAdapter) Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error {
	if resp.Kind == OutboundStreamStart || resp.Kind == OutboundStreamChunk {
		return nil
	}
	opts := []slack.MsgOption{slack.MsgOptionText(resp.Text, false)}
	if ts := original.Metadata["thread_ts"]; ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	_, _, err := a.api.PostMessageContext(ctx, original.Metadata["channel"], opts...)
	return err
}

func (a *SlackAdapter) SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error {
	if status.Kind != StatusWorkerCompleted {
		return nil
	}
	return a.Respond(ctx, original, OutboundResponse{Kind: OutboundText, Text: fmt.Sprintf("worker %s finished: %s", status.Name, status.Result)})
}

func (a *SlackAdapter) Broadcast(ctx context.Context, target string, resp OutboundResponse) error {
	_, _, err := a.api.PostMessageContext(ctx, target, slack.MsgOptionText(resp.Text, false))
	return err
}

func (a *SlackAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.api.AuthTestContext(ctx)
	return err
}

func (a *SlackAdapter) Shutdown(ctx context.Context) error {
	return nil // Socket Mode's run loop exits on ctx cancellation
}

// parseSlackTimestamp splits a Slack "sec.micro" message timestamp into its
// integer seconds component.
func parseSlackTimestamp(ts string) (sec int64, micro int64, err error) {
	var dot int
	for dot = 0; dot < len(ts); dot++ {
		if ts[dot] == '.' {
			break
		}
	}
	_, err = fmt.Sscanf(ts[:dot], "%d", &sec)
	return sec, 0, err
}
