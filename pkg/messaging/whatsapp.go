package messaging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// waLogAdapter routes whatsmeow's own logging through this runtime's
// structured logger instead of the standard log package.
type waLogAdapter struct{}

func (l waLogAdapter) Errorf(msg string, args ...interface{}) {
	logger.ErrorCF("whatsapp", fmt.Sprintf(msg, args...), nil)
}
func (l waLogAdapter) Warnf(msg string, args ...interface{}) {
	logger.WarnCF("whatsapp", fmt.Sprintf(msg, args...), nil)
}
func (l waLogAdapter) Infof(msg string, args ...interface{}) {
	logger.InfoCF("whatsapp", fmt.Sprintf(msg, args...), nil)
}
func (l waLogAdapter) Debugf(msg string, args ...interface{}) {}
func (l waLogAdapter) Sub(module string) waLog.Logger         { return l }

// WhatsAppAdapter binds one linked device to the Adapter interface.
// Conversation id is "whatsapp:<jid>"; group messages are ignored, matching
// the teacher's direct-message-only scope.
type WhatsAppAdapter struct {
	client    *whatsmeow.Client
	allowFrom map[string]bool
}

// NewWhatsAppAdapter opens the device store at dbPath. The device must
// already be linked (via a separate onboarding/QR flow); an unlinked store
// is a configuration error here, not something this adapter can resolve.
func NewWhatsAppAdapter(ctx context.Context, dbPath string, allowFrom []string) (*WhatsAppAdapter, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("whatsapp database path not provided")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating whatsapp db directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+dbPath+"?_foreign_keys=on", waLogAdapter{})
	if err != nil {
		return nil, fmt.Errorf("connecting whatsapp database: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLogAdapter{})
	if client.Store.ID == nil {
		return nil, fmt.Errorf("whatsapp device not linked; run the onboarding flow first")
	}

	allow := make(map[string]bool, len(allowFrom))
	for _, num := range allowFrom {
		allow[num] = true
	}
	return &WhatsAppAdapter{client: client, allowFrom: allow}, nil
}

func (a *WhatsAppAdapter) Name() string { return "whatsapp" }

func (a *WhatsAppAdapter) Start(ctx context.Context) (<-chan InboundMessage, error) {
	out := make(chan InboundMessage, 32)

	a.client.AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Connected:
			if err := a.client.SendPresence(ctx, types.PresenceAvailable); err != nil {
				logger.WarnCF("whatsapp", "sending presence failed", map[string]interface{}{"error": err.Error()})
			}
		case *events.Message:
			msg, ok := a.toInbound(v)
			if !ok {
				return
			}
			if !a.allowed(msg.SenderID) {
				logger.WarnCF("whatsapp", "dropping message from unauthorized sender", map[string]interface{}{"sender": msg.SenderID})
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
			}
		}
	})

	if err := a.client.Connect(); err != nil {
		close(out)
		return nil, fmt.Errorf("connecting to whatsapp: %w", err)
	}

	go func() {
		<-ctx.Done()
		a.client.Disconnect()
		close(out)
	}()

	return out, nil
}

func (a *WhatsAppAdapter) allowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}
	return a.allowFrom[senderID]
}

func (a *WhatsAppAdapter) toInbound(evt *events.Message) (InboundMessage, bool) {
	if evt.Info.IsFromMe || evt.Info.IsGroup {
		return InboundMessage{}, false
	}

	content := ""
	switch {
	case evt.Message.Conversation != nil:
		content = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		content = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.ImageMessage != nil && evt.Message.ImageMessage.Caption != nil:
		content = *evt.Message.ImageMessage.Caption
	}
	if content == "" {
		return InboundMessage{}, false
	}

	chatJID := evt.Info.Chat
	return InboundMessage{
		ID:             evt.Info.ID,
		Source:         a.Name(),
		ConversationID: fmt.Sprintf("whatsapp:%s", chatJID.String()),
		SenderID:       evt.Info.Sender.User,
		Content:        InboundContent{Text: content},
		Timestamp:      evt.Info.Timestamp,
		Metadata:       map[string]string{"jid": chatJID.String()},
	}, true
}

func (a *WhatsAppAdapter) Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error {
	if resp.Kind == OutboundStreamStart || resp.Kind == OutboundStreamChunk {
		return nil
	}
	return a.sendText(ctx, original.Metadata["jid"], resp.Text)
}

func (a *WhatsAppAdapter) SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error {
	if status.Kind != StatusWorkerCompleted {
		return nil
	}
	return a.sendText(ctx, original.Metadata["jid"], fmt.Sprintf("worker %s finished: %s", status.Name, status.Result))
}

func (a *WhatsAppAdapter) Broadcast(ctx context.Context, target string, resp OutboundResponse) error {
	jid := target
	if len(jid) > 9 && jid[:9] == "whatsapp:" {
		jid = jid[9:]
	}
	return a.sendText(ctx, jid, resp.Text)
}

func (a *WhatsAppAdapter) sendText(ctx context.Context, jidStr, text string) error {
	jid, err := types.ParseJID(jidStr)
	if err != nil {
		return fmt.Errorf("parsing whatsapp jid %q: %w", jidStr, err)
	}
	_, err = a.client.SendMessage(ctx, jid, &waProto.Message{Conversation: &text})
	return err
}

func (a *WhatsAppAdapter) HealthCheck(ctx context.Context) error {
	if !a.client.IsConnected() {
		return fmt.Errorf("whatsapp client not connected")
	}
	return nil
}

func (a *WhatsAppAdapter) Shutdown(ctx context.Context) error {
	a.client.Disconnect()
	return nil
}
