package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pico-agents/coreagent/pkg/logger"
)

// webhookInbound is the wire shape a caller POSTs to the webhook adapter.
type webhookInbound struct {
	CallerID string `json:"caller_id"`
	Content  string `json:"content"`
}

// pendingReply lets the HTTP handler hold a request open until Respond
// delivers the reply, so a webhook caller gets its answer synchronously in
// the POST response rather than needing a callback URL.
type pendingReply struct {
	ch chan OutboundResponse
}

// WebhookAdapter is the one adapter legitimately grounded on the standard
// library: its entire contract is "receive a JSON POST, return 200" plus an
// optional synchronous reply. Conversation id is "webhook:<caller_id>".
type WebhookAdapter struct {
	addr    string
	server  *http.Server
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingReply // keyed by InboundMessage.ID
}

func NewWebhookAdapter(addr string) *WebhookAdapter {
	return &WebhookAdapter{
		addr:    addr,
		timeout: 60 * time.Second,
		pending: make(map[string]*pendingReply),
	}
}

func (a *WebhookAdapter) Name() string { return "webhook" }

func (a *WebhookAdapter) Start(ctx context.Context) (<-chan InboundMessage, error) {
	out := make(chan InboundMessage, 32)

	mux := http.NewServeMux()
	mux.HandleFunc("/inbound", func(w http.ResponseWriter, r *http.Request) {
		a.handleInbound(ctx, w, r, out)
	})
	a.server = &http.Server{Addr: a.addr, Handler: mux}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("webhook", "server stopped unexpectedly", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
		close(out)
	}()

	return out, nil
}

func (a *WebhookAdapter) handleInbound(ctx context.Context, w http.ResponseWriter, r *http.Request, out chan<- InboundMessage) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload webhookInbound
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
		return
	}
	if payload.CallerID == "" || payload.Content == "" {
		http.Error(w, "caller_id and content are required", http.StatusBadRequest)
		return
	}

	msg := InboundMessage{
		ID:             uuid.NewString(),
		Source:         a.Name(),
		ConversationID: fmt.Sprintf("webhook:%s", payload.CallerID),
		SenderID:       payload.CallerID,
		Content:        InboundContent{Text: payload.Content},
		Timestamp:      time.Now(),
	}

	wait := &pendingReply{ch: make(chan OutboundResponse, 1)}
	a.mu.Lock()
	a.pending[msg.ID] = wait
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, msg.ID)
		a.mu.Unlock()
	}()

	select {
	case out <- msg:
	case <-ctx.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case resp := <-wait.ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"reply": resp.Text})
	case <-time.After(a.timeout):
		http.Error(w, "timed out waiting for a reply", http.StatusGatewayTimeout)
	case <-ctx.Done():
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
	}
}

func (a *WebhookAdapter) Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error {
	if resp.Kind != OutboundText && resp.Kind != OutboundStreamEnd {
		return nil
	}
	a.mu.Lock()
	wait, ok := a.pending[original.ID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("webhook: no pending request for message %s (already timed out?)", original.ID)
	}
	select {
	case wait.ch <- resp:
		return nil
	default:
		return fmt.Errorf("webhook: reply already delivered for message %s", original.ID)
	}
}

func (a *WebhookAdapter) SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error {
	return nil // no channel to push an async notice down outside the held request
}

func (a *WebhookAdapter) Broadcast(ctx context.Context, target string, resp OutboundResponse) error {
	return fmt.Errorf("webhook: broadcast is not supported, this adapter only replies to inbound requests")
}

func (a *WebhookAdapter) HealthCheck(ctx context.Context) error {
	if a.server == nil {
		return fmt.Errorf("webhook server not started")
	}
	return nil
}

func (a *WebhookAdapter) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
