package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookHandleInboundRoundTrip(t *testing.T) {
	a := NewWebhookAdapter(":0")
	out := make(chan InboundMessage, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		msg := <-out
		if err := a.Respond(ctx, msg, OutboundResponse{Kind: OutboundText, Text: "got it"}); err != nil {
			t.Errorf("Respond: %v", err)
		}
	}()

	body, _ := json.Marshal(webhookInbound{CallerID: "alice", Content: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleInbound(ctx, w, req, out)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["reply"] != "got it" {
		t.Errorf("reply = %q, want %q", resp["reply"], "got it")
	}
}

func TestWebhookHandleInboundRejectsMissingFields(t *testing.T) {
	a := NewWebhookAdapter(":0")
	out := make(chan InboundMessage, 1)

	body, _ := json.Marshal(webhookInbound{CallerID: "", Content: "hello"})
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleInbound(context.Background(), w, req, out)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookHandleInboundRejectsNonPost(t *testing.T) {
	a := NewWebhookAdapter(":0")
	out := make(chan InboundMessage, 1)

	req := httptest.NewRequest(http.MethodGet, "/inbound", nil)
	w := httptest.NewRecorder()

	a.handleInbound(context.Background(), w, req, out)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebhookHandleInboundTimesOutWithoutAReply(t *testing.T) {
	a := NewWebhookAdapter(":0")
	a.timeout = 20 * time.Millisecond
	out := make(chan InboundMessage, 1)

	go func() { <-out }() // drain so handleInbound doesn't block on the send

	body, _ := json.Marshal(webhookInbound{CallerID: "bob", Content: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewReader(body))
	w := httptest.NewRecorder()

	a.handleInbound(context.Background(), w, req, out)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestWebhookConversationIDFormat(t *testing.T) {
	a := NewWebhookAdapter(":0")
	out := make(chan InboundMessage, 1)

	body, _ := json.Marshal(webhookInbound{CallerID: "carol", Content: "hey"})
	req := httptest.NewRequest(http.MethodPost, "/inbound", bytes.NewReader(body))
	w := httptest.NewRecorder()

	go func() {
		msg := <-out
		if msg.ConversationID != "webhook:carol" {
			t.Errorf("ConversationID = %q, want %q", msg.ConversationID, "webhook:carol")
		}
		a.Respond(context.Background(), msg, OutboundResponse{Kind: OutboundText, Text: "ok"})
	}()

	a.handleInbound(context.Background(), w, req, out)
}
