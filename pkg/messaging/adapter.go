// Package messaging defines the transport-agnostic boundary between the
// process tree and the outside world: one Adapter per platform, each
// turning inbound traffic into InboundMessage values on a channel and
// turning a Channel's tool calls (reply, react, set_status) into whatever
// wire calls that platform needs.
package messaging

import (
	"context"
	"time"
)

// Attachment is one piece of inbound media.
type Attachment struct {
	Filename string
	MimeType string
	URL      string
	SizeBytes int64
}

// InboundContent is either plain text or text-plus-attachments.
type InboundContent struct {
	Text        string
	Attachments []Attachment
}

// InboundMessage is one normalized message arriving from any adapter.
type InboundMessage struct {
	ID             string
	Source         string // adapter name, becomes InboundMessage.source
	ConversationID string
	SenderID       string
	Content        InboundContent
	Timestamp      time.Time
	Metadata       map[string]string // adapter-specific, opaque to the core
}

// OutboundKind discriminates OutboundResponse's payload.
type OutboundKind string

const (
	OutboundText        OutboundKind = "text"
	OutboundStreamStart  OutboundKind = "stream_start"
	OutboundStreamChunk  OutboundKind = "stream_chunk"
	OutboundStreamEnd    OutboundKind = "stream_end"
)

// OutboundResponse is one fragment of a Channel's reply. Adapters without
// native streaming buffer StreamChunk payloads and emit them as one Text
// message on StreamEnd.
type OutboundResponse struct {
	Kind OutboundKind
	Text string
}

// StatusKind discriminates StatusUpdate's payload.
type StatusKind string

const (
	StatusThinking        StatusKind = "thinking"
	StatusToolStarted     StatusKind = "tool_started"
	StatusToolCompleted   StatusKind = "tool_completed"
	StatusBranchStarted   StatusKind = "branch_started"
	StatusWorkerStarted   StatusKind = "worker_started"
	StatusWorkerCompleted StatusKind = "worker_completed"
)

// StatusUpdate is a lightweight, often-ignorable progress notice. The
// default adapter behavior for SendStatus is a no-op.
type StatusUpdate struct {
	Kind   StatusKind
	Name   string // tool or task name, when applicable
	Result string // worker result summary, when Kind is StatusWorkerCompleted
}

// Adapter is one platform's transport binding. Implementations must be safe
// for concurrent use: Start runs in its own goroutine for the adapter's
// lifetime, while Respond/SendStatus/Broadcast/HealthCheck may be called
// concurrently from any Channel the adapter feeds.
type Adapter interface {
	// Name is this adapter's stable id, used as InboundMessage.Source.
	Name() string

	// Start connects to the platform and streams InboundMessage values on
	// the returned channel until ctx is cancelled or Shutdown is called.
	Start(ctx context.Context) (<-chan InboundMessage, error)

	// Respond delivers a reply fragment addressed to the conversation the
	// original message arrived on.
	Respond(ctx context.Context, original InboundMessage, resp OutboundResponse) error

	// SendStatus delivers a lightweight progress notice. Adapters that
	// can't represent this cheaply may no-op.
	SendStatus(ctx context.Context, original InboundMessage, status StatusUpdate) error

	// Broadcast sends a proactive message not in response to any inbound
	// message; target's format is adapter-defined (e.g. a chat id).
	Broadcast(ctx context.Context, target string, resp OutboundResponse) error

	// HealthCheck reports whether the adapter's connection is usable.
	HealthCheck(ctx context.Context) error

	// Shutdown drains in-flight work and closes the adapter's connection.
	Shutdown(ctx context.Context) error
}
