// Package errs defines the domain error taxonomy: each kind carries a reason
// subtype and, for agent-run outcomes that are not failures, a partial
// result the caller can still act on.
package errs

import "fmt"

// LlmReason enumerates the retriable/non-retriable LLM failure subtypes.
type LlmReason string

const (
	RateLimited            LlmReason = "rate_limited"
	ProviderDown           LlmReason = "provider_down"
	Timeout                LlmReason = "timeout"
	BadRequest             LlmReason = "bad_request"
	ContextLengthExceeded  LlmReason = "context_length_exceeded"
	AuthError              LlmReason = "auth_error"
	OtherLlmReason         LlmReason = "other"
)

// Retriable reports whether the router should attempt a fallback for this
// reason. bad_request, context_length_exceeded, and auth_error are never
// retried against the same or a different model with the same request.
func (r LlmReason) Retriable() bool {
	switch r {
	case RateLimited, ProviderDown, Timeout:
		return true
	default:
		return false
	}
}

type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

type DbError struct {
	Msg string
	Err error
}

func (e *DbError) Error() string { return fmt.Sprintf("db error: %s: %v", e.Msg, e.Err) }
func (e *DbError) Unwrap() error { return e.Err }

// LlmError wraps a provider failure with its retriable classification.
type LlmError struct {
	Reason LlmReason
	Model  string
	Err    error
}

func (e *LlmError) Error() string {
	return fmt.Sprintf("llm error (%s) on model %s: %v", e.Reason, e.Model, e.Err)
}
func (e *LlmError) Unwrap() error { return e.Err }

type MemoryError struct {
	Msg string
	Err error
}

func (e *MemoryError) Error() string { return fmt.Sprintf("memory error: %s: %v", e.Msg, e.Err) }
func (e *MemoryError) Unwrap() error { return e.Err }

// AgentRunOutcome classifies a non-error terminal state of an agent loop.
type AgentRunOutcome string

const (
	OutcomeMaxTurns   AgentRunOutcome = "max_turns_reached"
	OutcomeCancelled  AgentRunOutcome = "cancelled"
	OutcomeTimeout    AgentRunOutcome = "timeout"
	OutcomeToolFailed AgentRunOutcome = "tool_failed"
)

// AgentError represents a completion of an agent run that is not a failure
// of the run itself — max-turns and cancellation carry a Partial payload the
// caller can still use.
type AgentError struct {
	Outcome  AgentRunOutcome
	Partial  string
	ToolName string
	Reason   string
}

func (e *AgentError) Error() string {
	switch e.Outcome {
	case OutcomeToolFailed:
		return fmt.Sprintf("tool %q failed: %s", e.ToolName, e.Reason)
	default:
		return fmt.Sprintf("agent run ended: %s", e.Outcome)
	}
}

// IsPartial reports whether this outcome carries a usable partial result
// rather than representing an unrecoverable failure.
func (e *AgentError) IsPartial() bool {
	return e.Outcome == OutcomeMaxTurns || e.Outcome == OutcomeCancelled || e.Outcome == OutcomeTimeout
}

type SecretsError struct {
	Msg string
	Err error
}

func (e *SecretsError) Error() string { return fmt.Sprintf("secrets error: %s: %v", e.Msg, e.Err) }
func (e *SecretsError) Unwrap() error { return e.Err }

type MessagingError struct {
	Adapter string
	Msg     string
	Err     error
}

func (e *MessagingError) Error() string {
	return fmt.Sprintf("messaging error (%s): %s: %v", e.Adapter, e.Msg, e.Err)
}
func (e *MessagingError) Unwrap() error { return e.Err }
