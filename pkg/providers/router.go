package providers

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pico-agents/coreagent/pkg/config"
	"github.com/pico-agents/coreagent/pkg/errs"
	"github.com/pico-agents/coreagent/pkg/logger"
)

// ComplexityTier is one tier of the optional prompt-complexity classifier.
type ComplexityTier string

const (
	TierLight    ComplexityTier = "light"
	TierStandard ComplexityTier = "standard"
	TierHeavy    ComplexityTier = "heavy"
)

// chainEntry is one "provider/model" link in the resolved fallback chain.
type chainEntry struct {
	ProviderName string
	Model        string
}

// RouterProvider resolves a process-type/task-type/user-message request to a
// concrete model and provider, retrying down an ordered fallback chain when
// the primary is cooling down or fails with a retriable reason.
//
// Resolution precedence: explicit task-type override > complexity classifier
// (if enabled) > process-type default > fallback-chain substitution when the
// chosen model is cooling down.
type RouterProvider struct {
	providers map[string]LLMProvider // keyed by provider name ("anthropic", "openai", ...)
	chain     []chainEntry           // ordered fallback chain, chain[0] is the configured primary

	taskOverrides map[string]chainEntry // task_type -> explicit model override

	complexityEnabled bool
	lightModel         chainEntry
	standardModel      chainEntry
	heavyModel         chainEntry

	maxFallbackAttempts int
	cooldown            time.Duration

	mu        sync.Mutex
	cooldowns map[string]time.Time // model_id -> deadline
}

// RouterOptions configures a RouterProvider. Providers maps a provider name
// to its LLMProvider implementation; FallbackChain is an ordered list of
// "provider/model" strings — chain[0] is the primary.
type RouterOptions struct {
	Providers           map[string]LLMProvider
	FallbackChain       []string
	TaskOverrides       map[string]string // task_type -> "provider/model"
	ComplexityEnabled   bool
	LightModel          string
	StandardModel       string
	HeavyModel          string
	MaxFallbackAttempts int
	RateLimitCooldown   time.Duration
}

func NewRouterProvider(opts RouterOptions) (*RouterProvider, error) {
	if len(opts.FallbackChain) == 0 {
		return nil, fmt.Errorf("router: fallback chain must have at least one entry")
	}

	chain := make([]chainEntry, 0, len(opts.FallbackChain))
	for _, spec := range opts.FallbackChain {
		e, err := parseChainEntry(spec)
		if err != nil {
			return nil, err
		}
		chain = append(chain, e)
	}

	taskOverrides := make(map[string]chainEntry, len(opts.TaskOverrides))
	for taskType, spec := range opts.TaskOverrides {
		e, err := parseChainEntry(spec)
		if err != nil {
			return nil, fmt.Errorf("router: task override %q: %w", taskType, err)
		}
		taskOverrides[taskType] = e
	}

	maxAttempts := opts.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cooldown := opts.RateLimitCooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}

	r := &RouterProvider{
		providers:           opts.Providers,
		chain:               chain,
		taskOverrides:       taskOverrides,
		complexityEnabled:   opts.ComplexityEnabled,
		maxFallbackAttempts: maxAttempts,
		cooldown:            cooldown,
		cooldowns:           make(map[string]time.Time),
	}
	if opts.LightModel != "" {
		if e, err := parseChainEntry(opts.LightModel); err == nil {
			r.lightModel = e
		}
	}
	if opts.StandardModel != "" {
		if e, err := parseChainEntry(opts.StandardModel); err == nil {
			r.standardModel = e
		}
	}
	if opts.HeavyModel != "" {
		if e, err := parseChainEntry(opts.HeavyModel); err == nil {
			r.heavyModel = e
		}
	}
	return r, nil
}

// NewRouterProviderFromConfig builds a RouterProvider from a loaded Config
// and a set of already-constructed provider backends keyed by provider name.
func NewRouterProviderFromConfig(cfg config.RouterConfig, providers map[string]LLMProvider) (*RouterProvider, error) {
	return NewRouterProvider(RouterOptions{
		Providers:           providers,
		FallbackChain:       cfg.FallbackChain,
		ComplexityEnabled:   cfg.ComplexityRouting,
		LightModel:          cfg.LightModel,
		StandardModel:       cfg.StandardModel,
		HeavyModel:          cfg.HeavyModel,
		MaxFallbackAttempts: cfg.MaxFallbackAttempts,
		RateLimitCooldown:   time.Duration(cfg.RateLimitCooldownSecs) * time.Second,
	})
}

func parseChainEntry(spec string) (chainEntry, error) {
	parts := strings.SplitN(spec, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return chainEntry{}, fmt.Errorf("router: invalid chain entry %q, want \"provider/model\"", spec)
	}
	return chainEntry{ProviderName: parts[0], Model: parts[1]}, nil
}

// GetDefaultModel returns the primary chain entry's model id.
func (r *RouterProvider) GetDefaultModel() string {
	if len(r.chain) == 0 {
		return ""
	}
	return r.chain[0].Model
}

// Resolve applies the resolution precedence and returns the chain entry that
// should serve this request, skipping any model presently cooling down.
func (r *RouterProvider) Resolve(taskType string, userMessage string) chainEntry {
	if e, ok := r.taskOverrides[taskType]; ok {
		return r.firstAvailable(e)
	}
	if r.complexityEnabled && userMessage != "" {
		switch ClassifyComplexity(userMessage) {
		case TierLight:
			if r.lightModel.Model != "" {
				return r.firstAvailable(r.lightModel)
			}
		case TierHeavy:
			if r.heavyModel.Model != "" {
				return r.firstAvailable(r.heavyModel)
			}
		default:
			if r.standardModel.Model != "" {
				return r.firstAvailable(r.standardModel)
			}
		}
	}
	return r.firstAvailable(r.chain[0])
}

// firstAvailable returns preferred if it isn't cooling down, else the first
// non-cooling-down entry in the configured chain.
func (r *RouterProvider) firstAvailable(preferred chainEntry) chainEntry {
	if !r.isCoolingDown(preferred.Model) {
		return preferred
	}
	for _, e := range r.chain {
		if !r.isCoolingDown(e.Model) {
			return e
		}
	}
	return preferred
}

func (r *RouterProvider) isCoolingDown(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadline, ok := r.cooldowns[modelID]
	if !ok {
		return false
	}
	return time.Now().Before(deadline)
}

func (r *RouterProvider) markCoolingDown(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldowns[modelID] = time.Now().Add(r.cooldown)
}

// Chat resolves a model via the standard process-type default (no task
// override, no complexity classification) and calls it, iterating the
// fallback chain on retriable failures up to MaxFallbackAttempts.
func (r *RouterProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	return r.call(ctx, messages, tools, model, options, nil)
}

// ChatStream is the streaming counterpart of Chat; it falls back to a
// non-streaming Chat call on any chain member that doesn't implement
// StreamingProvider.
func (r *RouterProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	return r.call(ctx, messages, tools, model, options, onContent)
}

// CallTask resolves via task_type/user_message precedence and calls the
// result, iterating fallback on retriable failure.
func (r *RouterProvider) CallTask(ctx context.Context, messages []Message, tools []ToolDefinition, taskType, userMessage string, options map[string]interface{}) (*LLMResponse, error) {
	entry := r.Resolve(taskType, userMessage)
	return r.call(ctx, messages, tools, entry.Model, options, nil)
}

func (r *RouterProvider) call(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	entry := r.entryForModel(model)

	attempted := map[string]bool{}
	var lastErr error

	for attempt := 0; attempt <= r.maxFallbackAttempts; attempt++ {
		if attempted[entry.Model] {
			entry = r.nextInChain(attempted)
			if entry.Model == "" {
				break
			}
		}
		attempted[entry.Model] = true

		provider, ok := r.providers[entry.ProviderName]
		if !ok {
			lastErr = fmt.Errorf("router: no provider registered for %q", entry.ProviderName)
			break
		}

		resp, err := r.invoke(ctx, provider, messages, tools, entry.Model, options, onContent)
		if err == nil {
			return resp, nil
		}

		reason := classifyError(err)
		lastErr = &errs.LlmError{Reason: reason, Model: entry.Model, Err: err}

		if !reason.Retriable() {
			return nil, lastErr
		}

		logger.WarnCF("router", fmt.Sprintf("model %s failed (%s), trying next in chain", entry.Model, reason), nil)
		r.markCoolingDown(entry.Model)

		entry = r.nextInChain(attempted)
		if entry.Model == "" {
			break
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("router: no providers configured")
	}
	return nil, lastErr
}

func (r *RouterProvider) entryForModel(model string) chainEntry {
	for _, e := range r.chain {
		if e.Model == model {
			return e
		}
	}
	if len(r.chain) > 0 {
		return chainEntry{ProviderName: r.chain[0].ProviderName, Model: model}
	}
	return chainEntry{Model: model}
}

func (r *RouterProvider) nextInChain(attempted map[string]bool) chainEntry {
	for _, e := range r.chain {
		if !attempted[e.Model] && !r.isCoolingDown(e.Model) {
			return e
		}
	}
	return chainEntry{}
}

func (r *RouterProvider) invoke(ctx context.Context, provider LLMProvider, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	if onContent != nil {
		if sp, ok := provider.(StreamingProvider); ok {
			return sp.ChatStream(ctx, messages, tools, model, options, onContent)
		}
	}
	return provider.Chat(ctx, messages, tools, model, options)
}

// classifyError maps a provider error to a retriable reason. Providers in
// this codebase surface plain errors (no typed API error wrapping), so this
// relies on substring matching against the error text — the same approach
// the teacher's retry layer uses for HTTP client errors.
func classifyError(err error) errs.LlmReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return errs.RateLimited
	case strings.Contains(msg, "context length") || strings.Contains(msg, "context_length") || strings.Contains(msg, "maximum context"):
		return errs.ContextLengthExceeded
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "invalid api key"):
		return errs.AuthError
	case strings.Contains(msg, "400") || strings.Contains(msg, "bad request") || strings.Contains(msg, "invalid request"):
		return errs.BadRequest
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errs.Timeout
	case strings.Contains(msg, "503") || strings.Contains(msg, "502") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return errs.ProviderDown
	default:
		return errs.OtherLlmReason
	}
}

var (
	codeMarkerRe      = regexp.MustCompile("```|\\bfunc\\b|\\bclass\\b|\\bimport\\b|;\\s*$|\\{\\s*$")
	reasoningMarkerRe = regexp.MustCompile(`(?i)\b(why|explain|analyze|compare|trade-?off|design|architecture|prove)\b`)
	simpleMarkerRe    = regexp.MustCompile(`(?i)^(hi|hello|hey|thanks|thank you|ok|okay|yes|no)\b`)
	multiStepRe       = regexp.MustCompile(`(?i)\b(first|then|finally|step \d|\d\.\s)\b`)
	constraintRe      = regexp.MustCompile(`(?i)\b(must|should not|cannot|constraint|requirement|only if)\b`)
)

// ClassifyComplexity scores a user message on a small set of weighted
// keyword/pattern dimensions and buckets it into one of three tiers.
// Disabled by default; callers opt in via RouterOptions.ComplexityEnabled.
func ClassifyComplexity(userMessage string) ComplexityTier {
	trimmed := strings.TrimSpace(userMessage)
	if trimmed == "" {
		return TierStandard
	}

	if simpleMarkerRe.MatchString(trimmed) && len(trimmed) < 40 {
		return TierLight
	}

	score := 0.0
	wordCount := len(strings.Fields(trimmed))

	switch {
	case wordCount < 8:
		score -= 1
	case wordCount > 80:
		score += 2
	case wordCount > 30:
		score += 1
	}

	if codeMarkerRe.MatchString(trimmed) {
		score += 2
	}
	if reasoningMarkerRe.MatchString(trimmed) {
		score += 1.5
	}
	if multiStepRe.MatchString(trimmed) {
		score += 1
	}
	if constraintRe.MatchString(trimmed) {
		score += 1
	}

	switch {
	case score <= -0.5:
		return TierLight
	case score >= 3:
		return TierHeavy
	default:
		return TierStandard
	}
}
