package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProvider replies with a fixed response or fails with a fixed error,
// and counts how many times it was called.
type fakeProvider struct {
	name     string
	fail     error
	calls    int
	response *LLMResponse
}

func (f *fakeProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	resp := f.response
	if resp == nil {
		resp = &LLMResponse{Content: "ok from " + f.name, Model: model}
	}
	return resp, nil
}

func (f *fakeProvider) GetDefaultModel() string { return "" }

func newTestRouter(t *testing.T, primary, secondary *fakeProvider) *RouterProvider {
	t.Helper()
	r, err := NewRouterProvider(RouterOptions{
		Providers: map[string]LLMProvider{
			"primary":   primary,
			"secondary": secondary,
		},
		FallbackChain:       []string{"primary/model-a", "secondary/model-b"},
		MaxFallbackAttempts: 3,
		RateLimitCooldown:   50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewRouterProvider: %v", err)
	}
	return r
}

func TestRouterUsesPrimaryOnSuccess(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	secondary := &fakeProvider{name: "secondary"}
	r := newTestRouter(t, primary, secondary)

	resp, err := r.Chat(context.Background(), nil, nil, "model-a", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok from primary" {
		t.Errorf("Content = %q, want response from primary", resp.Content)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary.calls = %d, want 0", secondary.calls)
	}
}

func TestRouterFallsBackOnRetriableError(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: errors.New("429 rate limit exceeded")}
	secondary := &fakeProvider{name: "secondary"}
	r := newTestRouter(t, primary, secondary)

	resp, err := r.Chat(context.Background(), nil, nil, "model-a", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "ok from secondary" {
		t.Errorf("Content = %q, want response from secondary after fallback", resp.Content)
	}
	if primary.calls != 1 {
		t.Errorf("primary.calls = %d, want 1", primary.calls)
	}
}

func TestRouterDoesNotFallBackOnNonRetriableError(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: errors.New("401 unauthorized: invalid api key")}
	secondary := &fakeProvider{name: "secondary"}
	r := newTestRouter(t, primary, secondary)

	_, err := r.Chat(context.Background(), nil, nil, "model-a", nil)
	if err == nil {
		t.Fatal("expected an error for a non-retriable failure")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary.calls = %d, want 0 (should not fall back on auth errors)", secondary.calls)
	}
}

func TestRouterCooldownSkipsFailedModelUntilItExpires(t *testing.T) {
	primary := &fakeProvider{name: "primary", fail: errors.New("503 service unavailable")}
	secondary := &fakeProvider{name: "secondary"}
	r := newTestRouter(t, primary, secondary)

	// First call trips the cooldown on primary and falls through to secondary.
	if _, err := r.Chat(context.Background(), nil, nil, "model-a", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	// While primary is cooling down, Resolve should skip straight past it.
	entry := r.Resolve("", "")
	if entry.ProviderName != "secondary" {
		t.Errorf("Resolve() during cooldown = %q, want secondary", entry.ProviderName)
	}

	time.Sleep(60 * time.Millisecond)
	entry = r.Resolve("", "")
	if entry.ProviderName != "primary" {
		t.Errorf("Resolve() after cooldown expiry = %q, want primary", entry.ProviderName)
	}
}

func TestClassifyComplexityTiers(t *testing.T) {
	cases := []struct {
		msg  string
		want ComplexityTier
	}{
		{"hi", TierLight},
		{"thanks!", TierLight},
		{"What's the weather like", TierStandard},
		{
			"Please explain the trade-offs between these two caching architectures, " +
				"first describe the write-through approach, then compare it against " +
				"write-behind, and analyze why one design must not violate the " +
				"consistency constraint we discussed earlier in great detail please",
			TierHeavy,
		},
	}
	for _, c := range cases {
		if got := ClassifyComplexity(c.msg); got != c.want {
			t.Errorf("ClassifyComplexity(%q) = %q, want %q", c.msg, got, c.want)
		}
	}
}
