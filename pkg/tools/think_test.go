package tools

import "testing"

func TestThinkToolReturnsSilentResult(t *testing.T) {
	tool := NewThinkTool("channel")
	result := tool.Execute(nil, map[string]interface{}{"thought": "weighing two options"})

	if !result.Silent {
		t.Error("expected Silent=true so the thought isn't echoed to the user")
	}
	if result.IsError {
		t.Error("expected IsError=false for a non-empty thought")
	}
}

func TestThinkToolTruncatesLongThoughtsBeforeLogging(t *testing.T) {
	tool := NewThinkTool("worker")
	long := make([]byte, thinkLogLimit*2)
	for i := range long {
		long[i] = 'x'
	}
	result := tool.Execute(nil, map[string]interface{}{"thought": string(long)})
	if result.IsError {
		t.Fatalf("unexpected error result for a long thought: %v", result.ForLLM)
	}
}

func TestThinkToolRequiresThought(t *testing.T) {
	tool := NewThinkTool("channel")
	result := tool.Execute(nil, map[string]interface{}{})

	if !result.IsError {
		t.Error("expected IsError=true when thought is missing")
	}
}
