package tools

import (
	"testing"

	"github.com/pico-agents/coreagent/pkg/state"
)

func TestManageTelegramToolRequiresBot(t *testing.T) {
	tool := NewManageTelegramTool(nil, nil)
	tool.SetContext("telegram", "555")

	result := tool.Execute(nil, map[string]interface{}{"action": "get_chat_info"})
	if !result.IsError {
		t.Error("expected IsError=true with no bot wired")
	}
}

func TestManageTelegramToolRequiresAction(t *testing.T) {
	tool := NewManageTelegramTool(nil, nil)
	result := tool.Execute(nil, map[string]interface{}{})
	if !result.IsError {
		t.Error("expected IsError=true when action is missing")
	}
}

func TestManageTelegramToolRejectsUnknownChatContext(t *testing.T) {
	topics := state.NewTopicMappingStore(t.TempDir())
	tool := NewManageTelegramTool(nil, topics)
	tool.SetContext("telegram", "not-a-chat-id")

	result := tool.Execute(nil, map[string]interface{}{"action": "get_chat_info"})
	if !result.IsError {
		t.Error("expected IsError=true with no bot wired, even before chat id parsing matters")
	}
}
