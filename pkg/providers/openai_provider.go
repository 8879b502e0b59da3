package providers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider talks to the OpenAI Chat Completions API, or any
// OpenAI-compatible endpoint (OpenRouter, local inference servers) when
// constructed with a base URL override.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIProvider(apiKey, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		defaultModel: defaultModel,
	}
}

// NewOpenAICompatProvider points the same client at a non-OpenAI base URL —
// the shape every OpenAI-compatible backend in the ecosystem shares.
func NewOpenAICompatProvider(apiKey, apiBase, defaultModel string) *OpenAIProvider {
	return &OpenAIProvider{
		client:       openai.NewClient(option.WithAPIKey(apiKey), option.WithBaseURL(apiBase)),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIProvider) GetDefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) (*LLMResponse, error) {
	params := buildOpenAIParams(messages, tools, model, options)

	comp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai call: %w", err)
	}
	if len(comp.Choices) == 0 {
		return nil, fmt.Errorf("openai response had no choices")
	}
	return parseOpenAIResponse(comp), nil
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolDefinition, model string, options map[string]interface{}, onContent StreamCallback) (*LLMResponse, error) {
	params := buildOpenAIParams(messages, tools, model, options)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" && onContent != nil {
				onContent(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("openai stream produced no choices")
	}

	resp := parseOpenAIResponse(&acc.ChatCompletion)
	return resp, nil
}

func buildOpenAIParams(messages []Message, tools []ToolDefinition, model string, options map[string]interface{}) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "user":
			msgs = append(msgs, openai.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) > 0 {
				asst := openai.ChatCompletionAssistantMessageParam{}
				if m.Content != "" {
					asst.Content.OfString = openai.String(m.Content)
				}
				for _, tc := range m.ToolCalls {
					args := ""
					if tc.Function != nil && tc.Function.Arguments != "" {
						args = tc.Function.Arguments
					} else if tc.Arguments != nil {
						b, _ := json.Marshal(tc.Arguments)
						args = string(b)
					}
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: tc.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      tc.Name,
								Arguments: args,
							},
						},
					})
				}
				msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			} else {
				msgs = append(msgs, openai.AssistantMessage(m.Content))
			}
		case "tool":
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(model),
	}

	if mt, ok := options["max_tokens"].(int); ok {
		params.MaxTokens = openai.Int(int64(mt))
	}
	if temp, ok := options["temperature"].(float64); ok {
		params.Temperature = openai.Float(temp)
	}

	for _, t := range tools {
		params.Tools = append(params.Tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  openai.FunctionParameters(t.Function.Parameters),
		}))
	}

	return params
}

func parseOpenAIResponse(comp *openai.ChatCompletion) *LLMResponse {
	choice := comp.Choices[0]
	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{"raw": tc.Function.Arguments}
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	finishReason := "stop"
	switch choice.FinishReason {
	case "tool_calls":
		finishReason = "tool_calls"
	case "length":
		finishReason = "length"
	}

	return &LLMResponse{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Model:        comp.Model,
		Usage: &UsageInfo{
			PromptTokens:     int(comp.Usage.PromptTokens),
			CompletionTokens: int(comp.Usage.CompletionTokens),
			TotalTokens:      int(comp.Usage.TotalTokens),
		},
	}
}
