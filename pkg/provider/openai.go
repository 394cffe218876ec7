package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI chat completions.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	allOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(allOpts...),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// SupportsTools reports tool-use support.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// SupportsVision reports image-input support.
func (p *OpenAIProvider) SupportsVision() bool {
	return true
}

// Generate makes one blocking chat completion call.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	params, err := buildOpenAIParams(req)
	if err != nil {
		return nil, wrapError(p.Name(), ClassFatal, err)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, wrapError(p.Name(), ClassFatal, fmt.Errorf("no response choices returned"))
	}
	return openaiResponse(completion.Choices[0].Message, Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	})
}

// GenerateStream starts a streaming chat completion. Deltas are
// forwarded as they arrive; the accumulator rebuilds the final message.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req Request) (*Stream, error) {
	params, err := buildOpenAIParams(req)
	if err != nil {
		return nil, wrapError(p.Name(), ClassFatal, err)
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	chunks := p.client.Chat.Completions.NewStreaming(ctx, params)
	s := NewStream()

	go func() {
		acc := openai.ChatCompletionAccumulator{}
		for chunks.Next() {
			chunk := chunks.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				s.Emit(ctx, Chunk{Text: chunk.Choices[0].Delta.Content})
			}
		}
		usage := Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		}
		if err := chunks.Err(); err != nil {
			var partial *Response
			if len(acc.Choices) > 0 {
				partial, _ = openaiResponse(acc.Choices[0].Message, usage)
			}
			s.Finish(partial, p.classify(err))
			return
		}
		if len(acc.Choices) == 0 {
			s.Finish(nil, wrapError(p.Name(), ClassFatal, fmt.Errorf("no response choices returned")))
			return
		}
		resp, err := openaiResponse(acc.Choices[0].Message, usage)
		s.Finish(resp, err)
	}()

	return s, nil
}

func (p *OpenAIProvider) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return wrapError(p.Name(), classifyStatus(apiErr.StatusCode), err)
	}
	return wrapError(p.Name(), classifyNetwork(err), err)
}

// buildOpenAIParams translates the neutral request into chat
// completion parameters.
func buildOpenAIParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

// openaiResponse extracts text and tool calls from a completed chat
// message.
func openaiResponse(msg openai.ChatCompletionMessage, usage Usage) (*Response, error) {
	toolCalls := []ToolCall{}
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &Response{
		Text:      msg.Content,
		ToolCalls: toolCalls,
		Usage:     usage,
	}, nil
}
