// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package llmclient is the LLM leg of a modular pipeline. It is
// deliberately separate from internal/provider/wsclient: unlike the
// monolithic and STT/TTS peers, which speak a streaming websocket
// protocol to an opaque vendor, the modular LLM leg is a normal
// streaming chat-completions API.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rapidaai/callengine/pkg/commons"
)

// Turn is one completed exchange retained in the rolling conversation
// history passed to every subsequent call.
type Turn struct {
	Role    string // "user", "assistant", "tool"
	Content string
	// ToolCallID and Name are set when Role == "tool": the result of a
	// previously requested tool call being reported back to the model.
	ToolCallID string
	Name       string
}

// ToolSchema describes one callable tool in OpenAI's function-calling
// shape, built from the engine's tools config.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema object
}

// Delta is one observation streamed back from a turn: either a chunk of
// assistant text, or a fully-accumulated tool call once its arguments are
// complete (the vendor streams tool call argument fragments; this client
// buffers them so callers always see whole, parseable tool calls).
type Delta struct {
	TextChunk string
	ToolCall  *ToolCall
	Done      bool
}

type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Client is the modular pipeline's LLM leg.
type Client struct {
	api    *openai.Client
	model  string
	logger commons.Logger
}

// NewClient builds a Client against either the public OpenAI API or an
// OpenAI-compatible endpoint (baseURL may be empty for the former).
func NewClient(apiKey, baseURL, model string, logger commons.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg), model: model, logger: logger}
}

// StreamTurn submits systemPrompt + history + the caller's new utterance
// and streams the assistant's reply, invoking emit for every text chunk
// and completed tool call it observes. It returns once the stream ends or
// ctx is cancelled (e.g. following a barge-in).
func (c *Client) StreamTurn(ctx context.Context, systemPrompt string, history []Turn, utterance string, tools []ToolSchema, emit func(Delta)) error {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, t := range history {
		messages = append(messages, toAPIMessage(t))
	}
	if utterance != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: utterance})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	}
	if len(tools) > 0 {
		req.Tools = toAPITools(tools)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("llmclient: stream request failed: %w", err)
	}
	defer stream.Close()

	acc := newToolCallAccumulator()
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("llmclient: stream recv failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			emit(Delta{TextChunk: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.observe(tc)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			for _, call := range acc.complete() {
				emit(Delta{ToolCall: &call})
			}
		}
	}
	emit(Delta{Done: true})
	return nil
}

func toAPIMessage(t Turn) openai.ChatCompletionMessage {
	switch t.Role {
	case "tool":
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: t.Content, ToolCallID: t.ToolCallID, Name: t.Name}
	case "assistant":
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: t.Content}
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.Content}
	}
}

func toAPITools(tools []ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// toolCallAccumulator buffers streamed argument fragments by index until a
// FinishReasonToolCalls arrives, since the vendor streams each tool call's
// JSON arguments across many chunks rather than all at once.
type toolCallAccumulator struct {
	byIndex map[int]*openai.ToolCall
	order   []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]*openai.ToolCall)}
}

func (a *toolCallAccumulator) observe(tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	cur, ok := a.byIndex[idx]
	if !ok {
		cp := tc
		a.byIndex[idx] = &cp
		a.order = append(a.order, idx)
		return
	}
	cur.Function.Arguments += tc.Function.Arguments
	if tc.ID != "" {
		cur.ID = tc.ID
	}
	if tc.Function.Name != "" {
		cur.Function.Name = tc.Function.Name
	}
}

func (a *toolCallAccumulator) complete() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		tc := a.byIndex[idx]
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]any{}
		}
		out = append(out, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	return out
}
