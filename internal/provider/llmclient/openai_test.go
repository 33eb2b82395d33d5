// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package llmclient

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestToolCallAccumulator_AssemblesFragmentedArguments(t *testing.T) {
	acc := newToolCallAccumulator()

	acc.observe(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "transfer", Arguments: `{"dest`}})
	acc.observe(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `ination":"sales"}`}})

	calls := acc.complete()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "transfer", calls[0].Name)
	assert.Equal(t, "sales", calls[0].Args["destination"])
}

func TestToolCallAccumulator_MultipleParallelCalls(t *testing.T) {
	acc := newToolCallAccumulator()

	acc.observe(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "hangup_call", Arguments: `{}`}})
	acc.observe(openai.ToolCall{Index: intPtr(1), ID: "call_2", Function: openai.FunctionCall{Name: "leave_voicemail", Arguments: `{}`}})

	calls := acc.complete()
	require.Len(t, calls, 2)
	assert.Equal(t, "hangup_call", calls[0].Name)
	assert.Equal(t, "leave_voicemail", calls[1].Name)
}

func TestToolCallAccumulator_MalformedArgumentsYieldEmptyMap(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.observe(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "transfer", Arguments: `not json`}})

	calls := acc.complete()
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Args)
	assert.Empty(t, calls[0].Args)
}

func TestToAPIMessage_RolesMapCorrectly(t *testing.T) {
	assert.Equal(t, openai.ChatMessageRoleUser, toAPIMessage(Turn{Role: "user", Content: "hi"}).Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, toAPIMessage(Turn{Role: "assistant", Content: "hi"}).Role)

	toolMsg := toAPIMessage(Turn{Role: "tool", Content: "ok", ToolCallID: "call_1", Name: "transfer"})
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
	assert.Equal(t, "call_1", toolMsg.ToolCallID)
}

func TestToAPITools_BuildsFunctionDefinitions(t *testing.T) {
	tools := toAPITools([]ToolSchema{
		{Name: "transfer", Description: "route the caller", Parameters: map[string]any{"type": "object"}},
	})
	require.Len(t, tools, 1)
	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "transfer", tools[0].Function.Name)
}
