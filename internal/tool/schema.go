// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import "github.com/mark3labs/mcp-go/mcp"

// schemas declares every named tool's MCP-shaped contract (name,
// description, inputSchema) independently of the Handler that executes it.
// Keeping the declaration separate from Handler lets a context's
// tool_allowlist resolve straight to an `mcp.Tool` slice the LLM
// provider submits verbatim, without every Handler implementation needing
// to carry schema-building code.
var schemas = map[string]mcp.Tool{
	"transfer": mcp.NewTool("transfer",
		mcp.WithDescription("Cold-transfer the caller to a named destination (extension, queue, or ring group)."),
		mcp.WithString("destination", mcp.Required(), mcp.Description("Destination name from the configured destination map.")),
	),
	"attended_transfer": mcp.NewTool("attended_transfer",
		mcp.WithDescription("Dial a human destination, brief them, and bridge the caller in only if they accept."),
		mcp.WithString("destination", mcp.Required(), mcp.Description("Destination name; must allow attended transfer.")),
	),
	"cancel_transfer": mcp.NewTool("cancel_transfer",
		mcp.WithDescription("Abort an attended transfer that is currently dialing or awaiting the destination's decision.")),
	"hangup_call": mcp.NewTool("hangup_call",
		mcp.WithDescription("End the call, optionally speaking a farewell phrase first."),
		mcp.WithString("farewell_message", mcp.Description("Optional phrase to speak before hanging up.")),
	),
	"leave_voicemail": mcp.NewTool("leave_voicemail",
		mcp.WithDescription("Redirect the caller into the configured voicemail extension.")),
	"send_email_summary": mcp.NewTool("send_email_summary",
		mcp.WithDescription("Send a transcript and call summary to the configured recipient.")),
	"request_transcript": mcp.NewTool("request_transcript",
		mcp.WithDescription("Email the call transcript to an address read back from the caller."),
		mcp.WithString("email", mcp.Required(), mcp.Description("Email address to send the transcript to.")),
		mcp.WithBoolean("confirmed", mcp.Description("Set once the caller has confirmed the read-back address.")),
	),
}

// MCPTools returns the MCP tool declarations for every handler registered
// on d that the allowlist permits, in the shape a provider submits to an
// LLM's tool-call API.
func (d *Dispatcher) MCPTools() []mcp.Tool {
	tools := make([]mcp.Tool, 0, len(d.handlers))
	for name := range d.handlers {
		if !d.allowed(name) {
			continue
		}
		if s, ok := schemas[name]; ok {
			tools = append(tools, s)
		}
	}
	return tools
}
