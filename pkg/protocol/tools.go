package protocol

import (
	"encoding/json"
)

// Tool represents a callable tool in the catalog
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult defines the response for listing tools
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams defines parameters for calling a tool
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TextContent is a single text block in a tool result
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult defines the response for tool calls. IsError marks a
// tool-level failure delivered as a successful protocol response.
type CallToolResult struct {
	Content []TextContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// NewTextResult wraps plain text as a tool result
func NewTextResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []TextContent{{Type: "text", Text: text}},
	}
}

// NewErrorResult wraps failure text as a tool result with the error marker set
func NewErrorResult(text string) *CallToolResult {
	return &CallToolResult{
		Content: []TextContent{{Type: "text", Text: text}},
		IsError: true,
	}
}
