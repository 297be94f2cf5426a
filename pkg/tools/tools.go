// Package tools defines the boundary between the protocol layer and the
// concrete tool implementations. The dispatcher depends only on the
// Executor and Sanitizer contracts; the editing logic itself lives outside
// this repository's core.
package tools

import (
	"context"
	"encoding/json"

	"github.com/mdtools/mdtd/pkg/protocol"
)

// Executor runs a named tool with raw JSON arguments and returns its text
// output. Errors may be typed (mcperrors kinds) or plain; the dispatcher
// classifies them before they reach a transport. An admitted call always
// runs to completion: the context carries request-scoped values, not a
// cancellation tied to the client connection.
type Executor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, name string, args json.RawMessage) (string, error)

// Execute implements Executor
func (f ExecutorFunc) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	return f(ctx, name, args)
}

// Sanitizer rewrites tool output before it is wrapped into a result payload
type Sanitizer func(text string) string

// PassthroughSanitizer returns text unchanged
func PassthroughSanitizer(text string) string { return text }

// Catalog returns the static tool catalog served by tools/list. The set
// mirrors the markdown change-request tools the server fronts.
func Catalog() []protocol.Tool {
	return []protocol.Tool{
		{
			Name:        "get_cr",
			Description: "Retrieve the attributes of a change request ticket",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"project": {"type": "string", "description": "Project code, e.g. MDT"},
					"key": {"type": "string", "description": "Full ticket key, e.g. MDT-066"}
				},
				"required": ["project", "key"]
			}`),
		},
		{
			Name:        "get_cr_section",
			Description: "Read a single markdown section of a change request",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"project": {"type": "string"},
					"key": {"type": "string"},
					"section": {"type": "string", "description": "Section heading, e.g. ## Description"}
				},
				"required": ["project", "key", "section"]
			}`),
		},
		{
			Name:        "update_cr_section",
			Description: "Replace the contents of a markdown section of a change request",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"project": {"type": "string"},
					"key": {"type": "string"},
					"section": {"type": "string"},
					"content": {"type": "string"}
				},
				"required": ["project", "key", "section", "content"]
			}`),
		},
		{
			Name:        "list_crs",
			Description: "List change request tickets in a project",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"project": {"type": "string"},
					"status": {"type": "string", "description": "Optional status filter"}
				},
				"required": ["project"]
			}`),
		},
	}
}
