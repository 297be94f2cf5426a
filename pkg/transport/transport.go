// Package transport provides the two bindings over the dispatcher: a
// line-oriented pipe transport on standard input/output and an HTTP
// transport with a Server-Sent-Events push stream. Both are thin adapters;
// method routing and error classification live in the dispatcher so the two
// bindings cannot diverge.
package transport

import (
	"encoding/json"
	"time"

	"github.com/mdtools/mdtd/pkg/protocol"
)

const (
	// SessionHeader carries the session id on the HTTP binding
	SessionHeader = "MCP-Session-ID"

	// ProtocolVersionHeader echoes the protocol revision on responses that
	// establish a stream
	ProtocolVersionHeader = "MCP-Protocol-Version"

	// keepaliveInterval is how often an SSE stream emits a comment frame
	keepaliveInterval = 5 * time.Second

	// DefaultMaxBodyBytes caps request body size on both bindings
	DefaultMaxBodyBytes = 4 << 20
)

// toolName extracts the tool name from tools/call params for metrics labels
func toolName(params json.RawMessage) string {
	var p protocol.CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.Name
}
