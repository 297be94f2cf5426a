package mcperrors

import (
	"strings"

	"github.com/mdtools/mdtd/pkg/protocol"
)

// codeRule maps message substrings to a JSON-RPC code. Rules are evaluated
// in order; the first matching rule wins.
type codeRule struct {
	substrings []string
	code       protocol.ErrorCode
}

var classifyRules = []codeRule{
	// Path traversal indicators are treated as internal faults so they are
	// never surfaced as retryable business errors.
	{[]string{"../", "..\\", "outside project"}, protocol.InternalError},
	{[]string{"not found", "does not exist", "no such file"}, protocol.ServerError},
	{[]string{"invalid params", "validation", "required", "must be", "invalid"}, protocol.InvalidParams},
	{[]string{"unknown tool", "available tools"}, protocol.MethodNotFound},
}

// Classify maps an error from the tool boundary to exactly one taxonomy
// kind. Errors that already carry a kind pass through unchanged; anything
// untyped is coerced into a ProtocolError with a code inferred from the
// message text. The heuristic path is a best-effort fallback for
// third-party errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := AsProtocolError(err); ok {
		return pe
	}
	if ee, ok := AsExecutionError(err); ok {
		return ee
	}
	return NewProtocolError(inferCode(err.Error()), err.Error())
}

// inferCode applies the ordered substring rules to a message, defaulting to
// an internal error when nothing matches.
func inferCode(message string) protocol.ErrorCode {
	lower := strings.ToLower(message)
	for _, rule := range classifyRules {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return rule.code
			}
		}
	}
	return protocol.InternalError
}
