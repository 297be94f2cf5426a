package mcperrors

import (
	"encoding/json"

	"github.com/mdtools/mdtd/pkg/protocol"
)

// RateLimitData is the structured data attached to a rate-limit denial.
// The HTTP transport reads it back to shape the 429 response; the pipe
// transport relies on the message text alone.
type RateLimitData struct {
	MaxRequests int `json:"maxRequests"`
	RetryAfter  int `json:"retryAfter,omitempty"`
}

// RateLimitInfo extracts rate-limit data from a response, reporting whether
// the response is a rate-limit denial.
func RateLimitInfo(resp *protocol.Response) (*RateLimitData, bool) {
	if resp == nil || resp.Error == nil || resp.Error.Code != protocol.ServerError {
		return nil, false
	}

	var raw []byte
	switch v := resp.Error.Data.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case *RateLimitData:
		return v, v.MaxRequests > 0
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		raw = encoded
	}

	var data RateLimitData
	if err := json.Unmarshal(raw, &data); err != nil || data.MaxRequests == 0 {
		return nil, false
	}
	return &data, true
}
