package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewRequestRoundTrip(t *testing.T) {
	req, err := NewRequest(1, "tools/call", map[string]string{"name": "get_cr"})
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.JSONRPC != JSONRPCVersion {
		t.Errorf("JSONRPC = %q, want %q", decoded.JSONRPC, JSONRPCVersion)
	}
	if decoded.Method != "tools/call" {
		t.Errorf("Method = %q, want tools/call", decoded.Method)
	}
	if decoded.ID == nil {
		t.Error("ID should survive the round trip")
	}
}

func TestNewErrorResponseMarshalsData(t *testing.T) {
	resp := NewErrorResponse("req-7", InvalidParams, "invalid params: tool name is required",
		map[string]int{"limit": 3})

	if resp.Error == nil {
		t.Fatal("Error should be set")
	}
	if resp.Error.Code != InvalidParams {
		t.Errorf("Code = %d, want %d", resp.Error.Code, InvalidParams)
	}

	raw, ok := resp.Error.Data.(json.RawMessage)
	if !ok {
		t.Fatalf("Data = %T, want json.RawMessage", resp.Error.Data)
	}
	var payload map[string]int
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("data should be valid JSON: %v", err)
	}
	if payload["limit"] != 3 {
		t.Errorf("data limit = %d, want 3", payload["limit"])
	}
}

func TestResponseOmitsEmptyMembers(t *testing.T) {
	resp, err := NewResponse(2, map[string]string{"ok": "yes"})
	if err != nil {
		t.Fatalf("NewResponse() error = %v", err)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	if _, hasError := fields["error"]; hasError {
		t.Error("success response should not carry an error member")
	}
	if _, hasResult := fields["result"]; !hasResult {
		t.Error("success response should carry a result member")
	}
}

func TestIsNotification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, true},
		{"request with id", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, false},
		{"missing method", `{"jsonrpc":"2.0"}`, false},
		{"wrong version", `{"jsonrpc":"1.0","method":"ping"}`, false},
		{"not json", `not json at all`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotification([]byte(tt.raw)); got != tt.want {
				t.Errorf("IsNotification(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestIsRequest(t *testing.T) {
	if !IsRequest([]byte(`{"jsonrpc":"2.0","id":"a","method":"initialize"}`)) {
		t.Error("well-formed request should be recognized")
	}
	if IsRequest([]byte(`{"jsonrpc":"2.0","method":"initialize"}`)) {
		t.Error("a notification is not a request")
	}
}
