package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mdtools/mdtd/pkg/logging"
	"github.com/mdtools/mdtd/pkg/mcperrors"
	"github.com/mdtools/mdtd/pkg/protocol"
	"github.com/mdtools/mdtd/pkg/ratelimit"
	"github.com/mdtools/mdtd/pkg/tools"
)

// spyExecutor records invocations and returns canned results
type spyExecutor struct {
	calls []string
	text  string
	err   error
}

func (s *spyExecutor) Execute(_ context.Context, name string, _ json.RawMessage) (string, error) {
	s.calls = append(s.calls, name)
	return s.text, s.err
}

// denyAll is a Checker that refuses every call
type denyAll struct {
	retryAfter int
}

func (d denyAll) Check(string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: false, RetryAfter: d.retryAfter}
}

func newRequest(t *testing.T, id interface{}, method string, params interface{}) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return req
}

func TestHandleRejectsWrongVersion(t *testing.T) {
	d := New(Config{})
	req := newRequest(t, 1, protocol.MethodListTools, nil)
	req.JSONRPC = "1.0"

	resp := d.Handle(context.Background(), req)
	if resp.Error == nil || resp.Error.Code != protocol.InvalidRequest {
		t.Fatalf("got %+v, want -32600 error", resp.Error)
	}
}

func TestHandleUnknownMethod(t *testing.T) {
	d := New(Config{})
	resp := d.Handle(context.Background(), newRequest(t, 1, "resources/list", nil))

	if resp.Error == nil || resp.Error.Code != protocol.MethodNotFound {
		t.Fatalf("got %+v, want -32601 error", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "resources/list") {
		t.Errorf("message %q should name the method", resp.Error.Message)
	}
}

func TestHandleInitialize(t *testing.T) {
	d := New(Config{ServerName: "mdtd", ServerVersion: "1.2.3"})
	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodInitialize, nil))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.ProtocolVersion != protocol.ProtocolRevision {
		t.Errorf("ProtocolVersion = %q, want %q", result.ProtocolVersion, protocol.ProtocolRevision)
	}
	if result.ServerInfo.Name != "mdtd" || result.ServerInfo.Version != "1.2.3" {
		t.Errorf("ServerInfo = %+v", result.ServerInfo)
	}
	if result.Capabilities.Tools == nil {
		t.Error("tools capability should be advertised")
	}
}

func TestHandleListTools(t *testing.T) {
	catalog := tools.Catalog()
	d := New(Config{Catalog: catalog})
	resp := d.Handle(context.Background(), newRequest(t, "a", protocol.MethodListTools, nil))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var result protocol.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Tools) != len(catalog) {
		t.Errorf("got %d tools, want %d", len(result.Tools), len(catalog))
	}
}

func TestCallToolSuccess(t *testing.T) {
	exec := &spyExecutor{text: "section body"}
	d := New(Config{Executor: exec})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "get_cr_section"}))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("IsError should be false for a successful call")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "section body" {
		t.Errorf("content = %+v", result.Content)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "get_cr_section" {
		t.Errorf("executor calls = %v", exec.calls)
	}
}

func TestCallToolAppliesSanitizer(t *testing.T) {
	exec := &spyExecutor{text: "raw output"}
	d := New(Config{
		Executor:  exec,
		Sanitizer: func(s string) string { return strings.ToUpper(s) },
	})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "get_cr"}))

	var result protocol.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Content[0].Text != "RAW OUTPUT" {
		t.Errorf("sanitizer not applied: %q", result.Content[0].Text)
	}
}

func TestCallToolMissingName(t *testing.T) {
	exec := &spyExecutor{}
	d := New(Config{Executor: exec})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{}))

	if resp.Error == nil || resp.Error.Code != protocol.InvalidParams {
		t.Fatalf("got %+v, want -32602 error", resp.Error)
	}
	if len(exec.calls) != 0 {
		t.Error("executor must not run without a tool name")
	}
}

func TestCallToolRateLimited(t *testing.T) {
	exec := &spyExecutor{}
	d := New(Config{
		Executor:             exec,
		Limiter:              denyAll{retryAfter: 30},
		MaxRequestsPerWindow: 10,
	})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "get_cr"}))

	if resp.Error == nil || resp.Error.Code != protocol.ServerError {
		t.Fatalf("got %+v, want -32000 error", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "maximum 10 requests") {
		t.Errorf("message %q should quote the configured maximum", resp.Error.Message)
	}
	if !strings.Contains(resp.Error.Message, "retry after 30 seconds") {
		t.Errorf("message %q should carry the retry hint", resp.Error.Message)
	}
	if len(exec.calls) != 0 {
		t.Error("a denied call must never reach the executor")
	}
}

func TestCallToolExecutionError(t *testing.T) {
	exec := &spyExecutor{err: fmt.Errorf("applying patch: %w",
		mcperrors.NewExecutionError("merge conflict in ## Description"))}
	d := New(Config{Executor: exec})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "update_cr_section"}))

	if resp.Error != nil {
		t.Fatalf("execution errors travel in the result, got protocol error %v", resp.Error)
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("IsError should be true")
	}
	if result.Content[0].Text != "merge conflict in ## Description" {
		t.Errorf("text = %q", result.Content[0].Text)
	}
}

func TestCallToolUntypedErrorClassified(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode protocol.ErrorCode
	}{
		{"not found", errors.New("ticket MDT-404 not found"), protocol.ServerError},
		{"validation", errors.New("section is required"), protocol.InvalidParams},
		{"unknown tool", errors.New("unknown tool \"nope\""), protocol.MethodNotFound},
		{"traversal", errors.New("resolved path ../outside not found"), protocol.InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Config{Executor: &spyExecutor{err: tt.err}})
			resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
				protocol.CallToolParams{Name: "get_cr"}))

			if resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("got %+v, want code %d", resp.Error, tt.wantCode)
			}
		})
	}
}

func TestSetLogLevel(t *testing.T) {
	logger := logging.NewNop()
	d := New(Config{Logger: logger})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodSetLogLevel,
		protocol.SetLogLevelParams{Level: "debug"}))

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if logger.GetLevel() != logging.DebugLevel {
		t.Errorf("level = %v, want debug", logger.GetLevel())
	}
}

func TestHandleRecoversPanic(t *testing.T) {
	exec := tools.ExecutorFunc(func(context.Context, string, json.RawMessage) (string, error) {
		panic("executor blew up")
	})
	d := New(Config{Executor: exec})

	resp := d.Handle(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		protocol.CallToolParams{Name: "get_cr"}))

	if resp.Error == nil || resp.Error.Code != protocol.InternalError {
		t.Fatalf("got %+v, want -32603 error", resp.Error)
	}
}
