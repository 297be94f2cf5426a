// Package dispatch routes decoded JSON-RPC requests to the protocol methods
// and is the single source of truth both transport adapters share. Method
// routing, rate-limit admission, and error classification happen only here
// so a given failure produces the same code on either binding.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mdtools/mdtd/pkg/logging"
	"github.com/mdtools/mdtd/pkg/mcperrors"
	"github.com/mdtools/mdtd/pkg/protocol"
	"github.com/mdtools/mdtd/pkg/ratelimit"
	"github.com/mdtools/mdtd/pkg/tools"
)

// Config assembles a Dispatcher's collaborators. Zero values get safe
// defaults: a nop logger, an unlimited rate checker, and a passthrough
// sanitizer.
type Config struct {
	ServerName    string
	ServerVersion string

	// Catalog is the static tool list served by tools/list
	Catalog []protocol.Tool

	// Executor is the external tool boundary
	Executor tools.Executor

	// Sanitizer rewrites successful tool output before wrapping
	Sanitizer tools.Sanitizer

	// Limiter admits or denies each tools/call before any side effects
	Limiter ratelimit.Checker

	// MaxRequestsPerWindow is the configured admission ceiling, quoted in
	// denial messages
	MaxRequestsPerWindow int

	Logger logging.Logger
	Tracer trace.Tracer
}

// Dispatcher implements handle(request) -> response for both transports
type Dispatcher struct {
	serverName    string
	serverVersion string
	catalog       []protocol.Tool
	executor      tools.Executor
	sanitize      tools.Sanitizer
	limiter       ratelimit.Checker
	maxRequests   int
	logger        logging.Logger
	tracer        trace.Tracer
}

// New creates a Dispatcher
func New(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Sanitizer == nil {
		cfg.Sanitizer = tools.PassthroughSanitizer
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("mdtd/dispatch")
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "mdtd"
	}

	return &Dispatcher{
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		catalog:       cfg.Catalog,
		executor:      cfg.Executor,
		sanitize:      cfg.Sanitizer,
		limiter:       cfg.Limiter,
		maxRequests:   cfg.MaxRequestsPerWindow,
		logger:        cfg.Logger,
		tracer:        cfg.Tracer,
	}
}

// Handle produces exactly one response for a decoded request. It never
// panics: an uncaught fault in any method surfaces as an internal protocol
// error carrying the fault text.
func (d *Dispatcher) Handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during dispatch",
				logging.String("method", req.Method),
				logging.Any("panic", r))
			resp = mcperrors.InternalError(fmt.Sprintf("%v", r)).ToResponse(req.ID)
		}
	}()

	if req.JSONRPC != protocol.JSONRPCVersion {
		return mcperrors.InvalidRequest(
			fmt.Sprintf("unsupported protocol version %q, expected %q", req.JSONRPC, protocol.JSONRPCVersion),
		).ToResponse(req.ID)
	}
	if req.Method == "" {
		return mcperrors.InvalidRequest("missing method").ToResponse(req.ID)
	}

	switch req.Method {
	case protocol.MethodInitialize:
		return d.handleInitialize(req)
	case protocol.MethodListTools:
		return d.handleListTools(req)
	case protocol.MethodCallTool:
		return d.handleCallTool(ctx, req)
	case protocol.MethodSetLogLevel:
		return d.handleSetLogLevel(req)
	default:
		return mcperrors.MethodNotFound(req.Method).ToResponse(req.ID)
	}
}

// handleInitialize returns the fixed capability descriptor; no side effects
func (d *Dispatcher) handleInitialize(req *protocol.Request) *protocol.Response {
	result := protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities: protocol.ServerCapabilities{
			Tools:   &protocol.ToolsCapability{},
			Logging: &protocol.LoggingCapability{},
		},
		ServerInfo: protocol.ServerInfo{
			Name:    d.serverName,
			Version: d.serverVersion,
		},
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return mcperrors.InternalError(err.Error()).ToResponse(req.ID)
	}
	return resp
}

// handleListTools returns the static catalog; no side effects
func (d *Dispatcher) handleListTools(req *protocol.Request) *protocol.Response {
	resp, err := protocol.NewResponse(req.ID, protocol.ListToolsResult{Tools: d.catalog})
	if err != nil {
		return mcperrors.InternalError(err.Error()).ToResponse(req.ID)
	}
	return resp
}

// handleCallTool admits the call through the rate limiter, runs the tool
// boundary, and translates the outcome through the error taxonomy.
func (d *Dispatcher) handleCallTool(ctx context.Context, req *protocol.Request) *protocol.Response {
	var params protocol.CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcperrors.NewProtocolErrorf(protocol.InvalidParams,
				"invalid params: %v", err).ToResponse(req.ID)
		}
	}
	if params.Name == "" {
		return mcperrors.NewProtocolError(protocol.InvalidParams,
			"invalid params: tool name is required").ToResponse(req.ID)
	}

	// Admission happens exactly once per call, before any side-effecting
	// work. A denied call is never retried here.
	decision := d.limiter.Check(params.Name)
	if !decision.Allowed {
		d.logger.Warn("rate limit denied tool call",
			logging.String("tool", params.Name),
			logging.Int("retry_after", decision.RetryAfter))
		return mcperrors.RateLimited(d.maxRequests, decision.RetryAfter).ToResponse(req.ID)
	}

	if d.executor == nil {
		return mcperrors.InternalError("no tool executor configured").ToResponse(req.ID)
	}

	ctx, span := d.tracer.Start(ctx, "tools/call",
		trace.WithAttributes(attribute.String("tool.name", params.Name)))
	text, err := d.executor.Execute(ctx, params.Name, params.Arguments)
	span.End()

	if err != nil {
		return d.toolErrorResponse(req.ID, params.Name, err)
	}

	result := protocol.NewTextResult(d.sanitize(text))
	resp, respErr := protocol.NewResponse(req.ID, result)
	if respErr != nil {
		return mcperrors.InternalError(respErr.Error()).ToResponse(req.ID)
	}
	return resp
}

// toolErrorResponse classifies a tool boundary failure into exactly one of
// the two taxonomy kinds and renders it on the matching channel.
func (d *Dispatcher) toolErrorResponse(id interface{}, tool string, err error) *protocol.Response {
	_, typedProto := mcperrors.AsProtocolError(err)
	_, typedExec := mcperrors.AsExecutionError(err)
	if !typedProto && !typedExec {
		d.logger.Warn("untyped tool error, classifying by message",
			logging.String("tool", tool),
			logging.ErrorField(err))
	}

	switch classified := mcperrors.Classify(err).(type) {
	case *mcperrors.ExecutionError:
		resp, respErr := protocol.NewResponse(id, classified.ToResult())
		if respErr != nil {
			return mcperrors.InternalError(respErr.Error()).ToResponse(id)
		}
		return resp
	case *mcperrors.ProtocolError:
		return classified.ToResponse(id)
	default:
		return mcperrors.InternalError(err.Error()).ToResponse(id)
	}
}

// handleSetLogLevel applies the requested level to the process logger and
// always succeeds.
func (d *Dispatcher) handleSetLogLevel(req *protocol.Request) *protocol.Response {
	var params protocol.SetLogLevelParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err == nil && params.Level != "" {
			d.logger.SetLevel(logging.ParseLevel(params.Level))
		}
	}

	resp, err := protocol.NewResponse(req.ID, struct{}{})
	if err != nil {
		return mcperrors.InternalError(err.Error()).ToResponse(req.ID)
	}
	return resp
}
