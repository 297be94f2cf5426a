package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mdtools/mdtd/pkg/auth"
	"github.com/mdtools/mdtd/pkg/dispatch"
	"github.com/mdtools/mdtd/pkg/logging"
	"github.com/mdtools/mdtd/pkg/mcperrors"
	"github.com/mdtools/mdtd/pkg/observability"
	"github.com/mdtools/mdtd/pkg/protocol"
	"github.com/mdtools/mdtd/pkg/session"
)

// HTTPConfig configures the HTTP binding
type HTTPConfig struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *session.Registry
	Logger     logging.Logger
	Metrics    *observability.Metrics

	// Addr is the listen address for Serve (host:port)
	Addr string

	// AuthToken enables shared-secret Bearer auth when non-empty
	AuthToken string

	// AllowedOrigins restricts browser clients. Empty allows every Origin.
	AllowedOrigins []string

	// MaxBodyBytes caps a POST body
	MaxBodyBytes int64

	// ToolCount and ServerVersion feed the health report
	ToolCount     int
	ServerVersion string

	// Debug exposes the session listing even when auth is enabled
	Debug bool
}

// HTTPTransport serves the request channel on POST /mcp and the streaming
// channel on GET /mcp. Every request body goes through the same dispatcher
// as the pipe transport, so error semantics are identical on both bindings.
type HTTPTransport struct {
	dispatcher *dispatch.Dispatcher
	registry   *session.Registry
	logger     logging.Logger
	metrics    *observability.Metrics
	cfg        HTTPConfig

	server *http.Server
}

// NewHTTP creates the HTTP binding
func NewHTTP(cfg HTTPConfig) *HTTPTransport {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPTransport{
		dispatcher: cfg.Dispatcher,
		registry:   cfg.Registry,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		cfg:        cfg,
	}
}

// Handler builds the routed and middleware-wrapped handler
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleMCP)
	mux.HandleFunc("/health", t.handleHealth)
	mux.HandleFunc("/sessions", t.handleSessions)
	if t.metrics != nil {
		mux.Handle("/metrics", t.metrics.Handler())
	}

	return auth.Chain(mux,
		auth.Bearer(t.cfg.AuthToken, t.logger),
		auth.OriginCheck(t.cfg.AllowedOrigins, t.logger),
	)
}

// Serve runs the HTTP server until Shutdown or a listener error
func (t *HTTPTransport) Serve() error {
	t.server = &http.Server{
		Addr:              t.cfg.Addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.logger.Info("http transport listening", logging.String("addr", t.cfg.Addr))

	err := t.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *HTTPTransport) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleSSE(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost serves the request channel. JSON-RPC errors still travel with
// HTTP 200; only a rate-limit denial maps onto a distinct status (429).
func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, t.cfg.MaxBodyBytes))
	if err != nil {
		t.logger.Warn("failed to read request body", logging.ErrorField(err))
		t.writeJSON(w, http.StatusOK, protocol.NewErrorResponse(nil,
			protocol.ParseError, "Parse error: unable to read request body", nil))
		return
	}

	if protocol.IsNotification(body) {
		var req protocol.Request
		if err := json.Unmarshal(body, &req); err == nil {
			_ = t.dispatcher.Handle(r.Context(), &req)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.writeJSON(w, http.StatusOK, protocol.NewErrorResponse(nil,
			protocol.ParseError, "Parse error: invalid JSON", nil))
		return
	}

	// The first initialize on this binding mints the session the client
	// echoes back on later requests.
	if req.Method == protocol.MethodInitialize && r.Header.Get(SessionHeader) == "" {
		s := t.registry.Create(session.ClientInfo{
			UserAgent: r.Header.Get("User-Agent"),
			Origin:    r.Header.Get("Origin"),
		})
		w.Header().Set(SessionHeader, s.ID)
	} else if id := r.Header.Get(SessionHeader); id != "" {
		// Touch the session so activity-based expiry tracks real use.
		t.registry.Get(id)
	}

	resp := t.dispatcher.Handle(r.Context(), &req)

	status := http.StatusOK
	if info, ok := mcperrors.RateLimitInfo(resp); ok {
		status = http.StatusTooManyRequests
		if info.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(info.RetryAfter))
		}
		if t.metrics != nil {
			t.metrics.RecordRateLimitDenial(toolName(req.Params))
		}
	}

	if t.metrics != nil {
		code := 0
		if resp.Error != nil {
			code = int(resp.Error.Code)
		}
		t.metrics.RecordRequest("http", req.Method, code, time.Since(start))
	}

	w.Header().Set(ProtocolVersionHeader, protocol.ProtocolRevision)
	t.writeJSON(w, status, resp)
}

// handleSSE serves the streaming channel. The connection stays open until
// the client disconnects or the session it watches is deleted.
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	accept := r.Header.Get("Accept")
	if !acceptsEventStream(accept) {
		http.Error(w, "streaming requires Accept: text/event-stream", http.StatusBadRequest)
		return
	}

	var events <-chan session.Event
	var cancel func()
	if id := r.Header.Get(SessionHeader); id != "" {
		ch, c, ok := t.registry.Subscribe(id)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		events = ch
		cancel = c
		defer cancel()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(ProtocolVersionHeader, protocol.ProtocolRevision)
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: connected\ndata: {\"version\":%q}\n\n", t.cfg.ServerVersion)
	flusher.Flush()

	if t.metrics != nil {
		t.metrics.SSEOpened()
		defer t.metrics.SSEClosed()
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		// A nil events channel never fires, so a stream opened without a
		// session just keeps alive until the client goes away.
		case ev, open := <-events:
			if !open {
				// Session deleted out from under us
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				t.logger.Warn("failed to marshal event", logging.ErrorField(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
			flusher.Flush()
		}
	}
}

func (t *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionHeader)
	if id == "" {
		http.Error(w, "missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	if !t.registry.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	t.logger.Info("session terminated by client", logging.String("session_id", id))
	w.WriteHeader(http.StatusOK)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	t.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"version":     t.cfg.ServerVersion,
		"protocol":    protocol.ProtocolRevision,
		"sessions":    t.registry.Count(),
		"tools":       t.cfg.ToolCount,
		"auth":        t.cfg.AuthToken != "",
		"originCheck": len(t.cfg.AllowedOrigins) > 0,
	})
}

// handleSessions lists live sessions. Hidden behind Debug when auth is on
// so the listing cannot be used to harvest session ids in production.
func (t *HTTPTransport) handleSessions(w http.ResponseWriter, r *http.Request) {
	if t.cfg.AuthToken != "" && !t.cfg.Debug {
		http.NotFound(w, r)
		return
	}
	t.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": t.registry.List(),
	})
}

func (t *HTTPTransport) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.logger.Error("failed to write response", logging.ErrorField(err))
	}
}

func acceptsEventStream(accept string) bool {
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if mt == "text/event-stream" || mt == "*/*" {
			return true
		}
	}
	return false
}
