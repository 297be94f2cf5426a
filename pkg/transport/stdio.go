package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdtools/mdtd/pkg/dispatch"
	"github.com/mdtools/mdtd/pkg/logging"
	"github.com/mdtools/mdtd/pkg/mcperrors"
	"github.com/mdtools/mdtd/pkg/observability"
	"github.com/mdtools/mdtd/pkg/protocol"
)

// StdioConfig configures the pipe transport. Reader and Writer default to
// the process's standard input and output; tests inject pipes.
type StdioConfig struct {
	Dispatcher *dispatch.Dispatcher
	Reader     io.Reader
	Writer     io.Writer
	Logger     logging.Logger
	Metrics    *observability.Metrics

	// MaxBodyBytes caps the length of a single request line
	MaxBodyBytes int
}

// StdioTransport serves one JSON-RPC request per input line and writes one
// response line per request. It carries no sessions and no headers; a
// rate-limit denial travels as an ordinary protocol-coded error.
type StdioTransport struct {
	dispatcher *dispatch.Dispatcher
	reader     io.Reader
	rawWriter  *bufio.Writer
	logger     logging.Logger
	metrics    *observability.Metrics
	maxBody    int

	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewStdio creates a pipe transport
func NewStdio(cfg StdioConfig) *StdioTransport {
	if cfg.Reader == nil {
		cfg.Reader = os.Stdin
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	return &StdioTransport{
		dispatcher: cfg.Dispatcher,
		reader:     cfg.Reader,
		rawWriter:  bufio.NewWriter(cfg.Writer),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		maxBody:    cfg.MaxBodyBytes,
		done:       make(chan struct{}),
	}
}

// Serve reads request lines until EOF, the context is canceled, or Stop is
// called. It blocks for the lifetime of the transport.
func (t *StdioTransport) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), t.maxBody)

	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			// Copy before the next Scan overwrites the buffer.
			data := make([]byte, len(line))
			copy(data, line)

			func() {
				defer func() {
					if r := recover(); r != nil {
						t.logger.Error("panic processing input line",
							logging.Any("panic", r),
							logging.String("stack", string(debug.Stack())))
					}
				}()
				t.processLine(gctx, data)
			}()
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			// A reader closed by Stop or cancellation is a clean exit, not
			// a transport failure.
			select {
			case <-t.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			default:
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.done:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop halts the read loop and flushes buffered output
func (t *StdioTransport) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.rawWriter.Flush()
		t.writeMu.Unlock()
	})
}

// closeReader unblocks a pending scanner.Scan
func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

// processLine decodes one message and writes the response line. A
// fire-and-forget request (null id) is dispatched but gets no reply.
func (t *StdioTransport) processLine(ctx context.Context, data []byte) {
	if protocol.IsNotification(data) {
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err == nil {
			_ = t.dispatcher.Handle(ctx, &req)
		}
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.logger.Warn("undecodable input line", logging.ErrorField(err))
		t.send(protocol.NewErrorResponse(nil, protocol.ParseError,
			"Parse error: invalid JSON", nil))
		return
	}

	start := time.Now()
	resp := t.dispatcher.Handle(ctx, &req)
	if t.metrics != nil {
		code := 0
		if resp.Error != nil {
			code = int(resp.Error.Code)
		}
		t.metrics.RecordRequest("stdio", req.Method, code, time.Since(start))
		if _, denied := mcperrors.RateLimitInfo(resp); denied {
			t.metrics.RecordRateLimitDenial(toolName(req.Params))
		}
	}

	t.send(resp)
}

// send marshals and writes one response line
func (t *StdioTransport) send(resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("failed to marshal response", logging.ErrorField(err))
		return
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.rawWriter.Write(data); err != nil {
		t.logger.Error("failed to write response", logging.ErrorField(err))
		return
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		t.logger.Error("failed to terminate response", logging.ErrorField(err))
		return
	}
	if err := t.rawWriter.Flush(); err != nil {
		t.logger.Error("failed to flush response", logging.ErrorField(err))
	}
}
