// Package bridge relays newline-delimited JSON-RPC from a stdio client to a
// streamable-HTTP MCP server.
//
// Messages are handled strictly one at a time: a line is read, POSTed,
// answered and only then is the next line read, so replies leave in the
// order requests arrived. The server's session id is learned from the first
// response that carries it and sent with every later request.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"memrelay/internal/jsonrpc"
	"memrelay/internal/stream"
)

// DefaultTimeout bounds each upstream round trip.
const DefaultTimeout = 120 * time.Second

// Options configures a Bridge.
type Options struct {
	// URL is the MCP endpoint every message is POSTed to.
	URL string
	// Token is sent as "Authorization: Bearer <token>".
	Token string
	// Timeout bounds one round trip; zero means DefaultTimeout.
	Timeout time.Duration
	// SessionHeader defaults to DefaultSessionHeader.
	SessionHeader string
	// Client overrides the HTTP client. Its Timeout is left untouched.
	Client *http.Client
	// Registerer receives the bridge metrics when set.
	Registerer prometheus.Registerer
}

// Bridge owns the session state for the lifetime of the process.
type Bridge struct {
	url           string
	token         string
	sessionHeader string
	client        *http.Client
	session       session
	metrics       *metrics
}

// New validates opts and returns a Bridge with no session.
func New(opts Options) (*Bridge, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: want an absolute http(s) url", opts.URL)
	}
	if opts.Token == "" {
		return nil, errors.New("bearer token is required")
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	header := opts.SessionHeader
	if header == "" {
		header = DefaultSessionHeader
	}
	return &Bridge{
		url:           opts.URL,
		token:         opts.Token,
		sessionHeader: header,
		client:        client,
		metrics:       newMetrics(opts.Registerer),
	}, nil
}

// Run relays lines from in to the server and replies to out until in is
// exhausted or ctx is done. Per-message failures become JSON-RPC error
// replies; only I/O errors on in or out stop the loop. Cancellation is a
// clean stop: nothing read after it is forwarded or answered.
func (b *Bridge) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan readResult)
	go readLines(ctx, jsonrpc.NewReader(in), lines)
	logrus.WithField("url", b.url).Info("bridge started")
	for {
		var next readResult
		select {
		case <-ctx.Done():
			logrus.Info("interrupted; bridge stopping")
			return nil
		case next = <-lines:
		}
		if ctx.Err() != nil {
			logrus.Info("interrupted; bridge stopping")
			return nil
		}
		if next.err != nil {
			if errors.Is(next.err, io.EOF) {
				logrus.Info("input closed; bridge stopping")
				return nil
			}
			return fmt.Errorf("read input: %w", next.err)
		}
		if len(bytes.TrimSpace(next.line)) == 0 {
			continue
		}
		if err := b.handle(ctx, next.line, out); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

type readResult struct {
	line []byte
	err  error
}

// readLines feeds lines to Run one at a time. A blocked read on stdin
// cannot be interrupted, so the goroutine is left behind when ctx ends.
func readLines(ctx context.Context, r *jsonrpc.Reader, lines chan<- readResult) {
	for {
		line, err := r.ReadLine()
		select {
		case lines <- readResult{line: line, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// handle processes one frame and writes at most one reply line. The
// returned error is always a write failure.
func (b *Bridge) handle(ctx context.Context, frame []byte, out io.Writer) error {
	log := logrus.WithField("trace", uuid.NewString())

	msg, err := jsonrpc.Parse(frame)
	if err != nil {
		b.metrics.messages.WithLabelValues(kindInvalid).Inc()
		var fe *jsonrpc.FrameError
		if !errors.As(err, &fe) {
			return err
		}
		log.WithError(err).Warn("rejected malformed input line")
		return jsonrpc.WriteLine(out, fe.Reply)
	}
	b.metrics.messages.WithLabelValues(kindOf(msg)).Inc()
	log = log.WithFields(logrus.Fields{"method": msg.Method, "id": string(msg.ID)})

	res, err := b.forward(ctx, frame)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			b.metrics.failures.WithLabelValues(reasonStatus).Inc()
		} else {
			b.metrics.failures.WithLabelValues(reasonTransport).Inc()
		}
		if ctx.Err() != nil {
			log.WithError(err).Info("upstream call abandoned on shutdown")
			return nil
		}
		log.WithError(err).Warn("upstream call failed")
		if !msg.IsRequest() {
			return nil
		}
		return jsonrpc.WriteLine(out, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeServerError, err.Error()))
	}

	raw, ok := stream.Decode(res.contentType, res.body)
	if !msg.HasID() {
		log.Debug("notification delivered")
		return nil
	}
	if !ok {
		if !msg.IsRequest() {
			return nil
		}
		b.metrics.failures.WithLabelValues(reasonEmpty).Inc()
		log.WithFields(logrus.Fields{"status": res.status, "content_type": res.contentType}).Warn("upstream reply had no JSON-RPC payload")
		reply := jsonrpc.NewErrorResponse(msg.ID, jsonrpc.CodeServerError,
			fmt.Sprintf("Empty or malformed response from server (HTTP %d)", res.status))
		return jsonrpc.WriteLine(out, reply)
	}
	log.WithField("bytes", len(raw)).Debug("reply relayed")
	return jsonrpc.WriteRaw(out, raw)
}

type upstreamReply struct {
	status      int
	contentType string
	body        []byte
}

// statusError is a completed exchange with a non-2xx status.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

// forward POSTs frame verbatim and returns the raw reply. It is the only
// place the session is read or updated.
func (b *Bridge) forward(ctx context.Context, frame []byte) (*upstreamReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Authorization", "Bearer "+b.token)
	if id, ok := b.session.current(); ok {
		req.Header.Set(b.sessionHeader, id)
	}

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	b.metrics.roundTrip.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}

	if b.session.observe(resp.Header.Get(b.sessionHeader)) {
		b.metrics.sessionChanges.Inc()
		logrus.WithField("session", b.session.id).Info("session id updated")
	}
	return &upstreamReply{status: resp.StatusCode, contentType: resp.Header.Get("Content-Type"), body: body}, nil
}

func kindOf(msg *jsonrpc.Message) string {
	switch {
	case msg.IsResponse():
		return kindResponse
	case msg.IsRequest():
		return kindRequest
	default:
		return kindNotification
	}
}
