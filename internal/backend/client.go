// Package backend is the HTTP client for the story service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DaanHessen/taleweaver/internal/session"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TransportError is a network or HTTP-level failure. It matches session.ErrTransport.
type TransportError struct {
	Path    string
	Status  int
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	msg := e.Path + ": " + e.Message
	if e.Status != 0 {
		msg += " (" + http.StatusText(e.Status) + ")"
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == session.ErrTransport }

// Client talks JSON to the story service. Unary calls are bounded by the
// request timeout; streams are bounded only by the caller's context.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

var _ session.Backend = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithRequestTimeout bounds unary calls. Zero means no bound.
func WithRequestTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("backend: missing base URL")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Call performs a unary request and decodes the JSON response into out (if non-nil).
func (c *Client) Call(ctx context.Context, method, path string, payload, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Path: path, Message: "decode response", Cause: err}
	}
	return nil
}

// OpenTextStream starts a free-text narration stream.
func (c *Client) OpenTextStream(ctx context.Context, method, path string, payload any) (session.TextStream, error) {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	return newTextStream(path, resp.Body), nil
}

// OpenRecordStream starts a stream of newline-delimited JSON history records.
func (c *Client) OpenRecordStream(ctx context.Context, method, path string, payload any) (session.RecordStream, error) {
	resp, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	return newRecordStream(path, resp.Body), nil
}

// do sends the request and returns the response only for 2xx statuses.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", path)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &TransportError{Path: path, Message: "create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Path: path, Message: "request failed", Cause: err}
	}
	c.log.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{Path: path, Status: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
