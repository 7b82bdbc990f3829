// Package transport submits audio to the remote classification service.
// Service-unavailable responses and requests that get no response are retried
// on a fixed schedule; everything else is reported at once.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/example/audio-check/internal/failure"
	"github.com/example/audio-check/internal/logging"
	"github.com/example/audio-check/internal/metrics"
)

const (
	// SessionCookie carries the session token when credentials are included.
	SessionCookie = "__session"

	maxResponseBytes = 1 << 20
)

var errResponseTooLarge = errors.New("response body too large")

// Outcome is the result of one submission: the raw JSON body on success or a
// classified failure.
type Outcome struct {
	Raw     json.RawMessage
	Failure *failure.Error
}

// OK reports whether the submission produced a JSON body.
func (o Outcome) OK() bool { return o.Failure == nil }

// Err returns the failure as an error, or nil.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

func failed(kind failure.Kind, message string, err error) Outcome {
	return Outcome{Failure: failure.Wrap(kind, message, err)}
}

// RetryPolicy bounds the attempt loop. Backoff[i] is the wait after attempt i+1.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// LinearBackoff returns n waits of step, 2*step, ... n*step.
func LinearBackoff(step time.Duration, n int) []time.Duration {
	waits := make([]time.Duration, n)
	for i := range waits {
		waits[i] = step * time.Duration(i+1)
	}
	return waits
}

// DefaultRetryPolicy makes three attempts, waiting 2s then 4s between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: LinearBackoff(2*time.Second, 3)}

// Wait returns the pause that follows the given 1-based attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

// TokenSource supplies the current session token, empty when signed out.
type TokenSource interface {
	SessionToken() string
}

// SleepFunc pauses between attempts and returns early when ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Client.
type Options struct {
	Endpoint           string
	IncludeCredentials bool
	Timeout            time.Duration
	Retry              RetryPolicy
	Tokens             TokenSource
	HTTPClient         *http.Client
	Metrics            *metrics.Collectors
	Sleep              SleepFunc
}

// Client performs uploads. It is safe for concurrent use.
type Client struct {
	endpoint           string
	httpClient         *http.Client
	retry              RetryPolicy
	includeCredentials bool
	tokens             TokenSource
	metrics            *metrics.Collectors
	sleep              SleepFunc
	logger             *zap.Logger
}

// New builds a Client from opts, filling unset fields with defaults.
func New(opts Options, logger *zap.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
		if opts.IncludeCredentials {
			jar, _ := cookiejar.New(nil)
			httpClient.Jar = jar
		}
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:           opts.Endpoint,
		httpClient:         httpClient,
		retry:              retry,
		includeCredentials: opts.IncludeCredentials,
		tokens:             opts.Tokens,
		metrics:            opts.Metrics,
		sleep:              sleep,
		logger:             logger.Named("transport"),
	}
}

// Submit posts req as multipart field "file" and returns the parsed outcome.
func (c *Client) Submit(ctx context.Context, req *UploadRequest) Outcome {
	if req == nil {
		return failed(failure.Validation, "Please select a file.", nil)
	}
	opLogger := logging.WithOperation(c.logger, "transport.submit", "").With(
		zap.String("file_name", req.Filename()),
		zap.Int("size_bytes", req.Size()),
	)

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		last := attempt == c.retry.MaxAttempts

		status, body, err := c.send(ctx, req)
		if errors.Is(err, errResponseTooLarge) {
			if status >= 200 && status <= 299 {
				c.metrics.ObserveAttempt("oversized")
				opLogger.Error("response body over limit", zap.Int("limit_bytes", maxResponseBytes))
				return failed(failure.Parse, fmt.Sprintf("response is larger than %d bytes", maxResponseBytes), err)
			}
			err = nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return failed(failure.Network, "request cancelled", ctxErr)
			}
			c.metrics.ObserveAttempt("network_error")
			if last {
				opLogger.Error("upload failed without response", zap.Error(err), zap.Int("attempt", attempt))
				return failed(failure.Network, "no response from analysis service", err)
			}
			opLogger.Warn("upload got no response, retrying", zap.Error(err), zap.Int("attempt", attempt))
			if err := c.wait(ctx, attempt); err != nil {
				return failed(failure.Network, "request cancelled", err)
			}
			continue
		}

		if status == http.StatusServiceUnavailable {
			c.metrics.ObserveAttempt("unavailable")
			if last {
				opLogger.Error("analysis service unavailable, giving up", zap.Int("attempt", attempt))
				return failed(failure.HTTP, statusMessage(status), failure.New(failure.ServiceUnavailable, "retries exhausted"))
			}
			opLogger.Warn("analysis service unavailable, retrying", zap.Int("attempt", attempt))
			if err := c.wait(ctx, attempt); err != nil {
				return failed(failure.Network, "request cancelled", err)
			}
			continue
		}

		if status < 200 || status > 299 {
			c.metrics.ObserveAttempt("http_error")
			opLogger.Warn("analysis service rejected upload", zap.Int("status", status))
			return failed(failure.HTTP, statusMessage(status), serverDetail(body))
		}

		c.metrics.ObserveAttempt("success")
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			opLogger.Error("response is not valid JSON", zap.Error(err))
			return failed(failure.Parse, "response is not valid JSON", err)
		}
		if attempt > 1 {
			opLogger.Info("upload succeeded after retry", zap.Int("attempt", attempt))
		}
		return Outcome{Raw: json.RawMessage(body)}
	}
	return failed(failure.Network, "no attempts were made", nil)
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	d := c.retry.Wait(attempt)
	c.metrics.ObserveBackoff(d)
	return c.sleep(ctx, d)
}

func (c *Client) send(ctx context.Context, req *UploadRequest) (int, []byte, error) {
	payload := &bytes.Buffer{}
	writer := multipart.NewWriter(payload)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(req.Filename())))
	header.Set("Content-Type", req.ContentType())
	part, err := writer.CreatePart(header)
	if err != nil {
		return 0, nil, err
	}
	if _, err := io.Copy(part, req.body()); err != nil {
		return 0, nil, err
	}
	if err := writer.Close(); err != nil {
		return 0, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, payload)
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if c.includeCredentials && c.tokens != nil {
		if token := c.tokens.SessionToken(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
			httpReq.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > maxResponseBytes {
		return resp.StatusCode, body[:maxResponseBytes], errResponseTooLarge
	}
	return resp.StatusCode, body, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func statusMessage(status int) string {
	return fmt.Sprintf("status %d %s", status, http.StatusText(status))
}

// serverDetail extracts an "error" or "message" string from a JSON error body.
func serverDetail(body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	for _, key := range []string{"error", "message", "detail"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String && v.String() != "" {
			return errors.New(v.String())
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
