package judge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultPollTimeout    = 2 * time.Minute
	DefaultMaxPolls       = 60
	DefaultRequestTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

var (
	ErrQuotaExceeded = errors.New("execution quota exceeded")
	ErrSubmission    = errors.New("failed to submit job")
	ErrPollTransport = errors.New("failed to check job status")
	ErrPollTimeout   = errors.New("timed out waiting for job to finish")
)

// Client talks to a Judge0 compatible submissions API. BaseURL points at the
// submissions collection, e.g. https://judge0-ce.p.rapidapi.com/submissions.
type Client struct {
	BaseURL        string
	Host           string
	Key            string
	HTTPClient     *http.Client
	PollInterval   time.Duration
	PollTimeout    time.Duration
	MaxPolls       int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Submission struct {
	SourceCode string
	Stdin      string
	LanguageID int
}

type submissionBody struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

// Submit creates a job and returns its token. It issues exactly one request.
func (c *Client) Submit(ctx context.Context, sub Submission) (string, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	body, err := json.Marshal(submissionBody{
		LanguageID: sub.LanguageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(sub.SourceCode)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(sub.Stdin)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode body: %w", ErrSubmission, err)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", ErrSubmission, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubmission, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", ErrQuotaExceeded, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return "", fmt.Errorf("%w: unexpected status code %d", ErrSubmission, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", ErrSubmission, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: response missing token", ErrSubmission)
	}
	c.logger().Info("submitted job", "token", out.Token, "language", sub.LanguageID)
	return out.Token, nil
}

// PollStatus checks the job until it reaches a terminal status. Queued and
// processing statuses are retried after PollInterval. The loop is bounded by
// PollTimeout and MaxPolls; transport failures end it immediately.
func (c *Client) PollStatus(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrPollTransport)
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := c.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	maxPolls := c.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		result, err := c.checkStatus(ctx, token, deadline)
		if err != nil {
			// A check cut short by the overall deadline is a timeout, not a
			// transport failure.
			if ctx.Err() == nil && !time.Now().Before(deadline) {
				return nil, fmt.Errorf("%w: no terminal status after %s: %v", ErrPollTimeout, timeout, err)
			}
			return nil, err
		}
		if result.Terminal() {
			c.logger().Info("job finished", "token", token, "status", result.Status.ID, "attempts", attempt)
			return result, nil
		}
		c.logger().Debug("job pending", "token", token, "status", result.Status.ID, "attempt", attempt)

		if attempt >= maxPolls {
			return nil, fmt.Errorf("%w: still %q after %d checks", ErrPollTimeout, result.Status.Description, attempt)
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, fmt.Errorf("%w: still %q after %s", ErrPollTimeout, result.Status.Description, timeout)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) checkStatus(ctx context.Context, token string, deadline time.Time) (*Result, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPollTransport, err)
	}
	endpoint = endpoint.JoinPath(url.PathEscape(token))

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if ctxDeadline, ok := reqCtx.Deadline(); !ok || deadline.Before(ctxDeadline) {
		var cancelDeadline context.CancelFunc
		reqCtx, cancelDeadline = context.WithDeadline(reqCtx, deadline)
		defer cancelDeadline()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrPollTransport, err)
	}
	c.setAuthHeaders(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPollTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrPollTransport, resp.StatusCode)
	}

	var raw rawResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrPollTransport, err)
	}
	result, err := raw.decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPollTransport, err)
	}
	if result.Token == "" {
		result.Token = token
	}
	return result, nil
}

func (c *Client) endpoint() (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("api base url must use http or https")
	}
	q := u.Query()
	q.Set("base64_encoded", "true")
	q.Set("fields", "*")
	u.RawQuery = q.Encode()
	return u, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.Host != "" {
		req.Header.Set("X-RapidAPI-Host", c.Host)
	}
	if c.Key != "" {
		req.Header.Set("X-RapidAPI-Key", c.Key)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func decodeField(name, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	// Judge0 wraps long base64 output at 60 columns.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(value, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return string(raw), nil
}
