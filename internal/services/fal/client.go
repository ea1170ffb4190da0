package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tryon/internal/config"
)

const (
	defaultHTTPTimeout    = 45 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
	defaultRunURL         = "https://fal.run"
	defaultQueueURL       = "https://queue.fal.run"
	defaultModel          = "fal-ai/image-apps-v2/virtual-try-on"
)

// Config captures the runtime settings required to talk to fal.ai.
type Config struct {
	APIKey         string
	RunURL         string
	QueueURL       string
	Model          string
	TimeoutSeconds int
}

// ConfigFrom extracts the fal.ai settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		APIKey:         cfg.Fal.APIKey,
		RunURL:         cfg.Fal.RunURL,
		QueueURL:       cfg.Fal.QueueURL,
		Model:          cfg.Fal.Model,
		TimeoutSeconds: cfg.Fal.TimeoutSeconds,
	}
}

// Client wraps the fal.ai synchronous and queue endpoints for one model.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry and poll sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a fal.ai client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			RunURL:         strings.TrimRight(strings.TrimSpace(cfg.RunURL), "/"),
			QueueURL:       strings.TrimRight(strings.TrimSpace(cfg.QueueURL), "/"),
			Model:          strings.Trim(strings.TrimSpace(cfg.Model), "/"),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.cfg.RunURL == "" {
		client.cfg.RunURL = defaultRunURL
	}
	if client.cfg.QueueURL == "" {
		client.cfg.QueueURL = defaultQueueURL
	}
	if client.cfg.Model == "" {
		client.cfg.Model = defaultModel
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	return client
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Input is the try-on request body understood by the model.
type Input struct {
	PersonImageURL  string `json:"person_image_url"`
	GarmentImageURL string `json:"garment_image_url"`
	GarmentType     string `json:"garment_type,omitempty"`
	Category        string `json:"category,omitempty"`
}

// Image describes one generated image.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
}

// Result is a normalized, successful model response.
type Result struct {
	ImageURL  string
	Image     Image
	Images    []Image
	Inference float64
	RequestID string
}

// Metadata returns the result details worth persisting next to a history record.
func (r Result) Metadata(model string) map[string]any {
	meta := map[string]any{"model": model}
	if r.RequestID != "" {
		meta["fal_request_id"] = r.RequestID
	}
	if r.Inference > 0 {
		meta["inference_seconds"] = r.Inference
	}
	if r.Image.Width > 0 && r.Image.Height > 0 {
		meta["width"] = r.Image.Width
		meta["height"] = r.Image.Height
	}
	if r.Image.ContentType != "" {
		meta["content_type"] = r.Image.ContentType
	}
	return meta
}

type modelOutput struct {
	Images  []Image `json:"images"`
	Timings struct {
		Inference float64 `json:"inference"`
	} `json:"timings"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("fal request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Run posts the input to the synchronous endpoint and waits for the image.
func (c *Client) Run(ctx context.Context, input Input) (Result, error) {
	const op = "run"
	if err := c.requireKey(op); err != nil {
		return Result{}, err
	}
	endpoint, err := url.JoinPath(c.cfg.RunURL, c.cfg.Model)
	if err != nil {
		return Result{}, configError(op, fmt.Sprintf("invalid run url: %v", err))
	}
	body, err := c.doWithRetry(ctx, op, http.MethodPost, endpoint, map[string]any{"input": input})
	if err != nil {
		return Result{}, err
	}
	return normalizeOutput(op, body)
}

// HealthCheck verifies the client has what it needs to reach fal.ai.
func (c *Client) HealthCheck(context.Context) error {
	const op = "health"
	if err := c.requireKey(op); err != nil {
		return err
	}
	for _, raw := range []string{c.cfg.RunURL, c.cfg.QueueURL} {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return configError(op, fmt.Sprintf("invalid endpoint %q", raw))
		}
	}
	return nil
}

func (c *Client) requireKey(op string) error {
	if c.cfg.APIKey == "" {
		return configError(op, "api key required")
	}
	return nil
}

func normalizeOutput(op string, body []byte) (Result, error) {
	var out modelOutput
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, formatError(op, fmt.Errorf("decode response: %w (payload snippet: %s)", err, summarizePayloadSnippet(string(body))))
	}
	if len(out.Images) == 0 || strings.TrimSpace(out.Images[0].URL) == "" {
		return Result{}, formatError(op, fmt.Errorf("missing images[0].url (payload snippet: %s)", summarizePayloadSnippet(string(body))))
	}
	first := out.Images[0]
	first.URL = strings.TrimSpace(first.URL)
	return Result{
		ImageURL:  first.URL,
		Image:     first,
		Images:    out.Images,
		Inference: out.Timings.Inference,
	}, nil
}

func (c *Client) doWithRetry(ctx context.Context, op, method, endpoint string, payload any) ([]byte, error) {
	attempts := c.retryAttempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		body, err := c.sendOnce(ctx, method, endpoint, payload)
		if err == nil {
			return body, nil
		}

		delay, retry := c.retryDelay(ctx, method, err, attempt, attempts)
		if !retry {
			return nil, classify(op, err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, classify(op, err)
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return nil, classify(op, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr))
}

func (c *Client) sendOnce(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("fal request: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("fal request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fal request: read body (timeout=%s): %w", c.timeoutDuration(), err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return body, &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return body, nil
}

// classify turns a transport error into a client-facing *Error.
func classify(op string, err error) error {
	var falErr *Error
	if errors.As(err, &falErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return apiError(op, statusErr.StatusCode, statusErr.Body, err)
	}
	if isTimeout(err) {
		return timeoutError(op, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return noResponseError(op, err)
	}
	return &Error{Op: op, Message: MessageUnknown, Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil {
		return defaultHTTPTimeout
	}
	if c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil {
		return 1
	}
	if c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

// retryDelay decides whether a failed call is sent again. POST starts a paid
// generation, so it is repeated only when fal rejected it with 429 and a
// Retry-After; any other failure may already have started work.
func (c *Client) retryDelay(ctx context.Context, method string, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts {
		return 0, false
	}
	if err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if method == http.MethodPost {
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests && statusErr.RetryAfter > 0 {
			return c.capDelay(statusErr.RetryAfter), true
		}
		return 0, false
	}
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return c.backoffDelay(attempt), true
	}

	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c != nil {
		if c.retryBaseDelay >= 0 {
			base = c.retryBaseDelay
		}
		if c.retryMaxDelay > 0 {
			maxDelay = c.retryMaxDelay
		}
	}
	if base <= 0 {
		return 0
	}

	retryCount := attempt
	if retryCount <= 0 {
		retryCount = 1
	}

	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < retryCount; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c != nil && c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("fal retry: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c != nil && c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func summarizePayloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	clean := strings.Join(strings.Fields(trimmed), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
