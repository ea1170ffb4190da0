package fal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Queue states reported by fal's status endpoint.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
)

// Submission identifies a request accepted by the queue API.
type Submission struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
	CancelURL   string `json:"cancel_url"`
}

// QueueStatus is one poll of a queued request.
type QueueStatus struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	ResponseURL   string `json:"response_url"`
	Logs          []struct {
		Message string `json:"message"`
	} `json:"logs"`
}

// Done reports whether the request has finished on fal's side.
func (s QueueStatus) Done() bool {
	return strings.EqualFold(s.Status, StatusCompleted)
}

// Submit enqueues the input and returns the request handle.
func (c *Client) Submit(ctx context.Context, input Input) (Submission, error) {
	const op = "submit"
	if err := c.requireKey(op); err != nil {
		return Submission{}, err
	}
	endpoint, err := url.JoinPath(c.cfg.QueueURL, c.cfg.Model)
	if err != nil {
		return Submission{}, configError(op, fmt.Sprintf("invalid queue url: %v", err))
	}
	body, err := c.doWithRetry(ctx, op, http.MethodPost, endpoint, input)
	if err != nil {
		return Submission{}, err
	}
	var sub Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return Submission{}, formatError(op, fmt.Errorf("decode submission: %w", err))
	}
	sub.RequestID = strings.TrimSpace(sub.RequestID)
	if sub.RequestID == "" {
		return Submission{}, formatError(op, fmt.Errorf("missing request_id (payload snippet: %s)", summarizePayloadSnippet(string(body))))
	}
	return c.completeSubmission(sub), nil
}

// Status polls the queue for the request state.
func (c *Client) Status(ctx context.Context, sub Submission) (QueueStatus, error) {
	const op = "status"
	if err := c.requireKey(op); err != nil {
		return QueueStatus{}, err
	}
	sub = c.completeSubmission(sub)
	endpoint := sub.StatusURL
	if !strings.Contains(endpoint, "?") {
		endpoint += "?logs=1"
	}
	body, err := c.doWithRetry(ctx, op, http.MethodGet, endpoint, nil)
	if err != nil {
		return QueueStatus{}, err
	}
	var status QueueStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return QueueStatus{}, formatError(op, fmt.Errorf("decode status: %w", err))
	}
	status.Status = strings.ToUpper(strings.TrimSpace(status.Status))
	if status.Status == "" {
		return QueueStatus{}, formatError(op, fmt.Errorf("missing status (payload snippet: %s)", summarizePayloadSnippet(string(body))))
	}
	return status, nil
}

// Result fetches and normalizes the output of a completed request.
func (c *Client) Result(ctx context.Context, sub Submission) (Result, error) {
	const op = "result"
	if err := c.requireKey(op); err != nil {
		return Result{}, err
	}
	sub = c.completeSubmission(sub)
	body, err := c.doWithRetry(ctx, op, http.MethodGet, sub.ResponseURL, nil)
	if err != nil {
		return Result{}, err
	}
	result, err := normalizeOutput(op, body)
	if err != nil {
		return Result{}, err
	}
	result.RequestID = sub.RequestID
	return result, nil
}

// Cancel asks fal to drop a queued request. Requests already running may still
// complete on fal's side.
func (c *Client) Cancel(ctx context.Context, sub Submission) error {
	const op = "cancel"
	if err := c.requireKey(op); err != nil {
		return err
	}
	sub = c.completeSubmission(sub)
	_, err := c.doWithRetry(ctx, op, http.MethodPut, sub.CancelURL, nil)
	return err
}

// Await polls Status every pollInterval until the request completes, maxWait
// elapses or ctx is done. onStatus, when set, observes every poll.
func (c *Client) Await(ctx context.Context, sub Submission, pollInterval, maxWait time.Duration, onStatus func(QueueStatus)) (Result, error) {
	const op = "await"
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	waitCtx := ctx
	if maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}

	for {
		status, err := c.Status(waitCtx, sub)
		if err != nil {
			return Result{}, c.awaitError(ctx, op, err)
		}
		if onStatus != nil {
			onStatus(status)
		}
		if status.Done() {
			if status.ResponseURL != "" {
				sub.ResponseURL = status.ResponseURL
			}
			result, err := c.Result(waitCtx, sub)
			if err != nil {
				return Result{}, c.awaitError(ctx, op, err)
			}
			return result, nil
		}
		if err := c.sleep(waitCtx, pollInterval); err != nil {
			return Result{}, c.awaitError(ctx, op, err)
		}
	}
}

// awaitError reports parent cancellation as-is and the max-wait deadline as a timeout.
func (c *Client) awaitError(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if isTimeout(err) {
		return timeoutError(op, err)
	}
	return err
}

// completeSubmission fills in queue URLs fal omitted, using its documented
// layout: <queue>/<app>/requests/<id>[/status|/cancel].
func (c *Client) completeSubmission(sub Submission) Submission {
	base := c.cfg.QueueURL + "/" + appID(c.cfg.Model) + "/requests/" + url.PathEscape(sub.RequestID)
	if sub.StatusURL == "" {
		sub.StatusURL = base + "/status"
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = base
	}
	if sub.CancelURL == "" {
		sub.CancelURL = base + "/cancel"
	}
	return sub
}

// appID strips a model path down to owner/app, which is what queue request
// URLs are keyed on.
func appID(model string) string {
	parts := strings.Split(strings.Trim(model, "/"), "/")
	if len(parts) <= 2 {
		return strings.Join(parts, "/")
	}
	return strings.Join(parts[:2], "/")
}
