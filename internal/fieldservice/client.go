// Package fieldservice implements the client for the downstream field-service
// backend: job creation, rescheduling, best-effort cancellation, and directory
// resolution, all routed through a rate-limited caller with backoff on
// throttling responses.
package fieldservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fieldrelay/fieldrelay/internal/model"
)

// defaultTimeout bounds every outbound request. A slow call is never
// interrupted by a later notification.
const defaultTimeout = 20 * time.Second

// DirectoryCache persists resolved directory ids. Implemented by
// [state.Store]. Entries never expire; stale ids are corrected by explicit
// overwrite or a cache clear.
type DirectoryCache interface {
	GetCachedDirectoryID(ctx context.Context, kind, lookup string) (string, error)
	CacheDirectoryID(ctx context.Context, kind, lookup, id string) error
}

// Options configures a [Client].
type Options struct {
	// BaseURL is the backend API root, e.g. "https://api.example.com".
	BaseURL string

	// APIToken is sent as a bearer token on every request.
	APIToken string

	// DefaultCustomer is the customer name jobs are booked under when the
	// event carries no other account information.
	DefaultCustomer string

	// Cache persists directory-resolution results.
	Cache DirectoryCache

	// HTTPClient overrides the default client. Its timeout is preserved if
	// set; otherwise the default request timeout applies.
	HTTPClient *http.Client

	// Limiter overrides the default rate limiter. Intended for tests.
	Limiter *Limiter

	Logger *slog.Logger
}

// Client talks to the field-service backend. All operations go through the
// shared [Limiter], so the minimum inter-call spacing holds across job and
// directory calls alike.
type Client struct {
	baseURL         string
	token           string
	defaultCustomer string
	hc              *http.Client
	limiter         *Limiter
	cache           DirectoryCache
	log             *slog.Logger
}

// NewClient creates a Client from opts.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("fieldservice base URL is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("fieldservice directory cache is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	if hc.Timeout == 0 {
		hc.Timeout = defaultTimeout
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(defaultMinInterval)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:         baseURL,
		token:           opts.APIToken,
		defaultCustomer: opts.DefaultCustomer,
		hc:              hc,
		limiter:         limiter,
		cache:           opts.Cache,
		log:             logger,
	}, nil
}

// apiError carries the status and response body of a non-2xx reply so the
// caller can log enough context to diagnose without replaying the request.
type apiError struct {
	status int
	path   string
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("fieldservice %s returned %d: %s", e.path, e.status, e.body)
}

// do executes one HTTP call and returns the raw response body. Throttling and
// not-found replies are mapped to their sentinels; every other non-2xx status
// becomes an [*apiError] with the body captured.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", path, ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, &apiError{status: resp.StatusCode, path: path, body: truncate(raw, 512)}
	}
	return raw, nil
}

// CreateJob submits a job for the given spec and returns the new job id.
// When the creation response does not echo a schedule, a follow-up schedule
// call is issued with the same time range and optional assignee; its failure
// is logged but does not fail the creation, since the job exists even with
// degraded calendar visibility.
func (c *Client) CreateJob(ctx context.Context, spec model.JobSpec) (string, error) {
	payload := map[string]any{
		"customer_id": spec.CustomerID,
		"summary":     spec.Summary,
		"description": spec.Description,
	}

	var raw []byte
	err := c.limiter.Do(ctx, func() error {
		var callErr error
		raw, callErr = c.do(ctx, http.MethodPost, "/api/v1/jobs", payload)
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("creating job %q: %w", spec.Summary, err)
	}

	jobID, err := extractID(raw)
	if err != nil {
		return "", fmt.Errorf("creating job %q: %w", spec.Summary, err)
	}

	if !responseEchoesSchedule(raw) {
		if err := c.setSchedule(ctx, jobID, spec); err != nil {
			c.log.Warn("job created but schedule call failed",
				"job_id", jobID,
				"error", err,
			)
		}
	}
	return jobID, nil
}

// UpdateJob re-issues the schedule for an existing job. A missing job is
// reported as [ErrNotFound] so the caller can recreate it.
func (c *Client) UpdateJob(ctx context.Context, jobID string, spec model.JobSpec) error {
	if err := c.setSchedule(ctx, jobID, spec); err != nil {
		return fmt.Errorf("updating job %s: %w", jobID, err)
	}
	return nil
}

// CancelJob removes a job, best-effort. Backends without a true delete reply
// 404 or 405; both degrade to a warning-only no-op so the caller can always
// proceed to delete the mapping.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	err := c.limiter.Do(ctx, func() error {
		_, callErr := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+jobID, nil)
		return callErr
	})
	if err == nil {
		return nil
	}

	var ae *apiError
	if errors.Is(err, ErrNotFound) || (errors.As(err, &ae) && ae.status == http.StatusMethodNotAllowed) {
		c.log.Warn("backend did not delete job, proceeding anyway", "job_id", jobID, "error", err)
		return nil
	}
	return fmt.Errorf("cancelling job %s: %w", jobID, err)
}

// setSchedule posts the start/end range (and optional assignee) for a job.
func (c *Client) setSchedule(ctx context.Context, jobID string, spec model.JobSpec) error {
	start, end := scheduleRange(spec)
	payload := map[string]any{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}
	if spec.AssigneeID != "" {
		payload["assignee_id"] = spec.AssigneeID
	}
	return c.limiter.Do(ctx, func() error {
		_, callErr := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/schedule", payload)
		return callErr
	})
}

// scheduleRange widens date-only inputs to full start-of-day/end-of-day
// timestamps; timed inputs pass through unchanged.
func scheduleRange(spec model.JobSpec) (time.Time, time.Time) {
	if !spec.AllDay {
		return spec.Start, spec.End
	}
	s := spec.Start
	e := spec.End
	start := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
	end := time.Date(e.Year(), e.Month(), e.Day(), 23, 59, 59, 0, e.Location())
	return start, end
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
