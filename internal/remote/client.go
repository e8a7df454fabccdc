// Package remote is the desk's adapter to the Hive REST backend. The backend
// owns users, jobs and published round results; the desk only reads them and
// pushes round membership back.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/justsurfingit/jobquest-hive/internal/models"
	"github.com/sirupsen/logrus"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hive backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("hive backend returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type UploadRequest struct {
	JobID     string   `json:"jobId"`
	Users     []string `json:"users"`
	Status    string   `json:"status"`
	RoundName string   `json:"roundName"`
}

type UploadResponse struct {
	SkippedUsers []string `json:"skippedUsers"`
}

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	// GetAttempts bounds how often an idempotent GET is tried. Values below 1
	// mean a single attempt.
	GetAttempts int
	Backoff     time.Duration
	Logger      logrus.FieldLogger
}

type Client struct {
	baseURL     string
	http        *http.Client
	getAttempts int
	backoff     time.Duration
	log         logrus.FieldLogger
}

func New(opts Options) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		http:        opts.HTTPClient,
		getAttempts: opts.GetAttempts,
		backoff:     opts.Backoff,
		log:         opts.Logger,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.getAttempts < 1 {
		c.getAttempts = 1
	}
	if c.backoff <= 0 {
		c.backoff = 200 * time.Millisecond
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// UploadRoundResults publishes the usernames of a round. The backend answers
// with the usernames it could not match to a user record.
func (c *Client) UploadRoundResults(ctx context.Context, req UploadRequest) (UploadResponse, error) {
	var out UploadResponse
	err := c.do(ctx, http.MethodPost, "/api/rounds/upload", req, &out)
	if out.SkippedUsers == nil {
		out.SkippedUsers = []string{}
	}
	return out, err
}

// GetSpecificRoundResults lists the published results of one round of a job.
func (c *Client) GetSpecificRoundResults(ctx context.Context, jobID, roundName string) ([]models.RoundResult, error) {
	var out []models.RoundResult
	path := fmt.Sprintf("/api/rounds/results/%s/%s", url.PathEscape(jobID), url.PathEscape(roundName))
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *Client) DeleteRound(ctx context.Context, roundID string) error {
	return c.do(ctx, http.MethodDelete, "/api/rounds/"+url.PathEscape(roundID), nil, nil)
}

// GetUserRoundResults lists the round results of the caller.
func (c *Client) GetUserRoundResults(ctx context.Context) ([]models.RoundResult, error) {
	var out []models.RoundResult
	err := c.get(ctx, "/api/rounds/user", &out)
	return out, err
}

func (c *Client) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	var out models.Job
	err := c.get(ctx, "/api/jobs/"+url.PathEscape(jobID), &out)
	return out, err
}

// get retries transient failures. Client errors (4xx) are returned at once.
func (c *Client) get(ctx context.Context, path string, out any) error {
	sleep := c.backoff
	var err error
	for i := 0; i < c.getAttempts; i++ {
		err = c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil || !retryable(err) || i == c.getAttempts-1 {
			break
		}
		c.log.WithFields(logrus.Fields{"path": path, "attempt": i + 1, "error": err}).
			Warn("hive backend call failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		sleep *= 2
	}
	return err
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true
}

// envelope is the backend's response wrapper.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("hive backend call")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if decodeErr != nil {
			msg = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
