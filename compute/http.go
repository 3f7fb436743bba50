// Package compute provides implementations of the calculation service the
// orchestrator polls: an HTTP client for a remote calculation server and an
// in-process local backend.
package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/logger"
)

// HTTPService talks JSON to a calculation server: POST /v1/jobs submits a
// working set, GET /v1/jobs/{id} reports status.
type HTTPService struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// NewHTTPService creates a client for the server at baseURL (no trailing
// slash).
func NewHTTPService(baseURL string, log logger.Logger) *HTTPService {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  log,
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Submit posts the working set. Any non-2xx outcome is an immediate error; no
// job exists afterwards.
func (s *HTTPService) Submit(ctx context.Context, ws core.WorkingSet) (string, error) {
	body, err := json.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("error marshaling working set: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", s.decodeError(resp)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("error decoding submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("submit response missing job id")
	}
	s.logger.Debug(fmt.Sprintf("submitted job %s", out.JobID))
	return out.JobID, nil
}

// Status queries a job. Transport and decode errors are returned as-is; the
// orchestrator treats them as transient and retries next tick.
func (s *HTTPService) Status(ctx context.Context, jobID string) (core.StatusReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return core.StatusReport{}, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return core.StatusReport{}, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.StatusReport{}, s.decodeError(resp)
	}

	var report core.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return core.StatusReport{}, fmt.Errorf("error decoding status response: %w", err)
	}
	return report, nil
}

func (s *HTTPService) decodeError(resp *http.Response) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("calculation server returned %d", resp.StatusCode)
	}
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Message == "" {
		return fmt.Errorf("calculation server returned %d: %s", resp.StatusCode, string(raw))
	}
	return fmt.Errorf("calculation server returned %d: %s: %s",
		resp.StatusCode, envelope.Error.Type, envelope.Error.Message)
}
