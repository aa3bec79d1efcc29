// Package sandbox is the HTTP client for the upstream AI code-generation
// sandbox service: the streaming generate endpoint, the apply endpoint
// (whose SSE stream is consumed server-side into a typed outcome), and the
// sandbox status/kill endpoints.
package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/appweaver/api/internal/models"
)

// Client talks to the upstream AI sandbox service.
type Client struct {
	baseURL string
	logger  *zap.Logger

	// api carries bounded JSON calls; stream carries SSE reads, which must
	// not have an overall timeout (the relay enforces per-read deadlines).
	api    *http.Client
	stream *http.Client
}

// NewClient creates a sandbox service client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		api:     &http.Client{Timeout: 60 * time.Second, Transport: transport},
		stream:  &http.Client{Transport: transport},
	}
}

// GenerateRequest is the upstream generate payload.
type GenerateRequest struct {
	Prompt  string           `json:"prompt"`
	Model   string           `json:"model,omitempty"`
	Context *GenerateContext `json:"context,omitempty"`
}

// GenerateContext carries optional request context for the upstream model.
type GenerateContext struct {
	SandboxID string `json:"sandboxId,omitempty"`
	Language  string `json:"language,omitempty"`
	Profile   string `json:"profile,omitempty"`
}

// GenerateStream opens the upstream streaming generate endpoint and
// returns its SSE body. The caller owns closing it.
func (c *Client) GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate-ai-code-stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open generate stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("generate stream rejected: %s: %s", resp.Status, readErrorBody(resp.Body))
	}
	return resp.Body, nil
}

// ApplyOutcome is the upstream apply stream condensed into one result.
type ApplyOutcome struct {
	FilesCreated      []string
	FilesUpdated      []string
	PackagesInstalled []string
	FileErrors        []string
	Warnings          []string

	SandboxID  string
	PreviewURL string

	Completed    bool
	ErrorMessage string
}

// applyFrame covers every event shape the apply stream emits.
type applyFrame struct {
	Type      string        `json:"type"`
	Results   *applyResults `json:"results,omitempty"`
	SandboxID string        `json:"sandboxId,omitempty"`
	URL       string        `json:"url,omitempty"`
	File      string        `json:"file,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
}

type applyResults struct {
	FilesCreated      []string `json:"filesCreated"`
	FilesUpdated      []string `json:"filesUpdated"`
	PackagesInstalled []string `json:"packagesInstalled"`
	Errors            []string `json:"errors"`
}

// Apply submits a serialized file bundle to the sandbox and consumes the
// upstream SSE response until its terminal event.
func (c *Client) Apply(ctx context.Context, sandboxID, response string) (*ApplyOutcome, error) {
	body, err := json.Marshal(map[string]string{
		"sandboxId": sandboxID,
		"response":  response,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/apply-ai-code-stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("apply call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apply rejected: %s: %s", resp.Status, readErrorBody(resp.Body))
	}

	return c.consumeApplyStream(resp.Body), nil
}

func (c *Client) consumeApplyStream(body io.Reader) *ApplyOutcome {
	outcome := &ApplyOutcome{}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var frame applyFrame
		if err := json.Unmarshal([]byte(line[len("data: "):]), &frame); err != nil {
			c.logger.Debug("skipping unparseable apply frame", zap.String("line", line))
			continue
		}

		switch frame.Type {
		case "complete":
			outcome.Completed = true
			if frame.Results != nil {
				outcome.FilesCreated = frame.Results.FilesCreated
				outcome.FilesUpdated = frame.Results.FilesUpdated
				outcome.PackagesInstalled = frame.Results.PackagesInstalled
				outcome.FileErrors = append(outcome.FileErrors, frame.Results.Errors...)
			}
		case "sandbox":
			outcome.SandboxID = frame.SandboxID
			outcome.PreviewURL = frame.URL
		case "file-error":
			outcome.FileErrors = append(outcome.FileErrors, frame.File+": "+frame.Error)
		case "warning":
			outcome.Warnings = append(outcome.Warnings, frame.Message)
		case "error":
			outcome.ErrorMessage = firstNonEmpty(frame.Error, frame.Message)
		}
	}

	if err := scanner.Err(); err != nil && outcome.ErrorMessage == "" {
		outcome.ErrorMessage = err.Error()
	}

	return outcome
}

// Status probes the sandbox state. Probe failures degrade to an unknown
// health, never an error: the sandbox is externally owned.
func (c *Client) Status(ctx context.Context, sandboxID string) (models.SandboxSession, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sandbox-status?sandboxId="+sandboxID, nil)
	if err != nil {
		return models.SandboxSession{}, err
	}

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return models.SandboxSession{SandboxID: sandboxID, Health: models.SandboxUnknown}, nil
	}
	defer resp.Body.Close()

	var payload struct {
		Active  bool   `json:"active"`
		Healthy bool   `json:"healthy"`
		URL     string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.SandboxSession{SandboxID: sandboxID, Health: models.SandboxUnknown}, nil
	}

	health := models.SandboxUnhealthy
	if payload.Healthy {
		health = models.SandboxHealthy
	}
	return models.SandboxSession{
		SandboxID:  sandboxID,
		PreviewURL: payload.URL,
		Health:     health,
	}, nil
}

// Kill tears down a sandbox.
func (c *Client) Kill(ctx context.Context, sandboxID string) error {
	body, _ := json.Marshal(map[string]string{"sandboxId": sandboxID})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/kill-sandbox", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("kill sandbox: %s", resp.Status)
	}
	return nil
}

// Ping reports whether the upstream service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.api.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(b))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
