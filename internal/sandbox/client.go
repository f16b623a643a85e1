package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ProviderInterface defines the interface for the sandbox provider client
type ProviderInterface interface {
	Create(ctx context.Context, req CreateRequest) (*Workspace, error)
	Get(ctx context.Context, sandboxID string) (*Workspace, error)
	Exec(ctx context.Context, sandboxID string, req ExecRequest) (*ExecResult, error)
	WriteFile(ctx context.Context, sandboxID, path, content string) error
	Delete(ctx context.Context, sandboxID string) error
	PreviewLink(ctx context.Context, sandboxID string, port int) (*PreviewLink, error)
	IsHealthy(ctx context.Context) bool
}

// CreateRequest describes a new remote environment
type CreateRequest struct {
	Labels           map[string]string `json:"labels,omitempty"`
	AutoStopInterval int               `json:"auto_stop_interval"`
	Image            string            `json:"image,omitempty"`
}

// Workspace is the provider's view of a remote environment
type Workspace struct {
	ID               string `json:"id"`
	State            string `json:"state"` // "started", "stopped", "error"
	WorkingDirectory string `json:"working_directory"`
}

// ExecRequest is one command execution inside a workspace
type ExecRequest struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// execResponse is the wire shape of an execution result
type execResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// PreviewLink is an authenticated preview endpoint for a forwarded port
type PreviewLink struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Client handles communication with the sandbox provider API
type Client struct {
	baseURL    string
	apiKey     string
	target     string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new sandbox provider client configured from the environment
func NewClient() *Client {
	baseURL := os.Getenv("SANDBOX_API_URL")
	if baseURL == "" {
		baseURL = "https://api.daytona.io"
		log.Printf("WARN: SANDBOX_API_URL not set, defaulting to %s", baseURL)
	}

	target := os.Getenv("SANDBOX_TARGET")
	if target == "" {
		target = "us"
	}

	// Initialize circuit breaker
	settings := gobreaker.Settings{
		Name:        "sandbox-provider",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  os.Getenv("SANDBOX_API_KEY"),
		target:  target,
		httpClient: &http.Client{
			Timeout: 11 * time.Minute, // exec calls carry their own deadline; this is the outer bound
		},
		tracer:  otel.Tracer("sandbox-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Create provisions a new remote environment
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Workspace, error) {
	ctx, span := c.tracer.Start(ctx, "sandbox.create")
	defer span.End()

	var ws Workspace
	err := c.do(ctx, "POST", "/sandboxes", req, &ws)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	span.SetAttributes(attribute.String("sandbox.id", ws.ID))
	return &ws, nil
}

// Get fetches the current state of a remote environment
func (c *Client) Get(ctx context.Context, sandboxID string) (*Workspace, error) {
	ctx, span := c.tracer.Start(ctx, "sandbox.get")
	defer span.End()
	span.SetAttributes(attribute.String("sandbox.id", sandboxID))

	var ws Workspace
	err := c.do(ctx, "GET", "/sandboxes/"+sandboxID, nil, &ws)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get sandbox %s: %w", sandboxID, err)
	}

	span.SetAttributes(attribute.String("sandbox.state", ws.State))
	return &ws, nil
}

// Exec runs a command inside the environment and blocks until it completes or
// the request deadline expires.
func (c *Client) Exec(ctx context.Context, sandboxID string, req ExecRequest) (*ExecResult, error) {
	ctx, span := c.tracer.Start(ctx, "sandbox.exec")
	defer span.End()
	span.SetAttributes(
		attribute.String("sandbox.id", sandboxID),
		attribute.Int("sandbox.timeout_seconds", req.TimeoutSeconds),
	)

	var resp execResponse
	err := c.do(ctx, "POST", "/sandboxes/"+sandboxID+"/exec", req, &resp)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to exec in sandbox %s: %w", sandboxID, err)
	}

	span.SetAttributes(attribute.Int("sandbox.exit_code", resp.ExitCode))
	return &ExecResult{
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
		Duration: time.Duration(resp.DurationMs) * time.Millisecond,
	}, nil
}

// WriteFile uploads one file into the environment's filesystem
func (c *Client) WriteFile(ctx context.Context, sandboxID, path, content string) error {
	ctx, span := c.tracer.Start(ctx, "sandbox.write_file")
	defer span.End()
	span.SetAttributes(
		attribute.String("sandbox.id", sandboxID),
		attribute.String("sandbox.file_path", path),
	)

	body := map[string]string{"path": path, "content": content}
	if err := c.do(ctx, "POST", "/sandboxes/"+sandboxID+"/files", body, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to write file %s in sandbox %s: %w", path, sandboxID, err)
	}
	return nil
}

// Delete tears down a remote environment
func (c *Client) Delete(ctx context.Context, sandboxID string) error {
	ctx, span := c.tracer.Start(ctx, "sandbox.delete")
	defer span.End()
	span.SetAttributes(attribute.String("sandbox.id", sandboxID))

	if err := c.do(ctx, "DELETE", "/sandboxes/"+sandboxID, nil, nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete sandbox %s: %w", sandboxID, err)
	}
	return nil
}

// PreviewLink fetches the authenticated preview endpoint for a forwarded port
func (c *Client) PreviewLink(ctx context.Context, sandboxID string, port int) (*PreviewLink, error) {
	ctx, span := c.tracer.Start(ctx, "sandbox.preview_link")
	defer span.End()
	span.SetAttributes(
		attribute.String("sandbox.id", sandboxID),
		attribute.Int("sandbox.port", port),
	)

	var link PreviewLink
	err := c.do(ctx, "GET", fmt.Sprintf("/sandboxes/%s/preview/%d", sandboxID, port), nil, &link)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get preview link for sandbox %s: %w", sandboxID, err)
	}
	return &link, nil
}

// do performs one provider API call through the circuit breaker
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doInternal(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) doInternal(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.target != "" {
		httpReq.Header.Set("X-Daytona-Target", c.target)
	}

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("sandbox provider returned status %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("sandbox provider returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsHealthy checks if the sandbox provider is reachable
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "sandbox.health_check")
	defer span.End()

	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
