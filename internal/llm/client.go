package llm

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

// Completer sends a prompt to an external completion service and returns the
// raw response text. The service may wrap its output in prose or markdown
// fences and may violate any requested schema; callers decode defensively.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest describes a single completion call
type CompletionRequest struct {
	System         string                 `json:"system,omitempty"`
	Prompt         string                 `json:"prompt"`
	ResponseSchema map[string]interface{} `json:"response_schema,omitempty"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
}

// completionResponse is the wire shape returned by the completion service
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client handles communication with the LLM completion service
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new completion client configured from the environment
func NewClient() *Client {
	baseURL := os.Getenv("LLM_SERVICE_URL")
	if baseURL == "" {
		baseURL = "http://llm-gateway-service:8002"
		log.Printf("WARN: LLM_SERVICE_URL not set, defaulting to %s", baseURL)
	}

	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "claude-sonnet-4"
	}

	// Initialize circuit breaker
	settings := gobreaker.Settings{
		Name:        "llm-completion",
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
		apiKey:  os.Getenv("LLM_API_KEY"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // codegen completions run long
		},
		tracer:  otel.Tracer("llm-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Complete sends the request through the circuit breaker and returns the raw
// completion text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.prompt_bytes", len(req.Prompt)),
		attribute.Bool("llm.schema_requested", req.ResponseSchema != nil),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.completeInternal(ctx, req)
	})

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to complete: %w", err)
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("llm.response_bytes", len(text)))

	return text, nil
}

// completeInternal performs the actual HTTP request
func (c *Client) completeInternal(ctx context.Context, req CompletionRequest) (string, error) {
	messages := []map[string]string{}
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.ResponseSchema != nil {
		body["response_format"] = map[string]interface{}{
			"type":   "json_schema",
			"schema": req.ResponseSchema,
		}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("completion service returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return "", fmt.Errorf("completion service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var completionResp completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completionResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(completionResp.Choices) == 0 {
		return "", fmt.Errorf("completion service returned no choices")
	}

	return completionResp.Choices[0].Message.Content, nil
}

// IsHealthy checks if the completion service is reachable
func (c *Client) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "llm.health_check")
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
