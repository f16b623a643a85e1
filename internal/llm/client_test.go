package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	client := NewClient()

	assert.NotNil(t, client)
	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.tracer)
	assert.NotNil(t, client.breaker)
	assert.NotEmpty(t, client.baseURL)
}

func TestClient_Complete(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(w http.ResponseWriter, r *http.Request)
		request        CompletionRequest
		expectedError  string
		expectedText   string
	}{
		{
			name: "successful_completion",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var body map[string]interface{}
				err := json.NewDecoder(r.Body).Decode(&body)
				assert.NoError(t, err)
				messages := body["messages"].([]interface{})
				assert.Len(t, messages, 2) // system + user

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"choices":[{"message":{"content":"hello from the model"}}]}`))
			},
			request:      CompletionRequest{System: "be terse", Prompt: "say hello"},
			expectedText: "hello from the model",
		},
		{
			name: "schema_hint_forwarded",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				var body map[string]interface{}
				err := json.NewDecoder(r.Body).Decode(&body)
				assert.NoError(t, err)
				assert.Contains(t, body, "response_format")

				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"choices":[{"message":{"content":"{}"}}]}`))
			},
			request: CompletionRequest{
				Prompt:         "plan it",
				ResponseSchema: map[string]interface{}{"type": "object"},
			},
			expectedText: "{}",
		},
		{
			name: "server_error",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("Internal server error"))
			},
			request:       CompletionRequest{Prompt: "say hello"},
			expectedError: "completion service returned status 500",
		},
		{
			name: "empty_choices",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"choices":[]}`))
			},
			request:       CompletionRequest{Prompt: "say hello"},
			expectedError: "no choices",
		},
		{
			name: "invalid_json_response",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("not json"))
			},
			request:       CompletionRequest{Prompt: "say hello"},
			expectedError: "failed to decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			client := NewClient()
			client.SetBaseURL(server.URL)

			text, err := client.Complete(context.Background(), tt.request)

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedText, text)
			}
		})
	}
}

func TestClient_IsHealthy(t *testing.T) {
	t.Run("healthy_service", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := NewClient()
		client.SetBaseURL(server.URL)

		assert.True(t, client.IsHealthy(context.Background()))
	})

	t.Run("unreachable_service", func(t *testing.T) {
		client := NewClient()
		client.SetBaseURL("http://127.0.0.1:1")

		assert.False(t, client.IsHealthy(context.Background()))
	})
}
