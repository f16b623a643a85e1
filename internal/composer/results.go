package composer

import (
	"sync"
	"time"

	"github.com/pria-cloud/app-composer/internal/models"
)

// BuildResult is the polled terminal state of a background build
type BuildResult struct {
	ConversationID string             `json:"conversation_id"`
	Status         models.BuildStatus `json:"status"`
	Files          []GeneratedFile    `json:"files,omitempty"`
	Dependencies   []string           `json:"dependencies,omitempty"`
	Corrections    int                `json:"corrections"`
	Error          string             `json:"error,omitempty"`
	ErrorCode      string             `json:"error_code,omitempty"`
	PreviewURL     string             `json:"preview_url,omitempty"`
	PreviewToken   string             `json:"preview_token,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// ResultStore holds build results for polling. It is constructed once in main
// and injected into the request-handling layer; its contents live for the
// process lifetime.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string]BuildResult
}

// NewResultStore creates an empty result store
func NewResultStore() *ResultStore {
	return &ResultStore{results: make(map[string]BuildResult)}
}

// Begin records an in-progress build for a conversation
func (s *ResultStore) Begin(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[conversationID] = BuildResult{
		ConversationID: conversationID,
		Status:         models.StatusInProgress,
		StartedAt:      time.Now().UTC(),
	}
}

// Complete records a successful terminal state
func (s *ResultStore) Complete(conversationID string, output BuildOutput, previewURL, previewToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.results[conversationID]
	now := time.Now().UTC()
	result.ConversationID = conversationID
	result.Status = models.StatusCompleted
	result.Files = output.Files
	result.Dependencies = output.Dependencies
	result.Corrections = output.Corrections
	result.PreviewURL = previewURL
	result.PreviewToken = previewToken
	result.FinishedAt = &now
	s.results[conversationID] = result
}

// Fail records a failed terminal state
func (s *ResultStore) Fail(conversationID, errorCode, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.results[conversationID]
	now := time.Now().UTC()
	result.ConversationID = conversationID
	result.Status = models.StatusFailed
	result.Error = message
	result.ErrorCode = errorCode
	result.FinishedAt = &now
	s.results[conversationID] = result
}

// Get returns the result for a conversation, if any
func (s *ResultStore) Get(conversationID string) (BuildResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[conversationID]
	return result, ok
}
