package composer

import (
	"context"
	"strings"
	"sync"

	"github.com/pria-cloud/app-composer/internal/llm"
)

// fakeCompleter scripts completion responses for pipeline tests. The handler
// sees every request; kind helpers below classify prompts the way the phases
// build them.
type fakeCompleter struct {
	mu      sync.Mutex
	handler func(req llm.CompletionRequest) (string, error)
	calls   []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.handler(req)
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func isDiscoveryPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "You are gathering requirements")
}

func isPlanPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "Produce an ordered action plan")
}

func isCodegenPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "Generate the source files")
}

func isCorrectionPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "The file below failed policy review")
}

func isReviewPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "Review the file below")
}

func isTestGenPrompt(req llm.CompletionRequest) bool {
	return strings.HasPrefix(req.Prompt, "Write a smoke test")
}

func containsFile(req llm.CompletionRequest, path string) bool {
	return strings.Contains(req.Prompt, path)
}

// reviewedPath extracts the file path a review prompt is about
func reviewedPath(req llm.CompletionRequest) string {
	const marker = "\nFile: "
	idx := strings.Index(req.Prompt, marker)
	if idx < 0 {
		return ""
	}
	rest := req.Prompt[idx+len(marker):]
	if end := strings.Index(rest, "\n"); end >= 0 {
		return rest[:end]
	}
	return rest
}
