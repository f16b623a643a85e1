package composer

import (
	"context"
	"log"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/llm"
)

// Reviewer evaluates generated files one at a time against a policy context.
// Each call carries the full policy plus one file's content, so files are
// reviewed strictly sequentially rather than batched.
type Reviewer struct {
	completer llm.Completer
}

// NewReviewer creates a reviewer
func NewReviewer(completer llm.Completer) *Reviewer {
	return &Reviewer{completer: completer}
}

// ReviewAll returns one ReviewResult per file, in order. A decode failure on
// one file's review is recorded as a failed review carrying the raw text as
// feedback and does not block review of the remaining files.
func (r *Reviewer) ReviewAll(ctx context.Context, files []GeneratedFile, policy string) []ReviewResult {
	results := make([]ReviewResult, 0, len(files))
	for _, file := range files {
		results = append(results, r.reviewOne(ctx, file, policy))
	}
	return results
}

func (r *Reviewer) reviewOne(ctx context.Context, file GeneratedFile, policy string) ReviewResult {
	prompt := buildReviewPrompt(file, policy)

	text, err := r.completer.Complete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		ResponseSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"filePath", "pass"},
		},
	})
	if err != nil {
		log.Printf(`{"level":"warn","message":"Review completion failed","file":"%s","error":"%v"}`, file.FilePath, err)
		return ReviewResult{FilePath: file.FilePath, Pass: false, Feedback: err.Error()}
	}

	result := decode.Decode[ReviewResult](text)
	if !result.OK() {
		log.Printf(`{"level":"warn","message":"Review decode failed","file":"%s"}`, file.FilePath)
		return ReviewResult{FilePath: file.FilePath, Pass: false, Feedback: result.Raw}
	}

	// The reviewer answers for the file it was shown, whatever path the
	// model echoed back.
	reviewed := result.Value
	reviewed.FilePath = file.FilePath
	return reviewed
}
