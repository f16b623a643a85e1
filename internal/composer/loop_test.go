package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pria-cloud/app-composer/internal/llm"
)

func codegenJSON(t *testing.T, deps []string, files ...GeneratedFile) string {
	t.Helper()
	raw, err := json.Marshal(CodegenResult{Dependencies: deps, Files: files})
	require.NoError(t, err)
	return string(raw)
}

func reviewJSON(path string, pass bool, feedback string) string {
	return fmt.Sprintf("{\"filePath\": %q, \"pass\": %t, \"feedback\": %q}", path, pass, feedback)
}

func TestLoop_CleanPassReturnsInitialFiles(t *testing.T) {
	initial := []GeneratedFile{
		{FilePath: "app/page.tsx", Content: "page"},
		{FilePath: "app/api/orders/route.ts", Content: "route"},
	}
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			switch {
			case isCodegenPrompt(req):
				return codegenJSON(t, []string{"zod"}, initial...), nil
			case isReviewPrompt(req):
				return reviewJSON(reviewedPath(req), true, ""), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), DefaultMaxRetries)

	out, err := loop.Run(context.Background(), ApplicationSpec{Description: "orders"}, Plan{}, "policy", "", nil)

	require.NoError(t, err)
	assert.Equal(t, initial, out.Files)
	assert.Equal(t, []string{"zod"}, out.Dependencies)
	assert.Zero(t, out.Corrections)
}

func TestLoop_AlwaysFailingReviewerExhaustsRetries(t *testing.T) {
	var mu sync.Mutex
	reviewPasses := 0
	seenPaths := map[string]bool{}

	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			switch {
			case isCodegenPrompt(req):
				return codegenJSON(t, nil,
					GeneratedFile{FilePath: "app/a.tsx", Content: "a"},
					GeneratedFile{FilePath: "app/b.tsx", Content: "b"},
				), nil
			case isCorrectionPrompt(req):
				return codegenJSON(t, nil, GeneratedFile{FilePath: "app/a.tsx", Content: "still wrong"}), nil
			case isReviewPrompt(req):
				path := reviewedPath(req)
				mu.Lock()
				if !seenPaths[path] {
					seenPaths[path] = true
				}
				if path == "app/a.tsx" {
					reviewPasses++
				}
				mu.Unlock()
				return reviewJSON(path, false, "never good enough"), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), 3)

	_, err := loop.Run(context.Background(), ApplicationSpec{Description: "doomed"}, Plan{}, "policy", "", nil)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Retries)
	assert.Equal(t, "app/a.tsx", exhausted.FilePath)
	assert.Equal(t, "never good enough", exhausted.Feedback)
	// Three full review passes, no more: the budget bounds iterations even
	// though the reviewer would fail forever.
	assert.Equal(t, 3, reviewPasses)
}

func TestLoop_SecondPassFixCorrectsOnlyFailingFile(t *testing.T) {
	var mu sync.Mutex
	pass := map[string]int{}

	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			switch {
			case isCodegenPrompt(req):
				return codegenJSON(t, []string{"zod"},
					GeneratedFile{FilePath: "app/a.tsx", Content: "original a"},
					GeneratedFile{FilePath: "app/b.tsx", Content: "original b"},
					GeneratedFile{FilePath: "app/c.tsx", Content: "original c"},
				), nil
			case isCorrectionPrompt(req):
				assert.Contains(t, req.Prompt, "missing tenant filter")
				return codegenJSON(t, []string{"@supabase/ssr"},
					GeneratedFile{FilePath: "app/b.tsx", Content: "corrected b"},
				), nil
			case isReviewPrompt(req):
				path := reviewedPath(req)
				mu.Lock()
				pass[path]++
				n := pass[path]
				mu.Unlock()
				if path == "app/b.tsx" && n == 1 {
					return reviewJSON(path, false, "missing tenant filter"), nil
				}
				return reviewJSON(path, true, ""), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), DefaultMaxRetries)

	out, err := loop.Run(context.Background(), ApplicationSpec{Description: "orders"}, Plan{}, "policy", "", nil)

	require.NoError(t, err)
	require.Len(t, out.Files, 3)
	assert.Equal(t, 1, out.Corrections)

	byPath := map[string]string{}
	for _, f := range out.Files {
		byPath[f.FilePath] = f.Content
	}
	assert.Equal(t, "original a", byPath["app/a.tsx"])
	assert.Equal(t, "corrected b", byPath["app/b.tsx"])
	assert.Equal(t, "original c", byPath["app/c.tsx"])

	// New dependencies from the correction merge without duplicating.
	assert.Equal(t, []string{"zod", "@supabase/ssr"}, out.Dependencies)
}

func TestLoop_MissingFileRegeneratedFromPlanStep(t *testing.T) {
	plan := Plan{Steps: []ActionPlanStep{
		{FilePath: "app/a.tsx", Description: "the page"},
		{FilePath: "app/b.tsx", Description: "the missing one"},
	}}

	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			if isCodegenPrompt(req) {
				// The re-request is restricted to the missing step.
				assert.Contains(t, req.Prompt, "the missing one")
				assert.NotContains(t, req.Prompt, "the page")
				return codegenJSON(t, nil, GeneratedFile{FilePath: "app/b.tsx", Content: "late b"}), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), DefaultMaxRetries)

	files := []GeneratedFile{{FilePath: "app/a.tsx", Content: "a"}}
	corrected, _ := loop.correctOne(context.Background(), ApplicationSpec{}, plan, files, ReviewResult{
		FilePath: "app/b.tsx",
		Pass:     false,
		Feedback: "file app/b.tsx was never generated",
	})

	require.Len(t, corrected, 2)
	assert.Equal(t, "app/b.tsx", corrected[1].FilePath)
	assert.Equal(t, "late b", corrected[1].Content)
	// The input slice is untouched.
	assert.Len(t, files, 1)
}

func TestLoop_EmptyCorrectionFallsBackToRegeneration(t *testing.T) {
	plan := Plan{Steps: []ActionPlanStep{{FilePath: "app/a.tsx", Description: "the page"}}}

	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			switch {
			case isCorrectionPrompt(req):
				// Correction-mode response with nothing in it.
				return `{"dependencies": [], "files": []}`, nil
			case isCodegenPrompt(req):
				return codegenJSON(t, nil, GeneratedFile{FilePath: "app/a.tsx", Content: "regenerated"}), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), DefaultMaxRetries)

	files := []GeneratedFile{{FilePath: "app/a.tsx", Content: "bad"}}
	corrected, _ := loop.correctOne(context.Background(), ApplicationSpec{}, plan, files, ReviewResult{
		FilePath: "app/a.tsx",
		Feedback: "broken",
	})

	require.Len(t, corrected, 1)
	assert.Equal(t, "regenerated", corrected[0].Content)
}

func TestLoop_SingleFileResponseAcceptedDespiteMismatchedPath(t *testing.T) {
	got := pickFile([]GeneratedFile{{FilePath: "wrong/echo.tsx", Content: "fixed"}}, "app/a.tsx")
	require.NotNil(t, got)
	assert.Equal(t, "app/a.tsx", got.FilePath)
	assert.Equal(t, "fixed", got.Content)

	// A multi-file response with no path match is not guessed at.
	assert.Nil(t, pickFile([]GeneratedFile{
		{FilePath: "x.tsx", Content: "1"},
		{FilePath: "y.tsx", Content: "2"},
	}, "app/a.tsx"))
}

func TestLoop_CancelledContextStopsRun(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			return codegenJSON(t, nil, GeneratedFile{FilePath: "app/a.tsx", Content: "a"}), nil
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), DefaultMaxRetries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx, ApplicationSpec{}, Plan{}, "policy", "", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoop_ReportsEachReviewPass(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			switch {
			case isCodegenPrompt(req), isCorrectionPrompt(req):
				return codegenJSON(t, nil, GeneratedFile{FilePath: "app/a.tsx", Content: "a"}), nil
			case isReviewPrompt(req):
				return reviewJSON(reviewedPath(req), false, "never good enough"), nil
			}
			return "", fmt.Errorf("unexpected prompt")
		},
	}
	loop := NewLoop(NewExecutor(fake), NewReviewer(fake), 3)

	var passes []int
	_, err := loop.Run(context.Background(), ApplicationSpec{Description: "doomed"}, Plan{}, "policy", "", func(pass int) {
		passes = append(passes, pass)
	})

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	// One notification per review sweep, numbered from 1.
	assert.Equal(t, []int{1, 2, 3}, passes)
}

func TestMergeDependencies(t *testing.T) {
	assert.Equal(t,
		[]string{"zod", "swr", "date-fns"},
		mergeDependencies([]string{"zod", "swr"}, []string{"swr", "", "date-fns"}))
}
