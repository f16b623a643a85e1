package composer

import (
	"context"
	"log"
	"strings"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/llm"
)

// TestGenerator derives a smoke-test file for each qualifying UI component in
// a generated file set. Best-effort: failures skip the file and never block
// the build.
type TestGenerator struct {
	completer llm.Completer
}

// NewTestGenerator creates a test generator
func NewTestGenerator(completer llm.Completer) *TestGenerator {
	return &TestGenerator{completer: completer}
}

type testGenPayload struct {
	Content string `json:"content"`
}

// GenerateTests returns smoke-test files for every UI component in files.
// Files whose generation returns no content are skipped.
func (g *TestGenerator) GenerateTests(ctx context.Context, files []GeneratedFile) []GeneratedFile {
	var tests []GeneratedFile
	for _, file := range files {
		if !IsUIComponent(file.FilePath) {
			continue
		}

		text, err := g.completer.Complete(ctx, llm.CompletionRequest{
			Prompt: buildTestGenPrompt(file),
			ResponseSchema: map[string]interface{}{
				"type":     "object",
				"required": []string{"content"},
			},
		})
		if err != nil {
			log.Printf(`{"level":"warn","message":"Test generation failed, skipping","file":"%s","error":"%v"}`, file.FilePath, err)
			continue
		}

		result := decode.Decode[testGenPayload](text)
		if !result.OK() || result.Value.Content == "" {
			log.Printf(`{"level":"warn","message":"Test generation returned no content, skipping","file":"%s"}`, file.FilePath)
			continue
		}

		tests = append(tests, GeneratedFile{
			FilePath: TestPathFor(file.FilePath),
			Content:  result.Value.Content,
		})
	}
	return tests
}

// IsUIComponent reports whether a generated path follows the UI component
// convention: a component-like extension under a components directory.
func IsUIComponent(path string) bool {
	lower := strings.ToLower(path)
	if !strings.Contains(lower, "components/") {
		return false
	}
	return strings.HasSuffix(lower, ".tsx") || strings.HasSuffix(lower, ".jsx")
}

// TestPathFor derives the smoke-test path by suffix substitution
func TestPathFor(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[:idx] + ".test" + path[idx:]
	}
	return path + ".test"
}
