package composer

import (
	"context"
	"log"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/llm"
)

// CodegenResult is the decoded output of a codegen invocation
type CodegenResult struct {
	Dependencies []string        `json:"dependencies"`
	Files        []GeneratedFile `json:"files"`
}

// Executor converts an action plan, or a single failed-file correction
// request, into a file set plus dependency list.
type Executor struct {
	completer llm.Completer
}

// NewExecutor creates a codegen executor
func NewExecutor(completer llm.Completer) *Executor {
	return &Executor{completer: completer}
}

// Generate runs initial-mode codegen over the given plan steps. Decode
// failures are fail-soft: an empty result is returned so the correction loop
// can re-invoke without aborting the build.
func (e *Executor) Generate(ctx context.Context, spec ApplicationSpec, steps []ActionPlanStep, schemaContext string) CodegenResult {
	prompt := buildCodegenPrompt(spec, steps, schemaContext)
	return e.invoke(ctx, prompt)
}

// Correct runs correction-mode codegen for one previously failed file. The
// response is expected to contain a replacement for exactly that file; an
// empty result signals the caller to fall back to re-requesting the file.
func (e *Executor) Correct(ctx context.Context, spec ApplicationSpec, file GeneratedFile, feedback string) CodegenResult {
	prompt := buildCorrectionPrompt(spec, file, feedback)
	return e.invoke(ctx, prompt)
}

// invoke shares the completion + decode path between both modes
func (e *Executor) invoke(ctx context.Context, prompt string) CodegenResult {
	text, err := e.completer.Complete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		ResponseSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"files"},
		},
	})
	if err != nil {
		log.Printf(`{"level":"warn","message":"Codegen completion failed","error":"%v"}`, err)
		return CodegenResult{}
	}

	result := decode.Decode[CodegenResult](text)
	if !result.OK() {
		log.Printf(`{"level":"warn","message":"Codegen decode failed","raw_bytes":%d}`, len(result.Raw))
		return CodegenResult{}
	}

	// Drop files the model emitted without a path; they are untraceable.
	files := make([]GeneratedFile, 0, len(result.Value.Files))
	for _, f := range result.Value.Files {
		if f.FilePath == "" {
			log.Printf(`{"level":"warn","message":"Dropping generated file with empty path"}`)
			continue
		}
		files = append(files, f)
	}
	result.Value.Files = files

	return result.Value
}
