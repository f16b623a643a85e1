package composer

import (
	"context"
	"log"
)

// iteration is an immutable snapshot of one correction-loop pass: the file
// set under review and the failures the reviewer reported against it.
type iteration struct {
	number   int
	files    []GeneratedFile
	failures []ReviewResult
}

// Loop orchestrates the codegen executor and the reviewer across bounded
// retries. One file is corrected per iteration; the whole file set is
// re-reviewed from scratch on every pass.
type Loop struct {
	executor   *Executor
	reviewer   *Reviewer
	maxRetries int
}

// NewLoop creates a correction loop controller. maxRetries bounds the number
// of full review iterations.
func NewLoop(executor *Executor, reviewer *Reviewer, maxRetries int) *Loop {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Loop{executor: executor, reviewer: reviewer, maxRetries: maxRetries}
}

// Run generates the initial file set from the plan, then reviews and corrects
// until every file passes or the retry budget is exhausted. onReviewPass, if
// non-nil, is invoked with the 1-based pass number before each review sweep.
// On exhaustion it returns a RetryExhaustedError naming the first
// still-failing file and its feedback.
func (l *Loop) Run(ctx context.Context, spec ApplicationSpec, plan Plan, policy, schemaContext string, onReviewPass func(pass int)) (BuildOutput, error) {
	initial := l.executor.Generate(ctx, spec, plan.Steps, schemaContext)

	current := iteration{
		number: 0,
		files:  initial.Files,
	}
	dependencies := initial.Dependencies
	corrections := 0
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			return BuildOutput{}, err
		}

		if onReviewPass != nil {
			onReviewPass(retries + 1)
		}
		results := l.reviewer.ReviewAll(ctx, current.files, policy)
		failures := failing(results)
		if len(failures) == 0 {
			return BuildOutput{Files: current.files, Dependencies: dependencies, Corrections: corrections}, nil
		}

		retries++
		if retries >= l.maxRetries {
			first := failures[0]
			return BuildOutput{}, &RetryExhaustedError{
				Retries:  retries,
				FilePath: first.FilePath,
				Feedback: first.Feedback,
			}
		}

		// Correct only the first failing file; the rest get re-verified on
		// the next pass.
		first := failures[0]
		corrected, extraDeps := l.correctOne(ctx, spec, plan, current.files, first)
		dependencies = mergeDependencies(dependencies, extraDeps)
		corrections++

		current = iteration{
			number:   current.number + 1,
			files:    corrected,
			failures: failures,
		}
	}
}

// correctOne produces the next file set with the failing file replaced (or
// appended, if it was missing from the working set). The input slice is never
// mutated.
func (l *Loop) correctOne(ctx context.Context, spec ApplicationSpec, plan Plan, files []GeneratedFile, failure ReviewResult) ([]GeneratedFile, []string) {
	existing, found := findFile(files, failure.FilePath)

	var result CodegenResult
	if found {
		result = l.executor.Correct(ctx, spec, existing, failure.Feedback)
		if pickFile(result.Files, failure.FilePath) == nil {
			// Correction yielded nothing usable: fall back to re-requesting
			// the file through initial-mode codegen restricted to its step.
			log.Printf(`{"level":"warn","message":"Correction yielded no usable file, re-requesting","file":"%s"}`, failure.FilePath)
			result = l.regenerateMissing(ctx, spec, plan, failure)
		}
	} else {
		result = l.regenerateMissing(ctx, spec, plan, failure)
	}

	replacement := pickFile(result.Files, failure.FilePath)
	if replacement == nil {
		// Nothing usable came back at all; carry the file set forward
		// unchanged and let the next review pass spend the budget.
		log.Printf(`{"level":"warn","message":"No replacement produced","file":"%s"}`, failure.FilePath)
		return files, result.Dependencies
	}

	return replaceOrAppend(files, *replacement), result.Dependencies
}

// regenerateMissing re-requests a single file via initial-mode codegen
// restricted to its originating plan step. A file whose step cannot be found
// is treated the same way, with the review feedback standing in for the
// step description.
func (l *Loop) regenerateMissing(ctx context.Context, spec ApplicationSpec, plan Plan, failure ReviewResult) CodegenResult {
	step, ok := plan.StepFor(failure.FilePath)
	if !ok {
		step = ActionPlanStep{FilePath: failure.FilePath, Description: failure.Feedback}
	}
	return l.executor.Generate(ctx, spec, []ActionPlanStep{step}, "")
}

func failing(results []ReviewResult) []ReviewResult {
	var out []ReviewResult
	for _, r := range results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

func findFile(files []GeneratedFile, path string) (GeneratedFile, bool) {
	for _, f := range files {
		if f.FilePath == path {
			return f, true
		}
	}
	return GeneratedFile{}, false
}

func pickFile(files []GeneratedFile, path string) *GeneratedFile {
	for i := range files {
		if files[i].FilePath == path {
			return &files[i]
		}
	}
	// A correction response carrying exactly one file is accepted for the
	// requested path even if the model echoed the path imperfectly.
	if len(files) == 1 && files[0].Content != "" {
		f := files[0]
		f.FilePath = path
		return &f
	}
	return nil
}

func replaceOrAppend(files []GeneratedFile, replacement GeneratedFile) []GeneratedFile {
	out := make([]GeneratedFile, len(files))
	copy(out, files)
	for i := range out {
		if out[i].FilePath == replacement.FilePath {
			out[i] = replacement
			return out
		}
	}
	return append(out, replacement)
}

func mergeDependencies(base, extra []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extra))
	for _, d := range base {
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, d := range extra {
		if d != "" && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
