// Package decode extracts typed JSON values from free-form LLM completion
// text. Completion services wrap payloads in prose, markdown fences, or both,
// so extraction runs an ordered list of strategies: fenced block first, then
// slicing from the first '{' to the last '}', then failure. Every caller in
// the pipeline that talks to the completion service goes through this path.
package decode

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Strategy names the extraction strategy that produced a decoded value
type Strategy string

const (
	// StrategyFence means the value came from a ```json fenced block
	StrategyFence Strategy = "fence"
	// StrategyBraceSlice means the value came from the outermost {...} span
	StrategyBraceSlice Strategy = "brace_slice"
	// StrategyNone means no strategy produced a valid value
	StrategyNone Strategy = "none"
)

// Result is the tagged outcome of a decode attempt. It never carries a
// half-decoded value: either Err is nil and Value is valid, or Err is set and
// Raw holds the full completion text for diagnostics.
type Result[T any] struct {
	Value    T
	Strategy Strategy
	Raw      string
	Err      error
}

// OK reports whether the decode succeeded
func (r Result[T]) OK() bool {
	return r.Err == nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// Decode extracts and unmarshals a JSON value of type T from raw completion
// text. It never panics and never returns a partial value.
func Decode[T any](raw string) Result[T] {
	return DecodeValidated[T](raw, nil)
}

// DecodeValidated is Decode with a post-unmarshal validation hook. A candidate
// that unmarshals but fails validation is discarded and the next strategy is
// tried.
func DecodeValidated[T any](raw string, validate func(T) error) Result[T] {
	// Strategy 1: fenced blocks, in order of appearance
	for _, match := range fenceRe.FindAllStringSubmatch(raw, -1) {
		inner := strings.TrimSpace(match[1])
		if inner == "" {
			continue
		}
		if value, ok := tryParse[T](inner, validate); ok {
			return Result[T]{Value: value, Strategy: StrategyFence, Raw: raw}
		}
	}

	// Strategy 2: slice from the first '{' to the last '}'
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidate := raw[start : end+1]
		if value, ok := tryParse[T](candidate, validate); ok {
			return Result[T]{Value: value, Strategy: StrategyBraceSlice, Raw: raw}
		}
	}

	var zero T
	return Result[T]{
		Value:    zero,
		Strategy: StrategyNone,
		Raw:      raw,
		Err:      fmt.Errorf("no JSON value matching the expected schema found in completion text (%d bytes)", len(raw)),
	}
}

// tryParse attempts a strict unmarshal plus optional validation
func tryParse[T any](candidate string, validate func(T) error) (T, bool) {
	var value T
	decoder := json.NewDecoder(strings.NewReader(candidate))
	if err := decoder.Decode(&value); err != nil {
		var zero T
		return zero, false
	}
	if validate != nil {
		if err := validate(value); err != nil {
			var zero T
			return zero, false
		}
	}
	return value, true
}
