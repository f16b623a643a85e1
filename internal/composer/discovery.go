package composer

import (
	"context"
	"log"
	"strings"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/llm"
)

// ConversationTurn is one role-tagged message in the discovery history
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DiscoveryOutcome is the result of one discovery iteration
type DiscoveryOutcome struct {
	Spec           ApplicationSpec
	ResponseToUser string
	Complete       bool // the model believes the spec is complete
	Confirmed      bool // the user explicitly affirmed the proposed spec
}

// discoveryPayload is the shape decoded from the completion text
type discoveryPayload struct {
	UpdatedAppSpec ApplicationSpec `json:"updatedAppSpec"`
	ResponseToUser string          `json:"responseToUser"`
	IsComplete     bool            `json:"isComplete"`
}

const discoveryApology = "Sorry, I had trouble processing that. Could you rephrase or add a bit more detail about the application you want to build?"

// Discovery converts an ambiguous request into a confirmed specification
// through a conversational loop: gathering, then confirming, then confirmed.
type Discovery struct {
	completer llm.Completer
}

// NewDiscovery creates a discovery controller
func NewDiscovery(completer llm.Completer) *Discovery {
	return &Discovery{completer: completer}
}

// Next advances discovery one turn. Decode failures never escape: they
// degrade to an apology with the prior spec unchanged, so discovery stays
// conversational.
func (d *Discovery) Next(ctx context.Context, userInput string, current ApplicationSpec, history []ConversationTurn) DiscoveryOutcome {
	prompt := buildDiscoveryPrompt(userInput, current, history)

	text, err := d.completer.Complete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		ResponseSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"updatedAppSpec", "responseToUser", "isComplete"},
		},
	})
	if err != nil {
		log.Printf(`{"level":"warn","message":"Discovery completion failed","error":"%v"}`, err)
		return DiscoveryOutcome{Spec: current, ResponseToUser: discoveryApology}
	}

	result := decode.Decode[discoveryPayload](text)
	if !result.OK() {
		log.Printf(`{"level":"warn","message":"Discovery decode failed","raw_bytes":%d}`, len(result.Raw))
		return DiscoveryOutcome{Spec: current, ResponseToUser: discoveryApology}
	}

	spec := result.Value.UpdatedAppSpec
	spec.Description = truncate(spec.Description, maxDescriptionLength)

	// Correlation identifiers are caller-supplied; never let the model
	// overwrite them.
	spec.WorkspaceID = current.WorkspaceID
	spec.RequestID = current.RequestID

	outcome := DiscoveryOutcome{
		Spec:           spec,
		ResponseToUser: result.Value.ResponseToUser,
		Complete:       result.Value.IsComplete,
	}

	// Confirmation requires both the completion signal and an explicit
	// affirmative from the user's most recent message. Without the
	// affirmative the spec is re-surfaced for confirmation next turn.
	if outcome.Complete && IsAffirmative(userInput) {
		outcome.Confirmed = true
		outcome.Spec.Confirmed = true
	}

	return outcome
}

// IsAffirmative reports whether a message is an explicit confirmation.
// Only leading-anchored, case-insensitive "yes" or "proceed" count; other
// phrasings and locales are a known limitation and intentionally not guessed.
func IsAffirmative(message string) bool {
	normalized := strings.ToLower(strings.TrimSpace(message))
	return strings.HasPrefix(normalized, "yes") || strings.HasPrefix(normalized, "proceed")
}
