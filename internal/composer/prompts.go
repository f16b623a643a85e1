package composer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt builders. The instruction text itself is an opaque payload handed to
// the completion service; the pipeline only depends on the response shapes.

func buildDiscoveryPrompt(userInput string, current ApplicationSpec, history []ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString("You are gathering requirements for a web application build.\n")
	sb.WriteString("Given the current specification and the conversation so far, either ask clarifying questions or signal completion.\n\n")

	specJSON, _ := json.Marshal(current)
	sb.WriteString("Current specification:\n")
	sb.Write(specJSON)
	sb.WriteString("\n\nConversation so far:\n")
	for _, turn := range history {
		sb.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
	}
	sb.WriteString(fmt.Sprintf("user: %s\n", userInput))

	sb.WriteString("\nRespond with JSON: {\"updatedAppSpec\": {...}, \"responseToUser\": \"...\", \"isComplete\": true|false}\n")
	return sb.String()
}

func buildPlanPrompt(spec ApplicationSpec, catalogue string) string {
	var sb strings.Builder
	sb.WriteString("Produce an ordered action plan for building the application described below.\n\n")
	sb.WriteString("Specification:\n")
	sb.WriteString(spec.Description)
	if spec.Domain != "" {
		sb.WriteString("\nDomain: " + spec.Domain)
	}
	if spec.SchemaRef != "" {
		sb.WriteString("\nSchema reference: " + spec.SchemaRef)
	}
	if catalogue != "" {
		sb.WriteString("\n\nBest-practice catalogue:\n")
		sb.WriteString(catalogue)
	}
	sb.WriteString("\n\nRespond with JSON: {\"classification\": \"...\", \"actionPlan\": [{\"filePath\": \"...\", \"description\": \"...\"}]}\n")
	return sb.String()
}

func buildCodegenPrompt(spec ApplicationSpec, steps []ActionPlanStep, schemaContext string) string {
	var sb strings.Builder
	sb.WriteString("Generate the source files for the action plan below.\n\n")
	sb.WriteString("Application brief:\n")
	sb.WriteString(spec.Description)
	if schemaContext != "" {
		sb.WriteString("\n\nSchema context:\n")
		sb.WriteString(schemaContext)
	}
	sb.WriteString("\n\nAction plan:\n")
	for _, step := range steps {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", step.FilePath, step.Description))
	}
	sb.WriteString("\nRespond with JSON: {\"dependencies\": [\"...\"], \"files\": [{\"filePath\": \"...\", \"content\": \"...\"}]}\n")
	return sb.String()
}

func buildCorrectionPrompt(spec ApplicationSpec, file GeneratedFile, feedback string) string {
	var sb strings.Builder
	sb.WriteString("The file below failed policy review. Produce a corrected replacement for exactly this file.\n\n")
	sb.WriteString("Application brief:\n")
	sb.WriteString(spec.Description)
	sb.WriteString(fmt.Sprintf("\n\nFile: %s\n", file.FilePath))
	sb.WriteString("Current content:\n")
	sb.WriteString(file.Content)
	sb.WriteString("\n\nReview feedback:\n")
	sb.WriteString(feedback)
	sb.WriteString("\n\nRespond with JSON: {\"dependencies\": [\"...\"], \"files\": [{\"filePath\": \"...\", \"content\": \"...\"}]}\n")
	return sb.String()
}

func buildReviewPrompt(file GeneratedFile, policy string) string {
	var sb strings.Builder
	sb.WriteString("Review the file below against the policy and report pass or fail with feedback.\n\n")
	sb.WriteString("Policy:\n")
	sb.WriteString(policy)
	sb.WriteString(fmt.Sprintf("\n\nFile: %s\n", file.FilePath))
	sb.WriteString(file.Content)
	sb.WriteString("\n\nRespond with JSON: {\"filePath\": \"...\", \"pass\": true|false, \"feedback\": \"...\"}\n")
	return sb.String()
}

func buildTestGenPrompt(file GeneratedFile) string {
	var sb strings.Builder
	sb.WriteString("Write a smoke test for the UI component below. Render it and assert it mounts without crashing.\n\n")
	sb.WriteString(fmt.Sprintf("Component file: %s\n", file.FilePath))
	sb.WriteString(file.Content)
	sb.WriteString("\n\nRespond with JSON: {\"content\": \"...\"}\n")
	return sb.String()
}
