// Package report assembles the LLM-ready payloads that tfguard writes in query mode.
// Nothing here calls a model; the payload is handed to whatever performs the chat completion.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Yates-Labs/tfguard/internal/rag"
)

// Instructions is the fixed task statement embedded in every payload.
const Instructions = "You are an AI compliance auditor. Use the following guardrails and context to assess the Terraform plan. " +
	"Respond with a stakeholder-ready summary including overall guardrail coverage, key risks, and recommendations."

const (
	DefaultSystemPrompt = "You are a Terraform compliance auditor."
	DefaultTemperature  = 0.2
	DefaultMaxTokens    = 1000
)

// Format selects the payload layout written by query mode.
type Format string

const (
	FormatPayload  Format = "payload"
	FormatMessages Format = "messages"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatPayload, FormatMessages:
		return f, nil
	}
	return "", fmt.Errorf("unknown payload format %q (want %q or %q)", s, FormatPayload, FormatMessages)
}

// Payload is the structured query-mode output.
type Payload struct {
	Instructions    string   `json:"instructions"`
	TerraformPlan   any      `json:"terraform_plan"`
	Guardrails      string   `json:"guardrails"`
	SemanticContext []string `json:"semantic_context"`
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPayload is the chat-completion request body.
type ChatPayload struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// MessageOptions override the chat defaults. Zero values keep the defaults.
type MessageOptions struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// ContextTexts returns the chunk texts of results in rank order, never nil.
func ContextTexts(results []rag.SearchResult) []string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Entry.Chunk.Text)
	}
	return texts
}

// BuildPayload assembles the structured payload.
func BuildPayload(plan Plan, guardrails string, results []rag.SearchResult) Payload {
	return Payload{
		Instructions:    Instructions,
		TerraformPlan:   plan.Value(),
		Guardrails:      guardrails,
		SemanticContext: ContextTexts(results),
	}
}

// BuildMessages assembles the chat-completion payload.
func BuildMessages(plan Plan, guardrails string, results []rag.SearchResult, opts MessageOptions) ChatPayload {
	system := opts.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	return ChatPayload{
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: AssemblePrompt(plan, guardrails, results)},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
}

// AssemblePrompt renders the user prompt from guardrails, retrieved context and the plan.
func AssemblePrompt(plan Plan, guardrails string, results []rag.SearchResult) string {
	var b strings.Builder

	b.WriteString("You are an AI compliance auditor. Use the following guardrails and context to assess the Terraform plan.\n\n")

	b.WriteString("Guardrails:\n")
	if strings.TrimSpace(guardrails) == "" {
		b.WriteString("(none provided)\n\n")
	} else {
		b.WriteString(guardrails + "\n\n")
	}

	b.WriteString("Context from semantic index:\n")
	if len(results) == 0 {
		b.WriteString("(no matching context)\n\n")
	} else {
		b.WriteString(strings.Join(ContextTexts(results), "\n\n") + "\n\n")
	}

	b.WriteString("Terraform Plan:\n")
	b.WriteString(plan.Text + "\n\n")

	b.WriteString("Respond with a stakeholder-ready summary including overall guardrail coverage, key risks, and recommendations.\n")

	return b.String()
}

// Marshal renders v as indented JSON (2 spaces).
func Marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile writes v as indented JSON to path.
func WriteFile(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write payload %s: %w", path, err)
	}
	return nil
}
