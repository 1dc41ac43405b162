package providers

import (
	"fmt"
	"strings"

	"github.com/tributary-ai/completion-gateway/internal/types"
)

const baseInstruction = "You are an educational assistant helping students and teachers."

var featureInstructions = map[string]string{
	"curriculum-mapping": "Map the request onto curriculum standards and learning objectives.",
	"exam-generation":    "Write clear exam questions with an answer key.",
	"simulation":         "Act out the requested scenario as an interactive simulation.",
	"translation":        "Translate faithfully and keep the original meaning and tone.",
	"multilingual":       "Answer in a way that supports learners working across languages.",
}

// Prompt is the provider-neutral form of a request
type Prompt struct {
	System string
	User   string
}

// BuildPrompt renders the system instruction and user message for a request.
func BuildPrompt(req *types.CompletionRequest) Prompt {
	language := req.Language
	if strings.TrimSpace(language) == "" {
		language = types.DefaultLanguage
	}

	var b strings.Builder
	b.WriteString(baseInstruction)
	fmt.Fprintf(&b, " Respond in %s.", language)
	if instruction, ok := featureInstructions[req.Feature]; ok {
		b.WriteString(" ")
		b.WriteString(instruction)
	}
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(ctx)
	}

	return Prompt{
		System: b.String(),
		User:   strings.TrimSpace(req.Message),
	}
}
