package router

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Decision is the model's structured routing verdict.
type Decision struct {
	Destination    string `json:"destination"`
	GenerationMode string `json:"generation_mode"`
	Reasoning      string `json:"reasoning"`
}

// Generator produces routing decisions. Implementations may fail; the router
// absorbs every failure into the fallback decision.
type Generator interface {
	Decide(ctx context.Context, policy Policy, prompt string) (Decision, error)
}

// GenkitGenerator asks an LLM for a structured Decision.
type GenkitGenerator struct {
	g            *genkit.Genkit
	defaultModel string
}

// NewGenkitGenerator builds a generator; defaultModel is the fully qualified
// model name used when a policy does not pin its own.
func NewGenkitGenerator(g *genkit.Genkit, defaultModel string) *GenkitGenerator {
	return &GenkitGenerator{g: g, defaultModel: defaultModel}
}

// Decide renders the policy's system prompt against the query and parses the
// model's reply into a Decision. Any generation or parse error is returned
// to the caller, which falls back to the primary destination.
func (gg *GenkitGenerator) Decide(ctx context.Context, policy Policy, prompt string) (Decision, error) {
	model := policy.ModelName
	if model == "" {
		model = gg.defaultModel
	}

	response, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(model),
		ai.WithSystem(policy.SystemPrompt),
		ai.WithPrompt(prompt),
		ai.WithOutputType(Decision{}),
	)
	if err != nil {
		return Decision{}, fmt.Errorf("generate routing decision: %w", err)
	}

	var decision Decision
	if err := response.Output(&decision); err != nil {
		return Decision{}, fmt.Errorf("parse routing decision: %w", err)
	}
	return decision, nil
}
