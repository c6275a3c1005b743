package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/router"
)

const answerSystemPrompt = `You answer questions using only the provided document excerpts.
Cite which documents support your answer. If the excerpts do not contain
the answer, say so instead of guessing.`

const noDocumentsAnswer = "I could not find any documents relevant to your question."

// Retrieval depth per generation mode.
const (
	fastTopK = 4
	deepTopK = 10
)

// Agent answers knowledge-base queries: scoped retrieval, then grounded
// generation over the retrieved excerpts.
type Agent struct {
	service   *Service
	g         *genkit.Genkit
	modelName string
	logger    log.Logger
}

// NewAgent builds the knowledge agent. modelName must be fully qualified
// (provider/model).
func NewAgent(service *Service, g *genkit.Genkit, modelName string, logger log.Logger) *Agent {
	return &Agent{service: service, g: g, modelName: modelName, logger: logger}
}

// Answer retrieves the caller's visible documents for the query and
// generates a grounded answer. Deep mode retrieves more context.
func (a *Agent) Answer(ctx context.Context, req router.AgentRequest) (string, error) {
	topK := int32(fastTopK)
	if req.Mode == router.ModeDeep {
		topK = deepTopK
	}

	results, err := a.service.Search(ctx, req.Query, req.Scope, WithTopK(topK))
	if err != nil {
		return "", fmt.Errorf("retrieve context: %w", err)
	}
	if len(results) == 0 {
		return noDocumentsAnswer, nil
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.modelName),
		ai.WithSystem(answerSystemPrompt),
		ai.WithPrompt(buildAnswerPrompt(req.Query, results)),
	)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}

	a.logger.Debug("answer generated", "documents", len(results), "mode", req.Mode)
	return response.Text(), nil
}

func buildAnswerPrompt(query string, results []Result) string {
	var b strings.Builder
	b.WriteString("Document excerpts:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (similarity %.2f)\n%s\n\n",
			i+1, r.Document.Filename, r.Similarity, r.Document.Content)
	}
	b.WriteString("Question:\n")
	b.WriteString(query)
	return b.String()
}
