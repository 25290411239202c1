// Package generator composes answers from retrieved context, either through
// an external completion service or offline by sentence extraction.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ragqa/internal/domain"
)

// SystemPrompt instructs the model to stay within the supplied context.
const SystemPrompt = "You answer based only on the given context."

// Prompt is the input to a completion call.
type Prompt struct {
	System string
	User   string
}

// Completer is an external text-generation service.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Adapter implements domain.Generator on top of a Completer.
type Adapter struct {
	completer Completer
	logger    *slog.Logger
}

// NewAdapter wraps completer.
func NewAdapter(completer Completer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{completer: completer, logger: logger}
}

func (a *Adapter) Name() string { return a.completer.Name() }

// Generate asks the completer to answer query from chunks. Without chunks it
// returns domain.NoInformationAnswer and makes no call.
func (a *Adapter) Generate(ctx context.Context, query string, chunks []domain.RetrievedChunk) (string, error) {
	if len(chunks) == 0 {
		return domain.NoInformationAnswer, nil
	}
	answer, err := a.completer.Complete(ctx, BuildPrompt(query, chunks))
	if err != nil {
		return "", err
	}
	a.logger.Info("generated answer from LLM", "provider", a.completer.Name())
	return strings.TrimSpace(answer), nil
}

// BuildContext joins chunk texts, each preceded by its source tag.
func BuildContext(chunks []domain.RetrievedChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Source: %s]\n%s", c.Chunk.SourceFilename, c.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt embeds the query and the labelled context into a prompt.
func BuildPrompt(query string, chunks []domain.RetrievedChunk) Prompt {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Use only the provided context to answer the question.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(BuildContext(chunks))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer concisely:")
	return Prompt{System: SystemPrompt, User: b.String()}
}

var _ domain.Generator = (*Adapter)(nil)
