package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mixelka/replydesk/pkg/models"
)

// ErrGenerationFailed is returned when the completion backend fails or returns nothing
var ErrGenerationFailed = errors.New("reply generation failed")

// Completer runs a single chat completion
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Generator drafts replies
type Generator struct {
	completer Completer
	logger    *slog.Logger
}

// NewGenerator creates a generator
func NewGenerator(completer Completer, logger *slog.Logger) *Generator {
	return &Generator{
		completer: completer,
		logger:    logger.With("component", "reply"),
	}
}

// Generate returns reply text for msg using up to MaxHistory past pairs
func (g *Generator) Generate(ctx context.Context, msg *models.Message, history []models.HistoricalPair) (string, error) {
	prompt := BuildPrompt(msg, history)

	g.logger.Debug("generating reply", "message_id", msg.ID, "history", min(len(history), MaxHistory), "prompt_len", len(prompt))
	text, err := g.completer.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGenerationFailed)
	}
	return text, nil
}
