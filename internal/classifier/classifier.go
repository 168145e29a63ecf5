package classifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/models"
)

// ModelClassifier is a remote document type classifier
type ModelClassifier interface {
	Classify(ctx context.Context, text, filename string) (models.ClassificationHint, error)
}

// Classifier produces best-effort document type hints for files whose name
// could not be parsed. A nil model uses keyword rules only.
type Classifier struct {
	model  ModelClassifier
	logger *zap.Logger
}

// NewClassifier creates a new Classifier
func NewClassifier(model ModelClassifier, logger *zap.Logger) *Classifier {
	return &Classifier{
		model:  model,
		logger: logger,
	}
}

// Suggest returns a hint for the file at path. ok is false when neither the
// model nor the keyword rules could name a type.
func (c *Classifier) Suggest(ctx context.Context, path, filename string) (models.ClassificationHint, bool) {
	text, err := ExtractText(path)
	if err != nil {
		c.logger.Debug("Text extraction failed, classifying by filename",
			zap.String("file", path),
			zap.Error(err))
		text = ""
	}

	if c.model != nil {
		hint, err := c.model.Classify(ctx, text, filename)
		if err == nil {
			c.logger.Info("Document classified",
				zap.String("filename", filename),
				zap.String("type", hint.DocumentType),
				zap.Int("confidence", hint.Confidence),
				zap.String("source", hint.Source))
			return hint, true
		}
		c.logger.Warn("AI classification failed, using keyword rules",
			zap.String("filename", filename),
			zap.Error(err))
	}

	return ClassifyByRules(text, filename)
}
