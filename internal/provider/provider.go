package provider

import (
	"context"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// Request is the text handed to an upstream scoring model.
type Request struct {
	Text      string
	Lang      string
	PIIRedact bool
}

// Result carries model-sourced category scores and the model identity.
type Result struct {
	Categories []verdict.CategoryScore
	Model      *verdict.ModelInfo
}

// Classifier is the interface for upstream category-scoring models.
type Classifier interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}
