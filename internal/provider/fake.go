package provider

import (
	"context"
	"sync"

	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// FakeClassifier returns canned scores and records the requests it saw.
type FakeClassifier struct {
	Categories []verdict.CategoryScore
	ModelName  string
	Error      error

	mu       sync.Mutex
	requests []Request
}

func (f *FakeClassifier) Classify(ctx context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.Error != nil {
		return nil, f.Error
	}

	cats := make([]verdict.CategoryScore, len(f.Categories))
	copy(cats, f.Categories)
	res := &Result{Categories: cats}
	if f.ModelName != "" {
		res.Model = &verdict.ModelInfo{Name: f.ModelName}
	}
	return res, nil
}

// Requests returns a copy of the requests received so far.
func (f *FakeClassifier) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func NewFake(model string, cats ...verdict.CategoryScore) *FakeClassifier {
	return &FakeClassifier{ModelName: model, Categories: cats}
}
