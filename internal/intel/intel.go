package intel

import (
	"context"

	"github.com/omar-gamzatov/content-guardian/internal/rules"
)

// Status describes the current intelligence engine state.
type Status struct {
	Enabled       bool
	BundleID      string
	BundleVersion string
}

// Engine turns content text into signals for policy evaluation.
type Engine interface {
	Status() Status

	// Extract returns the signals detected in text. The returned map is owned
	// by the caller.
	Extract(ctx context.Context, text, lang string) (rules.Signals, error)

	// Redact masks personal data before text leaves the process.
	Redact(text string) (string, bool)
}
