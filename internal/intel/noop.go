package intel

import (
	"context"

	"github.com/omar-gamzatov/content-guardian/internal/rules"
)

type noopEngine struct{}

func NewNoop() Engine {
	return &noopEngine{}
}

func (e *noopEngine) Status() Status {
	return Status{Enabled: false}
}

func (e *noopEngine) Extract(ctx context.Context, text, lang string) (rules.Signals, error) {
	return rules.Signals{}, nil
}

func (e *noopEngine) Redact(text string) (string, bool) {
	return text, false
}
