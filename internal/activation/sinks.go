package activation

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/omar-gamzatov/content-guardian/internal/config"
)

// NewFromConfig builds the configured sinks and starts an emitter over them.
// It returns nil when no sinks are configured; a nil *Emitter drops events.
func NewFromConfig(cfg config.ActivationConfig, drops DropRecorder) (*Emitter, error) {
	sinks, err := BuildSinks(cfg.Sinks)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return NewEmitter(EmitterConfig{
		QueueSize:       cfg.QueueSize,
		Workers:         cfg.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Drops:           drops,
	}, sinks), nil
}

// BuildSinks creates one sink per config entry. On error, sinks opened so
// far are closed.
func BuildSinks(cfgs []config.ActivationSinkConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	fail := func(err error) ([]Sink, error) {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
		return nil, err
	}

	for i, sc := range cfgs {
		var (
			s   Sink
			err error
		)
		switch strings.ToLower(strings.TrimSpace(sc.Type)) {
		case "file_jsonl":
			s, err = NewFileSink(sc.Path)
		case "webhook":
			s, err = NewWebhookSink(sc.URL, WebhookOptions{
				Headers:    sc.Headers,
				Timeout:    sc.Timeout,
				MaxRetries: sc.MaxRetries,
				Backoff:    sc.Backoff,
				Secret:     secretFromEnv(sc.SecretEnv),
			})
		case "kafka":
			s, err = NewKafkaSink(sc.Brokers, sc.Topic)
		case "log":
			s = LogSink{}
		default:
			err = fmt.Errorf("unknown type %q", sc.Type)
		}
		if err != nil {
			return fail(fmt.Errorf("activation sink %d: %w", i, err))
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func secretFromEnv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
