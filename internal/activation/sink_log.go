package activation

import "context"

// LogSink writes each event to the process log through the redacting logger.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, ev *Event) error {
	LogEvent(ev)
	return nil
}

func (LogSink) Close(context.Context) error { return nil }
