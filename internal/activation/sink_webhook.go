package activation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Headers set on every webhook delivery.
const (
	HeaderEventVersion = "X-Guardian-Event-Version"
	HeaderRequestID    = "X-Guardian-Request-Id"
	HeaderSignature    = "X-Guardian-Signature"
)

// WebhookSink POSTs activation events to an HTTP endpoint. Network errors,
// 408, 429 and 5xx responses are retried with a tripling backoff; other
// statuses fail at once.
type WebhookSink struct {
	url     string
	headers map[string]string
	secret  []byte
	client  *http.Client
	retries int
	backoff time.Duration
}

// DefaultWebhookRetries applies when WebhookOptions.MaxRetries is nil.
const DefaultWebhookRetries = 2

// WebhookOptions tunes delivery. Zero values pick the defaults.
type WebhookOptions struct {
	Headers map[string]string
	Timeout time.Duration
	// MaxRetries caps retries after the first attempt; a pointer to 0
	// disables retrying.
	MaxRetries *int
	Backoff    time.Duration
	// Secret, when set, signs each body as hex HMAC-SHA256 in
	// X-Guardian-Signature ("sha256=<hex>").
	Secret string
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func NewWebhookSink(url string, opts WebhookOptions) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook url is empty")
	}
	s := &WebhookSink{
		url:     url,
		headers: make(map[string]string, len(opts.Headers)),
		retries: DefaultWebhookRetries,
		backoff: opts.Backoff,
		client:  &http.Client{Timeout: opts.Timeout},
	}
	if s.client.Timeout <= 0 {
		s.client.Timeout = 2 * time.Second
	}
	if opts.MaxRetries != nil {
		if *opts.MaxRetries < 0 {
			return nil, fmt.Errorf("webhook max retries must be >= 0, got %d", *opts.MaxRetries)
		}
		s.retries = *opts.MaxRetries
	}
	if s.backoff <= 0 {
		s.backoff = 100 * time.Millisecond
	}
	if opts.Secret != "" {
		s.secret = []byte(opts.Secret)
	}
	for k, v := range opts.Headers {
		s.headers[k] = v
	}
	return s, nil
}

func (s *WebhookSink) Name() string { return "webhook:" + s.url }

func (s *WebhookSink) Deliver(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	wait := s.backoff
	for attempt := 0; ; attempt++ {
		err = s.post(ctx, ev, payload)
		var perm permanentError
		if err == nil || errors.As(err, &perm) || attempt == s.retries {
			return err
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		wait *= 3
	}
}

func (s *WebhookSink) post(ctx context.Context, ev *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return permanentError{fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventVersion, ev.Version)
	req.Header.Set(HeaderRequestID, ev.RequestID)
	if s.secret != nil {
		req.Header.Set(HeaderSignature, "sha256="+Sign(s.secret, payload))
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("status %d body=%q", code, clip(body, 200))
	default:
		return permanentError{fmt.Errorf("status %d body=%q", code, clip(body, 200))}
	}
}

func (s *WebhookSink) Close(context.Context) error {
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload, as sent in
// X-Guardian-Signature.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func clip(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "...(" + strconv.Itoa(len(b)-limit) + " more)"
}
