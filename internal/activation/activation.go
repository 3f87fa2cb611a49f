package activation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omar-gamzatov/content-guardian/internal/redact"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// EventVersion is bumped on incompatible payload changes.
const EventVersion = "1"

const (
	EndpointModerations = "moderations"
	EndpointVerdicts    = "verdicts"
)

const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Logging levels controlling content previews.
const (
	LevelMetadata = "metadata"
	LevelRedacted = "redacted"
	LevelFull     = "full"
)

const previewLimit = 500

type Preview struct {
	Text string `json:"text"`
	Lang string `json:"lang,omitempty"`
}

type ActivationIntel struct {
	Status        string `json:"status"`
	BundleVersion string `json:"bundle_version,omitempty"`
}

type ActivationTimingMs struct {
	Intel float64 `json:"intel"`
	Rules float64 `json:"rules"`
	Model float64 `json:"model"`
	Total float64 `json:"total"`
}

// Summary is the flattened view used by dashboards and alerting.
type Summary struct {
	Action     verdict.Action   `json:"action"`
	Severity   verdict.Severity `json:"severity,omitempty"`
	Blocked    bool             `json:"blocked"`
	Categories []string         `json:"categories"`
	MaxScore   float64          `json:"max_score"`
}

// Event is the canonical activation payload, one per produced verdict.
type Event struct {
	Version       string             `json:"version"`
	Timestamp     time.Time          `json:"timestamp"`
	RequestID     string             `json:"request_id"`
	TenantID      string             `json:"tenant_id,omitempty"`
	Endpoint      string             `json:"endpoint"`
	Mode          string             `json:"mode"`
	PolicyVersion string             `json:"policy_version,omitempty"`
	Cached        bool               `json:"cached"`
	Summary       Summary            `json:"summary"`
	Verdict       verdict.Verdict    `json:"verdict"`
	Preview       *Preview           `json:"preview,omitempty"`
	Intel         ActivationIntel    `json:"intel"`
	Notes         []string           `json:"notes,omitempty"`
	TimingMs      ActivationTimingMs `json:"timing_ms"`
}

// Timings are the per-stage durations of one request.
type Timings struct {
	Intel time.Duration
	Rules time.Duration
	Model time.Duration
	Total time.Duration
}

// BuildParams collects inputs needed to assemble a canonical activation event.
type BuildParams struct {
	RequestID          string
	TenantID           string
	Endpoint           string
	Mode               string
	PolicyVersion      string
	Verdict            verdict.Verdict
	Cached             bool
	Text               string
	Lang               string
	LoggingLevel       string
	IntelStatus        string
	IntelBundleVersion string
	Notes              []string
	Timings            Timings
	Now                time.Time
}

// BuildEvent creates a canonical activation event for a verdict.
func BuildEvent(params BuildParams) *Event {
	mode := strings.TrimSpace(strings.ToLower(params.Mode))
	if mode != ModeAsync {
		mode = ModeSync
	}
	endpoint := params.Endpoint
	if endpoint == "" {
		endpoint = EndpointModerations
	}
	ts := params.Now
	if ts.IsZero() {
		ts = time.Now()
	}

	intelStatus := params.IntelStatus
	if intelStatus == "" {
		intelStatus = "disabled"
	}

	return &Event{
		Version:       EventVersion,
		Timestamp:     ts.UTC(),
		RequestID:     ensureRequestID(params.RequestID),
		TenantID:      params.TenantID,
		Endpoint:      endpoint,
		Mode:          mode,
		PolicyVersion: params.PolicyVersion,
		Cached:        params.Cached,
		Summary:       buildSummary(params.Verdict),
		Verdict:       params.Verdict,
		Preview:       buildPreview(params.LoggingLevel, params.Text, params.Lang),
		Intel: ActivationIntel{
			Status:        intelStatus,
			BundleVersion: params.IntelBundleVersion,
		},
		Notes: cloneStrings(params.Notes),
		TimingMs: ActivationTimingMs{
			Intel: durationMillis(params.Timings.Intel),
			Rules: durationMillis(params.Timings.Rules),
			Model: durationMillis(params.Timings.Model),
			Total: durationMillis(params.Timings.Total),
		},
	}
}

// LogEvent prints a redacted JSON representation of the activation event.
func LogEvent(ev *Event) {
	if ev == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		redact.Logf("activation: failed to marshal event: %v", err)
		return
	}
	redact.Logf("activation: %s", string(data))
}

func buildSummary(v verdict.Verdict) Summary {
	s := Summary{
		Action:     v.Action,
		Severity:   v.Severity,
		Blocked:    v.Action == verdict.ActionBlock,
		Categories: make([]string, 0, len(v.Categories)),
		MaxScore:   v.MaxScore(),
	}
	seen := make(map[string]struct{}, len(v.Categories))
	for _, c := range v.Categories {
		if _, ok := seen[c.Name]; ok {
			continue
		}
		seen[c.Name] = struct{}{}
		s.Categories = append(s.Categories, c.Name)
	}
	return s
}

func buildPreview(level, text, lang string) *Preview {
	if text == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelFull:
		return &Preview{Text: redact.Preview(text, previewLimit), Lang: lang}
	case LevelRedacted:
		return &Preview{Text: redact.String(redact.Preview(text, previewLimit)), Lang: lang}
	default:
		return nil
	}
}

func ensureRequestID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
