package verdict

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Source identifies where a category score came from.
type Source string

const (
	SourceRule  Source = "rule"
	SourceModel Source = "model"
)

// Action is the moderation outcome.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionSoftBlock Action = "soft_block"
	ActionBlock     Action = "block"
	ActionEscalate  Action = "escalate"
)

// Severity is a coarse grade of the worst category score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var actionRank = map[Action]int{
	ActionAllow:     0,
	ActionSoftBlock: 1,
	ActionBlock:     2,
	ActionEscalate:  3,
}

var severityRank = map[Severity]int{
	SeverityLow:    0,
	SeverityMedium: 1,
	SeverityHigh:   2,
}

// ParseAction normalizes and validates an action name.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := actionRank[a]; !ok {
		return "", fmt.Errorf("invalid action: %q", s)
	}
	return a, nil
}

// ParseSeverity normalizes and validates a severity name.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityRank[v]; !ok {
		return "", fmt.Errorf("invalid severity: %q", s)
	}
	return v, nil
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, ok := actionRank[a]
	return ok
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MoreSevere returns whichever action ranks higher (allow < soft_block < block < escalate).
func MoreSevere(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

func maxSeverity(a, b Severity) Severity {
	if a == "" {
		return b
	}
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// CategoryScore is one per-category score tagged with its source.
type CategoryScore struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Source Source  `json:"source"`
}

// ModelInfo identifies the scoring model. It serializes as a bare string
// when only the name is known and as an object with a "model" key otherwise.
type ModelInfo struct {
	Name    string
	Details map[string]any
}

func (m ModelInfo) MarshalJSON() ([]byte, error) {
	if len(m.Details) == 0 {
		return json.Marshal(m.Name)
	}
	out := make(map[string]any, len(m.Details)+1)
	for k, v := range m.Details {
		out[k] = v
	}
	out["model"] = m.Name
	return json.Marshal(out)
}

func (m *ModelInfo) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		m.Name = name
		m.Details = nil
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("model must be a string or an object: %w", err)
	}
	name, _ = obj["model"].(string)
	if name == "" {
		return fmt.Errorf("model object requires a non-empty \"model\" name")
	}
	delete(obj, "model")
	m.Name = name
	m.Details = obj
	if len(m.Details) == 0 {
		m.Details = nil
	}
	return nil
}

// Explain is provenance attached to a verdict. Absent fragments are omitted.
type Explain struct {
	PolicyVersion string     `json:"policy_version,omitempty"`
	RulesFired    []string   `json:"rules_fired,omitempty"`
	Uncertainty   *float64   `json:"uncertainty,omitempty"`
	Model         *ModelInfo `json:"model,omitempty"`
}

func (e *Explain) empty() bool {
	return e == nil || (e.PolicyVersion == "" && len(e.RulesFired) == 0 && e.Uncertainty == nil && e.Model == nil)
}

// Verdict is the aggregated, render-ready outcome. Categories are sorted by
// score descending, ties kept in input order.
type Verdict struct {
	Action     Action          `json:"action"`
	Severity   Severity        `json:"severity,omitempty"`
	Categories []CategoryScore `json:"categories"`
	Explain    *Explain        `json:"explain,omitempty"`
}

// MaxScore returns the highest category score, or 0 with no categories.
func (v Verdict) MaxScore() float64 {
	if len(v.Categories) == 0 {
		return 0
	}
	return v.Categories[0].Score
}
