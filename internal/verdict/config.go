package verdict

import (
	"errors"
	"fmt"
	"math"
)

// Stage is one step of action derivation.
type Stage string

const (
	// StageRule picks the most severe action forced by a fired rule.
	StageRule Stage = "rule"
	// StageScore maps the score-derived severity to an action.
	StageScore Stage = "score"
)

// Thresholds split the maximum category score into severities:
// below Medium is low, below High is medium, the rest is high.
type Thresholds struct {
	Medium float64
	High   float64
}

// CategoryThresholds map one category's score straight to an action:
// at or above Block blocks, at or above Soft soft-blocks. Zero Soft
// disables the soft level.
type CategoryThresholds struct {
	Block float64
	Soft  float64
}

// Config holds everything the aggregator needs. It is passed explicitly;
// nothing is read from the environment.
type Config struct {
	Thresholds      Thresholds
	SeverityActions map[Severity]Action
	// CategoryThresholds override the score stage for the named categories.
	// Categories without an entry map through Thresholds and SeverityActions.
	CategoryThresholds map[string]CategoryThresholds
	// RuleActions forces an action when the named rule fired.
	RuleActions map[string]Action
	// ActionSeverity raises the severity when an action was forced by a rule,
	// supplied by the caller or produced by escalation.
	ActionSeverity map[Action]Severity
	Precedence     []Stage
	// EscalateAbove turns a non-block action into escalate when uncertainty
	// exceeds it. Zero disables escalation.
	EscalateAbove float64
	// ClampScores clamps out-of-range scores into [0,1] instead of failing.
	ClampScores   bool
	DefaultAction Action
}

// Default threshold values.
const (
	DefaultMediumThreshold = 0.5
	DefaultHighThreshold   = 0.85
)

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{Medium: DefaultMediumThreshold, High: DefaultHighThreshold},
		SeverityActions: map[Severity]Action{
			SeverityLow:    ActionAllow,
			SeverityMedium: ActionSoftBlock,
			SeverityHigh:   ActionBlock,
		},
		RuleActions: map[string]Action{},
		ActionSeverity: map[Action]Severity{
			ActionSoftBlock: SeverityMedium,
			ActionBlock:     SeverityHigh,
			ActionEscalate:  SeverityHigh,
		},
		Precedence:    []Stage{StageRule, StageScore},
		DefaultAction: ActionAllow,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = d.Thresholds
	}
	if c.SeverityActions == nil {
		c.SeverityActions = d.SeverityActions
	}
	if c.RuleActions == nil {
		c.RuleActions = d.RuleActions
	}
	if c.ActionSeverity == nil {
		c.ActionSeverity = d.ActionSeverity
	}
	if len(c.Precedence) == 0 {
		c.Precedence = d.Precedence
	}
	if c.DefaultAction == "" {
		c.DefaultAction = d.DefaultAction
	}
	return c
}

// Validate checks thresholds, action and severity names and precedence stages.
func (c Config) Validate() error {
	t := c.Thresholds
	if math.IsNaN(t.Medium) || math.IsNaN(t.High) || t.Medium <= 0 || t.Medium > t.High || t.High > 1 {
		return fmt.Errorf("thresholds must satisfy 0 < medium <= high <= 1, got medium=%v high=%v", t.Medium, t.High)
	}
	for name, ct := range c.CategoryThresholds {
		if name == "" {
			return errors.New("category_thresholds: empty category name")
		}
		if math.IsNaN(ct.Block) || math.IsNaN(ct.Soft) || ct.Block <= 0 || ct.Block > 1 || ct.Soft < 0 || ct.Soft > ct.Block {
			return fmt.Errorf("category_thresholds[%s]: must satisfy 0 <= soft <= block <= 1 and block > 0, got block=%v soft=%v", name, ct.Block, ct.Soft)
		}
	}
	for sev, act := range c.SeverityActions {
		if !sev.Valid() {
			return fmt.Errorf("severity_actions: unknown severity %q", sev)
		}
		if !act.Valid() {
			return fmt.Errorf("severity_actions[%s]: unknown action %q", sev, act)
		}
	}
	for id, act := range c.RuleActions {
		if id == "" {
			return errors.New("rule_actions: empty rule id")
		}
		if !act.Valid() {
			return fmt.Errorf("rule_actions[%s]: unknown action %q", id, act)
		}
	}
	for act, sev := range c.ActionSeverity {
		if !act.Valid() {
			return fmt.Errorf("action_severity: unknown action %q", act)
		}
		if !sev.Valid() {
			return fmt.Errorf("action_severity[%s]: unknown severity %q", act, sev)
		}
	}
	seen := make(map[Stage]bool, len(c.Precedence))
	for _, st := range c.Precedence {
		if st != StageRule && st != StageScore {
			return fmt.Errorf("precedence: unknown stage %q", st)
		}
		if seen[st] {
			return fmt.Errorf("precedence: duplicate stage %q", st)
		}
		seen[st] = true
	}
	if c.EscalateAbove < 0 || c.EscalateAbove >= 1 || math.IsNaN(c.EscalateAbove) {
		return fmt.Errorf("escalate_above must be in [0,1), got %v", c.EscalateAbove)
	}
	if c.DefaultAction != "" && !c.DefaultAction.Valid() {
		return fmt.Errorf("default_action: unknown action %q", c.DefaultAction)
	}
	return nil
}

// WithRuleActions returns a copy of c whose rule actions are extended by
// extra; entries in extra win.
func (c Config) WithRuleActions(extra map[string]Action) Config {
	if len(extra) == 0 {
		return c
	}
	merged := make(map[string]Action, len(c.RuleActions)+len(extra))
	for k, v := range c.RuleActions {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	c.RuleActions = merged
	return c
}

// SeverityFor maps a score to a severity using the configured thresholds.
func (c Config) SeverityFor(score float64) Severity {
	t := c.withDefaults().Thresholds
	switch {
	case score >= t.High:
		return SeverityHigh
	case score >= t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// scoreAction maps one category score to an action: through the category's
// own thresholds when configured, otherwise through severity.
func (c Config) scoreAction(cat CategoryScore) (Action, bool) {
	if ct, ok := c.CategoryThresholds[cat.Name]; ok {
		switch {
		case cat.Score >= ct.Block:
			return ActionBlock, true
		case ct.Soft > 0 && cat.Score >= ct.Soft:
			return ActionSoftBlock, true
		default:
			return ActionAllow, true
		}
	}
	act, ok := c.SeverityActions[c.SeverityFor(cat.Score)]
	return act, ok
}
