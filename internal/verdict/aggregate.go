package verdict

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// AggregationError reports invalid category-score data. Index is the
// offending position in the input, or -1 when the problem is not tied to
// one category.
type AggregationError struct {
	Index    int
	Category string
	Reason   string
}

func (e *AggregationError) Error() string {
	if e.Index < 0 {
		return "aggregation error: " + e.Reason
	}
	return fmt.Sprintf("aggregation error: categories[%d] %q: %s", e.Index, e.Category, e.Reason)
}

// Input is a raw verdict-construction request.
type Input struct {
	Categories []CategoryScore
	// Action, when set, is a decision already taken upstream and is used as-is.
	Action Action
	// Severity, when set, skips score-based severity derivation.
	Severity      Severity
	PolicyVersion string
	RulesFired    []string
	Uncertainty   *float64
	Model         *ModelInfo
}

// Aggregator builds verdicts with a fixed, validated configuration.
type Aggregator struct {
	cfg Config
}

// New fills unset fields of cfg with defaults and validates the result.
func New(cfg Config) (*Aggregator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("verdict config: %w", err)
	}
	return &Aggregator{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config { return a.cfg }

// Aggregate is a convenience wrapper around New(cfg).Aggregate(in).
func Aggregate(in Input, cfg Config) (Verdict, error) {
	agg, err := New(cfg)
	if err != nil {
		return Verdict{}, err
	}
	return agg.Aggregate(in)
}

type actionOrigin int

const (
	originDefault actionOrigin = iota
	originCaller
	originRule
	originScore
	originCategory
	originEscalation
)

// Aggregate validates the input, sorts categories, derives severity and
// action and assembles the explain record. It has no side effects.
func (a *Aggregator) Aggregate(in Input) (Verdict, error) {
	cats, err := a.normalizeCategories(in.Categories)
	if err != nil {
		return Verdict{}, err
	}
	if in.Action != "" && !in.Action.Valid() {
		return Verdict{}, &AggregationError{Index: -1, Reason: fmt.Sprintf("unknown action %q", in.Action)}
	}
	if in.Severity != "" && !in.Severity.Valid() {
		return Verdict{}, &AggregationError{Index: -1, Reason: fmt.Sprintf("unknown severity %q", in.Severity)}
	}
	if u := in.Uncertainty; u != nil && (math.IsNaN(*u) || *u < 0 || *u > 1) {
		return Verdict{}, &AggregationError{Index: -1, Reason: fmt.Sprintf("uncertainty %v outside [0,1]", *u)}
	}

	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Score > cats[j].Score })

	severity := in.Severity
	if severity == "" && len(cats) > 0 {
		severity = a.cfg.SeverityFor(cats[0].Score)
	}

	action, origin := a.deriveAction(in, severity, cats)

	if in.Severity == "" && (origin == originCaller || origin == originRule || origin == originCategory || origin == originEscalation) {
		if floor, ok := a.cfg.ActionSeverity[action]; ok {
			severity = maxSeverity(severity, floor)
		}
	}

	return Verdict{
		Action:     action,
		Severity:   severity,
		Categories: cats,
		Explain:    buildExplain(in),
	}, nil
}

func (a *Aggregator) normalizeCategories(in []CategoryScore) ([]CategoryScore, error) {
	out := make([]CategoryScore, 0, len(in))
	type key struct {
		name   string
		source Source
	}
	seen := make(map[key]int, len(in))

	for i, c := range in {
		if strings.TrimSpace(c.Name) == "" {
			return nil, &AggregationError{Index: i, Category: c.Name, Reason: "name must not be empty"}
		}
		if c.Source != SourceRule && c.Source != SourceModel {
			return nil, &AggregationError{Index: i, Category: c.Name, Reason: fmt.Sprintf("unknown source %q", c.Source)}
		}
		if math.IsNaN(c.Score) {
			return nil, &AggregationError{Index: i, Category: c.Name, Reason: "score is NaN"}
		}
		if c.Score < 0 || c.Score > 1 {
			if !a.cfg.ClampScores {
				return nil, &AggregationError{Index: i, Category: c.Name, Reason: fmt.Sprintf("score %v outside [0,1]", c.Score)}
			}
			c.Score = math.Min(1, math.Max(0, c.Score))
		}
		k := key{name: c.Name, source: c.Source}
		if first, dup := seen[k]; dup {
			return nil, &AggregationError{Index: i, Category: c.Name, Reason: fmt.Sprintf("duplicate %s score (first at %d)", c.Source, first)}
		}
		seen[k] = i
		out = append(out, c)
	}
	return out, nil
}

// deriveAction applies: caller-supplied action, then the configured stages
// in order, then the default action, then uncertainty escalation.
func (a *Aggregator) deriveAction(in Input, severity Severity, cats []CategoryScore) (Action, actionOrigin) {
	if in.Action != "" {
		return in.Action, originCaller
	}

	action, origin := Action(""), originDefault
stages:
	for _, st := range a.cfg.Precedence {
		switch st {
		case StageRule:
			var forced Action
			for _, id := range in.RulesFired {
				if act, ok := a.cfg.RuleActions[id]; ok {
					if forced == "" {
						forced = act
					} else {
						forced = MoreSevere(forced, act)
					}
				}
			}
			if forced != "" {
				action, origin = forced, originRule
				break stages
			}
		case StageScore:
			if severity == "" {
				continue
			}
			if len(a.cfg.CategoryThresholds) > 0 {
				if act, ok := a.perCategoryAction(cats); ok {
					action, origin = act, originCategory
					break stages
				}
				continue
			}
			if act, ok := a.cfg.SeverityActions[severity]; ok {
				action, origin = act, originScore
				break stages
			}
		}
	}
	if action == "" {
		action = a.cfg.DefaultAction
	}

	if a.cfg.EscalateAbove > 0 && in.Uncertainty != nil && *in.Uncertainty > a.cfg.EscalateAbove && action != ActionBlock && action != ActionEscalate {
		return ActionEscalate, originEscalation
	}
	return action, origin
}

// perCategoryAction takes the most severe action over all categories.
func (a *Aggregator) perCategoryAction(cats []CategoryScore) (Action, bool) {
	var out Action
	for _, c := range cats {
		act, ok := a.cfg.scoreAction(c)
		if !ok {
			continue
		}
		if out == "" {
			out = act
		} else {
			out = MoreSevere(out, act)
		}
	}
	return out, out != ""
}

func buildExplain(in Input) *Explain {
	ex := &Explain{PolicyVersion: in.PolicyVersion}
	if len(in.RulesFired) > 0 {
		ex.RulesFired = append([]string(nil), in.RulesFired...)
	}
	if in.Uncertainty != nil {
		u := *in.Uncertainty
		ex.Uncertainty = &u
	}
	if in.Model != nil && in.Model.Name != "" {
		m := *in.Model
		if len(in.Model.Details) > 0 {
			m.Details = make(map[string]any, len(in.Model.Details))
			for k, v := range in.Model.Details {
				m.Details[k] = v
			}
		}
		ex.Model = &m
	}
	if ex.empty() {
		return nil
	}
	return ex
}
