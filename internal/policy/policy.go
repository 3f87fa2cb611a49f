package policy

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omar-gamzatov/content-guardian/internal/rules"
	"github.com/omar-gamzatov/content-guardian/internal/verdict"
)

// Document is the on-disk form of a policy set. JSON documents parse too,
// since the YAML decoder accepts them.
type Document struct {
	Version     string     `yaml:"version" json:"version"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Rules       []RuleSpec `yaml:"rules" json:"rules"`
}

// RuleSpec is one rule as written in a document.
type RuleSpec struct {
	ID       string   `yaml:"id" json:"id"`
	Category string   `yaml:"category" json:"category"`
	Score    *float64 `yaml:"score,omitempty" json:"score,omitempty"`
	Action   string   `yaml:"action,omitempty" json:"action,omitempty"`
	When     any      `yaml:"when" json:"when"`
}

// Rule is a compiled rule. When is shared read-only between evaluations.
type Rule struct {
	ID       string
	Category string
	Score    float64
	Action   verdict.Action
	When     rules.Expr
}

// Set is a compiled, versioned policy set.
type Set struct {
	Version     string
	Description string
	Rules       []Rule
}

// Result is what applying a set to one signal mapping produces.
type Result struct {
	Categories []verdict.CategoryScore
	// Fired lists rule ids in firing order.
	Fired []string
}

// Parse decodes and compiles a YAML or JSON policy document.
func Parse(data []byte) (*Set, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}
	return Compile(doc)
}

// LoadFile reads and compiles a policy document from path.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Compile validates a document and compiles every rule's condition.
func Compile(doc Document) (*Set, error) {
	version := strings.TrimSpace(doc.Version)
	if version == "" {
		return nil, errors.New("policy version must be set")
	}

	set := &Set{Version: version, Description: doc.Description, Rules: make([]Rule, 0, len(doc.Rules))}
	ids := make(map[string]int, len(doc.Rules))
	categories := make(map[string]string, len(doc.Rules))

	for i, spec := range doc.Rules {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			return nil, fmt.Errorf("rules[%d]: id must be set", i)
		}
		if first, dup := ids[id]; dup {
			return nil, fmt.Errorf("rules[%d]: duplicate rule id %q (first at rules[%d])", i, id, first)
		}
		ids[id] = i

		category := strings.TrimSpace(spec.Category)
		if category == "" {
			return nil, fmt.Errorf("rule %q: category must be set", id)
		}
		if other, dup := categories[category]; dup {
			return nil, fmt.Errorf("rule %q: category %q already emitted by rule %q", id, category, other)
		}
		categories[category] = id

		score := 1.0
		if spec.Score != nil {
			score = *spec.Score
			if math.IsNaN(score) || score < 0 || score > 1 {
				return nil, fmt.Errorf("rule %q: score %v outside [0,1]", id, score)
			}
		}

		var action verdict.Action
		if strings.TrimSpace(spec.Action) != "" {
			a, err := verdict.ParseAction(spec.Action)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", id, err)
			}
			action = a
		}

		if spec.When == nil {
			return nil, fmt.Errorf("rule %q: when must be set", id)
		}
		when, err := rules.Parse(spec.When)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", id, err)
		}

		set.Rules = append(set.Rules, Rule{
			ID:       id,
			Category: category,
			Score:    score,
			Action:   action,
			When:     when,
		})
	}
	return set, nil
}

// RuleActions returns the actions forced by rules of this set, keyed by id.
func (s *Set) RuleActions() map[string]verdict.Action {
	out := map[string]verdict.Action{}
	if s == nil {
		return out
	}
	for _, r := range s.Rules {
		if r.Action != "" {
			out[r.ID] = r.Action
		}
	}
	return out
}

// Apply evaluates every rule in document order. A rule whose condition is
// truthy fires and contributes its category score.
func (s *Set) Apply(signals rules.Signals) (Result, error) {
	res := Result{Categories: []verdict.CategoryScore{}}
	if s == nil {
		return res, nil
	}
	if signals == nil {
		signals = rules.Signals{}
	}
	for _, r := range s.Rules {
		decision, err := rules.Eval(r.When, signals)
		if err != nil {
			return Result{}, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if !rules.Truthy(decision) {
			continue
		}
		res.Fired = append(res.Fired, r.ID)
		res.Categories = append(res.Categories, verdict.CategoryScore{
			Name:   r.Category,
			Score:  r.Score,
			Source: verdict.SourceRule,
		})
	}
	return res, nil
}
