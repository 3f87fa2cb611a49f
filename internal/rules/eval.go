package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Signals maps signal names to numbers, booleans, strings or nested Signals.
// It is read-only for the duration of an evaluation.
type Signals map[string]any

type missingValue struct{}

func (missingValue) String() string { return "<missing>" }

func (missingValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// Missing is returned by signal lookups for names absent from the mapping.
var Missing = missingValue{}

// IsMissing reports whether v is the Missing sentinel.
func IsMissing(v any) bool {
	_, ok := v.(missingValue)
	return ok
}

// Evaluate validates its arguments, parses policy and evaluates it against
// signals. Both arguments must be object-shaped; the check happens before
// any parsing. A Missing result is returned as nil.
func Evaluate(policy, signals any) (any, error) {
	p, ok := asObject(policy)
	if !ok {
		return nil, invalidInput("policy must be an object, got %s", describe(policy))
	}
	s, ok := asObject(signals)
	if !ok {
		return nil, invalidInput("signals must be an object, got %s", describe(signals))
	}

	expr, err := Parse(p)
	if err != nil {
		return nil, err
	}
	out, err := Eval(expr, Signals(s))
	if err != nil {
		return nil, err
	}
	if IsMissing(out) {
		return nil, nil
	}
	return out, nil
}

// Eval evaluates a parsed expression. It never mutates expr or signals and
// is safe for concurrent use with shared read-only inputs.
func Eval(expr Expr, signals Signals) (any, error) {
	return eval(expr, signals, "$")
}

func eval(e Expr, s Signals, path string) (any, error) {
	switch e.Op {
	case OpLiteral:
		return e.Value, nil

	case OpList:
		out := make([]any, 0, len(e.Operands))
		for i, o := range e.Operands {
			v, err := eval(o, s, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil

	case OpSignal:
		name, _ := e.Operands[0].Value.(string)
		if v, ok := lookup(s, name); ok {
			return v, nil
		}
		if len(e.Operands) == 2 {
			return eval(e.Operands[1], s, operandPath(path, e.Op, 1))
		}
		return Missing, nil

	case OpExists:
		v, err := eval(e.Operands[0], s, operandPath(path, e.Op, 0))
		if err != nil {
			return nil, err
		}
		return !IsMissing(v), nil

	case OpAnd:
		for i, o := range e.Operands {
			v, err := eval(o, s, operandPath(path, e.Op, i))
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		for i, o := range e.Operands {
			v, err := eval(o, s, operandPath(path, e.Op, i))
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		v, err := eval(e.Operands[0], s, operandPath(path, e.Op, 0))
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil

	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		a, b, err := evalPair(e, s, path)
		if err != nil {
			return nil, err
		}
		return compare(e.Op, a, b, path)

	case OpIn:
		a, b, err := evalPair(e, s, path)
		if err != nil {
			return nil, err
		}
		return contains(a, b, path)

	case OpIf:
		cond, err := eval(e.Operands[0], s, operandPath(path, e.Op, 0))
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return eval(e.Operands[1], s, operandPath(path, e.Op, 1))
		}
		return eval(e.Operands[2], s, operandPath(path, e.Op, 2))

	case OpMax, OpMin:
		return extremum(e, s, path)
	}
	return nil, policyErrorf(path, e.Op.String(), "unsupported operator")
}

func operandPath(path string, op Operator, i int) string {
	return path + "." + op.String() + "[" + strconv.Itoa(i) + "]"
}

func evalPair(e Expr, s Signals, path string) (any, any, error) {
	a, err := eval(e.Operands[0], s, operandPath(path, e.Op, 0))
	if err != nil {
		return nil, nil, err
	}
	b, err := eval(e.Operands[1], s, operandPath(path, e.Op, 1))
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// lookup resolves name as an exact key first, then as a dotted path into
// nested mappings.
func lookup(s Signals, name string) (any, bool) {
	if v, ok := s[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = map[string]any(s)
	for _, part := range strings.Split(name, ".") {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare applies a comparison operator. Missing or null on either side
// yields false for every comparison, including !=.
func compare(op Operator, a, b any, path string) (bool, error) {
	if IsMissing(a) || IsMissing(b) || a == nil || b == nil {
		return false, nil
	}

	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		if !ok {
			return false, policyErrorf(path, op.String(), "cannot compare number with %s", typeName(b))
		}
		switch op {
		case OpEq:
			return an == bn, nil
		case OpNe:
			return an != bn, nil
		case OpGt:
			return an > bn, nil
		case OpGe:
			return an >= bn, nil
		case OpLt:
			return an < bn, nil
		default:
			return an <= bn, nil
		}
	}

	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false, policyErrorf(path, op.String(), "cannot compare string with %s", typeName(b))
		}
		switch op {
		case OpEq:
			return as == bs, nil
		case OpNe:
			return as != bs, nil
		case OpGt:
			return as > bs, nil
		case OpGe:
			return as >= bs, nil
		case OpLt:
			return as < bs, nil
		default:
			return as <= bs, nil
		}
	}

	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return false, policyErrorf(path, op.String(), "cannot compare boolean with %s", typeName(b))
		}
		switch op {
		case OpEq:
			return ab == bb, nil
		case OpNe:
			return ab != bb, nil
		default:
			return false, policyErrorf(path, op.String(), "booleans are not ordered")
		}
	}

	return false, policyErrorf(path, op.String(), "cannot compare %s with %s", typeName(a), typeName(b))
}

func contains(needle, haystack any, path string) (bool, error) {
	if IsMissing(needle) || IsMissing(haystack) || needle == nil || haystack == nil {
		return false, nil
	}
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		if !ok {
			return false, policyErrorf(path, "in", "substring check needs a string, got %s", typeName(needle))
		}
		return strings.Contains(h, n), nil
	case []any:
		for _, item := range h {
			if equalValues(needle, item) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, policyErrorf(path, "in", "haystack must be a string or list, got %s", typeName(haystack))
}

func equalValues(a, b any) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func extremum(e Expr, s Signals, path string) (any, error) {
	var (
		best  float64
		found bool
	)
	for i, o := range e.Operands {
		v, err := eval(o, s, operandPath(path, e.Op, i))
		if err != nil {
			return nil, err
		}
		if IsMissing(v) {
			continue
		}
		n, ok := toNumber(v)
		if !ok {
			return nil, policyErrorf(path, e.Op.String(), "operand %d is %s, not a number", i, typeName(v))
		}
		if !found || (e.Op == OpMax && n > best) || (e.Op == OpMin && n < best) {
			best = n
			found = true
		}
	}
	if !found {
		return Missing, nil
	}
	return best, nil
}

// Truthy applies the evaluator's truthiness rules to a decision value.
func Truthy(v any) bool { return truthy(v) }

func truthy(v any) bool {
	if IsMissing(v) || v == nil {
		return false
	}
	if n, ok := toNumber(v); ok {
		return n != 0
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case Signals:
		return len(t) > 0
	}
	return true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case Signals:
		return map[string]any(m), m != nil
	}
	return nil, false
}

func typeName(v any) string {
	if IsMissing(v) {
		return "missing"
	}
	if _, ok := toNumber(v); ok {
		return "number"
	}
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any, Signals:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func describe(v any) string {
	switch m := v.(type) {
	case nil:
		return "nothing"
	case map[string]any:
		if m == nil {
			return "nothing"
		}
	case Signals:
		if m == nil {
			return "nothing"
		}
	}
	return typeName(v)
}
