package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Operator identifies one entry of the fixed evaluation grammar.
type Operator int

const (
	OpLiteral Operator = iota
	OpList
	OpSignal
	OpExists
	OpAnd
	OpOr
	OpNot
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpIf
	OpMax
	OpMin
)

// unbounded marks an operator that accepts any number of operands above its minimum.
const unbounded = -1

type opSpec struct {
	name     string
	min, max int
}

var opSpecs = map[Operator]opSpec{
	OpSignal: {"signal", 1, 2},
	OpExists: {"exists", 1, 1},
	OpAnd:    {"and", 1, unbounded},
	OpOr:     {"or", 1, unbounded},
	OpNot:    {"not", 1, 1},
	OpEq:     {"==", 2, 2},
	OpNe:     {"!=", 2, 2},
	OpGt:     {">", 2, 2},
	OpGe:     {">=", 2, 2},
	OpLt:     {"<", 2, 2},
	OpLe:     {"<=", 2, 2},
	OpIn:     {"in", 2, 2},
	OpIf:     {"if", 3, 3},
	OpMax:    {"max", 1, unbounded},
	OpMin:    {"min", 1, unbounded},
}

// aliases accepted in serialized policies.
var opNames = map[string]Operator{
	"signal": OpSignal,
	"var":    OpSignal,
	"exists": OpExists,
	"and":    OpAnd,
	"or":     OpOr,
	"not":    OpNot,
	"!":      OpNot,
	"==":     OpEq,
	"!=":     OpNe,
	">":      OpGt,
	">=":     OpGe,
	"<":      OpLt,
	"<=":     OpLe,
	"in":     OpIn,
	"if":     OpIf,
	"max":    OpMax,
	"min":    OpMin,
}

func (o Operator) String() string {
	switch o {
	case OpLiteral:
		return "literal"
	case OpList:
		return "list"
	}
	if spec, ok := opSpecs[o]; ok {
		return spec.name
	}
	return fmt.Sprintf("operator(%d)", int(o))
}

// Expr is a parsed policy expression. Literal nodes carry Value; list and
// operator nodes carry Operands.
type Expr struct {
	Op       Operator
	Value    any
	Operands []Expr
}

// Lit builds a literal node.
func Lit(v any) Expr { return Expr{Op: OpLiteral, Value: v} }

// Signal builds a signal lookup node.
func Signal(name string) Expr { return Expr{Op: OpSignal, Operands: []Expr{Lit(name)}} }

// Apply builds an operator node without checking arity; Validate does that.
func Apply(op Operator, operands ...Expr) Expr { return Expr{Op: op, Operands: operands} }

// Parse converts a decoded JSON/YAML value into an expression tree.
// An object must have exactly one key naming the operator; its value is
// either the operand list or a single operand.
func Parse(raw any) (Expr, error) {
	return parse(raw, "$")
}

func parse(raw any, path string) (Expr, error) {
	switch v := raw.(type) {
	case map[string]any:
		return parseObject(v, path)
	case Signals:
		return parseObject(map[string]any(v), path)
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return Expr{}, policyErrorf(path, "", "object key %v is not a string", k)
			}
			m[ks] = val
		}
		return parseObject(m, path)
	case []any:
		items := make([]Expr, 0, len(v))
		for i, item := range v {
			e, err := parse(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return Expr{}, err
			}
			items = append(items, e)
		}
		return Expr{Op: OpList, Operands: items}, nil
	case nil, bool, string:
		return Lit(v), nil
	}
	if n, ok := toNumber(raw); ok {
		return Lit(n), nil
	}
	return Expr{}, policyErrorf(path, "", "unsupported literal of type %T", raw)
}

func parseObject(m map[string]any, path string) (Expr, error) {
	if len(m) != 1 {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Expr{}, policyErrorf(path, "", "expression object must have exactly one operator key, got [%s]", strings.Join(keys, ", "))
	}
	var (
		name string
		arg  any
	)
	for k, v := range m {
		name, arg = k, v
	}
	op, ok := opNames[name]
	if !ok {
		return Expr{}, policyErrorf(path, name, "unknown operator")
	}

	opPath := path + "." + name
	var rawOperands []any
	if list, ok := arg.([]any); ok {
		rawOperands = list
	} else {
		rawOperands = []any{arg}
	}

	operands := make([]Expr, 0, len(rawOperands))
	for i, item := range rawOperands {
		e, err := parse(item, fmt.Sprintf("%s[%d]", opPath, i))
		if err != nil {
			return Expr{}, err
		}
		operands = append(operands, e)
	}

	e := Expr{Op: op, Operands: operands}
	if err := e.validateNode(opPath); err != nil {
		return Expr{}, err
	}
	return e, nil
}

// Validate checks arity and shape for the whole tree. Trees produced by
// Parse are already valid; trees built by hand should be validated once.
func (e Expr) Validate() error {
	return e.validate("$")
}

func (e Expr) validate(path string) error {
	if err := e.validateNode(path); err != nil {
		return err
	}
	for i, o := range e.Operands {
		if err := o.validate(fmt.Sprintf("%s.%s[%d]", path, e.Op, i)); err != nil {
			return err
		}
	}
	return nil
}

func (e Expr) validateNode(path string) error {
	switch e.Op {
	case OpLiteral:
		if len(e.Operands) != 0 {
			return policyErrorf(path, "literal", "literal cannot have operands")
		}
		return nil
	case OpList:
		return nil
	}
	spec, ok := opSpecs[e.Op]
	if !ok {
		return policyErrorf(path, e.Op.String(), "unsupported operator")
	}
	n := len(e.Operands)
	if n < spec.min || (spec.max != unbounded && n > spec.max) {
		return policyErrorf(path, spec.name, "expects %s operands, got %d", arityText(spec), n)
	}
	if e.Op == OpSignal {
		name := e.Operands[0]
		if name.Op != OpLiteral {
			return policyErrorf(path, spec.name, "signal name must be a literal string")
		}
		if _, ok := name.Value.(string); !ok {
			return policyErrorf(path, spec.name, "signal name must be a string, got %T", name.Value)
		}
	}
	return nil
}

func arityText(s opSpec) string {
	switch {
	case s.max == unbounded:
		return fmt.Sprintf("at least %d", s.min)
	case s.min == s.max:
		return fmt.Sprintf("exactly %d", s.min)
	default:
		return fmt.Sprintf("%d to %d", s.min, s.max)
	}
}
