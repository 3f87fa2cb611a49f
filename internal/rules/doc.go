// Package rules evaluates policy expressions against a signal mapping.
//
// A policy is a tree of single-key objects, {"operator": [operands...]},
// decoded from JSON or YAML and compiled by Parse into an Expr whose Op is
// one of a closed set of operators. Evaluation is pure and deterministic.
//
// Missing signals never fail an evaluation. Their handling per operator:
//
//	signal, var   Missing (or the optional default operand)
//	exists        false
//	and, or, not  Missing is falsy
//	== != > >= < <=  false when either side is Missing or null
//	in            false when either side is Missing or null
//	if            Missing condition selects the else branch
//	max, min      Missing operands are skipped; all Missing yields Missing
//
// Truthiness: booleans as-is; Missing and null are false; numbers are true
// when non-zero; strings and lists when non-empty.
//
// Structural problems (unknown operator, wrong arity, comparing values of
// incompatible types) fail with *PolicyError. Non-object policy or signals
// arguments fail with ErrInvalidInput.
package rules
