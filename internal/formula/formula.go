// Package formula evaluates pre-parsed expression trees against a
// ValueProvider. The tokenizer/parser that produces an Expr tree from a
// formula string (e.g. "$(a)+$(b)") is an external collaborator per §1 of
// the spec; this package only walks the tree.
package formula

import "math"

// ValueProvider exposes the values a formula may reference: the current
// (committed) value of an attribute and its in-process (mid-pipeline)
// value, both scoped to one device analog by the caller.
type ValueProvider interface {
	Current(attr string) (float64, bool)
	InProcess(attr string) (float64, bool)
}

// Expr is a node in a pre-built expression tree. Implementations are
// supplied by the external formula parser; this package defines only the
// shape the evaluator walks plus a small literal/reference set used by
// tests and by callers that build expressions programmatically (e.g. from
// a trigger-map scan).
type Expr interface {
	Eval(vp ValueProvider) float64
}

// Eval evaluates an expression tree. Boolean-producing expressions are
// expected to resolve to 1.0/0.0 via the same tree (there is no separate
// boolean type crossing this boundary); undefined references yield NaN.
func Eval(e Expr, vp ValueProvider) float64 {
	if e == nil {
		return math.NaN()
	}
	return e.Eval(vp)
}

// ConditionTrue applies the load-bearing tolerance rule from §4.1: a
// condition result in the open interval (-1.0, 1.0) is treated as false.
// Boundary values exactly at +/-1.0, and anything beyond them, are true.
// NaN is never true. Operators built on top of this (filterCondition,
// alertCondition, actionCondition) each decide what "true" means for
// their own apply/get contract.
func ConditionTrue(result float64) bool {
	if math.IsNaN(result) {
		return false
	}
	return result <= -1.0 || result >= 1.0
}

// Referencer is an optional interface an Expr may implement to report the
// attribute names it reads. The pipeline runtime uses this to build the
// computed-metric trigger map (§4.5: "fire any computedMetric whose
// trigger-set is a subset of updatedAttributes") without needing to know
// the concrete Expr types the external parser produces.
type Referencer interface {
	References() []string
}

// References walks e and collects every attribute name referenced,
// de-duplicated, via the optional Referencer interface. Expr nodes that
// don't implement it (including a nil e) contribute nothing.
func References(e Expr) []string {
	seen := map[string]struct{}{}
	var out []string
	collectReferences(e, seen, &out)
	return out
}

func collectReferences(e Expr, seen map[string]struct{}, out *[]string) {
	r, ok := e.(Referencer)
	if !ok {
		return
	}
	for _, name := range r.References() {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		*out = append(*out, name)
	}
}

// --- literal/reference nodes: minimal building blocks for callers that
// don't go through the external parser (tests, trigger evaluation). ---

// Const is a literal numeric value.
type Const float64

func (c Const) Eval(ValueProvider) float64 { return float64(c) }

// CurrentRef resolves to the current value of an attribute ("$(name)" in
// the external formula language once it has fully resolved).
type CurrentRef string

func (r CurrentRef) Eval(vp ValueProvider) float64 {
	v, ok := vp.Current(string(r))
	if !ok {
		return math.NaN()
	}
	return v
}

// References implements Referencer.
func (r CurrentRef) References() []string { return []string{string(r)} }

// InProcessRef resolves to the in-process value of an attribute.
type InProcessRef string

func (r InProcessRef) Eval(vp ValueProvider) float64 {
	v, ok := vp.InProcess(string(r))
	if !ok {
		return math.NaN()
	}
	return v
}

// References implements Referencer.
func (r InProcessRef) References() []string { return []string{string(r)} }

// BinOp applies a binary numeric operator to two sub-expressions.
type BinOp struct {
	Op    byte // '+', '-', '*', '/', '>', '<', '=', '&', '|'
	Left  Expr
	Right Expr
}

func (b BinOp) Eval(vp ValueProvider) float64 {
	l := b.Left.Eval(vp)
	r := b.Right.Eval(vp)
	if math.IsNaN(l) || math.IsNaN(r) {
		return math.NaN()
	}
	switch b.Op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	case '/':
		if r == 0 {
			return math.NaN()
		}
		return l / r
	case '>':
		return boolf(l > r)
	case '<':
		return boolf(l < r)
	case '=':
		return boolf(l == r)
	case '&':
		return boolf(ConditionTrue(l) && ConditionTrue(r))
	case '|':
		return boolf(ConditionTrue(l) || ConditionTrue(r))
	default:
		return math.NaN()
	}
}

// References implements Referencer by unioning both operands' references.
func (b BinOp) References() []string {
	out := References(b.Left)
	for _, name := range References(b.Right) {
		out = appendIfMissing(out, name)
	}
	return out
}

func appendIfMissing(list []string, name string) []string {
	for _, v := range list {
		if v == name {
			return list
		}
	}
	return append(list, name)
}

func boolf(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
