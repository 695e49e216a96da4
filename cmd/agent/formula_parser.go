package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgefabric/telemetry-policy/internal/formula"
)

// parseDemoFormula parses the tiny subset of formula syntax this demo's
// static policy uses: "current.<attr>", "inprocess.<attr>", a bare
// numeric constant, or two such operands joined by one of the BinOp
// operators ('>', '<', '=', '+', '-', '*', '/').
func parseDemoFormula(source string) (formula.Expr, error) {
	s := strings.TrimSpace(source)
	for _, op := range []byte{'>', '<', '=', '+', '-', '*', '/'} {
		if idx := strings.IndexByte(s, op); idx > 0 {
			left, err := parseDemoOperand(s[:idx])
			if err != nil {
				return nil, err
			}
			right, err := parseDemoOperand(s[idx+1:])
			if err != nil {
				return nil, err
			}
			return formula.BinOp{Op: op, Left: left, Right: right}, nil
		}
	}
	return parseDemoOperand(s)
}

func parseDemoOperand(s string) (formula.Expr, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "current."):
		return formula.CurrentRef(strings.TrimPrefix(s, "current.")), nil
	case strings.HasPrefix(s, "inprocess."):
		return formula.InProcessRef(strings.TrimPrefix(s, "inprocess.")), nil
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("formula: unrecognized operand %q", s)
		}
		return formula.Const(v), nil
	}
}
