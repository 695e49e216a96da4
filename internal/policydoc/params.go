package policydoc

import (
	"fmt"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
)

// parseParameters translates one policy function's raw `parameters` map
// into a typed functions.Params, recognizing the special `action`/`alert`
// shapes §4.3 calls out and parsing every embedded formula string via
// parser.
func parseParameters(opID string, raw map[string]any, parser FormulaParser) (*functions.Params, error) {
	p := &functions.Params{Filter: true}

	if v, ok := raw["condition"]; ok {
		expr, err := parseFormulaField(v, parser)
		if err != nil {
			return nil, fmt.Errorf("condition: %w", err)
		}
		p.Condition = expr
	}

	if v, ok := raw["filter"]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("filter: expected bool, got %T", v)
		}
		p.Filter = b
	}

	if v, ok := raw["rate"]; ok {
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("rate: %w", err)
		}
		p.Rate = n
	}

	if v, ok := raw["window"]; ok {
		n, err := asInt64(v)
		if err != nil {
			return nil, fmt.Errorf("window: %w", err)
		}
		p.WindowMs = n
	}
	if v, ok := raw["slide"]; ok {
		n, err := asInt64(v)
		if err != nil {
			return nil, fmt.Errorf("slide: %w", err)
		}
		p.SlideMs = n
	}

	if v, ok := raw["batchSize"]; ok {
		n, err := asInt(v)
		if err != nil {
			return nil, fmt.Errorf("batchSize: %w", err)
		}
		p.BatchSize = n
	}

	if v, ok := raw["costThreshold"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("costThreshold: expected string, got %T", v)
		}
		c, err := parseNetworkCost(s)
		if err != nil {
			return nil, err
		}
		p.CostThreshold = c
	}

	if v, ok := raw["level"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("level: expected string, got %T", v)
		}
		lvl, err := parsePrivacyLevel(s)
		if err != nil {
			return nil, err
		}
		p.Level = lvl
	}
	if v, ok := raw["hashingKey"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("hashingKey: expected string, got %T", v)
		}
		p.HashingKey = s
	}

	if opID == "computedMetric" {
		v, ok := raw["formula"]
		if !ok {
			return nil, fmt.Errorf("computedMetric requires a formula parameter")
		}
		expr, err := parseFormulaField(v, parser)
		if err != nil {
			return nil, fmt.Errorf("formula: %w", err)
		}
		p.Formula = expr
	}

	if opID == "alertCondition" {
		if err := parseAlertShape(raw, parser, p); err != nil {
			return nil, err
		}
	}

	if opID == "actionCondition" {
		if err := parseActionShape(raw, parser, p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// parseAlertShape flattens §4.3's `alert: {urn, fields:{f->formula}, severity?}`
// shape into the Params fields alertCondition reads.
func parseAlertShape(raw map[string]any, parser FormulaParser, p *functions.Params) error {
	alert, ok := raw["alert"].(map[string]any)
	if !ok {
		return fmt.Errorf("alertCondition requires an alert parameter")
	}
	urn, _ := alert["urn"].(string)
	p.AlertURN = urn

	p.Severity = functions.SeverityNormal
	if sevRaw, ok := alert["severity"]; ok {
		s, ok := sevRaw.(string)
		if !ok {
			return fmt.Errorf("alert.severity: expected string, got %T", sevRaw)
		}
		sev, err := parseSeverity(s)
		if err != nil {
			return err
		}
		p.Severity = sev
	}

	fieldsRaw, _ := alert["fields"].(map[string]any)
	p.AlertFields = make(map[string]formula.Expr, len(fieldsRaw))
	for name, v := range fieldsRaw {
		expr, err := parseFormulaField(v, parser)
		if err != nil {
			return fmt.Errorf("alert.fields[%s]: %w", name, err)
		}
		p.AlertFields[name] = expr
	}
	return nil
}

// parseActionShape flattens §4.3's `action: {name, arguments:[formula,...]}`
// shape into the Params fields actionCondition reads.
func parseActionShape(raw map[string]any, parser FormulaParser, p *functions.Params) error {
	action, ok := raw["action"].(map[string]any)
	if !ok {
		return fmt.Errorf("actionCondition requires an action parameter")
	}
	name, _ := action["name"].(string)
	p.ActionName = name

	argsRaw, _ := action["arguments"].([]any)
	p.ActionArgs = make([]formula.Expr, 0, len(argsRaw))
	for i, v := range argsRaw {
		expr, err := parseFormulaField(v, parser)
		if err != nil {
			return fmt.Errorf("action.arguments[%d]: %w", i, err)
		}
		p.ActionArgs = append(p.ActionArgs, expr)
	}
	return nil
}

func parseFormulaField(v any, parser FormulaParser) (formula.Expr, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected a formula string, got %T", v)
	}
	return parser.Parse(s)
}

func parseNetworkCost(s string) (functions.NetworkCost, error) {
	switch s {
	case "ETHERNET":
		return functions.CostEthernet, nil
	case "CELLULAR":
		return functions.CostCellular, nil
	case "SATELLITE":
		return functions.CostSatellite, nil
	default:
		return 0, fmt.Errorf("costThreshold: unrecognized network cost %q", s)
	}
}

func parsePrivacyLevel(s string) (functions.PrivacyLevel, error) {
	switch s {
	case "none":
		return functions.PrivacyNone, nil
	case "one-way":
		return functions.PrivacyOneWay, nil
	case "two-way":
		return functions.PrivacyTwoWay, nil
	case "random":
		return functions.PrivacyRandom, nil
	default:
		return 0, fmt.Errorf("level: unrecognized privacy level %q", s)
	}
}

func parseSeverity(s string) (functions.Severity, error) {
	switch s {
	case "LOW":
		return functions.SeverityLow, nil
	case "NORMAL":
		return functions.SeverityNormal, nil
	case "SIGNIFICANT":
		return functions.SeveritySignificant, nil
	case "CRITICAL":
		return functions.SeverityCritical, nil
	default:
		return 0, fmt.Errorf("severity: unrecognized severity %q", s)
	}
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		return int(x), nil
	case int:
		return x, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case float64:
		return int64(x), nil
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
