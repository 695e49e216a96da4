// Package policydoc parses the wire policy-document JSON (§6) into the
// immutable in-process Pipeline/DevicePolicy shapes §4.3 describes, and
// translates each function's raw parameter map into functions.Params.
// The formula tokenizer/parser is an external collaborator per §1 — this
// package depends only on the FormulaParser interface, never on a
// concrete implementation.
package policydoc

import (
	"encoding/json"
	"fmt"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
)

// AllAttributesSentinel is the pipeline key used for the distinguished
// all-attributes pipeline (§4.3: attributeName absent or "*").
const AllAttributesSentinel = "*"

// FormulaParser turns a formula source string into an evaluable
// expression tree. Supplied by the caller; this package never constructs
// one itself.
type FormulaParser interface {
	Parse(source string) (formula.Expr, error)
}

// PolicyFunction is one step of a pipeline: an operator id plus its
// parsed, typed parameters.
type PolicyFunction struct {
	ID         string
	Parameters *functions.Params
}

// Pipeline is an ordered, immutable list of policy functions. Order is
// significant per §4.3 and is never reordered after parse.
type Pipeline []PolicyFunction

// DevicePolicy is the parsed, immutable policy document (§3: "an id, a
// last-modified timestamp, and an enabled flag"). Updates are always
// whole-document replacements, never in-place mutation.
type DevicePolicy struct {
	ID             string
	DeviceModelURN string
	Description    string
	LastModified   int64
	Enabled        bool
	Pipelines      map[string]Pipeline
}

// AllAttributesPipeline returns the distinguished "*" pipeline, if any.
func (p *DevicePolicy) AllAttributesPipeline() (Pipeline, bool) {
	pl, ok := p.Pipelines[AllAttributesSentinel]
	return pl, ok
}

// wireDocument mirrors the §6 JSON shape exactly:
// {id, description?, lastModified, enabled?, pipelines:[{attributeName?, pipeline:[{id,parameters}]}]}
type wireDocument struct {
	ID           string              `json:"id"`
	Description  string              `json:"description"`
	LastModified int64               `json:"lastModified"`
	Enabled      *bool               `json:"enabled"`
	Pipelines    []wirePipelineEntry `json:"pipelines"`
}

type wirePipelineEntry struct {
	AttributeName string              `json:"attributeName"`
	Pipeline      []wirePolicyFunc    `json:"pipeline"`
}

type wirePolicyFunc struct {
	ID         string         `json:"id"`
	Parameters map[string]any `json:"parameters"`
}

// ErrUnknownOperator wraps functions.ErrUnknownOperator with document
// context for callers that want to log which policy/attribute failed.
type ErrUnknownOperator struct {
	PolicyID  string
	Attribute string
	OpID      string
}

func (e *ErrUnknownOperator) Error() string {
	return fmt.Sprintf("policy %q attribute %q: unknown operator id %q", e.PolicyID, e.Attribute, e.OpID)
}

// Parse decodes a wire policy document and builds its Pipelines, resolving
// every parameter map against registry (to validate operator ids exist)
// and parser (to turn formula strings into expression trees). deviceModelURN
// is supplied by the caller because it is carried on the request path, not
// the document body itself (§6 endpoints key on it already).
func Parse(raw []byte, deviceModelURN string, registry *functions.Registry, parser FormulaParser) (*DevicePolicy, error) {
	var doc wireDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode policy document: %w", err)
	}

	enabled := true
	if doc.Enabled != nil {
		enabled = *doc.Enabled
	}

	policy := &DevicePolicy{
		ID:             doc.ID,
		DeviceModelURN: deviceModelURN,
		Description:    doc.Description,
		LastModified:   doc.LastModified,
		Enabled:        enabled,
		Pipelines:      make(map[string]Pipeline, len(doc.Pipelines)),
	}

	for _, entry := range doc.Pipelines {
		attr := entry.AttributeName
		if attr == "" {
			attr = AllAttributesSentinel
		}
		pipeline := make(Pipeline, 0, len(entry.Pipeline))
		for _, wf := range entry.Pipeline {
			if _, ok := registry.Lookup(wf.ID); !ok {
				return nil, &ErrUnknownOperator{PolicyID: doc.ID, Attribute: attr, OpID: wf.ID}
			}
			params, err := parseParameters(wf.ID, wf.Parameters, parser)
			if err != nil {
				return nil, fmt.Errorf("policy %q attribute %q function %q: %w", doc.ID, attr, wf.ID, err)
			}
			pipeline = append(pipeline, PolicyFunction{ID: wf.ID, Parameters: params})
		}
		policy.Pipelines[attr] = pipeline
	}

	return policy, nil
}
