package policydoc

import (
	"testing"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
)

type stubParser struct{}

func (stubParser) Parse(source string) (formula.Expr, error) {
	return formula.CurrentRef(source), nil
}

const samplePolicyJSON = `{
  "id": "policy-1",
  "description": "demo",
  "lastModified": 1700000000000,
  "enabled": true,
  "pipelines": [
    {
      "attributeName": "temperature",
      "pipeline": [
        {"id": "filterCondition", "parameters": {"condition": "temperature"}},
        {"id": "mean", "parameters": {"window": 10000, "slide": 5000}},
        {
          "id": "alertCondition",
          "parameters": {
            "condition": "temperature",
            "alert": {
              "urn": "urn:overheat",
              "fields": {"reading": "temperature"},
              "severity": "CRITICAL"
            }
          }
        }
      ]
    },
    {
      "attributeName": "*",
      "pipeline": [
        {"id": "batchBySize", "parameters": {"batchSize": 5}}
      ]
    }
  ]
}`

func TestParsePolicyDocument(t *testing.T) {
	reg := functions.NewRegistry()
	policy, err := Parse([]byte(samplePolicyJSON), "urn:thermostat", reg, stubParser{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if policy.ID != "policy-1" || policy.LastModified != 1700000000000 || !policy.Enabled {
		t.Fatalf("unexpected policy header: %+v", policy)
	}
	if policy.DeviceModelURN != "urn:thermostat" {
		t.Fatalf("expected deviceModelUrn to be carried from the caller, got %q", policy.DeviceModelURN)
	}

	pl, ok := policy.Pipelines["temperature"]
	if !ok || len(pl) != 3 {
		t.Fatalf("expected a 3-step temperature pipeline, got %+v", pl)
	}
	if pl[0].ID != "filterCondition" || pl[0].Parameters.Condition == nil {
		t.Fatalf("expected filterCondition with a parsed condition, got %+v", pl[0])
	}
	if pl[1].ID != "mean" || pl[1].Parameters.WindowMs != 10000 || pl[1].Parameters.SlideMs != 5000 {
		t.Fatalf("unexpected mean params: %+v", pl[1].Parameters)
	}
	alertParams := pl[2].Parameters
	if alertParams.AlertURN != "urn:overheat" || alertParams.Severity != functions.SeverityCritical {
		t.Fatalf("unexpected alert params: %+v", alertParams)
	}
	if _, ok := alertParams.AlertFields["reading"]; !ok {
		t.Fatalf("expected alert field 'reading' to be parsed, got %+v", alertParams.AlertFields)
	}

	all, ok := policy.AllAttributesPipeline()
	if !ok || len(all) != 1 || all[0].ID != "batchBySize" || all[0].Parameters.BatchSize != 5 {
		t.Fatalf("unexpected all-attributes pipeline: %+v", all)
	}
}

func TestParseRejectsUnknownOperator(t *testing.T) {
	reg := functions.NewRegistry()
	doc := `{"id":"p","lastModified":1,"pipelines":[{"attributeName":"x","pipeline":[{"id":"doesNotExist","parameters":{}}]}]}`
	_, err := Parse([]byte(doc), "urn:m", reg, stubParser{})
	if err == nil {
		t.Fatal("expected an error for an unknown operator id")
	}
}

func TestParseActionConditionFlattensShape(t *testing.T) {
	reg := functions.NewRegistry()
	doc := `{
      "id": "p", "lastModified": 1,
      "pipelines": [{"attributeName": "pressure", "pipeline": [
        {"id": "actionCondition", "parameters": {
          "condition": "pressure",
          "action": {"name": "ventOpen", "arguments": ["pressure"]}
        }}
      ]}]
    }`
	policy, err := Parse([]byte(doc), "urn:m", reg, stubParser{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	fn := policy.Pipelines["pressure"][0]
	if fn.Parameters.ActionName != "ventOpen" || len(fn.Parameters.ActionArgs) != 1 {
		t.Fatalf("unexpected action params: %+v", fn.Parameters)
	}
}

func TestEnabledDefaultsTrueWhenAbsent(t *testing.T) {
	reg := functions.NewRegistry()
	doc := `{"id":"p","lastModified":1,"pipelines":[]}`
	policy, err := Parse([]byte(doc), "urn:m", reg, stubParser{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !policy.Enabled {
		t.Fatal("expected enabled to default to true when absent")
	}
}
