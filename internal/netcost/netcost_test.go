package netcost

import (
	"testing"

	"github.com/edgefabric/telemetry-policy/internal/functions"
)

func TestParse(t *testing.T) {
	cases := map[string]functions.NetworkCost{
		"":                        functions.CostEthernet,
		"ETHERNET":                functions.CostEthernet,
		"ethernet":                functions.CostEthernet,
		"CELLULAR":                functions.CostCellular,
		"cellular (roaming)":      functions.CostCellular,
		"SATELLITE":               functions.CostSatellite,
		"Satellite (low-earth)":   functions.CostSatellite,
		"not-a-real-value":        functions.CostEthernet,
	}
	for in, want := range cases {
		if got := Parse(in); got != want {
			t.Errorf("Parse(%q) = %v, want %v", in, got, want)
		}
	}
}
