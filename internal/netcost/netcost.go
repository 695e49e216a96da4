// Package netcost parses the environment-provided network-cost input
// §6 describes: case-insensitive, with any parenthetical suffix
// stripped (e.g. "CELLULAR (roaming)" still parses as CELLULAR),
// defaulting to the cheapest tier when absent.
package netcost

import (
	"strings"

	"github.com/edgefabric/telemetry-policy/internal/functions"
)

// Parse converts a raw environment string into a NetworkCost. Absent or
// unrecognized input defaults to the cheapest tier, ETHERNET.
func Parse(raw string) functions.NetworkCost {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch strings.ToUpper(s) {
	case "CELLULAR":
		return functions.CostCellular
	case "SATELLITE":
		return functions.CostSatellite
	default:
		return functions.CostEthernet
	}
}
