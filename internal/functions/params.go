package functions

import "github.com/edgefabric/telemetry-policy/internal/formula"

// Params is the structured, per-operator configuration produced by
// parsing a PolicyFunction's raw `parameters` map (§4.3). Exactly the
// fields relevant to an operator's id are populated; the rest are zero
// value and ignored.
type Params struct {
	// filterCondition / alertCondition / actionCondition
	Condition formula.Expr
	Filter    bool // default true; parser must set explicitly

	// sampleQuality: rate=0 always, rate=-1 random 1-in-30, else every Nth
	Rate int

	// mean / min / max / standardDeviation / eliminateDuplicates /
	// detectDuplicates / batchByTime
	WindowMs int64
	SlideMs  int64 // 0 means "defaults to WindowMs"

	// batchBySize
	BatchSize int

	// batchByCost
	CostThreshold NetworkCost

	// privacyPolicy
	Level      PrivacyLevel
	HashingKey string

	// alertCondition
	AlertURN    string
	AlertFields map[string]formula.Expr
	Severity    Severity

	// actionCondition
	ActionName string
	ActionArgs []formula.Expr

	// computedMetric
	Formula formula.Expr
}

// EffectiveSlide returns SlideMs, defaulting to WindowMs when unset.
func (p *Params) EffectiveSlide() int64 {
	if p.SlideMs > 0 {
		return p.SlideMs
	}
	return p.WindowMs
}
