package functions

import "math"

// WindowOperator implements the shared windowed-aggregation algorithm of
// §4.2 for mean, min, max and standardDeviation. The four operators
// differ only in how a value folds into a bucket and how buckets combine
// at Get time, plus the documented bucket-count asymmetry (mean/max size
// their ring off max(window,slide); min/stddev off min(window,slide) —
// preserved exactly as specified; TestMinMaxBucketCountAsymmetry pins it).
type WindowOperator struct {
	Kind windowKind
	Name string
}

func Mean() WindowOperator          { return WindowOperator{Kind: kindMean, Name: "mean"} }
func Min() WindowOperator           { return WindowOperator{Kind: kindMin, Name: "min"} }
func Max() WindowOperator           { return WindowOperator{Kind: kindMax, Name: "max"} }
func StandardDeviation() WindowOperator { return WindowOperator{Kind: kindStdDev, Name: "standardDeviation"} }

func (w WindowOperator) ID() string { return w.Name }

func (w WindowOperator) Window(params *Params) (int64, int64, bool) {
	if params.WindowMs <= 0 {
		return 0, 0, false
	}
	return params.WindowMs, params.EffectiveSlide(), true
}

func (w WindowOperator) newState(params *Params) *WindowState {
	windowMs := params.WindowMs
	slideMs := params.EffectiveSlide()
	span := gcd64(windowMs, slideMs)
	if span <= 0 {
		span = 1
	}
	var base int64
	switch w.Kind {
	case kindMean, kindMax:
		base = max64(windowMs, slideMs)
	default:
		base = min64(windowMs, slideMs)
	}
	count := int(ceilDiv(base, span)) + 1
	if count < 1 {
		count = 1
	}
	buckets := make([]windowBucket, count)
	for i := range buckets {
		buckets[i] = newWindowBucket()
	}
	return &WindowState{
		kind:     w.Kind,
		windowMs: windowMs,
		slideMs:  slideMs,
		spanMs:   span,
		buckets:  buckets,
	}
}

// Apply never reports ready: windowed operators only ever emit when the
// scheduled slide (or a window-expiry check in the per-attribute offer
// loop) fires a Get.
func (w WindowOperator) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	now := ctx.now().UnixMilli()
	if state.Window == nil {
		state.Window = w.newState(params)
		state.Window.windowStart = now
	}
	ws := state.Window

	f, ok := asFloat(value)
	if !ok {
		return false, nil
	}

	bucketIndex := (now - ws.windowStart) / ws.spanMs
	n := int64(len(ws.buckets))
	idx := int(((bucketIndex % n) + n) % n)
	// bucketIndex can legitimately exceed the ring if the caller fell
	// behind; fold it back in rather than treating it as fatal (§7).
	pos := (ws.bucketZero + idx) % len(ws.buckets)
	b := &ws.buckets[pos]

	switch ws.kind {
	case kindMean:
		b.sum += f
		b.count++
	case kindMin:
		if f < b.min {
			b.min = f
		}
		b.count++
	case kindMax:
		if f > b.max {
			b.max = f
		}
		b.count++
	case kindStdDev:
		b.values = append(b.values, f)
		b.count++
	}
	return false, nil
}

func (w WindowOperator) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Window == nil {
		// No reading has reached this slot yet: an empty window.
		return nil, false, nil
	}
	ws := state.Window

	bucketsPerWindow := int(ws.windowMs / ws.spanMs)
	bucketsPerSlide := int(ws.slideMs / ws.spanMs)
	if bucketsPerWindow < 1 {
		bucketsPerWindow = 1
	}
	if bucketsPerSlide < 1 {
		bucketsPerSlide = 1
	}

	total := 0
	sum := 0.0
	mn := posInf()
	mx := negInf()
	var all []float64

	for i := 0; i < bucketsPerWindow; i++ {
		b := &ws.buckets[(ws.bucketZero+i)%len(ws.buckets)]
		total += b.count
		sum += b.sum
		if b.min < mn {
			mn = b.min
		}
		if b.max > mx {
			mx = b.max
		}
		all = append(all, b.values...)
	}

	// Advance the ring and the window regardless of whether this window
	// produced a value: a silent window still slides forward.
	for i := 0; i < bucketsPerSlide; i++ {
		ws.buckets[(ws.bucketZero+i)%len(ws.buckets)].reset()
	}
	ws.bucketZero = (ws.bucketZero + bucketsPerSlide) % len(ws.buckets)
	ws.windowStart += ws.slideMs

	if total == 0 {
		return nil, false, nil
	}

	switch ws.kind {
	case kindMean:
		return sum / float64(total), true, nil
	case kindMin:
		return mn, true, nil
	case kindMax:
		return mx, true, nil
	case kindStdDev:
		return populationStdDev(all), true, nil
	default:
		return nil, false, nil
	}
}

func populationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func gcd64(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}
