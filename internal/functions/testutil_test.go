package functions

import "time"

// fakeContext builds a *Context with a controllable clock and network
// cost, and captures emitted alerts/actions for assertions.
type fakeContext struct {
	t       int64 // ms epoch "now"
	cost    NetworkCost
	alerts  []Alert
	actions []ActionInvocation
	current map[string]float64
}

func newFakeContext() *fakeContext {
	return &fakeContext{current: map[string]float64{}}
}

func (f *fakeContext) ctx() *Context {
	return &Context{
		EndpointID: "dev-1",
		Now:        func() time.Time { return time.UnixMilli(f.t) },
		NetworkCost: func() NetworkCost { return f.cost },
		Current: func(attr string) (float64, bool) {
			v, ok := f.current[attr]
			return v, ok
		},
		InProcess: func(attr string) (float64, bool) {
			v, ok := f.current[attr]
			return v, ok
		},
		SetInProcess: func(attr string, v float64) { f.current[attr] = v },
		EmitAlert:    func(a Alert) { f.alerts = append(f.alerts, a) },
		InvokeAction: func(a ActionInvocation) { f.actions = append(f.actions, a) },
	}
}

func (f *fakeContext) advance(ms int64) { f.t += ms }
