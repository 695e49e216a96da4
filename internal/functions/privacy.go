package functions

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PrivacyPolicy implements the "privacyPolicy" operator: one-way hashing
// (SHA-256), two-way hashing (HMAC-SHA-256 keyed by hashingKey), or a
// documented-unsupported "random" level. Missing key or unknown algorithm
// passes the value through unchanged (§4.2, §7).
type PrivacyPolicy struct {
	// Log receives a message when the operator falls back to pass-through
	// (missing key / unsupported level). Optional; nil disables logging.
	Log func(msg string, attr string, level PrivacyLevel)
}

func (PrivacyPolicy) ID() string                         { return "privacyPolicy" }
func (PrivacyPolicy) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (p PrivacyPolicy) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Privacy == nil {
		state.Privacy = &PrivacyState{}
	}
	state.Privacy.LastValue = value
	return true, nil
}

func (p PrivacyPolicy) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Privacy == nil {
		return nil, false, &ErrMissingState{Operator: "privacyPolicy"}
	}
	raw := fmt.Sprintf("%v", state.Privacy.LastValue)

	switch params.Level {
	case PrivacyNone:
		return state.Privacy.LastValue, true, nil
	case PrivacyOneWay:
		sum := sha256.Sum256([]byte(raw))
		return base64.RawURLEncoding.EncodeToString(sum[:]), true, nil
	case PrivacyTwoWay:
		if params.HashingKey == "" {
			p.log("privacyPolicy: missing hashingKey for two-way hash, passing through", attr)
			return state.Privacy.LastValue, true, nil
		}
		mac := hmac.New(sha256.New, []byte(params.HashingKey))
		mac.Write([]byte(raw))
		return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), true, nil
	default: // PrivacyRandom or unknown
		p.log("privacyPolicy: unsupported level, passing through", attr)
		return state.Privacy.LastValue, true, nil
	}
}

func (p PrivacyPolicy) log(msg, attr string) {
	if p.Log != nil {
		p.Log(msg, attr, PrivacyRandom)
	}
}
