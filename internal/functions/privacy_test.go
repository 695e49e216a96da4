package functions

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
)

// TestPrivacyOneWayMatchesSHA256Base64URL reproduces §8 scenario 2: a
// one-way hashed attribute must equal the unpadded base64url encoding of
// its SHA-256 digest.
func TestPrivacyOneWayMatchesSHA256Base64URL(t *testing.T) {
	op := PrivacyPolicy{}
	params := &Params{Level: PrivacyOneWay}
	state := &State{}
	fc := newFakeContext()

	op.Apply(fc.ctx(), "serial", params, state, "ABC-123")
	got, ok, err := op.Get(fc.ctx(), "serial", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a value, ok=%v err=%v", ok, err)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", "ABC-123")))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPrivacyTwoWayMatchesHMACSHA256(t *testing.T) {
	op := PrivacyPolicy{}
	params := &Params{Level: PrivacyTwoWay, HashingKey: "k1"}
	state := &State{}
	fc := newFakeContext()

	op.Apply(fc.ctx(), "serial", params, state, "ABC-123")
	got, ok, err := op.Get(fc.ctx(), "serial", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a value, ok=%v err=%v", ok, err)
	}

	mac := hmac.New(sha256.New, []byte("k1"))
	mac.Write([]byte(fmt.Sprintf("%v", "ABC-123")))
	want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestPrivacyTwoWayWithoutKeyPassesThrough(t *testing.T) {
	var logged []string
	op := PrivacyPolicy{Log: func(msg, attr string, level PrivacyLevel) { logged = append(logged, msg) }}
	params := &Params{Level: PrivacyTwoWay}
	state := &State{}
	fc := newFakeContext()

	op.Apply(fc.ctx(), "serial", params, state, "ABC-123")
	got, ok, _ := op.Get(fc.ctx(), "serial", params, state)
	if !ok || got != "ABC-123" {
		t.Fatalf("expected pass-through without a key, got %v ok=%v", got, ok)
	}
	if len(logged) != 1 {
		t.Fatalf("expected a fallback log line, got %d", len(logged))
	}
}

func TestPrivacyNonePassesThrough(t *testing.T) {
	op := PrivacyPolicy{}
	params := &Params{Level: PrivacyNone}
	state := &State{}
	fc := newFakeContext()
	op.Apply(fc.ctx(), "serial", params, state, "ABC-123")
	got, ok, _ := op.Get(fc.ctx(), "serial", params, state)
	if !ok || got != "ABC-123" {
		t.Fatalf("expected pass-through, got %v ok=%v", got, ok)
	}
}

func TestPrivacyRandomIsUnsupportedAndLogs(t *testing.T) {
	var logged []string
	op := PrivacyPolicy{Log: func(msg, attr string, level PrivacyLevel) { logged = append(logged, msg) }}
	params := &Params{Level: PrivacyRandom}
	state := &State{}
	fc := newFakeContext()
	op.Apply(fc.ctx(), "serial", params, state, "ABC-123")
	got, ok, _ := op.Get(fc.ctx(), "serial", params, state)
	if !ok || got != "ABC-123" {
		t.Fatalf("unsupported level should pass through, got %v ok=%v", got, ok)
	}
	if len(logged) != 1 {
		t.Fatalf("expected a fallback log line, got %d", len(logged))
	}
}
