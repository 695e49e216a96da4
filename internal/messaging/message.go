// Package messaging implements the Messaging Adapter (§4.6): the single
// entry point applyPolicies splits a telemetry message into per-attribute
// evaluations, runs those through the Pipeline Runtime, then hands the
// survivors (and anything the scheduled-slide driver produced
// independently) to the all-attributes pipeline for batching and
// cost-gating before the result goes outbound.
package messaging

import "github.com/edgefabric/telemetry-policy/internal/functions"

// Kind distinguishes the Message subtypes described in §9's Design Notes
// ("represent as a tagged variant with a shared envelope").
type Kind int

const (
	KindData Kind = iota
	KindAlert
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAlert:
		return "ALERT"
	default:
		return "OTHER"
	}
}

// Envelope is the shared header every Message kind carries, preserved
// untouched across per-attribute processing (§4.6).
type Envelope struct {
	Source      string
	Destination string
	Priority    int
	Reliability string
	EventTimeMs int64
	ClientID    string
	Properties  map[string]string
}

// DataItem is one attribute reading inside a DATA message.
type DataItem struct {
	Attribute string
	Value     any
}

// Message is the tagged variant applyPolicies operates on. Exactly one of
// Items (DATA) or Alert (ALERT) is populated depending on Kind; KindOther
// messages carry neither and pass through the all-attributes pipeline
// untouched aside from batching/cost-gating.
type Message struct {
	Kind      Kind
	Envelope  Envelope
	FormatURN string
	Items     []DataItem
	Alert     *functions.Alert
}

func (m *Message) withItems(items []DataItem) *Message {
	return &Message{Kind: KindData, Envelope: m.Envelope, FormatURN: m.FormatURN, Items: items}
}
