package messaging

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/metrics"
	"github.com/edgefabric/telemetry-policy/internal/pipeline"
)

// AuditSink records alert/action side effects durably, independent of
// whatever outbound Message they end up folded into. Implemented by
// audit.Store; left nil it's simply skipped.
type AuditSink interface {
	RecordAlert(ctx context.Context, deviceID string, alert functions.Alert) error
	RecordAction(ctx context.Context, deviceID string, inv functions.ActionInvocation) error
}

// Adapter is the Messaging Adapter (§4.6): the owner of applyPolicies.
type Adapter struct {
	Analogs *AnalogRegistry
	// AlertSeverityThreshold is the configured severity at or above which
	// an alert bypasses the all-attributes batcher ("severity override").
	AlertSeverityThreshold functions.Severity
	Audit                  AuditSink
	Logger                 *zap.Logger
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return zap.NewNop()
}

// ApplyPolicies is applyPolicies(Message) -> Message[] (§4.6). modelURN and
// deviceID identify which DeviceAnalog owns m.
func (a *Adapter) ApplyPolicies(modelURN, deviceID string, m *Message) []*Message {
	var out []*Message
	if m.Kind == KindData {
		out = a.applyData(modelURN, deviceID, m)
	} else {
		out = a.applyAllAttributes(modelURN, deviceID, m)
	}
	for _, msg := range out {
		metrics.MessagesProduced.WithLabelValues(msg.Kind.String()).Inc()
	}
	return out
}

// applyData implements the DATA branch of §4.6: split per item, run
// §4.5 per-attribute via OfferBatch (so computed metrics can trigger
// within the batch), rebuild a message from survivors, then feed that
// through the all-attributes pipeline. Messages the scheduled-slide
// driver produced since the last call are prepended.
func (a *Adapter) applyData(modelURN, deviceID string, m *Message) []*Message {
	analog := a.Analogs.Analog(modelURN, deviceID)

	values := make(map[string]any, len(m.Items))
	order := make([]string, 0, len(m.Items))
	for _, item := range m.Items {
		values[item.Attribute] = item.Value
		order = append(order, item.Attribute)
	}
	results := analog.OfferBatch(values)

	surviving := make([]DataItem, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, attr := range order {
		if v, ok := results[attr]; ok {
			surviving = append(surviving, DataItem{Attribute: attr, Value: v})
			seen[attr] = struct{}{}
		}
	}
	// computedMetric outputs that weren't in the original item list
	extra := make([]string, 0)
	for attr := range results {
		if _, ok := seen[attr]; !ok {
			extra = append(extra, attr)
		}
	}
	sort.Strings(extra)
	for _, attr := range extra {
		surviving = append(surviving, DataItem{Attribute: attr, Value: results[attr]})
	}

	out := a.drainAsides(modelURN, deviceID, analog, m.Envelope)

	if len(surviving) == 0 {
		return out
	}
	return append(out, a.applyAllAttributes(modelURN, deviceID, m.withItems(surviving))...)
}

// drainAsides collects every alert/scheduled-emit side effect buffered on
// analog since the last call and routes each through the all-attributes
// pipeline on its own, per §4.6 ("messages produced by expired policies
// are prepended to the output"; alerts bypass per-attribute processing
// entirely). env seeds the outgoing envelope for these side-effect
// messages, since neither carries one of its own.
func (a *Adapter) drainAsides(modelURN, deviceID string, analog *pipeline.DeviceAnalog, env Envelope) []*Message {
	var out []*Message
	for _, al := range analog.DrainPendingAlerts() {
		alert := al
		a.recordAlert(deviceID, alert)
		msg := &Message{Kind: KindAlert, Envelope: env, FormatURN: alert.FormatURN, Alert: &alert}
		out = append(out, a.applyAllAttributes(modelURN, deviceID, msg)...)
	}
	for _, inv := range analog.DrainPendingActions() {
		a.recordAction(deviceID, inv)
	}
	for _, emit := range analog.DrainScheduledEmits() {
		out = append(out, &Message{
			Kind:     KindData,
			Envelope: env,
			Items:    []DataItem{{Attribute: emit.Attribute, Value: emit.Value}},
		})
	}
	return out
}

// recordAlert writes alert to the audit trail, if one is configured. A
// failure is logged, not propagated: losing an audit row must never
// block message delivery.
func (a *Adapter) recordAlert(deviceID string, alert functions.Alert) {
	metrics.AlertsEmitted.WithLabelValues(alert.Severity.String()).Inc()
	if a.Audit == nil {
		return
	}
	if err := a.Audit.RecordAlert(context.Background(), deviceID, alert); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("alert", "error").Inc()
		a.logger().Warn("failed to record alert to audit trail", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	metrics.AuditWritesTotal.WithLabelValues("alert", "ok").Inc()
}

// recordAction writes inv to the audit trail, if one is configured.
func (a *Adapter) recordAction(deviceID string, inv functions.ActionInvocation) {
	metrics.ActionsInvoked.WithLabelValues(inv.Name).Inc()
	if a.Audit == nil {
		return
	}
	if err := a.Audit.RecordAction(context.Background(), deviceID, inv); err != nil {
		metrics.AuditWritesTotal.WithLabelValues("action", "error").Inc()
		a.logger().Warn("failed to record action to audit trail", zap.String("device_id", deviceID), zap.Error(err))
		return
	}
	metrics.AuditWritesTotal.WithLabelValues("action", "ok").Inc()
}

// applyAllAttributes implements the ALERT/OTHER branch and the tail of
// the DATA branch: run the single honored all-attributes operator, with
// the severity-override bypass for high-severity alerts (§4.5).
func (a *Adapter) applyAllAttributes(modelURN, deviceID string, m *Message) []*Message {
	analog := a.Analogs.Analog(modelURN, deviceID)

	if m.Kind == KindAlert && m.Alert != nil && m.Alert.Severity >= a.AlertSeverityThreshold {
		metrics.SeverityOverridesTotal.Inc()
		out := a.flushBatchedMessages(analog)
		return append(out, m)
	}

	opID, hasOp := analog.AllAttributesOperatorID()
	if !hasOp {
		return []*Message{m}
	}

	v, ready := analog.ApplyAllAttributes(m)
	if !ready {
		return nil
	}
	batch, ok := v.([]any)
	if !ok {
		a.logger().Warn("all-attributes operator did not return a message batch", zap.String("operator", opID))
		return []*Message{m}
	}
	return messagesFromBatch(batch)
}

// flushBatchedMessages forces the all-attributes batcher to give up
// whatever it is currently holding, without offering it a new value.
// Called on the severity-override path (§8 scenario 4) so a bypassing
// alert doesn't leave already-buffered messages stranded until the
// batcher next fills or slides on its own.
func (a *Adapter) flushBatchedMessages(analog *pipeline.DeviceAnalog) []*Message {
	v, ok := analog.FlushAllAttributesBatch()
	if !ok {
		return nil
	}
	batch, ok := v.([]any)
	if !ok {
		return nil
	}
	return messagesFromBatch(batch)
}

func messagesFromBatch(batch []any) []*Message {
	out := make([]*Message, 0, len(batch))
	for _, item := range batch {
		if msg, ok := item.(*Message); ok {
			out = append(out, msg)
		}
	}
	return out
}
