// Command agent is the on-device telemetry policy engine's demo
// entrypoint: it wires the Policy Manager, Pipeline Runtime, and
// Messaging Adapter together against a small in-memory device model and
// runs a handful of sample readings through applyPolicies so the full
// stack can be exercised end to end without a real device fleet.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/audit"
	"github.com/edgefabric/telemetry-policy/internal/engineconfig"
	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/messaging"
	"github.com/edgefabric/telemetry-policy/internal/model"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
	"github.com/edgefabric/telemetry-policy/internal/policymanager"
	"github.com/edgefabric/telemetry-policy/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := engineconfig.Load()
	if err != nil {
		logger.Fatal("failed to load engine configuration", zap.Error(err))
	}

	shutdownTracing, err := tracing.Initialize(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		OutputPath:  cfg.Tracing.OutputPath,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	registry := functions.NewRegistry()

	store := policymanager.NewStore(cfg.Store.Dir, logger)

	var cache policymanager.StalenessCache
	if cfg.Staleness.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Staleness.Addr})
		cache = policymanager.NewRedisStalenessCache(rdb, cfg.Staleness.KeyPrefix, cfg.StalenessTTL())
	}

	httpRemote := policymanager.NewHTTPRemoteClient(cfg.Remote.BaseURL, &http.Client{Timeout: cfg.RemoteTimeout()}, logger)
	remote := policymanager.NewRateLimitedRemoteClient(httpRemote, cfg.Remote.RateLimitPerSec, cfg.Remote.RateLimitBurst)

	mgr, err := policymanager.New(policymanager.Config{
		Remote:        remote,
		Registry:      registry,
		FormulaParser: demoFormulaParser{},
		Store:         store,
		Cache:         cache,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to build policy manager", zap.Error(err))
	}

	auditStore, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN, logger)
	if err != nil {
		logger.Fatal("failed to open audit trail", zap.Error(err))
	}
	defer auditStore.Close()

	models := staticModelProvider{models: map[string]*model.DeviceModel{
		"urn:demo:thermostat": model.NewDeviceModel("urn:demo:thermostat",
			[]model.Attribute{{Name: "temp", Type: model.Number}, {Name: "humidity", Type: model.Number}},
			[]model.Action{{Name: "shutdownValve"}},
			nil,
		),
	}}

	analogs := messaging.NewAnalogRegistry(mgr, models, registry, logger)
	defer analogs.Close()

	adapter := &messaging.Adapter{
		Analogs:                analogs,
		AlertSeverityThreshold: functions.ParseSeverity(cfg.Messaging.AlertSeverityThreshold),
		Audit:                  auditStore,
		Logger:                 logger,
	}

	if watcher, err := engineconfig.NewWatcher(engineconfig.Path(), logger); err != nil {
		logger.Warn("config hot-reload disabled", zap.Error(err))
	} else {
		defer watcher.Close()
		go watcher.Run(ctx, func(reloaded *engineconfig.Config) {
			adapter.AlertSeverityThreshold = functions.ParseSeverity(reloaded.Messaging.AlertSeverityThreshold)
			logger.Info("engine configuration reloaded", zap.String("alert_severity_threshold", reloaded.Messaging.AlertSeverityThreshold))
		})
	}

	runDemo(adapter, logger)

	<-ctx.Done()
	logger.Info("shutting down")
}

// runDemo offers a few sample readings for one device, logging what
// applyPolicies produces, so an operator can see the pipeline end to end
// without waiting for a real message broker to deliver anything.
func runDemo(adapter *messaging.Adapter, logger *zap.Logger) {
	msg := &messaging.Message{
		Kind:     messaging.KindData,
		Envelope: messaging.Envelope{ClientID: "demo-device-1", Source: "demo-device-1"},
		Items: []messaging.DataItem{
			{Attribute: "temp", Value: 21.5},
			{Attribute: "humidity", Value: 40.0},
		},
	}
	out := adapter.ApplyPolicies("urn:demo:thermostat", "demo-device-1", msg)
	logger.Info("applyPolicies produced messages", zap.Int("count", len(out)))
}

type staticModelProvider struct {
	models map[string]*model.DeviceModel
}

func (p staticModelProvider) Model(urn string) (*model.DeviceModel, error) {
	return p.models[urn], nil
}

// demoFormulaParser is a minimal stand-in for the formula tokenizer/parser,
// which is an external collaborator the policy engine never implements
// itself. It understands just enough syntax to drive the demo above:
// bare numeric constants, "current.<attr>" / "inprocess.<attr>"
// references, and two such operands joined by a single binary operator.
type demoFormulaParser struct{}

func (demoFormulaParser) Parse(source string) (formula.Expr, error) {
	return parseDemoFormula(source)
}
