package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/workdeck/account-session-service/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "account-session-service"

type AppMetrics struct {
	gateDecisionCounter    metric.Int64Counter
	tokenRefreshCounter    metric.Int64Counter
	tokenRefreshDuration   metric.Float64Histogram
	sessionMutationCounter metric.Int64Counter
	carrierEventCounter    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	gateCounter, err := meter.Int64Counter("gate.authorize.decisions")
	if err != nil {
		return nil, err
	}
	refreshCounter, err := meter.Int64Counter("token.refresh.attempts")
	if err != nil {
		return nil, err
	}
	refreshDuration, err := meter.Float64Histogram("token.refresh.duration_seconds")
	if err != nil {
		return nil, err
	}
	mutationCounter, err := meter.Int64Counter("session.mutations")
	if err != nil {
		return nil, err
	}
	carrierCounter, err := meter.Int64Counter("session.carrier.events")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		gateDecisionCounter:    gateCounter,
		tokenRefreshCounter:    refreshCounter,
		tokenRefreshDuration:   refreshDuration,
		sessionMutationCounter: mutationCounter,
		carrierEventCounter:    carrierCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func RecordGateDecision(ctx context.Context, service, level, outcome string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.gateDecisionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("level", level),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordTokenRefresh(ctx context.Context, status string, elapsed time.Duration) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.tokenRefreshCounter.Add(ctx, 1, attrs)
	m.tokenRefreshDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func RecordSessionMutation(ctx context.Context, action, status string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.sessionMutationCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

func RecordCarrierEvent(ctx context.Context, outcome string) {
	metricsMu.RLock()
	m := appMetrics
	metricsMu.RUnlock()
	if m == nil {
		return
	}
	m.carrierEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

var (
	repoMetricsOnce sync.Once
	repoCounter     metric.Int64Counter
)

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	repoMetricsOnce.Do(func() {
		counter, err := otel.Meter(meterName).Int64Counter("repository.operations")
		if err == nil {
			repoCounter = counter
		}
	})
	if repoCounter == nil {
		return
	}
	repoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
