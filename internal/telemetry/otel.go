package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arkade-os/solverd/internal/core/application"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	serviceName = "solverd"
	meterName   = "github.com/arkade-os/solverd"
)

// InfoProvider is satisfied by the application service.
type InfoProvider interface {
	GetInfo(ctx context.Context) (*application.ServiceInfo, error)
}

// InitOtelSDK installs the global trace and meter providers exporting over
// OTLP/HTTP to the collector endpoint, and forwards the logrus entries at or
// above the current log level. If info is not nil, the number of pending
// intents and the current epoch are exported as gauges.
func InitOtelSDK(
	ctx context.Context, otelCollectorEndpoint string, pushInterval time.Duration,
	info InfoProvider,
) (func(context.Context) error, error) {
	endpoint, insecure, err := parseEndpoint(otelCollectorEndpoint)
	if err != nil {
		return nil, err
	}
	if pushInterval <= 0 {
		pushInterval = 10 * time.Second
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build otel resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	logOpts := []otlploghttp.Option{otlploghttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
		logOpts = append(logOpts, otlploghttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter, sdktrace.WithBatchTimeout(2*time.Second)),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		// nolint
		tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(pushInterval)),
		),
	)
	otel.SetMeterProvider(mp)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if info != nil {
		if err := registerInfoGauges(mp.Meter(meterName), info); err != nil {
			// nolint
			tp.Shutdown(ctx)
			// nolint
			mp.Shutdown(ctx)
			return nil, err
		}
	}

	logExporter, err := otlploghttp.New(ctx, logOpts...)
	if err != nil {
		// nolint
		tp.Shutdown(ctx)
		// nolint
		mp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
	)
	log.AddHook(newLogHook(lp.Logger(meterName), log.GetLevel()))

	log.Infof("otel sdk exporting to %s every %s", endpoint, pushInterval)

	return func(ctx context.Context) error {
		var shutdownErr error
		if err := lp.Shutdown(ctx); err != nil {
			shutdownErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
		if err := tp.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
		return shutdownErr
	}, nil
}

func registerInfoGauges(meter metric.Meter, info InfoProvider) error {
	pending, err := meter.Int64ObservableGauge(
		"solverd.intents.pending",
		metric.WithDescription("Intents not yet in a terminal state"),
	)
	if err != nil {
		return fmt.Errorf("failed to create pending intents gauge: %w", err)
	}
	epoch, err := meter.Int64ObservableGauge(
		"solverd.attestation.epoch",
		metric.WithDescription("Current attestation epoch"),
	)
	if err != nil {
		return fmt.Errorf("failed to create epoch gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		svcInfo, err := info.GetInfo(ctx)
		if err != nil {
			log.WithError(err).Debug("failed to get service info for telemetry")
			return nil
		}
		attrs := metric.WithAttributes(attribute.String("solver", svcInfo.SolverAddress))
		o.ObserveInt64(pending, svcInfo.PendingIntents, attrs)
		o.ObserveInt64(epoch, int64(svcInfo.CurrentEpoch), attrs)
		return nil
	}, pending, epoch)
	if err != nil {
		return fmt.Errorf("failed to register telemetry callback: %w", err)
	}
	return nil
}

// parseEndpoint accepts either host:port or a http(s) URL; plain http and
// bare host:port endpoints are exported without TLS.
func parseEndpoint(endpoint string) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("missing otel collector endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid otel collector endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid otel collector endpoint %q", endpoint)
	}
	switch u.Scheme {
	case "http":
		return u.Host, true, nil
	case "https":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported otel collector scheme %q", u.Scheme)
	}
}
