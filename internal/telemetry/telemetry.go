package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"churchadmin/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

const instrumentationName = "churchadmin"

type Telemetry struct {
	tracerProvider *trace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	meterProvider  *sdkmetric.MeterProvider
	config         config.TelemetryConfig

	logins         metric.Int64Counter
	guardDecisions metric.Int64Counter
	activeClients  metric.Int64UpDownCounter
}

// New sets up OTLP gRPC exporters for traces, logs and metrics. When
// telemetry is disabled the returned value is a no-op that is still safe to use.
func New(cfg config.TelemetryConfig) (*Telemetry, error) {
	t := &Telemetry{config: cfg}
	if !cfg.Enabled || cfg.ExporterURL == "" {
		slog.Info("Telemetry disabled or no exporter URL provided")
		return t, t.initMetrics()
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
	endpoint := cleanEndpoint(cfg.ExporterURL)

	traceExporter, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	logExporter, err := otlploggrpc.New(context.Background(),
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(context.Background(),
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	t.tracerProvider = trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(cfg.SamplingRatio)),
	)
	t.loggerProvider = sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(10*time.Second))),
	)

	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)
	global.SetLoggerProvider(t.loggerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if err := t.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	slog.Info("Telemetry initialized successfully",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"environment", cfg.Environment,
		"endpoint", endpoint,
		"sampling_ratio", cfg.SamplingRatio,
	)
	return t, nil
}

func cleanEndpoint(url string) string {
	for _, prefix := range []string{"grpc://", "http://", "https://"} {
		url = strings.TrimPrefix(url, prefix)
	}
	return url
}

// initMetrics creates instruments on the global meter provider, which is a
// no-op provider until New installs a real one.
func (t *Telemetry) initMetrics() error {
	meter := otel.Meter(instrumentationName)

	var err error
	t.logins, err = meter.Int64Counter("churchadmin_logins_total",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create logins counter: %w", err)
	}

	t.guardDecisions, err = meter.Int64Counter("churchadmin_guard_decisions_total",
		metric.WithDescription("Route guard decisions by state"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create guard decisions counter: %w", err)
	}

	t.activeClients, err = meter.Int64UpDownCounter("churchadmin_dashboard_clients",
		metric.WithDescription("Dashboard clients held in memory"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create dashboard clients counter: %w", err)
	}
	return nil
}

func (t *Telemetry) RecordLogin(ctx context.Context, success bool) {
	if t == nil || t.logins == nil {
		return
	}
	t.logins.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

func (t *Telemetry) RecordGuardDecision(ctx context.Context, route, state string) {
	if t == nil || t.guardDecisions == nil {
		return
	}
	t.guardDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("state", state),
	))
}

// ClientsChanged tracks dashboard clients created (delta > 0) and evicted.
func (t *Telemetry) ClientsChanged(ctx context.Context, delta int64) {
	if t == nil || t.activeClients == nil {
		return
	}
	t.activeClients.Add(ctx, delta)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log provider shutdown: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (t *Telemetry) Tracer(name string) oteltrace.Tracer {
	return otel.Tracer(name)
}

func (t *Telemetry) IsEnabled() bool {
	return t != nil && t.config.Enabled && t.tracerProvider != nil
}

// OTelHandler is a slog.Handler that emits records through the global
// OpenTelemetry logger provider.
type OTelHandler struct {
	logger log.Logger
	opts   *slog.HandlerOptions
	attrs  []log.KeyValue
	group  string
}

func NewOTelHandler(opts *slog.HandlerOptions) *OTelHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &OTelHandler{
		logger: global.GetLoggerProvider().Logger(instrumentationName + ".slog"),
		opts:   opts,
	}
}

func (h *OTelHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level != nil {
		return level >= h.opts.Level.Level()
	}
	return level >= slog.LevelInfo
}

func (h *OTelHandler) Handle(ctx context.Context, record slog.Record) error {
	logRecord := log.Record{}
	logRecord.SetTimestamp(record.Time)
	logRecord.SetBody(log.StringValue(record.Message))
	logRecord.SetSeverity(convertSlogLevel(record.Level))
	logRecord.SetSeverityText(record.Level.String())
	logRecord.AddAttributes(h.attrs...)

	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		logRecord.AddAttributes(
			log.String("trace_id", spanCtx.TraceID().String()),
			log.String("span_id", spanCtx.SpanID().String()),
		)
	}

	if h.opts.AddSource && record.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{record.PC})
		f, _ := fs.Next()
		if f.File != "" {
			logRecord.AddAttributes(
				log.String("code.filepath", f.File),
				log.String("code.function", f.Function),
				log.Int("code.lineno", f.Line),
			)
		}
	}

	record.Attrs(func(attr slog.Attr) bool {
		logRecord.AddAttributes(h.convertAttr(attr))
		return true
	})

	h.logger.Emit(ctx, logRecord)
	return nil
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]log.KeyValue{}, h.attrs...)
	for _, attr := range attrs {
		next.attrs = append(next.attrs, h.convertAttr(attr))
	}
	return &next
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func (h *OTelHandler) convertAttr(attr slog.Attr) log.KeyValue {
	if h.group != "" {
		attr.Key = h.group + "." + attr.Key
	}
	return convertSlogAttr(attr)
}

func convertSlogLevel(level slog.Level) log.Severity {
	switch {
	case level >= slog.LevelError:
		return log.SeverityError
	case level >= slog.LevelWarn:
		return log.SeverityWarn
	case level >= slog.LevelInfo:
		return log.SeverityInfo
	default:
		return log.SeverityDebug
	}
}

func convertSlogAttr(attr slog.Attr) log.KeyValue {
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return log.String(attr.Key, value.String())
	case slog.KindInt64:
		return log.Int64(attr.Key, value.Int64())
	case slog.KindUint64:
		return log.Int64(attr.Key, int64(value.Uint64()))
	case slog.KindFloat64:
		return log.Float64(attr.Key, value.Float64())
	case slog.KindBool:
		return log.Bool(attr.Key, value.Bool())
	case slog.KindDuration:
		return log.Int64(attr.Key, value.Duration().Nanoseconds())
	case slog.KindTime:
		return log.String(attr.Key, value.Time().Format(time.RFC3339))
	default:
		return log.String(attr.Key, value.String())
	}
}
