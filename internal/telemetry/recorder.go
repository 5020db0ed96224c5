// Package telemetry records engine operations as OTel metrics and log
// events. Until Init installs real providers the global no-op providers
// swallow everything.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName  = "github.com/starford/linestore"
	loggerName = "linestore"
)

type recorderInstruments struct {
	readTotal     metric.Int64Counter
	mutationTotal metric.Int64Counter
	opDuration    metric.Float64Histogram
	bytesWritten  metric.Int64Counter
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers instruments against the current global
// MeterProvider. It runs lazily on first use, so Init must come first to
// get real instruments.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterName)
		inst.readTotal, _ = m.Int64Counter("linestore.reads.total",
			metric.WithDescription("Total line-addressed reads"),
		)
		inst.mutationTotal, _ = m.Int64Counter("linestore.mutations.total",
			metric.WithDescription("Total committed or failed mutations"),
		)
		inst.opDuration, _ = m.Float64Histogram("linestore.op.duration_ms",
			metric.WithDescription("Engine operation latency in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.bytesWritten, _ = m.Int64Counter("linestore.bytes_written.total",
			metric.WithDescription("Bytes handed to the storage layer by writers"),
			metric.WithUnit("By"),
		)
	})
}

func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordRead records a read, count or search.
func RecordRead(ctx context.Context, op, path string, d time.Duration, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	inst.readTotal.Add(ctx, 1, attrs)
	inst.opDuration.Record(ctx, ms(d), attrs)
	if err != nil {
		emit(ctx, "lines.read", otellog.SeverityWarn,
			otellog.String("op", op),
			otellog.String("path", path),
			errKV(err),
		)
	}
}

// RecordMutation records a mutator call. written is the size of the body
// handed to storage, zero when unknown.
func RecordMutation(ctx context.Context, op, path, source string, written int64, d time.Duration, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	inst.mutationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("source", source),
		attribute.String("status", status),
	))
	inst.opDuration.Record(ctx, ms(d), attrs)
	if err == nil && written > 0 {
		inst.bytesWritten.Add(ctx, written, metric.WithAttributes(attribute.String("op", op)))
	}
	emit(ctx, "lines.mutation", severity(err),
		otellog.String("op", op),
		otellog.String("path", path),
		otellog.String("source", source),
		otellog.String("status", status),
		otellog.Float64("duration_ms", ms(d)),
		errKV(err),
	)
}
