// Package telemetry wires the engine's few observability seams: a
// Logger interface for the handful of warnings the core emits
// (checksum mismatches, configuration-error retries), and package-level
// otel tracer/meter handles the Consumer and Producer use to
// span datastore calls and record counters. This is API-only — no SDK
// exporter is configured here; it follows the common
// otel.Tracer(...)/otel.Meter(...) package-level pattern, and the
// embedding application wires an exporter if it wants one.
package telemetry

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gosynchro/synchro"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	pollCounter, _             = meter.Int64Counter("synchro.consumer.polls")
	backoffStepCounter, _      = meter.Int64Counter("synchro.consumer.backoff_steps")
	checksumMismatchCounter, _ = meter.Int64Counter("synchro.consumer.checksum_mismatches")
	configErrorCounter, _      = meter.Int64Counter("synchro.consumer.configuration_errors")
	bundleSizeHistogram, _     = meter.Int64Histogram("synchro.pulse.bundle_size")
	producerWriteCounter, _    = meter.Int64Counter("synchro.producer.writes")
)

// Tracer returns the package-level tracer for spanning datastore and
// producer I/O.
func Tracer() trace.Tracer { return tracer }

// Meter returns the package-level meter for any caller that wants to
// register its own instruments alongside the core's.
func Meter() metric.Meter { return meter }

// RecordPoll increments the consumer poll counter.
func RecordPoll(ctx context.Context) { pollCounter.Add(ctx, 1) }

// RecordBackoffStep increments the consumer backoff-step counter.
func RecordBackoffStep(ctx context.Context) { backoffStepCounter.Add(ctx, 1) }

// RecordChecksumMismatch increments the checksum-mismatch counter.
func RecordChecksumMismatch(ctx context.Context) { checksumMismatchCounter.Add(ctx, 1) }

// RecordConfigurationError increments the persistent-configuration-error
// counter, tagged with the consecutive-failure count.
func RecordConfigurationError(ctx context.Context, consecutive int) {
	configErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("consecutive", consecutive)))
}

// RecordBundleSize records the number of entries in an emitted Pulse
// bundle.
func RecordBundleSize(ctx context.Context, size int) {
	bundleSizeHistogram.Record(ctx, int64(size))
}

// RecordProducerWrite increments the producer datastore-write counter
// for the given key.
func RecordProducerWrite(ctx context.Context, key string) {
	producerWriteCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

// EndSpan records err on span (if non-nil) and sets its status
// accordingly, then ends it. A small convenience used at the end of
// every spanned operation.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Logger is the minimal logging seam the core uses for warnings it
// cannot surface any other way. Defaults to log.Printf; host
// applications can supply their own.
type Logger interface {
	Printf(format string, args ...any)
}

type stdLogger struct{}

func (stdLogger) Printf(format string, args ...any) { log.Printf(format, args...) }

// Default is the package-wide Logger used when a component isn't given
// one explicitly.
var Default Logger = stdLogger{}
