package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attributes must stay bounded: hashes, keys, URLs and paths belong in
// logs, never in attributes that feed metrics.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	span.SetAttributes(attribute.String("status", statusOf(err)))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(ctx, operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentDownload instruments the fetch of one archive.
func (t *Telemetry) InstrumentDownload(ctx context.Context, strategy string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.addActiveDownloads(ctx, 1)
	defer t.addActiveDownloads(ctx, -1)

	err := t.InstrumentOperation(ctx, "download", "fetch", func(ctx context.Context) error {
		if span := spanFromContext(ctx); span != nil {
			span.SetAttributes(attribute.String("download.strategy", strategy))
		}

		return fn(ctx)
	})

	t.RecordDownload(ctx, strategy, statusOf(err), time.Since(start))

	return err
}

// InstrumentUnpack instruments the extraction of one archive.
func (t *Telemetry) InstrumentUnpack(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "unpack", "unpack", fn)

	t.RecordUnpack(ctx, statusOf(err), time.Since(start))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

// spanFromContext returns the recording span in ctx, or nil.
func spanFromContext(ctx context.Context) trace.Span {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return nil
	}

	return span
}
