package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes feed metric series, so they must stay low-cardinality:
// stage names, statuses and component names are fine, while run ids, page
// URLs, file names and error messages belong in logs or the span status.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}

// InstrumentOperation runs fn inside a span named after the operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, operationName)
	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", statusOf(err)),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

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

// InstrumentExport wraps a whole export run.
func (t *Telemetry) InstrumentExport(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.addActiveExports(ctx, 1)
	defer t.addActiveExports(ctx, -1)

	err := t.InstrumentOperation(ctx, "export", "exporter", fn)
	t.RecordExport(ctx, statusOf(err), time.Since(start))

	return err
}

// InstrumentStage wraps one state of an export run.
func (t *Telemetry) InstrumentStage(ctx context.Context, stage string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "stage_"+stage, "exporter", fn)
	t.RecordStage(ctx, stage, statusOf(err), time.Since(start))

	return err
}

// InstrumentTransfer wraps a chunked asset transfer. fn reports the delivered byte count.
func (t *Telemetry) InstrumentTransfer(ctx context.Context, fn func(ctx context.Context) (int64, error)) error {
	if t == nil {
		_, err := fn(ctx)

		return err
	}

	var n int64

	err := t.InstrumentOperation(ctx, "transfer_download", "transfer", func(ctx context.Context) error {
		var err error
		n, err = fn(ctx)

		return err
	})

	t.RecordTransfer(ctx, statusOf(err), n)

	return err
}
