// Package telemetry reports integration errors and traces HTTP requests.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName names the tracer used by this service.
const TracerName = "funnel"

// Reporter records recoverable and fatal integration errors.
// User-input errors must not be passed here.
type Reporter struct {
	tracer trace.Tracer
	logger *zap.Logger
}

// NewReporter creates a reporter on the global tracer provider.
func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{tracer: otel.Tracer(TracerName), logger: logger}
}

// Report logs err and records it on a span named after op.
func (r *Reporter) Report(ctx context.Context, op string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	_, span := r.tracer.Start(ctx, op)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	for _, f := range fields {
		if f.String != "" {
			span.SetAttributes(attribute.String(f.Key, f.String))
		}
	}
	span.End()

	r.logger.Error("integration error", append(fields, zap.String("op", op), zap.Error(err))...)
}
