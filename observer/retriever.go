package observer

import (
	"context"
	"time"

	pernai "github.com/pernai/pernai"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedRetriever wraps a pernai.Retriever with OTEL instrumentation.
type ObservedRetriever struct {
	inner pernai.Retriever
	inst  *Instruments
}

// WrapRetriever returns an instrumented retriever.
func WrapRetriever(inner pernai.Retriever, inst *Instruments) *ObservedRetriever {
	return &ObservedRetriever{inner: inner, inst: inst}
}

var _ pernai.Retriever = (*ObservedRetriever)(nil)

func (o *ObservedRetriever) Retrieve(ctx context.Context, query string, topK int) ([]pernai.RetrievalResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		AttrRetrievalTopK.Int(topK),
	))
	defer span.End()
	start := time.Now()

	results, err := o.inner.Retrieve(ctx, query, topK)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrRetrievalResults.Int(len(results)))

	o.inst.RetrievalRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	o.inst.RetrievalDuration.Record(ctx, durationMs)
	o.inst.RetrievalResults.Record(ctx, int64(len(results)))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("retrieval completed"))
	rec.AddAttributes(
		otellog.Int("retrieval.top_k", topK),
		otellog.Int("retrieval.results", len(results)),
		otellog.Float64("retrieval.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)

	return results, err
}
