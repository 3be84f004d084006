package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_ingest_total",
			Help: "Documents ingested by result",
		},
		[]string{"result"},
	)
	fragmentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docqa_fragments_indexed_total",
			Help: "Fragments added to the vector index",
		},
	)
	queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docqa_query_total",
			Help: "Questions handled by outcome (grounded, ungrounded, refused, error)",
		},
		[]string{"outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docqa_stage_duration_seconds",
			Help:    "Latency of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"stage"},
	)
)

var tracer = otel.Tracer("github.com/xxxsen/docqa/service")

func init() {
	prometheus.MustRegister(ingestTotal, fragmentsIndexed, queryTotal, stageDuration)
}

// startStage opens a span for one pipeline stage; the returned func ends it
// and records the stage latency.
func startStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := tracer.Start(ctx, "rag."+stage, trace.WithAttributes(attrs...))
	start := time.Now()
	return ctx, func(err error) {
		stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
