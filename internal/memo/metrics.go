package memo

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	computations metric.Int64Counter
	evictions    metric.Int64Counter
}

// newInstruments creates the cache counters. On failure metrics are
// disabled and the memo keeps working.
func newInstruments(meter metric.Meter) *instruments {
	if meter == nil {
		meter = otel.Meter("tinymist.memo")
	}
	var (
		in  instruments
		err error
	)
	if in.hits, err = meter.Int64Counter("memo_hits_total",
		metric.WithDescription("Queries answered from a validated entry")); err != nil {
		log.Warningf("metrics disabled: %s", err)
		return nil
	}
	if in.misses, err = meter.Int64Counter("memo_misses_total",
		metric.WithDescription("Queries that needed validation or computation")); err != nil {
		log.Warningf("metrics disabled: %s", err)
		return nil
	}
	if in.computations, err = meter.Int64Counter("memo_computations_total",
		metric.WithDescription("Query computations run")); err != nil {
		log.Warningf("metrics disabled: %s", err)
		return nil
	}
	if in.evictions, err = meter.Int64Counter("memo_evictions_total",
		metric.WithDescription("Entries dropped by eviction")); err != nil {
		log.Warningf("metrics disabled: %s", err)
		return nil
	}
	return &in
}

func kindAttr(kind string) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

func (in *instruments) hit(ctx context.Context, kind string) {
	if in != nil {
		in.hits.Add(ctx, 1, kindAttr(kind))
	}
}

func (in *instruments) miss(ctx context.Context, kind string) {
	if in != nil {
		in.misses.Add(ctx, 1, kindAttr(kind))
	}
}

func (in *instruments) computed(ctx context.Context, kind string) {
	if in != nil {
		in.computations.Add(ctx, 1, kindAttr(kind))
	}
}

func (in *instruments) evicted(n int64) {
	if in != nil {
		in.evictions.Add(context.Background(), n)
	}
}
