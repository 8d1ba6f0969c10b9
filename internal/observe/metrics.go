// Package observe holds the service's OpenTelemetry instruments and the
// Prometheus exporter bridge that serves them on /metrics.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] so recordings do not leak between tests.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MikeSquared-Agency/aboutnine/internal/chemistry"
)

const meterName = "github.com/MikeSquared-Agency/aboutnine"

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// ChemistryScore records each composite score. Attribute: tier.
	ChemistryScore metric.Int64Histogram

	// SessionsFinalized counts finalized sessions. Attribute: source.
	SessionsFinalized metric.Int64Counter

	// EntriesAppended counts utterances accepted into a live session.
	// Attribute: source.
	EntriesAppended metric.Int64Counter

	// EntriesRejected counts utterances refused at the boundary.
	// Attributes: source, reason.
	EntriesRejected metric.Int64Counter

	ActiveSessions metric.Int64UpDownCounter

	// RoomPeers tracks websocket peers connected to signaling rooms.
	RoomPeers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request time. Attributes: method, route, status.
	HTTPRequestDuration metric.Float64Histogram
}

var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 100}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ChemistryScore, err = m.Int64Histogram("aboutnine.chemistry.score",
		metric.WithDescription("Composite chemistry score of finalized conversations."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionsFinalized, err = m.Int64Counter("aboutnine.sessions.finalized",
		metric.WithDescription("Sessions scored and closed, by source."),
	); err != nil {
		return nil, err
	}
	if met.EntriesAppended, err = m.Int64Counter("aboutnine.entries.appended",
		metric.WithDescription("Utterances appended to live sessions, by source."),
	); err != nil {
		return nil, err
	}
	if met.EntriesRejected, err = m.Int64Counter("aboutnine.entries.rejected",
		metric.WithDescription("Utterances rejected at the boundary, by source and reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("aboutnine.sessions.active",
		metric.WithDescription("Live sessions held in memory."),
	); err != nil {
		return nil, err
	}
	if met.RoomPeers, err = m.Int64UpDownCounter("aboutnine.rooms.peers",
		metric.WithDescription("Websocket peers connected to signaling rooms."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("aboutnine.http.request.duration",
		metric.WithDescription("HTTP request processing time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RecordScore records a finalized result.
func (m *Metrics) RecordScore(ctx context.Context, source string, res chemistry.Result) {
	m.ChemistryScore.Record(ctx, int64(res.Score),
		metric.WithAttributes(attribute.String("tier", string(res.Tier()))))
	m.SessionsFinalized.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordAppended(ctx context.Context, source string) {
	m.EntriesAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordRejected(ctx context.Context, source, reason string) {
	m.EntriesRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("reason", reason),
	))
}
