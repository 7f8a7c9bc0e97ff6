// Package trend derives velocity, acceleration, and a qualitative movement
// label from an entity's ranking history. Results are computed on demand
// from the snapshot store and never persisted.
package trend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// Classification labels how an entity's rank is moving. Velocity is
// measured in ranks per month; positive velocity means improvement since
// a lower numeric rank is better.
type Classification string

const (
	RapidlyImproving Classification = "rapidly_improving" // > 2 ranks/month
	Improving        Classification = "improving"         // > 0.5
	Stable           Classification = "stable"            // −0.5 … 0.5
	Declining        Classification = "declining"         // > −2
	RapidlyDeclining Classification = "rapidly_declining" // ≤ −2
	InsufficientData Classification = "insufficient_data" // < 2 points
)

// Result is a derived trend for one entity over a lookback window.
type Result struct {
	EntityKey      string         `json:"entity_key"`
	Velocity       float64        `json:"velocity"`     // ranks/month, positive = improving
	Acceleration   float64        `json:"acceleration"` // second-half velocity − first-half velocity
	Classification Classification `json:"classification"`
	TrendScore     int            `json:"trend_score"` // 0–100 summary for ranking dashboards
	SampleCount    int            `json:"sample_count"`
	MonthsTracked  float64        `json:"months_tracked"`
	CurrentRank    int            `json:"current_rank,omitempty"`
}

// Calculator computes trends from stored history.
type Calculator struct {
	store snapshot.Store
	now   func() time.Time
}

// NewCalculator creates a trend calculator. nowFn may be nil for time.Now.
func NewCalculator(store snapshot.Store, nowFn func() time.Time) *Calculator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Calculator{store: store, now: nowFn}
}

// ComputeTrend derives the trend for an entity over the last lookbackDays.
func (c *Calculator) ComputeTrend(ctx context.Context, entityKey string, lookbackDays int) (Result, error) {
	now := c.now()
	from := now.AddDate(0, 0, -lookbackDays)

	history, err := c.store.History(ctx, entityKey, from, now)
	if err != nil {
		return Result{}, fmt.Errorf("load history for %s: %w", entityKey, err)
	}
	return FromHistory(entityKey, history), nil
}

// FromHistory computes a trend from an already-loaded series, ascending by
// date. Exposed separately so callers holding history (charts, reports)
// avoid a second store round-trip.
func FromHistory(entityKey string, history []snapshot.HistoryPoint) Result {
	res := Result{EntityKey: entityKey, SampleCount: len(history)}

	if len(history) < 2 {
		res.Classification = InsufficientData
		res.TrendScore = 0
		if len(history) == 1 {
			res.CurrentRank = history[0].Rank
		}
		return res
	}

	first, last := history[0], history[len(history)-1]
	res.CurrentRank = last.Rank

	elapsedDays := last.Date.Sub(first.Date).Hours() / 24
	if elapsedDays == 0 {
		res.Classification = Stable
		res.TrendScore = 50
		return res
	}

	months := elapsedDays / 30
	res.MonthsTracked = round2(months)
	res.Velocity = round2(float64(first.Rank-last.Rank) / months)

	// Split at the midpoint by count to see whether improvement is
	// speeding up or stalling.
	if len(history) >= 3 {
		mid := len(history) / 2
		half := months / 2
		firstHalf := float64(history[0].Rank-history[mid].Rank) / half
		secondHalf := float64(history[mid].Rank-last.Rank) / half
		res.Acceleration = round2(secondHalf - firstHalf)
	}

	res.Classification, res.TrendScore = classify(res.Velocity)
	return res
}

func classify(velocity float64) (Classification, int) {
	switch {
	case velocity > 2:
		return RapidlyImproving, 90
	case velocity > 0.5:
		return Improving, 70
	case velocity > -0.5:
		return Stable, 50
	case velocity > -2:
		return Declining, 30
	default:
		return RapidlyDeclining, 10
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
