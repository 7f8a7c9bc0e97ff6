// Package freshness decides, per category, whether a refresh attempt is
// due. The decision is purely advisory: it controls whether a fetch is
// attempted, while the snapshot store's uniqueness constraint remains the
// correctness guarantee against duplicate writes.
package freshness

import (
	"time"

	"github.com/tkdmetrics/rankwatch/internal/config"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// Reason explains a ShouldUpdate decision.
type Reason string

const (
	ReasonNeverScraped  Reason = "never_scraped"
	ReasonCadenceDue    Reason = "cadence_due"
	ReasonLookbackCheck Reason = "lookback_check"
	ReasonFresh         Reason = "fresh"
)

// Policy carries the per-category cadence class and the global lookback
// window used to re-check recently-observed categories for late
// corrections from the source.
type Policy struct {
	Cadence  config.Cadence
	Lookback time.Duration
}

// CadenceThreshold maps a cadence class to its refresh interval.
func CadenceThreshold(c config.Cadence) time.Duration {
	switch c {
	case config.CadenceHigh:
		return 24 * time.Hour
	case config.CadenceLow:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// ShouldUpdate reports whether a category is due for a refresh attempt.
// First match wins:
//
//  1. never refreshed → update (never_scraped)
//  2. elapsed ≥ cadence threshold → update (cadence_due)
//  3. elapsed ≤ lookback window → update (lookback_check), so the source
//     can correct recently-published data without waiting a full cycle
//  4. otherwise → skip (fresh)
//
// The decision reads only the last *successful* refresh: callers record
// attempts separately so a failing category keeps retrying.
func ShouldUpdate(meta snapshot.CategoryMeta, policy Policy, now time.Time) (bool, Reason) {
	if meta.LastRefreshedAt == nil {
		return true, ReasonNeverScraped
	}

	elapsed := now.Sub(*meta.LastRefreshedAt)
	if elapsed >= CadenceThreshold(policy.Cadence) {
		return true, ReasonCadenceDue
	}
	if elapsed <= policy.Lookback {
		return true, ReasonLookbackCheck
	}
	return false, ReasonFresh
}
