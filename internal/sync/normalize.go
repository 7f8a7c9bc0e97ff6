package sync

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/tkdmetrics/rankwatch/internal/fetch"
	"github.com/tkdmetrics/rankwatch/internal/snapshot"
)

// Normalize converts raw fetched rows into snapshot entries. Rows with a
// non-numeric rank or a blank name are dropped with a warning rather than
// failing the whole snapshot; a missing points value defaults to zero.
// When two rows collapse to the same entity key the better-ranked one
// wins.
func Normalize(category string, raw []fetch.RawEntry, logger *slog.Logger) []snapshot.Entry {
	if logger == nil {
		logger = slog.Default()
	}

	byKey := make(map[string]snapshot.Entry, len(raw))
	var order []string

	for i, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			logger.Warn("dropping row with blank name", "category", category, "row", i)
			continue
		}

		rank, err := strconv.Atoi(strings.TrimSpace(r.Rank))
		if err != nil || rank < 1 {
			logger.Warn("dropping row with invalid rank",
				"category", category, "row", i, "name", name, "rank", r.Rank)
			continue
		}

		points := 0.0
		if p := strings.TrimSpace(r.Points); p != "" {
			if v, err := strconv.ParseFloat(p, 64); err == nil && v >= 0 {
				points = v
			} else {
				logger.Warn("unparseable points, defaulting to 0",
					"category", category, "name", name, "points", r.Points)
			}
		}

		country := strings.ToUpper(strings.TrimSpace(r.Country))
		key := snapshot.EntityKey(name, country)

		if prev, ok := byKey[key]; ok {
			if rank >= prev.Rank {
				continue
			}
			logger.Warn("duplicate entity key, keeping better rank",
				"category", category, "key", key, "kept_rank", rank, "dropped_rank", prev.Rank)
		} else {
			order = append(order, key)
		}

		byKey[key] = snapshot.Entry{
			Key:     key,
			Name:    name,
			Country: country,
			Rank:    rank,
			Points:  points,
		}
	}

	entries := make([]snapshot.Entry, 0, len(order))
	for _, key := range order {
		entries = append(entries, byKey[key])
	}
	return entries
}
