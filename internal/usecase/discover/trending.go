package discover

import (
	"math"
	"sort"
	"time"

	"github.com/lodestone-search/lodestone/internal/domain"
	"github.com/lodestone-search/lodestone/internal/usecase/analytics"
)

// Trending score component weights: decayed impressions dominate, raw
// impression volume and record recency break the long tail apart.
const (
	trendImpressionWeight = 0.6
	trendVolumeWeight     = 0.3
	trendRecencyWeight    = 0.1
)

// computeTrending scores records by how often they surfaced in search
// results inside the window, with newer appearances weighted higher. With no
// impression signal at all the record timestamp serves as a recency proxy.
func computeTrending(
	events []analytics.Event,
	recs []domain.Record,
	now time.Time,
	halfLife time.Duration,
	limit int,
) []domain.TrendEntry {
	byID := make(map[string]*domain.Record, len(recs))
	for i := range recs {
		byID[recs[i].ID] = &recs[i]
	}

	decayed := make(map[string]float64)
	raw := make(map[string]int)
	for _, e := range events {
		age := now.Sub(e.At)
		if age < 0 {
			age = 0
		}
		weight := math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
		for _, id := range e.ResultIDs {
			if _, known := byID[id]; !known {
				continue
			}
			decayed[id] += weight
			raw[id]++
		}
	}

	if len(decayed) == 0 {
		return recencyFallback(recs, now, halfLife, limit)
	}

	var maxDecayed, maxRaw float64
	for id := range decayed {
		if decayed[id] > maxDecayed {
			maxDecayed = decayed[id]
		}
		if float64(raw[id]) > maxRaw {
			maxRaw = float64(raw[id])
		}
	}

	entries := make([]domain.TrendEntry, 0, len(decayed))
	for id, d := range decayed {
		rec := byID[id]
		score := trendImpressionWeight * (d / maxDecayed)
		score += trendVolumeWeight * (float64(raw[id]) / maxRaw)
		score += trendRecencyWeight * recency(rec.Timestamp, now, halfLife)
		entries = append(entries, domain.TrendEntry{
			RecordID:  id,
			Score:     score,
			Timestamp: rec.Timestamp,
		})
	}

	sortTrending(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// recencyFallback ranks by record timestamp when no impressions exist yet,
// so a freshly ingested corpus still yields a trending view.
func recencyFallback(recs []domain.Record, now time.Time, halfLife time.Duration, limit int) []domain.TrendEntry {
	entries := make([]domain.TrendEntry, 0, len(recs))
	for i := range recs {
		if recs[i].Timestamp.IsZero() {
			continue
		}
		entries = append(entries, domain.TrendEntry{
			RecordID:  recs[i].ID,
			Score:     trendRecencyWeight * recency(recs[i].Timestamp, now, halfLife),
			Timestamp: recs[i].Timestamp,
		})
	}
	sortTrending(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// sortTrending orders by score descending, then timestamp descending, then
// id ascending.
func sortTrending(entries []domain.TrendEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].RecordID < entries[j].RecordID
	})
}

func recency(ts, now time.Time, halfLife time.Duration) float64 {
	if ts.IsZero() {
		return 0
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Seconds() / halfLife.Seconds())
}
