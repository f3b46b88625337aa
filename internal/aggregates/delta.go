package aggregates

import (
	"referly/internal/models"
	"referly/internal/snapshots"
)

// ComputeDelta returns today's traffic as the per-field difference between two
// cumulative snapshots. Negative differences clamp to zero and domains with no
// traffic left after clamping are dropped.
func ComputeDelta(today, yesterday *snapshots.Snapshot) (models.Counts, models.SiteCounts) {
	cur := today.SiteCounts()
	prev := yesterday.SiteCounts()

	sites := make(models.SiteCounts, len(cur))
	for domain, c := range cur {
		if d := c.DeltaFrom(prev[domain]); !d.IsZero() {
			sites[domain] = d
		}
	}
	// Domains only present yesterday can only produce a zero delta.

	return today.Total.DeltaFrom(yesterday.Total), sites
}

// sumDailies folds daily records into one total and per-domain map.
func sumDailies(records []Daily) (models.Counts, models.SiteCounts) {
	var total models.Counts
	sites := models.SiteCounts{}
	for i := range records {
		total = total.Add(records[i].Total)
		sites.Merge(records[i].SiteCounts())
	}
	return total, sites
}
