package analytics

import "math"

// Change holds period-over-period percentage changes.
type Change struct {
	Views  float64 `json:"views"`
	Clicks float64 `json:"clicks"`
}

// ComparisonData holds current and previous values for comparison
type ComparisonData struct {
	CurrentViews   uint64
	PreviousViews  uint64
	CurrentClicks  uint64
	PreviousClicks uint64
}

// CalculateChange computes period-over-period percentage changes
func CalculateChange(data ComparisonData) Change {
	return Change{
		Views:  PercentChange(data.CurrentViews, data.PreviousViews),
		Clicks: PercentChange(data.CurrentClicks, data.PreviousClicks),
	}
}

// PercentChange returns the change from previous to current in percent,
// rounded to one decimal. A zero previous value yields 0.
func PercentChange(current, previous uint64) float64 {
	if previous == 0 {
		return 0
	}
	change := (float64(current) - float64(previous)) / float64(previous) * 100
	return math.Round(change*10) / 10
}
