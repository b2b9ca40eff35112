// Package stats derives speaking statistics from segment durations.
package stats

import "math"

// Summary aggregates a list of speaking segment durations, in seconds.
type Summary struct {
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
	Average  float64 `json:"average"`
	Longest  float64 `json:"longest"`
	Shortest float64 `json:"shortest"`
}

// Compute is a pure function of durations. An empty list yields all zeros and
// Average is rounded to two decimals.
func Compute(durations []float64) Summary {
	if len(durations) == 0 {
		return Summary{}
	}

	summary := Summary{
		Count:    len(durations),
		Longest:  durations[0],
		Shortest: durations[0],
	}
	for _, d := range durations {
		summary.Total += d
		if d > summary.Longest {
			summary.Longest = d
		}
		if d < summary.Shortest {
			summary.Shortest = d
		}
	}
	summary.Average = Round2(summary.Total / float64(summary.Count))
	return summary
}

// Round2 rounds v half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
