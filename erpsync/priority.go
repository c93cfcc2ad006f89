package erpsync

import (
	"math"
	"strings"
	"time"
)

// Units sold by length. Physical recounts of spooled material are unreliable,
// so these products sit at the bottom of the queue regardless of value.
var linearUnits = map[string]bool{
	"M":   true,
	"MET": true,
	"MT":  true,
	"MTS": true,
	"MTR": true,
}

var linearKeywords = []string{"CABO ", "CABLE", "WIRE ", "CORD", "HOSE ", "MANGUEIRA"}

// Units that package linear material in closed, countable lots.
var closedUnits = map[string]bool{
	"RL": true,
	"UN": true,
	"PC": true,
	"CX": true,
}

func isLinearProduct(unit, description string) bool {
	u := strings.ToUpper(strings.TrimSpace(unit))
	if closedUnits[u] {
		return false
	}
	if linearUnits[u] || strings.HasPrefix(u, "MT") {
		return true
	}
	d := strings.ToUpper(description)
	for _, kw := range linearKeywords {
		if strings.Contains(d, kw) {
			return true
		}
	}
	return false
}

// PriorityScore turns the ERP value index into the base queue priority.
// Recently received products decay hard (their balance is likely in flux),
// while products not counted for a long time earn a staleness bonus. Linear
// products are effectively parked.
func PriorityScore(priorityIndex float64, lastEntry time.Time, lastCounted *time.Time, unit, description string, now time.Time) int {
	score := priorityIndex

	if isLinearProduct(unit, description) {
		score = 0.1
	} else if !lastEntry.IsZero() {
		daysSinceEntry := now.Sub(lastEntry).Hours() / 24
		if daysSinceEntry < 7 {
			score *= 0.1
		} else if daysSinceEntry < 30 {
			score *= 0.5
		}
	}

	daysSinceCount := 365.0
	if lastCounted != nil && !lastCounted.IsZero() {
		daysSinceCount = now.Sub(*lastCounted).Hours() / 24
	}
	bonus := math.Min(daysSinceCount/30, 2.0)

	return int(math.Floor(score * (1 + bonus)))
}
