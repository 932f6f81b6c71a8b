package waterfall

import (
	"math"
	"time"
)

// EffectiveConfidence computes the time-decayed confidence of a cached
// value: max(floor, raw * 2^(-ageDays/halfLifeDays)). The floor never
// raises a value that started below it.
func EffectiveConfidence(rawConfidence int, observedAt time.Time, now time.Time, decay DecayConfig) int {
	if rawConfidence <= 0 {
		return 0
	}
	if observedAt.IsZero() {
		return rawConfidence
	}

	ageDays := now.Sub(observedAt).Hours() / 24
	if ageDays <= 0 {
		return rawConfidence
	}

	halfLife := float64(decay.HalfLifeDays)
	if halfLife <= 0 {
		halfLife = 365
	}

	decayed := int(math.Round(float64(rawConfidence) * math.Pow(2, -ageDays/halfLife)))

	floor := decay.Floor
	if floor > rawConfidence {
		floor = rawConfidence
	}
	if decayed < floor {
		return floor
	}
	return decayed
}
