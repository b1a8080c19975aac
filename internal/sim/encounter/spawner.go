package encounter

import (
	"math"
	"time"

	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/rng"
)

// NextSpawnDelay draws an exponential inter-arrival time with the configured
// mean and clamps it to [minDelta, maxDelta]. It consumes exactly one draw.
func NextSpawnDelay(sh Shooter, r *rng.PCG32) time.Duration {
	u := 1 - r.Float01() // (0,1]
	lambda := 1 / sh.MeanIntervalSec
	d := -math.Log(u) / lambda
	if d < sh.MinDeltaSec {
		d = sh.MinDeltaSec
	}
	if d > sh.MaxDeltaSec {
		d = sh.MaxDeltaSec
	}
	return seconds(d)
}

// FireInterval draws uniformly in [min, max].
func FireInterval(min, max time.Duration, r *rng.PCG32) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.FloatRange(0, float64(max-min)))
}

// Jitter returns base scaled by a uniform factor in [1-pct, 1+pct].
func Jitter(base, pct float64, r *rng.PCG32) float64 {
	return base * (1 + r.FloatRange(-pct, pct))
}

// LandCategory rotates the dominant enemy category with each land.
func LandCategory(land int) combat.Category {
	if land < 1 {
		land = 1
	}
	return combat.Category((land-1)%3 + 1)
}

// PickElement draws one of the three elements of the land's category.
func PickElement(land int, r *rng.PCG32) combat.Element {
	c := LandCategory(land)
	return combat.Element((uint8(c)-1)*3 + 1 + uint8(r.IntRange(0, 2)))
}
