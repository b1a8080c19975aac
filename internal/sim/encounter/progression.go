package encounter

import "math"

const (
	FirstLandMeters = 1500.0
	LandGrowth      = 1.25
	WardsPerLand    = 5
	BossEveryLands  = 10
)

// LandLength is the length of land in meters.
func LandLength(land int) float64 {
	if land < 1 {
		land = 1
	}
	return FirstLandMeters * math.Pow(LandGrowth, float64(land-1))
}

// LandStart is the total distance at which land begins.
func LandStart(land int) float64 {
	var d float64
	for l := 1; l < land; l++ {
		d += LandLength(l)
	}
	return d
}

// Position is a distance resolved into land/ward coordinates.
type Position struct {
	Land           int
	Ward           int
	MetersIntoLand float64
	// Progress is the fraction of the land travelled, in [0,1].
	Progress float64
}

func Locate(distance float64) Position {
	if distance < 0 || math.IsNaN(distance) {
		distance = 0
	}
	land := 1
	start := 0.0
	for {
		l := LandLength(land)
		if distance < start+l {
			break
		}
		start += l
		land++
	}
	into := distance - start
	p := Progress(land, into)
	ward := 1 + int(p*WardsPerLand)
	if ward > WardsPerLand {
		ward = WardsPerLand
	}
	return Position{Land: land, Ward: ward, MetersIntoLand: into, Progress: p}
}

// Progress is metersIntoLand as a fraction of the land, clamped to [0,1].
func Progress(land int, metersIntoLand float64) float64 {
	p := metersIntoLand / LandLength(land)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// IsBossWard reports whether the ward hosts a boss encounter: the last ward
// of every tenth land.
func IsBossWard(land, ward int) bool {
	return land > 0 && land%BossEveryLands == 0 && ward == WardsPerLand
}
