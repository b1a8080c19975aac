package combat

import (
	"strings"

	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/simerr"
)

// Targeting picks the enemy the dragon's shots are aimed at.
type Targeting uint8

const (
	Closest Targeting = iota
	LowestHP
	HighestThreat
	ElementalWeak
)

var targetingNames = [...]string{"closest", "lowest_hp", "highest_threat", "elemental_weak"}

func (t Targeting) String() string {
	if int(t) < len(targetingNames) {
		return targetingNames[t]
	}
	return "unknown"
}

// ParseTargeting accepts the tuning names; empty means Closest.
func ParseTargeting(s string) (Targeting, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return Closest, nil
	}
	for i, n := range targetingNames {
		if n == name {
			return Targeting(i), nil
		}
	}
	return Closest, simerr.Configf("targeting", "unknown targeting strategy %q", s)
}

// Candidate is what a strategy sees of an enemy. X grows away from the dragon.
type Candidate struct {
	ID      uint64
	X       float64
	HP      num.Mag
	Damage  num.Mag
	Element Element
}

// Pick returns the index of the chosen candidate, or -1 when there is none.
// Ties go to the closest, then the lowest id, so the choice never depends on
// slice order.
func (t Targeting) Pick(att Element, cands []Candidate) int {
	best := -1
	for i := range cands {
		if best < 0 || t.better(att, &cands[i], &cands[best]) {
			best = i
		}
	}
	return best
}

func (t Targeting) better(att Element, a, b *Candidate) bool {
	switch t {
	case LowestHP:
		if c := a.HP.Cmp(b.HP); c != 0 {
			return c < 0
		}
	case HighestThreat:
		if c := a.Damage.Cmp(b.Damage); c != 0 {
			return c > 0
		}
	case ElementalWeak:
		if wa, wb := weakness(att, a.Element), weakness(att, b.Element); wa != wb {
			return wa > wb
		}
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.ID < b.ID
}

// weakness ranks how badly def fares against att. Category outranks type.
func weakness(att, def Element) int {
	return 3*int(CategoryAdvantage(att.Category(), def.Category())) + int(TypeAdvantage(att, def))
}
