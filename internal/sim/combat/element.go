// Package combat resolves elemental damage, status effects and the dragon's
// health/recovery cycle.
package combat

import (
	"fmt"
	"sort"
	"strings"

	"draconia.gg/internal/sim/simerr"
)

type Category uint8

const (
	Heat Category = iota + 1
	Cold
	Energy
)

var categoryNames = [...]string{Heat: "heat", Cold: "cold", Energy: "energy"}

func (c Category) String() string {
	if c >= Heat && c <= Energy {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// beats is the meta-triangle: heat > cold > energy > heat.
func (c Category) beats() Category {
	switch c {
	case Heat:
		return Cold
	case Cold:
		return Energy
	case Energy:
		return Heat
	}
	return 0
}

// Element values are grouped three per category in sub-triangle order: the
// first beats the second, the second the third, the third the first.
type Element uint8

const (
	Fire Element = iota + 1
	Lava
	Steam
	Ice
	Frost
	Mist
	Lightning
	Plasma
	Void

	NumElements = 9
)

var elementNames = [...]string{
	Fire: "fire", Lava: "lava", Steam: "steam",
	Ice: "ice", Frost: "frost", Mist: "mist",
	Lightning: "lightning", Plasma: "plasma", Void: "void",
}

func (e Element) Valid() bool { return e >= Fire && e <= Void }

func (e Element) String() string {
	if e.Valid() {
		return elementNames[e]
	}
	return fmt.Sprintf("element(%d)", uint8(e))
}

func (e Element) Category() Category {
	if !e.Valid() {
		return 0
	}
	return Category((uint8(e)-1)/3 + 1)
}

func (e Element) index() int { return int(e) - 1 }

func (e Element) beats() Element {
	base := (uint8(e) - 1) / 3 * 3
	return Element(base + (uint8(e)-1-base+1)%3 + 1)
}

func ParseElement(s string) (Element, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i := Fire; i <= Void; i++ {
		if elementNames[i] == name {
			return i, nil
		}
	}
	return 0, simerr.Configf("element", "unknown elemental type %q", s)
}

// AllElements in declaration order.
func AllElements() []Element {
	out := make([]Element, 0, NumElements)
	for e := Fire; e <= Void; e++ {
		out = append(out, e)
	}
	return out
}

type Advantage int8

const (
	Disadvantaged Advantage = -1
	Neutral       Advantage = 0
	Advantaged    Advantage = 1
)

func (a Advantage) String() string {
	switch a {
	case Advantaged:
		return "advantaged"
	case Disadvantaged:
		return "disadvantaged"
	}
	return "neutral"
}

func CategoryAdvantage(att, def Category) Advantage {
	switch {
	case att == def:
		return Neutral
	case att.beats() == def:
		return Advantaged
	case def.beats() == att:
		return Disadvantaged
	}
	return Neutral
}

// TypeAdvantage compares two elements of the same category on their
// sub-triangle. Elements of different categories are neutral at this level.
func TypeAdvantage(att, def Element) Advantage {
	if att.Category() != def.Category() || att == def {
		return Neutral
	}
	if att.beats() == def {
		return Advantaged
	}
	return Disadvantaged
}

// Resistances holds a percentage reduction per element.
type Resistances [NumElements]float64

func (r Resistances) For(e Element) float64 {
	if !e.Valid() {
		return 0
	}
	return r[e.index()]
}

// ParseResistances builds a table from element names. Unknown names are config errors.
func ParseResistances(m map[string]float64) (Resistances, error) {
	var r Resistances
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e, err := ParseElement(k)
		if err != nil {
			return r, err
		}
		r[e.index()] = m[k]
	}
	return r, nil
}
