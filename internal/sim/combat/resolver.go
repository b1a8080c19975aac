package combat

import (
	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/simerr"
)

// Rules are the tunable constants of damage resolution.
type Rules struct {
	AdvantagedMul    float64
	NeutralMul       float64
	DisadvantagedMul float64

	// Resistance percentages are clamped to [MinResist, MaxResist]. MaxResist
	// below 100 keeps resistance alone from zeroing a hit.
	MinResist float64
	MaxResist float64

	// BurnAdditive is extra damage per burn stack on the defender, as a fraction of base.
	BurnAdditive float64
	StatusChance float64
}

func DefaultRules() Rules {
	return Rules{
		AdvantagedMul:    1.5,
		NeutralMul:       1.0,
		DisadvantagedMul: 0.75,
		MinResist:        -100,
		MaxResist:        90,
		BurnAdditive:     0.02,
		StatusChance:     0.25,
	}
}

func (r Rules) tierMul(a Advantage) float64 {
	switch a {
	case Advantaged:
		return r.AdvantagedMul
	case Disadvantaged:
		return r.DisadvantagedMul
	}
	return r.NeutralMul
}

// Attack is everything the resolver needs; it never reads global state.
type Attack struct {
	Element  Element
	Base     num.Mag
	Defender Element
	Resist   Resistances

	AttackerStatus []StatusEffect
	DefenderStatus []StatusEffect

	// StatusRoll in [0,1) decides whether the attacker's effect lands.
	// Negative disables application.
	StatusRoll float64
}

type Outcome struct {
	Damage     num.Mag
	Category   Advantage
	Type       Advantage
	Tier       Advantage
	Multiplier float64
	// Resist is the clamped resistance percentage that was applied.
	Resist float64
	// Applied is the effect to add to the defender, zero when none.
	Applied StatusKind
}

// Resolve computes final damage in a fixed order: advantage tier, defender
// resistance, then status modifiers.
func Resolve(r Rules, atk Attack) (Outcome, error) {
	if !atk.Element.Valid() {
		return Outcome{}, simerr.Configf("combat.resolve", "unknown attacker element %d", uint8(atk.Element))
	}
	if !atk.Defender.Valid() {
		return Outcome{}, simerr.Configf("combat.resolve", "unknown defender element %d", uint8(atk.Defender))
	}

	out := Outcome{
		Category: CategoryAdvantage(atk.Element.Category(), atk.Defender.Category()),
		Type:     TypeAdvantage(atk.Element, atk.Defender),
	}
	out.Tier = out.Category
	if out.Category == Neutral {
		out.Tier = out.Type
	}
	out.Multiplier = r.tierMul(out.Tier)

	if atk.Base.IsZero() {
		return out, nil
	}

	dmg := atk.Base.Scale(out.Multiplier)

	resist := atk.Resist.For(atk.Defender)
	if resist < r.MinResist {
		resist = r.MinResist
	}
	if resist > r.MaxResist {
		resist = r.MaxResist
	}
	out.Resist = resist
	dmg = dmg.Scale(1 - resist/100)

	dmg = dmg.Scale(OutputFactor(atk.AttackerStatus) * DamageTakenFactor(atk.DefenderStatus))
	if stacks := StackCount(atk.DefenderStatus, Burn); stacks > 0 && !dmg.IsZero() {
		dmg = dmg.Add(atk.Base.Scale(r.BurnAdditive * float64(stacks)))
	}
	out.Damage = dmg

	if atk.StatusRoll >= 0 && atk.StatusRoll < r.StatusChance {
		out.Applied = StatusFor(atk.Element)
	}
	return out, nil
}
