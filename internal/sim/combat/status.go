package combat

import (
	"fmt"
	"time"
)

type StatusKind uint8

const (
	Burn StatusKind = iota + 1
	Melt
	Scorch
	Freeze
	Chill
	Blind
	Stun
	Overheat
	Corrupt
)

type Stacking uint8

const (
	Refresh Stacking = iota + 1
	Stack
	Ignore
)

// StatusDef describes one effect. Fractions are per stack.
type StatusDef struct {
	Kind      StatusKind
	Name      string
	Duration  time.Duration
	Stacking  Stacking
	MaxStacks int

	DoTPerSecond     float64 // fraction of max HP lost per second
	DamageTakenBonus float64 // extra damage taken by the afflicted entity
	OutputPenalty    float64 // reduction of damage dealt by the afflicted entity
	SpeedPenalty     float64
	PreventsAction   bool
	BlocksHealing    bool
}

var statusDefs = [...]StatusDef{
	Burn:     {Kind: Burn, Name: "burn", Duration: 5 * time.Second, Stacking: Stack, MaxStacks: 5, DoTPerSecond: 0.02},
	Melt:     {Kind: Melt, Name: "melt", Duration: 8 * time.Second, Stacking: Refresh, MaxStacks: 1, DamageTakenBonus: 0.25},
	Scorch:   {Kind: Scorch, Name: "scorch", Duration: 6 * time.Second, Stacking: Refresh, MaxStacks: 1, OutputPenalty: 0.30},
	Freeze:   {Kind: Freeze, Name: "freeze", Duration: 3 * time.Second, Stacking: Ignore, MaxStacks: 1, PreventsAction: true},
	Chill:    {Kind: Chill, Name: "chill", Duration: 8 * time.Second, Stacking: Refresh, MaxStacks: 1, SpeedPenalty: 0.40},
	Blind:    {Kind: Blind, Name: "blind", Duration: 4 * time.Second, Stacking: Refresh, MaxStacks: 1, OutputPenalty: 0.50},
	Stun:     {Kind: Stun, Name: "stun", Duration: 2 * time.Second, Stacking: Ignore, MaxStacks: 1, PreventsAction: true},
	Overheat: {Kind: Overheat, Name: "overheat", Duration: 6 * time.Second, Stacking: Refresh, MaxStacks: 1, DamageTakenBonus: 0.25},
	Corrupt:  {Kind: Corrupt, Name: "corrupt", Duration: 10 * time.Second, Stacking: Refresh, MaxStacks: 1, BlocksHealing: true},
}

// elementStatus maps each element to the effect its hits can apply.
var elementStatus = [...]StatusKind{
	Fire: Burn, Lava: Melt, Steam: Scorch,
	Ice: Freeze, Frost: Chill, Mist: Blind,
	Lightning: Stun, Plasma: Overheat, Void: Corrupt,
}

func Def(k StatusKind) (StatusDef, bool) {
	if k < Burn || k > Corrupt {
		return StatusDef{}, false
	}
	return statusDefs[k], true
}

func (k StatusKind) String() string {
	if d, ok := Def(k); ok {
		return d.Name
	}
	return fmt.Sprintf("status(%d)", uint8(k))
}

func StatusFor(e Element) StatusKind {
	if !e.Valid() {
		return 0
	}
	return elementStatus[e]
}

// StatusEffect is attached to one entity.
type StatusEffect struct {
	Kind      StatusKind    `json:"kind"`
	Remaining time.Duration `json:"remaining"`
	Stacks    int           `json:"stacks"`
}

// ApplyStatus adds kind to list following the effect's stacking rule and
// reports whether anything changed. The list keeps first-application order.
func ApplyStatus(list []StatusEffect, kind StatusKind) ([]StatusEffect, bool) {
	def, ok := Def(kind)
	if !ok {
		return list, false
	}
	for i := range list {
		if list[i].Kind != kind {
			continue
		}
		switch def.Stacking {
		case Ignore:
			return list, false
		case Stack:
			if list[i].Stacks < def.MaxStacks {
				list[i].Stacks++
			}
			list[i].Remaining = def.Duration
		default:
			list[i].Remaining = def.Duration
		}
		return list, true
	}
	return append(list, StatusEffect{Kind: kind, Remaining: def.Duration, Stacks: 1}), true
}

// TickStatuses decrements every duration by dt and drops expired effects in place.
func TickStatuses(list []StatusEffect, dt time.Duration) []StatusEffect {
	out := list[:0]
	for _, s := range list {
		s.Remaining -= dt
		if s.Remaining > 0 {
			out = append(out, s)
		}
	}
	return out
}

func HasStatus(list []StatusEffect, kind StatusKind) bool {
	for _, s := range list {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func PreventsAction(list []StatusEffect) bool {
	for _, s := range list {
		if d, _ := Def(s.Kind); d.PreventsAction {
			return true
		}
	}
	return false
}

func BlocksHealing(list []StatusEffect) bool {
	for _, s := range list {
		if d, _ := Def(s.Kind); d.BlocksHealing {
			return true
		}
	}
	return false
}

// SpeedFactor is the movement multiplier from slows, never below 0.
func SpeedFactor(list []StatusEffect) float64 {
	f := 1.0
	for _, s := range list {
		d, _ := Def(s.Kind)
		f -= d.SpeedPenalty * float64(s.Stacks)
	}
	if f < 0 {
		return 0
	}
	return f
}

// OutputFactor is the multiplier on damage dealt by an afflicted attacker.
func OutputFactor(list []StatusEffect) float64 {
	f := 1.0
	for _, s := range list {
		d, _ := Def(s.Kind)
		f -= d.OutputPenalty * float64(s.Stacks)
	}
	if f < 0 {
		return 0
	}
	return f
}

// DamageTakenFactor is the multiplier on damage received by an afflicted defender.
func DamageTakenFactor(list []StatusEffect) float64 {
	f := 1.0
	for _, s := range list {
		d, _ := Def(s.Kind)
		f += d.DamageTakenBonus * float64(s.Stacks)
	}
	return f
}

// DoTFraction is the fraction of max HP lost per second to damage-over-time.
func DoTFraction(list []StatusEffect) float64 {
	var f float64
	for _, s := range list {
		d, _ := Def(s.Kind)
		f += d.DoTPerSecond * float64(s.Stacks)
	}
	return f
}

func StackCount(list []StatusEffect, kind StatusKind) int {
	for _, s := range list {
		if s.Kind == kind {
			return s.Stacks
		}
	}
	return 0
}
