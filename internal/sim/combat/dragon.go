package combat

import (
	"fmt"
	"math"
	"time"

	"draconia.gg/internal/sim/num"
)

type Phase uint8

const (
	Alive Phase = iota
	Dead
	Recovering
)

func (p Phase) String() string {
	switch p {
	case Dead:
		return "dead"
	case Recovering:
		return "recovering"
	}
	return "alive"
}

// pushbackTable holds hand-tuned pushback fractions by "land-ward".
var pushbackTable = map[string]float64{
	"1-1": 0.03, "1-2": 0.05, "1-3": 0.07, "1-4": 0.09, "1-5": 0.12,
	"2-1": 0.03, "2-2": 0.06, "2-3": 0.09, "2-4": 0.12, "2-5": 0.15,
	"3-1": 0.03, "3-2": 0.06, "3-3": 0.09, "3-4": 0.12, "3-5": 0.15,
	"4-1": 0.03, "4-2": 0.06, "4-3": 0.09, "4-4": 0.12, "4-5": 0.15,
}

const (
	pushbackFloor = 0.03
	pushbackCeil  = 0.15
	wardsPerLand  = 5
)

// PushbackPercent is the fraction of travelled distance lost on death.
func PushbackPercent(land, ward int) float64 {
	if p, ok := pushbackTable[fmt.Sprintf("%d-%d", land, ward)]; ok {
		return p
	}
	if ward <= 1 {
		return pushbackFloor
	}
	p := pushbackFloor + (pushbackCeil-pushbackFloor)*float64(ward-1)/float64(wardsPerLand-1)
	return math.Min(p, pushbackCeil)
}

type HealthRules struct {
	BaseRecovery time.Duration
	MaxRecovery  time.Duration
}

// RecoveryTime grows one second per pushback percent, capped.
func (r HealthRules) RecoveryTime(pushbackPct float64) time.Duration {
	d := r.BaseRecovery + time.Duration(pushbackPct*100*float64(time.Second))
	if r.MaxRecovery > 0 && d > r.MaxRecovery {
		d = r.MaxRecovery
	}
	return d
}

// Health is the dragon's health state machine:
// Alive -(hp reaches 0)-> Dead -(StartRecovery)-> Recovering -(timer)-> Alive.
type Health struct {
	HP     num.Mag        `json:"hp"`
	MaxHP  num.Mag        `json:"max_hp"`
	Phase  Phase          `json:"phase"`
	Status []StatusEffect `json:"status"`

	RecoveryTotal time.Duration `json:"recovery_total"`
	RecoveryLeft  time.Duration `json:"recovery_left"`

	LastPushbackPct float64 `json:"last_pushback_pct"`
	LastPushbackM   float64 `json:"last_pushback_m"`
	TotalPushbackM  float64 `json:"total_pushback_m"`
	Deaths          uint32  `json:"deaths"`
}

func NewHealth(max num.Mag) Health {
	return Health{HP: max, MaxHP: max, Phase: Alive}
}

// TakeDamage is ignored unless alive. It reports whether the hit was lethal.
func (h *Health) TakeDamage(d num.Mag) bool {
	if h.Phase != Alive || d.IsZero() {
		return false
	}
	h.HP = h.HP.Sub(d)
	if !h.HP.IsZero() {
		return false
	}
	h.Phase = Dead
	h.Status = h.Status[:0]
	h.Deaths++
	return true
}

// Heal adds HP up to max unless a status blocks healing.
func (h *Health) Heal(amount num.Mag) {
	if h.Phase != Alive || BlocksHealing(h.Status) {
		return
	}
	h.HP = num.Min(h.HP.Add(amount), h.MaxHP)
}

// StartRecovery applies pushback to distance and returns the new distance.
func (h *Health) StartRecovery(distance float64, land, ward int, rules HealthRules) float64 {
	if h.Phase != Dead {
		return distance
	}
	pct := PushbackPercent(land, ward)
	pushed := math.Max(0, distance*pct)
	h.LastPushbackPct = pct
	h.LastPushbackM = pushed
	h.TotalPushbackM += pushed
	h.RecoveryTotal = rules.RecoveryTime(pct)
	h.RecoveryLeft = h.RecoveryTotal
	h.HP = num.Zero
	h.Phase = Recovering
	return math.Max(0, distance-pushed)
}

// UpdateRecovery regains HP in proportion to elapsed recovery time and
// reports completion.
func (h *Health) UpdateRecovery(dt time.Duration) bool {
	if h.Phase != Recovering {
		return false
	}
	h.RecoveryLeft -= dt
	if h.RecoveryLeft <= 0 || h.RecoveryTotal <= 0 {
		h.RecoveryLeft = 0
		h.HP = h.MaxHP
		h.Phase = Alive
		return true
	}
	progress := 1 - float64(h.RecoveryLeft)/float64(h.RecoveryTotal)
	h.HP = num.Min(h.MaxHP.Scale(progress), h.MaxHP)
	return false
}

// Respawn resets to full health with no effects.
func (h *Health) Respawn() {
	h.HP = h.MaxHP
	h.Phase = Alive
	h.Status = h.Status[:0]
	h.RecoveryLeft = 0
	h.RecoveryTotal = 0
}

func (h *Health) Alive() bool { return h.Phase == Alive }

func (h *Health) Percent() float64 { return num.Ratio(h.HP, h.MaxHP) }
