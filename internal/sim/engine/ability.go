package engine

import (
	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/simerr"
)

// Known abilities.
const (
	AbilityBreath = "breath"
	AbilityRoar   = "roar"
)

func KnownAbility(id string) bool {
	return id == AbilityBreath || id == AbilityRoar
}

// QueueAbility accepts id for execution at the start of the next step unless
// the cooldown since the last accepted ability has not elapsed. Unknown ids
// are a protocol error.
func (e *Engine) QueueAbility(id string) (bool, error) {
	if !KnownAbility(id) {
		return false, simerr.Protocolf("engine.ability", "unknown ability %q", id)
	}
	s := e.st
	if s.HasAbility && s.Step-s.LastAbilityStep < e.tun.AbilityCooldownSteps() {
		e.counters.AbilityRejected++
		return false, nil
	}
	s.HasAbility = true
	s.LastAbilityStep = s.Step
	s.PendingAbility = append(s.PendingAbility, id)
	return true, nil
}

func (e *Engine) applyPendingAbilities() {
	s := e.st
	if len(s.PendingAbility) == 0 {
		return
	}
	for _, id := range s.PendingAbility {
		if !s.Dragon.Health.Alive() {
			break
		}
		switch id {
		case AbilityBreath:
			e.breath()
		case AbilityRoar:
			e.roar()
		}
	}
	s.PendingAbility = s.PendingAbility[:0]
}

// breath hits every enemy in range with a multiplied attack.
func (e *Engine) breath() {
	b := e.tun.Breath
	base := e.dragonDamage().Scale(b.DamageMult)
	for i := range e.st.Enemies {
		en := &e.st.Enemies[i]
		if en.Alive() && en.X-e.tun.Lane.DragonX <= b.RangePx {
			e.damageEnemy(i, base)
		}
	}
}

// roar knocks enemies in range back and stuns them.
func (e *Engine) roar() {
	r := e.tun.Roar
	for i := range e.st.Enemies {
		en := &e.st.Enemies[i]
		if !en.Alive() || en.X-e.tun.Lane.DragonX > r.RangePx {
			continue
		}
		en.X += r.KnockbackPx
		if en.X > e.tun.Lane.WidthPx {
			en.X = e.tun.Lane.WidthPx
		}
		en.Status, _ = combat.ApplyStatus(en.Status, combat.Stun)
	}
}
