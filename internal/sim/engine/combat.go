package engine

import (
	"math"
	"sort"
	"time"

	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/state"
)

func secondsDur(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

func (e *Engine) dragonStationary() bool {
	s := e.st
	h := &s.Dragon.Health
	if !h.Alive() || combat.PreventsAction(h.Status) || combat.SpeedFactor(h.Status) == 0 {
		return true
	}
	return e.holdForBoss(s.Distance, s.Distance+1) <= s.Distance
}

// target is the living enemy inside the lane the dragon aims at, or -1.
func (e *Engine) target() int {
	e.aimBuf, e.aimIdx = e.aimBuf[:0], e.aimIdx[:0]
	for i := range e.st.Enemies {
		en := &e.st.Enemies[i]
		if !en.Alive() || en.X > e.tun.Lane.WidthPx {
			continue
		}
		e.aimBuf = append(e.aimBuf, combat.Candidate{
			ID: en.ID, X: en.X, HP: en.HP, Damage: en.Damage, Element: en.Element,
		})
		e.aimIdx = append(e.aimIdx, i)
	}
	k := e.aim.Pick(e.st.Dragon.Element, e.aimBuf)
	if k < 0 {
		return -1
	}
	return e.aimIdx[k]
}

func (e *Engine) dragonAttack() {
	s := e.st
	h := &s.Dragon.Health
	if !h.Alive() || combat.PreventsAction(h.Status) {
		return
	}
	if s.Dragon.AttackTimer > 0 {
		s.Dragon.AttackTimer -= e.dt
	}
	if s.Dragon.AttackTimer > 0 {
		return
	}
	tgt := e.target()
	if tgt < 0 {
		return
	}
	if len(s.Projectiles) >= e.caps.Projectiles {
		s.ProjRefused++
		return
	}
	d := e.tun.Dragon
	dmg := e.dragonDamage().Scale(combat.OutputFactor(h.Status))
	crit := e.streams.Crits().Bool(d.CritChance)
	if crit {
		dmg = dmg.Scale(d.CritMult)
		e.counters.Crits++
	}
	s.Projectiles = append(s.Projectiles, state.Projectile{
		ID:         s.AllocID(),
		FromDragon: true,
		Target:     s.Enemies[tgt].ID,
		Element:    s.Dragon.Element,
		X:          e.tun.Lane.DragonX + e.tun.Lane.DragonRadius,
		Velocity:   d.ProjectileSpeed,
		Damage:     dmg,
		TTL:        secondsDur(d.ProjectileLifetimeS),
		Crit:       crit,
	})
	s.Dragon.AttackTimer += time.Duration(d.AttackIntervalMs) * time.Millisecond
}

// updateProjectiles moves every projectile, resolves at most one hit each and
// drops the spent ones. Survivors keep their order.
func (e *Engine) updateProjectiles() {
	s := e.st
	lane := e.tun.Lane
	out := s.Projectiles[:0]
	for _, p := range s.Projectiles {
		p.X += p.Velocity * e.dtSec
		p.TTL -= e.dt
		hit := false
		if p.FromDragon {
			if i := e.projectileVictim(p.X, p.Target); i >= 0 {
				e.dragonHit(i, p.Damage)
				hit = true
			}
		} else if p.X <= lane.DragonX+lane.DragonRadius {
			e.hitDragon(p.Element, p.Damage, nil)
			hit = true
		}
		if hit || p.TTL <= 0 || p.X < 0 || p.X > lane.WidthPx+lane.SpawnMarginPx {
			continue
		}
		out = append(out, p)
	}
	s.Projectiles = out
}

// projectileVictim is the enemy the projectile at x hits: its target once
// reached, or the nearest living enemy it overlaps when the target is gone.
func (e *Engine) projectileVictim(x float64, target uint64) int {
	r := e.tun.Lane.EnemyRadius
	best := -1
	for i := range e.st.Enemies {
		en := &e.st.Enemies[i]
		if !en.Alive() {
			continue
		}
		if target != 0 && en.ID == target {
			if en.X-r > x {
				return -1
			}
			return i
		}
		if en.X-r > x {
			continue
		}
		if best < 0 || en.X < e.st.Enemies[best].X {
			best = i
		}
	}
	return best
}

// dragonHit damages the primary enemy and chains to neighbours within range
// with geometric falloff.
func (e *Engine) dragonHit(primary int, base num.Mag) {
	e.damageEnemy(primary, base)
	max := 0
	if e.cfg != nil {
		max = e.cfg.Projectiles.Player.ChainHitsMax
	}
	if max <= 0 {
		return
	}
	px := e.st.Enemies[primary].X
	type cand struct {
		i    int
		dist float64
	}
	var cands []cand
	for i := range e.st.Enemies {
		en := &e.st.Enemies[i]
		if i == primary || !en.Alive() {
			continue
		}
		if d := math.Abs(en.X - px); d <= e.tun.Lane.ChainRangePx {
			cands = append(cands, cand{i, d})
		}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].dist != cands[b].dist {
			return cands[a].dist < cands[b].dist
		}
		return e.st.Enemies[cands[a].i].ID < e.st.Enemies[cands[b].i].ID
	})
	dmg := base
	for k := 0; k < len(cands) && k < max; k++ {
		dmg = dmg.Scale(e.tun.Dragon.ChainFalloff)
		e.damageEnemy(cands[k].i, dmg)
	}
}

// damageEnemy resolves one dragon attack against enemy i.
func (e *Engine) damageEnemy(i int, base num.Mag) {
	s := e.st
	en := &s.Enemies[i]
	out, err := combat.Resolve(e.rules, combat.Attack{
		Element:        s.Dragon.Element,
		Base:           base,
		Defender:       en.Element,
		DefenderStatus: en.Status,
		StatusRoll:     e.streams.Crits().Float01(),
	})
	if err != nil {
		// Elements come from PickElement and tuning, both validated.
		return
	}
	e.counters.Hits++
	e.hurtEnemy(en, out.Damage)
	if out.Applied != 0 && en.Alive() {
		var changed bool
		en.Status, changed = combat.ApplyStatus(en.Status, out.Applied)
		if changed {
			e.counters.StatusProcs++
		}
	}
}

func (e *Engine) hurtEnemy(en *state.Enemy, d num.Mag) {
	en.HP = en.HP.Sub(d)
}

// hitDragon resolves one enemy attack against the dragon.
func (e *Engine) hitDragon(elem combat.Element, base num.Mag, attacker []combat.StatusEffect) {
	s := e.st
	h := &s.Dragon.Health
	if !h.Alive() {
		return
	}
	out, err := combat.Resolve(e.rules, combat.Attack{
		Element:        elem,
		Base:           base,
		Defender:       s.Dragon.Element,
		Resist:         s.Dragon.Resist,
		AttackerStatus: attacker,
		DefenderStatus: h.Status,
		StatusRoll:     e.streams.Crits().Float01(),
	})
	if err != nil {
		return
	}
	if h.TakeDamage(out.Damage) {
		return
	}
	if out.Applied != 0 {
		var changed bool
		h.Status, changed = combat.ApplyStatus(h.Status, out.Applied)
		if changed {
			e.counters.StatusProcs++
		}
	}
}

// reapEnemies removes dead enemies, credits kills and rolls drops in spawn
// order.
func (e *Engine) reapEnemies() {
	s := e.st
	out := s.Enemies[:0]
	for _, en := range s.Enemies {
		if en.Alive() {
			out = append(out, en)
			continue
		}
		s.Kills++
		e.dropGold(en)
		e.dropSoulPower(en, e.dropArcana(en))
		if en.Family == state.Boss && s.BossLand > s.BossCleared {
			s.BossCleared = s.BossLand
			s.BossesDefeated++
		}
	}
	s.Enemies = out
}

func (e *Engine) dropGold(en state.Enemy) {
	s := e.st
	d := e.tun.Drops
	r := e.streams.Drops()
	boss := en.Family == state.Boss
	if !boss && !r.Bool(d.GoldChance) {
		return
	}
	amount := num.FromFloat(d.GoldBase).
		Mul(num.Pow(e.growth(d.GoldGrowth), s.Land-1)).
		Scale(1 + r.FloatRange(-d.GoldVariancePct, d.GoldVariancePct))
	if boss {
		amount = amount.Scale(d.BossGoldMult)
	}
	s.Gold = s.Gold.Add(amount)
}

// dropArcana credits the kill's arcana and returns it. It draws nothing.
func (e *Engine) dropArcana(en state.Enemy) num.Mag {
	s := e.st
	d := e.tun.Drops
	amount := num.FromFloat(d.ArcanaBase).
		Mul(num.Pow(e.growth(d.ArcanaLandGrowth), s.Land-1)).
		Mul(num.Pow(e.growth(d.ArcanaWardGrowth), max(s.Ward-1, 0)))
	if en.Family == state.Boss {
		amount = amount.Scale(d.BossArcanaMult)
	}
	s.Arcana = s.Arcana.Add(amount)
	return amount
}

func (e *Engine) dropSoulPower(en state.Enemy, arcana num.Mag) {
	s := e.st
	d := e.tun.Drops
	chance, mult := d.SoulChance, 1.0
	if en.Family == state.Boss {
		chance, mult = math.Min(chance*d.BossSoulChanceMult, 1), d.BossSoulMult
	}
	if !e.streams.Drops().Bool(chance) {
		return
	}
	amount := math.Min(math.Max(arcana.Float64()*d.SoulArcanaPct, d.SoulMin), d.SoulMax)
	s.SoulPower = s.SoulPower.Add(num.FromFloat(amount * mult))
}
