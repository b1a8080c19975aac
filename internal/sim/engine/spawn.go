package engine

import (
	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/state"
)

// spawn runs the spawn timer. A timer that fires while the enemy cap is full
// is refused and re-armed; the refusal is counted.
func (e *Engine) spawn() {
	s := e.st
	if e.cfg == nil || !s.Dragon.Health.Alive() {
		return
	}
	sh := e.cfg.Spawning.BasicShooter
	if !s.SpawnArmed {
		s.SpawnTimer = encounter.NextSpawnDelay(sh, e.streams.Spawns())
		s.SpawnArmed = true
	}
	s.SpawnTimer -= e.dt
	if s.SpawnTimer > 0 {
		return
	}
	s.SpawnTimer += encounter.NextSpawnDelay(sh, e.streams.Spawns())

	if len(s.Enemies) >= e.caps.Enemies {
		s.SpawnRefused++
		return
	}
	if encounter.IsBossWard(s.Land, s.Ward) && s.BossLand < s.Land && s.BossCleared < s.Land {
		e.spawnEnemy(state.Boss)
		s.BossLand = s.Land
		return
	}
	e.spawnEnemy(e.scaler.PickFamily(e.streams.Spawns()))
}

func (e *Engine) spawnEnemy(f state.Family) {
	s := e.st
	lane := e.tun.Lane
	mv := e.cfg.Movement
	pos := encounter.Locate(s.Distance)
	stats := e.scaler.Stats(f, pos.Land, pos.MetersIntoLand, f == state.Boss)

	stopFrac := 1.0
	if mods, ok := e.scaler.Families[f]; ok {
		stopFrac = mods.StopFrac
	}
	elem := encounter.PickElement(s.Land, e.streams.Spawns())

	en := state.Enemy{
		ID:          s.AllocID(),
		Family:      f,
		Element:     elem,
		X:           lane.WidthPx,
		StopX:       lane.DragonX + lane.DragonRadius + mv.AttackRangeFrac*lane.WidthPx*stopFrac,
		Speed:       encounter.Jitter(mv.OwnSpeedX, mv.JitterPercent, e.streams.Variance()),
		HP:          stats.HP,
		MaxHP:       stats.HP,
		Damage:      stats.Damage,
		FireMin:     stats.FireMin,
		FireMax:     stats.FireMax,
		BurstShots:  stats.BurstShots,
		BurstGap:    stats.BurstGap,
		SpawnedStep: s.Step,
		Status:      []combat.StatusEffect{},
	}
	if en.StopX > lane.WidthPx {
		en.StopX = lane.WidthPx
	}
	en.FireTimer = encounter.FireInterval(en.FireMin, en.FireMax, e.streams.Variance())
	s.Enemies = append(s.Enemies, en)
	e.counters.Spawns++
}

// updateEnemies ticks statuses, moves enemies to their stop line and fires.
func (e *Engine) updateEnemies() {
	s := e.st
	// Enemies close in more slowly while the dragon is not advancing.
	stationary := e.dragonStationary()
	for i := range s.Enemies {
		en := &s.Enemies[i]
		if !en.Alive() {
			continue
		}
		if f := combat.DoTFraction(en.Status); f > 0 {
			e.hurtEnemy(en, en.MaxHP.Scale(f*e.dtSec))
			if !en.Alive() {
				continue
			}
		}
		stunned := combat.PreventsAction(en.Status)
		en.Status = combat.TickStatuses(en.Status, e.dt)
		if stunned {
			continue
		}

		if en.X > en.StopX {
			speed := en.Speed * combat.SpeedFactor(en.Status)
			if stationary {
				speed *= e.cfg.Movement.ReverseAdvanceScale
			}
			en.X -= speed * e.dtSec
			if en.X < en.StopX {
				en.X = en.StopX
			}
		}
		if en.X-en.StopX > e.cfg.Movement.ArrivalEpsilon || !s.Dragon.Health.Alive() {
			continue
		}

		if en.BurstLeft > 0 {
			en.BurstTimer -= e.dt
			if en.BurstTimer <= 0 {
				e.enemyFire(en)
				en.BurstLeft--
				en.BurstTimer += en.BurstGap
			}
			continue
		}
		en.FireTimer -= e.dt
		if en.FireTimer > 0 {
			continue
		}
		e.enemyFire(en)
		if en.BurstShots > 1 {
			en.BurstLeft = en.BurstShots - 1
			en.BurstTimer = en.BurstGap
		}
		en.FireTimer = encounter.FireInterval(en.FireMin, en.FireMax, e.streams.Variance())
	}
}

// enemyFire makes melee enemies strike directly and everything else shoot.
func (e *Engine) enemyFire(en *state.Enemy) {
	s := e.st
	if en.Family == state.Melee {
		e.hitDragon(en.Element, en.Damage, en.Status)
		return
	}
	if len(s.Projectiles) >= e.caps.Projectiles {
		s.ProjRefused++
		return
	}
	ep := e.cfg.Projectiles.Enemy
	s.Projectiles = append(s.Projectiles, state.Projectile{
		ID:       s.AllocID(),
		Owner:    en.ID,
		Element:  en.Element,
		X:        en.X,
		Velocity: -ep.Speed,
		Damage:   en.Damage.Scale(combat.OutputFactor(en.Status)),
		TTL:      secondsDur(ep.LifetimeSec),
	})
}
