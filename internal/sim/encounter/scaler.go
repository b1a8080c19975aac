package encounter

import (
	"math"
	"time"

	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/rng"
	"draconia.gg/internal/sim/state"
)

// Engine hard caps. The configured caps can only lower these.
const (
	HardMaxEnemies     = 200
	HardMaxProjectiles = 600
)

// FamilyMods scale the land baseline per enemy family.
type FamilyMods struct {
	Weight    float64
	HPMul     float64
	DamageMul float64
	// StopFrac is the fraction of the attack range a family stops at; melee
	// closes in to contact.
	StopFrac float64
}

type Families map[state.Family]FamilyMods

func DefaultFamilies() Families {
	return Families{
		state.Melee:  {Weight: 0.6, HPMul: 1.4, DamageMul: 1.25, StopFrac: 0.1},
		state.Ranged: {Weight: 0.4, HPMul: 1.0, DamageMul: 1.0, StopFrac: 1.0},
	}
}

// Stats are the derived numbers for one spawn.
type Stats struct {
	HP         num.Mag
	Damage     num.Mag
	FireMin    time.Duration
	FireMax    time.Duration
	BurstShots int
	BurstGap   time.Duration
}

type Scaler struct {
	Config     *Config
	BaseHP     float64
	BaseDamage float64
	Families   Families
}

// Stats composes base × across-land growth × within-land progression, then
// the family and boss multipliers. Bosses use end-of-land stats.
func (s Scaler) Stats(f state.Family, land int, metersIntoLand float64, boss bool) Stats {
	sc := s.Config.Scaling
	if land < 1 {
		land = 1
	}
	steps := s.withinLandSteps(land, metersIntoLand)
	if boss {
		steps = s.totalSteps(land)
	}
	growth := s.stepMul(land)

	hp := num.FromFloat(s.BaseHP).
		Mul(num.Pow(sc.HPAcrossLandsMul, land-1)).
		Mul(num.Pow(growth.hp, steps))
	dmg := num.FromFloat(s.BaseDamage).
		Mul(num.Pow(sc.DmgAcrossLandsMul, land-1)).
		Mul(num.Pow(growth.dmg, steps))

	ep := s.Config.Projectiles.Enemy
	out := Stats{
		FireMin:    seconds(ep.FireIntervalMinSec),
		FireMax:    seconds(ep.FireIntervalMaxSec),
		BurstShots: 1,
	}
	if boss {
		b := s.Config.BossLand10
		out.HP = hp.Scale(b.HPMultVsEndOfLand)
		out.Damage = dmg.Scale(b.DmgMultVsEndOfLand)
		out.FireMin = seconds(b.FireIntervalMinSec)
		out.FireMax = seconds(b.FireIntervalMaxSec)
		out.BurstShots = b.BurstShots
		out.BurstGap = time.Duration(b.BurstGapMs) * time.Millisecond
		return out
	}
	mods, ok := s.Families[f]
	if !ok {
		mods = FamilyMods{HPMul: 1, DamageMul: 1}
	}
	out.HP = hp.Scale(mods.HPMul)
	out.Damage = dmg.Scale(mods.DamageMul)
	return out
}

type stepMuls struct{ hp, dmg float64 }

// stepMul is the per-step growth inside land: after every step of the land the
// stats reach withinLandEndRatio of the next land's starting stats.
func (s Scaler) stepMul(land int) stepMuls {
	sc := s.Config.Scaling
	n := float64(s.totalSteps(land))
	return stepMuls{
		hp:  math.Pow(sc.WithinLandEndRatio*sc.HPAcrossLandsMul, 1/n),
		dmg: math.Pow(sc.WithinLandEndRatio*sc.DmgAcrossLandsMul, 1/n),
	}
}

func (s Scaler) totalSteps(land int) int {
	n := int(LandLength(land) / float64(s.Config.Scaling.WithinLandStepMeters))
	if n < 1 {
		n = 1
	}
	return n
}

func (s Scaler) withinLandSteps(land int, metersIntoLand float64) int {
	p := Progress(land, metersIntoLand)
	return int(math.Floor(p * LandLength(land) / float64(s.Config.Scaling.WithinLandStepMeters)))
}

// PickFamily draws a non-boss family by weight from the spawns stream.
func (s Scaler) PickFamily(r *rng.PCG32) state.Family {
	order := []state.Family{state.Melee, state.Ranged}
	var total float64
	for _, f := range order {
		total += s.Families[f].Weight
	}
	u := r.Float01() * total
	for _, f := range order {
		w := s.Families[f].Weight
		if u < w {
			return f
		}
		u -= w
	}
	return state.Ranged
}

// CapLimits are the effective concurrency limits.
type CapLimits struct {
	Enemies     int
	Projectiles int
}

func Limits(cfg *Config) CapLimits {
	out := CapLimits{Enemies: HardMaxEnemies, Projectiles: HardMaxProjectiles}
	if cfg == nil {
		return out
	}
	if c := cfg.Caps.Enemies; c > 0 && c < out.Enemies {
		out.Enemies = c
	}
	if c := cfg.Caps.Projectiles; c > 0 && c < out.Projectiles {
		out.Projectiles = c
	}
	return out
}
