// Package engine runs one fixed step of gameplay over a SimState.
//
// All randomness comes from the named streams: spawns decides when and what
// spawns, variance perturbs speeds and fire cadence, crits decides critical
// hits and status application, drops decides loot. A step never reads the
// wall clock.
package engine

import (
	"math"
	"time"

	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/rng"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/state"
	"draconia.gg/internal/sim/tuning"
)

type Engine struct {
	tun     tuning.Tuning
	rules   combat.Rules
	health  combat.HealthRules
	scaler  encounter.Scaler
	cfg     *encounter.Config
	caps    encounter.CapLimits
	streams *rng.Streams
	st      *state.SimState
	aim     combat.Targeting
	aimBuf  []combat.Candidate
	aimIdx  []int

	dt    time.Duration
	dtSec float64
	// next is the step number the engine expects to run; anything else means
	// the state was mutated behind its back.
	next uint64

	counters Counters
}

// Counters are per-engine diagnostics; they are not part of SimState.
type Counters struct {
	Hits        uint64
	Crits       uint64
	StatusProcs uint64
	Deaths      uint64
	Spawns      uint64
	// AbilityRejected counts abilities dropped for cooldown.
	AbilityRejected uint64
}

// Boot creates the state for a fresh seed.
func Boot(t tuning.Tuning, cfg *encounter.Config, seed uint64) (*Engine, error) {
	elem, err := combat.ParseElement(t.Dragon.Element)
	if err != nil {
		return nil, err
	}
	resist, err := combat.ParseResistances(t.Dragon.Resist)
	if err != nil {
		return nil, err
	}
	st := state.New(seed, state.Dragon{
		Health:      combat.NewHealth(num.FromFloat(t.Dragon.MaxHP)),
		Element:     elem,
		Resist:      resist,
		AttackTimer: time.Duration(t.Dragon.AttackIntervalMs) * time.Millisecond,
	})
	streams, err := rng.SeedStreams(st.MasterSeed)
	if err != nil {
		return nil, err
	}
	st.Cursors = streams.Cursors()
	return build(t, cfg, &st, streams), nil
}

// Resume continues from a verified state.
func Resume(t tuning.Tuning, cfg *encounter.Config, st state.SimState) (*Engine, error) {
	if st.Version != state.FormatVersion {
		return nil, simerr.Integrityf("engine.resume", "state version %d", st.Version)
	}
	if st.MasterSeed != rng.MasterSeed(st.Seed) {
		return nil, simerr.Integrityf("engine.resume", "master seed does not derive from seed %d", st.Seed)
	}
	streams, err := rng.Restore(st.MasterSeed, st.Cursors)
	if err != nil {
		return nil, err
	}
	s := st.Clone()
	return build(t, cfg, &s, streams), nil
}

func build(t tuning.Tuning, cfg *encounter.Config, st *state.SimState, streams *rng.Streams) *Engine {
	e := &Engine{
		tun:     t,
		rules:   t.CombatRules(),
		health:  t.HealthRules(),
		streams: streams,
		st:      st,
		dt:      t.StepDuration(),
		dtSec:   1 / float64(t.StepHz),
		next:    st.Step + 1,
	}
	// Validated tuning never fails here; an unset strategy is Closest.
	e.aim, _ = combat.ParseTargeting(t.Dragon.Targeting)
	e.SetConfig(cfg)
	return e
}

// SetConfig swaps the enemy configuration; nil disables spawning.
func (e *Engine) SetConfig(cfg *encounter.Config) {
	e.cfg = cfg
	e.caps = encounter.Limits(cfg)
	e.scaler = encounter.Scaler{
		Config:     cfg,
		BaseHP:     e.tun.Enemies.BaseHP,
		BaseDamage: e.tun.Enemies.BaseDamage,
		Families:   encounter.DefaultFamilies(),
	}
}

func (e *Engine) ConfigLoaded() bool { return e.cfg != nil }

// State exposes the live state for reading. Callers must not mutate it.
func (e *Engine) State() *state.SimState { return e.st }

func (e *Engine) Streams() *rng.Streams { return e.streams }

func (e *Engine) Counters() Counters { return e.counters }

func (e *Engine) StepDuration() time.Duration { return e.dt }

// NowMs is simulated milliseconds since boot, including fast-forwarded time.
func (e *Engine) NowMs() float64 {
	return float64(e.st.Step)*1000/float64(e.tun.StepHz) + float64(e.st.ApproxTime)/float64(time.Millisecond)
}

// SyncCursors copies stream positions into the state.
func (e *Engine) SyncCursors() { e.st.Cursors = e.streams.Cursors() }

// Digest snapshots the current state.
func (e *Engine) Digest() (snapshot.Snapshot, error) {
	e.SyncCursors()
	return snapshot.Digest(e.st)
}

// Step runs exactly one fixed step.
func (e *Engine) Step() error {
	s := e.st
	if s.Step+1 != e.next {
		return simerr.Determinismf("engine.step", "out-of-order step: state at %d, expected %d", s.Step, e.next-1)
	}

	e.applyPendingAbilities()
	e.updateDragon()
	e.travel()
	e.spawn()
	e.updateEnemies()
	e.dragonAttack()
	e.updateProjectiles()
	e.reapEnemies()
	if s.Dragon.Health.Phase == combat.Dead {
		e.onDragonDeath()
	}

	s.Step++
	e.next++
	return nil
}

func (e *Engine) updateDragon() {
	h := &e.st.Dragon.Health
	switch h.Phase {
	case combat.Recovering:
		h.UpdateRecovery(e.dt)
		return
	case combat.Dead:
		return
	}
	if f := combat.DoTFraction(h.Status); f > 0 {
		h.TakeDamage(h.MaxHP.Scale(f * e.dtSec))
	}
	h.Status = combat.TickStatuses(h.Status, e.dt)
}

func (e *Engine) travel() {
	s := e.st
	h := &s.Dragon.Health
	if h.Phase != combat.Alive {
		return
	}
	speed := e.tun.Dragon.TravelSpeedMps * combat.SpeedFactor(h.Status)
	s.Distance = e.holdForBoss(s.Distance, s.Distance+speed*e.dtSec)
	e.relocate()
}

// holdForBoss caps travel at the end of any boss land whose boss is not
// cleared. Without an enemy config there are no bosses to hold for.
func (e *Engine) holdForBoss(from, to float64) float64 {
	if e.cfg == nil {
		return to
	}
	pos := encounter.Locate(from)
	land := pos.Land
	if r := land % encounter.BossEveryLands; r != 0 {
		land += encounter.BossEveryLands - r
	}
	for land <= e.st.BossCleared {
		land += encounter.BossEveryLands
	}
	end := encounter.LandStart(land) + encounter.LandLength(land)
	limit := math.Nextafter(end, 0)
	if to > limit {
		return math.Max(from, limit)
	}
	return to
}

// relocate recomputes land and ward from distance and rescales dragon max HP
// when the land changes.
func (e *Engine) relocate() {
	s := e.st
	pos := encounter.Locate(s.Distance)
	if pos.Land != s.Land {
		h := &s.Dragon.Health
		newMax := num.FromFloat(e.tun.Dragon.MaxHP).Mul(num.Pow(e.growth(e.tun.Dragon.HPGrowthPerLand), pos.Land-1))
		ratio := num.Ratio(h.HP, h.MaxHP)
		h.MaxHP = newMax
		h.HP = num.Min(newMax.Scale(ratio), newMax)
	}
	s.Land, s.Ward = pos.Land, pos.Ward
}

func (e *Engine) growth(g float64) float64 {
	if g <= 0 {
		return 1
	}
	return g
}

func (e *Engine) dragonDamage() num.Mag {
	return num.FromFloat(e.tun.Dragon.BaseDamage).Mul(num.Pow(e.growth(e.tun.Dragon.DamageGrowthPerLand), e.st.Land-1))
}

func (e *Engine) onDragonDeath() {
	s := e.st
	e.counters.Deaths++
	s.Distance = s.Dragon.Health.StartRecovery(s.Distance, s.Land, s.Ward, e.health)
	s.Enemies = s.Enemies[:0]
	s.Projectiles = s.Projectiles[:0]
	s.SpawnArmed = false
	s.SpawnTimer = 0
	if s.BossLand > s.BossCleared {
		s.BossLand = s.BossCleared
	}
	s.Dragon.AttackTimer = time.Duration(e.tun.Dragon.AttackIntervalMs) * time.Millisecond
	e.relocate()
}

// Stats summarises the state for tick messages.
type Stats struct {
	Enemies  int
	Proj     int
	Land     int
	Ward     int
	Distance float64
	HPPct    float64
	Gold     num.Mag
	Arcana   num.Mag
	Soul     num.Mag
	Kills    uint64
}

func (e *Engine) Stats() Stats {
	s := e.st
	return Stats{
		Enemies:  len(s.Enemies),
		Proj:     len(s.Projectiles),
		Land:     s.Land,
		Ward:     s.Ward,
		Distance: s.Distance,
		HPPct:    s.Dragon.Health.Percent() * 100,
		Gold:     s.Gold,
		Arcana:   s.Arcana,
		Soul:     s.SoulPower,
		Kills:    s.Kills,
	}
}
