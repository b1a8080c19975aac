// Package state defines SimState, the authoritative simulation value.
//
// SimState is plain data: every field is exported and serialised so that two
// equal states always produce the same canonical bytes. Only the engine
// mutates it.
package state

import (
	"time"

	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/rng"
)

// FormatVersion is bumped when the serialised shape changes.
const FormatVersion = 1

type Family uint8

const (
	Melee Family = iota + 1
	Ranged
	Boss
)

func (f Family) String() string {
	switch f {
	case Melee:
		return "melee"
	case Ranged:
		return "ranged"
	case Boss:
		return "boss"
	}
	return "unknown"
}

// Enemy positions are lane coordinates in pixels; the dragon sits near x=0 and
// enemies approach from the right edge of the combat lane.
type Enemy struct {
	ID      uint64         `json:"id"`
	Family  Family         `json:"family"`
	Element combat.Element `json:"element"`
	X       float64        `json:"x"`
	StopX   float64        `json:"stop_x"`
	Speed   float64        `json:"speed"`
	HP      num.Mag        `json:"hp"`
	MaxHP   num.Mag        `json:"max_hp"`
	Damage  num.Mag        `json:"damage"`

	FireTimer   time.Duration `json:"fire_timer"`
	FireMin     time.Duration `json:"fire_min"`
	FireMax     time.Duration `json:"fire_max"`
	BurstShots  int           `json:"burst_shots"`
	BurstLeft   int           `json:"burst_left"`
	BurstGap    time.Duration `json:"burst_gap"`
	BurstTimer  time.Duration `json:"burst_timer"`
	SpawnedStep uint64        `json:"spawned_step"`

	Status []combat.StatusEffect `json:"status"`
}

func (e *Enemy) Alive() bool { return !e.HP.IsZero() }

type Projectile struct {
	ID uint64 `json:"id"`
	// FromDragon projectiles travel right and hit enemies; the rest travel
	// left and hit the dragon.
	FromDragon bool           `json:"from_dragon"`
	Owner      uint64         `json:"owner"`
	Element    combat.Element `json:"element"`
	X          float64        `json:"x"`
	Velocity   float64        `json:"velocity"`
	Damage     num.Mag        `json:"damage"`
	TTL        time.Duration  `json:"ttl"`
	Crit       bool           `json:"crit"`
	// Target is the enemy a dragon projectile is aimed at; 0 hits the first
	// enemy in its path.
	Target uint64 `json:"target,omitempty"`
}

type Dragon struct {
	Health      combat.Health      `json:"health"`
	Element     combat.Element     `json:"element"`
	Resist      combat.Resistances `json:"resist"`
	AttackTimer time.Duration      `json:"attack_timer"`
}

type SimState struct {
	Version int `json:"version"`

	// Step counts fixed steps run since boot. ApproxTime is simulated time
	// credited by offline fast-forward without running steps.
	Step       uint64        `json:"step"`
	ApproxTime time.Duration `json:"approx_time"`

	Seed       uint64 `json:"seed"`
	MasterSeed uint64 `json:"master_seed"`

	Land     int     `json:"land"`
	Ward     int     `json:"ward"`
	Distance float64 `json:"distance"`

	Dragon      Dragon       `json:"dragon"`
	Enemies     []Enemy      `json:"enemies"`
	Projectiles []Projectile `json:"projectiles"`

	SpawnTimer   time.Duration `json:"spawn_timer"`
	SpawnArmed   bool          `json:"spawn_armed"`
	NextID       uint64        `json:"next_id"`
	Kills        uint64        `json:"kills"`
	Gold         num.Mag       `json:"gold"`
	Arcana       num.Mag       `json:"arcana"`
	SoulPower    num.Mag       `json:"soul_power"`
	SpawnRefused uint64        `json:"spawn_refused"`
	ProjRefused  uint64        `json:"proj_refused"`

	// BossLand is the land whose boss has been spawned; BossCleared the last
	// land whose boss died.
	BossLand       int    `json:"boss_land"`
	BossCleared    int    `json:"boss_cleared"`
	BossesDefeated uint32 `json:"bosses_defeated"`

	HasAbility      bool     `json:"has_ability"`
	LastAbilityStep uint64   `json:"last_ability_step"`
	PendingAbility  []string `json:"pending_ability"`

	Cursors []rng.Cursor `json:"cursors"`
}

// New returns the state right after boot.
func New(seed uint64, dragon Dragon) SimState {
	return SimState{
		Version:        FormatVersion,
		Seed:           seed,
		MasterSeed:     rng.MasterSeed(seed),
		Land:           1,
		Ward:           1,
		Dragon:         dragon,
		Enemies:        []Enemy{},
		Projectiles:    []Projectile{},
		PendingAbility: []string{},
		NextID:         1,
	}
}

func (s *SimState) AllocID() uint64 {
	id := s.NextID
	s.NextID++
	return id
}

// Elapsed is total simulated time: stepped plus fast-forwarded.
func (s *SimState) Elapsed(step time.Duration) time.Duration {
	return time.Duration(s.Step)*step + s.ApproxTime
}

// Clone returns a deep copy. Slices never alias the original.
func (s *SimState) Clone() SimState {
	if s == nil {
		return SimState{}
	}
	out := *s
	out.Dragon.Health.Status = append([]combat.StatusEffect(nil), s.Dragon.Health.Status...)
	out.Enemies = make([]Enemy, len(s.Enemies))
	for i, e := range s.Enemies {
		e.Status = append([]combat.StatusEffect(nil), e.Status...)
		out.Enemies[i] = e
	}
	out.Projectiles = append([]Projectile{}, s.Projectiles...)
	out.PendingAbility = append([]string{}, s.PendingAbility...)
	out.Cursors = append([]rng.Cursor(nil), s.Cursors...)
	return out
}
