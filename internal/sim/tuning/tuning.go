package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/simerr"
)

type Tuning struct {
	ProtocolVersion int `yaml:"protocol_version"`

	StepHz             int `yaml:"step_hz"`
	MaxFrameMs         int `yaml:"max_frame_ms"`
	MaxStepsPerFrame   int `yaml:"max_steps_per_frame"`
	FrameHz            int `yaml:"frame_hz"`
	BackgroundHz       int `yaml:"background_hz"`
	SnapshotIntervalMs int `yaml:"snapshot_interval_ms"`

	OfflineMaxMs    int64 `yaml:"offline_max_ms"`
	OfflineMaxSteps int64 `yaml:"offline_max_steps"`

	AbilityCooldownMs int `yaml:"ability_cooldown_ms"`
	PerfWarnMs        int `yaml:"perf_warn_ms"`
	PerfBudgetMs      int `yaml:"perf_budget_ms"`

	Lane    Lane    `yaml:"lane"`
	Dragon  Dragon  `yaml:"dragon"`
	Enemies Enemies `yaml:"enemies"`
	Combat  Combat  `yaml:"combat"`
	Drops   Drops   `yaml:"drops"`
	Breath  Breath  `yaml:"breath"`
	Roar    Roar    `yaml:"roar"`
}

type Lane struct {
	WidthPx       float64 `yaml:"width_px"`
	DragonX       float64 `yaml:"dragon_x"`
	DragonRadius  float64 `yaml:"dragon_radius_px"`
	EnemyRadius   float64 `yaml:"enemy_radius_px"`
	ChainRangePx  float64 `yaml:"chain_range_px"`
	SpawnMarginPx float64 `yaml:"spawn_margin_px"`
}

type Dragon struct {
	Element             string             `yaml:"element"`
	MaxHP               float64            `yaml:"max_hp"`
	TravelSpeedMps      float64            `yaml:"travel_speed_mps"`
	AttackIntervalMs    int                `yaml:"attack_interval_ms"`
	ProjectileSpeed     float64            `yaml:"projectile_speed_px_per_s"`
	ProjectileLifetimeS float64            `yaml:"projectile_lifetime_s"`
	BaseDamage          float64            `yaml:"base_damage"`
	DamageGrowthPerLand float64            `yaml:"damage_growth_per_land"`
	HPGrowthPerLand     float64            `yaml:"hp_growth_per_land"`
	CritChance          float64            `yaml:"crit_chance"`
	CritMult            float64            `yaml:"crit_mult"`
	ChainFalloff        float64            `yaml:"chain_falloff"`
	RecoveryBaseMs      int                `yaml:"recovery_base_ms"`
	RecoveryMaxMs       int                `yaml:"recovery_max_ms"`
	Resist              map[string]float64 `yaml:"resist"`
	// Targeting is closest, lowest_hp, highest_threat or elemental_weak.
	Targeting string `yaml:"targeting"`
}

type Enemies struct {
	BaseHP     float64 `yaml:"base_hp"`
	BaseDamage float64 `yaml:"base_damage"`
}

type Combat struct {
	Advantaged    float64 `yaml:"advantaged"`
	Neutral       float64 `yaml:"neutral"`
	Disadvantaged float64 `yaml:"disadvantaged"`
	MinResist     float64 `yaml:"min_resist"`
	MaxResist     float64 `yaml:"max_resist"`
	BurnAdditive  float64 `yaml:"burn_additive"`
	StatusChance  float64 `yaml:"status_chance"`
}

type Drops struct {
	GoldChance      float64 `yaml:"gold_chance"`
	GoldBase        float64 `yaml:"gold_base"`
	GoldGrowth      float64 `yaml:"gold_growth_per_land"`
	GoldVariancePct float64 `yaml:"gold_variance_pct"`
	BossGoldMult    float64 `yaml:"boss_gold_mult"`

	// Arcana drops from every kill and grows with land and ward.
	ArcanaBase       float64 `yaml:"arcana_base"`
	ArcanaLandGrowth float64 `yaml:"arcana_growth_per_land"`
	ArcanaWardGrowth float64 `yaml:"arcana_growth_per_ward"`
	BossArcanaMult   float64 `yaml:"boss_arcana_mult"`

	// Soul power is a rare drop sized as a share of the kill's arcana.
	SoulChance         float64 `yaml:"soul_chance"`
	SoulArcanaPct      float64 `yaml:"soul_arcana_pct"`
	SoulMin            float64 `yaml:"soul_min"`
	SoulMax            float64 `yaml:"soul_max"`
	BossSoulChanceMult float64 `yaml:"boss_soul_chance_mult"`
	BossSoulMult       float64 `yaml:"boss_soul_mult"`
}

type Breath struct {
	DamageMult float64 `yaml:"damage_mult"`
	RangePx    float64 `yaml:"range_px"`
}

type Roar struct {
	KnockbackPx float64 `yaml:"knockback_px"`
	RangePx     float64 `yaml:"range_px"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    1,
		StepHz:             60,
		MaxFrameMs:         250,
		MaxStepsPerFrame:   8,
		FrameHz:            60,
		BackgroundHz:       2,
		SnapshotIntervalMs: 1000,
		OfflineMaxMs:       int64(7 * 24 * time.Hour / time.Millisecond),
		OfflineMaxSteps:    60 * 60 * 60,
		AbilityCooldownMs:  100,
		PerfWarnMs:         8,
		PerfBudgetMs:       4,
		Lane: Lane{
			WidthPx:       800,
			DragonX:       100,
			DragonRadius:  24,
			EnemyRadius:   12,
			ChainRangePx:  160,
			SpawnMarginPx: 40,
		},
		Dragon: Dragon{
			Element:             "fire",
			MaxHP:               1000,
			TravelSpeedMps:      44,
			AttackIntervalMs:    500,
			ProjectileSpeed:     600,
			ProjectileLifetimeS: 2,
			BaseDamage:          30,
			DamageGrowthPerLand: 1.2,
			HPGrowthPerLand:     1.15,
			CritChance:          0.1,
			CritMult:            2,
			ChainFalloff:        0.5,
			RecoveryBaseMs:      3000,
			RecoveryMaxMs:       20000,
			Resist:              map[string]float64{"fire": 25},
			Targeting:           "closest",
		},
		Enemies: Enemies{BaseHP: 20 * 2.3, BaseDamage: 100 * 0.08},
		Combat: Combat{
			Advantaged:    1.5,
			Neutral:       1.0,
			Disadvantaged: 0.75,
			MinResist:     -100,
			MaxResist:     90,
			BurnAdditive:  0.02,
			StatusChance:  0.25,
		},
		Drops: Drops{
			GoldChance:      0.6,
			GoldBase:        5,
			GoldGrowth:      1.18,
			GoldVariancePct: 0.2,
			BossGoldMult:    25,

			ArcanaBase:       10,
			ArcanaLandGrowth: 1.15,
			ArcanaWardGrowth: 1.05,
			BossArcanaMult:   5,

			SoulChance:         0.03,
			SoulArcanaPct:      0.02,
			SoulMin:            1,
			SoulMax:            10,
			BossSoulChanceMult: 2,
			BossSoulMult:       3,
		},
		Breath: Breath{DamageMult: 3, RangePx: 400},
		Roar:   Roar{KnockbackPx: 120, RangePx: 300},
	}
}

// Load reads path over Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	const op = "tuning"
	switch {
	case t.ProtocolVersion <= 0:
		return simerr.Configf(op, "protocol_version must be positive")
	case t.StepHz <= 0 || t.FrameHz <= 0 || t.BackgroundHz <= 0:
		return simerr.Configf(op, "step_hz, frame_hz and background_hz must be positive")
	case t.MaxFrameMs <= 0 || t.MaxStepsPerFrame <= 0:
		return simerr.Configf(op, "max_frame_ms and max_steps_per_frame must be positive")
	case t.SnapshotIntervalMs <= 0:
		return simerr.Configf(op, "snapshot_interval_ms must be positive")
	case t.OfflineMaxMs <= 0 || t.OfflineMaxSteps < 0:
		return simerr.Configf(op, "offline limits out of range")
	case t.AbilityCooldownMs < 0:
		return simerr.Configf(op, "ability_cooldown_ms must not be negative")
	case t.Lane.WidthPx <= t.Lane.DragonX:
		return simerr.Configf(op, "lane.width_px must exceed lane.dragon_x")
	case t.Dragon.MaxHP <= 0 || t.Dragon.BaseDamage <= 0:
		return simerr.Configf(op, "dragon.max_hp and dragon.base_damage must be positive")
	case t.Dragon.AttackIntervalMs <= 0 || t.Dragon.ProjectileSpeed <= 0:
		return simerr.Configf(op, "dragon attack cadence must be positive")
	case t.Enemies.BaseHP <= 0 || t.Enemies.BaseDamage <= 0:
		return simerr.Configf(op, "enemies base stats must be positive")
	case t.Drops.ArcanaBase < 0 || t.Drops.SoulChance < 0 || t.Drops.SoulChance > 1 || t.Drops.SoulMin > t.Drops.SoulMax:
		return simerr.Configf(op, "drops out of range")
	case t.Combat.MaxResist >= 100 || t.Combat.MinResist > t.Combat.MaxResist:
		return simerr.Configf(op, "combat resist bounds invalid")
	case !(t.Combat.Advantaged > t.Combat.Neutral && t.Combat.Neutral > t.Combat.Disadvantaged && t.Combat.Disadvantaged > 0):
		return simerr.Configf(op, "combat multipliers must satisfy advantaged > neutral > disadvantaged > 0")
	}
	if _, err := combat.ParseElement(t.Dragon.Element); err != nil {
		return err
	}
	if _, err := combat.ParseResistances(t.Dragon.Resist); err != nil {
		return err
	}
	if _, err := combat.ParseTargeting(t.Dragon.Targeting); err != nil {
		return err
	}
	return nil
}

func (t Tuning) StepDuration() time.Duration { return time.Second / time.Duration(t.StepHz) }

func (t Tuning) MaxFrame() time.Duration {
	return time.Duration(t.MaxFrameMs) * time.Millisecond
}

// SnapshotEverySteps converts the snapshot interval to whole steps (at least one).
func (t Tuning) SnapshotEverySteps() uint64 {
	n := uint64(t.SnapshotIntervalMs) * uint64(t.StepHz) / 1000
	if n == 0 {
		n = 1
	}
	return n
}

// AbilityCooldownSteps rounds the cooldown up to whole steps.
func (t Tuning) AbilityCooldownSteps() uint64 {
	ms := uint64(t.AbilityCooldownMs) * uint64(t.StepHz)
	return (ms + 999) / 1000
}

func (t Tuning) OfflineMax() time.Duration {
	return time.Duration(t.OfflineMaxMs) * time.Millisecond
}

func (t Tuning) CombatRules() combat.Rules {
	c := t.Combat
	return combat.Rules{
		AdvantagedMul:    c.Advantaged,
		NeutralMul:       c.Neutral,
		DisadvantagedMul: c.Disadvantaged,
		MinResist:        c.MinResist,
		MaxResist:        c.MaxResist,
		BurnAdditive:     c.BurnAdditive,
		StatusChance:     c.StatusChance,
	}
}

func (t Tuning) HealthRules() combat.HealthRules {
	return combat.HealthRules{
		BaseRecovery: time.Duration(t.Dragon.RecoveryBaseMs) * time.Millisecond,
		MaxRecovery:  time.Duration(t.Dragon.RecoveryMaxMs) * time.Millisecond,
	}
}
