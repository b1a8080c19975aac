// Package encounter holds the enemy configuration document and derives
// encounter stats, spawn cadence and land/ward progression from it.
package encounter

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"draconia.gg/internal/sim/simerr"
)

//go:embed enemy_config.schema.json
var schemaJSON []byte

const schemaURL = "https://draconia.gg/schema/enemy_config.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

type Shooter struct {
	MeanIntervalSec float64 `json:"meanIntervalSec"`
	MinDeltaSec     float64 `json:"minDeltaSec"`
	MaxDeltaSec     float64 `json:"maxDeltaSec"`
}

type Spawning struct {
	BasicShooter Shooter `json:"basicShooter"`
}

type Movement struct {
	OwnSpeedX              float64 `json:"ownSpeedX_px_per_s"`
	JitterPercent          float64 `json:"jitterPercent"`
	ReverseSpawnSpeedScale float64 `json:"reverseSpawnSpeedScale"`
	ReverseAdvanceScale    float64 `json:"reverseAdvanceScale_outOfRange"`
	AttackRangeFrac        float64 `json:"attackRangeFrac_ofCombatWidth"`
	ArrivalEpsilon         float64 `json:"arrivalEpsilon_px"`
}

type EnemyProjectiles struct {
	Speed              float64 `json:"speed_px_per_s"`
	LifetimeSec        float64 `json:"lifetimeSec"`
	FireIntervalMinSec float64 `json:"fireIntervalMinSec"`
	FireIntervalMaxSec float64 `json:"fireIntervalMaxSec"`
}

type PlayerProjectiles struct {
	ChainHitsMax int `json:"chainHitsMax"`
}

type Projectiles struct {
	Enemy  EnemyProjectiles  `json:"enemy"`
	Player PlayerProjectiles `json:"player"`
}

type Caps struct {
	Enemies       int `json:"enemies"`
	Projectiles   int `json:"projectiles"`
	DamageNumbers int `json:"damageNumbers"`
}

type Scaling struct {
	HPAcrossLandsMul     float64 `json:"hpAcrossLandsMul"`
	DmgAcrossLandsMul    float64 `json:"dmgAcrossLandsMul"`
	WithinLandEndRatio   float64 `json:"withinLandEndRatio"`
	WithinLandStepMeters int     `json:"withinLandStepMeters"`
	BaseHPFormula        string  `json:"baseHP_atLand1_formula,omitempty"`
	BaseDmgFormula       string  `json:"baseDmg_atLand1_formula,omitempty"`
}

type Boss struct {
	HPMultVsEndOfLand  float64 `json:"hpMultVsEndOfLand"`
	DmgMultVsEndOfLand float64 `json:"dmgMultVsEndOfLand"`
	BurstShots         int     `json:"burstShots"`
	BurstGapMs         int     `json:"burstGapMs"`
	FireIntervalMinSec float64 `json:"fireIntervalMinSec"`
	FireIntervalMaxSec float64 `json:"fireIntervalMaxSec"`
}

// UI settings are passed through to the host untouched.
type UI struct {
	EnemyHPBar    json.RawMessage `json:"enemyHpBar"`
	DamageNumbers json.RawMessage `json:"damageNumbers"`
}

type Config struct {
	Spawning    Spawning    `json:"spawning"`
	Movement    Movement    `json:"movement"`
	Projectiles Projectiles `json:"projectiles"`
	Caps        Caps        `json:"caps"`
	Scaling     Scaling     `json:"scaling"`
	BossLand10  Boss        `json:"bossLand10"`
	UI          *UI         `json:"ui,omitempty"`
}

// Parse validates raw against the embedded schema, decodes it, and applies
// the cross-field checks the schema cannot express. Every failure is a
// config error; nothing is defaulted.
func Parse(raw []byte) (*Config, error) {
	const op = "encounter.parse"
	s, err := compiledSchema()
	if err != nil {
		return nil, simerr.Wrap(simerr.KindConfig, op, fmt.Errorf("compile schema: %w", err))
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, simerr.Wrap(simerr.KindConfig, op, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, simerr.Wrap(simerr.KindConfig, op, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, simerr.Wrap(simerr.KindConfig, op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	const op = "encounter.validate"
	sh := c.Spawning.BasicShooter
	if sh.MaxDeltaSec < sh.MinDeltaSec {
		return simerr.Configf(op, "spawning.basicShooter: maxDeltaSec %v < minDeltaSec %v", sh.MaxDeltaSec, sh.MinDeltaSec)
	}
	ep := c.Projectiles.Enemy
	if ep.FireIntervalMaxSec < ep.FireIntervalMinSec {
		return simerr.Configf(op, "projectiles.enemy: fireIntervalMaxSec < fireIntervalMinSec")
	}
	b := c.BossLand10
	if b.FireIntervalMaxSec < b.FireIntervalMinSec {
		return simerr.Configf(op, "bossLand10: fireIntervalMaxSec < fireIntervalMinSec")
	}
	if c.Scaling.WithinLandStepMeters <= 0 {
		return simerr.Configf(op, "scaling.withinLandStepMeters must be positive")
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ConfigHolder owns the currently loaded document and the loaded flag.
// Subscribers run synchronously after every load that changes the document,
// and after a failed initial load.
type ConfigHolder struct {
	mu     sync.RWMutex
	cfg    *Config
	loaded bool
	subs   map[int]func(*Config, bool)
	nextID int
}

func NewConfigHolder() *ConfigHolder {
	return &ConfigHolder{subs: map[int]func(*Config, bool){}}
}

// Load reads and parses path. A failure before the first good load leaves
// the holder unloaded; after that the last good document stays in place.
func (h *ConfigHolder) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		h.reject()
		return simerr.Wrap(simerr.KindConfig, "encounter.load", err)
	}
	return h.LoadBytes(raw)
}

func (h *ConfigHolder) LoadBytes(raw []byte) error {
	cfg, err := Parse(raw)
	if err != nil {
		h.reject()
		return err
	}
	h.set(cfg)
	return nil
}

func (h *ConfigHolder) reject() {
	if h.Loaded() {
		return
	}
	h.set(nil)
}

func (h *ConfigHolder) set(cfg *Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.loaded = cfg != nil
	subs := make([]func(*Config, bool), 0, len(h.subs))
	for i := 0; i < h.nextID; i++ {
		if fn, ok := h.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn(cfg, cfg != nil)
	}
}

func (h *ConfigHolder) Loaded() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loaded
}

// Config returns the loaded document or nil.
func (h *ConfigHolder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Subscribe registers fn and returns a function that removes it.
func (h *ConfigHolder) Subscribe(fn func(cfg *Config, loaded bool)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
