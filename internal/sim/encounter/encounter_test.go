package encounter

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/rng"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/state"
)

func sampleDoc(t *testing.T) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", "enemy_config.json"))
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	return raw
}

func without(t *testing.T, raw []byte, key string) []byte {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	delete(m, key)
	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out
}

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse(sampleDoc(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Movement.OwnSpeedX != 140 || cfg.Caps.Enemies != 48 || cfg.BossLand10.BurstShots != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfigHolder_MissingCapsStaysUnloaded(t *testing.T) {
	h := NewConfigHolder()
	var notified []bool
	unsub := h.Subscribe(func(_ *Config, loaded bool) { notified = append(notified, loaded) })
	defer unsub()

	err := h.LoadBytes(without(t, sampleDoc(t), "caps"))
	if !simerr.Is(err, simerr.KindConfig) {
		t.Fatalf("err=%v want config error", err)
	}
	if h.Loaded() || h.Config() != nil {
		t.Fatalf("holder loaded after rejected document")
	}
	if len(notified) != 1 || notified[0] {
		t.Fatalf("notifications=%v", notified)
	}

	if err := h.LoadBytes(sampleDoc(t)); err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !h.Loaded() || len(notified) != 2 || !notified[1] {
		t.Fatalf("loaded=%v notifications=%v", h.Loaded(), notified)
	}
}

func TestConfigHolder_BadReloadKeepsLastGood(t *testing.T) {
	h := NewConfigHolder()
	if err := h.LoadBytes(sampleDoc(t)); err != nil {
		t.Fatalf("load sample: %v", err)
	}
	good := h.Config()
	var notified int
	unsub := h.Subscribe(func(*Config, bool) { notified++ })
	defer unsub()

	if err := h.LoadBytes([]byte(`{"caps":`)); err == nil {
		t.Fatal("truncated document accepted")
	}
	if err := h.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
	if !h.Loaded() || h.Config() != good || notified != 0 {
		t.Fatalf("loaded=%v same=%v notified=%d", h.Loaded(), h.Config() == good, notified)
	}
}

func TestParse_RejectsOutOfBoundsAndCrossField(t *testing.T) {
	var m map[string]any
	_ = json.Unmarshal(sampleDoc(t), &m)
	m["caps"].(map[string]any)["enemies"] = 0
	raw, _ := json.Marshal(m)
	if _, err := Parse(raw); !simerr.Is(err, simerr.KindConfig) {
		t.Fatalf("caps.enemies=0 accepted: %v", err)
	}

	_ = json.Unmarshal(sampleDoc(t), &m)
	sh := m["spawning"].(map[string]any)["basicShooter"].(map[string]any)
	sh["minDeltaSec"] = 5.0
	raw, _ = json.Marshal(m)
	if _, err := Parse(raw); !simerr.Is(err, simerr.KindConfig) {
		t.Fatalf("max<min accepted: %v", err)
	}

	if _, err := Parse([]byte(`{"spawning":{}}`)); err == nil {
		t.Fatalf("partial document accepted")
	}
}

func TestLocate(t *testing.T) {
	p := Locate(0)
	if p.Land != 1 || p.Ward != 1 {
		t.Fatalf("start: %+v", p)
	}
	p = Locate(1499.9)
	if p.Land != 1 || p.Ward != 5 {
		t.Fatalf("end of land 1: %+v", p)
	}
	p = Locate(1500)
	if p.Land != 2 || p.Ward != 1 || p.MetersIntoLand != 0 {
		t.Fatalf("start of land 2: %+v", p)
	}
	if got := LandLength(2); got != 1875 {
		t.Fatalf("land 2 length=%v", got)
	}
	if got := LandStart(3); got != 3375 {
		t.Fatalf("land 3 start=%v", got)
	}
	if !IsBossWard(10, 5) || IsBossWard(10, 4) || IsBossWard(9, 5) {
		t.Fatalf("boss ward detection")
	}
}

func testScaler(t *testing.T) Scaler {
	cfg, err := Parse(sampleDoc(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return Scaler{Config: cfg, BaseHP: 46, BaseDamage: 8, Families: DefaultFamilies()}
}

func TestScaler_MonotonicAndBoss(t *testing.T) {
	s := testScaler(t)
	prev := num.Zero
	for m := 0.0; m <= LandLength(3); m += 97 {
		st := s.Stats(state.Ranged, 3, m, false)
		if st.HP.Less(prev) {
			t.Fatalf("hp decreased at %vm: %s < %s", m, st.HP, prev)
		}
		prev = st.HP
	}

	start := s.Stats(state.Ranged, 1, 0, false)
	if got := start.HP.Float64(); math.Abs(got-46) > 1e-9 {
		t.Fatalf("land 1 start hp=%v", got)
	}
	// End of land 1 reaches withinLandEndRatio of land 2's start.
	end := s.Stats(state.Ranged, 1, LandLength(1), false)
	next := s.Stats(state.Ranged, 2, 0, false)
	if r := num.Ratio(end.HP, next.HP); math.Abs(r-0.85) > 1e-6 {
		t.Fatalf("end/next=%v want 0.85", r)
	}

	boss := s.Stats(state.Boss, 10, 0, true)
	endOf10 := s.Stats(state.Ranged, 10, LandLength(10), false)
	if r := num.Ratio(boss.HP, endOf10.HP); math.Abs(r-2.8) > 1e-6 {
		t.Fatalf("boss/end=%v want 2.8", r)
	}
	if boss.BurstShots != 2 || boss.BurstGap != 150*time.Millisecond {
		t.Fatalf("boss burst: %+v", boss)
	}

	melee := s.Stats(state.Melee, 1, 0, false)
	if r := num.Ratio(melee.HP, start.HP); math.Abs(r-1.4) > 1e-9 {
		t.Fatalf("melee hp mul=%v", r)
	}
}

func TestNextSpawnDelayBounds(t *testing.T) {
	sh := Shooter{MeanIntervalSec: 1.8, MinDeltaSec: 0.6, MaxDeltaSec: 3.5}
	r := rng.NewPCG32(7, 11)
	for i := 0; i < 5000; i++ {
		d := NextSpawnDelay(sh, r)
		if d < 600*time.Millisecond || d > 3500*time.Millisecond {
			t.Fatalf("delay %v out of bounds", d)
		}
	}
	if r.Draws() != 5000 {
		t.Fatalf("draws=%d want one per delay", r.Draws())
	}
}

func TestLimits(t *testing.T) {
	if c := Limits(nil); c.Enemies != HardMaxEnemies || c.Projectiles != HardMaxProjectiles {
		t.Fatalf("nil caps=%+v", c)
	}
	c := Limits(&Config{Caps: Caps{Enemies: 500, Projectiles: 100}})
	if c.Enemies != HardMaxEnemies || c.Projectiles != 100 {
		t.Fatalf("caps=%+v", c)
	}
}

func TestPickElementFollowsLandCategory(t *testing.T) {
	r := rng.NewPCG32(1, 2)
	for land := 1; land <= 9; land++ {
		for i := 0; i < 20; i++ {
			e := PickElement(land, r)
			if e.Category() != LandCategory(land) {
				t.Fatalf("land %d drew %s", land, e)
			}
		}
	}
}
