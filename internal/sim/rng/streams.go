package rng

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"draconia.gg/internal/sim/simerr"
)

// Standard stream names. Gameplay code draws only from the stream that owns
// the decision so extra draws elsewhere never shift its sequence.
const (
	StreamSpawns   = "spawns"
	StreamCrits    = "crits"
	StreamDrops    = "drops"
	StreamVariance = "variance"
)

var standardStreams = []string{StreamSpawns, StreamCrits, StreamDrops, StreamVariance}

// Cursor is the serialisable position of one stream.
type Cursor struct {
	Name  string `json:"name"`
	State uint64 `json:"state"`
	Inc   uint64 `json:"inc"`
	Draws uint64 `json:"draws"`
}

type Streams struct {
	seed   uint64
	byName map[string]*PCG32
	names  []string
}

// MasterSeed maps a user-visible seed to the generator master seed.
func MasterSeed(userSeed uint64) uint64 {
	s := userSeed
	return SplitMix64(&s)
}

// SplitMix64 advances *x and returns the mixed output.
func SplitMix64(x *uint64) uint64 {
	*x += 0x9e3779b97f4a7c15
	z := *x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// DeriveStream returns the generator for name under master. The derivation
// depends only on (master, name).
func DeriveStream(master uint64, name string) *PCG32 {
	x := master ^ xxhash.Sum64String(name)
	seed := SplitMix64(&x)
	seq := SplitMix64(&x)
	return NewPCG32(seed, seq)
}

// SeedStreams derives the standard streams plus any extra names.
func SeedStreams(master uint64, extra ...string) (*Streams, error) {
	s := &Streams{seed: master, byName: map[string]*PCG32{}}
	for _, name := range append(append([]string(nil), standardStreams...), extra...) {
		if name == "" {
			return nil, simerr.Determinismf("rng.seed", "empty stream name")
		}
		if _, dup := s.byName[name]; dup {
			return nil, simerr.Determinismf("rng.seed", "stream name collision %q", name)
		}
		s.byName[name] = DeriveStream(master, name)
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

func (s *Streams) Seed() uint64 { return s.seed }

func (s *Streams) Get(name string) (*PCG32, error) {
	p, ok := s.byName[name]
	if !ok {
		return nil, simerr.Determinismf("rng.get", "unknown stream %q", name)
	}
	return p, nil
}

// MustGet panics on an unknown name; that is always a programming error.
func (s *Streams) MustGet(name string) *PCG32 {
	p, err := s.Get(name)
	if err != nil {
		panic(err)
	}
	return p
}

func (s *Streams) Spawns() *PCG32   { return s.byName[StreamSpawns] }
func (s *Streams) Crits() *PCG32    { return s.byName[StreamCrits] }
func (s *Streams) Drops() *PCG32    { return s.byName[StreamDrops] }
func (s *Streams) Variance() *PCG32 { return s.byName[StreamVariance] }

// Cursors returns every stream position sorted by name.
func (s *Streams) Cursors() []Cursor {
	out := make([]Cursor, 0, len(s.names))
	for _, name := range s.names {
		p := s.byName[name]
		out = append(out, Cursor{Name: name, State: p.state, Inc: p.inc, Draws: p.draws})
	}
	return out
}

// Restore rebuilds streams from saved cursors. Every standard stream must be present.
func Restore(master uint64, cursors []Cursor) (*Streams, error) {
	s := &Streams{seed: master, byName: map[string]*PCG32{}}
	for _, c := range cursors {
		if _, dup := s.byName[c.Name]; dup {
			return nil, simerr.Determinismf("rng.restore", "duplicate cursor %q", c.Name)
		}
		if c.Inc&1 == 0 {
			return nil, simerr.Integrityf("rng.restore", "cursor %q has even increment", c.Name)
		}
		s.byName[c.Name] = &PCG32{state: c.State, inc: c.Inc, draws: c.Draws}
		s.names = append(s.names, c.Name)
	}
	for _, name := range standardStreams {
		if _, ok := s.byName[name]; !ok {
			return nil, simerr.Integrityf("rng.restore", "missing stream %q", name)
		}
	}
	sort.Strings(s.names)
	return s, nil
}
