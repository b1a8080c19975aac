// Package rng implements the seeded PCG32 generator and its named, independent streams.
package rng

import "math"

const pcgMultiplier = 6364136223846793005

// PCG32 is PCG-XSH-RR: a 64-bit LCG state with a 64-bit odd increment
// producing 32-bit outputs. Each increment selects a distinct sequence of
// period 2^64.
type PCG32 struct {
	state uint64
	inc   uint64
	draws uint64
}

// NewPCG32 seeds a generator with the reference initialisation sequence.
func NewPCG32(seed, seq uint64) *PCG32 {
	p := &PCG32{inc: seq<<1 | 1}
	p.step()
	p.state += seed
	p.step()
	p.draws = 0
	return p
}

func (p *PCG32) step() uint32 {
	old := p.state
	p.state = old*pcgMultiplier + p.inc
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
}

func (p *PCG32) Uint32() uint32 {
	p.draws++
	return p.step()
}

// Float01 returns a value in [0, 1).
func (p *PCG32) Float01() float64 {
	return float64(p.Uint32()) / (1 << 32)
}

// IntRange returns a uniform integer in [min, max] using rejection sampling.
func (p *PCG32) IntRange(min, max int) int {
	if max <= min {
		return min
	}
	span := uint64(max-min) + 1
	if span > math.MaxUint32 {
		// Wider than one draw; combine two.
		v := uint64(p.Uint32())<<32 | uint64(p.Uint32())
		return min + int(v%span)
	}
	threshold := (uint64(1) << 32) - (uint64(1)<<32)%span
	for {
		v := uint64(p.Uint32())
		if v < threshold {
			return min + int(v%span)
		}
	}
}

// FloatRange returns a value in [min, max).
func (p *PCG32) FloatRange(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + p.Float01()*(max-min)
}

// Bool returns true with probability prob.
func (p *PCG32) Bool(prob float64) bool {
	if prob <= 0 {
		return false
	}
	if prob >= 1 {
		return true
	}
	return p.Float01() < prob
}

// Draws counts outputs produced since seeding or restore.
func (p *PCG32) Draws() uint64 { return p.draws }
