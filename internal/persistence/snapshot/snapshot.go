// Package snapshot produces the canonical bytes and checksum of a SimState and
// verifies them on the way back in.
//
// Canonical bytes are CBOR in Core Deterministic Encoding (sorted map keys,
// shortest integer and float forms, nil slices written as empty arrays), so
// equal states always encode identically regardless of how they were built.
// The checksum is xxhash64 over those bytes, as 16 lowercase hex digits.
package snapshot

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"

	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/state"
)

type Snapshot struct {
	Step     uint64
	Checksum string
	Bytes    []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.NilContainers = cbor.NilContainerAsEmpty
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Canonical encodes s without computing a checksum.
func Canonical(s *state.SimState) ([]byte, error) {
	b, err := encMode.Marshal(s)
	if err != nil {
		return nil, simerr.Wrap(simerr.KindDeterminism, "snapshot.encode", err)
	}
	return b, nil
}

func Checksum(b []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

func Digest(s *state.SimState) (Snapshot, error) {
	b, err := Canonical(s)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Step: s.Step, Checksum: Checksum(b), Bytes: b}, nil
}

func Verify(b []byte, checksum string) bool {
	return len(b) > 0 && Checksum(b) == checksum
}

// Restore verifies and decodes b. Any mismatch, decode failure, or
// non-canonical encoding is an integrity error; nothing is repaired.
func Restore(b []byte, checksum string) (state.SimState, error) {
	const op = "snapshot.restore"
	var s state.SimState
	if !Verify(b, checksum) {
		return s, simerr.Integrityf(op, "checksum mismatch: have %s want %s", Checksum(b), checksum)
	}
	if err := decMode.Unmarshal(b, &s); err != nil {
		return state.SimState{}, simerr.Wrap(simerr.KindIntegrity, op, err)
	}
	if s.Version != state.FormatVersion {
		return state.SimState{}, simerr.Integrityf(op, "unsupported state version %d", s.Version)
	}
	again, err := Canonical(&s)
	if err != nil {
		return state.SimState{}, err
	}
	if !bytes.Equal(again, b) {
		return state.SimState{}, simerr.Integrityf(op, "state bytes are not canonical")
	}
	return s, nil
}
