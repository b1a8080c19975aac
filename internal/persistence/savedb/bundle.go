package savedb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/sim/simerr"
)

const BundleVersion = 1

// Bundle is the portable form of one save. Digest is the sha256 of State so a
// bundle can be checked without decoding the state.
type Bundle struct {
	FileVersion int    `json:"fileVersion"`
	ExportID    string `json:"exportId"`
	ExportedAt  string `json:"exportedAt"`
	ProfileID   string `json:"profileId"`
	Step        uint64 `json:"step"`
	Checksum    string `json:"checksum"`
	State       []byte `json:"state"`
	Digest      string `json:"digest"`
}

func stateDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func NewBundle(profile string, snap snapshot.Snapshot, now time.Time) Bundle {
	return Bundle{
		FileVersion: BundleVersion,
		ExportID:    uuid.NewString(),
		ExportedAt:  now.UTC().Format(time.RFC3339),
		ProfileID:   profile,
		Step:        snap.Step,
		Checksum:    snap.Checksum,
		State:       snap.Bytes,
		Digest:      stateDigest(snap.Bytes),
	}
}

// WriteBundle writes b as zstd-compressed JSON.
func WriteBundle(w io.Writer, b Bundle) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if err := json.NewEncoder(enc).Encode(b); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadBundle decodes a bundle and checks it end to end: file version, digest,
// checksum and a full state restore. Every failure is an integrity error.
func ReadBundle(r io.Reader) (Bundle, snapshot.Snapshot, error) {
	const op = "savedb.bundle"
	var b Bundle
	dec, err := zstd.NewReader(r)
	if err != nil {
		return b, snapshot.Snapshot{}, simerr.Wrap(simerr.KindIntegrity, op, err)
	}
	defer dec.Close()
	if err := json.NewDecoder(dec).Decode(&b); err != nil {
		return b, snapshot.Snapshot{}, simerr.Wrap(simerr.KindIntegrity, op, err)
	}
	if b.FileVersion != BundleVersion {
		return b, snapshot.Snapshot{}, simerr.Integrityf(op, "unsupported bundle version %d", b.FileVersion)
	}
	if got := stateDigest(b.State); got != b.Digest {
		return b, snapshot.Snapshot{}, simerr.Integrityf(op, "digest mismatch: have %s want %s", got, b.Digest)
	}
	st, err := snapshot.Restore(b.State, b.Checksum)
	if err != nil {
		return b, snapshot.Snapshot{}, err
	}
	if st.Step != b.Step {
		return b, snapshot.Snapshot{}, simerr.Integrityf(op, "bundle step %d but state is at step %d", b.Step, st.Step)
	}
	return b, snapshot.Snapshot{Step: b.Step, Checksum: b.Checksum, Bytes: b.State}, nil
}

// Export writes the profile's current save as a bundle.
func (s *Store) Export(ctx context.Context, profile string, w io.Writer) (Bundle, error) {
	snap, err := s.LoadState(ctx, profile)
	if err != nil {
		return Bundle{}, err
	}
	b := NewBundle(profile, snap, s.now())
	if err := WriteBundle(w, b); err != nil {
		return Bundle{}, fmt.Errorf("savedb.export: %w", err)
	}
	return b, nil
}

// Import verifies a bundle and stores it as the current save of profile, or
// of the bundle's own profile when profile is empty.
func (s *Store) Import(ctx context.Context, r io.Reader, profile string) (Bundle, error) {
	b, snap, err := ReadBundle(r)
	if err != nil {
		return b, err
	}
	if profile == "" {
		profile = b.ProfileID
	}
	if profile == "" {
		return b, simerr.Protocolf("savedb.import", "bundle has no profile id")
	}
	if err := s.Put(ctx, profile, snap); err != nil {
		return b, err
	}
	return b, nil
}

// Put stores snap and waits for the write, unlike SaveState.
func (s *Store) Put(ctx context.Context, profile string, snap snapshot.Snapshot) error {
	if !snapshot.Verify(snap.Bytes, snap.Checksum) {
		return simerr.Integrityf("savedb.put", "snapshot at step %d does not match its checksum", snap.Step)
	}
	return s.do(ctx, req{kind: reqSave, profile: profile, snap: snap})
}
