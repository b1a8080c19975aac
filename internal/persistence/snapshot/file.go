package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"draconia.gg/internal/sim/simerr"
)

// Header is the first line of a snapshot file, readable without decoding the body.
type Header struct {
	Version  int    `json:"version"`
	Profile  string `json:"profile,omitempty"`
	Step     uint64 `json:"step"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
}

const fileVersion = 1

// WriteFile stores snap as zstd(header JSON line + canonical bytes). The file
// is written under a temporary name and renamed into place.
func WriteFile(path, profile string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeBody(f, profile, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeBody(w io.Writer, profile string, snap Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, _ := json.Marshal(Header{
		Version:  fileVersion,
		Profile:  profile,
		Step:     snap.Step,
		Checksum: snap.Checksum,
		Size:     len(snap.Bytes),
	})
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(snap.Bytes); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadFile loads and verifies a snapshot file.
func ReadFile(path string) (Header, Snapshot, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, Snapshot{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, Snapshot{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, Snapshot{}, simerr.Wrap(simerr.KindIntegrity, "snapshot.read", fmt.Errorf("header: %w", err))
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, Snapshot{}, simerr.Wrap(simerr.KindIntegrity, "snapshot.read", fmt.Errorf("header: %w", err))
	}
	if h.Version != fileVersion {
		return h, Snapshot{}, simerr.Integrityf("snapshot.read", "unsupported file version %d", h.Version)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return h, Snapshot{}, simerr.Wrap(simerr.KindIntegrity, "snapshot.read", err)
	}
	if len(body) != h.Size || !Verify(body, h.Checksum) {
		return h, Snapshot{}, simerr.Integrityf("snapshot.read", "%s: body does not match header checksum", filepath.Base(path))
	}
	return h, Snapshot{Step: h.Step, Checksum: h.Checksum, Bytes: body}, nil
}
