package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/protocol"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

const (
	KindBoot       = "boot"
	KindInput      = "input"
	KindCheckpoint = "checkpoint"
)

// Entry is one journal line. Input entries carry the host message exactly as
// it would appear on the wire; Step is the last completed step when it was
// handled.
type Entry struct {
	Kind     string          `json:"kind"`
	Step     uint64          `json:"step"`
	Seed     uint64          `json:"seed,omitempty"`
	Profile  string          `json:"profile,omitempty"`
	Snapshot string          `json:"snapshot,omitempty"`
	Msg      json.RawMessage `json:"msg,omitempty"`
	Checksum string          `json:"checksum,omitempty"`
	At       string          `json:"at,omitempty"`
}

const journalPrefix = "journal"

// Journal writes a session's boot, inputs and checkpoints under dir so the
// session can be replayed. A resumed boot also stores its starting snapshot
// next to the journal files.
type Journal struct {
	dir string
	w   *JSONLZstdWriter
	log logrus.FieldLogger

	failTotal atomic.Uint64
}

func NewJournal(dir string, log logrus.FieldLogger) *Journal {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Journal{dir: dir, w: NewJSONLZstdWriter(dir, journalPrefix), log: log}
}

func (j *Journal) Dir() string { return j.dir }

func (j *Journal) Failures() uint64 { return j.failTotal.Load() }

func (j *Journal) Boot(seed uint64, profile string, from snapshot.Snapshot) {
	e := Entry{Kind: KindBoot, Seed: seed, Profile: profile}
	if len(from.Bytes) > 0 {
		name := fmt.Sprintf("boot-%d.snap.zst", from.Step)
		if err := snapshot.WriteFile(filepath.Join(j.dir, name), profile, from); err != nil {
			j.fail(err, KindBoot)
			return
		}
		e.Step = from.Step
		e.Snapshot = name
		e.Checksum = from.Checksum
	}
	j.write(e)
}

func (j *Journal) Input(step uint64, msg protocol.HostMsg) {
	b, err := protocol.EncodeHost(msg)
	if err != nil {
		j.fail(err, KindInput)
		return
	}
	j.write(Entry{Kind: KindInput, Step: step, Msg: b})
}

func (j *Journal) Checkpoint(step uint64, checksum string) {
	j.write(Entry{Kind: KindCheckpoint, Step: step, Checksum: checksum})
}

func (j *Journal) write(e Entry) {
	e.At = j.w.now().UTC().Format(time.RFC3339Nano)
	if err := j.w.Write(e); err != nil {
		j.fail(err, e.Kind)
	}
}

func (j *Journal) fail(err error, kind string) {
	j.failTotal.Add(1)
	j.log.WithError(err).WithField("kind", kind).Warn("journal write failed")
}

func (j *Journal) Close() error { return j.w.Close() }
