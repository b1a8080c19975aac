package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"draconia.gg/internal/logging"
	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/protocol"
	"draconia.gg/internal/sim/combat"
	"draconia.gg/internal/sim/num"
	"draconia.gg/internal/sim/state"
)

func TestJournal_WritesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	j := NewJournal(dir, logging.Discard())
	j.Boot(42, "", snapshot.Snapshot{})
	j.Input(0, protocol.StartMsg{Mode: "fg"})
	j.Checkpoint(60, "00000000000000aa")
	j.Input(61, protocol.AbilityMsg{ID: "roar"})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries=%d want 4", len(entries))
	}
	if entries[0].Kind != KindBoot || entries[0].Seed != 42 || entries[0].Snapshot != "" {
		t.Fatalf("boot=%+v", entries[0])
	}
	msg, err := protocol.DecodeHost(entries[3].Msg)
	if err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if a, ok := msg.(protocol.AbilityMsg); !ok || a.ID != "roar" || entries[3].Step != 61 {
		t.Fatalf("input=%#v step=%d", msg, entries[3].Step)
	}
	if entries[2].Kind != KindCheckpoint || entries[2].Checksum != "00000000000000aa" {
		t.Fatalf("checkpoint=%+v", entries[2])
	}
}

func TestJournal_ResumedBootStoresSnapshot(t *testing.T) {
	dir := t.TempDir()
	s := state.New(9, state.Dragon{Health: combat.NewHealth(num.FromInt(100)), Element: combat.Fire})
	s.Step = 240
	snap, err := snapshot.Digest(&s)
	if err != nil {
		t.Fatal(err)
	}
	j := NewJournal(dir, logging.Discard())
	j.Boot(9, "p1", snap)
	_ = j.Close()

	entries, err := ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	e := entries[0]
	if e.Step != 240 || e.Checksum != snap.Checksum || e.Profile != "p1" {
		t.Fatalf("boot=%+v", e)
	}
	h, got, err := snapshot.ReadFile(filepath.Join(dir, e.Snapshot))
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if h.Profile != "p1" || got.Checksum != snap.Checksum {
		t.Fatalf("header=%+v", h)
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, journalPrefix)
	at := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return at }
	if err := w.Write(Entry{Kind: KindCheckpoint, Step: 1}); err != nil {
		t.Fatal(err)
	}
	at = at.Add(2 * time.Minute)
	if err := w.Write(Entry{Kind: KindCheckpoint, Step: 2}); err != nil {
		t.Fatal(err)
	}
	_ = w.Close()

	files, err := ListFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "journal-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	entries, err := ReadDir(dir)
	if err != nil || len(entries) != 2 || entries[1].Step != 2 {
		t.Fatalf("entries=%+v err=%v", entries, err)
	}
}

func TestReadDir_EmptyDirIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadDir(dir); err == nil {
		t.Fatal("expected error")
	}
}
