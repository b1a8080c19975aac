package savedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"draconia.gg/internal/logging"
	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/sim/engine"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/tuning"
)

// snapsAt returns digests of one engine run taken at each of the given steps.
func snapsAt(t *testing.T, steps ...uint64) []snapshot.Snapshot {
	t.Helper()
	e, err := engine.Boot(tuning.Defaults(), nil, 7)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	var out []snapshot.Snapshot
	for _, want := range steps {
		for e.State().Step < want {
			if err := e.Step(); err != nil {
				t.Fatalf("step: %v", err)
			}
		}
		snap, err := e.Digest()
		if err != nil {
			t.Fatalf("digest: %v", err)
		}
		out = append(out, snap)
	}
	return out
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "saves.sqlite"), Options{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoadKeepsThreeBackups(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	snaps := snapsAt(t, 10, 20, 30, 40, 50)
	for _, snap := range snaps {
		if err := s.SaveState("p1", snap); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := s.LoadState(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Step != 50 || got.Checksum != snaps[4].Checksum || !bytes.Equal(got.Bytes, snaps[4].Bytes) {
		t.Fatalf("loaded step=%d checksum=%s", got.Step, got.Checksum)
	}

	backups, err := s.Backups(ctx, "p1")
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	if len(backups) != DefaultKeep {
		t.Fatalf("backups=%d want %d", len(backups), DefaultKeep)
	}
	for i, want := range []uint64{40, 30, 20} {
		if backups[i].Step != want {
			t.Fatalf("backup[%d].Step=%d want %d", i, backups[i].Step, want)
		}
	}

	profiles, err := s.Profiles(ctx)
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Backups != 3 || profiles[0].Step != 50 {
		t.Fatalf("profiles=%+v", profiles)
	}
	if st := s.Stats(); st.WriteTotal != 5 || st.DropSaveTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestStore_MissingProfileIsNotFound(t *testing.T) {
	s := openStore(t)
	if _, err := s.LoadState(context.Background(), "nobody"); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestStore_TamperedRowIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	snap := snapsAt(t, 5)[0]
	if err := s.Put(ctx, "p1", snap); err != nil {
		t.Fatalf("put: %v", err)
	}
	bad := append([]byte(nil), snap.Bytes...)
	bad[len(bad)/2] ^= 0xff
	if _, err := s.db.Exec(`UPDATE profiles SET state=? WHERE profile=?`, bad, "p1"); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	_, err := s.LoadState(ctx, "p1")
	if !simerr.Is(err, simerr.KindIntegrity) {
		t.Fatalf("err=%v want integrity", err)
	}
}

func TestStore_SaveRejectsMismatchedChecksum(t *testing.T) {
	s := openStore(t)
	snap := snapsAt(t, 5)[0]
	snap.Checksum = "0000000000000000"
	if err := s.SaveState("p1", snap); !simerr.Is(err, simerr.KindIntegrity) {
		t.Fatalf("err=%v", err)
	}
}

func TestStore_RestoreBackupPromotesIt(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	snaps := snapsAt(t, 10, 20)
	for _, snap := range snaps {
		if err := s.Put(ctx, "p1", snap); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.RestoreBackup(ctx, "p1", 10); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := s.LoadState(ctx, "p1")
	if err != nil || got.Step != 10 {
		t.Fatalf("after restore step=%d err=%v", got.Step, err)
	}
	prev, err := s.LoadBackup(ctx, "p1", 20)
	if err != nil || prev.Checksum != snaps[1].Checksum {
		t.Fatalf("superseded save not kept as backup: %v", err)
	}
	if err := s.RestoreBackup(ctx, "p1", 999); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("restore missing err=%v", err)
	}
}

func TestStore_DeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, snap := range snapsAt(t, 10, 20) {
		if err := s.Put(ctx, "p1", snap); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadState(ctx, "p1"); !errors.Is(err, simerr.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
	if b, _ := s.Backups(ctx, "p1"); len(b) != 0 {
		t.Fatalf("backups survived delete: %d", len(b))
	}
}

func TestStore_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openStore(t)
	snap := snapsAt(t, 42)[0]
	if err := src.Put(ctx, "p1", snap); err != nil {
		t.Fatalf("put: %v", err)
	}
	var buf bytes.Buffer
	b, err := src.Export(ctx, "p1", &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if b.ExportID == "" || b.Digest == "" || b.Step != 42 {
		t.Fatalf("bundle=%+v", b)
	}

	dst := openStore(t)
	got, err := dst.Import(ctx, bytes.NewReader(buf.Bytes()), "p2")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if got.ProfileID != "p1" {
		t.Fatalf("profile id=%q", got.ProfileID)
	}
	loaded, err := dst.LoadState(ctx, "p2")
	if err != nil || loaded.Checksum != snap.Checksum {
		t.Fatalf("imported state: %v", err)
	}
}

func TestReadBundle_RejectsDigestMismatch(t *testing.T) {
	snap := snapsAt(t, 3)[0]
	b := NewBundle("p1", snap, time.Unix(0, 0))
	b.Digest = "00"
	var buf bytes.Buffer
	if err := WriteBundle(&buf, b); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := ReadBundle(&buf); !simerr.Is(err, simerr.KindIntegrity) {
		t.Fatalf("err=%v", err)
	}

	if _, _, err := ReadBundle(bytes.NewReader([]byte("not zstd"))); !simerr.Is(err, simerr.KindIntegrity) {
		t.Fatalf("garbage err=%v", err)
	}
}

func TestStore_QueueDropStats(t *testing.T) {
	s := &Store{ch: make(chan req, 1)}
	snap := snapsAt(t, 1)[0]
	if err := s.SaveState("p1", snap); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveState("p1", snap); err != nil {
		t.Fatal(err)
	}
	st := s.Stats()
	if st.DropSaveTotal != 1 {
		t.Fatalf("DropSaveTotal=%d want=1", st.DropSaveTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestStore_SavesRacingCloseDoNotPanic(t *testing.T) {
	snap := snapsAt(t, 5)[0]
	for i := 0; i < 20; i++ {
		s, err := Open(filepath.Join(t.TempDir(), "saves.sqlite"), Options{Log: logging.Discard()})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for n := 0; n < 200; n++ {
					_ = s.SaveState("p1", snap)
					_ = s.Flush(context.Background())
				}
			}()
		}
		close(start)
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		wg.Wait()
	}
}

func TestStore_ClosedStoreRefusesRequests(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "saves.sqlite"), Options{Log: logging.Discard()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.SaveState("p1", snapsAt(t, 1)[0]); err != nil {
		t.Fatalf("save after close: %v", err)
	}
	if err := s.Flush(context.Background()); !errors.Is(err, errClosed) {
		t.Fatalf("flush after close: %v", err)
	}
}

func TestMirror_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var got []mirrorEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}
		var body struct {
			Events []mirrorEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, body.Events...)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m, err := OpenMirror(MirrorConfig{
		Endpoint:      srv.URL,
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
		Log:           logging.Discard(),
	})
	if err != nil {
		t.Fatalf("open mirror: %v", err)
	}
	defer func() { _ = m.Close() }()

	snap := snapsAt(t, 9)[0]
	m.Record("p1", snap)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(got) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 1 {
		t.Fatalf("retained batch never delivered; requests=%d", reqCount)
	}
	if got[0].Profile != "p1" || got[0].Step != 9 || got[0].Checksum != snap.Checksum {
		t.Fatalf("event=%+v", got[0])
	}
	if st := m.Stats(); st.FlushFailTotal == 0 || st.QueueDroppedTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestStore_SavesFeedMirror(t *testing.T) {
	var mu sync.Mutex
	var steps []uint64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []mirrorEvent `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		for _, ev := range body.Events {
			steps = append(steps, ev.Step)
		}
		mu.Unlock()
	}))
	defer srv.Close()

	m, err := OpenMirror(MirrorConfig{Endpoint: srv.URL, BatchSize: 2, FlushInterval: time.Hour, Log: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Open(filepath.Join(t.TempDir(), "saves.sqlite"), Options{Log: logging.Discard(), Mirror: m})
	if err != nil {
		t.Fatal(err)
	}
	for _, snap := range snapsAt(t, 10, 20) {
		if err := s.SaveState("p1", snap); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(steps) != 2 || steps[0] != 10 || steps[1] != 20 {
		t.Fatalf("mirrored steps=%v", steps)
	}
}
