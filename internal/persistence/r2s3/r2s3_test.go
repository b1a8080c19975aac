package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"draconia.gg/internal/logging"
)

func TestClientPutSignsRequest(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotDate string
		gotBody                            []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method=%s", r.Method)
		}
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotDate = r.Header.Get("x-amz-date")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "saves", "AKID", "secret")
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	body := []byte("journal bytes")
	if err := c.Put(context.Background(), "/journals/s 1/../s1/a.jsonl.zst", body); err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotPath != "/saves/journals/s1/a.jsonl.zst" {
		t.Fatalf("path=%s", gotPath)
	}
	sum := sha256.Sum256(body)
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != string(body) {
		t.Fatalf("hash=%s body=%q", gotHash, gotBody)
	}
	if gotDate != "20260301T120000Z" {
		t.Fatalf("date=%s", gotDate)
	}
	want := "AWS4-HMAC-SHA256 Credential=AKID/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(gotAuth, want) || len(gotAuth) != len(want)+64 {
		t.Fatalf("auth=%s", gotAuth)
	}
}

func TestClientPutReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(srv.URL, "saves", "AKID", "secret")
	if err != nil {
		t.Fatal(err)
	}
	err = c.Put(context.Background(), "a", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err=%v", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("r2.example.com", "b", "", "s"); err == nil {
		t.Fatal("expected error")
	}
}

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	fail int
}

func (f *fakePutter) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("unavailable")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestArchiverUploadsDirWithRetry(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sess-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"journal-b.jsonl.zst", "boot-0.snap.zst"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fp := &fakePutter{fail: 2}
	a := newArchiver(fp, "journals/", 1, 4, logging.Discard())
	a.backoff = func(int) time.Duration { return 0 }
	a.EnqueueDir(dir)
	a.Close()

	if len(fp.keys) != 2 || fp.keys[0] != "journals/sess-1/boot-0.snap.zst" || fp.keys[1] != "journals/sess-1/journal-b.jsonl.zst" {
		t.Fatalf("keys=%v", fp.keys)
	}
	st := a.Stats()
	if st.UploadSuccessTotal != 2 || st.UploadFailTotal != 0 || st.UploadedBytes != 8 {
		t.Fatalf("stats=%+v", st)
	}
	// Enqueue after close is a no-op.
	a.EnqueueDir(dir)
}

func TestArchiverDropsWhenFull(t *testing.T) {
	a := &Archiver{jobs: make(chan string, 1), log: logging.Discard()}
	a.EnqueueDir("a")
	a.EnqueueDir("b")
	if st := a.Stats(); st.DroppedTotal != 1 || st.QueueDepth != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
