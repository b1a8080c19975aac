package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"draconia.gg/internal/logging"
	"draconia.gg/internal/persistence/savedb"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/engine"
	"draconia.gg/internal/sim/tuning"
	"draconia.gg/internal/transport/ws"
)

func newApp(t *testing.T) *app {
	t.Helper()
	store, err := savedb.Open(filepath.Join(t.TempDir(), "saves.sqlite"), savedb.Options{Log: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	configs := encounter.NewConfigHolder()
	return &app{
		ws:        ws.NewServer(ws.Config{Tuning: tuning.Defaults(), Configs: configs, Store: store, Log: logging.Discard()}),
		store:     store,
		configs:   configs,
		enemyPath: filepath.Join("..", "..", "configs", "enemy_config.json"),
		started:   time.Now(),
		log:       logging.Discard(),
	}
}

func do(t *testing.T, h http.Handler, method, target, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminRequiresLoopback(t *testing.T) {
	h := newApp(t).routes()
	if rec := do(t, h, http.MethodGet, "/admin/v1/profiles", "203.0.113.5:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote code=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/admin/v1/profiles", "127.0.0.1:4000"); rec.Code != http.StatusOK {
		t.Fatalf("loopback code=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz", "203.0.113.5:4000"); rec.Code != http.StatusOK {
		t.Fatalf("healthz code=%d", rec.Code)
	}
}

func TestProfilesAndExport(t *testing.T) {
	a := newApp(t)
	e, err := engine.Boot(tuning.Defaults(), nil, 11)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		if err := e.Step(); err != nil {
			t.Fatal(err)
		}
	}
	snap, err := e.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.store.Put(context.Background(), "hero", snap); err != nil {
		t.Fatal(err)
	}
	h := a.routes()

	rec := do(t, h, http.MethodGet, "/admin/v1/profiles", "127.0.0.1:1")
	var ps []profileJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &ps); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if len(ps) != 1 || ps[0].Profile != "hero" || ps[0].Step != 30 || ps[0].Size == "" {
		t.Fatalf("profiles=%+v", ps)
	}

	rec = do(t, h, http.MethodGet, "/admin/v1/export?profile=hero", "127.0.0.1:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("export code=%d", rec.Code)
	}
	b, got, err := savedb.ReadBundle(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	if b.ProfileID != "hero" || got.Checksum != snap.Checksum {
		t.Fatalf("bundle=%+v", b)
	}

	if rec := do(t, h, http.MethodGet, "/admin/v1/export?profile=ghost", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing profile code=%d", rec.Code)
	}
}

func TestMetricsAndReload(t *testing.T) {
	a := newApp(t)
	h := a.routes()
	body := do(t, h, http.MethodGet, "/metrics", "127.0.0.1:1").Body.String()
	if !strings.Contains(body, "draconia_enemy_config_loaded 0") || !strings.Contains(body, "draconia_sessions_active 0") {
		t.Fatalf("metrics:\n%s", body)
	}
	if rec := do(t, h, http.MethodPost, "/admin/v1/config/reload", "127.0.0.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("reload code=%d body=%s", rec.Code, rec.Body.String())
	}
	body = do(t, h, http.MethodGet, "/metrics", "127.0.0.1:1").Body.String()
	if !strings.Contains(body, "draconia_enemy_config_loaded 1") {
		t.Fatalf("config not loaded after reload:\n%s", body)
	}
}

func TestMetricsCountEndedSessions(t *testing.T) {
	a := newApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	for _, m := range []string{`{"t":"boot","version":1,"seed":3}`, `{"t":"start","mode":"fg"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatal(err)
		}
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.Contains(string(b), `"t":"tick"`) {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.ws.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	body := do(t, a.routes(), http.MethodGet, "/metrics", "127.0.0.1:1").Body.String()
	if strings.Contains(body, "draconia_sim_steps_total 0\n") || !strings.Contains(body, `draconia_sim_events_total{event="ability_rejected"} 0`) {
		t.Fatalf("metrics:\n%s", body)
	}
}

func TestWatchConfigPicksUpChanges(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "configs", "enemy_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "enemy_config.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	holder := encounter.NewConfigHolder()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		watchConfig(ctx, holder, path, 10*time.Millisecond, logging.Discard())
		close(done)
	}()

	if err := os.WriteFile(path, src, 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !holder.Loaded() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !holder.Loaded() {
		t.Fatal("config change not picked up")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher ignored cancellation")
	}
}

func TestWatchConfigKeepsLastGoodOnBadEdit(t *testing.T) {
	src, err := os.ReadFile(filepath.Join("..", "..", "configs", "enemy_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "enemy_config.json")
	if err := os.WriteFile(path, src, 0o644); err != nil {
		t.Fatal(err)
	}
	holder := encounter.NewConfigHolder()
	if err := holder.Load(path); err != nil {
		t.Fatal(err)
	}
	var dropped atomic.Bool
	unsub := holder.Subscribe(func(cfg *encounter.Config, _ bool) {
		if cfg == nil {
			dropped.Store(true)
		}
	})
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchConfig(ctx, holder, path, 10*time.Millisecond, logging.Discard())

	if err := os.WriteFile(path, []byte(`{"caps":`), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if !holder.Loaded() || holder.Config() == nil || dropped.Load() {
		t.Fatalf("bad edit replaced the config: loaded=%v dropped=%v", holder.Loaded(), dropped.Load())
	}
}
