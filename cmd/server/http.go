package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"draconia.gg/internal/persistence/r2s3"
	"draconia.gg/internal/persistence/savedb"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/transport/ws"
)

type app struct {
	ws        *ws.Server
	store     *savedb.Store
	mirror    *savedb.Mirror
	archiver  *r2s3.Archiver
	configs   *encounter.ConfigHolder
	enemyPath string
	started   time.Time
	log       *logrus.Entry
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.metrics)
	mux.HandleFunc("/v1/ws", a.ws.Handler())

	mux.HandleFunc("/admin/v1/state", a.loopback(a.state))
	mux.HandleFunc("/admin/v1/profiles", a.loopback(a.profiles))
	mux.HandleFunc("/admin/v1/export", a.loopback(a.export))
	mux.HandleFunc("/admin/v1/config/reload", a.loopback(a.reloadConfig))
	return mux
}

// loopback restricts admin endpoints to local callers.
func (a *app) loopback(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remote string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remote))
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (a *app) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	wst := a.ws.Stats()
	st := a.store.Stats()

	fmt.Fprintf(rw, "# HELP draconia_sessions_active Connected sessions.\n")
	fmt.Fprintf(rw, "# TYPE draconia_sessions_active gauge\n")
	fmt.Fprintf(rw, "draconia_sessions_active %d\n", wst.Active)
	fmt.Fprintf(rw, "# HELP draconia_sessions_total Sessions accepted since start.\n")
	fmt.Fprintf(rw, "# TYPE draconia_sessions_total counter\n")
	fmt.Fprintf(rw, "draconia_sessions_total %d\n", wst.Total)
	fmt.Fprintf(rw, "# HELP draconia_sessions_rejected_total Connections refused at capacity.\n")
	fmt.Fprintf(rw, "# TYPE draconia_sessions_rejected_total counter\n")
	fmt.Fprintf(rw, "draconia_sessions_rejected_total %d\n", wst.Rejected)

	fmt.Fprintf(rw, "# HELP draconia_sim_steps_total Fixed steps run by ended sessions.\n")
	fmt.Fprintf(rw, "# TYPE draconia_sim_steps_total counter\n")
	fmt.Fprintf(rw, "draconia_sim_steps_total %d\n", wst.Steps)
	fmt.Fprintf(rw, "# TYPE draconia_sim_frames_total counter\n")
	fmt.Fprintf(rw, "draconia_sim_frames_total{result=%q} %d\n", "all", wst.Frames)
	fmt.Fprintf(rw, "draconia_sim_frames_total{result=%q} %d\n", "over_budget", wst.OverBudget)
	fmt.Fprintf(rw, "draconia_sim_frames_total{result=%q} %d\n", "capped", wst.Capped)
	fmt.Fprintf(rw, "# TYPE draconia_sim_events_total counter\n")
	fmt.Fprintf(rw, "draconia_sim_events_total{event=%q} %d\n", "hit", wst.Hits)
	fmt.Fprintf(rw, "draconia_sim_events_total{event=%q} %d\n", "crit", wst.Crits)
	fmt.Fprintf(rw, "draconia_sim_events_total{event=%q} %d\n", "death", wst.Deaths)
	fmt.Fprintf(rw, "draconia_sim_events_total{event=%q} %d\n", "spawn", wst.Spawns)
	fmt.Fprintf(rw, "draconia_sim_events_total{event=%q} %d\n", "ability_rejected", wst.AbilityRejected)

	fmt.Fprintf(rw, "# HELP draconia_savedb_queue_depth Pending save writes.\n")
	fmt.Fprintf(rw, "# TYPE draconia_savedb_queue_depth gauge\n")
	fmt.Fprintf(rw, "draconia_savedb_queue_depth %d\n", st.QueueDepth)
	fmt.Fprintf(rw, "draconia_savedb_queue_capacity %d\n", st.QueueCapacity)
	fmt.Fprintf(rw, "# TYPE draconia_savedb_writes_total counter\n")
	fmt.Fprintf(rw, "draconia_savedb_writes_total{result=%q} %d\n", "ok", st.WriteTotal)
	fmt.Fprintf(rw, "draconia_savedb_writes_total{result=%q} %d\n", "fail", st.WriteFailTotal)
	fmt.Fprintf(rw, "draconia_savedb_writes_total{result=%q} %d\n", "dropped", st.DropSaveTotal)

	if a.mirror != nil {
		ms := a.mirror.Stats()
		fmt.Fprintf(rw, "# TYPE draconia_mirror_queue_depth gauge\n")
		fmt.Fprintf(rw, "draconia_mirror_queue_depth %d\n", ms.QueueDepth)
		fmt.Fprintf(rw, "# TYPE draconia_mirror_events_total counter\n")
		fmt.Fprintf(rw, "draconia_mirror_events_total{result=%q} %d\n", "sent", ms.SentTotal)
		fmt.Fprintf(rw, "draconia_mirror_events_total{result=%q} %d\n", "dropped", ms.QueueDroppedTotal)
		fmt.Fprintf(rw, "draconia_mirror_flush_fail_total %d\n", ms.FlushFailTotal)
	}

	if a.archiver != nil {
		as := a.archiver.Stats()
		fmt.Fprintf(rw, "# TYPE draconia_archive_queue_depth gauge\n")
		fmt.Fprintf(rw, "draconia_archive_queue_depth %d\n", as.QueueDepth)
		fmt.Fprintf(rw, "# TYPE draconia_archive_uploads_total counter\n")
		fmt.Fprintf(rw, "draconia_archive_uploads_total{result=%q} %d\n", "ok", as.UploadSuccessTotal)
		fmt.Fprintf(rw, "draconia_archive_uploads_total{result=%q} %d\n", "fail", as.UploadFailTotal)
		fmt.Fprintf(rw, "draconia_archive_dropped_total %d\n", as.DroppedTotal)
		fmt.Fprintf(rw, "draconia_archive_uploaded_bytes_total %d\n", as.UploadedBytes)
	}

	loaded := 0
	if a.configs.Loaded() {
		loaded = 1
	}
	fmt.Fprintf(rw, "# HELP draconia_enemy_config_loaded Whether a valid enemy config is active.\n")
	fmt.Fprintf(rw, "# TYPE draconia_enemy_config_loaded gauge\n")
	fmt.Fprintf(rw, "draconia_enemy_config_loaded %d\n", loaded)
}

func (a *app) state(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	resp := struct {
		Uptime       string       `json:"uptime"`
		Since        string       `json:"since"`
		Sessions     []string     `json:"sessions"`
		WS           ws.Stats     `json:"ws"`
		SaveDB       savedb.Stats `json:"savedb"`
		ConfigLoaded bool         `json:"config_loaded"`
	}{
		Uptime:       time.Since(a.started).Round(time.Second).String(),
		Since:        humanize.Time(a.started),
		Sessions:     a.ws.Sessions(),
		WS:           a.ws.Stats(),
		SaveDB:       a.store.Stats(),
		ConfigLoaded: a.configs.Loaded(),
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

type profileJSON struct {
	Profile   string `json:"profile"`
	Step      uint64 `json:"step"`
	Checksum  string `json:"checksum"`
	Size      string `json:"size"`
	Backups   int    `json:"backups"`
	UpdatedAt string `json:"updated_at"`
}

func (a *app) profiles(rw http.ResponseWriter, r *http.Request) {
	ps, err := a.store.Profiles(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]profileJSON, 0, len(ps))
	for _, p := range ps {
		out = append(out, profileJSON{
			Profile:   p.Profile,
			Step:      p.Step,
			Checksum:  p.Checksum,
			Size:      humanize.Bytes(uint64(p.Size)),
			Backups:   p.Backups,
			UpdatedAt: p.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(out)
}

func (a *app) export(rw http.ResponseWriter, r *http.Request) {
	profile := strings.TrimSpace(r.URL.Query().Get("profile"))
	if profile == "" {
		http.Error(rw, "missing profile", http.StatusBadRequest)
		return
	}
	if _, err := a.store.LoadState(r.Context(), profile); err != nil {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}
	rw.Header().Set("Content-Type", "application/zstd")
	rw.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", profile+".save.zst"))
	if _, err := a.store.Export(r.Context(), profile, rw); err != nil {
		a.log.WithError(err).WithField("profile", profile).Warn("export failed")
	}
}

func (a *app) reloadConfig(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := a.configs.Load(a.enemyPath); err != nil {
		rw.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
}
