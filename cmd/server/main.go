package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"draconia.gg/internal/config"
	"draconia.gg/internal/logging"
	"draconia.gg/internal/persistence/r2s3"
	"draconia.gg/internal/persistence/savedb"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/tuning"
	"draconia.gg/internal/transport/ws"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	env, err := config.LoadServer()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var (
		addr        = flag.String("addr", env.Addr, "http listen address")
		dataDir     = flag.String("data", env.DataDir, "runtime data directory")
		tuningPath  = flag.String("tuning", env.TuningPath, "path to tuning.yaml")
		enemyPath   = flag.String("enemies", env.EnemyConfig, "path to enemy_config.json")
		logLevel    = flag.String("log_level", env.LogLevel, "log level")
		logFormat   = flag.String("log_format", env.LogFormat, "log format (text|json)")
		maxSessions = flag.Int("max_sessions", env.MaxSessions, "max concurrent sessions (0 = unlimited)")
		journal     = flag.Bool("journal", env.Journal, "write a replay journal per session")
		reload      = flag.Duration("reload", env.ReloadEvery, "enemy config poll interval (0 disables)")
		mirrorURL   = flag.String("mirror_url", env.MirrorURL, "checkpoint mirror ingest url (optional)")
	)
	flag.Parse()

	logger := logging.New(*logLevel, *logFormat)
	log := logrus.NewEntry(logger).WithField("component", "server")

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Fatal("load tuning")
		}
		log.WithField("path", *tuningPath).Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}

	configs := encounter.NewConfigHolder()
	if err := configs.Load(*enemyPath); err != nil {
		// Sessions still run; spawning stays off until a valid file appears.
		log.WithError(err).WithField("path", *enemyPath).Warn("enemy config not loaded")
	}

	var mirror *savedb.Mirror
	if *mirrorURL != "" {
		mirror, err = savedb.OpenMirror(savedb.MirrorConfig{
			Endpoint: *mirrorURL,
			Token:    env.MirrorToken,
			Log:      log.WithField("component", "mirror"),
		})
		if err != nil {
			log.WithError(err).Fatal("open mirror")
		}
		defer mirror.Close()
	}

	dbPath := filepath.Join(*dataDir, "saves.sqlite")
	store, err := savedb.Open(dbPath, savedb.Options{Log: log.WithField("component", "savedb"), Mirror: mirror})
	if err != nil {
		log.WithError(err).Fatal("open save store")
	}
	defer store.Close()
	if fi, err := os.Stat(dbPath); err == nil {
		log.WithField("size", humanize.Bytes(uint64(fi.Size()))).Info("save store opened")
	}

	wsCfg := ws.Config{
		Tuning:      tune,
		Configs:     configs,
		Store:       store,
		MaxSessions: *maxSessions,
		Log:         log.WithField("component", "ws"),
	}
	var archiver *r2s3.Archiver
	if *journal {
		wsCfg.JournalDir = filepath.Join(*dataDir, "journals")
		if env.ArchiveEnabled() {
			client, err := r2s3.New(env.R2Endpoint, env.R2Bucket, env.R2AccessKey, env.R2SecretKey)
			if err != nil {
				log.WithError(err).Fatal("r2 client")
			}
			archiver = r2s3.NewArchiver(client, env.R2Prefix, 2, 256, log.WithField("component", "archive"))
			defer archiver.Close()
			wsCfg.OnJournalClosed = archiver.EnqueueDir
		}
	}
	wsSrv := ws.NewServer(wsCfg)

	app := &app{
		ws:        wsSrv,
		store:     store,
		mirror:    mirror,
		archiver:  archiver,
		configs:   configs,
		enemyPath: *enemyPath,
		started:   time.Now(),
		log:       log,
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", *addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), env.ShutdownGrace)
		defer scancel()
		err := srv.Shutdown(sctx)
		// Hijacked websocket connections outlive srv.Shutdown; they must be
		// checkpointed and gone before the deferred store.Close.
		if werr := wsSrv.Shutdown(sctx); werr != nil {
			log.WithError(werr).Warn("websocket sessions still open at shutdown")
		}
		return err
	})
	if *reload > 0 {
		g.Go(func() error {
			watchConfig(gctx, configs, *enemyPath, *reload, log.WithField("component", "config"))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	log.Info("bye")
}
