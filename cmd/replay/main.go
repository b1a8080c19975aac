package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"draconia.gg/internal/logging"
	plog "draconia.gg/internal/persistence/log"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/replay"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/tuning"
)

func main() {
	var (
		journalDir = flag.String("journal", "", "session journal directory (data/journals/<session>)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		enemyPath  = flag.String("enemies", "./configs/enemy_config.json", "enemy config the session ran with (empty = none)")
		toStep     = flag.Uint64("to_step", 0, "stop verifying after this step (optional)")
		logLevel   = flag.String("log_level", "warn", "log level")
	)
	flag.Parse()

	if *journalDir == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	var cfg *encounter.Config
	if *enemyPath != "" {
		raw, err := os.ReadFile(*enemyPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read enemy config:", err)
			os.Exit(1)
		}
		cfg, err = encounter.Parse(raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, "enemy config:", err)
			os.Exit(1)
		}
	}

	files, err := plog.ListFiles(*journalDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list journal:", err)
		os.Exit(1)
	}
	fmt.Printf("journal %s: %d file(s)\n", filepath.Base(*journalDir), len(files))

	log := logging.New(*logLevel, "text")
	res, err := replay.Dir(context.Background(), *journalDir, replay.Options{
		Tuning: tune,
		Config: cfg,
		Log:    log.WithField("component", "replay"),
		ToStep: *toStep,
	})
	if err != nil {
		if simerr.Is(err, simerr.KindDeterminism) {
			fmt.Fprintln(os.Stderr, "DIVERGED:", err)
			os.Exit(3)
		}
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	status := "ok"
	if res.Halted {
		status = "ok (session ended in fatal)"
	}
	fmt.Printf("replay %s: checked=%d checkpoints inputs=%d final_step=%d\n", status, res.Checked, res.Inputs, res.FinalStep)
}
