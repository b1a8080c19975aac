package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"draconia.gg/internal/sim/encounter"
)

// watchConfig reloads path into holder on the first poll and whenever its
// modification time or size changes after that. A failed reload keeps the
// last good document; only a failed first load leaves spawning off.
func watchConfig(ctx context.Context, holder *encounter.ConfigHolder, path string, every time.Duration, log logrus.FieldLogger) {
	var lastMod time.Time
	var lastSize int64 = -1
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.ModTime().Equal(lastMod) && fi.Size() == lastSize {
			continue
		}
		lastMod, lastSize = fi.ModTime(), fi.Size()
		if err := holder.Load(path); err != nil {
			if holder.Loaded() {
				log.WithError(err).Warn("enemy config reload failed; keeping the previous config")
			} else {
				log.WithError(err).Warn("enemy config load failed; spawning disabled")
			}
			continue
		}
		log.Info("enemy config reloaded")
	}
}
