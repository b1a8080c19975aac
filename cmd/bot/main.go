// Command bot drives one session over the websocket endpoint: boot, an
// optional offline catch-up, then foreground play with periodic abilities.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"draconia.gg/internal/logging"
	"draconia.gg/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://127.0.0.1:8090/v1/ws", "ws url")
		seed     = flag.Uint64("seed", 1, "run seed")
		profile  = flag.String("profile", "", "profile to resume/save (empty = ephemeral)")
		offline  = flag.Duration("offline", 0, "offline time to report after boot")
		ability  = flag.String("ability", "breath", "ability to use (breath|roar, empty = none)")
		every    = flag.Duration("ability_every", 5*time.Second, "ability interval")
		bgAfter  = flag.Duration("bg_after", 0, "switch to background after this long (0 = never)")
		duration = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
		logLevel = flag.String("log_level", "info", "log level")
	)
	flag.Parse()

	log := logging.New(*logLevel, "text").WithField("component", "bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		log.WithError(err).Fatal("dial")
	}
	defer conn.Close()

	send := func(m protocol.HostMsg) {
		b, err := protocol.EncodeHost(m)
		if err != nil {
			log.WithError(err).Fatal("encode")
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.WithError(err).WithField("t", m.Kind()).Fatal("send")
		}
	}

	send(protocol.BootMsg{Version: protocol.Version, Seed: *seed, Profile: *profile})

	frames := make(chan protocol.SimMsg, 64)
	go func() {
		defer close(frames)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			m, err := protocol.DecodeSim(raw)
			if err != nil {
				log.WithError(err).Warn("bad frame")
				continue
			}
			frames <- m
		}
	}()

	var abilityC, bgC <-chan time.Time
	started := false
	ticks := 0
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			send(protocol.StopMsg{})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(time.Second))
			return

		case <-abilityC:
			send(protocol.AbilityMsg{ID: *ability})

		case <-bgC:
			bgC = nil
			send(protocol.SetModeMsg{Mode: protocol.ModeBackground})
			log.Info("switched to background")

		case m, ok := <-frames:
			if !ok {
				log.Info("connection closed")
				return
			}
			switch m := m.(type) {
			case protocol.ReadyMsg:
				log.WithFields(logrus.Fields{"resumed": m.Resumed, "step": m.Step}).Info("ready")
				if started {
					continue
				}
				started = true
				// Offline catch-up ends in foreground play on its own.
				if *offline > 0 {
					send(protocol.OfflineMsg{ElapsedMs: float64(offline.Milliseconds())})
				} else {
					send(protocol.StartMsg{Mode: protocol.ModeForeground})
				}
				if *ability != "" && *every > 0 {
					t := time.NewTicker(*every)
					defer t.Stop()
					abilityC = t.C
				}
				if *bgAfter > 0 {
					bgC = time.After(*bgAfter)
				}

			case protocol.TickMsg:
				ticks++
				if time.Since(last) >= 2*time.Second {
					last = time.Now()
					log.WithFields(logrus.Fields{
						"ticks":    ticks,
						"mode":     m.Mode,
						"land":     m.Stats.Land,
						"ward":     m.Stats.Ward,
						"distance": m.Stats.Distance,
						"hp_pct":   m.Stats.HPPct,
						"gold":     m.Stats.Gold,
						"kills":    m.Stats.Kills,
						"enemies":  m.Stats.Enemies,
						"step":     m.Step,
					}).Info("tick")
				}

			case protocol.BgCoveredMsg:
				log.WithFields(logrus.Fields{
					"covered_ms":      m.CoveredMs,
					"requested_ms":    m.RequestedMs,
					"approximated_ms": m.ApproximatedMs,
					"partial":         m.Partial,
				}).Info("catch-up")

			case protocol.LogMsg:
				log.WithField("level", m.Level).Info(m.Msg)

			case protocol.IntegrityErrorMsg:
				log.WithField("reason", m.Reason).Warn("integrity error")

			case protocol.FatalMsg:
				log.WithField("reason", m.Reason).Error("fatal")
				return
			}
		}
	}
}
