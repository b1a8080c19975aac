// Package replay re-runs a journaled session and checks every recorded
// checkpoint against a fresh run.
package replay

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	plog "draconia.gg/internal/persistence/log"
	"draconia.gg/internal/persistence/snapshot"
	"draconia.gg/internal/protocol"
	"draconia.gg/internal/sim/encounter"
	"draconia.gg/internal/sim/runner"
	"draconia.gg/internal/sim/simerr"
	"draconia.gg/internal/sim/tuning"
)

type Result struct {
	Checked   int
	Inputs    int
	FinalStep uint64
	// Halted is set when the recorded session ended in a fatal, which the
	// replay reproduced.
	Halted bool
}

type Options struct {
	Tuning tuning.Tuning
	// Config must be the enemy config the session ran with.
	Config *encounter.Config
	Log    *logrus.Entry
	// ToStep stops verification after this step when non-zero.
	ToStep uint64
}

// fixedStore serves the journal's boot snapshot to the runner.
type fixedStore struct {
	profile string
	snap    snapshot.Snapshot
}

func (s fixedStore) LoadState(_ context.Context, profile string) (snapshot.Snapshot, error) {
	if profile != s.profile {
		return snapshot.Snapshot{}, simerr.ErrNotFound
	}
	return s.snap, nil
}

func (fixedStore) SaveState(string, snapshot.Snapshot) error { return nil }

// Dir replays the journal stored under dir.
func Dir(ctx context.Context, dir string, opts Options) (Result, error) {
	entries, err := plog.ReadDir(dir)
	if err != nil {
		return Result{}, err
	}
	return Entries(ctx, dir, entries, opts)
}

// Entries replays entries from their first boot up to the next boot. A
// checkpoint that does not match is a determinism error naming the step.
func Entries(ctx context.Context, dir string, entries []plog.Entry, opts Options) (Result, error) {
	const op = "replay"
	var res Result
	start := -1
	for i, e := range entries {
		if e.Kind == plog.KindBoot {
			start = i
			break
		}
	}
	if start < 0 {
		return res, fmt.Errorf("%s: journal has no boot entry", op)
	}
	boot := entries[start]

	ropts := runner.Options{Tuning: opts.Tuning, Config: opts.Config, Log: opts.Log}
	if boot.Snapshot != "" {
		_, snap, err := snapshot.ReadFile(filepath.Join(dir, boot.Snapshot))
		if err != nil {
			return res, err
		}
		if snap.Checksum != boot.Checksum || snap.Step != boot.Step {
			return res, simerr.Integrityf(op, "boot snapshot %s is not the one journaled", boot.Snapshot)
		}
		ropts.Store = fixedStore{profile: boot.Profile, snap: snap}
	}

	var fatal string
	r := runner.New(ropts, func(m protocol.SimMsg) {
		if f, ok := m.(protocol.FatalMsg); ok {
			fatal = f.Reason
		}
	})
	seen := map[uint64]string{}
	r.Subscribe(func(s snapshot.Snapshot) { seen[s.Step] = s.Checksum })

	bm := protocol.BootMsg{T: protocol.TypeBoot, Version: opts.Tuning.ProtocolVersion, Seed: boot.Seed, Profile: boot.Profile}
	if err := r.Handle(ctx, bm); err != nil {
		return res, fmt.Errorf("%s: boot: %w", op, err)
	}

	for _, e := range entries[start+1:] {
		if e.Kind == plog.KindBoot {
			break
		}
		if opts.ToStep != 0 && e.Step > opts.ToStep {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cur := r.Engine().State().Step
		if e.Step > cur {
			if err := r.StepN(int(e.Step - cur)); err != nil {
				return res, fmt.Errorf("%s: stepping to %d: %w (%s)", op, e.Step, err, fatal)
			}
		}
		switch e.Kind {
		case plog.KindInput:
			msg, err := protocol.DecodeHost(e.Msg)
			if err != nil {
				return res, fmt.Errorf("%s: input at step %d: %w", op, e.Step, err)
			}
			res.Inputs++
			if err := r.Handle(ctx, msg); err != nil && r.Phase() == runner.Halted {
				res.Halted = true
				res.FinalStep = r.Engine().State().Step
				return res, nil
			}
		case plog.KindCheckpoint:
			got, ok := seen[e.Step]
			if !ok && e.Step == r.Engine().State().Step {
				snap, err := r.Engine().Digest()
				if err != nil {
					return res, err
				}
				got, ok = snap.Checksum, true
			}
			if !ok {
				return res, fmt.Errorf("%s: no checkpoint at step %d to compare", op, e.Step)
			}
			if got != e.Checksum {
				return res, simerr.Determinismf(op, "checksum mismatch at step %d: replay %s, journal %s", e.Step, got, e.Checksum)
			}
			res.Checked++
		}
	}
	res.FinalStep = r.Engine().State().Step
	return res, nil
}
