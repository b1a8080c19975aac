package engine

import (
	"time"

	"draconia.gg/internal/sim/combat"
)

// FastForward credits d of simulated time without running steps. The live
// encounter is dropped and no random draws are made: the dragon finishes any
// recovery, statuses expire, and travel continues at base speed up to the
// next uncleared boss.
func (e *Engine) FastForward(d time.Duration) {
	if d <= 0 {
		return
	}
	s := e.st
	s.ApproxTime += d
	s.Enemies = s.Enemies[:0]
	s.Projectiles = s.Projectiles[:0]
	s.PendingAbility = s.PendingAbility[:0]
	s.SpawnArmed = false
	s.SpawnTimer = 0
	if s.BossLand > s.BossCleared {
		s.BossLand = s.BossCleared
	}

	h := &s.Dragon.Health
	left := d
	if h.Phase == combat.Recovering {
		rem := h.RecoveryLeft
		h.UpdateRecovery(left)
		if rem >= left {
			return
		}
		left -= rem
	}
	if h.Phase == combat.Dead {
		return
	}
	h.Status = combat.TickStatuses(h.Status, left)
	travel := e.tun.Dragon.TravelSpeedMps * left.Seconds()
	s.Distance = e.holdForBoss(s.Distance, s.Distance+travel)
	e.relocate()
}
