package session

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// timerSlot holds at most one outstanding single-shot timer.
// gen is bumped on every schedule and cancel so a callback that was already
// in flight when its timer got replaced can tell it is stale.
type timerSlot struct {
	name  string
	timer clockwork.Timer
	gen   uint64
}

// schedule replaces any timer in slot with a new one firing fire on the session loop
func (s *Session) schedule(slot *timerSlot, d time.Duration, fire func()) {
	s.cancel(slot)
	gen := slot.gen

	slot.timer = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if slot.gen != gen {
				log.Debug().
					Str("session_id", s.id).
					Str("timer", slot.name).
					Msg("dropping stale timer")
				return
			}
			slot.timer = nil
			slot.gen++
			fire()
		})
	})

	log.Debug().
		Str("session_id", s.id).
		Str("timer", slot.name).
		Dur("duration", d).
		Msg("scheduled timer")
}

// cancel stops the timer in slot, if any, and invalidates callbacks already queued
func (s *Session) cancel(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
		log.Debug().Str("session_id", s.id).Str("timer", slot.name).Msg("cancelled timer")
	}
	slot.gen++
}

func (slot *timerSlot) armed() bool {
	return slot.timer != nil
}
