package rtsched

import (
	"fmt"
	"time"
)

// Infinite is the Sleep timeout that never expires.
const Infinite time.Duration = -1

// armTimeout binds a one-shot timer to the wait record, for a finite timeout.
func (s *Scheduler) armTimeout(w *waitRecord, timeout time.Duration) error {
	if timeout < 0 {
		return nil
	}
	timer, err := s.timers.NewTimer(timeout, func() { s.expire(w) })
	if err != nil {
		s.stats.timerFailures.Add(1)
		s.logger.Warning().
			Str("thread", w.thread.String()).
			Dur("timeout", timeout).
			Err(err).
			Log("sleep rejected: no timer")
		return fmt.Errorf("rtsched: sleep timeout %s: %w", timeout, err)
	}
	w.timer = timer
	return nil
}

// expire is the timer callback, run in interrupt context. The timeout is
// always delivered through the deferred work queue, and only if no other
// wake claimed the record first.
func (s *Scheduler) expire(w *waitRecord) {
	if !w.claim(ErrTimedOut) {
		return
	}
	s.deferWake(deferredWake{wait: w})
}

func (s *Scheduler) closeTimer(w *waitRecord) {
	if w == nil || w.timer == nil {
		return
	}
	w.timer.Close()
	w.timer = nil
}
