// Package autosave provides the restartable one-shot debounce scheduler
// behind the autosave and broadcast policies: a timer that fires once after
// a quiet period, re-armed by every new edit signal.
package autosave

import (
	"sync"
	"time"
)

// DefaultSaveInterval is the quiet period before an autosave commit.
const DefaultSaveInterval = 2 * time.Second

// DefaultBroadcastInterval is the quiet period before an advisory channel
// broadcast. Deliberately shorter than the save interval: broadcast is a
// latency optimization, save is the authoritative path.
const DefaultBroadcastInterval = 600 * time.Millisecond

// Scheduler is a restartable one-shot timer. Reset cancels any pending
// fire and, while enabled, arms a new one; Disable cancels immediately and
// suspends arming until re-enabled. The fire callback runs on the timer's
// goroutine, so callers that need loop ordering should enqueue from it.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
	enabled  bool
	fire     func()
}

// New creates an enabled Scheduler with the given quiet interval and fire
// callback.
func New(interval time.Duration, fire func()) *Scheduler {
	return &Scheduler{
		interval: interval,
		enabled:  true,
		fire:     fire,
	}
}

// Reset cancels any pending fire and arms a new one if the scheduler is
// enabled. This is the "a local edit occurred" signal.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if !s.enabled {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		if s.timer == t {
			s.timer = nil
		}
		s.mu.Unlock()
		s.fire()
	})
	s.timer = t
}

// Cancel stops any pending fire without changing the enabled state.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// SetEnabled toggles the scheduler. Disabling cancels any armed timer
// immediately; enabling does not arm one until the next Reset.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = enabled
	if !enabled {
		s.stopLocked()
	}
}

// Enabled reports whether the scheduler arms timers on Reset.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Armed reports whether a fire is currently pending.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
