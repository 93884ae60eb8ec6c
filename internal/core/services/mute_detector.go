package services

import "sync"

// MuteDetector turns a polled boolean into edge events. The first
// observation establishes the baseline without reporting a change.
type MuteDetector struct {
	mu     sync.Mutex
	primed bool
	muted  bool
}

func NewMuteDetector() *MuteDetector {
	return &MuteDetector{}
}

// Observe records the current mute state and reports whether it changed
// since the previous observation.
func (d *MuteDetector) Observe(muted bool) (changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.primed {
		d.primed = true
		d.muted = muted
		return false
	}
	if muted == d.muted {
		return false
	}
	d.muted = muted
	return true
}

// Muted returns the last observed state.
func (d *MuteDetector) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// Reset clears the baseline so the next Observe primes again.
func (d *MuteDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.primed = false
	d.muted = false
}
