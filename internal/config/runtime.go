package config

import "sync/atomic"

// Runtime holds the live settings snapshot. The run loop reads it every tick
// while the settings watcher swaps it on file changes, so reads must never block.
type Runtime struct {
	current atomic.Pointer[Settings]
}

// NewRuntime seeds the holder with the initial settings.
func NewRuntime(initial Settings) *Runtime {
	r := &Runtime{}
	r.current.Store(&initial)
	return r
}

// Snapshot returns the current settings by value.
func (r *Runtime) Snapshot() Settings {
	return *r.current.Load()
}

// Update replaces the live settings.
func (r *Runtime) Update(next Settings) {
	r.current.Store(&next)
}

// NotificationsGranted reports whether the notification surface may be touched.
// It doubles as the runner's capability gate.
func (r *Runtime) NotificationsGranted() bool {
	return r.current.Load().NotificationsEnabled
}

// NotifyTitle returns the live notification title.
func (r *Runtime) NotifyTitle() string {
	return r.current.Load().NotifyTitle
}
