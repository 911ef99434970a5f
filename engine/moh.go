package engine

import "sync"

// Music-on-hold hooks. The engine core never generates audio itself;
// a generator module installs these and the core invokes them when a
// channel is put on or taken off hold.

var (
	mohMu    sync.Mutex
	mohStart func(c *Channel, class string)
	mohStop  func(c *Channel)
)

// SetMusicOnHoldHooks installs the hold-music callbacks. Either may be
// nil. The callbacks run with the channel lock held.
func SetMusicOnHoldHooks(start func(c *Channel, class string), stop func(c *Channel)) {
	mohMu.Lock()
	mohStart = start
	mohStop = stop
	mohMu.Unlock()
}

// MusicOnHoldStart begins hold music on c, using class when non-empty
// and the channel's own music class otherwise. Called with c's lock
// held.
func MusicOnHoldStart(c *Channel, class string) {
	mohMu.Lock()
	start := mohStart
	mohMu.Unlock()
	if class == "" {
		class = c.MusicClass
	}
	if start != nil {
		start(c, class)
	}
}

// MusicOnHoldStop ends hold music on c. Called with c's lock held.
func MusicOnHoldStop(c *Channel) {
	mohMu.Lock()
	stop := mohStop
	mohMu.Unlock()
	if stop != nil {
		stop(c)
	}
}
