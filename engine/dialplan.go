package engine

import (
	"errors"
	"sync"
)

// DialPlan resolves whether routing logic exists for a destination.
type DialPlan interface {
	// ExistsExtension reports whether exten can be dispatched in
	// context at the given priority. callerID may narrow the match and
	// may be empty.
	ExistsExtension(context, exten string, priority int, callerID string) bool
}

// PBX launches routing logic on a channel. Start is called with the
// channel lock held and must only schedule the logic: the launched
// goroutine acquires channel locks itself.
type PBX interface {
	Start(c *Channel) error
}

var (
	dialPlanMu sync.Mutex
	dialPlan   DialPlan
	pbx        PBX
)

// ErrNoPBX means routing logic was requested but no launcher is
// installed.
var ErrNoPBX = errors.New("no pbx launcher installed")

// SetDialPlan installs the process-wide dialplan. Passing nil removes
// it, after which no extension resolves.
func SetDialPlan(dp DialPlan) {
	dialPlanMu.Lock()
	dialPlan = dp
	dialPlanMu.Unlock()
}

// ExistsExtension consults the installed dialplan.
func ExistsExtension(context, exten string, priority int, callerID string) bool {
	dialPlanMu.Lock()
	dp := dialPlan
	dialPlanMu.Unlock()
	if dp == nil {
		return false
	}
	return dp.ExistsExtension(context, exten, priority, callerID)
}

// SetPBX installs the process-wide routing logic launcher.
func SetPBX(p PBX) {
	dialPlanMu.Lock()
	pbx = p
	dialPlanMu.Unlock()
}

// StartPBX launches routing logic on c through the installed launcher.
// Called with c's lock held, like PBX.Start.
func StartPBX(c *Channel) error {
	dialPlanMu.Lock()
	p := pbx
	dialPlanMu.Unlock()
	if p == nil {
		return ErrNoPBX
	}
	return p.Start(c)
}

// MapDialPlan is a static context to extension-set table, enough for
// driving calls in tests and small deployments.
type MapDialPlan struct {
	mu       sync.Mutex
	contexts map[string]map[string]bool
}

func NewMapDialPlan() *MapDialPlan {
	return &MapDialPlan{contexts: make(map[string]map[string]bool)}
}

// Add registers exten in context.
func (d *MapDialPlan) Add(context, exten string) {
	d.mu.Lock()
	ctx := d.contexts[context]
	if ctx == nil {
		ctx = make(map[string]bool)
		d.contexts[context] = ctx
	}
	ctx[exten] = true
	d.mu.Unlock()
}

// Remove forgets exten in context.
func (d *MapDialPlan) Remove(context, exten string) {
	d.mu.Lock()
	if ctx := d.contexts[context]; ctx != nil {
		delete(ctx, exten)
	}
	d.mu.Unlock()
}

// ExistsExtension matches on context and extension; entries only exist
// at priority 1.
func (d *MapDialPlan) ExistsExtension(context, exten string, priority int, callerID string) bool {
	if priority != 1 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx := d.contexts[context]
	return ctx != nil && ctx[exten]
}
