package localchan

import (
	"localchan/engine"
)

// checkBridge collapses the pair out of the media path once the
// outbound side is bridged: the bridge partner is masqueraded into the
// owner side, after which the pair only exists to unwind its routing
// leg. Media keeps flowing through the relay until every lock needed
// for the swap could be taken, so a failed attempt here just means the
// next frame tries again.
//
// Called with p.mu and the outbound side's lock held; ast is the
// outbound side. Both locks are dropped across the masquerade and held
// again on return.
func (p *pair) checkBridge(ast *engine.Channel) {
	if p.alreadyOptimized || p.noOptimization || p.owner == nil || p.outbound == nil {
		return
	}

	// One step only, not the transitive far end of the bridge.
	partner := ast.BridgeLocked()
	if partner == nil {
		return
	}
	if !partner.TryLock() {
		return
	}
	if partner.CheckHangupLocked() {
		partner.Unlock()
		return
	}
	owner := p.owner
	if !owner.TryLock() {
		partner.Unlock()
		return
	}
	// Frames still queued on the owner would be inherited by the
	// partner mid-call; let them drain first.
	if owner.CheckHangupLocked() || owner.QueuedFramesLocked() > 0 {
		owner.Unlock()
		partner.Unlock()
		return
	}

	// The masquerade swaps monitors, so pre-swapping here leaves the
	// owner's monitor on the object that survives.
	if owner.Monitor != nil && partner.Monitor == nil {
		owner.Monitor, partner.Monitor = partner.Monitor, owner.Monitor
	}
	// Media taps attached to the outbound side must carry over to the
	// surviving owner object.
	if ast.AudioHooks != nil {
		ast.AudioHooks, owner.AudioHooks = owner.AudioHooks, ast.AudioHooks
	}
	// Identity the routing leg set on the owner was set on the pair's
	// own thread and would otherwise be buried with the dying object.
	if owner.Caller.Populated() {
		owner.Caller, partner.Caller = partner.Caller, owner.Caller
	}
	if owner.Redirecting.Populated() {
		owner.Redirecting, partner.Redirecting = partner.Redirecting, owner.Redirecting
	}
	if owner.Dialed.Populated() {
		owner.Dialed, partner.Dialed = partner.Dialed, owner.Dialed
	}

	engine.UpdateGroups(ast, owner)
	p.alreadyOptimized = true
	localLog.Debugf("optimizing away %s, masquerading %s into %s",
		ast.NameLocked(), partner.NameLocked(), owner.NameLocked())

	// The disconnect inside the masquerade relays a hangup to the
	// outbound side, so its lock cannot stay held across it.
	p.mu.Unlock()
	ast.Unlock()

	engine.MasqueradeLocked(owner, partner)

	owner.Unlock()
	partner.Unlock()
	ast.Lock()
	p.mu.Lock()
}
