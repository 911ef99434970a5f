package localchan

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"localchan/engine"
)

// pairRegistry tracks every live pair. Its lock is outermost: nothing
// blocks on a pair or an endpoint while holding it.
type pairRegistry struct {
	mu    sync.Mutex
	pairs []*pair
}

var registry pairRegistry

func (r *pairRegistry) add(p *pair) {
	r.mu.Lock()
	r.pairs = append([]*pair{p}, r.pairs...)
	r.mu.Unlock()
}

func (r *pairRegistry) remove(p *pair) {
	r.mu.Lock()
	for i, q := range r.pairs {
		if q == p {
			r.pairs = append(r.pairs[:i], r.pairs[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

func (r *pairRegistry) contains(p *pair) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.pairs {
		if q == p {
			return true
		}
	}
	return false
}

func (r *pairRegistry) snapshot() []*pair {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*pair(nil), r.pairs...)
}

// deviceState answers presence queries for Local/exten@context targets:
// invalid when the extension does not resolve, in use while any pair
// for it still has an owner side, not in use otherwise.
func deviceState(target string) engine.DeviceState {
	exten, context, found := strings.Cut(target, "@")
	if !found {
		localLog.Warnf("device state query for Local/%s without an @context cannot resolve", target)
		return engine.DeviceInvalid
	}
	if i := strings.IndexByte(context, '/'); i >= 0 {
		context = context[:i]
	}

	localLog.Debugf("checking if extension %s@%s exists for a device state query", exten, context)
	if !engine.ExistsExtension(context, exten, 1, "") {
		return engine.DeviceInvalid
	}

	for _, p := range registry.snapshot() {
		p.mu.Lock()
		inUse := p.exten == exten && p.context == context && p.owner != nil
		p.mu.Unlock()
		if inUse {
			return engine.DeviceInUse
		}
	}
	return engine.DeviceNotInUse
}

// showChannels lists every pair as "owner -- exten@context", one per
// line.
func showChannels(args map[string]string) (string, error) {
	pairs := registry.snapshot()
	if len(pairs) == 0 {
		return "No local channels in use\n", nil
	}
	var b strings.Builder
	for _, p := range pairs {
		p.mu.Lock()
		owner := p.owner
		exten, context := p.exten, p.context
		p.mu.Unlock()

		name := "<unowned>"
		if owner != nil {
			name = owner.Name()
		}
		fmt.Fprintf(&b, "%s -- %s@%s\n", name, exten, context)
	}
	return b.String(), nil
}

// optimizeAway lifts the no-optimization option from the pair behind
// the named channel, so the next media frame may collapse it.
func optimizeAway(args map[string]string) (string, error) {
	name := args["Channel"]
	if name == "" {
		return "", errors.New("'Channel' not specified.")
	}
	c := engine.ChannelByName(name)
	if c == nil {
		return "", errors.New("Channel does not exist.")
	}
	p, ok := c.TechPvt().(*pair)
	if !ok || !registry.contains(p) {
		return "", errors.New("Unable to find channel")
	}
	p.mu.Lock()
	p.noOptimization = false
	p.mu.Unlock()
	return "Queued channel to be optimized away", nil
}
