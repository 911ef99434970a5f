package localchan

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"localchan/engine"
)

const (
	techType       = "Local"
	defaultContext = "default"

	// After this many failed peer-lock attempts a relay keeps trying
	// but says so in the log.
	contentionWarnAfter = 100000
)

var (
	// ErrPairGone means a relay lost the race against a full teardown:
	// the pair has been destroyed and the caller must not touch it.
	ErrPairGone = errors.New("local pair torn down during relay")

	// ErrNoSuchExtension is returned by Call when the destination does
	// not resolve in the dialplan.
	ErrNoSuchExtension = errors.New("no such extension")

	// ErrFixupMismatch is returned when a fixup names a channel that
	// is not a member of the pair.
	ErrFixupMismatch = errors.New("channel is not a member of the pair")

	errNoPair = errors.New("local channel has no pair attached")
)

type pairLife int

const (
	lifeActive pairLife = iota
	// lifeCancelPending: a teardown found both sides gone while a
	// relay was in flight; the relay owns destruction now.
	lifeCancelPending
	lifeDestroyed
)

// pair is the shared descriptor behind one Local/... channel pair. The
// owner side is driven by whoever requested the channel, the outbound
// side is where routing logic runs.
//
// Lock order: an endpoint lock may be held while taking p.mu, never
// the other way around except by try-lock with backoff. The registry
// lock is outermost and is never held across a peer-lock acquisition.
type pair struct {
	mu sync.Mutex

	exten   string
	context string
	format  engine.Format
	jbConf  engine.JitterBufConfig

	owner    *engine.Channel
	outbound *engine.Channel

	life             pairLife
	glareDetect      bool
	alreadyOptimized bool
	pbxLaunched      bool
	noOptimization   bool
	reportBridged    bool
	mohPassthrough   bool
}

// destroyHook, when set, observes every pair destruction. Test seam.
var destroyHook func(*pair)

func (p *pair) destroy() {
	p.mu.Lock()
	p.life = lifeDestroyed
	p.mu.Unlock()
	if destroyHook != nil {
		destroyHook(p)
	}
}

// newPair parses dest of the form "exten[@context][/options]" and
// registers the descriptor. Options: n disables optimization, j (with
// n) enables the jitter buffer on the owner side, b reports the other
// side's bridge partner, m passes hold indications through instead of
// starting hold music locally.
func newPair(dest string, format engine.Format) *pair {
	p := &pair{
		context: defaultContext,
		format:  format,
		jbConf:  defaultJitterBuf(),
	}

	rest := dest
	var opts string
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		opts = rest[i+1:]
		rest = rest[:i]
	}
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		p.context = rest[i+1:]
		rest = rest[:i]
	}
	p.exten = rest

	if strings.ContainsRune(opts, 'n') {
		p.noOptimization = true
	}
	if strings.ContainsRune(opts, 'j') {
		if p.noOptimization {
			p.jbConf.Enabled = true
		} else {
			localLog.Errorf("'%s': the 'j' option requires the 'n' option, ignoring it", dest)
		}
	}
	if strings.ContainsRune(opts, 'b') {
		p.reportBridged = true
	}
	if strings.ContainsRune(opts, 'm') {
		p.mohPassthrough = true
	}

	registry.add(p)
	return p
}

// newChannels builds the endpoint pair and returns the owner side.
func (p *pair) newChannels(state engine.State, linkedID string) *engine.Channel {
	base := fmt.Sprintf("Local/%s@%s-%04x", p.exten, p.context, rand.IntN(0x10000))

	owner := engine.NewChannel(state, p.exten, p.context, linkedID, base+";1")
	outbound := engine.NewChannel(engine.StateRing, p.exten, p.context, linkedID, base+";2")

	owner.Lock()
	owner.AttachTechLocked(tech, p)
	owner.SetFormatsLocked(p.format)
	owner.ConfigureJitterBufLocked(p.jbConf)
	owner.Unlock()

	outbound.Lock()
	outbound.AttachTechLocked(tech, p)
	outbound.SetFormatsLocked(p.format)
	outbound.Unlock()

	p.mu.Lock()
	p.owner = owner
	p.outbound = outbound
	p.mu.Unlock()

	if handle != nil {
		handle.AddUser()
		handle.AddUser()
	}
	return owner
}

// lockSide acquires the lock of whichever endpoint resolve returns,
// re-running resolve after every backoff so a side that vanished
// mid-retry is noticed. On contention it releases p.mu and cycles
// either us (when usLocked) or just the descriptor before retrying.
// Enter and leave with p.mu held; the returned channel, when non-nil,
// is locked.
func (p *pair) lockSide(resolve func() *engine.Channel, us *engine.Channel, usLocked bool) *engine.Channel {
	attempts := 0
	target := resolve()
	for target != nil && !target.TryLock() {
		attempts++
		if attempts == contentionWarnAfter {
			localLog.Warnf("Local/%s@%s still contending for a peer lock after %d attempts",
				p.exten, p.context, attempts)
		}
		p.mu.Unlock()
		if us != nil && usLocked {
			for {
				us.YieldLock()
				if p.mu.TryLock() {
					break
				}
			}
		} else {
			time.Sleep(time.Microsecond)
			p.mu.Lock()
		}
		target = resolve()
	}
	return target
}

// queueFrame delivers a copy of f to the endpoint opposite us.
//
// Call with p.mu held. On success it returns nil with p.mu still held.
// When the relay loses a race against a full teardown it destroys the
// pair, releases p.mu and returns ErrPairGone; the caller must not
// touch p afterwards. us, when usLocked, is the locked channel the
// operation arrived on; its lock is yielded during backoff and held
// again on return.
func (p *pair) queueFrame(isOutbound bool, f engine.Frame, us *engine.Channel, usLocked bool) error {
	return p.queueFrameFunc(isOutbound, f, us, usLocked, nil)
}

// queueFrameFunc is queueFrame with a hook that runs against the
// locked peer just before the frame lands.
func (p *pair) queueFrameFunc(isOutbound bool, f engine.Frame, us *engine.Channel, usLocked bool, pre func(other *engine.Channel)) error {
	resolve := func() *engine.Channel {
		if isOutbound {
			return p.owner
		}
		return p.outbound
	}

	if resolve() == nil {
		return nil
	}
	// With generators running on both ends nobody is listening for
	// these frames.
	if us != nil && us.GeneratorActive() {
		if other := resolve(); other != nil && other.GeneratorActive() {
			return nil
		}
	}

	p.glareDetect = true
	other := p.lockSide(resolve, us, usLocked)

	if p.life == lifeCancelPending {
		p.mu.Unlock()
		p.destroy()
		if other != nil {
			other.Unlock()
		}
		return ErrPairGone
	}

	if other != nil {
		if f.Kind == engine.FrameControl && f.Condition == engine.CondRinging {
			other.SetStateLocked(engine.StateRinging)
		}
		if pre != nil {
			pre(other)
		}
		other.QueueFrameLocked(f)
		other.Unlock()
	}
	p.glareDetect = false
	return nil
}

// localTech implements engine.Tech for Local proxy channel pairs.
type localTech struct{}

var tech = &localTech{}

func (*localTech) TypeName() string    { return techType }
func (*localTech) Description() string { return "Local proxy channel driver" }

func (*localTech) Requester(format engine.Format, requestor *engine.Channel, dest string) (*engine.Channel, error) {
	p := newPair(dest, format)
	linkedID := ""
	if requestor != nil {
		linkedID = requestor.LinkedID()
	}
	return p.newChannels(engine.StateDown, linkedID), nil
}

func (*localTech) Answer(ast *engine.Channel) error {
	p, ok := ast.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	if ast != p.outbound {
		localLog.Warnf("%s asked to answer on the owner side", ast.NameLocked())
		p.mu.Unlock()
		return fmt.Errorf("unexpected answer on the owner side of %s", ast.NameLocked())
	}
	f := engine.Frame{Kind: engine.FrameControl, Condition: engine.CondAnswer}
	if err := p.queueFrame(true, f, ast, true); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

func (*localTech) Read(ast *engine.Channel) engine.Frame {
	return engine.Frame{Kind: engine.FrameNull}
}

func (*localTech) Write(ast *engine.Channel, f engine.Frame) error {
	p, ok := ast.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	isOutbound := ast == p.outbound

	// Media flowing on the outbound side is the cue to try collapsing
	// the pair out of the path.
	if isOutbound && (f.Kind == engine.FrameVoice || f.Kind == engine.FrameVideo) {
		p.checkBridge(ast)
	}
	if p.alreadyOptimized {
		localLog.Debugf("not relaying through %s, the pair is already optimized away", ast.NameLocked())
		p.mu.Unlock()
		return nil
	}
	if err := p.queueFrame(isOutbound, f, ast, true); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

func (*localTech) Indicate(ast *engine.Channel, cond engine.Condition, payload []byte) error {
	p, ok := ast.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	isOutbound := ast == p.outbound

	switch {
	case cond == engine.CondHold && !p.mohPassthrough:
		p.mu.Unlock()
		engine.MusicOnHoldStart(ast, string(payload))
		return nil

	case cond == engine.CondUnhold && !p.mohPassthrough:
		p.mu.Unlock()
		engine.MusicOnHoldStop(ast)
		return nil

	case cond == engine.CondConnectedLine || cond == engine.CondRedirecting:
		f := engine.Frame{Kind: engine.FrameControl, Condition: cond}
		var pre func(*engine.Channel)
		if cond == engine.CondConnectedLine {
			connected := ast.Connected
			f.Payload = engine.MarshalConnected(connected)
			if isOutbound {
				// The outbound side's far end becomes the owner
				// side's caller before the update lands there.
				pre = func(other *engine.Channel) {
					other.Caller = engine.CallerFromConnected(connected)
				}
			}
		} else {
			f.Payload = engine.MarshalRedirecting(ast.Redirecting)
		}
		if err := p.queueFrameFunc(isOutbound, f, ast, true, pre); err != nil {
			return err
		}
		p.mu.Unlock()
		return nil

	default:
		f := engine.Frame{Kind: engine.FrameControl, Condition: cond, Payload: payload}
		if err := p.queueFrame(isOutbound, f, ast, true); err != nil {
			return err
		}
		p.mu.Unlock()
		return nil
	}
}

func (*localTech) SendDigitBegin(ast *engine.Channel, digit byte) error {
	p, ok := ast.TechPvt().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	f := engine.Frame{Kind: engine.FrameDTMFBegin, Digit: digit}
	if err := p.queueFrame(ast == p.outbound, f, ast, false); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

func (*localTech) SendDigitEnd(ast *engine.Channel, digit byte, duration time.Duration) error {
	p, ok := ast.TechPvt().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	f := engine.Frame{Kind: engine.FrameDTMFEnd, Digit: digit, Duration: duration}
	if err := p.queueFrame(ast == p.outbound, f, ast, false); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

func (*localTech) SendText(ast *engine.Channel, text string) error {
	p, ok := ast.TechPvt().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	f := engine.Frame{Kind: engine.FrameText, Payload: []byte(text)}
	if err := p.queueFrame(ast == p.outbound, f, ast, false); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

func (*localTech) SendHTML(ast *engine.Channel, subclass int, data []byte) error {
	p, ok := ast.TechPvt().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	f := engine.Frame{Kind: engine.FrameHTML, Subclass: subclass, Payload: data}
	if err := p.queueFrame(ast == p.outbound, f, ast, false); err != nil {
		return err
	}
	p.mu.Unlock()
	return nil
}

// Call starts the pair: call-time identity and bookkeeping flow from
// the owner side onto the outbound one, the destination is resolved,
// and routing logic is launched on the outbound side. Invoked with the
// owner's lock held.
func (*localTech) Call(ast *engine.Channel, dest string, timeout time.Duration) error {
	p, ok := ast.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	outbound := p.lockSide(func() *engine.Channel { return p.outbound }, ast, true)
	if outbound == nil {
		p.mu.Unlock()
		return fmt.Errorf("%s has no outbound side left to call", ast.NameLocked())
	}

	outbound.Redirecting = ast.Redirecting
	outbound.Dialed = ast.Dialed
	outbound.Caller = engine.CallerFromConnected(ast.Connected)
	outbound.Connected = engine.ConnectedFromCaller(ast.Caller)
	outbound.Language = ast.Language
	outbound.AccountCode = ast.AccountCode
	outbound.MusicClass = ast.MusicClass

	if !engine.ExistsExtension(p.context, p.exten, 1, ast.Caller.ID.Number) {
		localLog.Warnf("no such extension/context %s@%s while calling local channel", p.exten, p.context)
		p.mu.Unlock()
		outbound.Unlock()
		return fmt.Errorf("%w: %s@%s", ErrNoSuchExtension, p.exten, p.context)
	}

	if ast.AnsweredElsewhere() {
		outbound.SetAnsweredElsewhere()
	}

	// Variables must arrive on the outbound side in definition order.
	outbound.AppendVarsLocked(ast.VarsLocked())
	engine.InheritDatastoresLocked(ast, outbound)

	err := engine.StartPBX(outbound)
	if err == nil {
		p.pbxLaunched = true
	} else {
		localLog.Errorf("unable to start routing logic on %s: %v", outbound.NameLocked(), err)
	}
	p.mu.Unlock()
	outbound.Unlock()
	return err
}

// Hangup clears the side the call arrived on. When the other side is
// still up it either receives a hangup frame through the relay or, if
// no routing logic ever ran there, gets hung up directly. The last
// side out removes the pair from the registry and destroys it unless a
// relay still in flight must do so.
func (*localTech) Hangup(ast *engine.Channel) error {
	p, ok := ast.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	isOutbound := ast == p.outbound

	if p.outbound != nil && ast.AnsweredElsewhere() {
		p.outbound.SetAnsweredElsewhere()
		localLog.Debugf("%s had been answered elsewhere, the outbound side inherits that", ast.NameLocked())
	}

	cause := ast.HangupCauseLocked()

	if isOutbound {
		if status, found := ast.VarLocked("DIALSTATUS"); found && p.owner != nil {
			owner := p.lockSide(func() *engine.Channel { return p.owner }, ast, true)
			if owner != nil {
				owner.SetVarLocked("CHANLOCALSTATUS", status)
				owner.Unlock()
			}
		}
		p.outbound = nil
		p.pbxLaunched = false
	} else {
		p.owner = nil
	}
	if handle != nil {
		handle.RemoveUser()
	}
	ast.SetTechPvtLocked(nil)

	if p.owner == nil && p.outbound == nil {
		// Last one out. A relay that already passed its entry checks
		// holds a stale reference, so destruction is handed to it.
		glare := p.glareDetect
		if glare {
			p.life = lifeCancelPending
		}
		p.mu.Unlock()
		registry.remove(p)
		if !glare {
			p.destroy()
		}
		return nil
	}

	if p.outbound != nil && !p.pbxLaunched {
		// Routing logic never ran on the outbound side, nobody will
		// read a hangup frame there.
		ochan := p.outbound
		p.mu.Unlock()
		engine.Hangup(ochan)
		return nil
	}

	f := engine.Frame{Kind: engine.FrameControl, Condition: engine.CondHangup, Cause: cause}
	if err := p.queueFrame(isOutbound, f, nil, false); err != nil {
		// The relay destroyed the pair; nothing left to unlock.
		return nil
	}
	p.mu.Unlock()
	return nil
}

// Fixup substitutes newc for oldc in the pair after a masquerade moved
// the channel guts. Both channel locks are held by the caller.
func (*localTech) Fixup(oldc, newc *engine.Channel) error {
	p, ok := newc.TechPvtLocked().(*pair)
	if !ok {
		return errNoPair
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch oldc {
	case p.owner:
		p.owner = newc
	case p.outbound:
		p.outbound = newc
	default:
		localLog.Warnf("fixup: %s is not a member of pair %s@%s", oldc.NameLocked(), p.exten, p.context)
		return ErrFixupMismatch
	}
	return nil
}

// BridgedChannel reports which channel me stands for: the pair's
// opposite endpoint, or with the b option that endpoint's own bridge
// partner when it has one.
func (*localTech) BridgedChannel(who, me *engine.Channel) *engine.Channel {
	p, ok := me.TechPvt().(*pair)
	if !ok {
		localLog.Debugf("asked for the bridged channel of %s but no pair is attached", me.Name())
		return nil
	}
	p.mu.Lock()
	var opposite *engine.Channel
	if me == p.owner {
		opposite = p.outbound
	} else {
		opposite = p.owner
	}
	report := p.reportBridged
	p.mu.Unlock()

	if opposite == nil {
		return me
	}
	if report {
		if partner := opposite.Bridge(); partner != nil {
			return partner
		}
	}
	return opposite
}

// QueryOption forwards a capability probe to whatever channel the
// opposite endpoint is bridged to. Only the T.38 state probe is
// understood.
func (*localTech) QueryOption(ast *engine.Channel, opt engine.Option) (interface{}, error) {
	p, ok := ast.TechPvt().(*pair)
	if !ok {
		return nil, errNoPair
	}
	if opt != engine.OptionT38State {
		return nil, engine.ErrNotSupported
	}

	p.mu.Lock()
	resolve := func() *engine.Channel {
		if ast == p.outbound {
			return p.owner
		}
		return p.outbound
	}
	for {
		counterpart := p.lockSide(resolve, nil, false)
		if counterpart == nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("%s has no counterpart to query", ast.Name())
		}
		target := engine.BridgedChannelOfLocked(counterpart)
		if target == nil {
			p.mu.Unlock()
			counterpart.Unlock()
			return nil, fmt.Errorf("counterpart of %s is not bridged", ast.Name())
		}
		if target.TryLock() {
			p.mu.Unlock()
			counterpart.Unlock()
			t := target.TechLocked()
			target.Unlock()
			if t == nil {
				return nil, engine.ErrNoTech
			}
			return t.QueryOption(target, opt)
		}
		counterpart.Unlock()
		p.mu.Unlock()
		time.Sleep(time.Microsecond)
		p.mu.Lock()
	}
}
