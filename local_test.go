package localchan

import (
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"localchan/engine"
)

// testPBX records the channels handed to it instead of running any
// routing logic.
type testPBX struct {
	started atomic.Int32
	last    atomic.Value
}

func (p *testPBX) Start(c *engine.Channel) error {
	p.started.Add(1)
	p.last.Store(c)
	return nil
}

func (p *testPBX) lastStarted() *engine.Channel {
	c, _ := p.last.Load().(*engine.Channel)
	return c
}

func setupDriver(t *testing.T, extens ...string) *testPBX {
	t.Helper()
	dp := engine.NewMapDialPlan()
	for _, e := range extens {
		dp.Add("default", e)
	}
	engine.SetDialPlan(dp)
	pbx := &testPBX{}
	engine.SetPBX(pbx)
	require.NoError(t, Register())
	t.Cleanup(func() {
		Unregister()
		registry.mu.Lock()
		registry.pairs = nil
		registry.mu.Unlock()
		destroyHook = nil
		engine.SetDialPlan(nil)
		engine.SetPBX(nil)
	})
	return pbx
}

func requestPair(t *testing.T, dest string) (*engine.Channel, *pair) {
	t.Helper()
	owner, err := engine.Request(techType, engine.FormatSLIN, nil, dest)
	require.NoError(t, err)
	p, ok := owner.TechPvt().(*pair)
	require.True(t, ok, "owner side must carry the pair")
	return owner, p
}

func countDestroys(t *testing.T) *atomic.Int32 {
	t.Helper()
	var n atomic.Int32
	destroyHook = func(*pair) { n.Add(1) }
	return &n
}

func drainFrames(c *engine.Channel) []engine.Frame {
	var frames []engine.Frame
	c.Lock()
	for {
		f, ok := c.ReadFrameLocked()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	c.Unlock()
	return frames
}

func channelVars(c *engine.Channel) []engine.Variable {
	c.Lock()
	defer c.Unlock()
	return c.VarsLocked()
}

func TestNewPairParsesDestination(t *testing.T) {
	setupDriver(t)

	p := newPair("100@sales/nbm", engine.FormatULAW)
	defer registry.remove(p)
	require.Equal(t, "100", p.exten)
	require.Equal(t, "sales", p.context)
	require.Equal(t, engine.FormatULAW, p.format)
	require.True(t, p.noOptimization)
	require.True(t, p.reportBridged)
	require.True(t, p.mohPassthrough)
	require.False(t, p.jbConf.Enabled)

	q := newPair("200", engine.FormatSLIN)
	defer registry.remove(q)
	require.Equal(t, "200", q.exten)
	require.Equal(t, "default", q.context)
	require.False(t, q.noOptimization)
}

func TestJitterBufferOptionRequiresNoOptimization(t *testing.T) {
	setupDriver(t)

	ignored := newPair("100@default/j", engine.FormatSLIN)
	defer registry.remove(ignored)
	require.False(t, ignored.jbConf.Enabled, "j without n must be ignored")

	enabled := newPair("100@default/nj", engine.FormatSLIN)
	defer registry.remove(enabled)
	require.True(t, enabled.jbConf.Enabled)
}

func TestRequesterBuildsPair(t *testing.T) {
	setupDriver(t, "100")

	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()
	require.NotNil(t, outbound)

	require.Regexp(t, regexp.MustCompile(`^Local/100@default-[0-9a-f]{4};1$`), owner.Name())
	require.Regexp(t, regexp.MustCompile(`^Local/100@default-[0-9a-f]{4};2$`), outbound.Name())
	require.Equal(t, owner.Name()[:len(owner.Name())-2], outbound.Name()[:len(outbound.Name())-2])

	require.Equal(t, engine.StateDown, owner.State())
	require.Equal(t, engine.StateRing, outbound.State())
	require.Equal(t, engine.FormatSLIN, owner.NativeFormats())
	require.Same(t, p, outbound.TechPvt())
	require.Equal(t, 2, handle.Users())
	require.True(t, registry.contains(p))
}

func TestRequesterInheritsLinkedID(t *testing.T) {
	setupDriver(t, "100")

	requestor := engine.NewChannel(engine.StateUp, "", "default", "", "Probe/requestor-1")
	defer engine.Release(requestor)

	owner, p := requestPair2(t, requestor, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.Equal(t, requestor.UniqueID(), owner.LinkedID())
	require.Equal(t, requestor.UniqueID(), outbound.LinkedID())
}

// requestPair2 is requestPair with an explicit requestor channel.
func requestPair2(t *testing.T, requestor *engine.Channel, dest string) (*engine.Channel, *pair) {
	t.Helper()
	owner, err := engine.Request(techType, engine.FormatSLIN, requestor, dest)
	require.NoError(t, err)
	p, ok := owner.TechPvt().(*pair)
	require.True(t, ok)
	return owner, p
}

func TestCallCopiesMetadataToOutbound(t *testing.T) {
	pbx := setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")

	owner.Lock()
	owner.Caller = engine.Caller{ID: engine.PartyID{Name: "Alice", Number: "42"}}
	owner.Connected = engine.Connected{ID: engine.PartyID{Number: "100"}}
	owner.Redirecting = engine.Redirecting{From: engine.PartyID{Number: "faraway"}, Count: 1}
	owner.Dialed = engine.Dialed{Number: "100"}
	owner.Language = "en"
	owner.AccountCode = "acct-7"
	owner.MusicClass = "jazz"
	owner.SetVarLocked("FIRST", "1")
	owner.SetVarLocked("SECOND", "2")
	owner.SetVarLocked("THIRD", "3")
	owner.AttachDatastoreLocked(engine.Datastore{Type: "inheritable", UID: "a", Inherit: true})
	owner.AttachDatastoreLocked(engine.Datastore{Type: "private", UID: "b"})
	owner.SetAnsweredElsewhere()
	owner.Unlock()

	require.NoError(t, engine.Call(owner, "100@default", 0))

	outbound := pbx.lastStarted()
	require.Equal(t, int32(1), pbx.started.Load())
	p.mu.Lock()
	require.Same(t, p.outbound, outbound)
	require.True(t, p.pbxLaunched)
	p.mu.Unlock()

	outbound.Lock()
	require.Equal(t, engine.Caller{ID: engine.PartyID{Number: "100"}, ANI: engine.PartyID{Number: "100"}}, outbound.Caller)
	require.Equal(t, engine.Connected{ID: engine.PartyID{Name: "Alice", Number: "42"}}, outbound.Connected)
	require.Equal(t, engine.Redirecting{From: engine.PartyID{Number: "faraway"}, Count: 1}, outbound.Redirecting)
	require.Equal(t, engine.Dialed{Number: "100"}, outbound.Dialed)
	require.Equal(t, "en", outbound.Language)
	require.Equal(t, "acct-7", outbound.AccountCode)
	require.Equal(t, "jazz", outbound.MusicClass)
	stores := outbound.DatastoresLocked()
	outbound.Unlock()

	vars := channelVars(outbound)
	require.Equal(t, []engine.Variable{{Name: "FIRST", Value: "1"}, {Name: "SECOND", Value: "2"}, {Name: "THIRD", Value: "3"}}, vars)
	require.Len(t, stores, 1)
	require.Equal(t, "inheritable", stores[0].Type)
	require.True(t, outbound.AnsweredElsewhere())
}

func TestCallRejectsUnknownExtension(t *testing.T) {
	pbx := setupDriver(t, "100")
	owner, p := requestPair(t, "nosuch@default")

	err := engine.Call(owner, "nosuch@default", 0)
	require.ErrorIs(t, err, ErrNoSuchExtension)
	require.Equal(t, int32(0), pbx.started.Load())
	p.mu.Lock()
	require.False(t, p.pbxLaunched)
	p.mu.Unlock()
}

func TestAnswerRelaysToOwner(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.NoError(t, engine.Answer(outbound))
	require.Equal(t, engine.StateUp, outbound.State())

	frames := drainFrames(owner)
	require.Len(t, frames, 1)
	require.Equal(t, engine.FrameControl, frames[0].Kind)
	require.Equal(t, engine.CondAnswer, frames[0].Condition)
}

func TestAnswerOnOwnerSideFails(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")

	owner.Lock()
	err := tech.Answer(owner)
	owner.Unlock()
	require.Error(t, err)

	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()
	require.Empty(t, drainFrames(outbound))
}

func TestWriteRelaysInOrder(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	for _, payload := range []string{"one", "two", "three"} {
		require.NoError(t, engine.Write(outbound, engine.Frame{Kind: engine.FrameVoice, Payload: []byte(payload)}))
	}

	frames := drainFrames(owner)
	require.Len(t, frames, 3)
	for i, payload := range []string{"one", "two", "three"} {
		require.Equal(t, engine.FrameVoice, frames[i].Kind)
		require.Equal(t, payload, string(frames[i].Payload))
	}
}

func TestRingingRelaySetsRingingState(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.NoError(t, engine.Indicate(outbound, engine.CondRinging, nil))
	require.Equal(t, engine.StateRinging, owner.State())

	frames := drainFrames(owner)
	require.Len(t, frames, 1)
	require.Equal(t, engine.CondRinging, frames[0].Condition)
}

func TestGeneratorsSwallowRelay(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	owner.SetGeneratorActive(true)
	outbound.SetGeneratorActive(true)
	require.NoError(t, engine.Write(outbound, engine.Frame{Kind: engine.FrameVoice}))
	require.Empty(t, drainFrames(owner), "frames are dropped while both ends run generators")

	owner.SetGeneratorActive(false)
	require.NoError(t, engine.Write(outbound, engine.Frame{Kind: engine.FrameVoice}))
	require.Len(t, drainFrames(owner), 1)
}

func TestDigitTextAndHTMLRelay(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.NoError(t, engine.SendDigitBegin(owner, '5'))
	require.NoError(t, engine.SendDigitEnd(owner, '5', 250*time.Millisecond))
	require.NoError(t, engine.SendText(owner, "hello"))
	require.NoError(t, engine.SendHTML(owner, 7, []byte("<b>hi</b>")))

	frames := drainFrames(outbound)
	require.Len(t, frames, 4)
	require.Equal(t, engine.FrameDTMFBegin, frames[0].Kind)
	require.Equal(t, byte('5'), frames[0].Digit)
	require.Equal(t, engine.FrameDTMFEnd, frames[1].Kind)
	require.Equal(t, 250*time.Millisecond, frames[1].Duration)
	require.Equal(t, engine.FrameText, frames[2].Kind)
	require.Equal(t, "hello", string(frames[2].Payload))
	require.Equal(t, engine.FrameHTML, frames[3].Kind)
	require.Equal(t, 7, frames[3].Subclass)
}

func TestConnectedLineRelayRewritesPeerCaller(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	connected := engine.Connected{ID: engine.PartyID{Name: "Bob", Number: "007"}}
	outbound.Lock()
	outbound.Connected = connected
	outbound.Unlock()

	require.NoError(t, engine.Indicate(outbound, engine.CondConnectedLine, nil))

	frames := drainFrames(owner)
	require.Len(t, frames, 1)
	require.Equal(t, engine.CondConnectedLine, frames[0].Condition)
	got, err := engine.UnmarshalConnected(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, connected, got)

	owner.Lock()
	caller := owner.Caller
	owner.Unlock()
	require.Equal(t, engine.CallerFromConnected(connected), caller)

	// The same update leaving the owner side must not touch the
	// outbound side's caller.
	outbound.Lock()
	before := outbound.Caller
	outbound.Unlock()
	owner.Lock()
	owner.Connected = engine.Connected{ID: engine.PartyID{Number: "19"}}
	owner.Unlock()
	require.NoError(t, engine.Indicate(owner, engine.CondConnectedLine, nil))
	outbound.Lock()
	after := outbound.Caller
	outbound.Unlock()
	require.Equal(t, before, after)
}

func TestRedirectingRelay(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	redir := engine.Redirecting{From: engine.PartyID{Number: "100"}, To: engine.PartyID{Number: "200"}, Count: 2}
	owner.Lock()
	owner.Redirecting = redir
	owner.Unlock()

	require.NoError(t, engine.Indicate(owner, engine.CondRedirecting, nil))

	frames := drainFrames(outbound)
	require.Len(t, frames, 1)
	got, err := engine.UnmarshalRedirecting(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, redir, got)
}

func TestHoldStartsLocalMusicUnlessPassthrough(t *testing.T) {
	setupDriver(t, "100")

	var started, stopped atomic.Int32
	var lastClass atomic.Value
	engine.SetMusicOnHoldHooks(
		func(c *engine.Channel, class string) {
			started.Add(1)
			lastClass.Store(class)
		},
		func(c *engine.Channel) { stopped.Add(1) },
	)
	t.Cleanup(func() { engine.SetMusicOnHoldHooks(nil, nil) })

	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.NoError(t, engine.Indicate(owner, engine.CondHold, []byte("jazz")))
	require.Equal(t, int32(1), started.Load())
	require.Equal(t, "jazz", lastClass.Load())
	require.Empty(t, drainFrames(outbound), "hold handled locally must not be relayed")

	require.NoError(t, engine.Indicate(owner, engine.CondUnhold, nil))
	require.Equal(t, int32(1), stopped.Load())

	passOwner, passPair := requestPair(t, "100@default/m")
	passPair.mu.Lock()
	passOutbound := passPair.outbound
	passPair.mu.Unlock()

	require.NoError(t, engine.Indicate(passOwner, engine.CondHold, nil))
	require.Equal(t, int32(1), started.Load(), "passthrough pair must not start local hold music")
	frames := drainFrames(passOutbound)
	require.Len(t, frames, 1)
	require.Equal(t, engine.CondHold, frames[0].Condition)
}

func TestHangupOutboundReportsStatus(t *testing.T) {
	setupDriver(t, "100")
	destroys := countDestroys(t)
	owner, p := requestPair(t, "100@default")
	require.NoError(t, engine.Call(owner, "100@default", 0))
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.NoError(t, engine.Answer(outbound))
	drainFrames(owner)

	outbound.Lock()
	outbound.SetVarLocked("DIALSTATUS", "ANSWER")
	outbound.SetHangupCauseLocked(engine.CauseUserBusy)
	outbound.Unlock()

	require.NoError(t, engine.Hangup(outbound))

	status, found := func() (string, bool) {
		owner.Lock()
		defer owner.Unlock()
		return owner.VarLocked("CHANLOCALSTATUS")
	}()
	require.True(t, found)
	require.Equal(t, "ANSWER", status)

	frames := drainFrames(owner)
	require.Len(t, frames, 1)
	require.Equal(t, engine.CondHangup, frames[0].Condition)
	require.Equal(t, engine.CauseUserBusy, frames[0].Cause)

	require.Equal(t, int32(0), destroys.Load(), "pair lives until the owner side leaves")
	require.True(t, registry.contains(p))

	require.NoError(t, engine.Hangup(owner))
	require.Equal(t, int32(1), destroys.Load())
	require.False(t, registry.contains(p))
	require.Equal(t, 0, handle.Users())
}

func TestHangupOwnerWithoutRoutingHangsOutboundDirectly(t *testing.T) {
	setupDriver(t, "100")
	destroys := countDestroys(t)
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()
	outboundName := outbound.Name()

	require.NoError(t, engine.Hangup(owner))

	require.Equal(t, int32(1), destroys.Load())
	require.False(t, registry.contains(p))
	require.Equal(t, 0, handle.Users())
	require.Nil(t, engine.ChannelByName(outboundName), "outbound side must be gone without ever seeing a frame")
}

func TestHangupOwnerAfterLaunchRelays(t *testing.T) {
	setupDriver(t, "100")
	destroys := countDestroys(t)
	owner, p := requestPair(t, "100@default")
	require.NoError(t, engine.Call(owner, "100@default", 0))
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	owner.SetHangupCause(engine.CauseNormalClearing)
	require.NoError(t, engine.Hangup(owner))

	frames := drainFrames(outbound)
	require.Len(t, frames, 1)
	require.Equal(t, engine.CondHangup, frames[0].Condition)
	require.Equal(t, engine.CauseNormalClearing, frames[0].Cause)
	require.Equal(t, int32(0), destroys.Load())

	require.NoError(t, engine.Hangup(outbound))
	require.Equal(t, int32(1), destroys.Load())
}

func TestRelayAfterTeardownDestroysPair(t *testing.T) {
	setupDriver(t, "100")
	destroys := countDestroys(t)
	_, p := requestPair(t, "100@default")

	// Mimic a teardown that found a relay in flight: the registry entry
	// is gone and destruction was deferred to the relay.
	registry.remove(p)
	p.mu.Lock()
	p.life = lifeCancelPending

	err := p.queueFrame(false, engine.Frame{Kind: engine.FrameVoice}, nil, false)
	require.ErrorIs(t, err, ErrPairGone)
	require.Equal(t, int32(1), destroys.Load())

	p.mu.Lock()
	require.Equal(t, lifeDestroyed, p.life)
	p.mu.Unlock()
}

func TestHangupDuringBlockedRelayHandsOffDestruction(t *testing.T) {
	setupDriver(t, "100")
	destroys := countDestroys(t)
	owner, p := requestPair(t, "100@default")

	owner.Lock()

	errCh := make(chan error, 1)
	go func() {
		p.mu.Lock()
		err := p.queueFrame(true, engine.Frame{Kind: engine.FrameVoice}, nil, false)
		if err == nil {
			p.mu.Unlock()
		}
		errCh <- err
	}()

	// Let the relay reach its lock retry loop against the held owner.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, tech.Hangup(owner))
	owner.Unlock()
	engine.Release(owner)

	err := <-errCh
	if err != nil {
		require.ErrorIs(t, err, ErrPairGone)
	}
	require.Equal(t, int32(1), destroys.Load(), "exactly one side performs the destruction")
	require.False(t, registry.contains(p))
}

func TestFixupSubstitutesPairSlot(t *testing.T) {
	setupDriver(t, "100")
	_, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	replacement := engine.NewChannel(engine.StateUp, "100", "default", "", "Local/fixup-target")
	defer engine.Release(replacement)
	replacement.Lock()
	replacement.AttachTechLocked(tech, p)
	replacement.Unlock()

	outbound.Lock()
	replacement.Lock()
	require.NoError(t, tech.Fixup(outbound, replacement))
	replacement.Unlock()
	outbound.Unlock()

	p.mu.Lock()
	require.Same(t, replacement, p.outbound)
	p.mu.Unlock()

	stranger := engine.NewChannel(engine.StateUp, "", "default", "", "Probe/stranger-1")
	defer engine.Release(stranger)
	stranger.Lock()
	replacement.Lock()
	require.ErrorIs(t, tech.Fixup(stranger, replacement), ErrFixupMismatch)
	replacement.Unlock()
	stranger.Unlock()

	p.mu.Lock()
	require.Same(t, replacement, p.outbound, "a rejected fixup changes nothing")
	p.mu.Unlock()
}

func TestBridgedChannelReporting(t *testing.T) {
	setupDriver(t, "100")

	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	require.Same(t, outbound, tech.BridgedChannel(nil, owner))
	require.Same(t, owner, tech.BridgedChannel(nil, outbound))

	// With b the opposite side's own bridge partner is reported.
	bOwner, bp := requestPair(t, "100@default/b")
	bp.mu.Lock()
	bOutbound := bp.outbound
	bp.mu.Unlock()

	far := engine.NewChannel(engine.StateUp, "", "default", "", "Probe/far-b")
	defer engine.Release(far)
	bOutbound.Lock()
	bOutbound.SetBridgeLocked(far)
	bOutbound.Unlock()

	require.Same(t, far, tech.BridgedChannel(nil, bOwner))
	require.Same(t, bOwner, tech.BridgedChannel(nil, bOutbound), "unbridged opposite falls back to the literal one")

	// A vacated slot reports the queried endpoint itself.
	p.mu.Lock()
	p.outbound = nil
	p.mu.Unlock()
	require.Same(t, owner, tech.BridgedChannel(nil, owner))
	p.mu.Lock()
	p.outbound = outbound
	p.mu.Unlock()

	bare := engine.NewChannel(engine.StateUp, "", "default", "", "Probe/bare-1")
	defer engine.Release(bare)
	require.Nil(t, tech.BridgedChannel(nil, bare))
}

// probeTech answers capability probes with a canned value.
type probeTech struct {
	engine.BaseTech
	state interface{}
}

func (t *probeTech) TypeName() string    { return "Probe" }
func (t *probeTech) Description() string { return "Probe endpoint" }

func (t *probeTech) QueryOption(c *engine.Channel, opt engine.Option) (interface{}, error) {
	return t.state, nil
}

func TestQueryOptionForwardsAcrossBridge(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	probe := &probeTech{state: engine.T38Negotiated}
	far := engine.NewChannel(engine.StateUp, "", "default", "", "Probe/far-1")
	defer engine.Release(far)
	far.Lock()
	far.AttachTechLocked(probe, nil)
	far.Unlock()

	outbound.Lock()
	outbound.SetBridgeLocked(far)
	outbound.Unlock()
	far.Lock()
	far.SetBridgeLocked(outbound)
	far.Unlock()

	got, err := engine.QueryOption(owner, engine.OptionT38State)
	require.NoError(t, err)
	require.Equal(t, engine.T38Negotiated, got)

	_, err = engine.QueryOption(owner, engine.Option(42))
	require.ErrorIs(t, err, engine.ErrNotSupported)

	lonely, _ := requestPair(t, "100@default")
	_, err = engine.QueryOption(lonely, engine.OptionT38State)
	require.Error(t, err, "no bridge partner to forward to")
}

func TestReadProducesNullFrame(t *testing.T) {
	setupDriver(t, "100")
	owner, _ := requestPair(t, "100@default")
	require.Equal(t, engine.FrameNull, tech.Read(owner).Kind)
}

func TestAnsweredElsewherePropagatesOnHangup(t *testing.T) {
	setupDriver(t, "100")
	owner, p := requestPair(t, "100@default")
	require.NoError(t, engine.Call(owner, "100@default", 0))
	p.mu.Lock()
	outbound := p.outbound
	p.mu.Unlock()

	owner.SetAnsweredElsewhere()
	require.NoError(t, engine.Hangup(owner))
	require.True(t, outbound.AnsweredElsewhere())

	require.NoError(t, engine.Hangup(outbound))
}

func TestRelayReportsGoneWhenBothSidesVanished(t *testing.T) {
	setupDriver(t, "100")
	_, p := requestPair(t, "100@default")

	p.mu.Lock()
	p.owner = nil
	p.outbound = nil
	err := p.queueFrame(false, engine.Frame{Kind: engine.FrameVoice}, nil, false)
	require.NoError(t, err, "relay toward a vacated slot is silently dropped")
	p.mu.Unlock()
}
