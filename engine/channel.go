package engine

import (
	"context"
	"math/bits"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/tevino/abool"
)

// State is a channel's call state.
type State int

const (
	StateDown State = iota
	StateReserved
	StateOffHook
	StateDialing
	StateRing
	StateRinging
	StateUp
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "Down"
	case StateReserved:
		return "Rsrvd"
	case StateOffHook:
		return "OffHook"
	case StateDialing:
		return "Dialing"
	case StateRing:
		return "Ring"
	case StateRinging:
		return "Ringing"
	case StateUp:
		return "Up"
	case StateBusy:
		return "Busy"
	}
	return "Unknown"
}

// Format is a bitmask of media formats a channel can carry.
type Format uint64

const (
	FormatSLIN Format = 1 << 0
	FormatULAW Format = 1 << 1
	FormatALAW Format = 1 << 2
	FormatGSM  Format = 1 << 3
	FormatG729 Format = 1 << 4
	FormatH263 Format = 1 << 16
	FormatH264 Format = 1 << 17
)

// BestFormat picks the preferred single format out of a capability mask.
func BestFormat(f Format) Format {
	if f == 0 {
		return 0
	}
	return 1 << bits.TrailingZeros64(uint64(f))
}

// Variable is one entry in a channel's ordered variable list.
type Variable struct {
	Name  string
	Value string
}

// Datastore is an opaque attachment applications hang off a channel.
// Inheritable datastores follow the channel into legs it originates.
type Datastore struct {
	Type    string
	UID     string
	Data    interface{}
	Inherit bool
}

// Monitor is a recording attachment on a channel.
type Monitor struct {
	Format   string
	FileBase string
}

// AudioHookList holds the audio observers attached to a channel. The
// list moves between channels as a unit.
type AudioHookList struct {
	Hooks []string
}

// JitterBufConfig carries receive-side jitter buffer parameters applied
// to a channel at setup time.
type JitterBufConfig struct {
	Enabled         bool
	MaxSize         int
	ResyncThreshold int
	Impl            string
	TargetExtra     int
}

// Option is a channel capability probe selector.
type Option int

const (
	// OptionT38State asks whether the channel can or does carry T.38.
	OptionT38State Option = iota
)

// T38State is the answer to an OptionT38State probe.
type T38State int

const (
	T38Unavailable T38State = iota
	T38Unknown
	T38Negotiating
	T38Negotiated
	T38Rejected
)

// Channel is one call leg inside the engine.
//
// The embedded mutex guards every mutable field, the exported identity
// fields included; hold the channel lock to touch them. Methods with a
// Locked suffix require the lock to be held already, the rest acquire
// it themselves.
type Channel struct {
	mu sync.Mutex

	name     string
	uniqueID string
	linkedID string
	state    State

	exten    string
	context  string
	priority int

	tech    Tech
	techPvt interface{}

	readQ []Frame
	alert chan struct{}

	bridge *Channel

	nativeFormats Format
	readFormat    Format
	writeFormat   Format

	vars       []Variable
	datastores []Datastore

	jbConf JitterBufConfig

	zombie      bool
	softHangup  bool
	hangupCause Cause

	generator         *abool.AtomicBool
	answeredElsewhere *abool.AtomicBool

	// Identity and bookkeeping carried for the call logic. Guarded by
	// the channel lock like everything else.
	Caller      Caller
	Connected   Connected
	Redirecting Redirecting
	Dialed      Dialed
	Language    string
	AccountCode string
	MusicClass  string
	Monitor     *Monitor
	AudioHooks  *AudioHookList
}

var (
	channelsMu     sync.Mutex
	channelsByName = make(map[string]*Channel)
)

// NewChannel allocates a channel, registers it in the engine's channel
// table and returns it. An empty linkedID gets replaced with a fresh
// one so every channel belongs to a link group.
func NewChannel(state State, exten, context, linkedID, name string) *Channel {
	c := &Channel{
		name:              name,
		uniqueID:          uuid.Must(uuid.NewV4()).String(),
		state:             state,
		exten:             exten,
		context:           context,
		priority:          1,
		alert:             make(chan struct{}, 1),
		generator:         abool.New(),
		answeredElsewhere: abool.New(),
	}
	if linkedID == "" {
		linkedID = c.uniqueID
	}
	c.linkedID = linkedID

	channelsMu.Lock()
	channelsByName[name] = c
	channelsMu.Unlock()
	return c
}

// ChannelByName looks a live channel up by name.
func ChannelByName(name string) *Channel {
	channelsMu.Lock()
	defer channelsMu.Unlock()
	return channelsByName[name]
}

// Release drops c from the channel table and discards its group
// assignments. Called once the channel is fully hung up.
func Release(c *Channel) {
	c.mu.Lock()
	name := c.name
	c.mu.Unlock()

	channelsMu.Lock()
	if channelsByName[name] == c {
		delete(channelsByName, name)
	}
	channelsMu.Unlock()
	DiscardGroups(c)
}

// renameLocked updates the channel table after a name change. The
// channel lock must be held; c.name has already been rewritten.
func renameLocked(c *Channel, oldName string) {
	channelsMu.Lock()
	if channelsByName[oldName] == c {
		delete(channelsByName, oldName)
	}
	channelsByName[c.name] = c
	channelsMu.Unlock()
}

func (c *Channel) Lock()   { c.mu.Lock() }
func (c *Channel) Unlock() { c.mu.Unlock() }

// TryLock attempts the channel lock without blocking.
func (c *Channel) TryLock() bool { return c.mu.TryLock() }

// YieldLock briefly surrenders the channel lock so a contender spinning
// on it can make progress, then takes it back.
func (c *Channel) YieldLock() {
	c.mu.Unlock()
	time.Sleep(time.Microsecond)
	c.mu.Lock()
}

func (c *Channel) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Channel) NameLocked() string { return c.name }

func (c *Channel) UniqueID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uniqueID
}

// LinkedID is fixed at creation, so no lock is needed.
func (c *Channel) LinkedID() string { return c.linkedID }

func (c *Channel) Exten() string   { return c.exten }
func (c *Channel) Context() string { return c.context }
func (c *Channel) Priority() int   { return c.priority }

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) StateLocked() State { return c.state }

// SetStateLocked moves the channel to a new call state.
func (c *Channel) SetStateLocked(s State) {
	if c.state == s {
		return
	}
	coreLog.Debugf("channel %s state %s -> %s", c.name, c.state, s)
	c.state = s
}

func (c *Channel) TechLocked() Tech { return c.tech }

func (c *Channel) TechPvt() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.techPvt
}

func (c *Channel) TechPvtLocked() interface{}       { return c.techPvt }
func (c *Channel) SetTechPvtLocked(pvt interface{}) { c.techPvt = pvt }

// AttachTechLocked binds a technology and its private state to the
// channel.
func (c *Channel) AttachTechLocked(t Tech, pvt interface{}) {
	c.tech = t
	c.techPvt = pvt
}

// QueueFrameLocked appends a copy of f to the inbound queue and pokes
// any blocked reader.
func (c *Channel) QueueFrameLocked(f Frame) {
	c.readQ = append(c.readQ, f.Clone())
	select {
	case c.alert <- struct{}{}:
	default:
	}
}

// ReadFrameLocked pops the head of the inbound queue without waiting.
func (c *Channel) ReadFrameLocked() (Frame, bool) {
	if len(c.readQ) == 0 {
		return Frame{}, false
	}
	f := c.readQ[0]
	c.readQ = c.readQ[1:]
	return f, true
}

// QueuedFramesLocked reports how many frames are waiting to be read.
func (c *Channel) QueuedFramesLocked() int { return len(c.readQ) }

// ReadWait blocks until a frame is queued or ctx is done.
func (c *Channel) ReadWait(ctx context.Context) (Frame, error) {
	for {
		c.mu.Lock()
		if f, ok := c.ReadFrameLocked(); ok {
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		select {
		case <-c.alert:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (c *Channel) Bridge() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bridge
}

func (c *Channel) BridgeLocked() *Channel     { return c.bridge }
func (c *Channel) SetBridgeLocked(b *Channel) { c.bridge = b }

// VarLocked fetches a channel variable by name.
func (c *Channel) VarLocked(name string) (string, bool) {
	for _, v := range c.vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// SetVarLocked sets a channel variable, replacing an existing entry or
// appending a new one.
func (c *Channel) SetVarLocked(name, value string) {
	for i := range c.vars {
		if c.vars[i].Name == name {
			c.vars[i].Value = value
			return
		}
	}
	c.vars = append(c.vars, Variable{Name: name, Value: value})
}

// VarsLocked returns a copy of the variable list in definition order.
func (c *Channel) VarsLocked() []Variable {
	return append([]Variable(nil), c.vars...)
}

// AppendVarsLocked appends vars preserving their order.
func (c *Channel) AppendVarsLocked(vars []Variable) {
	c.vars = append(c.vars, vars...)
}

// AttachDatastoreLocked hangs a datastore off the channel.
func (c *Channel) AttachDatastoreLocked(d Datastore) {
	c.datastores = append(c.datastores, d)
}

// DatastoresLocked returns a copy of the attached datastores.
func (c *Channel) DatastoresLocked() []Datastore {
	return append([]Datastore(nil), c.datastores...)
}

// InheritDatastoresLocked copies the inheritable datastores of from
// onto to. Both channel locks must be held.
func InheritDatastoresLocked(from, to *Channel) {
	for _, d := range from.datastores {
		if d.Inherit {
			to.datastores = append(to.datastores, d)
		}
	}
}

// SetFormatsLocked installs the native capability mask and derives the
// read/write formats from its preferred member.
func (c *Channel) SetFormatsLocked(native Format) {
	c.nativeFormats = native
	best := BestFormat(native)
	c.readFormat = best
	c.writeFormat = best
}

func (c *Channel) NativeFormatsLocked() Format { return c.nativeFormats }

func (c *Channel) NativeFormats() Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nativeFormats
}

// ConfigureJitterBufLocked records the jitter buffer settings the
// channel should run with.
func (c *Channel) ConfigureJitterBufLocked(conf JitterBufConfig) {
	c.jbConf = conf
}

func (c *Channel) JitterBufLocked() JitterBufConfig { return c.jbConf }

func (c *Channel) JitterBuf() JitterBufConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jbConf
}

func (c *Channel) HangupCauseLocked() Cause         { return c.hangupCause }
func (c *Channel) SetHangupCauseLocked(cause Cause) { c.hangupCause = cause }

func (c *Channel) HangupCause() Cause {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangupCause
}

func (c *Channel) SetHangupCause(cause Cause) {
	c.mu.Lock()
	c.hangupCause = cause
	c.mu.Unlock()
}

// SoftHangupLocked asks whoever controls the channel to hang it up by
// flagging it and queueing a hangup frame.
func (c *Channel) SoftHangupLocked(cause Cause) {
	c.softHangup = true
	c.hangupCause = cause
	c.QueueFrameLocked(Frame{Kind: FrameControl, Condition: CondHangup, Cause: cause})
}

func (c *Channel) SoftHangup(cause Cause) {
	c.mu.Lock()
	c.SoftHangupLocked(cause)
	c.mu.Unlock()
}

// CheckHangupLocked reports whether the channel is on its way down.
func (c *Channel) CheckHangupLocked() bool {
	return c.softHangup || c.zombie
}

func (c *Channel) CheckHangup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CheckHangupLocked()
}

func (c *Channel) ZombieLocked() bool { return c.zombie }

func (c *Channel) Zombie() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zombie
}

// GeneratorActive reports whether a media generator runs on the
// channel. The flag is lock-free so relay paths can consult a peer's
// generator without owning its lock.
func (c *Channel) GeneratorActive() bool      { return c.generator.IsSet() }
func (c *Channel) SetGeneratorActive(on bool) { c.generator.SetTo(on) }

// AnsweredElsewhere marks calls that were picked up by another leg of a
// parallel dial. Lock-free for the same reason as the generator flag.
func (c *Channel) AnsweredElsewhere() bool { return c.answeredElsewhere.IsSet() }
func (c *Channel) SetAnsweredElsewhere()   { c.answeredElsewhere.Set() }
