package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoTech means an operation reached a channel that has no
	// technology bound (already torn down, usually).
	ErrNoTech = errors.New("channel has no technology")

	// ErrNotSupported is returned by technologies for callbacks or
	// options they do not implement.
	ErrNotSupported = errors.New("not supported by channel technology")
)

// Tech is the callback set a channel technology implements. The
// dispatchers in this package document which callbacks run with the
// channel lock held.
type Tech interface {
	TypeName() string
	Description() string

	// Requester builds a new channel for the given destination. No
	// locks are held; requestor, when non-nil, is the channel the new
	// one is being created on behalf of.
	Requester(format Format, requestor *Channel, dest string) (*Channel, error)

	// Call starts the call on a channel created by Requester. Invoked
	// with the channel lock held.
	Call(c *Channel, dest string, timeout time.Duration) error

	// Hangup disconnects the technology side of the channel. Invoked
	// with the channel lock held.
	Hangup(c *Channel) error

	// Answer accepts an incoming call. Invoked with the channel lock
	// held.
	Answer(c *Channel) error

	// Read produces a frame when the channel has nothing queued.
	Read(c *Channel) Frame

	// Write pushes a media frame toward the technology. Invoked with
	// the channel lock held.
	Write(c *Channel, f Frame) error

	// Indicate signals an out-of-band condition. Invoked with the
	// channel lock held.
	Indicate(c *Channel, cond Condition, payload []byte) error

	// Fixup tells the technology its channel object moved: state that
	// lived on oldc is now embodied by newc. Both channel locks are
	// held.
	Fixup(oldc, newc *Channel) error

	// SendDigitBegin and SendDigitEnd pass DTMF. Invoked without the
	// channel lock.
	SendDigitBegin(c *Channel, digit byte) error
	SendDigitEnd(c *Channel, digit byte, duration time.Duration) error

	// SendText and SendHTML pass signalling payloads. Invoked without
	// the channel lock.
	SendText(c *Channel, text string) error
	SendHTML(c *Channel, subclass int, data []byte) error

	// BridgedChannel lets a proxying technology report which channel
	// me really stands for when who asks. The caller holds who's lock
	// but not me's.
	BridgedChannel(who, me *Channel) *Channel

	// QueryOption probes a capability. The technology manages its own
	// locking.
	QueryOption(c *Channel, opt Option) (interface{}, error)
}

// BaseTech provides inert defaults for everything except TypeName and
// Description, so partial technologies only implement what they need.
type BaseTech struct{}

func (BaseTech) Requester(format Format, requestor *Channel, dest string) (*Channel, error) {
	return nil, ErrNotSupported
}

func (BaseTech) Call(c *Channel, dest string, timeout time.Duration) error { return nil }

func (BaseTech) Hangup(c *Channel) error { return nil }

func (BaseTech) Answer(c *Channel) error { return nil }

func (BaseTech) Read(c *Channel) Frame { return Frame{Kind: FrameNull} }

func (BaseTech) Write(c *Channel, f Frame) error { return nil }

func (BaseTech) Indicate(c *Channel, cond Condition, payload []byte) error { return nil }

func (BaseTech) Fixup(oldc, newc *Channel) error { return nil }

func (BaseTech) SendDigitBegin(c *Channel, digit byte) error { return nil }

func (BaseTech) SendDigitEnd(c *Channel, digit byte, duration time.Duration) error { return nil }

func (BaseTech) SendText(c *Channel, text string) error { return nil }

func (BaseTech) SendHTML(c *Channel, subclass int, data []byte) error { return nil }

// BridgedChannel defaults to "me is exactly what it looks like".
func (BaseTech) BridgedChannel(who, me *Channel) *Channel { return me }

func (BaseTech) QueryOption(c *Channel, opt Option) (interface{}, error) {
	return nil, ErrNotSupported
}

// TechHandle tracks a registered technology and how many channel ends
// reference it, so unloading can tell when it is idle.
type TechHandle struct {
	tech Tech

	mu    sync.Mutex
	users int
}

func (h *TechHandle) Tech() Tech { return h.tech }

// AddUser records one more channel end referencing the technology.
func (h *TechHandle) AddUser() {
	h.mu.Lock()
	h.users++
	h.mu.Unlock()
}

// RemoveUser drops a reference taken with AddUser.
func (h *TechHandle) RemoveUser() {
	h.mu.Lock()
	h.users--
	h.mu.Unlock()
}

// Users reports how many channel ends currently reference the
// technology.
func (h *TechHandle) Users() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users
}

var (
	techsMu sync.Mutex
	techs   = make(map[string]*TechHandle)
)

// RegisterTech installs a channel technology under its type name.
func RegisterTech(t Tech) (*TechHandle, error) {
	techsMu.Lock()
	defer techsMu.Unlock()
	name := t.TypeName()
	if _, ok := techs[name]; ok {
		return nil, fmt.Errorf("channel technology %q already registered", name)
	}
	h := &TechHandle{tech: t}
	techs[name] = h
	coreLog.Infof("registered channel technology '%s' (%s)", name, t.Description())
	return h, nil
}

// UnregisterTech removes a channel technology by type name.
func UnregisterTech(name string) {
	techsMu.Lock()
	defer techsMu.Unlock()
	if _, ok := techs[name]; ok {
		delete(techs, name)
		coreLog.Infof("unregistered channel technology '%s'", name)
	}
}

func findTech(name string) *TechHandle {
	techsMu.Lock()
	defer techsMu.Unlock()
	return techs[name]
}

// Request asks the named technology for a new channel to dest.
func Request(techType string, format Format, requestor *Channel, dest string) (*Channel, error) {
	h := findTech(techType)
	if h == nil {
		return nil, fmt.Errorf("unknown channel technology %q", techType)
	}
	c, err := h.tech.Requester(format, requestor, dest)
	if err != nil {
		return nil, fmt.Errorf("request %s/%s: %w", techType, dest, err)
	}
	return c, nil
}
