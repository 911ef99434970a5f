package engine

import (
	"time"
)

// Answer accepts the call on c. The technology callback runs with the
// channel lock held; afterwards the channel is Up.
func Answer(c *Channel) error {
	c.mu.Lock()
	if c.state == StateUp {
		c.mu.Unlock()
		return nil
	}
	t := c.tech
	if t == nil {
		c.mu.Unlock()
		return ErrNoTech
	}
	err := t.Answer(c)
	c.SetStateLocked(StateUp)
	c.mu.Unlock()
	return err
}

// Call starts dialing dest on a channel obtained from Request. The
// technology callback runs with the channel lock held.
func Call(c *Channel, dest string, timeout time.Duration) error {
	c.mu.Lock()
	t := c.tech
	if t == nil {
		c.mu.Unlock()
		return ErrNoTech
	}
	err := t.Call(c, dest, timeout)
	c.mu.Unlock()
	return err
}

// Write pushes a frame from the channel's controller toward the
// technology. The callback runs with the channel lock held.
func Write(c *Channel, f Frame) error {
	c.mu.Lock()
	t := c.tech
	if t == nil {
		c.mu.Unlock()
		return ErrNoTech
	}
	err := t.Write(c, f)
	c.mu.Unlock()
	return err
}

// Indicate signals an out-of-band condition on c. The callback runs
// with the channel lock held.
func Indicate(c *Channel, cond Condition, payload []byte) error {
	c.mu.Lock()
	t := c.tech
	if t == nil {
		c.mu.Unlock()
		return ErrNoTech
	}
	err := t.Indicate(c, cond, payload)
	c.mu.Unlock()
	return err
}

// SendDigitBegin passes the start of a DTMF digit. The callback runs
// without the channel lock.
func SendDigitBegin(c *Channel, digit byte) error {
	c.mu.Lock()
	t := c.tech
	c.mu.Unlock()
	if t == nil {
		return ErrNoTech
	}
	return t.SendDigitBegin(c, digit)
}

// SendDigitEnd passes the end of a DTMF digit with its duration. The
// callback runs without the channel lock.
func SendDigitEnd(c *Channel, digit byte, duration time.Duration) error {
	c.mu.Lock()
	t := c.tech
	c.mu.Unlock()
	if t == nil {
		return ErrNoTech
	}
	return t.SendDigitEnd(c, digit, duration)
}

// SendText passes a text payload. The callback runs without the
// channel lock.
func SendText(c *Channel, text string) error {
	c.mu.Lock()
	t := c.tech
	c.mu.Unlock()
	if t == nil {
		return ErrNoTech
	}
	return t.SendText(c, text)
}

// SendHTML passes an HTML payload. The callback runs without the
// channel lock.
func SendHTML(c *Channel, subclass int, data []byte) error {
	c.mu.Lock()
	t := c.tech
	c.mu.Unlock()
	if t == nil {
		return ErrNoTech
	}
	return t.SendHTML(c, subclass, data)
}

// QueryOption probes a channel capability. The technology manages its
// own locking, so only the tech lookup happens under the channel lock.
func QueryOption(c *Channel, opt Option) (interface{}, error) {
	c.mu.Lock()
	t := c.tech
	c.mu.Unlock()
	if t == nil {
		return nil, ErrNoTech
	}
	return t.QueryOption(c, opt)
}

// Hangup tears c down: the technology hangup callback runs with the
// channel lock held, then the channel leaves the engine's tables.
// Zombies had their technology disconnected during the masquerade, so
// only the bookkeeping half applies to them.
func Hangup(c *Channel) error {
	c.mu.Lock()
	var err error
	if c.zombie {
		coreLog.Debugf("hanging up zombie %s", c.name)
	} else if c.tech != nil {
		coreLog.Debugf("hanging up channel %s", c.name)
		err = c.tech.Hangup(c)
	}
	c.mu.Unlock()
	Release(c)
	return err
}

// BridgedChannelOfLocked resolves the channel c is bridged to. When
// the direct partner's technology proxies for another channel, the
// partner is asked to name the real one. The caller must hold c's
// lock.
func BridgedChannelOfLocked(c *Channel) *Channel {
	bridged := c.bridge
	if bridged == nil {
		return nil
	}
	bridged.mu.Lock()
	t := bridged.tech
	bridged.mu.Unlock()
	if t != nil {
		bridged = t.BridgedChannel(c, bridged)
	}
	return bridged
}
