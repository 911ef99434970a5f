package main

import (
	"context"
	"strings"
	"time"

	"localchan/engine"
)

// asyncPBX runs routing logic for channels handed over by the engine.
// Start is invoked with the channel lock held, so all it does is
// schedule.
type asyncPBX struct {
	context     string
	ringTimeout time.Duration
}

func (p *asyncPBX) Start(c *engine.Channel) error {
	go p.run(c)
	return nil
}

// run interprets the extension: 9<digits> chains the call into a fresh
// Local/<digits> pair and bridges the two legs, anything else is
// answered and echoed back.
func (p *asyncPBX) run(c *engine.Channel) {
	ext := c.Exten()
	mainLog.Infof("routing %s (extension %s)", c.Name(), ext)

	if rest, ok := strings.CutPrefix(ext, "9"); ok && rest != "" {
		p.chain(c, rest)
		return
	}
	p.echo(c)
}

// echo answers and loops every media frame straight back to the far
// side until it hangs up.
func (p *asyncPBX) echo(c *engine.Channel) {
	if err := engine.Answer(c); err != nil {
		mainLog.Warnf("answer on %s failed: %v", c.Name(), err)
		engine.Hangup(c)
		return
	}
	for {
		f, err := c.ReadWait(context.Background())
		if err != nil {
			engine.Hangup(c)
			return
		}
		switch f.Kind {
		case engine.FrameControl:
			if f.Condition == engine.CondHangup {
				mainLog.Infof("echo leg %s hung up", c.Name())
				engine.Hangup(c)
				return
			}
		case engine.FrameVoice, engine.FrameVideo, engine.FrameDTMFBegin, engine.FrameDTMFEnd, engine.FrameText:
			if err := engine.Write(c, f); err != nil {
				engine.Hangup(c)
				return
			}
		}
	}
}

// chain dials a second pair for target and bridges c to its owner
// side, pumping frames both ways. With optimization allowed the two
// pairs collapse into one as soon as media flows.
func (p *asyncPBX) chain(c *engine.Channel, target string) {
	dest := target + "@" + p.context
	partner, err := engine.Request(techLocal, c.NativeFormats(), c, dest)
	if err != nil {
		mainLog.Warnf("chaining %s to %s failed: %v", c.Name(), dest, err)
		engine.Hangup(c)
		return
	}

	c.Lock()
	c.SetBridgeLocked(partner)
	c.Unlock()
	partner.Lock()
	partner.SetBridgeLocked(c)
	partner.Unlock()

	if err := engine.Call(partner, dest, p.ringTimeout); err != nil {
		mainLog.Warnf("calling %s failed: %v", dest, err)
		engine.Hangup(partner)
		engine.Hangup(c)
		return
	}
	if err := engine.Answer(c); err != nil {
		mainLog.Warnf("answer on %s failed: %v", c.Name(), err)
		engine.Hangup(partner)
		engine.Hangup(c)
		return
	}

	go pipeFrames(partner, c)
	pipeFrames(c, partner)
}

// pipeFrames moves frames from src to dst until src dies. A null frame
// on a zombie means src was masqueraded away and the pump is no longer
// needed.
func pipeFrames(src, dst *engine.Channel) {
	for {
		f, err := src.ReadWait(context.Background())
		if err != nil {
			return
		}
		switch f.Kind {
		case engine.FrameNull:
			if src.Zombie() {
				mainLog.Debugf("pump for %s stopping, channel was optimized away", src.Name())
				engine.Hangup(src)
				return
			}
		case engine.FrameControl:
			switch f.Condition {
			case engine.CondHangup:
				engine.Hangup(src)
				engine.Hangup(dst)
				return
			case engine.CondRinging, engine.CondAnswer:
				// Signalling already handled on the first leg.
			default:
				engine.Indicate(dst, f.Condition, f.Payload)
			}
		default:
			if err := engine.Write(dst, f); err != nil {
				return
			}
		}
	}
}
