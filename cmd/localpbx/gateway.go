package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gosip "github.com/ghettovoice/gosip"
	"github.com/ghettovoice/gosip/sip"
	"github.com/ghettovoice/gosip/util"

	"localchan/engine"
)

// gateway terminates SIP calls and legs them into the engine through
// Local channels: every INVITE gets a SIP channel bridged to the owner
// side of a fresh Local pair, and a pump goroutine translates frames
// coming out of that pair back into SIP signalling.
type gateway struct {
	srv      gosip.Server
	settings *Settings
	tech     *sipTech
	seq      uint32

	mu    sync.Mutex
	calls map[string]*callLeg
}

// callLeg ties one SIP dialog to its channel pair.
type callLeg struct {
	callID     string
	cid        *sip.CallID
	invite     sip.Request
	localAddr  *sip.Address
	remoteAddr *sip.Address
	cseq       uint

	sipChan   *engine.Channel
	localChan *engine.Channel

	// closed is guarded by gateway.mu; whoever flips it owns the
	// SIP-side goodbye.
	closed bool
}

func newGateway(srv gosip.Server, settings *Settings) *gateway {
	g := &gateway{
		srv:      srv,
		settings: settings,
		calls:    make(map[string]*callLeg),
	}
	g.tech = &sipTech{gw: g}
	return g
}

func (g *gateway) start() error {
	if _, err := engine.RegisterTech(g.tech); err != nil {
		return err
	}
	if err := g.srv.OnRequest(sip.INVITE, g.handleInvite); err != nil {
		return err
	}
	if err := g.srv.OnRequest(sip.ACK, g.handleAck); err != nil {
		return err
	}
	if err := g.srv.OnRequest(sip.BYE, g.handleBye); err != nil {
		return err
	}
	return g.srv.OnRequest(sip.INFO, g.handleInfo)
}

func (g *gateway) findLeg(callID string) *callLeg {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[callID]
}

// takeLeg marks the leg closed and reports whether the caller was the
// one to do so, making it responsible for the SIP-side goodbye.
func (g *gateway) takeLeg(l *callLeg) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	delete(g.calls, l.callID)
	return true
}

func (g *gateway) handleInvite(req sip.Request, tx sip.ServerTransaction) {
	cid, ok := req.CallID()
	if !ok || cid == nil {
		return
	}
	callID := string(*cid)

	toHdr, _ := req.To()
	ext := ""
	if toHdr != nil && toHdr.Address != nil {
		if u := toHdr.Address.User(); u != nil {
			ext = u.String()
		}
	}
	fromHdr, _ := req.From()
	callerNum := ""
	if fromHdr != nil && fromHdr.Address != nil {
		if u := fromHdr.Address.User(); u != nil {
			callerNum = u.String()
		}
	}
	sipLog.Infof("incoming INVITE for %s from %s (%s)", ext, callerNum, callID)

	if !engine.ExistsExtension(g.settings.Context(), ext, 1, callerNum) {
		sipLog.Warnf("no extension %s@%s for incoming call", ext, g.settings.Context())
		g.srv.RespondOnRequest(req, sip.StatusNotFound, "Not Found", "", nil)
		return
	}
	g.srv.RespondOnRequest(req, sip.StatusTrying, "Trying", "", nil)

	l := &callLeg{
		callID:     callID,
		cid:        cid,
		invite:     req,
		localAddr:  sip.NewAddressFromToHeader(toHdr),
		remoteAddr: sip.NewAddressFromFromHeader(fromHdr),
		cseq:       1,
	}
	if fromHdr != nil && fromHdr.Params != nil {
		if tag, ok := fromHdr.Params.Get("tag"); ok {
			l.remoteAddr.Params = l.remoteAddr.Params.Add("tag", tag)
		}
	}

	name := fmt.Sprintf("SIP/%s-%08x", ext, atomic.AddUint32(&g.seq, 1))
	sipChan := engine.NewChannel(engine.StateRing, ext, g.settings.Context(), "", name)
	sipChan.Lock()
	sipChan.AttachTechLocked(g.tech, l)
	sipChan.SetFormatsLocked(engine.FormatSLIN | engine.FormatULAW | engine.FormatALAW)
	sipChan.Caller = engine.Caller{ID: engine.PartyID{Number: callerNum}}
	sipChan.Unlock()
	l.sipChan = sipChan

	dest := ext + "@" + g.settings.Context()
	local, err := engine.Request(techLocal, engine.FormatSLIN, sipChan, dest)
	if err != nil {
		sipLog.Warnf("requesting %s failed: %v", dest, err)
		g.srv.RespondOnRequest(req, sip.StatusNotFound, "Not Found", "", nil)
		engine.Release(sipChan)
		return
	}
	l.localChan = local

	sipChan.Lock()
	sipChan.SetBridgeLocked(local)
	sipChan.Unlock()
	local.Lock()
	local.SetBridgeLocked(sipChan)
	local.Unlock()

	g.mu.Lock()
	g.calls[callID] = l
	g.mu.Unlock()

	if err := engine.Call(local, dest, g.settings.RingTimeout()); err != nil {
		sipLog.Warnf("calling %s failed: %v", dest, err)
		if g.takeLeg(l) {
			g.srv.RespondOnRequest(req, sip.StatusNotFound, "Not Found", "", nil)
		}
		engine.Hangup(local)
		engine.Release(sipChan)
		return
	}

	go g.pump(l)
}

func (g *gateway) handleAck(req sip.Request, tx sip.ServerTransaction) {
	if cid, ok := req.CallID(); ok && cid != nil {
		sipLog.Debugf("ACK for %s", string(*cid))
	}
}

func (g *gateway) handleBye(req sip.Request, tx sip.ServerTransaction) {
	g.srv.RespondOnRequest(req, sip.StatusOK, "OK", "", nil)
	cid, ok := req.CallID()
	if !ok || cid == nil {
		return
	}
	l := g.findLeg(string(*cid))
	if l == nil {
		return
	}
	sipLog.Infof("BYE ends call %s", l.callID)
	if g.takeLeg(l) {
		go func() {
			engine.Hangup(l.sipChan)
			l.localChan.SoftHangup(engine.CauseNormalClearing)
		}()
	}
}

// handleInfo turns dtmf-relay INFO bodies into digits on the Local
// leg.
func (g *gateway) handleInfo(req sip.Request, tx sip.ServerTransaction) {
	g.srv.RespondOnRequest(req, sip.StatusOK, "OK", "", nil)
	cid, ok := req.CallID()
	if !ok || cid == nil {
		return
	}
	l := g.findLeg(string(*cid))
	if l == nil {
		return
	}
	for _, line := range strings.Split(req.Body(), "\n") {
		if digit, found := strings.CutPrefix(strings.TrimSpace(line), "Signal="); found && digit != "" {
			sipLog.Debugf("DTMF %q on %s", digit[0], l.callID)
			engine.SendDigitEnd(l.localChan, digit[0], 250*time.Millisecond)
		}
	}
}

// pump reads frames surfacing on the Local owner side and translates
// them into SIP signalling until the call dies.
func (g *gateway) pump(l *callLeg) {
	for {
		f, err := l.localChan.ReadWait(context.Background())
		if err != nil {
			return
		}
		switch f.Kind {
		case engine.FrameControl:
			switch f.Condition {
			case engine.CondRinging:
				engine.Indicate(l.sipChan, engine.CondRinging, nil)
			case engine.CondProgress, engine.CondProceeding:
				// Early media is not carried, nothing to send.
			case engine.CondAnswer:
				engine.Answer(l.sipChan)
			case engine.CondBusy, engine.CondCongestion:
				if g.takeLeg(l) {
					g.srv.RespondOnRequest(l.invite, sip.StatusCode(486), "Busy Here", "", nil)
				}
				engine.Hangup(l.localChan)
				engine.Release(l.sipChan)
				return
			case engine.CondHangup:
				engine.Hangup(l.localChan)
				engine.Hangup(l.sipChan)
				return
			default:
				engine.Indicate(l.sipChan, f.Condition, f.Payload)
			}
		case engine.FrameVoice, engine.FrameVideo, engine.FrameDTMFBegin, engine.FrameDTMFEnd, engine.FrameText:
			engine.Write(l.sipChan, f)
		}
	}
}

// sendBye closes the SIP dialog from our side. The leg is already
// closed, so the addressing fields are ours alone.
func (g *gateway) sendBye(l *callLeg) {
	l.cseq++
	rb := sip.NewRequestBuilder().
		SetMethod(sip.BYE).
		SetRecipient(l.remoteAddr.Uri).
		SetFrom(l.localAddr).
		SetTo(l.remoteAddr).
		SetCallID(l.cid).
		SetSeqNo(l.cseq)

	req, err := rb.Build()
	if err != nil {
		sipLog.Warnf("build BYE for %s: %v", l.callID, err)
		return
	}
	if _, err := g.srv.Request(req); err != nil {
		sipLog.Warnf("send BYE for %s: %v", l.callID, err)
	}
}

// sipTech is the minimal SIP endpoint driver behind the gateway's
// channels. Media is signalled but not carried.
type sipTech struct {
	engine.BaseTech
	gw *gateway
}

func (t *sipTech) TypeName() string    { return "SIP" }
func (t *sipTech) Description() string { return "Minimal SIP endpoint driver" }

func (t *sipTech) Answer(c *engine.Channel) error {
	l, ok := c.TechPvtLocked().(*callLeg)
	if !ok {
		return nil
	}
	res := sip.NewResponseFromRequest("", l.invite, sip.StatusOK, "OK", "")
	tag := util.RandString(8)
	if toHdr, ok := res.To(); ok && toHdr != nil {
		toHdr.Params = toHdr.Params.Add("tag", sip.String{Str: tag})
		l.localAddr.Params = l.localAddr.Params.Add("tag", sip.String{Str: tag})
	}
	if _, err := t.gw.srv.Respond(res); err != nil {
		return fmt.Errorf("send 200 OK: %w", err)
	}
	return nil
}

func (t *sipTech) Indicate(c *engine.Channel, cond engine.Condition, payload []byte) error {
	l, ok := c.TechPvtLocked().(*callLeg)
	if !ok {
		return nil
	}
	switch cond {
	case engine.CondRinging:
		res := sip.NewResponseFromRequest("", l.invite, sip.StatusCode(180), "Ringing", "")
		if _, err := t.gw.srv.Respond(res); err != nil {
			return fmt.Errorf("send 180 Ringing: %w", err)
		}
	default:
		sipLog.Debugf("indication %s on %s not translated", cond, c.NameLocked())
	}
	return nil
}

func (t *sipTech) Write(c *engine.Channel, f engine.Frame) error {
	// No media stack; frames vanish here.
	return nil
}

func (t *sipTech) Hangup(c *engine.Channel) error {
	l, ok := c.TechPvtLocked().(*callLeg)
	if !ok {
		return nil
	}
	c.SetTechPvtLocked(nil)
	if t.gw.takeLeg(l) {
		go t.gw.sendBye(l)
	}
	return nil
}
