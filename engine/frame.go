package engine

import "time"

// FrameKind classifies the messages that travel through channel read
// queues.
type FrameKind int

const (
	FrameNull FrameKind = iota
	FrameControl
	FrameVoice
	FrameVideo
	FrameDTMFBegin
	FrameDTMFEnd
	FrameText
	FrameHTML
)

func (k FrameKind) String() string {
	switch k {
	case FrameNull:
		return "null"
	case FrameControl:
		return "control"
	case FrameVoice:
		return "voice"
	case FrameVideo:
		return "video"
	case FrameDTMFBegin:
		return "dtmf-begin"
	case FrameDTMFEnd:
		return "dtmf-end"
	case FrameText:
		return "text"
	case FrameHTML:
		return "html"
	}
	return "unknown"
}

// Condition is the subclass of a control frame.
type Condition int

const (
	CondNone Condition = iota
	CondHangup
	CondRinging
	CondAnswer
	CondBusy
	CondCongestion
	CondProgress
	CondProceeding
	CondHold
	CondUnhold
	CondFlash
	CondConnectedLine
	CondRedirecting
)

func (c Condition) String() string {
	switch c {
	case CondNone:
		return "none"
	case CondHangup:
		return "hangup"
	case CondRinging:
		return "ringing"
	case CondAnswer:
		return "answer"
	case CondBusy:
		return "busy"
	case CondCongestion:
		return "congestion"
	case CondProgress:
		return "progress"
	case CondProceeding:
		return "proceeding"
	case CondHold:
		return "hold"
	case CondUnhold:
		return "unhold"
	case CondFlash:
		return "flash"
	case CondConnectedLine:
		return "connected-line"
	case CondRedirecting:
		return "redirecting"
	}
	return "unknown"
}

// Cause is a Q.850-style hangup cause code.
type Cause int

const (
	CauseNotDefined        Cause = 0
	CauseUnallocated       Cause = 1
	CauseNormalClearing    Cause = 16
	CauseUserBusy          Cause = 17
	CauseNoUserResponse    Cause = 18
	CauseNoAnswer          Cause = 19
	CauseAnsweredElsewhere Cause = 26
	CauseCongestion        Cause = 34
)

// Frame is one control/media/signal event. Frames are values; queueing
// one copies the payload so the producer's buffer is never shared.
type Frame struct {
	Kind      FrameKind
	Condition Condition     // control frames
	Cause     Cause         // hangup control frames
	Digit     byte          // dtmf frames
	Duration  time.Duration // dtmf-end frames
	Subclass  int           // html frames
	Payload   []byte
}

// Clone returns f with its own copy of the payload buffer.
func (f Frame) Clone() Frame {
	if f.Payload != nil {
		f.Payload = append([]byte(nil), f.Payload...)
	}
	return f
}
