package mstp

import (
	"time"

	"github.com/bacterium-io/mstpstack/pkg/frame"
)

// pollSlave drives the two-state slave-node FSM (§4.4): a slave never
// holds the token and only ever answers a DataExpectingReply addressed to
// it, within TReplyDelay, with either a queued reply or ReplyPostponed.
func (p *Port) pollSlave(now time.Time) {
	handledFrame := false
	for {
		f, ok := p.nextPendingFrame()
		if !ok {
			break
		}
		p.lastValidFrameAt = now
		p.handleSlaveFrame(f, now)
		handledFrame = true
	}
	if handledFrame {
		return
	}

	if p.slaveState == SlaveRespond {
		p.slaveRespond(now)
	}
}

func (p *Port) handleSlaveFrame(f frame.Frame, now time.Time) {
	if f.Type.IsProprietary() || f.Type.IsReserved() {
		if p.forUs(f.Dest) {
			p.emit(Event{Kind: EventProprietaryFrame, Source: f.Src, Frame: f})
		}
		return
	}

	switch f.Type {
	case frame.PollForMaster:
		if p.zc != nil && !p.zc.claimed {
			p.zc.onPollForMaster(p, f, now)
		}
		// A slave never replies to PollForMaster: it is not master-capable.

	case frame.TestRequest:
		if p.forUs(f.Dest) {
			_ = p.send(frame.Frame{Type: frame.TestResponse, Dest: f.Src, Src: p.cfg.ThisStation})
		}

	case frame.TestResponse:
		if p.zc != nil && !p.zc.claimed {
			p.zc.onTestResponse(f.Src)
		}

	case frame.DataExpectingReply:
		if f.Dest == p.cfg.ThisStation {
			p.owedReplyTo = f.Src
			p.owedReplyDue = now.Add(TReplyDelay)
			p.slaveState = SlaveRespond
			p.emit(Event{Kind: EventDataFrame, Source: f.Src, Frame: f})
		}

	case frame.DataNotExpectingReply:
		if p.forUs(f.Dest) {
			p.emit(Event{Kind: EventDataFrame, Source: f.Src, Frame: f})
		}
	}
}

func (p *Port) slaveRespond(now time.Time) {
	for i, o := range p.outbound {
		if o.Dest != p.owedReplyTo {
			continue
		}
		f := frame.Frame{Type: o.Type, Dest: o.Dest, Src: p.cfg.ThisStation, Payload: o.Payload}
		if err := p.send(f); err != nil {
			p.log.WithError(err).Warn("failed to send queued slave reply")
			continue
		}
		p.outbound = append(p.outbound[:i], p.outbound[i+1:]...)
		p.slaveState = SlaveIdle
		return
	}
	if !now.Before(p.owedReplyDue) {
		_ = p.send(frame.Frame{Type: frame.ReplyPostponed, Dest: p.owedReplyTo, Src: p.cfg.ThisStation})
		p.slaveState = SlaveIdle
	}
}
