package mstp

import (
	"time"

	"github.com/bacterium-io/mstpstack/pkg/frame"
)

// pollReason distinguishes the two circumstances that drive a node into
// StatePollForMaster: looking for a replacement/additional master to
// extend the ring (DoneWithToken, PassToken-retry-exhausted), versus
// looking for any master at all because this node believes the token is
// lost (NoToken timeout).
type pollReason int

const (
	pollExpandRing pollReason = iota
	pollAcquireToken
)

func wrapAddress(addr, max uint8) uint8 {
	if addr > max {
		return 0
	}
	return addr
}

func (p *Port) pollMaster(now time.Time) error {
	handledFrame := false
	for {
		f, ok := p.nextPendingFrame()
		if !ok {
			break
		}
		p.lastValidFrameAt = now
		p.handleFrame(f, now)
		handledFrame = true
	}
	// A frame just moved the FSM; let that transition settle on its own
	// tick rather than cascading straight into the new state's logic.
	if handledFrame {
		return nil
	}

	switch p.state {
	case StateInitialize:
		p.setState(StateIdle, now)
	case StateIdle:
		p.masterIdle(now)
	case StateUseToken:
		p.masterUseToken(now)
	case StateWaitForReply:
		p.masterWaitForReply(now)
	case StateDoneWithToken:
		p.masterDoneWithToken(now)
	case StatePassToken:
		p.masterPassToken(now)
	case StateNoToken:
		p.masterNoToken(now)
	case StatePollForMaster:
		p.masterPollForMaster(now)
	case StateAnswerDataRequest:
		p.masterAnswerDataRequest(now)
	}
	return nil
}

// handleFrame dispatches a just-received, CRC-valid frame. It runs
// regardless of the current master-node state, mirroring the fact that
// the receive FSM is always live on the wire.
func (p *Port) handleFrame(f frame.Frame, now time.Time) {
	if f.Type.IsProprietary() || f.Type.IsReserved() {
		if p.forUs(f.Dest) {
			p.emit(Event{Kind: EventProprietaryFrame, Source: f.Src, Frame: f})
		}
		return
	}

	if p.state == StateWaitForReply && f.Src == p.waitingReplyFrom && f.Type != frame.ReplyPostponed {
		p.waitingReplyFrom = 0
		p.setState(StateUseToken, now)
		return
	}

	switch f.Type {
	case frame.Token:
		if f.Dest == p.cfg.ThisStation {
			p.becomeTokenHolder(now)
		}

	case frame.PollForMaster:
		if p.zc != nil && !p.zc.claimed {
			p.zc.onPollForMaster(p, f, now)
			return
		}
		if p.forUs(f.Dest) {
			p.replyToPollForMaster(f.Src)
		}

	case frame.ReplyToPollForMaster:
		if p.state == StatePollForMaster && f.Dest == p.cfg.ThisStation {
			p.handlePFMReply(f.Src, now)
		}

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
			p.setState(StateAnswerDataRequest, now)
			p.emit(Event{Kind: EventDataFrame, Source: f.Src, Frame: f})
		}

	case frame.DataNotExpectingReply:
		if p.forUs(f.Dest) {
			p.emit(Event{Kind: EventDataFrame, Source: f.Src, Frame: f})
		}

	case frame.ReplyPostponed:
		if p.state == StateWaitForReply && f.Src == p.waitingReplyFrom {
			p.waitingReplyFrom = 0
			p.setState(StateDoneWithToken, now)
		}
	}
}

func (p *Port) becomeTokenHolder(now time.Time) {
	p.stats.TokensHeld++
	p.tokenCount++
	p.frameCount = 0
	p.setState(StateUseToken, now)
}

func (p *Port) replyToPollForMaster(src uint8) {
	_ = p.send(frame.Frame{Type: frame.ReplyToPollForMaster, Dest: src, Src: p.cfg.ThisStation})
}

func (p *Port) masterIdle(now time.Time) {
	if now.Sub(p.lastActivityAt) >= TNoToken {
		p.setState(StateNoToken, now)
	}
}

func (p *Port) masterUseToken(now time.Time) {
	if len(p.outbound) == 0 || p.frameCount >= p.cfg.MaxInfoFrames {
		p.setState(StateDoneWithToken, now)
		return
	}

	next := p.outbound[0]
	p.outbound = p.outbound[1:]
	f := frame.Frame{Type: next.Type, Dest: next.Dest, Src: p.cfg.ThisStation, Payload: next.Payload}
	if err := p.send(f); err != nil {
		p.log.WithError(err).Warn("failed to send queued frame")
		return
	}
	p.frameCount++

	if next.ExpectsReply {
		p.waitingReplyFrom = next.Dest
		p.setState(StateWaitForReply, now)
	}
	// else: loop, stay in UseToken for the next poll tick
}

func (p *Port) masterWaitForReply(now time.Time) {
	if now.Sub(p.stateEnteredAt) > TReplyTimeout {
		p.waitingReplyFrom = 0
		p.setState(StateDoneWithToken, now)
	}
}

func (p *Port) masterDoneWithToken(now time.Time) {
	if p.tokenCount >= NPoll {
		p.tokenCount = 0
		p.enterPollForMaster(now, wrapAddress(p.nextStation+1, p.cfg.MaxMaster), pollExpandRing)
		return
	}
	p.enterPassToken(now)
}

func (p *Port) enterPassToken(now time.Time) {
	p.sendToken(p.nextStation)
	p.frameCount = 0
	p.stats.TokensPassed++
	p.setState(StatePassToken, now)
}

func (p *Port) sendToken(dest uint8) {
	_ = p.send(frame.Frame{Type: frame.Token, Dest: dest, Src: p.cfg.ThisStation})
}

func (p *Port) masterPassToken(now time.Time) {
	if p.lastValidFrameAt.After(p.stateEnteredAt) {
		p.setState(StateIdle, now)
		return
	}
	if now.Sub(p.stateEnteredAt) <= TUsageTimeout {
		return
	}
	if !p.pfmRetried {
		p.pfmRetried = true
		p.sendToken(p.nextStation)
		p.stateEnteredAt = now
		return
	}
	p.enterPollForMaster(now, wrapAddress(p.nextStation+1, p.cfg.MaxMaster), pollExpandRing)
}

func (p *Port) masterNoToken(now time.Time) {
	if p.lastValidFrameAt.After(p.stateEnteredAt) {
		p.setState(StateIdle, now)
		return
	}
	slot := TNoToken + time.Duration(p.cfg.ThisStation+1)*TSlot
	if now.Sub(p.stateEnteredAt) > slot {
		p.stats.TokenLost++
		p.lostTokenStreak++
		p.enterPollForMaster(now, wrapAddress(p.cfg.ThisStation+1, p.cfg.MaxMaster), pollAcquireToken)
	}
}

func (p *Port) enterPollForMaster(now time.Time, start uint8, reason pollReason) {
	p.pollReason = reason
	p.pollStation = start
	p.pollSweepStart = start
	p.setState(StatePollForMaster, now)
	p.sendPollForMaster(start, now)
}

func (p *Port) sendPollForMaster(dest uint8, now time.Time) {
	_ = p.send(frame.Frame{Type: frame.PollForMaster, Dest: dest, Src: p.cfg.ThisStation})
	p.stats.PollForMasterSent++
	p.pollSentAt = now
}

func (p *Port) masterPollForMaster(now time.Time) {
	if now.Sub(p.pollSentAt) <= TUsageTimeout {
		return
	}
	advanced := wrapAddress(p.pollStation+1, p.cfg.MaxMaster)
	// A token-acquiring sweep ends before reaching this station's own address.
	if advanced == p.pollSweepStart || (p.pollReason == pollAcquireToken && advanced == p.cfg.ThisStation) {
		p.finishPollSweep(now)
		return
	}
	p.pollStation = advanced
	p.sendPollForMaster(p.pollStation, now)
}

func (p *Port) finishPollSweep(now time.Time) {
	switch p.pollReason {
	case pollExpandRing:
		p.enterPassToken(now)
	case pollAcquireToken:
		p.soleMaster = true
		p.stats.SoleMasterEvents++
		p.nextStation = p.cfg.ThisStation
		p.lostTokenStreak = 0
		p.frameCount = 0
		p.setState(StateUseToken, now)
	}
}

func (p *Port) handlePFMReply(src uint8, now time.Time) {
	p.nextStation = src
	switch p.pollReason {
	case pollExpandRing:
		p.enterPassToken(now)
	case pollAcquireToken:
		p.soleMaster = false
		p.setState(StateIdle, now)
	}
}

func (p *Port) masterAnswerDataRequest(now time.Time) {
	for i, o := range p.outbound {
		if o.Dest != p.owedReplyTo {
			continue
		}
		f := frame.Frame{Type: o.Type, Dest: o.Dest, Src: p.cfg.ThisStation, Payload: o.Payload}
		if err := p.send(f); err != nil {
			p.log.WithError(err).Warn("failed to send queued answer")
			continue
		}
		p.outbound = append(p.outbound[:i], p.outbound[i+1:]...)
		p.setState(StateIdle, now)
		return
	}
	if !now.Before(p.owedReplyDue) {
		_ = p.send(frame.Frame{Type: frame.ReplyPostponed, Dest: p.owedReplyTo, Src: p.cfg.ThisStation})
		p.setState(StateIdle, now)
	}
}
