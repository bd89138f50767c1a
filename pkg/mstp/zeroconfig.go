package mstp

import (
	"time"

	"github.com/bacterium-io/mstpstack/pkg/frame"
)

// zcPhase tracks where a zero-config claim is: listening counts token-pass
// cycles before a candidate is even chosen; verifying counts the cycles
// after the candidate has been bracketed with PollForMaster/TestRequest,
// watching for a collision.
type zcPhase int

const (
	zcListening zcPhase = iota
	zcVerifying
)

// zeroConfigState implements the optional address auto-assignment
// extension of §4.4: a node configured with ThisStation left at 0 listens
// for a full token-pass cycle, then claims PreferredStation (or the first
// free slot in [64,127]) by bracketing a TestRequest with PollForMaster
// frames; any reply aborts the claim and the next candidate is tried.
// Claim succeeds after zeroConfigClaimTokens consecutive token passes are
// observed past the bracket without a collision on the claimed address.
type zeroConfigState struct {
	cfg        Config
	candidate  uint8
	claimed    bool
	phase      zcPhase
	tokensSeen uint32
	collided   bool
}

const zeroConfigRangeLo uint8 = 64
const zeroConfigRangeHi uint8 = 127

func newZeroConfigState(cfg Config) *zeroConfigState {
	start := cfg.PreferredStation
	if start < zeroConfigRangeLo || start > zeroConfigRangeHi {
		start = zeroConfigRangeLo
	}
	return &zeroConfigState{cfg: cfg, candidate: start, phase: zcListening}
}

// onPollForMaster observes PFM traffic: while listening it counts
// token-pass cycles toward starting a claim; while verifying, a PFM naming
// our candidate means someone else is already using it, and otherwise it
// counts toward the claim succeeding.
func (z *zeroConfigState) onPollForMaster(p *Port, f frame.Frame, now time.Time) {
	switch z.phase {
	case zcListening:
		z.tokensSeen++
		if z.tokensSeen >= zeroConfigClaimTokens {
			z.phase = zcVerifying
			z.tokensSeen = 0
			z.beginClaim(p)
		}
	case zcVerifying:
		if f.Dest == z.candidate {
			z.collided = true
			return
		}
		z.tokensSeen++
	}
}

// onTestResponse observes a reply to our claim-verification TestRequest:
// a TestResponse whose source is the address we are probing means some
// other node already answers for it.
func (z *zeroConfigState) onTestResponse(src uint8) {
	if src == z.candidate {
		z.collided = true
	}
}

func (z *zeroConfigState) beginClaim(p *Port) {
	z.collided = false
	_ = p.send(frame.Frame{Type: frame.PollForMaster, Dest: z.candidate, Src: z.candidate})
	_ = p.send(frame.Frame{Type: frame.TestRequest, Dest: z.candidate, Src: z.candidate})
}

// step finalizes the claim or retry decision once per poll tick, after
// this tick's frames have already been dispatched (so a collision flagged
// by onPollForMaster/onTestResponse above is visible here).
func (z *zeroConfigState) step(p *Port, now time.Time) {
	if z.claimed || z.phase == zcListening {
		return
	}
	if z.collided {
		z.candidate = nextZeroConfigCandidate(z.candidate)
		z.phase = zcListening
		z.tokensSeen = 0
		z.collided = false
		return
	}
	if z.tokensSeen >= zeroConfigClaimTokens {
		z.claimed = true
		p.cfg.ThisStation = z.candidate
		p.nextStation = z.candidate
		p.pollStation = z.candidate
		p.log.WithField("claimed_station", z.candidate).Info("zero-config address claim succeeded")
	}
}

func nextZeroConfigCandidate(c uint8) uint8 {
	if c >= zeroConfigRangeHi {
		return zeroConfigRangeLo
	}
	return c + 1
}
