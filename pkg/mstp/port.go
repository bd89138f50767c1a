// Package mstp implements the MS/TP (Master-Slave/Token-Passing) data-link
// layer: the byte-level receive FSM, the master-node and slave-node token
// FSMs, and the zero-configuration/auto-baud extensions, all driven by a
// serial.Driver (ANSI/ASHRAE 135 Clause 9). Grounded on the teacher's
// bus_manager.go (single-owner dispatch table, mutex-guarded state) and
// pkg/sdo/client.go (explicit retry/timeout counters driven by an external
// tick rather than hidden goroutine timers).
package mstp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/bacterium-io/mstpstack/pkg/frame"
	"github.com/bacterium-io/mstpstack/pkg/serial"
)

// MasterState enumerates the master-node FSM states of §4.4.
type MasterState int

const (
	StateInitialize MasterState = iota
	StateIdle
	StateUseToken
	StateWaitForReply
	StateDoneWithToken
	StatePassToken
	StateNoToken
	StatePollForMaster
	StateAnswerDataRequest
)

func (s MasterState) String() string {
	switch s {
	case StateInitialize:
		return "Initialize"
	case StateIdle:
		return "Idle"
	case StateUseToken:
		return "UseToken"
	case StateWaitForReply:
		return "WaitForReply"
	case StateDoneWithToken:
		return "DoneWithToken"
	case StatePassToken:
		return "PassToken"
	case StateNoToken:
		return "NoToken"
	case StatePollForMaster:
		return "PollForMaster"
	case StateAnswerDataRequest:
		return "AnswerDataRequest"
	default:
		return "Unknown"
	}
}

// SlaveState enumerates the two-state slave-node FSM of §4.4.
type SlaveState int

const (
	SlaveIdle SlaveState = iota
	SlaveRespond
)

// Config configures a Port per SPEC_FULL.md §6.
type Config struct {
	ThisStation       uint8
	MaxMaster         uint8 // Nmax_master, <=127
	MaxInfoFrames     uint8 // Nmax_info_frames, >=1
	BaudRate          int
	SlaveMode         bool
	ZeroConfigEnabled bool
	AutoBaudEnabled   bool
	PreferredStation  uint8 // only consulted when ZeroConfigEnabled
}

// Validate enforces the invariants SPEC_FULL.md §9 decided on: auto-baud
// and zero-config may not run together (both depend on silent-bus
// inference and would starve each other), and MaxMaster must stay in the
// legal master-address range.
func (c Config) Validate() error {
	if c.MaxMaster > 127 {
		return errors.New("mstp: max_master must be <= 127")
	}
	if c.MaxInfoFrames == 0 {
		return errors.New("mstp: max_info_frames must be >= 1")
	}
	if !serial.IsValidBaudRate(c.BaudRate) && !c.AutoBaudEnabled {
		return fmt.Errorf("mstp: invalid baud rate %d", c.BaudRate)
	}
	if c.AutoBaudEnabled && c.ZeroConfigEnabled {
		return errors.New("mstp: auto_baud_enabled and zero_config_enabled are mutually exclusive")
	}
	if !c.SlaveMode && !c.ZeroConfigEnabled && c.ThisStation > 127 {
		return errors.New("mstp: master station address must be <= 127")
	}
	return nil
}

// EventKind classifies what an Event delivers to the layer above the link.
type EventKind int

const (
	EventDataFrame EventKind = iota
	EventProprietaryFrame
	EventLinkStateChanged
)

// Event is handed to the dispatcher (C9) or logged by the daemon. DataFrame
// and ProprietaryFrame events carry the originating frame. Event has no
// state fields; the current MasterState is read through the Port's own
// State() accessor.
type Event struct {
	Kind   EventKind
	Source uint8
	Frame  frame.Frame
}

// OutgoingFrame is a unit of outbound traffic queued by the application for
// transmission the next time this node holds the token (or, in slave
// mode, the specific reply to a pending DataExpectingReply).
type OutgoingFrame struct {
	Type         frame.Type
	Dest         uint8
	Payload      []byte
	ExpectsReply bool
}

// Stats are monotonically increasing counters, read-only to callers other
// than this package. Exposed for pkg/metrics (A4) to mirror into
// Prometheus counters.
type Stats struct {
	FramesSent        uint64
	FramesReceived    uint64
	InvalidFrames     uint64
	ReceiveErrors     uint64
	TokensHeld        uint64
	TokensPassed      uint64
	TokenLost         uint64
	PollForMasterSent uint64
	SoleMasterEvents  uint64
}

// Port is a single MS/TP node: one RS-485 segment, one station address,
// one receive FSM, and either a master-node or slave-node token FSM.
type Port struct {
	mu     sync.Mutex
	cfg    Config
	driver serial.Driver
	rx     *ReceiveFSM
	log    *log.Entry

	state      MasterState
	slaveState SlaveState

	nextStation uint8
	pollStation uint8
	pollSweepStart uint8
	pollReason  pollReason
	pollSentAt  time.Time
	tokenCount  uint32
	frameCount  uint8
	soleMaster  bool

	stateEnteredAt   time.Time
	lastValidFrameAt time.Time
	lastActivityAt   time.Time
	currentNow       time.Time
	pfmRetried       bool
	pendingFrames    []frame.Frame
	waitingReplyFrom uint8

	outbound     []OutgoingFrame
	owedReplyTo  uint8 // ANSWER_DATA_REQUEST: who we owe a reply
	owedReplyDue time.Time

	events chan Event
	stats  Stats

	zc *zeroConfigState
	ab *autoBaudState

	lostTokenStreak uint32
}

// New constructs a Port bound to driver, validating cfg first.
func New(cfg Config, driver serial.Driver) (*Port, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Port{
		cfg:         cfg,
		driver:      driver,
		rx:          NewReceiveFSM(),
		log:         log.WithField("component", "mstp").WithField("station", cfg.ThisStation),
		state:       StateInitialize,
		nextStation: cfg.ThisStation,
		pollStation: cfg.ThisStation,
		events:      make(chan Event, 64),
	}
	if cfg.ZeroConfigEnabled {
		p.zc = newZeroConfigState(cfg)
	}
	if cfg.AutoBaudEnabled {
		p.ab = newAutoBaudState()
	}
	return p, nil
}

// Events returns the channel Event values are delivered on. The caller
// (typically the datalink.MSTP adapter) must drain it; Port never blocks
// trying to send (SPEC_FULL.md §5: "the dispatcher never blocks"): if the
// channel is full the event is dropped and a warning is logged.
func (p *Port) Events() <-chan Event { return p.events }

// State returns the current master-node FSM state. Meaningless in slave mode.
func (p *Port) State() MasterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Stats returns a snapshot of the link's counters.
func (p *Port) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Submit queues an outgoing frame for transmission on this node's next
// token hold (master mode) or as the reply to a pending DataExpectingReply
// (slave mode / ANSWER_DATA_REQUEST).
func (p *Port) Submit(f OutgoingFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outbound = append(p.outbound, f)
}

func (p *Port) emit(evt Event) {
	select {
	case p.events <- evt:
	default:
		p.log.Warn("event channel full, dropping delivery")
	}
}

func (p *Port) setState(next MasterState, now time.Time) {
	if p.state != next {
		p.log.WithFields(log.Fields{"from": p.state, "to": next}).Debug("state transition")
	}
	p.state = next
	p.stateEnteredAt = now
	p.pfmRetried = false
}

func (p *Port) send(f frame.Frame) error {
	wire, err := frame.Encode(f)
	if err != nil {
		return err
	}
	if err := p.driver.Send(wire); err != nil {
		return err
	}
	p.stats.FramesSent++
	p.lastActivityAt = p.currentNow
	return nil
}

// Poll drives both the byte-level receiver and the token FSM by one
// scheduling quantum. Call it in a tight loop (SPEC_FULL.md §5: one
// cooperative thread per port); now is the caller's monotonic clock
// sample, threaded through explicitly so tests can simulate time without
// real sleeps. All "silence since last activity" comparisons
// (Tno_token, the NoToken slot) are measured against this clock rather
// than the driver's own SilenceMs, so that link-engine behavior under
// test never depends on wall-clock sleeps.
func (p *Port) Poll(now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentNow = now
	if p.lastActivityAt.IsZero() {
		p.lastActivityAt = now
	}
	if p.lastValidFrameAt.IsZero() {
		p.lastValidFrameAt = now
	}
	p.drainReceiver(now)

	if p.ab != nil && !p.ab.done {
		p.pollAutoBaud(now)
		return nil
	}

	var err error
	if p.cfg.SlaveMode {
		p.pollSlave(now)
	} else {
		err = p.pollMaster(now)
	}

	// zc.step runs after frame dispatch so a collision flagged by this
	// tick's PollForMaster/TestResponse traffic (handled above, inside
	// pollMaster/pollSlave) is visible before the claim/retry decision.
	if p.zc != nil {
		p.zc.step(p, now)
	}
	return err
}

func (p *Port) drainReceiver(now time.Time) {
	for {
		b, ok := p.driver.ByteAvailable()
		if !ok {
			break
		}
		p.lastActivityAt = now
		evt, f := p.rx.PushByte(b, now)
		p.handleReceiveEvent(evt, f)
	}
	p.handleReceiveEvent(p.rx.CheckAbort(now), frame.Frame{})
}

func (p *Port) handleReceiveEvent(evt ReceiveEvent, f frame.Frame) {
	switch evt {
	case EventReceivedValidFrame:
		p.stats.FramesReceived++
		p.pendingFrames = append(p.pendingFrames, f)
	case EventReceivedInvalidFrame:
		p.stats.InvalidFrames++
	case EventReceiveError:
		p.stats.ReceiveErrors++
	}
}

// nextPendingFrame pops the oldest frame delivered by the receiver since
// the last call, if any. Multiple frames can complete within a single
// Poll when the driver hands back several buffered bytes at once; queuing
// them (rather than keeping only the latest) keeps frame order intact.
func (p *Port) nextPendingFrame() (frame.Frame, bool) {
	if len(p.pendingFrames) == 0 {
		return frame.Frame{}, false
	}
	f := p.pendingFrames[0]
	p.pendingFrames = p.pendingFrames[1:]
	return f, true
}

// forUs reports whether a frame is addressed to this station or broadcast.
func (p *Port) forUs(dest uint8) bool {
	return dest == frame.Broadcast || dest == p.cfg.ThisStation
}
