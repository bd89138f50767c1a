// Package tsm implements the Transaction State Machine: per-invoke-id
// lifecycle tracking for confirmed BACnet requests — send, await
// acknowledgement, retry on silence, and eventual timeout or free.
package tsm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/bacterium-io/mstpstack/pkg/datalink"
)

// State is a transaction's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateAwaitConfirmation
	StateAwaitResponse
	StateSegmentedRequest
	StateSegmentedConfirmation
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitConfirmation:
		return "AWAIT_CONFIRMATION"
	case StateAwaitResponse:
		return "AWAIT_RESPONSE"
	case StateSegmentedRequest:
		return "SEGMENTED_REQUEST"
	case StateSegmentedConfirmation:
		return "SEGMENTED_CONFIRMATION"
	default:
		return "UNKNOWN"
	}
}

// Outcome is how a transaction concluded, carried on its CompletionEvent.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeAck
	OutcomeTimeout
	OutcomeError
	OutcomeReject
	OutcomeAbort
)

// AckKind identifies which kind of reply OnAck was handed.
type AckKind int

const (
	AckSimple   AckKind = iota // SimpleAck
	AckComplex                 // final (or only) segment of a ComplexAck
	AckSegment                 // a ComplexAck segment with more-follows set
	AckError                   // Error PDU
	AckReject                  // Reject PDU
	AckAbort                   // Abort PDU
)

var (
	ErrBusy            = errors.New("tsm: invoke-id space exhausted")
	ErrTimeout         = errors.New("tsm: all retries exhausted")
	ErrUnknownInvokeID = errors.New("tsm: no transaction for invoke-id")
)

// CompletionEvent reports a transaction reaching a terminal outcome.
// It does not free the invoke-id; the caller must call Free explicitly.
type CompletionEvent struct {
	InvokeID byte
	Outcome  Outcome
	Payload  []byte
	Err      error
}

type transaction struct {
	invokeID      byte
	correlationID uuid.UUID
	peer          datalink.Address
	npduHeader    []byte
	apdu          []byte
	state         State
	retriesLeft   uint8
	timerMs       uint32
	reassembled   []byte

	// done marks a terminal outcome (ack, timeout, error, reject, abort).
	// The slot still occupies the invoke-id until Free is called, so a
	// caller can observe IsFailed after the fact.
	done    bool
	outcome Outcome
}

// Config tunes retry behavior. Zero values take the defaults named in the
// protocol (APDU_TIMEOUT=3000ms, APDU_RETRIES=3).
type Config struct {
	APDUTimeoutMs    uint32
	APDURetries      uint8
	SegmentTimeoutMs uint32

	// SnapshotPath, when set, enables D5 crash-recovery snapshotting: a
	// CBOR-encoded record is written on Begin and cleared on Free.
	SnapshotPath string
}

func (c Config) withDefaults() Config {
	if c.APDUTimeoutMs == 0 {
		c.APDUTimeoutMs = 3000
	}
	if c.APDURetries == 0 {
		c.APDURetries = 3
	}
	if c.SegmentTimeoutMs == 0 {
		c.SegmentTimeoutMs = 2000
	}
	return c
}

// snapshotRecord is the on-disk shape of a live transaction for D5.
type snapshotRecord struct {
	InvokeID      byte             `cbor:"invoke_id"`
	CorrelationID string           `cbor:"correlation_id"`
	Peer          datalink.Address `cbor:"peer"`
	TimerMs       uint32           `cbor:"timer_ms"`
}

// TSM is the invoke-id table: at most 256 live transactions, round-robin
// allocated, one per live invoke-id (§3: "Transaction Record").
type TSM struct {
	mu    sync.Mutex
	cfg   Config
	link  datalink.Datalink
	slots [256]*transaction
	next  byte

	snapshots map[byte]snapshotRecord
	events    chan CompletionEvent
	log       *log.Entry
}

// New builds a TSM that transmits confirmed requests (and their retries)
// over link.
func New(link datalink.Datalink, cfg Config) *TSM {
	return &TSM{
		cfg:       cfg.withDefaults(),
		link:      link,
		snapshots: make(map[byte]snapshotRecord),
		events:    make(chan CompletionEvent, 64),
		log:       log.WithField("component", "tsm"),
	}
}

// Events returns the channel of terminal transaction outcomes. Readers
// should drain it promptly; a full channel drops events (logged at Warn)
// rather than block Tick/OnAck.
func (t *TSM) Events() <-chan CompletionEvent { return t.events }

// Begin allocates a free invoke-id, transmits npduHeader+apdu via the
// underlying data link, and arms the APDU timer. It returns ErrBusy if
// all 256 invoke-ids are currently live.
func (t *TSM) Begin(ctx context.Context, peer datalink.Address, npduHeader, apdu []byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.allocateLocked()
	if !ok {
		return 0, ErrBusy
	}

	tx := &transaction{
		invokeID:      id,
		correlationID: uuid.New(),
		peer:          peer,
		npduHeader:    append([]byte{}, npduHeader...),
		apdu:          append([]byte{}, apdu...),
		state:         StateAwaitConfirmation,
		retriesLeft:   t.cfg.APDURetries,
		timerMs:       t.cfg.APDUTimeoutMs,
	}

	entry := t.log.WithFields(log.Fields{"invoke_id": id, "correlation_id": tx.correlationID})
	if _, err := t.link.Send(peer, npduHeader, apdu); err != nil {
		entry.WithError(err).Warn("failed to transmit confirmed request")
		return 0, err
	}

	t.slots[id] = tx
	entry.Debug("transaction begun")
	t.snapshotLocked(tx)
	return id, nil
}

// allocateLocked finds the next free invoke-id starting from t.next,
// round-robin over the full 0-255 space. Callers hold t.mu.
func (t *TSM) allocateLocked() (byte, bool) {
	start := t.next
	for {
		id := t.next
		t.next++
		if t.slots[id] == nil {
			return id, true
		}
		if t.next == start {
			return 0, false
		}
	}
}

// OnAck delivers a reply for invokeID. Unmatched acks (no live transaction,
// or one already terminal) are dropped silently — re-invoking OnAck with
// the same ack after the first call is a no-op.
func (t *TSM) OnAck(invokeID byte, kind AckKind, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := t.slots[invokeID]
	if tx == nil || tx.done {
		return nil
	}

	entry := t.log.WithFields(log.Fields{"invoke_id": invokeID, "correlation_id": tx.correlationID})

	if kind == AckSegment {
		tx.state = StateSegmentedConfirmation
		tx.timerMs = t.cfg.SegmentTimeoutMs
		tx.reassembled = append(tx.reassembled, payload...)
		entry.Debug("segment received, awaiting more")
		return nil
	}

	full := payload
	if len(tx.reassembled) > 0 {
		full = append(tx.reassembled, payload...)
	}

	var outcome Outcome
	var err error
	switch kind {
	case AckSimple, AckComplex:
		outcome = OutcomeAck
	case AckError:
		outcome = OutcomeError
		err = fmt.Errorf("tsm: invoke-id %d: service error", invokeID)
	case AckReject:
		outcome = OutcomeReject
		err = fmt.Errorf("tsm: invoke-id %d: request rejected", invokeID)
	case AckAbort:
		outcome = OutcomeAbort
		err = fmt.Errorf("tsm: invoke-id %d: transaction aborted", invokeID)
	default:
		return fmt.Errorf("tsm: unknown ack kind %d", kind)
	}

	tx.done = true
	tx.state = StateIdle
	tx.outcome = outcome
	entry.WithField("outcome", outcome).Debug("transaction concluded")
	t.emit(CompletionEvent{InvokeID: invokeID, Outcome: outcome, Payload: full, Err: err})
	return nil
}

// Tick advances every live transaction's timer by ms, retransmitting or
// timing out transactions whose timer has expired.
func (t *TSM) Tick(ms uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := 0; id < len(t.slots); id++ {
		tx := t.slots[id]
		if tx == nil || tx.done {
			continue
		}
		if tx.timerMs > ms {
			tx.timerMs -= ms
			continue
		}

		entry := t.log.WithFields(log.Fields{"invoke_id": tx.invokeID, "correlation_id": tx.correlationID})

		if tx.retriesLeft > 0 {
			tx.retriesLeft--
			tx.timerMs = t.cfg.APDUTimeoutMs
			if _, err := t.link.Send(tx.peer, tx.npduHeader, tx.apdu); err != nil {
				entry.WithError(err).Warn("retransmit failed")
			} else {
				entry.WithField("retries_left", tx.retriesLeft).Debug("retransmitted")
			}
			continue
		}

		tx.done = true
		tx.state = StateIdle
		tx.outcome = OutcomeTimeout
		entry.Warn("transaction timed out")
		t.emit(CompletionEvent{InvokeID: tx.invokeID, Outcome: OutcomeTimeout, Err: ErrTimeout})
	}
}

// Free releases invokeID's slot, making it eligible for reuse. This is the
// sole mechanism that vacates a slot: a transaction reaching StateIdle via
// OnAck or Tick stays resident (and IsFailed-observable) until Free is
// called.
func (t *TSM) Free(invokeID byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[invokeID] = nil
	delete(t.snapshots, invokeID)
	t.writeSnapshotLocked()
}

// IsFree reports whether invokeID currently has no live or terminal
// transaction occupying it.
func (t *TSM) IsFree(invokeID byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[invokeID] == nil
}

// IsFailed reports whether invokeID's transaction reached a terminal,
// non-ack outcome and has not yet been freed.
func (t *TSM) IsFailed(invokeID byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx := t.slots[invokeID]
	return tx != nil && tx.done && tx.outcome != OutcomeAck
}

// ActiveCount reports how many invoke-id slots are currently occupied,
// live or terminal-but-unfreed.
func (t *TSM) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, tx := range t.slots {
		if tx != nil {
			n++
		}
	}
	return n
}

// State reports invokeID's current lifecycle state, or StateIdle if the
// slot is free.
func (t *TSM) State(invokeID byte) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx := t.slots[invokeID]
	if tx == nil {
		return StateIdle
	}
	return tx.state
}

func (t *TSM) emit(ev CompletionEvent) {
	select {
	case t.events <- ev:
	default:
		t.log.WithField("invoke_id", ev.InvokeID).Warn("completion event dropped: channel full")
	}
}

func (t *TSM) snapshotLocked(tx *transaction) {
	if t.cfg.SnapshotPath == "" {
		return
	}
	t.snapshots[tx.invokeID] = snapshotRecord{
		InvokeID:      tx.invokeID,
		CorrelationID: tx.correlationID.String(),
		Peer:          tx.peer,
		TimerMs:       tx.timerMs,
	}
	t.writeSnapshotLocked()
}

func (t *TSM) writeSnapshotLocked() {
	if t.cfg.SnapshotPath == "" {
		return
	}
	records := make([]snapshotRecord, 0, len(t.snapshots))
	for _, r := range t.snapshots {
		records = append(records, r)
	}
	data, err := cbor.Marshal(records)
	if err != nil {
		t.log.WithError(err).Warn("failed to marshal tsm snapshot")
		return
	}
	if err := os.WriteFile(t.cfg.SnapshotPath, data, 0o600); err != nil {
		t.log.WithError(err).Warn("failed to write tsm snapshot")
	}
}
