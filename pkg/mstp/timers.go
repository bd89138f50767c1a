package mstp

import "time"

// Fixed timing constants from ANSI/ASHRAE 135 Clause 9, restated here as
// time.Duration instead of the millisecond integers the clause uses, so
// every comparison in this package goes through time.Time arithmetic
// rather than a hand-rolled counter.
const (
	// TFrameAbort bounds inter-byte silence while a frame is in progress;
	// exceeding it resets the receive FSM to Idle.
	TFrameAbort = 60 * time.Millisecond

	// TNoToken is how long a node waits, hearing nothing, before it
	// assumes the token was lost and starts generating one itself.
	TNoToken = 500 * time.Millisecond

	// TReplyTimeout bounds how long a token holder waits for the
	// matching reply to a DataExpectingReply frame it sent.
	TReplyTimeout = 295 * time.Millisecond

	// TUsageTimeout bounds how long the token holder waits to see any
	// valid frame from the station it just passed the token to.
	TUsageTimeout = 95 * time.Millisecond

	// TSlot scales the NoToken wait window by this station's address,
	// so lower addresses generate a replacement token first.
	TSlot = 10 * time.Millisecond

	// TReplyDelay bounds how long a node may take to answer a
	// DataExpectingReply frame addressed to it.
	TReplyDelay = 250 * time.Millisecond

	// NPoll is the number of token holds between PollForMaster sweeps
	// that probe for new masters above next_station.
	NPoll = 50

	// autoBaudCandidateWindow is how long auto-baud detection dwells on
	// each candidate baud rate before moving to the next.
	autoBaudCandidateWindow = 2 * time.Second

	// autoBaudMinValidFrames is the number of valid frames required at
	// a candidate baud rate before it is accepted as the operating baud.
	autoBaudMinValidFrames = 2

	// zeroConfigClaimTokens is the number of consecutive uncontested
	// token passes required before a zero-config address claim sticks.
	zeroConfigClaimTokens = 3
)
