package datalink

import (
	"context"
	"errors"
	"fmt"

	"github.com/bacterium-io/mstpstack/pkg/frame"
	"github.com/bacterium-io/mstpstack/pkg/mstp"
)

// npduExpectingReply mirrors pkg/npdu's control-octet bit so this adapter
// need not import pkg/npdu just to pick a frame.Type: byte 1, bit 2.
const npduExpectingReply = 1 << 2

var ErrPeerNotMSTP = errors.New("datalink: peer address is not a single MS/TP MAC")

// MSTP adapts an *mstp.Port (C4) to the Datalink contract: Send maps a
// network-layer peer Address onto an MS/TP destination MAC and queues the
// frame for the port's next token hold; Poll surfaces the port's inbound
// data frames as (peer, payload) pairs.
type MSTP struct {
	port *mstp.Port
}

// NewMSTP wraps port.
func NewMSTP(port *mstp.Port) *MSTP {
	return &MSTP{port: port}
}

// Send implements Datalink. peer must be a local (Net==0) address: MS/TP
// carries no routed network number, only a destination MAC (broadcast when
// peer.IsBroadcast()).
func (m *MSTP) Send(peer Address, npduHeader, apdu []byte) (int, error) {
	dest := frame.Broadcast
	if !peer.IsBroadcast() {
		if peer.Net != 0 || len(peer.MAC) != 1 {
			return 0, fmt.Errorf("%w: %+v", ErrPeerNotMSTP, peer)
		}
		dest = peer.MAC[0]
	}

	payload := make([]byte, 0, len(npduHeader)+len(apdu))
	payload = append(payload, npduHeader...)
	payload = append(payload, apdu...)

	expectsReply := len(npduHeader) >= 2 && npduHeader[1]&npduExpectingReply != 0
	frameType := frame.DataNotExpectingReply
	if expectsReply {
		frameType = frame.DataExpectingReply
	}

	m.port.Submit(mstp.OutgoingFrame{
		Type:         frameType,
		Dest:         dest,
		Payload:      payload,
		ExpectsReply: expectsReply,
	})
	return len(payload), nil
}

// Poll implements Datalink, blocking on the port's event channel until a
// data frame arrives, ctx is done, or the channel is closed. Events other
// than data frames are skipped.
func (m *MSTP) Poll(ctx context.Context) (Address, []byte, bool) {
	for {
		select {
		case <-ctx.Done():
			return Address{}, nil, false
		case ev, ok := <-m.port.Events():
			if !ok {
				return Address{}, nil, false
			}
			if ev.Kind != mstp.EventDataFrame {
				continue
			}
			peer := Address{Net: 0, MAC: []byte{ev.Source}}
			if ev.Source == frame.Broadcast {
				peer = Address{Net: 0, MAC: nil}
			}
			return peer, ev.Frame.Payload, true
		}
	}
}
