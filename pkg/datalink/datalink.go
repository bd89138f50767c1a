// Package datalink defines the uniform contract the upper layers (TSM,
// dispatcher) use regardless of which physical data link carries BACnet
// traffic, plus the network-layer Address both MS/TP and datagram
// transports address peers with.
package datalink

import (
	"context"
	"errors"
)

// maxMAC bounds Address.MAC: a routed MAC is at most 7 octets (§3).
const maxMAC = 7

// ErrInvalidAddress reports a violated Address invariant (§3): a local
// (Net==0) address carries no routed MAC, and no MAC may exceed 7 octets.
var ErrInvalidAddress = errors.New("datalink: invalid address")

// Address is a network-layer peer address: a network number (0 = local,
// the caller's own segment; 0xFFFF = global broadcast) plus an optional
// routed MAC. An empty MAC means "broadcast on Net".
type Address struct {
	Net uint16
	MAC []byte
}

// Validate enforces §3's Address invariants.
func (a Address) Validate() error {
	if len(a.MAC) > maxMAC {
		return ErrInvalidAddress
	}
	if a.Net == 0 && len(a.MAC) != 0 {
		return ErrInvalidAddress
	}
	return nil
}

// IsBroadcast reports whether a addresses every station on Net.
func (a Address) IsBroadcast() bool { return len(a.MAC) == 0 }

// Local constructs the Address for a directly-attached peer (no routing):
// the given datalink MAC on the local network.
func Local(mac []byte) Address {
	return Address{Net: 0, MAC: append([]byte{}, mac...)}
}

// Datalink is the contract C8 (TSM) and C9 (dispatcher) hold a physical
// transport to, satisfied by both the MS/TP adapter and a datagram
// (UDP/Ethernet) transport (§1's "uniform data-link contract").
type Datalink interface {
	// Send transmits npduHeader followed by apdu to peer, returning the
	// number of payload bytes accepted.
	Send(peer Address, npduHeader []byte, apdu []byte) (int, error)

	// Poll blocks until a frame arrives or ctx is done, returning the
	// originating peer and the frame's payload (NPDU header + APDU).
	Poll(ctx context.Context) (peer Address, frame []byte, ok bool)
}
