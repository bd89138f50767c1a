// Package npdu encodes and decodes the BACnet network-layer header (Clause
// 6): protocol version, control octet, optional routed destination and
// source addresses, hop count, and network-layer message framing. It never
// touches the APDU bytes that follow the header; callers split header from
// payload with Decode and hand the remainder to pkg/apdu.
package npdu

import (
	"encoding/binary"
	"errors"
)

// Version is the only protocol version this codec understands.
const Version byte = 0x01

// Control-octet bit positions (Clause 6.2.2).
const (
	ctrlNetworkMessage = 1 << 7
	ctrlDestPresent    = 1 << 5
	ctrlSrcPresent     = 1 << 3
	ctrlExpectingReply = 1 << 2
	ctrlPriorityMask   = 0x03
)

// Priority levels carried in the two low control bits.
type Priority byte

const (
	PriorityNormal Priority = iota
	PriorityUrgent
	PriorityCritical
	PriorityLifeSafety
)

// maxRouteAddr bounds DLEN/SLEN: a routed MAC is at most 7 octets (§3).
const maxRouteAddr = 7

var (
	ErrNpduMalformed       = errors.New("npdu: malformed header")
	ErrUnsupportedVersion  = errors.New("npdu: unsupported protocol version")
	ErrRouteAddressTooLong = errors.New("npdu: routed address exceeds 7 octets")
)

// Route is a routed network address: a network number plus a MAC of 0-7
// octets. A zero-length Addr means "broadcast on Net".
type Route struct {
	Net  uint16
	Addr []byte
}

// NetworkMessage carries a network-layer message type and, for
// vendor-proprietary types (0x80-0xFF), a vendor id. Valid only when
// Header.IsNetworkMessage is true.
type NetworkMessage struct {
	MessageType byte
	VendorID    uint16 // only meaningful when MessageType >= 0x80
}

// IsVendorProprietary reports whether m's message type is vendor-specific.
func (m NetworkMessage) IsVendorProprietary() bool { return m.MessageType >= 0x80 }

// Header is a fully decoded NPDU header.
type Header struct {
	Dest             *Route
	Src              *Route
	HopCount         byte // meaningful only when Dest != nil
	IsNetworkMessage bool
	NetworkMessage   NetworkMessage // meaningful only when IsNetworkMessage
	ExpectingReply   bool
	Priority         Priority
}

func (h Header) controlOctet() byte {
	var c byte
	if h.IsNetworkMessage {
		c |= ctrlNetworkMessage
	}
	if h.Dest != nil {
		c |= ctrlDestPresent
	}
	if h.Src != nil {
		c |= ctrlSrcPresent
	}
	if h.ExpectingReply {
		c |= ctrlExpectingReply
	}
	c |= byte(h.Priority) & ctrlPriorityMask
	return c
}

func encodeRoute(buf []byte, r *Route) ([]byte, error) {
	if len(r.Addr) > maxRouteAddr {
		return nil, ErrRouteAddressTooLong
	}
	var netOctets [2]byte
	binary.BigEndian.PutUint16(netOctets[:], r.Net)
	buf = append(buf, netOctets[0], netOctets[1], byte(len(r.Addr)))
	buf = append(buf, r.Addr...)
	return buf, nil
}

// Encode renders h as the header octets that precede the APDU (or network
// message body), per Clause 6.2.
func Encode(h Header) ([]byte, error) {
	buf := make([]byte, 0, 16)
	buf = append(buf, Version, h.controlOctet())

	if h.Dest != nil {
		var err error
		buf, err = encodeRoute(buf, h.Dest)
		if err != nil {
			return nil, err
		}
	}
	if h.Src != nil {
		var err error
		buf, err = encodeRoute(buf, h.Src)
		if err != nil {
			return nil, err
		}
	}
	if h.Dest != nil {
		buf = append(buf, h.HopCount)
	}
	if h.IsNetworkMessage {
		buf = append(buf, h.NetworkMessage.MessageType)
		if h.NetworkMessage.IsVendorProprietary() {
			var vendorOctets [2]byte
			binary.BigEndian.PutUint16(vendorOctets[:], h.NetworkMessage.VendorID)
			buf = append(buf, vendorOctets[0], vendorOctets[1])
		}
	}
	return buf, nil
}

func decodeRoute(buf []byte) (*Route, []byte, error) {
	if len(buf) < 3 {
		return nil, nil, ErrNpduMalformed
	}
	net := binary.BigEndian.Uint16(buf[0:2])
	length := int(buf[2])
	if length > maxRouteAddr || len(buf) < 3+length {
		return nil, nil, ErrNpduMalformed
	}
	var addr []byte
	if length > 0 {
		addr = append([]byte{}, buf[3:3+length]...)
	}
	return &Route{Net: net, Addr: addr}, buf[3+length:], nil
}

// Decode parses buf's leading NPDU header and returns it along with
// whatever bytes remain: the network-layer message body when
// IsNetworkMessage is set, otherwise the raw APDU.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < 2 {
		return Header{}, nil, ErrNpduMalformed
	}
	if buf[0] != Version {
		return Header{}, nil, ErrUnsupportedVersion
	}
	control := buf[1]
	rest := buf[2:]

	h := Header{
		IsNetworkMessage: control&ctrlNetworkMessage != 0,
		ExpectingReply:   control&ctrlExpectingReply != 0,
		Priority:         Priority(control & ctrlPriorityMask),
	}

	if control&ctrlDestPresent != 0 {
		dest, tail, err := decodeRoute(rest)
		if err != nil {
			return Header{}, nil, err
		}
		h.Dest = dest
		rest = tail
	}
	if control&ctrlSrcPresent != 0 {
		src, tail, err := decodeRoute(rest)
		if err != nil {
			return Header{}, nil, err
		}
		h.Src = src
		rest = tail
	}
	if h.Dest != nil {
		if len(rest) < 1 {
			return Header{}, nil, ErrNpduMalformed
		}
		h.HopCount = rest[0]
		rest = rest[1:]
	}
	if h.IsNetworkMessage {
		if len(rest) < 1 {
			return Header{}, nil, ErrNpduMalformed
		}
		h.NetworkMessage.MessageType = rest[0]
		rest = rest[1:]
		if h.NetworkMessage.IsVendorProprietary() {
			if len(rest) < 2 {
				return Header{}, nil, ErrNpduMalformed
			}
			h.NetworkMessage.VendorID = binary.BigEndian.Uint16(rest[0:2])
			rest = rest[2:]
		}
	}
	return h, rest, nil
}
