// Package apdu encodes and decodes the BACnet application-layer PDU header
// (Clause 20): the four-bit PDU type, its per-type control bits, the
// invoke-id and segmentation fields where they apply, and the service
// choice. It never touches service parameters; Encode/Decode return the
// header alongside whatever payload bytes remain.
package apdu

import "errors"

// Type is the four-bit PDU type carried in the high nibble of octet 0.
type Type byte

const (
	ConfirmedRequest   Type = 0x0
	UnconfirmedRequest Type = 0x1
	SimpleAck          Type = 0x2
	ComplexAck         Type = 0x3
	SegmentAck         Type = 0x4
	Error              Type = 0x5
	Reject             Type = 0x6
	Abort              Type = 0x7
)

func (t Type) String() string {
	switch t {
	case ConfirmedRequest:
		return "ConfirmedRequest"
	case UnconfirmedRequest:
		return "UnconfirmedRequest"
	case SimpleAck:
		return "SimpleAck"
	case ComplexAck:
		return "ComplexAck"
	case SegmentAck:
		return "SegmentAck"
	case Error:
		return "Error"
	case Reject:
		return "Reject"
	case Abort:
		return "Abort"
	default:
		return "Unknown"
	}
}

// Control-bit positions within octet 0, low nibble. Meaning is type-specific;
// only ConfirmedRequest, ComplexAck, SegmentAck and Abort use bits here.
const (
	ctrlSegmented                 = 1 << 3 // ConfirmedRequest, ComplexAck
	ctrlMoreFollows               = 1 << 2 // ConfirmedRequest, ComplexAck
	ctrlSegmentedResponseAccepted = 1 << 1 // ConfirmedRequest only
	ctrlNegativeAck               = 1 << 2 // SegmentAck (NAK)
	ctrlSegmentAckServer          = 1 << 1 // SegmentAck (SRV)
	ctrlAbortServer               = 1 << 0 // Abort: who originated it
)

var (
	ErrApduMalformed   = errors.New("apdu: malformed header")
	ErrUnknownPDUType  = errors.New("apdu: unknown PDU type")
	ErrHeaderOversized = errors.New("apdu: header fields out of range")
)

// Header is a fully decoded APDU header. Only the fields relevant to Type
// are meaningful; see the per-type comments below.
type Header struct {
	Type Type

	// ConfirmedRequest, ComplexAck.
	Segmented   bool
	MoreFollows bool

	// ConfirmedRequest only.
	SegmentedResponseAccepted bool
	MaxSegments               byte // 3-bit enumerated value
	MaxAPDU                   byte // 4-bit enumerated value

	// All types except UnconfirmedRequest.
	InvokeID byte

	// ConfirmedRequest/ComplexAck when Segmented, and SegmentAck.
	SequenceNumber byte
	WindowSize     byte // "actual window size" for SegmentAck

	// SegmentAck only.
	NegativeAck bool
	Server      bool // also reused by Abort: true if the server sent it

	// ConfirmedRequest, UnconfirmedRequest, SimpleAck, ComplexAck, Error.
	ServiceChoice byte

	// Reject only.
	RejectReason byte

	// Abort only.
	AbortReason byte
}

// Encode renders h's header octets, to be followed by the caller's raw
// service-parameter payload.
func Encode(h Header) ([]byte, error) {
	switch h.Type {
	case ConfirmedRequest:
		if h.MaxAPDU > 0x0F || h.MaxSegments > 0x07 {
			return nil, ErrHeaderOversized
		}
		octet0 := byte(ConfirmedRequest) << 4
		if h.Segmented {
			octet0 |= ctrlSegmented
		}
		if h.MoreFollows {
			octet0 |= ctrlMoreFollows
		}
		if h.SegmentedResponseAccepted {
			octet0 |= ctrlSegmentedResponseAccepted
		}
		buf := []byte{octet0, h.MaxSegments<<4 | h.MaxAPDU, h.InvokeID}
		if h.Segmented {
			buf = append(buf, h.SequenceNumber, h.WindowSize)
		}
		buf = append(buf, h.ServiceChoice)
		return buf, nil

	case UnconfirmedRequest:
		return []byte{byte(UnconfirmedRequest) << 4, h.ServiceChoice}, nil

	case SimpleAck:
		return []byte{byte(SimpleAck) << 4, h.InvokeID, h.ServiceChoice}, nil

	case ComplexAck:
		octet0 := byte(ComplexAck) << 4
		if h.Segmented {
			octet0 |= ctrlSegmented
		}
		if h.MoreFollows {
			octet0 |= ctrlMoreFollows
		}
		buf := []byte{octet0, h.InvokeID}
		if h.Segmented {
			buf = append(buf, h.SequenceNumber, h.WindowSize)
		}
		buf = append(buf, h.ServiceChoice)
		return buf, nil

	case SegmentAck:
		octet0 := byte(SegmentAck) << 4
		if h.NegativeAck {
			octet0 |= ctrlNegativeAck
		}
		if h.Server {
			octet0 |= ctrlSegmentAckServer
		}
		return []byte{octet0, h.InvokeID, h.SequenceNumber, h.WindowSize}, nil

	case Error:
		return []byte{byte(Error) << 4, h.InvokeID, h.ServiceChoice}, nil

	case Reject:
		return []byte{byte(Reject) << 4, h.InvokeID, h.RejectReason}, nil

	case Abort:
		octet0 := byte(Abort) << 4
		if h.Server {
			octet0 |= ctrlAbortServer
		}
		return []byte{octet0, h.InvokeID, h.AbortReason}, nil

	default:
		return nil, ErrUnknownPDUType
	}
}

// Decode parses buf's leading APDU header for the PDU type carried in its
// first octet, returning the header and whatever payload bytes remain.
func Decode(buf []byte) (Header, []byte, error) {
	if len(buf) < 1 {
		return Header{}, nil, ErrApduMalformed
	}
	octet0 := buf[0]
	t := Type(octet0 >> 4)
	h := Header{Type: t}

	switch t {
	case ConfirmedRequest:
		if len(buf) < 3 {
			return Header{}, nil, ErrApduMalformed
		}
		h.Segmented = octet0&ctrlSegmented != 0
		h.MoreFollows = octet0&ctrlMoreFollows != 0
		h.SegmentedResponseAccepted = octet0&ctrlSegmentedResponseAccepted != 0
		h.MaxSegments = buf[1] >> 4
		h.MaxAPDU = buf[1] & 0x0F
		h.InvokeID = buf[2]
		rest := buf[3:]
		if h.Segmented {
			if len(rest) < 2 {
				return Header{}, nil, ErrApduMalformed
			}
			h.SequenceNumber = rest[0]
			h.WindowSize = rest[1]
			rest = rest[2:]
		}
		if len(rest) < 1 {
			return Header{}, nil, ErrApduMalformed
		}
		h.ServiceChoice = rest[0]
		return h, rest[1:], nil

	case UnconfirmedRequest:
		if len(buf) < 2 {
			return Header{}, nil, ErrApduMalformed
		}
		h.ServiceChoice = buf[1]
		return h, buf[2:], nil

	case SimpleAck:
		if len(buf) < 3 {
			return Header{}, nil, ErrApduMalformed
		}
		h.InvokeID = buf[1]
		h.ServiceChoice = buf[2]
		return h, buf[3:], nil

	case ComplexAck:
		if len(buf) < 2 {
			return Header{}, nil, ErrApduMalformed
		}
		h.Segmented = octet0&ctrlSegmented != 0
		h.MoreFollows = octet0&ctrlMoreFollows != 0
		h.InvokeID = buf[1]
		rest := buf[2:]
		if h.Segmented {
			if len(rest) < 2 {
				return Header{}, nil, ErrApduMalformed
			}
			h.SequenceNumber = rest[0]
			h.WindowSize = rest[1]
			rest = rest[2:]
		}
		if len(rest) < 1 {
			return Header{}, nil, ErrApduMalformed
		}
		h.ServiceChoice = rest[0]
		return h, rest[1:], nil

	case SegmentAck:
		if len(buf) < 4 {
			return Header{}, nil, ErrApduMalformed
		}
		h.NegativeAck = octet0&ctrlNegativeAck != 0
		h.Server = octet0&ctrlSegmentAckServer != 0
		h.InvokeID = buf[1]
		h.SequenceNumber = buf[2]
		h.WindowSize = buf[3]
		return h, buf[4:], nil

	case Error:
		if len(buf) < 3 {
			return Header{}, nil, ErrApduMalformed
		}
		h.InvokeID = buf[1]
		h.ServiceChoice = buf[2]
		return h, buf[3:], nil

	case Reject:
		if len(buf) < 3 {
			return Header{}, nil, ErrApduMalformed
		}
		h.InvokeID = buf[1]
		h.RejectReason = buf[2]
		return h, buf[3:], nil

	case Abort:
		if len(buf) < 3 {
			return Header{}, nil, ErrApduMalformed
		}
		h.Server = octet0&ctrlAbortServer != 0
		h.InvokeID = buf[1]
		h.AbortReason = buf[2]
		return h, buf[3:], nil

	default:
		return Header{}, nil, ErrUnknownPDUType
	}
}
