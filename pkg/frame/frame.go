// Package frame encodes and decodes MS/TP frames: the fixed preamble,
// one-octet header fields, the header CRC-8, an optional payload and its
// data CRC-16. See ANSI/ASHRAE 135 Clause 9 and SPEC_FULL.md §4.2.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bacterium-io/mstpstack/internal/crc"
)

// MaxPayload is the largest payload an MS/TP frame may carry.
const MaxPayload = 501

// Preamble bytes that open every MS/TP frame.
const (
	Preamble0 byte = 0x55
	Preamble1 byte = 0xFF
)

// Type identifies the kind of an MS/TP frame.
type Type uint8

const (
	Token                 Type = 0
	PollForMaster         Type = 1
	ReplyToPollForMaster  Type = 2
	TestRequest           Type = 3
	TestResponse          Type = 4
	DataExpectingReply    Type = 5
	DataNotExpectingReply Type = 6
	ReplyPostponed        Type = 7
)

// IsReserved reports whether t falls in the ASHRAE-reserved range 8-127.
func (t Type) IsReserved() bool { return t >= 8 && t <= 127 }

// IsProprietary reports whether t falls in the vendor-proprietary range 128-255.
func (t Type) IsProprietary() bool { return t >= 128 }

func (t Type) String() string {
	switch t {
	case Token:
		return "Token"
	case PollForMaster:
		return "PollForMaster"
	case ReplyToPollForMaster:
		return "ReplyToPollForMaster"
	case TestRequest:
		return "TestRequest"
	case TestResponse:
		return "TestResponse"
	case DataExpectingReply:
		return "DataExpectingReply"
	case DataNotExpectingReply:
		return "DataNotExpectingReply"
	case ReplyPostponed:
		return "ReplyPostponed"
	default:
		if t.IsProprietary() {
			return fmt.Sprintf("Proprietary(%d)", uint8(t))
		}
		return fmt.Sprintf("Reserved(%d)", uint8(t))
	}
}

// Broadcast is the reserved destination/source MAC meaning "all stations".
const Broadcast uint8 = 255

var (
	ErrFrameTooLong   = errors.New("mstp: payload exceeds 501 octets")
	ErrBadSourceMAC   = errors.New("mstp: source MAC 0xFF (broadcast) is not a legal source address")
	ErrFrameTruncated = errors.New("mstp: frame truncated")
	ErrHeaderCRC      = errors.New("mstp: header CRC mismatch")
	ErrDataCRC        = errors.New("mstp: data CRC mismatch")
	ErrBadPreamble    = errors.New("mstp: bad preamble")
)

// Frame is a fully decoded MS/TP frame.
type Frame struct {
	Type    Type
	Dest    uint8
	Src     uint8
	Payload []byte
}

// HeaderLen is the number of octets making up the fixed MS/TP header,
// excluding the preamble and the header CRC byte.
const HeaderLen = 5

// Encode renders f as the bytes that go on the wire, including preamble,
// header CRC and (if non-empty) the payload and its data CRC.
func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, ErrFrameTooLong
	}
	if f.Src == Broadcast {
		return nil, ErrBadSourceMAC
	}

	header := make([]byte, HeaderLen)
	header[0] = byte(f.Type)
	header[1] = f.Dest
	header[2] = f.Src
	binary.BigEndian.PutUint16(header[3:5], uint16(len(f.Payload)))

	hcrc := crc.NewHeaderCRC8().UpdateAll(header)

	out := make([]byte, 0, 2+HeaderLen+1+len(f.Payload)+2)
	out = append(out, Preamble0, Preamble1)
	out = append(out, header...)
	out = append(out, hcrc.Check())

	if len(f.Payload) > 0 {
		out = append(out, f.Payload...)
		dcrc := crc.NewDataCRC16().UpdateAll(f.Payload)
		check := dcrc.Check()
		out = append(out, check[0], check[1])
	}
	return out, nil
}

// Decode parses a complete on-wire frame, including preamble, from one
// buffer. It is a standalone parser, separate from the incremental receive
// FSM in pkg/mstp, for callers (chiefly tests) that already hold a whole
// frame.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 2+HeaderLen+1 {
		return Frame{}, ErrFrameTruncated
	}
	if buf[0] != Preamble0 || buf[1] != Preamble1 {
		return Frame{}, ErrBadPreamble
	}
	header := buf[2 : 2+HeaderLen]
	hcrc := buf[2+HeaderLen]

	acc := crc.NewHeaderCRC8().UpdateAll(header)
	if !acc.Valid(hcrc) {
		return Frame{}, ErrHeaderCRC
	}

	dataLen := binary.BigEndian.Uint16(header[3:5])
	f := Frame{
		Type: Type(header[0]),
		Dest: header[1],
		Src:  header[2],
	}
	if dataLen == 0 {
		return f, nil
	}

	rest := buf[2+HeaderLen+1:]
	if len(rest) < int(dataLen)+2 {
		return Frame{}, ErrFrameTruncated
	}
	payload := rest[:dataLen]
	lo, hi := rest[dataLen], rest[dataLen+1]

	acc16 := crc.NewDataCRC16().UpdateAll(payload)
	if !acc16.Valid(lo, hi) {
		return Frame{}, ErrDataCRC
	}
	f.Payload = append([]byte{}, payload...)
	return f, nil
}
