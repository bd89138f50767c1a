package datalink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// bvlcHeader mirrors the fixed 4-octet BACnet Virtual Link Control header
// (Annex J) that every BACnet/IP datagram carries ahead of the NPDU: type
// (always 0x81), function, and a 16-bit length covering the whole datagram
// including this header.
const (
	bvlcType                  byte = 0x81
	bvlcFuncUnicastNPDU       byte = 0x0A
	bvlcFuncBroadcastNPDU     byte = 0x0B
	bvlcHeaderLen                  = 4
	udpMaxDatagram                 = 1497 // Annex J.2's maximum BVLC length
)

var (
	ErrDatagramTooLarge    = errors.New("datalink: datagram exceeds maximum BVLC length")
	ErrUnrecognizedBVLC    = errors.New("datalink: unrecognized BVLC header")
	ErrPeerNotIPv4Routable = errors.New("datalink: peer address has no resolvable IPv4 MAC")
)

// UDP is a Datagram Transport (§1's "alternative to MS/TP"): it wraps
// NPDU+APDU payloads in the BACnet/IP BVLC header and moves them over a
// single UDP socket, satisfying the same Datalink contract the MS/TP
// adapter does. Address.MAC carries the 6-byte BACnet/IP MAC (4-byte IPv4
// + 2-byte port, network byte order, per Annex J).
type UDP struct {
	conn *net.UDPConn
	log  *log.Entry
}

// NewUDP opens a UDP socket bound to localAddr (e.g. ":47808", the BACnet/IP
// default port) for sending and receiving BVLC datagrams.
func NewUDP(localAddr string) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("datalink: resolve udp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("datalink: listen udp: %w", err)
	}
	return &UDP{conn: conn, log: log.WithField("component", "datalink-udp")}, nil
}

// Close releases the underlying socket.
func (u *UDP) Close() error { return u.conn.Close() }

// LocalAddr reports the bound socket address, useful when NewUDP was given
// port 0 and the caller needs to discover what was actually assigned.
func (u *UDP) LocalAddr() *net.UDPAddr { return u.conn.LocalAddr().(*net.UDPAddr) }

func macToUDPAddr(mac []byte) (*net.UDPAddr, error) {
	if len(mac) != 6 {
		return nil, ErrPeerNotIPv4Routable
	}
	return &net.UDPAddr{
		IP:   net.IPv4(mac[0], mac[1], mac[2], mac[3]),
		Port: int(binary.BigEndian.Uint16(mac[4:6])),
	}, nil
}

func udpAddrToMAC(addr *net.UDPAddr) []byte {
	ip4 := addr.IP.To4()
	mac := make([]byte, 6)
	copy(mac, ip4)
	binary.BigEndian.PutUint16(mac[4:6], uint16(addr.Port))
	return mac
}

// Send implements Datalink: peer.IsBroadcast() emits a
// BVLC-Broadcast-NPDU; otherwise peer.MAC must hold the 6-byte IPv4+port
// MAC of a specific BACnet/IP device.
func (u *UDP) Send(peer Address, npduHeader, apdu []byte) (int, error) {
	payload := make([]byte, bvlcHeaderLen, bvlcHeaderLen+len(npduHeader)+len(apdu))
	payload[0] = bvlcType
	if peer.IsBroadcast() {
		payload[1] = bvlcFuncBroadcastNPDU
	} else {
		payload[1] = bvlcFuncUnicastNPDU
	}
	payload = append(payload, npduHeader...)
	payload = append(payload, apdu...)
	if len(payload) > udpMaxDatagram {
		return 0, ErrDatagramTooLarge
	}
	binary.BigEndian.PutUint16(payload[2:4], uint16(len(payload)))

	var dest *net.UDPAddr
	if peer.IsBroadcast() {
		dest = &net.UDPAddr{IP: net.IPv4bcast, Port: 47808}
	} else {
		var err error
		dest, err = macToUDPAddr(peer.MAC)
		if err != nil {
			return 0, err
		}
	}

	n, err := u.conn.WriteToUDP(payload, dest)
	if err != nil {
		return 0, err
	}
	return n - bvlcHeaderLen, nil
}

// Poll implements Datalink: it waits for a socket read run in a separate
// goroutine, or for ctx to be done, and strips the BVLC header before
// returning the NPDU+APDU payload. When ctx ends first, that read stays
// pending and the datagram it later receives is discarded.
func (u *UDP) Poll(ctx context.Context) (Address, []byte, bool) {
	buf := make([]byte, udpMaxDatagram)
	type result struct {
		n    int
		addr *net.UDPAddr
		err  error
	}
	done := make(chan result, 1)
	go func() {
		n, addr, err := u.conn.ReadFromUDP(buf)
		done <- result{n, addr, err}
	}()

	select {
	case <-ctx.Done():
		return Address{}, nil, false
	case r := <-done:
		if r.err != nil {
			u.log.WithError(r.err).Debug("udp read failed")
			return Address{}, nil, false
		}
		if r.n < bvlcHeaderLen || buf[0] != bvlcType {
			u.log.Debug("dropping datagram with unrecognized BVLC header")
			return Address{}, nil, false
		}
		peer := Address{Net: 0, MAC: udpAddrToMAC(r.addr)}
		return peer, append([]byte{}, buf[bvlcHeaderLen:r.n]...), true
	}
}
