// Package dispatch is the frame router sitting above the data link: it
// decodes the NPDU and APDU headers of every inbound frame and hands the
// remainder to the registered per-service-choice handler, or to the TSM for
// client-side acks, errors, rejects and aborts.
package dispatch

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bacterium-io/mstpstack/pkg/apdu"
	"github.com/bacterium-io/mstpstack/pkg/datalink"
	"github.com/bacterium-io/mstpstack/pkg/npdu"
	"github.com/bacterium-io/mstpstack/pkg/tsm"
)

// BACnet reject reasons (Clause 20) the dispatcher itself can emit.
const (
	RejectBufferOverflow      byte = 1
	RejectUnrecognizedService byte = 9
)

// ConfirmedRequestHandler serves a confirmed request. A nil responsePayload
// produces a SimpleAck; a non-nil one produces a ComplexAck carrying it.
type ConfirmedRequestHandler func(peer datalink.Address, invokeID byte, serviceChoice byte, payload []byte) (responsePayload []byte, err error)

// UnconfirmedRequestHandler serves a fire-and-forget request.
type UnconfirmedRequestHandler func(peer datalink.Address, serviceChoice byte, payload []byte)

// NetworkMessageHandler serves a network-layer message (NPDU control bit
// 0x80 set) rather than an application-layer one.
type NetworkMessageHandler func(peer datalink.Address, msg npdu.NetworkMessage, payload []byte)

// ProprietaryFrameHandler serves a proprietary (vendor, type 128-255)
// data-link frame surfaced by C4 (§3.1).
type ProprietaryFrameHandler func(peer datalink.Address, frameType byte, payload []byte)

// Dispatcher routes decoded frames to registered handlers and to a TSM.
type Dispatcher struct {
	mu          sync.Mutex
	link        datalink.Datalink
	tsm         *tsm.TSM
	confirmed   map[byte]ConfirmedRequestHandler
	unconfirmed map[byte]UnconfirmedRequestHandler
	netHandler  NetworkMessageHandler
	propHandler ProprietaryFrameHandler
	metrics     *Metrics
	log         *log.Entry
}

// New builds a Dispatcher that sends replies via link and routes
// confirmation traffic to t. metrics may be nil.
func New(link datalink.Datalink, t *tsm.TSM, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		link:        link,
		tsm:         t,
		confirmed:   make(map[byte]ConfirmedRequestHandler),
		unconfirmed: make(map[byte]UnconfirmedRequestHandler),
		metrics:     metrics,
		log:         log.WithField("component", "dispatch"),
	}
}

func (d *Dispatcher) RegisterConfirmed(serviceChoice byte, h ConfirmedRequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmed[serviceChoice] = h
}

func (d *Dispatcher) RegisterUnconfirmed(serviceChoice byte, h UnconfirmedRequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unconfirmed[serviceChoice] = h
}

func (d *Dispatcher) RegisterNetworkMessage(h NetworkMessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.netHandler = h
}

func (d *Dispatcher) RegisterProprietary(h ProprietaryFrameHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.propHandler = h
}

// DispatchProprietary hands the registered handler a data-link frame whose
// type falls in the proprietary range (§3.1), which never reaches the NPDU
// decoder. No package in this repository calls it.
func (d *Dispatcher) DispatchProprietary(peer datalink.Address, frameType byte, payload []byte) {
	d.mu.Lock()
	h := d.propHandler
	d.mu.Unlock()
	if h != nil {
		h(peer, frameType, payload)
	}
}

// Dispatch decodes frame's NPDU and (if present) APDU header and routes it.
func (d *Dispatcher) Dispatch(peer datalink.Address, frame []byte) error {
	hdr, rest, err := npdu.Decode(frame)
	if err != nil {
		d.log.WithError(err).Debug("dropping frame with malformed NPDU header")
		return err
	}

	if hdr.IsNetworkMessage {
		d.metrics.routed()
		d.mu.Lock()
		h := d.netHandler
		d.mu.Unlock()
		if h != nil {
			h(peer, hdr.NetworkMessage, rest)
		}
		return nil
	}

	ah, payload, err := apdu.Decode(rest)
	if err != nil {
		d.log.WithError(err).Debug("dropping frame with malformed APDU header")
		return err
	}
	d.metrics.routed()

	switch ah.Type {
	case apdu.ConfirmedRequest:
		return d.dispatchConfirmed(peer, ah, payload)

	case apdu.UnconfirmedRequest:
		d.mu.Lock()
		h := d.unconfirmed[ah.ServiceChoice]
		d.mu.Unlock()
		if h == nil {
			d.metrics.unknownService()
			return nil
		}
		h(peer, ah.ServiceChoice, payload)
		return nil

	case apdu.SimpleAck:
		return d.tsm.OnAck(ah.InvokeID, tsm.AckSimple, payload)

	case apdu.ComplexAck:
		kind := tsm.AckComplex
		if ah.MoreFollows {
			kind = tsm.AckSegment
		}
		return d.tsm.OnAck(ah.InvokeID, kind, payload)

	case apdu.Error:
		return d.tsm.OnAck(ah.InvokeID, tsm.AckError, payload)

	case apdu.Reject:
		return d.tsm.OnAck(ah.InvokeID, tsm.AckReject, []byte{ah.RejectReason})

	case apdu.Abort:
		return d.tsm.OnAck(ah.InvokeID, tsm.AckAbort, []byte{ah.AbortReason})

	case apdu.SegmentAck:
		// Window/retransmission bookkeeping for outbound segmented
		// transfers is not modeled at this layer.
		return nil

	default:
		return apdu.ErrUnknownPDUType
	}
}

func (d *Dispatcher) dispatchConfirmed(peer datalink.Address, ah apdu.Header, payload []byte) error {
	d.mu.Lock()
	h := d.confirmed[ah.ServiceChoice]
	d.mu.Unlock()

	if h == nil {
		d.metrics.unknownService()
		d.metrics.reject("unrecognized_service")
		return d.sendReject(peer, ah.InvokeID, RejectUnrecognizedService)
	}

	resp, err := h(peer, ah.InvokeID, ah.ServiceChoice, payload)
	if err != nil {
		return err
	}
	if resp == nil {
		return d.sendSimpleAck(peer, ah.InvokeID, ah.ServiceChoice)
	}
	return d.sendComplexAck(peer, ah.InvokeID, ah.ServiceChoice, resp)
}

func (d *Dispatcher) sendSimpleAck(peer datalink.Address, invokeID, serviceChoice byte) error {
	wire, err := apdu.Encode(apdu.Header{Type: apdu.SimpleAck, InvokeID: invokeID, ServiceChoice: serviceChoice})
	if err != nil {
		return err
	}
	return d.send(peer, wire)
}

func (d *Dispatcher) sendComplexAck(peer datalink.Address, invokeID, serviceChoice byte, payload []byte) error {
	wire, err := apdu.Encode(apdu.Header{Type: apdu.ComplexAck, InvokeID: invokeID, ServiceChoice: serviceChoice})
	if err != nil {
		return err
	}
	return d.send(peer, append(wire, payload...))
}

func (d *Dispatcher) sendReject(peer datalink.Address, invokeID, reason byte) error {
	wire, err := apdu.Encode(apdu.Header{Type: apdu.Reject, InvokeID: invokeID, RejectReason: reason})
	if err != nil {
		return err
	}
	return d.send(peer, wire)
}

func (d *Dispatcher) send(peer datalink.Address, apduBytes []byte) error {
	npduHeader, err := npdu.Encode(npdu.Header{})
	if err != nil {
		return err
	}
	_, err = d.link.Send(peer, npduHeader, apduBytes)
	return err
}
