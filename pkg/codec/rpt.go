package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// RPTHeader addresses an RPT PDU's payload between a specific source and
// destination UID/endpoint pair.
type RPTHeader struct {
	SourceUID      rid.UID
	SourceEndpoint uint16
	DestUID        rid.UID
	DestEndpoint   uint16
}

const rptHeaderLen = 6 + 2 + 6 + 2

func (h RPTHeader) encode(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], h.SourceUID.Manufacturer)
	binary.BigEndian.PutUint32(dst[2:6], h.SourceUID.Device)
	binary.BigEndian.PutUint16(dst[6:8], h.SourceEndpoint)
	binary.BigEndian.PutUint16(dst[8:10], h.DestUID.Manufacturer)
	binary.BigEndian.PutUint32(dst[10:14], h.DestUID.Device)
	binary.BigEndian.PutUint16(dst[14:16], h.DestEndpoint)
}

func decodeRPTHeader(buf []byte) RPTHeader {
	return RPTHeader{
		SourceUID: rid.UID{
			Manufacturer: binary.BigEndian.Uint16(buf[0:2]),
			Device:       binary.BigEndian.Uint32(buf[2:6]),
		},
		SourceEndpoint: binary.BigEndian.Uint16(buf[6:8]),
		DestUID: rid.UID{
			Manufacturer: binary.BigEndian.Uint16(buf[8:10]),
			Device:       binary.BigEndian.Uint32(buf[10:14]),
		},
		DestEndpoint: binary.BigEndian.Uint16(buf[14:16]),
	}
}

// rptPDUHeaderLen is flags+length(3) + vector(4) + RPTHeader(16).
const rptPDUHeaderLen = 3 + 4 + rptHeaderLen

// RPTStatusCode values carried in an RPT Status PDU.
type RPTStatusCode uint16

const (
	RPTStatusUnknownRPTUID       = RPTStatusCode(e133.VectorRPTStatusUnknownRPTUID)
	RPTStatusRDMTimeout          = RPTStatusCode(e133.VectorRPTStatusRDMTimeout)
	RPTStatusInvalidRDMResponse  = RPTStatusCode(e133.VectorRPTStatusInvalidRDMResponse)
	RPTStatusUnknownRDMUID       = RPTStatusCode(e133.VectorRPTStatusUnknownRDMUID)
	RPTStatusUnknownEndpoint     = RPTStatusCode(e133.VectorRPTStatusUnknownEndpoint)
	RPTStatusBroadcastComplete   = RPTStatusCode(e133.VectorRPTStatusBroadcastComplete)
	RPTStatusUnknownVector       = RPTStatusCode(e133.VectorRPTStatusUnknownVector)
	RPTStatusInvalidMessage      = RPTStatusCode(e133.VectorRPTStatusInvalidMessage)
	RPTStatusInvalidCommandClass = RPTStatusCode(e133.VectorRPTStatusInvalidCommandClass)
)

// RPTPDU is the decoded form of one RPT PDU: a vector selecting whether the
// payload is an RDM command/response list (Request/Notification) or a
// status report, the addressing header, and the raw payload.
//
// The broker never interprets Payload beyond this point — RDM command
// buffers are opaque to routing, per the original library's design and
// this module's Non-goals.
type RPTPDU struct {
	Vector  uint32
	Header  RPTHeader
	Payload []byte
}

// Encode appends the wire form of p to dst.
func (p RPTPDU) Encode(dst []byte) []byte {
	total := rptPDUHeaderLen + len(p.Payload)
	start := len(dst)
	dst = append(dst, make([]byte, total)...)
	EncodePDUHeader(dst[start:], total)
	binary.BigEndian.PutUint32(dst[start+3:], p.Vector)
	p.Header.encode(dst[start+7:])
	copy(dst[start+rptPDUHeaderLen:], p.Payload)
	return dst
}

// DecodeRPTPDU decodes one RPT PDU from the front of buf, returning the
// number of bytes consumed.
func DecodeRPTPDU(buf []byte) (RPTPDU, int, error) {
	hdr, err := DecodePDUHeader(buf)
	if err != nil {
		return RPTPDU{}, 0, err
	}
	if hdr.Length < rptPDUHeaderLen || len(buf) < hdr.Length {
		return RPTPDU{}, 0, ErrShortBuffer
	}
	var p RPTPDU
	p.Vector = binary.BigEndian.Uint32(buf[3:7])
	p.Header = decodeRPTHeader(buf[7 : 7+rptHeaderLen])
	p.Payload = append([]byte(nil), buf[rptPDUHeaderLen:hdr.Length]...)

	switch p.Vector {
	case e133.VectorRPTRequest, e133.VectorRPTStatus, e133.VectorRPTNotification:
	default:
		return RPTPDU{}, 0, fmt.Errorf("codec: unknown RPT vector 0x%08x", p.Vector)
	}
	return p, hdr.Length, nil
}

// RDMCommand wraps one opaque RDM command or response buffer as carried in
// an RPT Request or Notification PDU's payload. Per spec, the broker never
// parses inside this buffer — only its length (26-257 bytes) is validated.
type RDMCommand []byte

const (
	MinRDMCommandLen = 26
	MaxRDMCommandLen = 257
)

// Validate reports whether c's length falls within the range a broker
// accepts without inspecting its contents.
func (c RDMCommand) Validate() error {
	if len(c) < MinRDMCommandLen || len(c) > MaxRDMCommandLen {
		return fmt.Errorf("codec: RDM command length %d out of range [%d,%d]", len(c), MinRDMCommandLen, MaxRDMCommandLen)
	}
	return nil
}
