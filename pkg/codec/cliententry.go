package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// ClientType distinguishes an RPT client's role, carried as a single byte
// in an RPT Client Entry's data.
type ClientType uint8

const (
	ClientTypeDevice     ClientType = 0x00
	ClientTypeController ClientType = 0x01
	// ClientTypeUnknown is never sent on the wire by this module. It is
	// not the zero value: a ClientEntry left unset carries ClientTypeDevice.
	ClientTypeUnknown ClientType = 0xFF
)

func (t ClientType) String() string {
	switch t {
	case ClientTypeDevice:
		return "device"
	case ClientTypeController:
		return "controller"
	default:
		return "unknown"
	}
}

// rptClientEntryDataLen is the length of an RPT Client Entry's
// protocol-specific data: UID(6) + ClientType(1) + BindingCID(16).
const rptClientEntryDataLen = 23

// EPTSubProtocol describes one protocol an EPT client supports, named by a
// 32-byte fixed ASCII field on the wire.
type EPTSubProtocol struct {
	Vector     uint16
	ProtocolID uint32
	Name       string
}

const eptSubProtocolLen = 2 + 4 + 32

// ClientEntry is the decoded form of one Client Entry PDU: a client's CID
// plus either its RPT role/UID/binding CID, or its list of EPT
// sub-protocols. Exactly one of the RPT or EPT fields is meaningful,
// selected by Protocol.
type ClientEntry struct {
	Protocol uint32 // e133.ClientProtocolRPT or e133.ClientProtocolEPT
	CID      rid.CID

	// RPT fields, valid when Protocol == e133.ClientProtocolRPT.
	RPTUID       rid.UID
	RPTType      ClientType
	RPTBindingCID rid.CID

	// EPT fields, valid when Protocol == e133.ClientProtocolEPT.
	EPTSubProtocols []EPTSubProtocol
}

// Encode appends the full wire form of e to dst, always restating its
// protocol vector and CID. Use this outside a Client List run (e.g. a
// Connect message's lone entry), where there is no previous sibling to
// inherit from.
func (e ClientEntry) Encode(dst []byte) []byte {
	return e.encode(dst, nil)
}

// encode appends the wire form of e to dst, omitting the protocol vector
// and/or CID fields when they match prev's — the inherit-flags mechanism
// a Client List's run of Client Entry PDUs uses on the wire (spec §4.1).
// prev is nil for the first entry in a run, which always restates both.
func (e ClientEntry) encode(dst []byte, prev *ClientEntry) []byte {
	hasVector := prev == nil || prev.Protocol != e.Protocol
	hasHeader := prev == nil || prev.CID != e.CID

	var data []byte
	switch {
	case e.isRPT():
		data = make([]byte, rptClientEntryDataLen)
		binary.BigEndian.PutUint16(data[0:2], e.RPTUID.Manufacturer)
		binary.BigEndian.PutUint32(data[2:6], e.RPTUID.Device)
		data[6] = byte(e.RPTType)
		copy(data[7:23], e.RPTBindingCID[:])
	default:
		data = make([]byte, 0, len(e.EPTSubProtocols)*eptSubProtocolLen)
		for _, sp := range e.EPTSubProtocols {
			var b [eptSubProtocolLen]byte
			binary.BigEndian.PutUint16(b[0:2], sp.Vector)
			binary.BigEndian.PutUint32(b[2:6], sp.ProtocolID)
			copy(b[6:38], []byte(sp.Name))
			data = append(data, b[:]...)
		}
	}

	headerLen := 3
	if hasVector {
		headerLen += 4
	}
	if hasHeader {
		headerLen += 16
	}

	total := headerLen + len(data)
	start := len(dst)
	dst = append(dst, make([]byte, total)...)
	encodePDUHeaderFlags(dst[start:], total, hasVector, hasHeader)

	off := start + 3
	if hasVector {
		binary.BigEndian.PutUint32(dst[off:], e.Protocol)
		off += 4
	}
	if hasHeader {
		copy(dst[off:], e.CID[:])
		off += 16
	}
	copy(dst[off:], data)
	return dst
}

func (e ClientEntry) isRPT() bool {
	return e.Protocol == e133.ClientProtocolRPT
}

// DecodeClientEntry decodes one Client Entry PDU from the front of buf,
// returning the number of bytes consumed. It requires the entry to carry
// its own vector and CID; use decodeClientEntry within a run where a
// sibling may inherit them.
func DecodeClientEntry(buf []byte) (ClientEntry, int, error) {
	return decodeClientEntry(buf, nil)
}

// decodeClientEntry decodes one Client Entry PDU from the front of buf.
// When the PDU's flags omit its vector and/or CID, those fields are
// inherited from prev — the counterpart to encode's inherit-flags
// behavior. prev must be non-nil whenever a field is omitted.
func decodeClientEntry(buf []byte, prev *ClientEntry) (ClientEntry, int, error) {
	hdr, err := DecodePDUHeader(buf)
	if err != nil {
		return ClientEntry{}, 0, err
	}
	if len(buf) < hdr.Length {
		return ClientEntry{}, 0, ErrShortBuffer
	}

	var e ClientEntry
	off := 3
	if hdr.HasVector {
		if hdr.Length < off+4 {
			return ClientEntry{}, 0, fmt.Errorf("%w: client entry vector truncated", ErrShortBuffer)
		}
		e.Protocol = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	} else {
		if prev == nil {
			return ClientEntry{}, 0, fmt.Errorf("codec: client entry inherits vector with no previous sibling")
		}
		e.Protocol = prev.Protocol
	}
	if hdr.HasHeader {
		if hdr.Length < off+16 {
			return ClientEntry{}, 0, fmt.Errorf("%w: client entry CID truncated", ErrShortBuffer)
		}
		copy(e.CID[:], buf[off:off+16])
		off += 16
	} else {
		if prev == nil {
			return ClientEntry{}, 0, fmt.Errorf("codec: client entry inherits CID with no previous sibling")
		}
		e.CID = prev.CID
	}
	data := buf[off:hdr.Length]

	switch e.Protocol {
	case e133.ClientProtocolRPT:
		if len(data) < rptClientEntryDataLen {
			return ClientEntry{}, 0, fmt.Errorf("%w: RPT client entry data too short", ErrShortBuffer)
		}
		e.RPTUID = rid.UID{
			Manufacturer: binary.BigEndian.Uint16(data[0:2]),
			Device:       binary.BigEndian.Uint32(data[2:6]),
		}
		e.RPTType = ClientType(data[6])
		copy(e.RPTBindingCID[:], data[7:23])
	case e133.ClientProtocolEPT:
		for off := 0; off+eptSubProtocolLen <= len(data); off += eptSubProtocolLen {
			chunk := data[off : off+eptSubProtocolLen]
			name := chunk[6:38]
			if i := indexZero(name); i >= 0 {
				name = name[:i]
			}
			e.EPTSubProtocols = append(e.EPTSubProtocols, EPTSubProtocol{
				Vector:     binary.BigEndian.Uint16(chunk[0:2]),
				ProtocolID: binary.BigEndian.Uint32(chunk[2:6]),
				Name:       string(name),
			})
		}
	default:
		return ClientEntry{}, 0, fmt.Errorf("codec: unknown client protocol 0x%08x", e.Protocol)
	}

	return e, hdr.Length, nil
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
