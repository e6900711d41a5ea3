// Package codec implements the ACN root-layer PDU framing that every
// RDMnet message rides on, plus the Broker, RPT, and Client Entry PDU
// payloads nested inside it.
//
// Framing follows original_source/src/rdmnet/core/msg_buf.h's nesting
// (RlpState -> BrokerState/RptState -> ClientListState/ClientEntryState):
// a 3-byte flags+length header, optionally followed by a vector and header
// that a sibling PDU in the same block may omit ("inherit" the previous
// PDU's vector/header) — the wire form used for runs of identical-vector
// PDUs such as a Client List's ClientEntry run.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Preamble is the 16-byte ACN identifier block. The senders in this module
// (internal/broker, internal/rconn) write it ahead of every root-layer PDU,
// not only once at the start of the TCP stream, and internal/msgbuf
// accepts it in front of any root-layer PDU.
var Preamble = [16]byte{
	0x00, 0x10, // preamble size
	0x00, 0x00, // postamble size
	'A', 'S', 'C', '-', 'E', '1', '.', '1', '7', 0x00, 0x00, 0x00, // ACN packet identifier
}

const (
	flagsVector = 0x7000 // the 3 flag bits below flagsHeader: vector present
	flagsHeader = 0x8000 // header present
	lengthMask  = 0x000FFFFF
)

var (
	// ErrShortBuffer is returned when a buffer is too small to hold even a
	// PDU's fixed-size header.
	ErrShortBuffer = errors.New("codec: buffer too short for PDU header")

	// ErrBadLength is returned when a PDU's declared length is inconsistent
	// with the buffer it was read from.
	ErrBadLength = errors.New("codec: PDU length out of range")
)

// PDUHeader is the decoded form of a PDU's 3-byte flags+length field plus
// whatever vector and header bytes follow it.
type PDUHeader struct {
	// Length is the total PDU length, including this header, per the ACN
	// 20-bit length field.
	Length int
	// HasVector and HasHeader report whether this PDU carries its own
	// vector/header or inherits them from the previous sibling PDU in the
	// same block.
	HasVector bool
	HasHeader bool
}

// DecodePDUHeader reads the 3-byte flags+length field at the start of buf.
func DecodePDUHeader(buf []byte) (PDUHeader, error) {
	if len(buf) < 3 {
		return PDUHeader{}, ErrShortBuffer
	}
	flagsAndLen := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	flags := flagsAndLen >> 8 // EncodePDUHeader packs flags into bits 20-23
	h := PDUHeader{
		Length:    int(flagsAndLen & lengthMask),
		HasVector: flags&flagsVector != 0,
		HasHeader: flags&flagsHeader != 0,
	}
	if h.Length < 3 {
		return PDUHeader{}, fmt.Errorf("%w: length %d smaller than header", ErrBadLength, h.Length)
	}
	return h, nil
}

// EncodePDUHeader writes a full-flags (vector and header both present)
// 3-byte length field. Root layer, Broker, and RPT PDUs always restate
// both fields; only a Client Entry PDU within a run may inherit them from
// its previous sibling, via encodePDUHeaderFlags.
func EncodePDUHeader(buf []byte, length int) {
	encodePDUHeaderFlags(buf, length, true, true)
}

// encodePDUHeaderFlags writes the 3-byte flags+length field with the
// vector/header presence bits set according to hasVector/hasHeader,
// letting a sibling PDU in a run omit fields that match the previous
// sibling's — the inherit-flags mechanism ACN framing uses for runs of
// same-shape PDUs such as a Client List's Client Entry run.
func encodePDUHeaderFlags(buf []byte, length int, hasVector, hasHeader bool) {
	var flags uint32
	if hasVector {
		flags |= flagsVector
	}
	if hasHeader {
		flags |= flagsHeader
	}
	flagsAndLen := flags<<8 | uint32(length&lengthMask)
	buf[0] = byte(flagsAndLen >> 16)
	buf[1] = byte(flagsAndLen >> 8)
	buf[2] = byte(flagsAndLen)
}

// RootLayerPDU is the outermost PDU of every RDMnet message: a vector
// identifying the protocol carried (Broker, RPT, or EPT — see pkg/e133's
// VectorRoot* constants), the sender's component CID, and the nested PDU
// data.
type RootLayerPDU struct {
	Vector   uint32
	SenderCID [16]byte
	Data     []byte
}

// rootLayerHeaderLen is the length of the flags+length, vector, and CID
// fields together: 3 + 4 + 16.
const rootLayerHeaderLen = 23

// Encode appends the wire form of p to dst and returns the result.
func (p RootLayerPDU) Encode(dst []byte) []byte {
	total := rootLayerHeaderLen + len(p.Data)
	start := len(dst)
	dst = append(dst, make([]byte, total)...)
	EncodePDUHeader(dst[start:], total)
	binary.BigEndian.PutUint32(dst[start+3:], p.Vector)
	copy(dst[start+7:], p.SenderCID[:])
	copy(dst[start+23:], p.Data)
	return dst
}

// DecodeRootLayerPDU decodes one root-layer PDU from the front of buf. It
// returns the decoded PDU and the number of bytes consumed.
func DecodeRootLayerPDU(buf []byte) (RootLayerPDU, int, error) {
	hdr, err := DecodePDUHeader(buf)
	if err != nil {
		return RootLayerPDU{}, 0, err
	}
	if !hdr.HasVector || !hdr.HasHeader {
		return RootLayerPDU{}, 0, fmt.Errorf("%w: root layer PDU must carry vector and header", ErrBadLength)
	}
	if hdr.Length < rootLayerHeaderLen || len(buf) < hdr.Length {
		return RootLayerPDU{}, 0, ErrShortBuffer
	}
	var p RootLayerPDU
	p.Vector = binary.BigEndian.Uint32(buf[3:7])
	copy(p.SenderCID[:], buf[7:23])
	p.Data = append([]byte(nil), buf[rootLayerHeaderLen:hdr.Length]...)
	return p, hdr.Length, nil
}
