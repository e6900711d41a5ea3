package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// brokerPDUHeaderLen is flags+length(3) + vector(2).
const brokerPDUHeaderLen = 5

// BrokerPDU is the decoded form of one Broker PDU: a vector selecting the
// message kind (see pkg/e133's VectorBroker* constants) and its raw
// payload, not yet decoded into one of the typed messages below.
type BrokerPDU struct {
	Vector  uint16
	Payload []byte
}

// Encode appends the wire form of p to dst.
func (p BrokerPDU) Encode(dst []byte) []byte {
	total := brokerPDUHeaderLen + len(p.Payload)
	start := len(dst)
	dst = append(dst, make([]byte, total)...)
	EncodePDUHeader(dst[start:], total)
	binary.BigEndian.PutUint16(dst[start+3:], p.Vector)
	copy(dst[start+brokerPDUHeaderLen:], p.Payload)
	return dst
}

// DecodeBrokerPDU decodes one Broker PDU from the front of buf, returning
// the number of bytes consumed.
func DecodeBrokerPDU(buf []byte) (BrokerPDU, int, error) {
	hdr, err := DecodePDUHeader(buf)
	if err != nil {
		return BrokerPDU{}, 0, err
	}
	if hdr.Length < brokerPDUHeaderLen || len(buf) < hdr.Length {
		return BrokerPDU{}, 0, ErrShortBuffer
	}
	var p BrokerPDU
	p.Vector = binary.BigEndian.Uint16(buf[3:5])
	p.Payload = append([]byte(nil), buf[brokerPDUHeaderLen:hdr.Length]...)
	return p, hdr.Length, nil
}

// fixedScopeLen is the padded on-wire length of a scope string field,
// mirroring E133_SCOPE_STRING_PADDED_LENGTH in the original.
const fixedScopeLen = e133.MaxScopeLength + 1

func putFixedString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

func getFixedString(src []byte) string {
	if i := indexZero(src); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// ConnectMsg is the payload of a VectorBrokerConnect PDU: a client's
// request to join a scope, carrying its Client Entry.
type ConnectMsg struct {
	Scope       string
	E133Version uint16
	Entry       ClientEntry
}

const connectFixedLen = fixedScopeLen + 2

// Encode appends the wire form of m to dst.
func (m ConnectMsg) Encode(dst []byte) []byte {
	payload := make([]byte, connectFixedLen)
	putFixedString(payload[:fixedScopeLen], m.Scope)
	binary.BigEndian.PutUint16(payload[fixedScopeLen:], m.E133Version)
	payload = m.Entry.Encode(payload)
	return BrokerPDU{Vector: e133.VectorBrokerConnect, Payload: payload}.Encode(dst)
}

// DecodeConnectMsg decodes a Connect PDU payload.
func DecodeConnectMsg(payload []byte) (ConnectMsg, error) {
	if len(payload) < connectFixedLen {
		return ConnectMsg{}, ErrShortBuffer
	}
	var m ConnectMsg
	m.Scope = getFixedString(payload[:fixedScopeLen])
	m.E133Version = binary.BigEndian.Uint16(payload[fixedScopeLen:connectFixedLen])
	entry, _, err := DecodeClientEntry(payload[connectFixedLen:])
	if err != nil {
		return ConnectMsg{}, fmt.Errorf("codec: connect message client entry: %w", err)
	}
	m.Entry = entry
	return m, nil
}

// ConnectReplyMsg is the payload of a VectorBrokerConnectReply PDU: the
// broker's accept/reject response to a Connect request.
type ConnectReplyMsg struct {
	Status      e133.ConnectStatus
	E133Version uint16
	BrokerCID   rid.CID
	BrokerUID   rid.UID
	ClientUID   rid.UID
}

const connectReplyLen = 2 + 2 + 16 + 6 + 6

// Encode appends the wire form of m to dst.
func (m ConnectReplyMsg) Encode(dst []byte) []byte {
	payload := make([]byte, connectReplyLen)
	binary.BigEndian.PutUint16(payload[0:2], uint16(m.Status))
	binary.BigEndian.PutUint16(payload[2:4], m.E133Version)
	copy(payload[4:20], m.BrokerCID[:])
	binary.BigEndian.PutUint16(payload[20:22], m.BrokerUID.Manufacturer)
	binary.BigEndian.PutUint32(payload[22:26], m.BrokerUID.Device)
	binary.BigEndian.PutUint16(payload[26:28], m.ClientUID.Manufacturer)
	binary.BigEndian.PutUint32(payload[28:32], m.ClientUID.Device)
	return BrokerPDU{Vector: e133.VectorBrokerConnectReply, Payload: payload}.Encode(dst)
}

// DecodeConnectReplyMsg decodes a Connect Reply PDU payload.
func DecodeConnectReplyMsg(payload []byte) (ConnectReplyMsg, error) {
	if len(payload) < connectReplyLen {
		return ConnectReplyMsg{}, ErrShortBuffer
	}
	var m ConnectReplyMsg
	m.Status = e133.ConnectStatus(binary.BigEndian.Uint16(payload[0:2]))
	m.E133Version = binary.BigEndian.Uint16(payload[2:4])
	copy(m.BrokerCID[:], payload[4:20])
	m.BrokerUID = rid.UID{
		Manufacturer: binary.BigEndian.Uint16(payload[20:22]),
		Device:       binary.BigEndian.Uint32(payload[22:26]),
	}
	m.ClientUID = rid.UID{
		Manufacturer: binary.BigEndian.Uint16(payload[26:28]),
		Device:       binary.BigEndian.Uint32(payload[28:32]),
	}
	return m, nil
}

// ClientListMsg carries a run of Client Entry PDUs, used for
// VectorBrokerConnectedClientList, VectorBrokerClientAdd,
// VectorBrokerClientRemove, and VectorBrokerClientEntryChange.
type ClientListMsg struct {
	Vector  uint16
	Clients []ClientEntry
}

// Encode appends the wire form of m to dst. Each entry after the first
// omits its protocol vector and/or CID when they match the previous
// entry's, per spec §4.1's inherit-flags mechanism for a Client Entry run.
func (m ClientListMsg) Encode(dst []byte) []byte {
	var payload []byte
	var prev *ClientEntry
	for i := range m.Clients {
		payload = m.Clients[i].encode(payload, prev)
		prev = &m.Clients[i]
	}
	return BrokerPDU{Vector: m.Vector, Payload: payload}.Encode(dst)
}

// DecodeClientListMsg decodes a run of Client Entry PDUs from payload,
// carrying each entry's vector and CID forward to the next sibling in
// case it inherits them.
func DecodeClientListMsg(vector uint16, payload []byte) (ClientListMsg, error) {
	m := ClientListMsg{Vector: vector}
	var prev *ClientEntry
	for len(payload) > 0 {
		entry, n, err := decodeClientEntry(payload, prev)
		if err != nil {
			return ClientListMsg{}, fmt.Errorf("codec: client list entry: %w", err)
		}
		m.Clients = append(m.Clients, entry)
		payload = payload[n:]
		prev = &m.Clients[len(m.Clients)-1]
	}
	return m, nil
}

// DisconnectMsg is the payload of a VectorBrokerDisconnect PDU.
type DisconnectMsg struct {
	Reason e133.DisconnectReason
}

// Encode appends the wire form of m to dst.
func (m DisconnectMsg) Encode(dst []byte) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(m.Reason))
	return BrokerPDU{Vector: e133.VectorBrokerDisconnect, Payload: payload}.Encode(dst)
}

// DecodeDisconnectMsg decodes a Disconnect PDU payload.
func DecodeDisconnectMsg(payload []byte) (DisconnectMsg, error) {
	if len(payload) < 2 {
		return DisconnectMsg{}, ErrShortBuffer
	}
	return DisconnectMsg{Reason: e133.DisconnectReason(binary.BigEndian.Uint16(payload[0:2]))}, nil
}

// RedirectMsg is the payload of a VectorBrokerRedirectV4/V6 PDU,
// instructing a client to reconnect to a different broker address.
type RedirectMsg struct {
	IP   []byte // 4 or 16 bytes, matching the PDU's vector
	Port uint16
}

// Encode appends the wire form of m to dst using vector (RedirectV4 or
// RedirectV6, selected by the caller based on len(m.IP)).
func (m RedirectMsg) Encode(dst []byte, vector uint16) []byte {
	payload := make([]byte, len(m.IP)+2)
	copy(payload, m.IP)
	binary.BigEndian.PutUint16(payload[len(m.IP):], m.Port)
	return BrokerPDU{Vector: vector, Payload: payload}.Encode(dst)
}

// DecodeRedirectMsg decodes a Redirect PDU payload; ipLen must be 4 for
// VectorBrokerRedirectV4 or 16 for VectorBrokerRedirectV6.
func DecodeRedirectMsg(payload []byte, ipLen int) (RedirectMsg, error) {
	if len(payload) < ipLen+2 {
		return RedirectMsg{}, ErrShortBuffer
	}
	return RedirectMsg{
		IP:   append([]byte(nil), payload[:ipLen]...),
		Port: binary.BigEndian.Uint16(payload[ipLen : ipLen+2]),
	}, nil
}

// FetchClientListMsg is the empty payload of a VectorBrokerFetchClientList
// PDU — a client requesting the current roster.
type FetchClientListMsg struct{}

// Encode appends the wire form of m to dst.
func (FetchClientListMsg) Encode(dst []byte) []byte {
	return BrokerPDU{Vector: e133.VectorBrokerFetchClientList}.Encode(dst)
}

// RequestDynamicUIDsMsg requests the broker assign dynamic UIDs for one or
// more (manufacturer ID, request CID) pairs.
type RequestDynamicUIDsMsg struct {
	ManufacturerID uint16
	RequestCIDs    []rid.CID
}

// Encode appends the wire form of m to dst.
func (m RequestDynamicUIDsMsg) Encode(dst []byte) []byte {
	payload := make([]byte, 0, len(m.RequestCIDs)*18)
	for _, cid := range m.RequestCIDs {
		var b [18]byte
		binary.BigEndian.PutUint16(b[0:2], m.ManufacturerID)
		copy(b[2:18], cid[:])
		payload = append(payload, b[:]...)
	}
	return BrokerPDU{Vector: e133.VectorBrokerRequestDynamicUIDs, Payload: payload}.Encode(dst)
}

// DecodeRequestDynamicUIDsMsg decodes a RequestDynamicUIDs PDU payload.
func DecodeRequestDynamicUIDsMsg(payload []byte) (RequestDynamicUIDsMsg, error) {
	var m RequestDynamicUIDsMsg
	for off := 0; off+18 <= len(payload); off += 18 {
		chunk := payload[off : off+18]
		m.ManufacturerID = binary.BigEndian.Uint16(chunk[0:2])
		var cid rid.CID
		copy(cid[:], chunk[2:18])
		m.RequestCIDs = append(m.RequestCIDs, cid)
	}
	return m, nil
}

// AssignedDynamicUIDsMsg is the broker's reply to a
// RequestDynamicUIDsMsg, pairing each requested CID with its assigned UID
// (or a nonzero status code on failure).
type AssignedDynamicUIDsMsg struct {
	Mappings []DynamicUIDMapping
}

// DynamicUIDMapping is one (requested CID -> assigned UID) pair in an
// AssignedDynamicUIDsMsg.
type DynamicUIDMapping struct {
	RequestCID   rid.CID
	AssignedUID  rid.UID
	StatusCode   uint16
}

const dynamicUIDMappingLen = 16 + 6 + 2

// Encode appends the wire form of m to dst.
func (m AssignedDynamicUIDsMsg) Encode(dst []byte) []byte {
	payload := make([]byte, 0, len(m.Mappings)*dynamicUIDMappingLen)
	for _, mp := range m.Mappings {
		var b [dynamicUIDMappingLen]byte
		copy(b[0:16], mp.RequestCID[:])
		binary.BigEndian.PutUint16(b[16:18], mp.AssignedUID.Manufacturer)
		binary.BigEndian.PutUint32(b[18:22], mp.AssignedUID.Device)
		binary.BigEndian.PutUint16(b[22:24], mp.StatusCode)
		payload = append(payload, b[:]...)
	}
	return BrokerPDU{Vector: e133.VectorBrokerAssignedDynamicUIDs, Payload: payload}.Encode(dst)
}

// DecodeAssignedDynamicUIDsMsg decodes an AssignedDynamicUIDs PDU payload.
func DecodeAssignedDynamicUIDsMsg(payload []byte) (AssignedDynamicUIDsMsg, error) {
	var m AssignedDynamicUIDsMsg
	for off := 0; off+dynamicUIDMappingLen <= len(payload); off += dynamicUIDMappingLen {
		chunk := payload[off : off+dynamicUIDMappingLen]
		var mp DynamicUIDMapping
		copy(mp.RequestCID[:], chunk[0:16])
		mp.AssignedUID = rid.UID{
			Manufacturer: binary.BigEndian.Uint16(chunk[16:18]),
			Device:       binary.BigEndian.Uint32(chunk[18:22]),
		}
		mp.StatusCode = binary.BigEndian.Uint16(chunk[22:24])
		m.Mappings = append(m.Mappings, mp)
	}
	return m, nil
}
