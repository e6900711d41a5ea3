package broker

import (
	"github.com/etclabs/rdmnetgo/internal/msgbuf"
	"github.com/etclabs/rdmnetgo/pkg/codec"
	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// routeRPT delivers one RPT PDU from its sender to its addressed
// destination(s), matching broker.cpp's ProcessRPTMessage dispatch on the
// header's dest UID. Unicast, the controller/device broadcast classes,
// and manufacturer-scoped broadcast are all handled the same way the
// original does: every matching recipient besides the sender gets an
// identical copy, with header and payload forwarded unchanged — this
// broker never looks inside Payload.
func (b *Broker) routeRPT(sender *client, rpt msgbuf.RPTMessage) {
	dest := rpt.Header.DestUID

	wire := encodeRPT(sender.cid, rpt)

	switch {
	case dest.IsBroadcast():
		b.deliverToAll(sender, wire, 0)
	case dest.IsControllerBroadcast():
		b.deliverToType(sender, wire, codec.ClientTypeController)
	case dest.IsDeviceBroadcast():
		b.deliverToType(sender, wire, codec.ClientTypeDevice)
	default:
		if manu, ok := dest.IsManufacturerBroadcast(); ok {
			b.deliverToManufacturer(sender, wire, manu)
			return
		}
		b.deliverUnicast(sender, wire, dest, rpt)
	}
}

func encodeRPT(senderCID rid.CID, rpt msgbuf.RPTMessage) []byte {
	pdu := codec.RPTPDU{Vector: rpt.Vector, Header: rpt.Header, Payload: rpt.Payload}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootRPT, SenderCID: senderCID, Data: pdu.Encode(nil)}
	return rlp.Encode(wire)
}

func (b *Broker) deliverUnicast(sender *client, wire []byte, dest rid.UID, rpt msgbuf.RPTMessage) {
	target, ok := b.reg.lookupUID(dest)
	if !ok {
		b.metrics.MessageDropped("unknown destination UID")
		b.sendRPTStatus(sender, rpt.Header, codec.RPTStatusUnknownRPTUID)
		return
	}
	if err := target.send(wire); err != nil {
		b.metrics.MessageDropped("send failed")
		return
	}
	b.metrics.MessageRouted()
}

func (b *Broker) deliverToAll(sender *client, wire []byte, _ uint32) {
	for _, c := range b.reg.snapshot(e133.ClientProtocolRPT) {
		if c == sender {
			continue
		}
		if err := c.send(wire); err == nil {
			b.metrics.MessageRouted()
		}
	}
}

func (b *Broker) deliverToType(sender *client, wire []byte, t codec.ClientType) {
	for _, c := range b.reg.snapshot(e133.ClientProtocolRPT) {
		if c == sender || c.clientType != t {
			continue
		}
		if err := c.send(wire); err == nil {
			b.metrics.MessageRouted()
		}
	}
}

func (b *Broker) deliverToManufacturer(sender *client, wire []byte, manu uint16) {
	for _, c := range b.reg.snapshot(e133.ClientProtocolRPT) {
		if c == sender || c.uid.Manufacturer != manu {
			continue
		}
		if err := c.send(wire); err == nil {
			b.metrics.MessageRouted()
		}
	}
}

// sendRPTStatus replies to the sender of an RPT Request with a Status
// PDU, used when its destination UID is not currently connected.
func (b *Broker) sendRPTStatus(sender *client, hdr codec.RPTHeader, code codec.RPTStatusCode) {
	reply := codec.RPTPDU{
		Vector: e133.VectorRPTStatus,
		Header: codec.RPTHeader{SourceUID: hdr.DestUID, DestUID: hdr.SourceUID},
		Payload: encodeRPTStatusPayload(code),
	}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootRPT, SenderCID: b.cfg.CID, Data: reply.Encode(nil)}
	wire = rlp.Encode(wire)
	_ = sender.send(wire)
}

func encodeRPTStatusPayload(code codec.RPTStatusCode) []byte {
	return []byte{byte(code >> 8), byte(code)}
}

// sendInitialClientList replies to a newly connected client (or an
// explicit FetchClientList request) with the full current RPT roster,
// matching broker.cpp's SendClientList — which, notably, includes the
// requester's own entry alongside every other same-protocol client.
func (b *Broker) sendInitialClientList(c *client) {
	clients := b.reg.snapshot(e133.ClientProtocolRPT)
	entries := make([]codec.ClientEntry, 0, len(clients))
	for _, other := range clients {
		entries = append(entries, clientEntryOf(other))
	}
	b.sendClientList(c, e133.VectorBrokerConnectedClientList, entries)
}

// announceClientAdded notifies every other connected client that c has
// joined, matching broker.cpp's SendClientsAdded.
func (b *Broker) announceClientAdded(c *client) {
	b.broadcastClientListChange(c, e133.VectorBrokerClientAdd)
}

// announceClientRemoved notifies every other connected client that c has
// left, matching broker.cpp's SendClientsRemoved.
func (b *Broker) announceClientRemoved(c *client) {
	b.broadcastClientListChange(c, e133.VectorBrokerClientRemove)
}

func (b *Broker) broadcastClientListChange(c *client, vector uint16) {
	if c.protocol != e133.ClientProtocolRPT {
		return
	}
	entry := clientEntryOf(c)
	for _, other := range b.reg.snapshot(e133.ClientProtocolRPT) {
		if other == c {
			continue
		}
		b.sendClientList(other, vector, []codec.ClientEntry{entry})
	}
}

func (b *Broker) sendClientList(to *client, vector uint16, entries []codec.ClientEntry) {
	msg := codec.ClientListMsg{Vector: vector, Clients: entries}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: b.cfg.CID, Data: msg.Encode(nil)}
	wire = rlp.Encode(wire)
	_ = to.send(wire)
}

func clientEntryOf(c *client) codec.ClientEntry {
	return codec.ClientEntry{
		Protocol: c.protocol,
		CID:      c.cid,
		RPTUID:   c.uid,
		RPTType:  c.clientType,
	}
}

// replyDynamicUIDs answers a RequestDynamicUIDs PDU. This broker only
// assigns a dynamic UID at Connect time (the request device field in the
// Client Entry), so a post-connect request always reports back whatever
// UID the requester already holds rather than minting a new one — there
// is no other component in this implementation that owns unassigned
// dynamic UIDs once a client is already on the roster.
func (b *Broker) replyDynamicUIDs(c *client, req codec.RequestDynamicUIDsMsg) {
	mappings := make([]codec.DynamicUIDMapping, 0, len(req.RequestCIDs))
	for _, cid := range req.RequestCIDs {
		mappings = append(mappings, codec.DynamicUIDMapping{
			RequestCID:  cid,
			AssignedUID: c.uid,
			StatusCode:  0,
		})
	}
	msg := codec.AssignedDynamicUIDsMsg{Mappings: mappings}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: b.cfg.CID, Data: msg.Encode(nil)}
	wire = rlp.Encode(wire)
	_ = c.send(wire)
}
