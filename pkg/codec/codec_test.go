package codec

import (
	"bytes"
	"testing"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

func TestRootLayerPDURoundTrip(t *testing.T) {
	cid := rid.NewCID()
	p := RootLayerPDU{
		Vector:    e133.VectorRootBroker,
		SenderCID: cid,
		Data:      []byte("hello"),
	}

	wire := p.Encode(nil)
	got, n, err := DecodeRootLayerPDU(wire)
	if err != nil {
		t.Fatalf("DecodeRootLayerPDU: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d bytes, want %d", n, len(wire))
	}
	if got.Vector != p.Vector || got.SenderCID != p.SenderCID || !bytes.Equal(got.Data, p.Data) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecodeRootLayerPDUShortBuffer(t *testing.T) {
	if _, _, err := DecodeRootLayerPDU([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected error decoding truncated root layer PDU")
	}
}

func TestPDUHeaderRoundTripsFlagsAndLength(t *testing.T) {
	for _, length := range []int{3, 23, 28, 100, 4096, 0x000FFFFF} {
		buf := make([]byte, 3)
		EncodePDUHeader(buf, length)
		h, err := DecodePDUHeader(buf)
		if err != nil {
			t.Fatalf("length %d: DecodePDUHeader: %v", length, err)
		}
		if h.Length != length {
			t.Fatalf("length %d: decoded Length = %d", length, h.Length)
		}
		if !h.HasVector || !h.HasHeader {
			t.Fatalf("length %d: HasVector=%v HasHeader=%v, want both true", length, h.HasVector, h.HasHeader)
		}
	}
}

func TestClientEntryRPTRoundTrip(t *testing.T) {
	entry := ClientEntry{
		Protocol:      e133.ClientProtocolRPT,
		CID:           rid.NewCID(),
		RPTUID:        rid.UID{Manufacturer: 0x6574, Device: 0x00000042},
		RPTType:       ClientTypeController,
		RPTBindingCID: rid.CID{},
	}

	wire := entry.Encode(nil)
	got, n, err := DecodeClientEntry(wire)
	if err != nil {
		t.Fatalf("DecodeClientEntry: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d, want %d", n, len(wire))
	}
	if got.RPTUID != entry.RPTUID || got.RPTType != entry.RPTType || got.CID != entry.CID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
}

func TestClientEntryEPTRoundTrip(t *testing.T) {
	entry := ClientEntry{
		Protocol: e133.ClientProtocolEPT,
		CID:      rid.NewCID(),
		EPTSubProtocols: []EPTSubProtocol{
			{Vector: 1, ProtocolID: 0xABCD, Name: "example-protocol"},
		},
	}

	wire := entry.Encode(nil)
	got, _, err := DecodeClientEntry(wire)
	if err != nil {
		t.Fatalf("DecodeClientEntry: %v", err)
	}
	if len(got.EPTSubProtocols) != 1 || got.EPTSubProtocols[0].Name != "example-protocol" {
		t.Fatalf("EPT sub-protocols mismatch: %+v", got.EPTSubProtocols)
	}
}

func TestConnectMsgRoundTrip(t *testing.T) {
	msg := ConnectMsg{
		Scope:       "default",
		E133Version: 1,
		Entry: ClientEntry{
			Protocol: e133.ClientProtocolRPT,
			CID:      rid.NewCID(),
			RPTUID:   rid.UID{Manufacturer: 0x1234, Device: 1},
			RPTType:  ClientTypeDevice,
		},
	}

	wire := msg.Encode(nil)
	brokerPDU, _, err := DecodeBrokerPDU(wire)
	if err != nil {
		t.Fatalf("DecodeBrokerPDU: %v", err)
	}
	if brokerPDU.Vector != e133.VectorBrokerConnect {
		t.Fatalf("vector = 0x%04x, want VectorBrokerConnect", brokerPDU.Vector)
	}

	got, err := DecodeConnectMsg(brokerPDU.Payload)
	if err != nil {
		t.Fatalf("DecodeConnectMsg: %v", err)
	}
	if got.Scope != msg.Scope || got.E133Version != msg.E133Version {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
	if got.Entry.RPTUID != msg.Entry.RPTUID {
		t.Fatalf("entry UID mismatch: got %v, want %v", got.Entry.RPTUID, msg.Entry.RPTUID)
	}
}

func TestClientListMsgRoundTrip(t *testing.T) {
	msg := ClientListMsg{
		Vector: e133.VectorBrokerClientAdd,
		Clients: []ClientEntry{
			{Protocol: e133.ClientProtocolRPT, CID: rid.NewCID(), RPTUID: rid.UID{Manufacturer: 1, Device: 1}},
			{Protocol: e133.ClientProtocolRPT, CID: rid.NewCID(), RPTUID: rid.UID{Manufacturer: 2, Device: 2}},
		},
	}

	wire := msg.Encode(nil)
	brokerPDU, _, err := DecodeBrokerPDU(wire)
	if err != nil {
		t.Fatalf("DecodeBrokerPDU: %v", err)
	}
	got, err := DecodeClientListMsg(brokerPDU.Vector, brokerPDU.Payload)
	if err != nil {
		t.Fatalf("DecodeClientListMsg: %v", err)
	}
	if len(got.Clients) != 2 {
		t.Fatalf("got %d clients, want 2", len(got.Clients))
	}
	if got.Clients[0].RPTUID != msg.Clients[0].RPTUID || got.Clients[1].RPTUID != msg.Clients[1].RPTUID {
		t.Fatalf("client UID mismatch: %+v", got.Clients)
	}
}

func TestClientListMsgInheritsVectorAcrossRun(t *testing.T) {
	sharedCID := rid.NewCID()
	full := ClientListMsg{
		Vector: e133.VectorBrokerConnectedClientList,
		Clients: []ClientEntry{
			{Protocol: e133.ClientProtocolRPT, CID: rid.NewCID(), RPTUID: rid.UID{Manufacturer: 1, Device: 1}},
			{Protocol: e133.ClientProtocolRPT, CID: rid.NewCID(), RPTUID: rid.UID{Manufacturer: 2, Device: 2}},
			{Protocol: e133.ClientProtocolRPT, CID: sharedCID, RPTUID: rid.UID{Manufacturer: 3, Device: 3}},
			{Protocol: e133.ClientProtocolRPT, CID: sharedCID, RPTUID: rid.UID{Manufacturer: 4, Device: 4}},
		},
	}

	wire := full.Encode(nil)

	// The fourth entry shares its CID with the third, and
	// every entry shares the same RPT protocol vector, so the wire form
	// must be shorter than if every entry restated both fields.
	allFlags := make([]byte, 0)
	for _, c := range full.Clients {
		allFlags = c.Encode(allFlags)
	}
	if len(wire) >= len(allFlags) {
		t.Fatalf("inherit-flags encoding (%d bytes) not shorter than full restatement (%d bytes)", len(wire), len(allFlags))
	}

	brokerPDU, _, err := DecodeBrokerPDU(wire)
	if err != nil {
		t.Fatalf("DecodeBrokerPDU: %v", err)
	}
	got, err := DecodeClientListMsg(brokerPDU.Vector, brokerPDU.Payload)
	if err != nil {
		t.Fatalf("DecodeClientListMsg: %v", err)
	}
	if len(got.Clients) != len(full.Clients) {
		t.Fatalf("got %d clients, want %d", len(got.Clients), len(full.Clients))
	}
	for i, want := range full.Clients {
		if got.Clients[i].Protocol != want.Protocol || got.Clients[i].CID != want.CID || got.Clients[i].RPTUID != want.RPTUID {
			t.Fatalf("entry %d mismatch: got %+v, want %+v", i, got.Clients[i], want)
		}
	}
}

func TestRPTPDURoundTrip(t *testing.T) {
	p := RPTPDU{
		Vector: e133.VectorRPTRequest,
		Header: RPTHeader{
			SourceUID:      rid.UID{Manufacturer: 1, Device: 1},
			SourceEndpoint: 0,
			DestUID:        rid.UID{Manufacturer: 2, Device: 2},
			DestEndpoint:   0,
		},
		Payload: make([]byte, MinRDMCommandLen),
	}

	wire := p.Encode(nil)
	got, n, err := DecodeRPTPDU(wire)
	if err != nil {
		t.Fatalf("DecodeRPTPDU: %v", err)
	}
	if n != len(wire) {
		t.Fatalf("consumed %d, want %d", n, len(wire))
	}
	if got.Header != p.Header || got.Vector != p.Vector {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestRDMCommandValidate(t *testing.T) {
	if err := RDMCommand(make([]byte, 10)).Validate(); err == nil {
		t.Fatal("expected error for too-short RDM command")
	}
	if err := RDMCommand(make([]byte, 300)).Validate(); err == nil {
		t.Fatal("expected error for too-long RDM command")
	}
	if err := RDMCommand(make([]byte, MinRDMCommandLen)).Validate(); err != nil {
		t.Fatalf("unexpected error at minimum length: %v", err)
	}
}

func TestConnectReplyMsgRoundTrip(t *testing.T) {
	msg := ConnectReplyMsg{
		Status:      e133.ConnectOK,
		E133Version: 1,
		BrokerCID:   rid.NewCID(),
		BrokerUID:   rid.UID{Manufacturer: 0x6574, Device: 1},
		ClientUID:   rid.UID{Manufacturer: 0x1234, Device: 2},
	}
	wire := msg.Encode(nil)
	brokerPDU, _, err := DecodeBrokerPDU(wire)
	if err != nil {
		t.Fatalf("DecodeBrokerPDU: %v", err)
	}
	got, err := DecodeConnectReplyMsg(brokerPDU.Payload)
	if err != nil {
		t.Fatalf("DecodeConnectReplyMsg: %v", err)
	}
	if got != msg {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, msg)
	}
}
