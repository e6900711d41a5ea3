package broker

// End-to-end scenario tests covering the broker's observable behavior
// across a full client lifecycle, each driven over an in-memory
// net.Pipe() connection the same way production code drives a TCP
// socket (serveClient has no TCP-specific logic in its own control
// flow). These correspond one-to-one with the end-to-end scenarios in
// spec.md's TESTABLE PROPERTIES section.

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/etclabs/rdmnetgo/internal/msgbuf"
	"github.com/etclabs/rdmnetgo/pkg/codec"
	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// msgReader decodes messages from conn onto a channel until conn closes
// or a malformed message is seen, for scenario tests that must observe
// more than one reply on a connection.
func msgReader(conn net.Conn) <-chan msgbuf.Message {
	ch := make(chan msgbuf.Message, 16)
	go func() {
		defer close(ch)
		buf := msgbuf.New()
		read := make([]byte, 4096)
		for {
			n, err := conn.Read(read)
			if err != nil {
				return
			}
			buf.Write(read[:n])
			for {
				msg, err := buf.Next()
				if err == msgbuf.ErrNoData {
					break
				}
				if err != nil {
					return
				}
				ch <- msg
			}
		}
	}()
	return ch
}

func sendConnect(t *testing.T, conn net.Conn, scope string, cid rid.CID, uid rid.UID, ctype codec.ClientType) {
	t.Helper()
	connect := codec.ConnectMsg{
		Scope:       scope,
		E133Version: 1,
		Entry: codec.ClientEntry{
			Protocol: e133.ClientProtocolRPT,
			CID:      cid,
			RPTUID:   uid,
			RPTType:  ctype,
		},
	}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: cid, Data: connect.Encode(nil)}
	wire = rlp.Encode(wire)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write connect: %v", err)
	}
}

func sendFetchClientList(t *testing.T, conn net.Conn, senderCID rid.CID) {
	t.Helper()
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: senderCID, Data: codec.FetchClientListMsg{}.Encode(nil)}
	wire = rlp.Encode(wire)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write fetch client list: %v", err)
	}
}

func sendRPTRequest(t *testing.T, conn net.Conn, senderCID rid.CID, hdr codec.RPTHeader) {
	t.Helper()
	pdu := codec.RPTPDU{Vector: e133.VectorRPTRequest, Header: hdr, Payload: make([]byte, codec.MinRDMCommandLen)}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootRPT, SenderCID: senderCID, Data: pdu.Encode(nil)}
	wire = rlp.Encode(wire)
	if _, err := conn.Write(wire); err != nil {
		t.Fatalf("write RPT request: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan msgbuf.Message, timeout time.Duration, match func(msgbuf.Message) bool) msgbuf.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				t.Fatal("connection closed before the expected message arrived")
			}
			if match(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("timed out waiting for expected message")
		}
	}
}

func isConnectReply(m msgbuf.Message) bool { return m.Broker != nil && m.Broker.ConnectReply != nil }

func isClientListVector(vector uint16) func(msgbuf.Message) bool {
	return func(m msgbuf.Message) bool {
		return m.Broker != nil && m.Broker.ClientList != nil && m.Broker.Vector == vector
	}
}

// TestScenarioTwoControllersExchangeClientList covers spec.md §8 scenario 1.
func TestScenarioTwoControllersExchangeClientList(t *testing.T) {
	b := testBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aClient, aServer := net.Pipe()
	bClient, bServer := net.Pipe()
	defer aClient.Close()
	defer bClient.Close()
	go b.serveClient(ctx, aServer)
	go b.serveClient(ctx, bServer)

	aCID, bCID := rid.CID{0xAA, 0x01}, rid.CID{0xAA, 0x02}
	aUID, bUID := uid(0x6574, 1), uid(0x6574, 2)
	aCh, bCh := msgReader(aClient), msgReader(bClient)

	sendConnect(t, aClient, e133.DefaultScope, aCID, aUID, codec.ClientTypeController)
	if reply := waitFor(t, aCh, 2*time.Second, isConnectReply); reply.Broker.ConnectReply.Status != e133.ConnectOK {
		t.Fatalf("A's ConnectReply.Status = %v, want ConnectOK", reply.Broker.ConnectReply.Status)
	}

	sendConnect(t, bClient, e133.DefaultScope, bCID, bUID, codec.ClientTypeController)
	if reply := waitFor(t, bCh, 2*time.Second, isConnectReply); reply.Broker.ConnectReply.Status != e133.ConnectOK {
		t.Fatalf("B's ConnectReply.Status = %v, want ConnectOK", reply.Broker.ConnectReply.Status)
	}

	added := waitFor(t, aCh, 2*time.Second, isClientListVector(e133.VectorBrokerClientAdd))
	if got := added.Broker.ClientList.Clients; len(got) != 1 || got[0].RPTUID != bUID {
		t.Fatalf("A's ClientAdd = %+v, want exactly B (%v)", got, bUID)
	}

	sendFetchClientList(t, aClient, aCID)
	list := waitFor(t, aCh, 2*time.Second, isClientListVector(e133.VectorBrokerConnectedClientList))
	got := list.Broker.ClientList.Clients
	if len(got) != 2 {
		t.Fatalf("A's ConnectedClientList has %d entries, want 2: %+v", len(got), got)
	}
	seen := map[rid.UID]bool{got[0].RPTUID: true, got[1].RPTUID: true}
	if !seen[aUID] || !seen[bUID] {
		t.Fatalf("A's ConnectedClientList = %+v, want exactly {%v, %v}", got, aUID, bUID)
	}
}

// TestScenarioRequestRoutedToDevice covers spec.md §8 scenario 2.
func TestScenarioRequestRoutedToDevice(t *testing.T) {
	b := testBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cClient, cServer := net.Pipe()
	dClient, dServer := net.Pipe()
	defer cClient.Close()
	defer dClient.Close()
	go b.serveClient(ctx, cServer)
	go b.serveClient(ctx, dServer)

	cCID, dCID := rid.CID{0xC0}, rid.CID{0xD0}
	cUID, dUID := uid(0x6574, 1), uid(0x6574, 0x10000001)
	cCh, dCh := msgReader(cClient), msgReader(dClient)

	sendConnect(t, cClient, e133.DefaultScope, cCID, cUID, codec.ClientTypeController)
	waitFor(t, cCh, 2*time.Second, isConnectReply)
	sendConnect(t, dClient, e133.DefaultScope, dCID, dUID, codec.ClientTypeDevice)
	waitFor(t, dCh, 2*time.Second, isConnectReply)

	reqHeader := codec.RPTHeader{SourceUID: cUID, DestUID: dUID}
	sendRPTRequest(t, cClient, cCID, reqHeader)

	isRPTVector := func(vector uint16) func(msgbuf.Message) bool {
		return func(m msgbuf.Message) bool { return m.RPT != nil && m.RPT.Vector == vector }
	}
	req := waitFor(t, dCh, 2*time.Second, isRPTVector(e133.VectorRPTRequest))
	if req.RPT.Header != reqHeader {
		t.Fatalf("D observed header %+v, want verbatim %+v", req.RPT.Header, reqHeader)
	}

	notifHeader := codec.RPTHeader{SourceUID: dUID, DestUID: cUID}
	notif := codec.RPTPDU{Vector: e133.VectorRPTNotification, Header: notifHeader, Payload: make([]byte, codec.MinRDMCommandLen)}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootRPT, SenderCID: dCID, Data: notif.Encode(nil)}
	if _, err := dClient.Write(rlp.Encode(wire)); err != nil {
		t.Fatalf("write RPT notification: %v", err)
	}

	got := waitFor(t, cCh, 2*time.Second, isRPTVector(e133.VectorRPTNotification))
	if got.RPT.Header.SourceUID != dUID || got.RPT.Header.DestUID != cUID {
		t.Fatalf("C observed header %+v, want source %v dest %v", got.RPT.Header, dUID, cUID)
	}
}

// TestScenarioUnknownDestination covers spec.md §8 scenario 3.
func TestScenarioUnknownDestination(t *testing.T) {
	b := testBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cClient, cServer := net.Pipe()
	defer cClient.Close()
	go b.serveClient(ctx, cServer)

	cCID := rid.CID{0xC0}
	cUID := uid(0x6574, 1)
	cCh := msgReader(cClient)
	sendConnect(t, cClient, e133.DefaultScope, cCID, cUID, codec.ClientTypeController)
	waitFor(t, cCh, 2*time.Second, isConnectReply)

	unknown := uid(0x6574, 0xFFFFFFFF)
	sendRPTRequest(t, cClient, cCID, codec.RPTHeader{SourceUID: cUID, DestUID: unknown})

	status := waitFor(t, cCh, 2*time.Second, func(m msgbuf.Message) bool {
		return m.RPT != nil && m.RPT.Vector == e133.VectorRPTStatus
	})
	if status.RPT.Header.DestUID != cUID {
		t.Fatalf("status reply addressed to %v, want %v", status.RPT.Header.DestUID, cUID)
	}
}

// TestScenarioScopeMismatch covers spec.md §8 scenario 4.
func TestScenarioScopeMismatch(t *testing.T) {
	b := testBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, server := net.Pipe()
	defer client.Close()
	done := make(chan struct{})
	go func() {
		b.serveClient(ctx, server)
		close(done)
	}()

	ch := msgReader(client)
	sendConnect(t, client, "foo", rid.CID{0xF0}, uid(1, 1), codec.ClientTypeController)

	reply := waitFor(t, ch, 2*time.Second, isConnectReply)
	if reply.Broker.ConnectReply.Status != e133.ConnectScopeMismatch {
		t.Fatalf("status = %v, want ConnectScopeMismatch", reply.Broker.ConnectReply.Status)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveClient did not close the connection after a scope mismatch")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("ClientCount() = %d, want 0: ClientAdd must never follow a rejected connect", b.ClientCount())
	}
}

// TestScenarioDisconnectionCleanup covers spec.md §8 scenario 5.
func TestScenarioDisconnectionCleanup(t *testing.T) {
	b := testBroker()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cClient, cServer := net.Pipe()
	dClient, dServer := net.Pipe()
	defer cClient.Close()

	go b.serveClient(ctx, cServer)
	dDone := make(chan struct{})
	go func() {
		b.serveClient(ctx, dServer)
		close(dDone)
	}()

	cCID, dCID := rid.CID{0xC0}, rid.CID{0xD0}
	dUID := uid(0x6574, 0x10000001)
	cCh := msgReader(cClient)
	dCh := msgReader(dClient) // drains D's incoming traffic so the broker's sends to D never block

	sendConnect(t, cClient, e133.DefaultScope, cCID, uid(0x6574, 1), codec.ClientTypeController)
	waitFor(t, cCh, 2*time.Second, isConnectReply)
	sendConnect(t, dClient, e133.DefaultScope, dCID, dUID, codec.ClientTypeDevice)
	waitFor(t, dCh, 2*time.Second, isConnectReply)
	waitFor(t, cCh, 2*time.Second, isClientListVector(e133.VectorBrokerClientAdd))

	dClient.Close()
	select {
	case <-dDone:
	case <-time.After(2 * time.Second):
		t.Fatal("serveClient never returned after D's connection closed")
	}

	removed := waitFor(t, cCh, 2*time.Second, isClientListVector(e133.VectorBrokerClientRemove))
	if got := removed.Broker.ClientList.Clients; len(got) != 1 || got[0].RPTUID != dUID {
		t.Fatalf("C's ClientRemove = %+v, want exactly D (%v)", got, dUID)
	}

	sendFetchClientList(t, cClient, cCID)
	list := waitFor(t, cCh, 2*time.Second, isClientListVector(e133.VectorBrokerConnectedClientList))
	for _, entry := range list.Broker.ClientList.Clients {
		if entry.RPTUID == dUID {
			t.Fatalf("ConnectedClientList still contains D after its disconnect: %+v", list.Broker.ClientList.Clients)
		}
	}
}
