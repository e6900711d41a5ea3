package rconn

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

func testCID(b byte) rid.CID {
	var c rid.CID
	c[0] = b
	return c
}

func testUID(mfr uint16, dev uint32) rid.UID {
	return rid.UID{Manufacturer: mfr, Device: dev}
}

func dialerFor(conn net.Conn) func(context.Context, string, string) (net.Conn, error) {
	return func(context.Context, string, string) (net.Conn, error) {
		return conn, nil
	}
}

func newTestConnection(conn net.Conn, cb Callbacks) *Connection {
	c := New(testCID(0x01), cb, nil)
	c.dialer = dialerFor(conn)
	return c
}

// serveConnectReply reads one Connect message off server and replies with
// reply, returning the decoded ConnectMsg it received.
func serveConnectReply(t *testing.T, server net.Conn, reply codec.ConnectReplyMsg) codec.ConnectMsg {
	t.Helper()
	buf := msgbuf.New()
	read := make([]byte, 4096)
	var connectMsg codec.ConnectMsg
	for {
		n, err := server.Read(read)
		if err != nil {
			t.Fatalf("server read: %v", err)
		}
		buf.Write(read[:n])
		msg, err := buf.Next()
		if err == msgbuf.ErrNoData {
			continue
		}
		if err != nil {
			t.Fatalf("server decode: %v", err)
		}
		if msg.Broker == nil || msg.Broker.Connect == nil {
			t.Fatalf("expected a Connect message, got %+v", msg)
		}
		connectMsg = *msg.Broker.Connect
		break
	}

	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: reply.BrokerCID, Data: reply.Encode(nil)}
	wire = rlp.Encode(wire)
	if _, err := server.Write(wire); err != nil {
		t.Fatalf("server write reply: %v", err)
	}
	return connectMsg
}

func TestDialAndHandshakeSucceeds(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	brokerCID := testCID(0xAA)
	brokerUID := testUID(0x1234, 1)
	clientUID := testUID(0x1234, 2)

	var connectedInfo ConnectedInfo
	connectedCh := make(chan struct{})
	cb := Callbacks{
		Connected: func(_ *Connection, info ConnectedInfo) {
			connectedInfo = info
			close(connectedCh)
		},
	}
	c := newTestConnection(client, cb)
	c.remoteAddr = "broker.example:8888"
	c.connectMsg = codec.ConnectMsg{Scope: e133.DefaultScope, E133Version: 1}

	go func() {
		serveConnectReply(t, server, codec.ConnectReplyMsg{
			Status:    e133.ConnectOK,
			BrokerCID: brokerCID,
			BrokerUID: brokerUID,
			ClientUID: clientUID,
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.dialAndHandshake(ctx); err != nil {
		t.Fatalf("dialAndHandshake: %v", err)
	}

	select {
	case <-connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Connected callback never fired")
	}

	if connectedInfo.BrokerCID != brokerCID {
		t.Errorf("BrokerCID = %v, want %v", connectedInfo.BrokerCID, brokerCID)
	}
	if connectedInfo.ClientUID != clientUID {
		t.Errorf("ClientUID = %v, want %v", connectedInfo.ClientUID, clientUID)
	}
	if c.State() != StateRDMnetConnPending {
		t.Errorf("state = %v, want %v (Run is responsible for the Heartbeat transition)", c.State(), StateRDMnetConnPending)
	}
}

func TestDialAndHandshakeRejected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	var failInfo ConnectFailedInfo
	failedCh := make(chan struct{})
	cb := Callbacks{
		ConnectFailed: func(_ *Connection, info ConnectFailedInfo) {
			failInfo = info
			close(failedCh)
		},
		Connected: func(*Connection, ConnectedInfo) {
			t.Error("Connected callback should not fire on rejection")
		},
	}
	c := newTestConnection(client, cb)
	c.remoteAddr = "broker.example:8888"
	c.connectMsg = codec.ConnectMsg{Scope: e133.DefaultScope, E133Version: 1}

	go func() {
		serveConnectReply(t, server, codec.ConnectReplyMsg{Status: e133.ConnectCapacityExceeded})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.dialAndHandshake(ctx); err == nil {
		t.Fatal("dialAndHandshake: expected error for rejected connect")
	}

	select {
	case <-failedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectFailed callback never fired")
	}

	if failInfo.Event != ConnectFailRejected {
		t.Errorf("Event = %v, want ConnectFailRejected", failInfo.Event)
	}
	if failInfo.RDMnetReason != e133.ConnectCapacityExceeded {
		t.Errorf("RDMnetReason = %v, want ConnectCapacityExceeded", failInfo.RDMnetReason)
	}
}

func TestHandleMessageSkipsHeartbeatAndConnectReply(t *testing.T) {
	var delivered int
	c := New(testCID(0x01), Callbacks{
		MessageReceived: func(*Connection, msgbuf.Message) { delivered++ },
	}, nil)

	c.handleMessage(msgbuf.Message{Broker: &msgbuf.BrokerMessage{Vector: e133.VectorBrokerNull}})
	c.handleMessage(msgbuf.Message{Broker: &msgbuf.BrokerMessage{
		Vector:       e133.VectorBrokerConnectReply,
		ConnectReply: &codec.ConnectReplyMsg{Status: e133.ConnectOK},
	}})
	if delivered != 0 {
		t.Fatalf("heartbeat/connect-reply messages should not reach MessageReceived, got %d deliveries", delivered)
	}

	c.handleMessage(msgbuf.Message{RPT: &msgbuf.RPTMessage{Vector: e133.VectorRPTRequest}})
	if delivered != 1 {
		t.Fatalf("RPT message should reach MessageReceived, got %d deliveries", delivered)
	}
}

func TestHandleMessageLogsBrokerDisconnect(t *testing.T) {
	var delivered int
	c := New(testCID(0x01), Callbacks{
		MessageReceived: func(*Connection, msgbuf.Message) { delivered++ },
	}, nil)

	c.handleMessage(msgbuf.Message{Broker: &msgbuf.BrokerMessage{
		Vector:     e133.VectorBrokerDisconnect,
		Disconnect: &codec.DisconnectMsg{Reason: e133.DisconnectShutdown},
	}})
	if delivered != 0 {
		t.Fatalf("disconnect message should not reach MessageReceived, got %d deliveries", delivered)
	}
}

func TestNextBackoffDoublesAndClamps(t *testing.T) {
	b := initialBackoff
	for i := 0; i < 10; i++ {
		b = nextBackoff(b)
	}
	if b != maxBackoff {
		t.Fatalf("nextBackoff did not clamp: got %v, want %v", b, maxBackoff)
	}
}

func TestStateStringUnknown(t *testing.T) {
	var s State = 99
	if got := s.String(); got != "Unknown" {
		t.Errorf("String() = %q, want %q", got, "Unknown")
	}
}
