package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/etclabs/rdmnetgo/internal/msgbuf"
	"github.com/etclabs/rdmnetgo/pkg/codec"
	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

const handshakeTimeout = 10 * time.Second

// serveClient owns one accepted connection end to end: handshake,
// registration, read loop, and eventual cleanup. It never returns an
// error — failures are logged and simply end this goroutine, mirroring
// broker.cpp's NewConnection/RemoveConnections pair but with each
// connection's whole lifetime expressed as straight-line control flow
// instead of callbacks into shared poll-thread state.
func (b *Broker) serveClient(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	c := newClient(conn, b.log)
	entry, err := b.handshake(c)
	if err != nil {
		b.log.Debug("handshake failed", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	c.cid = entry.CID
	c.uid = entry.RPTUID
	c.clientType = entry.RPTType
	c.protocol = entry.Protocol

	h := b.reg.add(c)
	c.log = c.log.With(slog.Uint64("handle", uint64(h)), slog.String("uid", c.uid.String()))
	b.metrics.ClientConnected(c.protocol)
	c.log.Info("client connected", "remote", conn.RemoteAddr())

	defer func() {
		b.reg.remove(c)
		b.metrics.ClientDisconnected(c.protocol)
		b.announceClientRemoved(c)
		c.log.Info("client disconnected")
	}()

	b.sendInitialClientList(c)
	b.announceClientAdded(c)

	b.readLoop(ctx, c)
}

// handshake reads the ACN preamble and Connect message and replies with a
// ConnectReply carrying the validation status, whether or not the request
// was accepted. It returns the accepted Client Entry on success.
func (b *Broker) handshake(c *client) (codec.ClientEntry, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	buf := make([]byte, 4096)
	for {
		msg, err := c.recvBuf.Next()
		if err == nil {
			if msg.Broker == nil {
				return codec.ClientEntry{}, fmt.Errorf("broker: expected a Broker PDU, got an RPT PDU")
			}
			if msg.Broker.Connect == nil {
				return codec.ClientEntry{}, fmt.Errorf("broker: expected Connect, got vector 0x%04x", msg.Broker.Vector)
			}
			return b.processConnect(c, *msg.Broker.Connect)
		}
		if !errors.Is(err, msgbuf.ErrNoData) {
			return codec.ClientEntry{}, fmt.Errorf("broker: malformed handshake message: %w", err)
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			return codec.ClientEntry{}, fmt.Errorf("broker: read during handshake: %w", err)
		}
		c.recvBuf.Write(buf[:n])
	}
}

// processConnect validates a Connect request against scope, capacity, and
// UID-uniqueness rules (broker.cpp's ProcessConnectRequest /
// ProcessRPTConnectRequest), replies with the corresponding ConnectReply,
// and returns the now-accepted Client Entry.
func (b *Broker) processConnect(c *client, connect codec.ConnectMsg) (codec.ClientEntry, error) {
	status, entry := b.validateConnect(connect)
	reply := codec.ConnectReplyMsg{
		Status:      status,
		E133Version: connect.E133Version,
		BrokerCID:   b.cfg.CID,
		BrokerUID:   b.cfg.UID,
		ClientUID:   entry.RPTUID,
	}
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: b.cfg.CID, Data: reply.Encode(nil)}
	wire = rlp.Encode(wire)
	if err := c.send(wire); err != nil {
		return codec.ClientEntry{}, fmt.Errorf("broker: send connect reply: %w", err)
	}
	if status != e133.ConnectOK {
		return codec.ClientEntry{}, fmt.Errorf("broker: rejected connect: %s", status)
	}
	c.scope = connect.Scope
	return entry, nil
}

// validateConnect checks a Connect request and, if accepted, returns the
// Client Entry to register (with a dynamic UID assigned if the client
// requested one).
func (b *Broker) validateConnect(connect codec.ConnectMsg) (e133.ConnectStatus, codec.ClientEntry) {
	entry := connect.Entry
	if connect.Scope != b.cfg.Scope {
		return e133.ConnectScopeMismatch, entry
	}
	if b.cfg.MaxClients > 0 && b.reg.count() >= b.cfg.MaxClients {
		return e133.ConnectCapacityExceeded, entry
	}
	if entry.Protocol != e133.ClientProtocolRPT {
		// EPT clients are accepted into the roster but never routed to,
		// per this broker's RPT-only routing (spec's EPT stub support).
		return e133.ConnectOK, entry
	}
	if entry.RPTUID.IsDynamicUIDRequest() {
		entry.RPTUID = b.assignDynamicUID(entry.RPTUID.Manufacturer)
	} else if !entry.RPTUID.IsStatic() {
		return e133.ConnectInvalidClientEntry, entry
	} else if b.reg.hasUID(entry.RPTUID) {
		return e133.ConnectDuplicateUID, entry
	}
	return e133.ConnectOK, entry
}

// assignDynamicUID returns a UID for manufacturer manu whose device ID is
// the next value of one counter shared by all manufacturers. It does not
// check the result against UIDs already in use.
func (b *Broker) assignDynamicUID(manu uint16) rid.UID {
	b.dynamicUIDsMu.Lock()
	defer b.dynamicUIDsMu.Unlock()
	device := b.nextDynamicUID
	b.nextDynamicUID++
	return rid.UID{Manufacturer: manu, Device: device}
}

// readLoop reads and dispatches messages for c until its connection
// closes or it is marked for destruction.
func (b *Broker) readLoop(ctx context.Context, c *client) {
	buf := make([]byte, 4096)
	for {
		if reason, marked := c.destructionRequested(); marked {
			b.sendDisconnect(c, reason)
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(b.cfg.HeartbeatTimeout))
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		c.touchRecv(time.Now())
		c.recvBuf.Write(buf[:n])

		for {
			msg, err := c.recvBuf.Next()
			if err != nil {
				if !errors.Is(err, msgbuf.ErrNoData) {
					c.log.Debug("dropped malformed message", "error", err)
					continue
				}
				break
			}
			b.dispatch(c, msg)
		}
	}
}

func (b *Broker) dispatch(c *client, msg msgbuf.Message) {
	switch {
	case msg.Broker != nil:
		b.dispatchBroker(c, *msg.Broker)
	case msg.RPT != nil:
		b.routeRPT(c, *msg.RPT)
	}
}

func (b *Broker) dispatchBroker(c *client, bm msgbuf.BrokerMessage) {
	switch {
	case bm.Vector == e133.VectorBrokerNull:
		// heartbeat; touchRecv already ran in readLoop
	case bm.Disconnect != nil:
		c.markForDestruction(bm.Disconnect.Reason)
	case bm.FetchClientList != nil:
		b.sendInitialClientList(c)
	case bm.RequestDynamicUIDs != nil:
		b.replyDynamicUIDs(c, *bm.RequestDynamicUIDs)
	default:
		b.metrics.MessageDropped("unhandled broker vector")
	}
}

func (b *Broker) sendDisconnect(c *client, reason e133.DisconnectReason) {
	wire := append([]byte(nil), codec.Preamble[:]...)
	rlp := codec.RootLayerPDU{Vector: e133.VectorRootBroker, SenderCID: b.cfg.CID, Data: codec.DisconnectMsg{Reason: reason}.Encode(nil)}
	wire = rlp.Encode(wire)
	_ = c.send(wire)
}
