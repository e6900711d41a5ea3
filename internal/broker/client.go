package broker

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/etclabs/rdmnetgo/internal/msgbuf"
	"github.com/etclabs/rdmnetgo/pkg/codec"
	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// client is one connected client's server-side connection state: its
// identity once the handshake has completed, the socket, and the
// send-serialization and heartbeat bookkeeping routing needs. It
// corresponds to one entry in broker.cpp's client_map_ (an RPTController
// or RPTDevice, chosen by ClientType), collapsed into a single struct
// since nothing here needs the original's separate reader/writer lock
// pair — one client is served by exactly one goroutine pair (read loop +
// write-serializing mutex).
type client struct {
	handle handle

	conn net.Conn
	log  *slog.Logger

	cid        rid.CID
	uid        rid.UID
	clientType codec.ClientType
	protocol   uint32
	scope      string

	recvBuf *msgbuf.Buffer

	sendMu sync.Mutex

	lastRecvUnixNano atomic.Int64

	markedForDestruction atomic.Bool
	destructionReason    atomic.Value // holds e133.DisconnectReason
}

func newClient(conn net.Conn, log *slog.Logger) *client {
	c := &client{
		conn:    conn,
		log:     log,
		recvBuf: msgbuf.New(),
	}
	c.lastRecvUnixNano.Store(time.Now().UnixNano())
	return c
}

// send writes an already-encoded root-layer PDU to the client, serialized
// against concurrent sends from routing goroutines other than this
// client's own read loop.
func (c *client) send(wire []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := c.conn.Write(wire)
	return err
}

func (c *client) touchRecv(now time.Time) {
	c.lastRecvUnixNano.Store(now.UnixNano())
}

func (c *client) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastRecvUnixNano.Load()))
}

// markForDestruction records that c should be dropped on the broker's next
// destruction sweep, matching broker.cpp's MarkConnForDestruction /
// DestroyMarkedClientSockets split between flagging a client and actually
// tearing it down — sweeping happens off the read loop so one slow client
// being destroyed never blocks another client's goroutine from flagging
// itself.
func (c *client) markForDestruction(reason e133.DisconnectReason) {
	if c.markedForDestruction.CompareAndSwap(false, true) {
		c.destructionReason.Store(reason)
	}
}

// destructionRequested reports whether this client has been marked for
// destruction, and if so, the reason it was given.
func (c *client) destructionRequested() (e133.DisconnectReason, bool) {
	if !c.markedForDestruction.Load() {
		return 0, false
	}
	reason, _ := c.destructionReason.Load().(e133.DisconnectReason)
	return reason, true
}
