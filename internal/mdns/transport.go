package mdns

import (
	"context"
	"log/slog"
	"net"

	"github.com/etclabs/rdmnetgo/internal/netint"
	"github.com/etclabs/rdmnetgo/pkg/e133"
)

// Transport sends an Engine's outgoing queries to the mDNS multicast
// groups and feeds every received datagram back into the Engine, over one
// network interface's multicast socket. It is the concrete Sender an
// Engine is constructed with outside of tests.
type Transport struct {
	socket *netint.MulticastSocket
	engine *Engine
	log    *slog.Logger

	groupV4 *net.UDPAddr
	groupV6 *net.UDPAddr
}

// NewTransport opens a multicast socket on iface and wraps it as a
// Transport. Call Run to start its receive loop once the Engine it will
// feed is constructed with this Transport as its Sender.
func NewTransport(iface netint.Interface, log *slog.Logger) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}
	socket, err := netint.Open(iface, int(e133.MDNSPort))
	if err != nil {
		return nil, err
	}
	return &Transport{
		socket:  socket,
		log:     log,
		groupV4: &net.UDPAddr{IP: net.ParseIP(e133.MDNSMulticastGroup4), Port: int(e133.MDNSPort)},
		groupV6: &net.UDPAddr{IP: net.ParseIP(e133.MDNSMulticastGroup6), Port: int(e133.MDNSPort)},
	}, nil
}

// Bind attaches the Engine this transport feeds received datagrams to. It
// must be called once, before Run.
func (t *Transport) Bind(engine *Engine) {
	t.engine = engine
}

// SendQuery multicasts packet on every stack the underlying socket bound,
// satisfying the Engine's Sender interface.
func (t *Transport) SendQuery(packet []byte) error {
	var firstErr error
	if t.socket.HasIPv4() {
		if err := t.socket.SendV4(packet, t.groupV4); err != nil {
			firstErr = err
		}
	}
	if t.socket.HasIPv6() {
		if err := t.socket.SendV6(packet, t.groupV6); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run drives the receive loop for both the IPv4 and IPv6 stacks (whichever
// are present) until ctx is canceled, handing every datagram to the bound
// Engine's HandleResponse. Malformed datagrams are logged and skipped —
// one bad packet on the wire never stops discovery.
func (t *Transport) Run(ctx context.Context) {
	done := ctx.Done()
	if t.socket.HasIPv4() {
		go t.receiveLoop(done, t.socket.ReadV4)
	}
	if t.socket.HasIPv6() {
		go t.receiveLoop(done, t.socket.ReadV6)
	}
	<-done
}

func (t *Transport) receiveLoop(done <-chan struct{}, read func([]byte) (int, net.Addr, error)) {
	for {
		select {
		case <-done:
			return
		default:
		}

		buf := netint.GetBuffer()
		n, _, err := read(*buf)
		if err != nil {
			netint.PutBuffer(buf)
			select {
			case <-done:
				return
			default:
			}
			t.log.Warn("mdns: receive failed", "error", err)
			continue
		}

		if err := t.engine.HandleResponse((*buf)[:n]); err != nil {
			t.log.Debug("mdns: dropped malformed datagram", "error", err)
		}
		netint.PutBuffer(buf)
	}
}

// Close releases the underlying multicast socket.
func (t *Transport) Close() error {
	_, err := t.socket.Release()
	return err
}
