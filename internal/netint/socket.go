package netint

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/etclabs/rdmnetgo/pkg/e133"
)

// NetworkError wraps a failed socket operation with the operation name and
// enough detail to log usefully, matching the teacher's
// internal/transport error shape (NetworkError{Operation, Err, Details}).
type NetworkError struct {
	Operation string
	Details   string
	Err       error
}

func (e *NetworkError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("netint: %s: %s: %v", e.Operation, e.Details, e.Err)
	}
	return fmt.Sprintf("netint: %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// reuseportControl sets SO_REUSEPORT (and SO_REUSEADDR) on the listening
// socket before bind, so multiple broker processes — or this process
// restarting quickly — can share the mDNS multicast port. Grounded on
// gobfd/internal/netio's use of net.ListenConfig.Control for raw socket
// options and on the teacher's golang.org/x/sys/unix dependency.
func reuseportControl(_, _ string, c syscall.RawConn) error {
	var controlErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			controlErr = err
			return
		}
		controlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return controlErr
}

// MulticastSocket is a dual-stack-capable mDNS socket bound to one network
// interface. Sends and receives are each wrapped with a NetworkError on
// failure, matching the teacher's Transport.Send/Receive contract.
type MulticastSocket struct {
	iface Interface

	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn

	mu       sync.Mutex
	refCount int
}

// Open binds a multicast socket on iface for both the IPv4 and IPv6 mDNS
// groups it has addresses for, joining the appropriate group on each.
func Open(iface Interface, port int) (*MulticastSocket, error) {
	s := &MulticastSocket{iface: iface, refCount: 1}

	lc := net.ListenConfig{Control: reuseportControl}

	netIface, err := net.InterfaceByIndex(iface.Index)
	if err != nil {
		return nil, &NetworkError{Operation: "lookup interface", Details: iface.Name, Err: err}
	}

	if iface.IPv4 != nil {
		pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
		if err != nil {
			return nil, &NetworkError{Operation: "listen ipv4", Details: iface.Name, Err: err}
		}
		s.conn4 = ipv4.NewPacketConn(pc)
		if err := s.conn4.SetControlMessage(ipv4.FlagInterface, true); err != nil {
			_ = s.conn4.Close()
			return nil, &NetworkError{Operation: "set ipv4 control message", Details: iface.Name, Err: err}
		}
		group := &net.UDPAddr{IP: net.ParseIP(e133.MDNSMulticastGroup4)}
		if err := s.conn4.JoinGroup(netIface, group); err != nil {
			_ = s.conn4.Close()
			return nil, &NetworkError{Operation: "join ipv4 group", Details: iface.Name, Err: err}
		}
	}

	if iface.IPv6 != nil {
		pc, err := lc.ListenPacket(context.Background(), "udp6", fmt.Sprintf(":%d", port))
		if err != nil {
			if s.conn4 != nil {
				_ = s.conn4.Close()
			}
			return nil, &NetworkError{Operation: "listen ipv6", Details: iface.Name, Err: err}
		}
		s.conn6 = ipv6.NewPacketConn(pc)
		if err := s.conn6.SetControlMessage(ipv6.FlagInterface, true); err != nil {
			_ = s.conn6.Close()
			if s.conn4 != nil {
				_ = s.conn4.Close()
			}
			return nil, &NetworkError{Operation: "set ipv6 control message", Details: iface.Name, Err: err}
		}
		group := &net.UDPAddr{IP: net.ParseIP(e133.MDNSMulticastGroup6)}
		if err := s.conn6.JoinGroup(netIface, group); err != nil {
			_ = s.conn6.Close()
			if s.conn4 != nil {
				_ = s.conn4.Close()
			}
			return nil, &NetworkError{Operation: "join ipv6 group", Details: iface.Name, Err: err}
		}
	}

	return s, nil
}

// Acquire increments the socket's reference count; callers that share one
// socket across multiple monitored scopes call this instead of opening a
// new socket per scope.
func (s *MulticastSocket) Acquire() {
	s.mu.Lock()
	s.refCount++
	s.mu.Unlock()
}

// Release decrements the reference count and closes the underlying
// sockets once it reaches zero. It reports whether the socket was
// actually closed.
func (s *MulticastSocket) Release() (closed bool, err error) {
	s.mu.Lock()
	s.refCount--
	remaining := s.refCount
	s.mu.Unlock()
	if remaining > 0 {
		return false, nil
	}

	var errs []error
	if s.conn4 != nil {
		if err := s.conn4.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.conn6 != nil {
		if err := s.conn6.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return true, &NetworkError{Operation: "close", Details: s.iface.Name, Err: errs[0]}
	}
	return true, nil
}

// SendV4 writes packet to dest over the interface's IPv4 socket.
func (s *MulticastSocket) SendV4(packet []byte, dest *net.UDPAddr) error {
	if s.conn4 == nil {
		return &NetworkError{Operation: "send ipv4", Details: s.iface.Name, Err: fmt.Errorf("no ipv4 address on interface")}
	}
	n, err := s.conn4.WriteTo(packet, nil, dest)
	if err != nil {
		return &NetworkError{Operation: "send ipv4", Details: dest.String(), Err: err}
	}
	if n != len(packet) {
		return &NetworkError{Operation: "send ipv4", Details: "partial write", Err: fmt.Errorf("%d/%d bytes", n, len(packet))}
	}
	return nil
}

// HasIPv4 reports whether this socket bound an IPv4 stack.
func (s *MulticastSocket) HasIPv4() bool { return s.conn4 != nil }

// HasIPv6 reports whether this socket bound an IPv6 stack.
func (s *MulticastSocket) HasIPv6() bool { return s.conn6 != nil }

// ReadV4 blocks until a datagram arrives on the IPv4 socket, returning its
// payload and sender address.
func (s *MulticastSocket) ReadV4(buf []byte) (n int, src net.Addr, err error) {
	if s.conn4 == nil {
		return 0, nil, &NetworkError{Operation: "receive ipv4", Details: s.iface.Name, Err: fmt.Errorf("no ipv4 address on interface")}
	}
	n, _, src, err = s.conn4.ReadFrom(buf)
	if err != nil {
		return 0, nil, &NetworkError{Operation: "receive ipv4", Details: s.iface.Name, Err: err}
	}
	return n, src, nil
}

// ReadV6 blocks until a datagram arrives on the IPv6 socket, returning its
// payload and sender address.
func (s *MulticastSocket) ReadV6(buf []byte) (n int, src net.Addr, err error) {
	if s.conn6 == nil {
		return 0, nil, &NetworkError{Operation: "receive ipv6", Details: s.iface.Name, Err: fmt.Errorf("no ipv6 address on interface")}
	}
	n, _, src, err = s.conn6.ReadFrom(buf)
	if err != nil {
		return 0, nil, &NetworkError{Operation: "receive ipv6", Details: s.iface.Name, Err: err}
	}
	return n, src, nil
}

// SendV6 writes packet to dest over the interface's IPv6 socket.
func (s *MulticastSocket) SendV6(packet []byte, dest *net.UDPAddr) error {
	if s.conn6 == nil {
		return &NetworkError{Operation: "send ipv6", Details: s.iface.Name, Err: fmt.Errorf("no ipv6 address on interface")}
	}
	n, err := s.conn6.WriteTo(packet, nil, dest)
	if err != nil {
		return &NetworkError{Operation: "send ipv6", Details: dest.String(), Err: err}
	}
	if n != len(packet) {
		return &NetworkError{Operation: "send ipv6", Details: "partial write", Err: fmt.Errorf("%d/%d bytes", n, len(packet))}
	}
	return nil
}
