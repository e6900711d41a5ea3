// Package broker implements the server side of the RDMnet Broker
// Protocol: it accepts client TCP connections, completes the
// Connect/ConnectReply handshake (including dynamic UID assignment),
// tracks the roster of connected controllers and devices, and routes RPT
// messages between them by unicast, manufacturer broadcast, or full
// broadcast.
//
// The structure follows original_source/src/broker/broker.cpp's
// responsibility split — a listener accepting new sockets, a per-client
// read path (PollConnections/ServiceClients), message dispatch
// (ProcessTCPMessage/ProcessRPTMessage), and a periodic destruction sweep
// (DestroyMarkedClientSockets) — rewritten around one goroutine per
// client instead of broker.cpp's own poll-thread pool, since Go's runtime
// scheduler already multiplexes blocking reads across OS threads.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// Metrics receives counts of broker-level events. bmetrics.Collector
// implements this with Prometheus instruments; tests use a no-op or
// counting fake.
type Metrics interface {
	ClientConnected(protocol uint32)
	ClientDisconnected(protocol uint32)
	MessageRouted()
	MessageDropped(reason string)
}

type noopMetrics struct{}

func (noopMetrics) ClientConnected(uint32)    {}
func (noopMetrics) ClientDisconnected(uint32) {}
func (noopMetrics) MessageRouted()            {}
func (noopMetrics) MessageDropped(string)     {}

// Config is the set of parameters a Broker is constructed with.
type Config struct {
	// CID identifies this broker's own component, sent in the root layer
	// of every PDU the broker originates and in ConnectReply.BrokerCID.
	// Routed RPT PDUs keep their original sender's CID.
	CID rid.CID
	// UID is this broker's own RDM UID, sent in ConnectReply.BrokerUID.
	UID rid.UID
	// Scope is the RDMnet scope this broker serves; a Connect request for
	// any other scope is rejected with ConnectScopeMismatch.
	Scope string
	// ListenAddr is the TCP address to accept client connections on, e.g.
	// ":8888".
	ListenAddr string
	// MaxClients caps the number of simultaneously connected clients; a
	// Connect request received while at capacity is rejected with
	// ConnectCapacityExceeded. Zero means unlimited.
	MaxClients int
	// HeartbeatTimeout is how long a client may go without sending any
	// message (heartbeat or otherwise) before the broker disconnects it.
	HeartbeatTimeout time.Duration
}

// Broker is one running RDMnet broker: a listener plus the roster of
// currently connected clients.
type Broker struct {
	cfg     Config
	log     *slog.Logger
	metrics Metrics

	reg *registry

	dynamicUIDsMu   sync.Mutex
	nextDynamicUID  uint32

	listener net.Listener

	wg sync.WaitGroup
}

// New constructs a Broker that has not yet started listening.
func New(cfg Config, log *slog.Logger, metrics Metrics) *Broker {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 2 * 15 * time.Second
	}
	return &Broker{
		cfg:            cfg,
		log:            log.With(slog.String("scope", cfg.Scope)),
		metrics:        metrics,
		reg:            newRegistry(),
		nextDynamicUID: 1,
	}
}

// ClientCount reports how many clients are currently connected.
func (b *Broker) ClientCount() int { return b.reg.count() }

// ListenAndServe opens the configured listen address and accepts
// connections until ctx is canceled, serving each on its own goroutine.
// It blocks until every client goroutine it spawned has returned.
func (b *Broker) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", b.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}
	b.listener = ln
	b.log.Info("broker listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go b.runDestructionSweep(ctx)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				b.wg.Wait()
				return nil
			}
			b.log.Warn("accept failed", "error", err)
			continue
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.serveClient(ctx, conn)
		}()
	}
}

// runDestructionSweep periodically drops any client idle past
// HeartbeatTimeout, matching broker.cpp's periodic
// DestroyMarkedClientSockets pass. Each client records when it last
// received data; the sweep compares that against HeartbeatTimeout, marks
// the idle client for destruction, and closes its connection.
func (b *Broker) runDestructionSweep(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.HeartbeatTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, c := range b.reg.snapshot(0) {
				if c.idleSince(now) > b.cfg.HeartbeatTimeout {
					c.markForDestruction(e133.DisconnectNoHeartbeat)
					_ = c.conn.Close()
				}
			}
		}
	}
}
