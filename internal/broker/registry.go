package broker

import (
	"sync"

	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// handle identifies one connected client for the lifetime of its TCP
// connection. Unlike original_source/src/broker/broker.cpp's int socket
// descriptor (which doubles as its own map key), handles here are assigned
// independently of any OS resource so a client's identity survives a
// socket-level reconnect were one ever layered on top.
type handle uint64

// registry is the broker's client arena: every connected client, indexed
// both by its handle (routing never needs it, but destruction does) and by
// its RPT UID (the index routing actually uses). It mirrors broker.cpp's
// client_map_ + UID-to-handle index kept by Broker::UIDToHandle, collapsed
// into one structure behind one mutex since Go gives us no cheaper way to
// share a map safely across the per-connection goroutines that read and
// write it.
type registry struct {
	mu       sync.RWMutex
	byHandle map[handle]*client
	byUID    map[rid.UID]handle
	nextID   uint64
}

func newRegistry() *registry {
	return &registry{
		byHandle: make(map[handle]*client),
		byUID:    make(map[rid.UID]handle),
	}
}

// add registers c under a freshly allocated handle and its current UID,
// returning the assigned handle.
func (r *registry) add(c *client) handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h := handle(r.nextID)
	c.handle = h
	r.byHandle[h] = c
	r.byUID[c.uid] = h
	return h
}

// remove forgets c entirely. It is a no-op if c was already removed.
func (r *registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHandle, c.handle)
	if existing, ok := r.byUID[c.uid]; ok && existing == c.handle {
		delete(r.byUID, c.uid)
	}
}

// lookupUID returns the client currently registered under uid, if any.
func (r *registry) lookupUID(uid rid.UID) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byUID[uid]
	if !ok {
		return nil, false
	}
	c := r.byHandle[h]
	return c, c != nil
}

// hasUID reports whether uid is already claimed by a connected client,
// used to reject a Connect request carrying a duplicate static UID.
func (r *registry) hasUID(uid rid.UID) bool {
	_, ok := r.lookupUID(uid)
	return ok
}

// snapshot returns every currently connected client, optionally filtered
// to one protocol (e133.ClientProtocolRPT or ClientProtocolEPT). Passing 0
// returns every client regardless of protocol.
func (r *registry) snapshot(protocol uint32) []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*client, 0, len(r.byHandle))
	for _, c := range r.byHandle {
		if protocol != 0 && c.protocol != protocol {
			continue
		}
		clients = append(clients, c)
	}
	return clients
}

// count reports how many clients are currently connected.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHandle)
}
