// Package mdns implements RDMnet's lightweight, query-only mDNS discovery
// engine: browsing for brokers advertised under one or more scopes and
// resolving each one's SRV/TXT/A/AAAA records, with no DNS-SD responder
// side (a broker never registers itself over mDNS in this implementation
// — see responder.go).
//
// The query/notify state machine is a direct port of
// original_source/src/rdmnet/disc/lightweight/rdmnet_disc_lightweight.c's
// process_monitored_scope: re-query on a backoff timer, resolve a
// discovered instance's service then host records, and notify Found once
// both are in hand, Updated on a later TXT change, and Lost once a
// broker's entry is marked for destruction.
package mdns

import (
	"log/slog"
	"time"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// DiscoveredBroker is everything the engine knows about one broker
// instance found under a monitored scope.
type DiscoveredBroker struct {
	ServiceInstanceName string
	CID                 rid.CID
	UID                 rid.UID
	Scope               string
	E133Version         int
	Model               string
	Manufacturer        string
	Host                string
	Port                uint16
	ListenAddrs         []string

	srvReceived bool
	txtReceived bool

	serviceQuerySent bool
	serviceBackoff   *QueryBackoff
	serviceNextQuery time.Time

	hostQuerySent bool
	hostBackoff   *QueryBackoff
	hostNextQuery time.Time

	initialNotificationSent bool
	updatePending           bool
	destructionPending      bool
}

// Ready reports whether db has everything process_monitored_scope
// requires before the engine will emit a Found notification: its service
// (SRV+TXT) records plus at least one resolved listen address.
func (db *DiscoveredBroker) Ready() bool {
	return db.srvReceived && db.txtReceived && len(db.ListenAddrs) > 0
}

// MonitoredScope tracks discovery state for one scope this process is
// browsing.
type MonitoredScope struct {
	Scope        string
	Domain       string
	queryBackoff *QueryBackoff
	nextQueryAt  time.Time
	brokers      map[string]*DiscoveredBroker // keyed by service instance name
}

// newMonitoredScope returns fresh monitoring state for scope. It sends
// nothing itself; Monitor sends the first PTR query right after creating
// it, matching rdmnet_disc_platform_start_monitoring.
func newMonitoredScope(scope string) *MonitoredScope {
	return &MonitoredScope{
		Scope:        scope,
		Domain:       e133.DNSSDDomain,
		queryBackoff: NewQueryBackoff(),
		nextQueryAt:  time.Time{}, // zero means "due now"
		brokers:      make(map[string]*DiscoveredBroker),
	}
}

// Notification describes one discovery lifecycle event the engine emits
// from Tick.
type Notification struct {
	Kind   NotificationKind
	Scope  string
	Broker DiscoveredBroker
}

// NotificationKind enumerates the three lifecycle events discovery
// reports, matching the original's notify_broker_found/updated/lost.
type NotificationKind int

const (
	BrokerFound NotificationKind = iota
	BrokerUpdated
	BrokerLost
)

func (k NotificationKind) String() string {
	switch k {
	case BrokerFound:
		return "found"
	case BrokerUpdated:
		return "updated"
	case BrokerLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Sender is the minimal outbound capability the engine needs: send a
// query packet to the mDNS multicast group. transport.go's Transport
// implements this against real sockets; tests substitute a fake.
type Sender interface {
	SendQuery(packet []byte) error
}

// Engine drives mDNS discovery for every scope a broker or client asks it
// to monitor. One Engine instance is shared by all MonitoredScopes on a
// connection, mirroring the original's single lwmdns send/recv module
// shared across every RdmnetScopeMonitorRef.
type Engine struct {
	log    *slog.Logger
	sender Sender
	scopes map[string]*MonitoredScope
	now    func() time.Time
}

// NewEngine returns an Engine that sends queries through sender.
func NewEngine(sender Sender, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		log:    log,
		sender: sender,
		scopes: make(map[string]*MonitoredScope),
		now:    time.Now,
	}
}

// Monitor starts browsing scope, returning an error only if a PTR query
// could not be sent immediately.
func (e *Engine) Monitor(scope string) error {
	if _, exists := e.scopes[scope]; exists {
		return nil
	}
	ms := newMonitoredScope(scope)
	e.scopes[scope] = ms
	err := e.sendPTRQuery(ms)
	ms.nextQueryAt = e.now().Add(ms.queryBackoff.Interval())
	ms.queryBackoff.Advance()
	return err
}

// StopMonitoring stops browsing scope; any brokers discovered under it are
// simply forgotten, with no Lost notification (matching
// rdmnet_disc_platform_stop_monitoring, which is a no-op beyond freeing
// state).
func (e *Engine) StopMonitoring(scope string) {
	delete(e.scopes, scope)
}

func (e *Engine) sendPTRQuery(ms *MonitoredScope) error {
	pkt, err := buildPTRQuery(e133.ServiceSubtype(ms.Scope) + "." + ms.Domain)
	if err != nil {
		return err
	}
	return e.sender.SendQuery(pkt)
}

// Tick advances every monitored scope's query/resolve state machine by
// one step: re-querying scopes and not-yet-resolved broker instances
// whose backoff timer has expired, and draining the notification queue
// for anything that became ready, updated, or lost since the last Tick.
//
// This is the direct analogue of process_monitored_scope, called once per
// scope_monitor_for_each iteration in the original's rdmnet_disc_platform_tick.
func (e *Engine) Tick() []Notification {
	var out []Notification
	now := e.now()

	for _, ms := range e.scopes {
		if !ms.nextQueryAt.After(now) {
			if err := e.sendPTRQuery(ms); err != nil {
				e.log.Warn("mdns: failed to send scope PTR query", "scope", ms.Scope, "error", err)
			}
			ms.nextQueryAt = now.Add(ms.queryBackoff.Interval())
			ms.queryBackoff.Advance()
		}

		for name, db := range ms.brokers {
			if db.destructionPending {
				if db.initialNotificationSent {
					out = append(out, Notification{Kind: BrokerLost, Scope: ms.Scope, Broker: *db})
				}
				delete(ms.brokers, name)
				continue
			}

			if !db.initialNotificationSent {
				e.advanceUnresolvedBroker(ms, db, now)
				if db.Ready() {
					db.initialNotificationSent = true
					out = append(out, Notification{Kind: BrokerFound, Scope: ms.Scope, Broker: *db})
				}
			} else if db.updatePending {
				db.updatePending = false
				out = append(out, Notification{Kind: BrokerUpdated, Scope: ms.Scope, Broker: *db})
			}
		}
	}
	return out
}

// advanceUnresolvedBroker re-sends whichever of the service query (type
// SRV) or host query (type A) is still outstanding for db, on its own
// backoff schedule, mirroring process_monitored_scope's two query arms.
// No TXT or AAAA query is sent.
func (e *Engine) advanceUnresolvedBroker(ms *MonitoredScope, db *DiscoveredBroker, now time.Time) {
	name := db.ServiceInstanceName + "." + e133.ServiceSubtype(ms.Scope) + "." + ms.Domain

	if !db.srvReceived || !db.txtReceived {
		e.queryIfDue(&db.serviceQuerySent, &db.serviceBackoff, &db.serviceNextQuery, now, func() ([]byte, error) {
			return buildRecordQuery(name, RecordTypeSRV)
		})
		return
	}

	if len(db.ListenAddrs) == 0 {
		e.queryIfDue(&db.hostQuerySent, &db.hostBackoff, &db.hostNextQuery, now, func() ([]byte, error) {
			return buildRecordQuery(db.Host, RecordTypeA)
		})
	}
}

// queryIfDue sends build()'s query on the first call, then again only
// once nextQuery has elapsed; each send schedules the next one a full
// current interval later and then advances backoff — the
// shared shape behind both the "sent_service_query" and "sent_host_query"
// arms of process_monitored_scope, each of which carries its own
// EtcPalTimer in the original.
func (e *Engine) queryIfDue(sent *bool, backoff **QueryBackoff, nextQuery *time.Time, now time.Time, build func() ([]byte, error)) {
	if !*sent {
		*backoff = NewQueryBackoff()
		*sent = true
	} else if now.Before(*nextQuery) {
		return
	}

	if err := e.send(build); err != nil {
		e.log.Warn("mdns: failed to send resolve query", "error", err)
	}
	*nextQuery = now.Add((*backoff).Interval())
	(*backoff).Advance()
}

func (e *Engine) send(build func() ([]byte, error)) error {
	pkt, err := build()
	if err != nil {
		return err
	}
	return e.sender.SendQuery(pkt)
}

// HandleResponse feeds one received mDNS message into the engine,
// updating whichever MonitoredScope's brokers it answers questions for.
// Unknown or irrelevant records are ignored, matching the original's
// dispatch-by-matching-domain-name behavior in lwmdns_recv.c.
func (e *Engine) HandleResponse(buf []byte) error {
	records, err := decodeMessage(buf)
	if err != nil {
		return err
	}
	for _, rr := range records {
		e.applyRecord(rr)
	}
	return nil
}

func (e *Engine) applyRecord(rr ResourceRecord) {
	for _, ms := range e.scopes {
		subtypeName := e133.ServiceSubtype(ms.Scope) + "." + ms.Domain
		switch rr.Type {
		case RecordTypePTR:
			target := rr.AsPTR()
			if target == "" || rr.Name != subtypeName {
				continue
			}
			instanceName := instanceNameFromTarget(target)
			if db, exists := ms.brokers[instanceName]; exists {
				// A TTL of 0 is mDNS's goodbye convention (RFC 6762 section 10.1):
				// the broker is withdrawing this record. Any other TTL is just a
				// refresh of one we already know about.
				if rr.TTL == 0 {
					db.destructionPending = true
				}
			} else if rr.TTL != 0 {
				ms.brokers[instanceName] = &DiscoveredBroker{ServiceInstanceName: instanceName, Scope: ms.Scope}
			}
		case RecordTypeSRV:
			db := ms.brokers[instanceNameFromTarget(rr.Name)]
			if db == nil {
				continue
			}
			srv := rr.AsSRV()
			if srv == nil {
				continue
			}
			if db.Host != srv.Target || db.Port != srv.Port {
				db.Host, db.Port = srv.Target, srv.Port
				if db.initialNotificationSent {
					db.updatePending = true
				}
			}
			db.srvReceived = true
		case RecordTypeTXT:
			db := ms.brokers[instanceNameFromTarget(rr.Name)]
			if db == nil {
				continue
			}
			info, err := parseBrokerTXTMap(rr.AsTXT())
			if err != nil {
				continue
			}
			changed := db.txtReceived && (db.CID != info.CID || db.UID != info.UID || db.Model != info.Model ||
				db.Manufacturer != info.Manufacturer || db.E133Version != info.E133Version)
			if changed && db.initialNotificationSent {
				db.updatePending = true
			}
			db.CID = info.CID
			db.UID = info.UID
			db.E133Version = info.E133Version
			db.Model = info.Model
			db.Manufacturer = info.Manufacturer
			db.txtReceived = true
		case RecordTypeA, RecordTypeAAAA:
			for _, db := range ms.brokers {
				if db.Host == rr.Name {
					addr := rr.AsA().String()
					if rr.Type == RecordTypeAAAA {
						addr = rr.AsAAAA().String()
					}
					db.ListenAddrs = appendUnique(db.ListenAddrs, addr)
				}
			}
		}
	}
}

func instanceNameFromTarget(target string) string {
	for i, c := range target {
		if c == '.' {
			return target[:i]
		}
	}
	return target
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

