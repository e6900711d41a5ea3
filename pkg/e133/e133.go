// Package e133 collects the wire-level constants defined by ANSI E1.33
// (RDMnet): ACN root-layer vectors, Broker and RPT PDU vectors, the default
// broker TCP port, the mDNS service type, and TXT record key names.
//
// These are pure protocol constants with no corresponding ecosystem type;
// every value here is grounded on original_source/include/rdmnet/common.h
// and original_source/src/rdmnet/disc/lightweight/lwmdns_common.c.
package e133

import "fmt"

// Root layer vectors (ACN root PDU, see pkg/codec).
const (
	VectorRootBroker uint32 = 0x00000009
	VectorRootRPT    uint32 = 0x00000005
	VectorRootEPT    uint32 = 0x0000000B
)

// Broker PDU vectors.
const (
	// VectorBrokerNull carries no payload; a client or broker sends it on
	// the heartbeat interval to prove the TCP connection is still alive.
	VectorBrokerNull                  uint16 = 0x0000
	VectorBrokerConnect               uint16 = 0x0001
	VectorBrokerConnectReply          uint16 = 0x0002
	VectorBrokerClientEntryUpdate     uint16 = 0x0003
	VectorBrokerRedirectV4            uint16 = 0x0004
	VectorBrokerRedirectV6            uint16 = 0x0005
	VectorBrokerFetchClientList       uint16 = 0x0006
	VectorBrokerConnectedClientList   uint16 = 0x0007
	VectorBrokerClientAdd             uint16 = 0x0008
	VectorBrokerClientRemove          uint16 = 0x0009
	VectorBrokerClientEntryChange     uint16 = 0x000A
	VectorBrokerRequestDynamicUIDs    uint16 = 0x000B
	VectorBrokerAssignedDynamicUIDs   uint16 = 0x000C
	VectorBrokerFetchDynamicUIDList   uint16 = 0x000D
	VectorBrokerDisconnect            uint16 = 0x000E
)

// Client protocol identifiers carried in a Client Entry PDU; these reuse the
// root-layer RPT/EPT vectors.
const (
	ClientProtocolRPT = VectorRootRPT
	ClientProtocolEPT = VectorRootEPT
)

// RPT PDU vectors.
const (
	VectorRPTRequest      uint32 = 0x00000001
	VectorRPTStatus       uint32 = 0x00000002
	VectorRPTNotification uint32 = 0x00000003
)

// RPT Status PDU vectors (carried inside a VectorRPTStatus RPT PDU).
const (
	VectorRPTStatusUnknownRPTUID        uint16 = 0x0001
	VectorRPTStatusRDMTimeout           uint16 = 0x0002
	VectorRPTStatusInvalidRDMResponse   uint16 = 0x0003
	VectorRPTStatusUnknownRDMUID        uint16 = 0x0004
	VectorRPTStatusUnknownEndpoint      uint16 = 0x0005
	VectorRPTStatusBroadcastComplete    uint16 = 0x0006
	VectorRPTStatusUnknownVector        uint16 = 0x0007
	VectorRPTStatusInvalidMessage       uint16 = 0x0008
	VectorRPTStatusInvalidCommandClass  uint16 = 0x0009
)

// Connect reply status codes (VectorBrokerConnectReply payload).
type ConnectStatus uint16

const (
	ConnectOK                 ConnectStatus = 0x0000
	ConnectScopeMismatch      ConnectStatus = 0x0001
	ConnectCapacityExceeded   ConnectStatus = 0x0002
	ConnectDuplicateUID       ConnectStatus = 0x0003
	ConnectInvalidClientEntry ConnectStatus = 0x0004
	ConnectInvalidUID         ConnectStatus = 0x0005
)

func (s ConnectStatus) String() string {
	switch s {
	case ConnectOK:
		return "ok"
	case ConnectScopeMismatch:
		return "scope mismatch"
	case ConnectCapacityExceeded:
		return "capacity exceeded"
	case ConnectDuplicateUID:
		return "duplicate UID"
	case ConnectInvalidClientEntry:
		return "invalid client entry"
	case ConnectInvalidUID:
		return "invalid UID"
	default:
		return fmt.Sprintf("unknown connect status 0x%04x", uint16(s))
	}
}

// DisconnectReason values carried in a VectorBrokerDisconnect PDU.
type DisconnectReason uint16

const (
	DisconnectShutdown         DisconnectReason = 0x0000
	DisconnectCapacityExhausted DisconnectReason = 0x0001
	DisconnectHardwareFault    DisconnectReason = 0x0002
	DisconnectSoftwareFault    DisconnectReason = 0x0003
	DisconnectSoftwareReset    DisconnectReason = 0x0004
	DisconnectIncorrectScope   DisconnectReason = 0x0005
	DisconnectRPTReconfigure   DisconnectReason = 0x0006
	DisconnectLLRPReconfigure  DisconnectReason = 0x0007
	DisconnectUserReconfigure  DisconnectReason = 0x0008
	DisconnectNoHeartbeat      DisconnectReason = 0x0009
)

// Default network parameters (spec.md §6).
const (
	DefaultPort        uint16 = 8888
	MDNSPort           uint16 = 5353
	MDNSMulticastGroup4        = "224.0.0.251"
	MDNSMulticastGroup6        = "ff02::fb"

	// DefaultScope is the scope a broker and its clients operate in unless
	// configured otherwise.
	DefaultScope = "default"

	// MaxScopeLength is the maximum length in bytes of a scope string,
	// reflecting E133_SCOPE_STRING_PADDED_LENGTH - 1 in the original.
	MaxScopeLength = 62

	// DNSSDTxtVers is the value every RDMnet broker TXT record must carry
	// in its first key, "TxtVers".
	DNSSDTxtVers = 1

	// DNSSDServiceType is the base mDNS/DNS-SD service type RDMnet
	// brokers advertise under.
	DNSSDServiceType = "_rdmnet._tcp"

	// DNSSDDomain is the only domain this implementation queries or
	// advertises in, per spec.md's link-local-only Non-goal.
	DNSSDDomain = "local"
)

// TXT record key names, in the order a conformant broker writes them (TxtVers
// must always be first).
const (
	TXTKeyTxtVers      = "TxtVers"
	TXTKeyE133Scope    = "E133Scope"
	TXTKeyE133Vers     = "E133Vers"
	TXTKeyCID          = "CID"
	TXTKeyUID          = "UID"
	TXTKeyModel        = "Model"
	TXTKeyManufacturer = "Manufacturer"
)

// ServiceSubtype returns the DNS-SD subtype PTR name used to scope browsing
// and advertising to one RDMnet scope, e.g. "_default._sub._rdmnet._tcp".
func ServiceSubtype(scope string) string {
	return fmt.Sprintf("_%s._sub.%s", scope, DNSSDServiceType)
}
