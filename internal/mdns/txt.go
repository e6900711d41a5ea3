package mdns

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/etclabs/rdmnetgo/pkg/e133"
	"github.com/etclabs/rdmnetgo/pkg/rid"
)

// BrokerTXTInfo is a broker's mDNS TXT record, decoded into the fields
// discovery actually needs. Grounded on lwmdns_common.c's
// parse_e133_scope_item/parse_e133_vers_item/parse_cid_item/parse_uid_item/
// parse_model_item/parse_manufacturer_item and their found-key bitmask
// (ALL_TXT_KEYS_FOUND_MASK) — a record is usable only once every required
// key has been seen.
type BrokerTXTInfo struct {
	Scope        string
	E133Version  int
	CID          rid.CID
	UID          rid.UID
	Model        string
	Manufacturer string
}

const (
	txtFoundScope = 1 << iota
	txtFoundE133Vers
	txtFoundCID
	txtFoundUID
	txtFoundModel
	txtFoundManufacturer

	txtFoundAll = txtFoundScope | txtFoundE133Vers | txtFoundCID | txtFoundUID | txtFoundModel | txtFoundManufacturer
)

// ParseBrokerTXT decodes a broker's TXT record RDATA (the length-prefixed
// string list, not yet split into key/value pairs) into a BrokerTXTInfo.
// It requires the first string to be "TxtVers=1", matching the original's
// rule that TxtVers must be the first key in the record, and requires
// every other recognized key to be present before returning success.
func ParseBrokerTXT(data []byte) (BrokerTXTInfo, error) {
	var info BrokerTXTInfo
	found := 0
	sawTxtVers := false

	for pos := 0; pos < len(data); {
		n := int(data[pos])
		pos++
		if pos+n > len(data) {
			return BrokerTXTInfo{}, errTruncatedName
		}
		item := data[pos : pos+n]
		pos += n

		key, value := splitTXTItem(item)

		if !sawTxtVers {
			if key != e133.TXTKeyTxtVers {
				return BrokerTXTInfo{}, fmt.Errorf("mdns: TXT record's first key is %q, want %q", key, e133.TXTKeyTxtVers)
			}
			vers, err := strconv.Atoi(value)
			if err != nil || vers != e133.DNSSDTxtVers {
				return BrokerTXTInfo{}, fmt.Errorf("mdns: unsupported TxtVers %q", value)
			}
			sawTxtVers = true
			continue
		}

		switch key {
		case e133.TXTKeyE133Scope:
			if value == "" || len(value) > e133.MaxScopeLength {
				continue
			}
			info.Scope = value
			found |= txtFoundScope
		case e133.TXTKeyE133Vers:
			v, err := strconv.Atoi(value)
			if err != nil || v == 0 {
				continue
			}
			info.E133Version = v
			found |= txtFoundE133Vers
		case e133.TXTKeyCID:
			cid, err := rid.ParseCID(value)
			if err != nil {
				continue
			}
			info.CID = cid
			found |= txtFoundCID
		case e133.TXTKeyUID:
			uid, err := parseUIDString(value)
			if err != nil {
				continue
			}
			info.UID = uid
			found |= txtFoundUID
		case e133.TXTKeyModel:
			info.Model = value
			found |= txtFoundModel
		case e133.TXTKeyManufacturer:
			info.Manufacturer = value
			found |= txtFoundManufacturer
		}
	}

	if !sawTxtVers {
		return BrokerTXTInfo{}, fmt.Errorf("mdns: TXT record missing required TxtVers key")
	}
	if found&txtFoundAll != txtFoundAll {
		return BrokerTXTInfo{}, fmt.Errorf("mdns: TXT record missing required keys (have mask 0x%x)", found)
	}
	return info, nil
}

// parseBrokerTXTMap builds a BrokerTXTInfo from an already-decoded TXT
// key/value map, as produced by decodeResourceRecord on the live discovery
// path. Unlike ParseBrokerTXT it cannot check that TxtVers appeared first
// in the record — decodeTXT does not preserve item order — so it only
// checks that TxtVers is present and supported, plus the same
// all-keys-found requirement.
func parseBrokerTXTMap(m map[string]string) (BrokerTXTInfo, error) {
	vers, ok := m[e133.TXTKeyTxtVers]
	if !ok {
		return BrokerTXTInfo{}, fmt.Errorf("mdns: TXT record missing required TxtVers key")
	}
	if v, err := strconv.Atoi(vers); err != nil || v != e133.DNSSDTxtVers {
		return BrokerTXTInfo{}, fmt.Errorf("mdns: unsupported TxtVers %q", vers)
	}

	var info BrokerTXTInfo
	found := 0

	if v, ok := m[e133.TXTKeyE133Scope]; ok && v != "" && len(v) <= e133.MaxScopeLength {
		info.Scope = v
		found |= txtFoundScope
	}
	if v, ok := m[e133.TXTKeyE133Vers]; ok {
		if n, err := strconv.Atoi(v); err == nil && n != 0 {
			info.E133Version = n
			found |= txtFoundE133Vers
		}
	}
	if v, ok := m[e133.TXTKeyCID]; ok {
		if cid, err := rid.ParseCID(v); err == nil {
			info.CID = cid
			found |= txtFoundCID
		}
	}
	if v, ok := m[e133.TXTKeyUID]; ok {
		if uid, err := parseUIDString(v); err == nil {
			info.UID = uid
			found |= txtFoundUID
		}
	}
	if v, ok := m[e133.TXTKeyModel]; ok {
		info.Model = v
		found |= txtFoundModel
	}
	if v, ok := m[e133.TXTKeyManufacturer]; ok {
		info.Manufacturer = v
		found |= txtFoundManufacturer
	}

	if found&txtFoundAll != txtFoundAll {
		return BrokerTXTInfo{}, fmt.Errorf("mdns: TXT record missing required keys (have mask 0x%x)", found)
	}
	return info, nil
}

func splitTXTItem(item []byte) (key, value string) {
	if i := indexByte(item, '='); i >= 0 {
		return string(item[:i]), string(item[i+1:])
	}
	return string(item), ""
}

// parseUIDString parses the "manufacturer:device" hex form used in the UID
// TXT key, e.g. "6574:00000001".
func parseUIDString(s string) (rid.UID, error) {
	if len(s) < 6 || s[4] != ':' {
		return rid.UID{}, fmt.Errorf("mdns: malformed UID string %q", s)
	}
	manu, err := hex.DecodeString(s[:4])
	if err != nil || len(manu) != 2 {
		return rid.UID{}, fmt.Errorf("mdns: malformed UID manufacturer in %q", s)
	}
	devHex := s[5:]
	if len(devHex) != 8 {
		return rid.UID{}, fmt.Errorf("mdns: malformed UID device in %q", s)
	}
	dev, err := hex.DecodeString(devHex)
	if err != nil || len(dev) != 4 {
		return rid.UID{}, fmt.Errorf("mdns: malformed UID device in %q", s)
	}
	return rid.UID{
		Manufacturer: uint16(manu[0])<<8 | uint16(manu[1]),
		Device:       uint32(dev[0])<<24 | uint32(dev[1])<<16 | uint32(dev[2])<<8 | uint32(dev[3]),
	}, nil
}

// EncodeBrokerTXT builds the wire form of a broker's TXT record, writing
// TxtVers first as the original's parser requires.
func EncodeBrokerTXT(info BrokerTXTInfo) []byte {
	items := []string{
		fmt.Sprintf("%s=%d", e133.TXTKeyTxtVers, e133.DNSSDTxtVers),
		fmt.Sprintf("%s=%s", e133.TXTKeyE133Scope, info.Scope),
		fmt.Sprintf("%s=%d", e133.TXTKeyE133Vers, info.E133Version),
		fmt.Sprintf("%s=%s", e133.TXTKeyCID, info.CID.HexNoDashes()),
		fmt.Sprintf("%s=%s", e133.TXTKeyUID, info.UID.String()),
		fmt.Sprintf("%s=%s", e133.TXTKeyModel, info.Model),
		fmt.Sprintf("%s=%s", e133.TXTKeyManufacturer, info.Manufacturer),
	}
	var out []byte
	for _, item := range items {
		out = append(out, byte(len(item)))
		out = append(out, item...)
	}
	return out
}
