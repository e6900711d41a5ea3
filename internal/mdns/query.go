package mdns

import (
	"encoding/binary"
	"time"
)

// DNS header layout per RFC 1035 §4.1.1, decoded only as far as the
// fields lwmdns_parse_dns_header reads (this engine never issues
// recursive/authoritative queries, so most header bits go unused).
const (
	dnsHeaderLen             = 12
	dnsOffsetFlags           = 2
	dnsOffsetQuestionCount   = 4
	dnsOffsetAnswerCount     = 6
	dnsOffsetAuthorityCount  = 8
	dnsOffsetAdditionalCount = 10

	dnsFlagResponse = 0x8000
)

// header is a decoded DNS message header.
type header struct {
	isResponse      bool
	questionCount   uint16
	answerCount     uint16
	authorityCount  uint16
	additionalCount uint16
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < dnsHeaderLen {
		return header{}, errTruncatedName
	}
	flags := binary.BigEndian.Uint16(buf[dnsOffsetFlags:])
	return header{
		isResponse:      flags&dnsFlagResponse != 0,
		questionCount:   binary.BigEndian.Uint16(buf[dnsOffsetQuestionCount:]),
		answerCount:     binary.BigEndian.Uint16(buf[dnsOffsetAnswerCount:]),
		authorityCount:  binary.BigEndian.Uint16(buf[dnsOffsetAuthorityCount:]),
		additionalCount: binary.BigEndian.Uint16(buf[dnsOffsetAdditionalCount:]),
	}, nil
}

// buildPTRQuery constructs a one-question mDNS query message asking for
// PTR records under name (e.g. "_default._sub._rdmnet._tcp.local").
func buildPTRQuery(name string) ([]byte, error) {
	buf := make([]byte, dnsHeaderLen)
	binary.BigEndian.PutUint16(buf[dnsOffsetQuestionCount:], 1)

	var err error
	buf, err = encodeName(buf, name)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(RecordTypePTR))
	buf = binary.BigEndian.AppendUint16(buf, classIN)
	return buf, nil
}

// buildRecordQuery constructs a one-question mDNS query for any record
// type (used to resolve a broker's SRV/A/AAAA records once its instance
// name is known).
func buildRecordQuery(name string, recordType RecordType) ([]byte, error) {
	buf := make([]byte, dnsHeaderLen)
	binary.BigEndian.PutUint16(buf[dnsOffsetQuestionCount:], 1)

	var err error
	buf, err = encodeName(buf, name)
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, uint16(recordType))
	buf = binary.BigEndian.AppendUint16(buf, classIN)
	return buf, nil
}

// decodeMessage walks a full mDNS message's question section and returns
// every answer, authority, and additional resource record, in wire order.
func decodeMessage(buf []byte) ([]ResourceRecord, error) {
	hdr, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}
	pos := dnsHeaderLen

	for i := uint16(0); i < hdr.questionCount; i++ {
		_, next, err := parseName(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = next + 4 // QTYPE + QCLASS
	}

	var records []ResourceRecord
	total := int(hdr.answerCount) + int(hdr.authorityCount) + int(hdr.additionalCount)
	for i := 0; i < total; i++ {
		rr, next, err := decodeResourceRecord(buf, pos)
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
		pos = next
	}
	return records, nil
}

// QueryBackoff implements the original's query re-send schedule:
// rdmnet_disc_lightweight.c's update_query_interval, starting at 1000ms
// and multiplying by 3 on every unanswered retry, clamped at 360000ms.
type QueryBackoff struct {
	interval time.Duration
}

const (
	initialQueryInterval = 1000 * time.Millisecond
	queryBackoffFactor   = 3
	maxQueryInterval     = 360000 * time.Millisecond
)

// NewQueryBackoff returns a backoff starting at the initial 1 second
// interval.
func NewQueryBackoff() *QueryBackoff {
	return &QueryBackoff{interval: initialQueryInterval}
}

// Interval returns the current re-query interval.
func (q *QueryBackoff) Interval() time.Duration {
	return q.interval
}

// Advance triples the interval (clamped at 360 seconds) after an
// unanswered query, per update_query_interval.
func (q *QueryBackoff) Advance() {
	next := q.interval * queryBackoffFactor
	if next > maxQueryInterval {
		next = maxQueryInterval
	}
	q.interval = next
}

// Reset returns the backoff to its initial interval. Nothing in this
// package calls it; the engine's backoffs only grow.
func (q *QueryBackoff) Reset() {
	q.interval = initialQueryInterval
}
