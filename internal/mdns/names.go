package mdns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Grounded on original_source/src/rdmnet/disc/lightweight/lwmdns_common.c's
// lwmdns_parse_domain_name: RFC 1035 §4.1.4 pointer compression, with the
// same anti-loop rule — a compression pointer must point strictly
// backward from the byte it appears at, never forward (which the original
// enforces as "buf_begin + pointer_offset < offset").

const (
	maxLabelLength    = 63
	maxNameLength     = 254
	pointerMask       = 0xC0
	pointerOffsetMask = 0x3FFF
)

var (
	errTruncatedName  = errors.New("mdns: truncated domain name")
	errLabelTooLong   = errors.New("mdns: domain name label exceeds 63 bytes")
	errNameTooLong    = errors.New("mdns: domain name exceeds 254 bytes")
	errForwardPointer = errors.New("mdns: domain name compression pointer points forward")
)

// parseName decodes the domain name at buf[start:], following at most one
// chain of backward compression pointers, and returns its dotted-label
// string form along with the offset in buf immediately following the name
// as it appears at start (i.e. after the terminating zero byte or the
// 2-byte pointer, whichever ended the name at that position).
func parseName(buf []byte, start int) (name string, next int, err error) {
	var labels []string
	totalLen := 0
	cur := start
	consumedPointer := false

	for {
		if cur >= len(buf) {
			return "", 0, errTruncatedName
		}
		b := buf[cur]

		if b == 0 {
			if !consumedPointer {
				next = cur + 1
			}
			return strings.Join(labels, "."), next, nil
		}

		if b&pointerMask == pointerMask {
			if cur+2 > len(buf) {
				return "", 0, errTruncatedName
			}
			pointer := int(binary.BigEndian.Uint16(buf[cur:cur+2]) & pointerOffsetMask)
			if pointer >= cur {
				return "", 0, errForwardPointer
			}
			if !consumedPointer {
				next = cur + 2
				consumedPointer = true
			}
			rest, _, err := parseName(buf, pointer)
			if err != nil {
				return "", 0, err
			}
			if rest != "" {
				labels = append(labels, strings.Split(rest, ".")...)
			}
			return strings.Join(labels, "."), next, nil
		}

		length := int(b)
		if length > maxLabelLength {
			return "", 0, errLabelTooLong
		}
		if cur+1+length > len(buf) {
			return "", 0, errTruncatedName
		}
		labels = append(labels, string(buf[cur+1:cur+1+length]))
		totalLen += length + 1
		if totalLen+1 > maxNameLength {
			return "", 0, errNameTooLong
		}
		cur += 1 + length
	}
}

// encodeName appends the wire form of a dotted domain name to dst, with no
// compression (this implementation only ever sends short, fixed queries,
// so compression is not worth the bookkeeping it would take to produce).
func encodeName(dst []byte, name string) ([]byte, error) {
	if name == "" || name == "." {
		return append(dst, 0), nil
	}
	for _, label := range strings.Split(strings.TrimSuffix(name, "."), ".") {
		if len(label) > maxLabelLength {
			return nil, fmt.Errorf("%w: label %q", errLabelTooLong, label)
		}
		dst = append(dst, byte(len(label)))
		dst = append(dst, label...)
	}
	return append(dst, 0), nil
}
