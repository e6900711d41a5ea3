// Package rid implements the two identifier types that thread through every
// RDMnet subsystem: the 128-bit component identifier (CID) and the 48-bit
// RDM unique identifier (UID).
package rid

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// CID is a Component Identifier: a UUID identifying one RDMnet component
// (broker, controller, device, or EPT client).
type CID [16]byte

// NewCID generates a random (v4) CID, matching the original library's use of
// a UUID generator at component startup.
func NewCID() CID {
	return CID(uuid.New())
}

// ParseCID parses the 32-hex-digit, no-dashes wire form used in mDNS TXT
// records (see pkg/e133 and internal/mdns), and also accepts the standard
// dashed UUID string form for convenience in configuration and tests.
func ParseCID(s string) (CID, error) {
	var c CID
	if len(s) == 32 {
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != 16 {
			return c, fmt.Errorf("rid: invalid CID hex string %q", s)
		}
		copy(c[:], b)
		return c, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return c, fmt.Errorf("rid: invalid CID %q: %w", s, err)
	}
	copy(c[:], u[:])
	return c, nil
}

// String renders the CID in standard dashed UUID form.
func (c CID) String() string {
	return uuid.UUID(c).String()
}

// HexNoDashes renders the CID as 32 uppercase hex digits, the TXT-record
// wire form required by spec §6.
func (c CID) HexNoDashes() string {
	return fmt.Sprintf("%032X", c[:])
}

// IsZero reports whether c is the all-zero CID (an uninitialized value,
// never a valid component identifier).
func (c CID) IsZero() bool {
	return c == CID{}
}
