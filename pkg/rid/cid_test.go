package rid

import "testing"

func TestParseCIDRoundTrip(t *testing.T) {
	c := NewCID()

	dashed, err := ParseCID(c.String())
	if err != nil {
		t.Fatalf("ParseCID(dashed) error: %v", err)
	}
	if dashed != c {
		t.Fatalf("ParseCID(dashed) = %v, want %v", dashed, c)
	}

	hexNoDashes, err := ParseCID(c.HexNoDashes())
	if err != nil {
		t.Fatalf("ParseCID(hex) error: %v", err)
	}
	if hexNoDashes != c {
		t.Fatalf("ParseCID(hex) = %v, want %v", hexNoDashes, c)
	}
}

func TestParseCIDRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-cid", "0123456789ABCDEF0123456789ABCDE!"} {
		if _, err := ParseCID(s); err == nil {
			t.Fatalf("ParseCID(%q) expected error, got nil", s)
		}
	}
}

func TestCIDIsZero(t *testing.T) {
	var zero CID
	if !zero.IsZero() {
		t.Fatal("zero-value CID must report IsZero() == true")
	}
	if NewCID().IsZero() {
		t.Fatal("randomly generated CID must not be zero")
	}
}
