package netint

import "testing"

func TestEnumerateReturnsOnlyUsableInterfaces(t *testing.T) {
	ifaces, err := Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for _, ifi := range ifaces {
		if ifi.IPv4 == nil && ifi.IPv6 == nil {
			t.Fatalf("interface %s returned with no usable address", ifi.Name)
		}
	}
}

func TestBufferPoolRoundTrip(t *testing.T) {
	b := GetBuffer()
	if len(*b) != maxDatagramSize {
		t.Fatalf("pooled buffer length = %d, want %d", len(*b), maxDatagramSize)
	}
	(*b)[0] = 0xFF
	PutBuffer(b)

	b2 := GetBuffer()
	if len(*b2) != maxDatagramSize {
		t.Fatalf("reacquired buffer length = %d, want %d", len(*b2), maxDatagramSize)
	}
	PutBuffer(b2)
}
