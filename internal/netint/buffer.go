package netint

import "sync"

// maxDatagramSize is large enough for any mDNS UDP datagram this engine
// will see; RFC 6762 messages stay well under the classic 9KB jumbo-frame
// ceiling the teacher's buffer pool sized for.
const maxDatagramSize = 9000

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxDatagramSize)
		return &b
	},
}

// GetBuffer returns a pooled receive buffer, reused across Receive calls
// to avoid a per-datagram allocation on the hot path.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}
