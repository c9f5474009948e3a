package bluesky

import (
	"math/rand"
	"sync"
	"time"
)

// base32-sortable alphabet used by AT Protocol TIDs.
const tidAlphabet = "234567abcdefghijklmnopqrstuvwxyz"

var (
	tidMu      sync.Mutex
	tidLast    int64
	tidClockID = rand.Int63n(1 << 10)
)

// nextTID returns a 13-character timestamp identifier usable as a record
// key. TIDs are monotonically increasing within this process.
func nextTID() string {
	tidMu.Lock()
	now := time.Now().UnixMicro()
	if now <= tidLast {
		now = tidLast + 1
	}
	tidLast = now
	clockID := tidClockID
	tidMu.Unlock()

	// 53 bits of microseconds followed by a 10-bit clock id; the top bit
	// stays zero.
	v := (now << 10) | clockID

	buf := make([]byte, 13)
	for i := 12; i >= 0; i-- {
		buf[i] = tidAlphabet[v&0x1f]
		v >>= 5
	}
	return string(buf)
}
