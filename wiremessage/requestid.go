package wiremessage

import "sync/atomic"

// IDGenerator hands out strictly-monotonic request ids, wrapping at the
// largest positive 31-bit signed value as the wire protocol requires
// (requestID is encoded as a signed int32 but must never be negative).
type IDGenerator struct {
	next atomic.Int32
}

// Next returns a fresh request id.
func (g *IDGenerator) Next() int32 {
	const maxRequestID = (1 << 31) - 1
	for {
		cur := g.next.Load()
		next := cur + 1
		if next < 0 || next > maxRequestID {
			next = 1
		}
		if g.next.CompareAndSwap(cur, next) {
			return next
		}
	}
}
