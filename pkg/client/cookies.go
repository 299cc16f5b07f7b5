package client

import (
	"encoding/binary"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/aeolun/oscarchat/pkg/protocol"
)

// cookieEpoch keeps the timestamp part of a cookie small
var cookieEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

const (
	cookieSourceBits = 10
	cookieSeqBits    = 12
	cookieSeqMask    = (1 << cookieSeqBits) - 1
	cookieTimeShift  = cookieSeqBits + cookieSourceBits
)

// cookieSource issues ICBM cookies. Layout: 42 bits of milliseconds since
// cookieEpoch, 10 random bits fixed per session so two of our clients
// talking to each other do not collide, 12 bits of sequence.
type cookieSource struct {
	source int64
	state  atomic.Int64 // timestamp << cookieSeqBits | sequence
	now    func() time.Time
}

func newCookieSource(now func() time.Time) *cookieSource {
	return &cookieSource{source: rand.Int64N(1 << cookieSourceBits), now: now}
}

// next returns a cookie unique within this session
func (cs *cookieSource) next() protocol.Cookie {
	for {
		old := cs.state.Load()
		last := old >> cookieSeqBits
		seq := old & cookieSeqMask

		now := cs.now().UnixMilli()
		if now < last {
			now = last
		}
		if now == last {
			seq = (seq + 1) & cookieSeqMask
			if seq == 0 {
				// sequence exhausted within one millisecond
				now = last + 1
			}
		} else {
			seq = 0
		}

		if cs.state.CompareAndSwap(old, now<<cookieSeqBits|seq) {
			id := (now-cookieEpoch)<<cookieTimeShift | cs.source<<cookieSeqBits | seq
			var c protocol.Cookie
			binary.BigEndian.PutUint64(c[:], uint64(id))
			return c
		}
	}
}
