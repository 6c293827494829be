// Package ring implements FramedRing, a bounded circular byte buffer that
// couples a single producer to a single consumer with blocking
// back-pressure. Records are framed with a 4-byte big-endian length prefix
// as they enter the ring; a record is only ever committed whole.
//
// The design is a classic mutex+condvar ring buffer: one lock, one
// condition variable, and a single "end of stream" flag that is monotonic
// once set. The consumer side is zero-copy: ConsumerStartBatch hands back
// slices that alias the ring's backing array directly.
package ring

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydg/dgcat/internal/stats"
	"github.com/relaydg/dgcat/internal/wire"
)

var (
	// ErrClosedForWrite is returned by producer operations after
	// ProducerSetEOF has been called.
	ErrClosedForWrite = errors.New("ring: closed for write")
	// ErrMessageTooLarge is returned when a record plus its 4-byte header
	// can never fit in the ring, regardless of how much drains.
	ErrMessageTooLarge = errors.New("ring: message too large for capacity")
	// ErrOverCommit is returned when a consumer commits more bytes than are
	// currently resident in the ring.
	ErrOverCommit = errors.New("ring: commit exceeds resident bytes")
	// ErrRequestTooLarge is returned when a consumer requests more bytes
	// than the ring could ever hold.
	ErrRequestTooLarge = errors.New("ring: requested minimum exceeds capacity")
)

// Record is one already-received datagram awaiting commit to the ring.
// Discard mirrors a recvmmsg() entry flagged MSG_OOB/MSG_ERRQUEUE/MSG_TRUNC:
// it is dropped and counted rather than framed into the ring.
type Record struct {
	Payload []byte
	Discard bool
}

// Borrow is a zero-copy view of the oldest bytes in the ring, returned by
// ConsumerStartBatch. Segments[1] is non-nil only when the view wraps
// around the end of the backing array.
type Borrow struct {
	Segments [2][]byte
}

// Len is the total number of bytes across both segments.
func (b Borrow) Len() int {
	return len(b.Segments[0]) + len(b.Segments[1])
}

// FramedRing is a bounded, single-producer/single-consumer byte ring.
type FramedRing struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf  []byte
	head int // next byte the producer will fill
	tail int // next byte the consumer will take
	n    int // bytes currently resident
	eof  bool

	stats stats.Ring
}

// New creates a FramedRing with the given byte capacity, which must be
// positive.
func New(capacity int) *FramedRing {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	r := &FramedRing{buf: make([]byte, capacity)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Cap returns the ring's fixed byte capacity.
func (r *FramedRing) Cap() int { return len(r.buf) }

// Stats returns a lock-free snapshot of the ring's statistics.
func (r *FramedRing) Stats() stats.RingSnapshot {
	return r.stats.Snapshot()
}

// IsEOF reports whether the producer side has been closed.
func (r *FramedRing) IsEOF() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eof
}

// ProducerSetEOF marks the ring closed for further writes. Idempotent and
// safe to call from any goroutine; wakes every waiter.
func (r *FramedRing) ProducerSetEOF() {
	r.mu.Lock()
	r.eof = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

func (r *FramedRing) freeLocked() int {
	return len(r.buf) - r.n
}

// ProducerCommitBatch commits each record in order, framing it with a
// 4-byte big-endian length header. It blocks until enough space exists for
// a record before writing it, and wakes the consumer once after the whole
// batch lands. Discarded records are skipped and counted. Returns the
// number of records committed (equal to len(recs) unless an error cuts the
// batch short).
func (r *FramedRing) ProducerCommitBatch(recs []Record) (int, error) {
	return r.commitBatch(recs, nil)
}

// ProducerCommitBatchDeadline is the timed variant: it returns early,
// without error, once deadline passes, reporting how many records were
// committed before that happened.
func (r *FramedRing) ProducerCommitBatchDeadline(recs []Record, deadline time.Time) (int, error) {
	return r.commitBatch(recs, &deadline)
}

func (r *FramedRing) commitBatch(recs []Record, deadline *time.Time) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eof {
		return 0, ErrClosedForWrite
	}

	committed := 0
	notify := false
	defer func() {
		if notify {
			r.cond.Broadcast()
		}
	}()

	for _, rec := range recs {
		if rec.Discard {
			r.stats.Update(func(s *stats.Ring) { s.NDatagramsDiscarded++ })
			committed++
			continue
		}

		need := wire.PrefixLen + len(rec.Payload)
		if need > len(r.buf) {
			return committed, ErrMessageTooLarge
		}

		for r.freeLocked() < need {
			if deadline == nil {
				r.cond.Wait()
			} else {
				if !r.condWaitUntil(*deadline) {
					return committed, nil
				}
			}
			if r.eof {
				return committed, ErrClosedForWrite
			}
		}

		var hdr [wire.PrefixLen]byte
		wire.PutHeader(hdr[:], uint32(len(rec.Payload)))
		r.putLocked(hdr[:])
		r.putLocked(rec.Payload)

		r.stats.Update(func(s *stats.Ring) {
			n := len(rec.Payload)
			if s.NDatagrams == 0 || n < s.MinDatagramSize {
				s.MinDatagramSize = n
			}
			if n > s.MaxDatagramSize {
				s.MaxDatagramSize = n
			}
			if s.NDatagrams == 0 {
				s.FirstDatagramSize = n
			}
			s.NDatagrams++
			s.NDatagramBytes += uint64(n)
			if r.n > s.MaxBacklogBytes {
				s.MaxBacklogBytes = r.n
			}
		})

		committed++
		notify = true
	}

	return committed, nil
}

// condWaitUntil waits on the ring's condition variable until it is
// signaled or the deadline passes. Returns false on deadline expiry.
// sync.Cond has no native timed wait; a helper goroutine that broadcasts
// on the deadline is the idiomatic way to bound it.
func (r *FramedRing) condWaitUntil(deadline time.Time) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}
	timedOut := make(chan struct{})
	timer := time.AfterFunc(remaining, func() {
		close(timedOut)
		r.cond.Broadcast()
	})
	defer timer.Stop()

	r.cond.Wait()

	select {
	case <-timedOut:
		return false
	default:
		return true
	}
}

// putLocked writes p into the ring, splitting across the wrap point as
// needed. Caller must hold the lock and must have already verified there
// is enough free space.
func (r *FramedRing) putLocked(p []byte) {
	if len(p) == 0 {
		return
	}
	n1 := copy(r.buf[r.head:], p)
	r.head = (r.head + n1) % len(r.buf)
	if n1 < len(p) {
		n2 := copy(r.buf[r.head:], p[n1:])
		r.head = (r.head + n2) % len(r.buf)
	}
	r.n += len(p)
}

// ConsumerStartBatch waits until at least nMin bytes are available or the
// ring reaches end-of-stream, then returns a zero-copy borrow of up to
// nMax bytes. After EOF the borrow may be shorter than nMin, even empty.
func (r *FramedRing) ConsumerStartBatch(nMin, nMax int) (Borrow, error) {
	return r.startBatch(nMin, nMax, nil)
}

// ConsumerStartBatchDeadline is the timed variant of ConsumerStartBatch.
func (r *FramedRing) ConsumerStartBatchDeadline(nMin, nMax int, deadline time.Time) (Borrow, error) {
	return r.startBatch(nMin, nMax, &deadline)
}

func (r *FramedRing) startBatch(nMin, nMax int, deadline *time.Time) (Borrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if nMin > len(r.buf) {
		return Borrow{}, ErrRequestTooLarge
	}

	for r.n < nMin && !r.eof {
		if deadline == nil {
			r.cond.Wait()
		} else if !r.condWaitUntil(*deadline) {
			break
		}
	}

	return r.borrowLocked(nMax), nil
}

func (r *FramedRing) borrowLocked(nMax int) Borrow {
	n := r.n
	if n > nMax {
		n = nMax
	}
	if n == 0 {
		return Borrow{}
	}

	n1 := len(r.buf) - r.tail
	if n1 >= n {
		return Borrow{Segments: [2][]byte{r.buf[r.tail : r.tail+n]}}
	}
	n2 := n - n1
	return Borrow{Segments: [2][]byte{r.buf[r.tail:], r.buf[:n2]}}
}

// ConsumerCommitBatch releases the oldest n bytes (the start of the most
// recent borrow), advancing the tail and waking the producer. It fails
// with ErrOverCommit if n exceeds the bytes resident in the ring.
func (r *FramedRing) ConsumerCommitBatch(n int) error {
	if n == 0 {
		return nil
	}

	r.mu.Lock()
	if n > r.n {
		r.mu.Unlock()
		return ErrOverCommit
	}
	r.tail = (r.tail + n) % len(r.buf)
	r.n -= n
	r.mu.Unlock()

	r.cond.Broadcast()
	return nil
}
