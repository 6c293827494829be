package ring

import (
	"testing"
	"time"
)

func TestProducerConsumerRoundTrip(t *testing.T) {
	r := New(64)

	n, err := r.ProducerCommitBatch([]Record{{Payload: []byte("hello")}})
	if err != nil || n != 1 {
		t.Fatalf("commit: n=%d err=%v", n, err)
	}

	b, err := r.ConsumerStartBatch(4+5, 64)
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if got := b.Len(); got != 9 {
		t.Fatalf("borrow len = %d, want 9", got)
	}

	joined := joinSegments(b)
	if string(joined[4:]) != "hello" {
		t.Fatalf("payload = %q", joined[4:])
	}

	if err := r.ConsumerCommitBatch(b.Len()); err != nil {
		t.Fatalf("consumer commit: %v", err)
	}
}

func TestZeroLengthPayload(t *testing.T) {
	r := New(32)
	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte{}}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	b, err := r.ConsumerStartBatch(4, 32)
	if err != nil {
		t.Fatalf("start batch: %v", err)
	}
	if b.Len() != 4 {
		t.Fatalf("borrow len = %d, want 4", b.Len())
	}
}

func TestWrapAroundProducesTwoSegments(t *testing.T) {
	r := New(16)

	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("abcde")}}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	b, err := r.ConsumerStartBatch(9, 9)
	if err != nil {
		t.Fatalf("start batch 1: %v", err)
	}
	if err := r.ConsumerCommitBatch(b.Len()); err != nil {
		t.Fatalf("consumer commit 1: %v", err)
	}

	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("wxyz12")}}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	b2, err := r.ConsumerStartBatch(10, 10)
	if err != nil {
		t.Fatalf("start batch 2: %v", err)
	}
	if b2.Segments[1] == nil {
		t.Fatalf("expected wrap-around borrow with two segments")
	}
	joined := joinSegments(b2)
	if string(joined[4:]) != "wxyz12" {
		t.Fatalf("payload = %q", joined[4:])
	}
}

func TestMessageTooLarge(t *testing.T) {
	r := New(8)
	_, err := r.ProducerCommitBatch([]Record{{Payload: make([]byte, 64)}})
	if err != ErrMessageTooLarge {
		t.Fatalf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestClosedForWrite(t *testing.T) {
	r := New(32)
	r.ProducerSetEOF()
	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("x")}}); err != ErrClosedForWrite {
		t.Fatalf("err = %v, want ErrClosedForWrite", err)
	}
}

func TestConsumerObservesEOFWithShortBorrow(t *testing.T) {
	r := New(32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b, err := r.ConsumerStartBatch(16, 32)
		if err != nil {
			t.Errorf("start batch: %v", err)
		}
		if b.Len() != 0 {
			t.Errorf("borrow len = %d, want 0", b.Len())
		}
	}()

	time.Sleep(10 * time.Millisecond)
	r.ProducerSetEOF()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not wake on EOF")
	}
}

func TestProducerBlocksUntilSpaceFreed(t *testing.T) {
	r := New(16)
	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("abcdefgh")}}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("ijklmnop")}}); err != nil {
			t.Errorf("commit 2: %v", err)
		}
	}()

	select {
	case <-blocked:
		t.Fatal("producer did not block on a full ring")
	case <-time.After(50 * time.Millisecond):
	}

	b, _ := r.ConsumerStartBatch(12, 12)
	if err := r.ConsumerCommitBatch(b.Len()); err != nil {
		t.Fatalf("consumer commit: %v", err)
	}

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not unblock after space freed")
	}
}

func TestRequestTooLarge(t *testing.T) {
	r := New(8)
	if _, err := r.ConsumerStartBatch(1000, 1000); err != ErrRequestTooLarge {
		t.Fatalf("err = %v, want ErrRequestTooLarge", err)
	}
}

func TestOverCommit(t *testing.T) {
	r := New(8)
	if err := r.ConsumerCommitBatch(4); err != ErrOverCommit {
		t.Fatalf("err = %v, want ErrOverCommit", err)
	}
}

func TestProducerCommitBatchDeadlineTimesOut(t *testing.T) {
	r := New(9)
	if _, err := r.ProducerCommitBatch([]Record{{Payload: []byte("abcde")}}); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	n, err := r.ProducerCommitBatchDeadline(
		[]Record{{Payload: []byte("more")}},
		time.Now().Add(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("commit deadline: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func joinSegments(b Borrow) []byte {
	out := make([]byte, 0, b.Len())
	out = append(out, b.Segments[0]...)
	out = append(out, b.Segments[1]...)
	return out
}
