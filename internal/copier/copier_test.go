package copier

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

// fakeSource feeds a fixed list of payloads into the ring then exits
// naturally, or exits early if ForceEOF is called.
type fakeSource struct {
	payloads [][]byte

	mu     sync.Mutex
	forced bool
}

func (f *fakeSource) CopyToRing(r *ring.FramedRing, st *stats.Source) error {
	for _, p := range f.payloads {
		f.mu.Lock()
		forced := f.forced
		f.mu.Unlock()
		if forced {
			return nil
		}
		if _, err := r.ProducerCommitBatch([]ring.Record{{Payload: p}}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) ForceEOF() {
	f.mu.Lock()
	f.forced = true
	f.mu.Unlock()
}

// fakeDestination drains the ring into an in-memory slice of payloads.
type fakeDestination struct {
	mu       sync.Mutex
	received [][]byte
}

func (f *fakeDestination) CopyFromRing(r *ring.FramedRing, st *stats.Destination) error {
	for {
		b, err := r.ConsumerStartBatch(4, r.Cap())
		if err != nil {
			return err
		}
		if b.Len() < 4 {
			if r.IsEOF() {
				return nil
			}
			continue
		}
		joined := make([]byte, 0, b.Len())
		joined = append(joined, b.Segments[0]...)
		joined = append(joined, b.Segments[1]...)

		l := int(joined[0])<<24 | int(joined[1])<<16 | int(joined[2])<<8 | int(joined[3])
		if len(joined) < 4+l {
			continue
		}

		payload := append([]byte{}, joined[4:4+l]...)
		f.mu.Lock()
		f.received = append(f.received, payload)
		f.mu.Unlock()

		if err := r.ConsumerCommitBatch(4 + l); err != nil {
			return err
		}
	}
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestCopierRunsSourceToDestination(t *testing.T) {
	src := &fakeSource{payloads: [][]byte{[]byte("one"), []byte("two"), []byte("three")}}
	dst := &fakeDestination{}

	cfg := config.Config{}.WithDefaults()
	c := New(cfg, testLogger(), src, dst)
	c.Start()

	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	dst.mu.Lock()
	defer dst.mu.Unlock()
	if len(dst.received) != 3 {
		t.Fatalf("received %d payloads, want 3", len(dst.received))
	}
	if string(dst.received[0]) != "one" || string(dst.received[2]) != "three" {
		t.Fatalf("payloads out of order: %q", dst.received)
	}
}

func TestCopierForceEOFStopsEarly(t *testing.T) {
	payloads := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		payloads = append(payloads, []byte("x"))
	}
	src := &fakeSource{payloads: payloads}
	dst := &fakeDestination{}

	cfg := config.Config{}.WithDefaults()
	c := New(cfg, testLogger(), src, dst)
	c.Start()
	c.ForceEOF()

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("copier did not stop after ForceEOF")
	}
}

func TestCopierStatsStatSeqIncreases(t *testing.T) {
	src := &fakeSource{payloads: [][]byte{[]byte("a")}}
	dst := &fakeDestination{}

	cfg := config.Config{}.WithDefaults()
	c := New(cfg, testLogger(), src, dst)
	c.Start()
	if err := c.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	first := c.Stats().StatSeq
	second := c.Stats().StatSeq
	if second <= first {
		t.Fatalf("StatSeq did not increase: %d then %d", first, second)
	}
}
