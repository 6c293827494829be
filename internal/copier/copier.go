// Package copier wires one Source, one FramedRing, and one Destination
// into the goroutine pair (plus an optional signal-handling goroutine)
// that performs a full copy: one goroutine per worker, first-error-wins
// captured under a mutex, joined unconditionally via sync.WaitGroup
// rather than a context-cancellation race.
package copier

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/endpoint"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

// signalPollInterval is how often the signal goroutine checks for natural
// ring end-of-stream, since the ring's EOF flag isn't itself a channel.
const signalPollInterval = 200 * time.Millisecond

// Copier owns a ring, a source, and a destination, and drives them to
// completion.
type Copier struct {
	cfg    config.Config
	log    *logrus.Logger
	ring   *ring.FramedRing
	source endpoint.Source
	dest   endpoint.Destination

	srcStats stats.Source
	dstStats stats.Destination
	statSeq  uint64

	wg       sync.WaitGroup
	errMu    sync.Mutex
	firstErr error
}

// New builds a Copier around the given source and destination, backed by
// a ring sized per cfg.MaxBacklog.
func New(cfg config.Config, log *logrus.Logger, source endpoint.Source, dest endpoint.Destination) *Copier {
	return &Copier{
		cfg:    cfg,
		log:    log,
		ring:   ring.New(cfg.MaxBacklog),
		source: source,
		dest:   dest,
	}
}

func (c *Copier) recordErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.firstErr == nil {
		c.firstErr = err
	}
}

// Start spawns the destination goroutine, then the source goroutine, then
// (if configured) the signal-handling goroutine.
func (c *Copier) Start() {
	c.wg.Add(2)

	go func() {
		defer c.wg.Done()
		defer c.source.ForceEOF()
		if err := c.dest.CopyFromRing(c.ring, &c.dstStats); err != nil {
			c.recordErr(pkgerrors.Wrap(err, "destination"))
		}
	}()

	go func() {
		defer c.wg.Done()
		defer c.ring.ProducerSetEOF()
		if err := c.source.CopyToRing(c.ring, &c.srcStats); err != nil {
			c.recordErr(pkgerrors.Wrap(err, "source"))
		}
	}()

	if c.cfg.HandleSignals {
		c.wg.Add(1)
		go c.runSignals()
	}
}

// runSignals is the idiomatic replacement for the original's
// pthread_sigmask-before-spawn + sigwait dance: Go delivers signals to
// whichever goroutine is registered via signal.Notify regardless of which
// OS thread receives them, so there is no mask-then-spawn ordering
// constraint to reproduce. The first SIGINT forces end-of-stream; a
// second exits immediately. SIGUSR1 logs a stats snapshot.
func (c *Copier) runSignals() {
	defer c.wg.Done()

	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGUSR1)
	defer signal.Stop(ch)

	ticker := time.NewTicker(signalPollInterval)
	defer ticker.Stop()

	sigints := 0
	for {
		select {
		case <-ticker.C:
			if c.ring.IsEOF() {
				return
			}
		case sig := <-ch:
			switch sig {
			case syscall.SIGUSR1:
				fmt.Fprintln(os.Stderr, c.Stats().BriefString())
			case syscall.SIGINT:
				sigints++
				if sigints == 1 {
					c.log.Warn("received SIGINT; forcing end-of-stream")
					c.ForceEOF()
				} else {
					c.log.Warn("received second SIGINT; exiting immediately")
					os.Exit(1)
				}
			}
		}
	}
}

// ForceEOF forces the source to stop, which propagates end-of-stream
// through the ring to the destination.
func (c *Copier) ForceEOF() {
	c.source.ForceEOF()
}

// Wait joins every worker goroutine and returns the first error any of
// them reported, wrapped with a stack trace.
func (c *Copier) Wait() error {
	c.wg.Wait()
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.firstErr
}

// Stats returns a stamped snapshot across source, ring, and destination
// counters.
func (c *Copier) Stats() stats.Aggregate {
	return stats.Aggregate{
		StatSeq:     atomic.AddUint64(&c.statSeq, 1),
		Source:      c.srcStats.Snapshot(),
		Ring:        c.ring.Stats(),
		Destination: c.dstStats.Snapshot(),
	}
}
