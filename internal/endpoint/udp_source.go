package endpoint

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

// udpSource receives datagrams via a bound UDP socket and frames them into
// the ring, mirroring a recvmmsg-style batched receive loop.
// golang.org/x/net's PacketConn.ReadBatch supplies the vectored-receive
// syscall.
type udpSource struct {
	cfg config.Config
	log *logrus.Logger

	conn *net.UDPConn
	v4   *ipv4.PacketConn
	v6   *ipv6.PacketConn

	mu       sync.Mutex
	forceEOF bool
	closed   bool
}

func newUDPSource(addrAndPort string, cfg config.Config, log *logrus.Logger) (*udpSource, error) {
	host, port, err := splitHostPort(addrAndPort)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "udp source")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "udp source: resolving %s:%s", host, port)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "udp source: binding %s:%s", host, port)
	}

	s := &udpSource{cfg: cfg, log: log, conn: conn}
	if udpAddr.IP.To4() != nil {
		s.v4 = ipv4.NewPacketConn(conn)
	} else {
		s.v6 = ipv6.NewPacketConn(conn)
	}

	log.Debugf("udp source bound to %s", conn.LocalAddr())
	return s, nil
}

type msgResult struct {
	n     int
	flags int
}

func (s *udpSource) readBatch(bufs [][]byte) ([]msgResult, error) {
	if s.v6 != nil {
		msgs := make([]ipv6.Message, len(bufs))
		for i := range msgs {
			msgs[i].Buffers = [][]byte{bufs[i]}
		}
		n, err := s.v6.ReadBatch(msgs, unix.MSG_WAITFORONE)
		if err != nil {
			return nil, err
		}
		out := make([]msgResult, n)
		for i := 0; i < n; i++ {
			out[i] = msgResult{n: msgs[i].N, flags: msgs[i].Flags}
		}
		return out, nil
	}

	msgs := make([]ipv4.Message, len(bufs))
	for i := range msgs {
		msgs[i].Buffers = [][]byte{bufs[i]}
	}
	n, err := s.v4.ReadBatch(msgs, unix.MSG_WAITFORONE)
	if err != nil {
		return nil, err
	}
	out := make([]msgResult, n)
	for i := 0; i < n; i++ {
		out[i] = msgResult{n: msgs[i].N, flags: msgs[i].Flags}
	}
	return out, nil
}

// CopyToRing implements Source.
func (s *udpSource) CopyToRing(r *ring.FramedRing, st *stats.Source) error {
	bufs := make([][]byte, s.cfg.MaxIovecs)
	for i := range bufs {
		bufs[i] = make([]byte, s.cfg.MaxDatagramSize)
	}

	var nDatagrams uint64
	var currentTimeout time.Duration = -1 // sentinel: not yet applied

	for {
		timeout := s.cfg.EOFTimeout
		if nDatagrams == 0 {
			timeout = s.cfg.EffectiveStartTimeout()
		}

		if timeout != currentTimeout {
			if timeout <= 0 {
				if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
					return pkgerrors.Wrap(err, "udp source: clearing read deadline")
				}
			} else {
				if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
					return pkgerrors.Wrap(err, "udp source: setting read deadline")
				}
			}
			currentTimeout = timeout
			s.log.Debugf("udp source: read timeout set to %v", timeout)
		} else if timeout > 0 {
			// Refresh the deadline each iteration so the timeout is
			// relative to the last receive, matching SO_RCVTIMEO semantics.
			if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return pkgerrors.Wrap(err, "udp source: refreshing read deadline")
			}
		}

		results, err := s.readBatch(bufs)
		if err != nil {
			if os.IsTimeout(err) {
				s.log.Debug("udp source: timeout waiting for datagram; generating EOF")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.mu.Lock()
				forced := s.forceEOF
				s.mu.Unlock()
				if forced {
					s.log.Debug("udp source: socket closed under force_eof; generating EOF")
					return nil
				}
			}
			return pkgerrors.Wrap(err, "udp source: read batch")
		}

		now := time.Now()
		if nDatagrams == 0 {
			st.Update(func(s *stats.Source) {
				s.StartTime = now
				s.StartClockTime = now
			})
		}

		recs := make([]ring.Record, len(results))
		for i, res := range results {
			discard := res.flags&(unix.MSG_TRUNC|unix.MSG_OOB|unix.MSG_ERRQUEUE) != 0
			recs[i] = ring.Record{Payload: bufs[i][:res.n], Discard: discard}
			if discard {
				s.log.Warn("udp source: datagram discarded (truncated or flagged)")
			}
		}

		if _, err := r.ProducerCommitBatch(recs); err != nil {
			return pkgerrors.Wrap(err, "udp source: committing batch to ring")
		}

		n := len(results)
		nDatagrams += uint64(n)
		st.Update(func(s *stats.Source) {
			if n > s.MaxClumpSize {
				s.MaxClumpSize = n
			}
			s.EndTime = now
		})

		if n == s.cfg.MaxIovecs {
			s.log.Warn("udp source: received a full batch of max_iovecs datagrams; possible kernel buffer saturation")
		}
	}
}

// ForceEOF implements Source. It sets the force-EOF flag then closes the
// socket, unblocking a goroutine parked in ReadBatch with a
// "use of closed network connection" error recognized above.
func (s *udpSource) ForceEOF() {
	s.mu.Lock()
	s.forceEOF = true
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if !alreadyClosed {
		s.conn.Close()
	}
}
