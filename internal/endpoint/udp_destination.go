package endpoint

import (
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
	"github.com/relaydg/dgcat/internal/wire"
)

// udpDestination decodes framed records off the ring and sends each as
// one datagram to a connected peer, using an nMin-driven borrow loop:
// request just enough bytes to decode the length prefix, then grow the
// request once the payload length is known.
type udpDestination struct {
	cfg  config.Config
	log  *logrus.Logger
	conn *net.UDPConn

	rateLimited  bool
	nextSend     time.Time
	sendInterval time.Duration
}

func newUDPDestination(hostPort string, cfg config.Config, log *logrus.Logger) (*udpDestination, error) {
	host, port, err := splitHostPort(hostPort)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "udp destination")
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "udp destination: resolving %s:%s", host, port)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "udp destination: connecting to %s:%s", host, port)
	}

	d := &udpDestination{cfg: cfg, log: log, conn: conn}
	if cfg.MaxDatagramRate > 0 {
		d.rateLimited = true
		d.sendInterval = time.Duration(float64(time.Second) / cfg.MaxDatagramRate)
		d.nextSend = time.Now()
	}
	return d, nil
}

// subSegments returns exactly length bytes of b starting at offset, as up
// to two slices, aliasing the ring's backing array.
func subSegments(b ring.Borrow, offset, length int) [2][]byte {
	var out [2][]byte
	s0 := b.Segments[0]
	if offset < len(s0) {
		end0 := offset + length
		if end0 <= len(s0) {
			out[0] = s0[offset:end0]
			return out
		}
		out[0] = s0[offset:]
		out[1] = b.Segments[1][:length-len(out[0])]
		return out
	}
	off1 := offset - len(s0)
	out[0] = b.Segments[1][off1 : off1+length]
	return out
}

func readHeaderFromBorrow(b ring.Borrow) uint32 {
	seg := subSegments(b, 0, wire.PrefixLen)
	if seg[1] == nil {
		return wire.ReadHeader(seg[0])
	}
	var tmp [wire.PrefixLen]byte
	n := copy(tmp[:], seg[0])
	copy(tmp[n:], seg[1])
	return wire.ReadHeader(tmp[:])
}

// CopyFromRing implements Destination.
func (d *udpDestination) CopyFromRing(r *ring.FramedRing, st *stats.Destination) error {
	nMin := wire.PrefixLen
	var sent uint64

	for {
		if d.cfg.MaxDatagrams != 0 && sent >= d.cfg.MaxDatagrams {
			return nil
		}

		b, err := r.ConsumerStartBatch(nMin, nMin)
		if err != nil {
			return pkgerrors.Wrap(err, "udp destination: starting batch")
		}
		if b.Len() < nMin {
			if r.IsEOF() {
				if b.Len() > 0 {
					d.log.Warnf("udp destination: %d trailing bytes form an incomplete record at EOF", b.Len())
				}
				return nil
			}
			continue
		}

		l := int(readHeaderFromBorrow(b))
		if b.Len()-wire.PrefixLen < l {
			nMin = l + wire.PrefixLen
			continue
		}

		payload := subSegments(b, wire.PrefixLen, l)

		if d.rateLimited {
			if now := time.Now(); now.Before(d.nextSend) {
				time.Sleep(d.nextSend.Sub(now))
			}
		}

		if err := d.send(payload); err != nil {
			return pkgerrors.Wrap(err, "udp destination: sending datagram")
		}

		if err := r.ConsumerCommitBatch(l + wire.PrefixLen); err != nil {
			return pkgerrors.Wrap(err, "udp destination: committing consumed bytes")
		}

		if d.rateLimited {
			d.nextSend = d.nextSend.Add(d.sendInterval)
		}

		sent++
		nMin = wire.PrefixLen
	}
}

// send issues one datagram. A payload that doesn't straddle the ring's
// wrap point goes through net.UDPConn.Write; a straddling one is sent via
// unix.Writev over the raw fd so both segments reach the kernel as a
// single writev(2), preserving the datagram boundary.
func (d *udpDestination) send(payload [2][]byte) error {
	if payload[1] == nil {
		_, err := d.conn.Write(payload[0])
		return err
	}

	raw, err := d.conn.SyscallConn()
	if err != nil {
		return pkgerrors.Wrap(err, "obtaining raw connection")
	}

	var writeErr error
	ctrlErr := raw.Write(func(fd uintptr) bool {
		_, writeErr = unix.Writev(int(fd), [][]byte{payload[0], payload[1]})
		return true
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return writeErr
}
