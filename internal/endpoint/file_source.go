package endpoint

import (
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
	"github.com/relaydg/dgcat/internal/wire"
)

// fileSource reads framed records from a file or stdin, using an
// nRead/nMin parsing loop: read a chunk, try to decode a record, and
// grow the minimum read size whenever a partial length prefix or
// partial payload is seen.
type fileSource struct {
	cfg  config.Config
	log  *logrus.Logger
	path string
	fd   int

	mu       sync.Mutex
	forceEOF bool
	closed   bool
}

func newFileSource(path string, cfg config.Config, log *logrus.Logger) (*fileSource, error) {
	var fd int
	var err error
	switch path {
	case "-", "stdin", "":
		fd, err = unix.Dup(0)
	default:
		fd, err = unix.Open(path, unix.O_RDONLY, 0)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "file source: opening %q", path)
	}
	return &fileSource{cfg: cfg, log: log, path: path, fd: fd}, nil
}

// CopyToRing implements Source.
func (s *fileSource) CopyToRing(r *ring.FramedRing, st *stats.Source) error {
	bufSize := s.cfg.MaxReadSize
	if bufSize < wire.PrefixLen {
		bufSize = wire.PrefixLen
	}
	buf := make([]byte, bufSize)

	nRead := 0
	nMin := wire.PrefixLen
	first := true

	for {
		if len(buf) < nMin {
			grown := make([]byte, nMin)
			copy(grown, buf[:nRead])
			buf = grown
		}

		n, err := unix.Read(s.fd, buf[nRead:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EBADF {
				s.mu.Lock()
				forced := s.forceEOF
				s.mu.Unlock()
				if forced {
					s.log.Debug("file source: read on closed descriptor under force_eof; generating EOF")
					return nil
				}
			}
			return pkgerrors.Wrapf(err, "file source: reading %q", s.path)
		}

		if n == 0 {
			if nRead > 0 {
				s.log.Warnf("file source: %d trailing bytes form an incomplete record at EOF", nRead)
			}
			return nil
		}

		nRead += n
		now := time.Now()
		if first {
			st.Update(func(s *stats.Source) {
				s.StartTime = now
				s.StartClockTime = now
			})
			first = false
		}

		var recs []ring.Record
		i := 0
		for i < nRead {
			if i+wire.PrefixLen > nRead {
				break
			}
			l := int(wire.ReadHeader(buf[i : i+wire.PrefixLen]))
			if i+wire.PrefixLen+l > nRead {
				nMin = l + wire.PrefixLen
				break
			}
			recs = append(recs, ring.Record{Payload: buf[i+wire.PrefixLen : i+wire.PrefixLen+l]})
			i += wire.PrefixLen + l
		}

		if len(recs) > 0 {
			if _, err := r.ProducerCommitBatch(recs); err != nil {
				return pkgerrors.Wrapf(err, "file source: committing batch from %q", s.path)
			}

			residual := nRead - i
			copy(buf, buf[i:nRead])
			nRead = residual
			nMin = wire.PrefixLen

			nParsed := len(recs)
			st.Update(func(s *stats.Source) {
				if nParsed > s.MaxClumpSize {
					s.MaxClumpSize = nParsed
				}
				s.EndTime = now
			})
		}
	}
}

// ForceEOF implements Source.
func (s *fileSource) ForceEOF() {
	s.mu.Lock()
	s.forceEOF = true
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if !alreadyClosed {
		unix.Close(s.fd)
	}
}
