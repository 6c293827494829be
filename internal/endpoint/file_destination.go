package endpoint

import (
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

// fileDestination writes framed bytes verbatim to a file or stdout,
// without interpreting the length prefixes it forwards.
type fileDestination struct {
	cfg  config.Config
	log  *logrus.Logger
	path string
	fd   int
}

func newFileDestination(path string, cfg config.Config, log *logrus.Logger) (*fileDestination, error) {
	var fd int
	var err error
	switch path {
	case "-", "stdout", "":
		fd, err = unix.Dup(1)
	default:
		flags := unix.O_WRONLY | unix.O_CREAT
		if cfg.Append {
			flags |= unix.O_APPEND
		} else {
			flags |= unix.O_TRUNC
		}
		fd, err = unix.Open(path, flags, 0o644)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "file destination: opening %q", path)
	}
	return &fileDestination{cfg: cfg, log: log, path: path, fd: fd}, nil
}

// CopyFromRing implements Destination.
func (d *fileDestination) CopyFromRing(r *ring.FramedRing, st *stats.Destination) error {
	for {
		b, err := r.ConsumerStartBatch(1, d.cfg.MaxWriteSize)
		if err != nil {
			return pkgerrors.Wrap(err, "file destination: starting batch")
		}
		if b.Len() == 0 {
			if r.IsEOF() {
				break
			}
			continue
		}

		var n int
		if b.Segments[1] == nil {
			n, err = unix.Write(d.fd, b.Segments[0])
		} else {
			n, err = unix.Writev(d.fd, [][]byte{b.Segments[0], b.Segments[1]})
		}
		if err != nil {
			return pkgerrors.Wrapf(err, "file destination: writing to %q", d.path)
		}

		if err := r.ConsumerCommitBatch(n); err != nil {
			return pkgerrors.Wrap(err, "file destination: committing consumed bytes")
		}
	}

	if err := unix.Fsync(d.fd); err != nil && err != unix.EINVAL && err != unix.ENOTTY {
		return pkgerrors.Wrapf(err, "file destination: fsync %q", d.path)
	}
	return nil
}
