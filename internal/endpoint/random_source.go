package endpoint

import (
	"crypto/rand"
	"encoding/binary"
	mathrand "math/rand/v2"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

const hexDigits = "0123456789abcdef"

// randomSource generates synthetic payloads of uniformly sampled size,
// filled with lowercase hex digits. math/rand/v2's PCG generator plays
// the role of a seedable, nondeterministic-by-default PRNG.
type randomSource struct {
	log *logrus.Logger

	n       uint64 // 0 means unbounded
	minSize int
	maxSize int
	rng     *mathrand.Rand

	mu       sync.Mutex
	forceEOF bool
}

func newRandomSource(query string, log *logrus.Logger) (*randomSource, error) {
	vals, err := parseQuery(query)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "random source: parsing query %q", query)
	}

	n, err := parseUintDefault(vals.Get("n"), 0)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "random source: parsing n")
	}
	minSize, err := parseIntDefault(vals.Get("min_size"), 1)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "random source: parsing min_size")
	}
	maxSize, err := parseIntDefault(vals.Get("max_size"), minSize)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "random source: parsing max_size")
	}
	if maxSize < minSize {
		return nil, pkgerrors.Errorf("random source: max_size (%d) < min_size (%d)", maxSize, minSize)
	}
	seed, err := parseUint64Default(vals.Get("seed"), 0)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "random source: parsing seed")
	}

	seed1, seed2 := seed, seed
	if seed == 0 {
		seed1 = cryptoRandUint64()
		seed2 = cryptoRandUint64()
	}

	return &randomSource{
		log:     log,
		n:       n,
		minSize: minSize,
		maxSize: maxSize,
		rng:     mathrand.New(mathrand.NewPCG(seed1, seed2)),
	}, nil
}

func cryptoRandUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read failing means the system entropy source is
		// broken; there is nothing sensible left to fall back to.
		panic("random source: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func parseUintDefault(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseUint64Default(s string, def uint64) (uint64, error) {
	return parseUintDefault(s, def)
}

func (s *randomSource) fillHex(buf []byte) {
	for i := range buf {
		buf[i] = hexDigits[s.rng.IntN(16)]
	}
}

// CopyToRing implements Source.
func (s *randomSource) CopyToRing(r *ring.FramedRing, st *stats.Source) error {
	var produced uint64
	first := true

	for {
		s.mu.Lock()
		forced := s.forceEOF
		s.mu.Unlock()
		if forced {
			return nil
		}
		if s.n != 0 && produced >= s.n {
			return nil
		}

		size := s.minSize
		if s.maxSize > s.minSize {
			size += s.rng.IntN(s.maxSize - s.minSize + 1)
		}
		payload := make([]byte, size)
		s.fillHex(payload)

		now := time.Now()
		if first {
			st.Update(func(s *stats.Source) {
				s.StartTime = now
				s.StartClockTime = now
			})
			first = false
		}

		if _, err := r.ProducerCommitBatch([]ring.Record{{Payload: payload}}); err != nil {
			return pkgerrors.Wrap(err, "random source: committing record")
		}

		produced++
		st.Update(func(s *stats.Source) {
			if s.MaxClumpSize < 1 {
				s.MaxClumpSize = 1
			}
			s.EndTime = now
		})
	}
}

// ForceEOF implements Source. No socket to close; setting the flag is
// enough since the copy loop polls it between records.
func (s *randomSource) ForceEOF() {
	s.mu.Lock()
	s.forceEOF = true
	s.mu.Unlock()
}
