// Package endpoint implements the source and destination polymorphism:
// UDP socket, file, stdin/stdout, and a random payload generator, all
// driving (or drained by) an internal/ring.FramedRing. NewSource and
// NewDestination are URI-scheme factories analogous to a create()
// constructor picking a concrete implementation by protocol prefix.
package endpoint

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/relaydg/dgcat/internal/config"
	"github.com/relaydg/dgcat/internal/ring"
	"github.com/relaydg/dgcat/internal/stats"
)

// Source copies datagrams from some origin into a ring until natural or
// forced end-of-stream.
type Source interface {
	// CopyToRing blocks until the source is exhausted or ForceEOF is
	// called, committing records to r and updating st as it goes.
	CopyToRing(r *ring.FramedRing, st *stats.Source) error
	// ForceEOF is non-blocking, idempotent, and safe to call from any
	// goroutine.
	ForceEOF()
}

// Destination drains a ring until it reports end-of-stream and every
// requested byte has been consumed.
type Destination interface {
	CopyFromRing(r *ring.FramedRing, st *stats.Destination) error
}

// NewSource parses uri and returns the matching Source implementation.
func NewSource(uri string, cfg config.Config, log *logrus.Logger) (Source, error) {
	switch {
	case strings.HasPrefix(uri, "udp://"):
		return newUDPSource(strings.TrimPrefix(uri, "udp://"), cfg, log)
	case strings.HasPrefix(uri, "random://"):
		return newRandomSource(strings.TrimPrefix(uri, "random://"), log)
	case strings.HasPrefix(uri, "file://"):
		return newFileSource(strings.TrimPrefix(uri, "file://"), cfg, log)
	case uri == "-" || uri == "stdin":
		return newFileSource(uri, cfg, log)
	default:
		return newFileSource(uri, cfg, log)
	}
}

// NewDestination parses uri and returns the matching Destination
// implementation.
func NewDestination(uri string, cfg config.Config, log *logrus.Logger) (Destination, error) {
	switch {
	case strings.HasPrefix(uri, "udp://"):
		return newUDPDestination(strings.TrimPrefix(uri, "udp://"), cfg, log)
	case strings.HasPrefix(uri, "file://"):
		return newFileDestination(strings.TrimPrefix(uri, "file://"), cfg, log)
	case uri == "-" || uri == "stdout":
		return newFileDestination(uri, cfg, log)
	default:
		return newFileDestination(uri, cfg, log)
	}
}

// splitHostPort parses "udp://[bind-addr:]port" / "udp://host:port" style
// address strings: a bare port with no colon means "all interfaces".
func splitHostPort(addrAndPort string) (host, port string, err error) {
	colon := strings.LastIndex(addrAndPort, ":")
	if colon == -1 {
		return "0.0.0.0", addrAndPort, nil
	}
	host = addrAndPort[:colon]
	port = addrAndPort[colon+1:]
	if host == "" {
		host = "0.0.0.0"
	}
	if port == "" {
		return "", "", errors.Errorf("endpoint: missing port in address %q", addrAndPort)
	}
	return host, port, nil
}

// parseQuery parses a "random://" query string into a url.Values,
// tolerating the bare "random://n=10&min_size=4" form with no leading "?".
func parseQuery(raw string) (url.Values, error) {
	return url.ParseQuery(strings.TrimPrefix(raw, "?"))
}
