// Package wire implements the 4-byte big-endian length prefix used to frame
// datagrams on non-datagram transports (files, pipes, stdin/stdout).
package wire

import "encoding/binary"

// PrefixLen is the size in bytes of a framed record's length header.
const PrefixLen = 4

// PutHeader writes the big-endian length prefix for a payload of length n
// into buf, which must be at least PrefixLen bytes long.
func PutHeader(buf []byte, n uint32) {
	binary.BigEndian.PutUint32(buf, n)
}

// ReadHeader reads a big-endian length prefix from buf, which must be at
// least PrefixLen bytes long.
func ReadHeader(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}
