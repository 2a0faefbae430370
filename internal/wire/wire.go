// Package wire frames cached entity payloads.
//
//	magic(4 "RHLP") | ver(1) | gen(u64 be) | writtenAt(i64 be, unix ms) | vlen(u32 be) | payload(vlen)
//
// Decoding is strict: anything that is not exactly one well-formed frame is corrupt.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1
	hdrLen       = 4 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("repohelper: corrupt cache entry")
	magic      = [...]byte{'R', 'H', 'L', 'P'}
)

// Frame is a decoded entry. Payload aliases the decoded buffer.
type Frame struct {
	Gen       uint64
	WrittenAt time.Time
	Payload   []byte
}

func Encode(gen uint64, writtenAt time.Time, payload []byte) []byte {
	b := make([]byte, hdrLen+len(payload))
	copy(b, magic[:])
	b[4] = version
	binary.BigEndian.PutUint64(b[5:13], gen)
	binary.BigEndian.PutUint64(b[13:21], uint64(writtenAt.UnixMilli()))
	binary.BigEndian.PutUint32(b[21:25], uint32(len(payload)))
	copy(b[hdrLen:], payload)
	return b
}

func Decode(b []byte) (Frame, error) {
	if len(b) < hdrLen || !bytes.Equal(b[:4], magic[:]) || b[4] != version {
		return Frame{}, ErrCorrupt
	}
	gen := binary.BigEndian.Uint64(b[5:13])
	ms := int64(binary.BigEndian.Uint64(b[13:21]))
	vlen := uint64(binary.BigEndian.Uint32(b[21:25]))
	if vlen != uint64(len(b)-hdrLen) {
		return Frame{}, ErrCorrupt // truncated or trailing bytes
	}
	return Frame{
		Gen:       gen,
		WrittenAt: time.UnixMilli(ms),
		Payload:   b[hdrLen:],
	}, nil
}
