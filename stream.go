package go_oscar

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Stream provides OSCAR-specific message serialization operations.
// It wraps bytes.Buffer and adds methods for reading/writing OSCAR
// protocol data structures.
//
// The Stream type focuses on OSCAR wire serialization including:
//   - Binary integer encoding (big-endian uint16/32/64)
//   - Length-prefixed strings (uint8 and uint16 prefixes)
//   - Fixed-length byte fields (cookies, capability GUIDs)
//
// For general binary operations outside OSCAR, use encoding/binary
// directly.
type Stream struct {
	*bytes.Buffer
}

// NewStream creates a new Stream from a byte slice.
// The Stream wraps a bytes.Buffer initialized with the provided data.
func NewStream(buf []byte) *Stream {
	return &Stream{bytes.NewBuffer(buf)}
}

// ReadUint16 reads a big-endian uint16 from the stream.
// This is the workhorse for SNAC codes, TLV headers and lengths.
func (s *Stream) ReadUint16() (uint16, error) {
	bts, err := s.ReadBytes2(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(bts), nil
}

// ReadUint32 reads a big-endian uint32 from the stream.
// Used for SNAC request IDs, timestamps and transfer sizes.
func (s *Stream) ReadUint32() (uint32, error) {
	bts, err := s.ReadBytes2(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(bts), nil
}

// ReadUint64 reads a big-endian uint64 from the stream.
func (s *Stream) ReadUint64() (uint64, error) {
	bts, err := s.ReadBytes2(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(bts), nil
}

// ReadBytes2 reads exactly n bytes from the stream, failing with a
// short-read error instead of returning a truncated slice. The name
// distinguishes it from bytes.Buffer's delimiter-based ReadBytes.
func (s *Stream) ReadBytes2(n int) ([]byte, error) {
	if s.Len() < n {
		return nil, fmt.Errorf("oscar: short read: need %d bytes, have %d", n, s.Len())
	}
	bts := make([]byte, n)
	if _, err := s.Read(bts); err != nil {
		return nil, err
	}
	return bts, nil
}

// WriteUint16 writes a big-endian uint16 to the stream.
func (s *Stream) WriteUint16(i uint16) error {
	bts := make([]byte, 2)
	binary.BigEndian.PutUint16(bts, i)
	_, err := s.Write(bts)
	return err
}

// WriteUint32 writes a big-endian uint32 to the stream.
func (s *Stream) WriteUint32(i uint32) error {
	bts := make([]byte, 4)
	binary.BigEndian.PutUint32(bts, i)
	_, err := s.Write(bts)
	return err
}

// WriteUint64 writes a big-endian uint64 to the stream.
func (s *Stream) WriteUint64(i uint64) error {
	bts := make([]byte, 8)
	binary.BigEndian.PutUint64(bts, i)
	_, err := s.Write(bts)
	return err
}

// WriteLenPrefixedString writes a string prefixed by its length as a
// single byte. Format: [length:1 byte][string data]
// OSCAR uses this for screen names, which the protocol caps well below
// 255 bytes.
func (stream *Stream) WriteLenPrefixedString(s string) error {
	if len(s) > 255 {
		return fmt.Errorf("oscar: string too long: %d bytes (max 255)", len(s))
	}
	if err := stream.WriteByte(uint8(len(s))); err != nil {
		return err
	}
	_, err := stream.WriteString(s)
	return err
}

// ReadLenPrefixedString reads a uint8-length-prefixed string.
func (stream *Stream) ReadLenPrefixedString() (string, error) {
	n, err := stream.ReadByte()
	if err != nil {
		return "", err
	}
	bts, err := stream.ReadBytes2(int(n))
	if err != nil {
		return "", err
	}
	return string(bts), nil
}

// WriteLenPrefixedString16 writes a string prefixed by its length as a
// big-endian uint16. Chat room names and feedbag item names use this
// wider prefix.
func (stream *Stream) WriteLenPrefixedString16(s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("oscar: string too long: %d bytes (max %d)", len(s), 0xffff)
	}
	if err := stream.WriteUint16(uint16(len(s))); err != nil {
		return err
	}
	_, err := stream.WriteString(s)
	return err
}

// ReadLenPrefixedString16 reads a uint16-length-prefixed string.
func (stream *Stream) ReadLenPrefixedString16() (string, error) {
	n, err := stream.ReadUint16()
	if err != nil {
		return "", err
	}
	bts, err := stream.ReadBytes2(int(n))
	if err != nil {
		return "", err
	}
	return string(bts), nil
}

// WriteCookie writes an 8-byte ICBM/rendezvous cookie.
func (s *Stream) WriteCookie(cookie [OSCAR_COOKIE_LEN]byte) error {
	_, err := s.Write(cookie[:])
	return err
}

// ReadCookie reads an 8-byte ICBM/rendezvous cookie.
func (s *Stream) ReadCookie() (cookie [OSCAR_COOKIE_LEN]byte, err error) {
	bts, err := s.ReadBytes2(OSCAR_COOKIE_LEN)
	if err != nil {
		return cookie, err
	}
	copy(cookie[:], bts)
	return cookie, nil
}

// WriteCapability writes a 16-byte capability GUID.
func (s *Stream) WriteCapability(cap [16]byte) error {
	_, err := s.Write(cap[:])
	return err
}

// ReadCapability reads a 16-byte capability GUID.
func (s *Stream) ReadCapability() (cap [16]byte, err error) {
	bts, err := s.ReadBytes2(16)
	if err != nil {
		return cap, err
	}
	copy(cap[:], bts)
	return cap, nil
}
