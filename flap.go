package go_oscar

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FLAP framing
//
// Every byte on every OSCAR socket travels inside a FLAP envelope:
//
//	[marker 0x2a][frame type:1][sequence:2][data length:2][data]
//
// The codec is pure and stateless; connection state (the inbound
// accumulator, the outbound sequence counter) lives on Connection.

// FLAPFrame is a decoded FLAP envelope.
type FLAPFrame struct {
	FrameType uint8
	Sequence  uint16
	Data      []byte
}

// EncodeFLAP encodes a FLAP envelope around the given payload.
func EncodeFLAP(frameType uint8, sequence uint16, data []byte) ([]byte, error) {
	if len(data) > FLAP_MAX_DATA {
		return nil, &FrameError{Reason: "payload too large",
			Detail: fmt.Sprintf("%d bytes (max %d)", len(data), FLAP_MAX_DATA)}
	}
	frame := make([]byte, FLAP_HEADER_LEN+len(data))
	frame[0] = FLAP_MARKER
	frame[1] = frameType
	binary.BigEndian.PutUint16(frame[2:4], sequence)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(data)))
	copy(frame[FLAP_HEADER_LEN:], data)
	return frame, nil
}

// DecodeFLAP decodes one FLAP envelope from the accumulator.
//
// The decoder never blocks: when fewer than a complete frame's bytes
// are buffered it returns ErrNeedMoreData and consumes nothing, so the
// caller may feed bytes in arbitrarily small chunks. Malformed input
// (bad marker, unknown frame type) returns a *FrameError, which the
// connection maps to teardown of that one socket.
func DecodeFLAP(accumulator *bytes.Buffer) (*FLAPFrame, error) {
	buffered := accumulator.Bytes()
	if len(buffered) < FLAP_HEADER_LEN {
		return nil, ErrNeedMoreData
	}
	if buffered[0] != FLAP_MARKER {
		return nil, &FrameError{Reason: "bad marker",
			Detail: fmt.Sprintf("0x%02x", buffered[0])}
	}
	frameType := buffered[1]
	if frameType < FLAP_FRAME_SIGNON || frameType > FLAP_FRAME_KEEPALIVE {
		return nil, &FrameError{Reason: "unknown frame type",
			Detail: fmt.Sprintf("0x%02x", frameType)}
	}
	dataLen := int(binary.BigEndian.Uint16(buffered[4:6]))
	if len(buffered) < FLAP_HEADER_LEN+dataLen {
		return nil, ErrNeedMoreData
	}

	frame := &FLAPFrame{
		FrameType: frameType,
		Sequence:  binary.BigEndian.Uint16(buffered[2:4]),
		Data:      make([]byte, dataLen),
	}
	// A complete frame is buffered; consume it from the accumulator.
	header := make([]byte, FLAP_HEADER_LEN)
	if _, err := accumulator.Read(header); err != nil {
		return nil, err
	}
	if _, err := accumulator.Read(frame.Data); err != nil {
		return nil, err
	}
	return frame, nil
}
