package go_oscar

import (
	"encoding/binary"
	"fmt"
)

// TLV (type-length-value) blocks
//
// Nearly every SNAC payload is, in whole or in part, a list of TLVs:
//
//	[type:2][length:2][value:length]
//
// Lookups return explicit nil when a type is absent; callers decide
// whether a missing TLV is a protocol violation or an optional field.

// TLV is a single type-length-value entry.
type TLV struct {
	Type  uint16
	Value []byte
}

// EncodeTLV appends one TLV to the stream.
func EncodeTLV(stream *Stream, tlv TLV) error {
	if len(tlv.Value) > 0xffff {
		return fmt.Errorf("oscar: tlv 0x%04x value too large: %d bytes", tlv.Type, len(tlv.Value))
	}
	if err := stream.WriteUint16(tlv.Type); err != nil {
		return err
	}
	if err := stream.WriteUint16(uint16(len(tlv.Value))); err != nil {
		return err
	}
	_, err := stream.Write(tlv.Value)
	return err
}

// EncodeTLVUint16 appends a TLV whose value is a big-endian uint16.
func EncodeTLVUint16(stream *Stream, typ, value uint16) error {
	v := make([]byte, 2)
	binary.BigEndian.PutUint16(v, value)
	return EncodeTLV(stream, TLV{Type: typ, Value: v})
}

// EncodeTLVUint32 appends a TLV whose value is a big-endian uint32.
func EncodeTLVUint32(stream *Stream, typ uint16, value uint32) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, value)
	return EncodeTLV(stream, TLV{Type: typ, Value: v})
}

// EncodeTLVString appends a TLV whose value is a raw string.
func EncodeTLVString(stream *Stream, typ uint16, value string) error {
	return EncodeTLV(stream, TLV{Type: typ, Value: []byte(value)})
}

// DecodeTLVs reads TLVs from the stream until it is exhausted.
// A truncated trailing TLV is a framing error, not a silent stop.
func DecodeTLVs(stream *Stream) ([]TLV, error) {
	tlvs := make([]TLV, 0, 8)
	for stream.Len() > 0 {
		typ, err := stream.ReadUint16()
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV type"}
		}
		length, err := stream.ReadUint16()
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV length"}
		}
		value, err := stream.ReadBytes2(int(length))
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV value",
				Detail: fmt.Sprintf("type 0x%04x wants %d bytes", typ, length)}
		}
		tlvs = append(tlvs, TLV{Type: typ, Value: value})
	}
	return tlvs, nil
}

// DecodeTLVsCounted reads exactly count TLVs, leaving the rest of the
// stream untouched. User-info blocks embed a TLV count rather than a
// byte length.
func DecodeTLVsCounted(stream *Stream, count int) ([]TLV, error) {
	tlvs := make([]TLV, 0, count)
	for i := 0; i < count; i++ {
		typ, err := stream.ReadUint16()
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV type"}
		}
		length, err := stream.ReadUint16()
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV length"}
		}
		value, err := stream.ReadBytes2(int(length))
		if err != nil {
			return nil, &FrameError{Reason: "truncated TLV value",
				Detail: fmt.Sprintf("type 0x%04x wants %d bytes", typ, length)}
		}
		tlvs = append(tlvs, TLV{Type: typ, Value: value})
	}
	return tlvs, nil
}

// FindTLV returns the first TLV of the given type, or nil when absent.
func FindTLV(tlvs []TLV, typ uint16) *TLV {
	for i := range tlvs {
		if tlvs[i].Type == typ {
			return &tlvs[i]
		}
	}
	return nil
}

// Uint16 interprets the TLV value as a big-endian uint16.
func (t *TLV) Uint16() (uint16, error) {
	if len(t.Value) < 2 {
		return 0, fmt.Errorf("oscar: tlv 0x%04x too short for uint16", t.Type)
	}
	return binary.BigEndian.Uint16(t.Value[:2]), nil
}

// Uint32 interprets the TLV value as a big-endian uint32.
func (t *TLV) Uint32() (uint32, error) {
	if len(t.Value) < 4 {
		return 0, fmt.Errorf("oscar: tlv 0x%04x too short for uint32", t.Type)
	}
	return binary.BigEndian.Uint32(t.Value[:4]), nil
}

// String interprets the TLV value as a raw string.
func (t *TLV) String() string {
	return string(t.Value)
}
