package go_oscar

import (
	"encoding/binary"
)

// SNAC addressing
//
// Inside FLAP data frames, every message is a SNAC: a 10-byte header
// addressing the payload by foodgroup (service category) and subtype
// (operation within the category), plus flags and a request ID used to
// correlate replies with requests.
//
//	[foodgroup:2][subtype:2][flags:2][request id:4][data]
//
// Subtype interpretation is meaningless without the foodgroup; handler
// dispatch always keys on the pair.

// SNAC is a decoded SNAC message.
type SNAC struct {
	Foodgroup uint16
	Subtype   uint16
	Flags     uint16
	RequestID uint32
	Data      []byte
}

const snacHeaderLen = 10

// NewSNAC constructs a SNAC with the given addressing and payload.
func NewSNAC(foodgroup, subtype uint16, requestID uint32, data []byte) *SNAC {
	return &SNAC{
		Foodgroup: foodgroup,
		Subtype:   subtype,
		RequestID: requestID,
		Data:      data,
	}
}

// EncodeSNAC serializes a SNAC into the byte layout carried by a FLAP
// data frame.
func EncodeSNAC(snac *SNAC) []byte {
	out := make([]byte, snacHeaderLen+len(snac.Data))
	binary.BigEndian.PutUint16(out[0:2], snac.Foodgroup)
	binary.BigEndian.PutUint16(out[2:4], snac.Subtype)
	binary.BigEndian.PutUint16(out[4:6], snac.Flags)
	binary.BigEndian.PutUint32(out[6:10], snac.RequestID)
	copy(out[snacHeaderLen:], snac.Data)
	return out
}

// DecodeSNAC parses the byte layout of a FLAP data frame into a SNAC.
func DecodeSNAC(data []byte) (*SNAC, error) {
	if len(data) < snacHeaderLen {
		return nil, &FrameError{Reason: "truncated SNAC header"}
	}
	snac := &SNAC{
		Foodgroup: binary.BigEndian.Uint16(data[0:2]),
		Subtype:   binary.BigEndian.Uint16(data[2:4]),
		Flags:     binary.BigEndian.Uint16(data[4:6]),
		RequestID: binary.BigEndian.Uint32(data[6:10]),
		Data:      make([]byte, len(data)-snacHeaderLen),
	}
	copy(snac.Data, data[snacHeaderLen:])
	return snac, nil
}
