package go_oscar

import (
	"testing"
)

func TestStreamIntegerRoundTrip(t *testing.T) {
	stream := NewStream(nil)
	_ = stream.WriteUint16(0x1234)
	_ = stream.WriteUint32(0xdeadbeef)
	_ = stream.WriteUint64(0x0102030405060708)

	if v, err := stream.ReadUint16(); err != nil || v != 0x1234 {
		t.Errorf("uint16: got %04x, %v", v, err)
	}
	if v, err := stream.ReadUint32(); err != nil || v != 0xdeadbeef {
		t.Errorf("uint32: got %08x, %v", v, err)
	}
	if v, err := stream.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Errorf("uint64: got %016x, %v", v, err)
	}
}

func TestStreamShortRead(t *testing.T) {
	stream := NewStream([]byte{0x12})
	if _, err := stream.ReadUint16(); err == nil {
		t.Error("expected error reading uint16 from one byte")
	}
	stream = NewStream(nil)
	if _, err := stream.ReadBytes2(4); err == nil {
		t.Error("expected error reading from empty stream")
	}
}

func TestStreamLenPrefixedStrings(t *testing.T) {
	tests := []string{"", "a", "screen name with spaces"}
	for _, want := range tests {
		stream := NewStream(nil)
		if err := stream.WriteLenPrefixedString(want); err != nil {
			t.Fatalf("write %q: %v", want, err)
		}
		got, err := stream.ReadLenPrefixedString()
		if err != nil || got != want {
			t.Errorf("uint8 prefix: got %q, %v, want %q", got, err, want)
		}

		stream = NewStream(nil)
		if err := stream.WriteLenPrefixedString16(want); err != nil {
			t.Fatalf("write16 %q: %v", want, err)
		}
		got, err = stream.ReadLenPrefixedString16()
		if err != nil || got != want {
			t.Errorf("uint16 prefix: got %q, %v, want %q", got, err, want)
		}
	}
}

func TestStreamCookieAndCapability(t *testing.T) {
	cookie := [OSCAR_COOKIE_LEN]byte{1, 2, 3, 4, 5, 6, 7, 8}
	stream := NewStream(nil)
	_ = stream.WriteCookie(cookie)
	_ = stream.WriteCapability(CAP_FILE_TRANSFER)

	gotCookie, err := stream.ReadCookie()
	if err != nil || gotCookie != cookie {
		t.Errorf("cookie: got %x, %v", gotCookie, err)
	}
	gotCap, err := stream.ReadCapability()
	if err != nil || gotCap != CAP_FILE_TRANSFER {
		t.Errorf("capability: got %x, %v", gotCap, err)
	}

	// truncated cookie
	stream = NewStream([]byte{1, 2, 3})
	if _, err := stream.ReadCookie(); err == nil {
		t.Error("expected error for truncated cookie")
	}
}
