package go_oscar

import (
	"testing"
)

func TestCheckEncodingTiers(t *testing.T) {
	tests := []struct {
		name string
		body string
		want uint16
	}{
		{"pure ascii", "hello", ICBM_CHARSET_ASCII},
		{"empty", "", ICBM_CHARSET_ASCII},
		{"latin-1 accent", "café", ICBM_CHARSET_LATIN1},
		{"latin-1 boundary", "ÿ", ICBM_CHARSET_LATIN1},
		{"cjk", "日本語", ICBM_CHARSET_UNICODE},
		{"mixed forces unicode", "hi 日本", ICBM_CHARSET_UNICODE},
		{"emoji", "\U0001f600", ICBM_CHARSET_UNICODE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckEncoding(tt.body); got != tt.want {
				t.Errorf("CheckEncoding(%q): got 0x%04x, want 0x%04x", tt.body, got, tt.want)
			}
		})
	}
}

func TestMessageTextRoundTrip(t *testing.T) {
	tests := []string{"hello", "café über", "日本語テスト", "mixed ascii 和 cjk"}
	for _, body := range tests {
		charset := CheckEncoding(body)
		encoded, err := encodeMessageText(body, charset)
		if err != nil {
			t.Fatalf("encode %q: %v", body, err)
		}
		if got := decodeMessageText(encoded, charset); got != body {
			t.Errorf("round trip %q via 0x%04x: got %q", body, charset, got)
		}
	}
}

func TestDecodeMessageTextBadInput(t *testing.T) {
	// odd-length UCS-2 cannot be valid
	if got := decodeMessageText([]byte{0x00, 0x65, 0x00}, ICBM_CHARSET_UNICODE); got != decodeFailedPlaceholder {
		t.Errorf("odd-length unicode: got %q", got)
	}
	if got := decodeMessageText([]byte("x"), 0x7777); got != decodeFailedPlaceholder {
		t.Errorf("unknown charset: got %q", got)
	}
}

func TestMessageBlockRoundTrip(t *testing.T) {
	block, err := encodeMessageBlock("héllo wörld")
	if err != nil {
		t.Fatalf("encodeMessageBlock: %v", err)
	}
	body, err := decodeMessageBlock(block)
	if err != nil {
		t.Fatalf("decodeMessageBlock: %v", err)
	}
	if body != "héllo wörld" {
		t.Errorf("got %q", body)
	}
}

// buildInboundICBM assembles a channel-1 ICBM frame the way the server
// sends it: cookie, channel, sender, warning level, counted sender
// TLVs, then the payload TLVs.
func buildInboundICBM(from string, channel uint16, tlvs []TLV) *SNAC {
	stream := NewStream(nil)
	_ = stream.WriteCookie([OSCAR_COOKIE_LEN]byte{9, 9, 9, 9, 9, 9, 9, 9})
	_ = stream.WriteUint16(channel)
	_ = stream.WriteLenPrefixedString(from)
	_ = stream.WriteUint16(0) // warning level
	_ = stream.WriteUint16(0) // fixed TLV count
	for i := range tlvs {
		_ = EncodeTLV(stream, tlvs[i])
	}
	return NewSNAC(FAMILY_ICBM, ICBM_TO_CLIENT, 1, stream.Bytes())
}

// TestInboundUnicodeMessage feeds a channel-1 ICBM whose text fragment
// carries the unicode flag and the UCS-2BE bytes for "e".
func TestInboundUnicodeMessage(t *testing.T) {
	var received []Message
	s := newTestSession(&SessionCallbacks{
		OnMessageReceived: func(_ *Session, msg Message) {
			received = append(received, msg)
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	block := NewStream(nil)
	_ = block.WriteByte(fragMessageText)
	_ = block.WriteByte(0x01)
	_ = block.WriteUint16(2 + 4)
	_ = block.WriteUint16(ICBM_CHARSET_UNICODE)
	_ = block.WriteUint16(0)
	_, _ = block.Write([]byte{0x00, 0x65})

	snac := buildInboundICBM("buddy1", ICBM_CHANNEL_TEXT,
		[]TLV{{Type: ICBM_TLV_MESSAGE, Value: block.Bytes()}})
	s.handleInboundICBM(conn, snac)

	if len(received) != 1 {
		t.Fatalf("got %d messages, want 1", len(received))
	}
	if received[0].From != "buddy1" {
		t.Errorf("from: got %q", received[0].From)
	}
	if received[0].Body != "e" {
		t.Errorf("body: got %q, want %q", received[0].Body, "e")
	}
	if received[0].AutoResponse {
		t.Error("auto-response flag set unexpectedly")
	}
}

func TestInboundAutoResponseFlag(t *testing.T) {
	var received []Message
	s := newTestSession(&SessionCallbacks{
		OnMessageReceived: func(_ *Session, msg Message) {
			received = append(received, msg)
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	block, _ := encodeMessageBlock("away right now")
	snac := buildInboundICBM("buddy2", ICBM_CHANNEL_TEXT, []TLV{
		{Type: ICBM_TLV_MESSAGE, Value: block},
		{Type: ICBM_TLV_AUTO_RESPONSE, Value: nil},
	})
	s.handleInboundICBM(conn, snac)

	if len(received) != 1 || !received[0].AutoResponse {
		t.Fatalf("expected one auto-response message, got %+v", received)
	}
}

func TestTypingStateMachine(t *testing.T) {
	var events []TypingState
	s := newTestSession(&SessionCallbacks{
		OnTypingChanged: func(_ *Session, contact string, state TypingState) {
			events = append(events, state)
		},
	})

	s.setTypingState("pal", TypingActive)
	s.setTypingState("pal", TypingActive) // duplicate, no event
	s.setTypingState("pal", TypingTyped)
	s.setTypingState("pal", TypingIdle)
	s.setTypingState("pal", TypingIdle) // duplicate, no event

	want := []TypingState{TypingActive, TypingTyped, TypingIdle}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(events), events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: got %v, want %v", i, events[i], want[i])
		}
	}
	if s.TypingStateOf("pal") != TypingIdle {
		t.Errorf("final state: got %v", s.TypingStateOf("pal"))
	}
}

// TestMessageResetsTypingState: receiving a message implies the peer
// stopped typing.
func TestMessageResetsTypingState(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnBOS)
	s.setTypingState("pal", TypingActive)

	block, _ := encodeMessageBlock("hi")
	snac := buildInboundICBM("pal", ICBM_CHANNEL_TEXT,
		[]TLV{{Type: ICBM_TLV_MESSAGE, Value: block}})
	s.handleInboundICBM(conn, snac)

	if s.TypingStateOf("pal") != TypingIdle {
		t.Errorf("typing state after message: got %v", s.TypingStateOf("pal"))
	}
}

func TestSendMessageTooLarge(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	newTestConn(s, ConnBOS)

	big := make([]byte, OSCAR_MAX_MESSAGE_SIZE+1)
	for i := range big {
		big[i] = 'a'
	}
	if _, err := s.SendMessage("pal", string(big)); err != ErrMessageTooLarge {
		t.Errorf("got %v, want ErrMessageTooLarge", err)
	}
}

func TestSendMessageWire(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	_, ft := newTestConn(s, ConnBOS)

	id, err := s.SendMessage("pal", "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id == (MessageID{}) {
		t.Error("cookie is zero")
	}

	snacs := ft.sentSNACs()
	if len(snacs) != 1 {
		t.Fatalf("got %d SNACs, want 1", len(snacs))
	}
	snac := snacs[0]
	if snac.Foodgroup != FAMILY_ICBM || snac.Subtype != ICBM_TO_HOST {
		t.Fatalf("identity: got %04x/%04x", snac.Foodgroup, snac.Subtype)
	}

	stream := NewStream(snac.Data)
	cookie, _ := stream.ReadCookie()
	if cookie != [OSCAR_COOKIE_LEN]byte(id) {
		t.Error("wire cookie differs from returned MessageID")
	}
	if channel, _ := stream.ReadUint16(); channel != ICBM_CHANNEL_TEXT {
		t.Errorf("channel: got %d", channel)
	}
	if target, _ := stream.ReadLenPrefixedString(); target != "pal" {
		t.Errorf("target: got %q", target)
	}
}

func TestChannel4AuthRequest(t *testing.T) {
	var authFrom, authReason string
	var extended []ExtendedMessage
	s := newTestSession(&SessionCallbacks{
		OnAuthorizationRequested: func(_ *Session, contact, reason string) {
			authFrom, authReason = contact, reason
		},
		OnExtendedMessage: func(_ *Session, msg ExtendedMessage) {
			extended = append(extended, msg)
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	data := NewStream(nil)
	_, _ = data.Write([]byte{0x39, 0x30, 0x00, 0x00}) // UIN, little-endian
	_ = data.WriteByte(EXT_MSG_AUTH_REQ)
	_ = data.WriteByte(0x00)
	_, _ = data.Write([]byte{0x00, 0x00}) // length, little-endian
	_, _ = data.Write([]byte("Nick\xfeplease add me\x00"))

	snac := buildInboundICBM("12345", ICBM_CHANNEL_EXTENDED,
		[]TLV{{Type: ICBM_TLV_EXT_DATA, Value: data.Bytes()}})
	s.handleInboundICBM(conn, snac)

	if authFrom != "12345" {
		t.Errorf("auth from: got %q", authFrom)
	}
	if authReason != "please add me" {
		t.Errorf("auth reason: got %q", authReason)
	}
	if len(extended) != 1 || extended[0].Kind != ExtAuthRequest {
		t.Fatalf("extended events: got %+v", extended)
	}
}

func TestUnknownChannel4TypeSurfaces(t *testing.T) {
	var extended []ExtendedMessage
	s := newTestSession(&SessionCallbacks{
		OnExtendedMessage: func(_ *Session, msg ExtendedMessage) {
			extended = append(extended, msg)
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	data := NewStream(nil)
	_, _ = data.Write([]byte{0x39, 0x30, 0x00, 0x00})
	_ = data.WriteByte(0xee) // unknown type
	_ = data.WriteByte(0x00)
	_, _ = data.Write([]byte{0x00, 0x00})
	_, _ = data.Write([]byte("payload"))

	snac := buildInboundICBM("12345", ICBM_CHANNEL_EXTENDED,
		[]TLV{{Type: ICBM_TLV_EXT_DATA, Value: data.Bytes()}})
	s.handleInboundICBM(conn, snac)

	if len(extended) != 1 || extended[0].Kind != ExtUnknown {
		t.Fatalf("expected one ExtUnknown event, got %+v", extended)
	}
}
