package go_oscar

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"
)

// ICBM message channel
//
// Instant messages travel on three channels of the ICBM foodgroup:
// channel 1 carries direct text, channel 2 carries rendezvous
// proposals, channel 4 carries the extended ("old-style") sub-protocol
// used for offline and system messages. All three share the cookie +
// channel + screen-name preamble.
//
// Text is negotiated through three encoding tiers: pure ASCII stays
// ASCII, anything representable in ISO-8859-1 uses the Latin-1 flag,
// everything else is sent as UCS-2BE with the "Unicode" flag. The
// receiver performs the inverse conversion from the flag and never
// fails the whole dispatch on a bad body: an undecodable message is
// replaced by a placeholder so the event still reaches the user.

// decodeFailedPlaceholder stands in for a message body whose declared
// encoding could not be decoded.
const decodeFailedPlaceholder = "[message could not be decoded]"

// TypingState is the per-peer typing notification state:
// Idle -> Typing -> Typed -> Idle. Transitions are idempotent so
// duplicate frames do not re-trigger UI events.
type TypingState int

const (
	TypingIdle TypingState = iota
	TypingActive
	TypingTyped
)

func (t TypingState) String() string {
	switch t {
	case TypingActive:
		return "typing"
	case TypingTyped:
		return "typed"
	default:
		return "idle"
	}
}

// MessageID identifies an outbound message by its ICBM cookie.
type MessageID [OSCAR_COOKIE_LEN]byte

// newCookie derives a fresh 8-byte ICBM cookie from a random UUID.
func newCookie() (cookie [OSCAR_COOKIE_LEN]byte) {
	id := uuid.New()
	copy(cookie[:], id[:OSCAR_COOKIE_LEN])
	return cookie
}

// CheckEncoding picks the smallest charset tier that can represent the
// body: ASCII, then ISO-8859-1, then UCS-2BE.
func CheckEncoding(body string) uint16 {
	ascii := true
	latin1 := true
	for _, r := range body {
		if r > 0x7f {
			ascii = false
		}
		if r > 0xff {
			latin1 = false
			break
		}
	}
	switch {
	case ascii:
		return ICBM_CHARSET_ASCII
	case latin1:
		return ICBM_CHARSET_LATIN1
	default:
		return ICBM_CHARSET_UNICODE
	}
}

// encodeMessageText converts the body to the wire bytes for the given
// charset flag.
func encodeMessageText(body string, charset uint16) ([]byte, error) {
	switch charset {
	case ICBM_CHARSET_ASCII:
		return []byte(body), nil
	case ICBM_CHARSET_LATIN1:
		return charmap.ISO8859_1.NewEncoder().Bytes([]byte(body))
	case ICBM_CHARSET_UNICODE:
		units := utf16.Encode([]rune(body))
		out := make([]byte, 0, len(units)*2)
		for _, u := range units {
			out = append(out, byte(u>>8), byte(u))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("oscar: unknown charset flag 0x%04x", charset)
	}
}

// decodeMessageText converts wire bytes back to a string per the
// charset flag. An absent flag defaults to ASCII. Decode failures
// return the placeholder, never an error: one garbled message must not
// kill the dispatch.
func decodeMessageText(data []byte, charset uint16) string {
	switch charset {
	case ICBM_CHARSET_ASCII:
		return string(data)
	case ICBM_CHARSET_LATIN1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return decodeFailedPlaceholder
		}
		return string(out)
	case ICBM_CHARSET_UNICODE:
		if len(data)%2 != 0 {
			return decodeFailedPlaceholder
		}
		units := make([]uint16, len(data)/2)
		for i := range units {
			units[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
		}
		return string(utf16.Decode(units))
	default:
		return decodeFailedPlaceholder
	}
}

// Message fragment IDs inside the channel-1 message TLV.
const (
	fragCapabilities uint8 = 0x05
	fragMessageText  uint8 = 0x01
)

// encodeMessageBlock builds the channel-1 message TLV value: a
// capabilities fragment followed by the text fragment carrying the
// charset flag.
func encodeMessageBlock(body string) ([]byte, error) {
	charset := CheckEncoding(body)
	text, err := encodeMessageText(body, charset)
	if err != nil {
		return nil, err
	}

	block := NewStream(nil)
	// Capabilities fragment: id, version, length, then the single
	// "text" capability byte.
	_ = block.WriteByte(fragCapabilities)
	_ = block.WriteByte(0x01)
	_ = block.WriteUint16(1)
	_ = block.WriteByte(0x01)
	// Text fragment: charset, charsubset, then the encoded body.
	_ = block.WriteByte(fragMessageText)
	_ = block.WriteByte(0x01)
	_ = block.WriteUint16(uint16(len(text) + 4))
	_ = block.WriteUint16(charset)
	_ = block.WriteUint16(0) // charset subset
	_, _ = block.Write(text)
	return block.Bytes(), nil
}

// decodeMessageBlock walks the fragment list and decodes the text
// fragment; unknown fragments are skipped.
func decodeMessageBlock(data []byte) (string, error) {
	stream := NewStream(data)
	for stream.Len() >= 4 {
		fragID, _ := stream.ReadByte()
		if _, err := stream.ReadByte(); err != nil { // fragment version
			return "", err
		}
		fragLen, err := stream.ReadUint16()
		if err != nil {
			return "", err
		}
		payload, err := stream.ReadBytes2(int(fragLen))
		if err != nil {
			return "", err
		}
		if fragID != fragMessageText {
			continue
		}
		if len(payload) < 4 {
			return "", fmt.Errorf("oscar: text fragment too short")
		}
		charset := uint16(payload[0])<<8 | uint16(payload[1])
		return decodeMessageText(payload[4:], charset), nil
	}
	// No text fragment at all: treat as empty ASCII body rather than
	// failing the dispatch.
	return "", nil
}

// SendMessage sends a channel-1 instant message and returns its cookie.
func (s *Session) SendMessage(target, body string) (MessageID, error) {
	return s.sendText(target, body, false)
}

// SendOfflineMessage sends a channel-1 message flagged for server-side
// offline storage when the target is not signed on.
func (s *Session) SendOfflineMessage(target, body string) (MessageID, error) {
	return s.sendText(target, body, true)
}

func (s *Session) sendText(target, body string, offlineCapable bool) (MessageID, error) {
	var id MessageID
	if err := s.ensureInitialized(); err != nil {
		return id, err
	}
	conn, err := s.bosConn()
	if err != nil {
		return id, err
	}
	if len(body) > OSCAR_MAX_MESSAGE_SIZE {
		return id, ErrMessageTooLarge
	}

	block, err := encodeMessageBlock(body)
	if err != nil {
		return id, err
	}

	cookie := newCookie()
	payload := NewStream(nil)
	_ = payload.WriteCookie(cookie)
	_ = payload.WriteUint16(ICBM_CHANNEL_TEXT)
	_ = payload.WriteLenPrefixedString(target)
	if err := EncodeTLV(payload, TLV{Type: ICBM_TLV_MESSAGE, Value: block}); err != nil {
		return id, err
	}
	if offlineCapable {
		if err := EncodeTLV(payload, TLV{Type: ICBM_TLV_STORE_OFFLINE, Value: nil}); err != nil {
			return id, err
		}
	}

	snac := NewSNAC(FAMILY_ICBM, ICBM_TO_HOST, s.nextRequestID(), payload.Bytes())
	if err := conn.SendSNAC(snac); err != nil {
		return id, err
	}
	return MessageID(cookie), nil
}

// handleInboundICBM distinguishes the three channels of an inbound
// 0x04/0x07 and routes each to its decoder.
func (s *Session) handleInboundICBM(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	cookie, err := stream.ReadCookie()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated ICBM preamble"})
		return
	}
	channel, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated ICBM channel"})
		return
	}
	from, err := stream.ReadLenPrefixedString()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated ICBM sender"})
		return
	}
	// warning level and fixed TLV count precede the TLV list
	if _, err := stream.ReadUint16(); err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated ICBM warning level"})
		return
	}
	fixedCount, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated ICBM TLV count"})
		return
	}
	// The fixed TLVs describe the sender (class, online time, idle);
	// they update the presence cache like a miniature arrival frame.
	fixed, err := DecodeTLVsCounted(stream, int(fixedCount))
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad ICBM sender TLVs"})
		return
	}
	s.touchBuddyFromTLVs(from, fixed)

	tlvs, err := DecodeTLVs(stream)
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad ICBM payload TLVs"})
		return
	}

	switch channel {
	case ICBM_CHANNEL_TEXT:
		s.handleChannel1(from, tlvs)
	case ICBM_CHANNEL_RENDEZVOUS:
		s.handleChannel2(from, cookie, tlvs)
	case ICBM_CHANNEL_EXTENDED:
		s.handleChannel4(from, tlvs)
	default:
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: fmt.Sprintf("unknown ICBM channel %d", channel)})
	}
}

// handleChannel1 decodes a direct text message and its side-band flags:
// auto-response, and the buddy-icon hint that may trigger a deferred
// icon fetch.
func (s *Session) handleChannel1(from string, tlvs []TLV) {
	msgTlv := FindTLV(tlvs, ICBM_TLV_MESSAGE)
	if msgTlv == nil {
		Debug("channel-1 ICBM from %s without message TLV, dropping", from)
		return
	}
	body, err := decodeMessageBlock(msgTlv.Value)
	if err != nil {
		Warning("channel-1 ICBM from %s undecodable: %v", from, err)
		body = decodeFailedPlaceholder
	}

	msg := Message{
		From:         from,
		Body:         body,
		AutoResponse: FindTLV(tlvs, ICBM_TLV_AUTO_RESPONSE) != nil,
	}

	// An icon-info TLV advertises that the sender's buddy icon
	// changed; schedule a fetch only when checksum or timestamp differ
	// from what the cache last saw.
	if iconTlv := FindTLV(tlvs, ICBM_TLV_ICON_INFO); iconTlv != nil {
		s.considerIconFetch(from, iconTlv.Value)
	}

	// A message implies the peer stopped typing.
	s.setTypingState(from, TypingIdle)

	if s.metrics != nil {
		s.metrics.IncrementMessageReceived(ICBM_CHANNEL_TEXT)
	}
	if s.callbacks != nil && s.callbacks.OnMessageReceived != nil {
		s.callbacks.OnMessageReceived(s, msg)
	}
}

// handleChannel4 parses the extended sub-protocol: a little-endian UIN,
// a type byte, a flags byte, and a 0xFE-delimited field list. Unknown
// types surface as ExtUnknown events rather than being dropped, to aid
// forward compatibility.
func (s *Session) handleChannel4(from string, tlvs []TLV) {
	dataTlv := FindTLV(tlvs, ICBM_TLV_EXT_DATA)
	if dataTlv == nil || len(dataTlv.Value) < 8 {
		Debug("channel-4 ICBM from %s without data TLV, dropping", from)
		return
	}
	v := dataTlv.Value
	// uin u32 LE (4), type u8, flags u8, length u16 LE
	msgType := v[4]
	raw := v[8:]
	text := strings.TrimRight(string(raw), "\x00")
	fields := strings.Split(text, "\xfe")

	msg := ExtendedMessage{From: from, Type: msgType, Fields: fields}
	switch msgType {
	case EXT_MSG_PLAIN:
		msg.Kind = ExtStatusReply
	case EXT_MSG_URL:
		msg.Kind = ExtURLShare
	case EXT_MSG_AUTH_REQ:
		msg.Kind = ExtAuthRequest
		reason := ""
		if len(fields) > 0 {
			reason = fields[len(fields)-1]
		}
		if s.callbacks != nil && s.callbacks.OnAuthorizationRequested != nil {
			s.callbacks.OnAuthorizationRequested(s, from, reason)
		}
	case EXT_MSG_AUTH_GRANT:
		msg.Kind = ExtAuthGrant
		s.ssi.authorizationGranted(from)
	case EXT_MSG_AUTH_DENY:
		msg.Kind = ExtAuthDeny
		reason := ""
		if len(fields) > 0 {
			reason = fields[0]
		}
		s.ssi.authorizationDenied(from, reason)
	case EXT_MSG_CONTACTS:
		msg.Kind = ExtContactCard
	case EXT_MSG_SERVER:
		msg.Kind = ExtServerBroadcast
	default:
		msg.Kind = ExtUnknown
		Debug("channel-4 ICBM from %s with unknown type 0x%02x", from, msgType)
	}

	if s.metrics != nil {
		s.metrics.IncrementMessageReceived(ICBM_CHANNEL_EXTENDED)
	}
	if s.callbacks != nil && s.callbacks.OnExtendedMessage != nil {
		s.callbacks.OnExtendedMessage(s, msg)
	}
}

// SetTyping sends a typing notification for the given conversation.
func (s *Session) SetTyping(target string, state TypingState) error {
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	var code uint16
	switch state {
	case TypingActive:
		code = ICBM_EVENT_TYPING
	case TypingTyped:
		code = ICBM_EVENT_TYPED
	default:
		code = ICBM_EVENT_FINISHED
	}
	payload := NewStream(nil)
	_ = payload.WriteCookie([OSCAR_COOKIE_LEN]byte{})
	_ = payload.WriteUint16(ICBM_CHANNEL_TEXT)
	_ = payload.WriteLenPrefixedString(target)
	_ = payload.WriteUint16(code)
	return conn.SendSNAC(NewSNAC(FAMILY_ICBM, ICBM_CLIENT_EVENT, s.nextRequestID(), payload.Bytes()))
}

// handleTypingEvent drives the per-peer typing state machine from
// inbound notification frames.
func (s *Session) handleTypingEvent(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	if _, err := stream.ReadCookie(); err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated typing event"})
		return
	}
	if _, err := stream.ReadUint16(); err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated typing event"})
		return
	}
	from, err := stream.ReadLenPrefixedString()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated typing event"})
		return
	}
	code, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated typing event"})
		return
	}

	var state TypingState
	switch code {
	case ICBM_EVENT_TYPING:
		state = TypingActive
	case ICBM_EVENT_TYPED:
		state = TypingTyped
	case ICBM_EVENT_FINISHED:
		state = TypingIdle
	default:
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: fmt.Sprintf("unknown typing code 0x%04x", code)})
		return
	}
	s.setTypingState(from, state)
}

// setTypingState applies a typing transition idempotently: a duplicate
// state never re-fires the callback.
func (s *Session) setTypingState(contact string, state TypingState) {
	s.mu.Lock()
	prev := s.typing[contact]
	if prev == state {
		s.mu.Unlock()
		return
	}
	s.typing[contact] = state
	s.mu.Unlock()
	if s.callbacks != nil && s.callbacks.OnTypingChanged != nil {
		s.callbacks.OnTypingChanged(s, contact, state)
	}
}

// TypingStateOf returns the cached typing state for a contact.
func (s *Session) TypingStateOf(contact string) TypingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing[contact]
}

// handleMissedCalls reports messages the server dropped before
// delivery, usually for rate or size reasons.
func (s *Session) handleMissedCalls(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		if _, err := stream.ReadUint16(); err != nil { // channel
			return
		}
		from, err := stream.ReadLenPrefixedString()
		if err != nil {
			return
		}
		if _, err := stream.ReadUint16(); err != nil { // warning level
			return
		}
		count, err := stream.ReadUint16()
		if err != nil {
			return
		}
		reason, err := stream.ReadUint16()
		if err != nil {
			return
		}
		Warning("missed %d message(s) from %s (reason 0x%04x)", count, from, reason)
		s.emitProtocolError("missed-messages", fmt.Sprintf("%d from %s", count, from))
	}
}

// handleIcbmHostAck acknowledges a sent message; only logged, the
// library does not retry ICBMs.
func (s *Session) handleIcbmHostAck(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	cookie, err := stream.ReadCookie()
	if err != nil {
		return
	}
	Debug("server acked message %x", cookie)
}

// handleIcbmError surfaces a per-message delivery failure without
// touching the connection.
func (s *Session) handleIcbmError(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	code, err := stream.ReadUint16()
	if err != nil {
		return
	}
	Warning("ICBM error 0x%04x", code)
	s.emitProtocolError("icbm-error", fmt.Sprintf("code 0x%04x", code))
}

// directMessageReceived delivers text that arrived over an established
// direct-IM rendezvous socket.
func (s *Session) directMessageReceived(from string, body []byte) {
	text := string(bytes.TrimRight(body, "\x00"))
	if s.callbacks != nil && s.callbacks.OnMessageReceived != nil {
		s.callbacks.OnMessageReceived(s, Message{From: from, Body: text, Direct: true})
	}
}
