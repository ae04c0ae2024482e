package go_oscar

import "fmt"

// Chat rooms
//
// Joining a room is a three-connection dance: ask BOS for a chat-nav
// redirect, ask chat-nav to create (or locate) the room, then ask BOS
// for a chat-service redirect carrying the room cookie chat-nav
// returned. The chat connection itself speaks the chat foodgroup and
// one session may hold several of them, one per room.

// chatJoin is a queued room join waiting for the chat-nav connection.
type chatJoin struct {
	roomName string
	exchange uint16
}

// defaultChatExchange is the public AIM chat exchange.
const defaultChatExchange uint16 = 4

// JoinChatRoom joins (creating if necessary) a named room on the given
// exchange; exchange 0 selects the default public exchange. The join
// completes asynchronously: OnChatUserJoined fires with the session's
// own screen name once the room connection is ready.
func (s *Session) JoinChatRoom(roomName string, exchange uint16) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	if exchange == 0 {
		exchange = defaultChatExchange
	}
	s.mu.Lock()
	if _, joined := s.chatRooms[roomName]; joined {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	nav := s.connByKind(ConnChatNav)
	if nav == nil {
		s.mu.Lock()
		s.pendingChatJoins = append(s.pendingChatJoins, chatJoin{roomName: roomName, exchange: exchange})
		s.mu.Unlock()
		return s.requestService(FAMILY_CHAT_NAV, &pendingService{
			foodgroup: FAMILY_CHAT_NAV,
			kind:      ConnChatNav,
		})
	}
	return s.sendChatRoomCreate(nav, roomName, exchange)
}

// flushPendingChatJoins sends the queued room creations once chat-nav
// comes up.
func (s *Session) flushPendingChatJoins(nav *Connection) {
	s.mu.Lock()
	joins := s.pendingChatJoins
	s.pendingChatJoins = nil
	s.mu.Unlock()
	for _, j := range joins {
		if err := s.sendChatRoomCreate(nav, j.roomName, j.exchange); err != nil {
			Warning("chat join %q: %v", j.roomName, err)
		}
	}
}

// sendChatRoomCreate asks chat-nav for the room, which either creates
// it or returns the existing instance.
func (s *Session) sendChatRoomCreate(nav *Connection, roomName string, exchange uint16) error {
	payload := NewStream(nil)
	_ = payload.WriteUint16(exchange)
	// "create" is the literal cookie for a new room request
	if err := payload.WriteLenPrefixedString("create"); err != nil {
		return err
	}
	_ = payload.WriteUint16(0xffff) // instance: any
	_ = payload.WriteByte(0x01)     // detail level
	_ = payload.WriteUint16(0x0003) // TLV count
	if err := EncodeTLVString(payload, 0x00d3, roomName); err != nil {
		return err
	}
	if err := EncodeTLVString(payload, 0x00d6, "us-ascii"); err != nil {
		return err
	}
	if err := EncodeTLVString(payload, 0x00d7, "en"); err != nil {
		return err
	}
	return nav.SendSNAC(NewSNAC(FAMILY_CHAT_NAV, CHAT_NAV_CREATE_ROOM, s.nextRequestID(), payload.Bytes()))
}

// handleChatNavReply parses the room info out of a chat-nav reply and
// requests the chat-service redirect for it.
func (s *Session) handleChatNavReply(conn *Connection, snac *SNAC) {
	tlvs, err := DecodeTLVs(NewStream(snac.Data))
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad chat-nav reply"})
		return
	}
	roomTlv := FindTLV(tlvs, CHAT_NAV_ROOM_INFO)
	if roomTlv == nil {
		// rights replies and other chat-nav traffic share the subtype
		return
	}

	stream := NewStream(roomTlv.Value)
	exchange, err := stream.ReadUint16()
	if err != nil {
		return
	}
	cookie, err := stream.ReadLenPrefixedString()
	if err != nil {
		return
	}
	if _, err := stream.ReadUint16(); err != nil { // instance
		return
	}
	roomName := ""
	if _, err := stream.ReadByte(); err == nil { // detail level
		if count, err := stream.ReadUint16(); err == nil {
			if detail, err := DecodeTLVsCounted(stream, int(count)); err == nil {
				if t := FindTLV(detail, 0x00d3); t != nil {
					roomName = t.String()
				}
			}
		}
	}
	if roomName == "" {
		roomName = cookie
	}

	logTagged(TAG_PROTOCOL, "chat-nav resolved room %q on exchange %d", roomName, exchange)
	if err := s.requestService(FAMILY_CHAT, &pendingService{
		foodgroup:  FAMILY_CHAT,
		kind:       ConnChat,
		roomName:   roomName,
		exchange:   exchange,
		roomCookie: []byte(cookie),
	}); err != nil {
		Warning("chat service request for %q: %v", roomName, err)
	}
}

// SendChatMessage sends text to a joined room.
func (s *Session) SendChatMessage(roomName, body string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.chatRooms[roomName]
	s.mu.Unlock()
	if conn == nil {
		return ErrUnknownChatRoom
	}
	if len(body) > OSCAR_MAX_MESSAGE_SIZE {
		return ErrMessageTooLarge
	}

	charset := CheckEncoding(body)
	text, err := encodeMessageText(body, charset)
	if err != nil {
		return err
	}
	inner := NewStream(nil)
	if err := EncodeTLVString(inner, 0x0002, charsetName(charset)); err != nil {
		return err
	}
	if err := EncodeTLV(inner, TLV{Type: 0x0001, Value: text}); err != nil {
		return err
	}

	payload := NewStream(nil)
	_ = payload.WriteCookie(newCookie())
	_ = payload.WriteUint16(0x0003) // room channel
	if err := EncodeTLV(payload, TLV{Type: 0x0001, Value: nil}); err != nil { // reflect to sender
		return err
	}
	if err := EncodeTLV(payload, TLV{Type: 0x0005, Value: inner.Bytes()}); err != nil {
		return err
	}
	return conn.SendSNAC(NewSNAC(FAMILY_CHAT, CHAT_MSG_TO_HOST, s.nextRequestID(), payload.Bytes()))
}

// charsetName maps a charset flag to its MIME label for the chat
// message block.
func charsetName(charset uint16) string {
	switch charset {
	case ICBM_CHARSET_UNICODE:
		return "unicode-2-0"
	case ICBM_CHARSET_LATIN1:
		return "iso-8859-1"
	default:
		return "us-ascii"
	}
}

// charsetFlag is the inverse of charsetName, tolerant of case.
func charsetFlag(name string) uint16 {
	switch name {
	case "unicode-2-0", "UNICODE-2-0":
		return ICBM_CHARSET_UNICODE
	case "iso-8859-1", "ISO-8859-1":
		return ICBM_CHARSET_LATIN1
	default:
		return ICBM_CHARSET_ASCII
	}
}

// LeaveChatRoom disconnects from a joined room.
func (s *Session) LeaveChatRoom(roomName string) error {
	s.mu.Lock()
	conn := s.chatRooms[roomName]
	s.mu.Unlock()
	if conn == nil {
		return ErrUnknownChatRoom
	}
	s.teardownConnection(conn, fmt.Errorf("oscar: left room %q", roomName))
	return nil
}

// handleChatUsersJoined processes occupant arrival user-info blocks.
func (s *Session) handleChatUsersJoined(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		name, _, _, err := parseUserInfo(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad chat occupant block"})
			return
		}
		if s.callbacks != nil && s.callbacks.OnChatUserJoined != nil {
			s.callbacks.OnChatUserJoined(s, conn.roomName, name)
		}
	}
}

// handleChatUsersLeft processes occupant departures.
func (s *Session) handleChatUsersLeft(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		name, _, _, err := parseUserInfo(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad chat occupant block"})
			return
		}
		if s.callbacks != nil && s.callbacks.OnChatUserLeft != nil {
			s.callbacks.OnChatUserLeft(s, conn.roomName, name)
		}
	}
}

// handleChatMessage decodes a room message: sender user-info in TLV
// 0x0003, message block in TLV 0x0005 with nested charset and text
// TLVs.
func (s *Session) handleChatMessage(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	if _, err := stream.ReadCookie(); err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated chat message"})
		return
	}
	if _, err := stream.ReadUint16(); err != nil { // channel
		return
	}
	tlvs, err := DecodeTLVs(stream)
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad chat message TLVs"})
		return
	}

	sender := ""
	if t := FindTLV(tlvs, 0x0003); t != nil {
		if name, _, _, err := parseUserInfo(NewStream(t.Value)); err == nil {
			sender = name
		}
	}
	msgTlv := FindTLV(tlvs, 0x0005)
	if msgTlv == nil {
		return
	}
	inner, err := DecodeTLVs(NewStream(msgTlv.Value))
	if err != nil {
		return
	}
	charset := ICBM_CHARSET_ASCII
	if t := FindTLV(inner, 0x0002); t != nil {
		charset = charsetFlag(t.String())
	}
	body := ""
	if t := FindTLV(inner, 0x0001); t != nil {
		body = decodeMessageText(t.Value, charset)
	}

	// Rooms echo the sender's own messages back; suppress those.
	if NormalizeScreenName(sender) == NormalizeScreenName(s.ScreenName()) {
		return
	}
	if s.callbacks != nil && s.callbacks.OnChatMessageReceived != nil {
		s.callbacks.OnChatMessageReceived(s, conn.roomName, sender, body)
	}
}
