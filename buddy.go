package go_oscar

import (
	"bytes"
	"context"
	"strings"
	"time"
)

// Buddy presence tracking
//
// Arrival and departure frames carry a user-info block: screen name,
// warning level, and a counted TLV list describing class flags, sign-on
// time, idle time, capabilities, and buddy-icon metadata. The session
// keeps one BuddyInfo per contact, keyed by normalized screen name, and
// raises OnPresenceChanged whenever a contact crosses the online
// boundary or materially changes while online.

// BuddyInfo is the cached presence record for one contact.
type BuddyInfo struct {
	ScreenName   string
	WarningLevel uint16
	UserClass    uint16
	OnlineSince  time.Time
	IdleMinutes  uint16
	Away         bool
	Online       bool
	Capabilities [][16]byte

	// Icon metadata advertised by the peer, used to gate fetches: a
	// fetch happens only when checksum or timestamp differ from what
	// was last seen.
	IconChecksum  []byte
	IconTimestamp uint32
}

// HasCapability reports whether the contact advertised the capability.
func (b *BuddyInfo) HasCapability(cap [16]byte) bool {
	for _, c := range b.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// TypingCapable reports whether the contact advertised typing
// notification support; SetTyping to a contact without it is wasted.
func (b *BuddyInfo) TypingCapable() bool {
	return b.HasCapability(CAP_TYPING)
}

// NormalizeScreenName canonicalizes a screen name for map keys and
// comparisons: case-insensitive with spaces removed.
func NormalizeScreenName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

// parseUserInfo reads one user-info block from the stream: length-
// prefixed screen name, warning level, TLV count, then exactly that
// many TLVs.
func parseUserInfo(stream *Stream) (string, uint16, []TLV, error) {
	name, err := stream.ReadLenPrefixedString()
	if err != nil {
		return "", 0, nil, err
	}
	warning, err := stream.ReadUint16()
	if err != nil {
		return "", 0, nil, err
	}
	count, err := stream.ReadUint16()
	if err != nil {
		return "", 0, nil, err
	}
	tlvs, err := DecodeTLVsCounted(stream, int(count))
	if err != nil {
		return "", 0, nil, err
	}
	return name, warning, tlvs, nil
}

// applyUserInfoTLVs folds a user-info TLV list into the record.
func applyUserInfoTLVs(info *BuddyInfo, tlvs []TLV) {
	for i := range tlvs {
		tlv := &tlvs[i]
		switch tlv.Type {
		case USERINFO_TLV_CLASS:
			if class, err := tlv.Uint16(); err == nil {
				info.UserClass = class
				info.Away = class&USER_CLASS_AWAY != 0
			}
		case USERINFO_TLV_SIGNON_TIME:
			if secs, err := tlv.Uint32(); err == nil {
				info.OnlineSince = time.Unix(int64(secs), 0)
			}
		case USERINFO_TLV_IDLE_TIME:
			if idle, err := tlv.Uint16(); err == nil {
				info.IdleMinutes = idle
			}
		case USERINFO_TLV_CAPABILITIES:
			info.Capabilities = info.Capabilities[:0]
			for off := 0; off+16 <= len(tlv.Value); off += 16 {
				var cap [16]byte
				copy(cap[:], tlv.Value[off:off+16])
				info.Capabilities = append(info.Capabilities, cap)
			}
		case USERINFO_TLV_ICON:
			applyIconInfo(info, tlv.Value)
		}
	}
}

// applyIconInfo parses a BART item list from TLV 0x001d: each item is
// asset type u16, flags u8, then a length-prefixed opaque blob that
// for icons holds the MD5 checksum.
func applyIconInfo(info *BuddyInfo, value []byte) {
	stream := NewStream(value)
	for stream.Len() >= 4 {
		assetType, err := stream.ReadUint16()
		if err != nil {
			return
		}
		if _, err := stream.ReadByte(); err != nil { // flags
			return
		}
		blob, err := stream.ReadLenPrefixedString()
		if err != nil {
			return
		}
		if assetType == BART_TYPE_BUDDY_ICON {
			info.IconChecksum = []byte(blob)
		}
	}
}

// buddy returns (creating if needed) the cached record for a contact.
// Caller holds s.mu.
func (s *Session) buddy(name string) *BuddyInfo {
	key := NormalizeScreenName(name)
	info, ok := s.buddies[key]
	if !ok {
		info = &BuddyInfo{ScreenName: name}
		s.buddies[key] = info
	}
	return info
}

// Buddy returns a copy of the cached presence record for a contact, or
// nil when the contact has never been seen.
func (s *Session) Buddy(name string) *BuddyInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.buddies[NormalizeScreenName(name)]
	if !ok {
		return nil
	}
	cp := *info
	return &cp
}

// handleBuddyArrived processes one or more arrival user-info blocks.
func (s *Session) handleBuddyArrived(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		name, warning, tlvs, err := parseUserInfo(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad arrival user-info block"})
			return
		}
		s.mu.Lock()
		info := s.buddy(name)
		wasOnline := info.Online
		info.ScreenName = name
		info.WarningLevel = warning
		info.Online = true
		applyUserInfoTLVs(info, tlvs)
		cp := *info
		s.mu.Unlock()

		logTagged(TAG_PROTOCOL, "buddy %s arrived (class 0x%04x, idle %dm)",
			name, cp.UserClass, cp.IdleMinutes)
		if s.callbacks != nil && s.callbacks.OnPresenceChanged != nil && !wasOnline {
			s.callbacks.OnPresenceChanged(s, &cp, true)
		}
	}
}

// handleBuddyDeparted processes departure blocks, which carry only the
// name and warning level plus an often-empty TLV list.
func (s *Session) handleBuddyDeparted(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		name, _, _, err := parseUserInfo(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad departure user-info block"})
			return
		}
		s.mu.Lock()
		info := s.buddy(name)
		wasOnline := info.Online
		info.Online = false
		info.IdleMinutes = 0
		info.Away = false
		cp := *info
		s.mu.Unlock()

		logTagged(TAG_PROTOCOL, "buddy %s departed", name)
		if s.callbacks != nil && s.callbacks.OnPresenceChanged != nil && wasOnline {
			s.callbacks.OnPresenceChanged(s, &cp, false)
		}
	}
}

// touchBuddyFromTLVs applies sender TLVs from an inbound ICBM to the
// presence cache without flipping online state or firing callbacks.
func (s *Session) touchBuddyFromTLVs(name string, tlvs []TLV) {
	if len(tlvs) == 0 {
		return
	}
	s.mu.Lock()
	applyUserInfoTLVs(s.buddy(name), tlvs)
	s.mu.Unlock()
}

// considerIconFetch compares advertised icon metadata against the
// cache and fetches via the BART service when it changed. Fetches are
// throttled so a storm of icon hints cannot flood the BART connection.
func (s *Session) considerIconFetch(name string, iconInfo []byte) {
	if len(iconInfo) < 8 {
		return
	}
	stream := NewStream(iconInfo)
	timestamp, err := stream.ReadUint32()
	if err != nil {
		return
	}
	checksum := stream.Bytes()

	s.mu.Lock()
	info := s.buddy(name)
	unchanged := info.IconTimestamp == timestamp && bytes.Equal(info.IconChecksum, checksum)
	if !unchanged {
		info.IconTimestamp = timestamp
		info.IconChecksum = append(info.IconChecksum[:0], checksum...)
	}
	s.mu.Unlock()

	if unchanged {
		return
	}
	if !s.iconLimiter.Allow() {
		Debug("icon fetch for %s skipped, throttled", name)
		return
	}
	if err := s.RequestBuddyIcon(name, checksum); err != nil {
		Debug("icon fetch for %s failed: %v", name, err)
	}
}

// RequestBuddyIcon asks the BART service for a contact's icon by
// checksum, requesting the BART redirect first if that connection is
// not up yet.
func (s *Session) RequestBuddyIcon(name string, checksum []byte) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	bart := s.connByKind(ConnBART)
	if bart == nil {
		return s.requestService(FAMILY_BART, &pendingService{
			foodgroup: FAMILY_BART,
			kind:      ConnBART,
		})
	}

	payload := NewStream(nil)
	if err := payload.WriteLenPrefixedString(name); err != nil {
		return err
	}
	_ = payload.WriteByte(1) // one item follows
	_ = payload.WriteUint16(BART_TYPE_BUDDY_ICON)
	_ = payload.WriteByte(0x01)
	_ = payload.WriteByte(byte(len(checksum)))
	_, _ = payload.Write(checksum)
	return bart.SendSNAC(NewSNAC(FAMILY_BART, BART_DOWNLOAD, s.nextRequestID(), payload.Bytes()))
}

// handleBartDownloadReply caches the fetched icon bytes on the buddy
// record. The blob is delivered raw to keep the library image-format
// agnostic.
func (s *Session) handleBartDownloadReply(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	name, err := stream.ReadLenPrefixedString()
	if err != nil {
		return
	}
	if _, err := stream.ReadUint16(); err != nil { // asset type
		return
	}
	if _, err := stream.ReadByte(); err != nil { // flags
		return
	}
	if _, err := stream.ReadLenPrefixedString(); err != nil { // checksum echo
		return
	}
	iconLen, err := stream.ReadUint16()
	if err != nil {
		return
	}
	icon, err := stream.ReadBytes2(int(iconLen))
	if err != nil {
		return
	}

	s.mu.Lock()
	info := s.buddy(name)
	cp := *info
	s.mu.Unlock()

	Debug("fetched %d-byte icon for %s", len(icon), name)
	if s.callbacks != nil && s.callbacks.OnPresenceChanged != nil && cp.Online {
		s.callbacks.OnPresenceChanged(s, &cp, true)
	}
}

// WaitForBuddy blocks until the contact appears online or the context
// expires. Convenience for collaborators that gate an action on
// presence.
func (s *Session) WaitForBuddy(ctx context.Context, name string) (*BuddyInfo, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if info := s.Buddy(name); info != nil && info.Online {
			return info, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
