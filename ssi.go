package go_oscar

import (
	"fmt"
	"time"
)

// Server-stored buddy list (feedbag)
//
// The feedbag is a flat set of items keyed by (class, groupID, itemID)
// with an attribute TLV blob. The server's copy is authoritative; the
// session checks it out at login with the cached timestamp and item
// count, reconciles it against any local list the collaborator loaded,
// and from then on mirrors every server-pushed change. Client
// mutations are speculative: each request carries a SNAC requestID and
// is only settled when its 0x13/0x0E ack arrives.

// orphansGroupName receives adopted buddies whose parent group is
// missing from the server list.
const orphansGroupName = "Orphans"

// SsiItem is one feedbag entry.
type SsiItem struct {
	Name    string
	GroupID uint16
	ItemID  uint16
	ClassID uint16
	Attrs   []TLV
}

// Alias returns the item's display alias attribute, or "".
func (it *SsiItem) Alias() string {
	if t := FindTLV(it.Attrs, FEEDBAG_ATTR_ALIAS); t != nil {
		return t.String()
	}
	return ""
}

// AwaitingAuth reports whether the buddy item still needs the
// contact's authorization.
func (it *SsiItem) AwaitingAuth() bool {
	return FindTLV(it.Attrs, FEEDBAG_ATTR_AWAITING_AUTH) != nil
}

func (it *SsiItem) key() ssiKey {
	return ssiKey{classID: it.ClassID, groupID: it.GroupID, itemID: it.ItemID}
}

type ssiKey struct {
	classID uint16
	groupID uint16
	itemID  uint16
}

// pendingSsiAction correlates an outstanding mutation with its ack.
type pendingSsiAction struct {
	action string
	name   string
	item   *SsiItem
	remove bool
	sent   time.Time
}

// ssiState is the session's view of the feedbag.
type ssiState struct {
	session *Session

	items map[ssiKey]*SsiItem
	// local holds the collaborator-supplied list awaiting reconcile.
	local []SsiItem

	lastModified uint32
	itemCount    uint16
	synced       bool

	// accumulating reply frames until the last-in-list flag
	partial []SsiItem

	pending map[uint32]*pendingSsiAction
	nextID  uint16
}

func newSsiState(s *Session) *ssiState {
	return &ssiState{
		session: s,
		items:   make(map[ssiKey]*SsiItem),
		pending: make(map[uint32]*pendingSsiAction),
		nextID:  1,
	}
}

// SeedLocalList supplies a locally persisted buddy list to reconcile
// against the server copy at the next checkout. Must be called before
// Connect.
func (s *Session) SeedLocalList(items []SsiItem, lastModified uint32) {
	s.mu.Lock()
	s.ssi.local = append(s.ssi.local[:0], items...)
	s.ssi.lastModified = lastModified
	s.ssi.itemCount = uint16(len(items))
	s.mu.Unlock()
}

// BuddyList returns a snapshot of the synced feedbag.
func (s *Session) BuddyList() []SsiItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SsiItem, 0, len(s.ssi.items))
	for _, it := range s.ssi.items {
		out = append(out, *it)
	}
	return out
}

// requestFeedbag checks out the server list, or just verifies the
// cached copy when a timestamp is known.
func (s *Session) requestFeedbag(conn *Connection) error {
	s.mu.Lock()
	ts, count := s.ssi.lastModified, s.ssi.itemCount
	s.mu.Unlock()
	if ts == 0 {
		return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_QUERY, s.nextRequestID(), nil))
	}
	payload := NewStream(nil)
	_ = payload.WriteUint32(ts)
	_ = payload.WriteUint16(count)
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_QUERY_IF_MOD, s.nextRequestID(), payload.Bytes()))
}

// decodeSsiItem reads one wire item: uint16-prefixed name, group ID,
// item ID, class, then a length-delimited attribute TLV blob.
func decodeSsiItem(stream *Stream) (SsiItem, error) {
	var it SsiItem
	name, err := stream.ReadLenPrefixedString16()
	if err != nil {
		return it, err
	}
	it.Name = name
	if it.GroupID, err = stream.ReadUint16(); err != nil {
		return it, err
	}
	if it.ItemID, err = stream.ReadUint16(); err != nil {
		return it, err
	}
	if it.ClassID, err = stream.ReadUint16(); err != nil {
		return it, err
	}
	attrLen, err := stream.ReadUint16()
	if err != nil {
		return it, err
	}
	blob, err := stream.ReadBytes2(int(attrLen))
	if err != nil {
		return it, err
	}
	if len(blob) > 0 {
		if it.Attrs, err = DecodeTLVs(NewStream(blob)); err != nil {
			return it, err
		}
	}
	return it, nil
}

// encodeSsiItem writes one item in wire form.
func encodeSsiItem(stream *Stream, it *SsiItem) error {
	if err := stream.WriteLenPrefixedString16(it.Name); err != nil {
		return err
	}
	_ = stream.WriteUint16(it.GroupID)
	_ = stream.WriteUint16(it.ItemID)
	_ = stream.WriteUint16(it.ClassID)
	attrs := NewStream(nil)
	for i := range it.Attrs {
		if err := EncodeTLV(attrs, it.Attrs[i]); err != nil {
			return err
		}
	}
	_ = stream.WriteUint16(uint16(attrs.Len()))
	_, _ = stream.Write(attrs.Bytes())
	return nil
}

// handleFeedbagReply accumulates list frames; bit 0 of the SNAC flags
// set means more frames follow.
func (s *Session) handleFeedbagReply(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	if _, err := stream.ReadByte(); err != nil { // protocol version
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "empty feedbag reply"})
		return
	}
	count, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated feedbag reply"})
		return
	}
	for i := 0; i < int(count); i++ {
		it, err := decodeSsiItem(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: fmt.Sprintf("bad feedbag item %d of %d", i, count)})
			return
		}
		s.ssi.partial = append(s.ssi.partial, it)
	}

	lastModified, _ := stream.ReadUint32()
	if snac.Flags&0x0001 != 0 {
		// more frames coming
		return
	}

	server := s.ssi.partial
	s.ssi.partial = nil
	s.mu.Lock()
	s.ssi.items = make(map[ssiKey]*SsiItem, len(server))
	for i := range server {
		it := server[i]
		s.ssi.items[it.key()] = &it
	}
	s.ssi.lastModified = lastModified
	s.ssi.itemCount = uint16(len(server))
	s.ssi.synced = true
	local := s.ssi.local
	s.ssi.local = nil
	s.mu.Unlock()

	logTagged(TAG_SSI, "feedbag checkout: %d items, modified %d", len(server), lastModified)
	s.reconcileAndPush(conn, server, local)
	s.activateFeedbag(conn)
}

// handleFeedbagNotModified confirms the cached copy is current.
func (s *Session) handleFeedbagNotModified(conn *Connection, snac *SNAC) {
	s.mu.Lock()
	s.ssi.synced = true
	s.mu.Unlock()
	logTagged(TAG_SSI, "feedbag up to date")
	s.activateFeedbag(conn)
}

// activateFeedbag tells the server to start applying the checked-out
// list to presence routing.
func (s *Session) activateFeedbag(conn *Connection) {
	if err := conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_USE, s.nextRequestID(), nil)); err != nil {
		Warning("feedbag activate: %v", err)
	}
}

// ReconcileResult is the three-way diff of a server and local list.
type ReconcileResult struct {
	// ToAdoptLocally are server-only items the local store should
	// absorb; adopted buddies with no surviving parent group are
	// re-homed under the Orphans group.
	ToAdoptLocally []SsiItem
	// ToAddOnServer are local-only buddy, permit, and deny items to
	// push inside one add transaction.
	ToAddOnServer []SsiItem
	// Conflicts are items present on both sides with differing
	// attributes; the server copy wins and appears here for the
	// collaborator's information.
	Conflicts []SsiItem
}

// Reconcile diffs a server list against a local one. It is a pure
// function: applying its output and reconciling again yields an empty
// result.
func Reconcile(server, local []SsiItem) ReconcileResult {
	var res ReconcileResult
	serverByKey := make(map[ssiKey]*SsiItem, len(server))
	serverGroups := make(map[uint16]bool)
	for i := range server {
		serverByKey[server[i].key()] = &server[i]
		if server[i].ClassID == FEEDBAG_CLASS_GROUP {
			serverGroups[server[i].GroupID] = true
		}
	}
	localByKey := make(map[ssiKey]*SsiItem, len(local))
	for i := range local {
		localByKey[local[i].key()] = &local[i]
	}

	rehomed := false
	for i := range server {
		it := server[i]
		localIt, both := localByKey[it.key()]
		if !both {
			// A server buddy referencing a group item the server list
			// itself lacks would dangle locally; re-home it so the
			// adopted list stays self-contained.
			if it.ClassID == FEEDBAG_CLASS_BUDDY && !serverGroups[it.GroupID] {
				it.GroupID = orphansGroupID
				rehomed = true
			}
			res.ToAdoptLocally = append(res.ToAdoptLocally, it)
			continue
		}
		if !attrsEqual(it.Attrs, localIt.Attrs) {
			// Server authoritative for shared items, including the
			// PermDeny mode and presence settings.
			res.Conflicts = append(res.Conflicts, it)
		}
	}

	for i := range local {
		it := local[i]
		if _, both := serverByKey[it.key()]; both {
			continue
		}
		switch it.ClassID {
		case FEEDBAG_CLASS_BUDDY, FEEDBAG_CLASS_PERMIT, FEEDBAG_CLASS_DENY:
			// A local buddy pointing at a group the server lost is
			// re-homed rather than pushed into a dangling group.
			if it.ClassID == FEEDBAG_CLASS_BUDDY && !serverGroups[it.GroupID] {
				it.GroupID = orphansGroupID
			}
			res.ToAddOnServer = append(res.ToAddOnServer, it)
		}
		// Local-only groups, PermDeny, and presence items are dropped:
		// the server copy is the source of truth for those classes.
	}

	if rehomed {
		orphans := SsiItem{Name: orphansGroupName, GroupID: orphansGroupID,
			ClassID: FEEDBAG_CLASS_GROUP}
		if _, have := localByKey[orphans.key()]; !have && !serverGroups[orphansGroupID] {
			res.ToAdoptLocally = append([]SsiItem{orphans}, res.ToAdoptLocally...)
		}
	}
	return res
}

// orphansGroupID is the fixed group ID the Orphans group is created
// under when re-homing is needed.
const orphansGroupID uint16 = 0xfffe

func attrsEqual(a, b []TLV) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || string(a[i].Value) != string(b[i].Value) {
			return false
		}
	}
	return true
}

// reconcileAndPush applies the reconcile result: local-only items are
// pushed to the server inside one transaction, and an Orphans group is
// created first when any adopted item needs it.
func (s *Session) reconcileAndPush(conn *Connection, server, local []SsiItem) {
	res := Reconcile(server, local)
	if len(res.Conflicts) > 0 {
		logTagged(TAG_SSI, "reconcile: %d conflicts resolved in server's favor", len(res.Conflicts))
	}
	if len(res.ToAddOnServer) == 0 {
		return
	}

	needOrphans := false
	for i := range res.ToAddOnServer {
		if res.ToAddOnServer[i].GroupID == orphansGroupID {
			needOrphans = true
			break
		}
	}

	if err := conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_START_CLUSTER, s.nextRequestID(), nil)); err != nil {
		Warning("feedbag transaction start: %v", err)
		return
	}
	if needOrphans {
		orphans := &SsiItem{Name: orphansGroupName, GroupID: orphansGroupID,
			ClassID: FEEDBAG_CLASS_GROUP}
		if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "adopt-group", orphans); err != nil {
			Warning("feedbag orphans group: %v", err)
		}
	}
	for i := range res.ToAddOnServer {
		it := res.ToAddOnServer[i]
		if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "reconcile-add", &it); err != nil {
			Warning("feedbag reconcile push: %v", err)
		}
	}
	if err := conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_END_CLUSTER, s.nextRequestID(), nil)); err != nil {
		Warning("feedbag transaction end: %v", err)
	}
}

// sendSsiMutation ships one item mutation and records its requestID so
// the eventual ack can settle or fail it.
func (s *Session) sendSsiMutation(conn *Connection, subtype uint16, action string, it *SsiItem) error {
	payload := NewStream(nil)
	if err := encodeSsiItem(payload, it); err != nil {
		return err
	}
	reqID := s.nextRequestID()
	s.mu.Lock()
	s.ssi.pending[reqID] = &pendingSsiAction{
		action: action,
		name:   it.Name,
		item:   it,
		remove: subtype == FEEDBAG_DELETE_ITEM,
		sent:   time.Now(),
	}
	s.mu.Unlock()
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, subtype, reqID, payload.Bytes()))
}

// handleFeedbagStatus settles pending mutations. One status frame may
// ack several requests in order; each carries one result code.
func (s *Session) handleFeedbagStatus(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	code, err := stream.ReadUint16()
	if err != nil {
		return
	}
	s.mu.Lock()
	p, ok := s.ssi.pending[snac.RequestID]
	delete(s.ssi.pending, snac.RequestID)
	s.mu.Unlock()
	if !ok {
		Debug("feedbag ack 0x%04x for unknown request %d", code, snac.RequestID)
		return
	}

	switch code {
	case FEEDBAG_STATUS_SUCCESS:
		s.settleSsiAction(p)
	case FEEDBAG_STATUS_NEED_AUTH:
		// The contact requires authorization; re-send the add flagged
		// awaiting-auth and fire the request.
		logTagged(TAG_SSI, "%s requires authorization", p.name)
		item := *p.item
		if FindTLV(item.Attrs, FEEDBAG_ATTR_AWAITING_AUTH) == nil {
			item.Attrs = append(item.Attrs, TLV{Type: FEEDBAG_ATTR_AWAITING_AUTH})
		}
		bos, err := s.bosConn()
		if err != nil {
			return
		}
		if err := s.sendSsiMutation(bos, FEEDBAG_INSERT_ITEM, p.action, &item); err != nil {
			Warning("feedbag awaiting-auth add: %v", err)
			return
		}
		if err := s.RequestAuthorization(p.name, ""); err != nil {
			Warning("authorization request for %s: %v", p.name, err)
		}
	default:
		failure := &SsiActionFailed{Action: p.action, Name: p.name, Code: code}
		Warning("%v", failure)
		if s.callbacks != nil && s.callbacks.OnSsiActionFailed != nil {
			s.callbacks.OnSsiActionFailed(s, failure)
		}
	}
}

// settleSsiAction applies an acked mutation to the local mirror.
func (s *Session) settleSsiAction(p *pendingSsiAction) {
	s.mu.Lock()
	if p.remove {
		delete(s.ssi.items, p.item.key())
	} else {
		it := *p.item
		s.ssi.items[it.key()] = &it
	}
	s.ssi.itemCount = uint16(len(s.ssi.items))
	s.mu.Unlock()
	logTagged(TAG_SSI, "%s %q settled", p.action, p.name)
}

// handleServerInsert mirrors a server-pushed item add or update.
func (s *Session) handleServerInsert(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		it, err := decodeSsiItem(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad server-pushed item"})
			return
		}
		s.mu.Lock()
		cp := it
		s.ssi.items[it.key()] = &cp
		s.ssi.itemCount = uint16(len(s.ssi.items))
		s.mu.Unlock()
		logTagged(TAG_SSI, "server added %q (class 0x%04x)", it.Name, it.ClassID)
	}
}

// handleServerDelete mirrors a server-pushed item removal.
func (s *Session) handleServerDelete(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	for stream.Len() > 0 {
		it, err := decodeSsiItem(stream)
		if err != nil {
			conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
				Detail: "bad server-pushed delete"})
			return
		}
		s.mu.Lock()
		delete(s.ssi.items, it.key())
		s.ssi.itemCount = uint16(len(s.ssi.items))
		s.mu.Unlock()
		logTagged(TAG_SSI, "server removed %q", it.Name)
	}
}

// groupFor finds a group item by name; caller holds s.mu.
func (st *ssiState) groupFor(name string) *SsiItem {
	for _, it := range st.items {
		if it.ClassID == FEEDBAG_CLASS_GROUP && it.Name == name {
			return it
		}
	}
	return nil
}

// findBuddy finds the buddy item for a screen name; caller holds s.mu.
func (st *ssiState) findBuddy(name string) *SsiItem {
	norm := NormalizeScreenName(name)
	for _, it := range st.items {
		if it.ClassID == FEEDBAG_CLASS_BUDDY && NormalizeScreenName(it.Name) == norm {
			return it
		}
	}
	return nil
}

// findBuddyIn finds the buddy item for a screen name within one group.
// The same screen name may be listed under several groups, so mutations
// that target a single item must scope the lookup. An empty group
// matches any group. Caller holds s.mu.
func (st *ssiState) findBuddyIn(name, group string) *SsiItem {
	if group == "" {
		return st.findBuddy(name)
	}
	g := st.groupFor(group)
	if g == nil {
		return nil
	}
	norm := NormalizeScreenName(name)
	for _, it := range st.items {
		if it.ClassID == FEEDBAG_CLASS_BUDDY && it.GroupID == g.GroupID &&
			NormalizeScreenName(it.Name) == norm {
			return it
		}
	}
	return nil
}

// freeItemID picks an item ID unused within the class; caller holds
// s.mu.
func (st *ssiState) freeItemID(classID uint16) uint16 {
	for {
		id := st.nextID
		st.nextID++
		if st.nextID == 0 {
			st.nextID = 1
		}
		inUse := false
		for _, it := range st.items {
			if it.ClassID == classID && it.ItemID == id {
				inUse = true
				break
			}
		}
		if !inUse {
			return id
		}
	}
}

// AddBuddy adds a contact to the named group, creating the group if it
// does not exist yet. The add settles asynchronously when the server
// acks it.
func (s *Session) AddBuddy(name, group string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	conn, err := s.bosConn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.ssi.findBuddy(name) != nil {
		s.mu.Unlock()
		return nil // already listed
	}
	g := s.ssi.groupFor(group)
	var groupID uint16
	if g != nil {
		groupID = g.GroupID
	} else {
		groupID = s.ssi.freeItemID(FEEDBAG_CLASS_GROUP)
	}
	itemID := s.ssi.freeItemID(FEEDBAG_CLASS_BUDDY)
	s.mu.Unlock()

	if err := conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_START_CLUSTER, s.nextRequestID(), nil)); err != nil {
		return err
	}
	if g == nil {
		newGroup := &SsiItem{Name: group, GroupID: groupID, ClassID: FEEDBAG_CLASS_GROUP}
		if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "add-group", newGroup); err != nil {
			return err
		}
	}
	item := &SsiItem{Name: name, GroupID: groupID, ItemID: itemID, ClassID: FEEDBAG_CLASS_BUDDY}
	if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "add-buddy", item); err != nil {
		return err
	}
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_END_CLUSTER, s.nextRequestID(), nil))
}

// RemoveBuddy deletes a contact from the named group. An empty group
// removes the first match regardless of group.
func (s *Session) RemoveBuddy(name, group string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	s.mu.Lock()
	it := s.ssi.findBuddyIn(name, group)
	s.mu.Unlock()
	if it == nil {
		return &SsiActionFailed{Action: "remove-buddy", Name: name, Code: FEEDBAG_STATUS_NOT_FOUND}
	}
	cp := *it
	return s.sendSsiMutation(conn, FEEDBAG_DELETE_ITEM, "remove-buddy", &cp)
}

// MoveBuddy relocates a contact from one group to another: a delete of
// the old item and an insert under the target group inside one
// transaction. An empty oldGroup matches the first item found.
func (s *Session) MoveBuddy(name, oldGroup, newGroup string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	conn, err := s.bosConn()
	if err != nil {
		return err
	}

	s.mu.Lock()
	it := s.ssi.findBuddyIn(name, oldGroup)
	if it == nil {
		s.mu.Unlock()
		return &SsiActionFailed{Action: "move-buddy", Name: name, Code: FEEDBAG_STATUS_NOT_FOUND}
	}
	old := *it
	g := s.ssi.groupFor(newGroup)
	var groupID uint16
	if g != nil {
		groupID = g.GroupID
	} else {
		groupID = s.ssi.freeItemID(FEEDBAG_CLASS_GROUP)
	}
	itemID := s.ssi.freeItemID(FEEDBAG_CLASS_BUDDY)
	s.mu.Unlock()

	if err := conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_START_CLUSTER, s.nextRequestID(), nil)); err != nil {
		return err
	}
	if g == nil {
		created := &SsiItem{Name: newGroup, GroupID: groupID, ClassID: FEEDBAG_CLASS_GROUP}
		if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "add-group", created); err != nil {
			return err
		}
	}
	if err := s.sendSsiMutation(conn, FEEDBAG_DELETE_ITEM, "move-buddy", &old); err != nil {
		return err
	}
	moved := old
	moved.GroupID = groupID
	moved.ItemID = itemID
	if err := s.sendSsiMutation(conn, FEEDBAG_INSERT_ITEM, "move-buddy", &moved); err != nil {
		return err
	}
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_END_CLUSTER, s.nextRequestID(), nil))
}

// SetAlias sets or clears the display alias on a contact's item.
func (s *Session) SetAlias(name, alias string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	s.mu.Lock()
	it := s.ssi.findBuddy(name)
	if it == nil {
		s.mu.Unlock()
		return &SsiActionFailed{Action: "set-alias", Name: name, Code: FEEDBAG_STATUS_NOT_FOUND}
	}
	updated := *it
	s.mu.Unlock()

	attrs := updated.Attrs[:0:0]
	for _, t := range updated.Attrs {
		if t.Type != FEEDBAG_ATTR_ALIAS {
			attrs = append(attrs, t)
		}
	}
	if alias != "" {
		attrs = append(attrs, TLV{Type: FEEDBAG_ATTR_ALIAS, Value: []byte(alias)})
	}
	updated.Attrs = attrs
	return s.sendSsiMutation(conn, FEEDBAG_UPDATE_ITEM, "set-alias", &updated)
}

// RequestAuthorization asks a contact for permission to see their
// presence.
func (s *Session) RequestAuthorization(name, reason string) error {
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	payload := NewStream(nil)
	if err := payload.WriteLenPrefixedString(name); err != nil {
		return err
	}
	_ = payload.WriteUint16(uint16(len(reason)))
	_, _ = payload.Write([]byte(reason))
	_ = payload.WriteUint16(0) // unknown trailer
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_REQUEST_AUTH, s.nextRequestID(), payload.Bytes()))
}

// RespondAuthorization answers a contact's authorization request.
func (s *Session) RespondAuthorization(name string, grant bool, reason string) error {
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	payload := NewStream(nil)
	if err := payload.WriteLenPrefixedString(name); err != nil {
		return err
	}
	if grant {
		_ = payload.WriteByte(0x01)
	} else {
		_ = payload.WriteByte(0x00)
	}
	_ = payload.WriteUint16(uint16(len(reason)))
	_, _ = payload.Write([]byte(reason))
	return conn.SendSNAC(NewSNAC(FAMILY_FEEDBAG, FEEDBAG_RESPOND_AUTH, s.nextRequestID(), payload.Bytes()))
}

// handleAuthRequested surfaces an inbound authorization request.
func (s *Session) handleAuthRequested(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	name, err := stream.ReadLenPrefixedString()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated auth request"})
		return
	}
	reason := ""
	if reasonLen, err := stream.ReadUint16(); err == nil {
		if raw, err := stream.ReadBytes2(int(reasonLen)); err == nil {
			reason = string(raw)
		}
	}
	logTagged(TAG_SSI, "authorization requested by %s", name)
	if s.callbacks != nil && s.callbacks.OnAuthorizationRequested != nil {
		s.callbacks.OnAuthorizationRequested(s, name, reason)
	}
}

// handleAuthReply settles a pending authorization request.
func (s *Session) handleAuthReply(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	name, err := stream.ReadLenPrefixedString()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated auth reply"})
		return
	}
	flag, err := stream.ReadByte()
	if err != nil {
		return
	}
	reason := ""
	if reasonLen, err := stream.ReadUint16(); err == nil {
		if raw, err := stream.ReadBytes2(int(reasonLen)); err == nil {
			reason = string(raw)
		}
	}
	if flag == 0x01 {
		s.ssi.authorizationGranted(name)
	} else {
		s.ssi.authorizationDenied(name, reason)
	}
}

// authorizationGranted clears the awaiting-auth flag on the contact's
// item and notifies the collaborator.
func (st *ssiState) authorizationGranted(name string) {
	s := st.session
	s.mu.Lock()
	it := st.findBuddy(name)
	var updated *SsiItem
	if it != nil && it.AwaitingAuth() {
		cp := *it
		attrs := cp.Attrs[:0:0]
		for _, t := range cp.Attrs {
			if t.Type != FEEDBAG_ATTR_AWAITING_AUTH {
				attrs = append(attrs, t)
			}
		}
		cp.Attrs = attrs
		updated = &cp
	}
	s.mu.Unlock()

	if updated != nil {
		if conn, err := s.bosConn(); err == nil {
			if err := s.sendSsiMutation(conn, FEEDBAG_UPDATE_ITEM, "auth-granted", updated); err != nil {
				Warning("clearing awaiting-auth for %s: %v", name, err)
			}
		}
	}
	logTagged(TAG_SSI, "%s granted authorization", name)
	if s.callbacks != nil && s.callbacks.OnAuthorizationGranted != nil {
		s.callbacks.OnAuthorizationGranted(s, name)
	}
}

// authorizationDenied leaves the item flagged and surfaces the reason.
func (st *ssiState) authorizationDenied(name, reason string) {
	s := st.session
	logTagged(TAG_SSI, "%s denied authorization: %s", name, reason)
	if s.callbacks != nil && s.callbacks.OnAuthorizationDenied != nil {
		s.callbacks.OnAuthorizationDenied(s, name, reason)
	}
}
