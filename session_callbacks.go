// SessionCallbacks struct definition
package go_oscar

// Message is an inbound instant message delivered to the collaborator
// layer.
type Message struct {
	From         string
	Body         string
	AutoResponse bool // away-message auto reply
	Direct       bool // arrived over a direct-IM rendezvous socket
	Offline      bool // delivered from server-side offline storage
}

// ExtendedMessageKind classifies channel-4 sub-protocol messages.
type ExtendedMessageKind int

const (
	ExtStatusReply ExtendedMessageKind = iota
	ExtURLShare
	ExtAuthRequest
	ExtAuthGrant
	ExtAuthDeny
	ExtContactCard
	ExtServerBroadcast
	// ExtUnknown is surfaced (never dropped) so collaborators can log
	// forward-incompatible traffic.
	ExtUnknown
)

// ExtendedMessage is a decoded channel-4 message. Fields holds the
// delimiter-separated payload parts in wire order.
type ExtendedMessage struct {
	Kind   ExtendedMessageKind
	From   string
	Type   uint8
	Fields []string
}

// SessionCallbacks provides callback functions for session events.
// All callbacks are invoked from the session's dispatch goroutine;
// collaborators must not call back into state-mutating operations
// synchronously from inside a callback without expecting the effect to
// be applied on a later loop iteration.
type SessionCallbacks struct {
	OnAuthenticated func(session *Session)
	OnDisconnected  func(session *Session, reason string)

	OnPresenceChanged func(session *Session, info *BuddyInfo, online bool)
	OnMessageReceived func(session *Session, msg Message)
	OnTypingChanged   func(session *Session, contact string, state TypingState)
	OnExtendedMessage func(session *Session, msg ExtendedMessage)

	OnChatUserJoined     func(session *Session, room, user string)
	OnChatUserLeft       func(session *Session, room, user string)
	OnChatMessageReceived func(session *Session, room, user, body string)

	OnRendezvousProposed func(session *Session, req *RendezvousRequest)
	OnRendezvousAccepted func(session *Session, req *RendezvousRequest)
	OnRendezvousProgress func(session *Session, req *RendezvousRequest, transferred, total uint32)
	OnRendezvousComplete func(session *Session, req *RendezvousRequest)
	OnRendezvousCanceled func(session *Session, req *RendezvousRequest, reason string)

	OnAuthorizationRequested func(session *Session, contact, reason string)
	OnAuthorizationGranted   func(session *Session, contact string)
	OnAuthorizationDenied    func(session *Session, contact, reason string)
	OnSsiActionFailed        func(session *Session, failure *SsiActionFailed)

	OnRateWarning   func(session *Session, foodgroup, subtype uint16)
	OnProtocolError func(session *Session, kind, detail string)
}
