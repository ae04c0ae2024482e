package go_oscar

import (
	"context"
	"crypto/md5"
	"fmt"
	"net"
	"time"
)

// Auth & redirect flow
//
// Login is the BUCP MD5 challenge-response on a dedicated auth
// connection:
//
//	client FLAP SignOn -> challenge request (0x17/0x06)
//	<- challenge reply (0x17/0x07)
//	-> login request (0x17/0x02) with the hashed password
//	<- login response (0x17/0x03): BOS host + cookie, or an error code
//
// The cookie is then presented as the first frame on the BOS
// connection, and again on every auxiliary service connection the
// server redirects to. Redirects are a recurring instance of the same
// cookie sub-flow and are re-entrant: several can be in flight at once,
// each keyed by its requested foodgroup.

// The MD5 login salt is fixed by the protocol.
var bucpSalt = []byte("AOL Instant Messenger (SM)")

// dialAuth opens the auth connection and registers it. The BUCP
// exchange itself is driven by handlers once the server's FLAP SignOn
// arrives.
func (s *Session) dialAuth(ctx context.Context) error {
	host := s.property("oscar.auth.host")
	port := s.property("oscar.auth.port")
	addr := net.JoinHostPort(host, port)

	tcp := NewTcp(addr)
	if s.property("oscar.auth.tls") == "true" {
		tcp.SetupTLS(host, s.property("oscar.auth.tls.insecure") == "true")
	}

	type dialResult struct{ err error }
	done := make(chan dialResult, 1)
	go func() { done <- dialResult{tcp.Connect()} }()
	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	conn := newConnection(s, ConnAuth, tcp, nil)
	s.addConnection(conn)
	if s.metrics != nil {
		s.metrics.SetConnectionState("connecting")
	}
	Info("auth connection to %s established", addr)
	return nil
}

// handleSignOnFrame answers the server's FLAP SignOn frame. On the
// auth connection this kicks off the BUCP challenge; on every other
// kind it presents the login cookie, completing that connection's own
// handshake.
func (s *Session) handleSignOnFrame(conn *Connection, frame *FLAPFrame) {
	signon := NewStream(nil)
	_ = signon.WriteUint32(1) // FLAP protocol version

	switch conn.kind {
	case ConnAuth:
		if err := conn.sendFLAP(FLAP_FRAME_SIGNON, signon.Bytes()); err != nil {
			s.finishLogin(err)
			return
		}
		s.sendBucpChallengeRequest(conn)
	default:
		if err := EncodeTLV(signon, TLV{Type: TLV_LOGIN_COOKIE, Value: conn.cookie}); err != nil {
			s.teardownConnection(conn, err)
			return
		}
		if err := conn.sendFLAP(FLAP_FRAME_SIGNON, signon.Bytes()); err != nil {
			s.teardownConnection(conn, err)
			return
		}
		Debug("%s connection presented cookie", conn.kind)
	}
}

func (s *Session) sendBucpChallengeRequest(conn *Connection) {
	s.setState(StateAuthPending)
	payload := NewStream(nil)
	if err := EncodeTLVString(payload, TLV_SCREEN_NAME, s.ScreenName()); err != nil {
		s.finishLogin(err)
		return
	}
	snac := NewSNAC(FAMILY_BUCP, BUCP_CHALLENGE_REQUEST, s.nextRequestID(), payload.Bytes())
	if err := conn.SendSNAC(snac); err != nil {
		s.finishLogin(err)
	}
}

// handleBucpChallengeReply hashes the password against the server's
// challenge and sends the login request.
func (s *Session) handleBucpChallengeReply(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	challengeLen, err := stream.ReadUint16()
	if err != nil {
		s.finishLogin(&FrameError{Reason: "truncated BUCP challenge"})
		return
	}
	challenge, err := stream.ReadBytes2(int(challengeLen))
	if err != nil {
		s.finishLogin(&FrameError{Reason: "truncated BUCP challenge"})
		return
	}

	s.mu.Lock()
	password := s.password
	s.mu.Unlock()

	// MD5(challenge + MD5(password) + salt), the "new style" hash.
	inner := md5.Sum([]byte(password))
	hasher := md5.New()
	hasher.Write(challenge)
	hasher.Write(inner[:])
	hasher.Write(bucpSalt)
	hash := hasher.Sum(nil)

	payload := NewStream(nil)
	err = firstErr(
		EncodeTLVString(payload, TLV_SCREEN_NAME, s.ScreenName()),
		EncodeTLV(payload, TLV{Type: TLV_PASSWORD_HASH, Value: hash}),
		EncodeTLVString(payload, TLV_CLIENT_NAME, OSCAR_CLIENT_NAME),
		EncodeTLVUint16(payload, TLV_CLIENT_ID, OSCAR_CLIENT_ID),
		EncodeTLVUint16(payload, TLV_CLIENT_MAJOR, OSCAR_CLIENT_MAJOR),
		EncodeTLVUint16(payload, TLV_CLIENT_MINOR, OSCAR_CLIENT_MINOR),
		EncodeTLVUint16(payload, TLV_CLIENT_LESSER, OSCAR_CLIENT_LESSER),
		EncodeTLVUint16(payload, TLV_CLIENT_BUILD, OSCAR_CLIENT_BUILD),
		EncodeTLVString(payload, TLV_CLIENT_COUNTRY, "us"),
		EncodeTLVString(payload, TLV_CLIENT_LANG, "en"),
	)
	if err != nil {
		s.finishLogin(err)
		return
	}

	s.setState(StateAwaitingCookie)
	login := NewSNAC(FAMILY_BUCP, BUCP_LOGIN_REQUEST, s.nextRequestID(), payload.Bytes())
	if err := conn.SendSNAC(login); err != nil {
		s.finishLogin(err)
	}
}

// handleBucpLoginResponse maps the login response to either a redirect
// to the BOS host or a differentiated AuthError. Each failure code
// keeps its own kind because the collaborator layer shows a different
// user message for each; they are never coalesced.
func (s *Session) handleBucpLoginResponse(conn *Connection, snac *SNAC) {
	tlvs, err := DecodeTLVs(NewStream(snac.Data))
	if err != nil {
		s.finishLogin(err)
		return
	}

	if t := FindTLV(tlvs, TLV_ERROR_CODE); t != nil {
		code, cerr := t.Uint16()
		if cerr != nil {
			s.finishLogin(&FrameError{Reason: "bad login error TLV"})
			return
		}
		url := ""
		if u := FindTLV(tlvs, 0x0004); u != nil {
			url = u.String()
		}
		authErr := authErrorFromCode(code, url)
		Error("login failed: %v", authErr)
		s.finishLogin(authErr)
		return
	}

	hostTlv := FindTLV(tlvs, TLV_REDIRECT_HOST)
	cookieTlv := FindTLV(tlvs, TLV_LOGIN_COOKIE)
	if hostTlv == nil || cookieTlv == nil {
		s.finishLogin(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "login response missing host or cookie"})
		return
	}

	// The auth connection's job is done.
	s.teardownConnection(conn, nil)
	s.setState(StateServiceConnecting)
	s.openServiceConnection(ConnBOS, hostTlv.String(), cookieTlv.Value, nil)
}

// openServiceConnection dials a redirect target and starts the cookie
// handshake. pending carries chat-join context through the redirect.
func (s *Session) openServiceConnection(kind ConnKind, host string, cookie []byte, pending *pendingService) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		// Redirect hosts sometimes omit the port; default to the
		// auth port.
		host = net.JoinHostPort(host, s.property("oscar.auth.port"))
	}
	tcp := NewTcp(host)
	conn := newConnection(s, kind, tcp, cookie)
	if pending != nil {
		conn.roomName = pending.roomName
		conn.exchange = pending.exchange
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := tcp.Connect(); err != nil {
			Error("%s redirect to %s failed: %v", kind, host, err)
			if kind == ConnBOS {
				s.finishLogin(fmt.Errorf("oscar: BOS connect failed: %w", err))
			}
			return
		}
		s.addConnection(conn)
		Info("%s connection to %s established", kind, host)
	}()
}

// handleHostOnline is the server's first SNAC on a fresh service
// connection. The client answers with the rate-limits query; the
// connection is not ready until the rates dance finishes.
func (s *Session) handleHostOnline(conn *Connection, snac *SNAC) {
	query := NewSNAC(FAMILY_OSERVICE, OSERVICE_RATES_QUERY, s.nextRequestID(), nil)
	if err := conn.SendSNAC(query); err != nil {
		s.teardownConnection(conn, err)
	}
}

// handleRatesReply ingests the server's rate classes, acknowledges
// them, and declares the client ready. Only then is the connection
// admitted to normal frame flow.
func (s *Session) handleRatesReply(conn *Connection, snac *SNAC) {
	classIDs, err := s.rates.ingestRatesReply(NewStream(snac.Data))
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: fmt.Sprintf("bad rates reply: %v", err)})
		return
	}

	ack := NewStream(nil)
	for _, id := range classIDs {
		_ = ack.WriteUint16(id)
	}
	if err := conn.SendSNAC(NewSNAC(FAMILY_OSERVICE, OSERVICE_RATES_ACK, s.nextRequestID(), ack.Bytes())); err != nil {
		s.teardownConnection(conn, err)
		return
	}

	if conn.kind == ConnBOS {
		if err := s.announceCapabilities(conn); err != nil {
			s.teardownConnection(conn, err)
			return
		}
		// Kick off the feedbag checkout before going online so the
		// contact list is ready when presence starts flowing.
		s.requestFeedbag(conn)
	}

	if err := conn.SendSNAC(NewSNAC(FAMILY_OSERVICE, OSERVICE_CLIENT_ONLINE, s.nextRequestID(), clientReadyPayload(conn.kind))); err != nil {
		s.teardownConnection(conn, err)
		return
	}
	s.mu.Lock()
	conn.ready = true
	s.mu.Unlock()
	Info("%s connection ready", conn.kind)

	switch conn.kind {
	case ConnBOS:
		s.setState(StateServiceReady)
		s.mu.Lock()
		s.password = "" // no longer needed, drop it
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.SetConnectionState("connected")
		}
		s.finishLogin(nil)
		if s.callbacks != nil && s.callbacks.OnAuthenticated != nil {
			s.callbacks.OnAuthenticated(s)
		}
	case ConnChat:
		s.mu.Lock()
		s.chatRooms[conn.roomName] = conn
		s.mu.Unlock()
	case ConnChatNav:
		s.flushPendingChatJoins(conn)
	}
}

// announceCapabilities advertises the rendezvous capabilities this
// client answers for.
func (s *Session) announceCapabilities(conn *Connection) error {
	caps := NewStream(nil)
	capsBlob := NewStream(nil)
	for _, c := range [][16]byte{CAP_CHAT, CAP_FILE_TRANSFER, CAP_DIRECT_IM, CAP_BUDDY_ICON} {
		_ = capsBlob.WriteCapability(c)
	}
	if err := EncodeTLV(caps, TLV{Type: 0x0005, Value: capsBlob.Bytes()}); err != nil {
		return err
	}
	return conn.SendSNAC(NewSNAC(FAMILY_LOCATE, 0x0004, s.nextRequestID(), caps.Bytes()))
}

// clientReadyPayload lists the foodgroup versions this client speaks on
// a given connection kind.
func clientReadyPayload(kind ConnKind) []byte {
	type groupVersion struct {
		family, version uint16
	}
	var groups []groupVersion
	switch kind {
	case ConnChat:
		groups = []groupVersion{{FAMILY_OSERVICE, 4}, {FAMILY_CHAT, 1}}
	case ConnChatNav:
		groups = []groupVersion{{FAMILY_OSERVICE, 4}, {FAMILY_CHAT_NAV, 1}}
	case ConnBART:
		groups = []groupVersion{{FAMILY_OSERVICE, 4}, {FAMILY_BART, 1}}
	case ConnAlert:
		groups = []groupVersion{{FAMILY_OSERVICE, 4}, {FAMILY_ALERT, 1}}
	case ConnAdmin:
		groups = []groupVersion{{FAMILY_OSERVICE, 4}, {FAMILY_ADMIN, 1}}
	default:
		groups = []groupVersion{
			{FAMILY_OSERVICE, 4}, {FAMILY_LOCATE, 1}, {FAMILY_BUDDY, 1},
			{FAMILY_ICBM, 1}, {FAMILY_PD, 1}, {FAMILY_FEEDBAG, 4},
		}
	}
	out := NewStream(nil)
	for _, g := range groups {
		_ = out.WriteUint16(g.family)
		_ = out.WriteUint16(g.version)
		_ = out.WriteUint16(0x0110) // tool id
		_ = out.WriteUint16(0x08e4) // tool version
	}
	return out.Bytes()
}

// requestService asks the BOS connection for a redirect to an auxiliary
// service. Re-entrant: each pending redirect is keyed by foodgroup.
func (s *Session) requestService(foodgroup uint16, pending *pendingService) error {
	conn, err := s.bosConn()
	if err != nil {
		return err
	}
	if pending == nil {
		pending = &pendingService{}
	}
	pending.foodgroup = foodgroup
	pending.kind = serviceKind(foodgroup)
	pending.requested = time.Now()

	s.mu.Lock()
	s.pendingServices[foodgroup] = pending
	s.mu.Unlock()

	payload := NewStream(nil)
	_ = payload.WriteUint16(foodgroup)
	if pending.roomCookie != nil {
		room := NewStream(nil)
		_ = room.WriteUint16(pending.exchange)
		_ = room.WriteLenPrefixedString(string(pending.roomCookie))
		_ = room.WriteUint16(0) // instance
		if err := EncodeTLV(payload, TLV{Type: 0x0001, Value: room.Bytes()}); err != nil {
			return err
		}
	}
	return conn.SendSNAC(NewSNAC(FAMILY_OSERVICE, OSERVICE_SERVICE_REQUEST, s.nextRequestID(), payload.Bytes()))
}

// handleServiceResponse consumes a redirect: host plus cookie for the
// requested service. Opens the new connection of the mapped kind and
// hands it the cookie for its own SignOn handshake.
func (s *Session) handleServiceResponse(conn *Connection, snac *SNAC) {
	tlvs, err := DecodeTLVs(NewStream(snac.Data))
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad service response"})
		return
	}
	familyTlv := FindTLV(tlvs, TLV_SERVICE_FAMILY)
	hostTlv := FindTLV(tlvs, TLV_REDIRECT_HOST)
	cookieTlv := FindTLV(tlvs, TLV_LOGIN_COOKIE)
	if familyTlv == nil || hostTlv == nil || cookieTlv == nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "service response missing family, host or cookie"})
		return
	}
	foodgroup, err := familyTlv.Uint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad service family TLV"})
		return
	}

	s.mu.Lock()
	pending := s.pendingServices[foodgroup]
	delete(s.pendingServices, foodgroup)
	s.mu.Unlock()
	if pending == nil {
		Debug("unsolicited service response for %04x, opening anyway", foodgroup)
		pending = &pendingService{foodgroup: foodgroup, kind: serviceKind(foodgroup)}
	}
	s.openServiceConnection(pending.kind, hostTlv.String(), cookieTlv.Value, pending)
}

// handleMigrate follows a server-initiated migration of the BOS
// connection to a new host.
func (s *Session) handleMigrate(conn *Connection, snac *SNAC) {
	tlvs, err := DecodeTLVs(NewStream(snac.Data))
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "bad migrate frame"})
		return
	}
	hostTlv := FindTLV(tlvs, TLV_REDIRECT_HOST)
	cookieTlv := FindTLV(tlvs, TLV_LOGIN_COOKIE)
	if hostTlv == nil || cookieTlv == nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "migrate missing host or cookie"})
		return
	}
	Info("server migrating BOS connection to %s", hostTlv.String())
	s.teardownConnection(conn, fmt.Errorf("oscar: migrated"))
	s.openServiceConnection(ConnBOS, hostTlv.String(), cookieTlv.Value, nil)
}

// finishLogin delivers the login outcome to the Connect caller exactly
// once.
func (s *Session) finishLogin(err error) {
	s.mu.Lock()
	done := s.authDone
	s.authDone = nil
	s.mu.Unlock()
	if done != nil {
		done <- err
	}
}

// abortLogin tears the session down after a failed login. No service
// connection survives; the state machine lands on Disconnected.
func (s *Session) abortLogin(cause error) {
	Debug("aborting login: %v", cause)
	s.Disconnect()
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
