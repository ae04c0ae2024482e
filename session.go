package go_oscar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// NewSession creates a new OSCAR session with the specified callbacks.
// The session owns no sockets until Connect is called.
func NewSession(callbacks *SessionCallbacks) *Session {
	s := &Session{
		callbacks:          callbacks,
		logger:             &Logger{logLevel: ERROR},
		conns:              make(map[*Connection]struct{}),
		handlers:           make(map[handlerKey]HandlerFunc),
		events:             make(chan connEvent, 128),
		shutdown:           make(chan struct{}),
		rates:              newRateGovernor(),
		buddies:            make(map[string]*BuddyInfo),
		typing:             make(map[string]TypingState),
		rendezvous:         make(map[[OSCAR_COOKIE_LEN]byte]*RendezvousRequest),
		pendingServices:    make(map[uint16]*pendingService),
		chatRooms:          make(map[string]*Connection),
		violationThreshold: 10,
		// Guards reconnect storms: the server itself rate-limits login
		// attempts, so fail fast client-side before it does.
		breaker: NewCircuitBreaker(5, 30*time.Second),
		// Buddy-icon re-fetches are a client-side policy, so a plain
		// token bucket is enough here: one fetch per 2s, burst of 5.
		iconLimiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
	}
	s.properties = defaultSessionProperties()
	s.ssi = newSsiState(s)
	s.registerBaseHandlers()
	return s
}

// ensureInitialized checks if the Session has been properly initialized.
// Returns ErrSessionNotInitialized if the session was created with a
// zero value (Session{}) instead of NewSession().
func (s *Session) ensureInitialized() error {
	if s.handlers == nil {
		return ErrSessionNotInitialized
	}
	if s.rates == nil {
		return ErrSessionNotInitialized
	}
	if s.ssi == nil {
		return ErrSessionNotInitialized
	}
	return nil
}

// RegisterHandler associates a callback with a (kind, foodgroup,
// subtype) triple. At most one handler per triple is retained: the
// last registration wins, which the redirect flows rely on when they
// re-register service handlers after reconnect.
func (s *Session) RegisterHandler(kind ConnKind, foodgroup, subtype uint16, handler HandlerFunc) {
	key := handlerKey{kind: kind, foodgroup: foodgroup, subtype: subtype}
	s.mu.Lock()
	if _, exists := s.handlers[key]; exists {
		Debug("handler for %s %04x/%04x overwritten", kind, foodgroup, subtype)
	}
	s.handlers[key] = handler
	s.mu.Unlock()
}

// Connect performs the full login handshake: dial the auth host,
// exchange the BUCP MD5 challenge, follow the redirect to the BOS host
// with the returned cookie, and complete the BOS service handshake.
// It returns once the session is ServiceReady or the login failed with
// a differentiated AuthError.
func (s *Session) Connect(ctx context.Context, screenName, password string) error {
	if err := s.ensureInitialized(); err != nil {
		return err
	}
	if len(screenName) > OSCAR_MAX_SCREEN_NAME {
		return ErrScreenNameTooLong
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.running = true
	s.screenName = screenName
	s.password = password
	s.authDone = make(chan error, 1)
	// A previous Disconnect closed the shutdown channel; every login
	// gets a fresh one.
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	s.setState(StateAuthPending)
	s.wg.Add(1)
	go s.run()

	err := s.breaker.Execute(func() error {
		return s.dialAuth(ctx)
	})
	if err != nil {
		s.abortLogin(err)
		return err
	}

	select {
	case err := <-s.authDone:
		if err != nil {
			s.abortLogin(err)
		}
		return err
	case <-ctx.Done():
		s.abortLogin(ctx.Err())
		return fmt.Errorf("oscar: login canceled: %w", ctx.Err())
	}
}

// ConnectWithRetry is Connect wrapped in exponential backoff. Retries
// stop early on errors no retry can fix, such as bad credentials.
func (s *Session) ConnectWithRetry(ctx context.Context, screenName, password string,
	maxRetries int, initialBackoff time.Duration) error {
	return RetryWithBackoff(ctx, maxRetries, initialBackoff, func() error {
		return s.Connect(ctx, screenName, password)
	})
}

// Disconnect signs off and tears down every connection. Safe to call
// more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*Connection]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		// Polite sign-off; errors are moot, the socket is going away.
		_ = c.sendFLAP(FLAP_FRAME_SIGNOFF, nil)
		c.close()
	}
	close(s.shutdown)
	s.wg.Wait()
	s.setState(StateDisconnected)
	s.cancelAllRendezvous("session closed")
	if s.metrics != nil {
		s.metrics.SetConnectionState("disconnected")
	}
}

// run is the dispatch loop. All handlers execute here, so BuddyInfo,
// RateClass, feedbag, and rendezvous state are mutated from a single
// goroutine; public operations touching them enqueue or take the
// session lock for the few fields they read.
func (s *Session) run() {
	defer s.wg.Done()
	keepalive := time.NewTicker(time.Minute)
	defer keepalive.Stop()
	redirectSweep := time.NewTicker(10 * time.Second)
	defer redirectSweep.Stop()

	for {
		select {
		case ev := <-s.events:
			if ev.err != nil {
				s.handleConnDown(ev.conn, ev.err)
				continue
			}
			s.handleFrame(ev.conn, ev.frame)
		case <-keepalive.C:
			s.sendKeepAlives()
		case <-redirectSweep.C:
			s.expireStaleRedirects()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Session) enqueue(ev connEvent) {
	select {
	case s.events <- ev:
	case <-s.shutdown:
	}
}

// handleFrame routes one inbound FLAP by frame type, then data frames
// by (kind, foodgroup, subtype).
func (s *Session) handleFrame(conn *Connection, frame *FLAPFrame) {
	if conn.isClosed() {
		// Frame was queued before teardown completed; drop it.
		return
	}
	if s.metrics != nil {
		s.metrics.AddBytesReceived(uint64(FLAP_HEADER_LEN + len(frame.Data)))
	}
	switch frame.FrameType {
	case FLAP_FRAME_SIGNON:
		s.handleSignOnFrame(conn, frame)
	case FLAP_FRAME_DATA:
		snac, err := DecodeSNAC(frame.Data)
		if err != nil {
			Error("%s connection: %v", conn.kind, err)
			s.teardownConnection(conn, err)
			return
		}
		s.dispatch(conn, snac)
	case FLAP_FRAME_ERROR, FLAP_FRAME_SIGNOFF:
		s.handleServerSignOff(conn, frame)
	case FLAP_FRAME_KEEPALIVE:
		// nothing to do
	}
}

// dispatch looks up the handler for (kind, foodgroup, subtype). A
// missing handler drops the frame with a log line, never a failure.
func (s *Session) dispatch(conn *Connection, snac *SNAC) {
	if s.metrics != nil {
		s.metrics.IncrementSNACReceived(snac.Foodgroup)
	}
	s.mu.Lock()
	handler := s.handlers[handlerKey{kind: conn.kind, foodgroup: snac.Foodgroup, subtype: snac.Subtype}]
	s.mu.Unlock()
	if handler == nil {
		Debug("no handler for %s %s, dropping", conn.kind, snacName(snac.Foodgroup, snac.Subtype))
		return
	}
	handler(conn, snac)
}

// addConnection registers a connection with the session and starts its
// reader.
func (s *Session) addConnection(c *Connection) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.start()
}

// connByKind returns the first ready connection of the given kind.
func (s *Session) connByKind(kind ConnKind) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if c.kind == kind && c.ready {
			return c
		}
	}
	return nil
}

// bosConn returns the primary-session connection or ErrNotConnected.
func (s *Session) bosConn() (*Connection, error) {
	if c := s.connByKind(ConnBOS); c != nil {
		return c, nil
	}
	return nil, ErrNotConnected
}

// teardownConnection removes a connection from the session and closes
// its socket. The removal happens before the close so no handler
// dispatched afterwards can observe the dead socket as live.
func (s *Session) teardownConnection(c *Connection, reason error) {
	s.mu.Lock()
	_, known := s.conns[c]
	delete(s.conns, c)
	for room, rc := range s.chatRooms {
		if rc == c {
			delete(s.chatRooms, room)
		}
	}
	s.mu.Unlock()
	if !known {
		return
	}
	c.close()
	Debug("%s connection torn down: %v", c.kind, reason)
	s.rendezvousConnDown(c)
}

// handleConnDown reacts to a reader-reported connection failure.
// Errors local to one connection never escalate to the session; only
// losing the auth connection mid-login or the BOS connection is fatal.
func (s *Session) handleConnDown(c *Connection, err error) {
	s.teardownConnection(c, err)
	switch c.kind {
	case ConnAuth:
		if s.State() != StateServiceReady {
			s.finishLogin(fmt.Errorf("oscar: auth connection lost: %w", err))
		}
	case ConnBOS:
		s.fatalDisconnect("connection to server lost")
	}
}

// handleServerSignOff processes a server-initiated FLAP error or
// sign-off. On BOS this is fatal to the session and must carry a
// differentiated human-readable reason.
func (s *Session) handleServerSignOff(conn *Connection, frame *FLAPFrame) {
	reason := "unknown"
	if len(frame.Data) > 0 {
		if tlvs, err := DecodeTLVs(NewStream(frame.Data)); err == nil {
			if t := FindTLV(tlvs, TLV_DISCONNECT_REASON); t != nil {
				if code, err := t.Uint16(); err == nil {
					switch code {
					case DISCONNECT_CODE_ELSEWHERE:
						reason = "disconnected: signed on elsewhere"
					case DISCONNECT_CODE_FLOODING:
						reason = "disconnected: kicked for flooding"
					default:
						reason = fmt.Sprintf("disconnected: server code 0x%04x", code)
					}
				}
			}
		}
	}
	s.teardownConnection(conn, fmt.Errorf("oscar: server sign-off: %s", reason))
	if conn.kind == ConnBOS {
		s.fatalDisconnect(reason)
	} else if conn.kind == ConnAuth && s.State() != StateServiceReady {
		s.finishLogin(&AuthError{Kind: AuthErrServiceUnavailable})
	}
}

// fatalDisconnect tears down the whole session with a human-readable
// reason.
func (s *Session) fatalDisconnect(reason string) {
	Error("session disconnect: %s", reason)
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		go s.Disconnect()
	}
	if s.callbacks != nil && s.callbacks.OnDisconnected != nil {
		s.callbacks.OnDisconnected(s, reason)
	}
}

func (s *Session) sendKeepAlives() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		if c.ready {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.sendKeepAlive(); err != nil {
			Debug("%s keepalive: %v", c.kind, err)
		}
	}
}

// expireStaleRedirects abandons service requests the server never
// answered so a dead chat-join cannot pin its pending entry forever.
func (s *Session) expireStaleRedirects() {
	const redirectTimeout = 45 * time.Second
	s.mu.Lock()
	for foodgroup, p := range s.pendingServices {
		if time.Since(p.requested) > redirectTimeout {
			delete(s.pendingServices, foodgroup)
			Warning("service request %04x timed out", foodgroup)
		}
	}
	s.mu.Unlock()
}

func (s *Session) emitRateWarning(foodgroup, subtype uint16) {
	if s.callbacks != nil && s.callbacks.OnRateWarning != nil {
		s.callbacks.OnRateWarning(s, foodgroup, subtype)
	}
}

func (s *Session) emitProtocolError(kind, detail string) {
	if s.metrics != nil {
		s.metrics.IncrementError(kind)
	}
	if s.callbacks != nil && s.callbacks.OnProtocolError != nil {
		s.callbacks.OnProtocolError(s, kind, detail)
	}
}

// registerBaseHandlers installs the handlers every session needs before
// any connection exists. Service-specific handlers are registered per
// kind; the rate-change handler is registered for every kind because
// the subtype is kind-agnostic.
func (s *Session) registerBaseHandlers() {
	allKinds := []ConnKind{ConnAuth, ConnBOS, ConnChatNav, ConnChat, ConnAdmin, ConnAlert, ConnBART}
	for _, kind := range allKinds {
		kind := kind
		s.RegisterHandler(kind, FAMILY_OSERVICE, OSERVICE_RATE_CHANGE, s.handleRateChange)
		s.RegisterHandler(kind, FAMILY_OSERVICE, OSERVICE_HOST_ONLINE, s.handleHostOnline)
		s.RegisterHandler(kind, FAMILY_OSERVICE, OSERVICE_RATES_REPLY, s.handleRatesReply)
		s.RegisterHandler(kind, FAMILY_OSERVICE, OSERVICE_ERROR, s.handleOServiceError)
	}

	s.RegisterHandler(ConnAuth, FAMILY_BUCP, BUCP_CHALLENGE_REPLY, s.handleBucpChallengeReply)
	s.RegisterHandler(ConnAuth, FAMILY_BUCP, BUCP_LOGIN_RESPONSE, s.handleBucpLoginResponse)

	s.RegisterHandler(ConnBOS, FAMILY_OSERVICE, OSERVICE_SERVICE_RESP, s.handleServiceResponse)
	s.RegisterHandler(ConnBOS, FAMILY_OSERVICE, OSERVICE_MIGRATE, s.handleMigrate)
	s.RegisterHandler(ConnBOS, FAMILY_BUDDY, BUDDY_ARRIVED, s.handleBuddyArrived)
	s.RegisterHandler(ConnBOS, FAMILY_BUDDY, BUDDY_DEPARTED, s.handleBuddyDeparted)
	s.RegisterHandler(ConnBOS, FAMILY_ICBM, ICBM_TO_CLIENT, s.handleInboundICBM)
	s.RegisterHandler(ConnBOS, FAMILY_ICBM, ICBM_CLIENT_EVENT, s.handleTypingEvent)
	s.RegisterHandler(ConnBOS, FAMILY_ICBM, ICBM_MISSED_CALLS, s.handleMissedCalls)
	s.RegisterHandler(ConnBOS, FAMILY_ICBM, ICBM_HOST_ACK, s.handleIcbmHostAck)
	s.RegisterHandler(ConnBOS, FAMILY_ICBM, ICBM_ERROR, s.handleIcbmError)

	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_REPLY, s.handleFeedbagReply)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_REPLY_NOT_MOD, s.handleFeedbagNotModified)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_STATUS, s.handleFeedbagStatus)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_AUTH_REQUESTED, s.handleAuthRequested)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_AUTH_REPLY, s.handleAuthReply)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_INSERT_ITEM, s.handleServerInsert)
	s.RegisterHandler(ConnBOS, FAMILY_FEEDBAG, FEEDBAG_DELETE_ITEM, s.handleServerDelete)

	s.RegisterHandler(ConnBART, FAMILY_BART, BART_DOWNLOAD_REPLY, s.handleBartDownloadReply)

	s.RegisterHandler(ConnChatNav, FAMILY_CHAT_NAV, CHAT_NAV_INFO_REPLY, s.handleChatNavReply)
	s.RegisterHandler(ConnChat, FAMILY_CHAT, CHAT_USERS_JOINED, s.handleChatUsersJoined)
	s.RegisterHandler(ConnChat, FAMILY_CHAT, CHAT_USERS_LEFT, s.handleChatUsersLeft)
	s.RegisterHandler(ConnChat, FAMILY_CHAT, CHAT_MSG_TO_CLIENT, s.handleChatMessage)
}

// handleOServiceError logs a generic service error without touching the
// connection; recurring uninterpretable traffic is handled by the
// violation counter instead.
func (s *Session) handleOServiceError(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	code, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype, Detail: "truncated error"})
		return
	}
	Warning("%s service error 0x%04x", conn.kind, code)
	s.emitProtocolError("service-error", fmt.Sprintf("%s: code 0x%04x", conn.kind, code))
}
