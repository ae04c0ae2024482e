package go_oscar

import (
	"crypto/md5"
	"errors"
	"testing"
	"time"
)

// A login response carrying an error code must surface a
// differentiated AuthError and leave no service connection behind.
func TestLoginErrorResponseDelivers(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnAuth)
	done := make(chan error, 1)
	s.authDone = done

	payload := NewStream(nil)
	if err := EncodeTLVUint16(payload, TLV_ERROR_CODE, LOGIN_ERR_MISMATCH_NICKNAME); err != nil {
		t.Fatal(err)
	}
	if err := EncodeTLVString(payload, 0x0004, "https://example.org/help"); err != nil {
		t.Fatal(err)
	}
	s.handleBucpLoginResponse(conn, NewSNAC(FAMILY_BUCP, BUCP_LOGIN_RESPONSE, 2, payload.Bytes()))

	select {
	case err := <-done:
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("got %T (%v), want *AuthError", err, err)
		}
		if authErr.Kind != AuthErrInvalidCredentials {
			t.Errorf("kind = %v, want invalid credentials", authErr.Kind)
		}
		if authErr.Code != LOGIN_ERR_MISMATCH_NICKNAME {
			t.Errorf("code = 0x%04x, want 0x%04x", authErr.Code, LOGIN_ERR_MISMATCH_NICKNAME)
		}
		if authErr.URL != "https://example.org/help" {
			t.Errorf("url = %q", authErr.URL)
		}
	case <-time.After(time.Second):
		t.Fatal("login outcome never delivered")
	}

	if c := s.connByKind(ConnBOS); c != nil {
		t.Error("failed login opened a service connection")
	}
}

func TestLoginResponseMissingRedirect(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnAuth)
	done := make(chan error, 1)
	s.authDone = done

	// No error code, but no host/cookie either.
	s.handleBucpLoginResponse(conn, NewSNAC(FAMILY_BUCP, BUCP_LOGIN_RESPONSE, 2, nil))

	select {
	case err := <-done:
		var pv *ProtocolViolation
		if !errors.As(err, &pv) {
			t.Fatalf("got %T (%v), want *ProtocolViolation", err, err)
		}
	case <-time.After(time.Second):
		t.Fatal("login outcome never delivered")
	}
}

// The challenge reply must produce a login request whose password hash
// is MD5(challenge + MD5(password) + salt).
func TestChallengeReplyHashing(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, ft := newTestConn(s, ConnAuth)
	s.password = "hunter2"

	challenge := []byte("0123456789abcdef")
	payload := NewStream(nil)
	payload.WriteUint16(uint16(len(challenge)))
	payload.Write(challenge)
	s.handleBucpChallengeReply(conn, NewSNAC(FAMILY_BUCP, BUCP_CHALLENGE_REPLY, 1, payload.Bytes()))

	snacs := ft.sentSNACs()
	if len(snacs) != 1 {
		t.Fatalf("sent %d SNACs, want the login request", len(snacs))
	}
	login := snacs[0]
	if login.Foodgroup != FAMILY_BUCP || login.Subtype != BUCP_LOGIN_REQUEST {
		t.Fatalf("sent %04x/%04x, want BUCP login request", login.Foodgroup, login.Subtype)
	}

	tlvs, err := DecodeTLVs(NewStream(login.Data))
	if err != nil {
		t.Fatalf("login request TLVs: %v", err)
	}
	if name := FindTLV(tlvs, TLV_SCREEN_NAME); name == nil || name.String() != "testuser" {
		t.Errorf("screen name TLV = %v", name)
	}

	inner := md5.Sum([]byte("hunter2"))
	hasher := md5.New()
	hasher.Write(challenge)
	hasher.Write(inner[:])
	hasher.Write(bucpSalt)
	want := hasher.Sum(nil)

	hashTlv := FindTLV(tlvs, TLV_PASSWORD_HASH)
	if hashTlv == nil {
		t.Fatal("login request missing password hash TLV")
	}
	if string(hashTlv.Value) != string(want) {
		t.Error("password hash does not match the challenge-response formula")
	}
	if s.State() != StateAwaitingCookie {
		t.Errorf("state = %v, want awaiting cookie", s.State())
	}
}

// On non-auth connections, the FLAP SignOn answer presents the login
// cookie instead of starting a challenge.
func TestSignOnPresentsCookie(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	ft := newFakeTransport()
	cookie := []byte{0xaa, 0xbb, 0xcc}
	conn := newConnection(s, ConnBOS, ft, cookie)
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.handleSignOnFrame(conn, &FLAPFrame{FrameType: FLAP_FRAME_SIGNON})

	acc := NewStream(ft.sentBytes())
	frame, err := DecodeFLAP(acc.Buffer)
	if err != nil {
		t.Fatalf("no FLAP frame sent: %v", err)
	}
	if frame.FrameType != FLAP_FRAME_SIGNON {
		t.Fatalf("frame type %d, want SignOn", frame.FrameType)
	}
	body := NewStream(frame.Data)
	version, err := body.ReadUint32()
	if err != nil || version != 1 {
		t.Fatalf("FLAP version = %d (%v), want 1", version, err)
	}
	tlvs, err := DecodeTLVs(body)
	if err != nil {
		t.Fatalf("signon TLVs: %v", err)
	}
	got := FindTLV(tlvs, TLV_LOGIN_COOKIE)
	if got == nil || string(got.Value) != string(cookie) {
		t.Errorf("cookie TLV = %v, want the redirect cookie", got)
	}
}

func TestAuthErrorMapping(t *testing.T) {
	cases := []struct {
		code uint16
		kind AuthErrorKind
	}{
		{LOGIN_ERR_INVALID_NICKNAME, AuthErrInvalidCredentials},
		{LOGIN_ERR_INVALID_PASSWORD, AuthErrInvalidCredentials},
		{LOGIN_ERR_MISMATCH_NICKNAME, AuthErrInvalidCredentials},
		{LOGIN_ERR_SUSPENDED, AuthErrSuspended},
		{LOGIN_ERR_SERVICE_DOWN, AuthErrTemporarilyUnavailable},
		{LOGIN_ERR_UNAVAILABLE, AuthErrTemporarilyUnavailable},
		{LOGIN_ERR_RATE_LIMITED, AuthErrRateLimited},
		{LOGIN_ERR_RATE_LIMITED_IP, AuthErrRateLimited},
		{LOGIN_ERR_OLD_CLIENT, AuthErrVersionTooOld},
		{LOGIN_ERR_OLD_CLIENT_FORCE, AuthErrVersionTooOld},
		{0x9999, AuthErrServiceUnavailable},
	}
	for _, tc := range cases {
		got := authErrorFromCode(tc.code, "")
		if got.Kind != tc.kind {
			t.Errorf("code 0x%04x: kind %v, want %v", tc.code, got.Kind, tc.kind)
		}
		if got.Code != tc.code {
			t.Errorf("code 0x%04x not preserved: %04x", tc.code, got.Code)
		}
	}
}

func TestClientReadyPayloadPerKind(t *testing.T) {
	for _, kind := range []ConnKind{ConnBOS, ConnChat, ConnChatNav, ConnBART} {
		payload := clientReadyPayload(kind)
		if len(payload) == 0 || len(payload)%8 != 0 {
			t.Errorf("%v: payload length %d not a whole number of group records", kind, len(payload))
		}
		stream := NewStream(payload)
		family, _ := stream.ReadUint16()
		if family != FAMILY_OSERVICE {
			t.Errorf("%v: first group %04x, want oservice", kind, family)
		}
	}
}
