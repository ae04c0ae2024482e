package go_oscar

import (
	"context"
	"testing"
	"time"
)

func TestNormalizeScreenName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"CoolGuy99", "coolguy99"},
		{"cool guy 99", "coolguy99"},
		{"COOL GUY 99", "coolguy99"},
		{"coolguy99", "coolguy99"},
	}
	for _, tc := range cases {
		if got := NormalizeScreenName(tc.in); got != tc.want {
			t.Errorf("NormalizeScreenName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestApplyUserInfoTLVs(t *testing.T) {
	caps := NewStream(nil)
	caps.WriteCapability(CAP_FILE_TRANSFER)
	caps.WriteCapability(CAP_CHAT)

	signon := NewStream(nil)
	signon.WriteUint32(1000000000)

	var info BuddyInfo
	applyUserInfoTLVs(&info, []TLV{
		{Type: USERINFO_TLV_CLASS, Value: []byte{0x00, byte(USER_CLASS_AWAY)}},
		{Type: USERINFO_TLV_SIGNON_TIME, Value: signon.Bytes()},
		{Type: USERINFO_TLV_IDLE_TIME, Value: []byte{0x00, 0x0f}},
		{Type: USERINFO_TLV_CAPABILITIES, Value: caps.Bytes()},
	})

	if !info.Away {
		t.Error("away class flag not applied")
	}
	if info.IdleMinutes != 15 {
		t.Errorf("idle = %d, want 15", info.IdleMinutes)
	}
	if info.OnlineSince.Unix() != 1000000000 {
		t.Errorf("online since = %v", info.OnlineSince)
	}
	if !info.HasCapability(CAP_FILE_TRANSFER) || !info.HasCapability(CAP_CHAT) {
		t.Error("capabilities not applied")
	}
	if info.HasCapability(CAP_DIRECT_IM) {
		t.Error("phantom capability reported")
	}
}

func TestArrivalDepartureTransitions(t *testing.T) {
	type event struct {
		name   string
		online bool
	}
	var events []event
	s := newTestSession(&SessionCallbacks{
		OnPresenceChanged: func(_ *Session, info *BuddyInfo, online bool) {
			events = append(events, event{info.ScreenName, online})
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	arrival := buildUserInfo("pal", 0, []TLV{
		{Type: USERINFO_TLV_CLASS, Value: []byte{0x00, 0x00}},
	})
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0, arrival))
	// The same arrival again must not re-announce an online contact.
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0, arrival))

	departure := buildUserInfo("pal", 0, nil)
	s.handleBuddyDeparted(conn, NewSNAC(FAMILY_BUDDY, BUDDY_DEPARTED, 0, departure))
	s.handleBuddyDeparted(conn, NewSNAC(FAMILY_BUDDY, BUDDY_DEPARTED, 0, departure))

	want := []event{{"pal", true}, {"pal", false}}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %v, want %v", i, events[i], want[i])
		}
	}

	if info := s.Buddy("pal"); info == nil || info.Online {
		t.Errorf("cached record after departure: %+v", info)
	}
}

func TestDepartureResetsTransientState(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnBOS)

	arrival := buildUserInfo("pal", 0, []TLV{
		{Type: USERINFO_TLV_CLASS, Value: []byte{0x00, byte(USER_CLASS_AWAY)}},
		{Type: USERINFO_TLV_IDLE_TIME, Value: []byte{0x00, 0x2a}},
	})
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0, arrival))

	if info := s.Buddy("pal"); !info.Away || info.IdleMinutes != 42 {
		t.Fatalf("arrival state not applied: %+v", info)
	}

	s.handleBuddyDeparted(conn, NewSNAC(FAMILY_BUDDY, BUDDY_DEPARTED, 0, buildUserInfo("pal", 0, nil)))
	info := s.Buddy("pal")
	if info.Away || info.IdleMinutes != 0 {
		t.Errorf("transient state survived departure: %+v", info)
	}
}

func TestMultipleArrivalBlocksInOneFrame(t *testing.T) {
	var arrived []string
	s := newTestSession(&SessionCallbacks{
		OnPresenceChanged: func(_ *Session, info *BuddyInfo, online bool) {
			if online {
				arrived = append(arrived, info.ScreenName)
			}
		},
	})
	conn, _ := newTestConn(s, ConnBOS)

	frame := append(buildUserInfo("one", 0, nil), buildUserInfo("two", 10, nil)...)
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0, frame))

	if len(arrived) != 2 || arrived[0] != "one" || arrived[1] != "two" {
		t.Fatalf("arrived = %v", arrived)
	}
	if info := s.Buddy("two"); info.WarningLevel != 10 {
		t.Errorf("warning level = %d, want 10", info.WarningLevel)
	}
}

func TestIconFetchGating(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	_, ft := newTestConn(s, ConnBOS)

	iconInfo := NewStream(nil)
	iconInfo.WriteUint32(5555) // timestamp
	iconInfo.Write([]byte{0xde, 0xad, 0xbe, 0xef})

	// First sighting: metadata is new, so a fetch (here, a BART service
	// request since no BART connection is up) goes out.
	s.considerIconFetch("pal", iconInfo.Bytes())
	first := len(ft.sentSNACs())
	if first == 0 {
		t.Fatal("new icon metadata did not trigger a fetch")
	}

	// Same metadata again: no new traffic.
	s.considerIconFetch("pal", iconInfo.Bytes())
	if got := len(ft.sentSNACs()); got != first {
		t.Errorf("unchanged icon metadata sent %d extra SNACs", got-first)
	}

	info := s.Buddy("pal")
	if info.IconTimestamp != 5555 || string(info.IconChecksum) != "\xde\xad\xbe\xef" {
		t.Errorf("icon metadata not cached: %+v", info)
	}
}

func TestWaitForBuddy(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnBOS)

	go func() {
		time.Sleep(50 * time.Millisecond)
		s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0,
			buildUserInfo("slowpoke", 0, nil)))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s.WaitForBuddy(ctx, "slowpoke")
	if err != nil {
		t.Fatalf("WaitForBuddy: %v", err)
	}
	if !info.Online || info.ScreenName != "slowpoke" {
		t.Errorf("info = %+v", info)
	}
}

func TestRequestBuddyIconUsesBARTConnection(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	newTestConn(s, ConnBOS)
	_, bart := newTestConn(s, ConnBART)

	// The call crosses the session lock to find the BART connection;
	// it must come back, not wedge the calling goroutine.
	done := make(chan error, 1)
	go func() { done <- s.RequestBuddyIcon("pal", []byte{0xde, 0xad, 0xbe, 0xef}) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RequestBuddyIcon: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RequestBuddyIcon did not return")
	}

	snacs := bart.sentSNACs()
	if len(snacs) != 1 || snacs[0].Foodgroup != FAMILY_BART || snacs[0].Subtype != BART_DOWNLOAD {
		t.Fatalf("icon query not sent on the BART connection: %+v", snacs)
	}
}

func TestTypingCapableFromCapabilities(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnBOS)

	caps := NewStream(nil)
	_ = caps.WriteCapability(CAP_TYPING)
	_ = caps.WriteCapability(CAP_FILE_TRANSFER)
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0,
		buildUserInfo("typist", 0, []TLV{{Type: USERINFO_TLV_CAPABILITIES, Value: caps.Bytes()}})))
	s.handleBuddyArrived(conn, NewSNAC(FAMILY_BUDDY, BUDDY_ARRIVED, 0,
		buildUserInfo("quiet", 0, nil)))

	if !s.Buddy("typist").TypingCapable() {
		t.Error("typing capability not derived from the capabilities block")
	}
	if s.Buddy("quiet").TypingCapable() {
		t.Error("contact without capabilities reported typing-capable")
	}
}
