package go_oscar

import (
	"testing"
	"time"
)

func buildRatesReply(t *testing.T, classes []RateClass, members map[uint16][][2]uint16) []byte {
	t.Helper()
	stream := NewStream(nil)
	stream.WriteUint16(uint16(len(classes)))
	for _, rc := range classes {
		stream.WriteUint16(rc.ID)
		stream.WriteUint32(rc.WindowSize)
		stream.WriteUint32(rc.Clear)
		stream.WriteUint32(rc.Alert)
		stream.WriteUint32(rc.Limit)
		stream.WriteUint32(rc.Disconnect)
		stream.WriteUint32(rc.CurrentAvg)
		stream.WriteUint32(rc.MaxAvg)
		// Protocol version 3 trailing state: last time, state byte.
		stream.WriteUint32(0)
		stream.WriteByte(0)
	}
	for classID, pairs := range members {
		stream.WriteUint16(classID)
		stream.WriteUint16(uint16(len(pairs)))
		for _, pair := range pairs {
			stream.WriteUint16(pair[0])
			stream.WriteUint16(pair[1])
		}
	}
	return stream.Bytes()
}

func TestRatesReplyParse(t *testing.T) {
	data := buildRatesReply(t,
		[]RateClass{{
			ID:         1,
			WindowSize: 800,
			Clear:      100,
			Alert:      300,
			Limit:      600,
			Disconnect: 650,
			CurrentAvg: 0,
			MaxAvg:     700,
		}},
		map[uint16][][2]uint16{
			1: {{FAMILY_ICBM, ICBM_TO_HOST}},
		})

	g := newRateGovernor()
	ids, err := g.ingestRatesReply(NewStream(data))
	if err != nil {
		t.Fatalf("ingestRatesReply: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("class IDs = %v, want [1]", ids)
	}

	rc, ok := g.class(1)
	if !ok {
		t.Fatal("class 1 not registered")
	}
	if rc.WindowSize != 800 || rc.Clear != 100 || rc.Alert != 300 ||
		rc.Limit != 600 || rc.Disconnect != 650 || rc.MaxAvg != 700 {
		t.Fatalf("class 1 thresholds wrong: %+v", rc)
	}

	if _, mapped := g.members[memberKey(FAMILY_ICBM, ICBM_TO_HOST)]; !mapped {
		t.Error("ICBM send pair not mapped to class 1")
	}
	if delay, warn := g.beforeSend(FAMILY_FEEDBAG, FEEDBAG_QUERY); delay != 0 || warn {
		t.Errorf("unmapped pair imposed delay=%v warn=%v, want zero", delay, warn)
	}
}

// testGovernor builds a governor with a single pre-loaded class so the
// throttling math can be exercised without a rates reply frame.
func testGovernor() *rateGovernor {
	g := newRateGovernor()
	g.classes[1] = &RateClass{
		ID:         1,
		WindowSize: 800,
		Clear:      100,
		Alert:      300,
		Limit:      600,
		Disconnect: 650,
		MaxAvg:     700,
		lastSend:   time.Now(),
	}
	g.members[memberKey(FAMILY_ICBM, ICBM_TO_HOST)] = 1
	return g
}

func TestBeforeSendDelayMonotonic(t *testing.T) {
	g := testGovernor()

	var (
		prevDelay time.Duration
		warnCount int
		hitLimit  bool
	)
	for i := 0; i < 40; i++ {
		// Pin every send to zero elapsed time so each one carries the
		// full window cost.
		g.classes[1].lastSend = time.Now()
		delay, warn := g.beforeSend(FAMILY_ICBM, ICBM_TO_HOST)
		if delay < prevDelay {
			t.Fatalf("send %d: delay %v dropped below previous %v", i, delay, prevDelay)
		}
		prevDelay = delay
		if warn {
			warnCount++
		}
		if g.classes[1].CurrentAvg >= g.classes[1].Limit {
			hitLimit = true
		}
	}

	if !hitLimit {
		t.Fatalf("average never reached limit: stuck at %d", g.classes[1].CurrentAvg)
	}
	if warnCount != 1 {
		t.Errorf("rate warning fired %d times, want exactly once", warnCount)
	}
	if want := time.Duration(800/rateDelayLimitDivisor) * time.Millisecond; prevDelay != want {
		t.Errorf("delay at limit = %v, want %v", prevDelay, want)
	}
	if g.classes[1].CurrentAvg > g.classes[1].MaxAvg {
		t.Errorf("average %d exceeds max %d", g.classes[1].CurrentAvg, g.classes[1].MaxAvg)
	}
}

func TestBeforeSendIdleDecay(t *testing.T) {
	g := testGovernor()
	g.classes[1].CurrentAvg = 650
	g.classes[1].warned = true

	// A long idle gap costs nothing, so the average decays each send.
	for i := 0; i < 60; i++ {
		g.classes[1].lastSend = time.Now().Add(-2 * time.Second)
		g.beforeSend(FAMILY_ICBM, ICBM_TO_HOST)
	}

	if avg := g.classes[1].CurrentAvg; avg >= g.classes[1].Clear {
		t.Fatalf("average %d did not decay below clear %d", avg, g.classes[1].Clear)
	}
	if delay, warn := g.beforeSend(FAMILY_ICBM, ICBM_TO_HOST); delay != 0 || warn {
		t.Errorf("decayed class still throttled: delay=%v warn=%v", delay, warn)
	}
	if g.classes[1].warned {
		t.Error("warning latch not reset after dropping below clear")
	}
}

func TestRateChangeClearResetsWarning(t *testing.T) {
	g := testGovernor()
	g.classes[1].CurrentAvg = 650
	g.classes[1].warned = true

	g.onRateChange(RATE_CODE_CLEAR, RateClass{
		ID:         1,
		WindowSize: 800,
		Clear:      100,
		Alert:      300,
		Limit:      600,
		Disconnect: 650,
		CurrentAvg: 50,
		MaxAvg:     700,
	})

	rc, ok := g.class(1)
	if !ok {
		t.Fatal("class 1 missing after rate change")
	}
	if rc.warned {
		t.Error("clear notification did not reset the warning latch")
	}
	if rc.CurrentAvg != 50 {
		t.Errorf("server-pushed average not adopted: got %d", rc.CurrentAvg)
	}
}

func TestRateChangeCreatesUnknownClass(t *testing.T) {
	g := newRateGovernor()
	g.onRateChange(RATE_CODE_CHANGE, RateClass{ID: 9, WindowSize: 100, Clear: 10, Alert: 20, Limit: 30})
	rc, ok := g.class(9)
	if !ok {
		t.Fatal("rate change for unknown class did not register it")
	}
	if rc.WindowSize != 100 {
		t.Errorf("window = %d, want 100", rc.WindowSize)
	}
}
