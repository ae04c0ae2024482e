package go_oscar

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestConcurrentSendsKeepSequenceContiguous(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, ft := newTestConn(s, ConnBOS)

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if err := conn.SendSNAC(NewSNAC(FAMILY_ICBM, ICBM_TO_HOST, 0, nil)); err != nil {
					t.Errorf("SendSNAC: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	acc := bytes.NewBuffer(ft.sentBytes())
	var seqs []uint16
	for {
		frame, err := DecodeFLAP(acc)
		if err != nil {
			break
		}
		seqs = append(seqs, frame.Sequence)
	}
	if len(seqs) != senders*perSender {
		t.Fatalf("decoded %d frames, want %d", len(seqs), senders*perSender)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != (seqs[i-1]+1)&0x7fff {
			t.Fatalf("frame %d: sequence %d does not follow %d", i, seqs[i], seqs[i-1])
		}
	}
}

func TestSendSNACDefersGovernedSend(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, ft := newTestConn(s, ConnBOS)

	// A class already over its limit, so every send draws the full
	// window/2 delay.
	s.rates.classes[1] = &RateClass{
		ID:         1,
		WindowSize: 400,
		Clear:      10,
		Alert:      20,
		Limit:      30,
		Disconnect: 35,
		CurrentAvg: 600,
		MaxAvg:     700,
		lastSend:   time.Now(),
		warned:     true,
	}
	s.rates.members[memberKey(FAMILY_ICBM, ICBM_TO_HOST)] = 1

	start := time.Now()
	for i := uint32(1); i <= 3; i++ {
		if err := conn.SendSNAC(NewSNAC(FAMILY_ICBM, ICBM_TO_HOST, i, nil)); err != nil {
			t.Fatalf("SendSNAC: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("governed sends blocked the caller for %v", elapsed)
	}
	if got := len(ft.sentSNACs()); got != 0 {
		t.Fatalf("%d governed frames went out before the delay elapsed", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ft.sentSNACs()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("deferred frames never flushed, got %d", len(ft.sentSNACs()))
		}
		time.Sleep(5 * time.Millisecond)
	}
	for i, snac := range ft.sentSNACs() {
		if snac.RequestID != uint32(i+1) {
			t.Fatalf("deferred frame %d carries requestID %d, want %d", i, snac.RequestID, i+1)
		}
	}
}
