package go_oscar

import (
	"sync"
	"testing"
)

func TestInMemoryMetricsCounters(t *testing.T) {
	m := NewInMemoryMetrics()

	m.IncrementSNACSent(FAMILY_ICBM)
	m.IncrementSNACSent(FAMILY_ICBM)
	m.IncrementSNACReceived(FAMILY_FEEDBAG)
	m.IncrementMessageReceived(ICBM_CHANNEL_TEXT)
	m.AddBytesSent(100)
	m.AddBytesSent(50)
	m.AddBytesReceived(7)
	m.IncrementError("protocol-violation")
	m.SetConnectionState("connected")

	if got := m.SNACsSent(FAMILY_ICBM); got != 2 {
		t.Errorf("SNACsSent = %d, want 2", got)
	}
	if got := m.SNACsSent(FAMILY_CHAT); got != 0 {
		t.Errorf("untouched foodgroup count = %d", got)
	}
	if got := m.SNACsReceived(FAMILY_FEEDBAG); got != 1 {
		t.Errorf("SNACsReceived = %d, want 1", got)
	}
	if got := m.MessagesReceived(ICBM_CHANNEL_TEXT); got != 1 {
		t.Errorf("MessagesReceived = %d, want 1", got)
	}
	if got := m.BytesSent(); got != 150 {
		t.Errorf("BytesSent = %d, want 150", got)
	}
	if got := m.BytesReceived(); got != 7 {
		t.Errorf("BytesReceived = %d, want 7", got)
	}
	if got := m.Errors("protocol-violation"); got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
	if got := m.ConnectionState(); got != "connected" {
		t.Errorf("ConnectionState = %q", got)
	}
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	m := NewInMemoryMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementSNACSent(FAMILY_ICBM)
				m.AddBytesSent(1)
			}
		}()
	}
	wg.Wait()
	if got := m.SNACsSent(FAMILY_ICBM); got != 1600 {
		t.Errorf("SNACsSent = %d, want 1600", got)
	}
	if got := m.BytesSent(); got != 1600 {
		t.Errorf("BytesSent = %d, want 1600", got)
	}
}

// Session-level wiring: sending a SNAC reports both the frame and its
// bytes to the collector.
func TestSessionReportsMetrics(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	m := NewInMemoryMetrics()
	s.SetMetrics(m)
	conn, _ := newTestConn(s, ConnBOS)

	if err := conn.SendSNAC(NewSNAC(FAMILY_ICBM, ICBM_TO_HOST, 1, []byte{0x01})); err != nil {
		t.Fatalf("SendSNAC: %v", err)
	}
	if got := m.SNACsSent(FAMILY_ICBM); got != 1 {
		t.Errorf("SNACsSent = %d, want 1", got)
	}
	if m.BytesSent() == 0 {
		t.Error("no outbound bytes reported")
	}
}
