package go_oscar

import (
	"sync"
	"sync/atomic"
)

// MetricsCollector receives protocol-level counters from the session.
// Implementations must be safe for concurrent use: connection readers
// and the dispatch goroutine both report into it.
type MetricsCollector interface {
	IncrementSNACSent(foodgroup uint16)
	IncrementSNACReceived(foodgroup uint16)
	IncrementMessageReceived(channel uint16)
	AddBytesSent(n uint64)
	AddBytesReceived(n uint64)
	IncrementError(kind string)
	SetConnectionState(state string)
}

// InMemoryMetrics is a MetricsCollector backed by plain counters, for
// tests and callers that poll.
type InMemoryMetrics struct {
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	mu            sync.Mutex
	snacSent      map[uint16]uint64
	snacReceived  map[uint16]uint64
	messages      map[uint16]uint64
	errors        map[string]uint64
	state         string
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		snacSent:     make(map[uint16]uint64),
		snacReceived: make(map[uint16]uint64),
		messages:     make(map[uint16]uint64),
		errors:       make(map[string]uint64),
		state:        "disconnected",
	}
}

func (m *InMemoryMetrics) IncrementSNACSent(foodgroup uint16) {
	m.mu.Lock()
	m.snacSent[foodgroup]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) IncrementSNACReceived(foodgroup uint16) {
	m.mu.Lock()
	m.snacReceived[foodgroup]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) IncrementMessageReceived(channel uint16) {
	m.mu.Lock()
	m.messages[channel]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) AddBytesSent(n uint64)     { m.bytesSent.Add(n) }
func (m *InMemoryMetrics) AddBytesReceived(n uint64) { m.bytesReceived.Add(n) }

func (m *InMemoryMetrics) IncrementError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) SetConnectionState(state string) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// BytesSent returns the running outbound byte total.
func (m *InMemoryMetrics) BytesSent() uint64 { return m.bytesSent.Load() }

// BytesReceived returns the running inbound byte total.
func (m *InMemoryMetrics) BytesReceived() uint64 { return m.bytesReceived.Load() }

// SNACsSent returns the send count for a foodgroup.
func (m *InMemoryMetrics) SNACsSent(foodgroup uint16) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snacSent[foodgroup]
}

// SNACsReceived returns the receive count for a foodgroup.
func (m *InMemoryMetrics) SNACsReceived(foodgroup uint16) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snacReceived[foodgroup]
}

// MessagesReceived returns the message count for an ICBM channel.
func (m *InMemoryMetrics) MessagesReceived(channel uint16) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[channel]
}

// Errors returns the count for an error kind.
func (m *InMemoryMetrics) Errors(kind string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

// ConnectionState returns the last reported state.
func (m *InMemoryMetrics) ConnectionState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
