package go_oscar

import (
	"bytes"
	"net"
	"sync"
)

// fakeTransport is an in-memory transport: Send appends to a buffer the
// test can inspect, Receive blocks until the transport is closed.
type fakeTransport struct {
	mu     sync.Mutex
	sent   bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closed: make(chan struct{})}
}

func (f *fakeTransport) Connect() error { return nil }

func (f *fakeTransport) Send(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent.Write(buf)
}

func (f *fakeTransport) Receive(buf []byte) (int, error) {
	<-f.closed
	return 0, ErrConnectionClosed
}

func (f *fakeTransport) Disconnect() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5190}
}

// sentBytes returns everything written to the transport so far.
func (f *fakeTransport) sentBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.sent.Bytes()...)
}

// sentSNACs decodes every data-frame SNAC written to the transport.
func (f *fakeTransport) sentSNACs() []*SNAC {
	acc := bytes.NewBuffer(f.sentBytes())
	var snacs []*SNAC
	for {
		frame, err := DecodeFLAP(acc)
		if err != nil {
			return snacs
		}
		if frame.FrameType != FLAP_FRAME_DATA {
			continue
		}
		snac, err := DecodeSNAC(frame.Data)
		if err != nil {
			continue
		}
		snacs = append(snacs, snac)
	}
}

// newTestSession builds a session without starting the dispatch loop,
// so tests drive handlers synchronously.
func newTestSession(callbacks *SessionCallbacks) *Session {
	s := NewSession(callbacks)
	s.screenName = "testuser"
	return s
}

// newTestConn attaches a fake-transport connection of the given kind.
// The read loop is not started; tests feed frames to handlers directly.
func newTestConn(s *Session, kind ConnKind) (*Connection, *fakeTransport) {
	ft := newFakeTransport()
	conn := newConnection(s, kind, ft, nil)
	conn.ready = true
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	return conn, ft
}

// buildUserInfo encodes a user-info block for arrival and chat frames.
func buildUserInfo(name string, warning uint16, tlvs []TLV) []byte {
	stream := NewStream(nil)
	_ = stream.WriteLenPrefixedString(name)
	_ = stream.WriteUint16(warning)
	_ = stream.WriteUint16(uint16(len(tlvs)))
	for i := range tlvs {
		_ = EncodeTLV(stream, tlvs[i])
	}
	return stream.Bytes()
}
