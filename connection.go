package go_oscar

import (
	"bytes"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ConnKind identifies which OSCAR service a connection speaks to.
// The handler table is keyed by (kind, foodgroup, subtype), so the same
// SNAC code can mean different things on different service sockets.
type ConnKind int

const (
	ConnAuth ConnKind = iota
	ConnBOS
	ConnChatNav
	ConnChat
	ConnAdmin
	ConnAlert
	ConnBART
	ConnRendezvous
)

func (k ConnKind) String() string {
	switch k {
	case ConnAuth:
		return "auth"
	case ConnBOS:
		return "bos"
	case ConnChatNav:
		return "chatnav"
	case ConnChat:
		return "chat"
	case ConnAdmin:
		return "admin"
	case ConnAlert:
		return "alert"
	case ConnBART:
		return "bart"
	case ConnRendezvous:
		return "rendezvous"
	default:
		return "unknown"
	}
}

// serviceKind maps a redirect's requested foodgroup to the kind of
// connection the redirect opens.
func serviceKind(foodgroup uint16) ConnKind {
	switch foodgroup {
	case FAMILY_CHAT_NAV:
		return ConnChatNav
	case FAMILY_CHAT:
		return ConnChat
	case FAMILY_ADMIN:
		return ConnAdmin
	case FAMILY_ALERT:
		return ConnAlert
	case FAMILY_BART:
		return ConnBART
	default:
		return ConnBOS
	}
}

// Connection is one OSCAR service socket: the transport, its inbound
// byte accumulator, and the outbound FLAP sequence counter. A chat
// connection additionally carries its room name and exchange.
//
// Lifecycle: created on redirect or explicit service request, then the
// cookie SignOn handshake, then ready (frames flow), then torn down on
// error or explicit close. The Connection owns its socket exclusively;
// teardown releases it exactly once.
type Connection struct {
	kind      ConnKind
	session   *Session
	transport transport
	inbound   *bytes.Buffer

	// sendMu serializes outbound frames: the sequence counter must
	// advance by exactly one per frame and frames must not interleave.
	// It also guards the deferred queue, which holds SNACs held back
	// by the rate governor so callers never sleep.
	sendMu     sync.Mutex
	sequence   uint16
	deferred   []*SNAC
	flushArmed bool

	cookie []byte
	ready  bool // guarded by session.mu

	// chat room identity, ConnChat only
	roomName string
	exchange uint16

	violations int

	closed    chan struct{}
	closeOnce sync.Once
}

func newConnection(session *Session, kind ConnKind, tr transport, cookie []byte) *Connection {
	return &Connection{
		kind:      kind,
		session:   session,
		transport: tr,
		inbound:   bytes.NewBuffer(nil),
		// Sequence numbers start at a random value below 0x8000 and
		// increase monotonically per connection.
		sequence: uint16(rand.Intn(0x8000)),
		cookie:   cookie,
		closed:   make(chan struct{}),
	}
}

// Kind returns the connection's service kind.
func (c *Connection) Kind() ConnKind { return c.kind }

// Ready reports whether the service handshake has completed.
func (c *Connection) Ready() bool {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.ready
}

// RoomName returns the chat room identifier for ConnChat connections.
func (c *Connection) RoomName() string { return c.roomName }

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// start spawns the reader goroutine that feeds decoded FLAP frames to
// the session's dispatch loop. Frames from one connection reach the
// loop in arrival order; there is no cross-connection ordering.
func (c *Connection) start() {
	c.session.wg.Add(1)
	go c.readLoop()
}

func (c *Connection) readLoop() {
	defer c.session.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := c.transport.Receive(buf)
		if err != nil {
			if !c.isClosed() {
				c.session.enqueue(connEvent{conn: c, err: err})
			}
			return
		}
		c.inbound.Write(buf[:n])
		for {
			frame, err := DecodeFLAP(c.inbound)
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			if err != nil {
				// Malformed framing poisons the whole byte stream:
				// tear down this connection, not the session.
				Error("%s connection: %v", c.kind, err)
				c.session.enqueue(connEvent{conn: c, err: err})
				return
			}
			c.session.enqueue(connEvent{conn: c, frame: frame})
		}
	}
}

// nextSequence returns the next outbound FLAP sequence number.
func (c *Connection) nextSequence() uint16 {
	c.sequence = (c.sequence + 1) & 0x7fff
	return c.sequence
}

// sendFLAP encodes and writes one FLAP envelope.
func (c *Connection) sendFLAP(frameType uint8, data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendFLAPLocked(frameType, data)
}

// sendFLAPLocked is sendFLAP with sendMu already held.
func (c *Connection) sendFLAPLocked(frameType uint8, data []byte) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	frame, err := EncodeFLAP(frameType, c.nextSequence(), data)
	if err != nil {
		return err
	}
	if _, err := c.transport.Send(frame); err != nil {
		return err
	}
	if m := c.session.metrics; m != nil {
		m.AddBytesSent(uint64(len(frame)))
	}
	return nil
}

// SendSNAC writes a SNAC inside a FLAP data frame, first consulting the
// rate governor. When the governor imposes a delay the frame is queued
// and flushed by a timer rather than sleeping on the caller, which may
// be the dispatch goroutine. Queued frames keep their relative order;
// a deferred frame's transport error surfaces through connection
// teardown instead of the SendSNAC return.
func (c *Connection) SendSNAC(snac *SNAC) error {
	delay, warn := c.session.rates.beforeSend(snac.Foodgroup, snac.Subtype)
	if warn {
		c.session.emitRateWarning(snac.Foodgroup, snac.Subtype)
	}
	if m := c.session.metrics; m != nil {
		m.IncrementSNACSent(snac.Foodgroup)
	}
	c.sendMu.Lock()
	if delay > 0 || len(c.deferred) > 0 {
		c.deferred = append(c.deferred, snac)
		if !c.flushArmed {
			c.flushArmed = true
			time.AfterFunc(delay, c.flushDeferred)
		}
		c.sendMu.Unlock()
		Debug("rate governor deferring %04x/%04x send by %s", snac.Foodgroup, snac.Subtype, delay)
		return nil
	}
	defer c.sendMu.Unlock()
	return c.sendFLAPLocked(FLAP_FRAME_DATA, EncodeSNAC(snac))
}

// flushDeferred drains the rate-deferred queue in order.
func (c *Connection) flushDeferred() {
	c.sendMu.Lock()
	queued := c.deferred
	c.deferred = nil
	c.flushArmed = false
	c.sendMu.Unlock()
	for _, snac := range queued {
		if err := c.sendFLAP(FLAP_FRAME_DATA, EncodeSNAC(snac)); err != nil {
			if !c.isClosed() {
				Warning("%s connection: deferred send: %v", c.kind, err)
				c.session.enqueue(connEvent{conn: c, err: err})
			}
			return
		}
	}
}

// sendKeepAlive writes an empty keep-alive frame.
func (c *Connection) sendKeepAlive() error {
	return c.sendFLAP(FLAP_FRAME_KEEPALIVE, nil)
}

// close releases the socket exactly once. It marks the connection
// closed before touching the transport so no handler dispatched after
// this point can observe a live socket.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.transport.Disconnect(); err != nil {
			Debug("%s connection close: %v", c.kind, err)
		}
	})
}

// protocolViolation records a frame the connection's handlers could not
// interpret. The connection survives until violations recur past the
// session's threshold.
func (c *Connection) protocolViolation(v *ProtocolViolation) {
	c.violations++
	Warning("%s connection: %v (%d/%d)", c.kind, v, c.violations, c.session.violationThreshold)
	c.session.emitProtocolError("violation", v.Error())
	if c.violations >= c.session.violationThreshold {
		Error("%s connection: violation threshold reached, tearing down", c.kind)
		c.session.teardownConnection(c, v)
	}
}
