// Session struct definition
package go_oscar

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// AuthState tracks the login state machine:
// Disconnected -> AuthPending -> AwaitingCookie -> ServiceConnecting ->
// ServiceReady. Service redirects re-enter the ServiceConnecting leg
// per auxiliary connection without leaving ServiceReady.
type AuthState int

const (
	StateDisconnected AuthState = iota
	StateAuthPending
	StateAwaitingCookie
	StateServiceConnecting
	StateServiceReady
)

func (s AuthState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthPending:
		return "auth-pending"
	case StateAwaitingCookie:
		return "awaiting-cookie"
	case StateServiceConnecting:
		return "service-connecting"
	case StateServiceReady:
		return "service-ready"
	default:
		return "unknown"
	}
}

type handlerKey struct {
	kind      ConnKind
	foodgroup uint16
	subtype   uint16
}

// HandlerFunc processes one inbound SNAC on the dispatch goroutine.
// Handlers must not block; multi-step flows store their state on the
// Session and advance on the next inbound frame or timer tick.
type HandlerFunc func(conn *Connection, snac *SNAC)

// connEvent is one unit of work for the dispatch loop: either a decoded
// frame or a connection failure.
type connEvent struct {
	conn  *Connection
	frame *FLAPFrame
	err   error
}

// pendingService tracks an in-flight service redirect, keyed by the
// requested foodgroup. Multiple redirects may be in flight at once.
type pendingService struct {
	foodgroup  uint16
	kind       ConnKind
	roomName   string // chat joins carry the room through the redirect
	exchange   uint16
	roomCookie []byte
	requested  time.Time
}

// Session is the top-level owner of all connections, the authenticated
// identity, per-contact presence caches, the rate-limit state, and the
// rendezvous and feedbag managers. Created at login start, destroyed at
// sign-off; it outlives any single connection. Multiple sessions can
// coexist without interference: there is no process-global state.
type Session struct {
	mu        sync.Mutex
	callbacks *SessionCallbacks
	logger    *Logger

	properties map[string]string

	screenName string
	state      AuthState
	// password is retained only between Connect and login completion
	password string

	conns    map[*Connection]struct{}
	handlers map[handlerKey]HandlerFunc

	events   chan connEvent
	shutdown chan struct{}
	wg       sync.WaitGroup
	running  bool

	rates *rateGovernor

	buddies map[string]*BuddyInfo
	typing  map[string]TypingState

	rendezvous map[[OSCAR_COOKIE_LEN]byte]*RendezvousRequest

	ssi *ssiState

	pendingServices map[uint16]*pendingService
	chatRooms       map[string]*Connection
	// joins queued until the chat-nav connection is up
	pendingChatJoins []chatJoin

	// login completion signal for Connect
	authDone chan error

	requestID uint32 // atomic; SNAC request id counter

	metrics     MetricsCollector
	breaker     *CircuitBreaker
	iconLimiter *rate.Limiter

	violationThreshold int
}

func (s *Session) nextRequestID() uint32 {
	return atomic.AddUint32(&s.requestID, 1)
}

// State returns the current login state.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state AuthState) {
	s.mu.Lock()
	old := s.state
	s.state = state
	s.mu.Unlock()
	if old != state {
		Debug("session state %s -> %s", old, state)
	}
}

// ScreenName returns the authenticated identity.
func (s *Session) ScreenName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenName
}

// SetMetrics installs a metrics collector. Pass nil to disable.
func (s *Session) SetMetrics(m MetricsCollector) {
	s.metrics = m
}
