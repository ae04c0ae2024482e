package go_oscar

import (
	"sync"
	"time"
)

// Rate governor
//
// The server assigns every (foodgroup, subtype) pair to a rate class
// and pushes each class's window size and thresholds at handshake time
// (rates reply) and whenever they change (rate-change, subtype 0x0a on
// any connection kind). The client mirrors the server's own windowed
// running average so it can throttle itself before the server
// disconnects it for flooding.
//
// The artificial delays below the limit threshold (window/4, window/2)
// reproduce observed client behavior rather than anything documented;
// they are plain constants so recalibration against live server
// behavior is a one-line change.

const (
	rateDelayAlertDivisor = 4
	rateDelayLimitDivisor = 2
)

// rateAvgSamples is the smoothing span of the running average: each
// send contributes 1/rateAvgSamples of its cost.
const rateAvgSamples = 8

// Rate-change notification codes (subtype 0x0a, first uint16).
const (
	RATE_CODE_CHANGE  uint16 = 0x0001
	RATE_CODE_WARNING uint16 = 0x0002
	RATE_CODE_LIMIT   uint16 = 0x0003
	RATE_CODE_CLEAR   uint16 = 0x0004
)

// RateClass is one server-defined throttling bucket.
type RateClass struct {
	ID         uint16
	WindowSize uint32
	Clear      uint32
	Alert      uint32
	Limit      uint32
	Disconnect uint32
	CurrentAvg uint32
	MaxAvg     uint32

	lastSend time.Time
	warned   bool // one warning per limit episode
}

type rateGovernor struct {
	mu      sync.Mutex
	classes map[uint16]*RateClass
	// members maps foodgroup<<16|subtype to its class ID
	members map[uint32]uint16
}

func newRateGovernor() *rateGovernor {
	return &rateGovernor{
		classes: make(map[uint16]*RateClass),
		members: make(map[uint32]uint16),
	}
}

func memberKey(foodgroup, subtype uint16) uint32 {
	return uint32(foodgroup)<<16 | uint32(subtype)
}

// ingestRatesReply parses the rates reply (0x01/0x07): a class count,
// that many class records, then per-class member lists of (foodgroup,
// subtype) pairs. Returns the class IDs for the acknowledgment frame.
func (g *rateGovernor) ingestRatesReply(stream *Stream) ([]uint16, error) {
	count, err := stream.ReadUint16()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]uint16, 0, count)
	for i := 0; i < int(count); i++ {
		rc := &RateClass{lastSend: time.Now()}
		if rc.ID, err = stream.ReadUint16(); err != nil {
			return nil, err
		}
		if rc.WindowSize, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.Clear, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.Alert, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.Limit, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.Disconnect, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.CurrentAvg, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		if rc.MaxAvg, err = stream.ReadUint32(); err != nil {
			return nil, err
		}
		// Trailing per-class state (last observed time, current state
		// byte) present in protocol version 3 replies.
		if stream.Len() >= 5 {
			if _, err = stream.ReadUint32(); err != nil {
				return nil, err
			}
			if _, err = stream.ReadByte(); err != nil {
				return nil, err
			}
		}
		g.classes[rc.ID] = rc
		ids = append(ids, rc.ID)
	}

	// Member lists: classID, pair count, then the pairs.
	for stream.Len() >= 4 {
		classID, err := stream.ReadUint16()
		if err != nil {
			return nil, err
		}
		pairs, err := stream.ReadUint16()
		if err != nil {
			return nil, err
		}
		for p := 0; p < int(pairs); p++ {
			foodgroup, err := stream.ReadUint16()
			if err != nil {
				return nil, err
			}
			subtype, err := stream.ReadUint16()
			if err != nil {
				return nil, err
			}
			g.members[memberKey(foodgroup, subtype)] = classID
		}
	}

	Debug("rate governor loaded %d classes, %d member pairs", len(g.classes), len(g.members))
	return ids, nil
}

// onRateChange applies a server-pushed rate-change (0x01/0x0a). The
// code distinguishes parameter changes from warning/limit/clear
// transitions; a clear resets the one-time warning latch.
func (g *rateGovernor) onRateChange(code uint16, rc RateClass) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing := g.classes[rc.ID]
	if existing == nil {
		existing = &RateClass{ID: rc.ID, lastSend: time.Now()}
		g.classes[rc.ID] = existing
	}
	existing.WindowSize = rc.WindowSize
	existing.Clear = rc.Clear
	existing.Alert = rc.Alert
	existing.Limit = rc.Limit
	existing.Disconnect = rc.Disconnect
	existing.CurrentAvg = rc.CurrentAvg
	existing.MaxAvg = rc.MaxAvg

	switch code {
	case RATE_CODE_CLEAR:
		existing.warned = false
		Debug("rate class %d cleared", rc.ID)
	case RATE_CODE_LIMIT:
		Warning("rate class %d hit server limit", rc.ID)
	case RATE_CODE_WARNING:
		Debug("rate class %d warning from server", rc.ID)
	}
}

// beforeSend consults the class for the given (foodgroup, subtype) and
// returns the delay to impose plus whether a one-time rate warning
// should be surfaced. The running average is a windowed measure of send
// pressure: each send contributes the shortfall between its gap and the
// window, so rapid sends push the average up and idle time decays it:
//
//	cost = max(0, window - msSinceLastSend)
//	avg  = min(maxAvg, (avg*(samples-1) + cost) / samples)
//
// Below clear the warning latch resets; between alert and limit a
// window/4 delay is imposed; at or past limit, window/2 and the
// warning fires once per episode.
func (g *rateGovernor) beforeSend(foodgroup, subtype uint16) (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	classID, ok := g.members[memberKey(foodgroup, subtype)]
	if !ok {
		return 0, false
	}
	rc := g.classes[classID]
	if rc == nil || rc.WindowSize == 0 {
		return 0, false
	}

	now := time.Now()
	sinceLast := uint32(now.Sub(rc.lastSend) / time.Millisecond)
	rc.lastSend = now

	var cost uint32
	if sinceLast < rc.WindowSize {
		cost = rc.WindowSize - sinceLast
	}
	avg64 := (int64(rc.CurrentAvg)*(rateAvgSamples-1) + int64(cost)) / rateAvgSamples
	if rc.MaxAvg > 0 && avg64 > int64(rc.MaxAvg) {
		avg64 = int64(rc.MaxAvg)
	}
	avg := uint32(avg64)
	rc.CurrentAvg = avg

	switch {
	case avg >= rc.Limit:
		warn := !rc.warned
		rc.warned = true
		return time.Duration(rc.WindowSize/rateDelayLimitDivisor) * time.Millisecond, warn
	case avg >= rc.Alert:
		return time.Duration(rc.WindowSize/rateDelayAlertDivisor) * time.Millisecond, false
	case avg < rc.Clear:
		rc.warned = false
		return 0, false
	default:
		return 0, false
	}
}

// class returns a copy of the named rate class for inspection.
func (g *rateGovernor) class(id uint16) (RateClass, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rc := g.classes[id]
	if rc == nil {
		return RateClass{}, false
	}
	return *rc, true
}

// handleRateChange is the kind-agnostic handler for 0x01/0x0a frames.
func (s *Session) handleRateChange(conn *Connection, snac *SNAC) {
	stream := NewStream(snac.Data)
	code, err := stream.ReadUint16()
	if err != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated rate change"})
		return
	}
	var rc RateClass
	readErr := firstErr16_32(stream, &rc)
	if readErr != nil {
		conn.protocolViolation(&ProtocolViolation{Foodgroup: snac.Foodgroup, Subtype: snac.Subtype,
			Detail: "truncated rate class record"})
		return
	}
	s.rates.onRateChange(code, rc)
	if code == RATE_CODE_LIMIT {
		s.emitRateWarning(0, 0)
	}
}

// firstErr16_32 reads a rate class record: id then seven uint32 fields.
func firstErr16_32(stream *Stream, rc *RateClass) error {
	var err error
	if rc.ID, err = stream.ReadUint16(); err != nil {
		return err
	}
	for _, dst := range []*uint32{&rc.WindowSize, &rc.Clear, &rc.Alert, &rc.Limit, &rc.Disconnect, &rc.CurrentAvg, &rc.MaxAvg} {
		if *dst, err = stream.ReadUint32(); err != nil {
			return err
		}
	}
	return nil
}
