package go_oscar

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Rendezvous manager
//
// Channel-2 ICBMs negotiate peer-to-peer sessions: file transfers and
// direct IM. The three-message dance is PROPOSE / ACCEPT / CANCEL, all
// keyed by an 8-byte cookie chosen by the proposer and echoed verbatim
// by every later message of that exchange. Once accepted, the data
// itself flows over a raw TCP socket the proposer listens on, speaking
// the OFT framing for files and ODC framing for direct IM.

// RendezvousKind distinguishes the negotiated peer session type.
type RendezvousKind int

const (
	RendezvousFileTransfer RendezvousKind = iota
	RendezvousDirectIM
)

func (k RendezvousKind) String() string {
	if k == RendezvousDirectIM {
		return "direct-im"
	}
	return "file-transfer"
}

// RendezvousState tracks one exchange through its lifecycle. Terminal
// states (Complete, Canceled) are absorbing: no event moves a request
// out of them.
type RendezvousState int

const (
	RvProposed RendezvousState = iota
	RvAccepted
	RvConnecting
	RvEstablished
	RvTransferring
	RvComplete
	RvCanceled
)

func (st RendezvousState) String() string {
	switch st {
	case RvProposed:
		return "proposed"
	case RvAccepted:
		return "accepted"
	case RvConnecting:
		return "connecting"
	case RvEstablished:
		return "established"
	case RvTransferring:
		return "transferring"
	case RvComplete:
		return "complete"
	default:
		return "canceled"
	}
}

// RendezvousRequest is one proposed peer session.
type RendezvousRequest struct {
	Cookie   [OSCAR_COOKIE_LEN]byte
	Kind     RendezvousKind
	Peer     string
	Outgoing bool
	State    RendezvousState

	// File-transfer metadata; zero for direct IM.
	FileName    string
	FileSize    uint32
	FileCount   uint16
	Transferred uint32

	// Where the peer can be reached, from the proposal TLVs.
	PeerIP   net.IP
	PeerPort uint16

	localPath string
	listener  net.Listener
	sock      net.Conn
	session   *Session
	cancel    sync.Once
}

// errForState maps a terminal request to the sentinel callers get.
func (r *RendezvousRequest) errForState() error {
	if r.State == RvComplete || r.State == RvCanceled {
		return ErrRendezvousTerminal
	}
	return nil
}

// rendezvousCapability maps a kind to its wire GUID.
func rendezvousCapability(kind RendezvousKind) [16]byte {
	if kind == RendezvousDirectIM {
		return CAP_DIRECT_IM
	}
	return CAP_FILE_TRANSFER
}

// kindForCapability is the inverse mapping; ok is false for GUIDs this
// library does not negotiate.
func kindForCapability(cap [16]byte) (RendezvousKind, bool) {
	switch cap {
	case CAP_FILE_TRANSFER:
		return RendezvousFileTransfer, true
	case CAP_DIRECT_IM:
		return RendezvousDirectIM, true
	default:
		return 0, false
	}
}

// sendRendezvousICBM wraps a rendezvous block (status, cookie,
// capability, TLVs) in a channel-2 ICBM to the peer.
func (s *Session) sendRendezvousICBM(peer string, status uint16, cookie [OSCAR_COOKIE_LEN]byte,
	cap [16]byte, inner []TLV) error {
	conn, err := s.bosConn()
	if err != nil {
		return err
	}

	block := NewStream(nil)
	_ = block.WriteUint16(status)
	_ = block.WriteCookie(cookie)
	_ = block.WriteCapability(cap)
	for i := range inner {
		if err := EncodeTLV(block, inner[i]); err != nil {
			return err
		}
	}

	payload := NewStream(nil)
	_ = payload.WriteCookie(cookie)
	_ = payload.WriteUint16(ICBM_CHANNEL_RENDEZVOUS)
	_ = payload.WriteLenPrefixedString(peer)
	if err := EncodeTLV(payload, TLV{Type: ICBM_TLV_RENDEZVOUS, Value: block.Bytes()}); err != nil {
		return err
	}
	return conn.SendSNAC(NewSNAC(FAMILY_ICBM, ICBM_TO_HOST, s.nextRequestID(), payload.Bytes()))
}

// fileInfoBlock encodes the 0x2711 service data for a file offer:
// subtype (1 = one file), file count, total size, filename.
func fileInfoBlock(name string, size uint32, count uint16) []byte {
	stream := NewStream(nil)
	_ = stream.WriteUint16(0x0001)
	_ = stream.WriteUint16(count)
	_ = stream.WriteUint32(size)
	_, _ = stream.Write([]byte(name))
	_ = stream.WriteByte(0)
	return stream.Bytes()
}

// OfferFile proposes sending a local file to a contact. The returned
// request is in Proposed state; the transfer starts when the peer
// connects to the advertised listener and completes the OFT handshake.
func (s *Session) OfferFile(target, path string) (*RendezvousRequest, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("oscar: cannot offer %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("oscar: cannot offer a directory")
	}

	listener, port, err := listenRendezvous()
	if err != nil {
		return nil, err
	}

	req := &RendezvousRequest{
		Cookie:    newCookie(),
		Kind:      RendezvousFileTransfer,
		Peer:      target,
		Outgoing:  true,
		State:     RvProposed,
		FileName:  filepath.Base(path),
		FileSize:  uint32(fi.Size()),
		FileCount: 1,
		localPath: path,
		listener:  listener,
		session:   s,
	}

	localIP := s.localIPv4()
	inner := []TLV{
		{Type: RV_TLV_CHANNEL, Value: []byte{0x00, 0x01}},
		{Type: RV_TLV_PROPOSER_IP, Value: localIP},
		{Type: RV_TLV_INTERNAL_IP, Value: localIP},
		{Type: RV_TLV_PORT, Value: []byte{byte(port >> 8), byte(port)}},
		{Type: RV_TLV_REQUEST_NUM, Value: []byte{0x00, 0x01}},
		{Type: RV_TLV_FILE_INFO, Value: fileInfoBlock(req.FileName, req.FileSize, 1)},
	}
	if err := s.sendRendezvousICBM(target, RENDEZVOUS_PROPOSE, req.Cookie,
		rendezvousCapability(req.Kind), inner); err != nil {
		listener.Close()
		return nil, err
	}

	s.mu.Lock()
	s.rendezvous[req.Cookie] = req
	s.mu.Unlock()

	go s.awaitIncomingPeer(req)
	logTagged(TAG_RENDEZVOUS, "offered %s (%d bytes) to %s on port %d",
		req.FileName, req.FileSize, target, port)
	return req, nil
}

// listenRendezvous binds a listener in the conventional file-transfer
// port range, falling back to an ephemeral port when the range is
// exhausted.
func listenRendezvous() (net.Listener, uint16, error) {
	for port := 5190; port <= 5199; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return l, uint16(port), nil
		}
	}
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, 0, fmt.Errorf("oscar: no rendezvous port available: %w", err)
	}
	return l, uint16(l.Addr().(*net.TCPAddr).Port), nil
}

// localIPv4 picks a non-loopback IPv4 address to advertise in
// proposals, falling back to loopback.
func (s *Session) localIPv4() []byte {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if v4 := ipnet.IP.To4(); v4 != nil {
					return v4
				}
			}
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

// awaitIncomingPeer accepts exactly one peer connection on an outgoing
// offer's listener and runs the sender side of the transfer.
func (s *Session) awaitIncomingPeer(req *RendezvousRequest) {
	_ = req.listener.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Minute))
	sock, err := req.listener.Accept()
	req.listener.Close()
	if err != nil {
		s.failRendezvous(req, "accept", err)
		return
	}
	s.mu.Lock()
	if req.State == RvCanceled {
		s.mu.Unlock()
		sock.Close()
		return
	}
	req.sock = sock
	req.State = RvEstablished
	s.mu.Unlock()

	if s.callbacks != nil && s.callbacks.OnRendezvousAccepted != nil {
		s.callbacks.OnRendezvousAccepted(s, req)
	}
	if req.Kind == RendezvousDirectIM {
		s.serveDirectIM(req)
		return
	}
	s.sendFile(req)
}

// AcceptRendezvous accepts an inbound proposal: dials the proposer and
// runs the receiver side. For file transfers destDir names where the
// received file lands.
func (s *Session) AcceptRendezvous(cookie [OSCAR_COOKIE_LEN]byte, destDir string) error {
	s.mu.Lock()
	req, ok := s.rendezvous[cookie]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownRendezvous
	}
	if err := req.errForState(); err != nil {
		s.mu.Unlock()
		return err
	}
	if req.Outgoing {
		s.mu.Unlock()
		return fmt.Errorf("oscar: cannot accept own proposal")
	}
	req.State = RvConnecting
	req.localPath = filepath.Join(destDir, filepath.Base(req.FileName))
	peerIP, peerPort := req.PeerIP, req.PeerPort
	s.mu.Unlock()

	if peerIP == nil || peerPort == 0 {
		return &RendezvousFailed{Cookie: cookie, Stage: "accept",
			Err: fmt.Errorf("proposal carried no peer address")}
	}

	if err := s.sendRendezvousICBM(req.Peer, RENDEZVOUS_ACCEPT, cookie,
		rendezvousCapability(req.Kind), nil); err != nil {
		return err
	}

	go func() {
		addr := net.JoinHostPort(peerIP.String(), fmt.Sprintf("%d", peerPort))
		sock, err := net.DialTimeout("tcp", addr, 30*time.Second)
		if err != nil {
			s.failRendezvous(req, "dial", err)
			return
		}
		s.mu.Lock()
		if req.State == RvCanceled {
			s.mu.Unlock()
			sock.Close()
			return
		}
		req.sock = sock
		req.State = RvEstablished
		s.mu.Unlock()

		if s.callbacks != nil && s.callbacks.OnRendezvousAccepted != nil {
			s.callbacks.OnRendezvousAccepted(s, req)
		}
		if req.Kind == RendezvousDirectIM {
			s.serveDirectIM(req)
			return
		}
		s.receiveFile(req)
	}()
	return nil
}

// CancelRendezvous terminates an exchange from either side. The cancel
// notification to the peer and the callback fire at most once no matter
// how many paths race to cancel (user action, socket error, session
// teardown).
func (s *Session) CancelRendezvous(cookie [OSCAR_COOKIE_LEN]byte, reason string) error {
	s.mu.Lock()
	req, ok := s.rendezvous[cookie]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownRendezvous
	}
	s.cancelRendezvous(req, reason, true)
	return nil
}

func (s *Session) cancelRendezvous(req *RendezvousRequest, reason string, notifyPeer bool) {
	req.cancel.Do(func() {
		s.mu.Lock()
		terminal := req.State == RvComplete
		if !terminal {
			req.State = RvCanceled
		}
		sock, listener := req.sock, req.listener
		s.mu.Unlock()
		if terminal {
			return
		}

		if sock != nil {
			sock.Close()
		}
		if listener != nil {
			listener.Close()
		}
		if notifyPeer {
			if err := s.sendRendezvousICBM(req.Peer, RENDEZVOUS_CANCEL, req.Cookie,
				rendezvousCapability(req.Kind),
				[]TLV{{Type: RV_TLV_CANCEL_REASON, Value: []byte{0x00, 0x01}}}); err != nil {
				Debug("rendezvous cancel notification: %v", err)
			}
		}
		logTagged(TAG_RENDEZVOUS, "canceled %s with %s: %s", req.Kind, req.Peer, reason)
		if s.callbacks != nil && s.callbacks.OnRendezvousCanceled != nil {
			s.callbacks.OnRendezvousCanceled(s, req, reason)
		}
	})
}

// failRendezvous cancels with a typed error and reports it.
func (s *Session) failRendezvous(req *RendezvousRequest, stage string, err error) {
	failure := &RendezvousFailed{Cookie: req.Cookie, Stage: stage, Err: err}
	Warning("rendezvous with %s failed: %v", req.Peer, failure)
	s.cancelRendezvous(req, failure.Error(), true)
}

// completeRendezvous marks a transfer done and fires the completion
// callback; a request that already went terminal stays put.
func (s *Session) completeRendezvous(req *RendezvousRequest) {
	s.mu.Lock()
	if req.State == RvCanceled {
		s.mu.Unlock()
		return
	}
	req.State = RvComplete
	sock := req.sock
	s.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
	logTagged(TAG_RENDEZVOUS, "%s with %s complete (%d bytes)", req.Kind, req.Peer, req.Transferred)
	if s.callbacks != nil && s.callbacks.OnRendezvousComplete != nil {
		s.callbacks.OnRendezvousComplete(s, req)
	}
}

// cancelAllRendezvous cancels every live exchange, used at session
// teardown. Peers cannot be notified over a closed BOS socket, so
// notifications are skipped.
func (s *Session) cancelAllRendezvous(reason string) {
	s.mu.Lock()
	reqs := make([]*RendezvousRequest, 0, len(s.rendezvous))
	for _, r := range s.rendezvous {
		reqs = append(reqs, r)
	}
	s.mu.Unlock()
	for _, r := range reqs {
		s.cancelRendezvous(r, reason, false)
	}
}

// rendezvousConnDown reacts to losing a FLAP connection: without the
// BOS signaling path, proposals still waiting for an answer can never
// complete the handshake. Established transfers keep running on their
// own sockets.
func (s *Session) rendezvousConnDown(c *Connection) {
	if c.kind != ConnBOS {
		return
	}
	s.mu.Lock()
	var stale []*RendezvousRequest
	for _, r := range s.rendezvous {
		if r.State == RvProposed || r.State == RvAccepted || r.State == RvConnecting {
			stale = append(stale, r)
		}
	}
	s.mu.Unlock()
	for _, r := range stale {
		s.cancelRendezvous(r, "signaling connection lost", false)
	}
}

// Rendezvous returns the request for a cookie, or nil.
func (s *Session) Rendezvous(cookie [OSCAR_COOKIE_LEN]byte) *RendezvousRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendezvous[cookie]
}

// handleChannel2 routes an inbound rendezvous block by its status
// word. All three statuses echo the exchange cookie; an ACCEPT or
// CANCEL whose cookie matches nothing is dropped with a log line
// because the exchange may have legitimately timed out locally.
func (s *Session) handleChannel2(from string, cookie [OSCAR_COOKIE_LEN]byte, tlvs []TLV) {
	rvTlv := FindTLV(tlvs, ICBM_TLV_RENDEZVOUS)
	if rvTlv == nil {
		Debug("channel-2 ICBM from %s without rendezvous TLV", from)
		return
	}
	stream := NewStream(rvTlv.Value)
	status, err := stream.ReadUint16()
	if err != nil {
		return
	}
	echoCookie, err := stream.ReadCookie()
	if err != nil {
		return
	}
	cap, err := stream.ReadCapability()
	if err != nil {
		return
	}
	inner, err := DecodeTLVs(stream)
	if err != nil {
		Debug("channel-2 ICBM from %s with bad inner TLVs: %v", from, err)
		return
	}

	switch status {
	case RENDEZVOUS_PROPOSE:
		s.handleRendezvousProposal(from, echoCookie, cap, inner)
	case RENDEZVOUS_ACCEPT:
		s.mu.Lock()
		req := s.rendezvous[echoCookie]
		if req != nil && req.State == RvProposed {
			req.State = RvAccepted
		}
		s.mu.Unlock()
		if req == nil {
			Debug("accept from %s for unknown rendezvous %x", from, echoCookie)
		}
	case RENDEZVOUS_CANCEL:
		s.mu.Lock()
		req := s.rendezvous[echoCookie]
		s.mu.Unlock()
		if req == nil {
			Debug("cancel from %s for unknown rendezvous %x", from, echoCookie)
			return
		}
		s.cancelRendezvous(req, "canceled by peer", false)
	}
}

// handleRendezvousProposal materializes an inbound proposal and hands
// it to the collaborator for an accept/cancel decision.
func (s *Session) handleRendezvousProposal(from string, cookie [OSCAR_COOKIE_LEN]byte,
	cap [16]byte, inner []TLV) {
	kind, ok := kindForCapability(cap)
	if !ok {
		Debug("proposal from %s with unsupported capability %x", from, cap)
		return
	}

	req := &RendezvousRequest{
		Cookie:  cookie,
		Kind:    kind,
		Peer:    from,
		State:   RvProposed,
		session: s,
	}
	if t := FindTLV(inner, RV_TLV_VERIFIED_IP); t != nil && len(t.Value) == 4 {
		req.PeerIP = net.IP(t.Value)
	} else if t := FindTLV(inner, RV_TLV_PROPOSER_IP); t != nil && len(t.Value) == 4 {
		req.PeerIP = net.IP(t.Value)
	}
	if t := FindTLV(inner, RV_TLV_PORT); t != nil && len(t.Value) == 2 {
		req.PeerPort = binary.BigEndian.Uint16(t.Value)
	}
	if t := FindTLV(inner, RV_TLV_FILE_INFO); t != nil {
		parseFileInfo(req, t.Value)
	}

	s.mu.Lock()
	if _, dup := s.rendezvous[cookie]; dup {
		s.mu.Unlock()
		Debug("duplicate proposal %x from %s, dropping", cookie, from)
		return
	}
	s.rendezvous[cookie] = req
	s.mu.Unlock()

	logTagged(TAG_RENDEZVOUS, "%s proposed by %s (%s, %d bytes)",
		req.Kind, from, req.FileName, req.FileSize)
	if s.callbacks != nil && s.callbacks.OnRendezvousProposed != nil {
		s.callbacks.OnRendezvousProposed(s, req)
	}
}

// parseFileInfo decodes the 0x2711 service block of a file proposal.
func parseFileInfo(req *RendezvousRequest, value []byte) {
	stream := NewStream(value)
	if _, err := stream.ReadUint16(); err != nil { // subtype
		return
	}
	count, err := stream.ReadUint16()
	if err != nil {
		return
	}
	size, err := stream.ReadUint32()
	if err != nil {
		return
	}
	req.FileCount = count
	req.FileSize = size
	name := stream.Bytes()
	for len(name) > 0 && name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}
	// The proposer controls this string; strip any path components so
	// it cannot escape the destination directory.
	req.FileName = filepath.Base(string(name))
}

// reportProgress updates the transferred counter and fires the
// progress callback.
func (s *Session) reportProgress(req *RendezvousRequest, transferred uint32) {
	s.mu.Lock()
	req.Transferred = transferred
	total := req.FileSize
	s.mu.Unlock()
	if s.callbacks != nil && s.callbacks.OnRendezvousProgress != nil {
		s.callbacks.OnRendezvousProgress(s, req, transferred, total)
	}
}
