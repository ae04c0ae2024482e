package go_oscar

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestOFTHeaderRoundTrip(t *testing.T) {
	want := &oftHeader{
		Type:       OFT_TYPE_PROMPT,
		Cookie:     [OSCAR_COOKIE_LEN]byte{1, 2, 3, 4, 5, 6, 7, 8},
		TotalFiles: 1,
		FilesLeft:  1,
		TotalSize:  4096,
		Size:       4096,
		ModTime:    1234567890,
		Checksum:   0xdead0000,
		Name:       "photo.jpg",
	}
	got, err := decodeOFTHeader(bytes.NewReader(encodeOFTHeader(want)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != want.Type || got.Cookie != want.Cookie ||
		got.TotalFiles != want.TotalFiles || got.Size != want.Size ||
		got.ModTime != want.ModTime || got.Checksum != want.Checksum ||
		got.Name != want.Name {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestOFTHeaderNameTruncated(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'n'
	}
	h := &oftHeader{Type: OFT_TYPE_PROMPT, Name: string(long)}
	got, err := decodeOFTHeader(bytes.NewReader(encodeOFTHeader(h)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Name) != 63 {
		t.Errorf("name survived as %d bytes, want 63", len(got.Name))
	}
}

func TestOFTHeaderBadMagic(t *testing.T) {
	buf := encodeOFTHeader(&oftHeader{Type: OFT_TYPE_ACK})
	copy(buf[0:4], "NOPE")
	if _, err := decodeOFTHeader(bytes.NewReader(buf)); err == nil {
		t.Fatal("bad magic accepted")
	}
}

// The checksum must not depend on how the byte stream is chunked.
func TestOftSumChunkIndependence(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	whole := newOftSum()
	whole.feed(data)

	for _, split := range []int{1, 3, 511, 999} {
		chunked := newOftSum()
		for off := 0; off < len(data); {
			end := off + split
			if end > len(data) {
				end = len(data)
			}
			chunked.feed(data[off:end])
			off = end
		}
		if chunked.value() != whole.value() {
			t.Errorf("split %d: checksum %08x, want %08x", split, chunked.value(), whole.value())
		}
	}
}

func TestChecksumFileMatchesFeed(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := filepath.Join(t.TempDir(), "payload.txt")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	direct := newOftSum()
	direct.feed(data)

	fromFile, err := checksumFile(path)
	if err != nil {
		t.Fatalf("checksumFile: %v", err)
	}
	if fromFile != direct.value() {
		t.Errorf("file checksum %08x, want %08x", fromFile, direct.value())
	}
}

func TestODCFrameRoundTrip(t *testing.T) {
	cookie := [OSCAR_COOKIE_LEN]byte{9, 8, 7, 6, 5, 4, 3, 2}
	frame := encodeODCFrame(cookie, "sender", []byte("hello there"))
	from, payload, err := readODCFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("readODCFrame: %v", err)
	}
	if from != "sender" {
		t.Errorf("from = %q", from)
	}
	if string(payload) != "hello there" {
		t.Errorf("payload = %q", payload)
	}
}

func TestODCFrameRefusesOversizedPayload(t *testing.T) {
	frame := encodeODCFrame([OSCAR_COOKIE_LEN]byte{}, "x", nil)
	// Claim a payload far past the per-message ceiling.
	frame[28], frame[29], frame[30], frame[31] = 0xff, 0xff, 0xff, 0xff
	if _, _, err := readODCFrame(bytes.NewReader(frame)); err == nil {
		t.Fatal("oversized payload accepted")
	}
}

// buildProposalTLV assembles the channel-2 rendezvous block of a file
// offer the way a remote proposer would.
func buildProposalTLV(t *testing.T, status uint16, cookie [OSCAR_COOKIE_LEN]byte,
	cap [16]byte, inner []TLV) []TLV {
	t.Helper()
	block := NewStream(nil)
	block.WriteUint16(status)
	block.WriteCookie(cookie)
	block.WriteCapability(cap)
	for i := range inner {
		if err := EncodeTLV(block, inner[i]); err != nil {
			t.Fatal(err)
		}
	}
	return []TLV{{Type: ICBM_TLV_RENDEZVOUS, Value: block.Bytes()}}
}

func TestInboundProposal(t *testing.T) {
	var proposed []*RendezvousRequest
	s := newTestSession(&SessionCallbacks{
		OnRendezvousProposed: func(_ *Session, req *RendezvousRequest) {
			proposed = append(proposed, req)
		},
	})
	newTestConn(s, ConnBOS)

	cookie := [OSCAR_COOKIE_LEN]byte{0xc1, 0xc1, 0xc1, 0xc1, 0xc1, 0xc1, 0xc1, 0xc1}
	inner := []TLV{
		{Type: RV_TLV_PROPOSER_IP, Value: []byte{10, 0, 0, 1}},
		{Type: RV_TLV_VERIFIED_IP, Value: []byte{192, 168, 1, 5}},
		{Type: RV_TLV_PORT, Value: []byte{0x14, 0x46}},
		{Type: RV_TLV_FILE_INFO, Value: fileInfoBlock("../../evil.txt", 2048, 1)},
	}
	s.handleChannel2("peerguy", cookie,
		buildProposalTLV(t, RENDEZVOUS_PROPOSE, cookie, CAP_FILE_TRANSFER, inner))

	if len(proposed) != 1 {
		t.Fatalf("got %d proposal callbacks, want 1", len(proposed))
	}
	req := proposed[0]
	if req.Cookie != cookie || req.Peer != "peerguy" || req.Kind != RendezvousFileTransfer {
		t.Errorf("request identity wrong: %+v", req)
	}
	if !req.PeerIP.Equal(net.IPv4(192, 168, 1, 5)) {
		t.Errorf("peer IP %v, want the verified address", req.PeerIP)
	}
	if req.PeerPort != 0x1446 {
		t.Errorf("peer port %d, want %d", req.PeerPort, 0x1446)
	}
	if req.FileName != "evil.txt" {
		t.Errorf("file name %q: path components must be stripped", req.FileName)
	}
	if req.FileSize != 2048 {
		t.Errorf("file size %d, want 2048", req.FileSize)
	}

	// The same proposal replayed must not surface twice.
	s.handleChannel2("peerguy", cookie,
		buildProposalTLV(t, RENDEZVOUS_PROPOSE, cookie, CAP_FILE_TRANSFER, inner))
	if len(proposed) != 1 {
		t.Errorf("duplicate proposal surfaced: %d callbacks", len(proposed))
	}
}

func TestInboundAcceptMovesProposalForward(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	newTestConn(s, ConnBOS)

	cookie := [OSCAR_COOKIE_LEN]byte{1, 1, 1, 1, 1, 1, 1, 1}
	req := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "peerguy", Outgoing: true, State: RvProposed, session: s}
	s.rendezvous[cookie] = req

	s.handleChannel2("peerguy", cookie,
		buildProposalTLV(t, RENDEZVOUS_ACCEPT, cookie, CAP_FILE_TRANSFER, nil))
	if req.State != RvAccepted {
		t.Errorf("state after accept = %v, want accepted", req.State)
	}

	// An accept for a cookie nobody proposed is dropped.
	other := [OSCAR_COOKIE_LEN]byte{2, 2, 2, 2, 2, 2, 2, 2}
	s.handleChannel2("peerguy", other,
		buildProposalTLV(t, RENDEZVOUS_ACCEPT, other, CAP_FILE_TRANSFER, nil))
}

func TestCancelFiresExactlyOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		canceled int
	)
	s := newTestSession(&SessionCallbacks{
		OnRendezvousCanceled: func(_ *Session, _ *RendezvousRequest, _ string) {
			mu.Lock()
			canceled++
			mu.Unlock()
		},
	})
	newTestConn(s, ConnBOS)

	cookie := [OSCAR_COOKIE_LEN]byte{3, 3, 3, 3, 3, 3, 3, 3}
	req := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "peerguy", State: RvProposed, session: s}
	s.rendezvous[cookie] = req

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.CancelRendezvous(cookie, "user canceled")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if canceled != 1 {
		t.Fatalf("cancel callback fired %d times, want 1", canceled)
	}
	if req.State != RvCanceled {
		t.Errorf("state = %v, want canceled", req.State)
	}
}

func TestTerminalStateAbsorbs(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	newTestConn(s, ConnBOS)

	cookie := [OSCAR_COOKIE_LEN]byte{4, 4, 4, 4, 4, 4, 4, 4}
	req := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "peerguy", State: RvTransferring, session: s}
	s.rendezvous[cookie] = req

	s.completeRendezvous(req)
	if req.State != RvComplete {
		t.Fatalf("state = %v, want complete", req.State)
	}

	// A late cancel must not yank a finished transfer back.
	s.cancelRendezvous(req, "late", false)
	if req.State != RvComplete {
		t.Errorf("cancel moved a complete transfer to %v", req.State)
	}

	if err := s.AcceptRendezvous(cookie, t.TempDir()); err != ErrRendezvousTerminal {
		t.Errorf("accepting a terminal exchange: got %v, want ErrRendezvousTerminal", err)
	}
}

func TestAcceptUnknownRendezvous(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	if err := s.AcceptRendezvous([OSCAR_COOKIE_LEN]byte{0xff}, t.TempDir()); err != ErrUnknownRendezvous {
		t.Errorf("got %v, want ErrUnknownRendezvous", err)
	}
	if err := s.CancelRendezvous([OSCAR_COOKIE_LEN]byte{0xff}, "x"); err != ErrUnknownRendezvous {
		t.Errorf("got %v, want ErrUnknownRendezvous", err)
	}
}

// End-to-end transfer over an in-memory socket pair: the sender prompts,
// the receiver acks the same exchange cookie, bytes flow, and both sides
// finish in the complete state with matching file contents.
func TestFileTransferEndToEnd(t *testing.T) {
	data := make([]byte, 70000) // spans multiple transfer chunks
	for i := range data {
		data[i] = byte(i * 13)
	}
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "archive.bin")
	if err := os.WriteFile(src, data, 0o600); err != nil {
		t.Fatal(err)
	}

	var (
		mu       sync.Mutex
		complete int
		progress int
	)
	callbacks := &SessionCallbacks{
		OnRendezvousComplete: func(_ *Session, _ *RendezvousRequest) {
			mu.Lock()
			complete++
			mu.Unlock()
		},
		OnRendezvousProgress: func(_ *Session, _ *RendezvousRequest, _, _ uint32) {
			mu.Lock()
			progress++
			mu.Unlock()
		},
	}
	s := newTestSession(callbacks)
	newTestConn(s, ConnBOS)

	cookie := [OSCAR_COOKIE_LEN]byte{0xc1, 0, 0, 0, 0, 0, 0, 0xc1}
	senderSock, receiverSock := net.Pipe()

	sender := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "receiver", Outgoing: true, State: RvEstablished,
		FileName: "archive.bin", FileSize: uint32(len(data)),
		localPath: src, sock: senderSock, session: s}
	destDir := t.TempDir()
	receiver := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "sender", State: RvEstablished,
		FileName: "archive.bin", FileSize: uint32(len(data)),
		localPath: filepath.Join(destDir, "archive.bin"), sock: receiverSock, session: s}
	s.rendezvous[cookie] = sender

	done := make(chan struct{})
	go func() {
		s.receiveFile(receiver)
		close(done)
	}()
	s.sendFile(sender)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("receiver did not finish")
	}

	if sender.State != RvComplete || receiver.State != RvComplete {
		t.Fatalf("states sender=%v receiver=%v, want complete", sender.State, receiver.State)
	}
	got, err := os.ReadFile(receiver.localPath)
	if err != nil {
		t.Fatalf("reading received file: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("received file differs from the original")
	}
	mu.Lock()
	defer mu.Unlock()
	if complete != 2 {
		t.Errorf("complete callbacks = %d, want one per side", complete)
	}
	if progress == 0 {
		t.Error("no progress callbacks fired")
	}
}

// A prompt referencing a different exchange cookie must abort the
// receive before any bytes land on disk.
func TestReceiveRejectsWrongCookie(t *testing.T) {
	var (
		mu       sync.Mutex
		canceled int
	)
	s := newTestSession(&SessionCallbacks{
		OnRendezvousCanceled: func(_ *Session, _ *RendezvousRequest, _ string) {
			mu.Lock()
			canceled++
			mu.Unlock()
		},
	})
	newTestConn(s, ConnBOS)

	near, far := net.Pipe()
	cookie := [OSCAR_COOKIE_LEN]byte{5, 5, 5, 5, 5, 5, 5, 5}
	req := &RendezvousRequest{Cookie: cookie, Kind: RendezvousFileTransfer,
		Peer: "sender", State: RvEstablished,
		localPath: filepath.Join(t.TempDir(), "out.bin"), sock: near, session: s}
	s.rendezvous[cookie] = req

	go func() {
		wrong := &oftHeader{Type: OFT_TYPE_PROMPT,
			Cookie: [OSCAR_COOKIE_LEN]byte{6, 6, 6, 6, 6, 6, 6, 6}, Size: 10}
		far.Write(encodeOFTHeader(wrong))
	}()
	s.receiveFile(req)

	mu.Lock()
	defer mu.Unlock()
	if canceled != 1 {
		t.Fatalf("cancel callbacks = %d, want 1", canceled)
	}
	if _, err := os.Stat(req.localPath); err == nil {
		t.Error("destination file created despite the cookie mismatch")
	}
	if req.State != RvCanceled {
		t.Errorf("state = %v, want canceled", req.State)
	}
}

func TestConnDownCancelsPendingOnly(t *testing.T) {
	s := newTestSession(&SessionCallbacks{})
	conn, _ := newTestConn(s, ConnBOS)

	pendingCookie := [OSCAR_COOKIE_LEN]byte{7, 7, 7, 7, 7, 7, 7, 7}
	liveCookie := [OSCAR_COOKIE_LEN]byte{8, 8, 8, 8, 8, 8, 8, 8}
	pending := &RendezvousRequest{Cookie: pendingCookie, State: RvProposed,
		Peer: "a", session: s}
	live := &RendezvousRequest{Cookie: liveCookie, State: RvEstablished,
		Peer: "b", session: s}
	s.rendezvous[pendingCookie] = pending
	s.rendezvous[liveCookie] = live

	s.rendezvousConnDown(conn)

	if pending.State != RvCanceled {
		t.Errorf("pending exchange survived signaling loss: %v", pending.State)
	}
	if live.State != RvEstablished {
		t.Errorf("established transfer was canceled by signaling loss: %v", live.State)
	}
}
