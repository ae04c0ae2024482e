package go_oscar

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// OFT: the peer-to-peer file-transfer framing spoken once a
// file-transfer rendezvous socket is up. The sender opens with a PROMPT
// header describing the file, the receiver answers with an ACK echoing
// the exchange cookie, raw file bytes follow, and the receiver closes
// with a DONE header carrying the checksum it computed.

const (
	oftMagic     = "OFT2"
	oftHeaderLen = 256

	OFT_TYPE_PROMPT uint16 = 0x0101
	OFT_TYPE_ACK    uint16 = 0x0202
	OFT_TYPE_DONE   uint16 = 0x0204
)

// oftChecksumSeed is the initial rolling-checksum accumulator.
const oftChecksumSeed uint32 = 0xFFFF0000

// oftIDString fills the client-identification field of every header.
const oftIDString = "Cool FileXfer"

// oftHeader is the fixed-size transfer header. Only the fields this
// library reads or sets are surfaced; the rest of the 256 bytes are
// zero padding on the wire.
type oftHeader struct {
	Type       uint16
	Cookie     [OSCAR_COOKIE_LEN]byte
	TotalFiles uint16
	FilesLeft  uint16
	TotalSize  uint32
	Size       uint32
	ModTime    uint32
	Checksum   uint32
	BytesRecvd uint32
	RecvdSum   uint32
	Name       string
}

// encodeOFTHeader lays the header out into its 256-byte wire form.
func encodeOFTHeader(h *oftHeader) []byte {
	buf := make([]byte, oftHeaderLen)
	copy(buf[0:4], oftMagic)
	binary.BigEndian.PutUint16(buf[4:6], oftHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	copy(buf[8:16], h.Cookie[:])
	// encrypt and compress words stay zero
	binary.BigEndian.PutUint16(buf[20:22], h.TotalFiles)
	binary.BigEndian.PutUint16(buf[22:24], h.FilesLeft)
	binary.BigEndian.PutUint16(buf[24:26], 1) // total parts
	binary.BigEndian.PutUint16(buf[26:28], 1) // parts left
	binary.BigEndian.PutUint32(buf[28:32], h.TotalSize)
	binary.BigEndian.PutUint32(buf[32:36], h.Size)
	binary.BigEndian.PutUint32(buf[36:40], h.ModTime)
	binary.BigEndian.PutUint32(buf[40:44], h.Checksum)
	binary.BigEndian.PutUint32(buf[44:48], oftChecksumSeed) // resource fork sum
	binary.BigEndian.PutUint32(buf[56:60], oftChecksumSeed) // fork checksum
	binary.BigEndian.PutUint32(buf[60:64], h.BytesRecvd)
	binary.BigEndian.PutUint32(buf[64:68], h.RecvdSum)
	copy(buf[68:100], oftIDString)
	name := h.Name
	if len(name) > 63 {
		name = name[:63]
	}
	copy(buf[192:], name)
	return buf
}

// decodeOFTHeader reads one full header off the socket.
func decodeOFTHeader(r io.Reader) (*oftHeader, error) {
	buf := make([]byte, oftHeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if string(buf[0:4]) != oftMagic {
		return nil, fmt.Errorf("oscar: bad OFT magic %q", buf[0:4])
	}
	declared := binary.BigEndian.Uint16(buf[4:6])
	if declared != oftHeaderLen {
		return nil, fmt.Errorf("oscar: unsupported OFT header length %d", declared)
	}
	h := &oftHeader{
		Type:       binary.BigEndian.Uint16(buf[6:8]),
		TotalFiles: binary.BigEndian.Uint16(buf[20:22]),
		FilesLeft:  binary.BigEndian.Uint16(buf[22:24]),
		TotalSize:  binary.BigEndian.Uint32(buf[28:32]),
		Size:       binary.BigEndian.Uint32(buf[32:36]),
		ModTime:    binary.BigEndian.Uint32(buf[36:40]),
		Checksum:   binary.BigEndian.Uint32(buf[40:44]),
		BytesRecvd: binary.BigEndian.Uint32(buf[60:64]),
		RecvdSum:   binary.BigEndian.Uint32(buf[64:68]),
	}
	copy(h.Cookie[:], buf[8:16])
	name := buf[192:]
	for len(name) > 0 && name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}
	h.Name = string(name)
	return h, nil
}

// oftSum is the rolling file checksum. Byte position parity matters,
// so the accumulator carries its running index across chunks.
type oftSum struct {
	sum   uint32
	index int
}

func newOftSum() *oftSum {
	return &oftSum{sum: oftChecksumSeed}
}

// feed folds a chunk into the checksum.
func (o *oftSum) feed(data []byte) {
	check := (o.sum >> 16) & 0xffff
	for _, b := range data {
		old := check
		if o.index&1 != 0 {
			check -= uint32(b)
		} else {
			check -= uint32(b) << 8
		}
		if check > old { // 16-bit borrow
			check--
		}
		check &= 0xffff
		o.index++
	}
	o.sum = check << 16
}

// value folds the accumulator down to the final 32-bit checksum.
func (o *oftSum) value() uint32 {
	check := (o.sum >> 16) & 0xffff
	check = (check & 0xffff) + (check >> 16)
	check = (check & 0xffff) + (check >> 16)
	return check << 16
}

// checksumFile computes the transfer checksum of a local file.
func checksumFile(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sum := newOftSum()
	buf := transferBuffers.Get()
	defer transferBuffers.Put(buf)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			sum.feed(buf[:n])
		}
		if err == io.EOF {
			return sum.value(), nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// sendFile runs the sender side: PROMPT, wait for the peer's ACK
// echoing this exchange's cookie, stream the bytes, then wait for the
// DONE header confirming the receiver's checksum matches.
func (s *Session) sendFile(req *RendezvousRequest) {
	sock := req.sock
	sum, err := checksumFile(req.localPath)
	if err != nil {
		s.failRendezvous(req, "checksum", err)
		return
	}
	fi, err := os.Stat(req.localPath)
	if err != nil {
		s.failRendezvous(req, "stat", err)
		return
	}

	prompt := &oftHeader{
		Type:       OFT_TYPE_PROMPT,
		Cookie:     req.Cookie,
		TotalFiles: 1,
		FilesLeft:  1,
		TotalSize:  req.FileSize,
		Size:       req.FileSize,
		ModTime:    uint32(fi.ModTime().Unix()),
		Checksum:   sum,
		Name:       req.FileName,
	}
	if _, err := sock.Write(encodeOFTHeader(prompt)); err != nil {
		s.failRendezvous(req, "prompt", err)
		return
	}

	ack, err := decodeOFTHeader(sock)
	if err != nil {
		s.failRendezvous(req, "ack", err)
		return
	}
	if ack.Type != OFT_TYPE_ACK || ack.Cookie != req.Cookie {
		s.failRendezvous(req, "ack", fmt.Errorf("peer acknowledged wrong exchange"))
		return
	}

	s.mu.Lock()
	req.State = RvTransferring
	s.mu.Unlock()

	f, err := os.Open(req.localPath)
	if err != nil {
		s.failRendezvous(req, "open", err)
		return
	}
	defer f.Close()

	buf := transferBuffers.Get()
	defer transferBuffers.Put(buf)
	var sent uint32
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := sock.Write(buf[:n]); werr != nil {
				s.failRendezvous(req, "send", werr)
				return
			}
			sent += uint32(n)
			s.reportProgress(req, sent)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			s.failRendezvous(req, "read", rerr)
			return
		}
	}

	_ = sock.SetReadDeadline(time.Now().Add(time.Minute))
	done, err := decodeOFTHeader(sock)
	if err != nil {
		s.failRendezvous(req, "done", err)
		return
	}
	if done.Type != OFT_TYPE_DONE || done.RecvdSum != sum {
		s.failRendezvous(req, "done", fmt.Errorf("receiver checksum mismatch"))
		return
	}
	s.completeRendezvous(req)
}

// receiveFile runs the receiver side: wait for the PROMPT, verify it
// references this exchange, ACK it, write exactly the advertised byte
// count to disk, verify the checksum, and close with DONE.
func (s *Session) receiveFile(req *RendezvousRequest) {
	sock := req.sock
	prompt, err := decodeOFTHeader(sock)
	if err != nil {
		s.failRendezvous(req, "prompt", err)
		return
	}
	if prompt.Type != OFT_TYPE_PROMPT || prompt.Cookie != req.Cookie {
		s.failRendezvous(req, "prompt", fmt.Errorf("prompt references wrong exchange"))
		return
	}

	ack := *prompt
	ack.Type = OFT_TYPE_ACK
	if _, err := sock.Write(encodeOFTHeader(&ack)); err != nil {
		s.failRendezvous(req, "ack", err)
		return
	}

	s.mu.Lock()
	req.State = RvTransferring
	req.FileSize = prompt.Size
	dest := req.localPath
	s.mu.Unlock()

	out, err := os.Create(dest)
	if err != nil {
		s.failRendezvous(req, "create", err)
		return
	}

	sum := newOftSum()
	buf := transferBuffers.Get()
	var received uint32
	for received < prompt.Size {
		want := len(buf)
		if remaining := prompt.Size - received; remaining < uint32(want) {
			want = int(remaining)
		}
		n, rerr := sock.Read(buf[:want])
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				transferBuffers.Put(buf)
				s.failRendezvous(req, "write", werr)
				return
			}
			sum.feed(buf[:n])
			received += uint32(n)
			s.reportProgress(req, received)
		}
		if rerr != nil {
			out.Close()
			transferBuffers.Put(buf)
			s.failRendezvous(req, "receive", rerr)
			return
		}
	}
	transferBuffers.Put(buf)
	if err := out.Close(); err != nil {
		s.failRendezvous(req, "close", err)
		return
	}

	if got := sum.value(); got != prompt.Checksum {
		s.failRendezvous(req, "verify",
			fmt.Errorf("checksum mismatch: got %08x want %08x", got, prompt.Checksum))
		return
	}

	done := *prompt
	done.Type = OFT_TYPE_DONE
	done.FilesLeft = 0
	done.BytesRecvd = received
	done.RecvdSum = prompt.Checksum
	if _, err := sock.Write(encodeOFTHeader(&done)); err != nil {
		s.failRendezvous(req, "done", err)
		return
	}
	s.completeRendezvous(req)
}

// ODC: the direct-IM framing. Every frame is a fixed header followed
// by the message payload; the screen-name field identifies the sender
// because direct-IM sockets carry no other addressing.

const (
	odcMagic     = "ODC2"
	odcHeaderLen = 76
)

// encodeODCFrame builds one direct-IM frame.
func encodeODCFrame(cookie [OSCAR_COOKIE_LEN]byte, from string, payload []byte) []byte {
	buf := make([]byte, odcHeaderLen, odcHeaderLen+len(payload))
	copy(buf[0:4], odcMagic)
	binary.BigEndian.PutUint16(buf[4:6], odcHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], 0x0001)
	copy(buf[12:20], cookie[:])
	binary.BigEndian.PutUint32(buf[28:32], uint32(len(payload)))
	name := from
	if len(name) > 15 {
		name = name[:15]
	}
	copy(buf[44:60], name)
	return append(buf, payload...)
}

// readODCFrame reads one direct-IM frame off the socket.
func readODCFrame(r io.Reader) (from string, payload []byte, err error) {
	buf := make([]byte, odcHeaderLen)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", nil, err
	}
	if string(buf[0:4]) != odcMagic {
		return "", nil, fmt.Errorf("oscar: bad ODC magic %q", buf[0:4])
	}
	declared := binary.BigEndian.Uint16(buf[4:6])
	if declared < odcHeaderLen {
		return "", nil, fmt.Errorf("oscar: bad ODC header length %d", declared)
	}
	if extra := int(declared) - odcHeaderLen; extra > 0 {
		if _, err = io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return "", nil, err
		}
	}
	size := binary.BigEndian.Uint32(buf[28:32])
	if size > uint32(OSCAR_MAX_MESSAGE_SIZE)*4 {
		return "", nil, fmt.Errorf("oscar: ODC payload of %d bytes refused", size)
	}
	name := buf[44:60]
	for len(name) > 0 && name[len(name)-1] == 0 {
		name = name[:len(name)-1]
	}
	payload = make([]byte, size)
	if _, err = io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return string(name), payload, nil
}

// ProposeDirectIM offers a direct-IM session to a contact.
func (s *Session) ProposeDirectIM(target string) (*RendezvousRequest, error) {
	if err := s.ensureInitialized(); err != nil {
		return nil, err
	}
	listener, port, err := listenRendezvous()
	if err != nil {
		return nil, err
	}
	req := &RendezvousRequest{
		Cookie:   newCookie(),
		Kind:     RendezvousDirectIM,
		Peer:     target,
		Outgoing: true,
		State:    RvProposed,
		listener: listener,
		session:  s,
	}
	localIP := s.localIPv4()
	inner := []TLV{
		{Type: RV_TLV_CHANNEL, Value: []byte{0x00, 0x01}},
		{Type: RV_TLV_PROPOSER_IP, Value: localIP},
		{Type: RV_TLV_INTERNAL_IP, Value: localIP},
		{Type: RV_TLV_PORT, Value: []byte{byte(port >> 8), byte(port)}},
		{Type: RV_TLV_REQUEST_NUM, Value: []byte{0x00, 0x01}},
	}
	if err := s.sendRendezvousICBM(target, RENDEZVOUS_PROPOSE, req.Cookie,
		CAP_DIRECT_IM, inner); err != nil {
		listener.Close()
		return nil, err
	}
	s.mu.Lock()
	s.rendezvous[req.Cookie] = req
	s.mu.Unlock()
	go s.awaitIncomingPeer(req)
	return req, nil
}

// SendDirectMessage sends text over an established direct-IM session
// with the contact.
func (s *Session) SendDirectMessage(peer, body string) error {
	s.mu.Lock()
	var req *RendezvousRequest
	for _, r := range s.rendezvous {
		if r.Kind == RendezvousDirectIM && r.State == RvEstablished &&
			NormalizeScreenName(r.Peer) == NormalizeScreenName(peer) {
			req = r
			break
		}
	}
	var sock net.Conn
	if req != nil {
		sock = req.sock
	}
	screenName := s.screenName
	s.mu.Unlock()
	if req == nil || sock == nil {
		return ErrUnknownRendezvous
	}
	_, err := sock.Write(encodeODCFrame(req.Cookie, screenName, []byte(body)))
	return err
}

// serveDirectIM reads frames off an established direct-IM socket until
// it closes.
func (s *Session) serveDirectIM(req *RendezvousRequest) {
	for {
		_, payload, err := readODCFrame(req.sock)
		if err != nil {
			if err == io.EOF {
				s.completeRendezvous(req)
			} else {
				s.failRendezvous(req, "direct-im", err)
			}
			return
		}
		if len(payload) > 0 {
			s.directMessageReceived(req.Peer, payload)
		}
	}
}
