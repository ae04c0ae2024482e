package go_oscar

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// transport abstracts the socket under a Connection so tests can plug
// in an in-memory pipe. Tcp is the production implementation.
type transport interface {
	Connect() error
	Send(buf []byte) (int, error)
	Receive(buf []byte) (int, error)
	Disconnect() error
	RemoteAddr() net.Addr
}

// Tcp wraps one socket to an OSCAR host. Each Connection owns exactly
// one Tcp; nothing else ever closes it.
type Tcp struct {
	address   string
	conn      net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

// NewTcp creates a transport for the given "host:port" address.
func NewTcp(address string) *Tcp {
	return &Tcp{address: address, timeout: 30 * time.Second}
}

// SetupTLS configures TLS for the connection. AOL's later SSL login
// hosts negotiate plain TLS with a server certificate; no client
// certificate is used.
func (tcp *Tcp) SetupTLS(serverName string, insecure bool) {
	tcp.tlsConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}
	if insecure {
		Warning("TLS certificate verification DISABLED - insecure mode active")
		tcp.tlsConfig.InsecureSkipVerify = true
	}
}

func (tcp *Tcp) Connect() (err error) {
	if tcp.address == "" {
		return fmt.Errorf("oscar: no address configured")
	}
	dialer := net.Dialer{Timeout: tcp.timeout}
	if tcp.tlsConfig != nil {
		Debug("Establishing TLS connection to %s", tcp.address)
		tcp.conn, err = tls.DialWithDialer(&dialer, "tcp", tcp.address, tcp.tlsConfig)
		if err != nil {
			return fmt.Errorf("oscar: failed to dial TLS connection to %s: %w", tcp.address, err)
		}
		return nil
	}
	Debug("Establishing TCP connection to %s", tcp.address)
	tcp.conn, err = dialer.Dial("tcp", tcp.address)
	if err != nil {
		return fmt.Errorf("oscar: failed to dial TCP connection to %s: %w", tcp.address, err)
	}
	return nil
}

func (tcp *Tcp) Send(buf []byte) (int, error) {
	if tcp.conn == nil {
		return 0, ErrNotConnected
	}
	return tcp.conn.Write(buf)
}

func (tcp *Tcp) Receive(buf []byte) (int, error) {
	if tcp.conn == nil {
		return 0, ErrNotConnected
	}
	return tcp.conn.Read(buf)
}

func (tcp *Tcp) Disconnect() error {
	if tcp.conn != nil {
		err := tcp.conn.Close()
		tcp.conn = nil
		return err
	}
	return nil
}

func (tcp *Tcp) RemoteAddr() net.Addr {
	if tcp.conn == nil {
		return nil
	}
	return tcp.conn.RemoteAddr()
}
