// Package transport binds the engine package's protocol logic to a real
// net.UDPConn.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"reliudp/engine"
)

// UDPEndpoint implements engine.DatagramEndpoint over a bound *net.UDPConn.
type UDPEndpoint struct {
	conn *net.UDPConn
}

// NewUDPEndpoint binds a UDP socket at localAddr (host:port, or ":0" for an
// ephemeral port) and returns an endpoint ready to hand to engine.New. The
// caller owns closing it via Close.
func NewUDPEndpoint(localAddr string) (*UDPEndpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving local address %q", localAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding udp socket on %q", localAddr)
	}
	return &UDPEndpoint{conn: conn}, nil
}

// LocalAddr reports the bound local address, including the resolved
// ephemeral port when localAddr was ":0".
func (u *UDPEndpoint) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// SendTo writes b as a single UDP datagram to addr.
func (u *UDPEndpoint) SendTo(b []byte, addr net.Addr) error {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr.String())
		if err != nil {
			return errors.Wrapf(err, "resolving peer address %q", addr.String())
		}
		udpAddr = resolved
	}
	_, err := u.conn.WriteToUDP(b, udpAddr)
	return err
}

// RecvFrom waits up to timeout for one datagram. It returns
// engine.ErrRecvTimeout, not a zero byte count, when the deadline elapses
// with nothing received.
func (u *UDPEndpoint) RecvFrom(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	n, addr, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil, engine.ErrRecvTimeout
		}
		return 0, nil, err
	}
	return n, addr, nil
}

// Close releases the underlying socket.
func (u *UDPEndpoint) Close() error {
	return u.conn.Close()
}
