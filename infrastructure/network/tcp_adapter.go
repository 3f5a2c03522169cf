package network

import (
	"net"

	"portlink/application"
)

// TCPAdapter exposes a net.Conn through the ConnectionAdapter port.
type TCPAdapter struct {
	conn net.Conn
}

func NewTCPAdapter(conn net.Conn) *TCPAdapter {
	return &TCPAdapter{conn: conn}
}

func (a *TCPAdapter) Read(buf []byte) (int, error) {
	return a.conn.Read(buf)
}

func (a *TCPAdapter) Write(buf []byte) (int, error) {
	return a.conn.Write(buf)
}

func (a *TCPAdapter) Close() error {
	return a.conn.Close()
}

func (a *TCPAdapter) RemoteAddr() net.Addr {
	return a.conn.RemoteAddr()
}

var _ application.ConnectionAdapter = (*TCPAdapter)(nil)
