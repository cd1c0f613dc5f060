package main

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	of "github.com/ofgrid/datapath"
)

// fakeAddr is a trivial net.Addr used by fakeConn.
type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is the lightest net.Conn double that satisfies of.Conn:
// Write/Flush just buffer what was sent so a test can inspect it,
// and every other method is a no-op. It exists so senderRegistry and
// of.Remote can be exercised without a real socket or ofptest.Server.
type fakeConn struct {
	addr fakeAddr
	out  bytes.Buffer
}

func newFakeConn(addr string) *fakeConn { return &fakeConn{addr: fakeAddr(addr)} }

func (c *fakeConn) Read(b []byte) (int, error)  { return 0, nil }
func (c *fakeConn) Write(b []byte) (int, error) { return c.out.Write(b) }
func (c *fakeConn) Close() error                { return nil }
func (c *fakeConn) LocalAddr() net.Addr         { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr        { return c.addr }

func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error  { return nil }

func (c *fakeConn) Flush() error { return nil }

func (c *fakeConn) Receive() (*of.Request, error) { return nil, io.EOF }

func (c *fakeConn) Send(req *of.Request) error { return nil }

func (c *fakeConn) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return c, nil, nil
}
