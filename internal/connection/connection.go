// Package connection implements the reference-counted connection table:
// every live TCP link to a peer is wrapped in a *Conn shared by the
// receiver, the send queue, the ID cache and the routing table.
package connection

import (
	"io"
	"net"
	"sync"

	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/wire"
)

// State is the lifecycle stage of a Conn.
type State int32

const (
	// Unconnected connections have been created from an 'N' packet but not
	// yet dialed.
	Unconnected State = iota
	// Active connections have a live socket.
	Active
	// Closed connections are terminal; their socket has been released.
	Closed
)

// Conn is one reference-counted TCP link to a peer. Only in state Active is
// the socket valid for I/O. The state lock guards state, the socket and the
// refcount; the send lock serializes writes and is the only thing that
// stands between SendPacket's racy read of state and a concurrent Close.
type Conn struct {
	addr *net.TCPAddr

	mu     sync.Mutex
	state  State
	socket net.Conn
	refs   int

	sendMu sync.Mutex

	log logging.Logger
}

func newConn(addr *net.TCPAddr, log logging.Logger) *Conn {
	return &Conn{addr: addr, refs: 2, log: log}
}

// Addr returns the peer's remote address.
func (c *Conn) Addr() *net.TCPAddr {
	return c.addr
}

// Key returns the string used to key this connection in a Table.
func (c *Conn) Key() string {
	return c.addr.String()
}

// Ok reports whether the connection is currently Active.
func (c *Conn) Ok() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Active
}

// connect binds a socket to an Unconnected Conn and transitions it to
// Active. Precondition: the Conn must currently be Unconnected.
func (c *Conn) connect(socket net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.socket = socket
	c.state = Active
}

// Unconnected reports whether the connection has not yet been dialed. The
// state is read under the state lock; the transition only ever happens
// once, from the single receiver goroutine that owns this Conn before any
// other goroutine can observe it.
func (c *Conn) Unconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Unconnected
}

// Own increments the reference count.
func (c *Conn) Own() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

// Release decrements the reference count. A Conn reaching zero references
// is considered destroyed: nothing may use it further. Go's GC reclaims the
// memory on its own schedule, but the refcount is still the correctness
// contract tests assert against.
func (c *Conn) Release() {
	c.mu.Lock()
	c.refs--
	refs := c.refs
	c.mu.Unlock()
	if refs < 0 && c.log != nil {
		c.log.Errorf("connection %s released past zero references", c.Key())
	}
}

// Refs returns the current reference count, for tests and metrics only.
func (c *Conn) Refs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs
}

// SendPacket writes pkt's full wire representation to the connection's
// socket.
//
// This is a deliberately race-tolerant fast path: state is observed under
// the state lock, then the lock is released before acquiring the send lock
// to perform the write. The socket is only ever mutated under the send
// lock, so the worst the race allows is writing to a socket that is about
// to be closed concurrently - the kernel/runtime reports that as a write
// error, never a use-after-free.
func (c *Conn) SendPacket(pkt wire.Packet) (int, error) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	socket := c.socket
	if socket == nil {
		return 0, nil
	}
	buf := pkt.Marshal()
	n, err := socket.Write(buf[:])
	return n, err
}

// ReadPacket blocks until a full wire-sized packet has been read from the
// connection's socket, or an error/short read terminates the caller's loop.
func (c *Conn) ReadPacket() (wire.Packet, error) {
	var buf [wire.Size]byte
	if _, err := io.ReadFull(c.socket, buf[:]); err != nil {
		return wire.Packet{}, err
	}
	return wire.Parse(buf[:])
}

// closeSocket performs the terminal shutdown+close under the send lock. The
// caller must already hold the state lock.
func (c *Conn) closeSocket() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.socket != nil {
		_ = c.socket.Close()
		c.socket = nil
	}
	c.state = Closed
}
