package connection

import (
	"net"
	"sync"

	"github.com/dritz/meshy/internal/logging"
)

// Table is the process-wide set of live Conn handles, keyed implicitly by
// (ip, port). Lock ordering: table lock -> connection state lock ->
// connection send lock. Close is the sole exception, holding state across
// the table acquisition (see Close).
type Table struct {
	mu    sync.Mutex
	conns map[string]*Conn
	log   logging.Logger
}

// NewTable builds an empty connection table.
func NewTable(log logging.Logger) *Table {
	return &Table{conns: make(map[string]*Conn), log: log}
}

// CreateWithConn allocates a Conn in Active state bound to socket, inserts
// it into the table, and returns a handle with refcount 2 (one for the
// caller, one for the table).
func (t *Table) CreateWithConn(addr *net.TCPAddr, socket net.Conn) *Conn {
	c := newConn(addr, t.log)
	c.connect(socket)

	t.mu.Lock()
	t.conns[c.Key()] = c
	t.mu.Unlock()

	return c
}

// CreateUnlessExists scans for an existing peer with the same (ip, port).
// If found, it returns (nil, false). Otherwise it creates an Unconnected
// Conn, inserts it, and returns (handle, true) with refcount 2.
func (t *Table) CreateUnlessExists(addr *net.TCPAddr) (*Conn, bool) {
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, found := t.conns[key]; found {
		return nil, false
	}

	c := newConn(addr, t.log)
	t.conns[key] = c
	return c, true
}

// Connect binds a socket to a previously Unconnected Conn and transitions
// it to Active.
func (t *Table) Connect(c *Conn, socket net.Conn) {
	c.connect(socket)
}

// Close removes conn from the table, drops the table's reference, shuts
// down its socket and leaves it Closed. The table's reference is dropped
// only while conn is still tracked, so a later Close of the same handle
// (a receiver exiting after CloseAll) releases nothing twice. Lock order
// here is state -> table -> send, the one documented exception to the
// table -> state -> send rule, because the removal must happen while state
// is held to keep Ok()/SendPacket() observations consistent with table
// membership.
func (t *Table) Close(c *Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.mu.Lock()
	tracked := t.conns[c.Key()] == c
	if tracked {
		delete(t.conns, c.Key())
	}
	t.mu.Unlock()
	if tracked {
		c.refs--
	}

	c.closeSocket()
}

// Snapshot takes a reference on every live connection and returns them as a
// slice. The caller must Release every element.
func (t *Table) Snapshot() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		c.Own()
		out = append(out, c)
	}
	return out
}

// Len reports the current number of tracked connections, for metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// CloseAll shuts down and removes every tracked connection. Used only by
// the test-only Node.Stop() shutdown path; cmd/meshy never calls it.
func (t *Table) CloseAll() {
	for _, c := range t.Snapshot() {
		t.Close(c)
		c.Release()
	}
}
