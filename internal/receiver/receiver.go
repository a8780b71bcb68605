// Package receiver implements the per-connection read loop and packet-type
// dispatch state machine.
package receiver

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/idcache"
	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/metrics"
	"github.com/dritz/meshy/internal/role"
	"github.com/dritz/meshy/internal/routing"
	"github.com/dritz/meshy/internal/sendqueue"
	"github.com/dritz/meshy/internal/wire"
)

// Dialer converts an address into a connected socket. It is the one
// external collaborator the receiver needs to perform the outbound half of
// an 'N'-triggered connection.
type Dialer interface {
	Dial(addr *net.TCPAddr) (net.Conn, error)
}

// NetDialer is the production Dialer, a thin wrapper over net.DialTCP.
type NetDialer struct{}

// Dial implements Dialer using the standard library's TCP dialer.
func (NetDialer) Dial(addr *net.TCPAddr) (net.Conn, error) {
	return net.DialTCP("tcp4", nil, addr)
}

// Deps bundles every shared subsystem a receiver needs, built once by the
// node constructor and passed by reference - the dependency-injection
// approach the original's own design notes recommend in place of
// file-scope globals.
type Deps struct {
	Table   *connection.Table
	Cache   *idcache.Cache
	Queue   *sendqueue.Queue
	Routes  *routing.Table
	Role    role.Role
	Dialer  Dialer
	Log     logging.Logger
	Metrics *metrics.Collector
	// Output is where delivered content is written; production code leaves
	// this nil to mean os.Stdout, tests substitute a buffer.
	Output io.Writer
}

func (d *Deps) output() io.Writer {
	if d.Output != nil {
		return d.Output
	}
	return os.Stdout
}

// Run is the per-connection receiver loop. If conn is Unconnected on entry
// it is dialed first. The loop reads complete packets until a short read or
// I/O error terminates it, dispatching each by type. On exit it closes and
// releases conn, regardless of how the loop ended.
func Run(deps *Deps, conn *connection.Conn, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	defer func() {
		deps.Table.Close(conn)
		conn.Release()
		deps.Metrics.ConnectionsActive.Set(float64(deps.Table.Len()))
	}()

	if conn.Unconnected() {
		socket, err := deps.Dialer.Dial(conn.Addr())
		if err != nil {
			deps.Log.Debugf("cannot connect to %s: %v", conn.Addr(), err)
			return
		}
		deps.Table.Connect(conn, socket)
		deps.Metrics.ConnectionsActive.Set(float64(deps.Table.Len()))
		deps.Log.Debugf("connected to %s", conn.Addr())
	}

	for {
		pkt, err := conn.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				deps.Log.Debugf("receiver for %s terminating: %v", conn.Addr(), err)
			}
			return
		}

		switch pkt.Type {
		case wire.Content:
			deps.Metrics.PacketsReceived.WithLabelValues("C").Inc()
			processContent(deps, conn, pkt)
		case wire.Ack:
			deps.Metrics.PacketsReceived.WithLabelValues("O").Inc()
			processAck(deps, conn, pkt)
		case wire.Neighbor:
			deps.Metrics.PacketsReceived.WithLabelValues("N").Inc()
			processNeighbor(deps, conn, pkt, wg)
		default:
			deps.Metrics.PacketsReceived.WithLabelValues("unknown").Inc()
			deps.Log.Debugf("unknown packet type %q received from %s", pkt.Type, conn.Addr())
		}
	}
}

func processContent(deps *Deps, conn *connection.Conn, pkt wire.Packet) {
	if deps.Cache.Put(conn, pkt.Dest, pkt.ID) {
		deps.Metrics.PacketsDuplicate.Inc()
		deps.Log.Debugf("packet id %d already seen, dropping", pkt.ID)
		return
	}

	if deps.Role.Matches(pkt.Dest) {
		deps.Metrics.PacketsDelivered.Inc()
		deps.output().Write(pkt.Content[:])
		if f, ok := deps.output().(interface{ Sync() error }); ok {
			_ = f.Sync()
		}
		conn.SendPacket(pkt.Acked())
		return
	}

	deps.Queue.Add(pkt, conn)
}

func processAck(deps *Deps, conn *connection.Conn, pkt wire.Packet) {
	origin, sentAt, ok := deps.Cache.TakeOrigin(pkt.Dest, pkt.ID)
	if !ok {
		deps.Log.Debugf("ack for unknown or already-acked id %d dropped", pkt.ID)
		return
	}

	deps.Routes.MarkAlive(conn, pkt.Dest, sentAt)
	origin.SendPacket(pkt)
	origin.Release()
}

func processNeighbor(deps *Deps, conn *connection.Conn, pkt wire.Packet, wg *sync.WaitGroup) {
	addr := pkt.ParseNeighbor()
	deps.Log.Debugf("received neighbor introduction for %s", addr)

	newconn, created := deps.Table.CreateUnlessExists(addr)
	if !created {
		deps.Log.Debugf("already connected to %s, ignored", addr)
		return
	}

	if wg != nil {
		wg.Add(1)
	}
	go Run(deps, newconn, wg)
}
