// Package sender implements the fixed-size worker pool that drains the send
// queue, choosing between a unicast on a known route and a flood broadcast.
package sender

import (
	"sync"

	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/metrics"
	"github.com/dritz/meshy/internal/routing"
	"github.com/dritz/meshy/internal/sendqueue"
	"github.com/dritz/meshy/internal/wire"
)

// Workers is the fixed number of goroutines draining the queue.
const Workers = 3

// shutdownDest is never produced by NewContent, which masks dest to 0x01;
// Node.Stop pushes Workers copies of this sentinel to unblock every worker
// without giving the queue a cancellation path it doesn't otherwise need.
const shutdownDest uint8 = 0xFF

// Deps bundles the shared subsystems a sender worker needs.
type Deps struct {
	Table   *connection.Table
	Queue   *sendqueue.Queue
	Routes  *routing.Table
	Log     logging.Logger
	Metrics *metrics.Collector
}

// Start launches Workers goroutines, each draining deps.Queue until it reads
// a shutdown sentinel. If wg is non-nil, every worker registers with it
// before starting and calls Done on exit - used only by the test-only
// shutdown path.
func Start(deps *Deps, wg *sync.WaitGroup) {
	for i := 0; i < Workers; i++ {
		if wg != nil {
			wg.Add(1)
		}
		go run(deps, wg)
	}
}

// Stop unblocks every worker by pushing one shutdown sentinel per worker.
// Test-only: production code never calls this.
func Stop(q *sendqueue.Queue) {
	var sentinel wire.Packet
	sentinel.Dest = shutdownDest
	for i := 0; i < Workers; i++ {
		q.Add(sentinel, nil)
	}
}

func run(deps *Deps, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}

	for {
		pkt, origin := deps.Queue.Get()
		if pkt.Dest == shutdownDest && origin == nil {
			deps.Metrics.SendQueueDepth.Set(float64(deps.Queue.Len()))
			return
		}
		dispatch(deps, pkt, origin)
	}
}

// dispatch sends pkt onward: a route known for pkt.Dest gets a unicast,
// otherwise every other live connection gets a copy. origin, if non-nil, is
// excluded from the broadcast so a packet is never echoed back the way it
// came; its reference is always released before dispatch returns.
func dispatch(deps *Deps, pkt wire.Packet, origin *connection.Conn) {
	deps.Metrics.SendQueueDepth.Set(float64(deps.Queue.Len()))

	if route, ok := deps.Routes.Get(pkt); ok {
		deps.Metrics.RouteUnicast.Inc()
		route.SendPacket(pkt)
		route.Release()
		if origin != nil {
			origin.Release()
		}
		return
	}

	deps.Metrics.RouteBroadcast.Inc()
	for _, conn := range deps.Table.Snapshot() {
		if conn == origin {
			conn.Release()
			continue
		}
		conn.SendPacket(pkt)
		conn.Release()
	}

	if origin != nil {
		origin.Release()
	}
}
