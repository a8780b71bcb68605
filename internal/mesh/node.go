// Package mesh wires the connection table, ID cache, send queue, routing
// table, role, logger, metrics and dialer into a single Node - the
// dependency-injection context that replaces the original's file-scope
// statics.
package mesh

import (
	"context"
	"net"
	"sync"

	"github.com/dritz/meshy/internal/acceptor"
	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/idcache"
	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/metrics"
	"github.com/dritz/meshy/internal/receiver"
	"github.com/dritz/meshy/internal/role"
	"github.com/dritz/meshy/internal/routing"
	"github.com/dritz/meshy/internal/sender"
	"github.com/dritz/meshy/internal/sendqueue"
)

// Config holds the values a Node needs at construction that do not already
// have a sensible zero value.
type Config struct {
	Role      role.Role
	TimeoutMs int
	Dialer    receiver.Dialer
	Logger    logging.Logger
}

// Node bundles every process-wide singleton a running meshy instance shares
// across its receivers, senders and acceptor.
type Node struct {
	Table   *connection.Table
	Cache   *idcache.Cache
	Queue   *sendqueue.Queue
	Routes  *routing.Table
	Role    role.Role
	Log     logging.Logger
	Metrics *metrics.Collector
	Dialer  receiver.Dialer

	ln net.Listener
	wg sync.WaitGroup
}

// New builds a Node from cfg, defaulting Dialer to receiver.NetDialer and
// Logger to logging.Nop when left unset.
func New(cfg Config) *Node {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}

	cache := idcache.New()
	coll := metrics.New()
	routes := routing.New(cache, log, coll)
	if cfg.TimeoutMs > 0 {
		routes.SetTimeout(cfg.TimeoutMs)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = receiver.NetDialer{}
	}

	return &Node{
		Table:   connection.NewTable(log),
		Cache:   cache,
		Queue:   sendqueue.New(),
		Routes:  routes,
		Role:    cfg.Role,
		Log:     log,
		Metrics: coll,
		Dialer:  dialer,
	}
}

func (n *Node) receiverDeps() *receiver.Deps {
	return &receiver.Deps{
		Table:   n.Table,
		Cache:   n.Cache,
		Queue:   n.Queue,
		Routes:  n.Routes,
		Role:    n.Role,
		Dialer:  n.Dialer,
		Log:     n.Log,
		Metrics: n.Metrics,
	}
}

func (n *Node) senderDeps() *sender.Deps {
	return &sender.Deps{
		Table:   n.Table,
		Queue:   n.Queue,
		Routes:  n.Routes,
		Log:     n.Log,
		Metrics: n.Metrics,
	}
}

// Start launches the sender pool and the accept loop on ln. ctx is honored
// only for its cancellation: cmd/meshy passes context.Background(), which
// never fires, so production nodes run until the process is killed exactly
// as documented. Tests pass a cancelable context and pair it with Stop for
// deterministic teardown. Start returns immediately; the acceptor and
// senders run in background goroutines registered with an internal
// WaitGroup so Stop can block until they have all quiesced.
func (n *Node) Start(ctx context.Context, ln net.Listener) {
	n.ln = ln
	sender.Start(n.senderDeps(), &n.wg)

	n.wg.Add(1)
	go acceptor.Run(ln, n.receiverDeps(), n.Log, &n.wg)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
}

// Stop tears down a Node deterministically: it closes every tracked
// connection (unblocking every receiver's ReadPacket, the listener close is
// the caller's job via ctx cancellation), pushes a shutdown sentinel to
// every sender worker, and waits for all registered goroutines to exit.
// Test-only: the production binary never calls this, matching the
// original's documented absence of graceful shutdown.
func (n *Node) Stop() {
	n.Table.CloseAll()
	sender.Stop(n.Queue)
	n.wg.Wait()
}
