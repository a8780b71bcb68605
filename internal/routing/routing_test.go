package routing

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/idcache"
	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/metrics"
	"github.com/dritz/meshy/internal/wire"
)

func newTestConn(t *testing.T, port int) *connection.Conn {
	t.Helper()
	tbl := connection.NewTable(logging.Nop())
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	// Routes are only usable on Active connections, so bind a socket.
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	c := tbl.CreateWithConn(addr, server)
	if !c.Ok() {
		t.Fatalf("expected a fresh Active connection")
	}
	return c
}

func TestGet_NoRouteReturnsNotOK(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	_, ok := rt.Get(wire.NewContent(1, 0, nil))
	if ok {
		t.Fatalf("expected no route for a destination never seen")
	}
}

func TestMarkAlive_InstallsRouteWhenSlotEmpty(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	conn := newTestConn(t, 9201)

	rt.cache.Stamp(0, 1)
	sentAt := now()
	rt.MarkAlive(conn, 0, sentAt)

	route, ok := rt.Get(wire.NewContent(2, 0, nil))
	if !ok || route != conn {
		t.Fatalf("expected the just-marked connection to be the route")
	}
	route.Release()
}

func TestMarkAlive_IgnoresRoundTripPastTimeout(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	rt.SetTimeout(MinTimeoutMs)
	conn := newTestConn(t, 9202)

	sentAt := now() - (MinTimeoutMs + 50)
	rt.MarkAlive(conn, 0, sentAt)

	_, ok := rt.Get(wire.NewContent(1, 0, nil))
	if ok {
		t.Fatalf("a too-slow round trip must not install a route")
	}
}

// TestRouting_StickyRouteIgnoresFresherPeer pins the preserved "stickiness"
// behavior: once a slot holds a usable route, MarkAlive for a *different*
// connection on the same destination bit is ignored outright, even though
// the new connection just proved itself alive.
func TestRouting_StickyRouteIgnoresFresherPeer(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	first := newTestConn(t, 9203)
	second := newTestConn(t, 9204)

	rt.MarkAlive(first, 0, now())

	route, ok := rt.Get(wire.NewContent(1, 0, nil))
	if !ok || route != first {
		t.Fatalf("expected first connection installed as the route")
	}
	route.Release()

	rt.MarkAlive(second, 0, now())

	route, ok = rt.Get(wire.NewContent(2, 0, nil))
	if !ok || route != first {
		t.Fatalf("a usable route must not be preempted by a different, fresher peer")
	}
	route.Release()
}

// TestRouting_FiveMillisecondDecayIsPreserved pins the unusual
// lastValidatedMs+5 < now decay window exactly as observed: a validation
// younger than 5ms survives a Get, one older than 5ms is reset to zero.
func TestRouting_FiveMillisecondDecayIsPreserved(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	conn := newTestConn(t, 9205)

	rt.MarkAlive(conn, 0, now())

	route, ok := rt.Get(wire.NewContent(1, 0, nil))
	if !ok {
		t.Fatalf("expected route to be usable immediately after MarkAlive")
	}
	route.Release()
	rt.mu.Lock()
	validatedRightAfter := rt.slots[0].lastValidatedMs
	rt.mu.Unlock()
	if validatedRightAfter == 0 {
		t.Fatalf("expected validation timestamp to survive a Get within the 5ms window")
	}

	time.Sleep(10 * time.Millisecond)

	route, ok = rt.Get(wire.NewContent(2, 0, nil))
	rt.mu.Lock()
	validatedAfterDecay := rt.slots[0].lastValidatedMs
	rt.mu.Unlock()
	if validatedAfterDecay != 0 {
		t.Fatalf("expected validation timestamp to decay to zero after 5ms, got %d", validatedAfterDecay)
	}
	// The route is still usable on this call: usable() is evaluated before
	// the decay is applied, and lastRequestedMs+timeout still covers nowMs.
	if !ok || route != conn {
		t.Fatalf("expected the route to still be returned on the decaying call")
	}
	route.Release()
}

// TestMarkAlive_IncrementsRouteSwitchesMetric pins that installing a new
// route for an empty slot bumps RouteSwitches exactly once, and that a
// subsequent re-validation of the same connection does not bump it again.
func TestMarkAlive_IncrementsRouteSwitchesMetric(t *testing.T) {
	coll := metrics.New()
	rt := New(idcache.New(), logging.Nop(), coll)
	conn := newTestConn(t, 9206)

	rt.MarkAlive(conn, 0, now())
	if got := testutil.ToFloat64(coll.RouteSwitches); got != 1 {
		t.Fatalf("expected RouteSwitches to be 1 after installing a new route, got %v", got)
	}

	rt.MarkAlive(conn, 0, now())
	if got := testutil.ToFloat64(coll.RouteSwitches); got != 1 {
		t.Fatalf("expected RouteSwitches to stay at 1 after re-validating the same route, got %v", got)
	}
}

func TestSetTimeout_IgnoresValueBelowMinimum(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	rt.SetTimeout(MinTimeoutMs - 1)
	if rt.timeoutSnapshot() != DefaultTimeoutMs {
		t.Fatalf("expected invalid SetTimeout to be ignored, got %d", rt.timeoutSnapshot())
	}
}

func TestSetTimeout_AppliesValidValue(t *testing.T) {
	rt := New(idcache.New(), logging.Nop(), metrics.New())
	rt.SetTimeout(50)
	if rt.timeoutSnapshot() != 50 {
		t.Fatalf("expected timeout to be updated to 50, got %d", rt.timeoutSnapshot())
	}
}
