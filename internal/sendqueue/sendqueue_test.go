package sendqueue

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dritz/meshy/internal/connection"
	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/wire"
)

func newTestConn(t *testing.T, port int) *connection.Conn {
	t.Helper()
	tbl := connection.NewTable(logging.Nop())
	addr := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	c, created := tbl.CreateUnlessExists(addr)
	if !created {
		t.Fatalf("expected a fresh connection")
	}
	return c
}

func TestAddGet_FIFOOrder(t *testing.T) {
	q := New()
	conn := newTestConn(t, 9101)

	for i := 0; i < 5; i++ {
		q.Add(wire.NewContent(uint16(i), 0, nil), conn)
	}

	for i := 0; i < 5; i++ {
		pkt, _ := q.Get()
		if pkt.ID != uint16(i) {
			t.Fatalf("expected FIFO order, got id %d at position %d", pkt.ID, i)
		}
	}
}

func TestGet_BlocksUntilAdd(t *testing.T) {
	q := New()
	conn := newTestConn(t, 9102)

	done := make(chan wire.Packet, 1)
	go func() {
		pkt, _ := q.Get()
		done <- pkt
	}()

	select {
	case <-done:
		t.Fatalf("Get returned before anything was added")
	case <-time.After(50 * time.Millisecond):
	}

	q.Add(wire.NewContent(1, 0, nil), conn)

	select {
	case pkt := <-done:
		if pkt.ID != 1 {
			t.Fatalf("unexpected packet id %d", pkt.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("Get never unblocked after Add")
	}
}

func TestAdd_BlocksWhenFull(t *testing.T) {
	q := New()
	conn := newTestConn(t, 9103)

	for i := 0; i < Capacity; i++ {
		q.Add(wire.NewContent(uint16(i), 0, nil), conn)
	}

	blocked := make(chan struct{})
	go func() {
		q.Add(wire.NewContent(999, 0, nil), conn)
		close(blocked)
	}()

	select {
	case <-blocked:
		t.Fatalf("Add did not block on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Get()

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatalf("Add never unblocked after a Get freed a slot")
	}
}

func TestAdd_TakesOriginReference(t *testing.T) {
	q := New()
	conn := newTestConn(t, 9104)

	before := conn.Refs()
	q.Add(wire.NewContent(1, 0, nil), conn)
	if conn.Refs() != before+1 {
		t.Fatalf("expected Add to take a reference on origin")
	}

	_, origin := q.Get()
	if origin != conn {
		t.Fatalf("expected Get to hand back the same origin")
	}
	origin.Release()
	if conn.Refs() != before {
		t.Fatalf("expected refcount to return to baseline after release")
	}
}

func TestLen_TracksSize(t *testing.T) {
	q := New()
	conn := newTestConn(t, 9105)

	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		go func(id uint16) {
			defer wg.Done()
			q.Add(wire.NewContent(id, 0, nil), conn)
		}(uint16(i))
	}
	wg.Wait()

	if q.Len() != 3 {
		t.Fatalf("expected length 3, got %d", q.Len())
	}
}
