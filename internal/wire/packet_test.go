package wire

import (
	"net"
	"testing"
)

func TestNewContent_TruncatesOversizedBuffer(t *testing.T) {
	buf := make([]byte, ContentSize+50)
	for i := range buf {
		buf[i] = 'x'
	}
	p := NewContent(7, 1, buf)

	if p.ID != 7 || p.Dest != 1 || p.Type != Content {
		t.Fatalf("unexpected header: %+v", p)
	}
	for _, b := range p.Content {
		if b != 'x' {
			t.Fatalf("content not fully populated")
		}
	}
}

func TestNewContent_MasksDestToOneBit(t *testing.T) {
	p := NewContent(1, 0xFE, []byte("hi"))
	if p.Dest != 0 {
		t.Fatalf("dest not masked: got %d", p.Dest)
	}
}

func TestMarshalParse_RoundTrips(t *testing.T) {
	p := NewContent(0xABCD, 1, []byte("hello mesh"))
	buf := p.Marshal()

	got, err := Parse(buf[:])
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, p)
	}
}

func TestParse_RejectsShortBuffer(t *testing.T) {
	_, err := Parse(make([]byte, Size-1))
	if err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestNeighborRoundTrip(t *testing.T) {
	addr := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4242}
	p := NewNeighbor(addr)
	if p.Type != Neighbor {
		t.Fatalf("expected Neighbor type, got %v", p.Type)
	}

	got := p.ParseNeighbor()
	if !got.IP.Equal(addr.IP) || got.Port != addr.Port {
		t.Fatalf("neighbor mismatch: got %s want %s", got, addr)
	}
}

func TestAcked_FlipsTypeOnly(t *testing.T) {
	p := NewContent(3, 0, []byte("x"))
	acked := p.Acked()

	if acked.Type != Ack {
		t.Fatalf("expected Ack type, got %v", acked.Type)
	}
	if acked.ID != p.ID || acked.Dest != p.Dest || acked.Content != p.Content {
		t.Fatalf("Acked mutated fields beyond Type")
	}
	if p.Type != Content {
		t.Fatalf("Acked mutated the receiver; Packet should be a value type")
	}
}
