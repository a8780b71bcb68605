// Package wire implements the fixed 132-byte packet format exchanged
// between meshy nodes.
package wire

import (
	"encoding/binary"
	"errors"
	"net"
)

// Type is the packet kind carried in the wire header.
type Type byte

const (
	// Content carries data travelling towards its destination role.
	Content Type = 'C'
	// Ack is sent back along the path once Content is delivered.
	Ack Type = 'O'
	// Neighbor introduces an address the receiving node should dial.
	Neighbor Type = 'N'
)

const (
	// Size is the total wire size of a packet, in bytes.
	Size = 132
	// ContentSize is the size of the content field, in bytes.
	ContentSize = 128

	offsetID      = 0
	offsetDest    = 2
	offsetType    = 3
	offsetContent = 4
)

// ErrShortPacket is returned by Parse when fewer than Size bytes are given.
var ErrShortPacket = errors.New("wire: packet shorter than 132 bytes")

// Packet is a fixed-size record. It is a value type: every assignment or
// function argument pass duplicates it in full, which is the Go analogue of
// the original implementation's explicit packet_dup.
type Packet struct {
	ID      uint16
	Dest    uint8
	Type    Type
	Content [ContentSize]byte
}

// NewContent builds a 'C' packet, truncating buf to ContentSize bytes.
func NewContent(id uint16, dest uint8, buf []byte) Packet {
	var p Packet
	p.ID = id
	p.Dest = dest & 0x01
	p.Type = Content
	if len(buf) > ContentSize {
		buf = buf[:ContentSize]
	}
	copy(p.Content[:], buf)
	return p
}

// NewNeighbor builds an 'N' packet whose content carries addr's IPv4 and
// port exactly as delivered by the platform socket API: 4 bytes of address
// followed by 2 bytes of port, both network byte order.
func NewNeighbor(addr *net.TCPAddr) Packet {
	var p Packet
	p.Type = Neighbor
	ip4 := addr.IP.To4()
	copy(p.Content[0:4], ip4)
	binary.BigEndian.PutUint16(p.Content[4:6], uint16(addr.Port))
	return p
}

// ParseNeighbor extracts the address carried by an 'N' packet's content.
func (p Packet) ParseNeighbor() *net.TCPAddr {
	ip := make(net.IP, 4)
	copy(ip, p.Content[0:4])
	port := binary.BigEndian.Uint16(p.Content[4:6])
	return &net.TCPAddr{IP: ip, Port: int(port)}
}

// Acked returns a copy of p with its type flipped from Content to Ack, as
// done when a packet reaches its destination role.
func (p Packet) Acked() Packet {
	p.Type = Ack
	return p
}

// Marshal encodes p into its 132-byte wire representation.
func (p Packet) Marshal() [Size]byte {
	var buf [Size]byte
	binary.BigEndian.PutUint16(buf[offsetID:offsetDest], p.ID)
	buf[offsetDest] = p.Dest & 0x01
	buf[offsetType] = byte(p.Type)
	copy(buf[offsetContent:], p.Content[:])
	return buf
}

// Parse decodes a 132-byte wire representation into a Packet.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < Size {
		return Packet{}, ErrShortPacket
	}
	var p Packet
	p.ID = binary.BigEndian.Uint16(buf[offsetID:offsetDest])
	p.Dest = buf[offsetDest] & 0x01
	p.Type = Type(buf[offsetType])
	copy(p.Content[:], buf[offsetContent:offsetContent+ContentSize])
	return p, nil
}
