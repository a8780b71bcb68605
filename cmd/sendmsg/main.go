// Command sendmsg is a thin utility that speaks meshy's wire format to poke
// a running node: introduce a neighbor, push a content packet towards a
// role, or forge an acknowledgement.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dritz/meshy/internal/wire"
)

const responseWait = 5 * time.Second

var (
	app = kingpin.New("sendmsg", "Send a raw packet to a running meshy node.")

	nCmd  = app.Command("N", "Introduce a neighbor address.")
	nHost = nCmd.Arg("host", "Target meshy host:port.").Required().String()
	nAddr = nCmd.Arg("neighbor", "Neighbor host:port to introduce.").Required().String()

	cCmd  = app.Command("C", "Send a content packet.")
	cHost = cCmd.Arg("host", "Target meshy host:port.").Required().String()
	cDest = cCmd.Arg("dest", "Destination role: q or z.").Required().Enum("q", "z")
	cID   = cCmd.Arg("id", "Packet id.").Required().Uint16()
	cMsg  = cCmd.Arg("message", "Message body.").Required().String()

	oCmd  = app.Command("O", "Send an acknowledgement packet.")
	oHost = oCmd.Arg("host", "Target meshy host:port.").Required().String()
	oDest = oCmd.Arg("dest", "Destination role: q or z.").Required().Enum("q", "z")
	oID   = oCmd.Arg("id", "Packet id.").Required().Uint16()
)

func destByte(s string) uint8 {
	if s == "z" {
		return 1
	}
	return 0
}

func main() {
	switch kingpin.MustParse(app.Parse(os.Args[1:])) {
	case nCmd.FullCommand():
		runNeighbor(*nHost, *nAddr)
	case cCmd.FullCommand():
		runContent(*cHost, destByte(*cDest), *cID, *cMsg)
	case oCmd.FullCommand():
		runAck(*oHost, destByte(*oDest), *oID)
	}
}

func resolve(hostport string) *net.TCPAddr {
	addr, err := net.ResolveTCPAddr("tcp4", hostport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unknown host/port: %s\n", hostport)
		os.Exit(1)
	}
	return addr
}

func runNeighbor(host, neighbor string) {
	target := resolve(host)
	addhost := resolve(neighbor)

	pkt := wire.NewNeighbor(addhost)
	fmt.Printf("Sending 'N' packet with %s to %s\n", addhost, target)
	send(target, pkt, false)
}

func runContent(host string, dest uint8, id uint16, msg string) {
	target := resolve(host)
	pkt := wire.NewContent(id, dest, []byte(msg))
	fmt.Printf("Sending 'C' packet to %s\n", target)
	send(target, pkt, true)
}

func runAck(host string, dest uint8, id uint16) {
	target := resolve(host)
	pkt := wire.NewContent(id, dest, []byte("some ok packet")).Acked()
	fmt.Printf("Sending 'O' packet to %s\n", target)
	send(target, pkt, false)
}

func send(target *net.TCPAddr, pkt wire.Packet, awaitResponse bool) {
	conn, err := net.DialTCP("tcp4", nil, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	buf := pkt.Marshal()
	n, err := conn.Write(buf[:])
	if err != nil || n != wire.Size {
		fmt.Printf("packet incomplete, only %d/%d bytes sent\n", n, wire.Size)
		os.Exit(1)
	}
	fmt.Println("packet sent")

	if !awaitResponse {
		return
	}

	conn.SetReadDeadline(time.Now().Add(responseWait))
	var respBuf [wire.Size]byte
	_, err = readFull(conn, respBuf[:])
	if err != nil {
		fmt.Println("Timeout waiting for a response")
		return
	}
	resp, err := wire.Parse(respBuf[:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "malformed response: %v\n", err)
		return
	}
	fmt.Printf("Response received for ID: %d to %d\n", resp.ID, resp.Dest)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
