// Command meshy runs one node of the mesh: it listens for inbound peer
// connections and floods or unicasts content packets towards their
// destination role. Peers are discovered only at runtime, via 'N' packets
// delivered by other nodes or by the sendmsg utility - there is no
// command-line flag to dial an initial peer.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/mesh"
	"github.com/dritz/meshy/internal/role"
	"github.com/dritz/meshy/internal/routing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	app = kingpin.New("meshy", "A node in a flooding/routing packet mesh.")

	port = app.Arg("port", "TCP port to listen on.").Default("3333").Uint16()

	isDestination = app.Flag("destination", "This node is the 'destination' role.").Short('z').Bool()
	isSource      = app.Flag("source", "This node is the 'source' role.").Short('q').Bool()
	verbose       = app.Flag("verbose", "Enable verbose logging.").Short('v').Bool()
	timeoutMs     = app.Flag("timeout", "Route validation timeout, in milliseconds.").Short('t').Default("0").Int()
	metricsAddr   = app.Flag("metrics-addr", "If set, serve Prometheus metrics on this address.").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if os.Getenv("BE_VERBOSE") == "1" {
		*verbose = true
	}

	nodeRole := role.Normal
	roleStr := " "
	switch {
	case *isDestination:
		nodeRole = role.Destination
		roleStr = "Z"
	case *isSource:
		nodeRole = role.Source
		roleStr = "Q"
	}

	log := logging.New(fmt.Sprintf("%s %5d", roleStr, *port), *verbose)

	if *timeoutMs != 0 && *timeoutMs < routing.MinTimeoutMs {
		log.Warnf("invalid route timeout %dms ignored (minimum %dms)", *timeoutMs, routing.MinTimeoutMs)
		*timeoutMs = 0
	}
	if *timeoutMs != 0 {
		log.Debugf("setting route timeout to %d milliseconds", *timeoutMs)
	}

	node := mesh.New(mesh.Config{
		Role:      nodeRole,
		TimeoutMs: *timeoutMs,
		Logger:    log,
	})

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", *port))
	if err != nil {
		log.Fatalf("cannot listen on port %d: %v", *port, err)
	}
	log.Debugf("listening on port %d", *port)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(node.Metrics.Registry, promhttp.HandlerOpts{}))
		go func() {
			log.Infof("serving metrics on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	node.Start(context.Background(), ln)

	select {}
}

// setReuseAddr sets SO_REUSEADDR on the listening socket so the port can be
// rebound immediately after a restart, without waiting out TIME_WAIT.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
