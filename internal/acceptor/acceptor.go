// Package acceptor runs the listen loop: every inbound TCP connection is
// wrapped into the connection table and handed to a fresh receiver.
package acceptor

import (
	"errors"
	"net"
	"sync"

	"github.com/dritz/meshy/internal/logging"
	"github.com/dritz/meshy/internal/receiver"
)

// Run accepts connections on ln until it is closed, spawning a receiver for
// each. Temporary accept errors are retried; any other accept error is
// logged as fatal and exits the process. If wg is non-nil, Run itself registers with it and
// every spawned receiver does too - the test-only shutdown path closes ln to
// unblock Run and relies on the caller to wait on wg afterwards.
func Run(ln net.Listener, deps *receiver.Deps, log logging.Logger, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}

	for {
		socket, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Temporary() {
				log.Warnf("temporary accept error, retrying: %v", err)
				continue
			}
			log.Fatalf("accept error: %v", err)
			return
		}

		addr, ok := socket.RemoteAddr().(*net.TCPAddr)
		if !ok {
			log.Warnf("rejecting non-TCP peer %s", socket.RemoteAddr())
			_ = socket.Close()
			continue
		}

		conn := deps.Table.CreateWithConn(addr, socket)
		deps.Metrics.ConnectionsActive.Set(float64(deps.Table.Len()))
		log.Debugf("accepted connection from %s", addr)

		if wg != nil {
			wg.Add(1)
		}
		go receiver.Run(deps, conn, wg)
	}
}
