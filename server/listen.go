package server

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/eudore/tinyhttpd"
	"golang.org/x/sys/unix"
)

// Listen binds the configured address with SO_REUSEADDR and SO_REUSEPORT,
// so every worker owns a listener on the same port.
func Listen(ctx context.Context, conf *tinyhttpd.Config) (net.Listener, error) {
	lc := net.ListenConfig{
		Control:   controlReuse,
		KeepAlive: 3 * time.Minute,
	}
	return lc.Listen(ctx, "tcp", conf.BindAddress())
}

func controlReuse(network, address string, c syscall.RawConn) error {
	var err error
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if err == nil {
			err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}
	})
	if cerr != nil {
		return cerr
	}
	return err
}
