// Package server implements the listener loop: it accepts connections one at
// a time, parses the request, routes it to a static file or the FastCGI
// gateway and writes the response before accepting the next connection.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/eudore/tinyhttpd/protocol/fastcgi"
	"github.com/eudore/tinyhttpd/protocol/http"
	"github.com/google/uuid"
)

// ConnState is the state of the connection being served.
type ConnState int

// Connection states, in order.
const (
	StateAccepted ConnState = iota
	StateParsingRequest
	StateRoutedDynamic
	StateRoutedStatic
	StateUnimplemented
	StateNotFound
	StateResponding
	StateClosed
)

var connStateNames = [...]string{
	"accepted", "parsing-request", "routed-dynamic", "routed-static",
	"unimplemented", "not-found", "responding", "closed",
}

func (s ConnState) String() string {
	if int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "unknown"
}

// Gateway performs one backend exchange for a dynamic request.
type Gateway interface {
	Run(ctx context.Context, env fastcgi.Environment, stdin []byte) ([]byte, []byte, error)
}

// Server runs a sequential listener loop.
//
// A Server serves one connection at a time and must not be shared by
// concurrent Serve calls.
type Server struct {
	Config  *tinyhttpd.Config
	Router  *Router
	Gateway Gateway
	Logger  tinyhttpd.Logger
	Metrics *Metrics
	// ID is the worker id written in every connection log.
	ID int
	// ConnStateHook, if set, is called on every connection state change.
	ConnStateHook func(net.Conn, ConnState)

	reader *http.Reader
	writer *http.ResponseWriter
}

// NewServer creates a [Server] with a router over conf.WebDir and a FastCGI
// client for conf.Fastcgi.
func NewServer(conf *tinyhttpd.Config, log tinyhttpd.Logger, metrics *Metrics) *Server {
	if log == nil {
		log = tinyhttpd.DefaultLoggerNull
	}
	return &Server{
		Config:  conf,
		Router:  NewRouter(conf.WebDir),
		Gateway: fastcgi.NewClient(conf, log),
		Logger:  log,
		Metrics: metrics,
	}
}

// AcceptDrainTimeout bounds how long a stopping listener keeps accepting
// connections already queued by the kernel.
var AcceptDrainTimeout = 100 * time.Millisecond

type deadlineListener interface {
	SetDeadline(time.Time) error
}

// Serve accepts connections on ln and serves each before the next accept.
//
// Per-connection errors are logged and never end the loop; accept errors
// are retried with a growing delay while ctx is live.
// Serve returns nil when ctx is done or ln is closed. When ctx is done
// the connections already queued on ln are still served for up to
// [AcceptDrainTimeout], then ln is closed. A connection in progress when
// ctx is done is completed first.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if dl, ok := ln.(deadlineListener); ok {
			if dl.SetDeadline(time.Now().Add(AcceptDrainTimeout)) == nil {
				return
			}
		}
		ln.Close()
	})
	defer stop()
	defer ln.Close()

	connCtx := context.WithoutCancel(ctx)
	var delay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			delay = acceptDelay(delay)
			srv.Logger.Warningf("accept error: %v; retrying in %v", err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0
		srv.ServeConn(connCtx, c)
	}
}

func acceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return 5 * time.Millisecond
	}
	delay *= 2
	if delay > time.Second {
		delay = time.Second
	}
	return delay
}

// ServeConn serves the single request on c and closes c on every path.
//
// The returned error is already logged.
func (srv *Server) ServeConn(ctx context.Context, c net.Conn) (err error) {
	log := srv.Logger.WithFields(
		[]string{tinyhttpd.LoggerFieldRequestID, tinyhttpd.LoggerFieldRemote, tinyhttpd.LoggerFieldWorker},
		[]any{uuid.NewString(), c.RemoteAddr().String(), srv.ID},
	).WithField("logger", true)

	srv.setState(log, c, StateAccepted)
	defer func() {
		c.Close()
		srv.setState(log, c, StateClosed)
		if err != nil {
			srv.Metrics.observeConnError(err)
			logError(log, err)
		}
	}()

	if srv.reader == nil {
		srv.reader = http.NewReader(c)
		srv.writer = http.NewResponseWriter(c)
	} else {
		srv.reader.Reset(c)
		srv.writer.Reset(c)
	}
	if srv.Config.ReadTimeout > 0 {
		c.SetReadDeadline(time.Now().Add(srv.Config.ReadTimeout))
	}

	srv.setState(log, c, StateParsingRequest)
	req, err := http.ReadRequest(srv.reader, srv.Config.MaxBodySize)
	if err != nil {
		return err
	}
	req.RemoteAddr = c.RemoteAddr().String()
	log = log.WithFields([]string{"method", "uri"}, []any{req.RawMethod, req.RequestURI}).
		WithField("logger", true)

	if req.Method == http.MethodUnsupported {
		srv.setState(log, c, StateUnimplemented)
		srv.setWriteDeadline(c)
		srv.setState(log, c, StateResponding)
		err = srv.writer.WriteNotImplemented(srv.reader)
		srv.observe("none")
		return err
	}

	route, err := srv.Router.Resolve(req)
	if err != nil || !srv.Router.Check(route) {
		if err != nil {
			log.Debug(err)
		}
		return srv.notFound(log, c)
	}
	if route.Dynamic {
		srv.setState(log, c, StateRoutedDynamic)
		return srv.serveDynamic(ctx, log, c, req, route)
	}
	srv.setState(log, c, StateRoutedStatic)
	return srv.serveStatic(log, c, route)
}

func (srv *Server) serveDynamic(ctx context.Context, log tinyhttpd.Logger, c net.Conn, req *http.Request, route Route) error {
	env := fastcgi.NewEnvironment(req, srv.Config, route.Filename)
	start := time.Now()
	_, body, err := srv.Gateway.Run(ctx, env, req.Body)
	srv.Metrics.observeGateway(start, err)
	if err != nil {
		return err
	}

	srv.setWriteDeadline(c)
	srv.setState(log, c, StateResponding)
	err = srv.writer.WriteOK(true, body)
	srv.observe("dynamic")
	return err
}

func (srv *Server) serveStatic(log tinyhttpd.Logger, c net.Conn, route Route) error {
	file, err := os.Open(route.Filename)
	if err != nil {
		log.Debug(err)
		return srv.notFound(log, c)
	}
	defer file.Close()

	srv.setWriteDeadline(c)
	srv.setState(log, c, StateResponding)
	err = srv.writer.WriteStream(false, file)
	srv.observe("static")
	return err
}

func (srv *Server) notFound(log tinyhttpd.Logger, c net.Conn) error {
	srv.setState(log, c, StateNotFound)
	srv.setWriteDeadline(c)
	srv.setState(log, c, StateResponding)
	err := srv.writer.WriteNotFound()
	srv.observe("none")
	return err
}

func (srv *Server) observe(kind string) {
	srv.Metrics.observeResponse(kind, srv.writer.Status(), srv.writer.Size())
}

func (srv *Server) setWriteDeadline(c net.Conn) {
	if srv.Config.WriteTimeout > 0 {
		c.SetWriteDeadline(time.Now().Add(srv.Config.WriteTimeout))
	}
}

func (srv *Server) setState(log tinyhttpd.Logger, c net.Conn, state ConnState) {
	log.WithField(tinyhttpd.LoggerFieldState, state.String()).Debug("connection state")
	if srv.ConnStateHook != nil {
		srv.ConnStateHook(c, state)
	}
}

// Close releases the persistent gateway connection, if any.
func (srv *Server) Close() error {
	if closer, ok := srv.Gateway.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func logError(log tinyhttpd.Logger, err error) {
	var (
		conn    *tinyhttpd.ConnectionError
		gateway *tinyhttpd.GatewayError
	)
	switch {
	case errors.Is(err, tinyhttpd.ErrGatewayTimeout):
		log.Errorf("gateway timeout: %v", err)
	case errors.As(err, &gateway):
		log.Error(err)
	case errors.As(err, &conn):
		log.Info(err)
	default:
		log.Warning(err)
	}
}
