// Package fastcgi implements the gateway side of the FastCGI protocol:
// a client performing one request per exchange against a responder pool,
// and a small responder used as a local backend.
//
// See https://fast-cgi.github.io/ for an unofficial mirror of the
// original documentation.
package fastcgi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eudore/tinyhttpd"
)

// Client sends requests to one FastCGI backend.
//
// An exchange writes the environment and the stdin payload, then reads
// records until END_REQUEST. Failures are never retried.
type Client struct {
	// Addr is "host:port", "tcp://host:port", "unix:///path" or a socket path.
	Addr string
	// Timeout is the idle timeout, refreshed on every record read or written.
	Timeout time.Duration
	// Persistent keeps one backend connection open between requests.
	Persistent bool
	Logger     tinyhttpd.Logger
	Dialer     *net.Dialer

	mu   sync.Mutex
	conn *conn
	raw  net.Conn
}

// NewClient creates a [Client] for the configured backend.
func NewClient(conf *tinyhttpd.Config, log tinyhttpd.Logger) *Client {
	if log == nil {
		log = tinyhttpd.DefaultLoggerNull
	}
	return &Client{
		Addr:       conf.Fastcgi,
		Timeout:    conf.GatewayTimeout,
		Persistent: conf.GatewayPersistent,
		Logger:     log,
		Dialer:     &net.Dialer{Timeout: conf.GatewayTimeout, KeepAlive: 15 * time.Second},
	}
}

// ParseAddr returns the network and address to dial.
func ParseAddr(addr string) (string, string) {
	switch {
	case strings.HasPrefix(addr, "unix://"):
		return "unix", addr[7:]
	case strings.HasPrefix(addr, "tcp://"):
		return "tcp", addr[6:]
	case strings.HasPrefix(addr, "/") || !strings.Contains(addr, ":"):
		return "unix", addr
	}
	return "tcp", addr
}

// Run performs one exchange and returns the response split into its header
// block and body.
func (c *Client) Run(ctx context.Context, env Environment, stdin []byte) ([]byte, []byte, error) {
	buf, err := c.Do(ctx, env, stdin)
	if err != nil {
		return nil, nil, err
	}
	header, body := SplitResponse(buf)
	return header, body, nil
}

// Do performs one exchange and returns the raw STDOUT stream.
//
// Every error is a [*tinyhttpd.GatewayError]; a timed out exchange matches
// [tinyhttpd.ErrGatewayTimeout].
func (c *Client) Do(ctx context.Context, env Environment, stdin []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, raw, err := c.getConn(ctx)
	if err != nil {
		return nil, c.wrapError(err)
	}
	stop := context.AfterFunc(ctx, func() {
		raw.SetDeadline(time.Now())
	})
	buf, err := c.exchange(cc, raw, env, stdin)
	stop()

	if err != nil || !c.Persistent {
		cc.Close()
		c.conn, c.raw = nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, c.wrapError(err)
	}
	return buf, nil
}

// Close closes the persistent backend connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.raw = nil, nil
	return err
}

func (c *Client) getConn(ctx context.Context) (*conn, net.Conn, error) {
	if c.conn != nil {
		return c.conn, c.raw, nil
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: c.Timeout, KeepAlive: 15 * time.Second}
	}
	network, addr := ParseAddr(c.Addr)
	raw, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, nil, err
	}
	c.conn, c.raw = newConn(raw), raw
	return c.conn, raw, nil
}

func (c *Client) exchange(cc *conn, raw net.Conn, env Environment, stdin []byte) ([]byte, error) {
	var flags uint8
	if c.Persistent {
		flags = flagKeepConn
	}
	c.refresh(raw)
	if err := cc.writeBeginRequest(requestID, roleResponder, flags); err != nil {
		return nil, err
	}
	if err := cc.writePairs(typeParams, requestID, env); err != nil {
		return nil, err
	}
	if err := cc.writeStream(typeStdin, requestID, stdin, true); err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	rec := new(record)
	for {
		c.refresh(raw)
		if err := rec.read(raw); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = errUnexpectedClose
			}
			return nil, err
		}
		if rec.h.ID != requestID {
			continue
		}
		switch rec.h.Type {
		case typeStdout:
			stdout.Write(rec.content())
		case typeStderr:
			stderr.Write(rec.content())
		case typeEndRequest:
			var er endRequest
			if err := er.read(rec.content()); err != nil {
				return nil, err
			}
			if stderr.Len() > 0 {
				c.Logger.WithField("fastcgi", c.Addr).Warning(strings.TrimSpace(stderr.String()))
			}
			if er.protocolStatus != statusRequestComplete {
				return nil, protocolStatusError(er.protocolStatus)
			}
			return stdout.Bytes(), nil
		}
	}
}

func (c *Client) refresh(raw net.Conn) {
	if c.Timeout > 0 {
		raw.SetDeadline(time.Now().Add(c.Timeout))
	}
}

func (c *Client) wrapError(err error) error {
	return &tinyhttpd.GatewayError{Addr: c.Addr, Err: err}
}

// SplitResponse splits a response at the first blank line.
// Without a blank line the whole buffer is the body.
func SplitResponse(buf []byte) ([]byte, []byte) {
	pos, size := bytes.Index(buf, []byte("\r\n\r\n")), 4
	if lf := bytes.Index(buf, []byte("\n\n")); lf != -1 && (pos == -1 || lf < pos) {
		pos, size = lf, 2
	}
	if pos == -1 {
		return nil, buf
	}
	return buf[:pos], buf[pos+size:]
}

type protocolStatusError uint8

func (e protocolStatusError) Error() string {
	switch uint8(e) {
	case statusCantMultiplex:
		return "fcgi: backend cannot multiplex connections"
	case statusOverloaded:
		return "fcgi: backend overloaded"
	case statusUnknownRole:
		return "fcgi: backend rejected the responder role"
	}
	return "fcgi: unknown protocol status"
}
