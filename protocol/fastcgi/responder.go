// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcgi

// This file implements FastCGI from the perspective of a responder process.

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
)

// Handler answers one backend request.
//
// Bytes written to stdout form the response, header block first;
// bytes written to stderr are sent as STDERR records.
type Handler interface {
	ServeFastCGI(env Environment, stdin []byte, stdout, stderr io.Writer) error
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(env Environment, stdin []byte, stdout, stderr io.Writer) error

// ServeFastCGI implements [Handler].
func (fn HandlerFunc) ServeFastCGI(env Environment, stdin []byte, stdout, stderr io.Writer) error {
	return fn(env, stdin, stdout, stderr)
}

// Serve accepts FastCGI connections on l, creating a new goroutine for each.
// It returns when Accept fails; a closed listener returns nil.
func Serve(l net.Listener, handler Handler) error {
	for {
		rw, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go newChild(rw, handler).serve()
	}
}

// ServeConn serves requests on one connection until the peer closes it,
// the request does not ask to keep it, or ctx is done.
func ServeConn(ctx context.Context, rwc io.ReadWriteCloser, handler Handler) {
	c := newChild(rwc, handler)
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	c.serve()
}

type child struct {
	conn    *conn
	handler Handler
	// one request at a time, FCGI_MPXS_CONNS is 0.
	req *request
}

// request holds the state for an in-progress request.
type request struct {
	reqID     uint16
	keepConn  bool
	rawParams []byte
	params    Environment
	stdin     bytes.Buffer
}

func newChild(rwc io.ReadWriteCloser, handler Handler) *child {
	return &child{conn: newConn(rwc), handler: handler}
}

func (c *child) serve() {
	defer c.conn.Close()
	rec := new(record)
	for {
		if err := rec.read(c.conn.rwc); err != nil {
			return
		}
		if err := c.handleRecord(rec); err != nil {
			return
		}
	}
}

func (c *child) handleRecord(rec *record) error {
	req := c.req
	if req != nil && rec.h.ID != req.reqID && rec.h.Type == typeBeginRequest {
		c.conn.writeEndRequest(rec.h.ID, 0, statusCantMultiplex)
		return nil
	}
	if (req == nil || rec.h.ID != req.reqID) && rec.h.Type != typeBeginRequest && rec.h.Type != typeGetValues {
		// unknown request IDs are ignored.
		return nil
	}

	switch rec.h.Type {
	case typeBeginRequest:
		if req != nil {
			return errInFlight
		}
		var br beginRequest
		if err := br.read(rec.content()); err != nil {
			return err
		}
		if br.role != roleResponder {
			c.conn.writeEndRequest(rec.h.ID, 0, statusUnknownRole)
			return nil
		}
		c.req = &request{reqID: rec.h.ID, keepConn: br.flags&flagKeepConn != 0}
		return nil
	case typeParams:
		// a name-value pair can straddle two records, buffer until the empty one.
		if len(rec.content()) > 0 {
			req.rawParams = append(req.rawParams, rec.content()...)
			return nil
		}
		req.params = decodePairs(req.rawParams)
		req.rawParams = nil
		return nil
	case typeStdin:
		if len(rec.content()) > 0 {
			req.stdin.Write(rec.content())
			return nil
		}
		return c.serveRequest(req)
	case typeGetValues:
		values := map[string]string{"FCGI_MPXS_CONNS": "0", "FCGI_MAX_REQS": "1"}
		c.conn.writePairs(typeGetValuesResult, 0, values)
		return nil
	case typeData:
		// filter role data is ignored.
		return nil
	case typeAbortRequest:
		c.req = nil
		c.conn.writeEndRequest(rec.h.ID, 0, statusRequestComplete)
		if !req.keepConn {
			return errCloseConn
		}
		return nil
	default:
		b := make([]byte, 8)
		b[0] = byte(rec.h.Type)
		c.conn.writeRecord(typeUnknownType, 0, b)
		return nil
	}
}

func (c *child) serveRequest(req *request) error {
	c.req = nil
	if req.params == nil {
		req.params = Environment{}
	}

	var stdout, stderr bytes.Buffer
	appStatus := 0
	if err := c.handler.ServeFastCGI(req.params, req.stdin.Bytes(), &stdout, &stderr); err != nil {
		stderr.WriteString(err.Error())
		appStatus = 1
	}
	if err := c.conn.writeStream(typeStdout, req.reqID, stdout.Bytes(), true); err != nil {
		return err
	}
	if stderr.Len() > 0 {
		if err := c.conn.writeStream(typeStderr, req.reqID, stderr.Bytes(), true); err != nil {
			return err
		}
	}
	if err := c.conn.writeEndRequest(req.reqID, appStatus, statusRequestComplete); err != nil {
		return err
	}
	if !req.keepConn {
		return errCloseConn
	}
	return nil
}
