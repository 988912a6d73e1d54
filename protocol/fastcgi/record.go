// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcgi

// This file defines the raw protocol used by the client and the responder.

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync"
)

// recType is a record type, as defined by
// https://web.archive.org/web/20150420080736/http://www.fastcgi.com/drupal/node/6?q=node/22#S8
type recType uint8

const (
	typeBeginRequest    recType = 1
	typeAbortRequest    recType = 2
	typeEndRequest      recType = 3
	typeParams          recType = 4
	typeStdin           recType = 5
	typeStdout          recType = 6
	typeStderr          recType = 7
	typeData            recType = 8
	typeGetValues       recType = 9
	typeGetValuesResult recType = 10
	typeUnknownType     recType = 11
)

// keep the connection between web-server and responder open after request
const flagKeepConn = 1

const (
	maxWrite = 65535 // maximum record body
	maxPad   = 255
)

const (
	roleResponder = iota + 1 // only Responders are implemented.
	roleAuthorizer
	roleFilter
)

const (
	statusRequestComplete = iota
	statusCantMultiplex
	statusOverloaded
	statusUnknownRole
)

// requestID is the only id used, one request runs per connection at a time.
const requestID uint16 = 1

var (
	errInvalidVersion  = errors.New("fcgi: invalid header version")
	errShortBeginBody  = errors.New("fcgi: invalid begin request record")
	errShortEndBody    = errors.New("fcgi: invalid end request record")
	errInFlight        = errors.New("fcgi: received ID that is already in-flight")
	errCloseConn       = errors.New("fcgi: connection should be closed")
	errUnexpectedClose = errors.New("fcgi: connection closed before end request")
)

type header struct {
	Version       uint8
	Type          recType
	ID            uint16
	ContentLength uint16
	PaddingLength uint8
	Reserved      uint8
}

func (h *header) init(recType recType, reqID uint16, contentLength int) {
	h.Version = 1
	h.Type = recType
	h.ID = reqID
	h.ContentLength = uint16(contentLength)
	h.PaddingLength = uint8(-contentLength & 7)
}

type beginRequest struct {
	role  uint16
	flags uint8
}

func (br *beginRequest) read(content []byte) error {
	if len(content) != 8 {
		return errShortBeginBody
	}
	br.role = binary.BigEndian.Uint16(content)
	br.flags = content[2]
	return nil
}

type endRequest struct {
	appStatus      uint32
	protocolStatus uint8
}

func (er *endRequest) read(content []byte) error {
	if len(content) != 8 {
		return errShortEndBody
	}
	er.appStatus = binary.BigEndian.Uint32(content)
	er.protocolStatus = content[4]
	return nil
}

type record struct {
	h   header
	buf [maxWrite + maxPad]byte
}

func (rec *record) read(r io.Reader) (err error) {
	if err = binary.Read(r, binary.BigEndian, &rec.h); err != nil {
		return err
	}
	if rec.h.Version != 1 {
		return errInvalidVersion
	}
	n := int(rec.h.ContentLength) + int(rec.h.PaddingLength)
	if _, err = io.ReadFull(r, rec.buf[:n]); err != nil {
		return err
	}
	return nil
}

func (rec *record) content() []byte {
	return rec.buf[:rec.h.ContentLength]
}

// for padding so we don't have to allocate all the time
// not synchronized because we don't care what the contents are
var pad [maxPad]byte

// conn sends records over rwc.
type conn struct {
	mutex sync.Mutex
	rwc   io.ReadWriteCloser

	// to avoid allocations
	buf bytes.Buffer
	h   header
}

func newConn(rwc io.ReadWriteCloser) *conn {
	return &conn{rwc: rwc}
}

func (c *conn) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.rwc.Close()
}

// writeRecord writes and sends a single record.
func (c *conn) writeRecord(recType recType, reqID uint16, b []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.buf.Reset()
	c.h.init(recType, reqID, len(b))
	if err := binary.Write(&c.buf, binary.BigEndian, c.h); err != nil {
		return err
	}
	c.buf.Write(b)
	c.buf.Write(pad[:c.h.PaddingLength])
	_, err := c.rwc.Write(c.buf.Bytes())
	return err
}

func (c *conn) writeBeginRequest(reqID uint16, role uint16, flags uint8) error {
	b := [8]byte{byte(role >> 8), byte(role), flags}
	return c.writeRecord(typeBeginRequest, reqID, b[:])
}

func (c *conn) writeEndRequest(reqID uint16, appStatus int, protocolStatus uint8) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint32(b, uint32(appStatus))
	b[4] = protocolStatus
	return c.writeRecord(typeEndRequest, reqID, b)
}

// writeStream sends p split into records of at most maxWrite bytes.
// An empty record terminating the stream is sent when end is set.
func (c *conn) writeStream(recType recType, reqID uint16, p []byte, end bool) error {
	for len(p) > 0 {
		n := len(p)
		if n > maxWrite {
			n = maxWrite
		}
		if err := c.writeRecord(recType, reqID, p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	if end {
		return c.writeRecord(recType, reqID, nil)
	}
	return nil
}

// writePairs sends the name-value pairs sorted by name, followed by the
// empty record ending the stream.
func (c *conn) writePairs(recType recType, reqID uint16, pairs map[string]string) error {
	return c.writeStream(recType, reqID, encodePairs(pairs), true)
}

func encodePairs(pairs map[string]string) []byte {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	b := make([]byte, 8)
	for _, k := range keys {
		v := pairs[k]
		n := encodeSize(b, uint32(len(k)))
		n += encodeSize(b[n:], uint32(len(v)))
		buf.Write(b[:n])
		buf.WriteString(k)
		buf.WriteString(v)
	}
	return buf.Bytes()
}

// decodePairs parses an encoded name-value pair stream,
// a truncated trailing pair is dropped.
func decodePairs(text []byte) map[string]string {
	pairs := make(map[string]string)
	for len(text) > 0 {
		keyLen, n := readSize(text)
		if n == 0 {
			break
		}
		text = text[n:]
		valLen, n := readSize(text)
		if n == 0 {
			break
		}
		text = text[n:]
		if int(keyLen)+int(valLen) > len(text) {
			break
		}
		key := readString(text, keyLen)
		text = text[keyLen:]
		val := readString(text, valLen)
		text = text[valLen:]
		pairs[key] = val
	}
	return pairs
}

func encodeSize(b []byte, size uint32) int {
	if size > 127 {
		size |= 1 << 31
		binary.BigEndian.PutUint32(b, size)
		return 4
	}
	b[0] = byte(size)
	return 1
}

func readSize(s []byte) (uint32, int) {
	if len(s) == 0 {
		return 0, 0
	}
	size, n := uint32(s[0]), 1
	if size&(1<<7) != 0 {
		if len(s) < 4 {
			return 0, 0
		}
		n = 4
		size = binary.BigEndian.Uint32(s)
		size &^= 1 << 31
	}
	return size, n
}

func readString(s []byte, size uint32) string {
	if size > uint32(len(s)) {
		return ""
	}
	return string(s[:size])
}
