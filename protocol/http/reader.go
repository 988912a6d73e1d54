// Package http implements the client side framing of the server:
// a line reader over the connection, the request parser and the
// fixed-shape response writer.
//
// Only GET and POST are parsed; keep-alive, chunked bodies and pipelining
// are not supported, every connection carries one request.
package http

import (
	"bufio"
	"io"
	"time"

	"github.com/eudore/tinyhttpd"
)

const (
	// MaxLineSize is the byte budget for one request or header line,
	// terminator excluded.
	MaxLineSize = 8192
	// MaxDrainSize bounds the unread data discarded before a 501 response.
	MaxDrainSize = 8192
)

// DrainTimeout bounds the wait for unread data before a 501 response.
var DrainTimeout = 100 * time.Millisecond

type readDeadliner interface {
	SetReadDeadline(time.Time) error
}

// Reader reads lines and body bytes from a connection.
//
// A line ends with CR, LF or CR LF. The terminator is consumed and never part
// of the returned line. Body bytes are read through the same buffer, so no
// data buffered after a terminator is lost.
//
// A CR ending the buffered data completes the line without waiting for the
// peer; an LF arriving next is skipped as the rest of that terminator.
type Reader struct {
	conn   io.Reader
	reader *bufio.Reader
	line   []byte
	skipLF bool
}

// NewReader creates a [Reader] over conn.
func NewReader(conn io.Reader) *Reader {
	return &Reader{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, 4096),
		line:   make([]byte, 0, 256),
	}
}

// Reset reuses the Reader for a new connection.
func (r *Reader) Reset(conn io.Reader) {
	r.conn = conn
	r.reader.Reset(conn)
	r.line = r.line[:0]
	r.skipLF = false
}

// ReadLine returns the next line without its terminator.
//
// An empty string is the header block terminator.
// A transport error or EOF before the terminator returns [tinyhttpd.ConnectionError];
// a line longer than [MaxLineSize] returns [tinyhttpd.MalformedRequestError]
// wrapping [tinyhttpd.ErrLineTooLong].
func (r *Reader) ReadLine() (string, error) {
	r.line = r.line[:0]
	for {
		b, err := r.reader.ReadByte()
		if err != nil {
			return "", &tinyhttpd.ConnectionError{Op: "read line", Err: err}
		}
		if r.skipLF {
			r.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\r':
			if r.reader.Buffered() == 0 {
				r.skipLF = true
			} else if next, _ := r.reader.Peek(1); next[0] == '\n' {
				_, _ = r.reader.Discard(1)
			}
			return string(r.line), nil
		case '\n':
			return string(r.line), nil
		}
		if len(r.line) == MaxLineSize {
			return "", &tinyhttpd.MalformedRequestError{
				Line: string(r.line[:64]),
				Err:  tinyhttpd.ErrLineTooLong,
			}
		}
		r.line = append(r.line, b)
	}
}

// Read implements io.Reader over the buffered connection.
func (r *Reader) Read(p []byte) (int, error) {
	r.discardLF()
	return r.reader.Read(p)
}

// discardLF consumes the LF of a CR LF terminator split across reads.
func (r *Reader) discardLF() {
	if !r.skipLF {
		return
	}
	r.skipLF = false
	if next, err := r.reader.Peek(1); err == nil && next[0] == '\n' {
		_, _ = r.reader.Discard(1)
	}
}

// ReadBody reads exactly n bytes.
//
// A connection closed or timed out before n bytes returns
// [tinyhttpd.ConnectionError]; the body is never silently truncated.
func (r *Reader) ReadBody(n int64) ([]byte, error) {
	body := make([]byte, n)
	if n > 0 {
		r.discardLF()
	}
	_, err := io.ReadFull(r.reader, body)
	if err != nil {
		return nil, &tinyhttpd.ConnectionError{Op: "read body", Err: err}
	}
	return body, nil
}

// Drain discards up to limit bytes of unread request data and returns the
// number discarded.
//
// Buffered data goes first, then the connection is read until limit bytes
// are gone or the read fails; [DrainTimeout] bounds the whole drain.
// A connection without read deadlines is read until limit or EOF.
func (r *Reader) Drain(limit int) int {
	if d, ok := r.conn.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(DrainTimeout))
		defer d.SetReadDeadline(time.Time{})
	}
	n, _ := io.CopyN(io.Discard, r.reader, int64(limit))
	return int(n)
}
