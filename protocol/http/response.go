package http

import (
	"io"
	"strconv"

	"github.com/eudore/tinyhttpd"
)

// Status lines written by [ResponseWriter].
const (
	StatusLineOK             = "HTTP/1.1 200 OK"
	StatusLineNotFound       = "HTTP/1.1 404 NOT FOUND"
	StatusLineNotImplemented = "HTTP/1.1 501 Method Not Implemented"
)

// Content types written by [ResponseWriter].
const (
	MimeTextHTML            = "text/html"
	MimeApplicationJSONUtf8 = "application/json;charset=utf-8"
)

var (
	// BodyNotFound is the fixed 404 payload.
	BodyNotFound = "<HTML><TITLE>Not Found</TITLE>\r\n" +
		"<BODY><P>The server could not fulfill\r\n" +
		"your request because the resource specified\r\n" +
		"is unavailable or nonexistent.\r\n" +
		"</BODY></HTML>\r\n"
	// BodyNotImplemented is the fixed 501 payload.
	BodyNotImplemented = "<HTML><HEAD><TITLE>Method Not Implemented\r\n</TITLE></HEAD>\r\n" +
		"<BODY><P>HTTP request method not supported.\r\n</P></BODY></HTML>\r\n"
)

// ResponseWriter writes one fixed-shape response to a connection.
//
// Every write is checked; a partial or failed write returns [tinyhttpd.WriteError].
// Closing the connection is left to the caller.
type ResponseWriter struct {
	writer io.Writer
	status int
	size   int
	buf    []byte
}

// NewResponseWriter creates a [ResponseWriter] over w.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{writer: w, buf: make([]byte, 0, 128)}
}

// Reset reuses the ResponseWriter for a new connection.
func (w *ResponseWriter) Reset(writer io.Writer) {
	w.writer = writer
	w.status = 0
	w.size = 0
	w.buf = w.buf[:0]
}

// Status returns the status code of the written head, 0 before any write.
func (w *ResponseWriter) Status() int {
	return w.status
}

// Size returns the number of bytes written, head included.
func (w *ResponseWriter) Size() int {
	return w.size
}

// WriteOK writes a 200 response with body as payload.
// dynamic selects the JSON content type of gateway responses.
func (w *ResponseWriter) WriteOK(dynamic bool, body []byte) error {
	if err := w.WriteHeader(200, contentType(dynamic)); err != nil {
		return err
	}
	return w.write(body)
}

// WriteStream writes a 200 response and copies r as the payload.
func (w *ResponseWriter) WriteStream(dynamic bool, r io.Reader) error {
	if err := w.WriteHeader(200, contentType(dynamic)); err != nil {
		return err
	}
	n, err := io.Copy(w.writer, r)
	w.size += int(n)
	if err != nil {
		return &tinyhttpd.WriteError{Written: int(n), Size: -1, Err: err}
	}
	return nil
}

// WriteNotFound writes the fixed 404 response.
func (w *ResponseWriter) WriteNotFound() error {
	if err := w.WriteHeader(404, MimeTextHTML); err != nil {
		return err
	}
	return w.write([]byte(BodyNotFound))
}

// WriteNotImplemented drains up to [MaxDrainSize] unread bytes of r and
// writes the fixed 501 response.
func (w *ResponseWriter) WriteNotImplemented(r *Reader) error {
	if r != nil {
		r.Drain(MaxDrainSize)
	}
	if err := w.WriteHeader(501, MimeTextHTML); err != nil {
		return err
	}
	return w.write([]byte(BodyNotImplemented))
}

// WriteHeader writes the status line, the Server header, the Content-Type
// header and the blank line.
func (w *ResponseWriter) WriteHeader(code int, mime string) error {
	w.status = code
	w.buf = append(w.buf[:0], statusLine(code)...)
	w.buf = append(w.buf, "\r\nServer: "+tinyhttpd.ServerSoftware+"\r\n"...)
	w.buf = append(w.buf, "Content-Type: "...)
	w.buf = append(w.buf, mime...)
	w.buf = append(w.buf, "\r\n\r\n"...)
	return w.write(w.buf)
}

func (w *ResponseWriter) write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	n, err := w.writer.Write(p)
	w.size += n
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &tinyhttpd.WriteError{Written: n, Size: len(p), Err: err}
	}
	return nil
}

func statusLine(code int) string {
	switch code {
	case 200:
		return StatusLineOK
	case 404:
		return StatusLineNotFound
	case 501:
		return StatusLineNotImplemented
	}
	return "HTTP/1.1 " + strconv.Itoa(code)
}

func contentType(dynamic bool) string {
	if dynamic {
		return MimeApplicationJSONUtf8
	}
	return MimeTextHTML
}
