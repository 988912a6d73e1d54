package http

import (
	"net/textproto"
	"strconv"
	"strings"

	"github.com/eudore/tinyhttpd"
)

// Method is the parsed request method.
type Method int

const (
	MethodUnsupported Method = iota
	MethodGet
	MethodPost
)

const (
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
)

// ParseMethod maps a request line token to a [Method].
func ParseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	}
	return MethodUnsupported
}

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	}
	return "UNSUPPORTED"
}

// Request defines a parsed request.
//
// It is built by [ReadRequest] and not modified afterwards.
type Request struct {
	Method Method
	// RawMethod is the method token as sent.
	RawMethod  string
	RequestURI string
	Path       string
	Query      string
	Proto      string
	// ContentType is set for POST only, the last occurrence wins.
	ContentType   string
	ContentLength int64
	Body          []byte
	RemoteAddr    string
}

// ReadRequest parses one request from r.
//
// The request line must split on single spaces into exactly three tokens.
// An unsupported method stops parsing after the request line and returns
// the request with [MethodUnsupported] and no error.
// GET discards every header line; POST keeps Content-Length and Content-Type
// and reads exactly Content-Length body bytes.
// maxBody bounds Content-Length, zero disables the bound.
func ReadRequest(r *Reader, maxBody int64) (*Request, error) {
	line, err := r.ReadLine()
	if err != nil {
		return nil, err
	}
	req, err := parseRequestLine(strings.TrimSpace(line))
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case MethodGet:
		err = discardHeaders(r)
	case MethodPost:
		err = req.readPost(r, maxBody)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// parseRequestLine parses "GET /foo?a=1 HTTP/1.1" into its three parts.
func parseRequestLine(line string) (*Request, error) {
	tokens := strings.Split(line, " ")
	if len(tokens) != 3 {
		return nil, &tinyhttpd.MalformedRequestError{Line: line}
	}
	req := &Request{
		Method:     ParseMethod(tokens[0]),
		RawMethod:  tokens[0],
		RequestURI: tokens[1],
		Proto:      tokens[2],
	}
	pos := strings.IndexByte(req.RequestURI, '?')
	if pos == -1 {
		req.Path = req.RequestURI
	} else {
		req.Path = req.RequestURI[:pos]
		req.Query = req.RequestURI[pos+1:]
	}
	return req, nil
}

func discardHeaders(r *Reader) error {
	for {
		line, err := r.ReadLine()
		if err != nil || line == "" {
			return err
		}
	}
}

func (req *Request) readPost(r *Reader, maxBody int64) error {
	var length string
	for {
		line, err := r.ReadLine()
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		key, val, ok := SplitHeader(line)
		if !ok {
			return &tinyhttpd.MalformedRequestError{Line: line}
		}
		switch key {
		case HeaderContentLength:
			length = val
		case HeaderContentType:
			req.ContentType = val
		}
	}

	n, err := strconv.ParseInt(length, 10, 64)
	if err != nil || n < 1 {
		return &tinyhttpd.MissingContentLengthError{Value: length}
	}
	if maxBody > 0 && n > maxBody {
		return &tinyhttpd.MalformedRequestError{
			Line: HeaderContentLength + ": " + length,
			Err:  tinyhttpd.ErrBodyTooLarge,
		}
	}
	req.ContentLength = n
	req.Body, err = r.ReadBody(n)
	return err
}

// SplitHeader splits a header line on the first colon and trims both parts.
// The name is returned in canonical form.
func SplitHeader(line string) (string, string, bool) {
	pos := strings.IndexByte(line, ':')
	if pos < 1 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:pos])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return textproto.CanonicalMIMEHeaderKey(key), strings.TrimSpace(line[pos+1:]), true
}
