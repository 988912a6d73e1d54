package http

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/kr/pretty"
)

func TestReaderReadLine(t *testing.T) {
	r := NewReader(strings.NewReader("GET / HTTP/1.1\r\nHost: a\nX: b\r\rlast\r\n\r\n"))
	want := []string{"GET / HTTP/1.1", "Host: a", "X: b", "", "last", ""}
	for i, w := range want {
		line, err := r.ReadLine()
		if err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if line != w {
			t.Errorf("line %d: got %q want %q", i, line, w)
		}
	}
	_, err := r.ReadLine()
	var ce *tinyhttpd.ConnectionError
	if !errors.As(err, &ce) || !errors.Is(err, io.EOF) {
		t.Errorf("eof: got %v", err)
	}
}

func TestReaderLineTooLong(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("a", MaxLineSize+1) + "\r\n"))
	_, err := r.ReadLine()
	var me *tinyhttpd.MalformedRequestError
	if !errors.As(err, &me) || !errors.Is(err, tinyhttpd.ErrLineTooLong) {
		t.Fatalf("got %v", err)
	}

	r = NewReader(strings.NewReader(strings.Repeat("a", MaxLineSize) + "\r\n"))
	line, err := r.ReadLine()
	if err != nil || len(line) != MaxLineSize {
		t.Fatalf("line at budget: %d %v", len(line), err)
	}
}

func TestReaderNoOverRead(t *testing.T) {
	r := NewReader(strings.NewReader("a\r\nbody"))
	if line, _ := r.ReadLine(); line != "a" {
		t.Fatalf("got %q", line)
	}
	body, err := r.ReadBody(4)
	if err != nil || string(body) != "body" {
		t.Fatalf("got %q %v", body, err)
	}
}

// A CR ending the data sent so far completes the line without waiting.
func TestReaderBareCR(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()
	defer conn.Close()
	go client.Write([]byte("GET /a HTTP/1.1\rHost: a\r\r"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	start := time.Now()
	req, err := ReadRequest(NewReader(conn), 0)
	if err != nil || req.Method != MethodGet {
		t.Fatalf("got %v %v", req, err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("request parsed after %s", d)
	}
}

func TestReaderSplitCRLF(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()
	defer conn.Close()
	go func() {
		for _, part := range []string{"POST /a HTTP/1.1\r", "\nContent-Length: 4\r", "\n\r", "\nbody"} {
			if _, err := client.Write([]byte(part)); err != nil {
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	req, err := ReadRequest(NewReader(conn), 0)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodPost || req.ContentLength != 4 || string(req.Body) != "body" {
		t.Errorf("got %# v", pretty.Formatter(req))
	}
}

func TestReaderDrain(t *testing.T) {
	for _, pad := range []int{7000, 3 * MaxDrainSize} {
		client, conn := net.Pipe()
		raw := "PUT / HTTP/1.1\r\nX-Pad: " + strings.Repeat("a", pad) + "\r\n\r\n"
		go client.Write([]byte(raw))

		r := NewReader(conn)
		req, err := ReadRequest(r, 0)
		if err != nil || req.Method != MethodUnsupported {
			t.Fatalf("%v %v", req, err)
		}
		want := len(raw) - len("PUT / HTTP/1.1\r\n")
		if want > MaxDrainSize {
			want = MaxDrainSize
		}
		if n := r.Drain(MaxDrainSize); n != want {
			t.Errorf("pad %d: drained %d, want %d", pad, n, want)
		}
		client.Close()
		conn.Close()
	}
}

func TestReadRequestGet(t *testing.T) {
	r := NewReader(strings.NewReader("GET /app.cgi?x=1&y=2 HTTP/1.1\r\nHost: localhost\r\nContent-Length: 9\r\n\r\n"))
	req, err := ReadRequest(r, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := &Request{
		Method:     MethodGet,
		RawMethod:  "GET",
		RequestURI: "/app.cgi?x=1&y=2",
		Path:       "/app.cgi",
		Query:      "x=1&y=2",
		Proto:      "HTTP/1.1",
	}
	if diff := pretty.Diff(req, want); len(diff) > 0 {
		t.Errorf("request diff: %v", diff)
	}
}

func TestReadRequestEmptyQuery(t *testing.T) {
	r := NewReader(strings.NewReader("GET /index.html? HTTP/1.1\r\n\r\n"))
	req, err := ReadRequest(r, 0)
	if err != nil {
		t.Fatal(err)
	}
	if req.Path != "/index.html" || req.Query != "" {
		t.Errorf("got path %q query %q", req.Path, req.Query)
	}
}

func TestReadRequestPost(t *testing.T) {
	r := NewReader(strings.NewReader("POST /app.cgi HTTP/1.1\r\n" +
		"Content-Type: text/plain\r\n" +
		"X-Note: Content-Length: 99\r\n" +
		"content-length:  4 \r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\nabcdEXTRA"))
	req, err := ReadRequest(r, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodPost || req.ContentLength != 4 || string(req.Body) != "abcd" {
		t.Errorf("got %# v", pretty.Formatter(req))
	}
	if req.ContentType != "application/x-www-form-urlencoded" {
		t.Errorf("content type %q", req.ContentType)
	}
	if int64(len(req.Body)) != req.ContentLength {
		t.Errorf("body length %d content length %d", len(req.Body), req.ContentLength)
	}
}

func TestReadRequestErrors(t *testing.T) {
	data := []struct {
		name  string
		input string
		check func(error) bool
	}{
		{"two-tokens", "GET /\r\n\r\n", isMalformed},
		{"four-tokens", "GET / HTTP/1.1 x\r\n\r\n", isMalformed},
		{"double-space", "GET  / HTTP/1.1\r\n\r\n", isMalformed},
		{"post-no-length", "POST /a HTTP/1.1\r\n\r\n", isMissingLength},
		{"post-zero-length", "POST /a HTTP/1.1\r\nContent-Length: 0\r\n\r\n", isMissingLength},
		{"post-bad-length", "POST /a HTTP/1.1\r\nContent-Length: abc\r\n\r\n", isMissingLength},
		{"post-header-no-colon", "POST /a HTTP/1.1\r\nbroken\r\n\r\n", isMalformed},
		{"post-too-large", "POST /a HTTP/1.1\r\nContent-Length: 2048\r\n\r\n", func(err error) bool {
			return errors.Is(err, tinyhttpd.ErrBodyTooLarge)
		}},
		{"post-short-body", "POST /a HTTP/1.1\r\nContent-Length: 10\r\n\r\nabcde", func(err error) bool {
			var ce *tinyhttpd.ConnectionError
			return errors.As(err, &ce)
		}},
		{"eof-in-headers", "GET / HTTP/1.1\r\nHost: a", func(err error) bool {
			var ce *tinyhttpd.ConnectionError
			return errors.As(err, &ce)
		}},
	}
	for _, d := range data {
		t.Run(d.name, func(t *testing.T) {
			_, err := ReadRequest(NewReader(strings.NewReader(d.input)), 1024)
			if err == nil || !d.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestReadRequestUnsupported(t *testing.T) {
	r := NewReader(strings.NewReader("DELETE /a HTTP/1.1\r\nHost: a\r\n\r\n"))
	req, err := ReadRequest(r, 0)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != MethodUnsupported || req.RawMethod != "DELETE" {
		t.Errorf("got %v %q", req.Method, req.RawMethod)
	}
}

// A body shorter than Content-Length on an idle connection is a read failure.
func TestReadRequestIdleBody(t *testing.T) {
	client, conn := net.Pipe()
	defer client.Close()
	defer conn.Close()
	go client.Write([]byte("POST /a HTTP/1.1\r\nContent-Length: 10\r\n\r\nabcde"))

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := ReadRequest(NewReader(conn), 0)
	var ce *tinyhttpd.ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("want timeout, got %v", err)
	}
}

func TestSplitHeader(t *testing.T) {
	data := []struct {
		line, key, val string
		ok             bool
	}{
		{"content-type: text/html", "Content-Type", "text/html", true},
		{"X-Note:a:b", "X-Note", "a:b", true},
		{"Host :x", "Host", "x", true},
		{": value", "", "", false},
		{"no colon", "", "", false},
		{"Bad Name: x", "", "", false},
	}
	for _, d := range data {
		key, val, ok := SplitHeader(d.line)
		if key != d.key || val != d.val || ok != d.ok {
			t.Errorf("%q: got %q %q %v", d.line, key, val, ok)
		}
	}
}

func isMalformed(err error) bool {
	var me *tinyhttpd.MalformedRequestError
	return errors.As(err, &me)
}

func isMissingLength(err error) bool {
	var me *tinyhttpd.MissingContentLengthError
	return errors.As(err, &me)
}
