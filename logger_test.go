package tinyhttpd_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eudore/tinyhttpd"
)

func newTestLogger(t *testing.T, conf *tinyhttpd.LoggerConfig) (tinyhttpd.Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	conf.Handlers = append(conf.Handlers, tinyhttpd.NewLoggerWriterStream(buf))
	log, err := tinyhttpd.NewLogger(conf)
	if err != nil {
		t.Fatal(err)
	}
	return log, buf
}

func TestLoggerJSON(t *testing.T) {
	log, buf := newTestLogger(t, &tinyhttpd.LoggerConfig{Formatter: "json"})
	log.WithField(tinyhttpd.LoggerFieldWorker, 1).Info("hello")
	log.WithFields([]string{"remote", "ok"}, []any{"127.0.0.1", true}).Warningf("status %d", 404)
	log.Error(errors.New("bad \"quote\""))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: %q", lines)
	}
	for i, want := range []string{
		`"level":"INFO","worker":1,"message":"hello"}`,
		`"level":"WARNING","remote":"127.0.0.1","ok":true,"message":"status 404"}`,
		`"level":"ERROR","message":"bad \"quote\""}`,
	} {
		if !strings.HasPrefix(lines[i], `{"time":"`) || !strings.HasSuffix(lines[i], want) {
			t.Errorf("line %d: %s", i, lines[i])
		}
	}
}

func TestLoggerText(t *testing.T) {
	log, buf := newTestLogger(t, &tinyhttpd.LoggerConfig{Formatter: "text"})
	log.WithField("state", "running").Info("supervisor state")
	if !strings.HasSuffix(buf.String(), " INFO supervisor state state=running\n") {
		t.Errorf("text: %q", buf.String())
	}
}

func TestLoggerReusable(t *testing.T) {
	log, buf := newTestLogger(t, &tinyhttpd.LoggerConfig{Formatter: "text"})
	conn := log.WithField("request-id", "abc").WithField("logger", true)
	conn.Info("first")
	conn.Info("second")
	log.Info("third")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines: %q", lines)
	}
	if !strings.HasSuffix(lines[0], "first request-id=abc") || !strings.HasSuffix(lines[1], "second request-id=abc") {
		t.Errorf("reusable fields lost: %q", lines)
	}
	if strings.Contains(lines[2], "request-id") {
		t.Errorf("fields leaked to the parent: %s", lines[2])
	}
}

func TestLoggerLevel(t *testing.T) {
	log, buf := newTestLogger(t, &tinyhttpd.LoggerConfig{Level: tinyhttpd.LoggerWarning})
	log.Debug("debug")
	log.Info("info")
	log.Warning("warning")
	if strings.Count(buf.String(), "\n") != 1 || !strings.Contains(buf.String(), "warning") {
		t.Errorf("level filter: %q", buf.String())
	}
	if log.GetLevel() != tinyhttpd.LoggerWarning {
		t.Errorf("level %s", log.GetLevel())
	}

	buf.Reset()
	log.SetLevel(tinyhttpd.LoggerDebug)
	log.Debug("debug")
	if !strings.Contains(buf.String(), "DEBUG") {
		t.Errorf("set level: %q", buf.String())
	}

	tinyhttpd.DefaultLoggerNull.Error("discard")
}

func TestLoggerLevelText(t *testing.T) {
	for text, want := range map[string]tinyhttpd.LoggerLevel{
		"debug":   tinyhttpd.LoggerDebug,
		"INFO":    tinyhttpd.LoggerInfo,
		"Warning": tinyhttpd.LoggerWarning,
		"3":       tinyhttpd.LoggerError,
		"discard": tinyhttpd.LoggerDiscard,
	} {
		var level tinyhttpd.LoggerLevel
		if err := level.UnmarshalText([]byte(text)); err != nil || level != want {
			t.Errorf("%s: %s %v", text, level, err)
		}
	}
	var level tinyhttpd.LoggerLevel
	if err := level.UnmarshalText([]byte("verbose")); err == nil {
		t.Error("verbose accepted")
	}
	if data, _ := tinyhttpd.LoggerFatal.MarshalText(); string(data) != "FATAL" {
		t.Errorf("marshal %s", data)
	}
}

func TestLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tinyhttpd.log")
	log, err := tinyhttpd.NewLogger(&tinyhttpd.LoggerConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("to file")
	if err = tinyhttpd.CloseLogger(log); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Errorf("file: %q", data)
	}

	_, err = tinyhttpd.NewLogger(&tinyhttpd.LoggerConfig{Path: filepath.Join(path, "sub.log")})
	if err == nil {
		t.Error("file under a regular file opened")
	}
}
