package tinyhttpd

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

type loggerWriterStdout struct {
	sync.Mutex
	Writer io.Writer
}

// NewLoggerWriterStdout creates a writer to os.Stdout.
func NewLoggerWriterStdout() LoggerHandler {
	return &loggerWriterStdout{Writer: os.Stdout}
}

// NewLoggerWriterStream creates a writer to any stream.
func NewLoggerWriterStream(w io.Writer) LoggerHandler {
	return &loggerWriterStdout{Writer: w}
}

func (h *loggerWriterStdout) HandlerPriority() int {
	return 90
}

func (h *loggerWriterStdout) HandlerEntry(entry *LoggerEntry) {
	h.Lock()
	_, _ = h.Writer.Write(entry.Buffer)
	h.Unlock()
}

type loggerWriterFile struct {
	sync.Mutex
	File *os.File
}

// NewLoggerWriterFile creates an append-only file writer.
func NewLoggerWriterFile(name string) (LoggerHandler, error) {
	err := os.MkdirAll(filepath.Dir(name), 0o755)
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return &loggerWriterFile{File: file}, nil
}

func (h *loggerWriterFile) HandlerPriority() int {
	return 100
}

func (h *loggerWriterFile) HandlerEntry(entry *LoggerEntry) {
	h.Lock()
	_, _ = h.File.Write(entry.Buffer)
	h.Unlock()
}

func (h *loggerWriterFile) Close() error {
	h.Lock()
	defer h.Unlock()
	h.File.Sync()
	return h.File.Close()
}
