package tinyhttpd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Logger levels, lowest first. LoggerDiscard drops everything.
const (
	LoggerDebug LoggerLevel = iota
	LoggerInfo
	LoggerWarning
	LoggerError
	LoggerFatal
	LoggerDiscard
)

// Logger writes leveled entries with key/value fields.
//
// Values returned by WithField are single-use entries unless the field
// "logger" is set to true; see [NewLogger].
type Logger interface {
	Debug(args ...any)
	Info(args ...any)
	Warning(args ...any)
	Error(args ...any)
	// Fatal logs at LoggerFatal; the process keeps running.
	Fatal(args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)

	// WithField adds a field. The key "logger" with true marks the
	// result reusable instead of adding a field.
	WithField(key string, val any) Logger
	WithFields(keys []string, vals []any) Logger

	GetLevel() LoggerLevel
	SetLevel(level LoggerLevel)
}

// LoggerLevel is the minimum level a [Logger] writes.
type LoggerLevel int

// loggerStd is both the root logger and a pooled entry.
type loggerStd struct {
	LoggerEntry
	Handlers []LoggerHandler
	Pool     *sync.Pool
	Logger   bool
}

// LoggerEntry is one log record and its encoded buffer.
type LoggerEntry struct {
	Level   LoggerLevel
	Time    time.Time
	Message string
	Keys    []string
	Vals    []any
	Buffer  []byte
}

// LoggerHandler is one step of the entry pipeline: formatters fill
// Buffer, writers output it.
type LoggerHandler interface {
	// HandlerPriority orders the pipeline, lower runs first.
	HandlerPriority() int
	HandlerEntry(entry *LoggerEntry)
}

// LoggerConfig selects the handlers built by [NewLogger]:
// a json or text formatter, stdout when Stdout is set and a file when Path is set.
// Handlers are appended as given.
type LoggerConfig struct {
	Handlers   []LoggerHandler `json:"-" yaml:"-"`
	Level      LoggerLevel     `json:"level" yaml:"level"`
	Stdout     bool            `json:"stdout" yaml:"stdout"`
	Formatter  string          `json:"formater" yaml:"formater"`
	TimeFormat string          `json:"timeFormat" yaml:"timeFormat"`
	Path       string          `json:"path" yaml:"path"`
}

// NewLogger creates a reusable [Logger] whose entries come from a sync.Pool.
//
// It fails only when the log file cannot be opened.
func NewLogger(config *LoggerConfig) (Logger, error) {
	if config == nil {
		config = &LoggerConfig{Stdout: true}
	}

	handlers, err := config.getHandlers()
	if err != nil {
		return nil, err
	}
	size := DefaultLoggerEntryFieldsLength
	buff := DefaultLoggerEntryBufferLength
	pool := &sync.Pool{}
	pool.New = func() any {
		return &loggerStd{
			Handlers: handlers,
			Pool:     pool,
			LoggerEntry: LoggerEntry{
				Level:  config.Level,
				Keys:   make([]string, 0, size),
				Vals:   make([]any, 0, size),
				Buffer: make([]byte, 0, buff),
			},
		}
	}

	log := pool.New().(*loggerStd)
	log.Logger = true
	return log, nil
}

func (c *LoggerConfig) getHandlers() ([]LoggerHandler, error) {
	if c.TimeFormat == "" {
		c.TimeFormat = DefaultLoggerFormatterFormatTime
	}
	if c.Formatter == "" {
		c.Formatter = DefaultLoggerFormatter
	}

	hs := append([]LoggerHandler{}, c.Handlers...)
	switch strings.ToLower(c.Formatter) {
	case "json":
		hs = append(hs, NewLoggerFormatterJSON(c.TimeFormat))
	case "text":
		hs = append(hs, NewLoggerFormatterText(c.TimeFormat))
	}
	if c.Stdout && DefaultLoggerWriterStdout {
		hs = append(hs, NewLoggerWriterStdout())
	}
	if path := strings.TrimSpace(c.Path); path != "" {
		h, err := NewLoggerWriterFile(path)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].HandlerPriority() < hs[j].HandlerPriority()
	})
	return hs, nil
}

// NewLoggerNull defines empty log output and discards all logs.
func NewLoggerNull() Logger {
	log, _ := NewLogger(&LoggerConfig{
		Level:     LoggerDiscard,
		Formatter: "disable",
	})
	return log
}

// CloseLogger closes the file writers of a logger built by [NewLogger].
func CloseLogger(log Logger) error {
	std, ok := log.(*loggerStd)
	if !ok {
		return nil
	}
	errs := NewErrors()
	for _, h := range std.Handlers {
		if closer, ok := h.(io.Closer); ok {
			errs.HandleError(closer.Close())
		}
	}
	return errs.GetError()
}

func (log *loggerStd) GetLevel() LoggerLevel {
	return log.Level
}

func (log *loggerStd) SetLevel(level LoggerLevel) {
	log.Level = level
}

func (log *loggerStd) Debug(args ...any) {
	log.format(LoggerDebug, args...)
}

func (log *loggerStd) Info(args ...any) {
	log.format(LoggerInfo, args...)
}

func (log *loggerStd) Warning(args ...any) {
	log.format(LoggerWarning, args...)
}

func (log *loggerStd) Error(args ...any) {
	log.format(LoggerError, args...)
}

func (log *loggerStd) Fatal(args ...any) {
	log.format(LoggerFatal, args...)
}

func (log *loggerStd) Debugf(format string, args ...any) {
	log.formatf(LoggerDebug, format, args...)
}

func (log *loggerStd) Infof(format string, args ...any) {
	log.formatf(LoggerInfo, format, args...)
}

func (log *loggerStd) Warningf(format string, args ...any) {
	log.formatf(LoggerWarning, format, args...)
}

func (log *loggerStd) Errorf(format string, args ...any) {
	log.formatf(LoggerError, format, args...)
}

func (log *loggerStd) Fatalf(format string, args ...any) {
	log.formatf(LoggerFatal, format, args...)
}

// WithFields appends keys and vals pairwise.
func (log *loggerStd) WithFields(keys []string, vals []any) Logger {
	if log.Logger {
		log = log.getLogger()
	}
	log.Keys = append(log.Keys, keys...)
	log.Vals = append(log.Vals, vals...)
	return log
}

// WithField appends one field, except for two keys:
// "logger" with true keeps the entry and its fields for every later call,
// "time" with a time.Time overrides the entry time.
func (log *loggerStd) WithField(key string, value any) Logger {
	if log.Logger {
		log = log.getLogger()
	}
	switch key {
	case "logger":
		val, ok := value.(bool)
		if ok && val {
			log.Logger = true
			return log
		}
	case "time":
		val, ok := value.(time.Time)
		if ok {
			log.Time = val
			return log
		}
	}
	log.Keys = append(log.Keys, key)
	log.Vals = append(log.Vals, value)
	return log
}

func (log *loggerStd) getLogger() *loggerStd {
	entry := log.Pool.Get().(*loggerStd)
	entry.Logger = false
	entry.Time = time.Now()
	entry.Message = ""
	entry.Keys = entry.Keys[:0]
	entry.Vals = entry.Vals[:0]
	entry.Buffer = entry.Buffer[:0]
	entry.Level = log.Level
	if len(log.Keys) > 0 {
		entry.Keys = append(entry.Keys, log.Keys...)
		entry.Vals = append(entry.Vals, log.Vals...)
	}
	return entry
}

func (log *loggerStd) format(level LoggerLevel, args ...any) {
	if log.Level > level {
		log.release()
		return
	}
	msg := fmt.Sprintln(args...)
	log.output(level, msg[:len(msg)-1])
}

func (log *loggerStd) formatf(level LoggerLevel, format string, args ...any) {
	if log.Level > level {
		log.release()
		return
	}
	log.output(level, fmt.Sprintf(format, args...))
}

func (log *loggerStd) output(level LoggerLevel, msg string) {
	entry := log
	if log.Logger {
		entry = log.getLogger()
	}
	entry.Level = level
	entry.Message = msg
	entry.handler()
	entry.Pool.Put(entry)
}

// release returns a filtered single-use entry to the pool.
func (log *loggerStd) release() {
	if !log.Logger {
		log.Pool.Put(log)
	}
}

func (log *loggerStd) handler() {
	if len(log.Keys) > len(log.Vals) {
		log.Keys = log.Keys[0:len(log.Vals)]
		log.Keys = append(log.Keys, "error")
		log.Vals = append(log.Vals,
			"logger: field keys and values differ in length",
		)
	}

	if len(log.Message) > 0 || len(log.Keys) > 0 {
		for _, h := range log.Handlers {
			if log.Level < LoggerDiscard {
				h.HandlerEntry(&log.LoggerEntry)
			}
		}
	}
}

// String returns the upper case level name.
func (l LoggerLevel) String() string {
	return DefaultLoggerLevelStrings[l]
}

// The MarshalText method implements the [encoding.TextMarshaler] interface.
func (l LoggerLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// The UnmarshalText method implements the [encoding.TextUnmarshaler] interface.
func (l *LoggerLevel) UnmarshalText(text []byte) error {
	str := strings.ToUpper(string(text))
	for i, s := range DefaultLoggerLevelStrings {
		if s == str {
			*l = LoggerLevel(i)
			return nil
		}
	}
	n, err := strconv.Atoi(str)
	if err == nil && n < len(DefaultLoggerLevelStrings) && n > -1 {
		*l = LoggerLevel(n)
		return nil
	}
	return fmt.Errorf("logger level unmarshal text invalid value '%s'", text)
}
