package tinyhttpd

/*
Values are encoded without reflection walking:
string/error/fmt.Stringer are written as strings,
numbers and bools use strconv,
anything else goes through encoding/json.
*/

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"
)

var (
	loggerLevelDefaultBytes = [][]byte{
		[]byte("DEBUG"), []byte("INFO"),
		[]byte("WARNING"), []byte("ERROR"), []byte("FATAL"),
	}
	loggerendpart1 = []byte("\"}\n")
	loggerendpart2 = []byte("}\n")
	_hex           = "0123456789abcdef"
)

type loggerFormatterText struct {
	TimeFormat string
}

// NewLoggerFormatterText creates a one line text formatter.
func NewLoggerFormatterText(timeformat string) LoggerHandler {
	return &loggerFormatterText{
		TimeFormat: timeformat + " ",
	}
}

func (h *loggerFormatterText) HandlerPriority() int { return 30 }
func (h *loggerFormatterText) HandlerEntry(entry *LoggerEntry) {
	en := &loggerEncoder{
		data: entry.Buffer,
	}
	en.data = entry.Time.AppendFormat(en.data, h.TimeFormat)
	en.data = append(en.data, loggerLevelDefaultBytes[entry.Level]...)
	if entry.Message != "" {
		en.data = append(en.data, ' ')
		en.data = append(en.data, entry.Message...)
	}

	for i := range entry.Keys {
		en.data = append(en.data, ' ')
		en.data = append(en.data, entry.Keys[i]...)
		en.data = append(en.data, '=')
		en.formatValue(entry.Vals[i], false)
	}
	en.data = append(en.data, '\n')
	entry.Buffer = en.data
}

type loggerFormatterJSON struct {
	TimeFormat string
	KeyMessage []byte
	KeyTime    []byte
	KeyLevel   []byte
}

// NewLoggerFormatterJSON creates a formatter writing one JSON object per entry.
func NewLoggerFormatterJSON(timeformat string) LoggerHandler {
	return &loggerFormatterJSON{
		TimeFormat: timeformat,
		KeyTime:    []byte(`{"` + DefaultLoggerFormatterKeyTime + `":"`),
		KeyLevel:   []byte(`","` + DefaultLoggerFormatterKeyLevel + `":"`),
		KeyMessage: []byte(`,"` + DefaultLoggerFormatterKeyMessage + `":"`),
	}
}

func (h *loggerFormatterJSON) HandlerPriority() int { return 30 }
func (h *loggerFormatterJSON) HandlerEntry(entry *LoggerEntry) {
	en := &loggerEncoder{
		data: entry.Buffer,
	}
	en.data = append(en.data, h.KeyTime...)
	en.data = entry.Time.AppendFormat(en.data, h.TimeFormat)
	en.data = append(en.data, h.KeyLevel...)
	en.data = append(en.data, loggerLevelDefaultBytes[entry.Level]...)
	en.data = append(en.data, '"')

	for i := range entry.Keys {
		en.data = append(en.data, ',', '"')
		en.data = append(en.data, entry.Keys[i]...)
		en.data = append(en.data, '"', ':')
		en.formatValue(entry.Vals[i], true)
	}

	if len(entry.Message) > 0 {
		en.data = append(en.data, h.KeyMessage...)
		en.formatString(entry.Message)
		en.data = append(en.data, loggerendpart1...)
	} else {
		en.data = append(en.data, loggerendpart2...)
	}
	entry.Buffer = en.data
}

type loggerEncoder struct {
	data []byte
}

func (en *loggerEncoder) formatValue(i any, quote bool) {
	switch v := i.(type) {
	case nil:
		en.data = append(en.data, "null"...)
	case string:
		en.quoteString(v, quote)
	case error:
		en.quoteString(v.Error(), quote)
	case time.Duration:
		en.quoteString(v.String(), quote)
	case fmt.Stringer:
		en.quoteString(v.String(), quote)
	case bool:
		en.data = strconv.AppendBool(en.data, v)
	case int:
		en.data = strconv.AppendInt(en.data, int64(v), 10)
	case int32:
		en.data = strconv.AppendInt(en.data, int64(v), 10)
	case int64:
		en.data = strconv.AppendInt(en.data, v, 10)
	case uint:
		en.data = strconv.AppendUint(en.data, uint64(v), 10)
	case uint32:
		en.data = strconv.AppendUint(en.data, uint64(v), 10)
	case uint64:
		en.data = strconv.AppendUint(en.data, v, 10)
	case float64:
		en.data = strconv.AppendFloat(en.data, v, 'f', -1, 64)
	default:
		body, err := json.Marshal(v)
		if err != nil {
			en.quoteString(fmt.Sprint(v), quote)
			return
		}
		en.data = append(en.data, body...)
	}
}

func (en *loggerEncoder) quoteString(s string, quote bool) {
	if quote {
		en.data = append(en.data, '"')
	}
	en.formatString(s)
	if quote {
		en.data = append(en.data, '"')
	}
}

// formatString escapes s as the body of a JSON string.
func (en *loggerEncoder) formatString(s string) {
	for i := 0; i < len(s); {
		if b := s[i]; b < utf8.RuneSelf {
			switch b {
			case '\\', '"':
				en.data = append(en.data, '\\', b)
			case '\n':
				en.data = append(en.data, '\\', 'n')
			case '\r':
				en.data = append(en.data, '\\', 'r')
			case '\t':
				en.data = append(en.data, '\\', 't')
			default:
				if b < 0x20 {
					en.data = append(en.data, '\\', 'u', '0', '0', _hex[b>>4], _hex[b&0xF])
				} else {
					en.data = append(en.data, b)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			en.data = append(en.data, `�`...)
		} else {
			en.data = append(en.data, s[i:i+size]...)
		}
		i += size
	}
}
