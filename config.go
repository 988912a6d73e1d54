package tinyhttpd

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config defines the typed configuration of a server process.
//
// It is built once per process start by [NewConfig] from a pre-parsed
// key/value map and is read-only thereafter.
type Config struct {
	Address           string        `json:"address"`
	Port              int           `json:"port"`
	WebDir            string        `json:"webDir"`
	Fastcgi           string        `json:"fastcgi"`
	ServerName        string        `json:"serverName"`
	GatewayTimeout    time.Duration `json:"gatewayTimeout"`
	GatewayPersistent bool          `json:"gatewayPersistent"`
	ReadTimeout       time.Duration `json:"readTimeout"`
	WriteTimeout      time.Duration `json:"writeTimeout"`
	MaxBodySize       int64         `json:"maxBodySize"`
	Pidfile           string        `json:"pidfile"`
	ConfigPath        string        `json:"configPath"`
	Logger            LoggerConfig  `json:"logger"`
	Workers           int           `json:"workers"`
	MaxWorkers        int           `json:"maxWorkers"`
	ReloadMode        string        `json:"reloadMode"`
	ReloadWatch       bool          `json:"reloadWatch"`
	ReloadInterval    time.Duration `json:"reloadInterval"`
	RestartRate       time.Duration `json:"restartRate"`
	ShutdownTimeout   time.Duration `json:"shutdownTimeout"`
	MetricsAddress    string        `json:"metricsAddress"`
	User              string        `json:"user"`
	Command           string        `json:"command"`
	// Keys keeps the source map.
	Keys map[string]string `json:"-"`
}

// configReader reads typed values out of the map and remembers the first error.
type configReader struct {
	keys map[string]string
	err  error
}

// NewConfig creates a [Config] from a flat key/value map.
//
// Each key is looked up as "key" and then as "server.key".
// Relative web_dir values are resolved against the directory of the config file.
func NewConfig(keys map[string]string) (*Config, error) {
	if keys == nil {
		keys = make(map[string]string)
	}
	r := &configReader{keys: keys}
	conf := &Config{
		Address:           r.String(ConfigAddress, DefaultAddress),
		Port:              r.Int(ConfigPort, DefaultPort),
		WebDir:            r.String(ConfigWebDir, DefaultWebDir),
		Fastcgi:           r.String(ConfigFastcgi, DefaultFastcgi),
		ServerName:        r.String(ConfigServerName, DefaultServerName),
		GatewayTimeout:    r.Duration(ConfigGatewayTimeout, DefaultGatewayTimeout),
		GatewayPersistent: r.Bool(ConfigGatewayPersistent, false),
		ReadTimeout:       r.Duration(ConfigReadTimeout, DefaultReadTimeout),
		WriteTimeout:      r.Duration(ConfigWriteTimeout, DefaultWriteTimeout),
		MaxBodySize:       r.Size(ConfigMaxBodySize, DefaultMaxBodySize),
		Pidfile:           r.String(ConfigPidfile, DefaultPidfile),
		ConfigPath:        r.String(ConfigPath, ""),
		Workers:           r.Int(ConfigWorkers, DefaultWorkers),
		MaxWorkers:        r.Int(ConfigMaxWorkers, DefaultMaxWorkers),
		ReloadMode:        strings.ToLower(r.String(ConfigReloadMode, ReloadGraceful)),
		ReloadWatch:       r.Bool(ConfigReloadWatch, false),
		ReloadInterval:    r.Duration(ConfigReloadInterval, 0),
		RestartRate:       r.Duration(ConfigRestartRate, DefaultRestartRate),
		ShutdownTimeout:   r.Duration(ConfigShutdownTimeout, DefaultShutdownTimeout),
		MetricsAddress:    r.String(ConfigMetricsAddress, ""),
		User:              r.String(ConfigUser, ""),
		Command:           r.String(ConfigCommand, "start"),
		Keys:              keys,
		Logger: LoggerConfig{
			Stdout:    true,
			Formatter: r.String(ConfigLogFormat, DefaultLoggerFormatter),
			Path:      r.String(ConfigLogPath, ""),
		},
	}
	if level := r.String(ConfigLogLevel, ""); level != "" {
		if err := conf.Logger.Level.UnmarshalText([]byte(level)); err != nil && r.err == nil {
			r.err = err
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(conf.WebDir) && conf.ConfigPath != "" {
		conf.WebDir = filepath.Join(filepath.Dir(conf.ConfigPath), conf.WebDir)
	}
	conf.WebDir = filepath.Clean(conf.WebDir)
	return conf, nil
}

func (conf *Config) validate() error {
	switch {
	case conf.Port < 1 || conf.Port > 65535:
		return fmt.Errorf("config %s out of range: %d", ConfigPort, conf.Port)
	case conf.Workers < 1:
		return fmt.Errorf("config %s must be positive: %d", ConfigWorkers, conf.Workers)
	case conf.Workers > conf.MaxWorkers:
		return fmt.Errorf("config %s %d greater than %s %d", ConfigWorkers, conf.Workers,
			ConfigMaxWorkers, conf.MaxWorkers)
	case conf.ReloadMode != ReloadGraceful && conf.ReloadMode != ReloadHandoff:
		return fmt.Errorf("config %s invalid value %q", ConfigReloadMode, conf.ReloadMode)
	case conf.WebDir == "":
		return fmt.Errorf("config %s is empty", ConfigWebDir)
	case conf.Fastcgi == "":
		return fmt.Errorf("config %s is empty", ConfigFastcgi)
	case conf.MaxBodySize < 1:
		return fmt.Errorf("config %s must be positive", ConfigMaxBodySize)
	}
	return nil
}

// BindAddress returns the host:port the listeners bind.
func (conf *Config) BindAddress() string {
	return net.JoinHostPort(conf.Address, strconv.Itoa(conf.Port))
}

func (r *configReader) lookup(key string) (string, bool) {
	val, ok := r.keys[key]
	if !ok {
		val, ok = r.keys["server."+key]
	}
	return strings.TrimSpace(val), ok && strings.TrimSpace(val) != ""
}

func (r *configReader) fail(key, val string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("config %s invalid value %q: %w", key, val, err)
	}
}

func (r *configReader) String(key, def string) string {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	return val
}

func (r *configReader) Int(key string, def int) int {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		r.fail(key, val, err)
		return def
	}
	return n
}

func (r *configReader) Bool(key string, def bool) bool {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(val) {
	case "on", "yes":
		return true
	case "off", "no":
		return false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.fail(key, val, err)
		return def
	}
	return b
}

// Duration accepts time.ParseDuration values and plain seconds.
func (r *configReader) Duration(key string, def time.Duration) time.Duration {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		r.fail(key, val, err)
		return def
	}
	return d
}

// Size accepts a byte count with an optional K/M/G suffix (KB, KiB, ...).
func (r *configReader) Size(key string, def int64) int64 {
	val, ok := r.lookup(key)
	if !ok {
		return def
	}
	n, err := ParseSize(val)
	if err != nil {
		r.fail(key, val, err)
		return def
	}
	return n
}

// ParseSize parses "1024", "8K", "8KB", "8KiB", "8M" and "1G" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(strings.TrimSuffix(s, "B"), "I")
	unit := int64(1)
	if s != "" {
		switch s[len(s)-1] {
		case 'K':
			unit = 1 << 10
		case 'M':
			unit = 1 << 20
		case 'G':
			unit = 1 << 30
		}
		if unit != 1 {
			s = s[:len(s)-1]
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, err
	}
	return n * unit, nil
}
