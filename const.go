package tinyhttpd

// const defines the global variables and constants.

import (
	"time"
)

// Server identity.
const (
	ServerName    = "tinyhttpd"
	ServerVersion = "0.1.0"
	// ServerSoftware is written in the Server header and SERVER_SOFTWARE.
	ServerSoftware = ServerName + "/" + ServerVersion
)

// Environment variables read by the daemon and the config parser.
const (
	// EnvDaemonEnable marks a process started by [daemon.Detach];
	// stdout logging is disabled in it.
	EnvDaemonEnable = "TINYHTTPD_DAEMON_ENABLE"
	// EnvDaemonParentPID is the pid of a supervisor handing off to its child.
	EnvDaemonParentPID = "TINYHTTPD_PARENT_PID"
	// EnvDaemonTimeout defines the seconds the stop and reload commands wait.
	EnvDaemonTimeout = "TINYHTTPD_DAEMON_TIMEOUT"
	// EnvConfigPrefix is the prefix of environment variables overlaying the config.
	EnvConfigPrefix = "TINYHTTPD_"
)

// Config keys.
const (
	ConfigAddress           = "address"
	ConfigPort              = "port"
	ConfigWebDir            = "web_dir"
	ConfigFastcgi           = "fastcgi"
	ConfigServerName        = "server_name"
	ConfigGatewayTimeout    = "gateway_timeout"
	ConfigGatewayPersistent = "gateway_persistent"
	ConfigReadTimeout       = "read_timeout"
	ConfigWriteTimeout      = "write_timeout"
	ConfigMaxBodySize       = "max_body_size"
	ConfigPidfile           = "pidfile"
	ConfigLogPath           = "log_path"
	ConfigLogLevel          = "log_level"
	ConfigLogFormat         = "log_format"
	ConfigWorkers           = "workers"
	ConfigMaxWorkers        = "max_workers"
	ConfigReloadMode        = "reload_mode"
	ConfigReloadWatch       = "reload_watch"
	ConfigReloadInterval    = "reload_interval"
	ConfigRestartRate       = "restart_rate"
	ConfigShutdownTimeout   = "shutdown_timeout"
	ConfigMetricsAddress    = "metrics_address"
	ConfigUser              = "user"
	ConfigCommand           = "command"
	ConfigPath              = "config"
)

// Reload modes.
const (
	ReloadGraceful = "graceful"
	ReloadHandoff  = "handoff"
)

var (
	DefaultConfigPath        = "config.ini"
	DefaultAddress           = "0.0.0.0"
	DefaultPort              = 8080
	DefaultWebDir            = "www"
	DefaultFastcgi           = "127.0.0.1:9000"
	DefaultServerName        = "localhost"
	DefaultGatewayTimeout    = 60 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultMaxBodySize       = int64(8 << 20)
	DefaultPidfile           = "/tmp/tinyhttpd.pid"
	DefaultWorkers           = 1
	DefaultMaxWorkers        = 8
	DefaultRestartRate       = time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultDaemonWaitSeconds = 10

	// DefaultLoggerNull discards all entries.
	DefaultLoggerNull = NewLoggerNull()
	// DefaultLoggerEntryBufferLength defines the initial LoggerEntry buffer size.
	DefaultLoggerEntryBufferLength = 2048
	// DefaultLoggerEntryFieldsLength defines the initial LoggerEntry field count.
	DefaultLoggerEntryFieldsLength = 4
	DefaultLoggerFormatter         = "json"
	// DefaultLoggerFormatterFormatTime defines the time layout of log entries.
	DefaultLoggerFormatterFormatTime  = "2006-01-02 15:04:05.000"
	DefaultLoggerFormatterKeyLevel    = "level"
	DefaultLoggerFormatterKeyMessage  = "message"
	DefaultLoggerFormatterKeyTime     = "time"
	DefaultLoggerLevelStrings         = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "FATAL", "DISCARD"}
	DefaultLoggerWriterStdout         = true
	DefaultLoggerWriterStdoutMaxIndex = 64
)

// Logger field names shared by the server and the daemon.
const (
	LoggerFieldRequestID = "request-id"
	LoggerFieldRemote    = "remote"
	LoggerFieldWorker    = "worker"
	LoggerFieldState     = "state"
	LoggerFieldPid       = "pid"
)
