package tinyhttpd_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eudore/tinyhttpd"
	"github.com/kr/pretty"
)

func TestConfigDefault(t *testing.T) {
	conf, err := tinyhttpd.NewConfig(nil)
	if err != nil {
		t.Fatal(err)
	}
	if conf.BindAddress() != "0.0.0.0:8080" {
		t.Errorf("bind %s", conf.BindAddress())
	}
	if conf.Workers != 1 || conf.MaxWorkers != tinyhttpd.DefaultMaxWorkers || conf.ReloadMode != tinyhttpd.ReloadGraceful {
		t.Errorf("supervisor defaults: %# v", pretty.Formatter(conf))
	}
	if conf.WebDir != tinyhttpd.DefaultWebDir || conf.Fastcgi != tinyhttpd.DefaultFastcgi {
		t.Errorf("server defaults: %s %s", conf.WebDir, conf.Fastcgi)
	}
	if conf.GatewayTimeout != tinyhttpd.DefaultGatewayTimeout || conf.MaxBodySize != tinyhttpd.DefaultMaxBodySize {
		t.Errorf("limits: %s %d", conf.GatewayTimeout, conf.MaxBodySize)
	}
}

func TestConfigValues(t *testing.T) {
	conf, err := tinyhttpd.NewConfig(map[string]string{
		"config":                 "/etc/tinyhttpd/config.ini",
		"server.port":            "9000",
		"web_dir":                "www",
		"fastcgi":                "unix:///run/php.sock",
		"gateway_timeout":        "5",
		"gateway_persistent":     "on",
		"read_timeout":           "150ms",
		"max_body_size":          "8K",
		"workers":                "2",
		"max_workers":            "4",
		"reload_mode":            "Handoff",
		"reload_watch":           "yes",
		"log_level":              "warning",
		"server.metrics_address": "127.0.0.1:9100",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{
		9000, "/etc/tinyhttpd/www", "unix:///run/php.sock",
		5 * time.Second, true, 150 * time.Millisecond, int64(8192),
		2, 4, tinyhttpd.ReloadHandoff, true, tinyhttpd.LoggerWarning, "127.0.0.1:9100",
	}
	got := []any{
		conf.Port, conf.WebDir, conf.Fastcgi,
		conf.GatewayTimeout, conf.GatewayPersistent, conf.ReadTimeout, conf.MaxBodySize,
		conf.Workers, conf.MaxWorkers, conf.ReloadMode, conf.ReloadWatch, conf.Logger.Level, conf.MetricsAddress,
	}
	if diff := pretty.Diff(want, got); len(diff) > 0 {
		t.Errorf("config diff: %v", diff)
	}
}

func TestConfigErrors(t *testing.T) {
	for _, keys := range []map[string]string{
		{"port": "0"},
		{"port": "http"},
		{"workers": "0"},
		{"workers": "3", "max_workers": "2"},
		{"reload_mode": "restart"},
		{"gateway_timeout": "soon"},
		{"gateway_persistent": "maybe"},
		{"max_body_size": "1T"},
		{"log_level": "verbose"},
	} {
		if _, err := tinyhttpd.NewConfig(keys); err == nil {
			t.Errorf("accepted %v", keys)
		}
	}
}

func TestParseSize(t *testing.T) {
	for str, want := range map[string]int64{
		"1024":  1024,
		"8k":    8 << 10,
		"8KB":   8 << 10,
		"8KiB":  8 << 10,
		"2M":    2 << 20,
		" 1G ":  1 << 30,
		"100 B": 100,
	} {
		n, err := tinyhttpd.ParseSize(str)
		if err != nil || n != want {
			t.Errorf("%q: %d %v", str, n, err)
		}
	}
	if _, err := tinyhttpd.ParseSize("many"); err == nil {
		t.Error("many accepted")
	}
}

func writeConfigFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadConfigFile(t *testing.T) {
	want := map[string]string{
		"port":         "8000",
		"server.port":  "8001",
		"logger.level": "debug",
	}
	for name, data := range map[string]string{
		"config.ini":  "port = 8000\n[server]\nport = 8001\n[logger]\nlevel = debug\n",
		"config.yaml": "port: 8000\nserver:\n  port: 8001\nlogger:\n  level: debug\n",
		"config.json": `{"port": 8000, "server": {"port": 8001}, "logger": {"level": "debug"}}`,
	} {
		keys, err := tinyhttpd.ReadConfigFile(writeConfigFile(t, name, data))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if diff := pretty.Diff(want, keys); len(diff) > 0 {
			t.Errorf("%s: %v", name, diff)
		}
	}

	if _, err := tinyhttpd.ReadConfigFile(writeConfigFile(t, "config.toml", "")); err == nil {
		t.Error("toml accepted")
	}
	if _, err := tinyhttpd.ReadConfigFile(writeConfigFile(t, "config.json", "{")); err == nil {
		t.Error("broken json accepted")
	}
}

func TestParseConfigMap(t *testing.T) {
	path := writeConfigFile(t, "config.ini", "port = 8000\nworkers = 2\nweb_dir = htdocs\n")
	args := os.Args
	defer func() { os.Args = args }()
	os.Args = []string{"tinyhttpd", "--config=" + path, "--port=8002", "--reload_watch", "start"}
	t.Setenv("TINYHTTPD_PORT", "8001")
	t.Setenv("TINYHTTPD_FASTCGI", "/run/php.sock")
	t.Setenv(tinyhttpd.EnvDaemonEnable, "1")

	keys, err := tinyhttpd.ParseConfigMap()
	if err != nil {
		t.Fatal(err)
	}
	conf, err := tinyhttpd.NewConfig(keys)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Port != 8002 || conf.Workers != 2 || conf.Fastcgi != "/run/php.sock" || !conf.ReloadWatch {
		t.Errorf("config: %# v", pretty.Formatter(keys))
	}
	if conf.WebDir != filepath.Join(filepath.Dir(path), "htdocs") || conf.ConfigPath != path {
		t.Errorf("paths: %s %s", conf.WebDir, conf.ConfigPath)
	}
	if _, ok := keys["daemon_enable"]; ok {
		t.Error("daemon flag parsed as config")
	}

	os.Args = []string{"tinyhttpd", "--config=" + filepath.Join(t.TempDir(), "none.ini")}
	if _, err = tinyhttpd.ParseConfigMap(); err == nil {
		t.Error("missing explicit config file accepted")
	}
	os.Args = []string{"tinyhttpd", "--=1"}
	if _, err = tinyhttpd.ParseConfigMap(); err == nil {
		t.Error("empty arg key accepted")
	}
}

func TestSortedKeys(t *testing.T) {
	keys := tinyhttpd.SortedKeys(map[string]string{"web_dir": "", "port": "", "address": ""})
	if diff := pretty.Diff([]string{"address", "port", "web_dir"}, keys); len(diff) > 0 {
		t.Error(diff)
	}
}
