package tinyhttpd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v2"
)

// ConfigParseFunc defines a step that fills the flat config map.
type ConfigParseFunc func(keys map[string]string) error

// ConfigAllParseFunc defines the default parse order:
// config file, environment variables, command line args.
var ConfigAllParseFunc = []ConfigParseFunc{
	ConfigParseFile,
	ConfigParseEnvs,
	ConfigParseArgs,
}

// The ParseConfigMap function runs parse funcs on a new map.
//
// Command line args are applied first as well, so that --config selects the file.
func ParseConfigMap(fns ...ConfigParseFunc) (map[string]string, error) {
	if len(fns) == 0 {
		fns = ConfigAllParseFunc
	}
	keys := make(map[string]string)
	if err := ConfigParseArgs(keys); err != nil {
		return nil, err
	}
	for _, fn := range fns {
		if err := fn(keys); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// ConfigParseFile reads the file named by the "config" key,
// choosing the decoder by extension.
//
// A missing default config file is not an error.
func ConfigParseFile(keys map[string]string) error {
	path := keys[ConfigPath]
	if path == "" {
		path = os.Getenv(EnvConfigPrefix + "CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	vals, err := ReadConfigFile(abs)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config load %s error: %w", path, err)
	}
	for k, v := range vals {
		if _, ok := keys[k]; !ok {
			keys[k] = v
		}
	}
	keys[ConfigPath] = abs
	return nil
}

// ReadConfigFile decodes an ini, yaml or json file into a flat map.
func ReadConfigFile(path string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".conf", "":
		return readConfigINI(path)
	case ".yaml", ".yml":
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var data map[string]any
		if err = yaml.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		keys := make(map[string]string)
		flattenConfig(keys, "", data)
		return keys, nil
	case ".json":
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var data map[string]any
		if err = json.Unmarshal(body, &data); err != nil {
			return nil, err
		}
		keys := make(map[string]string)
		flattenConfig(keys, "", data)
		return keys, nil
	default:
		return nil, fmt.Errorf("read file config, type %s is not supported", filepath.Ext(path))
	}
}

func readConfigINI(path string) (map[string]string, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string)
	for _, section := range file.Sections() {
		prefix := ""
		if section.Name() != ini.DefaultSection {
			prefix = section.Name() + "."
		}
		for _, key := range section.Keys() {
			keys[prefix+key.Name()] = key.String()
		}
	}
	return keys, nil
}

func flattenConfig(keys map[string]string, prefix string, val any) {
	switch v := val.(type) {
	case map[string]any:
		for k, i := range v {
			flattenConfig(keys, prefix+k+".", i)
		}
	case map[any]any:
		for k, i := range v {
			flattenConfig(keys, prefix+fmt.Sprint(k)+".", i)
		}
	case []any:
		strs := make([]string, len(v))
		for i := range v {
			strs[i] = fmt.Sprint(v[i])
		}
		keys[strings.TrimSuffix(prefix, ".")] = strings.Join(strs, ",")
	case nil:
	default:
		keys[strings.TrimSuffix(prefix, ".")] = fmt.Sprint(v)
	}
}

// ConfigParseEnvs sets the config with environment variables,
// TINYHTTPD_WEB_DIR=/srv is the key web_dir.
func ConfigParseEnvs(keys map[string]string) error {
	for _, value := range os.Environ() {
		if !strings.HasPrefix(value, EnvConfigPrefix) {
			continue
		}
		k, v := split2byte(value, '=')
		switch k {
		case EnvDaemonEnable, EnvDaemonParentPID, EnvDaemonTimeout:
			continue
		}
		keys[strings.ToLower(k[len(EnvConfigPrefix):])] = v
	}
	return nil
}

// ConfigParseArgs sets the config with args prefixed by '--'.
func ConfigParseArgs(keys map[string]string) error {
	for _, str := range os.Args[1:] {
		if !strings.HasPrefix(str, "--") {
			continue
		}
		k, v := split2byte(str[2:], '=')
		if k == "" {
			return fmt.Errorf("config invalid arg %q", str)
		}
		if !strings.ContainsRune(str, '=') {
			v = "true"
		}
		keys[k] = v
	}
	return nil
}

// SortedKeys returns the map keys in order, for help output.
func SortedKeys(keys map[string]string) []string {
	strs := make([]string, 0, len(keys))
	for k := range keys {
		strs = append(strs, k)
	}
	sort.Strings(strs)
	return strs
}

func split2byte(str string, b byte) (string, string) {
	pos := strings.IndexByte(str, b)
	if pos == -1 {
		return str, ""
	}
	return str[:pos], str[pos+1:]
}
