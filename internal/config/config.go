// Package config implements the hierarchical runner configuration: a
// section/key tree merged from built-in defaults, the first user
// config file found, GOWDL__SECTION__KEY environment variables, and
// command-line overrides (highest priority).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment-variable convention prefix:
// GOWDL__SECTION__KEY=VALUE.
const EnvPrefix = "GOWDL__"

// Config is a merged section/key tree. Values are stored as strings;
// typed accessors parse on read, accepting JSON for structured
// entries.
type Config struct {
	values map[string]string // "section.key" -> value
	// sources records where each value came from, for configure and
	// debugging output.
	sources map[string]string
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	c := &Config{values: make(map[string]string), sources: make(map[string]string)}
	for k, v := range map[string]string{
		"scheduler.container_backend": "docker",
		"scheduler.task_concurrency":  "0", // 0: bounded by resources only
		"scheduler.fail_slow":         "false",
		"task_runtime.defaults":       `{"docker": "ubuntu:20.04", "cpu": 1, "memory": "1G"}`,
		"task_runtime.placeholder_regex": "",
		"task_runtime.env_vars":          "{}",
		"file_io.copy_input_files":      "false",
		"file_io.allow_any_input":       "false",
		"call_cache.get":                "false",
		"call_cache.put":                "false",
		"call_cache.dir":                "~/.cache/gowdl/calls",
		"download_cache.get":            "false",
		"download_cache.put":            "false",
		"download_cache.dir":            "~/.cache/gowdl/downloads",
		"download_cache.enable_patterns":  `["*"]`,
		"download_cache.disable_patterns": "[]",
		"download.helper_image":           "amazon/aws-cli:latest",
		"resources.cpu":                   "0", // 0: all host CPUs
		"resources.memory":                "0", // 0: all host memory
		"logging.level":                   "info",
		"logging.format":                  "text",
		"history.db":                      "~/.gowdl/runs.db",
	} {
		c.values[k] = v
		c.sources[k] = "default"
	}
	return c
}

// Load builds the effective configuration: defaults, then the first
// config file found (explicit path, $GOWDL_CFG, ~/.config/gowdl.yaml),
// then environment variables.
func Load(explicitPath string) (*Config, error) {
	c := Defaults()

	path := explicitPath
	if path == "" {
		path = os.Getenv("GOWDL_CFG")
	}
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "gowdl.yaml")
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
			}
		}
	}
	if path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	c.mergeEnv(os.Environ())
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var tree map[string]map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	for section, keys := range tree {
		for key, raw := range keys {
			c.set(section+"."+key, stringifyValue(raw), path)
		}
	}
	return nil
}

// mergeEnv applies GOWDL__SECTION__KEY overrides.
func (c *Config) mergeEnv(environ []string) {
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name, value := kv[:eq], kv[eq+1:]
		parts := strings.SplitN(strings.TrimPrefix(name, EnvPrefix), "__", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(parts[0]) + "." + strings.ToLower(parts[1])
		c.set(key, value, "environment")
	}
}

func stringifyValue(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case nil:
		return ""
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(data)
}

func (c *Config) set(key, value, source string) {
	c.values[key] = value
	c.sources[key] = source
}

// Override applies a command-line override (highest priority).
func (c *Config) Override(key, value string) {
	c.set(key, value, "command line")
}

// Has reports whether the key exists.
func (c *Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// String returns the raw value of a key ("" when unset).
func (c *Config) String(key string) string {
	return c.values[key]
}

// Bool parses a boolean key.
func (c *Config) Bool(key string) (bool, error) {
	raw := c.values[key]
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config %s: %q is not a boolean", key, raw)
	}
	return b, nil
}

// Int parses an integer key.
func (c *Config) Int(key string) (int, error) {
	raw := c.values[key]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config %s: %q is not an integer", key, raw)
	}
	return n, nil
}

// JSON unmarshals a structured value into out.
func (c *Config) JSON(key string, out any) error {
	raw := c.values[key]
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("config %s: invalid JSON: %w", key, err)
	}
	return nil
}

// StringList parses a JSON array of strings.
func (c *Config) StringList(key string) ([]string, error) {
	var out []string
	if err := c.JSON(key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Path returns a key's value with a leading ~ expanded.
func (c *Config) Path(key string) string {
	return ExpandPath(c.values[key])
}

// ExpandPath expands a leading ~/ against the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/"))
		}
	}
	return p
}

// Source reports where a key's effective value came from.
func (c *Config) Source(key string) string {
	return c.sources[key]
}

// Keys returns all known keys, sorted.
func (c *Config) Keys() []string {
	out := maps.Keys(c.values)
	sort.Strings(out)
	return out
}
