package capture

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SupportedHashTypes lists the accepted content-hash algorithms for
// File and FileCollection entities.
var SupportedHashTypes = []string{"sha1", "sha224", "sha256", "sha384", "sha512", "md5"}

// Config controls the capture engine. The zero value disables capture;
// use DefaultConfig as the starting point and override from YAML.
type Config struct {
	// Capture is the master switch. When false, wrapped callables run
	// unchanged and no records are emitted.
	Capture bool `yaml:"capture"`

	// HashType selects the file content-hash algorithm.
	HashType string `yaml:"hash_type"`

	// LogFilename is the append-only sink for the record stream.
	LogFilename string `yaml:"log_filename"`

	// LogArgs captures the wrapped callable's arguments beyond the
	// declared parameter bindings. LogArgsAsEntities records them as
	// usage records instead of parameter values. LogKwargs additionally
	// records named arguments (see WithArgNames) as parameters.
	LogArgs           bool `yaml:"log_args"`
	LogKwargs         bool `yaml:"log_kwargs"`
	LogArgsAsEntities bool `yaml:"log_args_as_entities"`

	// LogReturnedResult synthesizes a generation record for the
	// callable's first return value when no declared generation item
	// already covers it.
	LogReturnedResult bool `yaml:"log_returned_result"`

	// SystemDict is merged into the session's system snapshot.
	SystemDict map[string]any `yaml:"system_dict"`

	// EnvVars names additional environment variables to snapshot.
	EnvVars []string `yaml:"env_vars"`
}

// DefaultConfig returns the stock configuration: capture on, sha1 file
// hashing, prov.log sink, all automatic argument/result capture on.
func DefaultConfig() Config {
	return Config{
		Capture:           true,
		HashType:          "sha1",
		LogFilename:       "prov.log",
		LogArgs:           true,
		LogKwargs:         true,
		LogArgsAsEntities: true,
		LogReturnedResult: true,
	}
}

// ParseConfig decodes YAML over the defaults, so absent keys keep
// their default values.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// hashMethod returns the configured algorithm in canonical lowercase
// form. ok is false when the algorithm is not supported, in which case
// file identities fall back to the full path string.
func (c Config) hashMethod() (method string, ok bool) {
	method = strings.ToLower(c.HashType)
	for _, m := range SupportedHashTypes {
		if method == m {
			return method, true
		}
	}
	return method, false
}
