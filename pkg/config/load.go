// Package config reads and writes the persisted agent and controller
// documents, the invite credential and the interface config directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"wgnet/pkg/errs"
)

// EnvPrefix is the prefix for environment overrides, e.g. WGNET_BACKEND.
const EnvPrefix = "WGNET"

// LoadDotEnv loads .env from the working directory when present.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// load fills out from defaults, the YAML file at path and WGNET_* env vars.
// A missing file is not an error; found reports whether it was read.
func load(path string, defaults map[string]any, out any) (found bool, err error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &nf) {
			return false, &errs.ConfigError{Source: path, Err: err}
		}
	} else {
		found = true
	}
	if err := v.Unmarshal(out); err != nil {
		return found, &errs.ConfigError{Source: path, Err: err}
	}
	return found, nil
}

// save writes doc as YAML with the given mode, creating parent directories.
func save(path string, doc any, mode os.FileMode) error {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, mode)
}

func validLevel(l string) bool {
	switch strings.ToLower(l) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func validFormat(f string) bool {
	f = strings.ToLower(f)
	return f == "text" || f == "json"
}
