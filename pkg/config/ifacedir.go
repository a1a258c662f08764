package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// LoadIface reads one interface document.
func LoadIface(path string) (model.InterfaceConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return model.InterfaceConfig{}, &errs.ConfigError{Source: path, Err: err}
	}
	var cfg model.InterfaceConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return model.InterfaceConfig{}, &errs.ConfigError{Source: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return model.InterfaceConfig{}, &errs.ConfigError{Source: path, Err: err}
	}
	if cfg.Peers == nil {
		cfg.Peers = map[string]model.PeerConfig{}
	}
	return cfg, nil
}

// LoadIfaceDir reads every *.yaml in dir, sorted by name. A missing
// directory holds no interfaces. Two files declaring the same interface
// name are rejected.
func LoadIfaceDir(dir string) ([]model.InterfaceConfig, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, &errs.ConfigError{Source: dir, Err: err}
	}
	sort.Strings(paths)
	out := make([]model.InterfaceConfig, 0, len(paths))
	seen := map[string]string{}
	for _, p := range paths {
		cfg, err := LoadIface(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[cfg.Name]; dup {
			return nil, &errs.ConfigError{Source: p, Err: fmt.Errorf("interface %s already defined in %s", cfg.Name, prev)}
		}
		seen[cfg.Name] = p
		out = append(out, cfg)
	}
	return out, nil
}

// SaveIface writes cfg to <dir>/<name>.yaml with owner-only permissions.
func SaveIface(dir string, cfg model.InterfaceConfig) (string, error) {
	if cfg.Name == "" || strings.ContainsAny(cfg.Name, `/\`) || cfg.Name == "." || cfg.Name == ".." {
		return "", &errs.ConfigError{Source: dir, Err: fmt.Errorf("bad interface name %q", cfg.Name)}
	}
	path := filepath.Join(dir, cfg.Name+".yaml")
	if err := save(path, cfg, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
