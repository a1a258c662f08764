package config

import (
	"errors"
	"os"
	"time"

	"wgnet/pkg/errs"
)

const (
	DefaultNodePath       = "/etc/wgnet/client.yaml"
	DefaultIfaceConfigDir = "/var/lib/wgnet"
	DefaultUpdateInterval = 30
	DefaultRPCTimeout     = 10
)

// Node is the agent document.
type Node struct {
	Name           string `mapstructure:"name" yaml:"name"`
	UpdateInterval int    `mapstructure:"update_interval" yaml:"update_interval"`
	IfaceConfigDir string `mapstructure:"iface_config_dir" yaml:"iface_config_dir"`
	Backend        string `mapstructure:"backend" yaml:"backend"`
	Server         string `mapstructure:"server" yaml:"server,omitempty"`
	TLSCA          string `mapstructure:"tls_ca" yaml:"tls_ca,omitempty"`
	RPCTimeout     int    `mapstructure:"rpc_timeout" yaml:"rpc_timeout"`
	Concurrency    int    `mapstructure:"concurrency" yaml:"concurrency"`
	StateDB        string `mapstructure:"state_db" yaml:"state_db,omitempty"`
	Events         bool   `mapstructure:"events" yaml:"events"`
	LogLevel       string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat      string `mapstructure:"log_format" yaml:"log_format"`
}

func nodeDefaults() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{
		"name":             host,
		"update_interval":  DefaultUpdateInterval,
		"iface_config_dir": DefaultIfaceConfigDir,
		"backend":          "",
		"server":           "",
		"tls_ca":           "",
		"rpc_timeout":      DefaultRPCTimeout,
		"concurrency":      1,
		"state_db":         "",
		"events":           false,
		"log_level":        "info",
		"log_format":       "text",
	}
}

// LoadNode reads the agent document at path. A missing file yields defaults.
func LoadNode(path string) (*Node, error) {
	var n Node
	if _, err := load(path, nodeDefaults(), &n); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, &errs.ConfigError{Source: path, Err: err}
	}
	return &n, nil
}

// SaveNode writes n to path.
func SaveNode(path string, n Node) error {
	return save(path, n, 0o644)
}

func (n Node) Validate() error {
	if n.Name == "" {
		return errors.New("name is required")
	}
	if n.UpdateInterval < 1 {
		return errors.New("update_interval must be at least 1 second")
	}
	if n.IfaceConfigDir == "" {
		return errors.New("iface_config_dir is required")
	}
	if n.RPCTimeout < 1 {
		return errors.New("rpc_timeout must be at least 1 second")
	}
	if n.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	if !validLevel(n.LogLevel) {
		return errors.New("log_level must be debug, info, warn or error")
	}
	if !validFormat(n.LogFormat) {
		return errors.New("log_format must be text or json")
	}
	return nil
}

func (n Node) Interval() time.Duration { return time.Duration(n.UpdateInterval) * time.Second }

func (n Node) Timeout() time.Duration { return time.Duration(n.RPCTimeout) * time.Second }
