package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"wgnet/pkg/errs"
)

const (
	DefaultCoordinatorPath = "/etc/wgnet/server.yaml"
	DefaultListen          = "0.0.0.0:8888"
)

// Store backends for the coordinator.
const (
	StoreMemory = "memory"
	StoreConsul = "consul"
	StoreMySQL  = "mysql"
)

// Coordinator is the controller document.
type Coordinator struct {
	Listen          string `mapstructure:"listen" yaml:"listen"`
	IfaceConfigPath string `mapstructure:"iface_config_path" yaml:"iface_config_path,omitempty"`
	Backend         string `mapstructure:"backend" yaml:"backend"`
	Advertise       string `mapstructure:"advertise" yaml:"advertise,omitempty"`
	Store           string `mapstructure:"store" yaml:"store"`
	ConsulAddr      string `mapstructure:"consul_addr" yaml:"consul_addr,omitempty"`
	MySQLDSN        string `mapstructure:"mysql_dsn" yaml:"mysql_dsn,omitempty"`
	AdminToken      string `mapstructure:"admin_token" yaml:"admin_token,omitempty"`
	JWTSecret       string `mapstructure:"jwt_secret" yaml:"jwt_secret,omitempty"`
	TLSCert         string `mapstructure:"tls_cert" yaml:"tls_cert,omitempty"`
	TLSKey          string `mapstructure:"tls_key" yaml:"tls_key,omitempty"`
	ClientCA        string `mapstructure:"client_ca" yaml:"client_ca,omitempty"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string `mapstructure:"log_format" yaml:"log_format"`
}

func coordinatorDefaults() map[string]any {
	return map[string]any{
		"listen":            DefaultListen,
		"iface_config_path": "",
		"backend":           "",
		"advertise":         "",
		"store":             StoreMemory,
		"consul_addr":       "127.0.0.1:8500",
		"mysql_dsn":         "",
		"admin_token":       "",
		"jwt_secret":        "",
		"tls_cert":          "",
		"tls_key":           "",
		"client_ca":         "",
		"log_level":         "info",
		"log_format":        "text",
	}
}

// LoadCoordinator reads the controller document at path. A missing file
// yields defaults.
func LoadCoordinator(path string) (*Coordinator, error) {
	var c Coordinator
	if _, err := load(path, coordinatorDefaults(), &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, &errs.ConfigError{Source: path, Err: err}
	}
	return &c, nil
}

// SaveCoordinator writes c to path.
func SaveCoordinator(path string, c Coordinator) error {
	return save(path, c, 0o600)
}

func (c Coordinator) Validate() error {
	if _, err := netip.ParseAddrPort(c.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if c.Advertise != "" {
		if _, err := netip.ParseAddrPort(c.Advertise); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
	}
	switch strings.ToLower(c.Store) {
	case StoreMemory, StoreConsul, StoreMySQL:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if !validLevel(c.LogLevel) {
		return errors.New("log_level must be debug, info, warn or error")
	}
	if !validFormat(c.LogFormat) {
		return errors.New("log_format must be text or json")
	}
	return nil
}

// ServerSocket is the address written into invites.
func (c Coordinator) ServerSocket() string {
	if c.Advertise != "" {
		return c.Advertise
	}
	return c.Listen
}

// UseTLS reports whether the listener serves HTTPS.
func (c Coordinator) UseTLS() bool { return c.TLSCert != "" && c.TLSKey != "" }
