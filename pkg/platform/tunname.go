package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// RunDir holds the userspace device sockets and name files.
var RunDir = "/var/run/wireguard"

// ResolveTunName returns the kernel-visible device name for a userspace
// interface, falling back to name when no mapping was recorded.
func ResolveTunName(name string) string {
	b, err := os.ReadFile(filepath.Join(RunDir, name+".name"))
	if err != nil {
		return name
	}
	if real := strings.TrimSpace(string(b)); real != "" {
		return real
	}
	return name
}

// RecordTunName stores the kernel-visible name for a userspace interface.
func RecordTunName(name, real string) error {
	if err := os.MkdirAll(RunDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(RunDir, name+".name"), []byte(real+"\n"), 0o644)
}

// ForgetTunName removes a recorded mapping.
func ForgetTunName(name string) {
	_ = os.Remove(filepath.Join(RunDir, name+".name"))
}
