// Package errs holds the error taxonomy shared across wgnet components.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrOversize       = errors.New("message exceeds maximum frame size")
	ErrTruncatedWrite = errors.New("truncated write")
	ErrFamilyNotFound = errors.New("generic netlink family not found")
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteRedeemed = errors.New("invite already redeemed")
	ErrUnknownMember  = errors.New("unknown member")
)

// ConfigError reports a malformed document, address text or credential.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// TransportError reports a kernel socket failure or malformed kernel bytes.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netlink %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a remote failure or an undecodable response.
type ProtocolError struct {
	Call   string
	Status int
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("rpc %s: status %d: %v", e.Call, e.Status, e.Err)
	}
	return fmt.Sprintf("rpc %s: %v", e.Call, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ApplyError reports a failed convergence step on one interface.
type ApplyError struct {
	Iface string
	Stage string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s stage=%s: %v", e.Iface, e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// NotImplementedError names a capability missing on the running OS.
// It matches ErrNotImplemented with errors.Is.
type NotImplementedError struct {
	Capability string
	OS         string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s: %s on %s", ErrNotImplemented, e.Capability, e.OS)
}

func (e *NotImplementedError) Is(target error) bool { return target == ErrNotImplemented }

// NotImplemented is shorthand for building a NotImplementedError.
func NotImplemented(capability, goos string) error {
	return &NotImplementedError{Capability: capability, OS: goos}
}

// Stage extracts the failing stage from an ApplyError chain, or "".
func Stage(err error) string {
	var ae *ApplyError
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return ""
}
