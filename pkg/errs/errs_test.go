package errs

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotImplementedMatchesSentinel(t *testing.T) {
	err := NotImplemented("bring_link_up", "windows")
	assert.ErrorIs(t, err, ErrNotImplemented)
	assert.Contains(t, err.Error(), "bring_link_up")
	assert.Contains(t, err.Error(), "windows")

	wrapped := &ApplyError{Iface: "wg0", Stage: "link", Err: err}
	assert.ErrorIs(t, wrapped, ErrNotImplemented)

	var ni *NotImplementedError
	require.ErrorAs(t, wrapped, &ni)
	assert.Equal(t, "windows", ni.OS)
}

func TestApplyErrorKeepsKernelErrno(t *testing.T) {
	inner := fmt.Errorf("add route 10.0.0.0/8: %w", syscall.EEXIST)
	err := &ApplyError{Iface: "wg1", Stage: "route", Err: inner}

	assert.ErrorIs(t, err, syscall.EEXIST)
	assert.Equal(t, "route", Stage(err))
	assert.Equal(t, "", Stage(errors.New("plain")))
	assert.Equal(t, "apply wg1 stage=route: add route 10.0.0.0/8: file exists", err.Error())
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "config: bad", (&ConfigError{Err: errors.New("bad")}).Error())
	assert.Equal(t, "config a.yaml: bad", (&ConfigError{Source: "a.yaml", Err: errors.New("bad")}).Error())
	assert.Equal(t, "netlink send: truncated write", (&TransportError{Op: "send", Err: ErrTruncatedWrite}).Error())
	assert.Equal(t, "rpc ping: status 500: boom", (&ProtocolError{Call: "ping", Status: 500, Err: errors.New("boom")}).Error())
	assert.Equal(t, "rpc ping: boom", (&ProtocolError{Call: "ping", Err: errors.New("boom")}).Error())
}
