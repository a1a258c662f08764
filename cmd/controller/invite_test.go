package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgnet/pkg/errs"
)

func TestBuildInviteRequest(t *testing.T) {
	req, err := buildInviteRequest("n1", "", []string{"wg0=10.0.0.2/24, fd00::2/64", "wg1=10.1.0.2/24"}, 51820, 0)
	require.NoError(t, err)
	assert.Equal(t, "n1", req.Node)
	require.Len(t, req.Interfaces, 2)
	assert.Equal(t, []string{"10.0.0.2/24", "fd00::2/64"}, req.Interfaces[0].Addrs)
	require.NotNil(t, req.Interfaces[1].ListenPort)
	assert.Equal(t, uint16(51820), *req.Interfaces[1].ListenPort)
	assert.Nil(t, req.Interfaces[0].MTU)

	for _, bad := range []string{"wg0", "=10.0.0.2/24", "wg0= , "} {
		_, err := buildInviteRequest("n1", "", []string{bad}, 0, 0)
		var cErr *errs.ConfigError
		assert.ErrorAs(t, err, &cErr, bad)
	}
}
