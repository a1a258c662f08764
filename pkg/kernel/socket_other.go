//go:build !linux

package kernel

import (
	"runtime"

	"wgnet/pkg/errs"
)

func openSocket(int) (Socket, error) {
	return nil, errs.NotImplemented("netlink socket", runtime.GOOS)
}
