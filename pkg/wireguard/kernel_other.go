//go:build !linux

package wireguard

import (
	"runtime"

	"wgnet/pkg/errs"
)

func newKernelLinker() (linker, error) {
	return nil, errs.NotImplemented("kernel backend", runtime.GOOS)
}
