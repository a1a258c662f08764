//go:build !(linux || darwin || freebsd || openbsd)

package wireguard

import (
	"log/slog"
	"runtime"

	"wgnet/pkg/errs"
)

func newUserspaceLinker(_ *slog.Logger) (linker, error) {
	return nil, errs.NotImplemented("userspace backend", runtime.GOOS)
}
