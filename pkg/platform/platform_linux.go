package platform

import (
	"log/slog"

	"wgnet/pkg/kernel"
)

func newPlatform(log *slog.Logger) Applier {
	return NewNetlink(kernel.New(), log)
}
