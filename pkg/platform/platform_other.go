//go:build !linux && !darwin && !windows

package platform

import "log/slog"

func newPlatform(*slog.Logger) Applier {
	return unsupportedApplier{}
}
