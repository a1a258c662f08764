package platform

import "log/slog"

func newPlatform(log *slog.Logger) Applier {
	return NewNetsh(ExecCommander{}, log)
}
