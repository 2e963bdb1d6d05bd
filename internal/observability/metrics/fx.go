package metrics

import (
	"github.com/smallbiznis/erpsync/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Invoke(ensureSyncMetrics),
)

func ensureSyncMetrics(cfg config.Config) {
	SyncWithConfig(Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}
