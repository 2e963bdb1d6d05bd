package sync

import (
	"github.com/smallbiznis/erpsync/internal/sync/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("sync.repository",
	fx.Provide(repository.Provide),
)
