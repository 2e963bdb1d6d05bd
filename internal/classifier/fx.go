package classifier

import (
	"github.com/smallbiznis/erpsync/internal/classifier/repository"
	"github.com/smallbiznis/erpsync/internal/classifier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("classifier.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
