package request

import (
	"github.com/smallbiznis/homecare/internal/request/repository"
	"github.com/smallbiznis/homecare/internal/request/service"
	"go.uber.org/fx"
)

var Module = fx.Module("request.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
