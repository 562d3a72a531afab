package publicinvoice

import (
	"github.com/smallbiznis/faktur/internal/publicinvoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("publicinvoice.service",
	fx.Provide(service.NewService),
)
