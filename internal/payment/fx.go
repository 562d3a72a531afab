package payment

import (
	"github.com/smallbiznis/faktur/internal/payment/adapters"
	"github.com/smallbiznis/faktur/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	"github.com/smallbiznis/faktur/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(newRegistry),
	fx.Provide(webhook.NewService),
)

func newRegistry() *adapters.Registry {
	factories := []paymentdomain.AdapterFactory{
		stripe.NewFactory(),
	}
	return adapters.NewRegistry(factories...)
}
