package receipt

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tably/internal/receipt/domain"
	"github.com/smallbiznis/tably/internal/receipt/service"
	"github.com/smallbiznis/tably/pkg/repository"
)

var Module = fx.Module("receipt.service",
	fx.Provide(repository.ProvideStore[domain.Receipt]),
	fx.Provide(service.NewService),
)
