package ledger

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/tably/internal/ledger/domain"
	"github.com/smallbiznis/tably/internal/ledger/service"
	"github.com/smallbiznis/tably/pkg/repository"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.ProvideStore[domain.LedgerEntry]),
	fx.Provide(service.NewService),
)
