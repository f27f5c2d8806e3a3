//go:build wireinject

package app

import (
	"context"

	"arena/internal/config"
	"arena/internal/gateway/binance"
	"arena/internal/gateway/exchange"

	"github.com/google/wire"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideStore,
		provideLimiter,
		provideBroadcaster,
		provideGateway,
		wire.Bind(new(exchange.Gateway), new(*binance.Gateway)),
		provideStateCache,
		providePriceStore,
		provideReasoner,
		provideLastOutcomes,
		provideAccounts,
		provideMarketSymbols,
		providePricePoller,
		provideExecutor,
		provideTickSource,
		provideLiveService,
		provideLiveHTTP,
		provideApp,
	)
	return nil, nil
}
