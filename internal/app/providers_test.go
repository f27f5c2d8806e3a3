package app

import (
	"context"
	"testing"

	"arena/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickSourceFallsBackToRESTPolling(t *testing.T) {
	cfg := testConfig(t, "interval")
	syms, err := provideMarketSymbols(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, []string(syms), "BTC")
	poller := providePricePoller(cfg, syms)

	cfg.Exchange.WSEnabled = false
	src := provideTickSource(cfg, syms, poller)
	assert.Same(t, poller, src)

	cfg.Exchange.WSEnabled = true
	src = provideTickSource(cfg, syms, poller)
	_, isStream := src.(*market.BinanceStream)
	assert.True(t, isStream)
}

func TestExecutorGetsQuoter(t *testing.T) {
	cfg := testConfig(t, "interval")
	syms, err := provideMarketSymbols(context.Background(), cfg)
	require.NoError(t, err)
	poller := providePricePoller(cfg, syms)
	exec := provideExecutor(cfg, nil, provideLimiter(cfg), provideGateway(cfg), provideReasoner(cfg),
		providePriceStore(cfg), poller, nil, provideBroadcaster(), provideAccounts(cfg), newLastOutcomeCache(0))
	assert.Same(t, poller, exec.Quoter)
}
