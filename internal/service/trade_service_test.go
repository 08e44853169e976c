package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

func TestTradeSplitApprovesThenMergesBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)
	trades := NewTradeService(f.sim, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := trades.Split(ctx, actor(bob), created.Market, big.NewInt(400))
	require.NoError(t, err)
	require.Len(t, res.Txs, 2)
	assert.Equal(t, "approve", res.Txs[0].Method)
	assert.Equal(t, "split", res.Txs[1].Method)
	assert.Equal(t, int64(1_000_000-400), f.ledger.BalanceOf(collateral, bob).Int64())

	// allowance was consumed, so a second split approves again
	res, err = trades.Split(ctx, actor(bob), created.Market, big.NewInt(100))
	require.NoError(t, err)
	assert.Len(t, res.Txs, 2)

	_, err = trades.Merge(ctx, actor(bob), created.Market, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), f.ledger.BalanceOf(collateral, bob).Int64())
}

func TestTradeRejectsNonPositiveAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)
	trades := NewTradeService(f.sim, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := trades.Split(ctx, actor(bob), created.Market, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = trades.Merge(ctx, actor(bob), created.Market, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = trades.Redeem(ctx, actor(bob), created.Market, RedeemOutcome, big.NewInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestTradeRedeemBeforeResolutionFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.binaryMarket(t)
	trades := NewTradeService(f.sim, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := trades.Split(ctx, actor(bob), created.Market, big.NewInt(100))
	require.NoError(t, err)
	f.advance(time.Minute)
	_, err = trades.Redeem(ctx, actor(bob), created.Market, RedeemOutcome, big.NewInt(100))
	assert.ErrorIs(t, err, domain.ErrNotResolved)
}
