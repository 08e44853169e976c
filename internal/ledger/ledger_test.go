package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	require.NoError(t, l.Register(TokenInfo{Address: usdc, Symbol: "USDC", Decimals: 6}))
	require.NoError(t, l.Mint(usdc, alice, big.NewInt(1000)))
	return l
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	l := newLedger(t)

	err := l.TransferFrom(usdc, bob, alice, bob, big.NewInt(10))
	require.ErrorIs(t, err, domain.ErrInsufficientAllow)

	require.NoError(t, l.Approve(usdc, alice, bob, big.NewInt(100)))
	require.NoError(t, l.TransferFrom(usdc, bob, alice, bob, big.NewInt(60)))

	assert.Equal(t, int64(940), l.BalanceOf(usdc, alice).Int64())
	assert.Equal(t, int64(60), l.BalanceOf(usdc, bob).Int64())
	assert.Equal(t, int64(40), l.Allowance(usdc, alice, bob).Int64())
}

func TestInfiniteAllowanceIsNotDecreased(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Approve(usdc, alice, bob, domain.MaxUint256))
	require.NoError(t, l.TransferFrom(usdc, bob, alice, bob, big.NewInt(5)))
	assert.Equal(t, 0, l.Allowance(usdc, alice, bob).Cmp(domain.MaxUint256))
}

func TestBurnSetIsAllOrNothing(t *testing.T) {
	l := New()
	yes := common.HexToAddress("0x01")
	no := common.HexToAddress("0x02")
	require.NoError(t, l.Register(TokenInfo{Address: yes, Symbol: "YES"}))
	require.NoError(t, l.Register(TokenInfo{Address: no, Symbol: "NO"}))
	require.NoError(t, l.Mint(yes, alice, big.NewInt(5)))
	require.NoError(t, l.Mint(no, alice, big.NewInt(3)))

	err := l.BurnSet([]common.Address{yes, no}, alice, big.NewInt(4))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(5), l.BalanceOf(yes, alice).Int64())
	assert.Equal(t, int64(3), l.BalanceOf(no, alice).Int64())

	require.NoError(t, l.BurnSet([]common.Address{yes, no}, alice, big.NewInt(3)))
	assert.Equal(t, int64(2), l.BalanceOf(yes, alice).Int64())
	assert.Equal(t, int64(0), l.TotalSupply(no).Int64())
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	l := newLedger(t)
	assert.ErrorIs(t, l.Transfer(usdc, alice, bob, big.NewInt(0)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(usdc, alice, big.NewInt(-1)), domain.ErrInvalidAmount)
	assert.ErrorIs(t, l.Transfer(common.HexToAddress("0xdead"), alice, bob, big.NewInt(1)), domain.ErrNotFound)
}
