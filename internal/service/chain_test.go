package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/chain"
	"github.com/alanyoungcy/insightra/internal/store/memory"
)

var errNotServed = errors.New("not served")

// readOnlyBackend answers eth_call with canned outputs keyed by selector.
type readOnlyBackend struct {
	outputs map[string][]byte
}

func (r *readOnlyBackend) respond(t *testing.T, contract abi.ABI, method string, vals ...any) {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	r.outputs[string(contract.Methods[method].ID)] = out
}

func (r *readOnlyBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(testChainID), nil
}
func (r *readOnlyBackend) BlockNumber(context.Context) (uint64, error) { return 1, nil }
func (r *readOnlyBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	out, ok := r.outputs[string(msg.Data[:4])]
	if !ok {
		return nil, errNotServed
	}
	return out, nil
}
func (r *readOnlyBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, errNotServed
}
func (r *readOnlyBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return nil, errNotServed }
func (r *readOnlyBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 0, errNotServed
}
func (r *readOnlyBackend) SendTransaction(context.Context, *types.Transaction) error {
	return errNotServed
}
func (r *readOnlyBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, errNotServed
}
func (r *readOnlyBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}
func (r *readOnlyBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return nil, errNotServed
}
func (r *readOnlyBackend) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, errNotServed
}

func newChainBackend(t *testing.T, cfg ChainConfig) (*Chain, *readOnlyBackend) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rb := &readOnlyBackend{outputs: map[string][]byte{}}
	rb.respond(t, chain.Oracle, "questionFee", big.NewInt(5))
	rb.respond(t, chain.Oracle, "bondToken", bondTok)

	client := chain.NewClient(rb, testChainID, nil, logger)
	store := memory.New()
	b, err := NewChain(context.Background(), client, cfg, store.Questions(), store.Markets(), logger)
	require.NoError(t, err)
	return b, rb
}

func TestChainOracleInfo(t *testing.T) {
	b, _ := newChainBackend(t, ChainConfig{Oracle: oracleAddr, Arbitrator: arbAddr})

	info, err := b.Oracle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, oracleAddr, info.Address)
	assert.Equal(t, arbAddr, info.Arbitrator)
	assert.Equal(t, bondTok, info.BondToken, "bond token read from the oracle when unset")
	assert.Zero(t, big.NewInt(5).Cmp(info.QuestionFee))
	assert.Equal(t, "chain", b.Mode())
}

func TestChainOracleInfoWithoutArbitrator(t *testing.T) {
	b, _ := newChainBackend(t, ChainConfig{Oracle: oracleAddr, BondToken: collateral})

	info, err := b.Oracle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, info.Arbitrator)
	assert.Equal(t, collateral, info.BondToken)
}
