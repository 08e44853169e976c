package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/market"
)

type fakeBackend struct {
	chainID int64
	mu      sync.Mutex
	outputs map[string][]byte
	callErr error
	sent    []*types.Transaction
	status  uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chainID: 167012, outputs: map[string][]byte{}, status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) respond(t *testing.T, contract abi.ABI, method string, vals ...any) {
	t.Helper()
	out, err := contract.Methods[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	f.outputs[string(contract.Methods[method].ID)] = out
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(f.chainID), nil }
func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.outputs[string(msg.Data[:4])], nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: h, Status: f.status, BlockNumber: big.NewInt(42), GasUsed: 21_000}, nil
}

func (f *fakeBackend) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{Number: n, Time: 1_700_000_000 + n.Uint64()*2}, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == h {
			return tx, false, nil
		}
	}
	return nil, false, ethereum.NotFound
}

type memTxStore struct {
	mu   sync.Mutex
	recs map[string]domain.TxRecord
}

func (m *memTxStore) Create(_ context.Context, tx domain.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[tx.ID] = tx
	return nil
}

func (m *memTxStore) UpdateStage(_ context.Context, id string, stage domain.TxStage, block, gas uint64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.recs[id]
	r.Stage, r.Block, r.GasUsed, r.Error = stage, block, gas, errMsg
	m.recs[id] = r
	return nil
}

func (m *memTxStore) GetByID(_ context.Context, id string) (domain.TxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return r, domain.ErrNotFound
	}
	return r, nil
}

func (m *memTxStore) ListPending(context.Context) ([]domain.TxRecord, error) { return nil, nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return crypto.NewSigner(key, 167012)
}

func TestABIsParse(t *testing.T) {
	for _, name := range []string{"createQuestionPublic", "commit", "reveal", "finalize", "escalate", "receiveArbitratorRuling"} {
		assert.Contains(t, Oracle.Methods, name)
	}
	assert.Contains(t, Arbitrator.Methods, "adminRule")
	assert.Len(t, Topics(), 13)
}

func TestCheckChain(t *testing.T) {
	b := newFakeBackend()
	c := NewClient(b, 167012, nil, testLogger())
	require.NoError(t, c.CheckChain(context.Background()))

	b.chainID = 1
	assert.ErrorIs(t, c.CheckChain(context.Background()), domain.ErrWrongChain)
}

func TestTupleRoundTrip(t *testing.T) {
	p := domain.QuestionParams{
		Type: domain.QuestionScalar, Options: 0,
		ScalarMin: big.NewInt(-5), ScalarMax: big.NewInt(5), ScalarDecimals: 2,
		Timeout: 90 * time.Second, BondMultiplier: 2, MaxRounds: 3,
		DataSource: "https://example.org", OpeningTs: time.Unix(1_700_000_000, 0).UTC(),
	}
	got := TupleFromParams(p).Params()
	assert.Equal(t, p, got)

	_, err := Oracle.Pack("createQuestionPublic", TupleFromParams(p), [32]byte{1})
	require.NoError(t, err)
}

func TestCreateCallRoundTrip(t *testing.T) {
	req := market.CreateRequest{
		Type: domain.MarketCategorical, Collateral: common.HexToAddress("0x01"), Oracle: common.HexToAddress("0x02"),
		QuestionID: common.HexToHash("0x03"), Name: "Who wins?", NumOutcomes: 3, OutcomeNames: []string{"A", "B", "C"},
	}
	method, args, err := CreateCall(req, true)
	require.NoError(t, err)
	assert.Equal(t, "submitCategorical", method)

	data, err := Factory.Pack(method, args...)
	require.NoError(t, err)
	got, err := DecodeCreateCall(data)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = DecodeCreateCall(data[:2])
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDecodeSplitLog(t *testing.T) {
	ev := Market.Events["Split"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(500))
	require.NoError(t, err)
	user := common.HexToAddress("0xabc")
	mkt := common.HexToAddress("0xdef")

	got, err := DecodeLog(types.Log{
		Address: mkt,
		Topics:  []common.Hash{ev.ID, common.BytesToHash(user.Bytes())},
		Data:    data,
		TxHash:  common.HexToHash("0x99"),
		Index:   3,
	}, time.Unix(10, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.EventSplit, got.Kind)
	assert.Equal(t, user, got.Actor)
	assert.Equal(t, mkt, got.Market)
	assert.Equal(t, int64(500), got.Amount.Int64())
	assert.Equal(t, common.HexToHash("0x99").Hex()+":3", got.ID)
}

func TestDecodeCreatedAndReceipt(t *testing.T) {
	factory := common.HexToAddress("0xfac")
	mkt := common.HexToAddress("0x111")
	ev := Factory.Events["ScalarCreated"]
	data, err := ev.Inputs.NonIndexed().Pack(mkt, [32]byte(common.HexToHash("0x77")))
	require.NoError(t, err)

	l := &types.Log{Address: factory, Topics: []common.Hash{ev.ID}, Data: data}
	got, err := DecodeLog(*l, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.EventMarketCreated, got.Kind)
	assert.Equal(t, mkt, got.Market)
	assert.Equal(t, common.HexToHash("0x77"), got.QuestionID)

	addr, err := MarketFromReceipt(&types.Receipt{Logs: []*types.Log{l}}, factory)
	require.NoError(t, err)
	assert.Equal(t, mkt, addr)

	_, err = MarketFromReceipt(&types.Receipt{}, factory)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQuestionIDFromReceipt(t *testing.T) {
	oracle := common.HexToAddress("0x0f")
	id := common.HexToHash("0xbeef")
	r := &types.Receipt{Logs: []*types.Log{{
		Address: oracle,
		Topics:  []common.Hash{Oracle.Events["QuestionCreated"].ID, id},
	}}}
	got, err := QuestionIDFromReceipt(r, oracle)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = QuestionIDFromReceipt(r, common.HexToAddress("0x10"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDecodeUnknownLog(t *testing.T) {
	_, err := DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0x1")}}, time.Time{})
	assert.ErrorIs(t, err, ErrUnknownLog)
}

func TestTransactRecordsAndSettles(t *testing.T) {
	b := newFakeBackend()
	txs := &memTxStore{recs: map[string]domain.TxRecord{}}
	s := testSigner(t)
	c := NewClient(b, 167012, s, testLogger(), WithTxStore(txs), WithPollInterval(time.Millisecond))

	rec, receipt, err := c.TransactAndWait(context.Background(), common.HexToAddress("0x0f"), Oracle, "finalize", [32]byte{1})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), receipt.BlockNumber.Uint64())
	require.Len(t, b.sent, 1)
	assert.Equal(t, uint64(120_000), b.sent[0].Gas())

	stored, err := txs.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, stored.Stage)
	assert.Equal(t, s.Address(), stored.From)

	b.status = types.ReceiptStatusFailed
	_, _, err = c.TransactAndWait(context.Background(), common.HexToAddress("0x0f"), Oracle, "finalize", [32]byte{2})
	assert.ErrorIs(t, err, domain.ErrReverted)
}

func TestTxInputAndBlockTime(t *testing.T) {
	b := newFakeBackend()
	c := NewClient(b, 167012, testSigner(t), testLogger(), WithPollInterval(time.Millisecond))
	rec, err := c.Transact(context.Background(), common.HexToAddress("0x0f"), Oracle, "finalize", [32]byte{7})
	require.NoError(t, err)

	data, err := c.TxInput(context.Background(), rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, Oracle.Methods["finalize"].ID, data[:4])

	_, err = c.TxInput(context.Background(), common.Hash{0xff})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at, err := c.BlockTime(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_020), at.Unix())
}

func TestTransactRequiresSigner(t *testing.T) {
	c := NewClient(newFakeBackend(), 167012, nil, testLogger())
	_, err := c.Transact(context.Background(), common.Address{}, Oracle, "finalize", [32]byte{})
	assert.ErrorIs(t, err, domain.ErrNoWallet)
}

func TestSimulateClassifiesErrors(t *testing.T) {
	b := newFakeBackend()
	c := NewClient(b, 167012, nil, testLogger())

	b.callErr = errors.New("execution reverted: liveness active")
	err := c.Simulate(context.Background(), common.Address{}, common.Address{}, Oracle, "finalize", [32]byte{})
	assert.ErrorIs(t, err, domain.ErrReverted)
	assert.Contains(t, err.Error(), "liveness active")

	b.callErr = errors.New("connection refused")
	err = c.Simulate(context.Background(), common.Address{}, common.Address{}, Oracle, "finalize", [32]byte{})
	assert.ErrorIs(t, err, domain.ErrRPC)
}

func TestReadBinaryMarket(t *testing.T) {
	b := newFakeBackend()
	yes, no := common.HexToAddress("0xa1"), common.HexToAddress("0xa2")
	b.respond(t, Market, "marketType", uint8(domain.MarketBinary))
	b.respond(t, Market, "collateral", common.HexToAddress("0xc0"))
	b.respond(t, Market, "oracle", common.HexToAddress("0x0f"))
	b.respond(t, Market, "questionId", [32]byte(common.HexToHash("0x55")))
	b.respond(t, Market, "status", uint8(domain.MarketResolved))
	b.respond(t, Market, "redeemFeeBps", big.NewInt(100))
	b.respond(t, Market, "feeSink", common.HexToAddress("0xfe"))
	b.respond(t, Market, "collateralLocked", big.NewInt(1000))
	b.respond(t, Market, "resolvedAt", big.NewInt(1_700_000_000))
	b.respond(t, Market, "resolvedAnswer", domain.EncodeIndex(domain.OutcomeYes))
	b.respond(t, Market, "yesToken", yes)
	b.respond(t, Market, "noToken", no)
	b.respond(t, Market, "outcomeYes", true)

	m, err := NewMarket(NewClient(b, 167012, nil, testLogger()), common.HexToAddress("0x123")).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.MarketBinary, m.Type)
	assert.Equal(t, domain.MarketResolved, m.Status)
	assert.Equal(t, uint16(100), m.RedeemFeeBps)
	require.NotNil(t, m.Binary)
	assert.True(t, m.Binary.OutcomeYes)
	assert.Equal(t, []common.Address{yes, no}, m.OutcomeTokens())
	assert.NoError(t, m.CheckVariant())
}

func TestShortMessage(t *testing.T) {
	assert.Equal(t, "bond too low", ShortMessage(errors.New("rpc error: execution reverted: bond too low\nstack")))
	assert.Equal(t, "", ShortMessage(nil))

	long := ShortMessage(errors.New("execution reverted: x" + strings.Repeat("é", 200)))
	assert.True(t, utf8.ValidString(long))
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), maxMessageLen+len("..."))
}
