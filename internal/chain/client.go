// Package chain talks to the deployed oracle, factories and markets over
// JSON-RPC. Every write is simulated with eth_call before it is signed.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
)

// Backend is the subset of *ethclient.Client the adapter needs.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Option customises a Client.
type Option func(*Client)

// WithTxStore records every submitted transaction.
func WithTxStore(s domain.TxStore) Option { return func(c *Client) { c.txs = s } }

// WithPollInterval sets the receipt polling interval.
func WithPollInterval(d time.Duration) Option { return func(c *Client) { c.poll = d } }

// WithGasBuffer multiplies gas estimates by (100+pct)/100.
func WithGasBuffer(pct uint64) Option { return func(c *Client) { c.gasBufferPct = pct } }

// Client wraps a Backend with abi packing, signing and receipt tracking.
type Client struct {
	backend      Backend
	chainID      int64
	signer       *crypto.Signer
	txs          domain.TxStore
	logger       *slog.Logger
	poll         time.Duration
	gasBufferPct uint64

	nonceMu sync.Mutex
}

// Dial connects to rpcURL and refuses to continue when the node reports a
// chain other than chainID.
func Dial(ctx context.Context, rpcURL string, chainID int64, signer *crypto.Signer, logger *slog.Logger, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w: %v", rpcURL, domain.ErrRPC, err)
	}
	c := NewClient(ec, chainID, signer, logger, opts...)
	if err := c.CheckChain(ctx); err != nil {
		ec.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(b Backend, chainID int64, signer *crypto.Signer, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		backend:      b,
		chainID:      chainID,
		signer:       signer,
		logger:       logger.With(slog.String("component", "chain")),
		poll:         2 * time.Second,
		gasBufferPct: 20,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CheckChain verifies the node's chain id.
func (c *Client) CheckChain(ctx context.Context) error {
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain: chain id: %w: %v", domain.ErrRPC, err)
	}
	if id.Int64() != c.chainID {
		return fmt.Errorf("chain: node reports %d, want %d: %w", id.Int64(), c.chainID, domain.ErrWrongChain)
	}
	return nil
}

// ChainID is the configured chain id.
func (c *Client) ChainID() int64 { return c.chainID }

// Sender is the signing address, or the zero address for a read-only client.
func (c *Client) Sender() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// BlockNumber returns the current head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w: %v", domain.ErrRPC, err)
	}
	return n, nil
}

// Call runs a view method and returns its unpacked outputs.
func (c *Client) Call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.Sender(), To: &to, Data: data}, nil)
	if err != nil {
		return nil, callError(method, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// Simulate runs method as from without sending it. A nil error means the
// transaction would not revert at the current head.
func (c *Client) Simulate(ctx context.Context, from, to common.Address, contract abi.ABI, method string, args ...any) error {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("chain: pack %s: %w", method, err)
	}
	if _, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil); err != nil {
		return callError(method, err)
	}
	return nil
}

// Transact simulates, signs and sends method. It returns once the
// transaction is accepted by the node; use Wait for the receipt.
func (c *Client) Transact(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*domain.TxRecord, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("chain: %s: %w", method, domain.ErrNoWallet)
	}
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	from := c.signer.Address()
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	if _, err := c.backend.CallContract(ctx, msg, nil); err != nil {
		return nil, callError(method, err)
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: nonce: %w: %v", domain.ErrRPC, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w: %v", domain.ErrRPC, err)
	}
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, callError(method, err)
	}
	gas = gas * (100 + c.gasBufferPct) / 100

	tx, err := c.signer.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	}))
	if err != nil {
		return nil, err
	}
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		return nil, callError(method, err)
	}

	now := time.Now().UTC()
	rec := &domain.TxRecord{
		ID:          tx.Hash().Hex(),
		Hash:        tx.Hash(),
		Method:      method,
		From:        from,
		To:          to,
		Nonce:       nonce,
		Stage:       domain.TxPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if c.txs != nil {
		if err := c.txs.Create(ctx, *rec); err != nil {
			c.logger.Warn("record tx failed", slog.String("tx", rec.ID), slog.String("error", err.Error()))
		}
	}
	c.logger.Info("tx submitted",
		slog.String("method", method),
		slog.String("tx", rec.ID),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return rec, nil
}

// Wait polls for the receipt of rec and updates its stage. A reverted
// receipt returns ErrReverted together with the receipt.
func (c *Client) Wait(ctx context.Context, rec *domain.TxRecord) (*types.Receipt, error) {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, rec.Hash)
		switch {
		case err == nil:
			return receipt, c.settle(ctx, rec, receipt)
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("chain: receipt %s: %w: %v", rec.Hash.Hex(), domain.ErrRPC, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TransactAndWait is Transact followed by Wait.
func (c *Client) TransactAndWait(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (*domain.TxRecord, *types.Receipt, error) {
	rec, err := c.Transact(ctx, to, contract, method, args...)
	if err != nil {
		return nil, nil, err
	}
	receipt, err := c.Wait(ctx, rec)
	return rec, receipt, err
}

// Logs runs an eth_getLogs query.
func (c *Client) Logs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs: %w: %v", domain.ErrRPC, err)
	}
	return logs, nil
}

// BlockTime returns the timestamp of block n.
func (c *Client) BlockTime(ctx context.Context, n uint64) (time.Time, error) {
	h, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return time.Time{}, fmt.Errorf("chain: header %d: %w: %v", n, domain.ErrRPC, err)
	}
	return time.Unix(int64(h.Time), 0).UTC(), nil
}

// TxInput returns the calldata of a mined transaction.
func (c *Client) TxInput(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: tx %s: %w", hash.Hex(), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("chain: tx %s: %w: %v", hash.Hex(), domain.ErrRPC, err)
	}
	return tx.Data(), nil
}

func (c *Client) settle(ctx context.Context, rec *domain.TxRecord, receipt *types.Receipt) error {
	rec.Block = receipt.BlockNumber.Uint64()
	rec.GasUsed = receipt.GasUsed
	rec.UpdatedAt = time.Now().UTC()
	var failure error
	if receipt.Status == types.ReceiptStatusSuccessful {
		rec.Stage = domain.TxConfirmed
	} else {
		rec.Stage = domain.TxReverted
		rec.Error = "execution reverted"
		failure = fmt.Errorf("chain: %s %s: %w", rec.Method, rec.Hash.Hex(), domain.ErrReverted)
	}
	if c.txs != nil {
		if err := c.txs.UpdateStage(ctx, rec.ID, rec.Stage, rec.Block, rec.GasUsed, rec.Error); err != nil {
			c.logger.Warn("update tx failed", slog.String("tx", rec.ID), slog.String("error", err.Error()))
		}
	}
	c.logger.Info("tx settled",
		slog.String("method", rec.Method),
		slog.String("tx", rec.ID),
		slog.String("stage", string(rec.Stage)),
		slog.Uint64("block", rec.Block),
	)
	return failure
}

// callError classifies an eth_call / send failure as a revert or an RPC
// outage.
func callError(method string, err error) error {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if reason, uerr := abi.UnpackRevert(common.FromHex(s)); uerr == nil {
				return fmt.Errorf("chain: %s: %w: %s", method, domain.ErrReverted, reason)
			}
		}
		return fmt.Errorf("chain: %s: %w: %s", method, domain.ErrReverted, ShortMessage(err))
	}
	if strings.Contains(strings.ToLower(err.Error()), "revert") {
		return fmt.Errorf("chain: %s: %w: %s", method, domain.ErrReverted, ShortMessage(err))
	}
	return fmt.Errorf("chain: %s: %w: %v", method, domain.ErrRPC, err)
}

const maxMessageLen = 160

// ShortMessage reduces a node or wallet error to one readable line.
func ShortMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if i := strings.LastIndex(msg, "execution reverted: "); i >= 0 {
		msg = msg[i+len("execution reverted: "):]
	}
	msg = strings.TrimSpace(msg)
	if len(msg) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}
