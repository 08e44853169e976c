package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/market"
)

// RedeemSide selects the redeem entry point of a market.
type RedeemSide int

const (
	RedeemOutcome RedeemSide = iota // redeem(amount), binary and categorical
	RedeemLong
	RedeemShort
)

// ParseRedeemSide maps "", "outcome", "long" and "short" to a side.
func ParseRedeemSide(s string) (RedeemSide, error) {
	switch s {
	case "", "outcome":
		return RedeemOutcome, nil
	case "long":
		return RedeemLong, nil
	case "short":
		return RedeemShort, nil
	}
	return 0, fmt.Errorf("%w: redeem side %q", domain.ErrInvalidInput, s)
}

// OracleUpdate carries owner-only oracle parameter changes. Nil fields are
// left unchanged.
type OracleUpdate struct {
	QuestionFee *big.Int        `json:"question_fee,omitempty"`
	MinBaseBond *big.Int        `json:"min_base_bond,omitempty"`
	FeeBps      *uint16         `json:"fee_bps,omitempty"`
	Arbitrator  *common.Address `json:"arbitrator,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u OracleUpdate) Empty() bool {
	return u.QuestionFee == nil && u.MinBaseBond == nil && u.FeeBps == nil && u.Arbitrator == nil
}

// OracleInfo is the oracle configuration visible to callers.
type OracleInfo struct {
	Address     common.Address `json:"address"`
	BondToken   common.Address `json:"bond_token"`
	QuestionFee *big.Int       `json:"question_fee"`
	MinBaseBond *big.Int       `json:"min_base_bond,omitempty"`
	FeeBps      *uint16        `json:"fee_bps,omitempty"`
	Arbitrator  common.Address `json:"arbitrator,omitempty"`
}

// Protocol is the protocol surface the services drive. Sim runs it on the
// in-process engines; Chain runs it against deployed contracts. Every write
// takes the acting account explicitly and returns the transaction it sent,
// or nil when nothing had to be sent.
type Protocol interface {
	Mode() string
	Now() time.Time
	Oracle(ctx context.Context) (OracleInfo, error)

	Question(ctx context.Context, id common.Hash) (domain.Question, error)
	Questions(ctx context.Context, f domain.QuestionFilter) ([]domain.Question, error)
	RequiredBond(ctx context.Context, id common.Hash) (*big.Int, error)
	Market(ctx context.Context, addr common.Address) (domain.Market, error)
	Markets(ctx context.Context, includeRemoved bool) ([]domain.Market, error)
	Factories(ctx context.Context) ([]domain.FactoryInfo, error)
	Balance(ctx context.Context, tok, account common.Address) (*big.Int, error)
	Claimable(ctx context.Context, account common.Address, m domain.Market, tok common.Address) (*big.Int, error)
	Cases(ctx context.Context, openOnly bool) ([]arbitrator.Case, error)

	Approve(ctx context.Context, actor domain.Actor, tok, spender common.Address, amount *big.Int) (*domain.TxRecord, error)
	CreateQuestion(ctx context.Context, actor domain.Actor, p domain.QuestionParams, salt common.Hash, public bool) (common.Hash, *domain.TxRecord, error)
	Commit(ctx context.Context, actor domain.Actor, id, hash common.Hash, replace bool) (*domain.TxRecord, error)
	Reveal(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (*domain.TxRecord, error)
	Finalize(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error)
	Escalate(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error)
	AdminRule(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, payee common.Address) (*domain.TxRecord, error)
	SetOracleParams(ctx context.Context, actor domain.Actor, u OracleUpdate) error

	CreateMarket(ctx context.Context, actor domain.Actor, req market.CreateRequest, paid bool) (common.Address, *domain.TxRecord, error)
	Split(ctx context.Context, actor domain.Actor, m common.Address, amount *big.Int) (*domain.TxRecord, error)
	Merge(ctx context.Context, actor domain.Actor, m common.Address, sets *big.Int) (*domain.TxRecord, error)
	FinalizeMarket(ctx context.Context, actor domain.Actor, m common.Address) (*domain.TxRecord, error)
	Redeem(ctx context.Context, actor domain.Actor, m common.Address, side RedeemSide, amount *big.Int) (*domain.TxRecord, error)
	Moderate(ctx context.Context, actor domain.Actor, t domain.MarketType, m common.Address, remove bool, reason string) (*domain.TxRecord, error)
	SetDefaultRedeemFeeBps(ctx context.Context, actor domain.Actor, t domain.MarketType, bps uint16) (*domain.TxRecord, error)
}

// Result lists the transactions one service call sent, in order.
type Result struct {
	Txs []*domain.TxRecord `json:"transactions"`
}

func (r *Result) add(rec *domain.TxRecord) {
	if rec != nil {
		r.Txs = append(r.Txs, rec)
	}
}

func requireActor(actor domain.Actor, chainID uint64) error {
	if !actor.Connected() {
		return domain.ErrNoWallet
	}
	if actor.ChainID != 0 && chainID != 0 && actor.ChainID != chainID {
		return fmt.Errorf("%w: actor on chain %d, protocol on %d", domain.ErrWrongChain, actor.ChainID, chainID)
	}
	return nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("service: %s: %w", op, err)
}
