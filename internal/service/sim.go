package service

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
	"github.com/alanyoungcy/insightra/internal/market"
	"github.com/alanyoungcy/insightra/internal/oracle"
)

// Sim runs the protocol on the in-process engines. Every write settles
// immediately and is reported as a confirmed synthetic transaction.
type Sim struct {
	ledger  *ledger.Ledger
	oracle  *oracle.Engine
	markets *market.Engine
	arb     *arbitrator.Arbitrator
	txs     domain.TxStore
	chainID uint64
	logger  *slog.Logger
}

// NewSim creates the in-process protocol. txs may be nil.
func NewSim(l *ledger.Ledger, o *oracle.Engine, m *market.Engine, a *arbitrator.Arbitrator, chainID uint64, txs domain.TxStore, logger *slog.Logger) *Sim {
	return &Sim{
		ledger:  l,
		oracle:  o,
		markets: m,
		arb:     a,
		txs:     txs,
		chainID: chainID,
		logger:  logger.With(slog.String("component", "sim")),
	}
}

func (s *Sim) Mode() string   { return "sim" }
func (s *Sim) Now() time.Time { return s.oracle.Now() }

// Ledger exposes the token ledger for funding accounts.
func (s *Sim) Ledger() *ledger.Ledger { return s.ledger }

func (s *Sim) Oracle(context.Context) (OracleInfo, error) {
	cfg := s.oracle.Params()
	bps := cfg.FeeBps
	return OracleInfo{
		Address:     cfg.Address,
		BondToken:   cfg.BondToken,
		QuestionFee: cfg.QuestionFee,
		MinBaseBond: cfg.MinBaseBond,
		FeeBps:      &bps,
		Arbitrator:  cfg.Arbitrator,
	}, nil
}

func (s *Sim) Question(_ context.Context, id common.Hash) (domain.Question, error) {
	return s.oracle.Question(id)
}

func (s *Sim) Questions(_ context.Context, f domain.QuestionFilter) ([]domain.Question, error) {
	return s.oracle.Questions(f), nil
}

func (s *Sim) RequiredBond(_ context.Context, id common.Hash) (*big.Int, error) {
	return s.oracle.RequiredBond(id)
}

func (s *Sim) Market(_ context.Context, addr common.Address) (domain.Market, error) {
	return s.markets.Market(addr)
}

func (s *Sim) Markets(_ context.Context, includeRemoved bool) ([]domain.Market, error) {
	return s.markets.Markets(includeRemoved), nil
}

func (s *Sim) Factories(context.Context) ([]domain.FactoryInfo, error) {
	return s.markets.Factories(), nil
}

func (s *Sim) Balance(_ context.Context, tok, account common.Address) (*big.Int, error) {
	return s.ledger.BalanceOf(tok, account), nil
}

func (s *Sim) Claimable(_ context.Context, account common.Address, m domain.Market, tok common.Address) (*big.Int, error) {
	return s.markets.Claimable(account, m.Address, tok), nil
}

func (s *Sim) Cases(_ context.Context, openOnly bool) ([]arbitrator.Case, error) {
	return s.arb.Cases(openOnly), nil
}

// Approve raises the allowance of spender to amount when it is lower.
func (s *Sim) Approve(ctx context.Context, actor domain.Actor, tok, spender common.Address, amount *big.Int) (*domain.TxRecord, error) {
	if err := requireActor(actor, s.chainID); err != nil {
		return nil, err
	}
	if s.ledger.Allowance(tok, actor.Address, spender).Cmp(amount) >= 0 {
		return nil, nil
	}
	return s.apply(ctx, "approve", actor, tok, func() error {
		return s.ledger.Approve(tok, actor.Address, spender, amount)
	})
}

func (s *Sim) CreateQuestion(ctx context.Context, actor domain.Actor, p domain.QuestionParams, salt common.Hash, public bool) (common.Hash, *domain.TxRecord, error) {
	var id common.Hash
	method := "createQuestion"
	if public {
		method = "createQuestionPublic"
	}
	rec, err := s.write(ctx, method, actor, s.oracle.Address(), func() (err error) {
		if public {
			id, err = s.oracle.CreateQuestionPublic(actor.Address, p, salt)
		} else {
			id, err = s.oracle.CreateQuestion(actor.Address, p, salt)
		}
		return err
	})
	return id, rec, err
}

func (s *Sim) Commit(ctx context.Context, actor domain.Actor, id, hash common.Hash, replace bool) (*domain.TxRecord, error) {
	if replace {
		return s.write(ctx, "recommit", actor, s.oracle.Address(), func() error {
			return s.oracle.Recommit(actor.Address, id, hash)
		})
	}
	return s.write(ctx, "commit", actor, s.oracle.Address(), func() error {
		return s.oracle.Commit(actor.Address, id, hash)
	})
}

func (s *Sim) Reveal(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (*domain.TxRecord, error) {
	return s.write(ctx, "reveal", actor, s.oracle.Address(), func() error {
		return s.oracle.Reveal(actor.Address, id, outcome, salt, bond)
	})
}

func (s *Sim) Finalize(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error) {
	return s.write(ctx, "finalize", actor, s.oracle.Address(), func() error {
		_, err := s.oracle.Finalize(actor.Address, id)
		return err
	})
}

func (s *Sim) Escalate(ctx context.Context, actor domain.Actor, id common.Hash) (*domain.TxRecord, error) {
	return s.write(ctx, "escalate", actor, s.oracle.Address(), func() error {
		return s.oracle.Escalate(actor.Address, id)
	})
}

func (s *Sim) AdminRule(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, payee common.Address) (*domain.TxRecord, error) {
	return s.write(ctx, "adminRule", actor, s.arb.Address(), func() error {
		_, err := s.arb.AdminRule(actor, id, outcome, payee)
		return err
	})
}

// SetOracleParams applies u as the oracle owner. Fields are applied in
// order and the first failure stops the rest.
func (s *Sim) SetOracleParams(_ context.Context, actor domain.Actor, u OracleUpdate) error {
	if err := requireActor(actor, s.chainID); err != nil {
		return err
	}
	if u.QuestionFee != nil {
		if err := s.oracle.SetQuestionFee(actor.Address, u.QuestionFee); err != nil {
			return err
		}
	}
	if u.MinBaseBond != nil {
		if err := s.oracle.SetMinBaseBond(actor.Address, u.MinBaseBond); err != nil {
			return err
		}
	}
	if u.FeeBps != nil {
		if err := s.oracle.SetFeeBps(actor.Address, *u.FeeBps); err != nil {
			return err
		}
	}
	if u.Arbitrator != nil {
		if err := s.oracle.SetArbitrator(actor.Address, *u.Arbitrator); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sim) CreateMarket(ctx context.Context, actor domain.Actor, req market.CreateRequest, paid bool) (common.Address, *domain.TxRecord, error) {
	info, err := s.markets.Factory(req.Type)
	if err != nil {
		return common.Address{}, nil, err
	}
	var created domain.Market
	method := "create" + typeSuffix(req.Type)
	if paid {
		method = "submit" + typeSuffix(req.Type)
	}
	rec, err := s.write(ctx, method, actor, info.Address, func() (err error) {
		if paid {
			created, err = s.markets.Submit(actor.Address, req)
		} else {
			created, err = s.markets.Create(actor.Address, req)
		}
		return err
	})
	return created.Address, rec, err
}

func (s *Sim) Split(ctx context.Context, actor domain.Actor, m common.Address, amount *big.Int) (*domain.TxRecord, error) {
	return s.write(ctx, "split", actor, m, func() error {
		return s.markets.Split(actor.Address, m, amount)
	})
}

func (s *Sim) Merge(ctx context.Context, actor domain.Actor, m common.Address, sets *big.Int) (*domain.TxRecord, error) {
	return s.write(ctx, "merge", actor, m, func() error {
		return s.markets.Merge(actor.Address, m, sets)
	})
}

func (s *Sim) FinalizeMarket(ctx context.Context, actor domain.Actor, m common.Address) (*domain.TxRecord, error) {
	return s.write(ctx, "finalizeFromOracle", actor, m, func() error {
		_, err := s.markets.FinalizeFromOracle(actor.Address, m)
		return err
	})
}

func (s *Sim) Redeem(ctx context.Context, actor domain.Actor, m common.Address, side RedeemSide, amount *big.Int) (*domain.TxRecord, error) {
	switch side {
	case RedeemLong:
		return s.write(ctx, "redeemLong", actor, m, func() error {
			_, err := s.markets.RedeemLong(actor.Address, m, amount)
			return err
		})
	case RedeemShort:
		return s.write(ctx, "redeemShort", actor, m, func() error {
			_, err := s.markets.RedeemShort(actor.Address, m, amount)
			return err
		})
	default:
		return s.write(ctx, "redeem", actor, m, func() error {
			_, err := s.markets.Redeem(actor.Address, m, amount)
			return err
		})
	}
}

func (s *Sim) Moderate(ctx context.Context, actor domain.Actor, t domain.MarketType, m common.Address, remove bool, reason string) (*domain.TxRecord, error) {
	info, err := s.markets.Factory(t)
	if err != nil {
		return nil, err
	}
	if remove {
		return s.write(ctx, "removeListing", actor, info.Address, func() error {
			return s.markets.RemoveListing(actor.Address, t, m, reason)
		})
	}
	return s.write(ctx, "restoreListing", actor, info.Address, func() error {
		return s.markets.RestoreListing(actor.Address, t, m)
	})
}

func (s *Sim) SetDefaultRedeemFeeBps(ctx context.Context, actor domain.Actor, t domain.MarketType, bps uint16) (*domain.TxRecord, error) {
	info, err := s.markets.Factory(t)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, "setDefaultRedeemFeeBps", actor, info.Address, func() error {
		return s.markets.SetDefaultRedeemFeeBps(actor.Address, t, bps)
	})
}

func (s *Sim) write(ctx context.Context, method string, actor domain.Actor, to common.Address, fn func() error) (*domain.TxRecord, error) {
	if err := requireActor(actor, s.chainID); err != nil {
		return nil, err
	}
	return s.apply(ctx, method, actor, to, fn)
}

// apply runs fn and records it as a confirmed transaction. Engine failures
// are returned unchanged and leave no record.
func (s *Sim) apply(ctx context.Context, method string, actor domain.Actor, to common.Address, fn func() error) (*domain.TxRecord, error) {
	if err := fn(); err != nil {
		return nil, err
	}
	now := s.Now()
	rec := &domain.TxRecord{
		ID:          uuid.NewString(),
		Method:      method,
		From:        actor.Address,
		To:          to,
		Stage:       domain.TxConfirmed,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if s.txs != nil {
		if err := s.txs.Create(ctx, *rec); err != nil {
			s.logger.WarnContext(ctx, "record sim tx failed",
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
		}
	}
	return rec, nil
}

func typeSuffix(t domain.MarketType) string {
	switch t {
	case domain.MarketCategorical:
		return "Categorical"
	case domain.MarketScalar:
		return "Scalar"
	default:
		return "Binary"
	}
}

var _ Protocol = (*Sim)(nil)
