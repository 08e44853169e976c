// Package arbitrator is the SimpleArbitrator: the one address the oracle
// accepts rulings from, operated by policy-approved admins.
package arbitrator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/policy"
)

// RulingReceiver is the oracle entry point for rulings.
type RulingReceiver interface {
	ReceiveArbitratorRuling(sender common.Address, id common.Hash, outcome []byte, payee common.Address) (domain.Resolution, error)
}

// Case is an escalated question awaiting or having received a ruling.
type Case struct {
	QuestionID  common.Hash        `json:"question_id"`
	EscalatedAt time.Time          `json:"escalated_at"`
	RuledAt     time.Time          `json:"ruled_at,omitempty"`
	RuledBy     common.Address     `json:"ruled_by,omitempty"`
	Resolution  *domain.Resolution `json:"resolution,omitempty"`
}

// Arbitrator forwards admin rulings to the oracle under its own address.
type Arbitrator struct {
	address common.Address
	oracle  RulingReceiver
	policy  domain.AdminPolicy
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cases map[common.Hash]*Case
}

// New creates an arbitrator acting as address.
func New(address common.Address, oracle RulingReceiver, p domain.AdminPolicy, logger *slog.Logger) *Arbitrator {
	return &Arbitrator{
		address: address,
		oracle:  oracle,
		policy:  p,
		logger:  logger.With(slog.String("component", "arbitrator")),
		now:     time.Now,
		cases:   make(map[common.Hash]*Case),
	}
}

// Address is the arbitrator identity registered with the oracle.
func (a *Arbitrator) Address() common.Address { return a.address }

// OnEscalated opens a case. It is installed as the oracle escalation hook.
func (a *Arbitrator) OnEscalated(id common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cases[id]; ok {
		return
	}
	a.cases[id] = &Case{QuestionID: id, EscalatedAt: a.now()}
	a.logger.Info("case opened", slog.String("question", id.Hex()))
}

// AdminRule rules on a question. caller must pass the admin policy. Rulings
// are accepted for escalated and non-escalated questions alike.
func (a *Arbitrator) AdminRule(caller domain.Actor, id common.Hash, outcome []byte, payee common.Address) (domain.Resolution, error) {
	if err := policy.Require(a.policy, caller); err != nil {
		return domain.Resolution{}, fmt.Errorf("arbitrator: admin rule: %w", err)
	}
	res, err := a.oracle.ReceiveArbitratorRuling(a.address, id, outcome, payee)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("arbitrator: admin rule %s: %w", id.Hex(), err)
	}

	a.mu.Lock()
	c, ok := a.cases[id]
	if !ok {
		c = &Case{QuestionID: id}
		a.cases[id] = c
	}
	c.RuledAt = a.now()
	c.RuledBy = caller.Address
	c.Resolution = &res
	a.mu.Unlock()

	a.logger.Info("ruling delivered",
		slog.String("question", id.Hex()),
		slog.String("admin", caller.Address.Hex()),
		slog.String("payee", res.Payee.Hex()),
	)
	return res, nil
}

// Cases lists cases, open ones first, each group oldest first.
func (a *Arbitrator) Cases(openOnly bool) []Case {
	a.mu.Lock()
	out := make([]Case, 0, len(a.cases))
	for _, c := range a.cases {
		if openOnly && c.Resolution != nil {
			continue
		}
		out = append(out, *c)
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Resolution == nil, out[j].Resolution == nil
		if oi != oj {
			return oi
		}
		return out[i].EscalatedAt.Before(out[j].EscalatedAt)
	})
	return out
}
