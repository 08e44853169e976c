package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuestionType is the answer shape of an oracle question. The numeric values
// match the qtype field of the on-chain QuestionParams tuple.
type QuestionType uint8

const (
	QuestionBinary QuestionType = iota
	QuestionCategorical
	QuestionScalar
)

func (t QuestionType) String() string {
	switch t {
	case QuestionBinary:
		return "binary"
	case QuestionCategorical:
		return "categorical"
	case QuestionScalar:
		return "scalar"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseQuestionType maps "binary", "categorical" or "scalar" to a QuestionType.
func ParseQuestionType(s string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary":
		return QuestionBinary, nil
	case "categorical":
		return QuestionCategorical, nil
	case "scalar":
		return QuestionScalar, nil
	}
	return 0, fmt.Errorf("%w: question type %q", ErrInvalidInput, s)
}

func (t QuestionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *QuestionType) UnmarshalText(b []byte) error {
	v, err := ParseQuestionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MaxCategoricalOptions bounds categorical questions to what a uint8 outcome
// index can address.
const MaxCategoricalOptions = 255

// QuestionParams are the immutable creation parameters of a question.
type QuestionParams struct {
	Type           QuestionType   `json:"type"`
	Options        uint32         `json:"options"`
	ScalarMin      *big.Int       `json:"scalar_min,omitempty"`
	ScalarMax      *big.Int       `json:"scalar_max,omitempty"`
	ScalarDecimals uint32         `json:"scalar_decimals"`
	Timeout        time.Duration  `json:"timeout"`
	BondMultiplier uint8          `json:"bond_multiplier"`
	MaxRounds      uint8          `json:"max_rounds"`
	TemplateHash   common.Hash    `json:"template_hash"`
	DataSource     string         `json:"data_source"`
	Consumer       common.Address `json:"consumer"`
	OpeningTs      time.Time      `json:"opening_ts"`
}

// Validate checks the shape constraints of a question before creation.
func (p QuestionParams) Validate() error {
	var errs []string
	switch p.Type {
	case QuestionBinary:
		if p.Options != 2 {
			errs = append(errs, "binary questions require exactly 2 options")
		}
	case QuestionCategorical:
		if p.Options < 2 || p.Options > MaxCategoricalOptions {
			errs = append(errs, fmt.Sprintf("categorical options must be in [2, %d]", MaxCategoricalOptions))
		}
	case QuestionScalar:
		if p.ScalarMin == nil || p.ScalarMax == nil || p.ScalarMin.Cmp(p.ScalarMax) >= 0 {
			errs = append(errs, "scalar questions require scalar_min < scalar_max")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown question type %d", p.Type))
	}
	if p.Timeout < time.Second {
		errs = append(errs, "timeout must be at least one second")
	}
	if p.BondMultiplier < 1 {
		errs = append(errs, "bond_multiplier must be >= 1")
	}
	if p.MaxRounds < 1 {
		errs = append(errs, "max_rounds must be >= 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(errs, "; "))
	}
	return nil
}

// QuestionState is the lifecycle state of a question, derived from its
// stored fields and the current time.
type QuestionState string

const (
	StateCreated         QuestionState = "created"
	StateCommitted       QuestionState = "committed"
	StateRevealed        QuestionState = "revealed"
	StateChallenged      QuestionState = "challenged"
	StateLivenessExpired QuestionState = "liveness_expired"
	StateEscalated       QuestionState = "escalated"
	StateFinalized       QuestionState = "finalized"
)

// Reveal is an accepted answer together with the bond backing it.
type Reveal struct {
	Reporter   common.Address `json:"reporter"`
	Outcome    []byte         `json:"outcome"`
	Bond       *big.Int       `json:"bond"`
	Round      uint8          `json:"round"`
	RevealedAt time.Time      `json:"revealed_at"`
}

// ResolutionMethod records how a question reached its terminal outcome.
type ResolutionMethod string

const (
	ResolvedByLiveness   ResolutionMethod = "liveness"
	ResolvedByArbitrator ResolutionMethod = "arbitrator"
)

// Resolution is the terminal outcome of a question.
type Resolution struct {
	Outcome     []byte           `json:"outcome"`
	Payee       common.Address   `json:"payee"`
	Payout      *big.Int         `json:"payout"`
	Fee         *big.Int         `json:"fee"`
	Method      ResolutionMethod `json:"method"`
	FinalizedAt time.Time        `json:"finalized_at"`
}

// Question is a point-in-time snapshot of an oracle question.
type Question struct {
	ID           common.Hash    `json:"id"`
	Creator      common.Address `json:"creator"`
	Params       QuestionParams `json:"params"`
	CreatedAt    time.Time      `json:"created_at"`
	Round        uint8          `json:"round"`
	Leader       *Reveal        `json:"leader,omitempty"`
	History      []Reveal       `json:"history,omitempty"`
	PendingCount int            `json:"pending_commitments"`
	BondPool     *big.Int       `json:"bond_pool"`
	Deadline     time.Time      `json:"deadline,omitempty"`
	Escalated    bool           `json:"escalated"`
	EscalatedAt  time.Time      `json:"escalated_at,omitempty"`
	Resolution   *Resolution    `json:"resolution,omitempty"`
}

// State derives the lifecycle state at now.
func (q Question) State(now time.Time) QuestionState {
	switch {
	case q.Resolution != nil:
		return StateFinalized
	case q.Escalated:
		return StateEscalated
	case q.Leader == nil && q.PendingCount > 0:
		return StateCommitted
	case q.Leader == nil:
		return StateCreated
	case !now.Before(q.Deadline):
		return StateLivenessExpired
	case q.Round > 1:
		return StateChallenged
	default:
		return StateRevealed
	}
}

// Finalized reports whether the question has a terminal outcome.
func (q Question) Finalized() bool { return q.Resolution != nil }

// QuestionFilter narrows question listings.
type QuestionFilter struct {
	States  []QuestionState
	Creator common.Address
	Limit   int
	Offset  int
}

// Match reports whether q passes the filter at now. Pagination is ignored.
func (f QuestionFilter) Match(q Question, now time.Time) bool {
	if f.Creator != (common.Address{}) && f.Creator != q.Creator {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	st := q.State(now)
	for _, s := range f.States {
		if s == st {
			return true
		}
	}
	return false
}

// RevealSecret is the locally remembered preimage of a commitment, held
// until the reporter reveals.
type RevealSecret struct {
	QuestionID common.Hash    `json:"question_id"`
	Reporter   common.Address `json:"reporter"`
	Outcome    []byte         `json:"outcome"`
	Salt       common.Hash    `json:"salt"`
	Commitment common.Hash    `json:"commitment"`
	CreatedAt  time.Time      `json:"created_at"`
}
