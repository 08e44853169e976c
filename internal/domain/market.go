package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketType tags the market variant. Values match the on-chain marketType().
type MarketType uint8

const (
	MarketBinary MarketType = iota
	MarketCategorical
	MarketScalar
)

// MarketTypes lists every variant in registry order.
var MarketTypes = []MarketType{MarketBinary, MarketCategorical, MarketScalar}

func (t MarketType) String() string {
	switch t {
	case MarketBinary:
		return "binary"
	case MarketCategorical:
		return "categorical"
	case MarketScalar:
		return "scalar"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseMarketType maps a lowercase variant name to a MarketType.
func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary":
		return MarketBinary, nil
	case "categorical":
		return MarketCategorical, nil
	case "scalar":
		return MarketScalar, nil
	}
	return 0, fmt.Errorf("%w: market type %q", ErrInvalidInput, s)
}

func (t MarketType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *MarketType) UnmarshalText(b []byte) error {
	v, err := ParseMarketType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// QuestionType returns the oracle question type a market of t must bind to.
func (t MarketType) QuestionType() QuestionType {
	switch t {
	case MarketCategorical:
		return QuestionCategorical
	case MarketScalar:
		return QuestionScalar
	default:
		return QuestionBinary
	}
}

// MarketStatus values match the on-chain status() enum.
type MarketStatus uint8

const (
	MarketOpen MarketStatus = iota
	MarketResolved
	MarketCancelled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketOpen:
		return "open"
	case MarketResolved:
		return "resolved"
	case MarketCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s MarketStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *MarketStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "open":
		*s = MarketOpen
	case "resolved":
		*s = MarketResolved
	case "cancelled":
		*s = MarketCancelled
	default:
		return fmt.Errorf("%w: market status %q", ErrInvalidInput, b)
	}
	return nil
}

// Settled reports whether redemption is possible.
func (s MarketStatus) Settled() bool { return s == MarketResolved || s == MarketCancelled }

// BinaryDetail is the YES/NO variant payload.
type BinaryDetail struct {
	YesToken   common.Address `json:"yes_token"`
	NoToken    common.Address `json:"no_token"`
	OutcomeYes bool           `json:"outcome_yes"`
}

// CategoricalDetail is the N-outcome variant payload. Winner is -1 until
// the market resolves.
type CategoricalDetail struct {
	OutcomeNames []string         `json:"outcome_names"`
	Tokens       []common.Address `json:"tokens"`
	Winner       int              `json:"winner"`
}

// ScalarDetail is the LONG/SHORT variant payload. FNumerator is the long
// side payout fraction scaled by 1e18.
type ScalarDetail struct {
	Min           *big.Int       `json:"scalar_min"`
	Max           *big.Int       `json:"scalar_max"`
	Decimals      uint32         `json:"scalar_decimals"`
	LongToken     common.Address `json:"long_token"`
	ShortToken    common.Address `json:"short_token"`
	ResolvedValue *big.Int       `json:"resolved_value,omitempty"`
	FNumerator    *big.Int       `json:"f_numerator,omitempty"`
}

// Market is a settlement contract bound to one oracle question. Exactly one
// of Binary, Categorical or Scalar is set, matching Type.
type Market struct {
	Address          common.Address `json:"address"`
	Type             MarketType     `json:"type"`
	Name             string         `json:"name"`
	Factory          common.Address `json:"factory"`
	Creator          common.Address `json:"creator"`
	Collateral       common.Address `json:"collateral"`
	Oracle           common.Address `json:"oracle"`
	QuestionID       common.Hash    `json:"question_id"`
	Status           MarketStatus   `json:"status"`
	RedeemFeeBps     uint16         `json:"redeem_fee_bps"`
	FeeSink          common.Address `json:"fee_sink"`
	CollateralLocked *big.Int       `json:"collateral_locked"`
	ResolvedAt       time.Time      `json:"resolved_at,omitempty"`
	ResolvedAnswer   []byte         `json:"resolved_answer,omitempty"`
	Removed          bool           `json:"removed"`
	RemovedReason    string         `json:"removed_reason,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`

	Binary      *BinaryDetail      `json:"binary,omitempty"`
	Categorical *CategoricalDetail `json:"categorical,omitempty"`
	Scalar      *ScalarDetail      `json:"scalar,omitempty"`
}

// OutcomeTokens returns every outcome token of the market in index order.
func (m Market) OutcomeTokens() []common.Address {
	switch m.Type {
	case MarketBinary:
		if m.Binary != nil {
			return []common.Address{m.Binary.YesToken, m.Binary.NoToken}
		}
	case MarketCategorical:
		if m.Categorical != nil {
			return append([]common.Address(nil), m.Categorical.Tokens...)
		}
	case MarketScalar:
		if m.Scalar != nil {
			return []common.Address{m.Scalar.LongToken, m.Scalar.ShortToken}
		}
	}
	return nil
}

// OutcomeLabels returns display labels aligned with OutcomeTokens.
func (m Market) OutcomeLabels() []string {
	switch m.Type {
	case MarketBinary:
		return []string{"YES", "NO"}
	case MarketCategorical:
		if m.Categorical != nil {
			return append([]string(nil), m.Categorical.OutcomeNames...)
		}
	case MarketScalar:
		return []string{"LONG", "SHORT"}
	}
	return nil
}

// CheckVariant verifies that the payload matching Type is the only one set.
func (m Market) CheckVariant() error {
	set := 0
	for _, ok := range []bool{m.Binary != nil, m.Categorical != nil, m.Scalar != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: market %s has %d variant payloads", ErrInvalidInput, m.Address.Hex(), set)
	}
	switch m.Type {
	case MarketBinary:
		if m.Binary == nil {
			return fmt.Errorf("%w: binary market without binary payload", ErrInvalidInput)
		}
	case MarketCategorical:
		if m.Categorical == nil {
			return fmt.Errorf("%w: categorical market without categorical payload", ErrInvalidInput)
		}
		if len(m.Categorical.Tokens) != len(m.Categorical.OutcomeNames) {
			return ErrOutcomeCount
		}
	case MarketScalar:
		if m.Scalar == nil {
			return fmt.Errorf("%w: scalar market without scalar payload", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown market type %d", ErrInvalidInput, m.Type)
	}
	return nil
}

// FactoryInfo is the configuration and registry summary of one factory.
type FactoryInfo struct {
	Type                MarketType     `json:"type"`
	Address             common.Address `json:"address"`
	Owner               common.Address `json:"owner"`
	BondToken           common.Address `json:"bond_token"`
	FeeSink             common.Address `json:"fee_sink"`
	CreationFee         *big.Int       `json:"creation_fee"`
	DefaultRedeemFeeBps uint16         `json:"default_redeem_fee_bps"`
	MarketCount         int            `json:"market_count"`
}

// MaxRedeemFeeBps caps per-market redemption fees.
const MaxRedeemFeeBps = 1000

// Position is one account's holding of one outcome token.
type Position struct {
	Market    common.Address `json:"market"`
	Token     common.Address `json:"token"`
	Label     string         `json:"label"`
	Balance   *big.Int       `json:"balance"`
	Claimable *big.Int       `json:"claimable"`
}

// Portfolio is an account's view across every market.
type Portfolio struct {
	Account   common.Address              `json:"account"`
	// Tokens holds collateral and bond token balances keyed by token.
	Tokens    map[common.Address]*big.Int `json:"tokens"`
	Positions []Position                  `json:"positions"`
}
