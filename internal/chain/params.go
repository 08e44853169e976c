package chain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// QuestionParamsTuple mirrors the oracle's params struct for abi packing.
// Field names follow abi.ToCamelCase of the component names.
type QuestionParamsTuple struct {
	Qtype          uint8
	Options        uint32
	ScalarMin      *big.Int
	ScalarMax      *big.Int
	ScalarDecimals uint32
	Timeout        uint32
	BondMultiplier uint8
	MaxRounds      uint8
	TemplateHash   [32]byte
	DataSource     string
	Consumer       common.Address
	OpeningTs      uint64
}

// TupleFromParams converts domain params into their on-chain form.
// Non-scalar questions carry zero bounds.
func TupleFromParams(p domain.QuestionParams) QuestionParamsTuple {
	t := QuestionParamsTuple{
		Qtype:          uint8(p.Type),
		Options:        p.Options,
		ScalarMin:      new(big.Int),
		ScalarMax:      new(big.Int),
		ScalarDecimals: p.ScalarDecimals,
		Timeout:        uint32(p.Timeout / time.Second),
		BondMultiplier: p.BondMultiplier,
		MaxRounds:      p.MaxRounds,
		TemplateHash:   p.TemplateHash,
		DataSource:     p.DataSource,
		Consumer:       p.Consumer,
	}
	if p.ScalarMin != nil {
		t.ScalarMin.Set(p.ScalarMin)
	}
	if p.ScalarMax != nil {
		t.ScalarMax.Set(p.ScalarMax)
	}
	if !p.OpeningTs.IsZero() {
		t.OpeningTs = uint64(p.OpeningTs.Unix())
	}
	return t
}

// Params converts the tuple back into domain params.
func (t QuestionParamsTuple) Params() domain.QuestionParams {
	p := domain.QuestionParams{
		Type:           domain.QuestionType(t.Qtype),
		Options:        t.Options,
		ScalarDecimals: t.ScalarDecimals,
		Timeout:        time.Duration(t.Timeout) * time.Second,
		BondMultiplier: t.BondMultiplier,
		MaxRounds:      t.MaxRounds,
		TemplateHash:   common.Hash(t.TemplateHash),
		DataSource:     t.DataSource,
		Consumer:       t.Consumer,
	}
	if p.Type == domain.QuestionScalar {
		p.ScalarMin = new(big.Int).Set(t.ScalarMin)
		p.ScalarMax = new(big.Int).Set(t.ScalarMax)
	}
	if t.OpeningTs > 0 {
		p.OpeningTs = time.Unix(int64(t.OpeningTs), 0).UTC()
	}
	return p
}
