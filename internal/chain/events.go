package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/insightra/internal/domain"
)

type logSource int

const (
	fromOracle logSource = iota
	fromFactory
	fromMarket
)

type logSpec struct {
	contract abi.ABI
	name     string
	source   logSource
	kind     domain.EventKind
}

var logSpecs = map[common.Hash]logSpec{}

func init() {
	for _, s := range []logSpec{
		{Oracle, "QuestionCreated", fromOracle, domain.EventQuestionCreated},
		{Factory, "MarketRegistered", fromFactory, domain.EventMarketRegistered},
		{Factory, "ListingRemoved", fromFactory, domain.EventListingRemoved},
		{Factory, "ListingRestored", fromFactory, domain.EventListingRestored},
		{Factory, "DefaultRedeemFeeUpdated", fromFactory, domain.EventDefaultFeeUpdated},
		{Factory, "BinaryCreated", fromFactory, domain.EventMarketCreated},
		{Factory, "CategoricalCreated", fromFactory, domain.EventMarketCreated},
		{Factory, "ScalarCreated", fromFactory, domain.EventMarketCreated},
		{Market, "Split", fromMarket, domain.EventSplit},
		{Market, "Merge", fromMarket, domain.EventMerge},
		{Market, "Finalized", fromMarket, domain.EventMarketFinalized},
		{Market, "Redeemed", fromMarket, domain.EventRedeemed},
		{Market, "Cancelled", fromMarket, domain.EventMarketCancelled},
	} {
		logSpecs[s.contract.Events[s.name].ID] = s
	}
}

// ErrUnknownLog is returned for logs the decoder does not recognise.
var ErrUnknownLog = errors.New("chain: unknown log")

// Topics returns every event signature the decoder understands, for use as
// the first topic filter of a log query.
func Topics() []common.Hash {
	out := make([]common.Hash, 0, len(logSpecs))
	for id := range logSpecs {
		out = append(out, id)
	}
	return out
}

// DecodeLog converts a protocol log into a domain event. at is the block
// time; the event id is derived from the tx hash and log index so replays
// are idempotent.
func DecodeLog(l types.Log, at time.Time) (domain.Event, error) {
	if len(l.Topics) == 0 {
		return domain.Event{}, ErrUnknownLog
	}
	spec, ok := logSpecs[l.Topics[0]]
	if !ok {
		return domain.Event{}, ErrUnknownLog
	}
	fields := map[string]any{}
	if err := spec.contract.UnpackIntoMap(fields, spec.name, l.Data); err != nil {
		return domain.Event{}, fmt.Errorf("chain: decode %s: %w", spec.name, err)
	}

	ev := domain.Event{
		ID:       l.TxHash.Hex() + ":" + strconv.FormatUint(uint64(l.Index), 10),
		Kind:     spec.kind,
		Attrs:    map[string]string{"event": spec.name},
		TxHash:   l.TxHash,
		Block:    l.BlockNumber,
		LogIndex: l.Index,
		At:       at,
	}
	topic := func(i int) common.Hash {
		if i < len(l.Topics) {
			return l.Topics[i]
		}
		return common.Hash{}
	}

	switch spec.source {
	case fromOracle:
		ev.QuestionID = topic(1)
		ev.Attrs["oracle"] = l.Address.Hex()
		if raw, ok := fields["params"]; ok {
			t, ok := abi.ConvertType(raw, new(QuestionParamsTuple)).(*QuestionParamsTuple)
			if ok {
				p := t.Params()
				ev.Attrs["type"] = p.Type.String()
				ev.Attrs["options"] = strconv.FormatUint(uint64(p.Options), 10)
				ev.Attrs["data_source"] = p.DataSource
			}
		}
	case fromFactory:
		ev.Attrs["factory"] = l.Address.Hex()
		switch spec.name {
		case "BinaryCreated", "CategoricalCreated", "ScalarCreated":
			ev.Market, _ = fields["market"].(common.Address)
			if qid, ok := fields["questionId"].([32]byte); ok {
				ev.QuestionID = qid
			}
		case "DefaultRedeemFeeUpdated":
			ev.Amount, _ = fields["bps"].(*big.Int)
		default:
			ev.Market = common.BytesToAddress(topic(1).Bytes())
			if reason, ok := fields["reason"].(string); ok {
				ev.Attrs["reason"] = reason
			}
		}
	case fromMarket:
		ev.Market = l.Address
		switch spec.name {
		case "Split":
			ev.Actor = common.BytesToAddress(topic(1).Bytes())
			ev.Amount, _ = fields["collateralIn"].(*big.Int)
		case "Merge":
			ev.Actor = common.BytesToAddress(topic(1).Bytes())
			ev.Amount, _ = fields["setsBurned"].(*big.Int)
		case "Redeemed":
			ev.Actor = common.BytesToAddress(topic(1).Bytes())
			ev.Amount, _ = fields["collateralOut"].(*big.Int)
			if meta, ok := fields["meta"].([]byte); ok && len(meta) > 0 {
				ev.Attrs["meta"] = hexutil.Encode(meta)
			}
		case "Finalized":
			ev.QuestionID = topic(1)
			if out, ok := fields["encodedOutcome"].([]byte); ok {
				ev.Attrs["outcome"] = hexutil.Encode(out)
			}
		case "Cancelled":
			ev.QuestionID = topic(1)
		}
	}
	return ev, nil
}

// QuestionIDFromReceipt finds the id emitted by oracle's QuestionCreated log.
func QuestionIDFromReceipt(r *types.Receipt, oracle common.Address) (common.Hash, error) {
	id := Oracle.Events["QuestionCreated"].ID
	for _, l := range r.Logs {
		if l.Address == oracle && len(l.Topics) > 1 && l.Topics[0] == id {
			return l.Topics[1], nil
		}
	}
	return common.Hash{}, fmt.Errorf("chain: no QuestionCreated log in %s: %w", r.TxHash.Hex(), domain.ErrNotFound)
}

// MarketFromReceipt finds the market address emitted by factory's typed
// *Created log.
func MarketFromReceipt(r *types.Receipt, factory common.Address) (common.Address, error) {
	for _, l := range r.Logs {
		if l.Address != factory {
			continue
		}
		ev, err := DecodeLog(*l, time.Time{})
		if err != nil || ev.Kind != domain.EventMarketCreated {
			continue
		}
		return ev.Market, nil
	}
	return common.Address{}, fmt.Errorf("chain: no market created log in %s: %w", r.TxHash.Hex(), domain.ErrNotFound)
}
