package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a protocol event.
type EventKind string

const (
	EventQuestionCreated   EventKind = "question.created"
	EventCommitted         EventKind = "question.committed"
	EventRecommitted       EventKind = "question.recommitted"
	EventRevealed          EventKind = "question.revealed"
	EventQuestionFinalized EventKind = "question.finalized"
	EventEscalated         EventKind = "question.escalated"
	EventArbitrated        EventKind = "question.arbitrated"

	EventMarketCreated      EventKind = "market.created"
	EventMarketRegistered   EventKind = "market.registered"
	EventListingRemoved     EventKind = "market.listing_removed"
	EventListingRestored    EventKind = "market.listing_restored"
	EventDefaultFeeUpdated  EventKind = "market.default_fee_updated"
	EventSplit              EventKind = "market.split"
	EventMerge              EventKind = "market.merge"
	EventMarketFinalized    EventKind = "market.finalized"
	EventMarketCancelled    EventKind = "market.cancelled"
	EventRedeemed           EventKind = "market.redeemed"
	EventOracleParamUpdated EventKind = "oracle.param_updated"
)

// Event is a protocol state change. Engines and the chain log decoder both
// produce them; the dispatcher fans them out.
type Event struct {
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	QuestionID common.Hash       `json:"question_id,omitempty"`
	Market     common.Address    `json:"market,omitempty"`
	Actor      common.Address    `json:"actor,omitempty"`
	Amount     *big.Int          `json:"amount,omitempty"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	TxHash     common.Hash       `json:"tx_hash,omitempty"`
	Block      uint64            `json:"block,omitempty"`
	LogIndex   uint              `json:"log_index,omitempty"`
	At         time.Time         `json:"at"`
}

// Channel is the pub/sub channel an event is published to.
func (e Event) Channel() string { return "events:" + string(e.Kind) }

// EventSink receives events from the protocol engines. Emit must not block.
type EventSink interface {
	Emit(e Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }

// DiscardEvents drops every event.
var DiscardEvents EventSink = EventSinkFunc(func(Event) {})
