package notify

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// Formatter renders events as human-readable alerts.
type Formatter struct {
	// ExplorerURL, when set, links transaction hashes.
	ExplorerURL string
	// BondDecimals scales bond and collateral amounts.
	BondDecimals uint8
	BondSymbol   string
}

var titles = map[domain.EventKind]string{
	domain.EventQuestionCreated:    "Question created",
	domain.EventCommitted:          "Answer committed",
	domain.EventRecommitted:        "Answer recommitted",
	domain.EventRevealed:           "Answer revealed",
	domain.EventQuestionFinalized:  "Question finalized",
	domain.EventEscalated:          "Question escalated",
	domain.EventArbitrated:         "Arbitrator ruling",
	domain.EventMarketCreated:      "Market created",
	domain.EventMarketRegistered:   "Market registered",
	domain.EventListingRemoved:     "Listing removed",
	domain.EventListingRestored:    "Listing restored",
	domain.EventDefaultFeeUpdated:  "Default redeem fee updated",
	domain.EventSplit:              "Collateral split",
	domain.EventMerge:              "Sets merged",
	domain.EventMarketFinalized:    "Market resolved",
	domain.EventMarketCancelled:    "Market cancelled",
	domain.EventRedeemed:           "Winnings redeemed",
	domain.EventOracleParamUpdated: "Oracle parameter updated",
}

// Event renders e.
func (f Formatter) Event(e domain.Event) Alert {
	title, ok := titles[e.Kind]
	if !ok {
		title = string(e.Kind)
	}

	var lines []string
	if e.QuestionID != (common.Hash{}) {
		lines = append(lines, "question: "+e.QuestionID.Hex())
	}
	if e.Market != (common.Address{}) {
		lines = append(lines, "market: "+e.Market.Hex())
	}
	if e.Actor != (common.Address{}) {
		lines = append(lines, "by: "+domain.ShortAddress(e.Actor))
	}
	if e.Amount != nil && e.Amount.Sign() > 0 {
		amt := domain.FormatUnits(e.Amount, f.BondDecimals)
		if f.BondSymbol != "" {
			amt += " " + f.BondSymbol
		}
		lines = append(lines, "amount: "+amt)
	}
	for _, k := range []string{"name", "outcome", "round", "method", "reason", "param"} {
		if v := e.Attrs[k]; v != "" {
			lines = append(lines, k+": "+v)
		}
	}
	if e.TxHash != (common.Hash{}) {
		if f.ExplorerURL != "" {
			lines = append(lines, fmt.Sprintf("tx: %s/tx/%s", strings.TrimRight(f.ExplorerURL, "/"), e.TxHash.Hex()))
		} else {
			lines = append(lines, "tx: "+e.TxHash.Hex())
		}
	}

	ev := e
	return Alert{Kind: string(e.Kind), Title: title, Text: strings.Join(lines, "\n"), Event: &ev}
}
