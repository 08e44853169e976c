package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxStage is the lifecycle stage of a submitted transaction.
type TxStage string

const (
	TxPending   TxStage = "pending"
	TxConfirmed TxStage = "confirmed"
	TxReverted  TxStage = "reverted"
)

// Terminal reports whether the stage will not change again.
func (s TxStage) Terminal() bool { return s == TxConfirmed || s == TxReverted }

// TxRecord tracks one transaction from submission to receipt.
type TxRecord struct {
	ID          string         `json:"id"`
	Hash        common.Hash    `json:"hash"`
	Method      string         `json:"method"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Nonce       uint64         `json:"nonce"`
	Stage       TxStage        `json:"stage"`
	Block       uint64         `json:"block,omitempty"`
	GasUsed     uint64         `json:"gas_used,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Actor identifies the caller of an operation. It is always passed
// explicitly; nothing reads a global signer.
type Actor struct {
	Address common.Address `json:"address"`
	ChainID uint64         `json:"chain_id"`
}

// Connected reports whether the actor carries an address.
func (a Actor) Connected() bool { return a.Address != (common.Address{}) }

// AdminPolicy decides whether an address may use privileged operations.
type AdminPolicy interface {
	IsAdmin(addr common.Address) bool
}
