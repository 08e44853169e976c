// Package ledger is an in-process ERC20 ledger covering collateral, bond
// and outcome tokens. Every mutating call either applies fully or not at all.
package ledger

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// TokenInfo is the ERC20 metadata of a registered token.
type TokenInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Name     string         `json:"name"`
	Decimals uint8          `json:"decimals"`
}

type token struct {
	info       TokenInfo
	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// Ledger holds balances and allowances of every registered token.
type Ledger struct {
	mu     sync.RWMutex
	tokens map[common.Address]*token
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{tokens: make(map[common.Address]*token)}
}

// Register adds a token. Registering an existing address is an error.
func (l *Ledger) Register(info TokenInfo) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tokens[info.Address]; ok {
		return fmt.Errorf("ledger: register %s: %w", info.Address.Hex(), domain.ErrAlreadyExists)
	}
	l.tokens[info.Address] = &token{
		info:       info,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	return nil
}

// Token returns the metadata of a registered token.
func (l *Ledger) Token(addr common.Address) (TokenInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[addr]
	if !ok {
		return TokenInfo{}, fmt.Errorf("ledger: token %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return t.info, nil
}

// Tokens lists registered tokens ordered by address.
func (l *Ledger) Tokens() []TokenInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]TokenInfo, 0, len(l.tokens))
	for _, t := range l.tokens {
		out = append(out, t.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

// BalanceOf returns the balance of account. Unknown tokens report zero.
func (l *Ledger) BalanceOf(tok, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[tok]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(t.balance(account))
}

// TotalSupply returns the minted minus burned amount of tok.
func (l *Ledger) TotalSupply(tok common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[tok]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(t.supply)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(tok, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tokens[tok]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(t.allowance(owner, spender))
}

// Approve sets the allowance of spender over owner's balance.
func (l *Ledger) Approve(tok, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: approve: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.lookup(tok)
	if err != nil {
		return err
	}
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(tok, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: transfer: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.lookup(tok)
	if err != nil {
		return err
	}
	return t.move(from, to, amount)
}

// TransferFrom moves amount from owner to to, spending spender's allowance.
// An allowance of uint256 max is never decreased.
func (l *Ledger) TransferFrom(tok, spender, owner, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: transferFrom: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.lookup(tok)
	if err != nil {
		return err
	}
	allowed := t.allowance(owner, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transferFrom %s: %w: have %s, need %s",
			t.info.Symbol, domain.ErrInsufficientAllow, allowed, amount)
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	if allowed.Cmp(domain.MaxUint256) != 0 {
		t.allowances[owner][spender] = new(big.Int).Sub(allowed, amount)
	}
	return nil
}

// Mint creates amount of tok for to.
func (l *Ledger) Mint(tok, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: mint: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	t, err := l.lookup(tok)
	if err != nil {
		return err
	}
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	t.supply = new(big.Int).Add(t.supply, amount)
	return nil
}

// MintSet mints amount of every token in toks for to.
func (l *Ledger) MintSet(toks []common.Address, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: mint set: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make([]*token, 0, len(toks))
	for _, addr := range toks {
		t, err := l.lookup(addr)
		if err != nil {
			return err
		}
		set = append(set, t)
	}
	for _, t := range set {
		t.balances[to] = new(big.Int).Add(t.balance(to), amount)
		t.supply = new(big.Int).Add(t.supply, amount)
	}
	return nil
}

// Burn destroys amount of tok held by from.
func (l *Ledger) Burn(tok, from common.Address, amount *big.Int) error {
	return l.BurnSet([]common.Address{tok}, from, amount)
}

// BurnSet burns amount of every token in toks from one holder. Balances are
// checked for all tokens before any is burned.
func (l *Ledger) BurnSet(toks []common.Address, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: burn: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	set := make([]*token, 0, len(toks))
	for _, addr := range toks {
		t, err := l.lookup(addr)
		if err != nil {
			return err
		}
		if bal := t.balance(from); bal.Cmp(amount) < 0 {
			return fmt.Errorf("ledger: burn %s: %w: have %s, need %s",
				t.info.Symbol, domain.ErrInsufficientBalance, bal, amount)
		}
		set = append(set, t)
	}
	for _, t := range set {
		t.balances[from] = new(big.Int).Sub(t.balance(from), amount)
		t.supply = new(big.Int).Sub(t.supply, amount)
	}
	return nil
}

func (l *Ledger) lookup(addr common.Address) (*token, error) {
	t, ok := l.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("ledger: token %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return t, nil
}

func (t *token) balance(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (t *token) allowance(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

func (t *token) move(from, to common.Address, amount *big.Int) error {
	bal := t.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer %s: %w: have %s, need %s",
			t.info.Symbol, domain.ErrInsufficientBalance, bal, amount)
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	t.balances[to] = new(big.Int).Add(t.balance(to), amount)
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}
