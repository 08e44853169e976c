package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
)

// Allowlist grants admin rights to a fixed set of addresses supplied by
// configuration.
type Allowlist struct {
	admins map[common.Address]struct{}
}

// NewAllowlist parses hex addresses. An empty list yields a policy that
// grants nothing.
func NewAllowlist(addrs []string) (*Allowlist, error) {
	a := &Allowlist{admins: make(map[common.Address]struct{}, len(addrs))}
	for _, s := range addrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("policy: admin %q: %w", s, domain.ErrInvalidAddress)
		}
		a.admins[common.HexToAddress(s)] = struct{}{}
	}
	return a, nil
}

// IsAdmin reports whether addr is on the list. Comparison is on the decoded
// address, so checksum casing does not matter.
func (a *Allowlist) IsAdmin(addr common.Address) bool {
	if a == nil || addr == (common.Address{}) {
		return false
	}
	_, ok := a.admins[addr]
	return ok
}

// Admins returns the configured addresses in sorted order.
func (a *Allowlist) Admins() []common.Address {
	out := make([]common.Address, 0, len(a.admins))
	for addr := range a.admins {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Require returns ErrUnauthorized unless actor passes p.
func Require(p domain.AdminPolicy, actor domain.Actor) error {
	if !actor.Connected() {
		return domain.ErrNoWallet
	}
	if p == nil || !p.IsAdmin(actor.Address) {
		return fmt.Errorf("%s: %w", actor.Address.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

var _ domain.AdminPolicy = (*Allowlist)(nil)
