package policy

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
)

func TestAllowlistIgnoresCase(t *testing.T) {
	p, err := NewAllowlist([]string{"0xa0c5048c32870bb66d0be861643cd6bb5f66ada2", " "})
	require.NoError(t, err)

	assert.True(t, p.IsAdmin(common.HexToAddress("0xA0c5048c32870bB66d0BE861643cD6Bb5F66Ada2")))
	assert.False(t, p.IsAdmin(common.HexToAddress("0x01")))
	assert.False(t, p.IsAdmin(common.Address{}))
	assert.Len(t, p.Admins(), 1)
}

func TestAllowlistRejectsMalformed(t *testing.T) {
	_, err := NewAllowlist([]string{"not-an-address"})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
}

func TestRequire(t *testing.T) {
	admin := common.HexToAddress("0x0a")
	p, err := NewAllowlist([]string{admin.Hex()})
	require.NoError(t, err)

	assert.ErrorIs(t, Require(p, domain.Actor{}), domain.ErrNoWallet)
	assert.ErrorIs(t, Require(p, domain.Actor{Address: common.HexToAddress("0x0b")}), domain.ErrUnauthorized)
	assert.NoError(t, Require(p, domain.Actor{Address: admin}))

	empty, err := NewAllowlist(nil)
	require.NoError(t, err)
	assert.ErrorIs(t, Require(empty, domain.Actor{Address: admin}), domain.ErrUnauthorized)
}
