package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHash32(t *testing.T) {
	h, err := ParseHash32("0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), h[0])
	assert.Equal(t, byte(0x01), h[31])

	for _, bad := range []string{"", "0x", "0x1234", "ab" + "00000000000000000000000000000000000000000000000000000000000001", "0xzz00000000000000000000000000000000000000000000000000000000000000"} {
		_, err := ParseHash32(bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}
}

func TestParseAddress(t *testing.T) {
	want := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

	for _, ok := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		" 0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED ",
	} {
		got, err := ParseAddress(ok)
		require.NoError(t, err, ok)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "0x1234", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestParseUnits(t *testing.T) {
	cases := map[string]string{
		"1":        "1000000000000000000",
		"1.5":      "1500000000000000000",
		"0.000001": "1000000000000",
		".25":      "250000000000000000",
		"-2":       "-2000000000000000000",
		"0":        "0",
	}
	for in, want := range cases {
		got, err := ParseUnits(in, 18)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}

	v, err := ParseUnits("12.34", 6)
	require.NoError(t, err)
	assert.Equal(t, "12340000", v.String())

	for _, bad := range []string{"", "abc", "1.2.3", "1e18", "0.1234567"} {
		_, err := ParseUnits(bad, 6)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
	assert.Equal(t, "0.000001", FormatUnits(big.NewInt(1), 6))
	assert.Equal(t, "20", FormatUnits(big.NewInt(20_000_000), 6))
	assert.Equal(t, "-0.5", FormatUnits(big.NewInt(-500_000), 6))
	assert.Equal(t, "7", FormatUnits(big.NewInt(7), 0))
	assert.Equal(t, "0", FormatUnits(nil, 18))
}

func TestShortAddress(t *testing.T) {
	a := common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	assert.Equal(t, "0x5aAe…eAed", ShortAddress(a))
}
