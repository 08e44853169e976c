package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeIndexRoundTrip(t *testing.T) {
	b := EncodeIndex(OutcomeYes)
	require.Len(t, b, 32)

	idx, err := DecodeIndex(b)
	require.NoError(t, err)
	assert.EqualValues(t, OutcomeYes, idx)
	assert.Equal(t, "YES", DescribeOutcome(QuestionBinary, b))
}

func TestScalarInvalidDoesNotCollideWithMinusOne(t *testing.T) {
	minusOne, err := EncodeScalar(big.NewInt(-1))
	require.NoError(t, err)

	assert.False(t, IsInvalidOutcome(QuestionScalar, minusOne))
	assert.True(t, IsInvalidOutcome(QuestionScalar, EncodeInvalid(QuestionScalar)))
	assert.True(t, IsInvalidOutcome(QuestionBinary, EncodeInvalid(QuestionBinary)))

	v, err := DecodeScalar(minusOne)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v.Int64())
}

func TestValidateOutcome(t *testing.T) {
	binary := QuestionParams{Type: QuestionBinary, Options: 2}
	assert.NoError(t, ValidateOutcome(binary, EncodeIndex(OutcomeNo)))
	assert.NoError(t, ValidateOutcome(binary, EncodeInvalid(QuestionBinary)))
	assert.ErrorIs(t, ValidateOutcome(binary, EncodeIndex(2)), ErrInvalidOutcome)
	assert.ErrorIs(t, ValidateOutcome(binary, []byte{1, 2, 3}), ErrInvalidOutcome)

	scalar := QuestionParams{Type: QuestionScalar, ScalarMin: big.NewInt(0), ScalarMax: big.NewInt(100)}
	in, _ := EncodeScalar(big.NewInt(55))
	out, _ := EncodeScalar(big.NewInt(101))
	assert.NoError(t, ValidateOutcome(scalar, in))
	assert.ErrorIs(t, ValidateOutcome(scalar, out), ErrInvalidOutcome)
}

func TestQuestionParamsValidate(t *testing.T) {
	base := QuestionParams{Type: QuestionBinary, Options: 2, Timeout: time.Hour, BondMultiplier: 2, MaxRounds: 5}
	require.NoError(t, base.Validate())

	bad := base
	bad.Options = 3
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParams)

	bad = base
	bad.BondMultiplier = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidParams)

	scalar := base
	scalar.Type = QuestionScalar
	scalar.ScalarMin = big.NewInt(10)
	scalar.ScalarMax = big.NewInt(10)
	assert.ErrorIs(t, scalar.Validate(), ErrInvalidParams)
}

func TestQuestionState(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	q := Question{}
	assert.Equal(t, StateCreated, q.State(now))

	q.PendingCount = 1
	assert.Equal(t, StateCommitted, q.State(now))

	q.Leader = &Reveal{Bond: big.NewInt(10)}
	q.Round = 1
	q.Deadline = now.Add(time.Minute)
	assert.Equal(t, StateRevealed, q.State(now))

	q.Round = 2
	assert.Equal(t, StateChallenged, q.State(now))
	assert.Equal(t, StateLivenessExpired, q.State(now.Add(time.Minute)))

	q.Escalated = true
	assert.Equal(t, StateEscalated, q.State(now))

	q.Resolution = &Resolution{}
	assert.Equal(t, StateFinalized, q.State(now))
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryConnection, Category(ErrNoWallet))
	assert.Equal(t, CategoryAuthorization, Category(ErrUnauthorized))
	assert.Equal(t, CategoryValidation, Category(ErrOutcomeCount))
	assert.Equal(t, CategoryTransaction, Category(ErrBondTooLow))
	assert.Equal(t, CategoryNotFound, Category(ErrNotFound))
}

func TestParseOutcome(t *testing.T) {
	b, err := ParseOutcome(QuestionBinary, " YES ")
	require.NoError(t, err)
	assert.Equal(t, EncodeIndex(OutcomeYes), b)

	b, err = ParseOutcome(QuestionCategorical, "3")
	require.NoError(t, err)
	assert.Equal(t, EncodeIndex(3), b)

	b, err = ParseOutcome(QuestionScalar, "-42")
	require.NoError(t, err)
	v, err := DecodeScalar(b)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), v.Int64())

	b, err = ParseOutcome(QuestionScalar, "invalid")
	require.NoError(t, err)
	assert.True(t, IsInvalidOutcome(QuestionScalar, b))

	_, err = ParseOutcome(QuestionCategorical, "yes")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	_, err = ParseOutcome(QuestionBinary, "")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	_, err = ParseOutcome(QuestionBinary, "0x1234")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}
