package domain

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Outcomes are ABI encoded the same way the oracle contract expects them:
// index-style answers as a single uint256 word, scalar answers as a single
// int256 word.

var (
	uint256Args abi.Arguments
	int256Args  abi.Arguments

	// invalidIndexWord is uint256 max, the cancel answer for binary and
	// categorical questions.
	invalidIndexWord = bytes.Repeat([]byte{0xff}, 32)

	// invalidScalarWord is int256 min. uint256 max would collide with -1.
	invalidScalarWord = append([]byte{0x80}, make([]byte, 31)...)
)

func init() {
	u, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	i, err := abi.NewType("int256", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Args = abi.Arguments{{Type: u}}
	int256Args = abi.Arguments{{Type: i}}
}

// Binary answers.
const (
	OutcomeNo  = 0
	OutcomeYes = 1
)

// EncodeIndex encodes a binary or categorical answer.
func EncodeIndex(idx uint64) []byte {
	out, _ := uint256Args.Pack(new(big.Int).SetUint64(idx))
	return out
}

// EncodeScalar encodes a scalar answer.
func EncodeScalar(v *big.Int) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil scalar", ErrInvalidOutcome)
	}
	out, err := int256Args.Pack(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	return out, nil
}

// EncodeInvalid returns the cancel answer for the question type.
func EncodeInvalid(t QuestionType) []byte {
	if t == QuestionScalar {
		return bytes.Clone(invalidScalarWord)
	}
	return bytes.Clone(invalidIndexWord)
}

// IsInvalidOutcome reports whether b is the cancel answer for t.
func IsInvalidOutcome(t QuestionType, b []byte) bool {
	if t == QuestionScalar {
		return bytes.Equal(b, invalidScalarWord)
	}
	return bytes.Equal(b, invalidIndexWord)
}

// DecodeIndex decodes an index-style answer.
func DecodeIndex(b []byte) (uint64, error) {
	vals, err := uint256Args.Unpack(b)
	if err != nil || len(vals) != 1 || len(b) != 32 {
		return 0, fmt.Errorf("%w: expected one uint256 word", ErrInvalidOutcome)
	}
	v := vals[0].(*big.Int)
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: index out of range", ErrInvalidOutcome)
	}
	return v.Uint64(), nil
}

// DecodeScalar decodes a scalar answer.
func DecodeScalar(b []byte) (*big.Int, error) {
	vals, err := int256Args.Unpack(b)
	if err != nil || len(vals) != 1 || len(b) != 32 {
		return nil, fmt.Errorf("%w: expected one int256 word", ErrInvalidOutcome)
	}
	return vals[0].(*big.Int), nil
}

// ValidateOutcome checks that b is a well-formed answer for params, either a
// value inside the answer space or the cancel answer.
func ValidateOutcome(p QuestionParams, b []byte) error {
	if IsInvalidOutcome(p.Type, b) {
		return nil
	}
	switch p.Type {
	case QuestionBinary, QuestionCategorical:
		idx, err := DecodeIndex(b)
		if err != nil {
			return err
		}
		if idx >= uint64(p.Options) {
			return fmt.Errorf("%w: index %d outside %d options", ErrInvalidOutcome, idx, p.Options)
		}
	case QuestionScalar:
		v, err := DecodeScalar(b)
		if err != nil {
			return err
		}
		if v.Cmp(p.ScalarMin) < 0 || v.Cmp(p.ScalarMax) > 0 {
			return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidOutcome, v, p.ScalarMin, p.ScalarMax)
		}
	default:
		return fmt.Errorf("%w: unknown question type", ErrInvalidOutcome)
	}
	return nil
}

// DescribeOutcome renders an answer for logs and notifications.
func DescribeOutcome(t QuestionType, b []byte) string {
	if IsInvalidOutcome(t, b) {
		return "INVALID"
	}
	switch t {
	case QuestionBinary:
		idx, err := DecodeIndex(b)
		if err != nil {
			break
		}
		if idx == OutcomeYes {
			return "YES"
		}
		if idx == OutcomeNo {
			return "NO"
		}
		return fmt.Sprintf("index %d", idx)
	case QuestionCategorical:
		if idx, err := DecodeIndex(b); err == nil {
			return fmt.Sprintf("option %d", idx)
		}
	case QuestionScalar:
		if v, err := DecodeScalar(b); err == nil {
			return v.String()
		}
	}
	return fmt.Sprintf("0x%x", b)
}

// ParseOutcome encodes a human answer for a question of type t: "yes",
// "no" or an index for binary, an index for categorical, a base-unit
// integer for scalar, and "invalid" for any type. A 0x-prefixed 32-byte
// word is taken as already encoded.
func ParseOutcome(t QuestionType, s string) ([]byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return nil, fmt.Errorf("%w: empty answer", ErrInvalidOutcome)
	case s == "invalid":
		return EncodeInvalid(t), nil
	case strings.HasPrefix(s, "0x"):
		h, err := ParseHash32(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
		}
		return h.Bytes(), nil
	}
	switch t {
	case QuestionBinary:
		switch s {
		case "yes":
			return EncodeIndex(OutcomeYes), nil
		case "no":
			return EncodeIndex(OutcomeNo), nil
		}
		fallthrough
	case QuestionCategorical:
		idx, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an option index", ErrInvalidOutcome, s)
		}
		return EncodeIndex(idx), nil
	case QuestionScalar:
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidOutcome, s)
		}
		return EncodeScalar(v)
	}
	return nil, fmt.Errorf("%w: unknown question type %d", ErrInvalidOutcome, t)
}

// MaxUint256 is exposed for callers building approvals.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
