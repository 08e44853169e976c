package arbitrator

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/ledger"
	"github.com/alanyoungcy/insightra/internal/oracle"
	"github.com/alanyoungcy/insightra/internal/policy"
)

var (
	arbAddr    = common.HexToAddress("0x0000000000000000000000000000000000000a4b")
	oracleAddr = common.HexToAddress("0x0000000000000000000000000000000000000f00")
	owner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	bondTok    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

func setup(t *testing.T) (*Arbitrator, *oracle.Engine, common.Hash) {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.Register(ledger.TokenInfo{Address: bondTok, Symbol: "BOND"}))
	require.NoError(t, l.Mint(bondTok, stranger, big.NewInt(100)))
	require.NoError(t, l.Approve(bondTok, stranger, oracleAddr, big.NewInt(100)))

	o, err := oracle.New(oracle.Config{
		Address: oracleAddr, Owner: owner, BondToken: bondTok, FeeSink: owner,
		Arbitrator: arbAddr, MinBaseBond: big.NewInt(1),
	}, l)
	require.NoError(t, err)

	p, err := policy.NewAllowlist([]string{admin.Hex()})
	require.NoError(t, err)
	a := New(arbAddr, o, p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	o.SetEscalationHook(a.OnEscalated)

	id, err := o.CreateQuestion(owner, domain.QuestionParams{
		Type: domain.QuestionBinary, Options: 2, Timeout: time.Hour, BondMultiplier: 2, MaxRounds: 1,
	}, common.Hash{})
	require.NoError(t, err)
	return a, o, id
}

func TestAdminRuleRequiresPolicy(t *testing.T) {
	a, _, id := setup(t)
	_, err := a.AdminRule(domain.Actor{Address: stranger}, id, domain.EncodeIndex(domain.OutcomeYes), common.Address{})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = a.AdminRule(domain.Actor{}, id, domain.EncodeIndex(domain.OutcomeYes), common.Address{})
	assert.ErrorIs(t, err, domain.ErrNoWallet)
}

func TestAdminRuleFinalizesQuestion(t *testing.T) {
	a, o, id := setup(t)

	res, err := a.AdminRule(domain.Actor{Address: admin}, id, domain.EncodeIndex(domain.OutcomeNo), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResolvedByArbitrator, res.Method)

	q, err := o.Question(id)
	require.NoError(t, err)
	assert.True(t, q.Finalized())

	cases := a.Cases(false)
	require.Len(t, cases, 1)
	assert.Equal(t, admin, cases[0].RuledBy)
	assert.Empty(t, a.Cases(true))
}

func TestEscalationOpensCase(t *testing.T) {
	a, o, id := setup(t)
	require.ErrorIs(t, o.Escalate(stranger, id), domain.ErrRoundsRemaining)

	salt := common.HexToHash("0x01")
	out := domain.EncodeIndex(domain.OutcomeYes)
	h, err := oracle.CommitHash(id, out, salt, stranger)
	require.NoError(t, err)
	require.NoError(t, o.Commit(stranger, id, h))
	require.NoError(t, o.Reveal(stranger, id, out, salt, big.NewInt(1)))

	require.NoError(t, o.Escalate(stranger, id))
	open := a.Cases(true)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].QuestionID)

	_, err = a.AdminRule(domain.Actor{Address: admin}, id, out, common.Address{})
	require.NoError(t, err)
	assert.Empty(t, a.Cases(true))
}
