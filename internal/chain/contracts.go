package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/market"
)

func call1[T any](ctx context.Context, c *Client, to common.Address, contract abi.ABI, method string, args ...any) (T, error) {
	var zero T
	out, err := c.Call(ctx, to, contract, method, args...)
	if err != nil {
		return zero, err
	}
	if len(out) != 1 {
		return zero, fmt.Errorf("chain: %s returned %d values", method, len(out))
	}
	v, ok := out[0].(T)
	if !ok {
		return zero, fmt.Errorf("chain: %s returned %T", method, out[0])
	}
	return v, nil
}

// Token is an ERC-20 collateral or bond token.
type Token struct {
	c    *Client
	addr common.Address
}

// NewToken binds an ERC-20 at addr.
func NewToken(c *Client, addr common.Address) *Token { return &Token{c: c, addr: addr} }

func (t *Token) Address() common.Address { return t.addr }

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	return call1[uint8](ctx, t.c, t.addr, ERC20, "decimals")
}

func (t *Token) Symbol(ctx context.Context) (string, error) {
	return call1[string](ctx, t.c, t.addr, ERC20, "symbol")
}

func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return call1[*big.Int](ctx, t.c, t.addr, ERC20, "balanceOf", owner)
}

func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return call1[*big.Int](ctx, t.c, t.addr, ERC20, "allowance", owner, spender)
}

// EnsureAllowance approves spender for amount unless the sender's current
// allowance already covers it. It returns nil when no approval was needed.
func (t *Token) EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) (*domain.TxRecord, error) {
	cur, err := t.Allowance(ctx, t.c.Sender(), spender)
	if err != nil {
		return nil, err
	}
	if cur.Cmp(amount) >= 0 {
		return nil, nil
	}
	rec, _, err := t.c.TransactAndWait(ctx, t.addr, ERC20, "approve", spender, amount)
	return rec, err
}

// OracleContract is the deployed optimistic oracle.
type OracleContract struct {
	c    *Client
	addr common.Address
}

// NewOracle binds the oracle at addr.
func NewOracle(c *Client, addr common.Address) *OracleContract {
	return &OracleContract{c: c, addr: addr}
}

func (o *OracleContract) Address() common.Address { return o.addr }

func (o *OracleContract) QuestionFee(ctx context.Context) (*big.Int, error) {
	return call1[*big.Int](ctx, o.c, o.addr, Oracle, "questionFee")
}

func (o *OracleContract) BondToken(ctx context.Context) (common.Address, error) {
	return call1[common.Address](ctx, o.c, o.addr, Oracle, "bondToken")
}

// CreateQuestionPublic pays the question fee and returns the new id read
// from the QuestionCreated log.
func (o *OracleContract) CreateQuestionPublic(ctx context.Context, p domain.QuestionParams, salt common.Hash) (common.Hash, *domain.TxRecord, error) {
	return o.create(ctx, "createQuestionPublic", p, salt)
}

// CreateQuestion is the owner-only, fee-free path.
func (o *OracleContract) CreateQuestion(ctx context.Context, p domain.QuestionParams, salt common.Hash) (common.Hash, *domain.TxRecord, error) {
	return o.create(ctx, "createQuestion", p, salt)
}

func (o *OracleContract) create(ctx context.Context, method string, p domain.QuestionParams, salt common.Hash) (common.Hash, *domain.TxRecord, error) {
	rec, receipt, err := o.c.TransactAndWait(ctx, o.addr, Oracle, method, TupleFromParams(p), [32]byte(salt))
	if err != nil {
		return common.Hash{}, rec, err
	}
	id, err := QuestionIDFromReceipt(receipt, o.addr)
	return id, rec, err
}

func (o *OracleContract) Commit(ctx context.Context, id, hash common.Hash) (*domain.TxRecord, error) {
	return o.send(ctx, "commit", [32]byte(id), [32]byte(hash))
}

func (o *OracleContract) Recommit(ctx context.Context, id, hash common.Hash) (*domain.TxRecord, error) {
	return o.send(ctx, "recommit", [32]byte(id), [32]byte(hash))
}

func (o *OracleContract) Reveal(ctx context.Context, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (*domain.TxRecord, error) {
	return o.send(ctx, "reveal", [32]byte(id), outcome, [32]byte(salt), bond)
}

func (o *OracleContract) Finalize(ctx context.Context, id common.Hash) (*domain.TxRecord, error) {
	return o.send(ctx, "finalize", [32]byte(id))
}

func (o *OracleContract) Escalate(ctx context.Context, id common.Hash) (*domain.TxRecord, error) {
	return o.send(ctx, "escalate", [32]byte(id))
}

// CanFinalize simulates finalize(id) as from.
func (o *OracleContract) CanFinalize(ctx context.Context, from common.Address, id common.Hash) error {
	return o.c.Simulate(ctx, from, o.addr, Oracle, "finalize", [32]byte(id))
}

// CanEscalate simulates escalate(id) as from.
func (o *OracleContract) CanEscalate(ctx context.Context, from common.Address, id common.Hash) error {
	return o.c.Simulate(ctx, from, o.addr, Oracle, "escalate", [32]byte(id))
}

// CreatedQuestion is one QuestionCreated log.
type CreatedQuestion struct {
	ID     common.Hash
	Params domain.QuestionParams
	Block  uint64
	TxHash common.Hash
}

// CreatedQuestions scans QuestionCreated logs in [from, to]. A nil to
// means the head.
func (o *OracleContract) CreatedQuestions(ctx context.Context, from uint64, to *big.Int) ([]CreatedQuestion, error) {
	ev := Oracle.Events["QuestionCreated"]
	logs, err := o.c.Logs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   to,
		Addresses: []common.Address{o.addr},
		Topics:    [][]common.Hash{{ev.ID}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]CreatedQuestion, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		vals, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(vals) != 1 {
			return nil, fmt.Errorf("chain: decode QuestionCreated: %v", err)
		}
		t, ok := abi.ConvertType(vals[0], new(QuestionParamsTuple)).(*QuestionParamsTuple)
		if !ok {
			return nil, fmt.Errorf("chain: QuestionCreated params have type %T", vals[0])
		}
		out = append(out, CreatedQuestion{ID: l.Topics[1], Params: t.Params(), Block: l.BlockNumber, TxHash: l.TxHash})
	}
	return out, nil
}

func (o *OracleContract) send(ctx context.Context, method string, args ...any) (*domain.TxRecord, error) {
	rec, _, err := o.c.TransactAndWait(ctx, o.addr, Oracle, method, args...)
	return rec, err
}

// ArbitratorContract is the SimpleArbitrator.
type ArbitratorContract struct {
	c    *Client
	addr common.Address
}

func NewArbitrator(c *Client, addr common.Address) *ArbitratorContract {
	return &ArbitratorContract{c: c, addr: addr}
}

func (a *ArbitratorContract) Address() common.Address { return a.addr }

// AdminRule forwards a ruling. The contract enforces its own admin check;
// the sender must be authorised there too.
func (a *ArbitratorContract) AdminRule(ctx context.Context, id common.Hash, outcome []byte, payee common.Address) (*domain.TxRecord, error) {
	rec, _, err := a.c.TransactAndWait(ctx, a.addr, Arbitrator, "adminRule", [32]byte(id), outcome, payee)
	return rec, err
}

// FactoryContract is one typed market factory.
type FactoryContract struct {
	c    *Client
	addr common.Address
	kind domain.MarketType
}

// NewFactory binds the factory of kind at addr.
func NewFactory(c *Client, kind domain.MarketType, addr common.Address) *FactoryContract {
	return &FactoryContract{c: c, addr: addr, kind: kind}
}

func (f *FactoryContract) Address() common.Address { return f.addr }
func (f *FactoryContract) Type() domain.MarketType { return f.kind }

// Info reads the factory configuration.
func (f *FactoryContract) Info(ctx context.Context) (domain.FactoryInfo, error) {
	info := domain.FactoryInfo{Type: f.kind, Address: f.addr}
	var err error
	if info.FeeSink, err = call1[common.Address](ctx, f.c, f.addr, Factory, "feeSink"); err != nil {
		return info, err
	}
	if info.BondToken, err = call1[common.Address](ctx, f.c, f.addr, Factory, "bondToken"); err != nil {
		return info, err
	}
	if info.CreationFee, err = call1[*big.Int](ctx, f.c, f.addr, Factory, "creationFee"); err != nil {
		return info, err
	}
	bps, err := call1[*big.Int](ctx, f.c, f.addr, Factory, "defaultRedeemFeeBps")
	if err != nil {
		return info, err
	}
	info.DefaultRedeemFeeBps = uint16(bps.Uint64())
	n, err := f.MarketCount(ctx)
	if err != nil {
		return info, err
	}
	info.MarketCount = n
	return info, nil
}

func (f *FactoryContract) MarketCount(ctx context.Context) (int, error) {
	n, err := call1[*big.Int](ctx, f.c, f.addr, Factory, "marketCount")
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// Markets enumerates allMarkets(0..marketCount-1).
func (f *FactoryContract) Markets(ctx context.Context) ([]common.Address, error) {
	n, err := f.MarketCount(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, n)
	for i := 0; i < n; i++ {
		addr, err := call1[common.Address](ctx, f.c, f.addr, Factory, "allMarkets", big.NewInt(int64(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (f *FactoryContract) IsMarket(ctx context.Context, m common.Address) (bool, error) {
	return call1[bool](ctx, f.c, f.addr, Factory, "isMarket", m)
}

func (f *FactoryContract) IsRemoved(ctx context.Context, m common.Address) (bool, error) {
	return call1[bool](ctx, f.c, f.addr, Factory, "isRemoved", m)
}

// Create deploys a market through the owner path, or the fee-charging
// submit path when paid is set.
func (f *FactoryContract) Create(ctx context.Context, req market.CreateRequest, paid bool) (common.Address, *domain.TxRecord, error) {
	if req.Type != f.kind {
		return common.Address{}, nil, fmt.Errorf("chain: %s request to %s factory: %w", req.Type, f.kind, domain.ErrWrongMarketType)
	}
	method, args, err := CreateCall(req, paid)
	if err != nil {
		return common.Address{}, nil, err
	}
	rec, receipt, err := f.c.TransactAndWait(ctx, f.addr, Factory, method, args...)
	if err != nil {
		return common.Address{}, rec, err
	}
	addr, err := MarketFromReceipt(receipt, f.addr)
	return addr, rec, err
}

// CreateCall returns the factory method and arguments for req.
func CreateCall(req market.CreateRequest, paid bool) (string, []any, error) {
	verb := "create"
	if paid {
		verb = "submit"
	}
	base := []any{req.Collateral, req.Oracle, [32]byte(req.QuestionID), req.Name}
	switch req.Type {
	case domain.MarketBinary:
		return verb + "Binary", base, nil
	case domain.MarketCategorical:
		return verb + "Categorical", append(base, req.NumOutcomes, req.OutcomeNames), nil
	case domain.MarketScalar:
		return verb + "Scalar", append(base, req.ScalarMin, req.ScalarMax, req.ScalarDecimals), nil
	}
	return "", nil, fmt.Errorf("chain: market type %d: %w", req.Type, domain.ErrInvalidInput)
}

// DecodeCreateCall recovers the request from factory calldata. It is how
// market names and outcome labels are indexed, since no view exposes them.
func DecodeCreateCall(data []byte) (market.CreateRequest, error) {
	var req market.CreateRequest
	if len(data) < 4 {
		return req, fmt.Errorf("chain: short calldata: %w", domain.ErrInvalidInput)
	}
	method, err := Factory.MethodById(data[:4])
	if err != nil {
		return req, fmt.Errorf("chain: %w: %v", domain.ErrInvalidInput, err)
	}
	vals, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return req, fmt.Errorf("chain: unpack %s: %w", method.Name, err)
	}
	if len(vals) < 4 {
		return req, fmt.Errorf("chain: %s is not a create call: %w", method.Name, domain.ErrInvalidInput)
	}
	req.Collateral, _ = vals[0].(common.Address)
	req.Oracle, _ = vals[1].(common.Address)
	if qid, ok := vals[2].([32]byte); ok {
		req.QuestionID = qid
	}
	req.Name, _ = vals[3].(string)
	switch method.Name {
	case "createBinary", "submitBinary":
		req.Type = domain.MarketBinary
	case "createCategorical", "submitCategorical":
		req.Type = domain.MarketCategorical
		req.NumOutcomes, _ = vals[4].(uint8)
		req.OutcomeNames, _ = vals[5].([]string)
	case "createScalar", "submitScalar":
		req.Type = domain.MarketScalar
		req.ScalarMin, _ = vals[4].(*big.Int)
		req.ScalarMax, _ = vals[5].(*big.Int)
		req.ScalarDecimals, _ = vals[6].(uint32)
	default:
		return req, fmt.Errorf("chain: %s is not a create call: %w", method.Name, domain.ErrInvalidInput)
	}
	return req, nil
}

func (f *FactoryContract) SetDefaultRedeemFeeBps(ctx context.Context, bps uint16) (*domain.TxRecord, error) {
	rec, _, err := f.c.TransactAndWait(ctx, f.addr, Factory, "setDefaultRedeemFeeBps", big.NewInt(int64(bps)))
	return rec, err
}

func (f *FactoryContract) RemoveListing(ctx context.Context, m common.Address, reason string) (*domain.TxRecord, error) {
	rec, _, err := f.c.TransactAndWait(ctx, f.addr, Factory, "removeListing", m, reason)
	return rec, err
}

func (f *FactoryContract) RestoreListing(ctx context.Context, m common.Address) (*domain.TxRecord, error) {
	rec, _, err := f.c.TransactAndWait(ctx, f.addr, Factory, "restoreListing", m)
	return rec, err
}

// MarketContract is a deployed market of any type.
type MarketContract struct {
	c    *Client
	addr common.Address
}

func NewMarket(c *Client, addr common.Address) *MarketContract {
	return &MarketContract{c: c, addr: addr}
}

func (m *MarketContract) Address() common.Address { return m.addr }

func (m *MarketContract) Split(ctx context.Context, amount *big.Int) (*domain.TxRecord, error) {
	return m.send(ctx, "split", amount)
}

func (m *MarketContract) Merge(ctx context.Context, sets *big.Int) (*domain.TxRecord, error) {
	return m.send(ctx, "merge", sets)
}

func (m *MarketContract) FinalizeFromOracle(ctx context.Context) (*domain.TxRecord, error) {
	return m.send(ctx, "finalizeFromOracle")
}

// CanFinalize simulates finalizeFromOracle as from.
func (m *MarketContract) CanFinalize(ctx context.Context, from common.Address) error {
	return m.c.Simulate(ctx, from, m.addr, Market, "finalizeFromOracle")
}

func (m *MarketContract) Redeem(ctx context.Context, amount *big.Int) (*domain.TxRecord, error) {
	return m.send(ctx, "redeem", amount)
}

func (m *MarketContract) RedeemLong(ctx context.Context, amount *big.Int) (*domain.TxRecord, error) {
	return m.send(ctx, "redeemLong", amount)
}

func (m *MarketContract) RedeemShort(ctx context.Context, amount *big.Int) (*domain.TxRecord, error) {
	return m.send(ctx, "redeemShort", amount)
}

func (m *MarketContract) send(ctx context.Context, method string, args ...any) (*domain.TxRecord, error) {
	rec, _, err := m.c.TransactAndWait(ctx, m.addr, Market, method, args...)
	return rec, err
}

// Read assembles the full market snapshot, dispatching on marketType()
// for the variant payload. Name and outcome labels are not exposed by any
// view and are left for the caller to fill from indexed calldata.
func (m *MarketContract) Read(ctx context.Context) (domain.Market, error) {
	out := domain.Market{Address: m.addr}
	kind, err := call1[uint8](ctx, m.c, m.addr, Market, "marketType")
	if err != nil {
		return out, err
	}
	out.Type = domain.MarketType(kind)
	if out.Collateral, err = call1[common.Address](ctx, m.c, m.addr, Market, "collateral"); err != nil {
		return out, err
	}
	if out.Oracle, err = call1[common.Address](ctx, m.c, m.addr, Market, "oracle"); err != nil {
		return out, err
	}
	qid, err := call1[[32]byte](ctx, m.c, m.addr, Market, "questionId")
	if err != nil {
		return out, err
	}
	out.QuestionID = qid
	status, err := call1[uint8](ctx, m.c, m.addr, Market, "status")
	if err != nil {
		return out, err
	}
	out.Status = domain.MarketStatus(status)
	bps, err := call1[*big.Int](ctx, m.c, m.addr, Market, "redeemFeeBps")
	if err != nil {
		return out, err
	}
	out.RedeemFeeBps = uint16(bps.Uint64())
	if out.FeeSink, err = call1[common.Address](ctx, m.c, m.addr, Market, "feeSink"); err != nil {
		return out, err
	}
	if out.CollateralLocked, err = call1[*big.Int](ctx, m.c, m.addr, Market, "collateralLocked"); err != nil {
		return out, err
	}
	if out.Status.Settled() {
		at, err := call1[*big.Int](ctx, m.c, m.addr, Market, "resolvedAt")
		if err != nil {
			return out, err
		}
		out.ResolvedAt = time.Unix(at.Int64(), 0).UTC()
		if out.ResolvedAnswer, err = call1[[]byte](ctx, m.c, m.addr, Market, "resolvedAnswer"); err != nil {
			return out, err
		}
	}

	switch out.Type {
	case domain.MarketBinary:
		d := &domain.BinaryDetail{}
		if d.YesToken, err = call1[common.Address](ctx, m.c, m.addr, Market, "yesToken"); err != nil {
			return out, err
		}
		if d.NoToken, err = call1[common.Address](ctx, m.c, m.addr, Market, "noToken"); err != nil {
			return out, err
		}
		if out.Status == domain.MarketResolved {
			if d.OutcomeYes, err = call1[bool](ctx, m.c, m.addr, Market, "outcomeYes"); err != nil {
				return out, err
			}
		}
		out.Binary = d
	case domain.MarketCategorical:
		n, err := call1[uint8](ctx, m.c, m.addr, Market, "outcomeCount")
		if err != nil {
			return out, err
		}
		d := &domain.CategoricalDetail{Winner: -1}
		for i := uint8(0); i < n; i++ {
			tok, err := call1[common.Address](ctx, m.c, m.addr, Market, "tokens", i)
			if err != nil {
				return out, err
			}
			d.Tokens = append(d.Tokens, tok)
			d.OutcomeNames = append(d.OutcomeNames, fmt.Sprintf("Outcome %d", i))
		}
		if out.Status == domain.MarketResolved {
			w, err := call1[uint8](ctx, m.c, m.addr, Market, "winner")
			if err != nil {
				return out, err
			}
			d.Winner = int(w)
		}
		out.Categorical = d
	case domain.MarketScalar:
		d := &domain.ScalarDetail{}
		if d.LongToken, err = call1[common.Address](ctx, m.c, m.addr, Market, "longToken"); err != nil {
			return out, err
		}
		if d.ShortToken, err = call1[common.Address](ctx, m.c, m.addr, Market, "shortToken"); err != nil {
			return out, err
		}
		if d.Min, err = call1[*big.Int](ctx, m.c, m.addr, Market, "scalarMin"); err != nil {
			return out, err
		}
		if d.Max, err = call1[*big.Int](ctx, m.c, m.addr, Market, "scalarMax"); err != nil {
			return out, err
		}
		if d.Decimals, err = call1[uint32](ctx, m.c, m.addr, Market, "scalarDecimals"); err != nil {
			return out, err
		}
		if out.Status.Settled() {
			if d.FNumerator, err = call1[*big.Int](ctx, m.c, m.addr, Market, "fNumerator"); err != nil {
				return out, err
			}
			if out.Status == domain.MarketResolved {
				if d.ResolvedValue, err = call1[*big.Int](ctx, m.c, m.addr, Market, "resolvedValue"); err != nil {
					return out, err
				}
			}
		}
		out.Scalar = d
	default:
		return out, fmt.Errorf("chain: market %s reports type %d: %w", m.addr.Hex(), kind, domain.ErrInvalidInput)
	}
	return out, nil
}
