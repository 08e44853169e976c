package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/oracle"
)

// CommitResult is returned from Commit and Recommit. Salt is returned so the
// reporter can reveal from another client if the secret store is lost.
type CommitResult struct {
	Result
	QuestionID common.Hash `json:"question_id"`
	Commitment common.Hash `json:"commitment"`
	Salt       common.Hash `json:"salt"`
}

// RevealResult is returned from Reveal.
type RevealResult struct {
	Result
	QuestionID common.Hash `json:"question_id"`
	Bond       *big.Int    `json:"bond"`
	Outcome    string      `json:"outcome"`
}

// ReporterService drives the commit-reveal flow for reporters. Commit
// preimages are kept in a SecretStore between the two phases.
type ReporterService struct {
	proto   Protocol
	secrets domain.SecretStore
	logger  *slog.Logger
}

// NewReporterService creates a ReporterService.
func NewReporterService(proto Protocol, secrets domain.SecretStore, logger *slog.Logger) *ReporterService {
	return &ReporterService{
		proto:   proto,
		secrets: secrets,
		logger:  logger.With(slog.String("component", "reporter_service")),
	}
}

// Commit hides outcome behind a fresh salt and records the preimage.
func (s *ReporterService) Commit(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte) (CommitResult, error) {
	return s.commit(ctx, actor, id, outcome, false)
}

// Recommit replaces the actor's unrevealed commitment with a new answer.
func (s *ReporterService) Recommit(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte) (CommitResult, error) {
	return s.commit(ctx, actor, id, outcome, true)
}

func (s *ReporterService) commit(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, replace bool) (CommitResult, error) {
	op := "commit"
	if replace {
		op = "recommit"
	}
	res := CommitResult{QuestionID: id}
	if !actor.Connected() {
		return res, wrap(op, domain.ErrNoWallet)
	}
	q, err := s.proto.Question(ctx, id)
	if err != nil {
		return res, wrap(op, err)
	}
	if err := domain.ValidateOutcome(q.Params, outcome); err != nil {
		return res, wrap(op, err)
	}
	salt, err := crypto.RandomSalt()
	if err != nil {
		return res, wrap(op, err)
	}
	hash, err := oracle.CommitHash(id, outcome, salt, actor.Address)
	if err != nil {
		return res, wrap(op, err)
	}
	rec, err := s.proto.Commit(ctx, actor, id, hash, replace)
	if err != nil {
		return res, wrap(op, err)
	}
	res.add(rec)
	res.Commitment, res.Salt = hash, salt

	secret := domain.RevealSecret{
		QuestionID: id,
		Reporter:   actor.Address,
		Outcome:    outcome,
		Salt:       salt,
		Commitment: hash,
		CreatedAt:  s.proto.Now(),
	}
	if err := s.secrets.Put(ctx, secret); err != nil {
		// The commitment is on the oracle; the caller still holds the salt.
		s.logger.ErrorContext(ctx, "store reveal secret failed",
			slog.String("question_id", id.Hex()),
			slog.String("reporter", actor.Address.Hex()),
			slog.String("error", err.Error()),
		)
		return res, wrap(op, fmt.Errorf("commitment sent but secret not stored: %w", err))
	}
	s.logger.InfoContext(ctx, "answer committed",
		slog.String("question_id", id.Hex()),
		slog.String("reporter", actor.Address.Hex()),
		slog.Bool("replace", replace),
	)
	return res, nil
}

// Reveal opens the actor's stored commitment. A nil bond posts the required
// minimum; the bond allowance is raised first when needed.
func (s *ReporterService) Reveal(ctx context.Context, actor domain.Actor, id common.Hash, bond *big.Int) (RevealResult, error) {
	res := RevealResult{QuestionID: id}
	if !actor.Connected() {
		return res, wrap("reveal", domain.ErrNoWallet)
	}
	secret, err := s.secrets.Get(ctx, id, actor.Address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return res, wrap("reveal", fmt.Errorf("%w: no stored commitment for %s", domain.ErrNoCommitment, actor.Address.Hex()))
		}
		return res, wrap("reveal", err)
	}
	return s.reveal(ctx, actor, id, secret.Outcome, secret.Salt, bond, res)
}

// RevealWith opens a commitment from a caller-supplied preimage.
func (s *ReporterService) RevealWith(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (RevealResult, error) {
	return s.reveal(ctx, actor, id, outcome, salt, bond, RevealResult{QuestionID: id})
}

func (s *ReporterService) reveal(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int, res RevealResult) (RevealResult, error) {
	q, err := s.proto.Question(ctx, id)
	if err != nil {
		return res, wrap("reveal", err)
	}
	if bond == nil {
		if bond, err = s.proto.RequiredBond(ctx, id); err != nil {
			return res, wrap("reveal", fmt.Errorf("bond amount required: %w", err))
		}
	}
	info, err := s.proto.Oracle(ctx)
	if err != nil {
		return res, wrap("reveal", err)
	}
	rec, err := s.proto.Approve(ctx, actor, info.BondToken, info.Address, bond)
	if err != nil {
		return res, wrap("approve bond", err)
	}
	res.add(rec)
	rec, err = s.proto.Reveal(ctx, actor, id, outcome, salt, bond)
	if err != nil {
		return res, wrap("reveal", err)
	}
	res.add(rec)
	res.Bond = new(big.Int).Set(bond)
	res.Outcome = domain.DescribeOutcome(q.Params.Type, outcome)

	if err := s.secrets.Delete(ctx, id, actor.Address); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "delete reveal secret failed",
			slog.String("question_id", id.Hex()),
			slog.String("error", err.Error()),
		)
	}
	s.logger.InfoContext(ctx, "answer revealed",
		slog.String("question_id", id.Hex()),
		slog.String("reporter", actor.Address.Hex()),
		slog.String("bond", bond.String()),
		slog.String("outcome", res.Outcome),
	)
	return res, nil
}

// Finalize settles a question whose liveness window has passed.
func (s *ReporterService) Finalize(ctx context.Context, actor domain.Actor, id common.Hash) (Result, error) {
	var res Result
	rec, err := s.proto.Finalize(ctx, actor, id)
	if err != nil {
		return res, wrap("finalize", err)
	}
	res.add(rec)
	return res, nil
}

// Escalate hands a question at max rounds to the arbitrator.
func (s *ReporterService) Escalate(ctx context.Context, actor domain.Actor, id common.Hash) (Result, error) {
	var res Result
	rec, err := s.proto.Escalate(ctx, actor, id)
	if err != nil {
		return res, wrap("escalate", err)
	}
	res.add(rec)
	return res, nil
}

// Question returns a snapshot and, when observable, the bond the next
// reveal must post.
func (s *ReporterService) Question(ctx context.Context, id common.Hash) (domain.Question, *big.Int, error) {
	q, err := s.proto.Question(ctx, id)
	if err != nil {
		return domain.Question{}, nil, wrap("question "+id.Hex(), err)
	}
	if q.Finalized() || q.Escalated {
		return q, nil, nil
	}
	bond, err := s.proto.RequiredBond(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrUnsupported) {
		return q, nil, wrap("required bond", err)
	}
	return q, bond, nil
}

// Questions lists questions matching f.
func (s *ReporterService) Questions(ctx context.Context, f domain.QuestionFilter) ([]domain.Question, error) {
	qs, err := s.proto.Questions(ctx, f)
	return qs, wrap("questions", err)
}

// Now is the protocol clock, used to derive question states.
func (s *ReporterService) Now() time.Time { return s.proto.Now() }
