package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/service"
)

// ReporterService is the question surface the handler needs. It is declared
// locally so the handler package does not depend on the concrete service.
type ReporterService interface {
	Question(ctx context.Context, id common.Hash) (domain.Question, *big.Int, error)
	Questions(ctx context.Context, f domain.QuestionFilter) ([]domain.Question, error)
	Commit(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte) (service.CommitResult, error)
	Recommit(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte) (service.CommitResult, error)
	Reveal(ctx context.Context, actor domain.Actor, id common.Hash, bond *big.Int) (service.RevealResult, error)
	RevealWith(ctx context.Context, actor domain.Actor, id common.Hash, outcome []byte, salt common.Hash, bond *big.Int) (service.RevealResult, error)
	Finalize(ctx context.Context, actor domain.Actor, id common.Hash) (service.Result, error)
	Escalate(ctx context.Context, actor domain.Actor, id common.Hash) (service.Result, error)
	Now() time.Time
}

// EventLister reads the persisted event log.
type EventLister interface {
	ListByQuestion(ctx context.Context, id common.Hash, opts domain.ListOpts) ([]domain.Event, error)
	ListByMarket(ctx context.Context, addr common.Address, opts domain.ListOpts) ([]domain.Event, error)
	ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error)
}

// QuestionHandler serves oracle question endpoints and the reporter flow.
type QuestionHandler struct {
	reporters ReporterService
	events    EventLister
	logger    *slog.Logger
}

// NewQuestionHandler creates a QuestionHandler. events may be nil.
func NewQuestionHandler(reporters ReporterService, events EventLister, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{
		reporters: reporters,
		events:    events,
		logger:    logHandler(logger, "questions"),
	}
}

// questionView adds the derived fields a client needs to render a question.
type questionView struct {
	domain.Question
	State          domain.QuestionState `json:"state"`
	LeadingOutcome string               `json:"leading_outcome,omitempty"`
	FinalOutcome   string               `json:"final_outcome,omitempty"`
	RequiredBond   *big.Int             `json:"required_bond,omitempty"`
}

func viewQuestion(q domain.Question, now time.Time, bond *big.Int) questionView {
	v := questionView{Question: q, State: q.State(now), RequiredBond: bond}
	if q.Leader != nil {
		v.LeadingOutcome = domain.DescribeOutcome(q.Params.Type, q.Leader.Outcome)
	}
	if q.Resolution != nil {
		v.FinalOutcome = domain.DescribeOutcome(q.Params.Type, q.Resolution.Outcome)
	}
	return v
}

// ListQuestions returns questions filtered by state and creator.
// GET /api/questions?state=revealed,challenged&creator=0x..&limit=50&offset=0
func (h *QuestionHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.QuestionFilter{Limit: opts.Limit, Offset: opts.Offset}
	q := r.URL.Query()
	if v := q.Get("state"); v != "" {
		states, err := parseStates(v)
		if err != nil {
			writeError(w, err)
			return
		}
		f.States = states
	}
	if v := q.Get("creator"); v != "" {
		addr, err := domain.ParseAddress(v)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Creator = addr
	}

	qs, err := h.reporters.Questions(r.Context(), f)
	if err != nil {
		fail(h.logger, w, r, "list questions", err)
		return
	}
	now := h.reporters.Now()
	views := make([]questionView, 0, len(qs))
	for _, q := range qs {
		views = append(views, viewQuestion(q, now, nil))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"questions": views,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

// GetQuestion returns one question with the bond the next reveal must post.
// GET /api/questions/{id}
func (h *QuestionHandler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	q, bond, err := h.reporters.Question(r.Context(), id)
	if err != nil {
		fail(h.logger, w, r, "get question", err)
		return
	}
	writeJSON(w, http.StatusOK, viewQuestion(q, h.reporters.Now(), bond))
}

// QuestionEvents returns the event history of a question.
// GET /api/questions/{id}/events
func (h *QuestionHandler) QuestionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if h.events == nil {
		writeError(w, fmt.Errorf("%w: event log not configured", domain.ErrUnsupported))
		return
	}
	evs, err := h.events.ListByQuestion(r.Context(), id, parseListOpts(r))
	if err != nil {
		fail(h.logger, w, r, "question events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

type answerRequest struct {
	Outcome string `json:"outcome"`
}

// Commit hides an answer behind a fresh salt.
// POST /api/questions/{id}/commit {"outcome": "yes"}
func (h *QuestionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, false)
}

// Recommit replaces the caller's unrevealed commitment.
// POST /api/questions/{id}/recommit {"outcome": "no"}
func (h *QuestionHandler) Recommit(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, true)
}

func (h *QuestionHandler) commit(w http.ResponseWriter, r *http.Request, replace bool) {
	id, outcome, ok := h.answer(w, r)
	if !ok {
		return
	}
	var (
		res service.CommitResult
		err error
	)
	if replace {
		res, err = h.reporters.Recommit(r.Context(), actor(r), id, outcome)
	} else {
		res, err = h.reporters.Commit(r.Context(), actor(r), id, outcome)
	}
	if err != nil {
		fail(h.logger, w, r, "commit", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// answer parses the question id and encodes the answer for its type.
func (h *QuestionHandler) answer(w http.ResponseWriter, r *http.Request) (common.Hash, []byte, bool) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return id, nil, false
	}
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return id, nil, false
	}
	q, _, err := h.reporters.Question(r.Context(), id)
	if err != nil {
		fail(h.logger, w, r, "answer lookup", err)
		return id, nil, false
	}
	outcome, err := domain.ParseOutcome(q.Params.Type, req.Outcome)
	if err != nil {
		writeError(w, err)
		return id, nil, false
	}
	return id, outcome, true
}

type revealRequest struct {
	Bond    string `json:"bond,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Salt    string `json:"salt,omitempty"`
}

// Reveal opens the caller's commitment with a bond. Without outcome and
// salt the stored preimage is used; without bond the required bond is
// posted.
// POST /api/questions/{id}/reveal {"bond": "20"}
func (h *QuestionHandler) Reveal(w http.ResponseWriter, r *http.Request) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req revealRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	bond, err := parseAmount(req.Bond)
	if err != nil {
		writeError(w, err)
		return
	}

	var res service.RevealResult
	switch {
	case req.Outcome == "" && req.Salt == "":
		res, err = h.reporters.Reveal(r.Context(), actor(r), id, bond)
	case req.Outcome == "" || req.Salt == "":
		writeError(w, fmt.Errorf("%w: outcome and salt must be given together", domain.ErrInvalidInput))
		return
	default:
		var (
			q       domain.Question
			salt    common.Hash
			outcome []byte
		)
		if salt, err = domain.ParseHash32(req.Salt); err != nil {
			writeError(w, err)
			return
		}
		if q, _, err = h.reporters.Question(r.Context(), id); err != nil {
			fail(h.logger, w, r, "reveal lookup", err)
			return
		}
		if outcome, err = domain.ParseOutcome(q.Params.Type, req.Outcome); err != nil {
			writeError(w, err)
			return
		}
		res, err = h.reporters.RevealWith(r.Context(), actor(r), id, outcome, salt, bond)
	}
	if err != nil {
		fail(h.logger, w, r, "reveal", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Finalize settles a question after its liveness window.
// POST /api/questions/{id}/finalize
func (h *QuestionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "finalize", h.reporters.Finalize)
}

// Escalate hands a question at max rounds to the arbitrator.
// POST /api/questions/{id}/escalate
func (h *QuestionHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, "escalate", h.reporters.Escalate)
}

func (h *QuestionHandler) settle(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, domain.Actor, common.Hash) (service.Result, error)) {
	id, err := pathHash(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := fn(r.Context(), actor(r), id)
	if err != nil {
		fail(h.logger, w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var knownStates = []domain.QuestionState{
	domain.StateCreated, domain.StateCommitted, domain.StateRevealed, domain.StateChallenged,
	domain.StateLivenessExpired, domain.StateEscalated, domain.StateFinalized,
}

// parseStates reads a comma-separated state list.
func parseStates(s string) ([]domain.QuestionState, error) {
	var out []domain.QuestionState
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		found := false
		for _, st := range knownStates {
			if string(st) == part {
				out = append(out, st)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: question state %q", domain.ErrInvalidInput, part)
		}
	}
	return out, nil
}
