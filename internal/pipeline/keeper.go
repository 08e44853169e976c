package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/metrics"
	"github.com/alanyoungcy/insightra/internal/service"
)

// Preflight simulates keeper transactions before they are sent. The chain
// backend implements it with eth_call; the simulator needs none because its
// writes fail without side effects.
type Preflight interface {
	CanFinalize(ctx context.Context, id common.Hash) error
	CanEscalate(ctx context.Context, id common.Hash) error
	CanFinalizeMarket(ctx context.Context, m common.Address) error
}

// KeeperConfig tunes the keeper loop.
type KeeperConfig struct {
	Interval     time.Duration
	AutoEscalate bool
	LockTTL      time.Duration
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Finalized        int
	Escalated        int
	MarketsFinalized int
	Skipped          int
	Failed           int
}

// Keeper finalizes questions whose liveness window has passed, escalates
// questions that reached max rounds, and pulls finalized outcomes into
// their markets.
type Keeper struct {
	proto     service.Protocol
	actor     domain.Actor
	preflight Preflight
	locks     domain.LockManager
	metrics   *metrics.Metrics
	cfg       KeeperConfig
	logger    *slog.Logger
}

// NewKeeper creates a Keeper acting as actor. preflight, locks and m may be
// nil.
func NewKeeper(proto service.Protocol, actor domain.Actor, preflight Preflight, locks domain.LockManager, m *metrics.Metrics, cfg KeeperConfig, logger *slog.Logger) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	return &Keeper{
		proto:     proto,
		actor:     actor,
		preflight: preflight,
		locks:     locks,
		metrics:   m,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// RunLoop sweeps immediately and then on every tick until ctx is cancelled.
func (k *Keeper) RunLoop(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.Duration("interval", k.cfg.Interval),
		slog.Bool("auto_escalate", k.cfg.AutoEscalate),
		slog.String("actor", k.actor.Address.Hex()),
	)
	k.tick(ctx)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *Keeper) tick(ctx context.Context) {
	if _, err := k.Sweep(ctx); err != nil && !errors.Is(err, domain.ErrLockHeld) && ctx.Err() == nil {
		k.logger.ErrorContext(ctx, "keeper sweep failed", slog.String("error", err.Error()))
	}
}

// Sweep runs one pass. It returns ErrLockHeld when another keeper holds the
// sweep lock. Individual action failures are counted, not returned.
func (k *Keeper) Sweep(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, "keeper", k.cfg.LockTTL)
		if err != nil {
			return rep, err
		}
		defer unlock()
	}
	start := time.Now()
	defer func() {
		if k.metrics != nil {
			k.metrics.KeeperSweep(time.Since(start))
		}
	}()

	if err := k.finalizeExpired(ctx, &rep); err != nil {
		return rep, err
	}
	if k.cfg.AutoEscalate {
		if err := k.escalateExhausted(ctx, &rep); err != nil {
			return rep, err
		}
	}
	if err := k.finalizeMarkets(ctx, &rep); err != nil {
		return rep, err
	}
	if rep != (SweepReport{}) {
		k.logger.InfoContext(ctx, "keeper sweep",
			slog.Int("finalized", rep.Finalized),
			slog.Int("escalated", rep.Escalated),
			slog.Int("markets_finalized", rep.MarketsFinalized),
			slog.Int("skipped", rep.Skipped),
			slog.Int("failed", rep.Failed),
		)
	}
	return rep, nil
}

func (k *Keeper) finalizeExpired(ctx context.Context, rep *SweepReport) error {
	states := []domain.QuestionState{domain.StateLivenessExpired}
	if k.preflight != nil {
		// Reveals sent by other clients are not indexed on chain, so every
		// open question is a candidate and the simulation decides.
		states = append(states, domain.StateCreated, domain.StateCommitted, domain.StateRevealed, domain.StateChallenged)
	}
	qs, err := k.proto.Questions(ctx, domain.QuestionFilter{States: states})
	if err != nil {
		return fmt.Errorf("keeper: list expired questions: %w", err)
	}
	for _, q := range qs {
		k.act(ctx, rep, &rep.Finalized, "finalize", q.ID.Hex(),
			func() error { return k.check(func(p Preflight) error { return p.CanFinalize(ctx, q.ID) }) },
			func() error { _, err := k.proto.Finalize(ctx, k.actor, q.ID); return err },
		)
	}
	return nil
}

func (k *Keeper) escalateExhausted(ctx context.Context, rep *SweepReport) error {
	qs, err := k.proto.Questions(ctx, domain.QuestionFilter{States: []domain.QuestionState{
		domain.StateRevealed, domain.StateChallenged,
	}})
	if err != nil {
		return fmt.Errorf("keeper: list live questions: %w", err)
	}
	for _, q := range qs {
		if q.Round < q.Params.MaxRounds {
			continue
		}
		k.act(ctx, rep, &rep.Escalated, "escalate", q.ID.Hex(),
			func() error { return k.check(func(p Preflight) error { return p.CanEscalate(ctx, q.ID) }) },
			func() error { _, err := k.proto.Escalate(ctx, k.actor, q.ID); return err },
		)
	}
	return nil
}

// finalizeMarkets pulls outcomes into open markets. With a preflight every
// open market is simulated, since questions finalized by other clients are
// not visible in the index.
func (k *Keeper) finalizeMarkets(ctx context.Context, rep *SweepReport) error {
	ms, err := k.proto.Markets(ctx, true)
	if err != nil {
		return fmt.Errorf("keeper: list markets: %w", err)
	}
	resolved := make(map[common.Hash]bool)
	for _, m := range ms {
		if m.Status != domain.MarketOpen {
			continue
		}
		done, seen := resolved[m.QuestionID]
		if k.preflight != nil {
			done, seen = true, true
		}
		if !seen {
			q, err := k.proto.Question(ctx, m.QuestionID)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					k.logger.WarnContext(ctx, "keeper question lookup failed",
						slog.String("question_id", m.QuestionID.Hex()),
						slog.String("error", err.Error()),
					)
				}
				continue
			}
			done = q.Finalized()
			resolved[m.QuestionID] = done
		}
		if !done {
			continue
		}
		k.act(ctx, rep, &rep.MarketsFinalized, "finalize_market", m.Address.Hex(),
			func() error { return k.check(func(p Preflight) error { return p.CanFinalizeMarket(ctx, m.Address) }) },
			func() error { _, err := k.proto.FinalizeMarket(ctx, k.actor, m.Address); return err },
		)
	}
	return nil
}

// act runs simulate and then send. A failed simulation skips the action.
func (k *Keeper) act(ctx context.Context, rep *SweepReport, counter *int, action, target string, simulate, send func() error) {
	if err := simulate(); err != nil {
		rep.Skipped++
		k.logger.DebugContext(ctx, "keeper action skipped",
			slog.String("action", action),
			slog.String("target", target),
			slog.String("reason", err.Error()),
		)
		return
	}
	err := send()
	if k.metrics != nil {
		k.metrics.KeeperAction(action, err)
	}
	if err != nil {
		rep.Failed++
		k.logger.WarnContext(ctx, "keeper action failed",
			slog.String("action", action),
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return
	}
	*counter++
	k.logger.InfoContext(ctx, "keeper action",
		slog.String("action", action),
		slog.String("target", target),
	)
}

func (k *Keeper) check(fn func(Preflight) error) error {
	if k.preflight == nil {
		return nil
	}
	return fn(k.preflight)
}
