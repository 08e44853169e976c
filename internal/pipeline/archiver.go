package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/metrics"
)

// Archiver exports finalized questions and settled markets older than the
// retention window to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. m may be nil.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, m *metrics.Metrics, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		metrics:       m,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveReport counts the records one run exported.
type ArchiveReport struct {
	Cutoff    time.Time `json:"cutoff"`
	Questions int64     `json:"questions"`
	Markets   int64     `json:"markets"`
}

// Run executes a single archive pass with the cutoff retentionDays before
// now.
func (a *Archiver) Run(ctx context.Context) (ArchiveReport, error) {
	rep := ArchiveReport{Cutoff: a.now().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", rep.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	n, err := a.blobArchiver.ArchiveQuestions(ctx, rep.Cutoff)
	if err != nil {
		return rep, fmt.Errorf("archiving questions before %v: %w", rep.Cutoff, err)
	}
	rep.Questions = n
	a.count("questions", n)

	n, err = a.blobArchiver.ArchiveMarkets(ctx, rep.Cutoff)
	if err != nil {
		return rep, fmt.Errorf("archiving markets before %v: %w", rep.Cutoff, err)
	}
	rep.Markets = n
	a.count("markets", n)

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("questions_archived", rep.Questions),
		slog.Int64("markets_archived", rep.Markets),
	)
	return rep, nil
}

func (a *Archiver) count(kind string, n int64) {
	if a.metrics != nil && n > 0 {
		a.metrics.Archived(kind, n)
	}
}

// ParseSchedule validates a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return s, nil
}

// RunCron runs the archiver on a cron schedule until ctx is cancelled.
// Overlapping runs are skipped.
//
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return err
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(sched, cron.FuncJob(func() {
		if _, err := a.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}))
	a.logger.InfoContext(ctx, "archiver cron started",
		slog.String("cron", expr),
		slog.Time("next_run", sched.Next(a.now())),
	)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
