package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/insightra/internal/events"
)

// Orchestrator runs the background loops: event dispatch, keeper, chain log
// indexer and archiver. Loops left nil are not started.
type Orchestrator struct {
	dispatcher  *events.Dispatcher
	keeper      *Keeper
	indexer     *LogIndexer
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Any of keeper, indexer and
// archiver may be nil.
func NewOrchestrator(
	dispatcher *events.Dispatcher,
	keeper *Keeper,
	indexer *LogIndexer,
	archiver *Archiver,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		dispatcher:  dispatcher,
		keeper:      keeper,
		indexer:     indexer,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts every configured loop in an errgroup. Each goroutine respects
// ctx cancellation. If any goroutine returns a non-context error, the
// errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("keeper", o.keeper != nil),
		slog.Bool("indexer", o.indexer != nil),
		slog.Bool("archiver", o.archiver != nil),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)
	loop := func(name string, run func(context.Context) error) {
		g.Go(func() error {
			o.logger.Info("starting loop", slog.String("loop", name))
			err := run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	if o.dispatcher != nil {
		loop("dispatcher", o.dispatcher.Run)
	}
	if o.keeper != nil {
		loop("keeper", o.keeper.RunLoop)
	}
	if o.indexer != nil {
		loop("log indexer", o.indexer.RunLoop)
	}
	if o.archiver != nil && o.archiveCron != "" {
		loop("archiver", func(ctx context.Context) error { return o.archiver.RunCron(ctx, o.archiveCron) })
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
