package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/insightra/internal/arbitrator"
	"github.com/alanyoungcy/insightra/internal/chain"
	"github.com/alanyoungcy/insightra/internal/config"
	"github.com/alanyoungcy/insightra/internal/crypto"
	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/events"
	"github.com/alanyoungcy/insightra/internal/ledger"
	"github.com/alanyoungcy/insightra/internal/market"
	"github.com/alanyoungcy/insightra/internal/metrics"
	"github.com/alanyoungcy/insightra/internal/oracle"
	"github.com/alanyoungcy/insightra/internal/pipeline"
	"github.com/alanyoungcy/insightra/internal/policy"
	"github.com/alanyoungcy/insightra/internal/server"
	"github.com/alanyoungcy/insightra/internal/server/handler"
	"github.com/alanyoungcy/insightra/internal/server/ws"
	"github.com/alanyoungcy/insightra/internal/service"
)

// shutdownGrace bounds how long in-flight API requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// loops selects the background loops a mode starts.
type loops struct {
	keeper    *pipeline.Keeper
	indexer   *pipeline.LogIndexer
	projector *pipeline.Projector
}

// SimMode runs the protocol on the in-process engines with the API, the
// keeper and the archiver.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	dispatcher := events.NewDispatcher(a.cfg.Pipeline.EventBuffer, a.logger)
	admins, err := a.adminPolicy(true)
	if err != nil {
		return err
	}
	sim, err := a.buildSim(deps, dispatcher, admins)
	if err != nil {
		return err
	}

	var l loops
	l.projector = pipeline.NewProjector(sim, deps.Questions, deps.Markets, a.logger)
	if a.cfg.Pipeline.KeeperEnabled {
		keeperActor := domain.Actor{Address: config.Address(a.cfg.Sim.Owner), ChainID: uint64(a.cfg.Chain.ChainID)}
		l.keeper = pipeline.NewKeeper(sim, keeperActor, nil, deps.LockManager, deps.Metrics, a.keeperConfig(), a.logger)
	}
	return a.serve(ctx, deps, sim, admins, dispatcher, l, a.simCollateral())
}

// ChainMode runs against the deployed contracts: the read API, the chain
// keeper and the log indexer. Without an operator key the API is read-only
// and the keeper stays off.
func (a *App) ChainMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting chain mode",
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
		slog.String("rpc_url", a.cfg.Chain.RPCURL),
	)

	signer, err := a.loadSigner()
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, a.cfg.Chain.RPCURL, a.cfg.Chain.ChainID, signer, a.logger,
		chain.WithTxStore(deps.Txs),
		chain.WithPollInterval(a.cfg.Chain.ReceiptPoll.Duration),
		chain.WithGasBuffer(a.cfg.Chain.GasBufferPct),
	)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	deps.Checks["rpc"] = client.CheckChain

	factories := map[domain.MarketType]common.Address{
		domain.MarketBinary:      config.Address(a.cfg.Chain.BinaryFactory),
		domain.MarketCategorical: config.Address(a.cfg.Chain.CategoricalFactory),
		domain.MarketScalar:      config.Address(a.cfg.Chain.ScalarFactory),
	}
	proto, err := service.NewChain(ctx, client, service.ChainConfig{
		Oracle:     config.Address(a.cfg.Chain.Oracle),
		Arbitrator: config.Address(a.cfg.Chain.Arbitrator),
		BondToken:  config.Address(a.cfg.Chain.BondToken),
		Factories:  factories,
	}, deps.Questions, deps.Markets, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	admins, err := a.adminPolicy(false)
	if err != nil {
		return err
	}
	dispatcher := events.NewDispatcher(a.cfg.Pipeline.EventBuffer, a.logger)

	var l loops
	if a.cfg.Pipeline.IndexerEnabled {
		contracts := make([]*chain.FactoryContract, 0, len(factories))
		for _, t := range []domain.MarketType{domain.MarketBinary, domain.MarketCategorical, domain.MarketScalar} {
			contracts = append(contracts, chain.NewFactory(client, t, factories[t]))
		}
		l.indexer = pipeline.NewLogIndexer(client, proto.OracleContract(), contracts,
			deps.Questions, deps.Markets, deps.Events, dispatcher, deps.Metrics,
			pipeline.LogIndexerConfig{
				StartBlock:  a.cfg.Chain.StartBlock,
				BatchBlocks: a.cfg.Chain.LogBatchBlocks,
				Interval:    a.cfg.Pipeline.IndexerInterval.Duration,
			}, a.logger)
	}
	if a.cfg.Pipeline.KeeperEnabled {
		if signer == nil {
			a.logger.WarnContext(ctx, "no operator key configured, keeper disabled")
		} else {
			keeperActor := domain.Actor{Address: signer.Address(), ChainID: uint64(a.cfg.Chain.ChainID)}
			l.keeper = pipeline.NewKeeper(proto, keeperActor, proto, deps.LockManager, deps.Metrics, a.keeperConfig(), a.logger)
		}
	}
	return a.serve(ctx, deps, proto, admins, dispatcher, l, config.Address(a.cfg.Chain.DefaultCollateral))
}

// ServerMode serves the API over the sim backend with no keeper, indexer
// or archiver. Events are still dispatched to the event log and sockets.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	dispatcher := events.NewDispatcher(a.cfg.Pipeline.EventBuffer, a.logger)
	admins, err := a.adminPolicy(true)
	if err != nil {
		return err
	}
	sim, err := a.buildSim(deps, dispatcher, admins)
	if err != nil {
		return err
	}
	deps.Archiver = nil
	return a.serve(ctx, deps, sim, admins, dispatcher, loops{}, a.simCollateral())
}

// serve registers the event handlers, builds the API and runs it next to the
// pipeline until ctx is cancelled.
func (a *App) serve(
	ctx context.Context,
	deps *Dependencies,
	proto service.Protocol,
	admins *policy.Allowlist,
	dispatcher *events.Dispatcher,
	l loops,
	collateral common.Address,
) error {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, ChainID: a.cfg.Chain.ChainID})
	a.registerHandlers(dispatcher, deps, hub, l.projector)

	if l.projector != nil {
		if err := l.projector.Backfill(ctx); err != nil {
			a.logger.WarnContext(ctx, "projection backfill failed", slog.String("error", err.Error()))
		}
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, deps.Metrics, a.logger)
	}
	orch := pipeline.NewOrchestrator(dispatcher, l.keeper, l.indexer, archiver, a.cfg.Pipeline.ArchiveCron, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })
	g.Go(func() error { return ignoreCanceled(hub.Run(ctx)) })

	if a.cfg.Server.Enabled || strings.EqualFold(a.cfg.Mode, "server") {
		srv := server.NewServer(a.serverConfig(), a.handlers(proto, deps, admins, collateral), hub, deps.RateLimiter, a.metricsFor(deps), a.logger)
		g.Go(func() error { return srv.Run(ctx, shutdownGrace) })
	}

	return g.Wait()
}

// registerHandlers fans events out to every configured consumer. The hub
// reads from the signal bus when one exists; otherwise it is fed directly.
func (a *App) registerHandlers(d *events.Dispatcher, deps *Dependencies, hub *ws.Hub, projector *pipeline.Projector) {
	d.Register("persist", events.Persist(deps.Events))
	if projector != nil {
		d.Register("project", projector.Handle)
	}
	if deps.MarketCache != nil || deps.QuestionCache != nil {
		d.Register("invalidate", events.Invalidate(deps.MarketCache, deps.QuestionCache))
	}
	if deps.SignalBus != nil {
		d.Register("publish", events.Publish(deps.SignalBus, events.DefaultStream))
	} else {
		d.Register("ws", hub.Broadcast)
	}
	if deps.Metrics != nil {
		m := deps.Metrics
		d.Register("metrics", func(_ context.Context, e domain.Event) error {
			m.ObserveEvent(e)
			return nil
		})
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		d.Register("notify", deps.Notifier.NotifyEvent)
	}
}

// handlers builds the services and the HTTP handlers over proto.
func (a *App) handlers(proto service.Protocol, deps *Dependencies, admins *policy.Allowlist, collateral common.Address) server.Handlers {
	defaults := service.DefaultQuestionDefaults()
	defaults.Collateral = collateral

	markets := service.NewMarketService(proto, deps.MarketCache, defaults, a.logger)
	reporters := service.NewReporterService(proto, deps.Secrets, a.logger)
	admin := service.NewAdminService(proto, admins, markets, deps.Audit, a.logger)
	trades := service.NewTradeService(proto, a.logger)
	portfolio := service.NewPortfolioService(proto, a.logger)

	adminList := make([]string, 0)
	for _, addr := range admins.Admins() {
		adminList = append(adminList, addr.Hex())
	}
	public := handler.PublicConfig{
		Mode:                   strings.ToLower(a.cfg.Mode),
		ChainID:                a.cfg.Chain.ChainID,
		ChainName:              a.cfg.Chain.ChainName,
		RPCURL:                 a.cfg.Chain.RPCURL,
		ExplorerURL:            a.cfg.Chain.ExplorerURL,
		WalletConnectProjectID: a.cfg.Chain.WalletConnectProjectID,
		RequireSignature:       a.cfg.Server.RequireSignature,
		Admins:                 adminList,
	}
	if collateral != (common.Address{}) {
		public.DefaultCollateral = collateral.Hex()
	}

	h := server.Handlers{
		Health:    handler.NewHealthHandler(public.Mode, deps.Checks, a.logger),
		Config:    handler.NewConfigHandler(public, proto, a.logger),
		Questions: handler.NewQuestionHandler(reporters, deps.Events, a.logger),
		Markets:   handler.NewMarketHandler(markets, trades, deps.Events, a.logger),
		Portfolio: handler.NewPortfolioHandler(portfolio, a.logger),
		Admin:     handler.NewAdminHandler(admin, reporters, a.logger),
		Events:    handler.NewEventHandler(deps.Events, a.logger),
	}
	if deps.BlobReader != nil {
		h.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	return h
}

// buildSim assembles the ledger, the engines and the arbitrator, and funds
// the configured accounts.
func (a *App) buildSim(deps *Dependencies, sink domain.EventSink, admins *policy.Allowlist) (*service.Sim, error) {
	sc := a.cfg.Sim
	owner := config.Address(sc.Owner)
	feeSink := config.Address(sc.FeeSink)
	collateral := a.simCollateral()
	bond := simAddress(a.cfg.Chain.BondToken, "bond")
	oracleAddr := simAddress(a.cfg.Chain.Oracle, "oracle")
	arbAddr := simAddress(a.cfg.Chain.Arbitrator, "arbitrator")

	l := ledger.New()
	if err := l.Register(ledger.TokenInfo{Address: collateral, Symbol: sc.CollateralSymbol, Name: sc.CollateralSymbol, Decimals: sc.CollateralDecimals}); err != nil {
		return nil, fmt.Errorf("app: sim collateral: %w", err)
	}
	if bond != collateral {
		if err := l.Register(ledger.TokenInfo{Address: bond, Symbol: sc.BondSymbol, Name: sc.BondSymbol, Decimals: sc.BondDecimals}); err != nil {
			return nil, fmt.Errorf("app: sim bond token: %w", err)
		}
	}

	questionFee, err := config.Amount(sc.QuestionFee)
	if err != nil {
		return nil, fmt.Errorf("app: sim question_fee: %w", err)
	}
	minBond, err := config.Amount(sc.MinBaseBond)
	if err != nil {
		return nil, fmt.Errorf("app: sim min_base_bond: %w", err)
	}
	creationFee, err := config.Amount(sc.CreationFee)
	if err != nil {
		return nil, fmt.Errorf("app: sim creation_fee: %w", err)
	}
	fund, err := config.Amount(sc.FundAmount)
	if err != nil {
		return nil, fmt.Errorf("app: sim fund_amount: %w", err)
	}

	o, err := oracle.New(oracle.Config{
		Address:     oracleAddr,
		Owner:       owner,
		BondToken:   bond,
		FeeSink:     feeSink,
		Arbitrator:  arbAddr,
		FeeBps:      sc.OracleFeeBps,
		QuestionFee: questionFee,
		MinBaseBond: minBond,
	}, l, oracle.WithEventSink(sink), oracle.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	var factories []market.FactoryConfig
	for _, f := range []struct {
		t    domain.MarketType
		addr string
	}{
		{domain.MarketBinary, a.cfg.Chain.BinaryFactory},
		{domain.MarketCategorical, a.cfg.Chain.CategoricalFactory},
		{domain.MarketScalar, a.cfg.Chain.ScalarFactory},
	} {
		factories = append(factories, market.FactoryConfig{
			Type:                f.t,
			Address:             simAddress(f.addr, "factory/"+f.t.String()),
			Owner:               owner,
			FeeSink:             feeSink,
			CreationFee:         new(big.Int).Set(creationFee),
			DefaultRedeemFeeBps: sc.DefaultRedeemFeeBps,
		})
	}
	m, err := market.New(l, map[common.Address]market.Resolver{oracleAddr: o}, bond, factories,
		market.WithEventSink(sink), market.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	arb := arbitrator.New(arbAddr, o, admins, a.logger)
	o.SetEscalationHook(arb.OnEscalated)

	funded := append([]string{sc.Owner}, sc.FundAccounts...)
	if fund.Sign() > 0 {
		for _, s := range funded {
			who := config.Address(s)
			if err := l.MintSet([]common.Address{collateral, bond}, who, fund); err != nil {
				return nil, fmt.Errorf("app: fund %s: %w", who.Hex(), err)
			}
		}
	}
	a.logger.Info("sim protocol ready",
		slog.String("oracle", oracleAddr.Hex()),
		slog.String("collateral", collateral.Hex()),
		slog.String("bond_token", bond.Hex()),
		slog.Int("funded_accounts", len(funded)),
	)
	return service.NewSim(l, o, m, arb, uint64(a.cfg.Chain.ChainID), deps.Txs, a.logger), nil
}

// adminPolicy builds the admin allowlist. In the simulator the owner is
// always an admin so a fresh instance can be moderated.
func (a *App) adminPolicy(sim bool) (*policy.Allowlist, error) {
	addrs := append([]string(nil), a.cfg.Admin.Addresses...)
	if sim && a.cfg.Sim.Owner != "" {
		addrs = append(addrs, a.cfg.Sim.Owner)
	}
	p, err := policy.NewAllowlist(addrs)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return p, nil
}

// loadSigner loads the operator key. It returns nil when none is configured.
func (a *App) loadSigner() (*crypto.Signer, error) {
	kc := crypto.KeyConfig{
		RawPrivateKey: a.cfg.Wallet.PrivateKey,
		KeyFile:       a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:   a.cfg.Wallet.KeyPassword,
	}
	if !kc.Configured() {
		return nil, nil
	}
	key, err := crypto.LoadKey(kc)
	if err != nil {
		return nil, fmt.Errorf("app: load operator key: %w", err)
	}
	s := crypto.NewSigner(key, a.cfg.Chain.ChainID)
	a.logger.Info("operator key loaded", slog.String("address", s.Address().Hex()))
	return s, nil
}

func (a *App) keeperConfig() pipeline.KeeperConfig {
	return pipeline.KeeperConfig{
		Interval:     a.cfg.Pipeline.KeeperInterval.Duration,
		AutoEscalate: a.cfg.Pipeline.AutoEscalate,
	}
}

func (a *App) serverConfig() server.Config {
	return server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		RequireSignature: a.cfg.Server.RequireSignature,
		SignatureMaxAge:  a.cfg.Server.SignatureMaxAge.Duration,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		MetricsPath:      a.cfg.Metrics.Path,
	}
}

func (a *App) metricsFor(deps *Dependencies) *metrics.Metrics {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	return deps.Metrics
}

func (a *App) simCollateral() common.Address {
	return simAddress(a.cfg.Chain.DefaultCollateral, "collateral")
}

// simAddress returns the configured address or a stable one derived from
// label, so simulator contracts keep their addresses across restarts.
func simAddress(configured, label string) common.Address {
	if addr := config.Address(configured); addr != (common.Address{}) {
		return addr
	}
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("insightra/sim/" + label)))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
