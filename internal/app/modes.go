package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/config"
	"github.com/alanyoungcy/arbengine/internal/crypto"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/engine"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/feed"
	"github.com/alanyoungcy/arbengine/internal/ledger"
	"github.com/alanyoungcy/arbengine/internal/market"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/monitor"
	"github.com/alanyoungcy/arbengine/internal/risk"
	"github.com/alanyoungcy/arbengine/internal/scoring"
	"github.com/alanyoungcy/arbengine/internal/server"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
	"github.com/alanyoungcy/arbengine/internal/venue/httpvenue"
	"github.com/alanyoungcy/arbengine/internal/venue/paper"
)

const healthCheckInterval = 30 * time.Second

// core holds the components shared by every mode.
type core struct {
	store   *market.Store
	monitor *monitor.Monitor
	ledger  *ledger.Ledger
	risk    *risk.Reloadable
	prom    *metrics.Prometheus
	sink    metrics.Sink
	hub     *ws.Hub
	events  *eventPublisher
	poller  *feed.Poller
	// runners are background loops owned by the feed (websocket reader,
	// bus subscriber).
	runners []func(context.Context) error
}

func (a *App) buildCore(deps *Dependencies) (*core, error) {
	cfg := a.cfg

	rc, err := risk.NewReloadable(riskConfig(cfg.Risk))
	if err != nil {
		return nil, fmt.Errorf("app: risk config: %w", err)
	}

	prom := metrics.NewPrometheus(cfg.Metrics.Namespace, prometheus.NewRegistry())
	sink := metrics.Multi{prom, metrics.NewLogSink(a.logger)}

	c := &core{
		store: market.NewStore(cfg.Market.HistoryDepth, a.logger),
		monitor: monitor.New(monitor.Config{
			Retention:     cfg.Monitor.Retention.Duration,
			EvictInterval: cfg.Monitor.EvictInterval.Duration,
			FailureBurst:  cfg.Monitor.FailureBurst,
			HealthWindow:  cfg.Monitor.HealthWindow.Duration,
		}, deps.Archive(), a.logger),
		ledger: ledger.New(),
		risk:   rc,
		prom:   prom,
		sink:   sink,
	}

	if cfg.Server.Enabled {
		c.hub = ws.NewHub(deps.Bus, []string{EventsChannel}, a.logger)
	}
	c.events = &eventPublisher{
		bus:      deps.Bus,
		hub:      c.hub,
		notifier: deps.Notifier,
		logger:   a.logger.With(slog.String("component", "events")),
	}
	if deps.Audit != nil {
		c.events.audit = deps.Audit
	}

	src, runners, err := a.buildFeed(deps)
	if err != nil {
		return nil, err
	}
	c.runners = runners
	c.poller = feed.NewPoller(src, c.store, cfg.Feed.PollInterval.Duration, cfg.Feed.FetchTimeout.Duration, sink, a.logger)
	return c, nil
}

// buildFeed selects the market data source.
func (a *App) buildFeed(deps *Dependencies) (feed.Feed, []func(context.Context) error, error) {
	cfg := a.cfg.Feed
	switch cfg.Source {
	case "static":
		sf, err := feed.LoadStaticFeed(cfg.FixturePath)
		if err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
		sf.Jitter = cfg.Jitter
		return sf, nil, nil
	case "ws":
		wf := feed.NewWSFeed(cfg.URL, []byte(cfg.Subscribe), a.logger)
		return wf, []func(context.Context) error{wf.Run}, nil
	case "bus":
		if deps.Bus == nil {
			return nil, nil, errors.New("app: bus feed requires redis")
		}
		bf := feed.NewBusFeed(deps.Bus, cfg.Channel, a.logger)
		return bf, []func(context.Context) error{bf.Run}, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown feed source %q", cfg.Source)
	}
}

// buildVenue returns the simulated venue in paper mode and the HTTP venue
// client otherwise. The second result is non-nil only for the HTTP client.
func (a *App) buildVenue(store *market.Store) (executor.Submitter, handler.BreakerReporter, error) {
	cfg := a.cfg
	if cfg.Mode == "paper" {
		v := paper.New(store, paper.Config{
			PendingPolls: cfg.Paper.PendingPolls,
			FailureRate:  cfg.Paper.FailureRate,
			Slippage:     cfg.Paper.Slippage,
			Seed:         cfg.Paper.Seed,
		}, a.logger)
		for _, account := range cfg.Engine.Accounts {
			for asset, amount := range cfg.Paper.Funding {
				v.Fund(account, asset, amount)
			}
		}
		return v, nil, nil
	}

	var signer *crypto.Signer
	keys := crypto.KeySource{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		Password:         cfg.Wallet.KeyPassword,
	}
	if keys.Configured() {
		key, err := keys.Resolve()
		if err != nil {
			return nil, nil, fmt.Errorf("app: wallet: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Venue.ChainID)
		if err != nil {
			return nil, nil, fmt.Errorf("app: wallet: %w", err)
		}
		a.logger.Info("app: venue signer loaded", slog.String("address", signer.Address().Hex()))
	}

	var auth *crypto.HMACAuth
	if cfg.Venue.APIKey != "" {
		auth = &crypto.HMACAuth{
			Key:        cfg.Venue.APIKey,
			Secret:     cfg.Venue.APISecret,
			Passphrase: cfg.Venue.APIPassphrase,
		}
	}

	breaker := httpvenue.DefaultBreakerConfig()
	if cfg.Venue.BreakerFailures > 0 {
		breaker.FailureThreshold = cfg.Venue.BreakerFailures
	}
	if cfg.Venue.BreakerCooldown.Duration > 0 {
		breaker.Cooldown = cfg.Venue.BreakerCooldown.Duration
	}
	client := httpvenue.New(cfg.Venue.Name, httpvenue.Config{
		BaseURL: cfg.Venue.BaseURL,
		Timeout: cfg.Venue.Timeout.Duration,
		Breaker: breaker,
	}, signer, auth, a.logger)
	return client, client, nil
}

// buildEngine assembles scorer registry, gate, orchestrator and engine.
func (a *App) buildEngine(c *core, deps *Dependencies, venue executor.Submitter) (*engine.Engine, error) {
	cfg := a.cfg

	scorers := scoring.NewRegistry()
	scorers.Register(scoring.NewHeuristic(scoring.HeuristicConfig{
		BaseConfidence: cfg.Scorer.BaseConfidence,
		CrossVenueCap:  cfg.Scorer.CrossVenueCap,
		MaxQuoteAge:    cfg.Scorer.MaxQuoteAge.Duration,
		StartAsset:     cfg.Engine.NotionalAsset,
		Notional:       cfg.Engine.Notional,
		MinVolume:      cfg.Scorer.MinVolume,
	}))

	var trades domain.TradeStore
	if deps.Trades != nil {
		trades = deps.Trades
	}

	orch, err := executor.New(executor.Config{
		Backoff: executor.BackoffPolicy{
			Base:        cfg.Executor.BackoffBase.Duration,
			Multiplier:  cfg.Executor.BackoffMultiplier,
			Max:         cfg.Executor.BackoffMax.Duration,
			MaxAttempts: cfg.Executor.MaxAttempts,
		},
		CallTimeout:     cfg.Executor.CallTimeout.Duration,
		PollInterval:    cfg.Executor.PollInterval.Duration,
		ConfirmTimeout:  cfg.Executor.ConfirmTimeout.Duration,
		ProfitTolerance: cfg.Executor.ProfitTolerance,
		DedupTTL:        cfg.Executor.DedupTTL.Duration,
	}, executor.Deps{
		Venue:   venue,
		Tracker: c.monitor,
		Nonces:  executor.NewNonceManager(deps.Nonces, deps.Locks, cfg.Redis.NonceLockTTL.Duration, a.logger),
		Ledger:  c.ledger,
		Sink:    c.sink,
		Hooks:   finishHooks(c.ledger, c.monitor, c.sink, trades, c.events, a.logger),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: orchestrator: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Interval:      cfg.Engine.Interval.Duration,
		MaxLegs:       cfg.Engine.MaxLegs,
		MinProfit:     cfg.Engine.MinProfit,
		TopN:          cfg.Engine.TopN,
		MaxInFlight:   cfg.Engine.MaxInFlight,
		Notional:      cfg.Engine.Notional,
		NotionalAsset: cfg.Engine.NotionalAsset,
		Accounts:      cfg.Engine.Accounts,
		Scorer:        cfg.Engine.Scorer,
	}, engine.Deps{
		Store:        c.store,
		Scorers:      scorers,
		Gate:         risk.NewGate(c.risk),
		Exposure:     risk.NewExposureBook(),
		Orchestrator: orch,
		PnL:          c.ledger,
		Sink:         c.sink,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: engine: %w", err)
	}
	return eng, nil
}

// TradeMode runs the full pipeline: feed, scan loop, orchestrators and
// monitor. The venue is simulated in paper mode.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.String("mode", a.cfg.Mode))

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}
	venue, breaker, err := a.buildVenue(c.store)
	if err != nil {
		return err
	}
	eng, err := a.buildEngine(c, deps, venue)
	if err != nil {
		return err
	}
	if deps.Trades != nil {
		seedDailyProfit(ctx, c.ledger, deps.Trades, time.Now(), a.logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, c, deps)
	g.Go(func() error { return eng.Run(ctx) })

	if a.cfg.Server.Enabled {
		var breakers []handler.BreakerReporter
		if breaker != nil {
			breakers = append(breakers, breaker)
		}
		a.startHTTPServer(ctx, g, c, deps, eng, breakers)
	}

	a.announce(ctx, deps, "engine started")
	err = g.Wait()
	a.announce(context.WithoutCancel(ctx), deps, "engine stopped")
	return ignoreCanceled(err)
}

type profitSummer interface {
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}

// seedDailyProfit restores today's realized P&L from the trade store so a
// restart does not reset the daily loss limit.
func seedDailyProfit(ctx context.Context, led *ledger.Ledger, trades profitSummer, now time.Time, logger *slog.Logger) {
	since := ledger.StartOfDay(now)
	profit, err := trades.SumProfit(ctx, since)
	if err != nil {
		logger.WarnContext(ctx, "app: daily profit unavailable, starting from zero",
			slog.String("error", err.Error()),
		)
		return
	}
	led.SeedDaily(profit)
	logger.InfoContext(ctx, "app: daily profit restored",
		slog.Float64("profit", profit),
		slog.Time("since", since),
	)
}

// MonitorMode keeps the snapshot store and transaction history live without
// trading. The operator API serves everything except the engine routes.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, c, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, c, deps, nil, nil)
	}
	return ignoreCanceled(g.Wait())
}

// startCore launches the loops every mode shares.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies) {
	for _, run := range c.runners {
		g.Go(func() error { return run(ctx) })
	}
	g.Go(func() error { return c.poller.Run(ctx) })
	g.Go(func() error { return c.monitor.Run(ctx) })
	g.Go(func() error { return watchHealth(ctx, c.monitor, c.sink, c.events, healthCheckInterval) })
	if c.hub != nil {
		g.Go(func() error { return c.hub.Run(ctx) })
	}

	if a.cfgPath != "" {
		w := config.NewWatcher(a.cfgPath, func(next *config.Config) error {
			if err := c.risk.Store(riskConfig(next.Risk)); err != nil {
				return err
			}
			if deps.Audit != nil {
				if err := deps.Audit.Log(ctx, "risk_config_reloaded", map[string]any{
					"confidence_floor": next.Risk.ConfidenceFloor,
					"max_exposure":     next.Risk.MaxExposure,
					"fee_buffer":       next.Risk.FeeBuffer,
					"max_position":     next.Risk.MaxPosition,
					"max_daily_loss":   next.Risk.MaxDailyLoss,
				}); err != nil {
					a.logger.Warn("app: audit log failed", slog.String("error", err.Error()))
				}
			}
			return nil
		}, a.logger)
		g.Go(func() error { return w.Run(ctx) })
	}
}

// startHTTPServer builds the handlers and runs the API server. eng is nil in
// monitor mode.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, c *core, deps *Dependencies, eng *engine.Engine, breakers []handler.BreakerReporter) {
	var (
		history handler.TradeHistory
		archive handler.TxArchiveLookup
		auditor handler.Auditor
		ctrl    handler.EngineController
	)
	if deps.Trades != nil {
		history = deps.Trades
	}
	if deps.Transactions != nil {
		archive = deps.Transactions
	}
	if deps.Audit != nil {
		auditor = deps.Audit
	}
	if eng != nil {
		ctrl = eng
	}

	h := server.Handlers{
		Health:       handler.NewHealthHandler(a.cfg.Mode, c.monitor, deps.Pingers, breakers, a.logger),
		Trades:       handler.NewTradeHandler(c.ledger, history, a.logger),
		Transactions: handler.NewTransactionHandler(c.monitor, archive, a.logger),
		Engine:       handler.NewEngineHandler(ctrl, a.logger),
		Risk:         handler.NewRiskHandler(c.risk, auditor, a.logger),
		Metrics:      c.prom.Handler(),
		Hub:          c.hub,
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, h, deps.Limiter, a.logger)

	g.Go(func() error { return srv.Run(ctx) })
}

func (a *App) announce(ctx context.Context, deps *Dependencies, msg string) {
	if !deps.Notifier.Enabled() {
		return
	}
	if err := deps.Notifier.NotifyAll(ctx, "arbengine", fmt.Sprintf("%s (mode %s)", msg, a.cfg.Mode)); err != nil {
		a.logger.Warn("app: notify failed", slog.String("error", err.Error()))
	}
}

func riskConfig(c config.RiskConfig) risk.Config {
	return risk.Config{
		ConfidenceFloor: c.ConfidenceFloor,
		MaxExposure:     c.MaxExposure,
		FeeBuffer:       c.FeeBuffer,
		MaxPosition:     c.MaxPosition,
		MaxDailyLoss:    c.MaxDailyLoss,
	}
}

// ignoreCanceled treats shutdown by context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
