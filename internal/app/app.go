package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"verdictd/internal/alerting"
	"verdictd/internal/config"
	"verdictd/internal/extract"
	"verdictd/internal/feed"
	"verdictd/internal/ledger"
	"verdictd/internal/model"
	"verdictd/internal/oracle"
	"verdictd/internal/proof"
	"verdictd/internal/scheduler"
	"verdictd/internal/service"
	"verdictd/internal/state"
	"verdictd/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime holds everything a cycle needs plus the closers for it.
type runtime struct {
	service *service.Service
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) newVerifier() (*oracle.Verifier, func()) {
	oc := a.Config.Oracle
	transport := oracle.NewTransport(oracle.HTTPOptions{
		Timeout:           oc.RequestTimeout,
		UserAgent:         oc.UserAgent,
		CacheTTL:          oc.CacheTTL,
		RequestsPerSecond: oc.RequestsPerSecond,
	})
	th := oracle.Thresholds{
		DecisiveGapPct:        decimal.NewFromFloat(a.Config.Thresholds.DecisiveGapPct),
		WeatherDecisivePoints: decimal.NewFromFloat(a.Config.Thresholds.WeatherDecisivePoints),
	}

	market := oracle.NewMarket(oracle.MarketOptions{
		BaseURL:  oc.Price.BaseURL,
		APIKey:   oc.Price.APIKey,
		AssetIDs: oc.Price.Assets,
	}, transport, a.Logger)

	forecast := oracle.NewForecast(oracle.ForecastOptions{
		BaseURL:       oc.Weather.BaseURL,
		APIKey:        oc.Weather.APIKey,
		ForecastHours: oc.Weather.ForecastHours,
	}, transport, a.Logger)

	tvl := &oracle.TVLStrategy{
		Source: oracle.NewAggregator(oracle.AggregatorOptions{
			BaseURL:    oc.Protocol.TVLBaseURL,
			SampleSize: oc.Protocol.SampleSize,
		}, transport, a.Logger),
		Thresholds: th,
	}

	var gasSteps []oracle.Strategy
	var closers []func()
	for i, url := range []string{a.Config.Ethereum.RPCURL, a.Config.Ethereum.FallbackRPCURL} {
		if strings.TrimSpace(url) == "" {
			continue
		}
		label := "chain-rpc"
		if i > 0 {
			label = "chain-rpc-fallback"
		}
		src := oracle.NewGasRPC(oracle.GasRPCOptions{
			Label:   label,
			RPCURL:  url,
			Timeout: a.Config.Ethereum.RequestTimeout,
		}, transport, a.Logger)
		closers = append(closers, src.Close)
		gasSteps = append(gasSteps, &oracle.GasStrategy{Source: src, Thresholds: th})
	}
	gasSteps = append(gasSteps, tvl)

	verifier := oracle.NewVerifier(oracle.Strategies{
		Price: &oracle.PriceStrategy{Source: market, Thresholds: th},
		Weather: &oracle.WeatherStrategy{
			Source:          forecast,
			DefaultLocation: oc.Weather.DefaultLocation,
			Thresholds:      th,
		},
		Gas: oracle.NewChain(gasSteps...),
		TVL: tvl,
	}, a.Logger)

	return verifier, func() {
		for _, c := range closers {
			c()
		}
	}
}

func (a *App) newExtractor() *extract.Extractor {
	tickers := make([]string, 0, len(a.Config.Oracle.Price.Assets))
	for ticker := range a.Config.Oracle.Price.Assets {
		tickers = append(tickers, ticker)
	}
	ex := extract.New(tickers...)
	a.Logger.Debug().Strs("tickers", ex.Tickers()).Msg("claim extractor ready")
	return ex
}

func (a *App) newFeed() feed.Source {
	fc := a.Config.Feed
	if fc.DemoMode || !fc.Configured() {
		if !fc.DemoMode {
			a.Logger.Warn().Msg("feed.api_key not configured; using demo claims")
		}
		return feed.NewDemo("demo", fc.DemoClaims)
	}
	return feed.NewClient(feed.Options{
		BaseURL:         fc.BaseURL,
		APIKey:          fc.APIKey,
		Submolts:        fc.Submolts,
		PostsPerSubmolt: fc.PostsPerSubmolt,
		Timeout:         fc.RequestTimeout,
		UserAgent:       fc.UserAgent,
	}, a.Logger)
}

func (a *App) newLedgerClient() *proof.Ledger {
	ec := a.Config.Ethereum
	return proof.NewLedger(proof.Options{
		RPCURL:          ec.RPCURL,
		ChainID:         ec.ChainID,
		ContractAddress: ec.ContractAddress,
		PrivateKey:      ec.PrivateKey,
		GasLimit:        ec.GasLimit,
		RequestTimeout:  ec.RequestTimeout,
		ConfirmTimeout:  ec.ConfirmTimeout,
		PollInterval:    ec.PollInterval,
	}, a.Logger)
}

func (a *App) newSubmitter() *proof.Ledger {
	ledgerClient := a.newLedgerClient()
	if !ledgerClient.Configured() {
		a.Logger.Warn().Msg("ethereum.private_key or contract_address not configured; proofs will be skipped")
	} else {
		a.Logger.Info().Str("signer", ledgerClient.From().Hex()).Msg("proof submitter ready")
	}
	return ledgerClient
}

func (a *App) newDispatcher(window *ledger.NotificationWindow) *alerting.Dispatcher {
	ac := a.Config.Alerting
	if !ac.Enabled {
		return alerting.NewDispatcher(window, a.Logger)
	}

	var notifiers []alerting.Notifier
	for _, ch := range ac.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case "feed":
			if a.Config.Feed.DemoMode || !a.Config.Feed.Configured() {
				a.Logger.Info().Msg("feed channel disabled without a live feed")
				continue
			}
			notifiers = append(notifiers, alerting.NewCommentNotifier(
				a.Config.Feed.BaseURL, a.Config.Feed.APIKey, a.Config.Feed.RequestTimeout, a.Logger))
		case "telegram":
			if !ac.Telegram.Enabled {
				continue
			}
			notifiers = append(notifiers, alerting.NewTelegramNotifier(
				ac.Telegram.BotToken, ac.Telegram.ChatID, ac.Telegram.APIBase, 10*time.Second, a.Logger))
		default:
			a.Logger.Warn().Str("channel", ch).Msg("unknown alerting channel ignored")
		}
	}
	return alerting.NewDispatcher(window, a.Logger, notifiers...)
}

func (a *App) openState(ctx context.Context) (*state.Store, error) {
	return state.Open(ctx, a.Config.State.Path, a.Config.State.LogCap)
}

func (a *App) openMirror(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// build wires the orchestrator. sched may be nil for one-shot commands.
func (a *App) build(ctx context.Context, sched *scheduler.Scheduler) (*runtime, error) {
	rt := &runtime{}

	local, err := a.openState(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func() { _ = local.Close() })

	mirror, closeMirror, err := a.openMirror(ctx)
	if err != nil {
		// the local store stays authoritative without the mirror
		a.Logger.Warn().Err(err).Msg("mirror database unavailable; continuing with local state only")
		mirror = nil
	}
	if closeMirror != nil {
		rt.closers = append(rt.closers, closeMirror)
	}

	verifier, closeVerifier := a.newVerifier()
	rt.closers = append(rt.closers, closeVerifier)

	submitter := a.newSubmitter()
	rt.closers = append(rt.closers, submitter.Close)

	window := ledger.NewNotificationWindow(a.Config.Alerting.MaxPerHour, a.Config.Alerting.Window)

	deps := service.Deps{
		Feed:       a.newFeed(),
		Extractor:  a.newExtractor(),
		Verifier:   verifier,
		Submitter:  submitter,
		Dispatcher: a.newDispatcher(window),
		State:      local,
		Processed:  ledger.NewProcessedSet(),
		Window:     window,
	}
	if mirror != nil {
		deps.Mirror = mirror
		deps.Locker = mirror
	}

	writer, _ := os.Hostname()
	rt.service = service.New(deps, service.Options{
		AgentLabel:   a.Config.App.AgentLabel,
		ClaimDelay:   a.Config.Scheduler.ClaimDelay,
		LockKey:      a.Config.Scheduler.AdvisoryLockKey,
		ExplorerURL:  a.Config.Ethereum.ExplorerURL,
		Writer:       fmt.Sprintf("%s/%s", a.Config.App.Name, writer),
		LogCap:       a.Config.State.LogCap,
		NotifyWindow: a.Config.Alerting.Window,
	}, sched, a.Logger)

	if err := rt.service.Restore(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Run executes the long-running verification service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	rt, err := a.build(ctx, sched)
	if err != nil {
		return err
	}
	defer rt.Close()

	// SIGUSR1 requests a cycle right away
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				if !sched.Trigger() {
					a.Logger.Info().Msg("manual cycle already pending")
				}
			}
		}
	}()

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting verification service")
	err = rt.service.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("verification service stopped")
	return nil
}

// ExportOptions hold parameters for exporting verdict history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Verdict   model.Verdict
	LocalOnly bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Mirror  bool
	Onchain bool
}
