package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AmbossTech/banco-swaps/internal/config"
	"github.com/AmbossTech/banco-swaps/internal/core/application"
	"github.com/AmbossTech/banco-swaps/internal/infrastructure/covenant"
	badgerdb "github.com/AmbossTech/banco-swaps/internal/infrastructure/db/badger"
	inmemorylocker "github.com/AmbossTech/banco-swaps/internal/infrastructure/locker/inmemory"
	"github.com/AmbossTech/banco-swaps/internal/infrastructure/notifier"
	scheduler "github.com/AmbossTech/banco-swaps/internal/infrastructure/scheduler/gocron"
	"github.com/AmbossTech/banco-swaps/pkg/boltz"
	"github.com/AmbossTech/banco-swaps/pkg/swap"

	log "github.com/sirupsen/logrus"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	log.Infof("starting banco-swapd %s (%s, %s)", version, commit, date)

	repo, err := badgerdb.NewSwapRepository(cfg.Datadir, nil)
	if err != nil {
		log.WithError(err).Fatal("failed to open swap store")
	}

	api := &boltz.Api{URL: cfg.BoltzURL, WSURL: cfg.BoltzWSURL}

	btcNet, err := cfg.BitcoinNetwork()
	if err != nil {
		log.WithError(err).Fatal("invalid network")
	}
	liquidNet, err := cfg.LiquidNetwork()
	if err != nil {
		log.WithError(err).Fatal("invalid network")
	}

	liquidEngine, err := swap.NewLiquidEngine(api, liquidNet, cfg.FeeRateSatVb)
	if err != nil {
		log.WithError(err).Fatal("failed to init liquid signing engine")
	}
	engines := map[boltz.Currency]application.ClaimEngine{
		boltz.CurrencyBtc:    swap.NewBtcEngine(api, btcNet, cfg.FeeRateSatVb),
		boltz.CurrencyLiquid: liquidEngine,
	}

	svc := application.NewSwapService(
		repo,
		api,
		inmemorylocker.NewService(),
		notifier.NewLogNotifier(),
		covenant.NewHTTPClient(cfg.CovenantURL),
		scheduler.NewScheduler(),
		engines,
		application.ServiceConfig{
			WalletChain:     cfg.WalletChain(),
			EnableWebsocket: cfg.EnableWebsocket,
			LimitsTTL:       cfg.LimitsTTL(),
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start swap service")
	}

	log.RegisterExitHandler(svc.Stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Info("shutting down...")
	cancel()
	log.Exit(0)
}
