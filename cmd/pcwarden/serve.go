package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pcwarden/pcwarden/pkg/auth"
	"github.com/pcwarden/pcwarden/pkg/bot"
	"github.com/pcwarden/pcwarden/pkg/config"
	"github.com/pcwarden/pcwarden/pkg/dota"
	"github.com/pcwarden/pcwarden/pkg/gateway"
	"github.com/pcwarden/pcwarden/pkg/health"
	"github.com/pcwarden/pcwarden/pkg/notify"
	"github.com/pcwarden/pcwarden/pkg/pcman"
	"github.com/pcwarden/pcwarden/pkg/speech"
	"github.com/pcwarden/pcwarden/pkg/store"
	"github.com/pcwarden/pcwarden/pkg/wol"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot",
	Long:  `Connect to Telegram and serve bot commands until interrupted.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// service is the shared lifecycle of the long-running components.
type service interface {
	Start(ctx context.Context) error
	Stop() error
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// The --log-level flag wins over the config file.
	if logLevel == "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	st := store.NewStore(log, &cfg.Database)
	gw := gateway.NewTelegram(log, cfg.Telegram.Token)
	evaluator := auth.NewEvaluator(log, st, cfg.Telegram.AdminIDs)
	notifier := notify.NewNotifier(log, gw, st, cfg.Telegram.AdminIDs)

	controller, err := pcman.NewController(log, &cfg.PC)
	if err != nil {
		return fmt.Errorf("creating pc controller: %w", err)
	}

	var waker *wol.Waker

	if cfg.PC.MACAddress != "" {
		waker, err = wol.NewWaker(
			log, cfg.PC.MACAddress, cfg.PC.BroadcastAddress, cfg.PC.WOLPort,
		)
		if err != nil {
			return fmt.Errorf("creating waker: %w", err)
		}
	} else {
		log.Info("No MAC address configured, Wake-on-LAN disabled")
	}

	var dotaClient *dota.Client

	if cfg.Dota.Enabled {
		dotaClient = dota.NewClient(log, &cfg.Dota)
	}

	b := bot.New(log, bot.Deps{
		Config:   cfg,
		Gateway:  gw,
		Store:    st,
		Auth:     evaluator,
		Notifier: notifier,
		PC:       controller,
		Waker:    waker,
		Dota:     dotaClient,
		Speech:   speech.NewWhisper(log),
	})

	services := []service{
		st,
		gw,
		b,
		dota.NewMonitor(log, cfg, st, notifier, controller, dotaClient),
	}

	if cfg.Health.Enabled {
		services = append(services, health.NewServer(log, &cfg.Health, st))
	}

	started := make([]service, 0, len(services))

	stopAll := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(); err != nil {
				log.WithError(err).Warn("Component shutdown failed")
			}
		}
	}

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			stopAll()

			return fmt.Errorf("starting services: %w", err)
		}

		started = append(started, svc)
	}

	log.WithField("version", version).Info("pcwarden is running")

	<-ctx.Done()

	log.Info("Shutting down")
	stopAll()

	return nil
}
