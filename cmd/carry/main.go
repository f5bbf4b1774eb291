package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gregtusar/carry/api"
	"github.com/gregtusar/carry/internal/config"
	"github.com/gregtusar/carry/internal/logging"
	"github.com/gregtusar/carry/pkg/arbitrage"
	"github.com/gregtusar/carry/pkg/binance"
	"github.com/gregtusar/carry/pkg/monitor"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var _ arbitrage.Exchange = (*binance.Client)(nil)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "carry",
		Short:         "Funding-rate cash-and-carry arbitrage on Binance",
		Long:          `Scans USDⓈ-M perpetuals for stable funding rates and executes spot/futures hedges that collect the funding payment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		scanCmd(),
		executeCmd(),
		balanceCmd(),
		ordersCmd(),
		cancelCmd(),
		tradesCmd(),
		watchCmd(),
		tokenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *binance.Client
}

// bootstrap loads .env, config and the logger. console is where log lines go
// besides the optional rotated file; one-shot commands keep stdout for JSON.
func bootstrap(console io.Writer) (*app, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging, console)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		client: binance.NewClient(cfg.Binance.ClientConfig(), logger),
	}, nil
}

func (a *app) scanner() *arbitrage.Scanner {
	return arbitrage.NewScanner(a.client, a.logger, a.cfg.Scan.Concurrency)
}

func (a *app) stream() *binance.MarkPriceStream {
	ws := a.cfg.Binance.WebSocket
	return binance.NewMarkPriceStream(ws.URL, ws.ReconnectDelay, ws.MaxReconnects, a.logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with live funding monitor and execution events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stdout)
			if err != nil {
				return err
			}
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := api.NewHub(a.logger)
	go func() {
		_ = hub.Run(ctx)
	}()

	executor := arbitrage.NewExecutor(a.client, a.cfg.Trading.ExecutorConfig(), a.logger,
		arbitrage.WithObserver(hub.Publish))

	fundingMonitor := monitor.NewFundingMonitor(a.stream(), decimal.NewFromFloat(a.cfg.Scan.MinFundingRate), nil, a.logger)
	fundingMonitor.Start(ctx)

	server := api.NewServer(a.scanner(), executor, a.client, fundingMonitor, hub, api.Options{
		Port:        a.cfg.Server.Port,
		JWTSecret:   a.cfg.Server.JWTSecret,
		JWTIssuer:   a.cfg.Server.JWTIssuer,
		ScanDefault: a.cfg.Scan.Params(),
	}, a.logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	if a.cfg.Server.JWTSecret == "" {
		a.logger.Warn("API authentication disabled, server.jwt_secret is empty")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	a.logger.Info("Carry is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			a.logger.WithError(err).Error("API server stopped")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Failed to shut down API server cleanly")
	}
	_ = fundingMonitor.Stop()
	cancel()

	a.logger.Info("Carry stopped")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
