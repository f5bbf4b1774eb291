package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gregtusar/carry/api"
	"github.com/gregtusar/carry/pkg/arbitrage"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/gregtusar/carry/pkg/monitor"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func scanCmd() *cobra.Command {
	var (
		minRate   string
		minVolume string
		days      int
		stability float64
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rank perpetuals by funding rate, volume and stability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}

			params := a.cfg.Scan.Params()
			flags := cmd.Flags()
			if flags.Changed("min-funding-rate") {
				if params.MinFundingRate, err = decimal.NewFromString(minRate); err != nil {
					return fmt.Errorf("--min-funding-rate: %w", err)
				}
			}
			if flags.Changed("min-avg-volume") {
				if params.MinAvgVolume, err = decimal.NewFromString(minVolume); err != nil {
					return fmt.Errorf("--min-avg-volume: %w", err)
				}
			}
			if flags.Changed("history-days") {
				params.HistoryDays = days
			}
			if flags.Changed("stability-threshold") {
				params.StabilityThreshold = stability
			}

			ctx, cancel := signalContext()
			defer cancel()

			candidates, err := a.scanner().Scan(ctx, params)
			if err != nil {
				return err
			}
			return printJSON(candidates)
		},
	}

	cmd.Flags().StringVar(&minRate, "min-funding-rate", "", "minimum |funding rate| (default from config)")
	cmd.Flags().StringVar(&minVolume, "min-avg-volume", "", "minimum 24h quote volume (default from config)")
	cmd.Flags().IntVar(&days, "history-days", 0, "days of funding history to score (default from config)")
	cmd.Flags().Float64Var(&stability, "stability-threshold", 0, "minimum share of same-sign funding events (default from config)")
	return cmd
}

func executeCmd() *cobra.Command {
	var (
		symbol   string
		quantity string
	)

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Open, hold and unwind one funding hedge",
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(quantity)
			if err != nil {
				return fmt.Errorf("--quantity: %w", err)
			}

			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			executor := arbitrage.NewExecutor(a.client, a.cfg.Trading.ExecutorConfig(), a.logger)
			report, execErr := executor.Execute(ctx, symbol, qty)
			if report != nil {
				if err := printJSON(report); err != nil {
					return err
				}
			}
			return execErr
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "perpetual symbol, e.g. BTCUSDT")
	cmd.Flags().StringVar(&quantity, "quantity", "", "base asset quantity; capped at the free balance")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("quantity")
	return cmd
}

func balanceCmd() *cobra.Command {
	var asset string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show spot balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if asset == "" {
				balances, err := a.client.Balances(ctx)
				if err != nil {
					return err
				}
				return printJSON(balances)
			}

			asset = strings.ToUpper(asset)
			free, err := a.client.AssetBalance(ctx, asset)
			if err != nil {
				return err
			}
			return printJSON(models.Balance{Asset: asset, Free: free})
		},
	}

	cmd.Flags().StringVar(&asset, "asset", "", "single asset to show, e.g. BTC")
	return cmd
}

func ordersCmd() *cobra.Command {
	var symbol string

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List open spot orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			orders, err := a.client.GetOpenOrders(ctx, strings.ToUpper(symbol))
			if err != nil {
				return err
			}
			return printJSON(orders)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "restrict to one symbol")
	return cmd
}

func cancelCmd() *cobra.Command {
	var (
		symbol  string
		orderID int64
	)

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an open spot order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orderID <= 0 {
				return errors.New("--order-id must be positive")
			}
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			symbol = strings.ToUpper(symbol)
			if err := a.client.CancelOrder(ctx, symbol, orderID); err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"symbol":   symbol,
				"order_id": orderID,
				"status":   models.OrderStatusCanceled,
			})
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "order symbol")
	cmd.Flags().Int64Var(&orderID, "order-id", 0, "exchange order id")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func tradesCmd() *cobra.Command {
	var (
		symbol string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show recent own spot trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > 1000 {
				return errors.New("--limit must be between 1 and 1000")
			}
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			trades, err := a.client.GetTradeHistory(ctx, strings.ToUpper(symbol), limit)
			if err != nil {
				return err
			}
			return printJSON(trades)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "trade symbol")
	cmd.Flags().IntVar(&limit, "limit", 500, "number of trades (max 1000)")
	_ = cmd.MarkFlagRequired("symbol")
	return cmd
}

func watchCmd() *cobra.Command {
	var minRate string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live funding rates above a floor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}

			floor := decimal.NewFromFloat(a.cfg.Scan.MinFundingRate)
			if cmd.Flags().Changed("min-funding-rate") {
				if floor, err = decimal.NewFromString(minRate); err != nil {
					return fmt.Errorf("--min-funding-rate: %w", err)
				}
			}

			enc := json.NewEncoder(os.Stdout)
			fundingMonitor := monitor.NewFundingMonitor(a.stream(), floor, func(prices []models.MarkPrice) {
				for _, p := range prices {
					if err := enc.Encode(p); err != nil {
						a.logger.WithError(err).Error("Failed to write mark price")
					}
				}
			}, a.logger)

			ctx, cancel := signalContext()
			defer cancel()
			fundingMonitor.Start(ctx)

			select {
			case <-ctx.Done():
				err := fundingMonitor.Stop()
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case <-fundingMonitor.Done():
				return fundingMonitor.Err()
			}
		},
	}

	cmd.Flags().StringVar(&minRate, "min-funding-rate", "", "minimum |funding rate| to print (default from config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(os.Stderr)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			token, err := api.IssueToken(a.cfg.Server.JWTSecret, a.cfg.Server.JWTIssuer, subject, ttl, now)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"token":      token,
				"subject":    subject,
				"expires_at": now.Add(ttl),
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
