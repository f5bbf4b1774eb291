package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gregtusar/carry/pkg/arbitrage"
	"github.com/gregtusar/carry/pkg/binance"
	"github.com/gregtusar/carry/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultTradeLimit = 500
	maxTradeLimit     = 1000
)

type OpportunityScanner interface {
	Scan(ctx context.Context, params arbitrage.ScanParams) ([]models.OpportunityCandidate, error)
}

type HedgeExecutor interface {
	Execute(ctx context.Context, symbol string, quantity decimal.Decimal) (*models.ExecutionReport, error)
}

// AccountService is the slice of *binance.Client the read and cancel
// endpoints need.
type AccountService interface {
	Balances(ctx context.Context) ([]models.Balance, error)
	AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]models.OpenOrder, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetTradeHistory(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
}

type FundingSnapshotter interface {
	Snapshots() []models.MarkPrice
}

type Options struct {
	Port        int
	JWTSecret   string
	JWTIssuer   string
	ScanDefault arbitrage.ScanParams
}

type Server struct {
	scanner  OpportunityScanner
	executor HedgeExecutor
	account  AccountService
	funding  FundingSnapshotter
	hub      *Hub
	opts     Options
	logger   *logrus.Logger
	http     *http.Server
}

// NewServer wires the HTTP front-end. funding and hub may be nil, in which
// case /api/funding and /api/ws are not served.
func NewServer(scanner OpportunityScanner, executor HedgeExecutor, account AccountService, funding FundingSnapshotter, hub *Hub, opts Options, logger *logrus.Logger) *Server {
	s := &Server{
		scanner:  scanner,
		executor: executor,
		account:  account,
		funding:  funding,
		hub:      hub,
		opts:     opts,
		logger:   logger,
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/opportunities", s.handleOpportunities)
	mux.HandleFunc("/api/executions", s.handleExecutions)
	mux.HandleFunc("/api/balance", s.handleBalance)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/trades", s.handleTrades)
	if s.funding != nil {
		mux.HandleFunc("/api/funding", s.handleFunding)
	}
	if s.hub != nil {
		mux.HandleFunc("/api/ws", s.hub.HandleWS)
	}

	return corsMiddleware(authMiddleware(s.opts.JWTSecret, s.opts.JWTIssuer, s.logger, mux))
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %d", s.opts.Port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.hub != nil {
		response["ws_clients"] = s.hub.ClientCount()
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	params, err := scanParamsFromQuery(r, s.opts.ScanDefault)
	if err != nil {
		writeError(w, s.logger, http.StatusBadRequest, err.Error())
		return
	}

	candidates, err := s.scanner.Scan(r.Context(), params)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, candidates)
}

type executionRequest struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

type executionFailure struct {
	Error  string                  `json:"error"`
	Report *models.ExecutionReport `json:"report,omitempty"`
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req executionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Symbol) == "" {
		writeError(w, s.logger, http.StatusBadRequest, "symbol is required")
		return
	}

	// Once the first leg is sent the hedge must be allowed to finish even if
	// the caller hangs up.
	ctx := context.WithoutCancel(r.Context())
	report, err := s.executor.Execute(ctx, req.Symbol, req.Quantity)
	if err != nil {
		s.writeJSON(w, executionStatus(err), executionFailure{Error: err.Error(), Report: report})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func executionStatus(err error) int {
	switch {
	case errors.Is(err, arbitrage.ErrInvalidParams), errors.Is(err, arbitrage.ErrInvalidSymbol):
		return http.StatusBadRequest
	case errors.Is(err, arbitrage.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, arbitrage.ErrDataUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusConflict
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	asset := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("asset")))
	if asset == "" {
		balances, err := s.account.Balances(r.Context())
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, balances)
		return
	}

	free, err := s.account.AssetBalance(r.Context(), asset)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, models.Balance{Asset: asset, Free: free})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))

	switch r.Method {
	case http.MethodGet:
		orders, err := s.account.GetOpenOrders(r.Context(), symbol)
		if err != nil {
			s.writeFailure(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, orders)

	case http.MethodDelete:
		if symbol == "" {
			writeError(w, s.logger, http.StatusBadRequest, "symbol is required")
			return
		}
		orderID, err := strconv.ParseInt(r.URL.Query().Get("order_id"), 10, 64)
		if err != nil || orderID <= 0 {
			writeError(w, s.logger, http.StatusBadRequest, "order_id must be a positive integer")
			return
		}
		if err := s.account.CancelOrder(r.Context(), symbol, orderID); err != nil {
			s.writeFailure(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"symbol":   symbol,
			"order_id": orderID,
			"status":   models.OrderStatusCanceled,
		})

	default:
		s.methodNotAllowed(w)
	}
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, s.logger, http.StatusBadRequest, "symbol is required")
		return
	}
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTradeLimit {
			writeError(w, s.logger, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxTradeLimit))
			return
		}
		limit = n
	}

	trades, err := s.account.GetTradeHistory(r.Context(), symbol, limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}
	s.writeJSON(w, http.StatusOK, s.funding.Snapshots())
}

func scanParamsFromQuery(r *http.Request, defaults arbitrage.ScanParams) (arbitrage.ScanParams, error) {
	q := r.URL.Query()
	params := defaults

	if raw := q.Get("min_funding_rate"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return params, fmt.Errorf("min_funding_rate: %w", err)
		}
		params.MinFundingRate = v
	}
	if raw := q.Get("min_avg_volume"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return params, fmt.Errorf("min_avg_volume: %w", err)
		}
		params.MinAvgVolume = v
	}
	if raw := q.Get("history_days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return params, fmt.Errorf("history_days: %w", err)
		}
		params.HistoryDays = v
	}
	if raw := q.Get("stability_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return params, fmt.Errorf("stability_threshold: %w", err)
		}
		params.StabilityThreshold = v
	}
	return params, params.Validate()
}

// writeFailure maps engine and exchange errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *binance.APIError
	switch {
	case errors.Is(err, arbitrage.ErrInvalidParams), errors.Is(err, arbitrage.ErrInvalidSymbol):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		status = http.StatusBadRequest
	case errors.As(err, &apiErr),
		errors.Is(err, arbitrage.ErrDataUnavailable),
		errors.Is(err, models.ErrMalformedResponse):
		status = http.StatusBadGateway
	}

	s.logger.WithError(err).WithField("status", status).Error("API request failed")
	writeError(w, s.logger, status, err.Error())
}

func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, s.logger, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, s.logger, status, data)
}

func writeError(w http.ResponseWriter, logger *logrus.Logger, status int, msg string) {
	writeJSON(w, logger, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, logger *logrus.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
	}
}
