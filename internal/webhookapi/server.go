// Package webhookapi exposes the webhook processor and the buyer read API over HTTP.
package webhookapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
	"github.com/MarkoPoloResearchLab/paywebhook/internal/webhook"
	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	maxHistoryLimit  = 100
)

// LedgerReader is the read side of the purchase ledger.
type LedgerReader interface {
	Balance(ctx context.Context, buyerID purchase.BuyerID) (purchase.AccountBalance, error)
	ListTransactions(ctx context.Context, buyerID purchase.BuyerID, beforeUnixUTC int64, limit int) ([]purchase.Transaction, error)
}

// Dependencies are the collaborators the HTTP server routes to.
type Dependencies struct {
	Processor *webhook.Processor
	Ledger    LedgerReader
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// Run serves HTTP until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhook api listening", zap.String("addr", cfg.ListenAddr), zap.String("webhook_path", cfg.WebhookPath))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine. cfg must already be validated.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Processor == nil {
		return nil, fmt.Errorf("webhook processor is required")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger reader is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	handler := &httpHandler{cfg: cfg, processor: deps.Processor, ledger: deps.Ledger, logger: deps.Logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	router.POST(cfg.WebhookPath, handler.handleWebhook)

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))
	api.GET("/balance", handler.handleBalance)
	api.GET("/transactions", handler.handleTransactions)

	return router, nil
}

type httpHandler struct {
	cfg       Config
	processor *webhook.Processor
	ledger    LedgerReader
	logger    *zap.Logger
}

func (handler *httpHandler) handleWebhook(ctx *gin.Context) {
	delivery := webhook.Delivery{Headers: signature.HeadersFromHTTP(ctx.Request.Header)}
	body, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, handler.cfg.MaxBodyBytes))
	if err != nil {
		result := handler.processor.Reject(delivery, webhook.ReasonBadPayload, fmt.Errorf("read body: %w", err))
		ctx.JSON(result.HTTPStatus(), webhookResponse(result))
		return
	}
	delivery.Body = body
	result := handler.processor.Process(ctx.Request.Context(), delivery)
	ctx.JSON(result.HTTPStatus(), webhookResponse(result))
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	buyerID, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.ReadTimeout)
	defer cancel()
	balance, err := handler.ledger.Balance(requestCtx, buyerID)
	if err != nil {
		handler.respondLedgerError(ctx, "balance read failed", err)
		return
	}
	ctx.JSON(http.StatusOK, balancePayload{BuyerID: balance.BuyerID.String(), CreditBalance: balance.CreditBalance.Int64()})
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	buyerID, ok := handler.sessionBuyer(ctx)
	if !ok {
		return
	}
	limit, err := parseIntQuery(ctx, "limit", defaultHistoryLimit)
	if err != nil || limit <= 0 || limit > maxHistoryLimit {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)))
		return
	}
	before, err := parseIntQuery(ctx, "before_unix_utc", 0)
	if err != nil || before < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_cursor", "before_unix_utc must be a non-negative integer"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.ReadTimeout)
	defer cancel()
	transactions, err := handler.ledger.ListTransactions(requestCtx, buyerID, before, int(limit))
	if err != nil {
		handler.respondLedgerError(ctx, "transaction list failed", err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayload{
			TransactionID:         transaction.TransactionID.String(),
			ProviderTransactionID: transaction.ProviderTransactionID.String(),
			Plan:                  transaction.Plan.String(),
			Credits:               transaction.Credits.Int64(),
			AmountMinorUnits:      transaction.AmountMinorUnits.Int64(),
			SourceEventKind:       transaction.SourceEventKind.String(),
			Metadata:              json.RawMessage(transaction.Metadata.String()),
			CreatedUnixUTC:        transaction.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payload})
}

func (handler *httpHandler) sessionBuyer(ctx *gin.Context) (purchase.BuyerID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return purchase.BuyerID{}, false
	}
	buyerID, err := purchase.NewBuyerID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user id"))
		return purchase.BuyerID{}, false
	}
	return buyerID, true
}

func (handler *httpHandler) respondLedgerError(ctx *gin.Context, message string, err error) {
	handler.logger.Error(message, zap.Error(err))
	if purchase.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("ledger_unavailable", message))
		return
	}
	ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", message))
}

func parseIntQuery(ctx *gin.Context, name string, fallback int64) (int64, error) {
	raw, present := ctx.GetQuery(name)
	if !present || raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func webhookResponse(result webhook.Result) gin.H {
	response := gin.H{"status": string(result.State)}
	if result.Reason != webhook.ReasonNone {
		response["reason"] = string(result.Reason)
	}
	return response
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type balancePayload struct {
	BuyerID       string `json:"buyer_id"`
	CreditBalance int64  `json:"credit_balance"`
}

type transactionPayload struct {
	TransactionID         string          `json:"transaction_id"`
	ProviderTransactionID string          `json:"provider_transaction_id"`
	Plan                  string          `json:"plan"`
	Credits               int64           `json:"credits"`
	AmountMinorUnits      int64           `json:"amount_minor_units"`
	SourceEventKind       string          `json:"source_event_kind"`
	Metadata              json.RawMessage `json:"metadata"`
	CreatedUnixUTC        int64           `json:"created_unix_utc"`
}
