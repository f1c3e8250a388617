package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/primestake/ledger/internal/invest"
	"github.com/primestake/ledger/internal/referral"
	"github.com/primestake/ledger/pkg/ledger"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// LedgerAPI is the slice of the ledger engine the HTTP layer exposes.
type LedgerAPI interface {
	Deposit(ctx context.Context, userID ledger.UserID, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.CreditResult, error)
	Transfer(ctx context.Context, fromUserID, toUserID ledger.UserID, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey, metadata ledger.MetadataJSON) (ledger.TransferResult, error)
	RequestWithdrawal(ctx context.Context, userID ledger.UserID, amount ledger.Amount, destination string) (ledger.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, withdrawalID string, idempotencyKey ledger.IdempotencyKey) (ledger.WithdrawalResult, error)
	RejectWithdrawal(ctx context.Context, withdrawalID string) (ledger.Withdrawal, error)
	Balance(ctx context.Context, userID ledger.UserID) (ledger.Balance, error)
	ListEntries(ctx context.Context, userID ledger.UserID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error)
}

// InvestmentAPI is the lifecycle surface for investments.
type InvestmentAPI interface {
	Create(ctx context.Context, userID ledger.UserID, planID string, amount ledger.Amount, idempotencyKey ledger.IdempotencyKey) (ledger.InvestmentResult, error)
	Get(ctx context.Context, investmentID string) (ledger.Investment, error)
	Cancel(ctx context.Context, investmentID string, penalty decimal.Decimal) (invest.CancelResult, error)
}

// ReferralAPI is the referral management surface.
type ReferralAPI interface {
	CreateReferral(ctx context.Context, referrerID, referredUserID ledger.UserID, level int, bonusPercentage decimal.Decimal, bonusStartUnixUTC, bonusEndUnixUTC int64) (ledger.Referral, error)
	Get(ctx context.Context, referralID string) (ledger.Referral, error)
}

// PlanCatalog reads and writes the investment plan catalog.
type PlanCatalog interface {
	ListPlans(ctx context.Context) ([]ledger.Plan, error)
	CreatePlan(ctx context.Context, plan ledger.Plan) error
}

// Server is the HTTP façade over the ledger core.
type Server struct {
	logger      *zap.Logger
	engine      LedgerAPI
	investments InvestmentAPI
	referrals   ReferralAPI
	plans       PlanCatalog
	cfg         Config
}

// New wires a Server.
func New(cfg Config, logger *zap.Logger, engine LedgerAPI, investments InvestmentAPI, referrals ReferralAPI, plans PlanCatalog) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:      logger,
		engine:      engine,
		investments: investments,
		referrals:   referrals,
		plans:       plans,
		cfg:         cfg,
	}
}

// Router builds the gin handler tree.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.Use(authMiddleware([]byte(server.cfg.JWTSigningKey)))

	api.GET("/balance", server.handleBalance)
	api.GET("/entries", server.handleListEntries)
	api.POST("/deposits", server.handleDeposit)
	api.POST("/transfers", server.handleTransfer)
	api.POST("/withdrawals", server.handleRequestWithdrawal)
	api.GET("/plans", server.handleListPlans)
	api.POST("/investments", server.handleCreateInvestment)
	api.GET("/investments/:id", server.handleGetInvestment)

	admin := api.Group("")
	admin.Use(requireAdmin())
	admin.POST("/withdrawals/:id/approve", server.handleApproveWithdrawal)
	admin.POST("/withdrawals/:id/reject", server.handleRejectWithdrawal)
	admin.POST("/investments/:id/cancel", server.handleCancelInvestment)
	admin.POST("/plans", server.handleCreatePlan)
	admin.POST("/referrals", server.handleCreateReferral)

	return router
}

// Run serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("http listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := server.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			server.logger.Warn("server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) handleBalance(ctx *gin.Context) {
	userID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	balance, err := server.engine.Balance(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balancePayload{
		Current:       balance.Current.String(),
		TotalEarnings: balance.TotalEarnings.String(),
		Version:       balance.Version,
	})
}

func (server *Server) handleListEntries(ctx *gin.Context) {
	userID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	before, err := strconv.ParseInt(ctx.DefaultQuery("before", "0"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", "before must be a unix timestamp"))
		return
	}
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_query", "limit must be a positive integer"))
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := server.engine.ListEntries(ctx.Request.Context(), userID, before, limit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayloadFor(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (server *Server) handleDeposit(ctx *gin.Context) {
	userID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	var request depositRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, key, metadata, ok := server.bindMoneyRequest(ctx, request.Amount, request.IdempotencyKey, request.Metadata)
	if !ok {
		return
	}
	result, err := server.engine.Deposit(ctx.Request.Context(), userID, amount, key, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(statusForReplay(result.Replayed), creditPayloadFor(result))
}

func (server *Server) handleTransfer(ctx *gin.Context) {
	fromUserID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	var request transferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	toUserID, err := ledger.NewUserID(request.ToUserID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	amount, key, metadata, ok := server.bindMoneyRequest(ctx, request.Amount, request.IdempotencyKey, request.Metadata)
	if !ok {
		return
	}
	result, err := server.engine.Transfer(ctx.Request.Context(), fromUserID, toUserID, amount, key, metadata)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(statusForReplay(result.Replayed), transferPayload{
		TransferID:  result.Transfer.TransferID,
		FromUserID:  result.Transfer.FromUserID,
		ToUserID:    result.Transfer.ToUserID,
		Amount:      result.Transfer.Amount.String(),
		Status:      string(result.Transfer.Status),
		FromBalance: result.FromBalance.String(),
		Replayed:    result.Replayed,
	})
}

func (server *Server) handleRequestWithdrawal(ctx *gin.Context) {
	userID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	var request withdrawalRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := ledger.NewAmountFromString(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	withdrawal, err := server.engine.RequestWithdrawal(ctx.Request.Context(), userID, amount, request.Destination)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, withdrawalPayloadFor(withdrawal))
}

func (server *Server) handleApproveWithdrawal(ctx *gin.Context) {
	var request approveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.engine.ApproveWithdrawal(ctx.Request.Context(), ctx.Param("id"), key)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := withdrawalPayloadFor(result.Withdrawal)
	payload.NewBalance = result.NewBalance.String()
	payload.Replayed = result.Replayed
	ctx.JSON(http.StatusOK, payload)
}

func (server *Server) handleRejectWithdrawal(ctx *gin.Context) {
	withdrawal, err := server.engine.RejectWithdrawal(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, withdrawalPayloadFor(withdrawal))
}

func (server *Server) handleListPlans(ctx *gin.Context) {
	plans, err := server.plans.ListPlans(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]planPayload, 0, len(plans))
	for _, plan := range plans {
		payload = append(payload, planPayload{
			PlanID:            plan.PlanID,
			Name:              plan.Name,
			MinimumInvestment: plan.MinimumInvestment.String(),
			ROIPercentage:     plan.ROIPercentage.String(),
			DurationDays:      plan.DurationDays,
			ROIIntervalDays:   plan.ROIIntervalDays,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"plans": payload})
}

func (server *Server) handleCreatePlan(ctx *gin.Context) {
	var request planRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	minimum, err := decimal.NewFromString(request.MinimumInvestment)
	if err != nil || !minimum.IsPositive() {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "minimum_investment must be a positive decimal"))
		return
	}
	roi, err := decimal.NewFromString(request.ROIPercentage)
	if err != nil || !roi.IsPositive() {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "roi_percentage must be a positive decimal"))
		return
	}
	if request.PlanID == "" || request.DurationDays <= 0 || request.ROIIntervalDays <= 0 || request.ROIIntervalDays > request.DurationDays {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "plan_id, duration_days, and roi_interval_days must be set"))
		return
	}
	plan := ledger.Plan{
		PlanID:            request.PlanID,
		Name:              request.Name,
		MinimumInvestment: minimum,
		ROIPercentage:     roi,
		DurationDays:      request.DurationDays,
		ROIIntervalDays:   request.ROIIntervalDays,
	}
	if err := server.plans.CreatePlan(ctx.Request.Context(), plan); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"plan_id": plan.PlanID})
}

func (server *Server) handleCreateInvestment(ctx *gin.Context) {
	userID, ok := server.bindUserID(ctx)
	if !ok {
		return
	}
	var request investmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	amount, err := ledger.NewAmountFromString(request.Amount)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	result, err := server.investments.Create(ctx.Request.Context(), userID, request.PlanID, amount, key)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(statusForReplay(result.Replayed), investmentPayloadFor(result.Investment, result.NewBalance.String(), result.Replayed))
}

func (server *Server) handleGetInvestment(ctx *gin.Context) {
	investment, err := server.investments.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	if investment.UserID != authenticatedUserID(ctx) && ctx.GetString(contextKeyRole) != roleAdmin {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "not your investment"))
		return
	}
	ctx.JSON(http.StatusOK, investmentPayloadFor(investment, "", false))
}

func (server *Server) handleCancelInvestment(ctx *gin.Context) {
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	penalty := decimal.Zero
	if request.Penalty != "" {
		parsed, err := decimal.NewFromString(request.Penalty)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "penalty must be a decimal"))
			return
		}
		penalty = parsed
	}
	result, err := server.investments.Cancel(ctx.Request.Context(), ctx.Param("id"), penalty)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"investment_id":     result.Investment.InvestmentID,
		"status":            result.Investment.Status.String(),
		"refunded":          result.Refunded.String(),
		"already_cancelled": result.AlreadyCancelled,
	})
}

func (server *Server) handleCreateReferral(ctx *gin.Context) {
	var request referralRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	referrerID, err := ledger.NewUserID(request.ReferrerID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	referredID, err := ledger.NewUserID(request.ReferredUserID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	rate, err := decimal.NewFromString(request.BonusPercentage)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "bonus_percentage must be a decimal"))
		return
	}
	created, err := server.referrals.CreateReferral(
		ctx.Request.Context(),
		referrerID, referredID,
		request.Level, rate,
		request.BonusStartUnixUTC, request.BonusEndUnixUTC,
	)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"referral_id": created.ReferralID,
		"status":      created.Status.String(),
	})
}

func (server *Server) bindUserID(ctx *gin.Context) (ledger.UserID, bool) {
	userID, err := ledger.NewUserID(authenticatedUserID(ctx))
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid subject"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (server *Server) bindMoneyRequest(ctx *gin.Context, rawAmount, rawKey, rawMetadata string) (ledger.Amount, ledger.IdempotencyKey, ledger.MetadataJSON, bool) {
	amount, err := ledger.NewAmountFromString(rawAmount)
	if err != nil {
		server.respondError(ctx, err)
		return ledger.Amount{}, ledger.IdempotencyKey{}, ledger.MetadataJSON{}, false
	}
	key, err := ledger.NewIdempotencyKey(rawKey)
	if err != nil {
		server.respondError(ctx, err)
		return ledger.Amount{}, ledger.IdempotencyKey{}, ledger.MetadataJSON{}, false
	}
	metadata, err := ledger.NewMetadataJSON(rawMetadata)
	if err != nil {
		server.respondError(ctx, err)
		return ledger.Amount{}, ledger.IdempotencyKey{}, ledger.MetadataJSON{}, false
	}
	return amount, key, metadata, true
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

// statusForError maps the domain error taxonomy onto HTTP statuses: missing
// aggregates are 404, rejected inputs and state machine violations are 400,
// idempotency and uniqueness collisions are 409, lost leases after retry
// exhaustion are 503.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrTransferNotFound),
		errors.Is(err, ledger.ErrWithdrawalNotFound),
		errors.Is(err, ledger.ErrInvestmentNotFound),
		errors.Is(err, ledger.ErrPlanNotFound),
		errors.Is(err, ledger.ErrReferralNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrContention):
		return http.StatusServiceUnavailable, "contention"
	case errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrReferralExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrSelfTransfer),
		errors.Is(err, ledger.ErrInvalidState),
		errors.Is(err, ledger.ErrBelowMinimum),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidUserID),
		errors.Is(err, ledger.ErrInvalidIdempotencyKey),
		errors.Is(err, ledger.ErrInvalidMetadataJSON),
		errors.Is(err, invest.ErrInvalidPenalty),
		errors.Is(err, invest.ErrNotDue),
		errors.Is(err, referral.ErrSelfReferral),
		errors.Is(err, referral.ErrInvalidLevel),
		errors.Is(err, referral.ErrInvalidBonusRate),
		errors.Is(err, referral.ErrInvalidBonusWindow):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal"
}

func statusForReplay(replayed bool) int {
	if replayed {
		return http.StatusOK
	}
	return http.StatusCreated
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type depositRequest struct {
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata"`
}

type transferRequest struct {
	ToUserID       string `json:"to_user_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata"`
}

type withdrawalRequest struct {
	Amount      string `json:"amount"`
	Destination string `json:"destination"`
}

type approveRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

type investmentRequest struct {
	PlanID         string `json:"plan_id"`
	Amount         string `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type cancelRequest struct {
	Penalty string `json:"penalty"`
}

type planRequest struct {
	PlanID            string `json:"plan_id"`
	Name              string `json:"name"`
	MinimumInvestment string `json:"minimum_investment"`
	ROIPercentage     string `json:"roi_percentage"`
	DurationDays      int    `json:"duration_days"`
	ROIIntervalDays   int    `json:"roi_interval_days"`
}

type referralRequest struct {
	ReferrerID        string `json:"referrer_id"`
	ReferredUserID    string `json:"referred_user_id"`
	Level             int    `json:"level"`
	BonusPercentage   string `json:"bonus_percentage"`
	BonusStartUnixUTC int64  `json:"bonus_start_unix_utc"`
	BonusEndUnixUTC   int64  `json:"bonus_end_unix_utc"`
}

type balancePayload struct {
	Current       string `json:"current"`
	TotalEarnings string `json:"total_earnings"`
	Version       int64  `json:"version"`
}

type entryPayload struct {
	EntryID         string `json:"entry_id"`
	Kind            string `json:"kind"`
	Amount          string `json:"amount"`
	RelatedEntityID string `json:"related_entity_id,omitempty"`
	IdempotencyKey  string `json:"idempotency_key"`
	Metadata        string `json:"metadata"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
}

type creditPayload struct {
	EntryID    string `json:"entry_id"`
	Amount     string `json:"amount"`
	NewBalance string `json:"new_balance"`
	Replayed   bool   `json:"replayed"`
}

type transferPayload struct {
	TransferID  string `json:"transfer_id"`
	FromUserID  string `json:"from_user_id"`
	ToUserID    string `json:"to_user_id"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	FromBalance string `json:"from_balance"`
	Replayed    bool   `json:"replayed"`
}

type withdrawalPayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Amount       string `json:"amount"`
	Destination  string `json:"destination,omitempty"`
	Status       string `json:"status"`
	NewBalance   string `json:"new_balance,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

type planPayload struct {
	PlanID            string `json:"plan_id"`
	Name              string `json:"name"`
	MinimumInvestment string `json:"minimum_investment"`
	ROIPercentage     string `json:"roi_percentage"`
	DurationDays      int    `json:"duration_days"`
	ROIIntervalDays   int    `json:"roi_interval_days"`
}

type investmentPayload struct {
	InvestmentID   string `json:"investment_id"`
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	AmountInvested string `json:"amount_invested"`
	Status         string `json:"status"`
	StartUnixUTC   int64  `json:"start_unix_utc"`
	EndUnixUTC     int64  `json:"end_unix_utc"`
	TotalReturn    string `json:"total_return"`
	AccruedPeriods int    `json:"accrued_periods"`
	NewBalance     string `json:"new_balance,omitempty"`
	Replayed       bool   `json:"replayed,omitempty"`
}

func entryPayloadFor(entry ledger.Entry) entryPayload {
	return entryPayload{
		EntryID:         entry.EntryID,
		Kind:            entry.Kind.String(),
		Amount:          entry.Amount.String(),
		RelatedEntityID: entry.RelatedEntityID,
		IdempotencyKey:  entry.IdempotencyKey,
		Metadata:        entry.MetadataJSON,
		CreatedUnixUTC:  entry.CreatedUnixUTC,
	}
}

func creditPayloadFor(result ledger.CreditResult) creditPayload {
	return creditPayload{
		EntryID:    result.Entry.EntryID,
		Amount:     result.Entry.Amount.String(),
		NewBalance: result.NewBalance.String(),
		Replayed:   result.Replayed,
	}
}

func withdrawalPayloadFor(withdrawal ledger.Withdrawal) withdrawalPayload {
	return withdrawalPayload{
		WithdrawalID: withdrawal.WithdrawalID,
		UserID:       withdrawal.UserID,
		Amount:       withdrawal.Amount.String(),
		Destination:  withdrawal.Destination,
		Status:       withdrawal.Status.String(),
	}
}

func investmentPayloadFor(investment ledger.Investment, newBalance string, replayed bool) investmentPayload {
	return investmentPayload{
		InvestmentID:   investment.InvestmentID,
		UserID:         investment.UserID,
		PlanID:         investment.PlanID,
		AmountInvested: investment.AmountInvested.String(),
		Status:         investment.Status.String(),
		StartUnixUTC:   investment.StartUnixUTC,
		EndUnixUTC:     investment.EndUnixUTC,
		TotalReturn:    investment.TotalReturn.String(),
		AccruedPeriods: investment.AccruedPeriods,
		NewBalance:     newBalance,
		Replayed:       replayed,
	}
}
