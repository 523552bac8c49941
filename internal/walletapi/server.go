// Package walletapi exposes the wallet over HTTP for the game provider's
// callbacks and the player-facing frontend.
package walletapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/provider"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/push"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeInsufficientFunds = 100
	errorCodeUserNotFound      = 101
	errorCodeInvalidPayload    = 102
	errorCodeProcessing        = 103

	messageInsufficientFunds = "Not enough funds."
	messageUserNotFound      = "User not found"
	messageProcessing        = "Unable to process request"
)

// Dependencies carries everything the HTTP layer needs.
type Dependencies struct {
	Service  *wallet.Service
	Provider *provider.Client
	Hub      *push.Hub
	Logger   *zap.Logger
}

// Run boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router := NewRouter(cfg, deps)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("wallet api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter assembles the gin engine with all wallet routes.
func NewRouter(cfg Config, deps Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		service:  deps.Service,
		provider: deps.Provider,
		logger:   deps.Logger,
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/play", handler.handlePlay)
	router.POST("/rollback", handler.handleRollback)
	router.POST("/session", handler.handleSession)
	router.GET("/games", handler.handleGames)
	router.GET("/transactions", handler.handleTransactions)
	router.GET("/me", handler.handleUserInfo)

	if deps.Hub != nil {
		router.GET("/ws", func(ctx *gin.Context) {
			deps.Hub.HandleConnection(ctx.Writer, ctx.Request)
		})
	}

	return router
}

type httpHandler struct {
	service  *wallet.Service
	provider *provider.Client
	logger   *zap.Logger
}

func (handler *httpHandler) handlePlay(ctx *gin.Context) {
	var payload playRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		respondInvalid(ctx, "expected JSON body")
		return
	}

	request, err := parsePlayRequest(payload)
	if err != nil {
		respondInvalid(ctx, err.Error())
		return
	}

	result, err := handler.service.ProcessPlay(ctx.Request.Context(), request)
	if err != nil {
		handler.respondWalletError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, batchResponse(result))
}

func (handler *httpHandler) handleRollback(ctx *gin.Context) {
	var payload rollbackRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		respondInvalid(ctx, "expected JSON body")
		return
	}

	request, err := parseRollbackRequest(payload)
	if err != nil {
		respondInvalid(ctx, err.Error())
		return
	}

	result, err := handler.service.ProcessRollback(ctx.Request.Context(), request)
	if err != nil {
		handler.respondWalletError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, batchResponse(result))
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	var payload sessionRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		respondInvalid(ctx, "expected JSON body")
		return
	}
	userID, err := wallet.NewUserID(payload.UserID)
	if err != nil {
		respondInvalid(ctx, "userId is required")
		return
	}

	user, err := handler.service.UserInfo(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondWalletError(ctx, err)
		return
	}

	session, err := handler.provider.StartSession(ctx.Request.Context(), provider.SessionRequest{
		Game:       payload.Game,
		Currency:   payload.Currency,
		Locale:     payload.Locale,
		DepositURL: payload.URLs.DepositURL,
		ReturnURL:  payload.URLs.ReturnURL,
		UserID:     user.UserID,
		ClientIP:   ctx.ClientIP(),
		UserAgent:  ctx.Request.UserAgent(),
	}, user)
	if err != nil {
		handler.respondUpstreamError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"url": session.URL})
}

func (handler *httpHandler) handleGames(ctx *gin.Context) {
	catalog, err := handler.provider.ListGames(ctx.Request.Context())
	if err != nil {
		handler.respondUpstreamError(ctx, err)
		return
	}
	ctx.Data(http.StatusOK, "application/json", catalog)
}

func (handler *httpHandler) handleTransactions(ctx *gin.Context) {
	userID, err := wallet.NewUserID(ctx.Query("userId"))
	if err != nil {
		respondInvalid(ctx, "userId query parameter is required")
		return
	}

	transactions, err := handler.service.Transactions(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondWalletError(ctx, err)
		return
	}

	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayload{
			ID:          transaction.TxID,
			UserID:      transaction.UserID,
			GameID:      transaction.GameID,
			ActionID:    transaction.ActionID,
			ActionType:  transaction.ActionType.String(),
			Amount:      transaction.AmountUnits.Int64(),
			ProcessedAt: formatProcessedAt(transaction.ProcessedUnixUTC),
			Currency:    transaction.Currency,
			Game:        transaction.Game,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleUserInfo(ctx *gin.Context) {
	userID, err := wallet.NewUserID(ctx.Query("user_id"))
	if err != nil {
		respondInvalid(ctx, "user_id query parameter is required")
		return
	}

	user, err := handler.service.UserInfo(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondWalletError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, userPayload{
		UserID:       user.UserID,
		Nickname:     user.Nickname,
		Firstname:    user.Firstname,
		Lastname:     user.Lastname,
		City:         user.City,
		Country:      user.Country,
		DateOfBirth:  user.DateOfBirth,
		Gender:       user.Gender,
		RegisteredAt: user.RegisteredAtUTC,
		Balance:      user.BalanceUnits.Int64(),
	})
}

func (handler *httpHandler) respondWalletError(ctx *gin.Context, err error) {
	var fundsErr wallet.InsufficientFundsError
	if errors.As(err, &fundsErr) {
		balance := fundsErr.Balance.Int64()
		ctx.JSON(http.StatusPreconditionFailed, errorPayload{
			Code:    errorCodeInsufficientFunds,
			Message: messageInsufficientFunds,
			Balance: &balance,
		})
		return
	}
	if errors.Is(err, wallet.ErrUserNotFound) {
		ctx.JSON(http.StatusNotFound, errorPayload{
			Code:    errorCodeUserNotFound,
			Message: messageUserNotFound,
		})
		return
	}
	if isValidationError(err) {
		respondInvalid(ctx, err.Error())
		return
	}
	handler.logger.Error("wallet operation failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorPayload{
		Code:    errorCodeProcessing,
		Message: messageProcessing,
	})
}

func (handler *httpHandler) respondUpstreamError(ctx *gin.Context, err error) {
	var upstreamErr *provider.UpstreamError
	if errors.As(err, &upstreamErr) {
		ctx.JSON(upstreamErr.StatusCode, gin.H{
			"message": fmt.Sprintf("provider error: %s", upstreamErr.Message),
		})
		return
	}
	handler.logger.Error("upstream call failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorPayload{
		Code:    errorCodeProcessing,
		Message: messageProcessing,
	})
}

func respondInvalid(ctx *gin.Context, message string) {
	ctx.JSON(http.StatusBadRequest, errorPayload{
		Code:    errorCodeInvalidPayload,
		Message: message,
	})
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		wallet.ErrInvalidUserID,
		wallet.ErrInvalidActionID,
		wallet.ErrInvalidActionType,
		wallet.ErrInvalidAmountUnits,
		wallet.ErrInvalidBatch,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func parsePlayRequest(payload playRequestPayload) (wallet.PlayRequest, error) {
	userID, err := wallet.NewUserID(payload.UserID)
	if err != nil {
		return wallet.PlayRequest{}, err
	}
	actions := make([]wallet.PlayAction, 0, len(payload.Actions))
	for _, action := range payload.Actions {
		actionID, err := wallet.NewActionID(action.ActionID)
		if err != nil {
			return wallet.PlayRequest{}, err
		}
		actionType, err := wallet.ParseActionType(action.Action)
		if err != nil {
			return wallet.PlayRequest{}, err
		}
		if actionType == wallet.ActionRollback {
			return wallet.PlayRequest{}, fmt.Errorf("%w: rollback actions belong on /rollback", wallet.ErrInvalidActionType)
		}
		amount, err := wallet.NewAmountUnits(action.Amount)
		if err != nil {
			return wallet.PlayRequest{}, err
		}
		actions = append(actions, wallet.PlayAction{
			ActionID: actionID,
			Type:     actionType,
			Amount:   amount,
		})
	}
	return wallet.PlayRequest{
		UserID:   userID,
		Currency: payload.Currency,
		Game:     payload.Game,
		GameID:   wallet.NewGameID(payload.GameID),
		Finished: payload.Finished,
		Actions:  actions,
	}, nil
}

func parseRollbackRequest(payload rollbackRequestPayload) (wallet.RollbackRequest, error) {
	userID, err := wallet.NewUserID(payload.UserID)
	if err != nil {
		return wallet.RollbackRequest{}, err
	}
	actions := make([]wallet.RollbackEntry, 0, len(payload.Actions))
	for _, action := range payload.Actions {
		actionID, err := wallet.NewActionID(action.ActionID)
		if err != nil {
			return wallet.RollbackRequest{}, err
		}
		originalActionID, err := wallet.NewActionID(action.OriginalActionID)
		if err != nil {
			return wallet.RollbackRequest{}, err
		}
		actions = append(actions, wallet.RollbackEntry{
			ActionID:         actionID,
			OriginalActionID: originalActionID,
		})
	}
	return wallet.RollbackRequest{
		UserID:  userID,
		GameID:  wallet.NewGameID(payload.GameID),
		Actions: actions,
	}, nil
}

func batchResponse(result wallet.BatchResult) batchResponsePayload {
	transactions := make([]transactionOutcomePayload, 0, len(result.Transactions))
	for _, outcome := range result.Transactions {
		transactions = append(transactions, transactionOutcomePayload{
			ActionID:    outcome.ActionID,
			TxID:        outcome.TxID,
			ProcessedAt: formatProcessedAt(outcome.ProcessedUnixUTC),
		})
	}
	return batchResponsePayload{
		Balance:      result.Balance.Int64(),
		GameID:       result.GameID,
		Transactions: transactions,
	}
}

func formatProcessedAt(unixUTC int64) string {
	return time.Unix(unixUTC, 0).UTC().Format(time.RFC3339)
}
