package wallet

import (
	"context"
	"fmt"
)

// Service contains the play/rollback domain logic over a Store and Directory.
//
// All processing for one user is serialized through a per-user lock, so the
// funds check and the balance mutations that follow it cannot interleave with
// a concurrent batch for the same wallet.
type Service struct {
	store     Store
	directory Directory
	nowFn     func() int64
	notifier  Notifier
	logger    OperationLogger
	locks     *userLocks
}

// NewService wires a Service.
func NewService(store Store, directory Directory, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: directory dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, directory: directory, nowFn: now, locks: newUserLocks()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// ProcessPlay applies one play batch: wholly fresh batches debit bets, credit
// wins and record one transaction per action; batches containing any already
// registered action id resolve entirely through the replay path without
// touching the balance.
func (service *Service) ProcessPlay(ctx context.Context, request PlayRequest) (BatchResult, error) {
	lock := service.locks.forUser(request.UserID)
	lock.Lock()
	result, status, operationError := service.processPlayLocked(ctx, request)
	lock.Unlock()

	service.logOperation(ctx, OperationLog{
		Operation: operationPlay,
		UserID:    request.UserID,
		GameID:    request.GameID,
		Actions:   len(request.Actions),
		Balance:   result.Balance,
		Status:    status,
		Error:     operationError,
	})
	if operationError == nil {
		service.notifyBalanceChanged(ctx, request.UserID, result.Balance)
	}
	return result, operationError
}

func (service *Service) processPlayLocked(ctx context.Context, request PlayRequest) (BatchResult, string, error) {
	if _, err := service.directory.GetUserByID(ctx, request.UserID); err != nil {
		return BatchResult{}, "", err
	}

	if len(request.Actions) > 0 {
		actionIDs := make([]ActionID, 0, len(request.Actions))
		for _, action := range request.Actions {
			actionIDs = append(actionIDs, action.ActionID)
		}
		records, err := service.store.PeekActions(ctx, actionIDs)
		if err != nil {
			return BatchResult{}, "", err
		}
		if len(records) > 0 {
			result, err := service.replayResult(ctx, request, records)
			return result, operationStatusReplayed, err
		}

		var totalBet int64
		for _, action := range request.Actions {
			if action.Type == ActionBet {
				totalBet += action.Amount.Int64()
			}
		}
		balance, err := service.store.GetBalance(ctx, request.UserID)
		if err != nil {
			return BatchResult{}, "", err
		}
		if totalBet > 0 && balance.Int64() < totalBet {
			return BatchResult{}, "", InsufficientFundsError{Balance: balance}
		}
	}

	outcomes := make([]TransactionOutcome, 0, len(request.Actions))
	for _, action := range request.Actions {
		outcome, err := service.applyAction(ctx, request, action)
		if err != nil {
			return BatchResult{}, "", err
		}
		outcomes = append(outcomes, outcome)
	}

	balance, err := service.store.GetBalance(ctx, request.UserID)
	if err != nil {
		return BatchResult{}, "", err
	}
	return BatchResult{
		Balance:      balance,
		GameID:       request.GameID.String(),
		Transactions: outcomes,
	}, operationStatusOK, nil
}

// applyAction mutates the balance, appends the ledger line and writes the
// registry mark as one transactional unit, so a mid-batch failure never
// leaks an applied-but-unregistered action.
func (service *Service) applyAction(ctx context.Context, request PlayRequest, action PlayAction) (TransactionOutcome, error) {
	var outcome TransactionOutcome
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		// An identical request may have committed between the batch
		// classification and this point; reuse its transaction.
		existing, found, err := txStore.FindTransactionByActionID(ctx, request.UserID, action.ActionID)
		if err != nil {
			return err
		}
		if found {
			outcome = TransactionOutcome{
				ActionID:         action.ActionID.String(),
				TxID:             existing.TxID,
				ProcessedUnixUTC: existing.ProcessedUnixUTC,
			}
			return nil
		}

		delta := action.Amount.Int64()
		if action.Type == ActionBet {
			delta = -delta
		}
		if err := txStore.AdjustBalance(ctx, request.UserID, delta); err != nil {
			return err
		}

		nowUnixUTC := service.nowFn()
		stored, err := txStore.AppendTransaction(ctx, Transaction{
			UserID:           request.UserID.String(),
			GameID:           request.GameID.String(),
			ActionID:         action.ActionID.String(),
			ActionType:       action.Type,
			AmountUnits:      action.Amount,
			Currency:         request.Currency,
			Game:             request.Game,
			ProcessedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := txStore.MarkApplied(ctx, action.ActionID, stored.TxID, nowUnixUTC, request.GameID); err != nil {
			return err
		}
		outcome = TransactionOutcome{
			ActionID:         action.ActionID.String(),
			TxID:             stored.TxID,
			ProcessedUnixUTC: stored.ProcessedUnixUTC,
		}
		return nil
	})
	if err != nil {
		return TransactionOutcome{}, err
	}
	return outcome, nil
}

// replayResult resolves a batch that contains at least one registered action
// id. The whole batch is treated as a replay: every action id reports its
// previously recorded outcome and the balance is left untouched.
func (service *Service) replayResult(ctx context.Context, request PlayRequest, records map[string]ActionRecord) (BatchResult, error) {
	outcomes := make([]TransactionOutcome, 0, len(request.Actions))
	gameID := request.GameID.String()
	for _, action := range request.Actions {
		record, registered := records[action.ActionID.String()]
		if registered {
			txID := ""
			if record.Kind == RecordApplied {
				txID = record.TxID
			}
			outcomes = append(outcomes, TransactionOutcome{
				ActionID:         action.ActionID.String(),
				TxID:             txID,
				ProcessedUnixUTC: record.ProcessedUnixUTC,
			})
			if gameID == "" && record.GameID != "" {
				gameID = record.GameID
			}
			continue
		}
		// Not in the registry: fall back to the ledger in case the action
		// was applied before registry marks existed.
		existing, found, err := service.store.FindTransactionByActionID(ctx, request.UserID, action.ActionID)
		if err != nil {
			return BatchResult{}, err
		}
		if found {
			outcomes = append(outcomes, TransactionOutcome{
				ActionID:         action.ActionID.String(),
				TxID:             existing.TxID,
				ProcessedUnixUTC: existing.ProcessedUnixUTC,
			})
			continue
		}
		outcomes = append(outcomes, TransactionOutcome{
			ActionID:         action.ActionID.String(),
			TxID:             "",
			ProcessedUnixUTC: service.nowFn(),
		})
	}

	balance, err := service.store.GetBalance(ctx, request.UserID)
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{
		Balance:      balance,
		GameID:       gameID,
		Transactions: outcomes,
	}, nil
}

func (service *Service) notifyBalanceChanged(ctx context.Context, userID UserID, balance AmountUnits) {
	if service.notifier == nil {
		return
	}
	service.notifier.BalanceChanged(ctx, userID, balance)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
