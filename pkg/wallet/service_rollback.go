package wallet

import "context"

// ProcessRollback reverses previously applied actions. Each entry is handled
// independently: a known original transaction has its balance effect undone,
// an unknown one is tombstoned so a late-arriving original can never apply.
// The rollback's own action id is always marked, which makes resubmitted
// rollback batches return their prior outcome without re-reversing.
func (service *Service) ProcessRollback(ctx context.Context, request RollbackRequest) (BatchResult, error) {
	lock := service.locks.forUser(request.UserID)
	lock.Lock()
	result, operationError := service.processRollbackLocked(ctx, request)
	lock.Unlock()

	service.logOperation(ctx, OperationLog{
		Operation: operationRollback,
		UserID:    request.UserID,
		GameID:    request.GameID,
		Actions:   len(request.Actions),
		Balance:   result.Balance,
		Error:     operationError,
	})
	if operationError == nil {
		service.notifyBalanceChanged(ctx, request.UserID, result.Balance)
	}
	return result, operationError
}

func (service *Service) processRollbackLocked(ctx context.Context, request RollbackRequest) (BatchResult, error) {
	if _, err := service.directory.GetUserByID(ctx, request.UserID); err != nil {
		return BatchResult{}, err
	}

	outcomes := make([]TransactionOutcome, 0, len(request.Actions))
	for _, entry := range request.Actions {
		outcome, err := service.rollbackEntry(ctx, request, entry)
		if err != nil {
			return BatchResult{}, err
		}
		outcomes = append(outcomes, outcome)
	}

	balance, err := service.store.GetBalance(ctx, request.UserID)
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{
		Balance:      balance,
		GameID:       request.GameID.String(),
		Transactions: outcomes,
	}, nil
}

func (service *Service) rollbackEntry(ctx context.Context, request RollbackRequest, entry RollbackEntry) (TransactionOutcome, error) {
	records, err := service.store.PeekActions(ctx, []ActionID{entry.ActionID})
	if err != nil {
		return TransactionOutcome{}, err
	}
	if record, processed := records[entry.ActionID.String()]; processed && record.Kind == RecordRollback {
		return service.replayedRollbackOutcome(ctx, request.UserID, entry, record)
	}

	original, found, err := service.store.FindTransactionByActionID(ctx, request.UserID, entry.OriginalActionID)
	if err != nil {
		return TransactionOutcome{}, err
	}

	nowUnixUTC := service.nowFn()
	if !found {
		err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if err := txStore.MarkTombstone(ctx, entry.OriginalActionID, entry.ActionID, nowUnixUTC, request.GameID); err != nil {
				return err
			}
			return txStore.MarkRollback(ctx, entry.ActionID, entry.OriginalActionID, nowUnixUTC, request.GameID)
		})
		if err != nil {
			return TransactionOutcome{}, err
		}
		return TransactionOutcome{
			ActionID:         entry.ActionID.String(),
			TxID:             "",
			ProcessedUnixUTC: nowUnixUTC,
		}, nil
	}

	delta := original.AmountUnits.Int64()
	if original.ActionType == ActionWin {
		delta = -delta
	}
	err = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.AdjustBalance(ctx, request.UserID, delta); err != nil {
			return err
		}
		return txStore.MarkRollback(ctx, entry.ActionID, entry.OriginalActionID, nowUnixUTC, request.GameID)
	})
	if err != nil {
		return TransactionOutcome{}, err
	}
	return TransactionOutcome{
		ActionID:         entry.ActionID.String(),
		TxID:             original.TxID,
		ProcessedUnixUTC: nowUnixUTC,
	}, nil
}

// replayedRollbackOutcome reports the outcome recorded when this rollback was
// first processed: the original transaction's id when one existed, an empty
// tx id when the original had been tombstoned.
func (service *Service) replayedRollbackOutcome(ctx context.Context, userID UserID, entry RollbackEntry, record ActionRecord) (TransactionOutcome, error) {
	original, found, err := service.store.FindTransactionByActionID(ctx, userID, entry.OriginalActionID)
	if err != nil {
		return TransactionOutcome{}, err
	}
	txID := ""
	if found {
		txID = original.TxID
	}
	return TransactionOutcome{
		ActionID:         entry.ActionID.String(),
		TxID:             txID,
		ProcessedUnixUTC: record.ProcessedUnixUTC,
	}, nil
}
