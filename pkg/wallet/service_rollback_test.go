package wallet

import (
	"context"
	"errors"
	"testing"
)

func rollbackRequest(test *testing.T, userID string, entries ...RollbackEntry) RollbackRequest {
	test.Helper()
	return RollbackRequest{
		UserID:  mustUserID(test, userID),
		GameID:  NewGameID("game-1"),
		Actions: entries,
	}
}

func rollbackEntry(test *testing.T, actionID string, originalActionID string) RollbackEntry {
	test.Helper()
	return RollbackEntry{
		ActionID:         mustActionID(test, actionID),
		OriginalActionID: mustActionID(test, originalActionID),
	}
}

func TestRollbackOfBetRefundsAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	played, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1", betAction(test, "a1", 10)))
	if err != nil {
		test.Fatalf("play: %v", err)
	}
	if played.Balance != 90 {
		test.Fatalf("expected balance 90 after bet, got %d", played.Balance)
	}

	result, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "user-1", rollbackEntry(test, "rb-1", "a1")))
	if err != nil {
		test.Fatalf("rollback: %v", err)
	}
	if result.Balance != 100 {
		test.Fatalf("bet rollback must refund exactly 10, got balance %d", result.Balance)
	}
	if result.Transactions[0].TxID != played.Transactions[0].TxID {
		test.Fatalf("rollback outcome must carry the original tx id")
	}
	record, exists := store.records["rb-1"]
	if !exists || record.Kind != RecordRollback || record.OriginalActionID != "a1" {
		test.Fatalf("expected rollback registry record, got %+v", record)
	}
}

func TestRollbackOfWinSubtractsAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	if _, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1", winAction(test, "w1", 50))); err != nil {
		test.Fatalf("play: %v", err)
	}
	if store.balances["user-1"] != 150 {
		test.Fatalf("expected balance 150 after win, got %d", store.balances["user-1"])
	}

	result, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "user-1", rollbackEntry(test, "rb-1", "w1")))
	if err != nil {
		test.Fatalf("rollback: %v", err)
	}
	if result.Balance != 100 {
		test.Fatalf("win rollback must subtract 50, got balance %d", result.Balance)
	}
}

func TestRollbackUnknownOriginalWritesTombstone(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	result, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "user-1", rollbackEntry(test, "rb-1", "never-seen")))
	if err != nil {
		test.Fatalf("rollback: %v", err)
	}
	if result.Balance != 100 {
		test.Fatalf("tombstone must not change balance, got %d", result.Balance)
	}
	if result.Transactions[0].TxID != "" {
		test.Fatalf("tombstoned rollback must report empty tx id")
	}
	tombstone, exists := store.records["never-seen"]
	if !exists || tombstone.Kind != RecordTombstone || tombstone.RollbackActionID != "rb-1" {
		test.Fatalf("expected tombstone for never-seen, got %+v", tombstone)
	}
	mark, exists := store.records["rb-1"]
	if !exists || mark.Kind != RecordRollback {
		test.Fatalf("rollback's own action id must be marked, got %+v", mark)
	}
}

func TestRollbackResubmissionDoesNotReReverse(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	played, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1", betAction(test, "a1", 10)))
	if err != nil {
		test.Fatalf("play: %v", err)
	}

	request := rollbackRequest(test, "user-1", rollbackEntry(test, "rb-1", "a1"))
	if _, err := service.ProcessRollback(context.Background(), request); err != nil {
		test.Fatalf("first rollback: %v", err)
	}
	if store.balances["user-1"] != 100 {
		test.Fatalf("expected balance restored to 100, got %d", store.balances["user-1"])
	}

	second, err := service.ProcessRollback(context.Background(), request)
	if err != nil {
		test.Fatalf("rollback replay: %v", err)
	}
	if second.Balance != 100 {
		test.Fatalf("rollback replay must not re-reverse, got balance %d", second.Balance)
	}
	if second.Transactions[0].TxID != played.Transactions[0].TxID {
		test.Fatalf("rollback replay must report the original tx id")
	}
}

func TestRollbackEntriesProcessedIndependently(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	service := mustNewService(test, store, directory)
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	if _, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1", betAction(test, "a1", 10))); err != nil {
		test.Fatalf("play: %v", err)
	}

	result, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "user-1",
		rollbackEntry(test, "rb-1", "a1"),
		rollbackEntry(test, "rb-2", "missing"),
	))
	if err != nil {
		test.Fatalf("rollback: %v", err)
	}
	if result.Balance != 100 {
		test.Fatalf("expected refund plus tombstone to leave balance at 100, got %d", result.Balance)
	}
	if result.Transactions[0].TxID == "" {
		test.Fatalf("known original must carry its tx id")
	}
	if result.Transactions[1].TxID != "" {
		test.Fatalf("missing original must be tombstoned with empty tx id")
	}
}

func TestRollbackUserNotFound(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test)
	service := mustNewService(test, store, directory)

	_, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "ghost", rollbackEntry(test, "rb-1", "a1")))
	if !errors.Is(err, ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestRollbackEmitsBalanceNotification(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	directory := newStubDirectory(test, "user-1")
	notifier := &recorderNotifier{}
	service := mustNewService(test, store, directory, WithNotifier(notifier))
	userID := mustUserID(test, "user-1")
	if err := store.SetInitialBalance(context.Background(), userID, mustAmount(test, 100)); err != nil {
		test.Fatalf("seed balance: %v", err)
	}

	if _, err := service.ProcessPlay(context.Background(), playRequest(test, "user-1", betAction(test, "a1", 10))); err != nil {
		test.Fatalf("play: %v", err)
	}
	if _, err := service.ProcessRollback(context.Background(), rollbackRequest(test, "user-1", rollbackEntry(test, "rb-1", "a1"))); err != nil {
		test.Fatalf("rollback: %v", err)
	}
	if len(notifier.balances) != 2 || notifier.balances[1] != 100 {
		test.Fatalf("expected rollback notification with balance 100, got %v", notifier.balances)
	}
}
