package wallet

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store covering the balance, ledger, and registry
// contracts for service tests.
type stubStore struct {
	balances     map[string]int64
	transactions map[string][]Transaction
	records      map[string]ActionRecord
	nextTx       int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		balances:     make(map[string]int64),
		transactions: make(map[string][]Transaction),
		records:      make(map[string]ActionRecord),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetBalance(_ context.Context, userID UserID) (AmountUnits, error) {
	return AmountUnits(store.balances[userID.String()]), nil
}

func (store *stubStore) AdjustBalance(_ context.Context, userID UserID, delta int64) error {
	store.balances[userID.String()] += delta
	return nil
}

func (store *stubStore) SetInitialBalance(_ context.Context, userID UserID, amount AmountUnits) error {
	store.balances[userID.String()] = amount.Int64()
	return nil
}

func (store *stubStore) AppendTransaction(_ context.Context, transaction Transaction) (Transaction, error) {
	store.nextTx++
	transaction.TxID = fmt.Sprintf("tx-%d", store.nextTx)
	userKey := transaction.UserID
	store.transactions[userKey] = append([]Transaction{transaction}, store.transactions[userKey]...)
	return transaction, nil
}

func (store *stubStore) ListTransactions(_ context.Context, userID UserID) ([]Transaction, error) {
	return store.transactions[userID.String()], nil
}

func (store *stubStore) FindTransactionByActionID(_ context.Context, userID UserID, actionID ActionID) (Transaction, bool, error) {
	for _, transaction := range store.transactions[userID.String()] {
		if transaction.ActionID == actionID.String() {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) PeekActions(_ context.Context, actionIDs []ActionID) (map[string]ActionRecord, error) {
	found := make(map[string]ActionRecord)
	for _, actionID := range actionIDs {
		if record, exists := store.records[actionID.String()]; exists {
			found[actionID.String()] = record
		}
	}
	return found, nil
}

func (store *stubStore) MarkApplied(_ context.Context, actionID ActionID, txID string, processedUnixUTC int64, gameID GameID) error {
	store.records[actionID.String()] = ActionRecord{
		ActionID:         actionID.String(),
		Kind:             RecordApplied,
		TxID:             txID,
		GameID:           gameID.String(),
		ProcessedUnixUTC: processedUnixUTC,
	}
	return nil
}

func (store *stubStore) MarkRollback(_ context.Context, actionID ActionID, originalActionID ActionID, processedUnixUTC int64, gameID GameID) error {
	store.records[actionID.String()] = ActionRecord{
		ActionID:         actionID.String(),
		Kind:             RecordRollback,
		OriginalActionID: originalActionID.String(),
		GameID:           gameID.String(),
		ProcessedUnixUTC: processedUnixUTC,
	}
	return nil
}

func (store *stubStore) MarkTombstone(_ context.Context, originalActionID ActionID, rollbackActionID ActionID, processedUnixUTC int64, gameID GameID) error {
	store.records[originalActionID.String()] = ActionRecord{
		ActionID:         originalActionID.String(),
		Kind:             RecordTombstone,
		RollbackActionID: rollbackActionID.String(),
		GameID:           gameID.String(),
		ProcessedUnixUTC: processedUnixUTC,
	}
	return nil
}

// failingStore returns the configured error from every operation.
type failingStore struct {
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{err: err}
}

func (store *failingStore) WithTx(context.Context, func(ctx context.Context, txStore Store) error) error {
	return store.err
}

func (store *failingStore) GetBalance(context.Context, UserID) (AmountUnits, error) {
	return 0, store.err
}

func (store *failingStore) AdjustBalance(context.Context, UserID, int64) error {
	return store.err
}

func (store *failingStore) SetInitialBalance(context.Context, UserID, AmountUnits) error {
	return store.err
}

func (store *failingStore) AppendTransaction(context.Context, Transaction) (Transaction, error) {
	return Transaction{}, store.err
}

func (store *failingStore) ListTransactions(context.Context, UserID) ([]Transaction, error) {
	return nil, store.err
}

func (store *failingStore) FindTransactionByActionID(context.Context, UserID, ActionID) (Transaction, bool, error) {
	return Transaction{}, false, store.err
}

func (store *failingStore) PeekActions(context.Context, []ActionID) (map[string]ActionRecord, error) {
	return nil, store.err
}

func (store *failingStore) MarkApplied(context.Context, ActionID, string, int64, GameID) error {
	return store.err
}

func (store *failingStore) MarkRollback(context.Context, ActionID, ActionID, int64, GameID) error {
	return store.err
}

func (store *failingStore) MarkTombstone(context.Context, ActionID, ActionID, int64, GameID) error {
	return store.err
}

// stubDirectory resolves a fixed set of users.
type stubDirectory struct {
	users map[string]User
}

func newStubDirectory(test *testing.T, userIDs ...string) *stubDirectory {
	test.Helper()
	directory := &stubDirectory{users: make(map[string]User)}
	for _, userID := range userIDs {
		directory.users[userID] = User{UserID: userID, Nickname: "TEST"}
	}
	return directory
}

func (directory *stubDirectory) GetUserByID(_ context.Context, userID UserID) (User, error) {
	user, exists := directory.users[userID.String()]
	if !exists {
		return User{}, WrapError("directory", "user", "get", ErrUserNotFound)
	}
	return user, nil
}

func (directory *stubDirectory) CreateNewUser(context.Context) (User, error) {
	user := User{UserID: "generated", Nickname: "TEST"}
	directory.users[user.UserID] = user
	return user, nil
}

type recorderNotifier struct {
	userIDs  []string
	balances []int64
}

func (notifier *recorderNotifier) BalanceChanged(_ context.Context, userID UserID, balance AmountUnits) {
	notifier.userIDs = append(notifier.userIDs, userID.String())
	notifier.balances = append(notifier.balances, balance.Int64())
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustActionID(test *testing.T, raw string) ActionID {
	test.Helper()
	actionID, err := NewActionID(raw)
	if err != nil {
		test.Fatalf("action id %q: %v", raw, err)
	}
	return actionID
}

func mustAmount(test *testing.T, raw int64) AmountUnits {
	test.Helper()
	amount, err := NewAmountUnits(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustNewService(test *testing.T, store Store, directory Directory, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, directory, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}
