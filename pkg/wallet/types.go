package wallet

import (
	"context"
	"fmt"
	"strings"
)

// AmountUnits is an integer amount in minor currency units.
type AmountUnits int64

// UserID identifies a wallet owner.
type UserID struct {
	value string
}

// ActionID is the provider-supplied identifier of a single bet/win/rollback action.
type ActionID struct {
	value string
}

// GameID identifies the game round a batch belongs to.
type GameID struct {
	value string
}

// ActionType enumerates the action kinds a provider can submit.
type ActionType string

const (
	ActionBet      ActionType = "bet"
	ActionWin      ActionType = "win"
	ActionRollback ActionType = "rollback"
)

// RecordKind enumerates action-registry record kinds.
type RecordKind string

const (
	RecordApplied   RecordKind = "applied"
	RecordRollback  RecordKind = "rollback"
	RecordTombstone RecordKind = "tombstone"
)

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewActionID validates and normalizes an action id.
func NewActionID(raw string) (ActionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ActionID{}, fmt.Errorf("%w: empty value", ErrInvalidActionID)
	}
	return ActionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ActionID) String() string {
	return id.value
}

// NewGameID normalizes a game id. Empty game ids are allowed; the provider
// omits them on some replayed batches.
func NewGameID(raw string) GameID {
	return GameID{value: strings.TrimSpace(raw)}
}

// String returns the normalized identifier.
func (id GameID) String() string {
	return id.value
}

// NewAmountUnits validates an amount. Sign is implied by action type, so the
// value itself must never be negative.
func NewAmountUnits(raw int64) (AmountUnits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountUnits)
	}
	return AmountUnits(raw), nil
}

// Int64 returns the raw amount.
func (amount AmountUnits) Int64() int64 {
	return int64(amount)
}

// ParseActionType validates a provider-supplied action type.
func ParseActionType(raw string) (ActionType, error) {
	switch ActionType(raw) {
	case ActionBet, ActionWin, ActionRollback:
		return ActionType(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidActionType, raw)
	}
}

// String returns the wire value.
func (actionType ActionType) String() string {
	return string(actionType)
}

// PlayAction is a single bet or win inside a play batch.
type PlayAction struct {
	ActionID ActionID
	Type     ActionType
	Amount   AmountUnits
}

// PlayRequest is one play batch from the game provider.
type PlayRequest struct {
	UserID   UserID
	Currency string
	Game     string
	GameID   GameID
	Finished bool
	Actions  []PlayAction
}

// RollbackEntry asks for the reversal of a previously submitted action.
type RollbackEntry struct {
	ActionID         ActionID
	OriginalActionID ActionID
}

// RollbackRequest is one rollback batch from the game provider.
type RollbackRequest struct {
	UserID  UserID
	GameID  GameID
	Actions []RollbackEntry
}

// Transaction is a single immutable ledger line.
type Transaction struct {
	TxID             string
	UserID           string
	GameID           string
	ActionID         string
	ActionType       ActionType
	AmountUnits      AmountUnits
	Currency         string
	Game             string
	ProcessedUnixUTC int64
}

// ActionRecord is the registry entry that pins an action id to its final
// idempotent outcome. Exactly one record exists per action id.
type ActionRecord struct {
	ActionID         string
	Kind             RecordKind
	TxID             string
	OriginalActionID string
	RollbackActionID string
	GameID           string
	ProcessedUnixUTC int64
}

// TransactionOutcome is the per-action slice of a play or rollback response.
type TransactionOutcome struct {
	ActionID         string
	TxID             string
	ProcessedUnixUTC int64
}

// BatchResult is the response for a processed play or rollback batch.
type BatchResult struct {
	Balance      AmountUnits
	GameID       string
	Transactions []TransactionOutcome
}

// User is a wallet owner's profile plus current balance.
type User struct {
	UserID          string
	Nickname        string
	Firstname       string
	Lastname        string
	City            string
	Country         string
	DateOfBirth     string
	Gender          string
	RegisteredAtUTC string
	BalanceUnits    AmountUnits
}

// Store is the persistence contract used by Service. Balance mutations are
// atomic in-database increments; the caller never performs read-modify-write.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetBalance(ctx context.Context, userID UserID) (AmountUnits, error)
	AdjustBalance(ctx context.Context, userID UserID, delta int64) error
	SetInitialBalance(ctx context.Context, userID UserID, amount AmountUnits) error

	AppendTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	ListTransactions(ctx context.Context, userID UserID) ([]Transaction, error)
	FindTransactionByActionID(ctx context.Context, userID UserID, actionID ActionID) (Transaction, bool, error)

	PeekActions(ctx context.Context, actionIDs []ActionID) (map[string]ActionRecord, error)
	MarkApplied(ctx context.Context, actionID ActionID, txID string, processedUnixUTC int64, gameID GameID) error
	MarkRollback(ctx context.Context, actionID ActionID, originalActionID ActionID, processedUnixUTC int64, gameID GameID) error
	MarkTombstone(ctx context.Context, originalActionID ActionID, rollbackActionID ActionID, processedUnixUTC int64, gameID GameID) error
}

// Directory resolves and provisions wallet owners.
type Directory interface {
	GetUserByID(ctx context.Context, userID UserID) (User, error)
	CreateNewUser(ctx context.Context) (User, error)
}

// Notifier receives fire-and-forget balance-changed events. Delivery is
// best-effort and outside the transactional contract.
type Notifier interface {
	BalanceChanged(ctx context.Context, userID UserID, balance AmountUnits)
}
