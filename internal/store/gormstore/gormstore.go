package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19

	errorOperationStore     = "store"
	errorSubjectUser        = "user"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectRecord      = "record"
	errorCodeAdjust         = "adjust"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeFind           = "find"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeMark           = "mark"
	errorCodePeek           = "peek"
	errorCodeSet            = "set"

	defaultBalanceWhole int64 = 1000
	// Initial grants are issued in whole units and stored in minor units.
	minorUnitsPerWhole int64 = 100
)

// Store implements wallet.Store and wallet.Directory using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetBalance(ctx context.Context, userID wallet.UserID) (wallet.AmountUnits, error) {
	var row User
	err := store.db.WithContext(ctx).
		Select("balance_units").
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return wallet.AmountUnits(row.BalanceUnits), nil
}

// AdjustBalance applies the delta as a single in-database increment, so
// concurrent adjustments for one user never lose updates.
func (store *Store) AdjustBalance(ctx context.Context, userID wallet.UserID, delta int64) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		UpdateColumn("balance_units", gorm.Expr("balance_units + ?", delta))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, wallet.ErrUserNotFound)
	}
	return nil
}

// SetInitialBalance overwrites the balance. Only called at user creation.
func (store *Store) SetInitialBalance(ctx context.Context, userID wallet.UserID, amount wallet.AmountUnits) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("user_id = ?", userID.String()).
		UpdateColumn("balance_units", amount.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeSet, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeSet, wallet.ErrUserNotFound)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction wallet.Transaction) (wallet.Transaction, error) {
	row := WalletTransaction{
		TxID:        transaction.TxID,
		UserID:      transaction.UserID,
		ActionID:    transaction.ActionID,
		GameID:      transaction.GameID,
		ActionType:  transaction.ActionType.String(),
		AmountUnits: transaction.AmountUnits.Int64(),
		Currency:    transaction.Currency,
		Game:        transaction.Game,
		ProcessedAt: time.Unix(transaction.ProcessedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, err)
	}
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction.TxID = row.TxID
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID wallet.UserID) ([]wallet.Transaction, error) {
	var rows []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) FindTransactionByActionID(ctx context.Context, userID wallet.UserID, actionID wallet.ActionID) (wallet.Transaction, bool, error) {
	var row WalletTransaction
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND action_id = ?", userID.String(), actionID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Transaction{}, false, nil
	}
	if err != nil {
		return wallet.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeFind, err)
	}
	transaction, err := mapTransaction(row)
	if err != nil {
		return wallet.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, true, nil
}

func (store *Store) PeekActions(ctx context.Context, actionIDs []wallet.ActionID) (map[string]wallet.ActionRecord, error) {
	if len(actionIDs) == 0 {
		return map[string]wallet.ActionRecord{}, nil
	}
	keys := make([]string, 0, len(actionIDs))
	for _, actionID := range actionIDs {
		keys = append(keys, actionID.String())
	}
	var rows []ActionRecord
	err := store.db.WithContext(ctx).
		Where("action_id IN ?", keys).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodePeek, err)
	}
	records := make(map[string]wallet.ActionRecord, len(rows))
	for _, row := range rows {
		record, err := mapActionRecord(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		records[record.ActionID] = record
	}
	return records, nil
}

func (store *Store) MarkApplied(ctx context.Context, actionID wallet.ActionID, txID string, processedUnixUTC int64, gameID wallet.GameID) error {
	return store.upsertRecord(ctx, actionID.String(), wallet.RecordApplied, recordDocument{
		TxID:        txID,
		GameID:      gameID.String(),
		ProcessedAt: processedUnixUTC,
	})
}

func (store *Store) MarkRollback(ctx context.Context, actionID wallet.ActionID, originalActionID wallet.ActionID, processedUnixUTC int64, gameID wallet.GameID) error {
	return store.upsertRecord(ctx, actionID.String(), wallet.RecordRollback, recordDocument{
		OriginalActionID: originalActionID.String(),
		GameID:           gameID.String(),
		ProcessedAt:      processedUnixUTC,
	})
}

func (store *Store) MarkTombstone(ctx context.Context, originalActionID wallet.ActionID, rollbackActionID wallet.ActionID, processedUnixUTC int64, gameID wallet.GameID) error {
	return store.upsertRecord(ctx, originalActionID.String(), wallet.RecordTombstone, recordDocument{
		RollbackActionID: rollbackActionID.String(),
		GameID:           gameID.String(),
		ProcessedAt:      processedUnixUTC,
	})
}

// upsertRecord writes a registry mark. Marks are last-writer-wins: each
// action id is marked exactly once under correct operation, so concurrent
// duplicate marks carry the same content.
func (store *Store) upsertRecord(ctx context.Context, actionID string, kind wallet.RecordKind, document recordDocument) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	row := ActionRecord{
		ActionID: actionID,
		Kind:     string(kind),
		Document: datatypes.JSON(raw),
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "action_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeMark, err)
	}
	return nil
}

// GetUserByID implements wallet.Directory.
func (store *Store) GetUserByID(ctx context.Context, userID wallet.UserID) (wallet.User, error) {
	var row User
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, wallet.ErrUserNotFound)
	}
	if err != nil {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(row), nil
}

// CreateNewUser provisions a development user carrying the initial grant.
func (store *Store) CreateNewUser(ctx context.Context) (wallet.User, error) {
	row := User{
		Nickname:     "TEST",
		Firstname:    "TEST_FN",
		Lastname:     "TEST_LN",
		City:         "New York",
		Country:      "US",
		DateOfBirth:  "1990-01-01",
		Gender:       "m",
		RegisteredAt: time.Now().UTC(),
		BalanceUnits: defaultBalanceWhole * minorUnitsPerWhole,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return mapUser(row), nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func mapUser(row User) wallet.User {
	return wallet.User{
		UserID:          row.UserID,
		Nickname:        row.Nickname,
		Firstname:       row.Firstname,
		Lastname:        row.Lastname,
		City:            row.City,
		Country:         row.Country,
		DateOfBirth:     row.DateOfBirth,
		Gender:          row.Gender,
		RegisteredAtUTC: row.RegisteredAt.UTC().Format(time.RFC3339),
		BalanceUnits:    wallet.AmountUnits(row.BalanceUnits),
	}
}

func mapTransaction(row WalletTransaction) (wallet.Transaction, error) {
	actionType, err := wallet.ParseActionType(row.ActionType)
	if err != nil {
		return wallet.Transaction{}, err
	}
	amount, err := wallet.NewAmountUnits(row.AmountUnits)
	if err != nil {
		return wallet.Transaction{}, err
	}
	return wallet.Transaction{
		TxID:             row.TxID,
		UserID:           row.UserID,
		GameID:           row.GameID,
		ActionID:         row.ActionID,
		ActionType:       actionType,
		AmountUnits:      amount,
		Currency:         row.Currency,
		Game:             row.Game,
		ProcessedUnixUTC: row.ProcessedAt.Unix(),
	}, nil
}

func mapActionRecord(row ActionRecord) (wallet.ActionRecord, error) {
	var document recordDocument
	if err := json.Unmarshal(row.Document, &document); err != nil {
		return wallet.ActionRecord{}, err
	}
	return wallet.ActionRecord{
		ActionID:         row.ActionID,
		Kind:             wallet.RecordKind(row.Kind),
		TxID:             document.TxID,
		OriginalActionID: document.OriginalActionID,
		RollbackActionID: document.RollbackActionID,
		GameID:           document.GameID,
		ProcessedUnixUTC: document.ProcessedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
