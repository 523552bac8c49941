package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode = "23505"

	errorOperationStore     = "store"
	errorSubjectUser        = "user"
	errorSubjectBalance     = "balance"
	errorSubjectTransaction = "transaction"
	errorSubjectRecord      = "record"
	errorCodeAdjust         = "adjust"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
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
	minorUnitsPerWhole  int64 = 100

	sqlGetBalance = `
		select balance_units from users where user_id = $1
	`

	sqlAdjustBalance = `
		update users set balance_units = balance_units + $2 where user_id = $1
	`

	sqlSetBalance = `
		update users set balance_units = $2 where user_id = $1
	`

	sqlInsertTransaction = `
		insert into wallet_transactions(
			tx_id, user_id, action_id, game_id, action_type, amount_units, currency, game, processed_at
		)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, to_timestamp($8))
		returning tx_id
	`

	sqlListTransactions = `
		select tx_id::text, user_id, action_id, game_id, action_type, amount_units, currency, game, processed_at
		from wallet_transactions
		where user_id = $1
		order by created_at desc
	`

	sqlFindTransaction = `
		select tx_id::text, user_id, action_id, game_id, action_type, amount_units, currency, game, processed_at
		from wallet_transactions
		where user_id = $1 and action_id = $2
	`

	sqlPeekRecords = `
		select action_id, kind, document from action_records where action_id = any($1)
	`

	sqlUpsertRecord = `
		insert into action_records(action_id, kind, document)
		values($1, $2, $3::jsonb)
		on conflict (action_id) do update set kind = excluded.kind, document = excluded.document
	`

	sqlGetUser = `
		select user_id, nickname, firstname, lastname, city, country, date_of_birth, gender, registered_at, balance_units
		from users
		where user_id = $1
	`

	sqlInsertUser = `
		insert into users(user_id, nickname, firstname, lastname, city, country, date_of_birth, gender, registered_at, balance_units)
		values(gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, now(), $8)
		returning user_id, registered_at
	`
)

// querier is the subset of pgx shared by a pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wallet.Store and wallet.Directory using a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool (autocommit outside WithTx).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx executes fn within a transaction. Calls on an already transactional
// store reuse the open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, userID wallet.UserID) (wallet.AmountUnits, error) {
	var balance int64
	err := store.db.QueryRow(ctx, sqlGetBalance, userID.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return wallet.AmountUnits(balance), nil
}

func (store *Store) AdjustBalance(ctx context.Context, userID wallet.UserID, delta int64) error {
	tag, err := store.db.Exec(ctx, sqlAdjustBalance, userID.String(), delta)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeAdjust, wallet.ErrUserNotFound)
	}
	return nil
}

func (store *Store) SetInitialBalance(ctx context.Context, userID wallet.UserID, amount wallet.AmountUnits) error {
	tag, err := store.db.Exec(ctx, sqlSetBalance, userID.String(), amount.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeSet, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeSet, wallet.ErrUserNotFound)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction wallet.Transaction) (wallet.Transaction, error) {
	var txID string
	err := store.db.QueryRow(ctx, sqlInsertTransaction,
		transaction.UserID,
		transaction.ActionID,
		transaction.GameID,
		transaction.ActionType.String(),
		transaction.AmountUnits.Int64(),
		transaction.Currency,
		transaction.Game,
		transaction.ProcessedUnixUTC,
	).Scan(&txID)
	if isUniqueViolation(err) {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, err)
	}
	if err != nil {
		return wallet.Transaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transaction.TxID = txID
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, userID wallet.UserID) ([]wallet.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, userID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()

	transactions := make([]wallet.Transaction, 0)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store *Store) FindTransactionByActionID(ctx context.Context, userID wallet.UserID, actionID wallet.ActionID) (wallet.Transaction, bool, error) {
	row := store.db.QueryRow(ctx, sqlFindTransaction, userID.String(), actionID.String())
	transaction, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Transaction{}, false, nil
	}
	if err != nil {
		return wallet.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeFind, err)
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
	rows, err := store.db.Query(ctx, sqlPeekRecords, keys)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodePeek, err)
	}
	defer rows.Close()

	records := make(map[string]wallet.ActionRecord)
	for rows.Next() {
		var (
			actionID string
			kind     string
			document []byte
		)
		if err := rows.Scan(&actionID, &kind, &document); err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		record, err := parseRecord(actionID, kind, document)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		records[actionID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodePeek, err)
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

func (store *Store) upsertRecord(ctx context.Context, actionID string, kind wallet.RecordKind, document recordDocument) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	if _, err := store.db.Exec(ctx, sqlUpsertRecord, actionID, string(kind), string(raw)); err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeMark, err)
	}
	return nil
}

// GetUserByID implements wallet.Directory.
func (store *Store) GetUserByID(ctx context.Context, userID wallet.UserID) (wallet.User, error) {
	var (
		user         wallet.User
		registeredAt time.Time
		balance      int64
	)
	err := store.db.QueryRow(ctx, sqlGetUser, userID.String()).Scan(
		&user.UserID,
		&user.Nickname,
		&user.Firstname,
		&user.Lastname,
		&user.City,
		&user.Country,
		&user.DateOfBirth,
		&user.Gender,
		&registeredAt,
		&balance,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, wallet.ErrUserNotFound)
	}
	if err != nil {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	user.RegisteredAtUTC = registeredAt.UTC().Format(time.RFC3339)
	user.BalanceUnits = wallet.AmountUnits(balance)
	return user, nil
}

// CreateNewUser provisions a development user carrying the initial grant.
func (store *Store) CreateNewUser(ctx context.Context) (wallet.User, error) {
	user := wallet.User{
		Nickname:     "TEST",
		Firstname:    "TEST_FN",
		Lastname:     "TEST_LN",
		City:         "New York",
		Country:      "US",
		DateOfBirth:  "1990-01-01",
		Gender:       "m",
		BalanceUnits: wallet.AmountUnits(defaultBalanceWhole * minorUnitsPerWhole),
	}
	var registeredAt time.Time
	err := store.db.QueryRow(ctx, sqlInsertUser,
		user.Nickname,
		user.Firstname,
		user.Lastname,
		user.City,
		user.Country,
		user.DateOfBirth,
		user.Gender,
		user.BalanceUnits.Int64(),
	).Scan(&user.UserID, &registeredAt)
	if err != nil {
		return wallet.User{}, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	user.RegisteredAtUTC = registeredAt.UTC().Format(time.RFC3339)
	return user, nil
}

type recordDocument struct {
	TxID             string `json:"tx_id,omitempty"`
	OriginalActionID string `json:"original_action_id,omitempty"`
	RollbackActionID string `json:"rollback_action_id,omitempty"`
	GameID           string `json:"game_id,omitempty"`
	ProcessedAt      int64  `json:"processed_at"`
}

func parseRecord(actionID string, kind string, document []byte) (wallet.ActionRecord, error) {
	var parsed recordDocument
	if err := json.Unmarshal(document, &parsed); err != nil {
		return wallet.ActionRecord{}, err
	}
	return wallet.ActionRecord{
		ActionID:         actionID,
		Kind:             wallet.RecordKind(kind),
		TxID:             parsed.TxID,
		OriginalActionID: parsed.OriginalActionID,
		RollbackActionID: parsed.RollbackActionID,
		GameID:           parsed.GameID,
		ProcessedUnixUTC: parsed.ProcessedAt,
	}, nil
}

func scanTransaction(row pgx.Row) (wallet.Transaction, error) {
	var (
		transaction wallet.Transaction
		actionType  string
		amount      int64
		processedAt time.Time
	)
	err := row.Scan(
		&transaction.TxID,
		&transaction.UserID,
		&transaction.ActionID,
		&transaction.GameID,
		&actionType,
		&amount,
		&transaction.Currency,
		&transaction.Game,
		&processedAt,
	)
	if err != nil {
		return wallet.Transaction{}, err
	}
	parsedType, err := wallet.ParseActionType(actionType)
	if err != nil {
		return wallet.Transaction{}, err
	}
	parsedAmount, err := wallet.NewAmountUnits(amount)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transaction.ActionType = parsedType
	transaction.AmountUnits = parsedAmount
	transaction.ProcessedUnixUTC = processedAt.Unix()
	return transaction, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
