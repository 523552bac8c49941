package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table. The balance lives on the user row and is
// only ever mutated through an in-database increment.
type User struct {
	UserID       string    `gorm:"primaryKey"`
	Nickname     string    `gorm:"not null"`
	Firstname    string    `gorm:"not null"`
	Lastname     string    `gorm:"not null"`
	City         string    `gorm:"not null"`
	Country      string    `gorm:"not null"`
	DateOfBirth  string    `gorm:"not null"`
	Gender       string    `gorm:"not null"`
	RegisteredAt time.Time `gorm:"not null"`
	BalanceUnits int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the wallet_transactions table. One row exists per
// (user_id, action_id); rows are never updated or deleted.
type WalletTransaction struct {
	TxID        string    `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"not null;index:uniq_tx_user_action,unique,priority:1;index:idx_tx_user_created,priority:1"`
	ActionID    string    `gorm:"not null;index:uniq_tx_user_action,unique,priority:2"`
	GameID      string    `gorm:"not null"`
	ActionType  string    `gorm:"not null"`
	AmountUnits int64     `gorm:"not null"`
	Currency    string    `gorm:"not null"`
	Game        string    `gorm:"not null"`
	ProcessedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_tx_user_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TxID == "" {
		transaction.TxID = uuid.NewString()
	}
	return nil
}

// ActionRecord mirrors the action_records table: one row per action id in the
// global idempotency namespace, with the record body kept as a JSON document.
type ActionRecord struct {
	ActionID  string         `gorm:"primaryKey"`
	Kind      string         `gorm:"not null"`
	Document  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (ActionRecord) TableName() string { return "action_records" }

// recordDocument is the JSON shape stored in ActionRecord.Document.
type recordDocument struct {
	TxID             string `json:"tx_id,omitempty"`
	OriginalActionID string `json:"original_action_id,omitempty"`
	RollbackActionID string `json:"rollback_action_id,omitempty"`
	GameID           string `json:"game_id,omitempty"`
	ProcessedAt      int64  `json:"processed_at"`
}
