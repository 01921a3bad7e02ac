package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	BuyerID       string    `gorm:"primaryKey"`
	CreditBalance int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Transaction mirrors the purchase_transactions table. Rows are never updated or deleted.
type Transaction struct {
	TransactionID         string         `gorm:"type:uuid;primaryKey"`
	ProviderTransactionID string         `gorm:"not null;index:idx_purchase_transactions_provider_id,unique"`
	BuyerID               string         `gorm:"not null;index:idx_purchase_transactions_buyer_created,priority:1"`
	Plan                  string         `gorm:"not null"`
	AmountMinorUnits      int64          `gorm:"not null"`
	Credits               int64          `gorm:"not null"`
	SourceEventKind       string         `gorm:"not null"`
	Metadata              datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt             time.Time      `gorm:"not null;index:idx_purchase_transactions_buyer_created,priority:2"`
}

func (Transaction) TableName() string { return "purchase_transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Migrate creates or updates the tables used by Store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &Transaction{})
}
