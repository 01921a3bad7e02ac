package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	indexProviderTransactionID  = "idx_purchase_transactions_provider_id"
	defaultMetadataJSON         = "{}"
	pgUniqueViolationCode       = "23505"
	pgSerializationFailureCode  = "40001"
	pgDeadlockDetectedCode      = "40P01"
	sqliteConstraintCode        = 19
	sqliteConstraintUniqueCode  = 2067
	sqliteConstraintPrimaryCode = 1555
	sqliteUniqueMessageFragment = "UNIQUE"
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectBalance         = "balance"
	errorSubjectLedger          = "ledger"
	errorSubjectTransaction     = "transaction"
	errorCodeBegin              = "begin"
	errorCodeCount              = "count"
	errorCodeCredit             = "credit"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeSumCredits         = "sum_credits"
)

// Store implements purchase.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction. Errors returned by fn pass through unchanged.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore purchase.Store) error) error {
	var callbackErr error
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		callbackErr = fn(ctx, &Store{db: transaction})
		return callbackErr
	})
	if err != nil && callbackErr == nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	return err
}

func (store *Store) InsertTransaction(ctx context.Context, transaction purchase.Transaction) error {
	row := Transaction{
		TransactionID:         transaction.TransactionID.String(),
		ProviderTransactionID: transaction.ProviderTransactionID.String(),
		BuyerID:               transaction.BuyerID.String(),
		Plan:                  transaction.Plan.String(),
		AmountMinorUnits:      transaction.AmountMinorUnits.Int64(),
		Credits:               transaction.Credits.Int64(),
		SourceEventKind:       transaction.SourceEventKind.String(),
		Metadata:              datatypesJSON(transaction.Metadata.String()),
		CreatedAt:             time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if transaction.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isDuplicateTransaction(err) {
		return purchase.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeDuplicate, purchase.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

// CreditAccount adds credits to the buyer's balance, creating the account on first purchase.
func (store *Store) CreditAccount(ctx context.Context, buyerID purchase.BuyerID, credits purchase.Credits) error {
	account := Account{BuyerID: buyerID.String(), CreditBalance: credits.Int64()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"credit_balance": gorm.Expr("accounts.credit_balance + excluded.credit_balance"),
				"updated_at":     gorm.Expr("excluded.updated_at"),
			}),
		}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCredit, err)
	}
	return nil
}

func (store *Store) GetBalance(ctx context.Context, buyerID purchase.BuyerID) (purchase.Credits, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Select("coalesce(sum(credit_balance),0) as total").
		Where("buyer_id = ?", buyerID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := purchase.NewCredits(sum.Total)
	if err != nil {
		return 0, purchase.WrapError(errorOperationStore, errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *Store) SumCredits(ctx context.Context, buyerID purchase.BuyerID) (purchase.Credits, int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Select("coalesce(sum(credits),0) as total, count(*) as count").
		Where("buyer_id = ?", buyerID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, 0, wrapStoreError(errorSubjectLedger, errorCodeSumCredits, err)
	}
	total, err := purchase.NewCredits(sum.Total)
	if err != nil {
		return 0, 0, purchase.WrapError(errorOperationStore, errorSubjectLedger, errorCodeInvalid, err)
	}
	return total, sum.Count, nil
}

func (store *Store) CountTransactions(ctx context.Context, providerTransactionID purchase.ProviderTransactionID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Transaction{}).
		Where("provider_transaction_id = ?", providerTransactionID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) ListTransactions(ctx context.Context, buyerID purchase.BuyerID, beforeUnixUTC int64, limit int) ([]purchase.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("buyer_id = ? AND created_at < ?", buyerID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	transactions := make([]purchase.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, purchase.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// wrapStoreError tags infrastructure failures as transient so callers can ask for a retry.
func wrapStoreError(subject string, code string, err error) error {
	classification := purchase.ErrStorageUnavailable
	if isTransactionAborted(err) {
		classification = purchase.ErrTransactionAborted
	}
	return purchase.WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %w", classification, err))
}

type sqlSum struct {
	Total int64
	Count int64
}

func mapTransaction(row Transaction) (purchase.Transaction, error) {
	transactionID, err := purchase.NewTransactionID(row.TransactionID)
	if err != nil {
		return purchase.Transaction{}, err
	}
	providerTransactionID, err := purchase.NewProviderTransactionID(row.ProviderTransactionID)
	if err != nil {
		return purchase.Transaction{}, err
	}
	buyerID, err := purchase.NewBuyerID(row.BuyerID)
	if err != nil {
		return purchase.Transaction{}, err
	}
	plan, err := purchase.NewPlan(row.Plan)
	if err != nil {
		return purchase.Transaction{}, err
	}
	amount, err := purchase.NewAmountMinorUnits(row.AmountMinorUnits)
	if err != nil {
		return purchase.Transaction{}, err
	}
	credits, err := purchase.NewCredits(row.Credits)
	if err != nil {
		return purchase.Transaction{}, err
	}
	kind, err := purchase.ParseEventKind(row.SourceEventKind)
	if err != nil {
		return purchase.Transaction{}, err
	}
	metadata, err := purchase.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return purchase.Transaction{}, err
	}
	return purchase.Transaction{
		TransactionID:         transactionID,
		ProviderTransactionID: providerTransactionID,
		BuyerID:               buyerID,
		Plan:                  plan,
		AmountMinorUnits:      amount,
		Credits:               credits,
		SourceEventKind:       kind,
		Metadata:              metadata,
		CreatedUnixUTC:        row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isDuplicateTransaction(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == indexProviderTransactionID
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code == sqliteConstraintUniqueCode || code == sqliteConstraintPrimaryCode {
			return true
		}
		return code&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteUniqueMessageFragment)
	}
	return false
}

func isTransactionAborted(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}
