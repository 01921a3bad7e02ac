package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/paywebhook/pkg/purchase"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	indexProviderTransactionID = "idx_purchase_transactions_provider_id"
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectLedger         = "ledger"
	errorSubjectSchema         = "schema"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeCount             = "count"
	errorCodeCredit            = "credit"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeMigrate           = "migrate"
	errorCodeSumCredits        = "sum_credits"

	sqlInsertTransaction = `
		insert into purchase_transactions(
			transaction_id, provider_transaction_id, buyer_id, plan,
			amount_minor_units, credits, source_event_kind, metadata, created_at
		)
		values(
			$1::uuid, $2, $3, $4,
			$5, $6, $7,
			coalesce(nullif($8,''),'{}')::jsonb,
			to_timestamp($9)
		)
	`

	sqlCreditAccount = `
		insert into accounts(buyer_id, credit_balance) values($1, $2)
		on conflict (buyer_id) do update
		set credit_balance = accounts.credit_balance + excluded.credit_balance, updated_at = now()
	`

	sqlSelectBalance = `
		select coalesce(sum(credit_balance),0) from accounts where buyer_id = $1
	`

	sqlSumCredits = `
		select coalesce(sum(credits),0), count(*) from purchase_transactions where buyer_id = $1
	`

	sqlCountTransactions = `
		select count(*) from purchase_transactions where provider_transaction_id = $1
	`

	sqlListTransactionsBefore = `
		select
			transaction_id::text,
			provider_transaction_id,
			buyer_id,
			plan,
			amount_minor_units,
			credits,
			source_event_kind,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from purchase_transactions
		where buyer_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`
)

// schemaStatements create the tables shared with gormstore.
var schemaStatements = []string{
	`create table if not exists accounts (
		buyer_id text primary key,
		credit_balance bigint not null default 0 check (credit_balance >= 0),
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create table if not exists purchase_transactions (
		transaction_id uuid primary key,
		provider_transaction_id text not null,
		buyer_id text not null,
		plan text not null,
		amount_minor_units bigint not null check (amount_minor_units >= 0),
		credits bigint not null check (credits >= 0),
		source_event_kind text not null,
		metadata jsonb not null default '{}'::jsonb,
		created_at timestamptz not null
	)`,
	`create unique index if not exists idx_purchase_transactions_provider_id
		on purchase_transactions(provider_transaction_id)`,
	`create index if not exists idx_purchase_transactions_buyer_created
		on purchase_transactions(buyer_id, created_at)`,
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements purchase.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements purchase.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, statement := range schemaStatements {
		if _, err := pool.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
		}
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore purchase.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx reuses the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore purchase.Store) error) error {
	return fn(ctx, store)
}

func (q queries) InsertTransaction(ctx context.Context, transaction purchase.Transaction) error {
	_, err := q.db.Exec(ctx, sqlInsertTransaction,
		transaction.TransactionID.String(),
		transaction.ProviderTransactionID.String(),
		transaction.BuyerID.String(),
		transaction.Plan.String(),
		transaction.AmountMinorUnits.Int64(),
		transaction.Credits.Int64(),
		transaction.SourceEventKind.String(),
		transaction.Metadata.String(),
		transaction.CreatedUnixUTC,
	)
	if isDuplicateTransaction(err) {
		return purchase.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeDuplicate, purchase.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (q queries) CreditAccount(ctx context.Context, buyerID purchase.BuyerID, credits purchase.Credits) error {
	if _, err := q.db.Exec(ctx, sqlCreditAccount, buyerID.String(), credits.Int64()); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCredit, err)
	}
	return nil
}

func (q queries) GetBalance(ctx context.Context, buyerID purchase.BuyerID) (purchase.Credits, error) {
	var total int64
	if err := q.db.QueryRow(ctx, sqlSelectBalance, buyerID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := purchase.NewCredits(total)
	if err != nil {
		return 0, purchase.WrapError(errorOperationStore, errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (q queries) SumCredits(ctx context.Context, buyerID purchase.BuyerID) (purchase.Credits, int64, error) {
	var (
		total int64
		count int64
	)
	if err := q.db.QueryRow(ctx, sqlSumCredits, buyerID.String()).Scan(&total, &count); err != nil {
		return 0, 0, wrapStoreError(errorSubjectLedger, errorCodeSumCredits, err)
	}
	credits, err := purchase.NewCredits(total)
	if err != nil {
		return 0, 0, purchase.WrapError(errorOperationStore, errorSubjectLedger, errorCodeInvalid, err)
	}
	return credits, count, nil
}

func (q queries) CountTransactions(ctx context.Context, providerTransactionID purchase.ProviderTransactionID) (int64, error) {
	var count int64
	if err := q.db.QueryRow(ctx, sqlCountTransactions, providerTransactionID.String()).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeCount, err)
	}
	return count, nil
}

func (q queries) ListTransactions(ctx context.Context, buyerID purchase.BuyerID, beforeUnixUTC int64, limit int) ([]purchase.Transaction, error) {
	rows, err := q.db.Query(ctx, sqlListTransactionsBefore, buyerID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, purchase.WrapError(errorOperationStore, errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactions, nil
}

func scanTransactions(rows pgx.Rows) ([]purchase.Transaction, error) {
	var transactions []purchase.Transaction
	for rows.Next() {
		var (
			transactionIDValue         string
			providerTransactionIDValue string
			buyerIDValue               string
			planValue                  string
			amountValue                int64
			creditsValue               int64
			kindValue                  string
			metadataValue              string
			createdAtUnixUTC           int64
		)
		if err := rows.Scan(
			&transactionIDValue,
			&providerTransactionIDValue,
			&buyerIDValue,
			&planValue,
			&amountValue,
			&creditsValue,
			&kindValue,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		transactionID, err := purchase.NewTransactionID(transactionIDValue)
		if err != nil {
			return nil, err
		}
		providerTransactionID, err := purchase.NewProviderTransactionID(providerTransactionIDValue)
		if err != nil {
			return nil, err
		}
		buyerID, err := purchase.NewBuyerID(buyerIDValue)
		if err != nil {
			return nil, err
		}
		plan, err := purchase.NewPlan(planValue)
		if err != nil {
			return nil, err
		}
		amount, err := purchase.NewAmountMinorUnits(amountValue)
		if err != nil {
			return nil, err
		}
		credits, err := purchase.NewCredits(creditsValue)
		if err != nil {
			return nil, err
		}
		kind, err := purchase.ParseEventKind(kindValue)
		if err != nil {
			return nil, err
		}
		metadata, err := purchase.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, purchase.Transaction{
			TransactionID:         transactionID,
			ProviderTransactionID: providerTransactionID,
			BuyerID:               buyerID,
			Plan:                  plan,
			AmountMinorUnits:      amount,
			Credits:               credits,
			SourceEventKind:       kind,
			Metadata:              metadata,
			CreatedUnixUTC:        createdAtUnixUTC,
		})
	}
	return transactions, rows.Err()
}

// wrapStoreError tags infrastructure failures as transient so callers can ask for a retry.
func wrapStoreError(subject string, code string, err error) error {
	classification := purchase.ErrStorageUnavailable
	if isTransactionAborted(err) {
		classification = purchase.ErrTransactionAborted
	}
	return purchase.WrapError(errorOperationStore, subject, code, fmt.Errorf("%w: %w", classification, err))
}

func isDuplicateTransaction(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == indexProviderTransactionID
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
