/**
 * @description
 * PostgreSQL queries for the payment transaction ledger and the service fee
 * configuration table. Kept separate from the payroll entity queries because
 * the ledger has different write rules: rows are append-mostly and become
 * immutable once they reach a terminal status.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/workconnect/payroll-service/internal/domain"
)

const transactionColumns = `id, transaction_type, external_reference, internal_reference,
	amount, currency, payment_method, payment_provider, status, provider_status, provider_response,
	payer_user_id, payee_user_id, invoice_id, worker_payment_id, initiated_at, completed_at`

func scanTransaction(row pgx.Row) (*domain.PaymentTransaction, error) {
	var t domain.PaymentTransaction
	err := row.Scan(
		&t.ID, &t.TransactionType, &t.ExternalReference, &t.InternalReference,
		&t.Amount, &t.Currency, &t.PaymentMethod, &t.PaymentProvider, &t.Status, &t.ProviderStatus, &t.ProviderResponse,
		&t.PayerUserID, &t.PayeeUserID, &t.InvoiceID, &t.WorkerPaymentID, &t.InitiatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTransaction inserts a new ledger row. The unique external_reference
// index is the idempotency barrier for every gateway call: a retried caller
// reusing a reference gets ErrDuplicateReference and must load the existing
// row instead of initiating a second provider call.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *domain.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, transaction_type, external_reference, internal_reference,
			amount, currency, payment_method, payment_provider, status, provider_status, provider_response,
			payer_user_id, payee_user_id, invoice_id, worker_payment_id, initiated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.TransactionType, t.ExternalReference, t.InternalReference,
		t.Amount, t.Currency, t.PaymentMethod, t.PaymentProvider, t.Status, t.ProviderStatus, t.ProviderResponse,
		t.PayerUserID, t.PayeeUserID, t.InvoiceID, t.WorkerPaymentID, t.InitiatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetTransactionByExternalReference retrieves a ledger row by its
// idempotency key.
func (r *PostgresRepository) GetTransactionByExternalReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE external_reference = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, reference))
}

// FindTransactionForEvent resolves the ledger row a webhook event belongs
// to. Providers are inconsistent about which id they echo back, so the
// lookup tries the provider's transaction id first and falls back to our
// external reference.
func (r *PostgresRepository) FindTransactionForEvent(ctx context.Context, providerTransactionID, reference string) (*domain.PaymentTransaction, error) {
	if providerTransactionID != "" {
		query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE internal_reference = $1`
		t, err := scanTransaction(r.db.QueryRow(ctx, query, providerTransactionID))
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return nil, err
		}
	}
	if reference == "" {
		return nil, ErrTransactionNotFound
	}
	return r.GetTransactionByExternalReference(ctx, reference)
}

// SettleTransaction writes a transaction's outcome, guarded so a terminal
// row is never overwritten. A false return means the row was already
// settled; webhook replays and the poller racing a webhook both land here.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, txID uuid.UUID, params SettleTransactionParams) (bool, error) {
	query := `
		UPDATE payment_transactions
		SET status = $2,
		    provider_status = COALESCE($3, provider_status),
		    internal_reference = COALESCE($4, internal_reference),
		    provider_response = COALESCE($5, provider_response),
		    completed_at = COALESCE($6, completed_at)
		WHERE id = $1 AND status IN ('initiated', 'pending')`
	tag, err := r.db.Exec(ctx, query,
		txID, params.Status, params.ProviderStatus, params.InternalReference, params.ProviderResponse, params.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("settle transaction: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTransactionsNeedingReconciliation returns non-terminal ledger rows
// older than the given cutoff. These are payments whose webhook never
// arrived and whose poller window expired; they need a manual or scheduled
// status check against the provider.
func (r *PostgresRepository) ListTransactionsNeedingReconciliation(ctx context.Context, olderThan time.Time) ([]domain.PaymentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions
		WHERE status IN ('initiated', 'pending') AND initiated_at < $1
		ORDER BY initiated_at`
	rows, err := r.db.Query(ctx, query, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list transactions needing reconciliation: %w", err)
	}
	defer rows.Close()

	var txs []domain.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ---------------------------------------------------------------------------
// Service fee configs
// ---------------------------------------------------------------------------

// GetActiveFeeConfig returns the fee policy in force for a category as of
// the given date: active, effective_from not in the future, latest
// effective_from wins, ties broken by latest created_at.
func (r *PostgresRepository) GetActiveFeeConfig(ctx context.Context, categoryID uuid.UUID, asOf time.Time) (*domain.ServiceFeeConfig, error) {
	query := `
		SELECT id, category_id, fee_type, fixed_amount, percentage, tier_config,
		       minimum_fee, maximum_fee, is_active, effective_from, created_at, updated_at
		FROM service_fee_configs
		WHERE category_id = $1 AND is_active = true AND effective_from <= $2
		ORDER BY effective_from DESC, created_at DESC
		LIMIT 1`

	var c domain.ServiceFeeConfig
	err := r.db.QueryRow(ctx, query, categoryID, asOf).Scan(
		&c.ID, &c.CategoryID, &c.FeeType, &c.FixedAmount, &c.Percentage, &c.Tiers,
		&c.MinimumFee, &c.MaximumFee, &c.IsActive, &c.EffectiveFrom, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeeConfigNotFound
		}
		return nil, fmt.Errorf("get active fee config: %w", err)
	}
	return &c, nil
}
