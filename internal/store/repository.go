/**
 * @description
 * This file defines the `Repository` interface: the contract for all data
 * access the payroll-service needs. Defining an interface decouples the
 * business logic from PostgreSQL and lets tests substitute stubs.
 *
 * @notes
 * - Status-changing methods take the expected current status and report
 *   whether the update applied. Conditional UPDATEs are how a webhook and a
 *   concurrent poller tick are prevented from applying conflicting
 *   transitions to the same row.
 * - `Atomic` runs a function against a transaction-scoped repository so a
 *   ledger write and the linked entity update commit or roll back together.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
)

// ListOptions controls pagination for listing endpoints.
type ListOptions struct {
	Limit  int
	Offset int
	Status string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Payroll cycle methods
	GetOrCreateCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error)
	GetCycle(ctx context.Context, month, year int) (*domain.PayrollCycle, error)
	GetCycleByID(ctx context.Context, cycleID uuid.UUID) (*domain.PayrollCycle, error)
	AddCycleTotals(ctx context.Context, cycleID uuid.UUID, contracts int, salaries, fees int64) error
	MarkCycleInvoicesGenerated(ctx context.Context, cycleID uuid.UUID, at time.Time) error
	MarkCyclePaymentsProcessed(ctx context.Context, cycleID uuid.UUID, at time.Time) error
	CloseCycle(ctx context.Context, cycleID uuid.UUID, at time.Time) error

	// Invoice methods
	CreateInvoice(ctx context.Context, inv *domain.Invoice) error
	GetInvoiceByID(ctx context.Context, invoiceID uuid.UUID) (*domain.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*domain.Invoice, error)
	ListInvoicesByCycle(ctx context.Context, cycleID uuid.UUID, status domain.InvoiceStatus) ([]domain.Invoice, error)
	ListInvoicesByEmployer(ctx context.Context, employerID uuid.UUID, opts ListOptions) ([]domain.Invoice, error)
	ListOverdueInvoices(ctx context.Context, asOf time.Time) ([]domain.Invoice, error)
	// UpdateInvoiceStatus persists inv's status fields with a conditional
	// UPDATE guarded on `from`; it returns false when another writer got
	// there first.
	UpdateInvoiceStatus(ctx context.Context, inv *domain.Invoice, from domain.InvoiceStatus) (bool, error)

	// Worker payment methods
	CreateWorkerPayment(ctx context.Context, p *domain.WorkerPayment) error
	GetWorkerPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.WorkerPayment, error)
	GetWorkerPaymentByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*domain.WorkerPayment, error)
	ListPaymentsByWorker(ctx context.Context, workerID uuid.UUID, opts ListOptions) ([]domain.WorkerPayment, error)
	ListPaymentsByCycle(ctx context.Context, cycleID uuid.UUID, status domain.PaymentStatus) ([]domain.WorkerPayment, error)
	// ClaimPaymentForProcessing atomically moves a pending or failed payment
	// to processing. Exactly one of any number of concurrent claimants wins.
	ClaimPaymentForProcessing(ctx context.Context, paymentID uuid.UUID, at time.Time) (bool, error)
	UpdatePaymentStatus(ctx context.Context, p *domain.WorkerPayment, from domain.PaymentStatus) (bool, error)

	// Transaction ledger methods
	// CreateTransaction inserts a ledger row; a reused external reference is
	// rejected with ErrDuplicateReference by the unique index.
	CreateTransaction(ctx context.Context, tx *domain.PaymentTransaction) error
	GetTransactionByExternalReference(ctx context.Context, reference string) (*domain.PaymentTransaction, error)
	// FindTransactionForEvent resolves a ledger row from a provider's
	// transaction id, falling back to our own external reference when the
	// provider echoes it.
	FindTransactionForEvent(ctx context.Context, providerTransactionID, reference string) (*domain.PaymentTransaction, error)
	// SettleTransaction applies a terminal (or pending) status with a
	// conditional UPDATE; rows already terminal are left untouched and the
	// call reports false.
	SettleTransaction(ctx context.Context, txID uuid.UUID, params SettleTransactionParams) (bool, error)
	ListTransactionsNeedingReconciliation(ctx context.Context, olderThan time.Time) ([]domain.PaymentTransaction, error)

	// Fee config methods
	// GetActiveFeeConfig returns the applicable config for a category: the
	// active row with the latest effective_from not after asOf, ties broken
	// by latest created_at.
	GetActiveFeeConfig(ctx context.Context, categoryID uuid.UUID, asOf time.Time) (*domain.ServiceFeeConfig, error)

	// Atomic runs fn against a transaction-scoped repository.
	Atomic(ctx context.Context, fn func(Repository) error) error
}

// SettleTransactionParams carries the fields written when a transaction's
// outcome is recorded.
type SettleTransactionParams struct {
	Status            domain.TransactionStatus
	ProviderStatus    *string
	InternalReference *string
	ProviderResponse  []byte
	CompletedAt       *time.Time
}
