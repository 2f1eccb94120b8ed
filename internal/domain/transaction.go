/**
 * @description
 * This file defines the PaymentTransaction ledger entity: one row per
 * attempted gateway call (collection, disbursement, or refund). The ledger is
 * append-mostly; a row becomes immutable once it reaches a terminal status.
 *
 * @notes
 * - `ExternalReference` is the caller-generated idempotency key. It is unique
 *   across the whole ledger and is the sole deduplication key for retried
 *   gateway calls; the providers are never trusted to deduplicate.
 * - The raw provider response payload is retained verbatim for audit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies the direction of a money movement.
type TransactionType string

const (
	TransactionEmployerPayment    TransactionType = "employer_payment"
	TransactionWorkerDisbursement TransactionType = "worker_disbursement"
	TransactionRefund             TransactionType = "refund"
)

// TransactionStatus is the status vocabulary every provider's status codes
// are translated into.
type TransactionStatus string

const (
	TransactionInitiated  TransactionStatus = "initiated"
	TransactionPending    TransactionStatus = "pending"
	TransactionSuccessful TransactionStatus = "successful"
	TransactionFailed     TransactionStatus = "failed"
	TransactionCancelled  TransactionStatus = "cancelled"
)

// Terminal reports whether the status admits no further updates. Terminal
// ledger rows are immutable.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionSuccessful, TransactionFailed, TransactionCancelled:
		return true
	}
	return false
}

// PaymentTransaction is the central ledger record for any money movement
// attempted through a payment provider.
type PaymentTransaction struct {
	ID uuid.UUID `json:"id"`

	TransactionType TransactionType `json:"transaction_type"`

	// ExternalReference is our idempotency key, shared with the provider.
	// InternalReference holds the provider's own transaction id when the
	// provider assigns one.
	ExternalReference string  `json:"external_reference"`
	InternalReference *string `json:"internal_reference,omitempty"`

	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	PaymentMethod   string `json:"payment_method"`
	PaymentProvider string `json:"payment_provider"`

	Status           TransactionStatus `json:"status"`
	ProviderStatus   *string           `json:"provider_status,omitempty"`
	ProviderResponse []byte            `json:"provider_response,omitempty"` // raw JSON, verbatim

	PayerUserID *uuid.UUID `json:"payer_user_id,omitempty"`
	PayeeUserID *uuid.UUID `json:"payee_user_id,omitempty"`

	// At most one of these links is set, tying the ledger row to the entity
	// whose state machine it drives.
	InvoiceID       *uuid.UUID `json:"invoice_id,omitempty"`
	WorkerPaymentID *uuid.UUID `json:"worker_payment_id,omitempty"`

	InitiatedAt time.Time  `json:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
