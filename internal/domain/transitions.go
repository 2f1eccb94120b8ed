/**
 * @description
 * Explicit state-transition functions for invoices and worker payments.
 * Each transition validates legality against the entity's transition table,
 * mutates the in-memory entity, and returns the effects to perform after the
 * new state is persisted. Callers persist first, then execute effects.
 */

package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrIllegalTransition is returned when a requested status change is not in
// the entity's transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// MarkPaid transitions a pending invoice to paid, recording how it was paid.
// Effects: notify the employer, schedule the worker disbursement.
func (i *Invoice) MarkPaid(method string, transactionReference string, now time.Time) ([]Effect, error) {
	if !i.Status.CanTransition(InvoiceStatusPaid) {
		return nil, fmt.Errorf("invoice %s: %s -> paid: %w", i.InvoiceNumber, i.Status, ErrIllegalTransition)
	}
	i.Status = InvoiceStatusPaid
	i.PaidDate = &now
	i.PaymentMethod = &method
	i.TransactionReference = &transactionReference
	i.UpdatedAt = now

	return []Effect{
		NotifyEffect(i.EmployerID, NotifyInvoicePaid, map[string]interface{}{
			"invoice_number": i.InvoiceNumber,
			"total_amount":   i.TotalAmount,
		}, now),
		ScheduleDisbursementEffect(i, now),
	}, nil
}

// Cancel transitions a pending invoice to cancelled. Admin-only escape hatch;
// paid invoices can never be cancelled.
func (i *Invoice) Cancel(now time.Time) ([]Effect, error) {
	if !i.Status.CanTransition(InvoiceStatusCancelled) {
		return nil, fmt.Errorf("invoice %s: %s -> cancelled: %w", i.InvoiceNumber, i.Status, ErrIllegalTransition)
	}
	i.Status = InvoiceStatusCancelled
	i.UpdatedAt = now

	return []Effect{
		NotifyEffect(i.EmployerID, NotifyInvoiceCancelled, map[string]interface{}{
			"invoice_number": i.InvoiceNumber,
		}, now),
	}, nil
}

// BeginProcessing transitions a pending or failed payment to processing once
// a disbursement call has been accepted by the provider.
func (p *WorkerPayment) BeginProcessing(externalReference string, now time.Time) error {
	if !p.Status.CanTransition(PaymentStatusProcessing) {
		return fmt.Errorf("payment %s: %s -> processing: %w", p.PaymentReference, p.Status, ErrIllegalTransition)
	}
	p.Status = PaymentStatusProcessing
	p.TransactionID = &externalReference
	p.UpdatedAt = now
	return nil
}

// MarkCompleted transitions a processing payment to completed.
// Effect: notify the worker their salary has arrived.
func (p *WorkerPayment) MarkCompleted(providerTransactionID string, now time.Time) ([]Effect, error) {
	if !p.Status.CanTransition(PaymentStatusCompleted) {
		return nil, fmt.Errorf("payment %s: %s -> completed: %w", p.PaymentReference, p.Status, ErrIllegalTransition)
	}
	p.Status = PaymentStatusCompleted
	p.TransactionID = &providerTransactionID
	p.DisbursementDate = &now
	p.UpdatedAt = now

	return []Effect{
		NotifyEffect(p.WorkerID, NotifySalaryCompleted, map[string]interface{}{
			"payment_reference": p.PaymentReference,
			"net_amount":        p.NetAmount,
		}, now),
	}, nil
}

// MarkFailed records a failed disbursement attempt and increments the retry
// counter. The job scheduler decides whether and when to retry.
// Effect: notify the worker the payment failed.
func (p *WorkerPayment) MarkFailed(reason string, now time.Time) ([]Effect, error) {
	if !p.Status.CanTransition(PaymentStatusFailed) && p.Status != PaymentStatusFailed {
		return nil, fmt.Errorf("payment %s: %s -> failed: %w", p.PaymentReference, p.Status, ErrIllegalTransition)
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = &reason
	p.RetryCount++
	p.UpdatedAt = now

	return []Effect{
		NotifyEffect(p.WorkerID, NotifySalaryFailed, map[string]interface{}{
			"payment_reference": p.PaymentReference,
			"reason":            reason,
		}, now),
	}, nil
}

// MarkRefunded transitions a completed payment to refunded. Reachable only
// via explicit admin action.
func (p *WorkerPayment) MarkRefunded(now time.Time) error {
	if !p.Status.CanTransition(PaymentStatusRefunded) {
		return fmt.Errorf("payment %s: %s -> refunded: %w", p.PaymentReference, p.Status, ErrIllegalTransition)
	}
	p.Status = PaymentStatusRefunded
	p.UpdatedAt = now
	return nil
}
