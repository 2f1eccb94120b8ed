/**
 * @description
 * Message payloads exchanged over RabbitMQ and the effect descriptors
 * returned by state transitions.
 *
 * State transitions never perform side effects themselves; they return a
 * list of effects (notify a user, schedule a disbursement) that the
 * orchestrator executes after the transition has committed. This keeps the
 * entity updates free of hidden re-entrant writes.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DisbursementDueEvent is published when an invoice is confirmed PAID and a
// worker disbursement should be scheduled. Delivery is at-least-once; the
// consumer relies on the unique invoice link on WorkerPayment to deduplicate.
type DisbursementDueEvent struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	CycleID    uuid.UUID `json:"payroll_cycle_id"`
	ContractID uuid.UUID `json:"contract_id"`
	WorkerID   uuid.UUID `json:"worker_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NotificationEvent is a fire-and-forget notification for the notification
// service. The payroll service never waits on or inspects delivery.
type NotificationEvent struct {
	UserID    uuid.UUID              `json:"user_id"`
	Kind      string                 `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notification kinds emitted by payroll transitions.
const (
	NotifyInvoicePaid          = "invoice_paid"
	NotifyInvoiceOverdue       = "invoice_overdue"
	NotifyInvoiceCancelled     = "invoice_cancelled"
	NotifySalaryCompleted      = "salary_payment_completed"
	NotifySalaryFailed         = "salary_payment_failed"
	NotifyReconciliationNeeded = "payment_needs_reconciliation"
)

// EffectKind enumerates the side effects a transition can request.
type EffectKind string

const (
	EffectNotify               EffectKind = "notify"
	EffectScheduleDisbursement EffectKind = "schedule_disbursement"
)

// Effect describes one side effect to perform after a transition commits.
type Effect struct {
	Kind         EffectKind
	Notification *NotificationEvent
	Disbursement *DisbursementDueEvent
}

// NotifyEffect builds a notification effect.
func NotifyEffect(userID uuid.UUID, kind string, payload map[string]interface{}, now time.Time) Effect {
	return Effect{
		Kind: EffectNotify,
		Notification: &NotificationEvent{
			UserID:    userID,
			Kind:      kind,
			Payload:   payload,
			Timestamp: now,
		},
	}
}

// ScheduleDisbursementEffect builds a disbursement scheduling effect for a
// paid invoice.
func ScheduleDisbursementEffect(inv *Invoice, now time.Time) Effect {
	return Effect{
		Kind: EffectScheduleDisbursement,
		Disbursement: &DisbursementDueEvent{
			InvoiceID:  inv.ID,
			CycleID:    inv.CycleID,
			ContractID: inv.ContractID,
			WorkerID:   inv.WorkerID,
			Timestamp:  now,
		},
	}
}
