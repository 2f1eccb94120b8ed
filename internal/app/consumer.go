/**
 * @description
 * Consumer for the disbursement-due queue. When an invoice is confirmed
 * paid, a DisbursementDueEvent lands here; the consumer materializes the
 * worker payment and pushes the salary out. Delivery is at-least-once, so
 * the handler leans on the unique invoice link and the processing claim to
 * stay safe under redelivery.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/workconnect/payroll-service/internal/domain"
	"github.com/workconnect/payroll-service/internal/store"
)

// DisbursementConsumer handles disbursement-due events from RabbitMQ.
type DisbursementConsumer struct {
	workflow *Service
	poller   PollerConfig
}

// NewDisbursementConsumer creates a consumer bound to the payment workflow.
func NewDisbursementConsumer(workflow *Service, poller PollerConfig) *DisbursementConsumer {
	return &DisbursementConsumer{workflow: workflow, poller: poller}
}

// HandleMessage processes one delivery. Returning true acknowledges;
// returning false requeues for redelivery. Malformed payloads are
// acknowledged to drop: requeuing them would loop forever.
func (c *DisbursementConsumer) HandleMessage(body []byte) bool {
	var event domain.DisbursementDueEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("disbursement-consumer: failed to unmarshal payload: %v", err)
		return true
	}
	if event.InvoiceID == uuid.Nil {
		log.Printf("disbursement-consumer: missing invoice id in event %+v", event)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		log.Printf("disbursement-consumer: processing error for invoice %s: %v", event.InvoiceID, err)
		return false
	}
	return true
}

func (c *DisbursementConsumer) processEvent(ctx context.Context, event domain.DisbursementDueEvent) error {
	p, err := c.workflow.CreateWorkerPaymentForInvoice(ctx, event.InvoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			log.Printf("disbursement-consumer: no invoice %s; acknowledging", event.InvoiceID)
			return nil
		}
		return err
	}

	switch p.Status {
	case domain.PaymentStatusCompleted, domain.PaymentStatusProcessing, domain.PaymentStatusRefunded:
		// Redelivered event for work already done or in flight.
		return nil
	}

	tx, err := c.workflow.DisburseWorkerSalary(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrPaymentAlreadyClaimed) || errors.Is(err, ErrPaymentNotDisbursable) {
			return nil
		}
		return err
	}

	if tx.Status == domain.TransactionPending {
		c.workflow.StartStatusPoller(context.Background(), tx.ExternalReference, c.poller)
	}
	return nil
}
