package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInvoiceStatusTransitions(t *testing.T) {
	cases := []struct {
		from InvoiceStatus
		to   InvoiceStatus
		want bool
	}{
		{InvoiceStatusPending, InvoiceStatusPaid, true},
		{InvoiceStatusPending, InvoiceStatusCancelled, true},
		{InvoiceStatusPaid, InvoiceStatusPending, false},
		{InvoiceStatusPaid, InvoiceStatusCancelled, false},
		{InvoiceStatusCancelled, InvoiceStatusPaid, false},
		{InvoiceStatusCancelled, InvoiceStatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}

	if InvoiceStatusPending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	if !InvoiceStatusPaid.Terminal() || !InvoiceStatusCancelled.Terminal() {
		t.Fatal("paid and cancelled must be terminal")
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from PaymentStatus
		to   PaymentStatus
		want bool
	}{
		{PaymentStatusPending, PaymentStatusProcessing, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPending, PaymentStatusCompleted, false},
		{PaymentStatusProcessing, PaymentStatusCompleted, true},
		{PaymentStatusProcessing, PaymentStatusFailed, true},
		{PaymentStatusProcessing, PaymentStatusPending, false},
		{PaymentStatusFailed, PaymentStatusProcessing, true}, // retry path
		{PaymentStatusFailed, PaymentStatusCompleted, false},
		{PaymentStatusCompleted, PaymentStatusRefunded, true},
		{PaymentStatusCompleted, PaymentStatusProcessing, false},
		{PaymentStatusRefunded, PaymentStatusProcessing, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}

	if !PaymentStatusRefunded.Terminal() {
		t.Fatal("refunded must be terminal")
	}
	if PaymentStatusFailed.Terminal() {
		t.Fatal("failed must be retryable, not terminal")
	}
}

func TestInvoiceIsOverdue(t *testing.T) {
	today := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

	inv := Invoice{Status: InvoiceStatusPending, DueDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}
	if !inv.IsOverdue(today) {
		t.Fatal("pending invoice past due date must be overdue")
	}
	if got := inv.DisplayStatus(today); got != "overdue" {
		t.Fatalf("expected display status overdue, got %q", got)
	}

	// Due today is not overdue, even later in the day.
	inv.DueDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if inv.IsOverdue(today) {
		t.Fatal("invoice due today must not be overdue")
	}
	if got := inv.DisplayStatus(today); got != "pending" {
		t.Fatalf("expected display status pending, got %q", got)
	}

	// Paid and cancelled invoices are never overdue.
	inv.DueDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	inv.Status = InvoiceStatusPaid
	if inv.IsOverdue(today) {
		t.Fatal("paid invoice must not be overdue")
	}
	inv.Status = InvoiceStatusCancelled
	if inv.IsOverdue(today) {
		t.Fatal("cancelled invoice must not be overdue")
	}
	if got := inv.DisplayStatus(today); got != "cancelled" {
		t.Fatalf("expected display status cancelled, got %q", got)
	}
}

func TestCycleFlagOrder(t *testing.T) {
	cycle := PayrollCycle{}

	if !cycle.CanMarkInvoicesGenerated() {
		t.Fatal("fresh cycle must allow invoice generation")
	}
	if cycle.CanMarkPaymentsProcessed() {
		t.Fatal("payments processed must require invoices generated first")
	}
	if cycle.CanClose() {
		t.Fatal("close must require both earlier flags")
	}

	cycle.InvoicesGenerated = true
	if !cycle.CanMarkPaymentsProcessed() {
		t.Fatal("payments processed must be allowed after invoices generated")
	}
	if cycle.CanClose() {
		t.Fatal("close must still require payments processed")
	}

	cycle.PaymentsProcessed = true
	if !cycle.CanClose() {
		t.Fatal("close must be allowed after both flags set")
	}

	cycle.CycleClosed = true
	if cycle.CanMarkInvoicesGenerated() || cycle.CanMarkPaymentsProcessed() || cycle.CanClose() {
		t.Fatal("a closed cycle must reject all further flag changes")
	}
}

func TestCycleName(t *testing.T) {
	cycle := PayrollCycle{Month: 3, Year: 2024}
	if got := cycle.CycleName(); got != "March 2024" {
		t.Fatalf("expected cycle name March 2024, got %q", got)
	}

	bad := PayrollCycle{Month: 0, Year: 2024}
	if got := bad.CycleName(); got != "Month 0, 2024" {
		t.Fatalf("expected fallback cycle name, got %q", got)
	}
}

func TestReferenceFormats(t *testing.T) {
	contractID := uuid.MustParse("abcd1234-0000-0000-0000-000000000000")

	if got := InvoiceNumber(2024, 3, contractID); got != "INV-2024-03-ABCD1234" {
		t.Fatalf("unexpected invoice number %q", got)
	}
	if got := PaymentReference(2024, 3, contractID); got != "PAY-2024-03-ABCD1234" {
		t.Fatalf("unexpected payment reference %q", got)
	}
	if got := InvoiceNumber(2024, 11, contractID); got != "INV-2024-11-ABCD1234" {
		t.Fatalf("unexpected invoice number for two-digit month %q", got)
	}
}

func TestReferenceStableAcrossRuns(t *testing.T) {
	contractID := uuid.New()

	first := InvoiceNumber(2024, 7, contractID)
	second := InvoiceNumber(2024, 7, contractID)
	if first != second {
		t.Fatalf("invoice number must be deterministic: %q vs %q", first, second)
	}

	other := InvoiceNumber(2024, 8, contractID)
	if first == other {
		t.Fatal("invoice numbers for different months must differ")
	}
}

func TestTransactionStatusTerminal(t *testing.T) {
	terminal := []TransactionStatus{TransactionSuccessful, TransactionFailed, TransactionCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	open := []TransactionStatus{TransactionInitiated, TransactionPending}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
