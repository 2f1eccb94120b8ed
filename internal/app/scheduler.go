/**
 * @description
 * Cron scheduler setup for the payroll jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions for each recurring job.
type Schedules struct {
	InvoiceGeneration string
	Disbursement      string
	OverdueSweep      string
	Reconciliation    string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedules.InvoiceGeneration, s.jobs.GenerateMonthlyInvoices); err != nil {
		s.logger.Error("failed to schedule invoice generation job", "error", err)
	} else {
		s.logger.Info("scheduled invoice generation job", "schedule", s.schedules.InvoiceGeneration)
	}

	if _, err := s.cron.AddFunc(s.schedules.Disbursement, s.jobs.DisburseWorkerSalaries); err != nil {
		s.logger.Error("failed to schedule disbursement job", "error", err)
	} else {
		s.logger.Info("scheduled disbursement job", "schedule", s.schedules.Disbursement)
	}

	if _, err := s.cron.AddFunc(s.schedules.OverdueSweep, s.jobs.SweepOverdueInvoices); err != nil {
		s.logger.Error("failed to schedule overdue sweep job", "error", err)
	} else {
		s.logger.Info("scheduled overdue sweep job", "schedule", s.schedules.OverdueSweep)
	}

	if _, err := s.cron.AddFunc(s.schedules.Reconciliation, s.jobs.ReconcileStuckTransactions); err != nil {
		s.logger.Error("failed to schedule reconciliation job", "error", err)
	} else {
		s.logger.Info("scheduled reconciliation job", "schedule", s.schedules.Reconciliation)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
