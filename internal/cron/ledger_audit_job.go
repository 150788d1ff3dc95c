package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitawell/vitawell-backend/pkg/logger"
	"github.com/vitawell/vitawell-backend/pkg/metrics"
)

const (
	// ledgerAuditGrace keeps freshly written transactions out of the sweep
	// so in-flight inserts are not flagged before their postings commit.
	ledgerAuditGrace = 10 * time.Minute

	ledgerAuditWindow = 24 * time.Hour
)

// LedgerAuditJobParams configure the ledger reconciliation sweep.
type LedgerAuditJobParams struct {
	Logger     *logger.Logger
	Repository ledgerAuditRepo
	Metrics    *metrics.LedgerAuditMetrics
	Grace      time.Duration
	Window     time.Duration
}

type ledgerAuditRepo interface {
	CountPostingless(ctx context.Context, olderThan time.Time) (int64, []uuid.UUID, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// NewLedgerAuditJob builds the job that scans the ledger for transactions
// whose posting rows are missing. The double-entry shape makes per-currency
// imbalance impossible within a posting, so the only corruption a sweep can
// surface is a transaction that lost its postings entirely.
func NewLedgerAuditJob(params LedgerAuditJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = ledgerAuditGrace
	}
	window := params.Window
	if window <= 0 {
		window = ledgerAuditWindow
	}
	return &ledgerAuditJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
		grace:   grace,
		window:  window,
		now:     time.Now,
	}, nil
}

type ledgerAuditJob struct {
	logg    *logger.Logger
	repo    ledgerAuditRepo
	metrics *metrics.LedgerAuditMetrics
	grace   time.Duration
	window  time.Duration
	now     func() time.Time
}

func (j *ledgerAuditJob) Name() string { return "ledger-audit" }

func (j *ledgerAuditJob) Run(ctx context.Context) error {
	now := j.now().UTC()

	scanned, err := j.repo.CountSince(ctx, now.Add(-j.window))
	if err != nil {
		return fmt.Errorf("count recent transactions: %w", err)
	}
	j.metrics.AddScanned(int(scanned))

	unbalanced, ids, err := j.repo.CountPostingless(ctx, now.Add(-j.grace))
	if err != nil {
		return fmt.Errorf("count postingless transactions: %w", err)
	}
	j.metrics.AddUnbalanced(int(unbalanced))

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":    scanned,
		"unbalanced": unbalanced,
	})
	if unbalanced > 0 {
		logCtx = j.logg.WithField(logCtx, "transaction_ids", ids)
		j.logg.Warn(logCtx, "ledger audit found transactions without postings")
		return nil
	}
	j.logg.Info(logCtx, "ledger audit clean")
	return nil
}
