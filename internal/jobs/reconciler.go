package jobs

import (
	"context"
	"time"

	"brokerage/internal/store"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type ReconcileStore interface {
	Reconcile(ctx context.Context, referenceAsset string) ([]store.AssetReconciliation, error)
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	CheckedAt  time.Time                   `json:"checked_at"`
	Assets     int                         `json:"assets"`
	Mismatches []store.AssetReconciliation `json:"mismatches"`
}

func (r Report) Balanced() bool {
	return len(r.Mismatches) == 0
}

// Reconciler compares every asset's blocked amount with the reservations of
// its customer's pending orders.
type Reconciler struct {
	assets    ReconcileStore
	reference string
	logger    *zap.SugaredLogger
	timeout   time.Duration
	cron      *cron.Cron
}

func NewReconciler(assets ReconcileStore, referenceAsset string, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		assets:    assets,
		reference: referenceAsset,
		logger:    logger,
		timeout:   time.Minute,
	}
}

func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rows, err := r.assets.Reconcile(ctx, r.reference)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		CheckedAt:  time.Now().UTC(),
		Assets:     len(rows),
		Mismatches: []store.AssetReconciliation{},
	}
	for _, row := range rows {
		if row.Balanced() {
			continue
		}
		report.Mismatches = append(report.Mismatches, row)
		r.logger.Warnw("asset reservation mismatch",
			"asset_id", row.AssetID,
			"customer_id", row.CustomerID,
			"asset_name", row.AssetName,
			"blocked", row.Blocked.String(),
			"reserved", row.Reserved.String(),
			"difference", row.Difference.String(),
		)
	}
	return report, nil
}

// Start schedules Run on a cron spec such as "@every 5m". An empty spec
// leaves the job disabled.
func (r *Reconciler) Start(spec string) error {
	if spec == "" {
		r.logger.Infow("reconciliation job disabled")
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, r.runScheduled); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	r.logger.Infow("reconciliation job scheduled", "schedule", spec)
	return nil
}

// Stop waits for a running pass to finish.
func (r *Reconciler) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
}

func (r *Reconciler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	report, err := r.Run(ctx)
	if err != nil {
		r.logger.Errorw("reconciliation failed", "error", err)
		return
	}
	r.logger.Infow("reconciliation finished", "assets", report.Assets, "mismatches", len(report.Mismatches))
}
