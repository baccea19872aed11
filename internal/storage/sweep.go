package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Scanned int      `json:"scanned"`
	Orphans []string `json:"orphans"`
	Removed int      `json:"removed"`
	Failed  int      `json:"failed"`
	Skipped []string `json:"skipped_backends,omitempty"`
	DryRun  bool     `json:"dry_run"`
}

// Sweep removes objects that no live version references. Objects younger
// than grace are left alone so in-flight uploads whose metadata has not
// committed yet survive. Backends that cannot list are skipped.
func (r *Router) Sweep(ctx context.Context, live map[string]struct{}, grace time.Duration, dryRun bool) (*SweepReport, error) {
	report := &SweepReport{DryRun: dryRun}
	cutoff := time.Now().Add(-grace)

	for _, b := range r.order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		lister, ok := b.(Lister)
		if !ok {
			report.Skipped = append(report.Skipped, b.Scheme())
			continue
		}

		objects, err := lister.List(ctx)
		if err != nil {
			logging.Warn("sweep: list failed",
				logging.Backend(b.Scheme()),
				zap.Error(err))
			report.Skipped = append(report.Skipped, b.Scheme())
			continue
		}

		for _, obj := range objects {
			report.Scanned++
			if _, ok := live[obj.Location]; ok {
				continue
			}
			if obj.ModTime.After(cutoff) {
				continue
			}
			report.Orphans = append(report.Orphans, obj.Location)
			if dryRun {
				continue
			}
			if err := b.Delete(ctx, obj.Location); err != nil {
				report.Failed++
				logging.Warn("sweep: delete failed",
					logging.Location(obj.Location),
					zap.Error(err))
				continue
			}
			report.Removed++
		}
	}

	metrics.RecordSweepRemoved(report.Removed)
	logging.Info("sweep completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("removed", report.Removed),
		zap.Bool("dry_run", dryRun))
	return report, nil
}
