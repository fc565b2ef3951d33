package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/obs"
)

// Threshold is the cutoff for a sweep at now: entries created strictly
// before it are removed.
func Threshold(now time.Time, retentionDays int) time.Time {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return now.Add(-time.Duration(retentionDays) * 24 * time.Hour)
}

// Cleanup deletes entries older than retentionDays (30 when not positive).
// Repeated calls are safe; a failure reports zero deletions and Error.
func (l *Log) Cleanup(ctx context.Context, retentionDays int) CleanupResult {
	threshold := Threshold(l.now().UTC(), retentionDays)
	deleted, err := l.store.DeleteOlderThan(ctx, threshold)
	if err != nil {
		l.log.WithError(err).WithField("threshold", threshold).Warn("audit cleanup failed")
		return CleanupResult{Threshold: threshold, Error: "audit cleanup failed"}
	}
	if deleted > 0 {
		obs.AuditCleanupDeleted.Add(float64(deleted))
		l.log.WithFields(logrus.Fields{"deleted": deleted, "threshold": threshold}).Info("audit retention sweep")
	}
	return CleanupResult{Deleted: deleted, Threshold: threshold}
}
