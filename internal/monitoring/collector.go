// Package monitoring watches extraction health across live sessions and
// posts webhook alerts when failure thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/session"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	Owners int `json:"owners"`

	// Documents uploaded within the lookback window.
	DocumentsTotal     int     `json:"documents_total"`
	DocumentsCompleted int     `json:"documents_completed"`
	DocumentsFailed    int     `json:"documents_failed"`
	DocumentsInFlight  int     `json:"documents_in_flight"`
	DocumentFailRate   float64 `json:"document_fail_rate"`

	// Backfills finished within the lookback window.
	BackfillRuns      int `json:"backfill_runs"`
	BackfillAttempted int `json:"backfill_attempted"`
	BackfillFailed    int `json:"backfill_failed"`

	PendingSuggestions int `json:"pending_suggestions"`
	PersistedRecords   int `json:"persisted_records"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// ActivitySource reports per-owner session activity since a point in time.
type ActivitySource interface {
	Activity(since time.Time) []session.Activity
}

// RecordCounter counts persisted contract records.
type RecordCounter interface {
	CountRecordsSince(ctx context.Context, since time.Time) (int, error)
}

// Collector gathers metrics from live sessions and the record store.
type Collector struct {
	sessions ActivitySource
	records  RecordCounter
	nowFunc  func() time.Time
}

// NewCollector creates a new metrics collector. records may be nil.
func NewCollector(sessions ActivitySource, records RecordCounter) *Collector {
	return &Collector{sessions: sessions, records: records, nowFunc: time.Now}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	activity := c.sessions.Activity(cutoff)
	snap.Owners = len(activity)
	for _, a := range activity {
		for _, d := range a.Documents {
			snap.DocumentsTotal++
			switch d.Status {
			case model.DocumentStatusCompleted:
				snap.DocumentsCompleted++
			case model.DocumentStatusError:
				snap.DocumentsFailed++
			default:
				snap.DocumentsInFlight++
			}
		}
		for _, b := range a.Backfills {
			snap.BackfillRuns++
			snap.BackfillAttempted += b.Attempted
			snap.BackfillFailed += b.Failed
		}
		snap.PendingSuggestions += a.PendingSuggestions
	}

	if finished := snap.DocumentsCompleted + snap.DocumentsFailed; finished > 0 {
		snap.DocumentFailRate = float64(snap.DocumentsFailed) / float64(finished)
	}

	if c.records != nil {
		n, err := c.records.CountRecordsSince(ctx, cutoff)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count records")
		}
		snap.PersistedRecords = n
	}

	return snap, nil
}
