package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/archiflow-dev/archiflow/internal/bus/storage"
)

// DefaultCompactionSchedule sweeps every five minutes, matching the AOL
// backend's own auto-compaction interval.
const DefaultCompactionSchedule = "*/5 * * * *"

// Janitor runs scheduled compaction sweeps over a Compactor backend. The
// in-queue auto-compaction triggers on ack pressure; the janitor catches
// queues that go quiet with a log full of deleted entries.
type Janitor struct {
	compactor storage.Compactor
	schedule  string
	gron      *gronx.Gronx
}

// NewJanitor creates a janitor for the given backend. An empty schedule
// uses DefaultCompactionSchedule; an invalid one is reported immediately.
func NewJanitor(compactor storage.Compactor, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultCompactionSchedule
	}
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, &InvalidScheduleError{Schedule: schedule}
	}
	return &Janitor{compactor: compactor, schedule: schedule, gron: g}, nil
}

// InvalidScheduleError reports a malformed cron expression.
type InvalidScheduleError struct{ Schedule string }

func (e *InvalidScheduleError) Error() string {
	return "invalid compaction schedule: " + e.Schedule
}

// Run ticks once a minute and sweeps when the schedule is due. Blocks until
// ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			j.Sweep()
		}
	}
}

// Sweep compacts every queue of the backend once.
func (j *Janitor) Sweep() {
	for _, queue := range j.compactor.Queues() {
		if err := j.compactor.Compact(queue); err != nil {
			slog.Error("janitor.compact_failed", "queue", queue, "error", err)
			continue
		}
		slog.Debug("janitor.compacted", "queue", queue)
	}
}
