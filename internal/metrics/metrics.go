package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Registry collects counters for the snapshot pipeline. All methods are
// safe for concurrent use and safe on a nil receiver.
type Registry struct {
	changesObserved    atomic.Int64
	changesCoalesced   atomic.Int64
	snapshotsStarted   atomic.Int64
	snapshotsSucceeded atomic.Int64
	snapshotsFailed    atomic.Int64
	snapshotsTimedOut  atomic.Int64
	retries            atomic.Int64
	staleDropped       atomic.Int64
	watcherErrors      atomic.Int64
	durationNanos      atomic.Int64
	lastSnapshotUnix   atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncChangeObserved() {
	if r == nil {
		return
	}
	r.changesObserved.Add(1)
}

func (r *Registry) IncChangeCoalesced() {
	if r == nil {
		return
	}
	r.changesCoalesced.Add(1)
}

func (r *Registry) IncSnapshotStarted() {
	if r == nil {
		return
	}
	r.snapshotsStarted.Add(1)
}

func (r *Registry) IncSnapshotTimedOut() {
	if r == nil {
		return
	}
	r.snapshotsTimedOut.Add(1)
}

func (r *Registry) IncRetry() {
	if r == nil {
		return
	}
	r.retries.Add(1)
}

func (r *Registry) IncStaleDropped() {
	if r == nil {
		return
	}
	r.staleDropped.Add(1)
}

func (r *Registry) IncWatcherError() {
	if r == nil {
		return
	}
	r.watcherErrors.Add(1)
}

// RecordSnapshot records the outcome and duration of a resolved attempt.
func (r *Registry) RecordSnapshot(duration time.Duration, err error) {
	if r == nil {
		return
	}
	r.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		r.snapshotsFailed.Add(1)
		return
	}
	r.snapshotsSucceeded.Add(1)
	r.lastSnapshotUnix.Store(time.Now().Unix())
}

func (r *Registry) SnapshotsStarted() int64 {
	if r == nil {
		return 0
	}
	return r.snapshotsStarted.Load()
}

func (r *Registry) SnapshotsFailed() int64 {
	if r == nil {
		return 0
	}
	return r.snapshotsFailed.Load()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "snapwatch_changes_observed_total", "Filesystem change notifications observed", r.changesObserved.Load())
	writeCounter(writer, "snapwatch_changes_coalesced_total", "Change notifications coalesced into a pending attempt", r.changesCoalesced.Load())
	writeCounter(writer, "snapwatch_snapshots_started_total", "Snapshot attempts started", r.snapshotsStarted.Load())
	writeCounter(writer, "snapwatch_snapshots_succeeded_total", "Snapshot attempts that succeeded", r.snapshotsSucceeded.Load())
	writeCounter(writer, "snapwatch_snapshots_failed_total", "Snapshot attempts that failed", r.snapshotsFailed.Load())
	writeCounter(writer, "snapwatch_snapshots_timed_out_total", "Snapshot attempts canceled at the deadline", r.snapshotsTimedOut.Load())
	writeCounter(writer, "snapwatch_snapshot_retries_total", "Immediate retries after a failed attempt", r.retries.Load())
	writeCounter(writer, "snapwatch_stale_results_dropped_total", "Completion signals discarded by the stale guard", r.staleDropped.Load())
	writeCounter(writer, "snapwatch_watcher_errors_total", "Errors reported by the filesystem watcher", r.watcherErrors.Load())

	writeHelp(writer, "snapwatch_snapshot_duration_seconds_sum", "Cumulative attempt duration in seconds")
	fmt.Fprintln(writer, "# TYPE snapwatch_snapshot_duration_seconds_sum counter")
	fmt.Fprintf(writer, "snapwatch_snapshot_duration_seconds_sum %.6f\n", float64(r.durationNanos.Load())/float64(time.Second))

	writeHelp(writer, "snapwatch_last_snapshot_timestamp_seconds", "Unix time of the last successful snapshot")
	fmt.Fprintln(writer, "# TYPE snapwatch_last_snapshot_timestamp_seconds gauge")
	fmt.Fprintf(writer, "snapwatch_last_snapshot_timestamp_seconds %d\n", r.lastSnapshotUnix.Load())

	return nil
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}
