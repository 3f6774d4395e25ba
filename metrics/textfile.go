package metrics

import (
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ferry"

// Registry renders a Snapshot as Prometheus metrics.
func Registry(snap Snapshot) (*prometheus.Registry, error) {
	labels := prometheus.Labels{
		"canister":        snap.Canister,
		"network":         snap.Network,
		"storage_backend": snap.StorageBackend,
	}
	reg := prometheus.NewRegistry()

	counters := []struct {
		name, help string
		value      int64
	}{
		{"runs_started_total", "Transfer runs started.", snap.RunsStarted},
		{"runs_completed_total", "Transfer runs that activated the artifact.", snap.RunsCompleted},
		{"runs_failed_total", "Transfer runs that ended fatal.", snap.RunsFailed},
		{"runs_interrupted_total", "Transfer runs aborted with progress preserved.", snap.RunsInterrupted},
		{"chunks_uploaded_total", "Chunks acknowledged by the remote.", snap.ChunksUploaded},
		{"chunks_skipped_total", "Chunks skipped because an earlier run delivered them.", snap.ChunksSkipped},
		{"bytes_sent_total", "Payload bytes acknowledged by the remote.", snap.BytesSent},
		{"operator_recoveries_total", "Operator acknowledgements after an upload failure.", snap.OperatorRecoveries},
		{"progress_write_success_total", "Acknowledgements persisted to the progress store.", snap.ProgressWriteSuccess},
		{"progress_write_failure_total", "Failed progress store writes.", snap.ProgressWriteFailure},
	}
	for _, c := range counters {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        c.name,
			Help:        c.help,
			ConstLabels: labels,
		})
		counter.Add(float64(c.value))
		if err := reg.Register(counter); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
	}

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "transport_failures_total",
		Help:        "Failed remote calls by operation.",
		ConstLabels: labels,
	}, []string{"operation"})
	ops := make([]string, 0, len(snap.FailuresByOperation))
	for op := range snap.FailuresByOperation {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		failures.WithLabelValues(op).Add(float64(snap.FailuresByOperation[op]))
	}
	if err := reg.Register(failures); err != nil {
		return nil, fmt.Errorf("register transport_failures_total: %w", err)
	}

	return reg, nil
}

// WriteTextfile writes snap to path in the Prometheus text format.
// The file is replaced atomically, as the textfile collector expects.
func WriteTextfile(path string, snap Snapshot) error {
	reg, err := Registry(snap)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
