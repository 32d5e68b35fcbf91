package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/stacklok/feedsync/internal/sync/coordinator"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeOutcomes prints one row per source run
func writeOutcomes(w io.Writer, outcomes []coordinator.SourceOutcome) error {
	table := tablewriter.NewWriter(w)
	table.Header("Source", "Kind", "Result", "Strategy", "Found", "Fetched", "Skipped", "Failed", "Duration", "Note")

	rows := make([][]string, 0, len(outcomes))
	for i := range outcomes {
		o := &outcomes[i]
		rows = append(rows, []string{
			o.SourceID,
			o.RunKind,
			outcomeResult(o),
			o.Strategy,
			strconv.Itoa(o.Summary.Found),
			strconv.Itoa(o.Summary.Fetched),
			strconv.Itoa(o.Summary.Skipped),
			strconv.Itoa(o.Summary.Failed),
			o.Duration.Round(time.Millisecond).String(),
			outcomeNote(o),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build table: %w", err)
	}
	return table.Render()
}

func outcomeResult(o *coordinator.SourceOutcome) string {
	switch {
	case o.Failed():
		return "error"
	case o.Degraded:
		return "degraded"
	case o.Summary.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

func outcomeNote(o *coordinator.SourceOutcome) string {
	if o.Failed() {
		if o.ErrorKind != "" {
			return o.ErrorKind + ": " + o.Error
		}
		return o.Error
	}
	return o.Warning
}

// writeStatus prints the lock state followed by the waiting queue
func writeStatus(w io.Writer, st *coordinator.Status) error {
	lock := "free"
	if st.Lock.Held {
		lock = "held by " + st.Lock.Holder
		if st.Lock.AcquiredAt != nil {
			lock += " since " + st.Lock.AcquiredAt.Format(time.RFC3339)
		}
	}
	lastRun := "never"
	if st.Lock.LastRunAt != nil {
		lastRun = st.Lock.LastRunAt.Format(time.RFC3339)
	}
	if _, err := fmt.Fprintf(w, "Lock: %s\nLast completed run: %s\n", lock, lastRun); err != nil {
		return err
	}

	if len(st.Queue) == 0 {
		_, err := fmt.Fprintln(w, "Queue: empty")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header("Position", "Source", "Requester", "Enqueued", "Age")

	rows := make([][]string, 0, len(st.Queue))
	for _, q := range st.Queue {
		rows = append(rows, []string{
			strconv.Itoa(q.Position),
			q.SourceID,
			q.Requester,
			q.EnqueuedAt.Format(time.RFC3339),
			q.Age.Round(time.Second).String(),
		})
	}
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build table: %w", err)
	}
	return table.Render()
}
