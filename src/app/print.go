package app

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Blackdeer1524/txnsim/src/pkg/utils"
	"github.com/Blackdeer1524/txnsim/src/sim"
)

func formatAborts(r sim.Report) string {
	if len(r.Aborted) == 0 {
		return "0"
	}

	parts := make([]string, 0, len(r.Aborted))
	for _, reason := range utils.SortedKeys(r.Aborted) {
		parts = append(parts, fmt.Sprintf("%s %d", reason, r.Aborted[reason]))
	}
	return fmt.Sprintf("%d (%s)", r.TotalAborted(), strings.Join(parts, ", "))
}

func printResult(out io.Writer, res Result) error {
	rec := res.Recovery

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (seed %d)\n", res.RunID, res.Seed)
	fmt.Fprintf(&b, "recovery: %d records, %d committed, %d rolled back, losers %v, max txn %v\n",
		rec.Records, rec.Committed, rec.RolledBack, rec.Losers, rec.MaxTxnID)
	if rec.Archive != "" {
		fmt.Fprintf(&b, "log archived to %s\n", rec.Archive)
	}

	if res.Sim.IsSome() {
		r := res.Sim.Unwrap()
		fmt.Fprintf(&b, "cycles %d: started %d, committed %d, aborted %s, unfinished %v\n",
			r.Cycles, r.Started, r.Committed, formatAborts(r), r.Unfinished)
		fmt.Fprintf(&b, "reads %d, writes %d, waits %d\n", r.Reads, r.Writes, r.Waits)
		m := res.Metrics
		fmt.Fprintf(&b, "metrics: commits %d, aborts %d, lock waits %d, deadlocks %d\n",
			m.Commits, m.TotalAborts(), m.TotalLockWaits(), m.Deadlocks)
		fmt.Fprintf(&b, "database: %v\n", r.Snapshot)
	}

	_, err := io.WriteString(out, b.String())
	return err
}

func printSweep(out io.Writer, results []Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "RUN\tSEED\tCYCLES\tSTARTED\tCOMMITTED\tABORTED\tUNFINISHED\tWAITS\tDEADLOCKS\tLOSERS")
	for _, res := range results {
		if res.Sim.IsNone() {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\t-\t-\t-\t-\t%d\n", res.Name, res.Seed, len(res.Recovery.Losers))
			continue
		}

		r := res.Sim.Unwrap()
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\t%d\t%d\t%d\t%d\n",
			res.Name, res.Seed, r.Cycles, r.Started, r.Committed, formatAborts(r),
			len(r.Unfinished), r.Waits, res.Metrics.Deadlocks, len(res.Recovery.Losers))
	}

	return w.Flush()
}
