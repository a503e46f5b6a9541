package sim

import (
	"github.com/Blackdeer1524/txnsim/src/pkg/common"
)

type Report struct {
	Cycles    int
	Started   int
	Committed int
	// aborts by reason: requested, deadlock, timeout
	Aborted    map[string]int
	Unfinished []common.TxnID
	Reads      int
	Writes     int
	Waits      int
	Snapshot   []common.Value
}

func newReport() Report {
	return Report{Aborted: map[string]int{}}
}

func (r Report) TotalAborted() int {
	total := 0
	for _, n := range r.Aborted {
		total += n
	}
	return total
}
