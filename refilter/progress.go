package refilter

import (
	"fmt"
	"io"
	"time"

	"github.com/poiesic/archivist/core"
)

type outcome int

const (
	outcomeRecorded outcome = iota
	outcomeUnchanged
	outcomeSkipped
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeRecorded:
		return "recorded"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeSkipped:
		return "skipped"
	case outcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// passLog tallies the outcome of each lineage of a pass. It writes a line
// naming the lineage every interval lineages, after the last one, and when
// a lineage fails.
type passLog struct {
	out      io.Writer
	interval int
	started  time.Time
	summary  Summary
}

func newPassLog(out io.Writer, documents, interval int) *passLog {
	return &passLog{
		out:      out,
		interval: max(interval, 1),
		started:  time.Now(),
		summary:  Summary{Documents: documents},
	}
}

// processed returns how many lineages have an outcome.
func (p *passLog) processed() int {
	s := p.summary
	return s.Recorded + s.Unchanged + s.Skipped + s.Failed
}

func (p *passLog) observe(lineage core.Lineage, o outcome) {
	switch o {
	case outcomeRecorded:
		p.summary.Recorded++
	case outcomeUnchanged:
		p.summary.Unchanged++
	case outcomeSkipped:
		p.summary.Skipped++
	case outcomeFailed:
		p.summary.Failed++
	}

	n := p.processed()
	if o == outcomeFailed || n%p.interval == 0 || n == p.summary.Documents {
		fmt.Fprintf(p.out, "[%d/%d] %s %s (%.1f documents/s)\n",
			n, p.summary.Documents, lineage, o, p.rate())
	}
}

func (p *passLog) rate() float64 {
	elapsed := time.Since(p.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(p.processed()) / elapsed
}

// finish writes the closing line and returns the tally.
func (p *passLog) finish() Summary {
	s := p.summary
	fmt.Fprintf(p.out, "Refilter complete. %d recorded, %d unchanged, %d skipped, %d failed in %v\n",
		s.Recorded, s.Unchanged, s.Skipped, s.Failed, time.Since(p.started).Round(time.Millisecond))
	return s
}
