package worker

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Progress follows a batch run: images finished, maps written and which
// sources failed. It redraws one status line on out after every result.
type Progress struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time

	total  int
	done   int
	maps   int
	busy   time.Duration
	failed []string

	slowest     string
	slowestTime time.Duration
}

// NewProgress tracks total images. A nil out records without drawing.
func NewProgress(total int, out io.Writer) *Progress {
	return &Progress{total: total, out: out, start: time.Now()}
}

// Record folds one finished task into the counters.
func (p *Progress) Record(r Result) {
	p.mu.Lock()
	p.done++
	if r.Err != nil {
		p.failed = append(p.failed, r.Task.Source)
	} else {
		p.maps += len(r.Outputs)
		p.busy += r.Elapsed
		if r.Elapsed > p.slowestTime {
			p.slowest, p.slowestTime = r.Task.Source, r.Elapsed
		}
	}
	line := p.lineLocked()
	p.mu.Unlock()

	if p.out != nil {
		fmt.Fprintf(p.out, "\r%-72s", line)
	}
}

// Callback adapts Record to Config.OnProgress.
func (p *Progress) Callback() ProgressFunc {
	return func(r Result, _, _ int) { p.Record(r) }
}

// Finish ends the status line.
func (p *Progress) Finish() {
	if p.out != nil {
		fmt.Fprintln(p.out)
	}
}

// Failed returns the failed sources in completion order.
func (p *Progress) Failed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.failed...)
}

// MapsWritten is the number of map files produced so far.
func (p *Progress) MapsWritten() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maps
}

func (p *Progress) lineLocked() string {
	elapsed := time.Since(p.start)
	var b strings.Builder
	fmt.Fprintf(&b, "images %d/%d  maps %d", p.done, p.total, p.maps)
	if n := len(p.failed); n > 0 {
		fmt.Fprintf(&b, "  failed %d", n)
	}
	if p.done > 0 && p.done < p.total && elapsed > 0 {
		perImage := elapsed / time.Duration(p.done)
		fmt.Fprintf(&b, "  eta %s", roundDuration(perImage*time.Duration(p.total-p.done)))
	}
	if p.done == p.total {
		fmt.Fprintf(&b, "  took %s", roundDuration(elapsed))
	}
	return b.String()
}

// Summary describes the finished batch for the log.
func (p *Progress) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ok := p.done - len(p.failed)
	var b strings.Builder
	fmt.Fprintf(&b, "Wrote %d maps for %d/%d images in %s", p.maps, ok, p.total, roundDuration(time.Since(p.start)))
	if ok > 0 {
		fmt.Fprintf(&b, "; %s per image, slowest %s (%s)",
			roundDuration(p.busy/time.Duration(ok)), p.slowest, roundDuration(p.slowestTime))
	}
	if len(p.failed) > 0 {
		fmt.Fprintf(&b, "; failed: %s", strings.Join(p.failed, ", "))
	}
	return b.String()
}

// roundDuration keeps milliseconds below a second and tenths above it.
func roundDuration(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}
