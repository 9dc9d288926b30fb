package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker prints a single, carriage-return refreshed progress line.
type ProgressTracker struct {
	mu             sync.Mutex
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
}

func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: reportInterval,
	}
}

func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.current = 0
	p.lastReported = 0
}

// Update sets the absolute number of documents done.
func (p *ProgressTracker) Update(current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(current)
}

// Increment adds delta to the number of documents done.
func (p *ProgressTracker) Increment(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance(p.current + delta)
}

func (p *ProgressTracker) advance(current int) {
	if !p.started {
		return
	}
	p.current = min(current, p.total)
	if p.current-p.lastReported >= p.reportInterval || p.current == p.total {
		p.report()
		p.lastReported = p.current
	}
}

func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

func (p *ProgressTracker) report() {
	fmt.Fprintf(p.writer, "\r%s", p.line(time.Since(p.startTime)))
}

// line renders "Progress: n/total (p%) - r records/s" and, while work
// remains, an estimate of the time left.
func (p *ProgressTracker) line(elapsed time.Duration) string {
	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(p.current) / secs
	}

	pct := 0.0
	if p.total > 0 {
		pct = float64(p.current) / float64(p.total) * 100.0
	}

	out := fmt.Sprintf("Progress: %d/%d (%.1f%%) - %.1f records/s", p.current, p.total, pct, rate)
	if left := p.total - p.current; left > 0 && rate > 0 {
		eta := time.Duration(float64(left) / rate * float64(time.Second))
		out += fmt.Sprintf(", %v left", eta.Round(time.Second))
	}
	return out
}
