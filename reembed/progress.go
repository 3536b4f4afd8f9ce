package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressStats is a point-in-time view of an embedding run.
type ProgressStats struct {
	Done    int
	Total   int
	Elapsed time.Duration
	// Rate is records per second since Start.
	Rate float64
	// Remaining estimates the time left at the current rate. It is zero
	// until the first records complete.
	Remaining time.Duration
}

// Percent returns the completed share of the run.
func (s ProgressStats) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Done) / float64(s.Total) * 100
}

// ProgressTracker prints a single updating progress line. Batches finish
// out of order, so it only counts records. Safe for concurrent use.
type ProgressTracker struct {
	mu       sync.Mutex
	writer   io.Writer
	total    int
	every    int
	done     int
	reported int
	start    time.Time
	now      func() time.Time
}

// NewProgressTracker reports to writer every reportInterval records out of
// total. A nil writer discards output.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressTracker{
		writer: writer,
		total:  total,
		every:  max(reportInterval, 1),
		now:    time.Now,
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
	p.done = 0
	p.reported = 0
}

// Increment adds n completed records. Calls before Start are ignored.
func (p *ProgressTracker) Increment(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return
	}
	p.done = min(p.done+n, p.total)
	if p.done-p.reported >= p.every {
		p.print()
		p.reported = p.done
	}
}

// Current returns the number of records completed so far.
func (p *ProgressTracker) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stats returns the current progress.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats()
}

// Finish marks every record done and ends the progress line.
func (p *ProgressTracker) Finish() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.start.IsZero() {
		return ProgressStats{Total: p.total}
	}
	p.done = p.total
	p.print()
	fmt.Fprintln(p.writer)
	return p.stats()
}

func (p *ProgressTracker) stats() ProgressStats {
	s := ProgressStats{Done: p.done, Total: p.total}
	if p.start.IsZero() {
		return s
	}
	s.Elapsed = p.now().Sub(p.start)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Rate = float64(p.done) / secs
	}
	if s.Rate > 0 && p.done < p.total {
		s.Remaining = time.Duration(float64(p.total-p.done) / s.Rate * float64(time.Second))
	}
	return s
}

// print writes the progress line. Caller holds mu.
func (p *ProgressTracker) print() {
	s := p.stats()
	fmt.Fprintf(p.writer, "\rEmbedded %d/%d wines (%.1f%%) - %.1f wines/s", s.Done, s.Total, s.Percent(), s.Rate)
	if s.Remaining > 0 {
		fmt.Fprintf(p.writer, ", %s left", s.Remaining.Round(time.Second))
	}
}
