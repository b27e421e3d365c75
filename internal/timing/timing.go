// Package timing provides opt-in timing output for diagnostics.
//
// Enable it by setting RESCALE_TIMING=1 (or passing --timing).
// Output format: [TIMING] phase_name: duration (optional_details)
//
// Example output:
//
//	[TIMING] Listing load /trips: 120ms
//	[TIMING] Page 3/12: 840ms images=48 rate=57.1/s
//	[TIMING] Prefetch /trips summary: 12 pages, 576 images, avg=55.0/s rolling=61.2/s
package timing

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// EnvVar switches timing output on when set to "1".
const EnvVar = "RESCALE_TIMING"

// Enabled reports whether timing output is on.
func Enabled() bool {
	return os.Getenv(EnvVar) == "1"
}

// Log writes a timing line to w when timing is enabled.
// A nil writer means os.Stderr.
func Log(w io.Writer, format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "[TIMING] %s\n", fmt.Sprintf(format, args...))
}

// Timer tracks elapsed time for a named phase. Stop is idempotent.
type Timer struct {
	name    string
	start   time.Time
	w       io.Writer
	stopped int32
}

// Start creates a timer. A nil writer means os.Stderr.
func Start(w io.Writer, name string) *Timer {
	if w == nil {
		w = os.Stderr
	}
	return &Timer{name: name, start: time.Now(), w: w}
}

// Elapsed returns the elapsed time without stopping the timer.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop logs the elapsed time on the first call and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if atomic.CompareAndSwapInt32(&t.stopped, 0, 1) && Enabled() {
		fmt.Fprintf(t.w, "[TIMING] %s: %v\n", t.name, elapsed)
	}
	return elapsed
}

// StopWithMessage is Stop with extra details after the duration.
func (t *Timer) StopWithMessage(format string, args ...interface{}) time.Duration {
	elapsed := time.Since(t.start)
	if atomic.CompareAndSwapInt32(&t.stopped, 0, 1) && Enabled() {
		fmt.Fprintf(t.w, "[TIMING] %s: %v (%s)\n", t.name, elapsed, fmt.Sprintf(format, args...))
	}
	return elapsed
}

// PageTimer aggregates per-page timings of a listing walk.
type PageTimer struct {
	name       string
	w          io.Writer
	totalPages int

	mu            sync.Mutex
	pages         int
	images        int
	totalDuration time.Duration
	recentRates   []float64
	maxRecent     int
}

// NewPageTimer creates a page timer. A nil writer means os.Stderr.
func NewPageTimer(w io.Writer, name string, totalPages int) *PageTimer {
	if w == nil {
		w = os.Stderr
	}
	return &PageTimer{
		name:       name,
		w:          w,
		totalPages: totalPages,
		maxRecent:  10,
	}
}

// RecordPage adds one finished page holding images loaded images.
func (pt *PageTimer) RecordPage(page int, d time.Duration, images int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.pages++
	pt.images += images
	pt.totalDuration += d

	rate := float64(0)
	if d > 0 {
		rate = float64(images) / d.Seconds()
		pt.recentRates = append(pt.recentRates, rate)
		if len(pt.recentRates) > pt.maxRecent {
			pt.recentRates = pt.recentRates[1:]
		}
	}

	if !Enabled() {
		return
	}
	fmt.Fprintf(pt.w, "[TIMING] Page %d/%d: %v images=%d rate=%s\n",
		page, pt.totalPages, d, images, FormatRate(rate))
}

// Summary logs the aggregate of all recorded pages.
func (pt *PageTimer) Summary() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if !Enabled() || pt.pages == 0 {
		return
	}

	rolling := float64(0)
	if len(pt.recentRates) > 0 {
		for _, r := range pt.recentRates {
			rolling += r
		}
		rolling /= float64(len(pt.recentRates))
	}

	fmt.Fprintf(pt.w, "[TIMING] %s summary: %d pages, %d images, avg=%s rolling=%s\n",
		pt.name, pt.pages, pt.images, FormatRate(pt.avgRate()), FormatRate(rolling))
}

// Stats returns the recorded totals without logging.
func (pt *PageTimer) Stats() (pages, images int, avgRate float64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.pages, pt.images, pt.avgRate()
}

func (pt *PageTimer) avgRate() float64 {
	if pt.totalDuration <= 0 {
		return 0
	}
	return float64(pt.images) / pt.totalDuration.Seconds()
}

// FormatRate formats an images-per-second rate.
func FormatRate(perSec float64) string {
	return fmt.Sprintf("%.1f/s", perSec)
}
