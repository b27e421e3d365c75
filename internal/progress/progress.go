// Package progress provides progress reporting for batch actions and
// prefetch runs, as terminal bars (CLI) or event bus events (embedded UI).
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/rescale-gallery/internal/events"
)

// Reporter receives per-item progress of a batch.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// ItemReporter is implemented by reporters that want the id of the item
// about to be processed.
type ItemReporter interface {
	SetItem(id string)
}

// CLIProgress implements Reporter with a single terminal progress bar.
type CLIProgress struct {
	bar *progressbar.ProgressBar
	out io.Writer
}

// NewCLIProgress creates a new CLI progress reporter writing to stderr.
func NewCLIProgress() *CLIProgress {
	return &CLIProgress{out: os.Stderr}
}

// NewCLIProgressTo creates a CLI progress reporter writing to w.
func NewCLIProgressTo(w io.Writer) *CLIProgress {
	return &CLIProgress{out: w}
}

// Start initializes the bar with the item count and description.
func (p *CLIProgress) Start(total int64, description string) {
	p.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints the failure below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the bar description.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// BusProgress implements Reporter by publishing BatchProgressEvents, for a
// presentation layer subscribed to the event bus.
type BusProgress struct {
	eventBus *events.EventBus
	session  string
	action   string

	mu      sync.Mutex
	total   int
	current int
	item    string
}

// NewBusProgress creates a reporter publishing progress of action in session.
func NewBusProgress(eventBus *events.EventBus, session, action string) *BusProgress {
	return &BusProgress{
		eventBus: eventBus,
		session:  session,
		action:   action,
	}
}

// Start publishes a zero-progress event.
func (p *BusProgress) Start(total int64, description string) {
	p.mu.Lock()
	p.total = int(total)
	p.current = 0
	p.mu.Unlock()

	p.eventBus.PublishBatchProgress(p.session, p.action, "", 0, int(total), nil)
}

// SetItem records the id of the item in progress.
func (p *BusProgress) SetItem(id string) {
	p.mu.Lock()
	p.item = id
	p.mu.Unlock()
}

// Update publishes done/total for the last item.
func (p *BusProgress) Update(current int64) {
	p.mu.Lock()
	p.current = int(current)
	item, total := p.item, p.total
	p.mu.Unlock()

	p.eventBus.PublishBatchProgress(p.session, p.action, item, int(current), total, nil)
}

// Finish publishes a done == total event.
func (p *BusProgress) Finish() {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()

	p.eventBus.PublishBatchProgress(p.session, p.action, "", total, total, nil)
}

// Error publishes the failure once, as a non-retryable error notification.
func (p *BusProgress) Error(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	item, current, total := p.item, p.current, p.total
	p.mu.Unlock()

	p.eventBus.PublishBatchProgress(p.session, p.action, item, current, total, err)
	p.eventBus.PublishError(p.session, p.action, err, false)
}

// SetDescription is a no-op; the bus carries structured fields instead.
func (p *BusProgress) SetDescription(desc string) {}

// NoOpProgress is a progress reporter that does nothing.
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op progress reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

// Start does nothing.
func (p *NoOpProgress) Start(total int64, description string) {}

// Update does nothing.
func (p *NoOpProgress) Update(current int64) {}

// Finish does nothing.
func (p *NoOpProgress) Finish() {}

// Error does nothing.
func (p *NoOpProgress) Error(err error) {}

// SetDescription does nothing.
func (p *NoOpProgress) SetDescription(desc string) {}

// Counter is a Reporter that records what it was told. Used by tests and
// by callers that only need the final tally.
type Counter struct {
	mu      sync.Mutex
	Total   int64
	Updates []int64
	Items   []string
	Err     error
	Done    bool
}

// Start records total.
func (c *Counter) Start(total int64, description string) {
	c.mu.Lock()
	c.Total = total
	c.mu.Unlock()
}

// SetItem records the item id.
func (c *Counter) SetItem(id string) {
	c.mu.Lock()
	c.Items = append(c.Items, id)
	c.mu.Unlock()
}

// Update records current.
func (c *Counter) Update(current int64) {
	c.mu.Lock()
	c.Updates = append(c.Updates, current)
	c.mu.Unlock()
}

// Finish marks the counter done.
func (c *Counter) Finish() {
	c.mu.Lock()
	c.Done = true
	c.mu.Unlock()
}

// Error records err.
func (c *Counter) Error(err error) {
	c.mu.Lock()
	c.Err = err
	c.mu.Unlock()
}

// SetDescription does nothing.
func (c *Counter) SetDescription(desc string) {}
