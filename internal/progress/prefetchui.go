package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// PrefetchUI shows one bar per resolution tier while a prefetch run warms
// the image caches of a listing.
type PrefetchUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	bars       []*TierBar
}

// TierBar counts items that reached one tier.
type TierBar struct {
	bar       *mpb.Bar
	ui        *PrefetchUI
	name      string
	total     int64
	done      int64
	failed    int64
	startTime time.Time
}

// NewPrefetchUI creates bars for tiers, each expecting total items.
func NewPrefetchUI(tiers []string, total int) *PrefetchUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))

	var p *mpb.Progress
	if isTerminal {
		enableANSI(os.Stderr)
		p = mpb.New(
			mpb.WithOutput(os.Stderr),
			mpb.WithRefreshRate(200*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		p = mpb.New(mpb.WithOutput(io.Discard))
	}

	u := &PrefetchUI{
		progress:   p,
		out:        os.Stderr,
		isTerminal: isTerminal,
	}

	for _, name := range tiers {
		u.bars = append(u.bars, u.addTierBar(name, int64(total)))
	}
	return u
}

func (u *PrefetchUI) addTierBar(name string, total int64) *TierBar {
	tb := &TierBar{
		ui:        u,
		name:      name,
		total:     total,
		startTime: time.Now(),
	}

	if u.isTerminal {
		tb.bar = u.progress.New(total,
			mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("%-10s", name), decor.WCSyncSpace),
				decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.Any(func(s decor.Statistics) string {
					if f := atomic.LoadInt64(&tb.failed); f > 0 {
						return fmt.Sprintf("%d retries", f)
					}
					return ""
				}, decor.WCSyncSpace),
				decor.Percentage(decor.WCSyncSpace),
				decor.Name("  "),
				decor.EwmaETA(decor.ET_STYLE_GO, 30),
			),
		)
	}
	return tb
}

// Tier returns the bar for tier index i, or nil when out of range.
func (u *PrefetchUI) Tier(i int) *TierBar {
	if i < 0 || i >= len(u.bars) {
		return nil
	}
	return u.bars[i]
}

// Increment records one item reaching the tier.
func (b *TierBar) Increment() {
	if b == nil {
		return
	}
	atomic.AddInt64(&b.done, 1)
	if b.bar != nil {
		b.bar.EwmaIncrement(time.Since(b.startTime))
		b.startTime = time.Now()
	}
}

// Retry records one failed attempt that will be retried.
func (b *TierBar) Retry() {
	if b == nil {
		return
	}
	atomic.AddInt64(&b.failed, 1)
}

// Done returns the number of items that reached the tier.
func (b *TierBar) Done() int64 {
	return atomic.LoadInt64(&b.done)
}

// Finish completes every bar, aborting those that did not reach their
// total, and prints a per-tier summary.
func (u *PrefetchUI) Finish() {
	for _, b := range u.bars {
		done := b.Done()
		if b.bar != nil {
			if done >= b.total {
				b.bar.SetTotal(b.total, true)
			} else {
				b.bar.Abort(false)
			}
		}
		msg := fmt.Sprintf("%s: %d/%d cached\n", b.name, done, b.total)
		if u.isTerminal {
			u.progress.Write([]byte(msg))
		} else {
			fmt.Fprint(u.out, msg)
		}
	}
	u.progress.Wait()
}

// Writer returns an io.Writer that prints above the bars.
func (u *PrefetchUI) Writer() io.Writer {
	if u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns whether output is to a terminal.
func (u *PrefetchUI) IsTerminal() bool {
	return u.isTerminal
}
