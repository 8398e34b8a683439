package encoder

import (
	"context"
	"time"
)

// Line is a readable input line.
type Line interface {
	Value() (int, error)
}

// DefaultPollInterval matches a 200 Hz sampling timer.
const DefaultPollInterval = 5 * time.Millisecond

// Read samples both lines once.
func Read(clk, dt Line) (Sample, error) {
	c, err := clk.Value()
	if err != nil {
		return 0, err
	}
	d, err := dt.Value()
	if err != nil {
		return 0, err
	}
	return SampleOf(c, d), nil
}

// Poll samples clk/dt every interval and calls emit whenever the sample
// differs from the previous one. Held states never classify as motion, so
// skipping them loses nothing. Read errors are reported to onErr (if set)
// and the tick is skipped. Poll returns when ctx is done.
func Poll(ctx context.Context, clk, dt Line, initial Sample, interval time.Duration, emit func(Sample), onErr func(error)) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	last := initial
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s, err := Read(clk, dt)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			if s == last {
				continue
			}
			last = s
			emit(s)
		}
	}
}
