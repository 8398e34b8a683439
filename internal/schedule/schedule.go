// Package schedule applies timed fan commands ("off at 22:00") from cron
// expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"fanctl/internal/config"
	"fanctl/internal/fan"
)

type Applier interface {
	Apply(ctx context.Context, cmd fan.Command, source string) (fan.State, error)
}

// Entry is one scheduled command.
type Entry struct {
	Spec    string
	Command fan.Command
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// EntryFromConfig converts a validated config entry.
func EntryFromConfig(c config.ScheduleConfig) (Entry, error) {
	e := Entry{Spec: strings.TrimSpace(c.Cron)}
	switch strings.ToLower(c.Power) {
	case "on":
		on := true
		e.Command.Power = &on
	case "off":
		off := false
		e.Command.Power = &off
	case "":
	default:
		return Entry{}, fmt.Errorf("schedule: invalid power %q", c.Power)
	}
	if c.Direction != "" {
		d, err := fan.ParseDirection(c.Direction)
		if err != nil {
			return Entry{}, fmt.Errorf("schedule: %w", err)
		}
		e.Command.Direction = &d
	}
	if c.Speed != nil {
		s := fan.ClampSpeed(*c.Speed)
		e.Command.Speed = &s
	}
	return e, nil
}

type Scheduler struct {
	cron *cron.Cron
	fan  Applier
	log  *slog.Logger

	mu  sync.Mutex
	ctx context.Context
}

func New(fan Applier, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		fan:  fan,
		log:  log,
	}
}

// Add registers e. Entries may be added before or after Run.
func (s *Scheduler) Add(e Entry) error {
	sched, err := parser.Parse(e.Spec)
	if err != nil {
		return fmt.Errorf("schedule: invalid cron %q: %w", e.Spec, err)
	}
	s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(e) }))
	s.log.Info("schedule entry added", "cron", e.Spec, "next", sched.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Len is the number of registered entries.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Run starts the cron loop and blocks until ctx is done. Jobs still running
// at that point are waited for.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) fire(e Entry) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(base, 5*time.Second)
	defer cancel()
	st, err := s.fan.Apply(ctx, e.Command, "schedule")
	if err != nil {
		s.log.Warn("scheduled command failed", "cron", e.Spec, "error", err)
		return
	}
	s.log.Info("scheduled command applied",
		"cron", e.Spec,
		"enabled", st.Enabled,
		"direction", st.Direction.String(),
		"speed", st.SpeedPercent(),
	)
}
