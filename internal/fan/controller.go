package fan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fanctl/internal/encoder"
)

var nowFn = time.Now

type Config struct {
	// Initial is the state applied when Run starts.
	Initial State
	// SpeedStep is the speed change per encoder detent.
	SpeedStep float64
	// StepThreshold is the number of encoder transitions per detent.
	StepThreshold int
	// EncoderInitial seeds the decoder with the lines' level at startup.
	EncoderInitial encoder.Sample
	// Debounce is the minimum spacing between accepted button presses.
	Debounce time.Duration
	// BlinkInterval is the LED toggle period while the fan runs.
	BlinkInterval time.Duration
	// PWMFrequency is passed to the PWM backend when Run starts.
	PWMFrequency int
}

// Command carries the fields a remote request wants to change. Nil fields are
// left as they are. Speed is clamped to [0,1].
type Command struct {
	Speed     *float64
	Direction *Direction
	Power     *bool
}

func (c Command) apply(s State) State {
	if c.Speed != nil {
		s.Speed = ClampSpeed(*c.Speed)
	}
	if c.Direction != nil {
		s.Direction = *c.Direction
	}
	if c.Power != nil {
		s.Enabled = *c.Power
	}
	return s
}

type Snapshot struct {
	State

	PWMDuty  float64
	Blinking bool

	Detents        uint64
	PressesHandled uint64
	PressesDropped uint64

	Source       string
	LastUpdateAt time.Time
	LastError    string
}

type commandReq struct {
	cmd    Command
	source string
	reply  chan State
}

// Controller owns the fan state. All mutations go through a single dispatch
// goroutine (Run); HTTP commands, encoder samples, button edges and the blink
// ticker are event sources feeding it. Readers use Snapshot.
type Controller struct {
	cfg Config
	act *Actuator
	log *slog.Logger

	commands chan commandReq
	samples  chan encoder.Sample
	presses  chan time.Time

	started  time.Time
	runOnce  sync.Once
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.RWMutex
	snap Snapshot
}

func NewController(cfg Config, act *Actuator, log *slog.Logger) *Controller {
	if cfg.SpeedStep <= 0 {
		cfg.SpeedStep = 0.05
	}
	if cfg.StepThreshold <= 0 {
		cfg.StepThreshold = encoder.DefaultThreshold
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = encoder.DefaultDebounce
	}
	if cfg.BlinkInterval <= 0 {
		cfg.BlinkInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.Initial.Speed = ClampSpeed(cfg.Initial.Speed)

	c := &Controller{
		cfg:      cfg,
		act:      act,
		log:      log,
		commands: make(chan commandReq),
		samples:  make(chan encoder.Sample, 64),
		presses:  make(chan time.Time, 8),
		started:  nowFn(),
		done:     make(chan struct{}),
	}
	c.snap.State = cfg.Initial
	return c
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Controller) State() State {
	return c.Snapshot().State
}

// Apply sends cmd to the dispatch loop and waits for the resulting state.
// An empty Command re-applies the current state to the hardware.
func (c *Controller) Apply(ctx context.Context, cmd Command, source string) (State, error) {
	req := commandReq{cmd: cmd, source: source, reply: make(chan State, 1)}
	select {
	case c.commands <- req:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		return State{}, fmt.Errorf("fan: controller stopped")
	}
	select {
	case s := <-req.reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		return State{}, fmt.Errorf("fan: controller stopped")
	}
}

// PressButton reports a falling edge on the power button. It never blocks;
// when the queue is full the edge is dropped, like any other bounce.
func (c *Controller) PressButton(at time.Time) {
	select {
	case c.presses <- at:
	default:
	}
}

// EncoderSample hands a new encoder line sample to the dispatch loop.
func (c *Controller) EncoderSample(s encoder.Sample) {
	select {
	case c.samples <- s:
	case <-c.done:
	}
}

// Run applies the initial state and dispatches events until ctx is done.
// The actuator is closed on return, leaving the motor stopped.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("fan: controller already running")
	}
	defer c.stopOnce.Do(func() { close(c.done) })

	if err := c.act.Init(c.cfg.PWMFrequency); err != nil {
		c.recordErr(err)
	}

	dec := encoder.NewDecoder(c.cfg.EncoderInitial, c.cfg.StepThreshold)
	deb := encoder.NewDebouncer(c.cfg.Debounce, c.started)

	state := c.cfg.Initial
	c.update(state, "init")

	blink := time.NewTicker(c.cfg.BlinkInterval)
	defer blink.Stop()

	defer func() {
		if err := c.act.Close(); err != nil {
			c.log.Warn("fan shutdown incomplete", "error", err)
		}
		c.mu.Lock()
		c.snap.PWMDuty = 0
		c.snap.Blinking = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case req := <-c.commands:
			state = req.cmd.apply(state)
			c.update(state, req.source)
			req.reply <- state

		case s := <-c.samples:
			switch dec.Update(s) {
			case 1:
				state = state.Step(c.cfg.SpeedStep)
			case -1:
				state = state.Step(-c.cfg.SpeedStep)
			default:
				continue
			}
			c.mu.Lock()
			c.snap.Detents++
			c.mu.Unlock()
			c.update(state, "encoder")

		case at := <-c.presses:
			if !deb.Accept(at) {
				c.mu.Lock()
				c.snap.PressesDropped++
				c.mu.Unlock()
				continue
			}
			state.Enabled = !state.Enabled
			c.mu.Lock()
			c.snap.PressesHandled++
			c.mu.Unlock()
			c.update(state, "button")

		case <-blink.C:
			if err := c.act.Blink(); err != nil {
				c.recordErr(err)
			}
		}
	}
}

// update drives the actuator and publishes the new snapshot. Hardware errors
// are recorded but never stop the loop.
func (c *Controller) update(s State, source string) {
	err := c.act.Apply(s)

	c.mu.Lock()
	c.snap.State = s
	c.snap.PWMDuty = c.act.Duty()
	c.snap.Blinking = c.act.Blinking()
	c.snap.Source = source
	c.snap.LastUpdateAt = nowFn().UTC()
	if err != nil {
		c.snap.LastError = err.Error()
	} else {
		c.snap.LastError = ""
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("fan update failed", "source", source, "error", err)
		return
	}
	c.log.Debug("fan updated",
		"source", source,
		"enabled", s.Enabled,
		"direction", s.Direction.String(),
		"speed", s.SpeedPercent(),
	)
}

func (c *Controller) recordErr(err error) {
	c.mu.Lock()
	c.snap.LastError = err.Error()
	c.snap.LastUpdateAt = nowFn().UTC()
	c.mu.Unlock()
	c.log.Warn("fan hardware error", "error", err)
}
