package fan

import (
	"errors"
	"fmt"

	"fanctl/internal/hw"
)

// Actuator maps a State onto the PWM output, the direction pin and the status
// LED. The LED is solid while the fan is off and blinks while it runs.
//
// Not safe for concurrent use; the controller loop owns it.
type Actuator struct {
	pwm hw.PWM
	dir hw.Output
	led hw.Output

	blinking bool
	ledLevel int
	duty     float64
}

// NewActuator takes ownership of the outputs. led and dir may be nil when the
// board has no such wiring.
func NewActuator(pwm hw.PWM, dir, led hw.Output) *Actuator {
	return &Actuator{pwm: pwm, dir: dir, led: led}
}

// Init sets the PWM frequency and lights the LED solid to show power.
func (a *Actuator) Init(freqHz int) error {
	var errs []error
	if freqHz > 0 {
		if err := a.pwm.SetFrequencyHz(freqHz); err != nil {
			errs = append(errs, fmt.Errorf("fan: set pwm frequency: %w", err))
		}
	}
	if err := a.setLED(1); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Apply drives the hardware to match s. Applying the same state twice writes
// the same values and leaves the blink phase alone.
func (a *Actuator) Apply(s State) error {
	var errs []error
	if !s.Enabled {
		if err := a.setDuty(0); err != nil {
			errs = append(errs, err)
		}
		if err := a.setDir(0); err != nil {
			errs = append(errs, err)
		}
		a.blinking = false
		if err := a.setLED(1); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	dir := 0
	if s.Direction == Reverse {
		dir = 1
	}
	if err := a.setDir(dir); err != nil {
		errs = append(errs, err)
	}
	if err := a.setDuty(s.DutyPercent()); err != nil {
		errs = append(errs, err)
	}
	a.blinking = true
	return errors.Join(errs...)
}

// Blink toggles the LED when the fan is running and does nothing otherwise.
func (a *Actuator) Blink() error {
	if !a.blinking {
		return nil
	}
	return a.setLED(1 - a.ledLevel)
}

func (a *Actuator) Blinking() bool { return a.blinking }

// Duty is the last duty percent written to the PWM output.
func (a *Actuator) Duty() float64 { return a.duty }

// Close stops the motor, switches the LED off and releases the outputs.
func (a *Actuator) Close() error {
	var errs []error
	a.blinking = false
	if err := a.setDuty(0); err != nil {
		errs = append(errs, err)
	}
	if err := a.setLED(0); err != nil {
		errs = append(errs, err)
	}
	if err := a.pwm.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, o := range []hw.Output{a.dir, a.led} {
		if o == nil {
			continue
		}
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Actuator) setDuty(p float64) error {
	if err := a.pwm.SetDutyPercent(p); err != nil {
		return fmt.Errorf("fan: set pwm duty: %w", err)
	}
	a.duty = p
	return nil
}

func (a *Actuator) setDir(v int) error {
	if a.dir == nil {
		return nil
	}
	if err := a.dir.SetValue(v); err != nil {
		return fmt.Errorf("fan: set direction pin: %w", err)
	}
	return nil
}

func (a *Actuator) setLED(v int) error {
	if a.led == nil {
		a.ledLevel = v
		return nil
	}
	if err := a.led.SetValue(v); err != nil {
		return fmt.Errorf("fan: set led: %w", err)
	}
	a.ledLevel = v
	return nil
}
