package hw

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

var (
	periphInitOnce sync.Once
	periphInitErr  error
)

func periphInit() error {
	periphInitOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			periphInitErr = fmt.Errorf("hw: periph host init: %w", err)
		}
	})
	return periphInitErr
}

// periphPWM drives the fan through periph.io, which uses the SoC PWM block
// directly and falls back to DMA-driven PWM on pins without one.
type periphPWM struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

var lookupPeriphPin = func(name string) gpio.PinIO { return gpioreg.ByName(name) }

func openPeriphPWM(pin int) (PWM, error) {
	if err := periphInit(); err != nil {
		return nil, err
	}
	return newPeriphPWM(pin)
}

func newPeriphPWM(pin int) (*periphPWM, error) {
	name := fmt.Sprintf("GPIO%d", pin)
	p := lookupPeriphPin(name)
	if p == nil {
		return nil, fmt.Errorf("hw: pin %d (%s) not found in hardware", pin, name)
	}
	return &periphPWM{pin: p, freq: 25 * physic.KiloHertz}, nil
}

func (d *periphPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("hw: invalid frequency %d", hz)
	}
	d.freq = physic.Frequency(hz) * physic.Hertz
	return nil
}

// periphDuty maps percent onto the gpio.Duty range [0, gpio.DutyMax].
func periphDuty(p float64) gpio.Duty {
	return gpio.Duty(clampPercent(p) / 100 * float64(gpio.DutyMax))
}

func (d *periphPWM) SetDutyPercent(p float64) error {
	duty := periphDuty(p)
	if duty == 0 {
		return d.pin.Out(gpio.Low)
	}
	return d.pin.PWM(duty, d.freq)
}

func (d *periphPWM) Close() error {
	_ = d.pin.Out(gpio.Low)
	return d.pin.Halt()
}
