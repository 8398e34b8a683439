// Package hw wraps the Linux PWM and GPIO backends used to drive the fan,
// the status LED and the manual-control inputs.
package hw

import (
	"fmt"
	"strings"
)

// PWM is the minimal interface the fan actuator needs from a PWM backend.
//
// Duty is expressed in percent (0..100); each backend maps it onto its own
// hardware range. Close should be best-effort and leave the output off.
type PWM interface {
	SetFrequencyHz(hz int) error
	SetDutyPercent(p float64) error
	Close() error
}

// Output is a single digital output line.
type Output interface {
	SetValue(v int) error
	Close() error
}

// Input is a single digital input line.
type Input interface {
	Value() (int, error)
	Close() error
}

const (
	BackendSysfs  = "sysfs"
	BackendPeriph = "periph"
	BackendGPIO   = "gpio"
	BackendSim    = "sim"
)

var (
	openSysfsPWMFn  = openSysfsPWM
	openPeriphPWMFn = openPeriphPWM
	openGPIOPWMFn   = openGPIOPWM
)

// OpenPWM opens the fan PWM output on the given BCM pin using backend.
func OpenPWM(backend string, pin int) (PWM, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendSysfs, "":
		return openSysfsPWMFn(pin)
	case BackendPeriph:
		return openPeriphPWMFn(pin)
	case BackendGPIO:
		return openGPIOPWMFn(pin)
	case BackendSim:
		return NewSimPWM(), nil
	default:
		return nil, fmt.Errorf("hw: unknown pwm backend %q", backend)
	}
}
