//go:build !linux || (!arm && !arm64)

package hw

import (
	"fmt"
	"time"
)

// Stub implementation for non-Linux and/or non-ARM platforms. Use the "sim"
// backend there.

func OpenOutput(pin int, initial int) (Output, error) {
	return nil, fmt.Errorf("hw: gpio unsupported on this platform")
}

func OpenInput(pin int) (Input, error) {
	return nil, fmt.Errorf("hw: gpio unsupported on this platform")
}

func WatchFalling(pin int, fn func(at time.Time)) (Input, error) {
	return nil, fmt.Errorf("hw: gpio unsupported on this platform")
}

func openGPIOPWM(pin int) (PWM, error) {
	return nil, fmt.Errorf("hw: gpio pwm unsupported on this platform")
}

func openSysfsPWM(pin int) (PWM, error) {
	return nil, fmt.Errorf("hw: sysfs pwm unsupported on this platform")
}
