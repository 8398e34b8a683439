package hw

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenPWM_DispatchesByBackend(t *testing.T) {
	oldSysfs, oldPeriph, oldGPIO := openSysfsPWMFn, openPeriphPWMFn, openGPIOPWMFn
	t.Cleanup(func() {
		openSysfsPWMFn, openPeriphPWMFn, openGPIOPWMFn = oldSysfs, oldPeriph, oldGPIO
	})

	var called []string
	fake := func(name string) func(int) (PWM, error) {
		return func(pin int) (PWM, error) {
			called = append(called, name)
			assert.Equal(t, 18, pin)
			return NewSimPWM(), nil
		}
	}
	openSysfsPWMFn = fake("sysfs")
	openPeriphPWMFn = fake("periph")
	openGPIOPWMFn = fake("gpio")

	for _, b := range []string{"", "sysfs", " Periph ", "gpio"} {
		p, err := OpenPWM(b, 18)
		require.NoError(t, err)
		require.NotNil(t, p)
	}
	assert.Equal(t, []string{"sysfs", "sysfs", "periph", "gpio"}, called)
}

func TestOpenPWM_Sim(t *testing.T) {
	p, err := OpenPWM(BackendSim, 18)
	require.NoError(t, err)
	require.NoError(t, p.SetFrequencyHz(25000))
	require.NoError(t, p.SetDutyPercent(120))

	sim := p.(*SimPWM)
	assert.Equal(t, 100.0, sim.Duty())
	require.NoError(t, p.Close())
	assert.Equal(t, 0.0, sim.Duty())
	assert.Error(t, p.SetDutyPercent(10))
}

func TestOpenPWM_PropagatesErrors(t *testing.T) {
	old := openSysfsPWMFn
	t.Cleanup(func() { openSysfsPWMFn = old })
	openSysfsPWMFn = func(int) (PWM, error) { return nil, errors.New("no overlay") }

	_, err := OpenPWM("sysfs", 18)
	require.EqualError(t, err, "no overlay")

	_, err = OpenPWM("pigpio", 18)
	require.Error(t, err)
}

func TestSimLine(t *testing.T) {
	l := NewSimLine(5)
	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, l.SetValue(0))
	assert.Equal(t, 1, l.Writes())
	require.NoError(t, l.Close())
	assert.Error(t, l.SetValue(1))
}
