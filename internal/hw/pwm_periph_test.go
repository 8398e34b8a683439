package hw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

func TestPeriphDuty(t *testing.T) {
	assert.Equal(t, gpio.Duty(0), periphDuty(0))
	assert.Equal(t, gpio.DutyMax, periphDuty(100))
	assert.Equal(t, gpio.DutyHalf, periphDuty(50))
	assert.Equal(t, gpio.DutyMax, periphDuty(250))
	assert.Equal(t, gpio.Duty(0), periphDuty(-5))
}

func TestPeriphPWM_DrivesPin(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO18", Num: 18}
	old := lookupPeriphPin
	lookupPeriphPin = func(name string) gpio.PinIO {
		if name == "GPIO18" {
			return pin
		}
		return nil
	}
	t.Cleanup(func() { lookupPeriphPin = old })

	d, err := newPeriphPWM(18)
	require.NoError(t, err)

	require.NoError(t, d.SetFrequencyHz(25000))
	require.NoError(t, d.SetDutyPercent(50))
	assert.Equal(t, gpio.DutyHalf, pin.D)
	assert.Equal(t, 25*physic.KiloHertz, pin.F)

	require.NoError(t, d.SetDutyPercent(0))
	assert.Equal(t, gpio.Low, pin.L)

	_, err = newPeriphPWM(4)
	require.Error(t, err)
}
