//go:build linux && (arm || arm64)

package hw

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "fanctl"

// chipCandidates lists GPIO character devices in probe order. Pi 5 kernels
// before 6.6.45 expose the header on gpiochip4, later ones on gpiochip0.
func chipCandidates() []string {
	first := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	if isRaspberryPi5() {
		first = []string{"/dev/gpiochip4", "/dev/gpiochip0"}
	}
	out := append([]string(nil), first...)
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "gpiochip") {
			continue
		}
		p := filepath.Join("/dev", name)
		if !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// requestLine finds the header line GPIO<pin> on whichever chip carries it and
// requests it with opts.
func requestLine(pin int, opts ...gpiocdev.LineReqOption) (*gpiodLine, error) {
	if pin < 0 {
		return nil, fmt.Errorf("hw: invalid gpio pin %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)
	opts = append(opts, gpiocdev.WithConsumer(consumer))

	for _, chipPath := range chipCandidates() {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpiodLine{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("hw: gpio line %q not found (or busy)", lineName)
}

type gpiodLine struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpiodLine) SetValue(v int) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("hw: gpio line not initialized")
	}
	return g.line.SetValue(level(v))
}

func (g *gpiodLine) Value() (int, error) {
	if g == nil || g.line == nil {
		return 0, fmt.Errorf("hw: gpio line not initialized")
	}
	return g.line.Value()
}

func (g *gpiodLine) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}

// OpenOutput requests pin as an output driven to initial.
func OpenOutput(pin int, initial int) (Output, error) {
	return requestLine(pin, gpiocdev.AsOutput(level(initial)))
}

// OpenInput requests pin as an input with the internal pull-up enabled.
func OpenInput(pin int) (Input, error) {
	return requestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
}

// WatchFalling requests pin as a pulled-up input and calls fn with the wall
// clock time of every falling edge. fn runs on the gpiocdev event goroutine
// and must not block.
func WatchFalling(pin int, fn func(at time.Time)) (Input, error) {
	return requestLine(pin,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			fn(time.Now())
		}),
	)
}

// gpioPWM drives a 2-wire fan through a transistor on a plain GPIO. Any duty
// above zero switches the fan fully on.
type gpioPWM struct {
	out *gpiodLine
}

func openGPIOPWM(pin int) (PWM, error) {
	l, err := requestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &gpioPWM{out: l}, nil
}

func (g *gpioPWM) SetFrequencyHz(hz int) error { return nil }

func (g *gpioPWM) SetDutyPercent(p float64) error {
	v := 0
	if p > 0 {
		v = 1
	}
	return g.out.SetValue(v)
}

func (g *gpioPWM) Close() error {
	_ = g.out.SetValue(0)
	return g.out.Close()
}
