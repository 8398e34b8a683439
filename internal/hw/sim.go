package hw

import (
	"fmt"
	"sync"
)

// SimPWM records what would have been written to a PWM channel. It backs the
// "sim" backend for running without hardware.
type SimPWM struct {
	mu     sync.Mutex
	freqHz int
	duty   float64
	writes int
	closed bool
}

func NewSimPWM() *SimPWM { return &SimPWM{} }

func (s *SimPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("hw: invalid frequency %d", hz)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freqHz = hz
	return nil
}

func (s *SimPWM) SetDutyPercent(p float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("hw: sim pwm closed")
	}
	s.duty = clampPercent(p)
	s.writes++
	return nil
}

func (s *SimPWM) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duty = 0
	s.closed = true
	return nil
}

func (s *SimPWM) Duty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duty
}

func (s *SimPWM) FrequencyHz() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freqHz
}

func (s *SimPWM) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// SimLine is an in-memory digital line usable as both Input and Output.
type SimLine struct {
	mu     sync.Mutex
	value  int
	writes int
	closed bool
}

func NewSimLine(initial int) *SimLine { return &SimLine{value: level(initial)} }

func (l *SimLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("hw: sim line closed")
	}
	l.value = level(v)
	l.writes++
	return nil
}

func (l *SimLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("hw: sim line closed")
	}
	return l.value, nil
}

func (l *SimLine) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

func (l *SimLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func level(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
