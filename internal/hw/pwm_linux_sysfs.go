//go:build linux && (arm || arm64)

package hw

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

var pwmSysfsBase = "/sys/class/pwm"

// Retry budgets for freshly exported channels. udev needs a moment to create
// the channel directory and fix its permissions.
var (
	exportPoll    = 10 * time.Millisecond
	exportTries   = uint64(50)
	attrRetry     = 25 * time.Millisecond
	attrTries     = uint64(80)
	defaultFreqHz = 25_000
)

// pwmChannelForPin maps BCM pins to the channel the pwm-2chan overlay routes
// them to.
func pwmChannelForPin(pin int) (int, error) {
	switch pin {
	case 12, 18:
		return 0, nil
	case 13, 19:
		return 1, nil
	}
	return 0, fmt.Errorf("hw: pin %d has no hardware pwm channel (use 12, 13, 18 or 19)", pin)
}

// pwmChannel is one exported channel under /sys/class/pwm/pwmchipN/pwmM.
type pwmChannel struct {
	chip string
	dir  string
}

func (c pwmChannel) attr(name string) string { return filepath.Join(c.dir, name) }

func (c pwmChannel) set(name string, v uint64) error {
	return writeSysfs(c.attr(name), strconv.FormatUint(v, 10))
}

func (c pwmChannel) enable(on bool) error {
	if on {
		return c.set("enable", 1)
	}
	return c.set("enable", 0)
}

// sysfsPWM drives a hardware PWM channel through the kernel sysfs interface.
// On a Raspberry Pi the pwm-2chan overlay must be loaded.
type sysfsPWM struct {
	ch      pwmChannel
	period  uint64 // ns
	running bool
}

func openSysfsPWM(pin int) (PWM, error) {
	n, err := pwmChannelForPin(pin)
	if err != nil {
		return nil, err
	}
	chip, err := findPWMChip(n)
	if err != nil {
		return nil, err
	}
	ch, err := exportChannel(chip, n)
	if err != nil {
		return nil, err
	}
	d := &sysfsPWM{ch: ch}
	// Disabled until a period is set.
	_ = ch.enable(false)
	return d, nil
}

// findPWMChip returns the first pwmchip that has channel n, trying pwmchip0
// first. Entries under /sys/class/pwm are symlinks, so they are not filtered
// on IsDir.
func findPWMChip(n int) (string, error) {
	entries, err := os.ReadDir(pwmSysfsBase)
	if err != nil {
		return "", fmt.Errorf("hw: read %s: %w", pwmSysfsBase, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "pwmchip") {
			names = append(names, e.Name())
		}
	}
	sort.SliceStable(names, func(i, j int) bool { return names[i] == "pwmchip0" && names[j] != "pwmchip0" })

	for _, name := range names {
		chip := filepath.Join(pwmSysfsBase, name)
		npwm, err := readInt(filepath.Join(chip, "npwm"))
		if err == nil && npwm > n {
			return chip, nil
		}
	}
	return "", fmt.Errorf("hw: no sysfs pwmchip with channel %d found (is pwm overlay enabled?)", n)
}

func exportChannel(chip string, n int) (pwmChannel, error) {
	ch := pwmChannel{chip: chip, dir: filepath.Join(chip, fmt.Sprintf("pwm%d", n))}
	if exists(ch.dir) {
		return ch, nil
	}
	if err := writeSysfs(filepath.Join(chip, "export"), strconv.Itoa(n)); err != nil && !exists(ch.dir) {
		return ch, fmt.Errorf("hw: export pwm: %w", err)
	}
	wait := backoff.WithMaxRetries(backoff.NewConstantBackOff(exportPoll), exportTries)
	err := backoff.Retry(func() error {
		_, err := os.Stat(ch.dir)
		return err
	}, wait)
	if err != nil {
		return ch, fmt.Errorf("hw: pwm path not created after export: %w", err)
	}
	return ch, nil
}

func (d *sysfsPWM) SetFrequencyHz(hz int) error {
	if hz <= 0 {
		return fmt.Errorf("hw: invalid frequency %d", hz)
	}
	period := uint64(time.Second) / uint64(hz)
	if period == 0 {
		period = 1
	}

	// The kernel rejects a period shorter than the current duty.
	_ = d.ch.enable(false)
	d.running = false
	_ = d.ch.set("duty_cycle", 0)

	if err := d.ch.set("period", period); err != nil {
		return err
	}
	d.period = period
	if err := d.ch.enable(true); err != nil {
		return err
	}
	d.running = true
	return nil
}

func (d *sysfsPWM) SetDutyPercent(p float64) error {
	if d.period == 0 {
		d.period = uint64(time.Second) / uint64(defaultFreqHz)
	}
	duty := uint64(math.Round(float64(d.period) * clampPercent(p) / 100))
	if duty > d.period {
		duty = d.period
	}
	if err := d.ch.set("duty_cycle", duty); err != nil {
		return err
	}
	if !d.running {
		_ = d.ch.enable(true)
		d.running = true
	}
	return nil
}

// Close leaves the motor stopped and the channel disabled.
func (d *sysfsPWM) Close() error {
	_ = d.SetDutyPercent(0)
	_ = d.ch.enable(false)
	d.running = false
	return nil
}

// writeSysfs writes value without O_TRUNC, which some attributes reject.
// Permission and busy errors are retried while udev settles.
func writeSysfs(path, value string) error {
	op := func() error {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return retryable(err)
		}
		_, werr := f.WriteString(value)
		return retryable(errors.Join(werr, f.Close()))
	}
	return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(attrRetry), attrTries))
}

func retryable(err error) error {
	if err == nil {
		return nil
	}
	for _, errno := range []unix.Errno{unix.EACCES, unix.EPERM, unix.ENOENT, unix.EBUSY} {
		if errors.Is(err, errno) {
			return err
		}
	}
	return backoff.Permanent(err)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return 0, fmt.Errorf("%s: empty", path)
	}
	return strconv.Atoi(s)
}
