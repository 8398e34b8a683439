package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	WiFi     WiFiConfig       `yaml:"wifi"`
	Web      WebConfig        `yaml:"web"`
	Fan      FanConfig        `yaml:"fan"`
	Manual   ManualConfig     `yaml:"manual"`
	MDNS     MDNSConfig       `yaml:"mdns"`
	SNMP     SNMPConfig       `yaml:"snmp"`
	Schedule []ScheduleConfig `yaml:"schedule"`
	Log      LogConfig        `yaml:"log"`
}

// WiFiConfig selects the network to join at startup. An empty SSID skips
// association and uses whatever link the host already has.
type WiFiConfig struct {
	SSID      string        `yaml:"ssid"`
	Password  string        `yaml:"password"`
	Interface string        `yaml:"interface"`
	Timeout   time.Duration `yaml:"timeout"`
}

type WebConfig struct {
	Listen      string        `yaml:"listen"`
	Backlog     int           `yaml:"backlog"`
	RecvTimeout time.Duration `yaml:"recv_timeout"`
	Title       string        `yaml:"title"`
	// RateLimit is accepted connections per second; 0 disables throttling.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type FanConfig struct {
	// PWMBackend is one of sysfs, periph, gpio or sim.
	PWMBackend   string `yaml:"pwm_backend"`
	PWMPin       int    `yaml:"pwm_pin"`
	PWMFrequency int    `yaml:"pwm_frequency"`
	// DirPin and LEDPin are BCM numbers; -1 means not wired.
	DirPin int `yaml:"dir_pin"`
	LEDPin int `yaml:"led_pin"`

	// InitialSpeed defaults to 0.9, or 0.5 when manual control is enabled.
	InitialSpeed     *float64      `yaml:"initial_speed"`
	InitialDirection string        `yaml:"initial_direction"`
	BlinkInterval    time.Duration `yaml:"blink_interval"`
}

type ManualConfig struct {
	Enable        bool          `yaml:"enable"`
	ClkPin        int           `yaml:"clk_pin"`
	DtPin         int           `yaml:"dt_pin"`
	SwPin         int           `yaml:"sw_pin"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	StepThreshold int           `yaml:"step_threshold"`
	SpeedStep     float64       `yaml:"speed_step"`
	Debounce      time.Duration `yaml:"debounce"`
}

type MDNSConfig struct {
	Enable   bool   `yaml:"enable"`
	Instance string `yaml:"instance"`
}

type SNMPConfig struct {
	Enable    bool          `yaml:"enable"`
	Host      string        `yaml:"host"`
	Port      uint16        `yaml:"port"`
	Community string        `yaml:"community"`
	Interval  time.Duration `yaml:"interval"`
	OIDBase   string        `yaml:"oid_base"`
}

// ScheduleConfig is one cron entry. Unset fields leave the fan state alone.
type ScheduleConfig struct {
	Cron      string   `yaml:"cron"`
	Power     string   `yaml:"power"`
	Speed     *float64 `yaml:"speed"`
	Direction string   `yaml:"direction"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills zero values with defaults and rejects settings the
// daemon cannot run with.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	// Wi-Fi.
	cfg.WiFi.SSID = strings.TrimSpace(cfg.WiFi.SSID)
	if cfg.WiFi.Timeout <= 0 {
		cfg.WiFi.Timeout = 15 * time.Second
	}
	if cfg.WiFi.Password != "" && cfg.WiFi.SSID == "" {
		return fmt.Errorf("wifi.password requires wifi.ssid")
	}
	if cfg.WiFi.Password != "" && len(cfg.WiFi.Password) < 8 {
		return fmt.Errorf("wifi.password must be at least 8 characters")
	}

	// Web.
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "0.0.0.0:80"
	}
	if _, _, err := net.SplitHostPort(cfg.Web.Listen); err != nil {
		return fmt.Errorf("web.listen invalid: %w", err)
	}
	if cfg.Web.Backlog <= 0 {
		cfg.Web.Backlog = 5
	}
	if cfg.Web.RecvTimeout <= 0 {
		cfg.Web.RecvTimeout = 5 * time.Second
	}
	if strings.TrimSpace(cfg.Web.Title) == "" {
		cfg.Web.Title = "Family Fan Control"
	}
	if cfg.Web.RateLimit < 0 {
		return fmt.Errorf("web.rate_limit must be >= 0")
	}
	if cfg.Web.RateLimit > 0 && cfg.Web.Burst <= 0 {
		cfg.Web.Burst = 1
	}

	// Fan.
	cfg.Fan.PWMBackend = strings.ToLower(strings.TrimSpace(cfg.Fan.PWMBackend))
	switch cfg.Fan.PWMBackend {
	case "":
		cfg.Fan.PWMBackend = "sysfs"
	case "sysfs", "periph", "gpio", "sim":
	default:
		return fmt.Errorf("fan.pwm_backend must be one of sysfs, periph, gpio, sim")
	}
	if cfg.Fan.PWMPin == 0 {
		cfg.Fan.PWMPin = 18
	}
	if cfg.Fan.PWMPin < 0 {
		return fmt.Errorf("fan.pwm_pin must be >= 0")
	}
	if cfg.Fan.PWMFrequency <= 0 {
		cfg.Fan.PWMFrequency = 25000
	}
	if cfg.Fan.DirPin == 0 {
		cfg.Fan.DirPin = 23
	}
	if cfg.Fan.LEDPin == 0 {
		cfg.Fan.LEDPin = 24
	}
	if cfg.Fan.InitialSpeed == nil {
		v := 0.9
		if cfg.Manual.Enable {
			v = 0.5
		}
		cfg.Fan.InitialSpeed = &v
	}
	if s := *cfg.Fan.InitialSpeed; s < 0 || s > 1 {
		return fmt.Errorf("fan.initial_speed must be between 0 and 1")
	}
	cfg.Fan.InitialDirection = strings.ToLower(strings.TrimSpace(cfg.Fan.InitialDirection))
	switch cfg.Fan.InitialDirection {
	case "":
		cfg.Fan.InitialDirection = "forward"
	case "forward", "reverse":
	default:
		return fmt.Errorf("fan.initial_direction must be 'forward' or 'reverse'")
	}
	if cfg.Fan.BlinkInterval <= 0 {
		cfg.Fan.BlinkInterval = 500 * time.Millisecond
	}

	// Manual control. Pin defaults apply even when disabled.
	if cfg.Manual.ClkPin == 0 {
		cfg.Manual.ClkPin = 17
	}
	if cfg.Manual.DtPin == 0 {
		cfg.Manual.DtPin = 27
	}
	if cfg.Manual.SwPin == 0 {
		cfg.Manual.SwPin = 22
	}
	if cfg.Manual.PollInterval <= 0 {
		cfg.Manual.PollInterval = 5 * time.Millisecond
	}
	if cfg.Manual.StepThreshold <= 0 {
		cfg.Manual.StepThreshold = 4
	}
	if cfg.Manual.SpeedStep == 0 {
		cfg.Manual.SpeedStep = 0.05
	}
	if cfg.Manual.SpeedStep < 0 || cfg.Manual.SpeedStep > 1 {
		return fmt.Errorf("manual.speed_step must be between 0 and 1")
	}
	if cfg.Manual.Debounce <= 0 {
		cfg.Manual.Debounce = 200 * time.Millisecond
	}
	if cfg.Manual.Enable {
		pins := map[int]string{}
		for _, p := range []struct {
			name string
			pin  int
		}{
			{"fan.pwm_pin", cfg.Fan.PWMPin},
			{"fan.dir_pin", cfg.Fan.DirPin},
			{"fan.led_pin", cfg.Fan.LEDPin},
			{"manual.clk_pin", cfg.Manual.ClkPin},
			{"manual.dt_pin", cfg.Manual.DtPin},
			{"manual.sw_pin", cfg.Manual.SwPin},
		} {
			if p.pin < 0 {
				continue
			}
			if other, ok := pins[p.pin]; ok {
				return fmt.Errorf("%s conflicts with %s (gpio %d)", p.name, other, p.pin)
			}
			pins[p.pin] = p.name
		}
	}

	// mDNS.
	if strings.TrimSpace(cfg.MDNS.Instance) == "" {
		cfg.MDNS.Instance = "fanctl"
	}

	// SNMP.
	if cfg.SNMP.Port == 0 {
		cfg.SNMP.Port = 161
	}
	if cfg.SNMP.Community == "" {
		cfg.SNMP.Community = "public"
	}
	if cfg.SNMP.Interval <= 0 {
		cfg.SNMP.Interval = 30 * time.Second
	}
	cfg.SNMP.OIDBase = strings.TrimSuffix(strings.TrimSpace(cfg.SNMP.OIDBase), ".")
	if cfg.SNMP.OIDBase == "" {
		cfg.SNMP.OIDBase = ".1.3.6.1.4.1.99999.1"
	}
	if cfg.SNMP.Enable && strings.TrimSpace(cfg.SNMP.Host) == "" {
		return fmt.Errorf("snmp.host is required when snmp.enable is true")
	}

	// Schedule.
	for i := range cfg.Schedule {
		e := &cfg.Schedule[i]
		e.Cron = strings.TrimSpace(e.Cron)
		if e.Cron == "" {
			return fmt.Errorf("schedule[%d].cron is required", i)
		}
		e.Power = strings.ToLower(strings.TrimSpace(e.Power))
		switch e.Power {
		case "", "on", "off":
		default:
			return fmt.Errorf("schedule[%d].power must be 'on' or 'off'", i)
		}
		e.Direction = strings.ToLower(strings.TrimSpace(e.Direction))
		switch e.Direction {
		case "", "forward", "reverse":
		default:
			return fmt.Errorf("schedule[%d].direction must be 'forward' or 'reverse'", i)
		}
		if e.Speed != nil && (*e.Speed < 0 || *e.Speed > 1) {
			return fmt.Errorf("schedule[%d].speed must be between 0 and 1", i)
		}
		if e.Power == "" && e.Direction == "" && e.Speed == nil {
			return fmt.Errorf("schedule[%d] changes nothing; set power, speed or direction", i)
		}
	}

	// Logging.
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}

	return nil
}
