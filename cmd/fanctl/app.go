package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fanctl/internal/config"
	"fanctl/internal/discovery"
	"fanctl/internal/encoder"
	"fanctl/internal/fan"
	"fanctl/internal/hw"
	"fanctl/internal/schedule"
	"fanctl/internal/telemetry"
	"fanctl/internal/web"
	"fanctl/internal/wifi"
)

// app holds everything opened at startup. newApp fails fast on anything the
// daemon cannot run without: Wi-Fi, the listener, the PWM output and, in
// manual mode, the encoder and button lines.
type app struct {
	cfg  config.Config
	log  *slog.Logger
	logs *web.LogBuffer

	ip  string
	ln  net.Listener
	ctl *fan.Controller

	clk, dt    hw.Input
	sw         hw.Input
	encInitial encoder.Sample

	sched *schedule.Scheduler
}

var associateFn = wifi.Associate

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger, logs *web.LogBuffer) (*app, error) {
	a := &app{cfg: cfg, log: log, logs: logs}

	ip, err := associateFn(ctx, wifi.Options{
		SSID:      cfg.WiFi.SSID,
		Password:  cfg.WiFi.Password,
		Interface: cfg.WiFi.Interface,
		Timeout:   cfg.WiFi.Timeout,
	})
	if err != nil {
		if cfg.WiFi.SSID != "" {
			return nil, err
		}
		log.Warn("no local ipv4 address found", "error", err)
	}
	a.ip = ip

	a.ln, err = web.Listen(cfg.Web.Listen, cfg.Web.Backlog)
	if err != nil {
		return nil, err
	}

	act, err := openActuator(cfg.Fan, log)
	if err != nil {
		a.close()
		return nil, err
	}

	a.encInitial = 0b11
	if cfg.Manual.Enable {
		if err := a.openManualInputs(); err != nil {
			_ = act.Close()
			a.close()
			return nil, err
		}
		if s, err := encoder.Read(a.clk, a.dt); err == nil {
			a.encInitial = s
		}
	}

	dir, _ := fan.ParseDirection(cfg.Fan.InitialDirection)
	a.ctl = fan.NewController(fan.Config{
		Initial:        fan.State{Speed: *cfg.Fan.InitialSpeed, Direction: dir},
		SpeedStep:      cfg.Manual.SpeedStep,
		StepThreshold:  cfg.Manual.StepThreshold,
		EncoderInitial: a.encInitial,
		Debounce:       cfg.Manual.Debounce,
		BlinkInterval:  cfg.Fan.BlinkInterval,
		PWMFrequency:   cfg.Fan.PWMFrequency,
	}, act, log)

	if cfg.Manual.Enable && a.cfg.Fan.PWMBackend != hw.BackendSim {
		sw, err := hw.WatchFalling(cfg.Manual.SwPin, a.ctl.PressButton)
		if err != nil {
			_ = act.Close()
			a.close()
			return nil, fmt.Errorf("open button gpio %d: %w", cfg.Manual.SwPin, err)
		}
		a.sw = sw
	}

	if len(cfg.Schedule) > 0 {
		a.sched = schedule.New(a.ctl, log)
		for i, sc := range cfg.Schedule {
			e, err := schedule.EntryFromConfig(sc)
			if err == nil {
				err = a.sched.Add(e)
			}
			if err != nil {
				_ = act.Close()
				a.close()
				return nil, fmt.Errorf("schedule[%d]: %w", i, err)
			}
		}
	}
	return a, nil
}

func openActuator(cfg config.FanConfig, log *slog.Logger) (*fan.Actuator, error) {
	pwm, err := hw.OpenPWM(cfg.PWMBackend, cfg.PWMPin)
	if err != nil {
		return nil, fmt.Errorf("open pwm (%s, gpio %d): %w", cfg.PWMBackend, cfg.PWMPin, err)
	}
	if cfg.PWMBackend == hw.BackendSim {
		return fan.NewActuator(pwm, hw.NewSimLine(0), hw.NewSimLine(0)), nil
	}

	var dir, led hw.Output
	if cfg.DirPin >= 0 {
		dir, err = hw.OpenOutput(cfg.DirPin, 0)
		if err != nil {
			_ = pwm.Close()
			return nil, fmt.Errorf("open direction gpio %d: %w", cfg.DirPin, err)
		}
	}
	if cfg.LEDPin >= 0 {
		out, err := hw.OpenOutput(cfg.LEDPin, 1)
		if err != nil {
			// The LED is only an indicator.
			log.Warn("status led unavailable", "gpio", cfg.LEDPin, "error", err)
		} else {
			led = out
		}
	}
	return fan.NewActuator(pwm, dir, led), nil
}

func (a *app) openManualInputs() error {
	if a.cfg.Fan.PWMBackend == hw.BackendSim {
		a.clk, a.dt = hw.NewSimLine(1), hw.NewSimLine(1)
		return nil
	}
	clk, err := hw.OpenInput(a.cfg.Manual.ClkPin)
	if err != nil {
		return fmt.Errorf("open encoder clk gpio %d: %w", a.cfg.Manual.ClkPin, err)
	}
	dt, err := hw.OpenInput(a.cfg.Manual.DtPin)
	if err != nil {
		_ = clk.Close()
		return fmt.Errorf("open encoder dt gpio %d: %w", a.cfg.Manual.DtPin, err)
	}
	a.clk, a.dt = clk, dt
	return nil
}

// run starts every worker and blocks until ctx is done or the web server
// fails. The controller leaves the fan stopped on the way out.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close()

	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("worker stopped", "worker", name, "error", err)
			}
		}()
	}

	goRun("controller", a.ctl.Run)

	if a.cfg.Manual.Enable {
		errLog := rate.Sometimes{Interval: 10 * time.Second}
		goRun("encoder", func(ctx context.Context) error {
			encoder.Poll(ctx, a.clk, a.dt, a.encInitial, a.cfg.Manual.PollInterval, a.ctl.EncoderSample, func(err error) {
				errLog.Do(func() { a.log.Warn("encoder read failed", "error", err) })
			})
			return nil
		})
	}

	_, portStr, _ := net.SplitHostPort(a.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	host := a.ip
	if host == "" {
		host, _, _ = net.SplitHostPort(a.cfg.Web.Listen)
	}
	url := "http://" + net.JoinHostPort(host, portStr) + "/"
	if port == 80 {
		url = "http://" + host + "/"
	}
	a.log.Info("Web UI ready", "url", url)

	srv := web.NewServer(web.Config{
		Title:       a.cfg.Web.Title,
		RecvTimeout: a.cfg.Web.RecvTimeout,
		RateLimit:   a.cfg.Web.RateLimit,
		Burst:       a.cfg.Web.Burst,
		Board:       hw.BoardModel(),
		Temperature: hw.SoCTemperature,
	}, a.ctl, a.logs, a.log)
	webErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(ctx, a.ln); err != nil && ctx.Err() == nil {
			webErr <- err
			cancel()
		}
	}()

	if a.cfg.MDNS.Enable {
		goRun("mdns", func(ctx context.Context) error {
			return discovery.Advertise(ctx, a.cfg.MDNS.Instance, port, map[string]string{
				"path":  "/",
				"title": a.cfg.Web.Title,
			}, a.log)
		})
	}
	if a.sched != nil {
		goRun("schedule", a.sched.Run)
	}
	if a.cfg.SNMP.Enable {
		p := telemetry.NewPusher(telemetry.Config{
			Host:        a.cfg.SNMP.Host,
			Port:        a.cfg.SNMP.Port,
			Community:   a.cfg.SNMP.Community,
			Interval:    a.cfg.SNMP.Interval,
			OIDBase:     a.cfg.SNMP.OIDBase,
			Temperature: hw.SoCTemperature,
		}, a.ctl, a.log)
		goRun("snmp", p.Run)
	}

	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-webErr:
		return fmt.Errorf("web server: %w", err)
	default:
		return nil
	}
}

func (a *app) close() {
	var errs []error
	for _, in := range []hw.Input{a.sw, a.clk, a.dt} {
		if in != nil {
			errs = append(errs, in.Close())
		}
	}
	if a.ln != nil {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown incomplete", "error", err)
	}
}
