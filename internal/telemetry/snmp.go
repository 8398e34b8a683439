// Package telemetry pushes the fan state to an SNMP manager at a fixed
// interval.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"fanctl/internal/fan"
)

type Snapshotter interface {
	Snapshot() fan.Snapshot
}

type Config struct {
	Host      string
	Port      uint16
	Community string
	Interval  time.Duration
	OIDBase   string
	// Temperature, when set, adds the SoC temperature in tenths of a degree.
	Temperature func() (float64, error)
}

type client interface {
	Connect() error
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	Close() error
}

type snmpClient struct {
	*gosnmp.GoSNMP
}

func (c snmpClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

var newClient = func(cfg Config) client {
	return snmpClient{&gosnmp.GoSNMP{
		Target:    cfg.Host,
		Port:      cfg.Port,
		Community: cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
		Retries:   1,
	}}
}

// Column offsets under the configured OID base.
const (
	oidSpeed     = 1
	oidEnabled   = 2
	oidDirection = 3
	oidDuty      = 4
	oidDetents   = 5
	oidPresses   = 6
	oidSoCTemp   = 7
)

// PDUs maps a snapshot onto SNMP varbinds below base.
func PDUs(base string, s fan.Snapshot) []gosnmp.SnmpPDU {
	base = strings.TrimSuffix(base, ".")
	oid := func(n int) string { return fmt.Sprintf("%s.%d", base, n) }

	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	return []gosnmp.SnmpPDU{
		{Name: oid(oidSpeed), Type: gosnmp.Integer, Value: s.SpeedPercent()},
		{Name: oid(oidEnabled), Type: gosnmp.Integer, Value: enabled},
		{Name: oid(oidDirection), Type: gosnmp.OctetString, Value: s.Direction.String()},
		{Name: oid(oidDuty), Type: gosnmp.Integer, Value: int(math.Round(s.PWMDuty))},
		{Name: oid(oidDetents), Type: gosnmp.Counter32, Value: uint32(s.Detents)},
		{Name: oid(oidPresses), Type: gosnmp.Counter32, Value: uint32(s.PressesHandled)},
	}
}

type Pusher struct {
	cfg Config
	src Snapshotter
	log *slog.Logger
}

func NewPusher(cfg Config, src Snapshotter, log *slog.Logger) *Pusher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pusher{cfg: cfg, src: src, log: log}
}

// Run pushes a snapshot every interval until ctx is done. Connection and
// send failures are logged; the next tick tries again.
func (p *Pusher) Run(ctx context.Context) error {
	var c client
	defer func() {
		if c != nil {
			_ = c.Close()
		}
	}()

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		if c == nil {
			nc := newClient(p.cfg)
			if err := nc.Connect(); err != nil {
				p.log.Warn("snmp connect failed", "target", p.target(), "error", err)
				continue
			}
			p.log.Info("snmp client connected", "target", p.target())
			c = nc
		}
		if err := p.push(c); err != nil {
			p.log.Warn("snmp send failed", "target", p.target(), "error", err)
			_ = c.Close()
			c = nil
		}
	}
}

func (p *Pusher) push(c client) error {
	pdus := PDUs(p.cfg.OIDBase, p.src.Snapshot())
	if p.cfg.Temperature != nil {
		if temp, err := p.cfg.Temperature(); err == nil {
			pdus = append(pdus, gosnmp.SnmpPDU{
				Name:  fmt.Sprintf("%s.%d", strings.TrimSuffix(p.cfg.OIDBase, "."), oidSoCTemp),
				Type:  gosnmp.Integer,
				Value: int(math.Round(temp * 10)),
			})
		}
	}
	_, err := c.Set(pdus)
	return err
}

func (p *Pusher) target() string { return fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port) }
