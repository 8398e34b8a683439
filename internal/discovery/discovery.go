// Package discovery advertises the control page over mDNS/DNS-SD so phones
// and browsers on the LAN can find the fan without knowing its address.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_fanctl._tcp"
	Domain      = "local."
)

type server interface {
	Shutdown()
}

var registerFn = func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, txt, ifaces)
}

// Advertise registers instance on port and blocks until ctx is done, then
// withdraws the record.
func Advertise(ctx context.Context, instance string, port int, meta map[string]string, log *slog.Logger) error {
	if port <= 0 {
		return fmt.Errorf("discovery: invalid port %d", port)
	}
	if log == nil {
		log = slog.Default()
	}

	srv, err := registerFn(instance, ServiceType, Domain, port, txtRecords(meta), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	log.Info("mdns advertising", "instance", instance, "service", ServiceType, "port", port)

	<-ctx.Done()
	srv.Shutdown()
	log.Debug("mdns withdrawn", "instance", instance)
	return nil
}

func txtRecords(meta map[string]string) []string {
	txt := make([]string, 0, len(meta))
	for k, v := range meta {
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt)
	return txt
}
