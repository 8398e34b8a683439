// Package wifi joins the configured wireless network through NetworkManager
// and reports the address the control page is reachable on.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const connName = "fanctl-client"

var ErrAssociationTimeout = errors.New("wifi: association timed out")

// runNmcli is replaced in tests.
var runNmcli = func(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("nmcli %s: %w: %s", strings.Join(redact(args), " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

var (
	pollInterval = time.Second
	localIPv4Fn  = LocalIPv4
)

type Options struct {
	SSID      string
	Password  string
	Interface string
	Timeout   time.Duration
}

// Associate joins opts.SSID and waits until the link is activated, polling
// once per pollInterval up to opts.Timeout. It returns the client IPv4
// address. With no SSID the host's existing network is used as is.
func Associate(ctx context.Context, opts Options) (string, error) {
	if strings.TrimSpace(opts.SSID) == "" {
		return localIPv4Fn()
	}
	if opts.Interface == "" {
		opts.Interface = "wlan0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	connectErr := Connect(ctx, opts.Interface, opts.SSID, opts.Password)

	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		st, err := GetStatus(ctx, opts.Interface)
		if err == nil && st.State == "activated" && st.IP != "" {
			return st.IP, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", errors.Join(fmt.Errorf("%w after %s (ssid %q)", ErrAssociationTimeout, opts.Timeout, opts.SSID), connectErr)
			}
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

// Connect replaces any previous fanctl client profile and asks NetworkManager
// to join ssid on iface.
func Connect(ctx context.Context, iface, ssid, password string) error {
	_, _ = runNmcli(ctx, "dev", "set", iface, "managed", "yes")
	_, _ = runNmcli(ctx, "con", "delete", connName)

	args := []string{"device", "wifi", "connect", ssid, "ifname", iface, "name", connName}
	if password != "" {
		args = append(args, "password", password)
	}
	if _, err := runNmcli(ctx, args...); err != nil {
		return fmt.Errorf("wifi: connect %q: %w", ssid, err)
	}
	return nil
}

type Status struct {
	Connection string
	SSID       string
	State      string // NetworkManager state, e.g. activating, activated
	IP         string
}

// GetStatus reports the active wireless connection on iface, if any.
func GetStatus(ctx context.Context, iface string) (Status, error) {
	out, err := runNmcli(ctx, "-t", "-f", "NAME,TYPE,DEVICE,STATE", "con", "show", "--active")
	if err != nil {
		return Status{}, err
	}

	var st Status
	for _, line := range strings.Split(string(out), "\n") {
		parts := splitTerse(strings.TrimRight(line, "\r"))
		if len(parts) < 4 {
			continue
		}
		if parts[2] != iface || parts[1] != "802-11-wireless" {
			continue
		}
		st.Connection = parts[0]
		st.State = parts[3]
		break
	}
	if st.Connection == "" {
		return st, nil
	}

	if out, err := runNmcli(ctx, "-g", "802-11-wireless.ssid", "connection", "show", st.Connection); err == nil {
		st.SSID = strings.TrimSpace(string(out))
	}
	if st.SSID == "" {
		st.SSID = st.Connection
	}

	if st.State == "activated" {
		if out, err := runNmcli(ctx, "-g", "IP4.ADDRESS", "dev", "show", iface); err == nil {
			st.IP = firstAddr(string(out))
		}
	}
	return st, nil
}

// firstAddr takes nmcli's "a/24 | b/24" list and returns the first bare IP.
func firstAddr(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	first, _, _ := strings.Cut(s, "|")
	first = strings.TrimSpace(first)
	if ip, _, err := net.ParseCIDR(first); err == nil {
		return ip.String()
	}
	if ip := net.ParseIP(first); ip != nil {
		return ip.String()
	}
	return ""
}

// splitTerse splits one line of `nmcli -t` output. Fields are ':' separated;
// literal ':' and '\' are backslash-escaped.
func splitTerse(line string) []string {
	fields := make([]string, 0, 4)
	var b strings.Builder
	escaped := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ':':
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	return append(fields, b.String())
}

func redact(args []string) []string {
	out := append([]string(nil), args...)
	for i := 0; i+1 < len(out); i++ {
		if out[i] == "password" {
			out[i+1] = "***"
		}
	}
	return out
}

// LocalIPv4 returns the first global IPv4 address on an up, non-loopback
// interface, ordered by interface name.
func LocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("wifi: list interfaces: %w", err)
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			ip4 := ip.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("wifi: no IPv4 address on any interface")
}
