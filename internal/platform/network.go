package platform

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/sebas/softline/internal/clock"
)

// TelephonyState is the state of the host's native telephone.
type TelephonyState int

const (
	TelephonyIdle TelephonyState = iota
	TelephonyOffHook
	TelephonyRinging
)

func (s TelephonyState) String() string {
	switch s {
	case TelephonyIdle:
		return "idle"
	case TelephonyOffHook:
		return "offhook"
	case TelephonyRinging:
		return "ringing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseTelephonyState parses a state name.
func ParseTelephonyState(s string) (TelephonyState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return TelephonyIdle, nil
	case "offhook", "off-hook", "off_hook":
		return TelephonyOffHook, nil
	case "ringing":
		return TelephonyRinging, nil
	default:
		return TelephonyIdle, fmt.Errorf("unknown telephony state %q", s)
	}
}

// InterfaceLister returns the host's network interfaces with their addresses.
type InterfaceLister func() ([]InterfaceAddrs, error)

// InterfaceAddrs is one usable interface.
type InterfaceAddrs struct {
	Name  string
	Addrs []string
}

// SystemInterfaces lists up, non-loopback interfaces with IPv4 addresses.
func SystemInterfaces() ([]InterfaceAddrs, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []InterfaceAddrs
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		entry := InterfaceAddrs{Name: iface.Name}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				entry.Addrs = append(entry.Addrs, ipnet.IP.String())
			}
		}
		if len(entry.Addrs) > 0 {
			out = append(out, entry)
		}
	}
	return out, nil
}

// PrimaryIPv4 returns the first usable IPv4 address, or 127.0.0.1.
func PrimaryIPv4() string {
	interfaces, err := SystemInterfaces()
	if err != nil || len(interfaces) == 0 {
		return "127.0.0.1"
	}
	return interfaces[0].Addrs[0]
}

// ConnectivityMonitor polls the interface list and reports changes.
type ConnectivityMonitor struct {
	list     InterfaceLister
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// NewConnectivityMonitor creates a monitor. list defaults to SystemInterfaces.
func NewConnectivityMonitor(list InterfaceLister, c clock.Clock, interval time.Duration, logger *slog.Logger) *ConnectivityMonitor {
	if list == nil {
		list = SystemInterfaces
	}
	if c == nil {
		c = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectivityMonitor{list: list, clock: c, interval: interval, logger: logger}
}

// Run calls onChange whenever the set of addresses changes, until ctx ends.
// connected reports whether any usable address is present.
func (m *ConnectivityMonitor) Run(ctx context.Context, onChange func(connected bool)) {
	last := m.fingerprint()
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			current := m.fingerprint()
			if current == last {
				continue
			}
			m.logger.Info("[Network] Connectivity changed", "from", last, "to", current)
			last = current
			onChange(current != "")
		}
	}
}

func (m *ConnectivityMonitor) fingerprint() string {
	interfaces, err := m.list()
	if err != nil {
		m.logger.Warn("[Network] Failed to list interfaces", "error", err)
		return ""
	}
	var parts []string
	for _, iface := range interfaces {
		for _, addr := range iface.Addrs {
			parts = append(parts, iface.Name+"="+addr)
		}
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}
