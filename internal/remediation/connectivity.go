package remediation

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/stone-age-io/remediator/internal/platform"
	"go.uber.org/zap"
)

// Connectivity defaults: two public anchors and two private gateway addresses
var DefaultTargets = []string{"8.8.8.8", "1.1.1.1", "10.0.0.1", "192.168.1.1"}

const (
	DefaultPingCount = 2
	DefaultDNSHost   = "google.com"
)

// vpnInterfacePrefixes identifies tunnel-style interfaces in the OS interface table
var vpnInterfacePrefixes = []string{"tun", "utun", "tap", "ppp", "wg", "ipsec"}

// vpnInterfaceMarkers catch adapter names that carry the driver name mid-string (windows)
var vpnInterfaceMarkers = []string{"vpn", "wintun", "tap-windows"}

// InterfaceLister returns the names of local network interfaces
type InterfaceLister func(ctx context.Context) ([]string, error)

// SystemInterfaces lists interfaces from the OS interface table
func SystemInterfaces(ctx context.Context) ([]string, error) {
	stats, err := net.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(stats))
	for _, s := range stats {
		names = append(names, s.Name)
	}
	return names, nil
}

// Verifier checks reachability of a fixed target list plus DNS resolution
type Verifier struct {
	adapter    platform.Adapter
	runner     Runner
	timeout    time.Duration
	targets    []string
	pingCount  int
	dnsHost    string
	interfaces InterfaceLister
	logger     *zap.Logger
	now        func() time.Time
}

// NewVerifier creates a verifier. Empty targets, a zero ping count and an empty
// DNS host fall back to the defaults.
func NewVerifier(adapter platform.Adapter, runner Runner, timeout time.Duration, targets []string, pingCount int, dnsHost string, logger *zap.Logger) *Verifier {
	if len(targets) == 0 {
		targets = DefaultTargets
	}
	if pingCount <= 0 {
		pingCount = DefaultPingCount
	}
	if dnsHost == "" {
		dnsHost = DefaultDNSHost
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		adapter:    adapter,
		runner:     runner,
		timeout:    timeout,
		targets:    targets,
		pingCount:  pingCount,
		dnsHost:    dnsHost,
		interfaces: SystemInterfaces,
		logger:     logger,
		now:        time.Now,
	}
}

// Targets returns the configured target list in probe order
func (v *Verifier) Targets() []string {
	return v.targets
}

// Verify probes every target, then DNS, sequentially. It never stops early: the
// report always holds one entry per target and a DNS result.
func (v *Verifier) Verify(ctx context.Context) ConnectivityReport {
	report := ConnectivityReport{
		Results:    make(map[string]string, len(v.targets)),
		Interfaces: []string{},
	}

	for _, target := range v.targets {
		result := v.runner.Execute(ctx, v.adapter.PingCommand(target, v.pingCount), v.timeout)
		switch {
		case result.ExecFailed():
			report.Results[target] = "error: " + result.Stderr
		case result.Succeeded:
			report.Results[target] = Reachable
		default:
			report.Results[target] = Unreachable
		}
	}

	dns := v.runner.Execute(ctx, v.adapter.DNSCommand(v.dnsHost), v.timeout)
	switch {
	case dns.ExecFailed():
		report.DNS = DNSError
		report.DNSError = dns.Stderr
	case dns.Succeeded:
		report.DNS = DNSWorking
	default:
		report.DNS = DNSFailed
	}

	if v.interfaces != nil {
		names, err := v.interfaces(ctx)
		if err != nil {
			v.logger.Warn("Failed to list network interfaces", zap.Error(err))
		}
		report.Interfaces = filterVPNInterfaces(names)
	}

	report.Timestamp = v.now().UTC()
	return report
}

func filterVPNInterfaces(names []string) []string {
	out := []string{}
	for _, name := range names {
		if isVPNInterface(name) {
			out = append(out, name)
		}
	}
	return out
}

func isVPNInterface(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range vpnInterfacePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, marker := range vpnInterfaceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
