package platform

// macOSVPNService is the pseudo-service for "whatever VPN is configured"; it is
// detected through tunnel interfaces rather than a named service
const macOSVPNService = "macos_vpn"

// firstNetworkService prints the name of the first configured network service
const firstNetworkService = `scutil --nc list | sed -nE 's/.*"(.*)".*/\1/p' | head -1`

// connectedNetworkServices prints the names of every connected network service
const connectedNetworkServices = `scutil --nc list | grep Connected | sed -nE 's/.*"(.*)".*/\1/p'`

var (
	darwinInterfaces = mustTemplate("darwin-interfaces", `ifconfig | grep -E 'utun|tun|ppp'`)
	darwinStatus     = mustTemplate("darwin-status", `scutil --nc status {{quote .Service}} | head -1`)
	darwinStopAll    = mustTemplate("darwin-stop-all", connectedNetworkServices + ` | while IFS= read -r name; do {{.Sudo}}scutil --nc stop "$name" || exit 1; done`)
	darwinStop       = mustTemplate("darwin-stop", `{{.Sudo}}scutil --nc stop {{quote .Service}}`)
	darwinStartFirst = mustTemplate("darwin-start-first", `name="$(` + firstNetworkService + `)" && [ -n "$name" ] && {{.Sudo}}scutil --nc start "$name"`)
	darwinStart      = mustTemplate("darwin-start", `{{.Sudo}}scutil --nc start {{quote .Service}}`)
	darwinPing       = mustTemplate("darwin-ping", `ping -c {{.Count}} {{quote .Host}}`)
	darwinNSLookup   = mustTemplate("darwin-nslookup", `nslookup {{quote .Host}}`)
)

// darwinAdapter manages VPN configurations through scutil's network connection commands
type darwinAdapter struct {
	sudo string
}

func newDarwinAdapter(opts Options) *darwinAdapter {
	return &darwinAdapter{sudo: sudo(opts.Sudo)}
}

func (a *darwinAdapter) Family() string { return FamilyDarwin }

func (a *darwinAdapter) DefaultCandidates() []string {
	return []string{macOSVPNService}
}

func (a *darwinAdapter) DefaultService() string { return macOSVPNService }

func (a *darwinAdapter) ServiceInstance(service, config string) string { return service }

func (a *darwinAdapter) DetectProbes(candidates []string) []Probe {
	probes := make([]Probe, 0, len(candidates))
	for _, name := range candidates {
		if name == macOSVPNService {
			probes = append(probes, Probe{
				Service: name,
				Command: a.InterfaceProbeCommand(),
				Match:   MatchNonEmpty(),
			})
			continue
		}
		probes = append(probes, Probe{
			Service: name,
			Command: render(darwinStatus, commandData{Service: name}),
			Match:   MatchExact("Connected"),
		})
	}
	return probes
}

func (a *darwinAdapter) StopCommand(service string) string {
	if service == macOSVPNService {
		return render(darwinStopAll, commandData{Sudo: a.sudo})
	}
	return render(darwinStop, commandData{Sudo: a.sudo, Service: service})
}

// StartCommand starts the named configuration; for the pseudo-service the config
// reference names the configuration, else the first configured one is used
func (a *darwinAdapter) StartCommand(service, config string) string {
	switch {
	case service != macOSVPNService:
		return render(darwinStart, commandData{Sudo: a.sudo, Service: service})
	case config != "":
		return render(darwinStart, commandData{Sudo: a.sudo, Service: config})
	default:
		return render(darwinStartFirst, commandData{Sudo: a.sudo})
	}
}

func (a *darwinAdapter) InterfaceProbeCommand() string {
	return render(darwinInterfaces, commandData{})
}

func (a *darwinAdapter) PingCommand(host string, count int) string {
	return render(darwinPing, commandData{Host: host, Count: count})
}

func (a *darwinAdapter) DNSCommand(host string) string {
	return render(darwinNSLookup, commandData{Host: host})
}
