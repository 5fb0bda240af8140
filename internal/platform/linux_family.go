package platform

// networkManagerService is the pseudo-service for NetworkManager VPN connections
const networkManagerService = "networkmanager"

// openVPNService accepts a config reference and starts the openvpn@<config> unit
const openVPNService = "openvpn"

// firstVPNConnection prints the name of the first NetworkManager VPN connection
const firstVPNConnection = `nmcli -t -f NAME,TYPE connection show | awk -F: 'tolower($2) ~ /vpn/ {print $1; exit}'`

// firstActiveVPNConnection prints the name of the first active NetworkManager VPN connection
const firstActiveVPNConnection = `nmcli -t -f NAME,TYPE connection show --active | awk -F: 'tolower($2) ~ /vpn/ {print $1; exit}'`

var (
	linuxIsActive    = mustTemplate("linux-is-active", `systemctl is-active {{quote .Service}}`)
	linuxNMActive    = mustTemplate("linux-nm-active", `nmcli -t -f NAME,TYPE connection show --active | grep -i vpn`)
	linuxStop        = mustTemplate("linux-stop", `{{.Sudo}}systemctl stop {{quote .Service}}`)
	linuxStart       = mustTemplate("linux-start", `{{.Sudo}}systemctl start {{quote .Service}}`)
	linuxStartConfig = mustTemplate("linux-start-config", `{{.Sudo}}systemctl start {{quote (printf "openvpn@%s" .Config)}}`)
	linuxNMDown      = mustTemplate("linux-nm-down", `{{.Sudo}}nmcli connection down id "$(` + firstActiveVPNConnection + `)"`)
	linuxNMUp        = mustTemplate("linux-nm-up", `{{.Sudo}}nmcli connection up id "$(` + firstVPNConnection + `)"`)
	linuxNMUpConfig  = mustTemplate("linux-nm-up-config", `{{.Sudo}}nmcli connection up id {{quote .Config}}`)
	linuxInterfaces  = mustTemplate("linux-interfaces", `ip -o link show | grep -E 'tun|tap|wg|ppp'`)
	linuxPing        = mustTemplate("linux-ping", `ping -c {{.Count}} {{quote .Host}}`)
	linuxNSLookup    = mustTemplate("linux-nslookup", `nslookup {{quote .Host}}`)
)

// linuxAdapter manages OpenVPN units through systemd and VPN connections through NetworkManager
type linuxAdapter struct {
	sudo string
}

func newLinuxAdapter(opts Options) *linuxAdapter {
	return &linuxAdapter{sudo: sudo(opts.Sudo)}
}

func (a *linuxAdapter) Family() string { return FamilyLinux }

func (a *linuxAdapter) DefaultCandidates() []string {
	return []string{openVPNService, networkManagerService}
}

func (a *linuxAdapter) DefaultService() string { return openVPNService }

// ServiceInstance maps openvpn with a config to its templated systemd unit.
// With "auto" the default service is assumed, matching what StartCommand runs
// when nothing is detected.
func (a *linuxAdapter) ServiceInstance(service, config string) string {
	if config == "" {
		return service
	}
	if service == openVPNService || service == AutoService {
		return openVPNService + "@" + config
	}
	return service
}

func (a *linuxAdapter) DetectProbes(candidates []string) []Probe {
	probes := make([]Probe, 0, len(candidates))
	for _, name := range candidates {
		if name == networkManagerService {
			probes = append(probes, Probe{
				Service: name,
				Command: render(linuxNMActive, commandData{}),
				Match:   MatchNonEmpty(),
			})
			continue
		}
		probes = append(probes, Probe{
			Service: name,
			Command: render(linuxIsActive, commandData{Service: name}),
			Match:   MatchExact("active"),
		})
	}
	return probes
}

func (a *linuxAdapter) StopCommand(service string) string {
	if service == networkManagerService {
		return render(linuxNMDown, commandData{Sudo: a.sudo})
	}
	return render(linuxStop, commandData{Sudo: a.sudo, Service: service})
}

func (a *linuxAdapter) StartCommand(service, config string) string {
	data := commandData{Sudo: a.sudo, Service: service, Config: config}
	switch {
	case service == networkManagerService && config != "":
		return render(linuxNMUpConfig, data)
	case service == networkManagerService:
		return render(linuxNMUp, data)
	case service == openVPNService && config != "":
		return render(linuxStartConfig, data)
	default:
		return render(linuxStart, data)
	}
}

func (a *linuxAdapter) InterfaceProbeCommand() string {
	return render(linuxInterfaces, commandData{})
}

func (a *linuxAdapter) PingCommand(host string, count int) string {
	return render(linuxPing, commandData{Host: host, Count: count})
}

func (a *linuxAdapter) DNSCommand(host string) string {
	return render(linuxNSLookup, commandData{Host: host})
}
