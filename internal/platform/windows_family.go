package platform

// windowsDefaultService is started when no VPN service was detected or requested
const windowsDefaultService = "OpenVPNService"

var (
	windowsQuery      = mustTemplate("windows-query", `sc query {{dquote .Service}}`)
	windowsStop       = mustTemplate("windows-stop", `sc stop {{dquote .Service}}`)
	windowsStart      = mustTemplate("windows-start", `sc start {{dquote .Service}}`)
	windowsInterfaces = mustTemplate("windows-interfaces", `ipconfig /all | findstr /I /C:"TAP" /C:"Wintun" /C:"VPN"`)
	windowsPing       = mustTemplate("windows-ping", `ping -n {{.Count}} {{.Host}}`)
	windowsNSLookup   = mustTemplate("windows-nslookup", `nslookup {{.Host}}`)
)

// windowsAdapter manages VPN clients registered with the Service Control Manager.
// sc.exe carries its own privilege checks, so there is no elevation prefix.
type windowsAdapter struct{}

func newWindowsAdapter() *windowsAdapter {
	return &windowsAdapter{}
}

func (a *windowsAdapter) Family() string { return FamilyWindows }

func (a *windowsAdapter) DefaultCandidates() []string {
	return []string{
		"OpenVPNService",
		"OpenVPNServiceInteractive",
		"Cisco AnyConnect Secure Mobility Agent",
		"Pulse Secure",
		"GlobalProtect Service",
	}
}

func (a *windowsAdapter) DefaultService() string { return windowsDefaultService }

// ServiceInstance returns service unchanged; SCM services ignore the config
func (a *windowsAdapter) ServiceInstance(service, config string) string { return service }

func (a *windowsAdapter) DetectProbes(candidates []string) []Probe {
	probes := make([]Probe, 0, len(candidates))
	for _, name := range candidates {
		probes = append(probes, Probe{
			Service: name,
			Command: render(windowsQuery, commandData{Service: name}),
			Match:   MatchContains("RUNNING"),
		})
	}
	return probes
}

func (a *windowsAdapter) StopCommand(service string) string {
	return render(windowsStop, commandData{Service: service})
}

// StartCommand ignores config: SCM services take their configuration from the registry
func (a *windowsAdapter) StartCommand(service, config string) string {
	return render(windowsStart, commandData{Service: service})
}

func (a *windowsAdapter) InterfaceProbeCommand() string {
	return render(windowsInterfaces, commandData{})
}

func (a *windowsAdapter) PingCommand(host string, count int) string {
	return render(windowsPing, commandData{Host: host, Count: count})
}

func (a *windowsAdapter) DNSCommand(host string) string {
	return render(windowsNSLookup, commandData{Host: host})
}
