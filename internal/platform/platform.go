package platform

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/stone-age-io/remediator/internal/errors"
)

// Family names, matching runtime.GOOS
const (
	FamilyWindows = "windows"
	FamilyLinux   = "linux"
	FamilyDarwin  = "darwin"
)

// AutoService asks the adapter to pick the service from detection or its default
const AutoService = "auto"

// sudoPrefix elevates privileged commands without ever prompting
const sudoPrefix = "sudo -n "

// ErrUnsupportedPlatform is returned by Lookup for OS families without an adapter
var ErrUnsupportedPlatform = errors.NewPlatformError("unsupported platform", nil)

// Adapter resolves the concrete commands used to manage the VPN service on one
// OS family. Implementations only build command text; they never run anything.
type Adapter interface {
	// Family returns the OS family this adapter serves
	Family() string

	// DefaultCandidates returns the service names probed when none is requested
	DefaultCandidates() []string

	// DefaultService is started when detection found nothing and none was requested
	DefaultService() string

	// ServiceInstance returns the identifier that StartCommand(service, config)
	// actually brings up, so that it can be probed and stopped under that name
	ServiceInstance(service, config string) string

	// DetectProbes returns one probe per candidate, in priority order
	DetectProbes(candidates []string) []Probe

	// StopCommand returns the command that stops service
	StopCommand(service string) string

	// StartCommand returns the command that starts service, optionally with a config reference
	StartCommand(service, config string) string

	// InterfaceProbeCommand lists VPN-style network interfaces
	InterfaceProbeCommand() string

	// PingCommand sends count echo requests to host
	PingCommand(host string, count int) string

	// DNSCommand resolves host
	DNSCommand(host string) string
}

// Options tune adapter command generation
type Options struct {
	// Sudo prefixes privileged commands with a non-interactive sudo (unix families only)
	Sudo bool
}

// Lookup returns the adapter for an OS family
func Lookup(family string, opts Options) (Adapter, error) {
	switch family {
	case FamilyWindows:
		return newWindowsAdapter(), nil
	case FamilyLinux:
		return newLinuxAdapter(opts), nil
	case FamilyDarwin:
		return newDarwinAdapter(opts), nil
	default:
		return nil, errors.NewPlatformError("unsupported platform", nil).WithContext("family", family)
	}
}

// Candidates merges a requested service with the family defaults: the requested
// name is probed first, duplicates are dropped, "auto" and empty names are skipped.
func Candidates(adapter Adapter, requested string, overrides []string) []string {
	defaults := overrides
	if len(defaults) == 0 {
		defaults = adapter.DefaultCandidates()
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || name == AutoService || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	add(requested)
	for _, name := range defaults {
		add(name)
	}
	return out
}

// Probe is one read-only detection command and how to read its output
type Probe struct {
	Service string
	Command string
	Match   Matcher
}

// Running reports whether a successful probe's stdout means the service is up
func (p Probe) Running(stdout string) bool {
	if p.Match == nil {
		return false
	}
	return p.Match(stdout)
}

// Matcher decides from a probe's stdout whether the service is running
type Matcher func(stdout string) bool

// MatchExact matches when the trimmed output equals want
func MatchExact(want string) Matcher {
	return func(stdout string) bool {
		return strings.TrimSpace(stdout) == want
	}
}

// MatchContains matches when the output contains sub
func MatchContains(sub string) Matcher {
	return func(stdout string) bool {
		return strings.Contains(stdout, sub)
	}
}

// MatchNonEmpty matches any non-blank output
func MatchNonEmpty() Matcher {
	return func(stdout string) bool {
		return strings.TrimSpace(stdout) != ""
	}
}

// commandData is the template input for every command template
type commandData struct {
	Sudo    string
	Service string
	Config  string
	Host    string
	Count   int
}

var templateFuncs = template.FuncMap{
	"quote":  shellQuote,
	"dquote": doubleQuote,
}

// mustTemplate parses a command template at package init
func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text))
}

// render executes a command template. Templates are package constants, so an
// execution failure is a programming error.
func render(tmpl *template.Template, data commandData) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("platform: render %s: %v", tmpl.Name(), err))
	}
	return strings.TrimSpace(buf.String())
}

// shellQuote single-quotes s for POSIX shells
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// doubleQuote wraps s in double quotes for cmd.exe; embedded quotes are dropped
func doubleQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}

func sudo(enabled bool) string {
	if enabled {
		return sudoPrefix
	}
	return ""
}
