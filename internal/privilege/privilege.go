// Package privilege reports whether the process runs with administrative rights.
package privilege

// UseSudo decides whether unix service commands need a sudo prefix for the
// given mode (auto, always, never)
func UseSudo(mode string, elevated bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return !elevated
	}
}
