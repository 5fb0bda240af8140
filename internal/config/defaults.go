package config

import (
	"os"
	"runtime"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	ConfigPath string
	CredsFile  string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	return platformDefaults(runtime.GOOS)
}

func platformDefaults(goos string) PlatformDefaults {
	switch goos {
	case "windows":
		return PlatformDefaults{
			ConfigPath: `C:\ProgramData\Remediator\config.yaml`,
			CredsFile:  `C:\ProgramData\Remediator\remediator.creds`,
		}
	case "darwin":
		return PlatformDefaults{
			ConfigPath: "/usr/local/etc/remediator/config.yaml",
			CredsFile:  "/usr/local/etc/remediator/remediator.creds",
		}
	default:
		return PlatformDefaults{
			ConfigPath: "/etc/remediator/config.yaml",
			CredsFile:  "/etc/remediator/remediator.creds",
		}
	}
}

// GetDefaultConfigPath returns the platform config path if a file exists there,
// else an empty string: the config file is optional
func GetDefaultConfigPath() string {
	path := GetPlatformDefaults().ConfigPath
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// UpdateConfigDefaults applies platform-specific viper defaults.
// This should be called from setDefaults() in config.go
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		defaults := GetPlatformDefaults()
		viperInstance.SetDefault("report.nats.auth.creds_file", defaults.CredsFile)
	}
}
