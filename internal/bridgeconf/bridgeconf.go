/* USB virtualization bridge - host side
 *
 * Program configuration, loaded from an INI file with
 * gopkg.in/ini.v1. Configuration is read-only at runtime - only a
 * handful of typed keys, with built-in defaults when the file is
 * absent.
 */

package bridgeconf

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/usbbridge/hostbridge/internal/buslog"
	"github.com/usbbridge/hostbridge/internal/policy"
)

// FileName is the configuration file's conventional basename.
const FileName = "usbbridge.conf"

// Configuration is the bridge's complete runtime configuration.
type Configuration struct {
	SocketPath     string        // Control socket path
	PumpIntervalMs uint          // Event pump polling interval
	HotplugEnable  bool          // Register the native hot-plug callback
	LogConsole     buslog.LogLevel
	LogFile        buslog.LogLevel
	LogFilePath    string
	PolicyMode     policy.Mode
	PolicyEntries  []string // "VVVV:PPPP" glob patterns
	QuirksFilePath string   // reset quirks database; "" disables it
}

// Default returns the configuration used when no file is present.
func Default() Configuration {
	return Configuration{
		SocketPath:     "/var/run/usbbridge/ctrl.sock",
		PumpIntervalMs: 20,
		HotplugEnable:  true,
		LogConsole:     buslog.Info | buslog.Error,
		LogFile:        buslog.Info | buslog.Error,
		LogFilePath:    "/var/log/usbbridge/usbbridge.log",
		PolicyMode:     policy.Deny,
		PolicyEntries:  nil,
		QuirksFilePath: "/etc/usbbridge/quirks.conf",
	}
}

// Load reads and parses the configuration file at path, starting
// from Default() and overriding whichever keys the file sets.
func Load(path string) (Configuration, error) {
	conf := Default()

	f, err := ini.Load(path)
	if err != nil {
		return conf, fmt.Errorf("bridgeconf: %w", err)
	}

	if sec := f.Section("control"); sec != nil {
		if k := sec.Key("socket"); k.String() != "" {
			conf.SocketPath = k.String()
		}
	}

	if sec := f.Section("events"); sec != nil {
		if k := sec.Key("pump-interval-ms"); k.String() != "" {
			n, err := k.Uint()
			if err != nil {
				return conf, fmt.Errorf("bridgeconf: pump-interval-ms: %w", err)
			}
			conf.PumpIntervalMs = uint(n)
		}
		if k := sec.Key("hotplug"); k.String() != "" {
			b, err := parseBinary(k.String(), "disable", "enable")
			if err != nil {
				return conf, fmt.Errorf("bridgeconf: hotplug: %w", err)
			}
			conf.HotplugEnable = b
		}
	}

	if sec := f.Section("logging"); sec != nil {
		if k := sec.Key("console-log"); k.String() != "" {
			lvl, err := parseLogLevel(k.String())
			if err != nil {
				return conf, fmt.Errorf("bridgeconf: console-log: %w", err)
			}
			conf.LogConsole = lvl
		}
		if k := sec.Key("file-log"); k.String() != "" {
			lvl, err := parseLogLevel(k.String())
			if err != nil {
				return conf, fmt.Errorf("bridgeconf: file-log: %w", err)
			}
			conf.LogFile = lvl
		}
		if k := sec.Key("file-path"); k.String() != "" {
			conf.LogFilePath = k.String()
		}
	}

	if sec := f.Section("policy"); sec != nil {
		if k := sec.Key("mode"); k.String() != "" {
			switch k.String() {
			case "allow":
				conf.PolicyMode = policy.Allow
			case "deny":
				conf.PolicyMode = policy.Deny
			default:
				return conf, fmt.Errorf("bridgeconf: policy mode: must be allow or deny, got %q", k.String())
			}
		}
		if k := sec.Key("devices"); k.String() != "" {
			var entries []string
			for _, e := range strings.Split(k.String(), ",") {
				e = strings.TrimSpace(e)
				if e != "" {
					entries = append(entries, e)
				}
			}
			conf.PolicyEntries = entries
		}
	}

	if sec := f.Section("quirks"); sec != nil {
		if k := sec.Key("file"); k.String() != "" {
			conf.QuirksFilePath = k.String()
		}
		if k := sec.Key("disable"); k.String() == "true" {
			conf.QuirksFilePath = ""
		}
	}

	return conf, nil
}

// Filter builds the policy.Filter this configuration describes.
func (c Configuration) Filter() *policy.Filter {
	return policy.New(c.PolicyMode, c.PolicyEntries)
}

func parseBinary(s, vFalse, vTrue string) (bool, error) {
	switch s {
	case vFalse:
		return false, nil
	case vTrue:
		return true, nil
	default:
		return false, fmt.Errorf("must be %s or %s, got %q", vFalse, vTrue, s)
	}
}

func parseLogLevel(s string) (buslog.LogLevel, error) {
	var mask buslog.LogLevel
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "":
		case "error":
			mask |= buslog.Error
		case "info":
			mask |= buslog.Info | buslog.Error
		case "debug":
			mask |= buslog.Debug | buslog.Info | buslog.Error
		case "trace-usb":
			mask |= buslog.TraceUSB | buslog.Debug | buslog.Info | buslog.Error
		case "all":
			mask |= buslog.All
		default:
			return 0, fmt.Errorf("invalid log level %q", tok)
		}
	}
	return mask, nil
}
