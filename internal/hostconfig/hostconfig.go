// Package hostconfig loads the host's link roster and runtime flags: which
// serial ports to open, at what baud, and how the diagnostics sink should
// be configured. It plays the role the teacher's config.go/deviceid.go
// pair played for Dire Wolf channel configuration, generalized from an
// INI-style audio-channel file to a YAML link roster and pflag flag set.
package hostconfig

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// LinkConfig describes one serial link to an MCU.
type LinkConfig struct {
	// Name identifies the link in logs and in host.Host's link map.
	Name string `yaml:"name"`
	// Device is the serial device path, e.g. /dev/ttyUSB0.
	Device string `yaml:"device"`
	// Baud is the serial speed; 0 leaves the port's current speed alone.
	Baud int `yaml:"baud"`
	// Capacity is the scheduler queue capacity (free+normal+priority).
	Capacity int `yaml:"capacity"`
	// LittleEndian selects payload byte order for this link; defaults to
	// true (matching spec.md's "little-endian default").
	LittleEndian *bool `yaml:"little_endian"`
}

// Roster is the top-level YAML document: a named set of links plus
// diagnostics settings shared across all of them.
type Roster struct {
	Links       []LinkConfig      `yaml:"links"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// DiagnosticsConfig configures the shared diagnostics.Logger.
type DiagnosticsConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// LoadRoster reads and validates a YAML roster file.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: read %s: %w", path, err)
	}

	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("hostconfig: parse %s: %w", path, err)
	}

	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("hostconfig: %s: %w", path, err)
	}

	return &r, nil
}

func (r *Roster) validate() error {
	if len(r.Links) == 0 {
		return fmt.Errorf("roster has no links")
	}
	seen := make(map[string]bool, len(r.Links))
	for i := range r.Links {
		l := &r.Links[i]
		if l.Name == "" {
			return fmt.Errorf("link %d: name is required", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("link %d: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true
		if l.Device == "" {
			return fmt.Errorf("link %q: device is required", l.Name)
		}
		if l.Capacity <= 0 {
			l.Capacity = 16
		}
		if l.LittleEndian == nil {
			t := true
			l.LittleEndian = &t
		}
	}
	return nil
}

// Flags are the process-wide CLI options, parsed with pflag the way the
// teacher's main.go parses its channel and debug flags.
type Flags struct {
	RosterFile string
	LogDir     string
	Verbose    bool
}

// ParseFlags registers and parses the standard flag set against args
// (pass nil to use os.Args[1:]).
func ParseFlags(args []string) (*Flags, error) {
	fs := pflag.NewFlagSet("hostbench", pflag.ContinueOnError)

	rosterFile := fs.StringP("roster", "r", "roster.yaml", "Link roster YAML file.")
	logDir := fs.StringP("log-dir", "l", "", "Directory for rotating diagnostic log files.")
	verbose := fs.BoolP("verbose", "v", false, "Set the verbose flag (console log output is the same with or without it).")

	if err := fs.Parse(argsOrOSArgs(args)); err != nil {
		return nil, err
	}

	return &Flags{
		RosterFile: *rosterFile,
		LogDir:     *logDir,
		Verbose:    *verbose,
	}, nil
}

func argsOrOSArgs(args []string) []string {
	if args != nil {
		return args
	}
	return os.Args[1:]
}
