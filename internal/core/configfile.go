package core

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/microscope-data/scope.report/internal/monitoring"
)

// ConfigDevice is one Device line from a system configuration file: a
// device label bound to an adapter module and device name.
type ConfigDevice struct {
	Label  string
	Module string
	Name   string
}

// ConfigProperty is one Property line: a value assignment for a device
// property.
type ConfigProperty struct {
	Device   string
	Property string
	Value    string
}

// SystemConfig is the parsed contents of a system configuration file.
type SystemConfig struct {
	Devices    []ConfigDevice
	Properties []ConfigProperty
}

// ParseConfigFile reads a comma-separated system configuration file.
// Recognized commands are "Device" and "Property"; blank lines and lines
// starting with '#' are skipped. Malformed or unrecognized lines are logged
// and skipped rather than failing the whole file.
func ParseConfigFile(path string) (*SystemConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open system configuration: %w", err)
	}
	defer f.Close()

	cfg := &SystemConfig{}
	sc := bufio.NewScanner(f)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		switch fields[0] {
		case "Device":
			if len(fields) != 4 {
				monitoring.Logf("core: %s:%d: malformed Device line %q", path, lineno, line)
				continue
			}
			cfg.Devices = append(cfg.Devices, ConfigDevice{
				Label:  fields[1],
				Module: fields[2],
				Name:   fields[3],
			})
		case "Property":
			if len(fields) != 4 {
				monitoring.Logf("core: %s:%d: malformed Property line %q", path, lineno, line)
				continue
			}
			cfg.Properties = append(cfg.Properties, ConfigProperty{
				Device:   fields[1],
				Property: fields[2],
				Value:    fields[3],
			})
		default:
			monitoring.Logf("core: %s:%d: unrecognized command %q", path, lineno, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read system configuration: %w", err)
	}
	return cfg, nil
}
