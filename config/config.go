// Package config loads reprotest's settings: where to keep its run store,
// which testbed backends to search for, and the defaults the CLI falls back
// to when flags are not given.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/ini.v1"
)

// Config holds all reprotest configuration.
type Config struct {
	// Paths
	ConfigPath   string
	StorePath    string // where control/experiment-N trees and diffs are kept
	TestbedPath  string // search path for external testbed-driver executables
	DiffoscopePath string

	// Defaults applied when not overridden on the command line
	DefaultVariations string // e.g. "+all"
	DefaultTestbed     string // "null" or a named backend
	DiffoscopeArgs     []string

	// Behavior
	Debug      bool
	KeepStore  bool // don't clean up store dir after a successful run
	YesAll     bool

	// Profile
	Profile string
}

// LoadConfig loads configuration from an INI file in configDir (reprotest.ini),
// falling back to built-in defaults for anything unset.
func LoadConfig(configDir string, profile string) (*Config, error) {
	cfg := &Config{
		Profile:            profile,
		StorePath:          "/var/lib/reprotest",
		TestbedPath:        "/usr/libexec/reprotest:/usr/local/libexec/reprotest",
		DefaultVariations:  "+all",
		DefaultTestbed:     "null",
		DiffoscopePath:     "diffoscope",
	}

	if configDir == "" {
		if _, err := os.Stat("/etc/reprotest"); err == nil {
			configDir = "/etc/reprotest"
		} else if _, err := os.Stat("/usr/local/etc/reprotest"); err == nil {
			configDir = "/usr/local/etc/reprotest"
		} else {
			configDir = "/etc/reprotest"
		}
	}
	cfg.ConfigPath = configDir

	configFile := filepath.Join(configDir, "reprotest.ini")
	if _, err := os.Stat(configFile); err == nil {
		if err := cfg.parseINI(configFile); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	return cfg, nil
}

// parseINI parses an INI-format configuration file with gopkg.in/ini.v1.
// A named section whose name doesn't match the requested profile is
// skipped; keys in the unnamed default section and the "Global
// Configuration" section always apply.
func (cfg *Config) parseINI(filename string) error {
	f, err := ini.Load(filename)
	if err != nil {
		return err
	}

	for _, section := range f.Sections() {
		name := strings.ToLower(section.Name())
		if name == "global configuration" {
			name = ""
		}
		if name != "" && name != strings.ToLower(ini.DefaultSection) && cfg.Profile != "" && name != strings.ToLower(cfg.Profile) {
			continue
		}
		for _, key := range section.Keys() {
			cfg.setConfigValue(key.Name(), strings.Trim(key.Value(), "\"'"))
		}
	}
	return nil
}

func (cfg *Config) setConfigValue(key, value string) {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, " ", "")

	switch key {
	case "storepath", "directorystore":
		cfg.StorePath = value
	case "testbedpath", "directorytestbed":
		cfg.TestbedPath = value
	case "diffoscopepath":
		cfg.DiffoscopePath = value
	case "diffoscopeargs":
		cfg.DiffoscopeArgs = strings.Fields(value)
	case "defaultvariations", "variations":
		cfg.DefaultVariations = value
	case "defaulttestbed", "testbed":
		cfg.DefaultTestbed = value
	case "debug":
		cfg.Debug = parseBool(value)
	case "keepstore":
		cfg.KeepStore = parseBool(value)
	case "yesall":
		cfg.YesAll = parseBool(value)
	}
}

func parseBool(value string) bool {
	value = strings.ToLower(value)
	return value == "yes" || value == "true" || value == "1" || value == "on"
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(filename string, cfg *Config) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	fmt.Fprintln(file, "# reprotest configuration file")
	fmt.Fprintln(file, "")
	fmt.Fprintln(file, "[Global Configuration]")
	fmt.Fprintln(file, "")
	fmt.Fprintf(file, "Store_path=%s\n", cfg.StorePath)
	fmt.Fprintf(file, "Testbed_path=%s\n", cfg.TestbedPath)
	fmt.Fprintf(file, "Diffoscope_path=%s\n", cfg.DiffoscopePath)
	fmt.Fprintf(file, "Default_variations=%s\n", cfg.DefaultVariations)
	fmt.Fprintf(file, "Default_testbed=%s\n", cfg.DefaultTestbed)
	fmt.Fprintln(file, "")
	fmt.Fprintf(file, "Debug=%v\n", cfg.Debug)
	fmt.Fprintf(file, "Keep_store=%v\n", cfg.KeepStore)

	return nil
}

// Validate checks configuration validity, creating the store path if needed.
func (cfg *Config) Validate() error {
	if cfg.StorePath == "" {
		return fmt.Errorf("StorePath is not configured")
	}

	info, err := os.Stat(cfg.StorePath)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.StorePath, 0755); err != nil {
				return fmt.Errorf("store directory %s cannot be created: %w", cfg.StorePath, err)
			}
		} else {
			return fmt.Errorf("store directory %s: %w", cfg.StorePath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", cfg.StorePath)
	}

	return nil
}

// GetSystemInfo returns the host's kernel name, release, and architecture, as
// reported by uname(2), plus the number of CPUs.
func GetSystemInfo() (osname, osversion, arch string, ncpus int) {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err == nil {
		osname = string(utsname.Sysname[:])
		osversion = string(utsname.Release[:])
		arch = string(utsname.Machine[:])
		osname = strings.TrimRight(osname, "\x00")
		osversion = strings.TrimRight(osversion, "\x00")
		arch = strings.TrimRight(arch, "\x00")
	}

	ncpus = runtime.NumCPU()

	return
}
