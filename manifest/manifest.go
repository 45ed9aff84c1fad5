// Package manifest handles plush.toml configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/plush/vm"
)

// FileName is the name of the configuration file.
const FileName = "plush.toml"

// Manifest represents a plush.toml configuration.
type Manifest struct {
	Project Project   `toml:"project"`
	VM      VMConfig  `toml:"vm"`
	Log     LogConfig `toml:"log"`
	REPL    REPL      `toml:"repl"`

	// Dir is the directory containing the plush.toml file (set at load time).
	// Empty when no file was found.
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// VMConfig tunes the virtual machine.
type VMConfig struct {
	GCThreshold   int `toml:"gc-threshold"`
	StackCapacity int `toml:"stack-capacity"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// REPL configures the interactive prompt.
type REPL struct {
	History string `toml:"history"`
}

// Default returns the configuration used when no plush.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.GCThreshold <= 0 {
		m.VM.GCThreshold = vm.DefaultGCThreshold
	}
	if m.VM.StackCapacity <= 0 {
		m.VM.StackCapacity = 1024
	}
	if m.REPL.History == "" {
		m.REPL.History = ".plush_history"
	}
}

// Load parses a plush.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.Log.Path != "" && !filepath.IsAbs(m.Log.Path) {
		m.Log.Path = filepath.Join(m.Dir, m.Log.Path)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a plush.toml file, then loads
// and returns it. The defaults are returned if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// VMOptions converts the [vm] section into options for vm.New.
func (m *Manifest) VMOptions() vm.Options {
	return vm.Options{
		GCThreshold:   m.VM.GCThreshold,
		StackCapacity: m.VM.StackCapacity,
	}
}

// HistoryPath returns the REPL history file. Relative paths are resolved
// against the user's home directory.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.REPL.History) {
		return m.REPL.History
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, m.REPL.History)
}
