// Package config holds the runtime's environment overrides and the optional
// config file used by the command line tools.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvTeamLimit   = "OMP_TEAM_LIMIT"
	EnvNumTeams    = "OMP_NUM_TEAMS"
	EnvDeviceDebug = "DEVICE_DEBUG"
	EnvDebug       = "LIBOMPTARGET_DEBUG"
)

// Unset marks an integer override that was absent or unparseable.
const Unset = -1

// Env is the set of process-wide overrides read once at registry start.
type Env struct {
	// TeamLimit caps the number of groups per device.
	TeamLimit int
	// NumTeams replaces the compiled default team count when positive.
	NumTeams int
	// DeviceDebug asks for the debug flag in the device environment.
	DeviceDebug bool
}

// DefaultEnv has every override unset.
func DefaultEnv() Env {
	return Env{TeamLimit: Unset, NumTeams: Unset}
}

// FromEnviron reads overrides through getenv. A nil getenv uses os.Getenv.
func FromEnviron(getenv func(string) string) Env {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Env{
		TeamLimit:   parseInt(getenv(EnvTeamLimit)),
		NumTeams:    parseInt(getenv(EnvNumTeams)),
		DeviceDebug: getenv(EnvDeviceDebug) != "",
	}
}

func parseInt(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return Unset
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return Unset
	}
	return v
}

// DebugLevel returns the LIBOMPTARGET_DEBUG verbosity, zero when disabled.
func DebugLevel(getenv func(string) string) int {
	if getenv == nil {
		getenv = os.Getenv
	}
	v := parseInt(getenv(EnvDebug))
	if v < 0 {
		return 0
	}
	return v
}

// File is the config file (~/.config/offload/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type File struct {
	Backend   string `yaml:"backend"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	TeamLimit   *int  `yaml:"team_limit"`
	NumTeams    *int  `yaml:"num_teams"`
	DeviceDebug *bool `yaml:"device_debug"`

	ServerAddress string `yaml:"server_address"`

	// Sim shapes the simulated backend.
	Sim *SimDevices `yaml:"sim"`
}

type SimDevices struct {
	Count           int    `yaml:"count"`
	ComputeUnits    uint32 `yaml:"compute_units"`
	WorkgroupMaxDim uint16 `yaml:"workgroup_max_dim"`
	WavefrontSize   uint32 `yaml:"wavefront_size"`
}

func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "offload", "config.yaml")
}

// Load reads the config file at path. A missing or unreadable file yields a
// zero File.
func Load(path string) File {
	if path == "" {
		return File{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}
	}
	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}
	}
	return cfg
}

// Merge layers env over the file: values present in the environment win,
// file values fill the rest.
func (f File) Merge(env Env) Env {
	out := env
	if out.TeamLimit == Unset && f.TeamLimit != nil {
		out.TeamLimit = *f.TeamLimit
	}
	if out.NumTeams == Unset && f.NumTeams != nil {
		out.NumTeams = *f.NumTeams
	}
	if !out.DeviceDebug && f.DeviceDebug != nil {
		out.DeviceDebug = *f.DeviceDebug
	}
	return out
}
