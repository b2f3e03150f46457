// Package backend selects the accelerator runtime the offload layer drives.
package backend

import (
	"fmt"
	"strings"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/accel/sim"
	"github.com/samcharles93/offload/internal/config"
)

const (
	Sim  = "sim"
	ATMI = "atmi"
	Auto = "auto"
)

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, ATMI, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or atmi)", backend)
	}
}

// Options configures the runtimes that need it.
type Options struct {
	Sim sim.Options
}

// Open returns the runtime for name along with the resolved backend name.
// Auto prefers hardware when this build supports it.
func Open(name string, opts Options) (accel.Runtime, string, error) {
	backend, err := Normalize(name)
	if err != nil {
		return nil, "", err
	}
	if backend == Auto {
		backend = Sim
		if Has(ATMI) {
			backend = ATMI
		}
	}
	switch backend {
	case ATMI:
		rt, err := newATMI()
		if err != nil {
			return nil, "", err
		}
		return rt, ATMI, nil
	default:
		return sim.New(opts.Sim), Sim, nil
	}
}

// SimOptions shapes the simulated devices from the config file. A nil cfg
// yields one default device.
func SimOptions(cfg *config.SimDevices) sim.Options {
	if cfg == nil {
		return sim.Options{}
	}
	spec := sim.DefaultDevice()
	if cfg.ComputeUnits > 0 {
		spec.ComputeUnits = cfg.ComputeUnits
	}
	if cfg.WorkgroupMaxDim > 0 {
		spec.WorkgroupMaxDim = cfg.WorkgroupMaxDim
	}
	if cfg.WavefrontSize > 0 {
		spec.WavefrontSize = cfg.WavefrontSize
	}
	count := max(cfg.Count, 1)
	devices := make([]sim.DeviceSpec, count)
	for i := range devices {
		devices[i] = spec
	}
	return sim.Options{Devices: devices}
}
