package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"strings"
)

type KernelInfo struct {
	Name string `json:"name" yaml:"name"`
	// ExecMode is the raw companion byte, nil when the image has none.
	ExecMode *uint8 `json:"exec_mode,omitempty" yaml:"exec_mode,omitempty"`
}

type GlobalInfo struct {
	Name string `json:"name" yaml:"name"`
	Size uint64 `json:"size" yaml:"size"`
}

// Info summarizes a device image.
type Info struct {
	Machine       uint16       `json:"machine" yaml:"machine"`
	MachineName   string       `json:"machine_name" yaml:"machine_name"`
	Class         string       `json:"class" yaml:"class"`
	Platform      string       `json:"platform" yaml:"platform"`
	Kernels       []KernelInfo `json:"kernels" yaml:"kernels"`
	Globals       []GlobalInfo `json:"globals" yaml:"globals"`
	DeviceEnvSize uint64       `json:"device_env_size,omitempty" yaml:"device_env_size,omitempty"`
}

// Inspect validates img and lists its kernels and globals.
func Inspect(img []byte) (*Info, error) {
	platform, machine, err := Platform(img)
	if err != nil {
		return nil, err
	}
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer func() { _ = f.Close() }()

	info := &Info{
		Machine:     uint16(machine),
		MachineName: machineName(machine),
		Class:       f.Class.String(),
		Platform:    platform.String(),
	}

	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return info, nil
		}
		return nil, fmt.Errorf("image: read symbols: %w", err)
	}

	modes := make(map[string]uint8)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_OBJECT || !strings.HasSuffix(s.Name, ExecModeSuffix) {
			continue
		}
		data, err := symbolBytes(f, s)
		if err != nil || len(data) != 1 {
			continue
		}
		modes[strings.TrimSuffix(s.Name, ExecModeSuffix)] = data[0]
	}

	for _, s := range syms {
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			k := KernelInfo{Name: s.Name}
			if m, ok := modes[s.Name]; ok {
				k.ExecMode = &m
			}
			info.Kernels = append(info.Kernels, k)
		case elf.STT_OBJECT:
			switch {
			case s.Name == DeviceEnvSymbol:
				info.DeviceEnvSize = s.Size
			case strings.HasSuffix(s.Name, ExecModeSuffix):
			default:
				info.Globals = append(info.Globals, GlobalInfo{Name: s.Name, Size: s.Size})
			}
		}
	}
	return info, nil
}

func symbolBytes(f *elf.File, s elf.Symbol) ([]byte, error) {
	if s.Section == elf.SHN_UNDEF || int(s.Section) >= len(f.Sections) {
		return nil, fmt.Errorf("image: symbol %s has no section", s.Name)
	}
	sec := f.Sections[s.Section]
	data, err := sec.Data()
	if err != nil {
		return nil, err
	}
	if s.Value < sec.Addr || s.Value-sec.Addr+s.Size > uint64(len(data)) {
		return nil, fmt.Errorf("image: symbol %s outside section %s", s.Name, sec.Name)
	}
	start := s.Value - sec.Addr
	return data[start : start+s.Size], nil
}

func machineName(m elf.Machine) string {
	switch m {
	case MachineLegacyBRIG:
		return "brig (HSA 1.0P)"
	case MachineHSAIL:
		return "hsail"
	case MachineHSAIL64:
		return "hsail64"
	default:
		return m.String()
	}
}
