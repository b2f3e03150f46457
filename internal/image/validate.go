// Package image inspects device binary images and models the host entry
// list that accompanies them.
package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"

	"github.com/samcharles93/offload/internal/accel"
)

var (
	ErrNotELF             = errors.New("image: not an ELF object")
	ErrAmbiguousHeader    = errors.New("image: ambiguous ELF header")
	ErrUnsupportedMachine = errors.New("image: unsupported machine id")
)

// Machine ids accepted by the runtime.
const (
	// MachineLegacyBRIG is the HSA 1.0P BRIG container, which carries no machine id.
	MachineLegacyBRIG elf.Machine = 0
	MachineHSAIL      elf.Machine = 44890
	MachineHSAIL64    elf.Machine = 44891
	MachineAMDGCN                 = elf.EM_AMDGPU
)

// MachineID reads the target machine of an ELF image.
func MachineID(img []byte) (elf.Machine, error) {
	if len(img) < len(elf.ELFMAG) || !bytes.HasPrefix(img, []byte(elf.ELFMAG)) {
		return 0, ErrNotELF
	}
	f, err := elf.NewFile(bytes.NewReader(img))
	if err != nil {
		if len(img) > elf.EI_CLASS {
			switch elf.Class(img[elf.EI_CLASS]) {
			case elf.ELFCLASS32, elf.ELFCLASS64:
			default:
				return 0, fmt.Errorf("%w: class %d", ErrAmbiguousHeader, img[elf.EI_CLASS])
			}
		}
		return 0, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	defer func() { _ = f.Close() }()

	switch f.Class {
	case elf.ELFCLASS32, elf.ELFCLASS64:
		return f.Machine, nil
	default:
		return 0, ErrAmbiguousHeader
	}
}

// PlatformFor maps a machine id to the loading path it needs: legacy
// intermediate forms go through translation, native ISA loads directly.
func PlatformFor(m elf.Machine) (accel.Platform, error) {
	switch m {
	case MachineLegacyBRIG, MachineHSAIL, MachineHSAIL64:
		return accel.PlatformBRIG, nil
	case MachineAMDGCN:
		return accel.PlatformAMDGCN, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedMachine, uint16(m))
	}
}

// Platform validates img and returns its loading path.
func Platform(img []byte) (accel.Platform, elf.Machine, error) {
	m, err := MachineID(img)
	if err != nil {
		return 0, 0, err
	}
	p, err := PlatformFor(m)
	if err != nil {
		return 0, m, err
	}
	return p, m, nil
}

// IsValid reports whether img is an ELF object for a supported machine.
func IsValid(img []byte) bool {
	_, _, err := Platform(img)
	return err == nil
}
