// Package accel describes the vendor accelerator stack the offload runtime
// drives: device enumeration, attribute queries, module registration,
// symbol lookup, device memory and synchronous kernel launch.
package accel

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("accel: runtime not initialized")
	ErrInvalidDevice  = errors.New("accel: invalid device")
	ErrSymbolNotFound = errors.New("accel: symbol not found")
)

// DevicePtr is an address in device memory.
type DevicePtr uint64

// Platform selects how a registered module is consumed by the runtime.
type Platform int

const (
	// PlatformAMDGCN is native GPU ISA, loaded directly.
	PlatformAMDGCN Platform = iota
	// PlatformBRIG is the legacy HSAIL intermediate form that needs finalization.
	PlatformBRIG
)

func (p Platform) String() string {
	switch p {
	case PlatformAMDGCN:
		return "amdgcn"
	case PlatformBRIG:
		return "brig"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// Attribute is a device capability that can be queried per device.
type Attribute int

const (
	AttrComputeUnitCount Attribute = iota
	AttrWorkgroupMaxDimX
	AttrWavefrontSize
)

func (a Attribute) String() string {
	switch a {
	case AttrComputeUnitCount:
		return "compute_unit_count"
	case AttrWorkgroupMaxDimX:
		return "workgroup_max_dim_x"
	case AttrWavefrontSize:
		return "wavefront_size"
	default:
		return fmt.Sprintf("attribute(%d)", int(a))
	}
}

// LaunchParams carries the geometry and placement of one kernel launch.
// 1-D launches only use index 0 of GridDim and GroupDim.
type LaunchParams struct {
	Device      int
	GridDim     [3]uint64
	GroupDim    [3]uint64
	Synchronous bool
	Groupable   bool
	KernelID    int
}

// Kernel is a transient launch handle sized to one call's argument list.
type Kernel interface {
	AddGPUImpl(name string, id int) error
	Launch(p LaunchParams, args []uint64) error
	Release() error
}

// Runtime is the accelerator execution stack.
type Runtime interface {
	Init() error
	Finalize() error
	DeviceCount() int
	DeviceInfo(device int, attr Attribute) (uint32, error)

	RegisterModule(image []byte, platform Platform) error
	// SymbolInfo resolves a device symbol to its address and size in bytes.
	// Missing symbols report ErrSymbolNotFound.
	SymbolInfo(device int, name string) (DevicePtr, uint32, error)

	Malloc(device int, size int64) (DevicePtr, error)
	Free(ptr DevicePtr) error
	CopyToDevice(dst DevicePtr, src []byte) error
	CopyFromDevice(dst []byte, src DevicePtr) error

	CreateKernel(argSizes []uintptr) (Kernel, error)
}
