// Package device owns per-device state of the offload runtime: capability
// descriptors, offload entry tables and the kernel records that entries
// refer to. It also loads device images onto a device.
package device

import (
	"errors"
	"fmt"

	"github.com/samcharles93/offload/internal/accel"
)

var (
	ErrInit             = errors.New("device: accelerator runtime failed to initialize")
	ErrClosed           = errors.New("device: registry closed")
	ErrInvalidDevice    = errors.New("device: invalid device id")
	ErrInvalidKernel    = errors.New("device: invalid kernel handle")
	ErrUnsupportedImage = errors.New("device: unsupported image")
	ErrRegisterModule   = errors.New("device: module registration failed")
	ErrSizeMismatch     = errors.New("device: symbol size mismatch")
	ErrBadExecMode      = errors.New("device: invalid execution mode")
)

// Static limits and defaults.
const (
	// TeamsAbsoluteLimit bounds groups per device.
	TeamsAbsoluteLimit = 512
	// ThreadsAbsoluteLimit bounds threads per group.
	ThreadsAbsoluteLimit = 1024
	DefaultWavefrontSize = 64
	DefaultNumTeams      = 128
	DefaultNumThreads    = 128

	// GPUImplID identifies the GPU implementation attached to a launch handle.
	GPUImplID = 42
)

// ExecMode is how a kernel's work-items run its body.
type ExecMode int8

const (
	// SPMD: every work-item runs the body.
	SPMD ExecMode = 0
	// Generic: one wavefront per group coordinates the rest.
	Generic ExecMode = 1
)

func (m ExecMode) String() string {
	switch m {
	case SPMD:
		return "spmd"
	case Generic:
		return "generic"
	default:
		return fmt.Sprintf("exec_mode(%d)", int8(m))
	}
}

// ParseExecMode accepts "spmd" or "generic".
func ParseExecMode(s string) (ExecMode, error) {
	switch s {
	case "spmd", "SPMD":
		return SPMD, nil
	case "generic", "GENERIC":
		return Generic, nil
	default:
		return 0, fmt.Errorf("unknown execution mode %q (expected spmd or generic)", s)
	}
}

// Descriptor holds the capabilities and launch defaults of one device.
type Descriptor struct {
	ID int `json:"id"`
	// GroupsPerDevice is the maximum group count for a launch.
	GroupsPerDevice int `json:"groups_per_device"`
	// ThreadsPerGroup is the maximum group size.
	ThreadsPerGroup int `json:"threads_per_group"`
	WavefrontSize   int `json:"wavefront_size"`
	// NumTeams and NumThreads are used when a launch requests neither.
	NumTeams   int `json:"num_teams"`
	NumThreads int `json:"num_threads"`
}

// Kernel is the record behind a kernel entry.
type Kernel struct {
	Name string
	Mode ExecMode
}

// KernelHandle refers to a Kernel owned by a Registry. The zero value is
// never valid, and handles from one registry are rejected by another.
type KernelHandle struct {
	gen uint32
	idx uint32
}

func (h KernelHandle) Valid() bool {
	return h.idx != 0
}

func (h KernelHandle) String() string {
	return fmt.Sprintf("kernel#%d.%d", h.gen, h.idx)
}

type EntryKind int

const (
	// EntryMarker is a host-only entry copied through without resolution.
	EntryMarker EntryKind = iota
	EntryGlobal
	EntryKernel
)

func (k EntryKind) String() string {
	switch k {
	case EntryMarker:
		return "marker"
	case EntryGlobal:
		return "global"
	case EntryKernel:
		return "kernel"
	default:
		return fmt.Sprintf("entry_kind(%d)", int(k))
	}
}

// Entry is one resolved offload entry.
type Entry struct {
	Name     string
	Kind     EntryKind
	Size     uint64
	Flags    int32
	HostAddr uintptr
	// Addr is the device address of a global.
	Addr accel.DevicePtr
	// Kernel is set for kernel entries.
	Kernel KernelHandle
}

// Table is a view of a device's entries. It is invalidated by the next
// load or clear for that device.
type Table struct {
	Device  int
	Entries []Entry
}

func (t Table) Empty() bool {
	return len(t.Entries) == 0
}

func (t Table) Len() int {
	return len(t.Entries)
}
