package launch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/samcharles93/offload/internal/accel"
)

var (
	ErrNoArgs  = errors.New("launch: kernel needs at least one argument slot")
	ErrArgSize = errors.New("launch: argument is not pointer sized")
)

const (
	// PointerSize is the size of every argument slot but the last.
	PointerSize = unsafe.Sizeof(uintptr(0))
	// SentinelSize is the size of the trailing slot the host appends.
	SentinelSize = unsafe.Sizeof(int32(0))
)

// Arg is one kernel argument.
type Arg struct {
	Value uint64
	Size  uintptr
}

// Pointer is a device pointer argument.
func Pointer(p accel.DevicePtr) Arg {
	return Arg{Value: uint64(p), Size: PointerSize}
}

// Pointers wraps every pointer as an argument.
func Pointers(ptrs []accel.DevicePtr) []Arg {
	out := make([]Arg, len(ptrs))
	for i, p := range ptrs {
		out[i] = Pointer(p)
	}
	return out
}

// Marshal checks args and lays them out for the accelerator: one value per
// slot, every slot pointer sized except the last.
func Marshal(args []Arg) ([]uint64, []uintptr, error) {
	if len(args) == 0 {
		return nil, nil, ErrNoArgs
	}
	vals := make([]uint64, len(args))
	sizes := make([]uintptr, len(args))
	for i, a := range args {
		if a.Size != PointerSize {
			return nil, nil, fmt.Errorf("%w: arg %d is %d bytes", ErrArgSize, i, a.Size)
		}
		vals[i] = a.Value
		sizes[i] = PointerSize
	}
	sizes[len(sizes)-1] = SentinelSize
	return vals, sizes, nil
}
