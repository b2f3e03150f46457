package device

import (
	"fmt"

	"github.com/samcharles93/offload/internal/accel"
)

// DataAlloc reserves size bytes on the device.
func (r *Registry) DataAlloc(id int, size int64) (accel.DevicePtr, error) {
	if err := r.check(id); err != nil {
		return 0, err
	}
	ptr, err := r.rt.Malloc(id, size)
	if err != nil {
		r.log.Debug("device allocation failed", "device", id, "size", size, "err", err)
		return 0, fmt.Errorf("device: alloc %d bytes on device %d: %w", size, id, err)
	}
	r.log.Debug("device allocation", "device", id, "size", size, "ptr", uint64(ptr))
	return ptr, nil
}

// DataSubmit copies src to device memory at dst.
func (r *Registry) DataSubmit(id int, dst accel.DevicePtr, src []byte) error {
	if err := r.check(id); err != nil {
		return err
	}
	if err := r.rt.CopyToDevice(dst, src); err != nil {
		return fmt.Errorf("device: submit %d bytes: %w", len(src), err)
	}
	return nil
}

// DataRetrieve copies len(dst) bytes of device memory at src into dst.
func (r *Registry) DataRetrieve(id int, dst []byte, src accel.DevicePtr) error {
	if err := r.check(id); err != nil {
		return err
	}
	if err := r.rt.CopyFromDevice(dst, src); err != nil {
		return fmt.Errorf("device: retrieve %d bytes: %w", len(dst), err)
	}
	return nil
}

// DataDelete frees device memory.
func (r *Registry) DataDelete(id int, ptr accel.DevicePtr) error {
	if err := r.check(id); err != nil {
		return err
	}
	if err := r.rt.Free(ptr); err != nil {
		return fmt.Errorf("device: free: %w", err)
	}
	return nil
}
