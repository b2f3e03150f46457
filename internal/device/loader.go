package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/image"
	"github.com/samcharles93/offload/internal/logger"
)

// deviceEnv is written to image.DeviceEnvSymbol after a load.
type deviceEnv struct {
	NumDevices int32
	DeviceNum  int32
	DebugMode  int32
}

const deviceEnvSize = 12

// LoadBinary registers img with the runtime and rebuilds the device's entry
// table from the host entries. Any previous table for the device is dropped
// first, so a failed load leaves the table empty.
func (r *Registry) LoadBinary(id int, img image.DeviceImage) (Table, error) {
	if err := r.ClearOffloadEntriesTable(id); err != nil {
		return Table{}, err
	}
	log := r.log.With("device", id)

	platform, machine, err := image.Platform(img.Bytes)
	if err != nil {
		log.Debug("unsupported device image", "err", err)
		return Table{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	log.Debug("machine id found", "machine", uint16(machine), "platform", platform)

	if err := r.registerModule(img.Bytes, platform); err != nil {
		log.Error("module registration failed", "err", err)
		return Table{}, err
	}
	log.Debug("module registered", "bytes", len(img.Bytes))

	if err := r.loadEntries(log, id, img.Entries); err != nil {
		r.tables[id] = nil
		return Table{}, err
	}
	if err := r.writeDeviceEnv(log, id); err != nil {
		r.tables[id] = nil
		return Table{}, err
	}
	return r.OffloadEntriesTable(id)
}

// registerModule hands the runtime a private copy of the image, scrubbed once
// registration returns.
func (r *Registry) registerModule(src []byte, platform accel.Platform) error {
	buf := bytes.Clone(src)
	defer clear(buf)
	if err := r.rt.RegisterModule(buf, platform); err != nil {
		return fmt.Errorf("%w: %v", ErrRegisterModule, err)
	}
	return nil
}

func (r *Registry) loadEntries(log logger.Logger, id int, entries []image.HostEntry) error {
	for _, he := range entries {
		switch {
		case he.Marker():
			log.Debug("passing through host-only entry", "name", he.Name, "size", he.Size)
			r.tables[id] = append(r.tables[id], Entry{
				Name:  he.Name,
				Kind:  EntryMarker,
				Size:  he.Size,
				Flags: he.Flags,
			})

		case he.Size > 0:
			ptr, size, err := r.rt.SymbolInfo(id, he.Name)
			if err != nil {
				log.Debug("loading global failed", "name", he.Name, "err", err)
				return fmt.Errorf("device: global %q: %w", he.Name, err)
			}
			if uint64(size) != he.Size {
				log.Debug("global size mismatch", "name", he.Name, "device", size, "host", he.Size)
				return fmt.Errorf("%w: global %q is %d bytes on device, %d on host", ErrSizeMismatch, he.Name, size, he.Size)
			}
			log.Debug("entry point maps to global", "name", he.Name, "addr", uint64(ptr))
			r.tables[id] = append(r.tables[id], Entry{
				Name:     he.Name,
				Kind:     EntryGlobal,
				Size:     he.Size,
				Flags:    he.Flags,
				HostAddr: he.Addr,
				Addr:     ptr,
			})

		default:
			mode, err := r.execMode(log, id, he.Name)
			if err != nil {
				return err
			}
			h := r.addKernel(Kernel{Name: strings.Clone(he.Name), Mode: mode})
			log.Debug("entry point maps to kernel", "name", he.Name, "mode", mode, "handle", h)
			r.tables[id] = append(r.tables[id], Entry{
				Name:     he.Name,
				Kind:     EntryKernel,
				Flags:    he.Flags,
				HostAddr: he.Addr,
				Kernel:   h,
			})
		}
	}
	return nil
}

// execMode reads the kernel's one-byte execution mode companion. A kernel
// without one runs SPMD.
func (r *Registry) execMode(log logger.Logger, id int, kernel string) (ExecMode, error) {
	name := kernel + image.ExecModeSuffix
	ptr, size, err := r.rt.SymbolInfo(id, name)
	if err != nil {
		log.Debug("no execution mode symbol, assuming spmd", "symbol", name, "err", err)
		return SPMD, nil
	}
	if size != 1 {
		return 0, fmt.Errorf("%w: %s is %d bytes, expected 1", ErrSizeMismatch, name, size)
	}
	var b [1]byte
	if err := r.rt.CopyFromDevice(b[:], ptr); err != nil {
		return 0, fmt.Errorf("device: read %s: %w", name, err)
	}
	switch ExecMode(b[0]) {
	case SPMD, Generic:
		return ExecMode(b[0]), nil
	default:
		return 0, fmt.Errorf("%w: %s = %d", ErrBadExecMode, name, b[0])
	}
}

// writeDeviceEnv initializes the device environment global when the image
// declares one.
func (r *Registry) writeDeviceEnv(log logger.Logger, id int) error {
	ptr, size, err := r.rt.SymbolInfo(id, image.DeviceEnvSymbol)
	if errors.Is(err, accel.ErrSymbolNotFound) {
		log.Debug("image has no device environment", "symbol", image.DeviceEnvSymbol)
		return nil
	}
	if err != nil {
		return fmt.Errorf("device: %s: %w", image.DeviceEnvSymbol, err)
	}
	if size != deviceEnvSize {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", ErrSizeMismatch, image.DeviceEnvSymbol, size, deviceEnvSize)
	}

	env := deviceEnv{
		NumDevices: int32(len(r.devices)),
		DeviceNum:  int32(id),
	}
	if r.env.DeviceDebug {
		env.DebugMode = 1
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, env); err != nil {
		return err
	}
	if err := r.rt.CopyToDevice(ptr, buf.Bytes()); err != nil {
		return fmt.Errorf("device: write %s: %w", image.DeviceEnvSymbol, err)
	}
	log.Debug("device environment written", "num_devices", env.NumDevices, "debug", env.DebugMode)
	return nil
}
