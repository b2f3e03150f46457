// Package sim is an in-process accelerator used when no hardware backend is
// compiled in. Modules are real ELF images: function symbols become
// launchable kernels and object symbols get device allocations initialised
// from their section contents. Kernel bodies are Go functions registered
// by name.
package sim

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/offload/internal/accel"
)

var (
	ErrBadAddress   = errors.New("sim: address outside device allocation")
	ErrNoSuchKernel = errors.New("sim: kernel not found in registered module")
	ErrReleased     = errors.New("sim: kernel handle released")
)

// DeviceSpec shapes one simulated device. Zero fields are reported as zero.
type DeviceSpec struct {
	ComputeUnits    uint32
	WorkgroupMaxDim uint16
	WavefrontSize   uint32
	// QueryErr, when set, fails every DeviceInfo query for the device.
	QueryErr error
}

// DefaultDevice mirrors a mid-range discrete GPU.
func DefaultDevice() DeviceSpec {
	return DeviceSpec{ComputeUnits: 60, WorkgroupMaxDim: 1024, WavefrontSize: 64}
}

type Options struct {
	Devices   []DeviceSpec
	InitErr   error
	LaunchErr error
}

// LaunchContext is handed to a kernel body.
type LaunchContext struct {
	Device          int
	Groups          uint64
	ThreadsPerGroup uint64
	Args            []uint64

	rt *Runtime
}

// Read copies n bytes of device memory at ptr.
func (c *LaunchContext) Read(ptr accel.DevicePtr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.rt.CopyFromDevice(buf, ptr); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write stores data into device memory at ptr.
func (c *LaunchContext) Write(ptr accel.DevicePtr, data []byte) error {
	return c.rt.CopyToDevice(ptr, data)
}

type KernelFunc func(ctx *LaunchContext) error

// Launch is a record of one submitted kernel.
type Launch struct {
	Name     string
	Params   accel.LaunchParams
	Args     []uint64
	ArgSizes []uintptr
}

type symbol struct {
	addr []accel.DevicePtr // per device
	size uint32
}

type allocation struct {
	device int
	data   []byte
}

type Runtime struct {
	mu          sync.Mutex
	opts        Options
	initialized bool
	finalized   bool

	platform  accel.Platform
	functions map[string]bool
	symbols   map[string]symbol

	mem  map[accel.DevicePtr]*allocation
	next accel.DevicePtr

	bodies   map[string]KernelFunc
	launches []Launch
}

const baseAddr accel.DevicePtr = 0x7f0000000000

func New(opts Options) *Runtime {
	if opts.Devices == nil {
		opts.Devices = []DeviceSpec{DefaultDevice()}
	}
	return &Runtime{
		opts:      opts,
		functions: make(map[string]bool),
		symbols:   make(map[string]symbol),
		mem:       make(map[accel.DevicePtr]*allocation),
		next:      baseAddr,
		bodies:    make(map[string]KernelFunc),
	}
}

func (r *Runtime) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.InitErr != nil {
		return r.opts.InitErr
	}
	r.initialized = true
	r.finalized = false
	return nil
}

func (r *Runtime) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return accel.ErrNotInitialized
	}
	r.initialized = false
	r.finalized = true
	return nil
}

// Finalized reports whether Finalize completed.
func (r *Runtime) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

func (r *Runtime) DeviceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return 0
	}
	return len(r.opts.Devices)
}

func (r *Runtime) DeviceInfo(device int, attr accel.Attribute) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDeviceLocked(device); err != nil {
		return 0, err
	}
	spec := r.opts.Devices[device]
	if spec.QueryErr != nil {
		return 0, spec.QueryErr
	}
	switch attr {
	case accel.AttrComputeUnitCount:
		return spec.ComputeUnits, nil
	case accel.AttrWorkgroupMaxDimX:
		return uint32(spec.WorkgroupMaxDim), nil
	case accel.AttrWavefrontSize:
		return spec.WavefrontSize, nil
	default:
		return 0, fmt.Errorf("sim: unsupported attribute %s", attr)
	}
}

func (r *Runtime) checkDeviceLocked(device int) error {
	if !r.initialized {
		return accel.ErrNotInitialized
	}
	if device < 0 || device >= len(r.opts.Devices) {
		return fmt.Errorf("%w: %d", accel.ErrInvalidDevice, device)
	}
	return nil
}

// RegisterModule replaces the loaded symbol set with the image's symbols.
func (r *Runtime) RegisterModule(image []byte, platform accel.Platform) error {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("sim: parse module: %w", err)
	}
	defer func() { _ = f.Close() }()

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return fmt.Errorf("sim: read symbols: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return accel.ErrNotInitialized
	}

	functions := make(map[string]bool)
	symbols := make(map[string]symbol)
	for _, s := range syms {
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC:
			functions[s.Name] = true
		case elf.STT_OBJECT:
			initial, err := symbolData(f, s)
			if err != nil {
				return err
			}
			sym := symbol{size: uint32(s.Size), addr: make([]accel.DevicePtr, len(r.opts.Devices))}
			for dev := range r.opts.Devices {
				ptr := r.allocLocked(dev, int64(s.Size))
				copy(r.mem[ptr].data, initial)
				sym.addr[dev] = ptr
			}
			symbols[s.Name] = sym
		}
	}

	r.platform = platform
	r.functions = functions
	r.symbols = symbols
	return nil
}

func symbolData(f *elf.File, s elf.Symbol) ([]byte, error) {
	if s.Section == elf.SHN_UNDEF || int(s.Section) >= len(f.Sections) {
		return nil, nil
	}
	sec := f.Sections[s.Section]
	if sec.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	data, err := sec.Data()
	if err != nil {
		return nil, fmt.Errorf("sim: read section %s: %w", sec.Name, err)
	}
	start := s.Value - sec.Addr
	end := start + s.Size
	if s.Value < sec.Addr || end > uint64(len(data)) {
		return nil, fmt.Errorf("sim: symbol %s outside section %s", s.Name, sec.Name)
	}
	return data[start:end], nil
}

// Platform reports the platform of the last registered module.
func (r *Runtime) Platform() accel.Platform {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.platform
}

func (r *Runtime) SymbolInfo(device int, name string) (accel.DevicePtr, uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDeviceLocked(device); err != nil {
		return 0, 0, err
	}
	sym, ok := r.symbols[name]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", accel.ErrSymbolNotFound, name)
	}
	return sym.addr[device], sym.size, nil
}

func (r *Runtime) Malloc(device int, size int64) (accel.DevicePtr, error) {
	if size < 0 {
		return 0, fmt.Errorf("sim: negative allocation size %d", size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkDeviceLocked(device); err != nil {
		return 0, err
	}
	return r.allocLocked(device, size), nil
}

func (r *Runtime) allocLocked(device int, size int64) accel.DevicePtr {
	ptr := r.next
	r.mem[ptr] = &allocation{device: device, data: make([]byte, size)}
	// Keep allocations disjoint and 256-byte aligned.
	step := (accel.DevicePtr(size) + 255) &^ 255
	if step == 0 {
		step = 256
	}
	r.next += step
	return ptr
}

func (r *Runtime) Free(ptr accel.DevicePtr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return accel.ErrNotInitialized
	}
	if _, ok := r.mem[ptr]; !ok {
		return fmt.Errorf("%w: free 0x%x", ErrBadAddress, uint64(ptr))
	}
	delete(r.mem, ptr)
	return nil
}

func (r *Runtime) locateLocked(ptr accel.DevicePtr, n int) ([]byte, error) {
	for base, a := range r.mem {
		if ptr < base || ptr >= base+accel.DevicePtr(len(a.data)) {
			continue
		}
		off := int(ptr - base)
		if off+n > len(a.data) {
			break
		}
		return a.data[off : off+n], nil
	}
	return nil, fmt.Errorf("%w: 0x%x (+%d)", ErrBadAddress, uint64(ptr), n)
}

func (r *Runtime) CopyToDevice(dst accel.DevicePtr, src []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return accel.ErrNotInitialized
	}
	if len(src) == 0 {
		return nil
	}
	buf, err := r.locateLocked(dst, len(src))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

func (r *Runtime) CopyFromDevice(dst []byte, src accel.DevicePtr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return accel.ErrNotInitialized
	}
	if len(dst) == 0 {
		return nil
	}
	buf, err := r.locateLocked(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

// RegisterKernel attaches a Go body to a kernel name.
func (r *Runtime) RegisterKernel(name string, fn KernelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[name] = fn
}

// Launches returns a copy of every launch submitted so far.
func (r *Runtime) Launches() []Launch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Launch, len(r.launches))
	copy(out, r.launches)
	return out
}

func (r *Runtime) CreateKernel(argSizes []uintptr) (accel.Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, accel.ErrNotInitialized
	}
	return &kernel{rt: r, argSizes: append([]uintptr(nil), argSizes...), impls: make(map[int]string)}, nil
}

type kernel struct {
	rt       *Runtime
	argSizes []uintptr
	impls    map[int]string
	released bool
}

func (k *kernel) AddGPUImpl(name string, id int) error {
	if k.released {
		return ErrReleased
	}
	k.impls[id] = name
	return nil
}

func (k *kernel) Launch(p accel.LaunchParams, args []uint64) error {
	if k.released {
		return ErrReleased
	}
	name, ok := k.impls[p.KernelID]
	if !ok {
		return fmt.Errorf("sim: no implementation with id %d", p.KernelID)
	}
	if len(args) != len(k.argSizes) {
		return fmt.Errorf("sim: kernel %s expects %d arguments, got %d", name, len(k.argSizes), len(args))
	}
	if !p.Synchronous {
		return fmt.Errorf("sim: kernel %s: only synchronous launches are supported", name)
	}
	if p.GroupDim[0] == 0 || p.GridDim[0] == 0 {
		return fmt.Errorf("sim: kernel %s: empty launch geometry", name)
	}

	r := k.rt
	r.mu.Lock()
	if err := r.checkDeviceLocked(p.Device); err != nil {
		r.mu.Unlock()
		return err
	}
	if r.opts.LaunchErr != nil {
		r.mu.Unlock()
		return r.opts.LaunchErr
	}
	if !r.functions[name] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSuchKernel, name)
	}
	r.launches = append(r.launches, Launch{
		Name:     name,
		Params:   p,
		Args:     append([]uint64(nil), args...),
		ArgSizes: append([]uintptr(nil), k.argSizes...),
	})
	body := r.bodies[name]
	r.mu.Unlock()

	if body == nil {
		return nil
	}
	return body(&LaunchContext{
		Device:          p.Device,
		Groups:          p.GridDim[0] / p.GroupDim[0],
		ThreadsPerGroup: p.GroupDim[0],
		Args:            args,
		rt:              r,
	})
}

func (k *kernel) Release() error {
	if k.released {
		return ErrReleased
	}
	k.released = true
	return nil
}
