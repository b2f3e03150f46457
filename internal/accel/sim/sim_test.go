package sim

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/image/imagetest"
)

func newRuntime(t *testing.T, opts Options) *Runtime {
	t.Helper()
	r := New(opts)
	if err := r.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

func TestInitFailureReportsNoDevices(t *testing.T) {
	t.Parallel()

	r := New(Options{InitErr: errors.New("no driver")})
	if err := r.Init(); err == nil {
		t.Fatalf("expected init error")
	}
	if got := r.DeviceCount(); got != 0 {
		t.Fatalf("device count: got %d want 0", got)
	}
}

func TestDeviceInfo(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{Devices: []DeviceSpec{
		{ComputeUnits: 8, WorkgroupMaxDim: 256, WavefrontSize: 32},
		{QueryErr: errors.New("agent lost")},
	}})

	cases := []struct {
		attr accel.Attribute
		want uint32
	}{
		{accel.AttrComputeUnitCount, 8},
		{accel.AttrWorkgroupMaxDimX, 256},
		{accel.AttrWavefrontSize, 32},
	}
	for _, tc := range cases {
		got, err := r.DeviceInfo(0, tc.attr)
		if err != nil {
			t.Fatalf("%s: %v", tc.attr, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %d want %d", tc.attr, got, tc.want)
		}
	}

	if _, err := r.DeviceInfo(1, accel.AttrWavefrontSize); err == nil {
		t.Fatalf("expected query error on device 1")
	}
	if _, err := r.DeviceInfo(2, accel.AttrWavefrontSize); !errors.Is(err, accel.ErrInvalidDevice) {
		t.Fatalf("expected ErrInvalidDevice, got %v", err)
	}
}

func TestRegisterModuleResolvesGlobals(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{Devices: []DeviceSpec{DefaultDevice(), DefaultDevice()}})
	img := imagetest.ELF64(imagetest.Spec{
		Machine: imagetest.MachineAMDGPU,
		Symbols: []imagetest.Symbol{
			imagetest.Kernel("vadd"),
			imagetest.Global("answer", []byte{42, 0, 0, 0}),
		},
	})
	if err := r.RegisterModule(img, accel.PlatformAMDGCN); err != nil {
		t.Fatalf("register: %v", err)
	}

	ptr0, size, err := r.SymbolInfo(0, "answer")
	if err != nil {
		t.Fatalf("symbol info: %v", err)
	}
	if size != 4 {
		t.Fatalf("size: got %d want 4", size)
	}
	ptr1, _, err := r.SymbolInfo(1, "answer")
	if err != nil {
		t.Fatalf("symbol info device 1: %v", err)
	}
	if ptr0 == ptr1 {
		t.Fatalf("expected distinct per-device addresses")
	}

	buf := make([]byte, 4)
	if err := r.CopyFromDevice(buf, ptr0); err != nil {
		t.Fatalf("copy from device: %v", err)
	}
	if !bytes.Equal(buf, []byte{42, 0, 0, 0}) {
		t.Fatalf("initial contents: got %v", buf)
	}

	if _, _, err := r.SymbolInfo(0, "vadd_exec_mode"); !errors.Is(err, accel.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestRegisterModuleRejectsGarbage(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{})
	if err := r.RegisterModule([]byte("not an elf"), accel.PlatformAMDGCN); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMemoryBounds(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{})
	ptr, err := r.Malloc(0, 16)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	if err := r.CopyToDevice(ptr+8, make([]byte, 8)); err != nil {
		t.Fatalf("in-bounds copy: %v", err)
	}
	if err := r.CopyToDevice(ptr+8, make([]byte, 9)); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected ErrBadAddress, got %v", err)
	}
	if err := r.Free(ptr); err != nil {
		t.Fatalf("free: %v", err)
	}
	if err := r.Free(ptr); !errors.Is(err, ErrBadAddress) {
		t.Fatalf("expected double free error, got %v", err)
	}
}

func TestKernelLaunchRunsBody(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{})
	img := imagetest.ELF64(imagetest.Spec{
		Machine: imagetest.MachineAMDGPU,
		Symbols: []imagetest.Symbol{imagetest.Kernel("fill")},
	})
	if err := r.RegisterModule(img, accel.PlatformAMDGCN); err != nil {
		t.Fatalf("register: %v", err)
	}
	out, err := r.Malloc(0, 8)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	r.RegisterKernel("fill", func(ctx *LaunchContext) error {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], ctx.Groups*ctx.ThreadsPerGroup)
		return ctx.Write(accel.DevicePtr(ctx.Args[0]), b[:])
	})

	k, err := r.CreateKernel([]uintptr{8, 4})
	if err != nil {
		t.Fatalf("create kernel: %v", err)
	}
	if err := k.AddGPUImpl("fill", 42); err != nil {
		t.Fatalf("add impl: %v", err)
	}
	p := accel.LaunchParams{
		Device:      0,
		GridDim:     [3]uint64{4 * 64, 1, 1},
		GroupDim:    [3]uint64{64, 1, 1},
		Synchronous: true,
		KernelID:    42,
	}
	if err := k.Launch(p, []uint64{uint64(out), 0}); err != nil {
		t.Fatalf("launch: %v", err)
	}
	if err := k.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := k.Launch(p, []uint64{uint64(out), 0}); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}

	b := make([]byte, 8)
	if err := r.CopyFromDevice(b, out); err != nil {
		t.Fatalf("copy back: %v", err)
	}
	if got := binary.LittleEndian.Uint64(b); got != 256 {
		t.Fatalf("work items: got %d want 256", got)
	}
	if n := len(r.Launches()); n != 1 {
		t.Fatalf("launch records: got %d want 1", n)
	}
}

func TestKernelLaunchRejectsUnknownFunction(t *testing.T) {
	t.Parallel()

	r := newRuntime(t, Options{})
	k, err := r.CreateKernel([]uintptr{4})
	if err != nil {
		t.Fatalf("create kernel: %v", err)
	}
	_ = k.AddGPUImpl("missing", 42)
	err = k.Launch(accel.LaunchParams{
		GridDim:     [3]uint64{64, 1, 1},
		GroupDim:    [3]uint64{64, 1, 1},
		Synchronous: true,
		KernelID:    42,
	}, []uint64{0})
	if !errors.Is(err, ErrNoSuchKernel) {
		t.Fatalf("expected ErrNoSuchKernel, got %v", err)
	}
}
