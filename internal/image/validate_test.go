package image

import (
	"debug/elf"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/offload/internal/accel"
	"github.com/samcharles93/offload/internal/image/imagetest"
)

func TestIsValidAllowList(t *testing.T) {
	t.Parallel()

	cases := []struct {
		machine elf.Machine
		want    bool
	}{
		{MachineLegacyBRIG, true},
		{MachineHSAIL, true},
		{MachineHSAIL64, true},
		{MachineAMDGCN, true},
		{1, false},
		{100, false},
		{43, false},
		{elf.EM_X86_64, false},
	}
	for _, tc := range cases {
		img := imagetest.ELF64(imagetest.Spec{Machine: tc.machine})
		if got := IsValid(img); got != tc.want {
			t.Fatalf("machine %d (elf64): got %v want %v", tc.machine, got, tc.want)
		}
		img32 := imagetest.ELF32(tc.machine)
		if got := IsValid(img32); got != tc.want {
			t.Fatalf("machine %d (elf32): got %v want %v", tc.machine, got, tc.want)
		}
	}
}

func TestIsValidRepeatable(t *testing.T) {
	t.Parallel()

	img := imagetest.ELF64(imagetest.Spec{Machine: MachineAMDGCN})
	orig := append([]byte(nil), img...)
	for i := 0; i < 3; i++ {
		if !IsValid(img) {
			t.Fatalf("call %d: expected valid", i)
		}
	}
	if string(orig) != string(img) {
		t.Fatalf("image bytes modified")
	}
}

func TestMachineIDRejects(t *testing.T) {
	t.Parallel()

	if _, err := MachineID([]byte("definitely not elf")); !errors.Is(err, ErrNotELF) {
		t.Fatalf("garbage: expected ErrNotELF, got %v", err)
	}
	if _, err := MachineID(nil); !errors.Is(err, ErrNotELF) {
		t.Fatalf("empty: expected ErrNotELF, got %v", err)
	}

	bad := imagetest.ELF32(MachineAMDGCN)
	bad[elf.EI_CLASS] = 7
	if _, err := MachineID(bad); !errors.Is(err, ErrAmbiguousHeader) {
		t.Fatalf("bad class: expected ErrAmbiguousHeader, got %v", err)
	}
	if IsValid(bad) {
		t.Fatalf("bad class must be rejected")
	}
}

func TestPlatformFor(t *testing.T) {
	t.Parallel()

	for _, m := range []elf.Machine{MachineLegacyBRIG, MachineHSAIL, MachineHSAIL64} {
		p, err := PlatformFor(m)
		if err != nil || p != accel.PlatformBRIG {
			t.Fatalf("machine %d: got %v, %v want brig", m, p, err)
		}
	}
	p, err := PlatformFor(MachineAMDGCN)
	if err != nil || p != accel.PlatformAMDGCN {
		t.Fatalf("amdgcn: got %v, %v", p, err)
	}
	if _, err := PlatformFor(43); !errors.Is(err, ErrUnsupportedMachine) {
		t.Fatalf("expected ErrUnsupportedMachine, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	t.Parallel()

	img := imagetest.ELF64(imagetest.Spec{
		Machine: MachineAMDGCN,
		Symbols: []imagetest.Symbol{
			imagetest.Kernel("k_spmd"),
			imagetest.Kernel("k_generic"),
			imagetest.ExecMode("k_generic", 1),
			imagetest.Global("counter", make([]byte, 8)),
			imagetest.DeviceEnv(12),
		},
	})
	info, err := Inspect(img)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if info.Platform != "amdgcn" || info.Class != "ELFCLASS64" {
		t.Fatalf("unexpected header summary: %+v", info)
	}
	if len(info.Kernels) != 2 {
		t.Fatalf("kernels: got %d want 2", len(info.Kernels))
	}
	if info.Kernels[0].ExecMode != nil {
		t.Fatalf("k_spmd must not carry an exec mode")
	}
	if info.Kernels[1].ExecMode == nil || *info.Kernels[1].ExecMode != 1 {
		t.Fatalf("k_generic exec mode: %+v", info.Kernels[1])
	}
	if len(info.Globals) != 1 || info.Globals[0].Name != "counter" || info.Globals[0].Size != 8 {
		t.Fatalf("globals: %+v", info.Globals)
	}
	if info.DeviceEnvSize != 12 {
		t.Fatalf("device env size: got %d", info.DeviceEnvSize)
	}

	entries := EntriesFromInfo(info)
	if len(entries) != 3 {
		t.Fatalf("derived entries: got %d want 3", len(entries))
	}
	seen := make(map[uintptr]bool)
	for _, e := range entries {
		if e.Marker() {
			t.Fatalf("derived entry %s must not be a marker", e.Name)
		}
		if seen[e.Addr] {
			t.Fatalf("duplicate host address for %s", e.Name)
		}
		seen[e.Addr] = true
	}
	if entries[2].Size != 8 {
		t.Fatalf("global entry size: got %d", entries[2].Size)
	}
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	img := imagetest.ELF64(imagetest.Spec{Machine: MachineAMDGCN})
	path := filepath.Join(t.TempDir(), "device.o")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !IsValid(f.Data) {
		t.Fatalf("mapped image should validate")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.Data != nil {
		t.Fatalf("data must be dropped on close")
	}

	empty := filepath.Join(t.TempDir(), "empty.o")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(empty); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}
