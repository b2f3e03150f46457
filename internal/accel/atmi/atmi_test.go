//go:build atmi

package atmi

import (
	"testing"

	"github.com/samcharles93/offload/internal/accel"
)

func TestDeviceQueriesAndMemcpy(t *testing.T) {
	r := New()
	if err := r.Init(); err != nil {
		t.Skipf("atmi unavailable: %v", err)
	}
	defer func() {
		if err := r.Finalize(); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}()
	if r.DeviceCount() < 1 {
		t.Skip("no gpu agents")
	}

	for _, attr := range []accel.Attribute{accel.AttrComputeUnitCount, accel.AttrWorkgroupMaxDimX, accel.AttrWavefrontSize} {
		v, err := r.DeviceInfo(0, attr)
		if err != nil {
			t.Fatalf("%s: %v", attr, err)
		}
		if v == 0 {
			t.Fatalf("%s: zero", attr)
		}
	}

	ptr, err := r.Malloc(0, 64)
	if err != nil {
		t.Fatalf("malloc: %v", err)
	}
	defer func() {
		if err := r.Free(ptr); err != nil {
			t.Fatalf("free: %v", err)
		}
	}()
	in := make([]byte, 64)
	for i := range in {
		in[i] = byte(i)
	}
	if err := r.CopyToDevice(ptr, in); err != nil {
		t.Fatalf("h2d: %v", err)
	}
	out := make([]byte, 64)
	if err := r.CopyFromDevice(out, ptr); err != nil {
		t.Fatalf("d2h: %v", err)
	}
	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("byte %d: got %d want %d", i, out[i], in[i])
		}
	}
}
