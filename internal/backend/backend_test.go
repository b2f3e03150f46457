package backend

import (
	"testing"

	"github.com/samcharles93/offload/internal/accel/sim"
	"github.com/samcharles93/offload/internal/config"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", Auto, true},
		{" SIM ", Sim, true},
		{"atmi", ATMI, true},
		{"auto", Auto, true},
		{"cuda", "", false},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("Normalize(%q) = %q, %v", tc.in, got, err)
		}
	}
}

func TestOpenSim(t *testing.T) {
	t.Parallel()

	rt, name, err := Open(Sim, Options{Sim: SimOptions(&config.SimDevices{Count: 3, WavefrontSize: 32})})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if name != Sim {
		t.Fatalf("name: %s", name)
	}
	if err := rt.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if got := rt.DeviceCount(); got != 3 {
		t.Fatalf("devices: %d", got)
	}
}

func TestOpenAuto(t *testing.T) {
	t.Parallel()

	_, name, err := Open("", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := Sim
	if Has(ATMI) {
		want = ATMI
	}
	if name != want {
		t.Fatalf("auto resolved to %s want %s", name, want)
	}
}

func TestSimOptions(t *testing.T) {
	t.Parallel()

	if got := SimOptions(nil); got.Devices != nil {
		t.Fatalf("nil config: %+v", got)
	}
	opts := SimOptions(&config.SimDevices{ComputeUnits: 8})
	if len(opts.Devices) != 1 {
		t.Fatalf("count: %d", len(opts.Devices))
	}
	want := sim.DefaultDevice()
	want.ComputeUnits = 8
	if opts.Devices[0] != want {
		t.Fatalf("got %+v want %+v", opts.Devices[0], want)
	}
}
