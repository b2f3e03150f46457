package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/samcharles93/offload/internal/image/imagetest"
	"github.com/samcharles93/offload/internal/launch"
)

func TestHostEntries(t *testing.T) {
	img := imagetest.ELF64(imagetest.Spec{
		Machine: imagetest.MachineAMDGPU,
		Symbols: []imagetest.Symbol{
			imagetest.Kernel("axpy"),
			imagetest.ExecMode("axpy", 1),
			imagetest.Global("alpha", make([]byte, 8)),
		},
	})

	t.Run("derived from image", func(t *testing.T) {
		got, err := hostEntries(img, "")
		if err != nil {
			t.Fatalf("hostEntries returned error: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("unexpected entries: %+v", got)
		}
		if got[0].Name != "axpy" || got[0].Size != 0 {
			t.Fatalf("kernel entry: %+v", got[0])
		}
		if got[1].Name != "alpha" || got[1].Size != 8 {
			t.Fatalf("global entry: %+v", got[1])
		}
	})

	t.Run("manifest wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "entries.yaml")
		body := "entries:\n  - name: axpy\n  - name: __begin\n    marker: true\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
		got, err := hostEntries(img, path)
		if err != nil {
			t.Fatalf("hostEntries returned error: %v", err)
		}
		if len(got) != 2 || got[0].Name != "axpy" || !got[1].Marker() {
			t.Fatalf("unexpected entries: %+v", got)
		}
	})

	t.Run("invalid image", func(t *testing.T) {
		if _, err := hostEntries([]byte("nope"), ""); err == nil {
			t.Fatalf("expected error for garbage image")
		}
	})
}

func TestLaunchOptionsRequest(t *testing.T) {
	o := launchOptions{teams: 4, threads: 96, tripCount: 1 << 20}
	want := launch.Request{TeamCount: 4, ThreadLimit: 96, LoopTripCount: 1 << 20}
	if got := o.request(); got != want {
		t.Fatalf("request: got %+v want %+v", got, want)
	}
}
