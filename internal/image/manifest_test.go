package image

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseManifestYAML(t *testing.T) {
	t.Parallel()

	src := `
entries:
  - name: __omp_offloading_main_l10
  - name: table
    size: 64
  - name: host_only
    marker: true
`
	entries, err := ParseManifest([]byte(src), "yaml")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries: got %d want 3", len(entries))
	}
	if entries[0].Marker() || entries[0].Size != 0 {
		t.Fatalf("kernel entry: %+v", entries[0])
	}
	if entries[1].Size != 64 {
		t.Fatalf("global size: %+v", entries[1])
	}
	if !entries[2].Marker() {
		t.Fatalf("marker entry must have zero address: %+v", entries[2])
	}
	if entries[0].Addr == entries[1].Addr {
		t.Fatalf("host addresses must be unique")
	}
}

func TestLoadManifestJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "entries.json")
	src := `{"entries":[{"name":"k"},{"name":"g","size":4}]}`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 || entries[1].Name != "g" || entries[1].Size != 4 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestParseManifestErrors(t *testing.T) {
	t.Parallel()

	if _, err := ParseManifest([]byte(`entries: [{size: 4}]`), "yaml"); err == nil {
		t.Fatalf("expected missing-name error")
	}
	if _, err := ParseManifest([]byte(`{`), "json"); err == nil {
		t.Fatalf("expected json syntax error")
	}
	if _, err := ParseManifest(nil, "toml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}
